// Package trash moves files into a recoverable location under the workspace
// root instead of deleting them.
package trash

import (
	"errors"
	"fmt"
	"io/fs"
	"path"
	"time"

	"github.com/oklog/ulid/v2"
	"github.com/spf13/afero"
	"go.uber.org/zap"

	"collabtext/internal/store"
)

// DefaultDir is the trash directory relative to the workspace root.
const DefaultDir = ".collabtext-trash"

// ErrExists is returned when restoring over an existing file.
var ErrExists = errors.New("file exists")

type index interface {
	PutTrash(store.TrashEntry) error
	GetTrash(id string) (store.TrashEntry, error)
	DeleteTrash(id string) error
	ListTrash() ([]store.TrashEntry, error)
}

type Opt func(*Trash)

func WithLogger(logger *zap.Logger) Opt {
	return func(t *Trash) {
		t.logger = logger
	}
}

func WithDir(dir string) Opt {
	return func(t *Trash) {
		t.dir = dir
	}
}

func withNow(now func() time.Time) Opt {
	return func(t *Trash) {
		t.now = now
	}
}

type Trash struct {
	logger *zap.Logger
	fs     afero.Fs
	dir    string
	index  index
	now    func() time.Time
}

// New creates a trash over fs; paths are slash separated and relative to fs.
func New(fs afero.Fs, idx index, opts ...Opt) *Trash {
	t := &Trash{
		logger: zap.NewNop(),
		fs:     fs,
		dir:    DefaultDir,
		index:  idx,
		now:    time.Now,
	}
	for _, opt := range opts {
		opt(t)
	}
	return t
}

// Dir is the trash directory relative to the root.
func (t *Trash) Dir() string {
	return t.dir
}

// Move relocates p into the trash and records where it came from.
func (t *Trash) Move(p string) (store.TrashEntry, error) {
	if _, err := t.fs.Stat(p); err != nil {
		return store.TrashEntry{}, fmt.Errorf("trash %s: %w", p, err)
	}
	if err := t.fs.MkdirAll(t.dir, 0o755); err != nil {
		return store.TrashEntry{}, fmt.Errorf("create trash dir: %w", err)
	}
	id := ulid.Make().String()
	e := store.TrashEntry{
		ID:        id,
		Original:  p,
		Trashed:   path.Join(t.dir, id+"-"+path.Base(p)),
		DeletedAt: t.now().UTC(),
	}
	if err := t.fs.Rename(p, e.Trashed); err != nil {
		return store.TrashEntry{}, fmt.Errorf("trash %s: %w", p, err)
	}
	if err := t.index.PutTrash(e); err != nil {
		// the file is already safe in the trash, only the index is missing
		t.logger.Warn("failed to index trashed file", zap.String("path", p), zap.Error(err))
	}
	t.logger.Info("moved file to trash", zap.String("path", p), zap.String("id", id))
	return e, nil
}

// Restore moves a trashed file back to where it was.
func (t *Trash) Restore(id string) (store.TrashEntry, error) {
	e, err := t.index.GetTrash(id)
	if err != nil {
		return store.TrashEntry{}, err
	}
	if _, err := t.fs.Stat(e.Original); err == nil {
		return store.TrashEntry{}, fmt.Errorf("restore %s: %w", e.Original, ErrExists)
	} else if !errors.Is(err, fs.ErrNotExist) {
		return store.TrashEntry{}, fmt.Errorf("restore %s: %w", e.Original, err)
	}
	if err := t.fs.MkdirAll(path.Dir(e.Original), 0o755); err != nil {
		return store.TrashEntry{}, fmt.Errorf("restore %s: %w", e.Original, err)
	}
	if err := t.fs.Rename(e.Trashed, e.Original); err != nil {
		return store.TrashEntry{}, fmt.Errorf("restore %s: %w", e.Original, err)
	}
	return e, t.index.DeleteTrash(id)
}

// List returns everything currently in the trash, oldest first.
func (t *Trash) List() ([]store.TrashEntry, error) {
	return t.index.ListTrash()
}
