// Package workspace is the local editing surface: a root directory, the text
// documents opened under it and the notifications the sync engine observes.
package workspace

import (
	"errors"
	"fmt"
	"io/fs"
	"slices"
	"strings"
	"sync"
	"unicode/utf8"

	"github.com/spf13/afero"
	"go.uber.org/zap"
)

// ErrNotFound is returned when a document is opened for a path that does not
// exist on disk.
var ErrNotFound = errors.New("file not found")

// Position is a zero based line and character (rune) offset.
type Position struct {
	Line      int
	Character int
}

// Before reports whether p sorts before o.
func (p Position) Before(o Position) bool {
	return p.Line < o.Line || (p.Line == o.Line && p.Character < o.Character)
}

// Range is the half open interval [Start, End).
type Range struct {
	Start Position
	End   Position
}

// TextEdit replaces Range with NewText.
type TextEdit struct {
	Range   Range
	NewText string
}

// ContentChange is one contiguous mutation reported to listeners.
type ContentChange struct {
	Range Range
	Text  string
}

// Event is delivered to listeners. One of DocumentChanged, ActiveChanged or
// RootChanged.
type Event interface {
	isEvent()
}

// DocumentChanged is emitted for every applied edit batch.
type DocumentChanged struct {
	Path    string
	Changes []ContentChange
}

// ActiveChanged is emitted when the focused document changes. Path is empty
// when nothing is focused.
type ActiveChanged struct {
	Path string
}

// RootChanged is emitted when the workspace is re-rooted.
type RootChanged struct {
	Root string
}

func (DocumentChanged) isEvent() {}
func (ActiveChanged) isEvent()   {}
func (RootChanged) isEvent()     {}

// Document is a snapshot of an open document.
type Document struct {
	Path    string
	Version int
	Text    string
}

type document struct {
	lines   []string
	version int
	dirty   bool
}

func (d *document) text() string {
	return strings.Join(d.lines, "\n")
}

type Opt func(*Workspace)

func WithLogger(logger *zap.Logger) Opt {
	return func(w *Workspace) {
		w.logger = logger
	}
}

// Workspace holds open documents keyed by slash separated paths relative to
// the root. Listeners are invoked synchronously on the goroutine that caused
// the event, after the workspace lock is released.
type Workspace struct {
	logger *zap.Logger

	mu        sync.Mutex
	fs        afero.Fs
	root      string
	docs      map[string]*document
	active    string
	listeners map[int]func(Event)
	nextID    int
}

// New creates a workspace over fs. root is informational and identifies the
// workspace; all document paths are resolved against fs.
func New(fs afero.Fs, root string, opts ...Opt) *Workspace {
	w := &Workspace{
		logger:    zap.NewNop(),
		fs:        fs,
		root:      root,
		docs:      make(map[string]*document),
		listeners: make(map[int]func(Event)),
	}
	for _, opt := range opts {
		opt(w)
	}
	return w
}

// Root returns the workspace root, empty if no folder is open.
func (w *Workspace) Root() string {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.root
}

// Fs returns the filesystem documents are read from and saved to.
func (w *Workspace) Fs() afero.Fs {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.fs
}

// SetRoot re-roots the workspace, dropping all open documents.
func (w *Workspace) SetRoot(fs afero.Fs, root string) {
	w.mu.Lock()
	if root == w.root {
		w.mu.Unlock()
		return
	}
	w.fs = fs
	w.root = root
	w.docs = make(map[string]*document)
	w.active = ""
	w.mu.Unlock()
	w.logger.Info("workspace root changed", zap.String("root", root))
	w.notify(RootChanged{Root: root})
}

// Subscribe registers fn for all future events and returns a function that
// removes it.
func (w *Workspace) Subscribe(fn func(Event)) func() {
	w.mu.Lock()
	defer w.mu.Unlock()
	id := w.nextID
	w.nextID++
	w.listeners[id] = fn
	return func() {
		w.mu.Lock()
		defer w.mu.Unlock()
		delete(w.listeners, id)
	}
}

func (w *Workspace) notify(ev Event) {
	w.mu.Lock()
	ids := make([]int, 0, len(w.listeners))
	for id := range w.listeners {
		ids = append(ids, id)
	}
	slices.Sort(ids)
	fns := make([]func(Event), 0, len(ids))
	for _, id := range ids {
		fns = append(fns, w.listeners[id])
	}
	w.mu.Unlock()
	for _, fn := range fns {
		fn(ev)
	}
}

// Open loads path from disk if it is not already open.
func (w *Workspace) Open(path string) (Document, error) {
	w.mu.Lock()
	defer w.mu.Unlock()
	doc, err := w.openLocked(path)
	if err != nil {
		return Document{}, err
	}
	return Document{Path: path, Version: doc.version, Text: doc.text()}, nil
}

func (w *Workspace) openLocked(path string) (*document, error) {
	if doc, ok := w.docs[path]; ok {
		return doc, nil
	}
	data, err := afero.ReadFile(w.fs, path)
	if errors.Is(err, fs.ErrNotExist) {
		return nil, fmt.Errorf("open %s: %w", path, ErrNotFound)
	} else if err != nil {
		return nil, fmt.Errorf("open %s: %w", path, err)
	}
	doc := &document{lines: strings.Split(string(data), "\n")}
	w.docs[path] = doc
	return doc, nil
}

// ApplyEdit applies edits to path in order, each against the result of the
// previous one. Positions past the end of the document are clamped.
func (w *Workspace) ApplyEdit(path string, edits []TextEdit) error {
	w.mu.Lock()
	doc, err := w.openLocked(path)
	if err != nil {
		w.mu.Unlock()
		return err
	}
	changes := make([]ContentChange, 0, len(edits))
	for _, edit := range edits {
		r := doc.replace(edit.Range, edit.NewText)
		changes = append(changes, ContentChange{Range: r, Text: edit.NewText})
	}
	doc.version++
	doc.dirty = true
	w.mu.Unlock()
	w.notify(DocumentChanged{Path: path, Changes: changes})
	return nil
}

// SaveAll writes every modified document back to disk.
func (w *Workspace) SaveAll() error {
	w.mu.Lock()
	defer w.mu.Unlock()
	var errs []error
	for path, doc := range w.docs {
		if !doc.dirty {
			continue
		}
		if err := afero.WriteFile(w.fs, path, []byte(doc.text()), 0o644); err != nil {
			errs = append(errs, fmt.Errorf("save %s: %w", path, err))
			continue
		}
		doc.dirty = false
	}
	return errors.Join(errs...)
}

// ReadFile reads path from disk, bypassing open documents.
func (w *Workspace) ReadFile(path string) ([]byte, error) {
	return afero.ReadFile(w.Fs(), path)
}

// Documents returns the paths of all open documents in sorted order.
func (w *Workspace) Documents() []string {
	w.mu.Lock()
	defer w.mu.Unlock()
	paths := make([]string, 0, len(w.docs))
	for path := range w.docs {
		paths = append(paths, path)
	}
	slices.Sort(paths)
	return paths
}

// Text returns the current content of an open document.
func (w *Workspace) Text(path string) (string, bool) {
	w.mu.Lock()
	defer w.mu.Unlock()
	doc, ok := w.docs[path]
	if !ok {
		return "", false
	}
	return doc.text(), true
}

// Close forgets an open document without saving it.
func (w *Workspace) Close(path string) {
	w.mu.Lock()
	delete(w.docs, path)
	clearActive := w.active == path
	if clearActive {
		w.active = ""
	}
	w.mu.Unlock()
	if clearActive {
		w.notify(ActiveChanged{})
	}
}

// Forget drops a document whose file was removed from disk.
func (w *Workspace) Forget(path string) {
	if _, err := w.Fs().Stat(path); errors.Is(err, fs.ErrNotExist) {
		w.Close(path)
	}
}

// SetActive focuses path, opening it if needed.
func (w *Workspace) SetActive(path string) error {
	w.mu.Lock()
	if path != "" {
		if _, err := w.openLocked(path); err != nil {
			w.mu.Unlock()
			return err
		}
	}
	changed := w.active != path
	w.active = path
	w.mu.Unlock()
	if changed {
		w.notify(ActiveChanged{Path: path})
	}
	return nil
}

// Active returns the focused document path.
func (w *Workspace) Active() string {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.active
}

// replace substitutes text for r and returns r clamped to the document.
func (d *document) replace(r Range, text string) Range {
	start, end := d.clamp(r.Start), d.clamp(r.End)
	if end.Before(start) {
		start, end = end, start
	}
	head := d.lines[start.Line][:byteOffset(d.lines[start.Line], start.Character)]
	tail := d.lines[end.Line][byteOffset(d.lines[end.Line], end.Character):]
	inserted := strings.Split(head+text+tail, "\n")
	lines := make([]string, 0, len(d.lines)-(end.Line-start.Line)+len(inserted)-1)
	lines = append(lines, d.lines[:start.Line]...)
	lines = append(lines, inserted...)
	lines = append(lines, d.lines[end.Line+1:]...)
	d.lines = lines
	return Range{Start: start, End: end}
}

func (d *document) clamp(p Position) Position {
	if p.Line < 0 {
		return Position{}
	}
	if p.Line >= len(d.lines) {
		last := len(d.lines) - 1
		return Position{Line: last, Character: utf8.RuneCountInString(d.lines[last])}
	}
	n := utf8.RuneCountInString(d.lines[p.Line])
	switch {
	case p.Character < 0:
		p.Character = 0
	case p.Character > n:
		p.Character = n
	}
	return p
}

func byteOffset(line string, char int) int {
	i := 0
	for off := range line {
		if i == char {
			return off
		}
		i++
	}
	return len(line)
}
