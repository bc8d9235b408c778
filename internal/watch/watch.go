// Package watch reports files created and deleted under a directory tree.
package watch

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strings"
	"sync"

	"github.com/fsnotify/fsnotify"
	"go.uber.org/zap"

	"collabtext/internal/wirepath"
)

type Op int

const (
	Created Op = iota + 1
	Deleted
)

func (o Op) String() string {
	switch o {
	case Created:
		return "created"
	case Deleted:
		return "deleted"
	}
	return "unknown"
}

// Event carries a slash separated path relative to the watched root.
type Event struct {
	Op   Op
	Path string
}

type Opt func(*Watcher)

func WithLogger(logger *zap.Logger) Opt {
	return func(w *Watcher) {
		w.logger = logger
	}
}

// WithIgnore skips relative paths equal to or under any of prefixes.
func WithIgnore(prefixes ...string) Opt {
	return func(w *Watcher) {
		w.ignore = append(w.ignore, prefixes...)
	}
}

type Watcher struct {
	logger  *zap.Logger
	root    string
	ignore  []string
	fsw     *fsnotify.Watcher
	events  chan Event
	done    chan struct{}
	once    sync.Once
	stopped chan struct{}

	// files reported by walking a new directory, whose own Create may
	// still be queued in fsnotify
	walked map[string]struct{}
}

// New starts watching root recursively.
func New(root string, opts ...Opt) (*Watcher, error) {
	fsw, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, fmt.Errorf("create watcher: %w", err)
	}
	w := &Watcher{
		logger:  zap.NewNop(),
		root:    root,
		fsw:     fsw,
		events:  make(chan Event, 64),
		done:    make(chan struct{}),
		stopped: make(chan struct{}),
		walked:  make(map[string]struct{}),
	}
	for _, opt := range opts {
		opt(w)
	}
	if _, err := w.addTree(root); err != nil {
		fsw.Close()
		return nil, err
	}
	go w.loop()
	return w, nil
}

func (w *Watcher) ignored(rel string) bool {
	for _, prefix := range w.ignore {
		if rel == prefix || strings.HasPrefix(rel, prefix+"/") {
			return true
		}
	}
	return false
}

// addTree watches dir and its subdirectories and returns the files found
// in them.
func (w *Watcher) addTree(dir string) ([]string, error) {
	var files []string
	err := filepath.WalkDir(dir, func(p string, d fs.DirEntry, err error) error {
		if err != nil {
			if errors.Is(err, fs.ErrNotExist) {
				return nil
			}
			return err
		}
		rel, err := wirepath.FromLocal(w.root, p)
		if err != nil {
			return err
		}
		if rel != "." && w.ignored(rel) {
			if d.IsDir() {
				return filepath.SkipDir
			}
			return nil
		}
		if !d.IsDir() {
			files = append(files, rel)
			return nil
		}
		if err := w.fsw.Add(p); err != nil {
			return fmt.Errorf("watch %s: %w", p, err)
		}
		return nil
	})
	return files, err
}

func (w *Watcher) loop() {
	defer close(w.stopped)
	defer close(w.events)
	for {
		select {
		case ev, ok := <-w.fsw.Events:
			if !ok {
				return
			}
			w.handle(ev)
		case err, ok := <-w.fsw.Errors:
			if !ok {
				return
			}
			w.logger.Warn("watcher error", zap.Error(err))
		case <-w.done:
			return
		}
	}
}

func (w *Watcher) handle(ev fsnotify.Event) {
	rel, err := wirepath.FromLocal(w.root, ev.Name)
	if err != nil || w.ignored(rel) {
		return
	}
	switch {
	case ev.Has(fsnotify.Create):
		info, err := os.Stat(ev.Name)
		if err != nil {
			return
		}
		if !info.IsDir() {
			if _, ok := w.walked[rel]; ok {
				delete(w.walked, rel)
				return
			}
			w.emit(Event{Op: Created, Path: rel})
			return
		}
		// files may land in a new directory before it is watched
		files, err := w.addTree(ev.Name)
		if err != nil {
			w.logger.Warn("failed to watch new directory", zap.String("path", rel), zap.Error(err))
		}
		for _, f := range files {
			w.walked[f] = struct{}{}
			w.emit(Event{Op: Created, Path: f})
		}
	case ev.Has(fsnotify.Remove), ev.Has(fsnotify.Rename):
		delete(w.walked, rel)
		w.emit(Event{Op: Deleted, Path: rel})
	}
}

func (w *Watcher) emit(ev Event) {
	w.logger.Debug("file event", zap.Stringer("op", ev.Op), zap.String("path", ev.Path))
	select {
	case w.events <- ev:
	case <-w.done:
	}
}

// Events is closed after Close.
func (w *Watcher) Events() <-chan Event {
	return w.events
}

// Close stops the watcher and waits for its goroutine to exit.
func (w *Watcher) Close() error {
	var err error
	w.once.Do(func() {
		close(w.done)
		err = w.fsw.Close()
		<-w.stopped
	})
	return err
}
