package engine

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"sync"

	"github.com/jonboulle/clockwork"
	"github.com/spf13/afero"
	"go.uber.org/zap"

	"collabtext/internal/bridge"
	"collabtext/internal/change"
	"collabtext/internal/watch"
	"collabtext/internal/wirepath"
	"collabtext/internal/workspace"
)

// Host is the editing surface a session keeps in sync.
type Host interface {
	Root() string
	Fs() afero.Fs
	Open(path string) (workspace.Document, error)
	ApplyEdit(path string, edits []workspace.TextEdit) error
	SaveAll() error
	ReadFile(path string) ([]byte, error)
	Documents() []string
	Active() string
	Forget(path string)
	Subscribe(fn func(workspace.Event)) func()
}

// FileWatcher reports files created and deleted under the workspace root.
type FileWatcher interface {
	Events() <-chan watch.Event
	Close() error
}

type SessionOpt func(*Session)

func WithSessionLogger(logger *zap.Logger) SessionOpt {
	return func(s *Session) {
		s.logger = logger
	}
}

func WithSessionConfig(cfg Config) SessionOpt {
	return func(s *Session) {
		s.cfg = cfg
	}
}

func WithClock(clock clockwork.Clock) SessionOpt {
	return func(s *Session) {
		s.clock = clock
	}
}

func WithNotifier(n Notifier) SessionOpt {
	return func(s *Session) {
		s.notifier = n
	}
}

// WithWatcher makes the session broadcast files created and deleted on disk.
// The session closes w on teardown.
func WithWatcher(w FileWatcher) SessionOpt {
	return func(s *Session) {
		s.watcher = w
	}
}

// Session is one membership in a room. It is created on join and torn down
// on leave; all of its state except the guard and the active path is owned
// by the Run loop.
type Session struct {
	logger   *zap.Logger
	cfg      Config
	clock    clockwork.Clock
	notifier Notifier

	bridge  Bridge
	host    Host
	trash   Trasher
	watcher FileWatcher

	projectBasePath string
	guard           *guard
	local           chan workspace.DocumentChanged
	done            chan struct{}
	closeOnce       sync.Once
	unsubscribe     func()

	mu             sync.Mutex
	activeFilePath string

	events     <-chan bridge.Event
	files      <-chan watch.Event
	expected   *expected
	queue      []QueuedEdit
	flushTimer clockwork.Timer
	gotPeer    bool
}

// NewSession starts observing h. Nothing is sent until Run is called.
func NewSession(b Bridge, h Host, t Trasher, opts ...SessionOpt) *Session {
	s := &Session{
		logger:   zap.NewNop(),
		cfg:      DefaultConfig(),
		clock:    clockwork.NewRealClock(),
		notifier: nopNotifier{},
		bridge:   b,
		host:     h,
		trash:    t,
		guard:    newGuard(),
		local:    make(chan workspace.DocumentChanged, 64),
		done:     make(chan struct{}),
	}
	for _, opt := range opts {
		opt(s)
	}
	s.projectBasePath = h.Root()
	s.activeFilePath = h.Active()
	s.expected = newExpected(s.clock)
	s.events = b.Events()
	if s.watcher != nil {
		s.files = s.watcher.Events()
	}
	s.unsubscribe = h.Subscribe(s.observe)
	return s
}

// observe runs on whichever goroutine changed the workspace.
func (s *Session) observe(ev workspace.Event) {
	switch ev := ev.(type) {
	case workspace.ActiveChanged:
		s.mu.Lock()
		s.activeFilePath = ev.Path
		s.mu.Unlock()
	case workspace.DocumentChanged:
		if s.guard.Held(ev.Path) {
			suppressedChanges.Inc()
			return
		}
		select {
		case s.local <- ev:
		case <-s.done:
		}
	}
}

// ProjectBasePath is the workspace root the session was started in.
func (s *Session) ProjectBasePath() string {
	return s.projectBasePath
}

// ActiveFilePath is the focused document.
func (s *Session) ActiveFilePath() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.activeFilePath
}

// RequestProject asks peers for their open documents.
func (s *Session) RequestProject(ctx context.Context) error {
	return s.bridge.RequestProject(ctx)
}

// Run processes room, workspace and file events until ctx is done or the
// bridge closes, then tears the session down.
func (s *Session) Run(ctx context.Context) error {
	defer s.teardown()
	for {
		select {
		case <-ctx.Done():
			return nil
		case ev, ok := <-s.events:
			if !ok {
				return bridge.ErrClosed
			}
			s.handleRemote(ctx, ev)
		case ev := <-s.local:
			s.handleLocal(ctx, ev)
		case ev, ok := <-s.files:
			if !ok {
				s.files = nil
				continue
			}
			s.handleFile(ctx, ev)
		case <-s.flushC():
			s.flush()
		}
	}
}

func (s *Session) teardown() {
	s.closeOnce.Do(func() {
		close(s.done)
		s.unsubscribe()
		s.stopTimer()
		s.queue = nil
		s.guard.Reset()
		s.expected.reset()
		if s.watcher != nil {
			if err := s.watcher.Close(); err != nil {
				s.logger.Debug("failed to close watcher", zap.Error(err))
			}
		}
		if err := s.bridge.Close(); err != nil {
			s.logger.Debug("failed to close bridge", zap.Error(err))
		}
		s.logger.Info("left room")
	})
}

func (s *Session) handleLocal(ctx context.Context, ev workspace.DocumentChanged) {
	wirePath := wirepath.ToWire(ev.Path)
	for _, c := range ev.Changes {
		d := change.ToDescriptor(c)
		if err := s.bridge.ChangeFile(ctx, wirePath, d); err != nil {
			s.logger.Warn("failed to send change", zap.String("path", wirePath), zap.Error(err))
			return
		}
		broadcastChange.Inc()
	}
}

func (s *Session) handleFile(ctx context.Context, ev watch.Event) {
	if s.expected.consume(ev) {
		s.logger.Debug("ignoring own file event", zap.Stringer("op", ev.Op), zap.String("path", ev.Path))
		return
	}
	wirePath := wirepath.ToWire(ev.Path)
	switch ev.Op {
	case watch.Created:
		data, err := s.host.ReadFile(ev.Path)
		if err != nil {
			s.logger.Debug("skipping created file", zap.String("path", ev.Path), zap.Error(fmt.Errorf("%w: %w", ErrRead, err)))
			return
		}
		d := change.Descriptor{Text: change.Lines(string(data)), Origin: change.OriginPaste}
		if err := s.bridge.ChangeFile(ctx, wirePath, d); err != nil {
			s.logger.Warn("failed to send created file", zap.String("path", wirePath), zap.Error(err))
			return
		}
		broadcastCreate.Inc()
	case watch.Deleted:
		s.host.Forget(ev.Path)
		if err := s.bridge.DeleteFile(ctx, wirePath); err != nil {
			s.logger.Warn("failed to send delete", zap.String("path", wirePath), zap.Error(err))
			return
		}
		broadcastDelete.Inc()
	}
}

func (s *Session) handleRemote(ctx context.Context, ev bridge.Event) {
	switch ev := ev.(type) {
	case bridge.ChangeFile:
		if ev.Change.Kind == change.KindRename || ev.Change.Kind == change.KindSelection {
			s.logger.Debug("ignoring change", zap.String("kind", string(ev.Change.Kind)), zap.String("path", ev.FilePath))
			return
		}
		s.enqueue(QueuedEdit{FilePath: wirepath.FromWire(ev.FilePath), Edit: ev.Change})
	case bridge.ProvideFile:
		s.enqueue(QueuedEdit{FilePath: wirepath.FromWire(ev.FilePath), Edit: snapshotEdit(ev.Content)})
	case bridge.DeleteFile:
		s.deleteFile(wirepath.FromWire(ev.FilePath))
	case bridge.RequestProject:
		s.provideProject(ctx, ev.Requester)
	case bridge.PeerJoined:
		s.logger.Info("peer joined", zap.String("nickname", ev.Peer.Nickname))
		if s.gotPeer {
			return
		}
		s.gotPeer = true
		if err := s.bridge.RequestProject(ctx); err != nil {
			s.logger.Warn("failed to request project", zap.Error(err))
		}
	case bridge.PeerLost:
		s.logger.Info("peer left", zap.String("nickname", ev.Peer.Nickname))
		s.notifier.Info("Lost connection to " + ev.Peer.Nickname)
	}
}

// deleteFile moves p to the trash. Edits still queued for p are discarded so
// the flush does not bring it back.
func (s *Session) deleteFile(p string) {
	s.drop(p)
	s.expected.add(watch.Deleted, p)
	if _, err := s.trash.Move(p); err != nil {
		s.expected.remove(watch.Deleted, p)
		if errors.Is(err, fs.ErrNotExist) {
			s.logger.Debug("deleted file not present", zap.String("path", p))
			return
		}
		s.logger.Warn("failed to move file to trash", zap.String("path", p), zap.Error(err))
		s.notifier.Error("Failed to delete " + p)
		return
	}
	s.host.Forget(p)
}

func (s *Session) provideProject(ctx context.Context, requester string) {
	for _, p := range s.host.Documents() {
		data, err := s.host.ReadFile(p)
		if err != nil {
			s.logger.Debug("skipping unreadable document", zap.String("path", p), zap.Error(fmt.Errorf("%w: %w", ErrRead, err)))
			continue
		}
		if err := s.bridge.ProvideFile(ctx, wirepath.ToWire(p), string(data), requester); err != nil {
			s.logger.Warn("failed to provide file", zap.String("path", p), zap.Error(err))
			return
		}
		broadcastProvide.Inc()
	}
}

type nopNotifier struct{}

func (nopNotifier) Info(string)  {}
func (nopNotifier) Error(string) {}
