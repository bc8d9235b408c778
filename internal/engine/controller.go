package engine

import (
	"context"
	"fmt"
	"strings"
	"sync"

	"github.com/google/uuid"
	"github.com/jonboulle/clockwork"
	"go.uber.org/zap"

	"collabtext/internal/workspace"
)

// State of the controller.
type State int

const (
	Idle State = iota
	Syncing
)

func (s State) String() string {
	if s == Syncing {
		return "syncing"
	}
	return "idle"
}

// JoinRequest names the room to join and who to join as. Empty fields are
// asked for.
type JoinRequest struct {
	Room     string
	Nickname string
}

// Prompter asks the user for the room and nickname when a join request does
// not name both. The answer is used as is; an empty room cancels the join.
type Prompter interface {
	PromptJoin(ctx context.Context, defaults JoinRequest) (JoinRequest, error)
}

// Dialer connects to room on the relay at hostname.
type Dialer func(ctx context.Context, hostname, room, nickname string) (Bridge, error)

// WatcherFactory starts watching root for created and deleted files.
type WatcherFactory func(root string) (FileWatcher, error)

// TrashFactory returns where deleted files go for the workspace at root.
type TrashFactory func(h Host) Trasher

type sessionStore interface {
	SaveSession(room, nickname string) error
	LastSession() (room, nickname string, err error)
}

type Opt func(*Controller)

func WithLogger(logger *zap.Logger) Opt {
	return func(c *Controller) {
		c.logger = logger
	}
}

func WithConfig(cfg Config) Opt {
	return func(c *Controller) {
		c.cfg = cfg
	}
}

func WithControllerClock(clock clockwork.Clock) Opt {
	return func(c *Controller) {
		c.clock = clock
	}
}

func WithPrompter(p Prompter) Opt {
	return func(c *Controller) {
		c.prompter = p
	}
}

func WithControllerNotifier(n Notifier) Opt {
	return func(c *Controller) {
		c.notifier = n
	}
}

func WithWatcherFactory(f WatcherFactory) Opt {
	return func(c *Controller) {
		c.newWatcher = f
	}
}

// WithStore remembers the last room and nickname across runs.
func WithStore(s sessionStore) Opt {
	return func(c *Controller) {
		c.store = s
	}
}

// Controller joins and leaves rooms for one workspace. At most one session
// runs at a time.
type Controller struct {
	logger     *zap.Logger
	cfg        Config
	clock      clockwork.Clock
	host       Host
	dial       Dialer
	newTrash   TrashFactory
	newWatcher WatcherFactory
	prompter   Prompter
	notifier   Notifier
	store      sessionStore

	// joinMu serializes joins; mu guards the fields below it and is never
	// held while prompting or dialing.
	joinMu sync.Mutex

	mu       sync.Mutex
	gen      uint64
	session  *Session
	room     string
	nickname string
	cancel   context.CancelFunc
	done     chan struct{}

	unsubscribe func()
}

func NewController(h Host, dial Dialer, newTrash TrashFactory, opts ...Opt) *Controller {
	c := &Controller{
		logger:   zap.NewNop(),
		cfg:      DefaultConfig(),
		clock:    clockwork.NewRealClock(),
		host:     h,
		dial:     dial,
		newTrash: newTrash,
		prompter: defaultsPrompter{},
		notifier: nopNotifier{},
	}
	for _, opt := range opts {
		opt(c)
	}
	c.unsubscribe = h.Subscribe(func(ev workspace.Event) {
		if rc, ok := ev.(workspace.RootChanged); ok {
			c.RootChanged(rc.Root)
		}
	})
	return c
}

// State reports whether a session is running, and in which room.
func (c *Controller) State() (state State, room, nickname string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.session == nil {
		return Idle, "", ""
	}
	return Syncing, c.room, c.nickname
}

// Toggle leaves the current room, or joins one when idle.
func (c *Controller) Toggle(ctx context.Context, req JoinRequest) error {
	if state, _, _ := c.State(); state == Syncing {
		c.Leave()
		return nil
	}
	return c.Join(ctx, req)
}

// Join starts a session in a room, leaving the current one first. The
// prompt and the dial run without holding the controller, so a Leave or a
// root change while they wait abandons the join.
func (c *Controller) Join(ctx context.Context, req JoinRequest) error {
	c.joinMu.Lock()
	defer c.joinMu.Unlock()
	c.Leave()
	c.mu.Lock()
	gen := c.gen
	c.mu.Unlock()

	root := c.host.Root()
	if root == "" {
		c.notifier.Error("Open a folder before joining a room!")
		return ErrNoWorkspace
	}

	req, err := c.prompt(ctx, req)
	if err != nil {
		return err
	}
	if req.Room == "" {
		c.logger.Info("join cancelled")
		return nil
	}

	logger := c.logger.With(zap.String("room", req.Room), zap.String("nickname", req.Nickname))
	b, err := c.dial(ctx, c.cfg.Hostname, req.Room, req.Nickname)
	if err != nil {
		logger.Warn("failed to join room", zap.String("hostname", c.cfg.Hostname), zap.Error(err))
		c.notifier.Error("Failed to join room " + req.Room)
		return fmt.Errorf("join %s: %w", req.Room, err)
	}

	opts := []SessionOpt{
		WithSessionLogger(logger),
		WithSessionConfig(c.cfg),
		WithClock(c.clock),
		WithNotifier(c.notifier),
	}
	if c.newWatcher != nil {
		w, err := c.newWatcher(root)
		if err != nil {
			logger.Warn("file watcher unavailable", zap.Error(err))
		} else {
			opts = append(opts, WithWatcher(w))
		}
	}
	s := NewSession(b, c.host, c.newTrash(c.host), opts...)

	c.mu.Lock()
	if c.gen != gen || c.host.Root() != root {
		c.mu.Unlock()
		s.teardown()
		logger.Info("join abandoned")
		return nil
	}
	runCtx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	c.session, c.room, c.nickname = s, req.Room, req.Nickname
	c.cancel, c.done = cancel, done
	go func() {
		err := s.Run(runCtx)
		close(done)
		if err != nil {
			logger.Warn("session ended", zap.Error(err))
		}
		c.ended(s)
	}()
	c.mu.Unlock()

	if c.store != nil {
		if err := c.store.SaveSession(req.Room, req.Nickname); err != nil {
			logger.Warn("failed to remember session", zap.Error(err))
		}
	}
	logger.Info("joined room", zap.String("root", root))
	c.notifier.Info(fmt.Sprintf("Joined room %s as %s", req.Room, req.Nickname))
	return nil
}

func (c *Controller) prompt(ctx context.Context, req JoinRequest) (JoinRequest, error) {
	defaults := req
	var lastNickname string
	if c.store != nil {
		var err error
		if _, lastNickname, err = c.store.LastSession(); err != nil {
			c.logger.Debug("failed to read last session", zap.Error(err))
		}
	}
	if defaults.Room == "" {
		defaults.Room = c.cfg.DefaultRoom
	}
	if defaults.Room == "" {
		defaults.Room = randomRoom()
	}
	if defaults.Nickname == "" {
		defaults.Nickname = lastNickname
	}
	if defaults.Nickname == "" {
		defaults.Nickname = c.cfg.Nickname
	}
	answer := defaults
	if req.Room == "" || req.Nickname == "" {
		var err error
		if answer, err = c.prompter.PromptJoin(ctx, defaults); err != nil {
			return JoinRequest{}, fmt.Errorf("prompt: %w", err)
		}
	}
	answer.Room = strings.TrimSpace(answer.Room)
	answer.Nickname = strings.TrimSpace(answer.Nickname)
	if answer.Nickname == "" {
		answer.Nickname = "Guest"
	}
	return answer, nil
}

// Leave ends the current session, if any, and abandons a join in progress.
func (c *Controller) Leave() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.gen++
	c.leaveLocked()
}

func (c *Controller) leaveLocked() {
	if c.session == nil {
		return
	}
	c.cancel()
	<-c.done
	c.logger.Info("left room", zap.String("room", c.room))
	c.session, c.room, c.nickname = nil, "", ""
	c.cancel, c.done = nil, nil
}

// ended clears a session that stopped on its own.
func (c *Controller) ended(s *Session) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.session != s {
		return
	}
	c.notifier.Error("Disconnected from room " + c.room)
	c.session, c.room, c.nickname = nil, "", ""
	c.cancel, c.done = nil, nil
}

// FetchProject asks the room for its open documents again.
func (c *Controller) FetchProject(ctx context.Context) error {
	c.mu.Lock()
	s := c.session
	c.mu.Unlock()
	if s == nil {
		return nil
	}
	return s.RequestProject(ctx)
}

// RootChanged leaves the room when the workspace the session was started in
// is replaced.
func (c *Controller) RootChanged(root string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.gen++
	if c.session == nil || c.session.ProjectBasePath() == root {
		return
	}
	c.logger.Info("workspace changed, leaving room", zap.String("root", root))
	c.leaveLocked()
}

// Close leaves the room and stops observing the workspace.
func (c *Controller) Close() {
	c.unsubscribe()
	c.Leave()
}

// randomRoom returns a 20 character room name.
func randomRoom() string {
	return strings.ReplaceAll(uuid.NewString(), "-", "")[:20]
}

type defaultsPrompter struct{}

func (defaultsPrompter) PromptJoin(_ context.Context, defaults JoinRequest) (JoinRequest, error) {
	return defaults, nil
}
