// Package editor serves the agent's workspace to local editor clients over a
// websocket: clients open, focus and edit documents, control the room
// session, and receive document changes and user notices.
package editor

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"

	"github.com/gorilla/mux"
	"github.com/gorilla/websocket"
	"github.com/spf13/afero"
	"go.uber.org/zap"

	"collabtext/internal/change"
	"collabtext/internal/engine"
	"collabtext/internal/store"
	"collabtext/internal/wirepath"
	"collabtext/internal/workspace"
)

// Request actions.
const (
	ActionOpen    = "open"
	ActionFocus   = "focus"
	ActionEdit    = "edit"
	ActionJoin    = "join"
	ActionLeave   = "leave"
	ActionToggle  = "toggle"
	ActionFetch   = "fetch"
	ActionState   = "state"
	ActionRoot    = "root"
	ActionTrash   = "trash"
	ActionRestore = "restore"
)

// Notice kinds.
const (
	KindInfo    = "info"
	KindError   = "error"
	KindOpened  = "opened"
	KindChanged = "changed"
	KindFocused = "focused"
	KindRoot    = "root"
	KindState   = "state"
	KindTrash   = "trash"
)

// Request is sent by an editor client. Only the fields used by Action are set.
type Request struct {
	Action   string     `json:"action"`
	Path     string     `json:"path,omitempty"`
	From     change.Pos `json:"from"`
	To       change.Pos `json:"to"`
	Text     string     `json:"text,omitempty"`
	Room     string     `json:"room,omitempty"`
	Nickname string     `json:"nickname,omitempty"`
	ID       string     `json:"id,omitempty"`
}

// Notice is sent to editor clients.
type Notice struct {
	Kind     string             `json:"kind"`
	Path     string             `json:"path,omitempty"`
	Text     string             `json:"text,omitempty"`
	Message  string             `json:"message,omitempty"`
	State    string             `json:"state,omitempty"`
	Room     string             `json:"room,omitempty"`
	Nickname string             `json:"nickname,omitempty"`
	Trash    []store.TrashEntry `json:"trash,omitempty"`
}

type controller interface {
	Join(ctx context.Context, req engine.JoinRequest) error
	Toggle(ctx context.Context, req engine.JoinRequest) error
	Leave()
	FetchProject(ctx context.Context) error
	State() (engine.State, string, string)
}

// Trash lists and restores files deleted by peers.
type Trash interface {
	List() ([]store.TrashEntry, error)
	Restore(id string) (store.TrashEntry, error)
}

type Opt func(*Server)

func WithLogger(logger *zap.Logger) Opt {
	return func(s *Server) {
		s.logger = logger
	}
}

// WithTrash exposes the trash of the current workspace to clients.
func WithTrash(fn func() Trash) Opt {
	return func(s *Server) {
		s.trash = fn
	}
}

// WithRootFs sets how the filesystem of a newly opened root is built.
func WithRootFs(fn func(root string) afero.Fs) Opt {
	return func(s *Server) {
		s.rootFs = fn
	}
}

type Server struct {
	logger   *zap.Logger
	hub      *Hub
	ws       *workspace.Workspace
	ctrl     controller
	trash    func() Trash
	rootFs   func(root string) afero.Fs
	upgrader websocket.Upgrader

	unsubscribe func()
}

// New serves ws through hub. Workspace events are published until Close.
func New(hub *Hub, ws *workspace.Workspace, ctrl controller, opts ...Opt) *Server {
	s := &Server{
		logger: zap.NewNop(),
		hub:    hub,
		ws:     ws,
		ctrl:   ctrl,
		rootFs: func(root string) afero.Fs {
			return afero.NewBasePathFs(afero.NewOsFs(), root)
		},
		upgrader: websocket.Upgrader{
			ReadBufferSize:  1024,
			WriteBufferSize: 1024,
			CheckOrigin:     func(r *http.Request) bool { return true },
		},
	}
	for _, opt := range opts {
		opt(s)
	}
	s.unsubscribe = ws.Subscribe(s.publish)
	return s
}

func (s *Server) Close() {
	s.unsubscribe()
}

func (s *Server) publish(ev workspace.Event) {
	switch ev := ev.(type) {
	case workspace.DocumentChanged:
		text, ok := s.ws.Text(ev.Path)
		if !ok {
			return
		}
		s.hub.Publish(Notice{Kind: KindChanged, Path: ev.Path, Text: text})
	case workspace.ActiveChanged:
		s.hub.Publish(Notice{Kind: KindFocused, Path: ev.Path})
	case workspace.RootChanged:
		s.hub.Publish(Notice{Kind: KindRoot, Path: ev.Root})
	}
}

// Handler routes editor connections.
func (s *Server) Handler() http.Handler {
	r := mux.NewRouter()
	r.HandleFunc("/ws", s.serveWs)
	return r
}

func (s *Server) serveWs(w http.ResponseWriter, r *http.Request) {
	conn, err := s.upgrader.Upgrade(w, r, nil)
	if err != nil {
		s.logger.Warn("websocket upgrade failed", zap.Error(err))
		return
	}
	c := &client{conn: conn, send: make(chan []byte, 256)}
	if !s.hub.join(c) {
		conn.Close()
		return
	}
	go c.writePump()
	s.hub.reply(c, s.stateNotice())
	s.readPump(r.Context(), c)
}

func (s *Server) readPump(ctx context.Context, c *client) {
	defer func() {
		s.hub.leave(c)
		c.conn.Close()
	}()
	for {
		_, buf, err := c.conn.ReadMessage()
		if err != nil {
			return
		}
		var req Request
		if err := json.Unmarshal(buf, &req); err != nil {
			s.logger.Warn("error decoding request", zap.Error(err))
			continue
		}
		if err := s.handle(ctx, c, req); err != nil {
			s.logger.Debug("request failed", zap.String("action", req.Action), zap.Error(err))
			s.hub.reply(c, Notice{Kind: KindError, Message: err.Error()})
		}
	}
}

func (s *Server) handle(ctx context.Context, c *client, req Request) error {
	p := wirepath.FromWire(req.Path)
	switch req.Action {
	case ActionOpen:
		doc, err := s.ws.Open(p)
		if err != nil {
			return err
		}
		s.hub.reply(c, Notice{Kind: KindOpened, Path: doc.Path, Text: doc.Text})
	case ActionFocus:
		return s.ws.SetActive(p)
	case ActionEdit:
		d := change.Descriptor{From: req.From, To: req.To, Text: change.Lines(req.Text)}
		if err := d.Validate(); err != nil {
			return err
		}
		if err := s.ws.ApplyEdit(p, []workspace.TextEdit{change.ToNative(d)}); err != nil {
			return err
		}
		return s.ws.SaveAll()
	case ActionJoin:
		err := s.ctrl.Join(ctx, engine.JoinRequest{Room: req.Room, Nickname: req.Nickname})
		s.hub.Publish(s.stateNotice())
		return err
	case ActionToggle:
		err := s.ctrl.Toggle(ctx, engine.JoinRequest{Room: req.Room, Nickname: req.Nickname})
		s.hub.Publish(s.stateNotice())
		return err
	case ActionLeave:
		s.ctrl.Leave()
		s.hub.Publish(s.stateNotice())
	case ActionFetch:
		return s.ctrl.FetchProject(ctx)
	case ActionState:
		s.hub.reply(c, s.stateNotice())
	case ActionRoot:
		s.ws.SetRoot(s.rootFs(req.Path), req.Path)
		s.hub.Publish(s.stateNotice())
	case ActionTrash:
		if s.trash == nil {
			return fmt.Errorf("trash unavailable")
		}
		entries, err := s.trash().List()
		if err != nil {
			return err
		}
		s.hub.reply(c, Notice{Kind: KindTrash, Trash: entries})
	case ActionRestore:
		if s.trash == nil {
			return fmt.Errorf("trash unavailable")
		}
		e, err := s.trash().Restore(req.ID)
		if err != nil {
			return err
		}
		s.hub.Info("Restored " + e.Original)
	default:
		return fmt.Errorf("unknown action %q", req.Action)
	}
	return nil
}

func (s *Server) stateNotice() Notice {
	state, room, nickname := s.ctrl.State()
	return Notice{Kind: KindState, State: state.String(), Room: room, Nickname: nickname, Path: s.ws.Root()}
}
