// Package relay is the room server agents join: it assigns peer identities,
// announces arrivals and departures, and forwards every message to the other
// members of the room.
package relay

import (
	"context"
	"net/http"

	"github.com/google/uuid"
	"github.com/gorilla/mux"
	"github.com/gorilla/websocket"
	"go.uber.org/zap"

	"collabtext/internal/metrics"
	"collabtext/internal/wire"
)

const subsystem = "relay"

var (
	connectedPeers = metrics.NewGauge(
		"peers",
		subsystem,
		"number of connected peers",
		[]string{},
	).WithLabelValues()
	relayedMessages = metrics.NewCounter(
		"messages",
		subsystem,
		"number of messages relayed by action",
		[]string{"action"},
	)
	slowPeers = metrics.NewCounter(
		"slow_peers",
		subsystem,
		"number of peers disconnected for not reading fast enough",
		[]string{},
	).WithLabelValues()
)

type Opt func(*Server)

func WithLogger(logger *zap.Logger) Opt {
	return func(s *Server) {
		s.logger = logger
	}
}

func WithJournal(j Journal) Opt {
	return func(s *Server) {
		s.journal = j
	}
}

type Server struct {
	logger   *zap.Logger
	broker   Broker
	journal  Journal
	upgrader websocket.Upgrader
}

func New(broker Broker, opts ...Opt) *Server {
	s := &Server{
		logger:  zap.NewNop(),
		broker:  broker,
		journal: nopJournal{},
		upgrader: websocket.Upgrader{
			ReadBufferSize:  1024,
			WriteBufferSize: 1024,
			CheckOrigin:     func(r *http.Request) bool { return true },
		},
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Handler routes room connections, health checks and metrics.
func (s *Server) Handler() http.Handler {
	r := mux.NewRouter()
	r.HandleFunc("/rooms/{room}", s.serveRoom)
	r.HandleFunc("/healthz", func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusOK)
	})
	r.Handle("/metrics", metrics.Handler())
	return r
}

// member is one websocket connection in a room.
type member struct {
	peer wire.Peer
	conn *websocket.Conn
	send chan []byte
}

func (s *Server) serveRoom(w http.ResponseWriter, r *http.Request) {
	room := mux.Vars(r)["room"]
	nickname := r.URL.Query().Get("nickname")
	if nickname == "" {
		nickname = "Guest"
	}
	conn, err := s.upgrader.Upgrade(w, r, nil)
	if err != nil {
		s.logger.Warn("websocket upgrade failed", zap.Error(err))
		return
	}
	m := &member{
		peer: wire.Peer{ID: uuid.NewString(), Nickname: nickname},
		conn: conn,
		send: make(chan []byte, 256),
	}
	logger := s.logger.With(zap.String("room", room), zap.String("peer", m.peer.ID))
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	sub, err := s.broker.Subscribe(ctx, room)
	if err != nil {
		logger.Error("subscribe failed", zap.Error(err))
		conn.Close()
		return
	}
	defer sub.Close()

	existing, err := s.broker.Peers(ctx, room)
	if err != nil {
		logger.Error("list peers failed", zap.Error(err))
		conn.Close()
		return
	}
	if err := s.broker.Join(ctx, room, m.peer); err != nil {
		logger.Error("join failed", zap.Error(err))
		conn.Close()
		return
	}
	connectedPeers.Inc()
	logger.Info("peer joined", zap.String("nickname", nickname), zap.Int("peers", len(existing)+1))
	if err := s.journal.Record(ctx, room, m.peer, wire.ActionGotPeer); err != nil {
		logger.Warn("journal write failed", zap.Error(err))
	}

	done := make(chan struct{})
	go m.writePump(done)

	m.enqueue(&wire.Message{Action: wire.ActionWelcome, Peer: &m.peer})
	for i := range existing {
		m.enqueue(&wire.Message{Action: wire.ActionGotPeer, Peer: &existing[i]})
	}
	s.publish(ctx, logger, room, &wire.Message{Action: wire.ActionGotPeer, Peer: &m.peer, From: m.peer.ID})

	go s.forward(logger, m, sub, done)
	s.readPump(ctx, logger, room, m)

	close(done)
	conn.Close()
	sub.Close()
	connectedPeers.Dec()
	// the request context is gone, but the room still has to learn about it
	if err := s.broker.Leave(context.Background(), room, m.peer.ID); err != nil {
		logger.Warn("leave failed", zap.Error(err))
	}
	s.publish(context.Background(), logger, room, &wire.Message{Action: wire.ActionLostPeer, Peer: &m.peer, From: m.peer.ID})
	if err := s.journal.Record(context.Background(), room, m.peer, wire.ActionLostPeer); err != nil {
		logger.Warn("journal write failed", zap.Error(err))
	}
	logger.Info("peer left")
}

func (s *Server) publish(ctx context.Context, logger *zap.Logger, room string, msg *wire.Message) {
	buf, err := wire.Encode(msg)
	if err != nil {
		logger.Error("encode failed", zap.Error(err))
		return
	}
	if err := s.broker.Publish(ctx, room, buf); err != nil {
		logger.Warn("publish failed", zap.Error(err))
		return
	}
	relayedMessages.WithLabelValues(string(msg.Action)).Inc()
}

// readPump stamps every inbound message with its sender and publishes it.
func (s *Server) readPump(ctx context.Context, logger *zap.Logger, room string, m *member) {
	for {
		_, buf, err := m.conn.ReadMessage()
		if err != nil {
			if !websocket.IsCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway) {
				logger.Debug("read failed", zap.Error(err))
			}
			return
		}
		msg, err := wire.Decode(buf)
		if err != nil {
			logger.Warn("dropping malformed message", zap.Error(err))
			continue
		}
		switch msg.Action {
		case wire.ActionGotPeer, wire.ActionLostPeer, wire.ActionWelcome:
			logger.Warn("dropping relay-only message from peer", zap.String("action", string(msg.Action)))
			continue
		case wire.ActionRequestProject:
			msg.Requester = m.peer.ID
		}
		msg.From = m.peer.ID
		s.publish(ctx, logger, room, msg)
	}
}

// forward delivers room traffic to m, skipping its own messages and
// snapshots addressed to someone else. A member that falls behind is
// disconnected rather than allowed to hold up the room.
func (s *Server) forward(logger *zap.Logger, m *member, sub Subscription, done <-chan struct{}) {
	for {
		select {
		case buf, ok := <-sub.Channel():
			if !ok {
				select {
				case <-done:
				default:
					logger.Warn("room subscription dropped, disconnecting peer")
					m.conn.Close()
				}
				return
			}
			msg, err := wire.Decode(buf)
			if err != nil {
				continue
			}
			if msg.From == m.peer.ID {
				continue
			}
			if msg.Action == wire.ActionProvideFile && msg.Requester != m.peer.ID {
				continue
			}
			select {
			case m.send <- buf:
			default:
				slowPeers.Inc()
				logger.Warn("peer is not keeping up, disconnecting")
				m.conn.Close()
				return
			}
		case <-done:
			return
		}
	}
}

func (m *member) enqueue(msg *wire.Message) {
	buf, err := wire.Encode(msg)
	if err != nil {
		return
	}
	m.send <- buf
}

func (m *member) writePump(done <-chan struct{}) {
	for {
		select {
		case msg := <-m.send:
			if err := m.conn.WriteMessage(websocket.TextMessage, msg); err != nil {
				return
			}
		case <-done:
			return
		}
	}
}
