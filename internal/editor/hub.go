package editor

import (
	"context"
	"encoding/json"

	"github.com/gorilla/websocket"
	"go.uber.org/zap"

	"collabtext/internal/metrics"
)

var connectedClients = metrics.NewGauge(
	"clients",
	"editor",
	"number of connected editor clients",
	[]string{},
).WithLabelValues()

// client is one connected editor.
type client struct {
	conn *websocket.Conn
	send chan []byte
}

type direct struct {
	client *client
	msg    []byte
}

// Hub maintains the set of connected editors and fans notices out to them.
// It is also the agent's Notifier.
type Hub struct {
	logger     *zap.Logger
	clients    map[*client]struct{}
	broadcast  chan []byte
	direct     chan direct
	register   chan *client
	unregister chan *client
	done       chan struct{}
}

func NewHub(logger *zap.Logger) *Hub {
	return &Hub{
		logger:     logger,
		clients:    make(map[*client]struct{}),
		broadcast:  make(chan []byte, 256),
		direct:     make(chan direct, 256),
		register:   make(chan *client),
		unregister: make(chan *client),
		done:       make(chan struct{}),
	}
}

// Run serves the hub until ctx is done, then disconnects every client.
func (h *Hub) Run(ctx context.Context) {
	defer close(h.done)
	for {
		select {
		case <-ctx.Done():
			for c := range h.clients {
				h.drop(c)
			}
			return
		case c := <-h.register:
			h.clients[c] = struct{}{}
			connectedClients.Inc()
			h.logger.Debug("editor connected", zap.Int("clients", len(h.clients)))
		case c := <-h.unregister:
			if _, ok := h.clients[c]; ok {
				h.drop(c)
				h.logger.Debug("editor disconnected", zap.Int("clients", len(h.clients)))
			}
		case msg := <-h.broadcast:
			for c := range h.clients {
				h.deliver(c, msg)
			}
		case d := <-h.direct:
			if _, ok := h.clients[d.client]; ok {
				h.deliver(d.client, d.msg)
			}
		}
	}
}

// deliver drops clients that do not keep up.
func (h *Hub) deliver(c *client, msg []byte) {
	select {
	case c.send <- msg:
	default:
		h.logger.Warn("editor too slow, disconnecting")
		h.drop(c)
	}
}

func (h *Hub) drop(c *client) {
	delete(h.clients, c)
	close(c.send)
	connectedClients.Dec()
}

func encode(n Notice) []byte {
	buf, err := json.Marshal(n)
	if err != nil {
		panic(err)
	}
	return buf
}

// Publish sends n to every connected editor.
func (h *Hub) Publish(n Notice) {
	select {
	case h.broadcast <- encode(n):
	case <-h.done:
	}
}

func (h *Hub) reply(c *client, n Notice) {
	select {
	case h.direct <- direct{client: c, msg: encode(n)}:
	case <-h.done:
	}
}

func (h *Hub) Info(msg string) {
	h.logger.Info(msg)
	h.Publish(Notice{Kind: KindInfo, Message: msg})
}

func (h *Hub) Error(msg string) {
	h.logger.Warn(msg)
	h.Publish(Notice{Kind: KindError, Message: msg})
}

func (h *Hub) join(c *client) bool {
	select {
	case h.register <- c:
		return true
	case <-h.done:
		return false
	}
}

func (h *Hub) leave(c *client) {
	select {
	case h.unregister <- c:
	case <-h.done:
	}
}

func (c *client) writePump() {
	defer c.conn.Close()
	for msg := range c.send {
		if err := c.conn.WriteMessage(websocket.TextMessage, msg); err != nil {
			return
		}
	}
	c.conn.WriteMessage(websocket.CloseMessage, []byte{})
}
