// Package bridge connects an agent to a room on the relay and turns the
// relay's messages into a single stream of events.
package bridge

import (
	"context"
	"errors"
	"fmt"
	"net/url"
	"strings"
	"sync"
	"time"

	"github.com/cenkalti/backoff"
	"github.com/gorilla/websocket"
	"go.uber.org/zap"

	"collabtext/internal/change"
	"collabtext/internal/wire"
)

// ErrClosed is returned by calls made after Close.
var ErrClosed = errors.New("bridge closed")

type Config struct {
	// MaxElapsedTime bounds the initial dial; zero retries until ctx is done.
	MaxElapsedTime time.Duration `mapstructure:"dial-timeout"`
	// MaxInterval caps the delay between reconnect attempts.
	MaxInterval time.Duration `mapstructure:"reconnect-interval"`
	// SendBuffer is the number of outbound messages queued while the
	// connection is being re-established.
	SendBuffer int `mapstructure:"send-buffer"`
}

func DefaultConfig() Config {
	return Config{
		MaxElapsedTime: 30 * time.Second,
		MaxInterval:    5 * time.Second,
		SendBuffer:     256,
	}
}

type Opt func(*Client)

func WithLogger(logger *zap.Logger) Opt {
	return func(c *Client) {
		c.logger = logger
	}
}

func WithConfig(cfg Config) Opt {
	return func(c *Client) {
		c.cfg = cfg
	}
}

// Client is the agent side of a room. Events from all connections made over
// its lifetime are delivered on a single channel that is closed after Close.
type Client struct {
	logger *zap.Logger
	cfg    Config
	url    string
	dialer *websocket.Dialer

	events chan Event
	send   chan []byte
	closed chan struct{}
	once   sync.Once

	mu   sync.Mutex
	conn *websocket.Conn
	self wire.Peer
}

// RoomURL builds the relay endpoint for room. http and https hostnames are
// mapped to their websocket schemes.
func RoomURL(hostname, room, nickname string) (string, error) {
	if !strings.Contains(hostname, "://") {
		hostname = "ws://" + hostname
	}
	u, err := url.Parse(hostname)
	if err != nil {
		return "", fmt.Errorf("parse hostname %q: %w", hostname, err)
	}
	switch u.Scheme {
	case "http":
		u.Scheme = "ws"
	case "https":
		u.Scheme = "wss"
	case "ws", "wss":
	default:
		return "", fmt.Errorf("unsupported scheme %q", u.Scheme)
	}
	u.Path = strings.TrimSuffix(u.Path, "/") + "/rooms/" + url.PathEscape(room)
	u.RawQuery = url.Values{"nickname": {nickname}}.Encode()
	return u.String(), nil
}

// Dial joins room on the relay at hostname as nickname.
func Dial(ctx context.Context, hostname, room, nickname string, opts ...Opt) (*Client, error) {
	u, err := RoomURL(hostname, room, nickname)
	if err != nil {
		return nil, err
	}
	c := &Client{
		logger: zap.NewNop(),
		cfg:    DefaultConfig(),
		url:    u,
		dialer: websocket.DefaultDialer,
		closed: make(chan struct{}),
	}
	for _, opt := range opts {
		opt(c)
	}
	c.events = make(chan Event, c.cfg.SendBuffer)
	c.send = make(chan []byte, c.cfg.SendBuffer)
	c.logger = c.logger.With(zap.String("room", room))

	b := backoff.NewExponentialBackOff()
	b.MaxElapsedTime = c.cfg.MaxElapsedTime
	b.MaxInterval = c.cfg.MaxInterval
	conn, err := c.dial(ctx, b)
	if err != nil {
		return nil, err
	}
	c.setConn(conn)
	go c.run(conn)
	return c, nil
}

func (c *Client) dial(ctx context.Context, b backoff.BackOff) (*websocket.Conn, error) {
	var conn *websocket.Conn
	op := func() error {
		select {
		case <-c.closed:
			return nil
		default:
		}
		var err error
		conn, _, err = c.dialer.DialContext(ctx, c.url, nil)
		return err
	}
	notify := func(err error, wait time.Duration) {
		c.logger.Debug("relay dial failed", zap.Error(err), zap.Duration("retry_in", wait))
	}
	if err := backoff.RetryNotify(op, backoff.WithContext(b, ctx), notify); err != nil {
		return nil, fmt.Errorf("dial %s: %w", c.url, err)
	}
	if conn == nil {
		return nil, ErrClosed
	}
	return conn, nil
}

func (c *Client) setConn(conn *websocket.Conn) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.conn = conn
}

// run owns the read side and re-dials until Close is called.
func (c *Client) run(conn *websocket.Conn) {
	defer close(c.events)
	for {
		done := make(chan struct{})
		go c.writePump(conn, done)
		err := c.readPump(conn)
		close(done)
		conn.Close()

		select {
		case <-c.closed:
			return
		default:
		}
		c.logger.Warn("relay connection lost, reconnecting", zap.Error(err))

		ctx, cancel := context.WithCancel(context.Background())
		go func() {
			select {
			case <-c.closed:
				cancel()
			case <-ctx.Done():
			}
		}()
		b := backoff.NewExponentialBackOff()
		b.MaxElapsedTime = 0
		b.MaxInterval = c.cfg.MaxInterval
		conn, err = c.dial(ctx, b)
		cancel()
		if err != nil {
			return
		}
		c.setConn(conn)
		select {
		case <-c.closed:
			conn.Close()
			return
		default:
		}
		c.logger.Info("relay connection restored")
	}
}

func (c *Client) readPump(conn *websocket.Conn) error {
	for {
		_, buf, err := conn.ReadMessage()
		if err != nil {
			return err
		}
		msg, err := wire.Decode(buf)
		if err != nil {
			c.logger.Warn("dropping malformed message", zap.Error(err))
			continue
		}
		if msg.Action == wire.ActionWelcome {
			c.mu.Lock()
			c.self = *msg.Peer
			c.mu.Unlock()
			continue
		}
		if msg.Action == wire.ActionProvideFile && msg.Requester != c.Self().ID {
			continue
		}
		ev := eventFromMessage(msg)
		if ev == nil {
			continue
		}
		select {
		case c.events <- ev:
		case <-c.closed:
			return ErrClosed
		}
	}
}

func (c *Client) writePump(conn *websocket.Conn, done <-chan struct{}) {
	for {
		select {
		case msg := <-c.send:
			if err := conn.WriteMessage(websocket.TextMessage, msg); err != nil {
				c.logger.Warn("failed to write to relay", zap.Error(err))
				return
			}
		case <-done:
			return
		}
	}
}

// Events returns the inbound event stream.
func (c *Client) Events() <-chan Event {
	return c.events
}

// Self returns the identity the relay assigned to this connection.
func (c *Client) Self() wire.Peer {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.self
}

func (c *Client) post(ctx context.Context, m *wire.Message) error {
	buf, err := wire.Encode(m)
	if err != nil {
		return err
	}
	select {
	case <-c.closed:
		return ErrClosed
	default:
	}
	select {
	case c.send <- buf:
		return nil
	case <-c.closed:
		return ErrClosed
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (c *Client) ChangeFile(ctx context.Context, filePath string, d change.Descriptor) error {
	return c.post(ctx, &wire.Message{Action: wire.ActionChangeFile, FilePath: filePath, Change: &d})
}

func (c *Client) DeleteFile(ctx context.Context, filePath string) error {
	return c.post(ctx, &wire.Message{Action: wire.ActionDeleteFile, FilePath: filePath})
}

func (c *Client) RequestProject(ctx context.Context) error {
	return c.post(ctx, &wire.Message{Action: wire.ActionRequestProject})
}

func (c *Client) ProvideFile(ctx context.Context, filePath, content, requester string) error {
	return c.post(ctx, &wire.Message{
		Action:    wire.ActionProvideFile,
		FilePath:  filePath,
		Content:   content,
		Requester: requester,
	})
}

// Close leaves the room. It is safe to call more than once.
func (c *Client) Close() error {
	var err error
	c.once.Do(func() {
		close(c.closed)
		c.mu.Lock()
		conn := c.conn
		c.mu.Unlock()
		if conn == nil {
			return
		}
		deadline := time.Now().Add(time.Second)
		_ = conn.WriteControl(websocket.CloseMessage,
			websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""), deadline)
		err = conn.Close()
	})
	return err
}
