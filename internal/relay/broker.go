package relay

import (
	"context"
	"encoding/json"
	"fmt"
	"slices"
	"strings"
	"sync"

	"github.com/redis/go-redis/v9"

	"collabtext/internal/wire"
)

// Broker fans messages out to every connection in a room and tracks who is
// in it. Relay instances sharing a broker serve the same rooms.
type Broker interface {
	Publish(ctx context.Context, room string, payload []byte) error
	Subscribe(ctx context.Context, room string) (Subscription, error)
	Join(ctx context.Context, room string, peer wire.Peer) error
	Leave(ctx context.Context, room, peerID string) error
	Peers(ctx context.Context, room string) ([]wire.Peer, error)
}

// Subscription delivers every payload published to a room after Subscribe
// returned. Its channel is closed when the subscription is closed or dropped
// for falling behind.
type Subscription interface {
	Channel() <-chan []byte
	Close() error
}

func sortPeers(peers []wire.Peer) {
	slices.SortFunc(peers, func(a, b wire.Peer) int {
		return strings.Compare(a.ID, b.ID)
	})
}

// MemoryBroker keeps rooms in process.
type MemoryBroker struct {
	mu     sync.Mutex
	subs   map[string]map[*memorySub]struct{}
	peers  map[string]map[string]wire.Peer
	buffer int
}

func NewMemoryBroker() *MemoryBroker {
	return &MemoryBroker{
		subs:   make(map[string]map[*memorySub]struct{}),
		peers:  make(map[string]map[string]wire.Peer),
		buffer: 256,
	}
}

type memorySub struct {
	b      *MemoryBroker
	room   string
	ch     chan []byte
	closed bool
}

func (s *memorySub) Channel() <-chan []byte {
	return s.ch
}

func (s *memorySub) Close() error {
	s.b.mu.Lock()
	defer s.b.mu.Unlock()
	s.b.removeLocked(s)
	return nil
}

func (b *MemoryBroker) removeLocked(s *memorySub) {
	if s.closed {
		return
	}
	s.closed = true
	delete(b.subs[s.room], s)
	if len(b.subs[s.room]) == 0 {
		delete(b.subs, s.room)
	}
	close(s.ch)
}

// Publish never waits on a subscriber. One whose buffer is full is dropped
// and its channel closed.
func (b *MemoryBroker) Publish(_ context.Context, room string, payload []byte) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	for s := range b.subs[room] {
		select {
		case s.ch <- payload:
		default:
			b.removeLocked(s)
		}
	}
	return nil
}

func (b *MemoryBroker) Subscribe(_ context.Context, room string) (Subscription, error) {
	s := &memorySub{
		b:    b,
		room: room,
		ch:   make(chan []byte, b.buffer),
	}
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.subs[room] == nil {
		b.subs[room] = make(map[*memorySub]struct{})
	}
	b.subs[room][s] = struct{}{}
	return s, nil
}

func (b *MemoryBroker) Join(_ context.Context, room string, peer wire.Peer) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.peers[room] == nil {
		b.peers[room] = make(map[string]wire.Peer)
	}
	b.peers[room][peer.ID] = peer
	return nil
}

func (b *MemoryBroker) Leave(_ context.Context, room, peerID string) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	delete(b.peers[room], peerID)
	if len(b.peers[room]) == 0 {
		delete(b.peers, room)
	}
	return nil
}

func (b *MemoryBroker) Peers(_ context.Context, room string) ([]wire.Peer, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	peers := make([]wire.Peer, 0, len(b.peers[room]))
	for _, p := range b.peers[room] {
		peers = append(peers, p)
	}
	sortPeers(peers)
	return peers, nil
}

// RedisBroker uses one pub/sub channel per room and a hash of its peers.
type RedisBroker struct {
	rdb *redis.Client
}

func NewRedisBroker(rdb *redis.Client) *RedisBroker {
	return &RedisBroker{rdb: rdb}
}

func channelKey(room string) string {
	return "collabtext:room:" + room
}

func peersKey(room string) string {
	return "collabtext:room:" + room + ":peers"
}

func (b *RedisBroker) Publish(ctx context.Context, room string, payload []byte) error {
	return b.rdb.Publish(ctx, channelKey(room), payload).Err()
}

func (b *RedisBroker) Subscribe(ctx context.Context, room string) (Subscription, error) {
	pubsub := b.rdb.Subscribe(ctx, channelKey(room))
	// wait for the confirmation so nothing published after we return is missed
	if _, err := pubsub.Receive(ctx); err != nil {
		pubsub.Close()
		return nil, fmt.Errorf("subscribe %s: %w", room, err)
	}
	s := &redisSub{pubsub: pubsub, ch: make(chan []byte), done: make(chan struct{})}
	go func() {
		defer close(s.ch)
		for msg := range pubsub.Channel() {
			select {
			case s.ch <- []byte(msg.Payload):
			case <-s.done:
				return
			}
		}
	}()
	return s, nil
}

type redisSub struct {
	pubsub *redis.PubSub
	ch     chan []byte
	done   chan struct{}
	once   sync.Once
}

func (s *redisSub) Channel() <-chan []byte {
	return s.ch
}

func (s *redisSub) Close() error {
	s.once.Do(func() { close(s.done) })
	return s.pubsub.Close()
}

func (b *RedisBroker) Join(ctx context.Context, room string, peer wire.Peer) error {
	buf, err := json.Marshal(peer)
	if err != nil {
		return err
	}
	return b.rdb.HSet(ctx, peersKey(room), peer.ID, buf).Err()
}

func (b *RedisBroker) Leave(ctx context.Context, room, peerID string) error {
	return b.rdb.HDel(ctx, peersKey(room), peerID).Err()
}

func (b *RedisBroker) Peers(ctx context.Context, room string) ([]wire.Peer, error) {
	all, err := b.rdb.HGetAll(ctx, peersKey(room)).Result()
	if err != nil {
		return nil, err
	}
	peers := make([]wire.Peer, 0, len(all))
	for id, raw := range all {
		var p wire.Peer
		if err := json.Unmarshal([]byte(raw), &p); err != nil {
			return nil, fmt.Errorf("decode peer %s: %w", id, err)
		}
		peers = append(peers, p)
	}
	sortPeers(peers)
	return peers, nil
}
