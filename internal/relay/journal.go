package relay

import (
	"context"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"

	"collabtext/internal/wire"
)

// Journal records room membership changes.
type Journal interface {
	Record(ctx context.Context, room string, peer wire.Peer, kind wire.Action) error
}

type nopJournal struct{}

func (nopJournal) Record(context.Context, string, wire.Peer, wire.Action) error { return nil }

const schema = `CREATE TABLE IF NOT EXISTS room_events (
	id         BIGSERIAL PRIMARY KEY,
	room       TEXT NOT NULL,
	peer_id    TEXT NOT NULL,
	nickname   TEXT NOT NULL,
	kind       TEXT NOT NULL,
	created_at TIMESTAMPTZ NOT NULL
)`

// PGJournal appends to the room_events table.
type PGJournal struct {
	pool *pgxpool.Pool
	now  func() time.Time
}

// NewPGJournal connects to databaseURL and creates the table if needed.
func NewPGJournal(ctx context.Context, databaseURL string) (*PGJournal, error) {
	pool, err := pgxpool.New(ctx, databaseURL)
	if err != nil {
		return nil, fmt.Errorf("connect to database: %w", err)
	}
	if _, err := pool.Exec(ctx, schema); err != nil {
		pool.Close()
		return nil, fmt.Errorf("create room_events: %w", err)
	}
	return &PGJournal{pool: pool, now: time.Now}, nil
}

func (j *PGJournal) Record(ctx context.Context, room string, peer wire.Peer, kind wire.Action) error {
	_, err := j.pool.Exec(ctx,
		`INSERT INTO room_events (room, peer_id, nickname, kind, created_at) VALUES ($1, $2, $3, $4, $5)`,
		room, peer.ID, peer.Nickname, string(kind), j.now().UTC(),
	)
	return err
}

// Close releases the pool.
func (j *PGJournal) Close() {
	j.pool.Close()
}
