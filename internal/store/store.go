// Package store persists agent state that outlives a room session.
package store

import (
	"encoding/json"
	"errors"
	"fmt"
	"time"

	bolt "go.etcd.io/bbolt"
)

var (
	trashBucket   = []byte("trash")
	sessionBucket = []byte("session")

	lastRoomKey     = []byte("last-room")
	lastNicknameKey = []byte("last-nickname")
)

// ErrNotFound is returned for unknown trash entries.
var ErrNotFound = errors.New("not found")

// TrashEntry describes a file moved to the trash.
type TrashEntry struct {
	ID        string    `json:"id"`
	Original  string    `json:"original"`
	Trashed   string    `json:"trashed"`
	DeletedAt time.Time `json:"deletedAt"`
}

type Store struct {
	db *bolt.DB
}

// Open opens or creates the database at path.
func Open(path string) (*Store, error) {
	db, err := bolt.Open(path, 0o600, &bolt.Options{Timeout: time.Second})
	if err != nil {
		return nil, fmt.Errorf("open state %s: %w", path, err)
	}
	err = db.Update(func(tx *bolt.Tx) error {
		for _, name := range [][]byte{trashBucket, sessionBucket} {
			if _, err := tx.CreateBucketIfNotExists(name); err != nil {
				return err
			}
		}
		return nil
	})
	if err != nil {
		db.Close()
		return nil, fmt.Errorf("init state %s: %w", path, err)
	}
	return &Store{db: db}, nil
}

func (s *Store) Close() error {
	return s.db.Close()
}

// PutTrash records e under e.ID.
func (s *Store) PutTrash(e TrashEntry) error {
	buf, err := json.Marshal(e)
	if err != nil {
		return err
	}
	return s.db.Update(func(tx *bolt.Tx) error {
		return tx.Bucket(trashBucket).Put([]byte(e.ID), buf)
	})
}

func (s *Store) GetTrash(id string) (TrashEntry, error) {
	var e TrashEntry
	err := s.db.View(func(tx *bolt.Tx) error {
		buf := tx.Bucket(trashBucket).Get([]byte(id))
		if buf == nil {
			return fmt.Errorf("trash entry %s: %w", id, ErrNotFound)
		}
		return json.Unmarshal(buf, &e)
	})
	return e, err
}

func (s *Store) DeleteTrash(id string) error {
	return s.db.Update(func(tx *bolt.Tx) error {
		return tx.Bucket(trashBucket).Delete([]byte(id))
	})
}

// ListTrash returns entries ordered by id.
func (s *Store) ListTrash() ([]TrashEntry, error) {
	var entries []TrashEntry
	err := s.db.View(func(tx *bolt.Tx) error {
		return tx.Bucket(trashBucket).ForEach(func(_, v []byte) error {
			var e TrashEntry
			if err := json.Unmarshal(v, &e); err != nil {
				return err
			}
			entries = append(entries, e)
			return nil
		})
	})
	return entries, err
}

// SaveSession remembers the last joined room and nickname.
func (s *Store) SaveSession(room, nickname string) error {
	return s.db.Update(func(tx *bolt.Tx) error {
		b := tx.Bucket(sessionBucket)
		if err := b.Put(lastRoomKey, []byte(room)); err != nil {
			return err
		}
		return b.Put(lastNicknameKey, []byte(nickname))
	})
}

// LastSession returns the values stored by SaveSession, empty if none.
func (s *Store) LastSession() (room, nickname string, err error) {
	err = s.db.View(func(tx *bolt.Tx) error {
		b := tx.Bucket(sessionBucket)
		room = string(b.Get(lastRoomKey))
		nickname = string(b.Get(lastNicknameKey))
		return nil
	})
	return room, nickname, err
}
