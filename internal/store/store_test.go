package store

import (
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func openTestStore(t *testing.T) *Store {
	t.Helper()
	s, err := Open(filepath.Join(t.TempDir(), "state.db"))
	require.NoError(t, err)
	t.Cleanup(func() { s.Close() })
	return s
}

func TestTrashEntries(t *testing.T) {
	s := openTestStore(t)
	at := time.Date(2024, 1, 2, 3, 4, 5, 0, time.UTC)
	require.NoError(t, s.PutTrash(TrashEntry{ID: "02", Original: "b.txt", Trashed: ".trash/02-b.txt", DeletedAt: at}))
	require.NoError(t, s.PutTrash(TrashEntry{ID: "01", Original: "a.txt", Trashed: ".trash/01-a.txt", DeletedAt: at}))

	entries, err := s.ListTrash()
	require.NoError(t, err)
	require.Len(t, entries, 2)
	require.Equal(t, "01", entries[0].ID)
	require.Equal(t, "b.txt", entries[1].Original)

	got, err := s.GetTrash("02")
	require.NoError(t, err)
	require.True(t, at.Equal(got.DeletedAt))

	require.NoError(t, s.DeleteTrash("02"))
	_, err = s.GetTrash("02")
	require.ErrorIs(t, err, ErrNotFound)
}

func TestSessionPersists(t *testing.T) {
	path := filepath.Join(t.TempDir(), "state.db")
	s, err := Open(path)
	require.NoError(t, err)
	room, nickname, err := s.LastSession()
	require.NoError(t, err)
	require.Empty(t, room)
	require.Empty(t, nickname)
	require.NoError(t, s.SaveSession("abc123", "Alice"))
	require.NoError(t, s.Close())

	s, err = Open(path)
	require.NoError(t, err)
	defer s.Close()
	room, nickname, err = s.LastSession()
	require.NoError(t, err)
	require.Equal(t, "abc123", room)
	require.Equal(t, "Alice", nickname)
}
