package store

import (
	"context"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/roach88/pairchat/internal/chat"
)

// createTestStore opens a new store in a temp directory.
func createTestStore(t *testing.T) *Store {
	t.Helper()
	path := filepath.Join(t.TempDir(), "test.db")
	s, err := Open(path)
	require.NoError(t, err, "Open() failed")
	t.Cleanup(func() { s.Close() })
	return s
}

// createTestMessage creates a message with a fixed timestamp.
func createTestMessage(user, text string, lamport int64, origin string) chat.Message {
	return chat.Message{
		User:      user,
		Text:      text,
		Lamport:   lamport,
		Origin:    origin,
		Timestamp: "2024-01-01T00:00:00Z",
	}
}

// mustInsert inserts msg and requires it to be new.
func mustInsert(t *testing.T, s *Store, msg chat.Message) {
	t.Helper()
	inserted, err := s.InsertIfAbsent(context.Background(), msg)
	require.NoError(t, err)
	require.True(t, inserted, "insert %s should be new", msg.Position())
}

func positions(msgs []chat.Message) []chat.Position {
	out := make([]chat.Position, len(msgs))
	for i, m := range msgs {
		out[i] = m.Position()
	}
	return out
}
