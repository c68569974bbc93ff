package store

import (
	"context"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestOpen_AppliesPragmas(t *testing.T) {
	s := createTestStore(t)
	ctx := context.Background()

	assert.NoError(t, s.verifyPragma(ctx, "journal_mode", "wal"))
	assert.NoError(t, s.verifyPragma(ctx, "synchronous", "2"))
	assert.NoError(t, s.verifyPragma(ctx, "user_version", "1"))
}

func TestOpen_Idempotent(t *testing.T) {
	path := filepath.Join(t.TempDir(), "test.db")

	s1, err := Open(path)
	require.NoError(t, err)
	mustInsert(t, s1, createTestMessage("alice", "hi", 1, "A"))
	require.NoError(t, s1.Close())

	s2, err := Open(path)
	require.NoError(t, err)
	defer s2.Close()

	history, err := s2.FullHistory(context.Background())
	require.NoError(t, err)
	require.Len(t, history, 1, "rows must survive reopen")
	assert.Equal(t, "alice", history[0].User)
}

func TestClose_Twice(t *testing.T) {
	s := createTestStore(t)
	assert.NoError(t, s.Close())
	var nilStore Store
	assert.NoError(t, nilStore.Close())
}

func TestUniqueConstraintEnforcedBySchema(t *testing.T) {
	s := createTestStore(t)
	mustInsert(t, s, createTestMessage("alice", "hi", 1, "A"))

	// A raw insert bypassing ON CONFLICT must be rejected by SQLite itself.
	_, err := s.db.Exec(`
		INSERT INTO messages (user, message, lamport, origin, timestamp)
		VALUES ('mallory', 'dup', 1, 'A', 'x')
	`)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "UNIQUE")
}
