package store

import (
	"context"
	"fmt"

	"github.com/roach88/pairchat/internal/chat"
)

// InsertIfAbsent persists msg unless a row with the same (lamport, origin)
// already exists. Returns true if a new row was written and false for a
// duplicate, which is not an error.
//
// The write is durable before InsertIfAbsent returns.
func (s *Store) InsertIfAbsent(ctx context.Context, msg chat.Message) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	result, err := s.db.ExecContext(ctx, `
		INSERT INTO messages (user, message, lamport, origin, timestamp)
		VALUES (?, ?, ?, ?, ?)
		ON CONFLICT(lamport, origin) DO NOTHING
	`,
		msg.User,
		msg.Text,
		msg.Lamport,
		msg.Origin,
		msg.Timestamp,
	)
	if err != nil {
		return false, fmt.Errorf("insert message %s: %w", msg.Position(), err)
	}

	rowsAffected, err := result.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("insert message %s: rows affected: %w", msg.Position(), err)
	}

	return rowsAffected > 0, nil
}
