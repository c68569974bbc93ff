package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/roach88/pairchat/internal/chat"
)

const selectMessages = `SELECT user, message, lamport, origin, timestamp FROM messages`

const orderTotal = ` ORDER BY lamport ASC, origin COLLATE BINARY ASC`

// MaxLamport returns the greatest lamport value stored, or 0 if empty.
// Used once at startup to seed the clock.
func (s *Store) MaxLamport(ctx context.Context) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	var maxLamport int64
	if err := s.db.QueryRowContext(ctx, `SELECT COALESCE(MAX(lamport), 0) FROM messages`).Scan(&maxLamport); err != nil {
		return 0, fmt.Errorf("max lamport: %w", err)
	}
	return maxLamport, nil
}

// LastPosition returns the position that sorts greatest under the total
// order, or the zero position if the store is empty.
func (s *Store) LastPosition(ctx context.Context) (chat.Position, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	var pos chat.Position
	err := s.db.QueryRowContext(ctx, `
		SELECT lamport, origin FROM messages
		ORDER BY lamport DESC, origin COLLATE BINARY DESC
		LIMIT 1
	`).Scan(&pos.Lamport, &pos.Origin)
	if errors.Is(err, sql.ErrNoRows) {
		return chat.Position{}, nil
	}
	if err != nil {
		return chat.Position{}, fmt.Errorf("last position: %w", err)
	}
	return pos, nil
}

// RangeAfter returns every message strictly greater than cursor, in
// ascending total order. The cursor itself is never included.
func (s *Store) RangeAfter(ctx context.Context, cursor chat.Position) ([]chat.Message, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	return s.queryMessages(ctx, "range after",
		selectMessages+` WHERE lamport > ? OR (lamport = ? AND origin > ?)`+orderTotal,
		cursor.Lamport, cursor.Lamport, cursor.Origin,
	)
}

// FullHistory returns every message in ascending total order.
func (s *Store) FullHistory(ctx context.Context) ([]chat.Message, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	return s.queryMessages(ctx, "full history", selectMessages+orderTotal)
}

// Since answers a sync request: the full history for the zero cursor,
// otherwise RangeAfter(cursor).
func (s *Store) Since(ctx context.Context, cursor chat.Position) ([]chat.Message, error) {
	if cursor.IsZero() {
		return s.FullHistory(ctx)
	}
	return s.RangeAfter(ctx, cursor)
}

// queryMessages runs a message query. Callers hold s.mu.
// Returns an empty slice (not nil) when nothing matches.
func (s *Store) queryMessages(ctx context.Context, op, query string, args ...any) ([]chat.Message, error) {
	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", op, err)
	}
	defer rows.Close()

	messages := []chat.Message{}
	for rows.Next() {
		var m chat.Message
		if err := rows.Scan(&m.User, &m.Text, &m.Lamport, &m.Origin, &m.Timestamp); err != nil {
			return nil, fmt.Errorf("%s: scan: %w", op, err)
		}
		messages = append(messages, m)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("%s: iterate: %w", op, err)
	}

	return messages, nil
}
