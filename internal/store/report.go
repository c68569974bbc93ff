package store

import (
	"context"
	"fmt"

	"github.com/roach88/pairchat/internal/chat"
)

// Stats summarizes the log for the reporting API.
type Stats struct {
	TotalMessages int64 `json:"total_messages"`
	UniqueUsers   int64 `json:"unique_users"`
}

// ListMessages returns messages in total order, optionally filtered to
// one user. An empty user means no filter. Read-only.
func (s *Store) ListMessages(ctx context.Context, user string) ([]chat.Message, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if user == "" {
		return s.queryMessages(ctx, "list messages", selectMessages+orderTotal)
	}
	return s.queryMessages(ctx, "list messages",
		selectMessages+` WHERE user = ?`+orderTotal, user)
}

// Stats returns the total message count and the distinct user count. Read-only.
func (s *Store) Stats(ctx context.Context) (Stats, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	var st Stats
	err := s.db.QueryRowContext(ctx, `
		SELECT COUNT(*), COUNT(DISTINCT user) FROM messages
	`).Scan(&st.TotalMessages, &st.UniqueUsers)
	if err != nil {
		return Stats{}, fmt.Errorf("stats: %w", err)
	}
	return st, nil
}
