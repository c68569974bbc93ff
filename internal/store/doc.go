// Package store provides SQLite-backed durable storage for the chat log.
//
// The store implements an append-only, deduplicating log of messages:
//   - Identity: UNIQUE(lamport, origin) enforced by SQLite, never emulated
//   - Inserts use ON CONFLICT DO NOTHING; RowsAffected reports new vs duplicate
//   - Rows are immutable and never deleted
//
// # Ordering
//
// All queries that return messages MUST include:
// ORDER BY lamport ASC, origin COLLATE BINARY ASC
// which matches chat.Position.Compare.
//
// # Concurrency
//
// Every operation runs inside a store-wide critical section. The pool is
// also limited to one connection since SQLite serializes writers anyway.
//
// # Database Configuration
//
//   - WAL mode: Concurrent reads during writes
//   - synchronous=FULL: inserts are durable before returning
//   - busy_timeout=5000: Wait for locks up to 5 seconds
package store
