package chat

import (
	"errors"
	"fmt"
	"strings"
	"time"
)

// TimestampLayout is the wall-clock format stamped on new messages.
const TimestampLayout = time.RFC3339

// Message is the unit of replication.
//
// The JSON form doubles as the peer wire record, so the origin travels
// as "server_id".
type Message struct {
	User      string `json:"user"`
	Text      string `json:"message"`
	Lamport   int64  `json:"lamport"`
	Origin    string `json:"server_id"`
	Timestamp string `json:"timestamp"`
}

// MaxLamport is the largest lamport accepted from the peer. It leaves the
// local clock room to keep advancing and stays exact in JSON numbers.
const MaxLamport = 1 << 53

// ErrInvalidMessage marks a replicated message that must not be merged.
var ErrInvalidMessage = errors.New("invalid message")

// CheckReplicated reports whether m can be merged from the peer: it needs an
// origin and a lamport in [1, MaxLamport].
func (m Message) CheckReplicated() error {
	switch {
	case m.Origin == "":
		return fmt.Errorf("%w: empty server_id", ErrInvalidMessage)
	case m.Lamport < 1:
		return fmt.Errorf("%w: lamport %d < 1", ErrInvalidMessage, m.Lamport)
	case m.Lamport > MaxLamport:
		return fmt.Errorf("%w: lamport %d exceeds %d", ErrInvalidMessage, m.Lamport, int64(MaxLamport))
	}
	return nil
}

// Position returns the identity key of the message.
func (m Message) Position() Position {
	return Position{Lamport: m.Lamport, Origin: m.Origin}
}

// Position is a point in the total order. The zero value means
// "no prior state" and sorts before every stored message.
type Position struct {
	Lamport int64  `json:"lamport"`
	Origin  string `json:"server_id"`
}

// IsZero reports whether p is the (0, "") cursor.
func (p Position) IsZero() bool {
	return p.Lamport == 0 && p.Origin == ""
}

// Compare returns -1, 0 or +1 ordering p relative to q.
// Ties on lamport are broken by origin as an opaque byte string.
func (p Position) Compare(q Position) int {
	switch {
	case p.Lamport < q.Lamport:
		return -1
	case p.Lamport > q.Lamport:
		return 1
	}
	return strings.Compare(p.Origin, q.Origin)
}

// Less reports whether p sorts strictly before q.
func (p Position) Less(q Position) bool {
	return p.Compare(q) < 0
}

func (p Position) String() string {
	return fmt.Sprintf("(%d, %q)", p.Lamport, p.Origin)
}

// Now returns t formatted with TimestampLayout in UTC.
func Now(t time.Time) string {
	return t.UTC().Format(TimestampLayout)
}
