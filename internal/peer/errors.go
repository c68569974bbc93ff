package peer

import (
	"errors"
	"fmt"
)

// ErrPeerDown is returned when an operation is skipped because the peer is
// marked unreachable.
var ErrPeerDown = errors.New("peer is down")

// StatusError reports a non-success HTTP reply from the peer.
type StatusError struct {
	Op   string
	Code int
	Body string
}

func (e *StatusError) Error() string {
	if e.Body != "" {
		return fmt.Sprintf("peer %s: status %d: %s", e.Op, e.Code, e.Body)
	}
	return fmt.Sprintf("peer %s: status %d", e.Op, e.Code)
}
