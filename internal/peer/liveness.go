package peer

import "sync"

// Liveness is the shared peer reachability flag.
// Written by the heartbeat loop and failed RPCs, read by the push path.
type Liveness struct {
	mu sync.Mutex
	up bool
}

// Up reports whether the peer is currently considered reachable.
func (l *Liveness) Up() bool {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.up
}

// Set stores up and returns the previous value.
func (l *Liveness) Set(up bool) (was bool) {
	l.mu.Lock()
	defer l.mu.Unlock()
	was, l.up = l.up, up
	return was
}
