package testutil

import (
	"bytes"
	"errors"
	"strings"
	"sync"
)

// ErrConnBroken is returned by Write on a Conn marked broken.
var ErrConnBroken = errors.New("testutil: connection broken")

// Conn is an in-memory client connection that records every write.
//
// It satisfies hub.Conn. Mark it broken to simulate a send failure.
//
// Thread-safety: All methods are safe for concurrent use via internal mutex.
type Conn struct {
	mu     sync.Mutex
	buf    bytes.Buffer
	broken bool
	closed bool
}

// NewConn creates a healthy recording connection.
func NewConn() *Conn {
	return &Conn{}
}

// Write records p, or fails if the connection is broken or closed.
func (c *Conn) Write(p []byte) (int, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.broken || c.closed {
		return 0, ErrConnBroken
	}
	return c.buf.Write(p)
}

// Close marks the connection closed.
func (c *Conn) Close() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.closed = true
	return nil
}

// Break makes every later Write fail.
func (c *Conn) Break() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.broken = true
}

// Closed reports whether Close was called.
func (c *Conn) Closed() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.closed
}

// Lines returns the recorded writes split on newlines.
func (c *Conn) Lines() []string {
	c.mu.Lock()
	defer c.mu.Unlock()
	s := strings.TrimSuffix(c.buf.String(), "\n")
	if s == "" {
		return nil
	}
	return strings.Split(s, "\n")
}
