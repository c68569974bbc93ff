// Package hub keeps the registry of live client connections on a node and
// fans payloads out to them.
package hub

import (
	"io"
	"log/slog"
	"sort"
	"sync"
)

// Conn is a registered client connection. net.Conn and tls.Conn satisfy it.
// Implementations must be comparable (pointer types are).
type Conn interface {
	io.Writer
	io.Closer
}

// Hub is the connection registry.
//
// All mutation and the whole fan-out run under one lock. A connection whose
// send fails is closed and evicted during the same Broadcast call.
type Hub struct {
	mu      sync.Mutex
	clients map[Conn]string
	logger  *slog.Logger
}

// New creates an empty hub. A nil logger means slog.Default().
func New(logger *slog.Logger) *Hub {
	if logger == nil {
		logger = slog.Default()
	}
	return &Hub{
		clients: make(map[Conn]string),
		logger:  logger,
	}
}

// Register adds conn under nickname, replacing any previous nickname.
func (h *Hub) Register(conn Conn, nickname string) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.clients[conn] = nickname
}

// Unregister removes conn and returns the nickname it was registered with.
func (h *Hub) Unregister(conn Conn) (string, bool) {
	h.mu.Lock()
	defer h.mu.Unlock()
	nick, ok := h.clients[conn]
	if ok {
		delete(h.clients, conn)
	}
	return nick, ok
}

// Nicknames returns the nicknames of every registered connection, sorted.
func (h *Hub) Nicknames() []string {
	h.mu.Lock()
	defer h.mu.Unlock()
	nicks := make([]string, 0, len(h.clients))
	for _, n := range h.clients {
		nicks = append(nicks, n)
	}
	sort.Strings(nicks)
	return nicks
}

// Len returns the number of registered connections.
func (h *Hub) Len() int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return len(h.clients)
}

// Broadcast writes payload to every registered connection except exclude
// (which may be nil). Returns the number of successful deliveries.
func (h *Hub) Broadcast(payload []byte, exclude Conn) int {
	h.mu.Lock()
	defer h.mu.Unlock()

	delivered := 0
	for conn, nick := range h.clients {
		if exclude != nil && conn == exclude {
			continue
		}
		if _, err := conn.Write(payload); err != nil {
			h.logger.Warn("evicting client after send failure", "nickname", nick, "error", err)
			_ = conn.Close()
			delete(h.clients, conn)
			continue
		}
		delivered++
	}
	return delivered
}
