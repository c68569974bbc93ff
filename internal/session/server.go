package session

import (
	"bufio"
	"context"
	"errors"
	"log/slog"
	"net"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"golang.org/x/text/unicode/norm"

	"github.com/roach88/pairchat/internal/chat"
	"github.com/roach88/pairchat/internal/clock"
	"github.com/roach88/pairchat/internal/hub"
)

// Client protocol constants.
const (
	Prompt          = "Enter your nickname:"
	DefaultNickname = "anonymous"
	UsersCommand    = "/users"

	// MaxFrameSize bounds a single client line.
	MaxFrameSize = 64 * 1024

	// DefaultWriteTimeout bounds each write to a client.
	DefaultWriteTimeout = 5 * time.Second
)

// Store persists locally originated messages.
type Store interface {
	InsertIfAbsent(ctx context.Context, msg chat.Message) (bool, error)
}

// Pusher hands a locally originated message to the peer replicator.
// Push must never block longer than its own bounded timeout.
type Pusher interface {
	Push(ctx context.Context, msg chat.Message)
}

// Config wires a Server to its collaborators.
type Config struct {
	NodeID string
	Clock  *clock.Lamport
	Store  Store
	Hub    *hub.Hub

	// Pusher is optional; nil disables replication.
	Pusher Pusher

	// Logger defaults to slog.Default().
	Logger *slog.Logger

	// Now stamps informational timestamps. Defaults to time.Now.
	Now func() time.Time

	// WriteTimeout defaults to DefaultWriteTimeout.
	WriteTimeout time.Duration
}

// Server accepts client connections and runs the per-connection protocol.
type Server struct {
	nodeID       string
	clock        *clock.Lamport
	store        Store
	hub          *hub.Hub
	pusher       Pusher
	logger       *slog.Logger
	now          func() time.Time
	writeTimeout time.Duration

	mu      sync.Mutex
	conns   map[net.Conn]struct{}
	closing bool
	wg      sync.WaitGroup
}

// New creates a Server from cfg.
func New(cfg Config) *Server {
	s := &Server{
		nodeID:       cfg.NodeID,
		clock:        cfg.Clock,
		store:        cfg.Store,
		hub:          cfg.Hub,
		pusher:       cfg.Pusher,
		logger:       cfg.Logger,
		now:          cfg.Now,
		writeTimeout: cfg.WriteTimeout,
		conns:        make(map[net.Conn]struct{}),
	}
	if s.logger == nil {
		s.logger = slog.Default()
	}
	if s.now == nil {
		s.now = time.Now
	}
	if s.writeTimeout <= 0 {
		s.writeTimeout = DefaultWriteTimeout
	}
	return s
}

// Serve accepts connections on ln until ctx is cancelled.
//
// On cancellation the listener and every open connection are closed, which
// unblocks pending reads so each session exits through its Closed path.
// Serve returns after all sessions have finished.
func (s *Server) Serve(ctx context.Context, ln net.Listener) error {
	s.logger.Info("accepting clients", "addr", ln.Addr().String(), "node", s.nodeID)

	stop := make(chan struct{})
	defer close(stop)
	go func() {
		select {
		case <-ctx.Done():
			_ = ln.Close()
			s.closeAll()
		case <-stop:
		}
	}()

	for {
		raw, err := ln.Accept()
		if err != nil {
			if ctx.Err() != nil || errors.Is(err, net.ErrClosed) {
				s.closeAll()
				s.wg.Wait()
				s.logger.Info("client listener stopped")
				return nil
			}
			s.logger.Warn("accept failed", "error", err)
			time.Sleep(50 * time.Millisecond)
			continue
		}

		if !s.track(raw) {
			_ = raw.Close()
			continue
		}
		s.wg.Add(1)
		go s.handle(ctx, raw)
	}
}

// track records an open connection. Returns false once shutdown has begun.
func (s *Server) track(c net.Conn) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closing {
		return false
	}
	s.conns[c] = struct{}{}
	return true
}

func (s *Server) untrack(c net.Conn) {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.conns, c)
}

// closeAll closes every tracked connection and refuses new ones.
func (s *Server) closeAll() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.closing = true
	for c := range s.conns {
		_ = c.Close()
	}
}

// handle runs one connection from Connecting to Closed.
func (s *Server) handle(ctx context.Context, raw net.Conn) {
	defer s.wg.Done()

	c := &client{Conn: raw, timeout: s.writeTimeout}
	log := s.logger.With("session", newSessionID(), "remote", raw.RemoteAddr().String())

	defer func() {
		if r := recover(); r != nil {
			log.Error("session panicked", "panic", r)
			s.leave(c, log)
		}
		_ = raw.Close()
		s.untrack(raw)
	}()

	scanner := bufio.NewScanner(raw)
	scanner.Buffer(make([]byte, 0, 4096), MaxFrameSize)

	// Connecting
	if err := c.writeLine([]byte(Prompt)); err != nil {
		log.Debug("prompt failed", "error", err)
		return
	}
	if !scanner.Scan() {
		log.Debug("client left before sending a nickname", "error", scanner.Err())
		return
	}
	nick := cleanNickname(scanner.Text())
	s.hub.Register(c, nick)
	log = log.With("nickname", nick)
	log.Info("client joined")
	s.announce(nick + " joined the chat")

	// Active
	for scanner.Scan() {
		frame := strings.TrimSpace(norm.NFC.String(scanner.Text()))
		if frame == "" {
			continue
		}
		if strings.EqualFold(frame, UsersCommand) {
			line := "Connected users: " + strings.Join(s.hub.Nicknames(), ", ")
			if err := c.writeLine([]byte(line)); err != nil {
				log.Info("users reply failed", "error", err)
				break
			}
			continue
		}
		s.chat(ctx, c, nick, frame, log)
	}
	if err := scanner.Err(); err != nil {
		log.Info("session transport error", "error", err)
	}

	// Closed
	s.leave(c, log)
}

// chat handles one chat frame from an Active session.
func (s *Server) chat(ctx context.Context, c *client, nick, text string, log *slog.Logger) {
	msg := chat.Message{
		User:      nick,
		Text:      text,
		Lamport:   s.clock.TickLocal(),
		Origin:    s.nodeID,
		Timestamp: chat.Now(s.now()),
	}

	if _, err := s.store.InsertIfAbsent(ctx, msg); err != nil {
		log.Error("failed to persist message", "lamport", msg.Lamport, "error", err)
	}

	line, err := chat.EncodeLine(chat.MessageEnvelope(msg))
	if err != nil {
		log.Error("failed to encode message", "error", err)
	} else {
		s.hub.Broadcast(line, c)
	}

	log.Debug("message accepted", "lamport", msg.Lamport)

	if s.pusher != nil {
		s.pusher.Push(ctx, msg)
	}
}

// leave unregisters c and announces the departure if it was registered.
func (s *Server) leave(c *client, log *slog.Logger) {
	nick, ok := s.hub.Unregister(c)
	if !ok {
		return
	}
	log.Info("client left")
	s.announce(nick + " left the chat")
}

// announce broadcasts a system notice to every client.
func (s *Server) announce(notice string) {
	line, err := chat.EncodeLine(chat.SystemEnvelope(notice, chat.Now(s.now())))
	if err != nil {
		s.logger.Error("failed to encode notice", "error", err)
		return
	}
	s.hub.Broadcast(line, nil)
}

// client wraps a connection so every write carries a deadline.
// A stalled client therefore fails its write and is evicted by the hub.
type client struct {
	net.Conn
	timeout time.Duration
}

func (c *client) Write(p []byte) (int, error) {
	_ = c.Conn.SetWriteDeadline(time.Now().Add(c.timeout))
	return c.Conn.Write(p)
}

func (c *client) writeLine(p []byte) error {
	_, err := c.Write(append(p, '\n'))
	return err
}

func cleanNickname(raw string) string {
	nick := strings.TrimSpace(norm.NFC.String(raw))
	if nick == "" {
		return DefaultNickname
	}
	return nick
}

func newSessionID() string {
	id, err := uuid.NewV7()
	if err != nil {
		return uuid.NewString()
	}
	return id.String()
}
