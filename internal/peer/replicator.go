package peer

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/roach88/pairchat/internal/chat"
	"github.com/roach88/pairchat/internal/clock"
)

// Default loop timings.
const (
	DefaultHeartbeatInterval = 2 * time.Second
	DefaultSyncInterval      = 5 * time.Second
	DefaultStartupDelay      = 1 * time.Second
	DefaultPushTimeout       = 2 * time.Second
	DefaultFullSyncEvery     = 12
)

// Peer is the remote end of the replication RPC. *Client satisfies it.
type Peer interface {
	Heartbeat(ctx context.Context) error
	Sync(ctx context.Context, cursor chat.Position) ([]chat.Message, error)
	Push(ctx context.Context, msg chat.Message) (chat.PushResult, error)
}

// Options tunes the replicator loops. Zero fields take the defaults,
// except FullSyncEvery where a negative value disables periodic full pulls.
type Options struct {
	HeartbeatInterval time.Duration
	SyncInterval      time.Duration
	StartupDelay      time.Duration
	PushTimeout       time.Duration
	FullSyncEvery     int
}

func (o Options) withDefaults() Options {
	if o.HeartbeatInterval <= 0 {
		o.HeartbeatInterval = DefaultHeartbeatInterval
	}
	if o.SyncInterval <= 0 {
		o.SyncInterval = DefaultSyncInterval
	}
	if o.StartupDelay < 0 {
		o.StartupDelay = 0
	}
	if o.PushTimeout <= 0 {
		o.PushTimeout = DefaultPushTimeout
	}
	if o.FullSyncEvery == 0 {
		o.FullSyncEvery = DefaultFullSyncEvery
	}
	return o
}

// Config wires a Replicator.
type Config struct {
	NodeID  string
	Clock   *clock.Lamport
	Store   Store
	Hub     Broadcaster
	Peer    Peer
	Options Options
	Logger  *slog.Logger
}

// Replicator keeps this node's log converged with its peer.
type Replicator struct {
	nodeID string
	clock  *clock.Lamport
	store  Store
	hub    Broadcaster
	peer   Peer
	opts   Options
	logger *slog.Logger

	live     Liveness
	fullSync atomic.Bool
	cycles   atomic.Int64
}

// New creates a Replicator. The peer starts out down until the first
// heartbeat succeeds, and the first sync cycle is a full pull.
func New(cfg Config) *Replicator {
	r := &Replicator{
		nodeID: cfg.NodeID,
		clock:  cfg.Clock,
		store:  cfg.Store,
		hub:    cfg.Hub,
		peer:   cfg.Peer,
		opts:   cfg.Options.withDefaults(),
		logger: cfg.Logger,
	}
	if r.logger == nil {
		r.logger = slog.Default()
	}
	r.fullSync.Store(true)
	return r
}

// PeerUp reports the current liveness flag.
func (r *Replicator) PeerUp() bool {
	return r.live.Up()
}

// Run starts the heartbeat and sync loops and blocks until ctx is
// cancelled. Neither loop ever stops on error.
func (r *Replicator) Run(ctx context.Context) error {
	r.logger.Info("replicator starting",
		"node", r.nodeID,
		"heartbeat_interval", r.opts.HeartbeatInterval,
		"sync_interval", r.opts.SyncInterval,
	)

	var wg sync.WaitGroup
	wg.Add(2)
	go func() {
		defer wg.Done()
		r.loop(ctx, "heartbeat", r.opts.HeartbeatInterval, func() { r.Heartbeat(ctx) })
	}()
	go func() {
		defer wg.Done()
		r.loop(ctx, "sync", r.opts.SyncInterval, func() {
			if _, err := r.SyncOnce(ctx); err != nil && !errors.Is(err, ErrPeerDown) && ctx.Err() == nil {
				r.logger.Warn("sync cycle failed", "error", err)
			}
		})
	}()
	wg.Wait()

	r.logger.Info("replicator stopped")
	return nil
}

// loop waits the startup delay, then runs fn every interval until ctx is
// done. A panicking iteration is logged and the loop carries on.
func (r *Replicator) loop(ctx context.Context, name string, interval time.Duration, fn func()) {
	if !sleep(ctx, r.opts.StartupDelay) {
		return
	}
	for {
		r.guard(name, fn)
		if !sleep(ctx, interval) {
			return
		}
	}
}

func (r *Replicator) guard(name string, fn func()) {
	defer func() {
		if p := recover(); p != nil {
			r.logger.Error("replication iteration panicked", "loop", name, "panic", p)
		}
	}()
	fn()
}

// Heartbeat runs one liveness probe and updates the flag.
// Returns the new liveness value.
func (r *Replicator) Heartbeat(ctx context.Context) bool {
	if err := r.peer.Heartbeat(ctx); err != nil {
		r.markDown("heartbeat", err)
		return false
	}
	r.markUp()
	return true
}

// Push sends a locally produced message to the peer. It never retries:
// a skipped or failed push is left to anti-entropy.
func (r *Replicator) Push(ctx context.Context, msg chat.Message) {
	if !r.live.Up() {
		r.fullSync.Store(true)
		r.logger.Debug("push skipped: peer down", "lamport", msg.Lamport)
		return
	}

	ctx, cancel := context.WithTimeout(ctx, r.opts.PushTimeout)
	defer cancel()

	res, err := r.peer.Push(ctx, msg)
	if err != nil {
		r.fullSync.Store(true)
		r.markDown("push", err)
		return
	}
	r.logger.Debug("push delivered", "lamport", msg.Lamport, "status", res.Status)
}

// SyncOnce runs one anti-entropy cycle and returns how many entries were
// newly merged. Returns ErrPeerDown without contacting the peer when the
// liveness flag is down.
func (r *Replicator) SyncOnce(ctx context.Context) (int, error) {
	if !r.live.Up() {
		return 0, ErrPeerDown
	}

	cycle := r.cycles.Add(1)
	full := r.fullSync.Swap(false)
	if every := int64(r.opts.FullSyncEvery); every > 0 && cycle%every == 0 {
		full = true
	}

	var cursor chat.Position
	if !full {
		pos, err := r.store.LastPosition(ctx)
		if err != nil {
			return 0, err
		}
		cursor = pos
	}

	entries, err := r.peer.Sync(ctx, cursor)
	if err != nil {
		if full {
			r.fullSync.Store(true)
		}
		r.markDown("sync", err)
		return 0, err
	}

	merged := 0
	for _, m := range entries {
		if err := m.CheckReplicated(); err != nil {
			r.logger.Warn("skipping sync entry", "position", m.Position().String(), "error", err)
			continue
		}
		r.clock.Observe(m.Lamport)
		inserted, err := r.store.InsertIfAbsent(ctx, m)
		if err != nil {
			r.logger.Error("failed to merge entry", "position", m.Position().String(), "error", err)
			continue
		}
		if inserted {
			merged++
			deliver(r.hub, m, r.logger)
		}
	}

	if merged > 0 {
		r.logger.Info("sync merged entries",
			"merged", merged,
			"received", len(entries),
			"full", full,
			"cursor", cursor.String(),
		)
	}
	return merged, nil
}

func (r *Replicator) markUp() {
	if !r.live.Set(true) {
		// Anything missed while down may sort below our cursor.
		r.fullSync.Store(true)
		r.logger.Info("peer is up")
	}
}

func (r *Replicator) markDown(op string, err error) {
	if r.live.Set(false) {
		r.logger.Warn("peer is down", "op", op, "error", err)
		return
	}
	r.logger.Debug("peer still down", "op", op, "error", err)
}

// sleep waits d or until ctx is done. Returns false if ctx ended first.
func sleep(ctx context.Context, d time.Duration) bool {
	if d <= 0 {
		return ctx.Err() == nil
	}
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return false
	case <-t.C:
		return true
	}
}
