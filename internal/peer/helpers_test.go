package peer

import (
	"context"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/gorilla/mux"
	"github.com/stretchr/testify/require"

	"github.com/roach88/pairchat/internal/chat"
	"github.com/roach88/pairchat/internal/clock"
	"github.com/roach88/pairchat/internal/hub"
	"github.com/roach88/pairchat/internal/store"
	"github.com/roach88/pairchat/internal/testutil"
)

const testTimestamp = "2024-01-01T00:00:00Z"

var testTime = time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)

func discardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

// gate fails every request with 503 while down, simulating a partition.
type gate struct {
	down atomic.Bool
	next http.Handler
}

func (g *gate) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	if g.down.Load() {
		http.Error(w, "partitioned", http.StatusServiceUnavailable)
		return
	}
	g.next.ServeHTTP(w, r)
}

// testNode is one half of an in-process node pair.
type testNode struct {
	id     string
	store  *store.Store
	clock  *clock.Lamport
	hub    *hub.Hub
	client *testutil.Conn // a local chat client attached to the hub
	gate   *gate
	server *httptest.Server
	repl   *Replicator
}

func newTestNode(t *testing.T, id string) *testNode {
	t.Helper()
	st, err := store.Open(filepath.Join(t.TempDir(), id+".db"))
	require.NoError(t, err)
	t.Cleanup(func() { st.Close() })

	n := &testNode{
		id:     id,
		store:  st,
		clock:  clock.New(),
		hub:    hub.New(discardLogger()),
		client: testutil.NewConn(),
	}
	n.hub.Register(n.client, "watcher-"+id)

	r := mux.NewRouter()
	NewHandler(HandlerConfig{
		NodeID: id,
		Clock:  n.clock,
		Store:  st,
		Hub:    n.hub,
		Logger: discardLogger(),
		Now:    testutil.NewFixedClock(testTime).Now,
	}).Routes(r)

	n.gate = &gate{next: r}
	n.server = httptest.NewServer(n.gate)
	t.Cleanup(n.server.Close)
	return n
}

// connect points a's replicator at b.
func connect(a, b *testNode, opts Options) {
	a.repl = New(Config{
		NodeID:  a.id,
		Clock:   a.clock,
		Store:   a.store,
		Hub:     a.hub,
		Peer:    NewClient(b.server.URL, time.Second),
		Options: opts,
		Logger:  discardLogger(),
	})
}

func newPair(t *testing.T, opts Options) (*testNode, *testNode) {
	t.Helper()
	a, b := newTestNode(t, "A"), newTestNode(t, "B")
	connect(a, b, opts)
	connect(b, a, opts)
	return a, b
}

// local mints and persists a message the way a session does.
func (n *testNode) local(t *testing.T, user, text string) chat.Message {
	t.Helper()
	msg := chat.Message{User: user, Text: text, Lamport: n.clock.TickLocal(), Origin: n.id, Timestamp: testTimestamp}
	inserted, err := n.store.InsertIfAbsent(context.Background(), msg)
	require.NoError(t, err)
	require.True(t, inserted)
	return msg
}

func (n *testNode) history(t *testing.T) []chat.Message {
	t.Helper()
	h, err := n.store.FullHistory(context.Background())
	require.NoError(t, err)
	return h
}

func positions(msgs []chat.Message) []chat.Position {
	out := make([]chat.Position, len(msgs))
	for i, m := range msgs {
		out[i] = m.Position()
	}
	return out
}

// fakePeer is a scripted Peer.
type fakePeer struct {
	mu           sync.Mutex
	heartbeatErr error
	syncErr      error
	pushErr      error
	entries      []chat.Message
	cursors      []chat.Position
	pushes       []chat.Message
}

func (p *fakePeer) Heartbeat(context.Context) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.heartbeatErr
}

func (p *fakePeer) Sync(_ context.Context, cursor chat.Position) ([]chat.Message, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.cursors = append(p.cursors, cursor)
	if p.syncErr != nil {
		return nil, p.syncErr
	}
	return p.entries, nil
}

func (p *fakePeer) Push(_ context.Context, msg chat.Message) (chat.PushResult, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.pushes = append(p.pushes, msg)
	if p.pushErr != nil {
		return chat.PushResult{}, p.pushErr
	}
	return chat.PushResult{Status: chat.PushStored, Inserted: true}, nil
}

func (p *fakePeer) pushCount() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return len(p.pushes)
}

func (p *fakePeer) seenCursors() []chat.Position {
	p.mu.Lock()
	defer p.mu.Unlock()
	return append([]chat.Position(nil), p.cursors...)
}

func newFakeReplicator(t *testing.T, peer Peer, opts Options) (*Replicator, *store.Store, *testutil.Conn, *clock.Lamport) {
	t.Helper()
	st, err := store.Open(filepath.Join(t.TempDir(), "fake.db"))
	require.NoError(t, err)
	t.Cleanup(func() { st.Close() })

	h := hub.New(discardLogger())
	conn := testutil.NewConn()
	h.Register(conn, "watcher")
	clk := clock.New()

	r := New(Config{NodeID: "A", Clock: clk, Store: st, Hub: h, Peer: peer, Options: opts, Logger: discardLogger()})
	return r, st, conn, clk
}
