package cli

import (
	"bufio"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/roach88/pairchat/internal/chat"
	"github.com/roach88/pairchat/internal/config"
)

type runningNode struct {
	node     *Node
	clientLn net.Listener
	done     chan error
}

func listenLoopback(t *testing.T) net.Listener {
	t.Helper()
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	return ln
}

func nodeConfig(t *testing.T, id, peerURL string) *config.Config {
	t.Helper()
	body := fmt.Sprintf(`
server_id: %s
peer_url: %s
db_file: %s
heartbeat_interval: 20ms
sync_interval: 50ms
startup_delay: 1ms
push_timeout: 500ms
request_timeout: 1s
`, id, peerURL, filepath.Join(t.TempDir(), "chat_"+id+".db"))
	cfg, err := config.Decode(strings.NewReader(body))
	require.NoError(t, err)
	require.NoError(t, cfg.Validate())
	return cfg
}

// startPair runs nodes A and B against each other on loopback listeners.
func startPair(t *testing.T) (a, b *runningNode) {
	t.Helper()
	peerA, peerB := listenLoopback(t), listenLoopback(t)

	ctx, cancel := context.WithCancel(context.Background())
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))

	start := func(id string, peerLn net.Listener, peerURL string) *runningNode {
		node, err := NewNode(ctx, nodeConfig(t, id, peerURL), logger)
		require.NoError(t, err)
		rn := &runningNode{node: node, clientLn: listenLoopback(t), done: make(chan error, 1)}
		go func() { rn.done <- node.Run(ctx, rn.clientLn, peerLn) }()
		return rn
	}
	a = start("A", peerA, "http://"+peerB.Addr().String())
	b = start("B", peerB, "http://"+peerA.Addr().String())

	t.Cleanup(func() {
		cancel()
		for _, rn := range []*runningNode{a, b} {
			select {
			case err := <-rn.done:
				assert.NoError(t, err)
			case <-time.After(10 * time.Second):
				t.Error("node did not stop")
			}
			assert.NoError(t, rn.node.Close())
		}
	})
	return a, b
}

type chatClient struct {
	conn net.Conn
	r    *bufio.Reader
}

func join(t *testing.T, rn *runningNode, nick string) *chatClient {
	t.Helper()
	conn, err := net.Dial("tcp", rn.clientLn.Addr().String())
	require.NoError(t, err)
	t.Cleanup(func() { conn.Close() })

	c := &chatClient{conn: conn, r: bufio.NewReader(conn)}
	assert.Equal(t, "Enter your nickname:", c.readLine(t))
	c.send(t, nick)
	c.waitFor(t, func(env chat.Envelope) bool {
		return env.Type == chat.EnvelopeSystem && env.Notice == nick+" joined the chat"
	})
	return c
}

func (c *chatClient) send(t *testing.T, line string) {
	t.Helper()
	_, err := c.conn.Write([]byte(line + "\n"))
	require.NoError(t, err)
}

func (c *chatClient) readLine(t *testing.T) string {
	t.Helper()
	require.NoError(t, c.conn.SetReadDeadline(time.Now().Add(5*time.Second)))
	line, err := c.r.ReadString('\n')
	require.NoError(t, err)
	return strings.TrimRight(line, "\n")
}

func (c *chatClient) waitFor(t *testing.T, match func(chat.Envelope) bool) chat.Envelope {
	t.Helper()
	for {
		var env chat.Envelope
		line := c.readLine(t)
		if json.Unmarshal([]byte(line), &env) == nil && match(env) {
			return env
		}
	}
}

func TestNode_MessageReachesPeerClients(t *testing.T) {
	a, b := startPair(t)

	require.Eventually(t, func() bool { return a.node.replicator.PeerUp() && b.node.replicator.PeerUp() },
		5*time.Second, 10*time.Millisecond)

	juan := join(t, a, "juan")
	ana := join(t, b, "ana")

	juan.send(t, "hola")
	env := ana.waitFor(t, func(env chat.Envelope) bool { return env.Type == chat.EnvelopeMessage })
	assert.Equal(t, "juan", env.User)
	assert.Equal(t, "hola", env.Message)
	assert.Equal(t, "A", env.ServerID)
	assert.EqualValues(t, 1, env.Lamport)

	ana.send(t, "hi juan")
	env = juan.waitFor(t, func(env chat.Envelope) bool { return env.Type == chat.EnvelopeMessage })
	assert.Equal(t, "ana", env.User)
	assert.Equal(t, "B", env.ServerID)
	assert.Greater(t, env.Lamport, int64(1))

	ctx := context.Background()
	require.Eventually(t, func() bool {
		ha, errA := a.node.store.FullHistory(ctx)
		hb, errB := b.node.store.FullHistory(ctx)
		return errA == nil && errB == nil && len(ha) == 2 && assert.ObjectsAreEqual(ha, hb)
	}, 5*time.Second, 20*time.Millisecond)
}

func TestNode_UsersCommand(t *testing.T) {
	a, _ := startPair(t)

	juan := join(t, a, "juan")
	join(t, a, "ana")

	juan.send(t, "/USERS")
	line := juan.readUntilPrefix(t, "Connected users: ")
	assert.Equal(t, "Connected users: ana, juan", line)
}

func (c *chatClient) readUntilPrefix(t *testing.T, prefix string) string {
	t.Helper()
	for {
		line := c.readLine(t)
		if strings.HasPrefix(line, prefix) {
			return line
		}
	}
}

func TestNode_ClockSeededFromStore(t *testing.T) {
	cfg := nodeConfig(t, "A", "http://127.0.0.1:1")
	ctx := context.Background()

	node, err := NewNode(ctx, cfg, nil)
	require.NoError(t, err)
	_, err = node.store.InsertIfAbsent(ctx, chat.Message{User: "x", Text: "y", Lamport: 41, Origin: "B", Timestamp: "t"})
	require.NoError(t, err)
	require.NoError(t, node.Close())

	node, err = NewNode(ctx, cfg, nil)
	require.NoError(t, err)
	defer node.Close()
	assert.Equal(t, int64(42), node.clock.TickLocal())
}

func TestNode_MissingTLSKeyPair(t *testing.T) {
	cfg := nodeConfig(t, "A", "http://127.0.0.1:1")
	cfg.TLSCert = filepath.Join(t.TempDir(), "missing.crt")
	cfg.TLSKey = filepath.Join(t.TempDir(), "missing.key")

	_, err := NewNode(context.Background(), cfg, nil)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "load tls key pair")
}
