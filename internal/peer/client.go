package peer

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/roach88/pairchat/internal/chat"
)

// DefaultRequestTimeout bounds every peer request made by Client.
const DefaultRequestTimeout = 5 * time.Second

// maxErrorBody caps how much of a failed reply is kept for the error.
const maxErrorBody = 512

// Client calls the peer RPC endpoints served by Handler.
//
// Thread-safety: Client is safe for concurrent use.
type Client struct {
	baseURL string
	http    *http.Client
}

// NewClient creates a client for the peer at baseURL (e.g.
// "http://10.0.0.2:5000"). A non-positive timeout means
// DefaultRequestTimeout.
func NewClient(baseURL string, timeout time.Duration) *Client {
	if timeout <= 0 {
		timeout = DefaultRequestTimeout
	}
	return &Client{
		baseURL: strings.TrimRight(baseURL, "/"),
		http:    &http.Client{Timeout: timeout},
	}
}

// Heartbeat probes the peer. A nil error means the peer is alive.
func (c *Client) Heartbeat(ctx context.Context) error {
	var resp chat.HeartbeatResponse
	if err := c.do(ctx, "heartbeat", http.MethodGet, "/heartbeat", nil, &resp); err != nil {
		return err
	}
	if resp.Status != "alive" {
		return fmt.Errorf("peer heartbeat: unexpected status %q", resp.Status)
	}
	return nil
}

// Sync fetches every peer message strictly after cursor, or the full
// history for the zero cursor, in ascending total order.
func (c *Client) Sync(ctx context.Context, cursor chat.Position) ([]chat.Message, error) {
	q := url.Values{}
	q.Set("since_lamport", strconv.FormatInt(cursor.Lamport, 10))
	q.Set("since_server", cursor.Origin)

	var resp chat.SyncResponse
	if err := c.do(ctx, "sync", http.MethodGet, "/sync?"+q.Encode(), nil, &resp); err != nil {
		return nil, err
	}
	return resp.Messages, nil
}

// Push sends one locally originated message to the peer.
func (c *Client) Push(ctx context.Context, msg chat.Message) (chat.PushResult, error) {
	body, err := json.Marshal(msg)
	if err != nil {
		return chat.PushResult{}, fmt.Errorf("peer push: encode: %w", err)
	}

	var resp chat.PushResult
	if err := c.do(ctx, "push", http.MethodPost, "/push", body, &resp); err != nil {
		return chat.PushResult{}, err
	}
	return resp, nil
}

// History fetches the peer's full history.
func (c *Client) History(ctx context.Context) ([]chat.Message, error) {
	var resp chat.SyncResponse
	if err := c.do(ctx, "history", http.MethodGet, "/history", nil, &resp); err != nil {
		return nil, err
	}
	return resp.Messages, nil
}

func (c *Client) do(ctx context.Context, op, method, path string, body []byte, out any) error {
	var rd io.Reader
	if body != nil {
		rd = bytes.NewReader(body)
	}
	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, rd)
	if err != nil {
		return fmt.Errorf("peer %s: %w", op, err)
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	resp, err := c.http.Do(req)
	if err != nil {
		return fmt.Errorf("peer %s: %w", op, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		msg, _ := io.ReadAll(io.LimitReader(resp.Body, maxErrorBody))
		return &StatusError{Op: op, Code: resp.StatusCode, Body: strings.TrimSpace(string(msg))}
	}

	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("peer %s: decode: %w", op, err)
	}
	return nil
}
