package peer

import (
	"context"
	"encoding/json"
	"log/slog"
	"net/http"
	"strconv"
	"time"

	"github.com/gorilla/mux"

	"github.com/roach88/pairchat/internal/chat"
	"github.com/roach88/pairchat/internal/clock"
	"github.com/roach88/pairchat/internal/hub"
)

// maxPushBody caps the size of an inbound push.
const maxPushBody = 1 << 20

// Store is the slice of the message store used by replication.
// *store.Store satisfies it.
type Store interface {
	InsertIfAbsent(ctx context.Context, msg chat.Message) (bool, error)
	LastPosition(ctx context.Context) (chat.Position, error)
	Since(ctx context.Context, cursor chat.Position) ([]chat.Message, error)
	FullHistory(ctx context.Context) ([]chat.Message, error)
}

// Broadcaster delivers payloads to local clients. *hub.Hub satisfies it.
type Broadcaster interface {
	Broadcast(payload []byte, exclude hub.Conn) int
}

// HandlerConfig wires a Handler.
type HandlerConfig struct {
	NodeID string
	Clock  *clock.Lamport
	Store  Store
	Hub    Broadcaster
	Logger *slog.Logger

	// Now stamps pushes that arrive without a timestamp. Defaults to time.Now.
	Now func() time.Time
}

// Handler serves the peer RPC endpoints for this node.
type Handler struct {
	nodeID string
	clock  *clock.Lamport
	store  Store
	hub    Broadcaster
	logger *slog.Logger
	now    func() time.Time
}

// NewHandler creates a Handler from cfg.
func NewHandler(cfg HandlerConfig) *Handler {
	h := &Handler{
		nodeID: cfg.NodeID,
		clock:  cfg.Clock,
		store:  cfg.Store,
		hub:    cfg.Hub,
		logger: cfg.Logger,
		now:    cfg.Now,
	}
	if h.logger == nil {
		h.logger = slog.Default()
	}
	if h.now == nil {
		h.now = time.Now
	}
	return h
}

// Routes registers the peer endpoints on r.
func (h *Handler) Routes(r *mux.Router) {
	r.HandleFunc("/heartbeat", h.heartbeat).Methods(http.MethodGet)
	r.HandleFunc("/sync", h.sync).Methods(http.MethodGet)
	r.HandleFunc("/push", h.push).Methods(http.MethodPost)
	r.HandleFunc("/history", h.history).Methods(http.MethodGet)
}

func (h *Handler) heartbeat(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, chat.HeartbeatResponse{Status: "alive", ServerID: h.nodeID})
}

// sync answers GET /sync?since_lamport=N&since_server=S.
// Missing parameters mean the zero cursor, which returns the full history.
func (h *Handler) sync(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	cursor := chat.Position{Origin: q.Get("since_server")}
	if raw := q.Get("since_lamport"); raw != "" {
		l, err := strconv.ParseInt(raw, 10, 64)
		if err != nil || l < 0 {
			writeError(w, http.StatusBadRequest, "since_lamport must be a non-negative integer")
			return
		}
		cursor.Lamport = l
	}

	msgs, err := h.store.Since(r.Context(), cursor)
	if err != nil {
		h.logger.Error("sync query failed", "cursor", cursor.String(), "error", err)
		writeError(w, http.StatusInternalServerError, "sync failed")
		return
	}
	writeJSON(w, http.StatusOK, chat.SyncResponse{Messages: msgs})
}

// push stores a message minted by the peer, then delivers it locally if new.
func (h *Handler) push(w http.ResponseWriter, r *http.Request) {
	var msg chat.Message
	if err := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxPushBody)).Decode(&msg); err != nil {
		writeError(w, http.StatusBadRequest, "invalid push body")
		return
	}
	if err := msg.CheckReplicated(); err != nil {
		h.logger.Warn("push rejected", "position", msg.Position().String(), "error", err)
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	if msg.Timestamp == "" {
		msg.Timestamp = chat.Now(h.now())
	}

	local := h.clock.Observe(msg.Lamport)
	inserted, err := h.store.InsertIfAbsent(r.Context(), msg)
	if err != nil {
		h.logger.Error("push insert failed", "position", msg.Position().String(), "error", err)
		writeError(w, http.StatusInternalServerError, "push failed")
		return
	}

	status := chat.PushDuplicate
	if inserted {
		status = chat.PushStored
		deliver(h.hub, msg, h.logger)
	}
	h.logger.Debug("push received", "position", msg.Position().String(), "inserted", inserted)

	writeJSON(w, http.StatusOK, chat.PushResult{
		Status:       status,
		ServerID:     h.nodeID,
		LamportLocal: local,
		Inserted:     inserted,
	})
}

func (h *Handler) history(w http.ResponseWriter, r *http.Request) {
	msgs, err := h.store.FullHistory(r.Context())
	if err != nil {
		h.logger.Error("history query failed", "error", err)
		writeError(w, http.StatusInternalServerError, "history failed")
		return
	}
	writeJSON(w, http.StatusOK, chat.SyncResponse{Messages: msgs})
}

// deliver broadcasts a merged message to every local client.
func deliver(b Broadcaster, msg chat.Message, logger *slog.Logger) {
	line, err := chat.EncodeLine(chat.MessageEnvelope(msg))
	if err != nil {
		logger.Error("failed to encode merged message", "error", err)
		return
	}
	b.Broadcast(line, nil)
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, chat.ErrorResponse{Error: msg})
}
