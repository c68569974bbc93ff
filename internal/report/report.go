// Package report serves the read-only reporting API over the persisted log:
// message listing with an optional user filter, and aggregate statistics.
//
// Requests must carry "Authorization: Token <token>". The API never writes.
package report

import (
	"context"
	"crypto/subtle"
	"encoding/json"
	"log/slog"
	"net/http"

	"github.com/gorilla/mux"

	"github.com/roach88/pairchat/internal/chat"
	"github.com/roach88/pairchat/internal/store"
)

// Reader is the read-only query surface. *store.Store satisfies it.
type Reader interface {
	ListMessages(ctx context.Context, user string) ([]chat.Message, error)
	Stats(ctx context.Context) (store.Stats, error)
}

// API serves /messages and /stats.
type API struct {
	reader Reader
	token  string
	logger *slog.Logger
}

// New creates an API guarded by token. A nil logger means slog.Default().
func New(reader Reader, token string, logger *slog.Logger) *API {
	if logger == nil {
		logger = slog.Default()
	}
	return &API{reader: reader, token: token, logger: logger}
}

// Routes registers the endpoints on r, typically a "/api" subrouter.
func (a *API) Routes(r *mux.Router) {
	r.Use(a.authorize)
	r.HandleFunc("/messages", a.messages).Methods(http.MethodGet)
	r.HandleFunc("/stats", a.stats).Methods(http.MethodGet)
}

func (a *API) authorize(next http.Handler) http.Handler {
	want := []byte("Token " + a.token)
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		got := []byte(r.Header.Get("Authorization"))
		if a.token == "" || subtle.ConstantTimeCompare(got, want) != 1 {
			writeJSON(w, http.StatusUnauthorized, chat.ErrorResponse{Error: "Unauthorized"})
			return
		}
		next.ServeHTTP(w, r)
	})
}

func (a *API) messages(w http.ResponseWriter, r *http.Request) {
	msgs, err := a.reader.ListMessages(r.Context(), r.URL.Query().Get("user"))
	if err != nil {
		a.logger.Error("report list failed", "error", err)
		writeJSON(w, http.StatusInternalServerError, chat.ErrorResponse{Error: "query failed"})
		return
	}
	writeJSON(w, http.StatusOK, msgs)
}

func (a *API) stats(w http.ResponseWriter, r *http.Request) {
	st, err := a.reader.Stats(r.Context())
	if err != nil {
		a.logger.Error("report stats failed", "error", err)
		writeJSON(w, http.StatusInternalServerError, chat.ErrorResponse{Error: "query failed"})
		return
	}
	writeJSON(w, http.StatusOK, st)
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}
