package cli

import (
	"context"
	"crypto/tls"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/mux"

	"github.com/roach88/pairchat/internal/clock"
	"github.com/roach88/pairchat/internal/config"
	"github.com/roach88/pairchat/internal/hub"
	"github.com/roach88/pairchat/internal/peer"
	"github.com/roach88/pairchat/internal/report"
	"github.com/roach88/pairchat/internal/session"
	"github.com/roach88/pairchat/internal/store"
)

const shutdownTimeout = 5 * time.Second

// Node is one fully wired chat server: store, clock, hub, client sessions,
// peer RPC and replication.
type Node struct {
	cfg    *config.Config
	logger *slog.Logger

	store      *store.Store
	clock      *clock.Lamport
	hub        *hub.Hub
	replicator *peer.Replicator
	sessions   *session.Server
	router     *mux.Router
	tlsConfig  *tls.Config
}

// NewNode opens the store, seeds the clock from the persisted maximum and
// wires every component. The caller must Close the node.
func NewNode(ctx context.Context, cfg *config.Config, logger *slog.Logger) (*Node, error) {
	if logger == nil {
		logger = slog.Default()
	}
	logger = logger.With("node", cfg.ServerID)

	var tlsConfig *tls.Config
	if cfg.TLSEnabled() {
		cert, err := tls.LoadX509KeyPair(cfg.TLSCert, cfg.TLSKey)
		if err != nil {
			return nil, fmt.Errorf("load tls key pair: %w", err)
		}
		tlsConfig = &tls.Config{
			Certificates: []tls.Certificate{cert},
			MinVersion:   tls.VersionTLS12,
		}
	}

	logger.Info("opening database", "path", cfg.DBFile)
	st, err := store.Open(cfg.DBFile)
	if err != nil {
		return nil, err
	}
	maxLamport, err := st.MaxLamport(ctx)
	if err != nil {
		_ = st.Close()
		return nil, err
	}
	logger.Info("database ready", "lamport", maxLamport)

	clk := clock.NewAt(maxLamport)
	h := hub.New(logger)

	fullSyncEvery := cfg.FullSyncCycles()
	if fullSyncEvery == 0 {
		fullSyncEvery = -1
	}
	repl := peer.New(peer.Config{
		NodeID: cfg.ServerID,
		Clock:  clk,
		Store:  st,
		Hub:    h,
		Peer:   peer.NewClient(cfg.PeerURL, cfg.RequestTimeout),
		Options: peer.Options{
			HeartbeatInterval: cfg.HeartbeatInterval,
			SyncInterval:      cfg.SyncInterval,
			StartupDelay:      cfg.StartupWait(),
			PushTimeout:       cfg.PushTimeout,
			FullSyncEvery:     fullSyncEvery,
		},
		Logger: logger,
	})

	router := mux.NewRouter()
	peer.NewHandler(peer.HandlerConfig{
		NodeID: cfg.ServerID,
		Clock:  clk,
		Store:  st,
		Hub:    h,
		Logger: logger,
	}).Routes(router)
	if cfg.APIToken != "" {
		report.New(st, cfg.APIToken, logger).Routes(router.PathPrefix("/api").Subrouter())
	} else {
		logger.Info("report API disabled: no api_token configured")
	}

	sessions := session.New(session.Config{
		NodeID: cfg.ServerID,
		Clock:  clk,
		Store:  st,
		Hub:    h,
		Pusher: repl,
		Logger: logger,
	})

	return &Node{
		cfg:        cfg,
		logger:     logger,
		store:      st,
		clock:      clk,
		hub:        h,
		replicator: repl,
		sessions:   sessions,
		router:     router,
		tlsConfig:  tlsConfig,
	}, nil
}

// Listen binds the client and peer listeners named in the config.
func (n *Node) Listen() (clientLn, peerLn net.Listener, err error) {
	clientLn, err = net.Listen("tcp", n.cfg.Listen)
	if err != nil {
		return nil, nil, fmt.Errorf("listen clients on %s: %w", n.cfg.Listen, err)
	}
	peerLn, err = net.Listen("tcp", n.cfg.PeerListen)
	if err != nil {
		_ = clientLn.Close()
		return nil, nil, fmt.Errorf("listen peer on %s: %w", n.cfg.PeerListen, err)
	}
	return clientLn, peerLn, nil
}

// Run serves client sessions on clientLn and peer RPC on peerLn, and runs
// the replication loops, until ctx is cancelled or the peer server fails.
func (n *Node) Run(ctx context.Context, clientLn, peerLn net.Listener) error {
	if n.tlsConfig != nil {
		clientLn = tls.NewListener(clientLn, n.tlsConfig)
	}

	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	httpSrv := &http.Server{
		Handler:           n.router,
		ReadHeaderTimeout: n.cfg.RequestTimeout,
	}

	var (
		wg      sync.WaitGroup
		httpErr error
	)
	wg.Add(3)
	go func() {
		defer wg.Done()
		n.logger.Info("peer API listening", "addr", peerLn.Addr().String())
		if err := httpSrv.Serve(peerLn); err != nil && !errors.Is(err, http.ErrServerClosed) {
			httpErr = err
			cancel()
		}
	}()
	go func() {
		defer wg.Done()
		_ = n.sessions.Serve(ctx, clientLn)
	}()
	go func() {
		defer wg.Done()
		_ = n.replicator.Run(ctx)
	}()

	<-ctx.Done()
	shutdownCtx, stop := context.WithTimeout(context.Background(), shutdownTimeout)
	defer stop()
	if err := httpSrv.Shutdown(shutdownCtx); err != nil {
		n.logger.Warn("peer API shutdown", "error", err)
	}
	wg.Wait()

	if httpErr != nil {
		return fmt.Errorf("peer API: %w", httpErr)
	}
	return nil
}

// Close releases the store.
func (n *Node) Close() error {
	return n.store.Close()
}
