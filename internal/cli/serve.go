package cli

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/roach88/pairchat/internal/config"
)

// ServeOptions holds flags for the serve command.
type ServeOptions struct {
	*RootOptions
	ConfigFile string
	Overrides  config.Overrides

	// LogWriter receives structured logs. Defaults to stderr.
	LogWriter io.Writer
}

// NewServeCommand creates the serve command.
func NewServeCommand(rootOpts *RootOptions) *cobra.Command {
	opts := &ServeOptions{RootOptions: rootOpts}

	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Run a chat node",
		Long: `Run one chat node: accept client sessions, serve the peer API and
replicate with the configured peer until interrupted.

Example:
  pairchat serve --config node-a.yaml
  pairchat serve --config node-b.yaml --listen :9001 --peer-listen :5001 --peer http://127.0.0.1:5000`,
		Args:          cobra.NoArgs,
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runServe(opts, cmd)
		},
	}

	cmd.Flags().StringVar(&opts.ConfigFile, "config", "", "path to node config file (required)")
	cmd.Flags().StringVar(&opts.Overrides.DBFile, "db", "", "override db_file")
	cmd.Flags().StringVar(&opts.Overrides.Listen, "listen", "", "override listen")
	cmd.Flags().StringVar(&opts.Overrides.PeerListen, "peer-listen", "", "override peer_listen")
	cmd.Flags().StringVar(&opts.Overrides.PeerURL, "peer", "", "override peer_url")
	_ = cmd.MarkFlagRequired("config")

	return cmd
}

func runServe(opts *ServeOptions, cmd *cobra.Command) error {
	cfg, err := config.Load(opts.ConfigFile, opts.Overrides)
	if err != nil {
		return WrapExitError(ExitCommandError, "failed to load config", err)
	}

	// Configure logging based on verbose flag or config
	logLevel := slog.LevelInfo
	if opts.Verbose || cfg.Debug {
		logLevel = slog.LevelDebug
	}
	w := opts.LogWriter
	if w == nil {
		w = os.Stderr
	}
	logger := slog.New(slog.NewTextHandler(w, &slog.HandlerOptions{Level: logLevel}))
	slog.SetDefault(logger)

	// Use command's context if available (for testing), otherwise create one
	parentCtx := cmd.Context()
	if parentCtx == nil {
		parentCtx = context.Background()
	}
	ctx, cancel := context.WithCancel(parentCtx)
	defer cancel()

	node, err := NewNode(ctx, cfg, logger)
	if err != nil {
		return WrapExitError(ExitCommandError, "failed to start node", err)
	}
	defer func() {
		if closeErr := node.Close(); closeErr != nil {
			logger.Error("error closing database", "error", closeErr)
		}
	}()

	clientLn, peerLn, err := node.Listen()
	if err != nil {
		return WrapExitError(ExitCommandError, "failed to bind listeners", err)
	}

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, os.Interrupt, syscall.SIGTERM)
	defer signal.Stop(sigChan)

	go func() {
		select {
		case sig := <-sigChan:
			logger.Info("received signal, shutting down", "signal", sig)
			cancel()
		case <-ctx.Done():
		}
	}()

	fmt.Fprintf(cmd.OutOrStdout(), "Node %s started. Clients on %s, peer API on %s.\n",
		cfg.ServerID, clientLn.Addr(), peerLn.Addr())
	fmt.Fprintln(cmd.OutOrStdout(), "Press Ctrl-C to stop.")

	if err := node.Run(ctx, clientLn, peerLn); err != nil {
		return WrapExitError(ExitFailure, "node error", err)
	}

	logger.Info("node stopped gracefully")
	return nil
}
