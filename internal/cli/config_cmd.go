package cli

import (
	"github.com/spf13/cobra"

	"github.com/roach88/pairchat/internal/config"
)

// ConfigOptions holds flags for the config subcommands.
type ConfigOptions struct {
	*RootOptions
	ConfigFile string
}

// NewConfigCommand creates the config command group.
func NewConfigCommand(rootOpts *RootOptions) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "config",
		Short: "Inspect node configuration",
	}
	cmd.AddCommand(newConfigCheckCommand(rootOpts))
	return cmd
}

func newConfigCheckCommand(rootOpts *RootOptions) *cobra.Command {
	opts := &ConfigOptions{RootOptions: rootOpts}

	cmd := &cobra.Command{
		Use:   "check",
		Short: "Validate a config file and print the resolved values",
		Long: `Validate a node config file against the schema and print the
configuration the node would run with, defaults and path resolution applied.

Example:
  pairchat config check --config node-a.yaml`,
		Args:          cobra.NoArgs,
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runConfigCheck(opts, cmd)
		},
	}

	cmd.Flags().StringVar(&opts.ConfigFile, "config", "", "path to node config file (required)")
	_ = cmd.MarkFlagRequired("config")

	return cmd
}

func runConfigCheck(opts *ConfigOptions, cmd *cobra.Command) error {
	formatter := &OutputFormatter{
		Format:    opts.Format,
		Writer:    cmd.OutOrStdout(),
		ErrWriter: cmd.ErrOrStderr(),
		Verbose:   opts.Verbose,
	}

	cfg, err := config.Load(opts.ConfigFile, config.Overrides{})
	if err != nil {
		return formatter.Fail(ExitCommandError, ErrCodeConfig, "invalid config", err)
	}

	if formatter.Format == "json" {
		return formatter.Success(map[string]any{
			"server_id":       cfg.ServerID,
			"listen":          cfg.Listen,
			"peer_listen":     cfg.PeerListen,
			"peer_url":        cfg.PeerURL,
			"db_file":         cfg.DBFile,
			"tls":             cfg.TLSEnabled(),
			"report_api":      cfg.APIToken != "",
			"full_sync_every": cfg.FullSyncCycles(),
		})
	}

	w := formatter.Writer
	if _, err := w.Write([]byte("✓ Config valid: " + opts.ConfigFile + "\n\n")); err != nil {
		return err
	}
	return cfg.Write(w)
}
