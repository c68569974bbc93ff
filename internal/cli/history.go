package cli

import (
	"errors"
	"fmt"
	"hash/fnv"
	"io"
	"os"

	"github.com/fatih/color"
	"github.com/mattn/go-isatty"
	"github.com/spf13/cobra"

	"github.com/roach88/pairchat/internal/chat"
	"github.com/roach88/pairchat/internal/store"
)

// HistoryOptions holds flags for the history command.
type HistoryOptions struct {
	*RootOptions
	Database string
	User     string
}

// NewHistoryCommand creates the history command.
func NewHistoryCommand(rootOpts *RootOptions) *cobra.Command {
	opts := &HistoryOptions{RootOptions: rootOpts}

	cmd := &cobra.Command{
		Use:   "history",
		Short: "Print the local message log",
		Long: `Print the messages persisted by a node, in total order.

Example:
  pairchat history --db chat_A.db
  pairchat history --db chat_A.db --user juan --format json`,
		Args:          cobra.NoArgs,
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runHistory(opts, cmd)
		},
	}

	cmd.Flags().StringVar(&opts.Database, "db", "", "path to SQLite database (required)")
	cmd.Flags().StringVar(&opts.User, "user", "", "only show messages from this user")
	_ = cmd.MarkFlagRequired("db")

	return cmd
}

func runHistory(opts *HistoryOptions, cmd *cobra.Command) error {
	formatter := &OutputFormatter{
		Format:    opts.Format,
		Writer:    cmd.OutOrStdout(),
		ErrWriter: cmd.ErrOrStderr(),
		Verbose:   opts.Verbose,
	}

	// Opening would create an empty database, so check first.
	if _, err := os.Stat(opts.Database); err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return formatter.Fail(ExitCommandError, ErrCodeNotFound, fmt.Sprintf("database not found: %s", opts.Database), nil)
		}
		return formatter.Fail(ExitCommandError, ErrCodeStore, "cannot access database", err)
	}

	st, err := store.Open(opts.Database)
	if err != nil {
		return formatter.Fail(ExitCommandError, ErrCodeStore, "failed to open database", err)
	}
	defer st.Close()

	msgs, err := st.ListMessages(cmd.Context(), opts.User)
	if err != nil {
		return formatter.Fail(ExitFailure, ErrCodeStore, "failed to read history", err)
	}
	formatter.VerboseLog("Read %d message(s) from %s", len(msgs), opts.Database)

	if formatter.Format == "json" {
		return formatter.Success(msgs)
	}
	printHistory(formatter.Writer, msgs)
	return nil
}

var nickColors = []color.Attribute{
	color.FgCyan, color.FgGreen, color.FgYellow, color.FgMagenta, color.FgBlue, color.FgRed,
}

// printHistory writes one line per message. Nicknames are colored only
// when w is a terminal.
func printHistory(w io.Writer, msgs []chat.Message) {
	tty := isTerminal(w)
	dim := color.New(color.Faint)
	if !tty {
		dim.DisableColor()
	}

	if len(msgs) == 0 {
		fmt.Fprintln(w, "No messages.")
		return
	}
	for _, m := range msgs {
		nick := color.New(nickColor(m.User), color.Bold)
		if !tty {
			nick.DisableColor()
		}
		fmt.Fprintf(w, "%s %s %s: %s\n",
			dim.Sprintf("[%d %s]", m.Lamport, m.Origin),
			dim.Sprint(m.Timestamp),
			nick.Sprint(m.User),
			m.Text,
		)
	}
}

func nickColor(user string) color.Attribute {
	h := fnv.New32a()
	_, _ = h.Write([]byte(user))
	return nickColors[h.Sum32()%uint32(len(nickColors))]
}

func isTerminal(w io.Writer) bool {
	f, ok := w.(*os.File)
	if !ok {
		return false
	}
	return isatty.IsTerminal(f.Fd()) || isatty.IsCygwinTerminal(f.Fd())
}
