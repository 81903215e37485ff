package cli

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/andreyvit/replog"
	"github.com/andreyvit/replog/history"
)

type HistoryOptions struct {
	*RootOptions
	Database string
	From     uint64
	Trim     uint64
}

// NewHistoryCommand creates the history command, which lists (and
// optionally trims) a bbolt history database.
func NewHistoryCommand(rootOpts *RootOptions) *cobra.Command {
	opts := &HistoryOptions{RootOptions: rootOpts}

	cmd := &cobra.Command{
		Use:   "history",
		Short: "List the changesets of a history database",
		Long: `List the changesets recorded in a bbolt history database.

Examples:
  replogctl history --db ./history.db
  replogctl history --db ./history.db --trim 100`,
		SilenceUsage: true,
		Args:         cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runHistory(opts, cmd)
		},
	}

	cmd.Flags().StringVar(&opts.Database, "db", "", "path to the history database (required)")
	_ = cmd.MarkFlagRequired("db")
	cmd.Flags().Uint64Var(&opts.From, "from", 0, "skip versions below this one")
	cmd.Flags().Uint64Var(&opts.Trim, "trim", 0, "delete versions below this one before listing")

	return cmd
}

func runHistory(opts *HistoryOptions, cmd *cobra.Command) error {
	h, err := history.OpenBolt(opts.Database, history.BoltOptions{})
	if err != nil {
		return err
	}
	defer h.Close()

	out := cmd.OutOrStdout()
	fmt.Fprintf(out, "history %s, latest version %d\n", h.Ident(), h.LatestVersion())
	if opts.Trim > 0 {
		n, err := h.Trim(replog.Version(opts.Trim))
		if err != nil {
			return fmt.Errorf("trimming: %w", err)
		}
		fmt.Fprintf(out, "trimmed %d changesets\n", n)
	}
	st := h.Stats()
	fmt.Fprintf(out, "%d changesets, %d bytes in use, %d allocated\n", st.Changesets, st.DataSize, st.DataAlloc)
	return h.Entries(replog.Version(opts.From), func(e history.Entry) error {
		return printEntry(out, e)
	})
}
