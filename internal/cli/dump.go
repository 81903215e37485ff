package cli

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/andreyvit/replog"
	"github.com/andreyvit/replog/history"
	"github.com/andreyvit/replog/journal"
)

type DumpOptions struct {
	*RootOptions
	Journal string
	From    uint64
}

// NewDumpCommand creates the dump command, which prints the changesets
// recorded in a journal directory.
func NewDumpCommand(rootOpts *RootOptions) *cobra.Command {
	opts := &DumpOptions{RootOptions: rootOpts}

	cmd := &cobra.Command{
		Use:   "dump",
		Short: "Print the changesets recorded in a journal",
		Long: `Print every committed changeset of a journal directory, one instruction per
line. An uncommitted tail is ignored.

Examples:
  replogctl dump --journal ./wal
  replogctl dump --journal ./wal --from 10`,
		SilenceUsage: true,
		Args:         cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runDump(opts, cmd)
		},
	}

	cmd.Flags().StringVar(&opts.Journal, "journal", "", "journal directory (required)")
	_ = cmd.MarkFlagRequired("journal")
	cmd.Flags().Uint64Var(&opts.From, "from", 0, "skip versions below this one")

	return cmd
}

func runDump(opts *DumpOptions, cmd *cobra.Command) error {
	var n int
	jo := journal.Options{
		Context: cmd.Context(),
		Logger:  opts.logger(cmd.ErrOrStderr()),
	}
	err := history.ReadJournal(opts.Journal, jo, func(e history.Entry) error {
		if e.Version < replog.Version(opts.From) {
			return nil
		}
		n++
		return printEntry(cmd.OutOrStdout(), e)
	})
	if err != nil {
		return fmt.Errorf("reading journal %s: %w", opts.Journal, err)
	}
	if n == 0 {
		fmt.Fprintln(cmd.OutOrStdout(), "No changesets found.")
	}
	return nil
}
