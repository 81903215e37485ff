// Package cli implements replogctl, a tool that records mutation scripts as
// changesets and inspects the histories they are stored in.
package cli

import (
	"io"
	"log/slog"

	"github.com/spf13/cobra"

	"github.com/andreyvit/replog"
)

// RootOptions holds global flags for all commands.
type RootOptions struct {
	Verbose bool
	Trace   bool
}

func NewRootCommand() *cobra.Command {
	opts := &RootOptions{}

	cmd := &cobra.Command{
		Use:   "replogctl",
		Short: "Record and inspect object database changesets",
		Long: `replogctl runs mutation scripts against an in-memory object store, records
every committed transaction as a changeset, and prints or inspects the
histories those changesets are stored in.`,
	}

	cmd.PersistentFlags().BoolVarP(&opts.Verbose, "verbose", "v", false, "log mutation events to stderr")
	cmd.PersistentFlags().BoolVar(&opts.Trace, "trace", false, "also log every value written (implies --verbose)")

	cmd.AddCommand(NewEncodeCommand(opts))
	cmd.AddCommand(NewDumpCommand(opts))
	cmd.AddCommand(NewHistoryCommand(opts))

	return cmd
}

// logger returns nil unless logging was requested.
func (o *RootOptions) logger(w io.Writer) *slog.Logger {
	if !o.Verbose && !o.Trace {
		return nil
	}
	level := slog.LevelDebug
	if o.Trace {
		level = replog.LevelTrace
	}
	return slog.New(slog.NewTextHandler(w, &slog.HandlerOptions{Level: level}))
}
