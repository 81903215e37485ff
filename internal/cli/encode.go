package cli

import (
	"errors"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/andreyvit/replog"
	"github.com/andreyvit/replog/history"
	"github.com/andreyvit/replog/journal"
	"github.com/andreyvit/replog/memdb"
)

type EncodeOptions struct {
	*RootOptions
	Journal     string
	Database    string
	StreamFile  string
	StreamLimit int
	Durable     bool
}

// NewEncodeCommand creates the encode command, which runs a mutation script
// and prints the changeset of every transaction.
func NewEncodeCommand(rootOpts *RootOptions) *cobra.Command {
	opts := &EncodeOptions{RootOptions: rootOpts}

	cmd := &cobra.Command{
		Use:   "encode SCRIPT.yaml",
		Short: "Run a mutation script and print the resulting changesets",
		Long: `Run a YAML mutation script against an empty in-memory object store and print
the changeset of every committed transaction.

With --journal or --db, the changesets are also appended to a history.
Versions continue from the latest one recorded there.

Examples:
  replogctl encode people.yaml
  replogctl encode people.yaml --journal ./wal
  replogctl encode people.yaml --db ./history.db --stream-limit 4096`,
		SilenceUsage: true,
		Args:         cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return runEncode(opts, cmd, args[0])
		},
	}

	cmd.Flags().StringVar(&opts.Journal, "journal", "", "append changesets to this journal directory")
	cmd.Flags().StringVar(&opts.Database, "db", "", "append changesets to this bbolt history database")
	cmd.Flags().StringVar(&opts.StreamFile, "stream-file", "", "build changesets in this memory-mapped file")
	cmd.Flags().IntVar(&opts.StreamLimit, "stream-limit", 0, "maximum changeset size in bytes (0 = unlimited)")
	cmd.Flags().BoolVar(&opts.Durable, "durable", false, "sync the journal after every commit")
	cmd.MarkFlagsMutuallyExclusive("journal", "db")

	return cmd
}

func runEncode(opts *EncodeOptions, cmd *cobra.Command, path string) (err error) {
	script, err := LoadScript(path)
	if err != nil {
		return err
	}

	logger := opts.logger(cmd.ErrOrStderr())
	var store history.Store
	switch {
	case opts.Journal != "":
		store, err = history.OpenJournal(opts.Journal, journal.Options{
			Context: cmd.Context(),
			Durable: opts.Durable,
			Logger:  logger,
			Verbose: logger != nil,
		})
	case opts.Database != "":
		store, err = history.OpenBolt(opts.Database, history.BoltOptions{})
	}
	if err != nil {
		return err
	}
	var start replog.Version
	var hist replog.History
	if store != nil {
		defer func() {
			err = errors.Join(err, store.Close())
		}()
		start, hist = store.LatestVersion(), store
	}

	var stream replog.Stream
	var last []byte
	if opts.StreamFile != "" {
		fs, ferr := replog.OpenFileStream(opts.StreamFile, 0, opts.StreamLimit)
		if ferr != nil {
			return ferr
		}
		// the file keeps the last committed changeset; rolled back
		// transactions overwrite the start of the mapping
		defer func() {
			n := copy(fs.Data(), last)
			err = errors.Join(err, fs.Close(n))
		}()
		stream = fs
	} else {
		stream = replog.NewMemStream(1024, opts.StreamLimit)
	}

	db := memdb.New(memdb.Options{
		Context: cmd.Context(),
		Logger:  logger,
		History: hist,
		Stream:  stream,
		Version: start,
	})
	out := cmd.OutOrStdout()
	return script.Run(db, func(name string, c memdb.Commit, aborted bool) error {
		if aborted {
			fmt.Fprintf(out, "# %s: rolled back\n", name)
			return nil
		}
		last = c.Changeset
		return printChangeset(out, fmt.Sprintf("%s: version %d", name, c.Version), c.Changeset)
	})
}
