package cli

import (
	"fmt"
	"io"
	"time"

	"github.com/andreyvit/replog"
	"github.com/andreyvit/replog/history"
)

func printChangeset(w io.Writer, header string, changeset []byte) error {
	fmt.Fprintf(w, "# %s (%d bytes)\n", header, len(changeset))
	dump, err := replog.DumpChangeset(changeset)
	io.WriteString(w, dump)
	if err != nil {
		return fmt.Errorf("%s: %w", header, err)
	}
	return nil
}

func printEntry(w io.Writer, e history.Entry) error {
	header := fmt.Sprintf("version %d (from %d) at %s", e.Version, e.Prev, e.Time.UTC().Format(time.RFC3339))
	return printChangeset(w, header, e.Changeset)
}
