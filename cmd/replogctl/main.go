// Command replogctl records mutation scripts as changesets and inspects
// changeset histories.
package main

import (
	"fmt"
	"os"

	"github.com/andreyvit/replog/internal/cli"
)

func main() {
	cmd := cli.NewRootCommand()
	if err := cmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, "replogctl:", err)
		os.Exit(1)
	}
}
