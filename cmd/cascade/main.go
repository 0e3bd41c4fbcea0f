// Command cascade compiles component declarations, runs scenarios and
// queries dispatch journals.
package main

import (
	"fmt"
	"os"

	"github.com/roach88/cascade/internal/cli"
)

func main() {
	if err := cli.NewRootCommand().Execute(); err != nil {
		fmt.Fprintln(os.Stderr, "cascade:", err)
		os.Exit(cli.GetExitCode(err))
	}
}
