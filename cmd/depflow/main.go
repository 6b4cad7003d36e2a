// Command depflow validates dependency declarations, runs scenarios
// against the dependency runtime and reads their audit logs.
package main

import (
	"fmt"
	"os"

	"github.com/roach88/depflow/internal/cli"
)

func main() {
	if err := cli.NewRootCommand().Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(cli.GetExitCode(err))
	}
}
