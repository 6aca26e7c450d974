// Command logsift analyzes application log files with an inference provider
// and produces a merged structured report.
package main

import (
	"fmt"
	"os"

	"github.com/logsift/logsift/internal/cli"
)

func main() {
	if err := cli.Run(os.Args[1:]); err != nil {
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		os.Exit(1)
	}
}
