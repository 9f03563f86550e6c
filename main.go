// Command claudia-statusline reads a JSON status payload on stdin and
// prints a single statusline for an AI coding assistant, while durably
// tracking cost, token, and session accounting in the background.
package main

import (
	"fmt"
	"os"

	"github.com/hagan/claudia-statusline/cmd"
	"github.com/hagan/claudia-statusline/internal/tracing"
)

func main() {
	shutdown := tracing.Init()
	defer shutdown()

	if err := cmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}
