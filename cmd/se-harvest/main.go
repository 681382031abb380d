package main

import (
	"errors"
	"fmt"
	"os"

	"github.com/Sternrassler/se-harvest/pkg/pipeline"
)

// Exit codes.
const (
	exitOK         = 0
	exitError      = 1
	exitIncomplete = 2
)

func main() {
	os.Exit(run(os.Args[1:]))
}

func run(args []string) int {
	cmd := newRootCmd()
	cmd.SetArgs(args)
	if err := cmd.Execute(); err != nil {
		if errors.Is(err, pipeline.ErrIncomplete) {
			return exitIncomplete
		}
		fmt.Fprintln(os.Stderr, "Error:", err)
		return exitError
	}
	return exitOK
}
