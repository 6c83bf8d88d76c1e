// Command treefs runs the treefs API server and its command line client.
package main

import (
	"fmt"
	"os"
	"runtime/debug"

	"github.com/cworks/treefs-sub001/internal/cli"
)

func main() {
	defer func() {
		if r := recover(); r != nil {
			fmt.Fprintf(os.Stderr, "panic: %v\n%s\n", r, debug.Stack())
			os.Exit(3)
		}
	}()

	if err := cli.Execute(); err != nil {
		os.Exit(1)
	}
}
