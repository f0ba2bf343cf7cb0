// Package main provides the entry point for the sync agent.
package main

import (
	"fmt"
	"os"

	"github.com/nucleus/sync-agent/internal/cli"
)

func main() {
	if err := cli.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}
