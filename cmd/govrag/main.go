// Package main provides the entry point for the govrag CLI.
package main

import (
	"os"

	"github.com/govrag/govrag/cmd/govrag/cmd"
)

func main() {
	if err := cmd.Execute(); err != nil {
		os.Exit(1)
	}
}
