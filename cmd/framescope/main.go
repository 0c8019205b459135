// Package main provides the entry point for the framescope CLI.
package main

import (
	"os"

	"github.com/framescope/framescope/cmd/framescope/cmd"
)

func main() {
	if err := cmd.Execute(); err != nil {
		os.Exit(1)
	}
}
