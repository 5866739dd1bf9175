// Package main is the entry point for the audiocast application.
package main

import (
	"os"

	"github.com/jmylchreest/audiocast/cmd/audiocast/cmd"
)

func main() {
	if err := cmd.Execute(); err != nil {
		os.Exit(1)
	}
}
