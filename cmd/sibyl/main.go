package main

import (
	"os"

	"github.com/sibylquant/sibyl/cmd/sibyl/commands"
)

// main is the entry point for the sibyl CLI.
func main() {
	if err := commands.Execute(); err != nil {
		os.Exit(1)
	}
}
