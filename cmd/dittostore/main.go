package main

import (
	"fmt"
	"os"

	"github.com/marmos91/dittostore/internal/cli/commands"
)

// Set by ldflags at build time
var (
	version = "dev"
	commit  = "none"
)

func main() {
	commands.SetVersion(version, commit)
	if err := commands.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}
