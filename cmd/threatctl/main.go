// Package main provides threatctl, the ThreatPulse operator CLI.
package main

import (
	"fmt"
	"os"

	"github.com/lvonguyen/threatpulse/internal/cli"
)

// Version is injected at build time via ldflags.
var Version = "dev"

func main() {
	if err := cli.Execute(Version); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}
