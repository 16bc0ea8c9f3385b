// WatchMe Core - device identity and registration service
//
// This is the main entry point for the WatchMe Core binary. It reconciles
// this installation's platform identifier with the backend device record,
// serves the local control API and publishes state over MQTT.
//
// Run `watchme --help` for the available commands.
package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"
)

// Version information - set at build time via ldflags
// Example: go build -ldflags "-X main.version=1.0.0 -X main.commit=abc123"
var (
	version = "dev"     // Semantic version (e.g., "1.0.0")
	commit  = "unknown" // Git commit hash
	date    = "unknown" // Build date
)

// Default configuration file path
const defaultConfigPath = "configs/config.yaml"

func main() {
	// Cancel on Ctrl+C and SIGTERM so serve can shut down cleanly.
	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer cancel()

	if err := run(ctx, os.Args[1:]); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

// run executes the command line in args, separated from main for testability.
func run(ctx context.Context, args []string) error {
	root := newRootCmd()
	root.SetArgs(args)
	return root.ExecuteContext(ctx)
}

// getConfigPath returns the configuration file path.
// Uses WATCHME_CONFIG environment variable if set, otherwise default.
func getConfigPath() string {
	if path := os.Getenv("WATCHME_CONFIG"); path != "" {
		return path
	}
	return defaultConfigPath
}
