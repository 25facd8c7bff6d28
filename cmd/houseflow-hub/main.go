// Houseflow Hub
//
// The hub accepts WebSocket sessions from accessories on the local network,
// serves their characteristics over HTTP, and relays their events to the
// server through the uplink when one is configured.
//
// Usage:
//
//	houseflow-hub                       run with $HOUSEFLOW_CONFIG or configs/hub.yaml
//	houseflow-hub rollback-history        revert the newest history schema migration
//	houseflow-hub hash-password <pw>    print a password_hash for an accessory entry
package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/nerrad567/houseflow-core/internal/daemon"
	"github.com/nerrad567/houseflow-core/internal/infrastructure/config"
)

// Version information - set at build time via ldflags
// Example: go build -ldflags "-X main.version=1.0.0 -X main.commit=abc123"
var (
	version = "dev"
	commit  = "unknown"
	date    = "unknown"
)

// Default configuration file path
const defaultConfigPath = "configs/hub.yaml"

func main() {
	if len(os.Args) > 1 && os.Args[1] == "hash-password" {
		if len(os.Args) != 3 {
			fmt.Fprintln(os.Stderr, "usage: houseflow-hub hash-password <password>")
			os.Exit(2)
		}
		if err := daemon.HashPassword(os.Stdout, os.Args[2]); err != nil {
			fmt.Fprintf(os.Stderr, "Error: %v\n", err)
			os.Exit(1)
		}
		return
	}

	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer cancel()

	if len(os.Args) > 1 && os.Args[1] == "rollback-history" {
		if err := daemon.RollbackHistory(ctx, os.Stdout, getConfigPath(), config.RoleHub); err != nil {
			fmt.Fprintf(os.Stderr, "Error: %v\n", err)
			cancel()
			os.Exit(1)
		}
		return
	}

	if err := run(ctx); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

// run is the application entry point, separated from main for testability.
func run(ctx context.Context) error {
	if err := daemon.LoadDotEnv(daemon.DefaultEnvFile); err != nil {
		return fmt.Errorf("loading %s: %w", daemon.DefaultEnvFile, err)
	}
	return daemon.Run(ctx, getConfigPath(), config.RoleHub, daemon.Build{
		Version: version,
		Commit:  commit,
		Date:    date,
	})
}

// getConfigPath returns the configuration file path.
// Uses HOUSEFLOW_CONFIG environment variable if set, otherwise default.
func getConfigPath() string {
	return daemon.ConfigPath("HOUSEFLOW_CONFIG", defaultConfigPath)
}
