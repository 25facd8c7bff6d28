// Houseflow Server
//
// The server accepts WebSocket uplinks from hubs and serves every
// accessory behind them through one HTTP boundary.
//
// Usage:
//
//	houseflow-server                       run with $HOUSEFLOW_CONFIG or configs/server.yaml
//	houseflow-server rollback-history        revert the newest history schema migration
//	houseflow-server hash-password <pw>    print a password_hash for a hub entry
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
var (
	version = "dev"
	commit  = "unknown"
	date    = "unknown"
)

const defaultConfigPath = "configs/server.yaml"

func main() {
	if len(os.Args) > 1 && os.Args[1] == "hash-password" {
		if len(os.Args) != 3 {
			fmt.Fprintln(os.Stderr, "usage: houseflow-server hash-password <password>")
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
		if err := daemon.RollbackHistory(ctx, os.Stdout, getConfigPath(), config.RoleServer); err != nil {
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

func run(ctx context.Context) error {
	if err := daemon.LoadDotEnv(daemon.DefaultEnvFile); err != nil {
		return fmt.Errorf("loading %s: %w", daemon.DefaultEnvFile, err)
	}
	return daemon.Run(ctx, getConfigPath(), config.RoleServer, daemon.Build{
		Version: version,
		Commit:  commit,
		Date:    date,
	})
}

// getConfigPath uses HOUSEFLOW_CONFIG if set, otherwise the default.
func getConfigPath() string {
	return daemon.ConfigPath("HOUSEFLOW_CONFIG", defaultConfigPath)
}
