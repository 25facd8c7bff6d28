package main

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"
)

// TestRun_InvalidConfig verifies run fails with invalid config path.
func TestRun_InvalidConfig(t *testing.T) {
	t.Setenv("HOUSEFLOW_CONFIG", "/nonexistent/path/hub.yaml")

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	if err := run(ctx); err == nil {
		t.Fatal("run() should fail with invalid config path")
	}
}

// TestRun_ServerConfigRejected verifies the hub refuses a server config.
func TestRun_ServerConfigRejected(t *testing.T) {
	configPath := filepath.Join(t.TempDir(), "server.yaml")
	configContent := `
role: server
logging:
  level: error
`
	if err := os.WriteFile(configPath, []byte(configContent), 0600); err != nil {
		t.Fatalf("failed to write test config: %v", err)
	}
	t.Setenv("HOUSEFLOW_CONFIG", configPath)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	if err := run(ctx); err == nil {
		t.Fatal("run() should fail with a server config")
	}
}

func TestGetConfigPath(t *testing.T) {
	t.Setenv("HOUSEFLOW_CONFIG", "")
	if got := getConfigPath(); got != defaultConfigPath {
		t.Errorf("getConfigPath() = %q, want %q", got, defaultConfigPath)
	}
	t.Setenv("HOUSEFLOW_CONFIG", "/etc/houseflow/hub.yaml")
	if got := getConfigPath(); got != "/etc/houseflow/hub.yaml" {
		t.Errorf("getConfigPath() = %q, want env override", got)
	}
}
