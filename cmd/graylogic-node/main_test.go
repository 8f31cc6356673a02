package main

import (
	"context"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/nerrad567/gray-logic-node/internal/infrastructure/config"
)

func writeTestConfig(t *testing.T, content string) string {
	t.Helper()
	configPath := filepath.Join(t.TempDir(), "node.yaml")
	if err := os.WriteFile(configPath, []byte(content), 0600); err != nil {
		t.Fatalf("failed to write test config: %v", err)
	}
	return configPath
}

// TestRun_InvalidConfig verifies run fails with invalid config path.
func TestRun_InvalidConfig(t *testing.T) {
	t.Setenv("GRAYLOGIC_CONFIG", "/nonexistent/path/node.yaml")

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	err := run(ctx)
	if err == nil {
		t.Fatal("run() should fail with invalid config path")
	}
	if !strings.Contains(err.Error(), "loading config") {
		t.Errorf("error = %v, want config loading failure", err)
	}
}

// TestRun_MissingDatabasePath verifies run fails validation when database path is empty.
func TestRun_MissingDatabasePath(t *testing.T) {
	t.Setenv("GRAYLOGIC_CONFIG", writeTestConfig(t, `
node:
  id: esp-test
board:
  profile: host_sim
database:
  path: ""
`))

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	if err := run(ctx); err == nil {
		t.Fatal("run() should fail with empty database path")
	}
}

// TestRun_UnknownBoard verifies run refuses a board profile it does not know.
func TestRun_UnknownBoard(t *testing.T) {
	dbPath := filepath.Join(t.TempDir(), "node.db")
	t.Setenv("GRAYLOGIC_CONFIG", writeTestConfig(t, `
node:
  id: esp-test
board:
  profile: arduino_uno
database:
  path: "`+dbPath+`"
`))

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	err := run(ctx)
	if err == nil || !strings.Contains(err.Error(), "building components") {
		t.Fatalf("run() error = %v, want component build failure", err)
	}
}

// TestRun_OfflineStartupAndShutdown starts a simulated node with no broker
// reachable. It must keep running until the context ends and exit cleanly.
func TestRun_OfflineStartupAndShutdown(t *testing.T) {
	if testing.Short() {
		t.Skip("waits for the MQTT connect timeout")
	}
	dbPath := filepath.Join(t.TempDir(), "node.db")
	t.Setenv("GRAYLOGIC_CONFIG", writeTestConfig(t, `
node:
  id: esp-offline
board:
  profile: host_sim
hardware:
  backend: sim
database:
  path: "`+dbPath+`"
  wal_mode: true
  busy_timeout: 5
mqtt:
  broker:
    host: "127.0.0.1"
    port: 19999
  qos: 1
  reconnect:
    initial_delay: 1
    max_delay: 5
logging:
  level: error
  format: text
  output: stderr
loop:
  tick_interval_ms: 50
  status_interval_ms: 1000
`))

	ctx, cancel := context.WithTimeout(context.Background(), 12*time.Second)
	defer cancel()

	if err := run(ctx); err != nil {
		t.Fatalf("run() error = %v, want clean offline shutdown", err)
	}
	if _, err := os.Stat(dbPath); err != nil {
		t.Errorf("database not created: %v", err)
	}
}

// TestGetConfigPath_Default verifies default config path.
func TestGetConfigPath_Default(t *testing.T) {
	t.Setenv("GRAYLOGIC_CONFIG", "")

	if path := getConfigPath(); path != defaultConfigPath {
		t.Errorf("getConfigPath() = %q, want %q", path, defaultConfigPath)
	}
}

// TestGetConfigPath_EnvOverride verifies environment variable override.
func TestGetConfigPath_EnvOverride(t *testing.T) {
	expected := "/custom/path/node.yaml"
	t.Setenv("GRAYLOGIC_CONFIG", expected)

	if path := getConfigPath(); path != expected {
		t.Errorf("getConfigPath() = %q, want %q", path, expected)
	}
}

func TestSelectPins(t *testing.T) {
	sim := selectPins(&config.Config{Hardware: config.HardwareConfig{Backend: "sim"}})
	if _, err := sim.Output(simPinCount - 1); err != nil {
		t.Errorf("sim backend Output(%d) error = %v", simPinCount-1, err)
	}
	if _, err := sim.Output(simPinCount); err == nil {
		t.Errorf("sim backend Output(%d) accepted an out of range pin", simPinCount)
	}
}
