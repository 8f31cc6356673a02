package config

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"
)

func writeConfig(t *testing.T, content string) string {
	t.Helper()
	configPath := filepath.Join(t.TempDir(), "node.yaml")
	if err := os.WriteFile(configPath, []byte(content), 0600); err != nil {
		t.Fatalf("failed to write test config: %v", err)
	}
	return configPath
}

func TestLoad_ValidConfig(t *testing.T) {
	content := `
node:
  id: "esp-greenhouse-01"
  zone_id: "greenhouse"
board:
  profile: "xiao_esp32c3"
  max_actuators: 4
hardware:
  backend: "periph"
  iio_dir: "/sys/bus/iio/devices/iio:device1"
  w1_dir: "/tmp/w1"
database:
  path: "/tmp/node.db"
mqtt:
  broker:
    host: "broker.local"
    port: 1883
    client_id: "esp-greenhouse-01"
  qos: 1
safety:
  max_retry_attempts: 0
  inter_actuator_delay_ms: 250
`
	cfg, err := Load(writeConfig(t, content))
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}

	if cfg.Node.ID != "esp-greenhouse-01" {
		t.Errorf("Node.ID = %q, want %q", cfg.Node.ID, "esp-greenhouse-01")
	}
	if cfg.Board.Profile != "xiao_esp32c3" {
		t.Errorf("Board.Profile = %q, want %q", cfg.Board.Profile, "xiao_esp32c3")
	}
	if cfg.Board.MaxActuators != 4 {
		t.Errorf("Board.MaxActuators = %d, want 4", cfg.Board.MaxActuators)
	}
	if cfg.Hardware.IIODir != "/sys/bus/iio/devices/iio:device1" || cfg.Hardware.W1Dir != "/tmp/w1" {
		t.Errorf("Hardware dirs = %q, %q", cfg.Hardware.IIODir, cfg.Hardware.W1Dir)
	}
	if cfg.MQTT.Broker.Host != "broker.local" {
		t.Errorf("MQTT.Broker.Host = %q, want %q", cfg.MQTT.Broker.Host, "broker.local")
	}
	if cfg.Safety.MaxRetryAttempts != 0 {
		t.Errorf("Safety.MaxRetryAttempts = %d, want 0", cfg.Safety.MaxRetryAttempts)
	}
	if got := cfg.InterActuatorDelay(); got != 250*time.Millisecond {
		t.Errorf("InterActuatorDelay() = %v, want 250ms", got)
	}

	// Defaults survive for keys the file does not mention
	if cfg.Sensors.PollIntervalMS != 30000 {
		t.Errorf("Sensors.PollIntervalMS = %d, want default 30000", cfg.Sensors.PollIntervalMS)
	}
}

func TestLoad_MissingFile(t *testing.T) {
	_, err := Load("/nonexistent/path/node.yaml")
	if err == nil {
		t.Error("Load() expected error for missing file, got nil")
	}
}

func TestLoad_InvalidYAML(t *testing.T) {
	_, err := Load(writeConfig(t, "invalid: [yaml: content"))
	if err == nil {
		t.Error("Load() expected error for invalid YAML, got nil")
	}
}

func TestLoad_ValidationFailure(t *testing.T) {
	content := `
node:
  id: ""
database:
  path: "/tmp/node.db"
`
	_, err := Load(writeConfig(t, content))
	if err == nil {
		t.Fatal("Load() expected validation error for empty node.id, got nil")
	}
	if !strings.Contains(err.Error(), "node.id is required") {
		t.Errorf("error = %v, want mention of node.id", err)
	}
}

func TestConfig_Validate(t *testing.T) {
	tests := []struct {
		name    string
		mutate  func(c *Config)
		wantErr bool
	}{
		{name: "defaults are valid", mutate: func(*Config) {}, wantErr: false},
		{name: "missing node ID", mutate: func(c *Config) { c.Node.ID = "" }, wantErr: true},
		{name: "topic characters in node ID", mutate: func(c *Config) { c.Node.ID = "esp/1" }, wantErr: true},
		{name: "missing board profile", mutate: func(c *Config) { c.Board.Profile = "" }, wantErr: true},
		{name: "unknown hardware backend", mutate: func(c *Config) { c.Hardware.Backend = "wiringpi" }, wantErr: true},
		{name: "missing database path", mutate: func(c *Config) { c.Database.Path = "" }, wantErr: true},
		{name: "invalid QoS", mutate: func(c *Config) { c.MQTT.QoS = 3 }, wantErr: true},
		{name: "influx enabled without url", mutate: func(c *Config) { c.InfluxDB.Enabled = true }, wantErr: true},
		{name: "negative retries", mutate: func(c *Config) { c.Safety.MaxRetryAttempts = -1 }, wantErr: true},
		{name: "negative resume delay", mutate: func(c *Config) { c.Safety.InterActuatorDelayMS = -5 }, wantErr: true},
		{name: "zero poll interval", mutate: func(c *Config) { c.Sensors.PollIntervalMS = 0 }, wantErr: true},
		{
			name: "pi enhanced without url",
			mutate: func(c *Config) {
				c.Sensors.PiEnhanced.Enabled = true
				c.Sensors.PiEnhanced.URL = ""
			},
			wantErr: true,
		},
		{
			name: "pi enhanced with url",
			mutate: func(c *Config) {
				c.Sensors.PiEnhanced.Enabled = true
				c.Sensors.PiEnhanced.URL = "http://pi.local:8000"
			},
			wantErr: false,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := defaultConfig()
			tt.mutate(cfg)
			err := cfg.Validate()
			if (err != nil) != tt.wantErr {
				t.Errorf("Validate() error = %v, wantErr %v", err, tt.wantErr)
			}
		})
	}
}

func TestConfig_Durations(t *testing.T) {
	cfg := defaultConfig()
	cfg.Safety.VerifyDelayMS = 20
	cfg.Sensors.PollIntervalMS = 1500
	cfg.Sensors.StaleAfterMS = 6000
	cfg.Sensors.PiEnhanced.TimeoutMS = 750
	cfg.Loop.TickIntervalMS = 100
	cfg.Loop.StatusIntervalMS = 10000

	checks := []struct {
		name string
		got  time.Duration
		want time.Duration
	}{
		{"VerifyDelay", cfg.VerifyDelay(), 20 * time.Millisecond},
		{"PollInterval", cfg.PollInterval(), 1500 * time.Millisecond},
		{"StaleAfter", cfg.StaleAfter(), 6 * time.Second},
		{"RemoteTimeout", cfg.RemoteTimeout(), 750 * time.Millisecond},
		{"TickInterval", cfg.TickInterval(), 100 * time.Millisecond},
		{"StatusInterval", cfg.StatusInterval(), 10 * time.Second},
	}
	for _, c := range checks {
		if c.got != c.want {
			t.Errorf("%s() = %v, want %v", c.name, c.got, c.want)
		}
	}
}

func TestApplyEnvOverrides(t *testing.T) {
	cfg := defaultConfig()

	t.Setenv("GRAYLOGIC_NODE_ID", "esp-override")
	t.Setenv("GRAYLOGIC_BOARD_PROFILE", "host_sim")
	t.Setenv("GRAYLOGIC_HARDWARE_BACKEND", "periph")
	t.Setenv("GRAYLOGIC_DATABASE_PATH", "/custom/path.db")
	t.Setenv("GRAYLOGIC_MQTT_HOST", "mqtt.example.com")
	t.Setenv("GRAYLOGIC_MQTT_PORT", "8883")
	t.Setenv("GRAYLOGIC_MQTT_USERNAME", "testuser")
	t.Setenv("GRAYLOGIC_MQTT_PASSWORD", "testpass")
	t.Setenv("GRAYLOGIC_INFLUXDB_TOKEN", "secret-token")
	t.Setenv("GRAYLOGIC_PI_URL", "http://pi.local:8000")

	applyEnvOverrides(cfg)

	if cfg.Node.ID != "esp-override" {
		t.Errorf("Node.ID = %q, want %q", cfg.Node.ID, "esp-override")
	}
	if cfg.Board.Profile != "host_sim" {
		t.Errorf("Board.Profile = %q, want %q", cfg.Board.Profile, "host_sim")
	}
	if cfg.Hardware.Backend != "periph" {
		t.Errorf("Hardware.Backend = %q, want %q", cfg.Hardware.Backend, "periph")
	}
	if cfg.Database.Path != "/custom/path.db" {
		t.Errorf("Database.Path = %q, want %q", cfg.Database.Path, "/custom/path.db")
	}
	if cfg.MQTT.Broker.Host != "mqtt.example.com" {
		t.Errorf("MQTT.Broker.Host = %q, want %q", cfg.MQTT.Broker.Host, "mqtt.example.com")
	}
	if cfg.MQTT.Broker.Port != 8883 {
		t.Errorf("MQTT.Broker.Port = %d, want 8883", cfg.MQTT.Broker.Port)
	}
	if cfg.MQTT.Auth.Username != "testuser" {
		t.Errorf("MQTT.Auth.Username = %q, want %q", cfg.MQTT.Auth.Username, "testuser")
	}
	if cfg.MQTT.Auth.Password != "testpass" {
		t.Errorf("MQTT.Auth.Password = %q, want %q", cfg.MQTT.Auth.Password, "testpass")
	}
	if cfg.InfluxDB.Token != "secret-token" {
		t.Errorf("InfluxDB.Token = %q, want %q", cfg.InfluxDB.Token, "secret-token")
	}
	if cfg.Sensors.PiEnhanced.URL != "http://pi.local:8000" {
		t.Errorf("Sensors.PiEnhanced.URL = %q, want %q", cfg.Sensors.PiEnhanced.URL, "http://pi.local:8000")
	}
}

func TestApplyEnvOverrides_BadPortIgnored(t *testing.T) {
	cfg := defaultConfig()
	t.Setenv("GRAYLOGIC_MQTT_PORT", "not-a-port")

	applyEnvOverrides(cfg)

	if cfg.MQTT.Broker.Port != 1883 {
		t.Errorf("MQTT.Broker.Port = %d, want default 1883", cfg.MQTT.Broker.Port)
	}
}

func TestDefaultConfig(t *testing.T) {
	cfg := defaultConfig()

	if cfg.Node.ID == "" {
		t.Error("defaultConfig should have non-empty Node.ID")
	}
	if cfg.Database.Path == "" {
		t.Error("defaultConfig should have non-empty Database.Path")
	}
	if cfg.MQTT.Broker.Port != 1883 {
		t.Errorf("defaultConfig MQTT.Broker.Port = %d, want 1883", cfg.MQTT.Broker.Port)
	}
	if cfg.Hardware.Backend != "sim" {
		t.Errorf("defaultConfig Hardware.Backend = %q, want sim", cfg.Hardware.Backend)
	}
}
