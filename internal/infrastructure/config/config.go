package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// Config is the root configuration structure for a Gray Logic node.
// All configuration is loaded from YAML and can be overridden by environment variables.
type Config struct {
	Node     NodeConfig     `yaml:"node"`
	Board    BoardConfig    `yaml:"board"`
	Hardware HardwareConfig `yaml:"hardware"`
	Database DatabaseConfig `yaml:"database"`
	MQTT     MQTTConfig     `yaml:"mqtt"`
	InfluxDB InfluxDBConfig `yaml:"influxdb"`
	Logging  LoggingConfig  `yaml:"logging"`
	Safety   SafetyConfig   `yaml:"safety"`
	Sensors  SensorsConfig  `yaml:"sensors"`
	Buffer   BufferConfig   `yaml:"buffer"`
	Metrics  MetricsConfig  `yaml:"metrics"`
	Loop     LoopConfig     `yaml:"loop"`
}

// NodeConfig identifies this node within the automation mesh.
type NodeConfig struct {
	ID       string `yaml:"id"`
	Name     string `yaml:"name"`
	ZoneID   string `yaml:"zone_id"`
	KaiserID string `yaml:"kaiser_id"`
}

// BoardConfig selects a board profile and optionally overrides its limits.
// Zero values keep the profile's own limits.
type BoardConfig struct {
	Profile             string `yaml:"profile"`
	MaxSensors          int    `yaml:"max_sensors"`
	MaxActuators        int    `yaml:"max_actuators"`
	MaxLibrarySize      int    `yaml:"max_library_size"`
	MaxLibraries        int    `yaml:"max_libraries"`
	MaxBufferedReadings int    `yaml:"max_buffered_readings"`
	ReservedPins        []int  `yaml:"reserved_pins"`
}

// HardwareConfig selects the pin backend.
type HardwareConfig struct {
	// Backend is "periph" for real GPIO lines or "sim" for the in-memory backend.
	Backend string `yaml:"backend"`

	// IIODir is the sysfs IIO device for analog channels; empty selects the driver default.
	IIODir string `yaml:"iio_dir"`

	// W1Dir is the 1-Wire bus directory; empty selects the driver default.
	W1Dir string `yaml:"w1_dir"`
}

// DatabaseConfig contains SQLite database settings.
type DatabaseConfig struct {
	Path        string `yaml:"path"`
	WALMode     bool   `yaml:"wal_mode"`
	BusyTimeout int    `yaml:"busy_timeout"`
}

// MQTTConfig contains MQTT broker connection settings.
type MQTTConfig struct {
	Broker    MQTTBrokerConfig    `yaml:"broker"`
	Auth      MQTTAuthConfig      `yaml:"auth"`
	QoS       int                 `yaml:"qos"`
	Reconnect MQTTReconnectConfig `yaml:"reconnect"`
}

// MQTTBrokerConfig contains MQTT broker connection details.
type MQTTBrokerConfig struct {
	Host     string `yaml:"host"`
	Port     int    `yaml:"port"`
	TLS      bool   `yaml:"tls"`
	ClientID string `yaml:"client_id"`
}

// MQTTAuthConfig contains MQTT authentication credentials.
type MQTTAuthConfig struct {
	Username string `yaml:"username"`
	Password string `yaml:"password"`
}

// MQTTReconnectConfig contains MQTT reconnection settings (seconds).
type MQTTReconnectConfig struct {
	InitialDelay int `yaml:"initial_delay"`
	MaxDelay     int `yaml:"max_delay"`
}

// InfluxDBConfig contains InfluxDB connection settings.
type InfluxDBConfig struct {
	Enabled       bool   `yaml:"enabled"`
	URL           string `yaml:"url"`
	Token         string `yaml:"token"`
	Org           string `yaml:"org"`
	Bucket        string `yaml:"bucket"`
	BatchSize     int    `yaml:"batch_size"`
	FlushInterval int    `yaml:"flush_interval"`
}

// LoggingConfig contains logging settings.
type LoggingConfig struct {
	Level  string `yaml:"level"`
	Format string `yaml:"format"`
	Output string `yaml:"output"`
}

// SafetyConfig contains emergency recovery settings.
type SafetyConfig struct {
	// MaxRetryAttempts is how many extra clear-and-verify rounds are allowed
	// after the first one fails. 0 means a single attempt.
	MaxRetryAttempts int `yaml:"max_retry_attempts"`

	// InterActuatorDelayMS is the pause between restoring consecutive
	// actuators during resume.
	InterActuatorDelayMS int `yaml:"inter_actuator_delay_ms"`

	// VerifyDelayMS is the settle time between clearing a driver and
	// checking that it left the emergency state.
	VerifyDelayMS int `yaml:"verify_delay_ms"`
}

// SensorsConfig contains sensor polling settings.
type SensorsConfig struct {
	PollIntervalMS int              `yaml:"poll_interval_ms"`
	StaleAfterMS   int              `yaml:"stale_after_ms"`
	PiEnhanced     PiEnhancedConfig `yaml:"pi_enhanced"`
}

// PiEnhancedConfig configures the remote processing server.
type PiEnhancedConfig struct {
	Enabled   bool   `yaml:"enabled"`
	URL       string `yaml:"url"`
	TimeoutMS int    `yaml:"timeout_ms"`
}

// BufferConfig contains offline buffer settings.
type BufferConfig struct {
	// Persist stores a snapshot of unsent readings on shutdown and restores it on boot.
	Persist bool `yaml:"persist"`
}

// MetricsConfig contains Prometheus endpoint settings.
type MetricsConfig struct {
	Enabled bool   `yaml:"enabled"`
	Listen  string `yaml:"listen"`
}

// LoopConfig contains control loop timing.
type LoopConfig struct {
	TickIntervalMS   int `yaml:"tick_interval_ms"`
	StatusIntervalMS int `yaml:"status_interval_ms"`
}

// Load reads configuration from a YAML file and applies environment variable overrides.
//
// The configuration loading order is:
//  1. Default values (hardcoded)
//  2. YAML file values (override defaults)
//  3. Environment variables (override file values)
//
// Environment variables follow the pattern: GRAYLOGIC_SECTION_KEY
// For example: GRAYLOGIC_NODE_ID, GRAYLOGIC_MQTT_HOST
func Load(path string) (*Config, error) {
	cfg := defaultConfig()

	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading config file: %w", err)
	}

	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("parsing config file: %w", err)
	}

	applyEnvOverrides(cfg)

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("validating config: %w", err)
	}

	return cfg, nil
}

// defaultConfig returns a Config with sensible defaults.
func defaultConfig() *Config {
	return &Config{
		Node: NodeConfig{
			ID:       "esp-001",
			Name:     "Gray Logic Node",
			ZoneID:   "zone-001",
			KaiserID: "god",
		},
		Board: BoardConfig{
			Profile: "esp32_devkit",
		},
		Hardware: HardwareConfig{
			Backend: "sim",
		},
		Database: DatabaseConfig{
			Path:        "./data/node.db",
			WALMode:     true,
			BusyTimeout: 5,
		},
		MQTT: MQTTConfig{
			Broker: MQTTBrokerConfig{
				Host:     "localhost",
				Port:     1883,
				ClientID: "graylogic-node",
			},
			QoS: 1,
			Reconnect: MQTTReconnectConfig{
				InitialDelay: 1,
				MaxDelay:     60,
			},
		},
		Logging: LoggingConfig{
			Level:  "info",
			Format: "json",
			Output: "stdout",
		},
		Safety: SafetyConfig{
			MaxRetryAttempts:     3,
			InterActuatorDelayMS: 500,
			VerifyDelayMS:        50,
		},
		Sensors: SensorsConfig{
			PollIntervalMS: 30000,
			StaleAfterMS:   120000,
			PiEnhanced: PiEnhancedConfig{
				TimeoutMS: 2000,
			},
		},
		Buffer: BufferConfig{
			Persist: true,
		},
		Metrics: MetricsConfig{
			Listen: ":9100",
		},
		Loop: LoopConfig{
			TickIntervalMS:   1000,
			StatusIntervalMS: 60000,
		},
	}
}

// applyEnvOverrides applies environment variable overrides to the configuration.
func applyEnvOverrides(cfg *Config) {
	if v := os.Getenv("GRAYLOGIC_NODE_ID"); v != "" {
		cfg.Node.ID = v
	}
	if v := os.Getenv("GRAYLOGIC_BOARD_PROFILE"); v != "" {
		cfg.Board.Profile = v
	}
	if v := os.Getenv("GRAYLOGIC_HARDWARE_BACKEND"); v != "" {
		cfg.Hardware.Backend = v
	}
	if v := os.Getenv("GRAYLOGIC_DATABASE_PATH"); v != "" {
		cfg.Database.Path = v
	}

	// MQTT
	if v := os.Getenv("GRAYLOGIC_MQTT_HOST"); v != "" {
		cfg.MQTT.Broker.Host = v
	}
	if v := os.Getenv("GRAYLOGIC_MQTT_PORT"); v != "" {
		if port, err := strconv.Atoi(v); err == nil {
			cfg.MQTT.Broker.Port = port
		}
	}
	if v := os.Getenv("GRAYLOGIC_MQTT_USERNAME"); v != "" {
		cfg.MQTT.Auth.Username = v
	}
	if v := os.Getenv("GRAYLOGIC_MQTT_PASSWORD"); v != "" {
		cfg.MQTT.Auth.Password = v
	}

	if v := os.Getenv("GRAYLOGIC_INFLUXDB_TOKEN"); v != "" {
		cfg.InfluxDB.Token = v
	}
	if v := os.Getenv("GRAYLOGIC_PI_URL"); v != "" {
		cfg.Sensors.PiEnhanced.URL = v
	}
}

// Validate checks the configuration for errors.
func (c *Config) Validate() error {
	var errs []string

	if c.Node.ID == "" {
		errs = append(errs, "node.id is required")
	}
	if strings.ContainsAny(c.Node.ID, "/+#") {
		errs = append(errs, "node.id must not contain MQTT topic characters")
	}

	if c.Board.Profile == "" {
		errs = append(errs, "board.profile is required")
	}

	switch c.Hardware.Backend {
	case "periph", "sim":
	default:
		errs = append(errs, "hardware.backend must be \"periph\" or \"sim\"")
	}

	if c.Database.Path == "" {
		errs = append(errs, "database.path is required")
	}

	if c.MQTT.QoS < 0 || c.MQTT.QoS > 2 {
		errs = append(errs, "mqtt.qos must be 0, 1, or 2")
	}

	if c.InfluxDB.Enabled && c.InfluxDB.URL == "" {
		errs = append(errs, "influxdb.url is required when influxdb is enabled")
	}

	if c.Safety.MaxRetryAttempts < 0 {
		errs = append(errs, "safety.max_retry_attempts must not be negative")
	}
	if c.Safety.InterActuatorDelayMS < 0 {
		errs = append(errs, "safety.inter_actuator_delay_ms must not be negative")
	}

	if c.Sensors.PollIntervalMS <= 0 {
		errs = append(errs, "sensors.poll_interval_ms must be positive")
	}
	if c.Sensors.StaleAfterMS <= 0 {
		errs = append(errs, "sensors.stale_after_ms must be positive")
	}
	if c.Sensors.PiEnhanced.Enabled {
		if c.Sensors.PiEnhanced.URL == "" {
			errs = append(errs, "sensors.pi_enhanced.url is required when pi_enhanced is enabled")
		}
		if c.Sensors.PiEnhanced.TimeoutMS <= 0 {
			errs = append(errs, "sensors.pi_enhanced.timeout_ms must be positive")
		}
	}

	if c.Loop.TickIntervalMS <= 0 {
		errs = append(errs, "loop.tick_interval_ms must be positive")
	}

	if len(errs) > 0 {
		return fmt.Errorf("configuration errors: %s", strings.Join(errs, "; "))
	}

	return nil
}

// InterActuatorDelay returns the resume soft-start delay as a Duration.
func (c *Config) InterActuatorDelay() time.Duration {
	return time.Duration(c.Safety.InterActuatorDelayMS) * time.Millisecond
}

// VerifyDelay returns the clear verification settle time as a Duration.
func (c *Config) VerifyDelay() time.Duration {
	return time.Duration(c.Safety.VerifyDelayMS) * time.Millisecond
}

// PollInterval returns the sensor poll interval as a Duration.
func (c *Config) PollInterval() time.Duration {
	return time.Duration(c.Sensors.PollIntervalMS) * time.Millisecond
}

// StaleAfter returns the maximum reading age before a sensor is reported stale.
func (c *Config) StaleAfter() time.Duration {
	return time.Duration(c.Sensors.StaleAfterMS) * time.Millisecond
}

// RemoteTimeout returns the Pi-enhanced processing timeout as a Duration.
func (c *Config) RemoteTimeout() time.Duration {
	return time.Duration(c.Sensors.PiEnhanced.TimeoutMS) * time.Millisecond
}

// TickInterval returns the control loop period as a Duration.
func (c *Config) TickInterval() time.Duration {
	return time.Duration(c.Loop.TickIntervalMS) * time.Millisecond
}

// StatusInterval returns the heartbeat period as a Duration.
func (c *Config) StatusInterval() time.Duration {
	return time.Duration(c.Loop.StatusIntervalMS) * time.Millisecond
}
