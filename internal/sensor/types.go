package sensor

import (
	"fmt"
	"strings"
	"time"

	"github.com/nerrad567/gray-logic-node/internal/driver"
)

// Source names where a reading's value was resolved.
const (
	SourceLocal  = "local"
	SourceRemote = "remote"
)

// Config describes one sensor slot.
type Config struct {
	GPIO      int    `json:"gpio"`
	Type      string `json:"type"`
	Name      string `json:"name"`
	SubzoneID string `json:"subzone_id,omitempty"`

	// PiEnhanced routes reads through the remote processor first.
	PiEnhanced bool `json:"pi_enhanced"`

	Address string             `json:"address,omitempty"`
	Virtual bool               `json:"virtual,omitempty"`
	Library string             `json:"library,omitempty"`
	Params  map[string]float64 `json:"params,omitempty"`

	// PollIntervalMS overrides the registry's poll interval when positive.
	PollIntervalMS int `json:"poll_interval_ms,omitempty"`
}

// Validate checks fields that do not depend on the arbiter.
func (c Config) Validate() error {
	var errs []string
	if strings.TrimSpace(c.Type) == "" {
		errs = append(errs, "type is required")
	}
	if c.GPIO < 0 {
		errs = append(errs, "gpio must not be negative")
	}
	if c.PollIntervalMS < 0 {
		errs = append(errs, "poll_interval_ms must not be negative")
	}
	if len(errs) > 0 {
		return fmt.Errorf("%w: %s", ErrInvalidConfig, strings.Join(errs, "; "))
	}
	return nil
}

func (c Config) driverConfig() driver.Config {
	return driver.Config{
		GPIO:    c.GPIO,
		AuxGPIO: driver.NoGPIO,
		Type:    c.Type,
		Name:    c.Name,
		Address: c.Address,
		Params:  c.Params,
		Virtual: c.Virtual,
		Library: c.Library,
	}
}

// Reading is one resolved measurement.
type Reading struct {
	GPIO      int            `json:"gpio"`
	Type      string         `json:"sensor_type"`
	Name      string         `json:"sensor_name"`
	SubzoneID string         `json:"subzone_id,omitempty"`
	Value     float64        `json:"value"`
	Unit      string         `json:"unit"`
	Quality   driver.Quality `json:"quality"`
	Source    string         `json:"source"`
	Timestamp time.Time      `json:"timestamp"`
}

// Info is the published view of a slot.
type Info struct {
	GPIO       int            `json:"gpio"`
	Type       string         `json:"type"`
	Name       string         `json:"name"`
	SubzoneID  string         `json:"subzone_id,omitempty"`
	PiEnhanced bool           `json:"pi_enhanced"`
	Library    string         `json:"library,omitempty"`
	Unit       string         `json:"unit"`
	LastValue  float64        `json:"last_value"`
	LastRead   *time.Time     `json:"last_read,omitempty"`
	Quality    driver.Quality `json:"quality"`
	Stats      Stats          `json:"stats"`
}

// Stats counts hybrid resolution outcomes.
type Stats struct {
	RequestsTotal         uint64 `json:"requests_total"`
	RequestsSuccessRemote uint64 `json:"requests_success_remote"`
	FallbackUses          uint64 `json:"fallback_uses"`
}

