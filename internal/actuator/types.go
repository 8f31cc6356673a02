package actuator

import (
	"fmt"
	"strings"

	"github.com/nerrad567/gray-logic-node/internal/driver"
)

// Config describes one actuator slot.
type Config struct {
	GPIO         int                `json:"gpio"`
	AuxGPIO      int                `json:"aux_gpio"`
	Type         string             `json:"type"`
	Name         string             `json:"name"`
	SubzoneID    string             `json:"subzone_id,omitempty"`
	Active       bool               `json:"active"`
	DefaultState bool               `json:"default_state"`
	DefaultValue float64            `json:"default_value"`
	Virtual      bool               `json:"virtual,omitempty"`
	Library      string             `json:"library,omitempty"`
	Params       map[string]float64 `json:"params,omitempty"`
}

// Validate checks fields that do not depend on the arbiter.
func (c Config) Validate() error {
	var errs []string
	if strings.TrimSpace(c.Type) == "" {
		errs = append(errs, "type is required")
	}
	if c.AuxGPIO == c.GPIO {
		errs = append(errs, "aux_gpio must differ from gpio")
	}
	if c.AuxGPIO < driver.NoGPIO {
		errs = append(errs, "aux_gpio must be -1 or a pin number")
	}
	if c.DefaultValue < 0 || c.DefaultValue > 1 {
		errs = append(errs, "default_value must be in [0, 1]")
	}
	if len(errs) > 0 {
		return fmt.Errorf("%w: %s", ErrInvalidConfig, strings.Join(errs, "; "))
	}
	return nil
}

func (c Config) pins() []int {
	if c.AuxGPIO == driver.NoGPIO {
		return []int{c.GPIO}
	}
	return []int{c.GPIO, c.AuxGPIO}
}

func (c Config) driverConfig() driver.Config {
	return driver.Config{
		GPIO:    c.GPIO,
		AuxGPIO: c.AuxGPIO,
		Type:    c.Type,
		Name:    c.Name,
		Params:  c.Params,
		Virtual: c.Virtual,
		Library: c.Library,
	}
}

// Status is the published view of a slot.
type Status struct {
	GPIO         int                  `json:"gpio"`
	AuxGPIO      int                  `json:"aux_gpio"`
	Type         string               `json:"type"`
	Name         string               `json:"name"`
	SubzoneID    string               `json:"subzone_id,omitempty"`
	Active       bool                 `json:"active"`
	Stopped      bool                 `json:"emergency_stopped"`
	StopReason   string               `json:"stop_reason,omitempty"`
	State        driver.ActuatorState `json:"state"`
	RuntimeHours float64              `json:"runtime_hours"`
	Library      string               `json:"library,omitempty"`
}
