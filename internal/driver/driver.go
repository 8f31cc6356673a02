package driver

import (
	"context"
	"fmt"
	"strings"
)

// NoGPIO marks an unused auxiliary pin.
const NoGPIO = -1

// Config is what a slot hands its driver at Begin.
type Config struct {
	GPIO    int
	AuxGPIO int
	Type    string
	Name    string

	// Address is a bus address for drivers that need one (1-Wire ROM id).
	Address string

	// Params carries numeric tuning values (calibration, limits).
	Params map[string]float64

	// Virtual selects the simulation variant regardless of type.
	Virtual bool

	// Library names a loaded driver library that must build the instance.
	Library string
}

// Param returns Params[key] or def when absent.
func (c Config) Param(key string, def float64) float64 {
	if v, ok := c.Params[key]; ok {
		return v
	}
	return def
}

// Driver is the lifecycle shared by every sensor and actuator backend.
type Driver interface {
	Begin(cfg Config) error
	End() error
	Initialized() bool
}

// ActuatorState is a snapshot of an actuator's output.
type ActuatorState struct {
	On              bool    `json:"on"`
	Value           float64 `json:"value"`
	Emergency       bool    `json:"emergency"`
	EmergencyReason string  `json:"emergency_reason,omitempty"`
}

// Actuator drives an output. Values passed to SetValue are normalised to [0, 1].
type Actuator interface {
	Driver
	SetValue(v float64) error
	SetBinary(on bool) error
	EmergencyStop(reason string) error
	ClearEmergency() error
	InEmergency() bool
	State() ActuatorState
}

// Sensor produces measurements.
type Sensor interface {
	Driver
	Read(ctx context.Context) (float64, error)
	Valid(v float64) bool
	Unit() string
	Quality(v float64) Quality
}

// RawReader is implemented by sensors that can hand out an unconverted value
// (ADC volts, raw counts) for remote processing.
type RawReader interface {
	ReadRaw(ctx context.Context) (float64, error)
}

// Quality classifies a measurement.
type Quality int

const (
	QualityGood Quality = iota
	QualityWarning
	QualityCritical
	QualityStale
)

// String returns the quality name used in payloads.
func (q Quality) String() string {
	switch q {
	case QualityGood:
		return "good"
	case QualityWarning:
		return "warning"
	case QualityCritical:
		return "critical"
	case QualityStale:
		return "stale"
	default:
		return fmt.Sprintf("quality(%d)", int(q))
	}
}

// MarshalText encodes the quality by name.
func (q Quality) MarshalText() ([]byte, error) {
	return []byte(q.String()), nil
}

// Thresholds describes the valid range of a sensor and its warning and critical bands.
type Thresholds struct {
	ValidMin, ValidMax float64
	WarnLow, WarnHigh  float64
	CritLow, CritHigh  float64
}

// Valid reports whether v lies inside the valid range.
func (t Thresholds) Valid(v float64) bool {
	return v >= t.ValidMin && v <= t.ValidMax
}

// Classify maps v to a quality using the warning and critical bands.
func (t Thresholds) Classify(v float64) Quality {
	switch {
	case v <= t.CritLow || v >= t.CritHigh:
		return QualityCritical
	case v <= t.WarnLow || v >= t.WarnHigh:
		return QualityWarning
	default:
		return QualityGood
	}
}

// IsProportional reports whether an actuator type is driven by SetValue rather
// than SetBinary when restoring defaults.
func IsProportional(actuatorType string) bool {
	switch strings.ToUpper(actuatorType) {
	case "PWM", "FAN", "DIMMER":
		return true
	default:
		return false
	}
}

func onOff(on bool) string {
	if on {
		return "ON"
	}
	return "OFF"
}
