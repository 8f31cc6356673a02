package library

import (
	"context"
	"fmt"
	"math"
	"sync"

	"github.com/nerrad567/gray-logic-node/internal/driver"
)

// Factory builds a fresh driver instance for a loaded library.
type Factory func() driver.Driver

// Template turns a validated bundle into a factory. Templates are compiled
// into the firmware; a bundle only selects one and supplies parameters.
type Template struct {
	Kind  string
	Build func(b Bundle, pins driver.Pins) (Factory, error)
}

func builtinTemplates() map[string]Template {
	return map[string]Template{
		"linear_analog": {Kind: KindSensor, Build: buildLinearAnalog},
		"binary_output": {Kind: KindActuator, Build: buildBinaryOutput},
		"pwm_output":    {Kind: KindActuator, Build: buildPWMOutput},
	}
}

func buildLinearAnalog(b Bundle, pins driver.Pins) (Factory, error) {
	limits := driver.Thresholds{
		ValidMin: b.Param("valid_min", math.Inf(-1)),
		ValidMax: b.Param("valid_max", math.Inf(1)),
		CritLow:  b.Param("crit_low", math.Inf(-1)),
		CritHigh: b.Param("crit_high", math.Inf(1)),
	}
	limits.WarnLow = b.Param("warn_low", limits.CritLow)
	limits.WarnHigh = b.Param("warn_high", limits.CritHigh)

	switch {
	case limits.ValidMin >= limits.ValidMax:
		return nil, fmt.Errorf("%w: valid_min must be below valid_max", ErrInvalidBundle)
	case limits.CritLow > limits.WarnLow || limits.WarnHigh > limits.CritHigh:
		return nil, fmt.Errorf("%w: warning band must sit inside critical band", ErrInvalidBundle)
	case limits.WarnLow >= limits.WarnHigh:
		return nil, fmt.Errorf("%w: warn_low must be below warn_high", ErrInvalidBundle)
	}

	scale, offset, unit := b.Param("scale", 1), b.Param("offset", 0), b.Unit
	return func() driver.Driver {
		return &linearSensor{pins: pins, scale: scale, offset: offset, unit: unit, limits: limits}
	}, nil
}

func buildBinaryOutput(b Bundle, pins driver.Pins) (Factory, error) {
	activeLow := b.Param("active_low", 0)
	return func() driver.Driver {
		return &paramActuator{
			Actuator: driver.NewPinActuator(pins, driver.ModeBinary),
			params:   map[string]float64{"active_low": activeLow},
			maxDuty:  1,
		}
	}, nil
}

func buildPWMOutput(b Bundle, pins driver.Pins) (Factory, error) {
	maxDuty := b.Param("max_duty", 1)
	if maxDuty <= 0 || maxDuty > 1 {
		return nil, fmt.Errorf("%w: max_duty must be in (0, 1]", ErrInvalidBundle)
	}
	activeLow := b.Param("active_low", 0)
	return func() driver.Driver {
		return &paramActuator{
			Actuator: driver.NewPinActuator(pins, driver.ModePWM),
			params:   map[string]float64{"active_low": activeLow},
			maxDuty:  maxDuty,
		}
	}, nil
}

// paramActuator injects bundle parameters at Begin and clamps SetValue.
type paramActuator struct {
	driver.Actuator
	params  map[string]float64
	maxDuty float64
}

func (a *paramActuator) Begin(cfg driver.Config) error {
	merged := make(map[string]float64, len(cfg.Params)+len(a.params))
	for k, v := range cfg.Params {
		merged[k] = v
	}
	for k, v := range a.params {
		merged[k] = v
	}
	cfg.Params = merged
	return a.Actuator.Begin(cfg)
}

func (a *paramActuator) SetValue(v float64) error {
	if v >= 0 && v <= 1 {
		v = math.Min(v, a.maxDuty)
	}
	return a.Actuator.SetValue(v)
}

// linearSensor maps an analog voltage through value = volts*scale + offset.
type linearSensor struct {
	mu     sync.Mutex
	pins   driver.Pins
	pin    driver.AnalogPin
	scale  float64
	offset float64
	unit   string
	limits driver.Thresholds
}

func (s *linearSensor) Begin(cfg driver.Config) error {
	pin, err := s.pins.Analog(cfg.GPIO)
	if err != nil {
		return err
	}
	s.mu.Lock()
	s.pin = pin
	s.mu.Unlock()
	return nil
}

func (s *linearSensor) End() error {
	s.mu.Lock()
	s.pin = nil
	s.mu.Unlock()
	return nil
}

func (s *linearSensor) Initialized() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.pin != nil
}

func (s *linearSensor) ReadRaw(ctx context.Context) (float64, error) {
	if err := ctx.Err(); err != nil {
		return 0, err
	}
	s.mu.Lock()
	pin := s.pin
	s.mu.Unlock()
	if pin == nil {
		return 0, driver.ErrNotInitialized
	}
	return pin.Volts()
}

func (s *linearSensor) Read(ctx context.Context) (float64, error) {
	volts, err := s.ReadRaw(ctx)
	if err != nil {
		return 0, err
	}
	return volts*s.scale + s.offset, nil
}

func (s *linearSensor) Valid(v float64) bool            { return s.limits.Valid(v) }
func (s *linearSensor) Unit() string                    { return s.unit }
func (s *linearSensor) Quality(v float64) driver.Quality { return s.limits.Classify(v) }
