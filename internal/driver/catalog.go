package driver

import (
	"fmt"
	"strings"
	"sync"
)

// ActuatorBuilder constructs an uninitialised actuator for a config.
type ActuatorBuilder func(cfg Config) (Actuator, error)

// SensorBuilder constructs an uninitialised sensor for a config.
type SensorBuilder func(cfg Config) (Sensor, error)

// LibrarySource builds driver instances from loaded driver libraries.
type LibrarySource interface {
	CreateInstance(name string) (Driver, error)
	DestroyInstance(name string, inst Driver) error
}

// Destroyer ends a driver through whatever built it. Registries use it in
// place of a bare End when their provider implements it.
type Destroyer interface {
	Destroy(cfg Config, d Driver) error
}

// Catalog maps type tags to driver builders.
type Catalog struct {
	mu        sync.RWMutex
	actuators map[string]ActuatorBuilder
	sensors   map[string]SensorBuilder
	library   LibrarySource
	simulate  bool
}

// NewCatalog creates a catalog with the built-in hardware types wired to pins
// and the 1-Wire bus under w1Dir.
func NewCatalog(pins Pins, w1Dir string) *Catalog {
	c := &Catalog{
		actuators: make(map[string]ActuatorBuilder),
		sensors:   make(map[string]SensorBuilder),
	}

	binary := func(Config) (Actuator, error) { return NewPinActuator(pins, ModeBinary), nil }
	pwm := func(Config) (Actuator, error) { return NewPinActuator(pins, ModePWM), nil }
	c.RegisterActuator("PUMP", binary)
	c.RegisterActuator("RELAY", binary)
	c.RegisterActuator("HEATER", binary)
	c.RegisterActuator("VALVE", func(Config) (Actuator, error) { return NewPinActuator(pins, ModeValve), nil })
	c.RegisterActuator("PWM", pwm)
	c.RegisterActuator("FAN", pwm)
	c.RegisterActuator("DIMMER", pwm)

	c.RegisterSensor("DS18B20", func(Config) (Sensor, error) { return NewDS18B20(w1Dir), nil })
	c.RegisterSensor("PH", func(Config) (Sensor, error) { return NewPHSensor(pins), nil })
	return c
}

// RegisterActuator adds or replaces the builder for a type tag.
func (c *Catalog) RegisterActuator(typ string, b ActuatorBuilder) {
	c.mu.Lock()
	c.actuators[strings.ToUpper(typ)] = b
	c.mu.Unlock()
}

// RegisterSensor adds or replaces the builder for a type tag.
func (c *Catalog) RegisterSensor(typ string, b SensorBuilder) {
	c.mu.Lock()
	c.sensors[strings.ToUpper(typ)] = b
	c.mu.Unlock()
}

// SetLibrarySource wires the loader used for configs naming a library.
func (c *Catalog) SetLibrarySource(src LibrarySource) {
	c.mu.Lock()
	c.library = src
	c.mu.Unlock()
}

// SetSimulate forces virtual drivers for every config.
func (c *Catalog) SetSimulate(on bool) {
	c.mu.Lock()
	c.simulate = on
	c.mu.Unlock()
}

// NewActuator selects a driver for cfg: virtual, then library, then by type.
func (c *Catalog) NewActuator(cfg Config) (Actuator, error) {
	c.mu.RLock()
	simulate, src, b := c.simulate, c.library, c.actuators[strings.ToUpper(cfg.Type)]
	c.mu.RUnlock()

	switch {
	case cfg.Virtual || simulate:
		return NewVirtualActuator(), nil
	case cfg.Library != "":
		d, err := fromLibrary(src, cfg.Library)
		if err != nil {
			return nil, err
		}
		a, ok := d.(Actuator)
		if !ok {
			return nil, fmt.Errorf("%w: %s is not an actuator", ErrKindMismatch, cfg.Library)
		}
		return a, nil
	case b == nil:
		return nil, fmt.Errorf("%w: actuator %q", ErrUnknownType, cfg.Type)
	default:
		return b(cfg)
	}
}

// NewSensor selects a driver for cfg: virtual, then library, then by type.
func (c *Catalog) NewSensor(cfg Config) (Sensor, error) {
	c.mu.RLock()
	simulate, src, b := c.simulate, c.library, c.sensors[strings.ToUpper(cfg.Type)]
	c.mu.RUnlock()

	switch {
	case cfg.Virtual || simulate:
		return NewVirtualSensor(virtualUnit(cfg.Type), virtualThresholds(cfg.Type)), nil
	case cfg.Library != "":
		d, err := fromLibrary(src, cfg.Library)
		if err != nil {
			return nil, err
		}
		s, ok := d.(Sensor)
		if !ok {
			return nil, fmt.Errorf("%w: %s is not a sensor", ErrKindMismatch, cfg.Library)
		}
		return s, nil
	case b == nil:
		return nil, fmt.Errorf("%w: sensor %q", ErrUnknownType, cfg.Type)
	default:
		return b(cfg)
	}
}

// Destroy ends d. Instances built by a library are handed back to it.
func (c *Catalog) Destroy(cfg Config, d Driver) error {
	c.mu.RLock()
	simulate, src := c.simulate, c.library
	c.mu.RUnlock()

	if cfg.Library != "" && !cfg.Virtual && !simulate && src != nil {
		return src.DestroyInstance(cfg.Library, d)
	}
	return d.End()
}

func fromLibrary(src LibrarySource, name string) (Driver, error) {
	if src == nil {
		return nil, fmt.Errorf("%w: %s", ErrNoLibrarySource, name)
	}
	return src.CreateInstance(name)
}

func virtualUnit(typ string) string {
	switch strings.ToUpper(typ) {
	case "DS18B20":
		return "°C"
	case "PH":
		return "pH"
	default:
		return ""
	}
}

func virtualThresholds(typ string) Thresholds {
	switch strings.ToUpper(typ) {
	case "DS18B20":
		return DS18B20Thresholds
	case "PH":
		return PHThresholds
	default:
		return DefaultVirtualThresholds
	}
}
