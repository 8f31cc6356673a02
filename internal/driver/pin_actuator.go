package driver

import (
	"errors"
	"fmt"
	"sync"
)

// OutputMode selects how a PinActuator maps commands onto lines.
type OutputMode int

const (
	// ModeBinary switches a single line (pumps, relays).
	ModeBinary OutputMode = iota
	// ModeValve drives an open coil on GPIO and a close coil on AuxGPIO.
	ModeValve
	// ModePWM drives a single line with a duty cycle.
	ModePWM
)

// PinActuator is the hardware actuator backed by Pins.
// Config param "active_low" (non-zero) inverts the line level.
type PinActuator struct {
	mu   sync.Mutex
	pins Pins
	mode OutputMode

	cfg         Config
	main        OutputPin
	aux         OutputPin
	activeLow   bool
	initialized bool
	state       ActuatorState
}

// NewPinActuator creates an actuator in the given mode.
func NewPinActuator(pins Pins, mode OutputMode) *PinActuator {
	return &PinActuator{pins: pins, mode: mode}
}

// Begin opens the lines and drives them to the off state.
func (a *PinActuator) Begin(cfg Config) error {
	a.mu.Lock()
	defer a.mu.Unlock()

	main, err := a.pins.Output(cfg.GPIO)
	if err != nil {
		return fmt.Errorf("opening gpio %d: %w", cfg.GPIO, err)
	}
	var aux OutputPin
	if a.mode == ModeValve && cfg.AuxGPIO != NoGPIO {
		aux, err = a.pins.Output(cfg.AuxGPIO)
		if err != nil {
			return fmt.Errorf("opening aux gpio %d: %w", cfg.AuxGPIO, err)
		}
	}

	a.cfg = cfg
	a.main = main
	a.aux = aux
	a.activeLow = cfg.Param("active_low", 0) != 0
	a.state = ActuatorState{}
	if err := a.driveOff(); err != nil {
		return err
	}
	a.initialized = true
	return nil
}

// End drives the lines off and releases them.
func (a *PinActuator) End() error {
	a.mu.Lock()
	defer a.mu.Unlock()
	if !a.initialized {
		return nil
	}
	a.initialized = false
	err := a.driveOff()
	if herr := a.main.Halt(); herr != nil {
		err = errors.Join(err, herr)
	}
	if a.aux != nil {
		if herr := a.aux.Halt(); herr != nil {
			err = errors.Join(err, herr)
		}
	}
	return err
}

// Initialized reports whether Begin succeeded.
func (a *PinActuator) Initialized() bool {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.initialized
}

// SetValue drives a proportional output. Binary and valve modes switch on at 0.5.
func (a *PinActuator) SetValue(v float64) error {
	a.mu.Lock()
	defer a.mu.Unlock()
	if err := a.ready(); err != nil {
		return err
	}
	if v < 0 || v > 1 {
		return fmt.Errorf("%w: %.3f", ErrValueOutOfRange, v)
	}
	if a.mode != ModePWM {
		return a.switchTo(v >= 0.5)
	}
	if err := a.main.PWM(a.level(v)); err != nil {
		return err
	}
	a.state.Value = v
	a.state.On = v > 0
	return nil
}

// SetBinary switches the output fully on or off.
func (a *PinActuator) SetBinary(on bool) error {
	a.mu.Lock()
	defer a.mu.Unlock()
	if err := a.ready(); err != nil {
		return err
	}
	return a.switchTo(on)
}

// EmergencyStop latches the actuator and drives every line to its safe level.
// The latch is set even when a line write fails.
func (a *PinActuator) EmergencyStop(reason string) error {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.state.Emergency = true
	a.state.EmergencyReason = reason
	if !a.initialized {
		return nil
	}
	return a.driveOff()
}

// ClearEmergency releases the latch. Outputs stay off until commanded.
func (a *PinActuator) ClearEmergency() error {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.state.Emergency = false
	a.state.EmergencyReason = ""
	return nil
}

// InEmergency reports the latch state.
func (a *PinActuator) InEmergency() bool {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.state.Emergency
}

// State returns the current output snapshot.
func (a *PinActuator) State() ActuatorState {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.state
}

func (a *PinActuator) ready() error {
	if !a.initialized {
		return ErrNotInitialized
	}
	if a.state.Emergency {
		return ErrEmergencyLatched
	}
	return nil
}

func (a *PinActuator) level(duty float64) float64 {
	if a.activeLow {
		return 1 - duty
	}
	return duty
}

func (a *PinActuator) set(p OutputPin, on bool) error {
	return p.Set(on != a.activeLow)
}

func (a *PinActuator) switchTo(on bool) error {
	var err error
	switch a.mode {
	case ModePWM:
		d := 0.0
		if on {
			d = 1
		}
		err = a.main.PWM(a.level(d))
	case ModeValve:
		if a.aux == nil {
			// Spring-return valve: one coil, held open while energised.
			err = a.set(a.main, on)
			break
		}
		// Release the opposing coil before energising the other.
		open, shut := a.main, a.aux
		if !on {
			open, shut = a.aux, a.main
		}
		if err = a.set(shut, false); err != nil {
			return err
		}
		err = a.set(open, true)
	default:
		err = a.set(a.main, on)
	}
	if err != nil {
		return err
	}
	a.state.On = on
	if on {
		a.state.Value = 1
	} else {
		a.state.Value = 0
	}
	return nil
}

// driveOff de-energises every line, the valve close coil included.
func (a *PinActuator) driveOff() error {
	var err error
	if a.mode == ModePWM {
		err = a.main.PWM(a.level(0))
	} else {
		err = a.set(a.main, false)
	}
	if a.aux != nil {
		if aerr := a.set(a.aux, false); aerr != nil {
			err = errors.Join(err, aerr)
		}
	}
	a.state.On = false
	a.state.Value = 0
	return err
}
