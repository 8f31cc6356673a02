package driver

import (
	"fmt"
	"sync"
)

// OutputPin is a digital or PWM-capable output line.
type OutputPin interface {
	Set(high bool) error
	PWM(duty float64) error
	Halt() error
}

// AnalogPin samples a voltage.
type AnalogPin interface {
	Volts() (float64, error)
}

// Pins opens hardware lines by GPIO number.
type Pins interface {
	Output(gpio int) (OutputPin, error)
	Analog(gpio int) (AnalogPin, error)
}

// SimPin is one simulated line. Its fields are read through the accessor
// methods so tests can inspect what a driver wrote.
type SimPin struct {
	mu     sync.Mutex
	high   bool
	duty   float64
	halted bool
	volts  float64
	err    error
}

// Set drives the line.
func (p *SimPin) Set(high bool) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.err != nil {
		return p.err
	}
	p.high = high
	p.halted = false
	if high {
		p.duty = 1
	} else {
		p.duty = 0
	}
	return nil
}

// PWM sets a duty cycle in [0, 1].
func (p *SimPin) PWM(duty float64) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.err != nil {
		return p.err
	}
	p.duty = duty
	p.high = duty > 0
	p.halted = false
	return nil
}

// Halt stops driving the line.
func (p *SimPin) Halt() error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.halted = true
	p.high = false
	p.duty = 0
	return nil
}

// Volts returns the programmed voltage.
func (p *SimPin) Volts() (float64, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.err != nil {
		return 0, p.err
	}
	return p.volts, nil
}

// High reports the current level.
func (p *SimPin) High() bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.high
}

// Duty reports the current duty cycle.
func (p *SimPin) Duty() float64 {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.duty
}

// Halted reports whether Halt was the last call.
func (p *SimPin) Halted() bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.halted
}

// SetVolts programs the value returned by Volts.
func (p *SimPin) SetVolts(v float64) {
	p.mu.Lock()
	p.volts = v
	p.mu.Unlock()
}

// Fail makes every subsequent operation return err; nil clears it.
func (p *SimPin) Fail(err error) {
	p.mu.Lock()
	p.err = err
	p.mu.Unlock()
}

// SimPins is an in-memory Pins backend used for the "sim" hardware backend and tests.
type SimPins struct {
	mu    sync.Mutex
	lines map[int]*SimPin
	limit int
}

// NewSimPins creates a backend accepting GPIO numbers in [0, pinCount).
func NewSimPins(pinCount int) *SimPins {
	return &SimPins{lines: make(map[int]*SimPin), limit: pinCount}
}

// Pin returns the simulated line for gpio, creating it on first use.
func (s *SimPins) Pin(gpio int) *SimPin {
	s.mu.Lock()
	defer s.mu.Unlock()
	p, ok := s.lines[gpio]
	if !ok {
		p = &SimPin{}
		s.lines[gpio] = p
	}
	return p
}

func (s *SimPins) check(gpio int) error {
	if gpio < 0 || (s.limit > 0 && gpio >= s.limit) {
		return fmt.Errorf("%w: %d", ErrUnknownLine, gpio)
	}
	return nil
}

// Output opens gpio as an output.
func (s *SimPins) Output(gpio int) (OutputPin, error) {
	if err := s.check(gpio); err != nil {
		return nil, err
	}
	return s.Pin(gpio), nil
}

// Analog opens gpio as an analog input.
func (s *SimPins) Analog(gpio int) (AnalogPin, error) {
	if err := s.check(gpio); err != nil {
		return nil, err
	}
	return s.Pin(gpio), nil
}
