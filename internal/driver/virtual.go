package driver

import (
	"context"
	"fmt"
	"strings"
	"sync"
)

// Command log entries recorded by the virtual drivers.
const (
	CmdBegin          = "BEGIN"
	CmdEnd            = "END"
	CmdSetValue       = "SET_VALUE"
	CmdSetBinary      = "SET_BINARY"
	CmdEmergencyStop  = "EMERGENCY_STOP"
	CmdClearEmergency = "CLEAR_EMERGENCY"
	CmdRead           = "READ"
)

// CommandLog is an append-only record of commands received by a virtual driver.
type CommandLog struct {
	mu      sync.Mutex
	entries []string
}

func (l *CommandLog) add(entry string) {
	l.mu.Lock()
	l.entries = append(l.entries, entry)
	l.mu.Unlock()
}

// Entries returns a copy of the log in arrival order.
func (l *CommandLog) Entries() []string {
	l.mu.Lock()
	defer l.mu.Unlock()
	out := make([]string, len(l.entries))
	copy(out, l.entries)
	return out
}

// CountPrefix counts entries starting with prefix.
func (l *CommandLog) CountPrefix(prefix string) int {
	l.mu.Lock()
	defer l.mu.Unlock()
	n := 0
	for _, e := range l.entries {
		if strings.HasPrefix(e, prefix) {
			n++
		}
	}
	return n
}

// Has reports whether an entry equal to cmd was recorded.
func (l *CommandLog) Has(cmd string) bool {
	l.mu.Lock()
	defer l.mu.Unlock()
	for _, e := range l.entries {
		if e == cmd {
			return true
		}
	}
	return false
}

// Reset empties the log.
func (l *CommandLog) Reset() {
	l.mu.Lock()
	l.entries = nil
	l.mu.Unlock()
}

// VirtualActuator is an in-memory actuator that records every command it
// receives. Faults can be injected per operation.
type VirtualActuator struct {
	mu          sync.Mutex
	cfg         Config
	initialized bool
	on          bool
	value       float64
	emergency   bool
	reason      string
	sticky      bool
	failures    map[string]error

	log CommandLog
}

// NewVirtualActuator creates an uninitialised virtual actuator.
func NewVirtualActuator() *VirtualActuator {
	return &VirtualActuator{failures: make(map[string]error)}
}

// Begin initialises the actuator in the off state.
func (v *VirtualActuator) Begin(cfg Config) error {
	v.log.add(CmdBegin)
	v.mu.Lock()
	defer v.mu.Unlock()
	if err := v.failures[CmdBegin]; err != nil {
		return err
	}
	v.cfg = cfg
	v.initialized = true
	v.on = false
	v.value = 0
	return nil
}

// End releases the actuator.
func (v *VirtualActuator) End() error {
	v.log.add(CmdEnd)
	v.mu.Lock()
	defer v.mu.Unlock()
	v.initialized = false
	v.on = false
	v.value = 0
	return v.failures[CmdEnd]
}

// Initialized reports whether Begin succeeded.
func (v *VirtualActuator) Initialized() bool {
	v.mu.Lock()
	defer v.mu.Unlock()
	return v.initialized
}

// SetValue drives the output to a normalised value.
func (v *VirtualActuator) SetValue(val float64) error {
	v.log.add(fmt.Sprintf("%s:%.3f", CmdSetValue, val))
	v.mu.Lock()
	defer v.mu.Unlock()
	if err := v.ready(CmdSetValue); err != nil {
		return err
	}
	if val < 0 || val > 1 {
		return fmt.Errorf("%w: %.3f", ErrValueOutOfRange, val)
	}
	v.value = val
	v.on = val > 0
	return nil
}

// SetBinary switches the output fully on or off.
func (v *VirtualActuator) SetBinary(on bool) error {
	v.log.add(CmdSetBinary + ":" + onOff(on))
	v.mu.Lock()
	defer v.mu.Unlock()
	if err := v.ready(CmdSetBinary); err != nil {
		return err
	}
	v.on = on
	if on {
		v.value = 1
	} else {
		v.value = 0
	}
	return nil
}

func (v *VirtualActuator) ready(op string) error {
	if !v.initialized {
		return ErrNotInitialized
	}
	if v.emergency {
		return ErrEmergencyLatched
	}
	return v.failures[op]
}

// EmergencyStop latches the actuator off. An injected failure leaves the latch unset.
func (v *VirtualActuator) EmergencyStop(reason string) error {
	v.log.add(CmdEmergencyStop + ":" + reason)
	v.mu.Lock()
	defer v.mu.Unlock()
	if err := v.failures[CmdEmergencyStop]; err != nil {
		return err
	}
	v.emergency = true
	v.reason = reason
	v.on = false
	v.value = 0
	return nil
}

// ClearEmergency releases the latch unless a sticky emergency was injected.
func (v *VirtualActuator) ClearEmergency() error {
	v.log.add(CmdClearEmergency)
	v.mu.Lock()
	defer v.mu.Unlock()
	if err := v.failures[CmdClearEmergency]; err != nil {
		return err
	}
	if !v.sticky {
		v.emergency = false
		v.reason = ""
	}
	return nil
}

// InEmergency reports the latch state.
func (v *VirtualActuator) InEmergency() bool {
	v.mu.Lock()
	defer v.mu.Unlock()
	return v.emergency
}

// State returns the current output snapshot.
func (v *VirtualActuator) State() ActuatorState {
	v.mu.Lock()
	defer v.mu.Unlock()
	return ActuatorState{On: v.on, Value: v.value, Emergency: v.emergency, EmergencyReason: v.reason}
}

// Config returns the config passed to Begin.
func (v *VirtualActuator) Config() Config {
	v.mu.Lock()
	defer v.mu.Unlock()
	return v.cfg
}

// Log returns the command log.
func (v *VirtualActuator) Log() *CommandLog { return &v.log }

// FailOn makes the named operation (one of the Cmd constants) return err.
// A nil err clears the injection.
func (v *VirtualActuator) FailOn(op string, err error) {
	v.mu.Lock()
	defer v.mu.Unlock()
	if err == nil {
		delete(v.failures, op)
		return
	}
	v.failures[op] = err
}

// SetStickyEmergency makes ClearEmergency succeed without releasing the latch,
// so verification after a clear fails.
func (v *VirtualActuator) SetStickyEmergency(sticky bool) {
	v.mu.Lock()
	v.sticky = sticky
	v.mu.Unlock()
}

// TriggerFault simulates the hardware latching itself off.
func (v *VirtualActuator) TriggerFault(reason string) {
	v.mu.Lock()
	defer v.mu.Unlock()
	v.emergency = true
	v.reason = reason
	v.on = false
	v.value = 0
}

// VirtualSensor returns a programmable value and records reads.
type VirtualSensor struct {
	mu          sync.Mutex
	cfg         Config
	initialized bool
	value       float64
	raw         float64
	readErr     error
	unit        string
	limits      Thresholds

	log CommandLog
}

// DefaultVirtualThresholds spans a generic percentage scale.
var DefaultVirtualThresholds = Thresholds{
	ValidMin: -1000, ValidMax: 1000,
	WarnLow: -900, WarnHigh: 900,
	CritLow: -990, CritHigh: 990,
}

// NewVirtualSensor creates a virtual sensor with the given unit and thresholds.
func NewVirtualSensor(unit string, limits Thresholds) *VirtualSensor {
	return &VirtualSensor{unit: unit, limits: limits}
}

// Begin initialises the sensor. Params "initial" and "raw" preset the values.
func (s *VirtualSensor) Begin(cfg Config) error {
	s.log.add(CmdBegin)
	s.mu.Lock()
	defer s.mu.Unlock()
	s.cfg = cfg
	s.value = cfg.Param("initial", s.value)
	s.raw = cfg.Param("raw", s.raw)
	s.initialized = true
	return nil
}

// End releases the sensor.
func (s *VirtualSensor) End() error {
	s.log.add(CmdEnd)
	s.mu.Lock()
	s.initialized = false
	s.mu.Unlock()
	return nil
}

// Initialized reports whether Begin succeeded.
func (s *VirtualSensor) Initialized() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.initialized
}

// Read returns the programmed value.
func (s *VirtualSensor) Read(ctx context.Context) (float64, error) {
	s.log.add(CmdRead)
	if err := ctx.Err(); err != nil {
		return 0, err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if !s.initialized {
		return 0, ErrNotInitialized
	}
	if s.readErr != nil {
		return 0, s.readErr
	}
	return s.value, nil
}

// ReadRaw returns the programmed raw value.
func (s *VirtualSensor) ReadRaw(ctx context.Context) (float64, error) {
	if err := ctx.Err(); err != nil {
		return 0, err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if !s.initialized {
		return 0, ErrNotInitialized
	}
	if s.readErr != nil {
		return 0, s.readErr
	}
	return s.raw, nil
}

// Valid reports whether v is within the sensor's valid range.
func (s *VirtualSensor) Valid(v float64) bool { return s.limits.Valid(v) }

// Unit returns the measurement unit.
func (s *VirtualSensor) Unit() string { return s.unit }

// Quality classifies v.
func (s *VirtualSensor) Quality(v float64) Quality { return s.limits.Classify(v) }

// SetValue programs the next processed value.
func (s *VirtualSensor) SetValue(v float64) {
	s.mu.Lock()
	s.value = v
	s.mu.Unlock()
}

// SetRaw programs the next raw value.
func (s *VirtualSensor) SetRaw(v float64) {
	s.mu.Lock()
	s.raw = v
	s.mu.Unlock()
}

// FailReads makes reads return err until called with nil.
func (s *VirtualSensor) FailReads(err error) {
	s.mu.Lock()
	s.readErr = err
	s.mu.Unlock()
}

// Log returns the command log.
func (s *VirtualSensor) Log() *CommandLog { return &s.log }
