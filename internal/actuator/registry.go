package actuator

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/nerrad567/gray-logic-node/internal/driver"
	"github.com/nerrad567/gray-logic-node/internal/gpio"
)

// Logger defines the logging interface used by the Registry.
type Logger interface {
	Debug(msg string, args ...any)
	Info(msg string, args ...any)
	Warn(msg string, args ...any)
	Error(msg string, args ...any)
}

type noopLogger struct{}

func (noopLogger) Debug(string, ...any) {}
func (noopLogger) Info(string, ...any)  {}
func (noopLogger) Warn(string, ...any)  {}
func (noopLogger) Error(string, ...any) {}

// Provider builds actuator drivers. driver.Catalog implements it.
type Provider interface {
	NewActuator(cfg driver.Config) (driver.Actuator, error)
}

// EmergencyGuard reports whether the system-wide emergency stop is active.
// The safety controller implements it.
type EmergencyGuard interface {
	EmergencyActive() bool
}

// StatusNotifier is told about every successful mutation. It is called with
// the registry lock held and must not call back into the Registry.
type StatusNotifier interface {
	ActuatorChanged(s Status)
	ActuatorRemoved(gpio int)
}

type noopNotifier struct{}

func (noopNotifier) ActuatorChanged(Status) {}
func (noopNotifier) ActuatorRemoved(int)    {}

type noGuard struct{}

func (noGuard) EmergencyActive() bool { return false }

type slot struct {
	cfg        Config
	drv        driver.Actuator
	stopped    bool
	stopReason string
	runtime    time.Duration
	lastTick   time.Time
}

func (s *slot) status() Status {
	return Status{
		GPIO:         s.cfg.GPIO,
		AuxGPIO:      s.cfg.AuxGPIO,
		Type:         s.cfg.Type,
		Name:         s.cfg.Name,
		SubzoneID:    s.cfg.SubzoneID,
		Active:       s.cfg.Active,
		Stopped:      s.stopped,
		StopReason:   s.stopReason,
		State:        s.drv.State(),
		RuntimeHours: s.runtime.Hours(),
		Library:      s.cfg.Library,
	}
}

// Registry owns the configured actuator slots. Every slot's pins are held
// as OwnerActuator in the arbiter for as long as the slot exists, and each
// slot exclusively owns its driver.
//
// Value and binary commands are refused while the guard reports a system
// emergency or the slot is individually stopped. The safety controller uses
// the privileged StopSlot, ClearSlot and RestoreDefault methods, which bypass
// the guard.
//
// All public methods are thread-safe.
type Registry struct {
	mu       sync.RWMutex
	arbiter  *gpio.Arbiter
	provider Provider
	max      int
	slots    map[int]*slot

	guard    EmergencyGuard
	notifier StatusNotifier
	logger   Logger
}

// New creates an empty actuator registry.
//
// The registry starts with no emergency guard, a no-op notifier and a no-op
// logger; the node wires the real ones with SetGuard, SetNotifier and SetLogger
// before any slot is configured.
//
// Parameters:
//   - arbiter: Pin ownership table shared with the sensor registry
//   - provider: Builds a driver for each configured slot (usually a driver.Catalog)
//   - maxActuators: Slot limit, taken from the board profile
//
// Returns:
//   - *Registry: Registry ready for Configure
func New(arbiter *gpio.Arbiter, provider Provider, maxActuators int) *Registry {
	return &Registry{
		arbiter:  arbiter,
		provider: provider,
		max:      maxActuators,
		slots:    make(map[int]*slot),
		guard:    noGuard{},
		notifier: noopNotifier{},
		logger:   noopLogger{},
	}
}

// SetLogger sets the logger for the registry.
func (r *Registry) SetLogger(logger Logger) {
	r.mu.Lock()
	r.logger = logger
	r.mu.Unlock()
}

// SetGuard wires the system emergency state.
func (r *Registry) SetGuard(g EmergencyGuard) {
	r.mu.Lock()
	r.guard = g
	r.mu.Unlock()
}

// SetNotifier wires status publication.
func (r *Registry) SetNotifier(n StatusNotifier) {
	r.mu.Lock()
	r.notifier = n
	r.mu.Unlock()
}

const emergencyReason = "system emergency active"

func tag(gpioNum int) string {
	return fmt.Sprintf("actuator:%d", gpioNum)
}

// Configure creates or replaces the slot on cfg.GPIO.
//
// Every pin is checked before anything changes: a pin held by a sensor is
// ErrPinOwnedBySensor, and other arbiter refusals are returned as-is. A prior
// slot on the same gpio is ended and released before the new one claims.
// If the new driver fails to begin, its claims are released and no slot remains.
func (r *Registry) Configure(ctx context.Context, cfg Config) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if err := cfg.Validate(); err != nil {
		return err
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	prior, replacing := r.slots[cfg.GPIO]
	if !replacing && len(r.slots) >= r.max {
		return fmt.Errorf("%w (%d)", ErrCapacity, r.max)
	}
	t := tag(cfg.GPIO)
	for _, pin := range cfg.pins() {
		if r.arbiter.OwnerOf(pin) == gpio.OwnerSensor {
			return fmt.Errorf("%w: gpio %d (%s)", ErrPinOwnedBySensor, pin, r.arbiter.TagOf(pin))
		}
		if err := r.arbiter.CanClaim(pin, gpio.OwnerActuator, t); err != nil {
			return err
		}
	}

	drv, err := r.provider.NewActuator(cfg.driverConfig())
	if err != nil {
		return fmt.Errorf("building %s driver: %w", cfg.Type, err)
	}

	if replacing {
		r.teardown(prior)
	}

	// The prior slot is gone from here on, so a failure leaves the gpio empty.
	fail := func(claimed []int, err error) error {
		r.release(claimed)
		if replacing {
			r.notifier.ActuatorRemoved(cfg.GPIO)
		}
		return err
	}

	var claimed []int
	for _, pin := range cfg.pins() {
		if err := r.arbiter.Claim(pin, gpio.OwnerActuator, t); err != nil {
			return fail(claimed, err)
		}
		claimed = append(claimed, pin)
	}

	if err := drv.Begin(cfg.driverConfig()); err != nil {
		return fail(claimed, fmt.Errorf("starting %s driver on gpio %d: %w", cfg.Type, cfg.GPIO, err))
	}

	s := &slot{cfg: cfg, drv: drv}
	r.slots[cfg.GPIO] = s

	switch {
	case r.guard.EmergencyActive():
		// Stopped, not faulted: clear and resume pick it up with the rest.
		s.stopped = true
		s.stopReason = emergencyReason
		if err := drv.EmergencyStop(emergencyReason); err != nil {
			r.logger.Warn("stopping new actuator during emergency failed", "gpio", cfg.GPIO, "error", err)
		}
	case cfg.Active && (cfg.DefaultState || cfg.DefaultValue > 0):
		if err := applyDefault(s); err != nil {
			r.logger.Warn("applying default state failed", "gpio", cfg.GPIO, "error", err)
		}
	}

	r.logger.Info("actuator configured",
		"gpio", cfg.GPIO, "type", cfg.Type, "name", cfg.Name, "replaced", replacing)
	r.notifier.ActuatorChanged(s.status())
	return nil
}

// teardown ends the driver and releases the slot's pins. Caller holds r.mu.
func (r *Registry) teardown(s *slot) {
	if err := r.destroy(s); err != nil {
		r.logger.Warn("ending actuator driver failed", "gpio", s.cfg.GPIO, "error", err)
	}
	r.release(s.cfg.pins())
	delete(r.slots, s.cfg.GPIO)
}

func (r *Registry) destroy(s *slot) error {
	if d, ok := r.provider.(driver.Destroyer); ok {
		return d.Destroy(s.cfg.driverConfig(), s.drv)
	}
	return s.drv.End()
}

func (r *Registry) release(pins []int) {
	for _, pin := range pins {
		if err := r.arbiter.Release(pin); err != nil {
			r.logger.Warn("releasing gpio failed", "gpio", pin, "error", err)
		}
	}
}

// Remove ends the slot's driver and releases its pins.
func (r *Registry) Remove(_ context.Context, gpioNum int) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	s, ok := r.slots[gpioNum]
	if !ok {
		return fmt.Errorf("%w: gpio %d", ErrNotConfigured, gpioNum)
	}
	r.teardown(s)
	r.logger.Info("actuator removed", "gpio", gpioNum)
	r.notifier.ActuatorRemoved(gpioNum)
	return nil
}

// SetValue drives a proportional value in [0, 1].
func (r *Registry) SetValue(_ context.Context, gpioNum int, v float64) error {
	return r.command(gpioNum, func(d driver.Actuator) error { return d.SetValue(v) })
}

// SetBinary switches an actuator on or off.
func (r *Registry) SetBinary(_ context.Context, gpioNum int, on bool) error {
	return r.command(gpioNum, func(d driver.Actuator) error { return d.SetBinary(on) })
}

func (r *Registry) command(gpioNum int, fn func(driver.Actuator) error) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	s, ok := r.slots[gpioNum]
	switch {
	case !ok:
		return fmt.Errorf("%w: gpio %d", ErrNotConfigured, gpioNum)
	case r.guard.EmergencyActive():
		return ErrEmergencyActive
	case s.stopped:
		return fmt.Errorf("%w: gpio %d", ErrEmergencyStopped, gpioNum)
	case !s.cfg.Active:
		return fmt.Errorf("%w: gpio %d", ErrInactive, gpioNum)
	}
	if err := fn(s.drv); err != nil {
		return fmt.Errorf("gpio %d: %w", gpioNum, err)
	}
	r.notifier.ActuatorChanged(s.status())
	return nil
}

// HasActuatorOn reports whether a slot exists on gpio.
func (r *Registry) HasActuatorOn(gpioNum int) bool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	_, ok := r.slots[gpioNum]
	return ok
}

// Config returns the slot's configuration.
func (r *Registry) Config(gpioNum int) (Config, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	s, ok := r.slots[gpioNum]
	if !ok {
		return Config{}, false
	}
	return s.cfg, true
}

// Status returns the slot's published view.
func (r *Registry) Status(gpioNum int) (Status, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	s, ok := r.slots[gpioNum]
	if !ok {
		return Status{}, false
	}
	return s.status(), true
}

// List returns every slot's status in gpio order.
func (r *Registry) List() []Status {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]Status, 0, len(r.slots))
	for _, s := range r.slots {
		out = append(out, s.status())
	}
	sort.Slice(out, func(i, j int) bool { return out[i].GPIO < out[j].GPIO })
	return out
}

// Count returns the number of configured slots.
func (r *Registry) Count() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.slots)
}

// LibraryInUse reports whether any slot's driver came from the named library.
func (r *Registry) LibraryInUse(name string) bool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	for _, s := range r.slots {
		if s.cfg.Library == name {
			return true
		}
	}
	return false
}

// Tick accumulates runtime for every slot whose output is on.
func (r *Registry) Tick(now time.Time) {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, s := range r.slots {
		if !s.lastTick.IsZero() && s.drv.State().On && now.After(s.lastTick) {
			s.runtime += now.Sub(s.lastTick)
		}
		s.lastTick = now
	}
}

// RuntimeHours returns the accumulated on-time of a slot.
func (r *Registry) RuntimeHours(gpioNum int) float64 {
	r.mu.RLock()
	defer r.mu.RUnlock()
	if s, ok := r.slots[gpioNum]; ok {
		return s.runtime.Hours()
	}
	return 0
}
