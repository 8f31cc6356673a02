package actuator

import (
	"fmt"
	"sort"

	"github.com/nerrad567/gray-logic-node/internal/driver"
)

// The methods in this file are for the safety controller only. They bypass
// the emergency guard so that stop, clear and resume can run while the
// system emergency is active.

// GPIOs returns the configured gpios in ascending order.
func (r *Registry) GPIOs() []int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]int, 0, len(r.slots))
	for g := range r.slots {
		out = append(out, g)
	}
	sort.Ints(out)
	return out
}

// StopSlot marks the slot stopped and latches its driver. The flag is set
// even when the driver call fails; the error is returned for the record.
func (r *Registry) StopSlot(gpioNum int, reason string) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	s, ok := r.slots[gpioNum]
	if !ok {
		return fmt.Errorf("%w: gpio %d", ErrNotConfigured, gpioNum)
	}
	s.stopped = true
	s.stopReason = reason
	err := s.drv.EmergencyStop(reason)
	r.notifier.ActuatorChanged(s.status())
	if err != nil {
		return fmt.Errorf("gpio %d: %w", gpioNum, err)
	}
	return nil
}

// ClearSlot clears the driver latch and verifies it took effect. The slot's
// stopped flag is cleared only on verified success.
func (r *Registry) ClearSlot(gpioNum int) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	s, ok := r.slots[gpioNum]
	if !ok {
		return fmt.Errorf("%w: gpio %d", ErrNotConfigured, gpioNum)
	}
	if err := s.drv.ClearEmergency(); err != nil {
		return fmt.Errorf("gpio %d: %w", gpioNum, err)
	}
	if s.drv.InEmergency() {
		return fmt.Errorf("%w: gpio %d", ErrClearNotVerified, gpioNum)
	}
	s.stopped = false
	s.stopReason = ""
	r.notifier.ActuatorChanged(s.status())
	return nil
}

// RestoreDefault drives an active slot to its configured default. Inactive
// slots are left off.
func (r *Registry) RestoreDefault(gpioNum int) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	s, ok := r.slots[gpioNum]
	if !ok {
		return fmt.Errorf("%w: gpio %d", ErrNotConfigured, gpioNum)
	}
	if !s.cfg.Active {
		return nil
	}
	if err := applyDefault(s); err != nil {
		return fmt.Errorf("gpio %d: %w", gpioNum, err)
	}
	r.notifier.ActuatorChanged(s.status())
	return nil
}

func applyDefault(s *slot) error {
	if driver.IsProportional(s.cfg.Type) {
		return s.drv.SetValue(s.cfg.DefaultValue)
	}
	return s.drv.SetBinary(s.cfg.DefaultState)
}

// Stopped reports the slot's individual stop flag.
func (r *Registry) Stopped(gpioNum int) bool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	s, ok := r.slots[gpioNum]
	return ok && s.stopped
}

// Faulted returns gpios whose driver latched itself without being stopped.
func (r *Registry) Faulted() []int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	var out []int
	for g, s := range r.slots {
		if !s.stopped && s.drv.InEmergency() {
			out = append(out, g)
		}
	}
	sort.Ints(out)
	return out
}
