package gpio

import (
	"fmt"
	"sync"
)

// Owner identifies which kind of component holds a pin.
type Owner int

const (
	OwnerFree Owner = iota
	OwnerSensor
	OwnerActuator
	OwnerSafeMode
	OwnerReserved
)

// String returns the owner name used in logs and status payloads.
func (o Owner) String() string {
	switch o {
	case OwnerFree:
		return "free"
	case OwnerSensor:
		return "sensor"
	case OwnerActuator:
		return "actuator"
	case OwnerSafeMode:
		return "safe_mode"
	case OwnerReserved:
		return "reserved"
	default:
		return fmt.Sprintf("owner(%d)", int(o))
	}
}

// Logger defines the logging interface used by the Arbiter.
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

// PinRecord is one row of the ownership table.
type PinRecord struct {
	Pin   int    `json:"gpio"`
	Owner Owner  `json:"-"`
	Kind  string `json:"owner"`
	Tag   string `json:"tag,omitempty"`
}

type pinState struct {
	owner Owner
	tag   string
}

// Arbiter is the single source of truth for GPIO ownership.
//
// The table is sized to the board's pin count at construction and never grows.
// Pins only change hands through Claim and Release; a pin held by one owner must
// be released before anyone else can claim it.
type Arbiter struct {
	board  Board
	mu     sync.RWMutex
	table  []pinState
	logger Logger
}

// NewArbiter builds the ownership table for board. Reserved pins are marked
// Reserved, strap pins start in SafeMode and everything else is Free.
func NewArbiter(board Board) *Arbiter {
	a := &Arbiter{
		board:  board,
		table:  make([]pinState, board.PinCount),
		logger: noopLogger{},
	}
	for _, p := range board.SafeModePins {
		if board.InRange(p) {
			a.table[p].owner = OwnerSafeMode
		}
	}
	for _, p := range board.ReservedPins {
		if board.InRange(p) {
			a.table[p].owner = OwnerReserved
		}
	}
	return a
}

// SetLogger sets the logger for the arbiter.
func (a *Arbiter) SetLogger(logger Logger) {
	a.logger = logger
}

// Board returns the profile the arbiter was built for.
func (a *Arbiter) Board() Board {
	return a.board
}

// Claim assigns pin to owner. tag names the claiming component (for example
// "actuator:pump-1") and lets the same component re-claim a pin it already holds.
//
// Claim succeeds when the pin is Free or in SafeMode, or when it is already held
// by the same owner kind under the same tag. A failed claim leaves the table untouched.
func (a *Arbiter) Claim(pin int, owner Owner, tag string) error {
	a.mu.Lock()
	defer a.mu.Unlock()

	reclaim, err := a.check(pin, owner, tag)
	if err != nil || reclaim {
		return err
	}
	a.table[pin] = pinState{owner: owner, tag: tag}
	a.logger.Debug("gpio claimed", "gpio", pin, "owner", owner.String(), "tag", tag)
	return nil
}

// CanClaim reports the error Claim would return, without claiming.
func (a *Arbiter) CanClaim(pin int, owner Owner, tag string) error {
	a.mu.RLock()
	defer a.mu.RUnlock()
	_, err := a.check(pin, owner, tag)
	return err
}

// check validates a claim. reclaim is true when the same owner and tag
// already hold the pin.
func (a *Arbiter) check(pin int, owner Owner, tag string) (reclaim bool, err error) {
	if owner != OwnerSensor && owner != OwnerActuator && owner != OwnerSafeMode {
		return false, fmt.Errorf("%w: %s", ErrInvalidOwner, owner)
	}
	if !a.board.InRange(pin) {
		return false, fmt.Errorf("%w: gpio %d (board %s has %d pins)", ErrPinOutOfRange, pin, a.board.Name, a.board.PinCount)
	}

	cur := a.table[pin]
	switch {
	case cur.owner == OwnerReserved:
		return false, fmt.Errorf("%w: gpio %d on board %s", ErrPinReserved, pin, a.board.Name)
	case cur.owner == OwnerFree, cur.owner == OwnerSafeMode:
		return false, nil
	case cur.owner == owner && cur.tag == tag:
		return true, nil
	default:
		return false, fmt.Errorf("%w: gpio %d held by %s %q", ErrPinInUse, pin, cur.owner, cur.tag)
	}
}

// Release returns pin to Free.
func (a *Arbiter) Release(pin int) error {
	if !a.board.InRange(pin) {
		return fmt.Errorf("%w: gpio %d", ErrPinOutOfRange, pin)
	}

	a.mu.Lock()
	defer a.mu.Unlock()

	if a.table[pin].owner == OwnerReserved {
		return fmt.Errorf("%w: gpio %d", ErrPinReserved, pin)
	}
	prev := a.table[pin]
	a.table[pin] = pinState{owner: OwnerFree}
	a.logger.Debug("gpio released", "gpio", pin, "previous_owner", prev.owner.String(), "tag", prev.tag)
	return nil
}

// OwnerOf returns the current owner kind. Pins outside the board report Reserved.
func (a *Arbiter) OwnerOf(pin int) Owner {
	if !a.board.InRange(pin) {
		return OwnerReserved
	}
	a.mu.RLock()
	defer a.mu.RUnlock()
	return a.table[pin].owner
}

// TagOf returns the tag of the component holding pin, or "".
func (a *Arbiter) TagOf(pin int) string {
	if !a.board.InRange(pin) {
		return ""
	}
	a.mu.RLock()
	defer a.mu.RUnlock()
	return a.table[pin].tag
}

// IsAvailable reports whether a sensor or actuator could claim pin right now.
func (a *Arbiter) IsAvailable(pin int) bool {
	switch a.OwnerOf(pin) {
	case OwnerFree, OwnerSafeMode:
		return true
	default:
		return false
	}
}

// CountOwned returns how many pins are currently held by owner.
func (a *Arbiter) CountOwned(owner Owner) int {
	a.mu.RLock()
	defer a.mu.RUnlock()

	n := 0
	for _, st := range a.table {
		if st.owner == owner {
			n++
		}
	}
	return n
}

// Snapshot returns a copy of the ownership table, one record per pin.
func (a *Arbiter) Snapshot() []PinRecord {
	a.mu.RLock()
	defer a.mu.RUnlock()

	out := make([]PinRecord, len(a.table))
	for pin, st := range a.table {
		out[pin] = PinRecord{Pin: pin, Owner: st.owner, Kind: st.owner.String(), Tag: st.tag}
	}
	return out
}
