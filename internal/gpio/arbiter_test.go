package gpio

import (
	"errors"
	"testing"
)

func testBoard() Board {
	return Board{
		Name:         "test",
		PinCount:     16,
		ReservedPins: []int{0, 1},
		SafeModePins: []int{2},
	}
}

func TestNewArbiter_InitialOwners(t *testing.T) {
	a := NewArbiter(testBoard())

	tests := []struct {
		pin  int
		want Owner
	}{
		{0, OwnerReserved},
		{1, OwnerReserved},
		{2, OwnerSafeMode},
		{3, OwnerFree},
		{15, OwnerFree},
		{16, OwnerReserved}, // out of range reports reserved
		{-1, OwnerReserved},
	}
	for _, tt := range tests {
		if got := a.OwnerOf(tt.pin); got != tt.want {
			t.Errorf("OwnerOf(%d) = %s, want %s", tt.pin, got, tt.want)
		}
	}
}

func TestClaim(t *testing.T) {
	tests := []struct {
		name    string
		setup   func(a *Arbiter)
		pin     int
		owner   Owner
		tag     string
		wantErr error
	}{
		{name: "free pin", pin: 4, owner: OwnerActuator, tag: "pump"},
		{name: "safe mode pin", pin: 2, owner: OwnerSensor, tag: "temp"},
		{name: "reserved pin", pin: 0, owner: OwnerActuator, tag: "pump", wantErr: ErrPinReserved},
		{name: "out of range", pin: 40, owner: OwnerSensor, tag: "temp", wantErr: ErrPinOutOfRange},
		{name: "negative pin", pin: -3, owner: OwnerSensor, tag: "temp", wantErr: ErrPinOutOfRange},
		{name: "free owner kind", pin: 4, owner: OwnerFree, tag: "x", wantErr: ErrInvalidOwner},
		{
			name:    "held by other kind",
			setup:   func(a *Arbiter) { _ = a.Claim(4, OwnerSensor, "temp") },
			pin:     4,
			owner:   OwnerActuator,
			tag:     "pump",
			wantErr: ErrPinInUse,
		},
		{
			name:    "held by same kind other tag",
			setup:   func(a *Arbiter) { _ = a.Claim(4, OwnerActuator, "valve") },
			pin:     4,
			owner:   OwnerActuator,
			tag:     "pump",
			wantErr: ErrPinInUse,
		},
		{
			name:  "re-claim by current owner",
			setup: func(a *Arbiter) { _ = a.Claim(4, OwnerActuator, "pump") },
			pin:   4,
			owner: OwnerActuator,
			tag:   "pump",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			a := NewArbiter(testBoard())
			if tt.setup != nil {
				tt.setup(a)
			}
			before := a.Snapshot()

			err := a.Claim(tt.pin, tt.owner, tt.tag)
			if tt.wantErr == nil {
				if err != nil {
					t.Fatalf("Claim() error = %v", err)
				}
				if got := a.OwnerOf(tt.pin); got != tt.owner {
					t.Errorf("OwnerOf(%d) = %s, want %s", tt.pin, got, tt.owner)
				}
				return
			}

			if !errors.Is(err, tt.wantErr) {
				t.Fatalf("Claim() error = %v, want %v", err, tt.wantErr)
			}
			after := a.Snapshot()
			for i := range before {
				if before[i] != after[i] {
					t.Errorf("failed claim changed pin %d: %+v -> %+v", i, before[i], after[i])
				}
			}
		})
	}
}

func TestRelease(t *testing.T) {
	a := NewArbiter(testBoard())

	if err := a.Claim(5, OwnerActuator, "pump"); err != nil {
		t.Fatalf("Claim() error = %v", err)
	}
	if a.IsAvailable(5) {
		t.Error("claimed pin should not be available")
	}

	if err := a.Release(5); err != nil {
		t.Fatalf("Release() error = %v", err)
	}
	if a.OwnerOf(5) != OwnerFree {
		t.Errorf("OwnerOf(5) after release = %s, want free", a.OwnerOf(5))
	}
	if a.TagOf(5) != "" {
		t.Errorf("TagOf(5) after release = %q, want empty", a.TagOf(5))
	}

	// A different owner can take it now
	if err := a.Claim(5, OwnerSensor, "temp"); err != nil {
		t.Errorf("Claim() after release error = %v", err)
	}

	if err := a.Release(0); !errors.Is(err, ErrPinReserved) {
		t.Errorf("Release(reserved) error = %v, want ErrPinReserved", err)
	}
	if err := a.Release(99); !errors.Is(err, ErrPinOutOfRange) {
		t.Errorf("Release(99) error = %v, want ErrPinOutOfRange", err)
	}
}

func TestSensorActuatorExclusive(t *testing.T) {
	a := NewArbiter(testBoard())

	for pin := 2; pin < 16; pin++ {
		if err := a.Claim(pin, OwnerSensor, "s"); err != nil {
			t.Fatalf("Claim(%d, sensor) error = %v", pin, err)
		}
		if err := a.Claim(pin, OwnerActuator, "a"); !errors.Is(err, ErrPinInUse) {
			t.Fatalf("Claim(%d, actuator) error = %v, want ErrPinInUse", pin, err)
		}
		if a.OwnerOf(pin) != OwnerSensor {
			t.Fatalf("pin %d changed owner after rejected claim", pin)
		}
	}

	if got := a.CountOwned(OwnerSensor); got != 14 {
		t.Errorf("CountOwned(sensor) = %d, want 14", got)
	}
	if got := a.CountOwned(OwnerActuator); got != 0 {
		t.Errorf("CountOwned(actuator) = %d, want 0", got)
	}
}

func TestLookupBoard(t *testing.T) {
	for _, name := range BoardNames() {
		b, err := LookupBoard(name)
		if err != nil {
			t.Fatalf("LookupBoard(%q) error = %v", name, err)
		}
		if b.PinCount <= 0 || b.MaxActuators <= 0 || b.MaxLibrarySize <= 0 || b.MaxBufferedReadings <= 0 {
			t.Errorf("board %q has incomplete limits: %+v", name, b)
		}
		for _, p := range b.ReservedPins {
			if !b.InRange(p) {
				t.Errorf("board %q reserves out of range pin %d", name, p)
			}
		}
	}

	b, _ := LookupBoard("esp32_devkit")
	b.ReservedPins[0] = 33
	again, _ := LookupBoard("esp32_devkit")
	if again.ReservedPins[0] == 33 {
		t.Error("LookupBoard should return a copy")
	}

	if _, err := LookupBoard("arduino_uno"); !errors.Is(err, ErrUnknownBoard) {
		t.Errorf("LookupBoard(unknown) error = %v, want ErrUnknownBoard", err)
	}
}

func TestOwnerString(t *testing.T) {
	if OwnerActuator.String() != "actuator" || OwnerSafeMode.String() != "safe_mode" {
		t.Error("unexpected owner names")
	}
	if Owner(42).String() != "owner(42)" {
		t.Errorf("Owner(42).String() = %q", Owner(42).String())
	}
}

func TestArbiter_CanClaim(t *testing.T) {
	board, _ := LookupBoard("esp32_devkit")
	a := NewArbiter(board)

	if err := a.CanClaim(4, OwnerSensor, "sensor:4"); err != nil {
		t.Fatalf("CanClaim(free) error = %v", err)
	}
	if a.OwnerOf(4) != OwnerFree {
		t.Fatal("CanClaim must not claim")
	}

	_ = a.Claim(4, OwnerSensor, "sensor:4")
	if err := a.CanClaim(4, OwnerSensor, "sensor:4"); err != nil {
		t.Errorf("CanClaim(re-claim) error = %v", err)
	}
	if err := a.CanClaim(4, OwnerActuator, "actuator:4"); !errors.Is(err, ErrPinInUse) {
		t.Errorf("CanClaim(held) error = %v, want ErrPinInUse", err)
	}
	if err := a.CanClaim(6, OwnerActuator, "actuator:6"); !errors.Is(err, ErrPinReserved) {
		t.Errorf("CanClaim(reserved) error = %v, want ErrPinReserved", err)
	}
}
