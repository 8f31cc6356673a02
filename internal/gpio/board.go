package gpio

import (
	"fmt"
	"sort"
	"strings"
)

// Board describes what a node's SoC and PCB can offer the arbiter: how many GPIO
// lines exist, which ones are permanently off limits, and the capacity limits the
// registries, loader and offline buffer must respect.
type Board struct {
	Name     string
	PinCount int

	// ReservedPins can never be claimed (flash, console UART, missing pads).
	ReservedPins []int

	// SafeModePins start in safe mode (input, no pull) because they strap the
	// boot mode. They may still be claimed.
	SafeModePins []int

	MaxSensors          int
	MaxActuators        int
	MaxLibrarySize      int
	MaxLibraries        int
	MaxBufferedReadings int
}

var boards = map[string]Board{
	"esp32_devkit": {
		Name:     "esp32_devkit",
		PinCount: 40,
		// 0 boot strap, 1/3 console UART, 6-11 SPI flash, 20/24/28-31 not bonded out
		ReservedPins:        []int{0, 1, 3, 6, 7, 8, 9, 10, 11, 20, 24, 28, 29, 30, 31},
		SafeModePins:        []int{2, 5, 12, 15},
		MaxSensors:          20,
		MaxActuators:        12,
		MaxLibrarySize:      64 * 1024,
		MaxLibraries:        8,
		MaxBufferedReadings: 100,
	},
	"xiao_esp32c3": {
		Name:                "xiao_esp32c3",
		PinCount:            22,
		ReservedPins:        []int{11, 12, 13, 14, 15, 16, 17, 18, 19},
		SafeModePins:        []int{2, 8, 9},
		MaxSensors:          10,
		MaxActuators:        6,
		MaxLibrarySize:      32 * 1024,
		MaxLibraries:        4,
		MaxBufferedReadings: 50,
	},
	"host_sim": {
		Name:                "host_sim",
		PinCount:            64,
		MaxSensors:          32,
		MaxActuators:        32,
		MaxLibrarySize:      256 * 1024,
		MaxLibraries:        16,
		MaxBufferedReadings: 1000,
	},
}

// LookupBoard returns a copy of the named board profile.
func LookupBoard(name string) (Board, error) {
	b, ok := boards[name]
	if !ok {
		return Board{}, fmt.Errorf("%w: %q (known: %s)", ErrUnknownBoard, name, strings.Join(BoardNames(), ", "))
	}
	b.ReservedPins = append([]int(nil), b.ReservedPins...)
	b.SafeModePins = append([]int(nil), b.SafeModePins...)
	return b, nil
}

// BoardNames lists the registered profiles in sorted order.
func BoardNames() []string {
	names := make([]string, 0, len(boards))
	for name := range boards {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// IsReserved reports whether pin is permanently reserved on this board.
func (b Board) IsReserved(pin int) bool {
	for _, p := range b.ReservedPins {
		if p == pin {
			return true
		}
	}
	return false
}

// InRange reports whether pin exists on this board.
func (b Board) InRange(pin int) bool {
	return pin >= 0 && pin < b.PinCount
}
