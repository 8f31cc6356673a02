package driver

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"sync"
)

// DefaultW1Dir is the kernel 1-Wire bus directory.
const DefaultW1Dir = "/sys/bus/w1/devices"

// ds18b20PowerOn is the scratchpad value reported before the first conversion.
const ds18b20PowerOn = 85.0

// DS18B20Thresholds covers the sensor's rated range with greenhouse-style bands.
var DS18B20Thresholds = Thresholds{
	ValidMin: -55, ValidMax: 125,
	WarnLow: 5, WarnHigh: 35,
	CritLow: 0, CritHigh: 45,
}

// DS18B20 reads a 1-Wire temperature probe through the w1_therm sysfs interface.
type DS18B20 struct {
	mu          sync.Mutex
	dir         string
	device      string
	limits      Thresholds
	initialized bool
}

// NewDS18B20 creates a probe reader rooted at dir (DefaultW1Dir when empty).
func NewDS18B20(dir string) *DS18B20 {
	if dir == "" {
		dir = DefaultW1Dir
	}
	return &DS18B20{dir: dir, limits: DS18B20Thresholds}
}

// Begin locates the probe. An empty Address selects the first 28-* device on the bus.
func (d *DS18B20) Begin(cfg Config) error {
	d.mu.Lock()
	defer d.mu.Unlock()

	device := cfg.Address
	if device == "" {
		matches, err := filepath.Glob(filepath.Join(d.dir, "28-*"))
		if err != nil {
			return err
		}
		if len(matches) == 0 {
			return fmt.Errorf("%w: no DS18B20 on %s", ErrUnknownLine, d.dir)
		}
		device = filepath.Base(matches[0])
	}
	if _, err := os.Stat(filepath.Join(d.dir, device, "w1_slave")); err != nil {
		return fmt.Errorf("%w: DS18B20 %s: %v", ErrUnknownLine, device, err)
	}
	d.device = device
	if lo, hi := cfg.Param("warn_low", d.limits.WarnLow), cfg.Param("warn_high", d.limits.WarnHigh); lo < hi {
		d.limits.WarnLow, d.limits.WarnHigh = lo, hi
	}
	d.initialized = true
	return nil
}

// End releases the probe.
func (d *DS18B20) End() error {
	d.mu.Lock()
	d.initialized = false
	d.mu.Unlock()
	return nil
}

// Initialized reports whether Begin succeeded.
func (d *DS18B20) Initialized() bool {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.initialized
}

// Read returns the temperature in degrees Celsius.
func (d *DS18B20) Read(ctx context.Context) (float64, error) {
	if err := ctx.Err(); err != nil {
		return 0, err
	}
	d.mu.Lock()
	if !d.initialized {
		d.mu.Unlock()
		return 0, ErrNotInitialized
	}
	path := filepath.Join(d.dir, d.device, "w1_slave")
	d.mu.Unlock()

	data, err := os.ReadFile(path) //nolint:gosec // sysfs path under the configured bus root
	if err != nil {
		return 0, fmt.Errorf("reading %s: %w", path, err)
	}
	return parseW1Slave(string(data))
}

// parseW1Slave decodes the two-line w1_therm output:
//
//	72 01 4b 46 7f ff 0e 10 57 : crc=57 YES
//	72 01 4b 46 7f ff 0e 10 57 t=23125
func parseW1Slave(s string) (float64, error) {
	lines := strings.Split(strings.TrimSpace(s), "\n")
	if len(lines) < 2 {
		return 0, fmt.Errorf("%w: short w1_slave output", ErrInvalidReading)
	}
	if !strings.HasSuffix(strings.TrimSpace(lines[0]), "YES") {
		return 0, fmt.Errorf("%w: crc check failed", ErrInvalidReading)
	}
	idx := strings.LastIndex(lines[1], "t=")
	if idx < 0 {
		return 0, fmt.Errorf("%w: no temperature field", ErrInvalidReading)
	}
	milli, err := strconv.Atoi(strings.TrimSpace(lines[1][idx+2:]))
	if err != nil {
		return 0, fmt.Errorf("%w: %v", ErrInvalidReading, err)
	}
	return float64(milli) / 1000, nil
}

// Valid rejects out-of-range values and the power-on scratchpad value.
func (d *DS18B20) Valid(v float64) bool {
	return d.limits.Valid(v) && v != ds18b20PowerOn
}

// Unit returns "°C".
func (d *DS18B20) Unit() string { return "°C" }

// Quality classifies v.
func (d *DS18B20) Quality(v float64) Quality { return d.limits.Classify(v) }
