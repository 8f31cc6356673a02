package driver

import (
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"sync"

	"periph.io/x/conn/v3/gpio"
	"periph.io/x/conn/v3/gpio/gpioreg"
	"periph.io/x/conn/v3/physic"
	"periph.io/x/host/v3"
)

// DefaultIIODevice is the sysfs industrial-I/O device used for analog reads.
const DefaultIIODevice = "/sys/bus/iio/devices/iio:device0"

// PWMFrequency is the carrier used for proportional outputs.
const PWMFrequency = physic.KiloHertz

// PeriphPins opens real GPIO lines through periph.io. Analog channels are read
// from the kernel IIO sysfs interface, where channel N maps to GPIO N.
type PeriphPins struct {
	once    sync.Once
	initErr error
	iioDir  string
}

// NewPeriphPins creates a periph.io backend. Host drivers load lazily on first use.
func NewPeriphPins(iioDir string) *PeriphPins {
	if iioDir == "" {
		iioDir = DefaultIIODevice
	}
	return &PeriphPins{iioDir: iioDir}
}

func (p *PeriphPins) init() error {
	p.once.Do(func() {
		if _, err := host.Init(); err != nil {
			p.initErr = fmt.Errorf("initialising periph host: %w", err)
		}
	})
	return p.initErr
}

// Output opens GPIO n as an output line.
func (p *PeriphPins) Output(n int) (OutputPin, error) {
	if err := p.init(); err != nil {
		return nil, err
	}
	pin := gpioreg.ByName(fmt.Sprintf("GPIO%d", n))
	if pin == nil {
		return nil, fmt.Errorf("%w: GPIO%d", ErrUnknownLine, n)
	}
	if err := pin.Out(gpio.Low); err != nil {
		return nil, fmt.Errorf("configuring GPIO%d as output: %w", n, err)
	}
	return &periphOutput{pin: pin}, nil
}

// Analog opens IIO channel n.
func (p *PeriphPins) Analog(n int) (AnalogPin, error) {
	raw := filepath.Join(p.iioDir, fmt.Sprintf("in_voltage%d_raw", n))
	if _, err := os.Stat(raw); err != nil {
		return nil, fmt.Errorf("%w: analog channel %d: %v", ErrUnknownLine, n, err)
	}
	return &iioAnalog{
		raw:   raw,
		scale: filepath.Join(p.iioDir, "in_voltage_scale"),
	}, nil
}

type periphOutput struct {
	pin gpio.PinIO
}

func (o *periphOutput) Set(high bool) error {
	return o.pin.Out(gpio.Level(high))
}

func (o *periphOutput) PWM(duty float64) error {
	if duty <= 0 {
		return o.pin.Out(gpio.Low)
	}
	if duty >= 1 {
		return o.pin.Out(gpio.High)
	}
	return o.pin.PWM(gpio.Duty(duty*float64(gpio.DutyMax)), PWMFrequency)
}

func (o *periphOutput) Halt() error {
	if err := o.pin.Out(gpio.Low); err != nil {
		return err
	}
	return o.pin.Halt()
}

type iioAnalog struct {
	raw   string
	scale string
}

// Volts reads the raw count and multiplies by the channel scale (millivolts per count).
func (a *iioAnalog) Volts() (float64, error) {
	count, err := readFloat(a.raw)
	if err != nil {
		return 0, err
	}
	scale, err := readFloat(a.scale)
	if err != nil {
		scale = 1
	}
	return count * scale / 1000, nil
}

func readFloat(path string) (float64, error) {
	data, err := os.ReadFile(path) //nolint:gosec // sysfs path built from a fixed device root
	if err != nil {
		return 0, err
	}
	v, err := strconv.ParseFloat(strings.TrimSpace(string(data)), 64)
	if err != nil {
		return 0, fmt.Errorf("parsing %s: %w", path, err)
	}
	return v, nil
}
