package driver

import (
	"context"
	"sync"
)

// Default analog pH probe calibration.
const (
	DefaultPHNeutralVolts = 1.50
	DefaultPHAcidVolts    = 2.03
)

// PHThresholds uses hydroponic nutrient bands.
var PHThresholds = Thresholds{
	ValidMin: 0, ValidMax: 14,
	WarnLow: 5.5, WarnHigh: 7.5,
	CritLow: 4.5, CritHigh: 8.5,
}

// PHSensor converts an analog probe voltage to pH using a two-point
// calibration at pH 7 ("neutral_volts") and pH 4 ("acid_volts").
type PHSensor struct {
	mu          sync.Mutex
	pins        Pins
	pin         AnalogPin
	neutral     float64
	slope       float64
	initialized bool
}

// NewPHSensor creates a pH sensor reading through pins.
func NewPHSensor(pins Pins) *PHSensor {
	return &PHSensor{pins: pins}
}

// Begin opens the analog channel and loads calibration.
func (p *PHSensor) Begin(cfg Config) error {
	pin, err := p.pins.Analog(cfg.GPIO)
	if err != nil {
		return err
	}
	neutral := cfg.Param("neutral_volts", DefaultPHNeutralVolts)
	acid := cfg.Param("acid_volts", DefaultPHAcidVolts)

	p.mu.Lock()
	defer p.mu.Unlock()
	p.pin = pin
	p.neutral = neutral
	p.slope = (acid - neutral) / (4 - 7)
	if p.slope == 0 {
		p.neutral, p.slope = DefaultPHNeutralVolts, (DefaultPHAcidVolts-DefaultPHNeutralVolts)/(4-7)
	}
	p.initialized = true
	return nil
}

// End releases the channel.
func (p *PHSensor) End() error {
	p.mu.Lock()
	p.initialized = false
	p.mu.Unlock()
	return nil
}

// Initialized reports whether Begin succeeded.
func (p *PHSensor) Initialized() bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.initialized
}

// ReadRaw returns the probe voltage.
func (p *PHSensor) ReadRaw(ctx context.Context) (float64, error) {
	if err := ctx.Err(); err != nil {
		return 0, err
	}
	p.mu.Lock()
	pin, ok := p.pin, p.initialized
	p.mu.Unlock()
	if !ok {
		return 0, ErrNotInitialized
	}
	return pin.Volts()
}

// Read returns the calibrated pH.
func (p *PHSensor) Read(ctx context.Context) (float64, error) {
	volts, err := p.ReadRaw(ctx)
	if err != nil {
		return 0, err
	}
	return p.Convert(volts), nil
}

// Convert maps a probe voltage to pH with the current calibration.
func (p *PHSensor) Convert(volts float64) float64 {
	p.mu.Lock()
	defer p.mu.Unlock()
	return 7 + (volts-p.neutral)/p.slope
}

// Valid reports whether v is a physical pH.
func (p *PHSensor) Valid(v float64) bool { return PHThresholds.Valid(v) }

// Unit returns "pH".
func (p *PHSensor) Unit() string { return "pH" }

// Quality classifies v.
func (p *PHSensor) Quality(v float64) Quality { return PHThresholds.Classify(v) }
