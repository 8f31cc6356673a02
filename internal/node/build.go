package node

import (
	"fmt"

	"github.com/nerrad567/gray-logic-node/internal/actuator"
	"github.com/nerrad567/gray-logic-node/internal/buffer"
	"github.com/nerrad567/gray-logic-node/internal/driver"
	"github.com/nerrad567/gray-logic-node/internal/gpio"
	"github.com/nerrad567/gray-logic-node/internal/infrastructure/config"
	"github.com/nerrad567/gray-logic-node/internal/infrastructure/logging"
	"github.com/nerrad567/gray-logic-node/internal/library"
	"github.com/nerrad567/gray-logic-node/internal/safety"
	"github.com/nerrad567/gray-logic-node/internal/sensor"
)

// Components are the core parts of a node, built from configuration but
// not yet wired to each other. New does the wiring.
type Components struct {
	Board     gpio.Board
	Arbiter   *gpio.Arbiter
	Catalog   *driver.Catalog
	Actuators *actuator.Registry
	Sensors   *sensor.Registry
	Safety    *safety.Controller
	Buffer    *buffer.Buffer
	Loader    *library.Loader
}

// ResolveBoard looks up the configured profile and applies the per-deployment
// overrides. Limits can only be narrowed; extra reserved pins are added to
// the profile's own.
func ResolveBoard(cfg config.BoardConfig) (gpio.Board, error) {
	b, err := gpio.LookupBoard(cfg.Profile)
	if err != nil {
		return gpio.Board{}, err
	}
	narrow := func(limit *int, override int) {
		if override > 0 && override < *limit {
			*limit = override
		}
	}
	narrow(&b.MaxSensors, cfg.MaxSensors)
	narrow(&b.MaxActuators, cfg.MaxActuators)
	narrow(&b.MaxLibrarySize, cfg.MaxLibrarySize)
	narrow(&b.MaxLibraries, cfg.MaxLibraries)
	narrow(&b.MaxBufferedReadings, cfg.MaxBufferedReadings)
	for _, p := range cfg.ReservedPins {
		if !b.IsReserved(p) {
			b.ReservedPins = append(b.ReservedPins, p)
		}
	}
	return b, nil
}

// BuildComponents creates every core component from cfg. Hardware drivers
// are bound to pins; the "sim" backend forces virtual drivers throughout.
func BuildComponents(cfg *config.Config, pins driver.Pins) (*Components, error) {
	board, err := ResolveBoard(cfg.Board)
	if err != nil {
		return nil, fmt.Errorf("resolving board: %w", err)
	}

	arbiter := gpio.NewArbiter(board)

	catalog := driver.NewCatalog(pins, cfg.Hardware.W1Dir)
	catalog.SetSimulate(cfg.Hardware.Backend == "sim")

	actuators := actuator.New(arbiter, catalog, board.MaxActuators)

	sensors := sensor.New(arbiter, catalog, board.MaxSensors)
	sensors.SetPollInterval(cfg.PollInterval())
	sensors.SetStaleAfter(cfg.StaleAfter())
	if cfg.Sensors.PiEnhanced.Enabled {
		sensors.SetProcessor(sensor.NewHTTPProcessor(cfg.Sensors.PiEnhanced.URL, cfg.Node.ID), cfg.RemoteTimeout())
	}

	ctrl := safety.New(actuators, safety.RecoveryConfig{
		MaxRetryAttempts:   cfg.Safety.MaxRetryAttempts,
		InterActuatorDelay: cfg.InterActuatorDelay(),
		VerifyDelay:        cfg.VerifyDelay(),
	})

	buf := buffer.New(board.MaxBufferedReadings)

	loader := library.New(library.Limits{
		MaxLibrarySize: board.MaxLibrarySize,
		MaxLibraries:   board.MaxLibraries,
	}, pins)

	return &Components{
		Board:     board,
		Arbiter:   arbiter,
		Catalog:   catalog,
		Actuators: actuators,
		Sensors:   sensors,
		Safety:    ctrl,
		Buffer:    buf,
		Loader:    loader,
	}, nil
}

// SetLogger gives each component its own child logger.
func (c *Components) SetLogger(log *logging.Logger) {
	c.Arbiter.SetLogger(log.Component("gpio"))
	c.Actuators.SetLogger(log.Component("actuator"))
	c.Sensors.SetLogger(log.Component("sensor"))
	c.Safety.SetLogger(log.Component("safety"))
	c.Buffer.SetLogger(log.Component("buffer"))
	c.Loader.SetLogger(log.Component("library"))
}

// Options returns node options populated with these components.
func (c *Components) Options(cfg *config.Config) Options {
	return Options{
		Config:    cfg,
		Arbiter:   c.Arbiter,
		Catalog:   c.Catalog,
		Actuators: c.Actuators,
		Sensors:   c.Sensors,
		Safety:    c.Safety,
		Buffer:    c.Buffer,
		Loader:    c.Loader,
	}
}
