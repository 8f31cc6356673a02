// Package driver defines the sensor and actuator driver contracts and the
// concrete backends behind them.
//
// Every slot in the actuator and sensor registries owns exactly one Driver.
// Three families implement the contracts:
//   - Virtual drivers keep state in memory and record a command log, used by
//     the "sim" hardware backend and by tests.
//   - Hardware drivers (PinActuator, DS18B20, PHSensor) drive real lines via a
//     Pins backend; PeriphPins uses periph.io, SimPins is in-memory.
//   - Library drivers are created by the dynamic library loader.
//
// A Catalog picks the family for a Config: Virtual first, then Library, then
// the type tag.
package driver
