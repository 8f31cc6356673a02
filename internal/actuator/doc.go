// Package actuator manages the node's configured actuator slots.
//
// A slot binds a gpio (and an optional auxiliary gpio for two-coil valves)
// to one driver instance. The registry claims the pins from the gpio
// arbiter, refuses pins held by sensors, enforces the board's actuator
// limit and replaces a slot configured again on the same gpio.
//
// Commands are refused while the system emergency is active or the slot
// is individually stopped. Package safety drives stop, clear and resume
// through the privileged methods in safety_access.go.
package actuator
