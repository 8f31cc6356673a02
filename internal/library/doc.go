// Package library installs sensor and actuator driver libraries at runtime.
//
// A library arrives as base64 text wrapping a CBOR Bundle manifest. The
// manifest selects one of the templates compiled into the firmware and
// supplies its parameters:
//
//	linear_analog  sensor    value = volts*scale + offset, with valid and
//	                         warning/critical bands
//	binary_output  actuator  on/off line, optional active_low
//	pwm_output     actuator  duty-cycle line clamped to max_duty
//
// Loaded bundles are persisted and reinstalled by Restore at boot. The
// actuator and sensor registries are registered as InUseCheckers so a
// library cannot be unloaded while a slot is bound to one of its instances.
package library
