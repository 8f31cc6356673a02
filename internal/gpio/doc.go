// Package gpio owns the node's pin table.
//
// Every sensor and actuator slot claims its pins here before binding a driver,
// which is what keeps a pump and a temperature probe from ever being wired to
// the same line. The table is fixed-size (one entry per pin on the selected
// board profile) and each pin has exactly one owner kind at a time:
//
//	Free ──Claim──▶ Sensor | Actuator ──Release──▶ Free
//	SafeMode ──Claim──▶ Sensor | Actuator
//	Reserved (never changes)
//
// Board profiles (esp32_devkit, xiao_esp32c3, host_sim) carry the reserved strap
// and flash pins together with the capacity limits used by the registries,
// library loader and offline buffer.
package gpio
