// Package sensor implements the node's sensor registry.
//
// Each slot binds one gpio, claimed as OwnerSensor in the arbiter, to a
// local driver. Pi-enhanced slots first send the raw measurement to a
// remote Processor (HTTPProcessor talks to the Pi server) under a bounded
// timeout and fall back to the local driver when that fails. Every hybrid
// read is counted as requests_total, then as either requests_success_remote
// or fallback_uses, both in Stats and in Prometheus.
//
// Quality is the driver's verdict on the last successful value, except that
// a slot with no successful read within StaleAfter is always Stale.
package sensor
