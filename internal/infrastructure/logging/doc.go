// Package logging provides structured logging for a Gray Logic node.
//
// It wraps log/slog so every component logs the same way: JSON in production,
// text when someone is watching a serial console, and the default fields
// service and version on every entry.
//
// # Configuration
//
//	logging:
//	  level: "info"      # debug, info, warn, error
//	  format: "json"     # json, text
//	  output: "stdout"   # stdout, stderr
//
// # Usage
//
//	logger := logging.New(cfg.Logging, "1.0.0")
//	logger.Component("actuator").Info("configured", "gpio", 5)
//
// Never log MQTT passwords or tokens.
package logging
