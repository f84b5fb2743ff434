// Package logging provides the bridge's structured logger.
//
// Logger is a thin wrapper over log/slog. Every entry carries
// service=mqtt-dbus-bridge and the build version; Component adds a
// component field so feed, bus and API events can be told apart:
//
//	log := logging.New(cfg.Logging, version)
//	log.Component("feed").Warn("reading dropped", "topic", topic, "error", err)
//
// Attributes named password, token or secret are replaced with
// [REDACTED] before they are written.
//
// Configuration (config.yaml):
//
//	logging:
//	  level: info     # debug, info, warn, error
//	  format: json    # json, text
//	  output: stdout  # stdout, stderr
package logging
