// Package logging provides structured logging for linebuffer.
//
// This package wraps Go's standard log/slog package so every component
// (TSDB client, MQTT client, ingest bridge, CLI) logs the same way.
//
// # Configuration
//
//	logging:
//	  level: "info"      # debug, info, warn, error
//	  format: "json"     # json, text
//	  output: "stdout"   # stdout, stderr, discard
//
// # Usage
//
//	logger := logging.New(cfg.Logging, "1.0.0")
//	logger.Info("flushed batch", "lines", 1000)
//
// Never log the TSDB bearer token or MQTT password.
package logging
