// Package logging provides structured logging for WatchMe Core.
//
// This package wraps Go's standard log/slog package so every component
// logs with the same default fields (service, version) and level filter.
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
//	logger.Component("device").Info("registered", "device_id", id)
//
// Never log the backend API key or session tokens.
package logging
