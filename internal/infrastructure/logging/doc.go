// Package logging wraps log/slog for structured logging across Gray
// Mesh Core: JSON for production, text for development, level
// filtering, and service/version fields on every record.
//
// Configured via the logging section of config.yaml:
//
//	logging:
//	  level: "info"      # debug, info, warn, error
//	  format: "json"     # json, text
//	  output: "stdout"   # stdout, stderr
//
// Subsystems get tagged child loggers through With:
//
//	log := logging.New(cfg.Logging, version)
//	registry.SetLogger(log.With("component", "device"))
//
// Never log secrets, gateway tokens, or broker credentials.
package logging
