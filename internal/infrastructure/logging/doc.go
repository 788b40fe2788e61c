// Package logging provides structured logging for the Gray Logic registry.
//
// This package wraps Go's standard log/slog package to provide
// consistent, structured logging across the entire application.
//
// # Configuration
//
// Logging is configured via the LoggingConfig in config.yaml:
//
//	logging:
//	  level: "info"      # debug, info, warn, error
//	  format: "json"     # json, text
//	  output: "stdout"   # stdout, stderr, file
//	  file:
//	    path: "/var/log/graylogic/registry.log"
//
// # Security
//
// Never log raw tokens. Every component logs auth.Fingerprint(token) instead:
//
//	logger.Info("device promoted", "device", auth.Fingerprint(tok))
package logging
