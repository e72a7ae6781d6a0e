// Package logging provides structured logging for the USB role daemon.
//
// It wraps log/slog so every record carries the same default fields
// (service, version) and honours the configured level and format.
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
//	logger := logging.New(cfg.Logging, version)
//	logger.Info("usb port ready", "port_id", cfg.Port.ID)
//	logger.Error("publishing capability failed", "error", err)
//
// Never log MQTT passwords or InfluxDB tokens.
package logging
