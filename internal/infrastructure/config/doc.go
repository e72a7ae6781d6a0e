// Package config handles loading and validating the USB role daemon configuration.
//
// This package manages:
//   - Loading configuration from YAML files
//   - Overriding with USBROLE_* environment variables
//   - Validation of required fields
//   - Default value handling
//
// Sensitive values (MQTT password, InfluxDB token) should be set via
// environment variables rather than committed to the config file.
//
// Usage:
//
//	cfg, err := config.Load("/etc/usbrole/config.yaml")
//	if err != nil {
//	    log.Fatal(err)
//	}
//	fmt.Println(cfg.Port.ID, cfg.Debounce())
package config
