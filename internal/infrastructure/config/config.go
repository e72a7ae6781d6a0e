package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// Config is the root configuration structure for the USB role daemon.
// All configuration is loaded from YAML and can be overridden by environment variables.
type Config struct {
	Port     PortConfig     `yaml:"port"`
	Detector DetectorConfig `yaml:"detector"`
	Lines    LinesConfig    `yaml:"lines"`
	Database DatabaseConfig `yaml:"database"`
	History  HistoryConfig  `yaml:"history"`
	MQTT     MQTTConfig     `yaml:"mqtt"`
	InfluxDB InfluxDBConfig `yaml:"influxdb"`
	Logging  LoggingConfig  `yaml:"logging"`
}

// PortConfig identifies the connector being watched.
type PortConfig struct {
	// ID names the port in topics, metrics and history rows (e.g., "otg0").
	ID string `yaml:"id"`

	// WakeSource allows cable events on this port to wake the system.
	WakeSource bool `yaml:"wake_source"`
}

// DetectorConfig contains the cable detection timing.
type DetectorConfig struct {
	// DebounceMS is the quiet period after the last edge before the lines
	// are sampled. Default: 20
	DebounceMS int `yaml:"debounce_ms"`

	// BiasSettleMS is the wait between pulling ID up and attaching its
	// interrupt when host sensing is enabled. Default: 100
	BiasSettleMS int `yaml:"bias_settle_ms"`

	// HostSensingAtStart enables OTG host detection right after startup.
	HostSensingAtStart bool `yaml:"host_sensing_at_start"`
}

// LinesConfig contains the two sense lines. Either may be left unset.
type LinesConfig struct {
	ID   LineConfig `yaml:"id"`
	VBUS LineConfig `yaml:"vbus"`
}

// LineConfig describes one GPIO sense line.
type LineConfig struct {
	// Pin is the GPIO name as known to periph (e.g., "GPIO17"). Empty means absent.
	Pin string `yaml:"pin"`

	// WakeupPath is the sysfs power/wakeup attribute used to arm the line
	// as a wake source. Required when port.wake_source is set.
	WakeupPath string `yaml:"wakeup_path"`
}

// Present reports whether the line is configured.
func (l LineConfig) Present() bool {
	return l.Pin != ""
}

// DatabaseConfig contains SQLite database settings.
type DatabaseConfig struct {
	Path        string `yaml:"path"`
	WALMode     bool   `yaml:"wal_mode"`
	BusyTimeout int    `yaml:"busy_timeout"`
}

// HistoryConfig controls the local capability history.
type HistoryConfig struct {
	Enabled       bool `yaml:"enabled"`
	RetentionDays int  `yaml:"retention_days"`
}

// MQTTConfig contains MQTT broker connection settings.
type MQTTConfig struct {
	Enabled   bool                `yaml:"enabled"`
	Broker    MQTTBrokerConfig    `yaml:"broker"`
	Auth      MQTTAuthConfig      `yaml:"auth"`
	QoS       int                 `yaml:"qos"`
	Reconnect MQTTReconnectConfig `yaml:"reconnect"`
}

// MQTTBrokerConfig contains MQTT broker connection details.
type MQTTBrokerConfig struct {
	Host     string `yaml:"host"`
	Port     int    `yaml:"port"`
	TLS      bool   `yaml:"tls"`
	ClientID string `yaml:"client_id"`
}

// MQTTAuthConfig contains MQTT authentication credentials.
type MQTTAuthConfig struct {
	Username string `yaml:"username"`
	Password string `yaml:"password"`
}

// MQTTReconnectConfig contains MQTT reconnection settings (seconds).
type MQTTReconnectConfig struct {
	InitialDelay int `yaml:"initial_delay"`
	MaxDelay     int `yaml:"max_delay"`
}

// InfluxDBConfig contains InfluxDB connection settings.
type InfluxDBConfig struct {
	Enabled       bool   `yaml:"enabled"`
	URL           string `yaml:"url"`
	Token         string `yaml:"token"`
	Org           string `yaml:"org"`
	Bucket        string `yaml:"bucket"`
	BatchSize     int    `yaml:"batch_size"`
	FlushInterval int    `yaml:"flush_interval"`
}

// LoggingConfig contains logging settings.
type LoggingConfig struct {
	Level  string `yaml:"level"`
	Format string `yaml:"format"`
	Output string `yaml:"output"`
}

// Load reads configuration from a YAML file and applies environment variable overrides.
//
// The configuration loading order is:
//  1. Default values (hardcoded)
//  2. YAML file values (override defaults)
//  3. Environment variables (override file values)
//
// Environment variables follow the pattern: USBROLE_SECTION_KEY
// For example: USBROLE_PORT_ID, USBROLE_MQTT_HOST
func Load(path string) (*Config, error) {
	cfg := defaultConfig()

	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading config file: %w", err)
	}

	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("parsing config file: %w", err)
	}

	if err := applyEnvOverrides(cfg); err != nil {
		return nil, fmt.Errorf("applying environment overrides: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("validating config: %w", err)
	}

	return cfg, nil
}

// defaultConfig returns a Config with sensible defaults.
func defaultConfig() *Config {
	return &Config{
		Port: PortConfig{
			ID: "otg0",
		},
		Detector: DetectorConfig{
			DebounceMS:   20,
			BiasSettleMS: 100,
		},
		Database: DatabaseConfig{
			Path:        "./data/usbrole.db",
			WALMode:     true,
			BusyTimeout: 5,
		},
		History: HistoryConfig{
			Enabled:       true,
			RetentionDays: 30,
		},
		MQTT: MQTTConfig{
			Enabled: true,
			Broker: MQTTBrokerConfig{
				Host:     "localhost",
				Port:     1883,
				ClientID: "usbrole",
			},
			QoS: 1,
			Reconnect: MQTTReconnectConfig{
				InitialDelay: 1,
				MaxDelay:     60,
			},
		},
		Logging: LoggingConfig{
			Level:  "info",
			Format: "json",
			Output: "stdout",
		},
	}
}

// applyEnvOverrides applies environment variable overrides to the configuration.
func applyEnvOverrides(cfg *Config) error {
	if v := os.Getenv("USBROLE_PORT_ID"); v != "" {
		cfg.Port.ID = v
	}
	if v := os.Getenv("USBROLE_PORT_WAKE_SOURCE"); v != "" {
		b, err := strconv.ParseBool(v)
		if err != nil {
			return fmt.Errorf("USBROLE_PORT_WAKE_SOURCE: %w", err)
		}
		cfg.Port.WakeSource = b
	}

	if v := os.Getenv("USBROLE_DETECTOR_DEBOUNCE_MS"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil {
			return fmt.Errorf("USBROLE_DETECTOR_DEBOUNCE_MS: %w", err)
		}
		cfg.Detector.DebounceMS = n
	}

	if v := os.Getenv("USBROLE_LINES_ID_PIN"); v != "" {
		cfg.Lines.ID.Pin = v
	}
	if v := os.Getenv("USBROLE_LINES_VBUS_PIN"); v != "" {
		cfg.Lines.VBUS.Pin = v
	}

	if v := os.Getenv("USBROLE_DATABASE_PATH"); v != "" {
		cfg.Database.Path = v
	}

	if v := os.Getenv("USBROLE_MQTT_HOST"); v != "" {
		cfg.MQTT.Broker.Host = v
	}
	if v := os.Getenv("USBROLE_MQTT_USERNAME"); v != "" {
		cfg.MQTT.Auth.Username = v
	}
	if v := os.Getenv("USBROLE_MQTT_PASSWORD"); v != "" {
		cfg.MQTT.Auth.Password = v
	}

	if v := os.Getenv("USBROLE_INFLUXDB_TOKEN"); v != "" {
		cfg.InfluxDB.Token = v
	}

	if v := os.Getenv("USBROLE_LOG_LEVEL"); v != "" {
		cfg.Logging.Level = v
	}

	return nil
}

// Validate checks the configuration for errors. All problems are reported
// together rather than stopping at the first.
func (c *Config) Validate() error {
	var errs []string

	if c.Port.ID == "" {
		errs = append(errs, "port.id is required")
	} else if strings.ContainsAny(c.Port.ID, "/+#") {
		errs = append(errs, "port.id must not contain MQTT topic characters (/ + #)")
	}

	if !c.Lines.ID.Present() && !c.Lines.VBUS.Present() {
		errs = append(errs, "at least one of lines.id.pin and lines.vbus.pin is required")
	}

	if c.Port.WakeSource {
		for name, line := range map[string]LineConfig{"id": c.Lines.ID, "vbus": c.Lines.VBUS} {
			if line.Present() && line.WakeupPath == "" {
				errs = append(errs, fmt.Sprintf("lines.%s.wakeup_path is required when port.wake_source is set", name))
			}
		}
	}

	if c.Detector.DebounceMS < 0 {
		errs = append(errs, "detector.debounce_ms must not be negative")
	}
	if c.Detector.BiasSettleMS < 0 {
		errs = append(errs, "detector.bias_settle_ms must not be negative")
	}

	if c.History.Enabled {
		if c.Database.Path == "" {
			errs = append(errs, "database.path is required when history is enabled")
		}
		if c.History.RetentionDays < 0 {
			errs = append(errs, "history.retention_days must not be negative")
		}
	}

	if c.MQTT.Enabled {
		if c.MQTT.QoS < 0 || c.MQTT.QoS > 2 {
			errs = append(errs, "mqtt.qos must be 0, 1, or 2")
		}
		if c.MQTT.Broker.Port < 1 || c.MQTT.Broker.Port > 65535 {
			errs = append(errs, "mqtt.broker.port must be between 1 and 65535")
		}
	}

	if c.InfluxDB.Enabled && c.InfluxDB.URL == "" {
		errs = append(errs, "influxdb.url is required when influxdb is enabled")
	}

	if len(errs) > 0 {
		return fmt.Errorf("configuration errors: %s", strings.Join(errs, "; "))
	}

	return nil
}

// Debounce returns the detector quiet period as a Duration.
func (c *Config) Debounce() time.Duration {
	return time.Duration(c.Detector.DebounceMS) * time.Millisecond
}

// BiasSettle returns the ID bias settle time as a Duration.
func (c *Config) BiasSettle() time.Duration {
	return time.Duration(c.Detector.BiasSettleMS) * time.Millisecond
}

// Retention returns how long history rows are kept. Zero means forever.
func (c *Config) Retention() time.Duration {
	return time.Duration(c.History.RetentionDays) * 24 * time.Hour
}
