package config

import (
	"fmt"
	"os"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// Config is the root configuration structure for Gray Mesh Core.
// All configuration is loaded from YAML and can be overridden by environment variables.
type Config struct {
	Site     SiteConfig     `yaml:"site"`
	Gateway  GatewayConfig  `yaml:"gateway"`
	Relay    RelayConfig    `yaml:"relay"`
	Database DatabaseConfig `yaml:"database"`
	InfluxDB InfluxDBConfig `yaml:"influxdb"`
	MQTT     MQTTConfig     `yaml:"mqtt"`
	Logging  LoggingConfig  `yaml:"logging"`
}

// SiteConfig contains site-specific information.
type SiteConfig struct {
	ID       string `yaml:"id"`
	Name     string `yaml:"name"`
	Timezone string `yaml:"timezone"`
}

// GatewayConfig contains gateway mesh transport settings.
type GatewayConfig struct {
	// MulticastGroup is the group gateways announce telemetry on.
	MulticastGroup string `yaml:"multicast_group"`

	// Port is the UDP port for both multicast telemetry and unicast
	// commands.
	Port int `yaml:"port"`

	// Interface optionally names the NIC to join the group on.
	Interface string `yaml:"interface"`

	// Addr is the fallback gateway address for outbound commands, used
	// until the gateway reports its own ip.
	Addr string `yaml:"addr"`

	// Secret is the shared secret from the gateway's companion app,
	// required for outbound commands. Exactly 16 characters when set.
	Secret string `yaml:"secret"`

	// HistoryDepth bounds each capability's measurement history.
	HistoryDepth int `yaml:"history_depth"`
}

// RelayConfig contains TCP fan-out relay settings.
type RelayConfig struct {
	Enabled    bool   `yaml:"enabled"`
	Addr       string `yaml:"addr"`
	MaxClients int    `yaml:"max_clients"`
}

// DatabaseConfig contains SQLite database settings.
type DatabaseConfig struct {
	Path        string `yaml:"path"`
	WALMode     bool   `yaml:"wal_mode"`
	BusyTimeout int    `yaml:"busy_timeout"`
}

// InfluxDBConfig contains InfluxDB connection settings for the
// measurement history sink.
type InfluxDBConfig struct {
	Enabled       bool   `yaml:"enabled"`
	URL           string `yaml:"url"`
	Token         string `yaml:"token"`
	Org           string `yaml:"org"`
	Bucket        string `yaml:"bucket"`
	BatchSize     int    `yaml:"batch_size"`
	FlushInterval int    `yaml:"flush_interval"`
}

// MQTTConfig contains MQTT settings for the event republisher.
type MQTTConfig struct {
	Enabled   bool                `yaml:"enabled"`
	Broker    MQTTBrokerConfig    `yaml:"broker"`
	Auth      MQTTAuthConfig      `yaml:"auth"`
	QoS       int                 `yaml:"qos"`
	Reconnect MQTTReconnectConfig `yaml:"reconnect"`

	// RetainState publishes capability state messages retained so new
	// subscribers immediately see the last known value.
	RetainState bool `yaml:"retain_state"`

	// CoarsePrecision, when positive, enables the drift-filtered coarse
	// topic variant at this precision.
	CoarsePrecision float64 `yaml:"coarse_precision"`
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

// MQTTReconnectConfig contains MQTT reconnection settings.
type MQTTReconnectConfig struct {
	InitialDelay int `yaml:"initial_delay"`
	MaxDelay     int `yaml:"max_delay"`
	MaxAttempts  int `yaml:"max_attempts"`
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
// Environment variables follow the pattern: GRAYMESH_SECTION_KEY
// For example: GRAYMESH_DATABASE_PATH, GRAYMESH_GATEWAY_SECRET
func Load(path string) (*Config, error) {
	// Start with defaults
	cfg := defaultConfig()

	// Read and parse YAML file
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading config file: %w", err)
	}

	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("parsing config file: %w", err)
	}

	// Apply environment variable overrides
	applyEnvOverrides(cfg)

	// Validate configuration
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("validating config: %w", err)
	}

	return cfg, nil
}

// defaultConfig returns a Config with sensible defaults.
func defaultConfig() *Config {
	return &Config{
		Site: SiteConfig{
			ID:       "site-001",
			Name:     "Gray Mesh",
			Timezone: "UTC",
		},
		Gateway: GatewayConfig{
			MulticastGroup: "224.0.0.50",
			Port:           9898,
			HistoryDepth:   10,
		},
		Relay: RelayConfig{
			Addr:       ":9899",
			MaxClients: 32,
		},
		Database: DatabaseConfig{
			Path:        "./data/graymesh.db",
			WALMode:     true,
			BusyTimeout: 5,
		},
		MQTT: MQTTConfig{
			Broker: MQTTBrokerConfig{
				Host:     "localhost",
				Port:     1883,
				ClientID: "graymesh-core",
			},
			QoS: 1,
			Reconnect: MQTTReconnectConfig{
				InitialDelay: 1,
				MaxDelay:     60,
				MaxAttempts:  0,
			},
			RetainState: true,
		},
		Logging: LoggingConfig{
			Level:  "info",
			Format: "json",
			Output: "stdout",
		},
	}
}

// applyEnvOverrides applies environment variable overrides to the configuration.
// Environment variables follow the pattern: GRAYMESH_SECTION_KEY
func applyEnvOverrides(cfg *Config) {
	// Database
	if v := os.Getenv("GRAYMESH_DATABASE_PATH"); v != "" {
		cfg.Database.Path = v
	}

	// Gateway secret (IMPORTANT: prefer the environment over the file)
	if v := os.Getenv("GRAYMESH_GATEWAY_SECRET"); v != "" {
		cfg.Gateway.Secret = v
	}
	if v := os.Getenv("GRAYMESH_GATEWAY_ADDR"); v != "" {
		cfg.Gateway.Addr = v
	}

	// MQTT
	if v := os.Getenv("GRAYMESH_MQTT_HOST"); v != "" {
		cfg.MQTT.Broker.Host = v
	}
	if v := os.Getenv("GRAYMESH_MQTT_USERNAME"); v != "" {
		cfg.MQTT.Auth.Username = v
	}
	if v := os.Getenv("GRAYMESH_MQTT_PASSWORD"); v != "" {
		cfg.MQTT.Auth.Password = v
	}

	// InfluxDB
	if v := os.Getenv("GRAYMESH_INFLUXDB_TOKEN"); v != "" {
		cfg.InfluxDB.Token = v
	}
}

// gatewaySecretLength is the exact length of a gateway shared secret:
// one AES block of key material.
const gatewaySecretLength = 16

// Validate checks the configuration for errors.
func (c *Config) Validate() error {
	var errs []string

	// Site validation
	if c.Site.ID == "" {
		errs = append(errs, "site.id is required")
	}

	// Gateway validation
	if c.Gateway.Port < 1 || c.Gateway.Port > 65535 {
		errs = append(errs, "gateway.port must be between 1 and 65535")
	}
	if c.Gateway.Secret != "" && len(c.Gateway.Secret) != gatewaySecretLength {
		errs = append(errs, "gateway.secret must be exactly 16 characters")
	}
	if c.Gateway.HistoryDepth < 1 {
		errs = append(errs, "gateway.history_depth must be at least 1")
	}

	// Relay validation
	if c.Relay.Enabled && c.Relay.Addr == "" {
		errs = append(errs, "relay.addr is required when relay is enabled")
	}

	// Database validation
	if c.Database.Path == "" {
		errs = append(errs, "database.path is required")
	}

	// InfluxDB validation
	if c.InfluxDB.Enabled {
		if c.InfluxDB.URL == "" {
			errs = append(errs, "influxdb.url is required when influxdb is enabled")
		}
		if c.InfluxDB.Token == "" {
			errs = append(errs, "influxdb.token is required when influxdb is enabled (set GRAYMESH_INFLUXDB_TOKEN environment variable)")
		}
	}

	// MQTT validation
	if c.MQTT.QoS < 0 || c.MQTT.QoS > 2 {
		errs = append(errs, "mqtt.qos must be 0, 1, or 2")
	}
	if c.MQTT.CoarsePrecision < 0 {
		errs = append(errs, "mqtt.coarse_precision must not be negative")
	}

	if len(errs) > 0 {
		return fmt.Errorf("configuration errors: %s", strings.Join(errs, "; "))
	}

	return nil
}

// GetFlushInterval returns the InfluxDB flush interval as a Duration.
func (c *Config) GetFlushInterval() time.Duration {
	return time.Duration(c.InfluxDB.FlushInterval) * time.Second
}
