package config

import (
	"fmt"
	"net/url"
	"os"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// Defaults for the buffered write path.
const (
	DefaultBatchSize     = 1000
	DefaultFlushInterval = 5000 * time.Millisecond
	DefaultWritePath     = "/write"
	DefaultQueryPath     = "/api/v1/query"
)

// Write backends.
const (
	// BackendHTTP posts line protocol to URL+WritePath.
	BackendHTTP = "http"

	// BackendInfluxDB2 writes through the InfluxDB v2 API using Org and Bucket.
	BackendInfluxDB2 = "influxdb2"
)

// Config is the root configuration structure for linebuffer.
// All configuration is loaded from YAML and can be overridden by environment variables.
type Config struct {
	TSDB    TSDBConfig    `yaml:"tsdb"`
	MQTT    MQTTConfig    `yaml:"mqtt"`
	Ingest  IngestConfig  `yaml:"ingest"`
	API     APIConfig     `yaml:"api"`
	Logging LoggingConfig `yaml:"logging"`
}

// TSDBConfig contains the time-series database client settings.
//
// The client takes a copy of this struct at construction time and never
// mutates it afterwards.
type TSDBConfig struct {
	// URL is the base address used for write and query calls.
	URL string `yaml:"url"`

	// Token is an optional bearer credential attached to every request.
	Token string `yaml:"token"`

	// WritePath is appended to URL for batched writes.
	// Default: "/write"
	WritePath string `yaml:"write_path"`

	// QueryPath is appended to URL for instant queries.
	// Default: "/api/v1/query"
	QueryPath string `yaml:"query_path"`

	// BatchSize is the queue length that triggers an immediate background flush.
	// Default: 1000
	BatchSize int `yaml:"batch_size"`

	// FlushInterval is the cadence of the periodic flush.
	// Default: 5s
	FlushInterval time.Duration `yaml:"flush_interval"`

	// RequestTimeout bounds a single HTTP request. 0 means no timeout.
	RequestTimeout time.Duration `yaml:"request_timeout"`

	// Backend selects the write path: "http" or "influxdb2".
	// Default: "http"
	Backend string `yaml:"backend"`

	// Org and Bucket are required by the influxdb2 backend only.
	Org    string `yaml:"org"`
	Bucket string `yaml:"bucket"`
}

// MQTTConfig contains MQTT broker connection settings.
type MQTTConfig struct {
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

// MQTTReconnectConfig contains MQTT reconnection settings.
type MQTTReconnectConfig struct {
	InitialDelay int `yaml:"initial_delay"`
	MaxDelay     int `yaml:"max_delay"`
}

// IngestConfig controls the MQTT to TSDB bridge.
type IngestConfig struct {
	Enabled bool `yaml:"enabled"`

	// Topics are MQTT topic filters carrying JSON points.
	Topics []string `yaml:"topics"`

	// DefaultMeasurement is used when neither the payload nor the topic names one.
	DefaultMeasurement string `yaml:"default_measurement"`
}

// APIConfig controls the HTTP write relay.
type APIConfig struct {
	Enabled bool   `yaml:"enabled"`
	Host    string `yaml:"host"`
	Port    int    `yaml:"port"`

	// Token is a static bearer token accepted on /write.
	Token string `yaml:"token"`

	// JWTSecret enables HS256 JWT bearer tokens on /write.
	JWTSecret string `yaml:"jwt_secret"`

	// MaxBodyBytes bounds a single write request body.
	// Default: 10MB
	MaxBodyBytes int64 `yaml:"max_body_bytes"`

	Timeouts APITimeoutConfig `yaml:"timeouts"`
}

// APITimeoutConfig contains HTTP server timeouts in seconds.
type APITimeoutConfig struct {
	Read  int `yaml:"read"`
	Write int `yaml:"write"`
	Idle  int `yaml:"idle"`
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
// Environment variables follow the pattern: LINEBUFFER_SECTION_KEY
// For example: LINEBUFFER_TSDB_URL, LINEBUFFER_TSDB_TOKEN
//
// Parameters:
//   - path: Path to the YAML configuration file
//
// Returns:
//   - *Config: Loaded and validated configuration
//   - error: If file cannot be read, parsed, or validation fails
func Load(path string) (*Config, error) {
	cfg := defaultConfig()

	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading config file: %w", err)
	}

	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("parsing config file: %w", err)
	}

	applyEnvOverrides(cfg)

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("validating config: %w", err)
	}

	return cfg, nil
}

// Default returns the built-in configuration with environment overrides applied.
// It is used when no config file exists.
func Default() *Config {
	cfg := defaultConfig()
	applyEnvOverrides(cfg)
	return cfg
}

// defaultConfig returns a Config with sensible defaults.
func defaultConfig() *Config {
	return &Config{
		TSDB: TSDBConfig{
			URL:           "http://localhost:8428",
			WritePath:     DefaultWritePath,
			QueryPath:     DefaultQueryPath,
			BatchSize:     DefaultBatchSize,
			FlushInterval: DefaultFlushInterval,
			Backend:       BackendHTTP,
		},
		MQTT: MQTTConfig{
			Broker: MQTTBrokerConfig{
				Host:     "localhost",
				Port:     1883,
				ClientID: "linebuffer",
			},
			QoS: 1,
			Reconnect: MQTTReconnectConfig{
				InitialDelay: 1,
				MaxDelay:     60,
			},
		},
		Ingest: IngestConfig{
			DefaultMeasurement: "mqtt",
		},
		API: APIConfig{
			Host:         "127.0.0.1",
			Port:         8429,
			MaxBodyBytes: 10 << 20,
			Timeouts: APITimeoutConfig{
				Read:  10,
				Write: 10,
				Idle:  60,
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
// Environment variables follow the pattern: LINEBUFFER_SECTION_KEY
func applyEnvOverrides(cfg *Config) {
	// TSDB
	if v := os.Getenv("LINEBUFFER_TSDB_URL"); v != "" {
		cfg.TSDB.URL = v
	}
	if v := os.Getenv("LINEBUFFER_TSDB_TOKEN"); v != "" {
		cfg.TSDB.Token = v
	}

	// MQTT
	if v := os.Getenv("LINEBUFFER_MQTT_HOST"); v != "" {
		cfg.MQTT.Broker.Host = v
	}
	if v := os.Getenv("LINEBUFFER_MQTT_USERNAME"); v != "" {
		cfg.MQTT.Auth.Username = v
	}
	if v := os.Getenv("LINEBUFFER_MQTT_PASSWORD"); v != "" {
		cfg.MQTT.Auth.Password = v
	}

	// API
	if v := os.Getenv("LINEBUFFER_API_TOKEN"); v != "" {
		cfg.API.Token = v
	}
	if v := os.Getenv("LINEBUFFER_API_JWT_SECRET"); v != "" {
		cfg.API.JWTSecret = v
	}
}

// Validate checks the configuration for errors.
//
// Returns:
//   - error: Description of validation failure, or nil if valid
func (c *Config) Validate() error {
	var errs []string

	// TSDB validation
	if c.TSDB.URL == "" {
		errs = append(errs, "tsdb.url is required")
	} else if u, err := url.Parse(c.TSDB.URL); err != nil || u.Scheme == "" || u.Host == "" {
		errs = append(errs, "tsdb.url must be an absolute http(s) URL")
	}
	if c.TSDB.BatchSize < 0 {
		errs = append(errs, "tsdb.batch_size must not be negative")
	}
	if c.TSDB.FlushInterval < 0 {
		errs = append(errs, "tsdb.flush_interval must not be negative")
	}
	if c.TSDB.RequestTimeout < 0 {
		errs = append(errs, "tsdb.request_timeout must not be negative")
	}
	switch c.TSDB.Backend {
	case "", BackendHTTP:
	case BackendInfluxDB2:
		if c.TSDB.Org == "" || c.TSDB.Bucket == "" {
			errs = append(errs, "tsdb.org and tsdb.bucket are required for the influxdb2 backend")
		}
	default:
		errs = append(errs, fmt.Sprintf("tsdb.backend %q is not supported", c.TSDB.Backend))
	}

	// MQTT validation
	if c.MQTT.QoS < 0 || c.MQTT.QoS > 2 {
		errs = append(errs, "mqtt.qos must be 0, 1, or 2")
	}

	// Ingest validation
	if c.Ingest.Enabled {
		if len(c.Ingest.Topics) == 0 {
			errs = append(errs, "ingest.topics is required when ingest is enabled")
		}
		if c.MQTT.Broker.Host == "" {
			errs = append(errs, "mqtt.broker.host is required when ingest is enabled")
		}
	}

	// API validation
	if c.API.Enabled {
		if c.API.Port < 1 || c.API.Port > 65535 {
			errs = append(errs, "api.port must be between 1 and 65535")
		}
		if c.API.MaxBodyBytes < 0 {
			errs = append(errs, "api.max_body_bytes must not be negative")
		}
	}

	if len(errs) > 0 {
		return fmt.Errorf("configuration errors: %s", strings.Join(errs, "; "))
	}

	return nil
}
