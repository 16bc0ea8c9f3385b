package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// Config is the root configuration structure for WatchMe Core.
// All configuration is loaded from YAML and can be overridden by environment variables.
type Config struct {
	App       AppConfig       `yaml:"app"`
	Backend   BackendConfig   `yaml:"backend"`
	Device    DeviceConfig    `yaml:"device"`
	Platform  PlatformConfig  `yaml:"platform"`
	Identity  IdentityConfig  `yaml:"identity"`
	Database  DatabaseConfig  `yaml:"database"`
	Badger    BadgerConfig    `yaml:"badger"`
	MQTT      MQTTConfig      `yaml:"mqtt"`
	InfluxDB  InfluxDBConfig  `yaml:"influxdb"`
	API       APIConfig       `yaml:"api"`
	WebSocket WebSocketConfig `yaml:"websocket"`
	Logging   LoggingConfig   `yaml:"logging"`
}

// AppConfig contains installation-wide settings.
type AppConfig struct {
	Name string `yaml:"name"`

	// Timezone is the IANA zone used to turn a calendar day into the
	// yyyy-MM-dd date string sent to the report endpoint.
	Timezone string `yaml:"timezone"`
}

// BackendConfig contains the hosted backend (REST + auth) connection settings.
type BackendConfig struct {
	// URL is the project base URL, e.g. "https://xyz.supabase.co".
	URL string `yaml:"url"`

	// APIKey is the project's public (anon) key, sent as the apikey header.
	APIKey string `yaml:"api_key"`

	// AccessToken is an optional user session token. When empty the API key
	// is used as the bearer token.
	AccessToken string `yaml:"access_token"`

	// Timeout is the per-request HTTP timeout in seconds.
	Timeout int `yaml:"timeout"`
}

// DeviceConfig contains the classification sent on registration and the
// bound applied to every manager operation.
type DeviceConfig struct {
	DeviceType   string `yaml:"device_type"`
	PlatformType string `yaml:"platform_type"`

	// OperationTimeout bounds register/fetch operations (seconds).
	OperationTimeout int `yaml:"operation_timeout"`
}

// PlatformConfig selects where the installation identifier comes from.
type PlatformConfig struct {
	// Source is "machine" (read the OS machine id) or "static".
	Source string `yaml:"source"`

	// Identifier is the value used when Source is "static". Host apps pass
	// the OS vendor identifier here.
	Identifier string `yaml:"identifier"`
}

// IdentityConfig selects the durable store holding the registration record.
type IdentityConfig struct {
	// Backend is "sqlite", "badger" or "memory".
	Backend string `yaml:"backend"`
}

// DatabaseConfig contains SQLite database settings.
type DatabaseConfig struct {
	Path        string `yaml:"path"`
	WALMode     bool   `yaml:"wal_mode"`
	BusyTimeout int    `yaml:"busy_timeout"`
}

// BadgerConfig contains BadgerDB settings for the badger identity backend.
type BadgerConfig struct {
	Path       string `yaml:"path"`
	SyncWrites bool   `yaml:"sync_writes"`
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

// MQTTReconnectConfig contains MQTT reconnection settings.
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

// APIConfig contains the local control HTTP server settings.
type APIConfig struct {
	Enabled   bool             `yaml:"enabled"`
	Host      string           `yaml:"host"`
	Port      int              `yaml:"port"`
	Timeouts  APITimeoutConfig `yaml:"timeouts"`
	CORS      CORSConfig       `yaml:"cors"`
	AuthToken string           `yaml:"auth_token"`
	RateLimit RateLimitConfig  `yaml:"rate_limit"`
}

// APITimeoutConfig contains HTTP timeout settings.
type APITimeoutConfig struct {
	Read  int `yaml:"read"`
	Write int `yaml:"write"`
	Idle  int `yaml:"idle"`
}

// CORSConfig contains Cross-Origin Resource Sharing settings.
type CORSConfig struct {
	AllowedOrigins []string `yaml:"allowed_origins"`
	AllowedMethods []string `yaml:"allowed_methods"`
	AllowedHeaders []string `yaml:"allowed_headers"`
}

// RateLimitConfig contains rate limiting settings.
type RateLimitConfig struct {
	Enabled           bool `yaml:"enabled"`
	RequestsPerMinute int  `yaml:"requests_per_minute"`
}

// WebSocketConfig contains WebSocket server settings.
type WebSocketConfig struct {
	Path           string `yaml:"path"`
	MaxMessageSize int    `yaml:"max_message_size"`
	PingInterval   int    `yaml:"ping_interval"`
	PongTimeout    int    `yaml:"pong_timeout"`
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
// Environment variables follow the pattern: WATCHME_SECTION_KEY
// For example: WATCHME_BACKEND_URL, WATCHME_BACKEND_API_KEY
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

// Default returns the default configuration with environment overrides
// applied. It is not validated; callers running without a config file
// must still supply the backend settings via the environment.
func Default() *Config {
	cfg := defaultConfig()
	applyEnvOverrides(cfg)
	return cfg
}

// defaultConfig returns a Config with sensible defaults.
func defaultConfig() *Config {
	return &Config{
		App: AppConfig{
			Name:     "watchme",
			Timezone: "Local",
		},
		Backend: BackendConfig{
			Timeout: 20,
		},
		Device: DeviceConfig{
			DeviceType:       "ios",
			PlatformType:     "iOS",
			OperationTimeout: 15,
		},
		Platform: PlatformConfig{
			Source: "machine",
		},
		Identity: IdentityConfig{
			Backend: "sqlite",
		},
		Database: DatabaseConfig{
			Path:        "./data/watchme.db",
			WALMode:     true,
			BusyTimeout: 5,
		},
		Badger: BadgerConfig{
			Path:       "./data/identity",
			SyncWrites: true,
		},
		MQTT: MQTTConfig{
			Broker: MQTTBrokerConfig{
				Host:     "localhost",
				Port:     1883,
				ClientID: "watchme-core",
			},
			QoS: 1,
			Reconnect: MQTTReconnectConfig{
				InitialDelay: 1,
				MaxDelay:     60,
			},
		},
		InfluxDB: InfluxDBConfig{
			BatchSize:     100,
			FlushInterval: 10,
		},
		API: APIConfig{
			Enabled: true,
			Host:    "127.0.0.1",
			Port:    8090,
			Timeouts: APITimeoutConfig{
				Read:  30,
				Write: 30,
				Idle:  60,
			},
			RateLimit: RateLimitConfig{
				Enabled:           true,
				RequestsPerMinute: 120,
			},
		},
		WebSocket: WebSocketConfig{
			Path:           "/ws",
			MaxMessageSize: 8192,
			PingInterval:   30,
			PongTimeout:    10,
		},
		Logging: LoggingConfig{
			Level:  "info",
			Format: "json",
			Output: "stdout",
		},
	}
}

// applyEnvOverrides applies environment variable overrides to the configuration.
// Environment variables follow the pattern: WATCHME_SECTION_KEY
func applyEnvOverrides(cfg *Config) {
	// Backend (credentials belong in the environment, not the file)
	if v := os.Getenv("WATCHME_BACKEND_URL"); v != "" {
		cfg.Backend.URL = v
	}
	if v := os.Getenv("WATCHME_BACKEND_API_KEY"); v != "" {
		cfg.Backend.APIKey = v
	}
	if v := os.Getenv("WATCHME_BACKEND_ACCESS_TOKEN"); v != "" {
		cfg.Backend.AccessToken = v
	}

	// Platform
	if v := os.Getenv("WATCHME_PLATFORM_IDENTIFIER"); v != "" {
		cfg.Platform.Source = "static"
		cfg.Platform.Identifier = v
	}

	// Identity / storage
	if v := os.Getenv("WATCHME_IDENTITY_BACKEND"); v != "" {
		cfg.Identity.Backend = v
	}
	if v := os.Getenv("WATCHME_DATABASE_PATH"); v != "" {
		cfg.Database.Path = v
	}

	// MQTT
	if v := os.Getenv("WATCHME_MQTT_HOST"); v != "" {
		cfg.MQTT.Broker.Host = v
	}
	if v := os.Getenv("WATCHME_MQTT_USERNAME"); v != "" {
		cfg.MQTT.Auth.Username = v
	}
	if v := os.Getenv("WATCHME_MQTT_PASSWORD"); v != "" {
		cfg.MQTT.Auth.Password = v
	}

	// InfluxDB
	if v := os.Getenv("WATCHME_INFLUXDB_TOKEN"); v != "" {
		cfg.InfluxDB.Token = v
	}

	// API
	if v := os.Getenv("WATCHME_API_PORT"); v != "" {
		if port, err := strconv.Atoi(v); err == nil {
			cfg.API.Port = port
		}
	}
	if v := os.Getenv("WATCHME_API_AUTH_TOKEN"); v != "" {
		cfg.API.AuthToken = v
	}
}

// Validate checks the configuration for errors.
//
// Returns:
//   - error: Description of validation failure, or nil if valid
func (c *Config) Validate() error {
	var errs []string

	if c.Backend.URL == "" {
		errs = append(errs, "backend.url is required (set WATCHME_BACKEND_URL environment variable)")
	} else if !strings.HasPrefix(c.Backend.URL, "http://") && !strings.HasPrefix(c.Backend.URL, "https://") {
		errs = append(errs, "backend.url must start with http:// or https://")
	}
	if c.Backend.APIKey == "" {
		errs = append(errs, "backend.api_key is required (set WATCHME_BACKEND_API_KEY environment variable)")
	}
	if c.Backend.Timeout <= 0 {
		errs = append(errs, "backend.timeout must be positive")
	}

	if c.Device.DeviceType == "" {
		errs = append(errs, "device.device_type is required")
	}
	if c.Device.PlatformType == "" {
		errs = append(errs, "device.platform_type is required")
	}
	if c.Device.OperationTimeout <= 0 {
		errs = append(errs, "device.operation_timeout must be positive")
	}

	switch c.Platform.Source {
	case "machine":
	case "static":
		if c.Platform.Identifier == "" {
			errs = append(errs, "platform.identifier is required when platform.source is static")
		}
	default:
		errs = append(errs, "platform.source must be machine or static")
	}

	switch c.Identity.Backend {
	case "sqlite":
		if c.Database.Path == "" {
			errs = append(errs, "database.path is required for the sqlite identity backend")
		}
	case "badger":
		if c.Badger.Path == "" {
			errs = append(errs, "badger.path is required for the badger identity backend")
		}
	case "memory":
	default:
		errs = append(errs, "identity.backend must be sqlite, badger or memory")
	}

	if _, err := c.Location(); err != nil {
		errs = append(errs, fmt.Sprintf("app.timezone is invalid: %v", err))
	}

	if c.MQTT.Enabled && (c.MQTT.QoS < 0 || c.MQTT.QoS > 2) {
		errs = append(errs, "mqtt.qos must be 0, 1, or 2")
	}

	if c.InfluxDB.Enabled && c.InfluxDB.URL == "" {
		errs = append(errs, "influxdb.url is required when influxdb is enabled")
	}

	if c.API.Enabled && (c.API.Port < 1 || c.API.Port > 65535) {
		errs = append(errs, "api.port must be between 1 and 65535")
	}

	if len(errs) > 0 {
		return fmt.Errorf("configuration errors: %s", strings.Join(errs, "; "))
	}

	return nil
}

// Location resolves App.Timezone. "Local" and "" map to time.Local.
func (c *Config) Location() (*time.Location, error) {
	if c.App.Timezone == "" || c.App.Timezone == "Local" {
		return time.Local, nil
	}
	return time.LoadLocation(c.App.Timezone)
}

// GetBackendTimeout returns the backend HTTP timeout as a Duration.
func (c *Config) GetBackendTimeout() time.Duration {
	return time.Duration(c.Backend.Timeout) * time.Second
}

// GetOperationTimeout returns the manager operation bound as a Duration.
func (c *Config) GetOperationTimeout() time.Duration {
	return time.Duration(c.Device.OperationTimeout) * time.Second
}

// GetReadTimeout returns the API read timeout as a Duration.
func (c *Config) GetReadTimeout() time.Duration {
	return time.Duration(c.API.Timeouts.Read) * time.Second
}

// GetWriteTimeout returns the API write timeout as a Duration.
func (c *Config) GetWriteTimeout() time.Duration {
	return time.Duration(c.API.Timeouts.Write) * time.Second
}

// GetIdleTimeout returns the API idle timeout as a Duration.
func (c *Config) GetIdleTimeout() time.Duration {
	return time.Duration(c.API.Timeouts.Idle) * time.Second
}
