package config

import (
	"fmt"
	"os"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// Config is the root configuration structure for Station Bridge.
// All configuration is loaded from YAML and can be overridden by environment variables.
type Config struct {
	Account   AccountConfig   `yaml:"account"`
	Cloud     CloudConfig     `yaml:"cloud"`
	Station   StationConfig   `yaml:"station"`
	Feed      FeedConfig      `yaml:"feed"`
	Discovery DiscoveryConfig `yaml:"discovery"`
	Database  DatabaseConfig  `yaml:"database"`
	MQTT      MQTTConfig      `yaml:"mqtt"`
	API       APIConfig       `yaml:"api"`
	WebSocket WebSocketConfig `yaml:"websocket"`
	InfluxDB  InfluxDBConfig  `yaml:"influxdb"`
	Logging   LoggingConfig   `yaml:"logging"`
}

// AccountConfig contains the vendor account credentials.
// Tokens are obtained out of band; the bridge never performs a login flow.
type AccountConfig struct {
	// Token is the OAuth token used for every cloud service.
	Token string `yaml:"token"`

	// GlagolToken overrides Token for the local-device token service.
	GlagolToken string `yaml:"glagol_token,omitempty"`
}

// CloudConfig contains the cloud control plane endpoints.
type CloudConfig struct {
	IoTURL         string `yaml:"iot_url"`
	GlagolURL      string `yaml:"glagol_url"`
	RequestTimeout int    `yaml:"request_timeout"`
}

// StationConfig contains per-speaker local channel and dispatcher settings.
type StationConfig struct {
	// LocalPort is the speaker's local WebSocket port when discovery
	// does not report one. Default: 1961
	LocalPort int `yaml:"local_port"`

	// ConnectTimeout bounds one local connect. Default: 10s
	ConnectTimeout time.Duration `yaml:"connect_timeout"`

	// SendTimeout bounds one local command round trip. Default: 5s
	SendTimeout time.Duration `yaml:"send_timeout"`

	// ProbeTimeout bounds the capability probe after each open. Default: 3s
	ProbeTimeout time.Duration `yaml:"probe_timeout"`

	// HeartbeatInterval is the longest silence tolerated from a speaker.
	// Default: 10s
	HeartbeatInterval time.Duration `yaml:"heartbeat_interval"`

	// ReconnectDelay and MaxReconnectDelay bound the reconnect backoff.
	// Defaults: 1s and 60s
	ReconnectDelay    time.Duration `yaml:"reconnect_delay"`
	MaxReconnectDelay time.Duration `yaml:"max_reconnect_delay"`

	// IdleTimeout caps the wait for the assistant to finish speaking
	// before a volume bracket restores volume. Default: 30s
	IdleTimeout time.Duration `yaml:"idle_timeout"`

	// DebounceGrace is how long a commanded value masks conflicting
	// reports from the speaker. Default: 3s
	DebounceGrace time.Duration `yaml:"debounce_grace"`

	// VolumeStep is the default VolumeUp/VolumeDown increment. Default: 0.1
	VolumeStep float64 `yaml:"volume_step"`

	// TerminalCloseCodes are close codes, beyond 1000/1001/1006, that
	// fail the first local connect instead of retrying.
	TerminalCloseCodes []int `yaml:"terminal_close_codes,omitempty"`
}

// FeedConfig contains the cloud push feed settings, in seconds.
type FeedConfig struct {
	ConnectTimeout    int `yaml:"connect_timeout"`
	HeartbeatInterval int `yaml:"heartbeat_interval"`
	ReconnectDelay    int `yaml:"reconnect_delay"`
	MaxReconnectDelay int `yaml:"max_reconnect_delay"`
	ScenarioTimeout   int `yaml:"scenario_timeout"`
}

// DiscoveryConfig contains mDNS discovery settings.
type DiscoveryConfig struct {
	Enabled bool   `yaml:"enabled"`
	Service string `yaml:"service"`
	Domain  string `yaml:"domain"`
	// Interval between browse rounds, in seconds.
	Interval int `yaml:"interval"`
	// BrowseTimeout is the length of one browse round, in seconds.
	BrowseTimeout int `yaml:"browse_timeout"`
}

// DatabaseConfig contains SQLite database settings.
type DatabaseConfig struct {
	Path        string `yaml:"path"`
	WALMode     bool   `yaml:"wal_mode"`
	BusyTimeout int    `yaml:"busy_timeout"`
}

// MQTTConfig contains MQTT broker connection settings.
type MQTTConfig struct {
	Enabled   bool                `yaml:"enabled"`
	Broker    MQTTBrokerConfig    `yaml:"broker"`
	Auth      MQTTAuthConfig      `yaml:"auth"`
	QoS       int                 `yaml:"qos"`
	Reconnect MQTTReconnectConfig `yaml:"reconnect"`
	// HealthInterval is the bridge health publish period, in seconds.
	HealthInterval int `yaml:"health_interval"`
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

// APIConfig contains HTTP API server settings.
type APIConfig struct {
	Enabled  bool             `yaml:"enabled"`
	Host     string           `yaml:"host"`
	Port     int              `yaml:"port"`
	TLS      TLSConfig        `yaml:"tls"`
	Timeouts APITimeoutConfig `yaml:"timeouts"`
	CORS     CORSConfig       `yaml:"cors"`
}

// TLSConfig contains TLS certificate settings.
type TLSConfig struct {
	Enabled  bool   `yaml:"enabled"`
	CertFile string `yaml:"cert_file"`
	KeyFile  string `yaml:"key_file"`
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

// WebSocketConfig contains WebSocket server settings.
type WebSocketConfig struct {
	Path           string `yaml:"path"`
	MaxMessageSize int    `yaml:"max_message_size"`
	PingInterval   int    `yaml:"ping_interval"`
	PongTimeout    int    `yaml:"pong_timeout"`
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
// Environment variables follow the pattern: STATIONBRIDGE_SECTION_KEY
// For example: STATIONBRIDGE_ACCOUNT_TOKEN, STATIONBRIDGE_API_PORT
//
// Parameters:
//   - path: Path to the YAML configuration file
//
// Returns:
//   - *Config: Loaded and validated configuration
//   - error: If file cannot be read, parsed, or validation fails
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
		Cloud: CloudConfig{
			IoTURL:         "https://iot.quasar.yandex.ru",
			GlagolURL:      "https://quasar.yandex.net",
			RequestTimeout: 10,
		},
		Station: StationConfig{
			LocalPort:         1961,
			ConnectTimeout:    10 * time.Second,
			SendTimeout:       5 * time.Second,
			ProbeTimeout:      3 * time.Second,
			HeartbeatInterval: 10 * time.Second,
			ReconnectDelay:    time.Second,
			MaxReconnectDelay: 60 * time.Second,
			IdleTimeout:       30 * time.Second,
			DebounceGrace:     3 * time.Second,
			VolumeStep:        0.1,
		},
		Feed: FeedConfig{
			ConnectTimeout:    10,
			HeartbeatInterval: 90,
			ReconnectDelay:    1,
			MaxReconnectDelay: 60,
			ScenarioTimeout:   10,
		},
		Discovery: DiscoveryConfig{
			Enabled:       true,
			Service:       "_yandexio._tcp",
			Domain:        "local.",
			Interval:      60,
			BrowseTimeout: 5,
		},
		Database: DatabaseConfig{
			Path:        "./data/stationbridge.db",
			WALMode:     true,
			BusyTimeout: 5,
		},
		MQTT: MQTTConfig{
			Enabled: true,
			Broker: MQTTBrokerConfig{
				Host:     "localhost",
				Port:     1883,
				ClientID: "stationbridge",
			},
			QoS: 1,
			Reconnect: MQTTReconnectConfig{
				InitialDelay: 1,
				MaxDelay:     60,
				MaxAttempts:  0,
			},
			HealthInterval: 30,
		},
		API: APIConfig{
			Enabled: true,
			Host:    "0.0.0.0",
			Port:    8081,
			Timeouts: APITimeoutConfig{
				Read:  30,
				Write: 30,
				Idle:  60,
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
// Environment variables follow the pattern: STATIONBRIDGE_SECTION_KEY
func applyEnvOverrides(cfg *Config) {
	// Account
	if v := os.Getenv("STATIONBRIDGE_ACCOUNT_TOKEN"); v != "" {
		cfg.Account.Token = v
	}
	if v := os.Getenv("STATIONBRIDGE_ACCOUNT_GLAGOL_TOKEN"); v != "" {
		cfg.Account.GlagolToken = v
	}

	// Database
	if v := os.Getenv("STATIONBRIDGE_DATABASE_PATH"); v != "" {
		cfg.Database.Path = v
	}

	// MQTT
	if v := os.Getenv("STATIONBRIDGE_MQTT_HOST"); v != "" {
		cfg.MQTT.Broker.Host = v
	}
	if v := os.Getenv("STATIONBRIDGE_MQTT_USERNAME"); v != "" {
		cfg.MQTT.Auth.Username = v
	}
	if v := os.Getenv("STATIONBRIDGE_MQTT_PASSWORD"); v != "" {
		cfg.MQTT.Auth.Password = v
	}

	// API
	if v := os.Getenv("STATIONBRIDGE_API_HOST"); v != "" {
		cfg.API.Host = v
	}

	// InfluxDB
	if v := os.Getenv("STATIONBRIDGE_INFLUXDB_TOKEN"); v != "" {
		cfg.InfluxDB.Token = v
	}

	// Logging
	if v := os.Getenv("STATIONBRIDGE_LOG_LEVEL"); v != "" {
		cfg.Logging.Level = v
	}
}

// Validate checks the configuration for errors.
//
// Returns:
//   - error: Description of validation failure, or nil if valid
func (c *Config) Validate() error {
	var errs []string

	// Account validation
	if c.Account.Token == "" {
		errs = append(errs, "account.token is required (set STATIONBRIDGE_ACCOUNT_TOKEN environment variable)")
	}

	// Station validation
	if c.Station.LocalPort < 1 || c.Station.LocalPort > 65535 {
		errs = append(errs, "station.local_port must be between 1 and 65535")
	}
	if c.Station.VolumeStep <= 0 || c.Station.VolumeStep > 1 {
		errs = append(errs, "station.volume_step must be in (0, 1]")
	}
	if c.Station.IdleTimeout < 0 || c.Station.DebounceGrace < 0 {
		errs = append(errs, "station timeouts must not be negative")
	}

	// Database validation
	if c.Database.Path == "" {
		errs = append(errs, "database.path is required")
	}

	// MQTT validation
	if c.MQTT.QoS < 0 || c.MQTT.QoS > 2 {
		errs = append(errs, "mqtt.qos must be 0, 1, or 2")
	}

	// API validation
	if c.API.Enabled && (c.API.Port < 1 || c.API.Port > 65535) {
		errs = append(errs, "api.port must be between 1 and 65535")
	}

	// Discovery validation
	if c.Discovery.Enabled && c.Discovery.Service == "" {
		errs = append(errs, "discovery.service is required when discovery is enabled")
	}

	if len(errs) > 0 {
		return fmt.Errorf("configuration errors: %s", strings.Join(errs, "; "))
	}

	return nil
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

// MQTTHealthInterval returns the bridge health publish period as a Duration.
func (c *Config) MQTTHealthInterval() time.Duration {
	return time.Duration(c.MQTT.HealthInterval) * time.Second
}
