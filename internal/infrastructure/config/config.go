package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"
	"gopkg.in/yaml.v3"

	"github.com/nerrad567/houseflow-core/internal/accessory"
)

// Role selects which daemon a configuration file belongs to.
type Role string

// Daemon roles.
const (
	RoleHub    Role = "hub"
	RoleServer Role = "server"
)

// Config is the root configuration structure for both houseflow daemons.
// All configuration is loaded from YAML and can be overridden by environment variables.
type Config struct {
	Role        Role              `yaml:"role"`
	Hub         HubConfig         `yaml:"hub"`
	Accessories []AccessoryConfig `yaml:"accessories"`
	Hubs        []PeerConfig      `yaml:"hubs"`
	Uplink      UplinkConfig      `yaml:"uplink"`
	API         APIConfig         `yaml:"api"`
	WebSocket   WebSocketConfig   `yaml:"websocket"`
	Database    DatabaseConfig    `yaml:"database"`
	History     HistoryConfig     `yaml:"history"`
	MQTT        MQTTConfig        `yaml:"mqtt"`
	InfluxDB    InfluxDBConfig    `yaml:"influxdb"`
	Redis       RedisConfig       `yaml:"redis"`
	Discovery   DiscoveryConfig   `yaml:"discovery"`
	MCP         MCPConfig         `yaml:"mcp"`
	Logging     LoggingConfig     `yaml:"logging"`
}

// HubConfig identifies a hub. The ID doubles as the uplink username.
type HubConfig struct {
	ID   string `yaml:"id"`
	Name string `yaml:"name"`
}

// AccessoryConfig describes an accessory allowed to connect to a hub.
type AccessoryConfig struct {
	ID           string `yaml:"id"`
	Name         string `yaml:"name"`
	RoomName     string `yaml:"room_name"`
	Manufacturer string `yaml:"manufacturer"`
	Model        string `yaml:"model"`
	PasswordHash string `yaml:"password_hash"`
}

// Accessory converts the entry into an accessory descriptor.
func (a AccessoryConfig) Accessory() (accessory.Accessory, error) {
	id, err := uuid.Parse(a.ID)
	if err != nil {
		return accessory.Accessory{}, fmt.Errorf("parsing accessory id %q: %w", a.ID, err)
	}
	acc := accessory.Accessory{
		ID:       id,
		Name:     a.Name,
		RoomName: a.RoomName,
		Type: accessory.Type{
			Manufacturer: accessory.Manufacturer(a.Manufacturer),
			Model:        accessory.Model(a.Model),
		},
	}
	if err := acc.Validate(); err != nil {
		return accessory.Accessory{}, err
	}
	return acc, nil
}

// PeerConfig describes a hub allowed to connect to the server.
type PeerConfig struct {
	ID           string `yaml:"id"`
	Name         string `yaml:"name"`
	PasswordHash string `yaml:"password_hash"`
}

// UplinkConfig contains the hub's connection to the server.
type UplinkConfig struct {
	Enabled        bool   `yaml:"enabled"`
	URL            string `yaml:"url"`
	Password       string `yaml:"password"`
	InitialBackoff int    `yaml:"initial_backoff"`
	MaxBackoff     int    `yaml:"max_backoff"`
}

// APIConfig contains HTTP API server settings.
type APIConfig struct {
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

// APITimeoutConfig contains HTTP timeout settings in seconds.
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

// WebSocketConfig contains session settings for provider links and the
// event stream. Durations are in seconds.
type WebSocketConfig struct {
	Path               string `yaml:"path"`
	MaxMessageSize     int    `yaml:"max_message_size"`
	PingInterval       int    `yaml:"ping_interval"`
	PongTimeout        int    `yaml:"pong_timeout"`
	CallTimeout        int    `yaml:"call_timeout"`
	WriteTimeout       int    `yaml:"write_timeout"`
	RequireAccessoryID bool   `yaml:"require_accessory_id"`
}

// DatabaseConfig contains SQLite database settings.
type DatabaseConfig struct {
	Path        string `yaml:"path"`
	WALMode     bool   `yaml:"wal_mode"`
	BusyTimeout int    `yaml:"busy_timeout"`
}

// HistoryConfig controls the characteristic history sink.
type HistoryConfig struct {
	Enabled       bool `yaml:"enabled"`
	Retention     int  `yaml:"retention"`      // hours
	PruneInterval int  `yaml:"prune_interval"` // minutes
}

// MQTTConfig contains MQTT broker connection settings.
type MQTTConfig struct {
	Enabled     bool                `yaml:"enabled"`
	Broker      MQTTBrokerConfig    `yaml:"broker"`
	Auth        MQTTAuthConfig      `yaml:"auth"`
	QoS         int                 `yaml:"qos"`
	TopicPrefix string              `yaml:"topic_prefix"`
	Reconnect   MQTTReconnectConfig `yaml:"reconnect"`
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

// RedisConfig contains the presence cache connection settings.
// Timeouts are in seconds.
type RedisConfig struct {
	Enabled      bool   `yaml:"enabled"`
	URL          string `yaml:"url"`
	KeyPrefix    string `yaml:"key_prefix"`
	DialTimeout  int    `yaml:"dial_timeout"`
	ReadTimeout  int    `yaml:"read_timeout"`
	WriteTimeout int    `yaml:"write_timeout"`
	PingTimeout  int    `yaml:"ping_timeout"`
	PoolSize     int    `yaml:"pool_size"`
	MinIdleConns int    `yaml:"min_idle_conns"`
}

// DiscoveryConfig controls mDNS advertisement of the hub.
type DiscoveryConfig struct {
	Enabled   bool   `yaml:"enabled"`
	Instance  string `yaml:"instance"`
	Interface string `yaml:"interface"`
	TTL       int    `yaml:"ttl"`
}

// MCPConfig controls the MCP tool server.
type MCPConfig struct {
	Enabled bool   `yaml:"enabled"`
	Host    string `yaml:"host"`
	Port    int    `yaml:"port"`
}

// LoggingConfig contains logging settings.
type LoggingConfig struct {
	Level  string `yaml:"level"`
	Format string `yaml:"format"`
	Output string `yaml:"output"`
}

// Load reads configuration from a YAML file and applies environment overrides.
//
// Environment variables follow the pattern: HOUSEFLOW_SECTION_KEY
// For example: HOUSEFLOW_DATABASE_PATH, HOUSEFLOW_API_PORT
//
// Parameters:
//   - path: Path to the YAML configuration file
//   - role: Which daemon is loading the file; a mismatching role field fails validation
//
// Returns:
//   - *Config: Loaded and validated configuration
//   - error: If file cannot be read, parsed, or validation fails
func Load(path string, role Role) (*Config, error) {
	cfg := defaultConfig(role)

	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading config file: %w", err)
	}

	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("parsing config file: %w", err)
	}

	applyEnvOverrides(cfg)

	if cfg.Role != role {
		return nil, fmt.Errorf("validating config: role is %q, this daemon is %q", cfg.Role, role)
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("validating config: %w", err)
	}

	return cfg, nil
}

// defaultConfig returns a Config with sensible defaults for the role.
func defaultConfig(role Role) *Config {
	cfg := &Config{
		Role: role,
		API: APIConfig{
			Host: "0.0.0.0",
			Port: 6001,
			Timeouts: APITimeoutConfig{
				Read:  30,
				Write: 30,
				Idle:  60,
			},
		},
		WebSocket: WebSocketConfig{
			Path:           "/websocket",
			MaxMessageSize: 64 * 1024,
			PingInterval:   5,
			PongTimeout:    10,
			CallTimeout:    10,
			WriteTimeout:   10,
		},
		Uplink: UplinkConfig{
			InitialBackoff: 1,
			MaxBackoff:     30,
		},
		Database: DatabaseConfig{
			Path:        "./data/houseflow.db",
			WALMode:     true,
			BusyTimeout: 5,
		},
		History: HistoryConfig{
			Retention:     24 * 7,
			PruneInterval: 60,
		},
		MQTT: MQTTConfig{
			Broker: MQTTBrokerConfig{
				Host:     "localhost",
				Port:     1883,
				ClientID: "houseflow-" + string(role),
			},
			QoS:         1,
			TopicPrefix: "houseflow",
			Reconnect: MQTTReconnectConfig{
				InitialDelay: 1,
				MaxDelay:     60,
				MaxAttempts:  0,
			},
		},
		InfluxDB: InfluxDBConfig{
			BatchSize:     100,
			FlushInterval: 10,
		},
		Redis: RedisConfig{
			URL:          "redis://localhost:6379/0",
			KeyPrefix:    "houseflow",
			DialTimeout:  5,
			ReadTimeout:  3,
			WriteTimeout: 3,
			PingTimeout:  5,
			PoolSize:     10,
			MinIdleConns: 1,
		},
		Discovery: DiscoveryConfig{
			Instance: "houseflow-hub",
			TTL:      120,
		},
		MCP: MCPConfig{
			Host: "127.0.0.1",
			Port: 6010,
		},
		Logging: LoggingConfig{
			Level:  "info",
			Format: "json",
			Output: "stdout",
		},
	}
	if role == RoleServer {
		cfg.API.Port = 6002
		cfg.Database.Path = "./data/houseflow-server.db"
	}
	return cfg
}

// applyEnvOverrides applies environment variable overrides to the configuration.
// Environment variables follow the pattern: HOUSEFLOW_SECTION_KEY
func applyEnvOverrides(cfg *Config) {
	// Hub identity and uplink
	if v := os.Getenv("HOUSEFLOW_HUB_ID"); v != "" {
		cfg.Hub.ID = v
	}
	if v := os.Getenv("HOUSEFLOW_UPLINK_URL"); v != "" {
		cfg.Uplink.URL = v
	}
	if v := os.Getenv("HOUSEFLOW_UPLINK_PASSWORD"); v != "" {
		cfg.Uplink.Password = v
	}

	// API
	if v := os.Getenv("HOUSEFLOW_API_HOST"); v != "" {
		cfg.API.Host = v
	}
	if v := os.Getenv("HOUSEFLOW_API_PORT"); v != "" {
		if port, err := strconv.Atoi(v); err == nil {
			cfg.API.Port = port
		}
	}

	// Database
	if v := os.Getenv("HOUSEFLOW_DATABASE_PATH"); v != "" {
		cfg.Database.Path = v
	}

	// MQTT
	if v := os.Getenv("HOUSEFLOW_MQTT_HOST"); v != "" {
		cfg.MQTT.Broker.Host = v
	}
	if v := os.Getenv("HOUSEFLOW_MQTT_USERNAME"); v != "" {
		cfg.MQTT.Auth.Username = v
	}
	if v := os.Getenv("HOUSEFLOW_MQTT_PASSWORD"); v != "" {
		cfg.MQTT.Auth.Password = v
	}

	// InfluxDB
	if v := os.Getenv("HOUSEFLOW_INFLUXDB_TOKEN"); v != "" {
		cfg.InfluxDB.Token = v
	}

	// Redis
	if v := os.Getenv("HOUSEFLOW_REDIS_URL"); v != "" {
		cfg.Redis.URL = v
	}
}

// Validate checks the configuration for errors.
//
// Returns:
//   - error: Description of every validation failure, or nil if valid
func (c *Config) Validate() error {
	var errs []string

	switch c.Role {
	case RoleHub:
		errs = append(errs, c.validateHub()...)
	case RoleServer:
		errs = append(errs, c.validateServer()...)
	default:
		errs = append(errs, fmt.Sprintf("role must be %q or %q", RoleHub, RoleServer))
	}

	// API validation
	if c.API.Port < 1 || c.API.Port > 65535 {
		errs = append(errs, "api.port must be between 1 and 65535")
	}
	if c.API.TLS.Enabled && (c.API.TLS.CertFile == "" || c.API.TLS.KeyFile == "") {
		errs = append(errs, "api.tls requires cert_file and key_file")
	}

	// WebSocket heartbeat: the timeout must outlast at least one ping interval
	if c.WebSocket.PingInterval < 1 {
		errs = append(errs, "websocket.ping_interval must be at least 1")
	}
	if c.WebSocket.PongTimeout <= c.WebSocket.PingInterval {
		errs = append(errs, "websocket.pong_timeout must be greater than websocket.ping_interval")
	}
	if c.WebSocket.CallTimeout < 1 {
		errs = append(errs, "websocket.call_timeout must be at least 1")
	}
	if c.WebSocket.MaxMessageSize < 1 {
		errs = append(errs, "websocket.max_message_size must be positive")
	}

	// Sinks
	if c.History.Enabled && c.Database.Path == "" {
		errs = append(errs, "database.path is required when history is enabled")
	}
	if c.MQTT.QoS < 0 || c.MQTT.QoS > 2 {
		errs = append(errs, "mqtt.qos must be 0, 1, or 2")
	}
	if c.InfluxDB.Enabled && (c.InfluxDB.URL == "" || c.InfluxDB.Org == "" || c.InfluxDB.Bucket == "") {
		errs = append(errs, "influxdb requires url, org and bucket when enabled")
	}
	if c.Redis.Enabled && c.Redis.URL == "" {
		errs = append(errs, "redis.url is required when redis is enabled")
	}
	if c.MCP.Enabled && (c.MCP.Port < 1 || c.MCP.Port > 65535) {
		errs = append(errs, "mcp.port must be between 1 and 65535")
	}

	if len(errs) > 0 {
		return fmt.Errorf("configuration errors: %s", strings.Join(errs, "; "))
	}

	return nil
}

func (c *Config) validateHub() []string {
	var errs []string

	seen := make(map[string]bool, len(c.Accessories))
	for i, a := range c.Accessories {
		if _, err := a.Accessory(); err != nil {
			errs = append(errs, fmt.Sprintf("accessories[%d]: %v", i, err))
			continue
		}
		key := strings.ToLower(a.ID)
		if seen[key] {
			errs = append(errs, fmt.Sprintf("accessories[%d]: duplicate id %s", i, a.ID))
		}
		seen[key] = true
	}

	if c.Uplink.Enabled {
		if _, err := uuid.Parse(c.Hub.ID); err != nil {
			errs = append(errs, "hub.id must be a UUID when uplink is enabled")
		}
		if c.Uplink.URL == "" {
			errs = append(errs, "uplink.url is required when uplink is enabled")
		}
		if c.Uplink.InitialBackoff < 1 || c.Uplink.MaxBackoff < c.Uplink.InitialBackoff {
			errs = append(errs, "uplink backoff must satisfy 1 <= initial_backoff <= max_backoff")
		}
	}

	return errs
}

func (c *Config) validateServer() []string {
	var errs []string

	seen := make(map[string]bool, len(c.Hubs))
	for i, h := range c.Hubs {
		if _, err := uuid.Parse(h.ID); err != nil {
			errs = append(errs, fmt.Sprintf("hubs[%d]: id must be a UUID", i))
			continue
		}
		key := strings.ToLower(h.ID)
		if seen[key] {
			errs = append(errs, fmt.Sprintf("hubs[%d]: duplicate id %s", i, h.ID))
		}
		seen[key] = true
	}
	if c.Discovery.Enabled {
		errs = append(errs, "discovery is only supported on the hub")
	}

	return errs
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

// seconds converts a config value in seconds to a Duration.
func seconds(n int) time.Duration {
	return time.Duration(n) * time.Second
}

// GetPingInterval returns the session heartbeat interval.
func (w WebSocketConfig) GetPingInterval() time.Duration { return seconds(w.PingInterval) }

// GetPongTimeout returns how long a session waits for a pong.
func (w WebSocketConfig) GetPongTimeout() time.Duration { return seconds(w.PongTimeout) }

// GetCallTimeout returns the bound on a single characteristic call.
func (w WebSocketConfig) GetCallTimeout() time.Duration { return seconds(w.CallTimeout) }

// GetWriteTimeout returns the per-frame write deadline.
func (w WebSocketConfig) GetWriteTimeout() time.Duration { return seconds(w.WriteTimeout) }
