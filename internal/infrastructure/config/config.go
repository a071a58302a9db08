package config

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// DefaultPath is used when neither --config nor FORGERUNNER_CONFIG is set.
const DefaultPath = "configs/config.yaml"

// Config is the root configuration structure for forgerunner.
// All configuration is loaded from YAML and can be overridden by environment variables.
type Config struct {
	Server        ServerConfig        `yaml:"server"`
	Tunnel        TunnelConfig        `yaml:"tunnel"`
	PublicAddress PublicAddressConfig `yaml:"public_address"`
	Store         StoreConfig         `yaml:"store"`
	Session       SessionConfig       `yaml:"session"`
	Markers       MarkersConfig       `yaml:"markers"`
	Database      DatabaseConfig      `yaml:"database"`
	MQTT          MQTTConfig          `yaml:"mqtt"`
	API           APIConfig           `yaml:"api"`
	WebSocket     WebSocketConfig     `yaml:"websocket"`
	InfluxDB      InfluxDBConfig      `yaml:"influxdb"`
	Logging       LoggingConfig       `yaml:"logging"`
	Security      SecurityConfig      `yaml:"security"`
}

// ServerConfig describes how the game server (the worker) is launched.
type ServerConfig struct {
	// Dir is the server directory: working directory of the worker and
	// root of the jar search.
	Dir string `yaml:"dir"`

	// Java is an explicit java binary. When empty, JavaSearchDir is searched
	// and then PATH.
	Java          string `yaml:"java"`
	JavaSearchDir string `yaml:"java_search_dir"`

	// Jar is an explicit server jar. When empty, the first file under Dir
	// matching JarPattern is used.
	Jar        string `yaml:"jar"`
	JarPattern string `yaml:"jar_pattern"`

	// JVMFlags go between the heap flags and -jar.
	JVMFlags []string `yaml:"jvm_flags"`

	// ServerArgs go after the jar.
	ServerArgs []string `yaml:"server_args"`

	// LockFile guards the server directory against a second supervisor.
	LockFile string `yaml:"lock_file"`
}

// TunnelConfig contains settings for the tunnel agent.
type TunnelConfig struct {
	Binary          string   `yaml:"binary"`
	SearchPaths     []string `yaml:"search_paths"`
	Args            []string `yaml:"args"`
	GracefulTimeout int      `yaml:"graceful_timeout"`
}

// PublicAddressConfig controls the endpoint fallback used without a tunnel.
type PublicAddressConfig struct {
	PropertiesFile string `yaml:"properties_file"`
	LookupURL      string `yaml:"lookup_url"`
	DefaultPort    int    `yaml:"default_port"`
	Timeout        int    `yaml:"timeout"`
}

// StoreConfig locates the operator settings document.
type StoreConfig struct {
	Path  string `yaml:"path"`
	Watch bool   `yaml:"watch"`
}

// SessionConfig contains stop protocol and console settings.
type SessionConfig struct {
	StopCommand    string `yaml:"stop_command"`
	StopTimeout    int    `yaml:"stop_timeout"`
	PollInterval   int    `yaml:"poll_interval_ms"`
	ConsoleHistory int    `yaml:"console_history"`
}

// MarkersConfig overrides the console marker table.
type MarkersConfig struct {
	Table           []MarkerConfig `yaml:"table"`
	EndpointTrigger string         `yaml:"endpoint_trigger"`
	EndpointHints   []string       `yaml:"endpoint_hints"`
}

// MarkerConfig maps one substring to an event name.
type MarkerConfig struct {
	Substring string `yaml:"substring"`
	Event     string `yaml:"event"`
}

// DatabaseConfig contains SQLite database settings.
type DatabaseConfig struct {
	Path        string `yaml:"path"`
	WALMode     bool   `yaml:"wal_mode"`
	BusyTimeout int    `yaml:"busy_timeout"`
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

// SecurityConfig contains security settings.
type SecurityConfig struct {
	JWT JWTConfig `yaml:"jwt"`
}

// JWTConfig contains JWT token settings.
type JWTConfig struct {
	Secret         string `yaml:"secret"`
	AccessTokenTTL int    `yaml:"access_token_ttl"`
}

// Load reads configuration from a YAML file and applies environment variable overrides.
//
// The configuration loading order is:
//  1. Default values (hardcoded)
//  2. YAML file values (override defaults)
//  3. Environment variables (override file values)
//
// Environment variables follow the pattern: FORGERUNNER_SECTION_KEY
// For example: FORGERUNNER_SERVER_DIR, FORGERUNNER_API_PORT
func Load(path string) (*Config, error) {
	cfg := defaultConfig()

	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading config file: %w", err)
	}

	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("parsing config file: %w", err)
	}

	return finish(cfg)
}

// LoadOrDefault behaves like Load but uses the defaults when the file does
// not exist.
func LoadOrDefault(path string) (*Config, error) {
	cfg, err := Load(path)
	if err == nil {
		return cfg, nil
	}
	if !errors.Is(err, fs.ErrNotExist) {
		return nil, err
	}
	return finish(defaultConfig())
}

// Default returns the validated default configuration with environment
// overrides applied.
func Default() (*Config, error) {
	return finish(defaultConfig())
}

func finish(cfg *Config) (*Config, error) {
	applyEnvOverrides(cfg)

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("validating config: %w", err)
	}

	return cfg, nil
}

// defaultConfig returns a Config with sensible defaults.
func defaultConfig() *Config {
	return &Config{
		Server: ServerConfig{
			Dir:           ".",
			JavaSearchDir: "Java",
			JarPattern:    "forge-*.jar",
			JVMFlags: []string{
				"-XX:+UnlockExperimentalVMOptions",
				"-XX:+AlwaysPreTouch",
				"-XX:NewSize=1G",
				"-XX:MaxNewSize=2G",
				"-XX:SurvivorRatio=2",
				"-XX:+DisableExplicitGC",
			},
			ServerArgs: []string{"nogui"},
			LockFile:   ".forgerunner.lock",
		},
		Tunnel: TunnelConfig{
			Binary: "playit",
			SearchPaths: []string{
				"/opt/playit/playit",
				"/usr/local/bin/playit",
				"/usr/bin/playit",
			},
			GracefulTimeout: 5,
		},
		PublicAddress: PublicAddressConfig{
			PropertiesFile: "server.properties",
			LookupURL:      "https://api.ipify.org",
			DefaultPort:    25565,
			Timeout:        10,
		},
		Store: StoreConfig{
			Path:  "AppConfig.json",
			Watch: true,
		},
		Session: SessionConfig{
			StopCommand:    "/stop",
			StopTimeout:    90,
			PollInterval:   500,
			ConsoleHistory: 2000,
		},
		Database: DatabaseConfig{
			Path:        "./data/forgerunner.db",
			WALMode:     true,
			BusyTimeout: 5,
		},
		MQTT: MQTTConfig{
			Broker: MQTTBrokerConfig{
				Host:     "localhost",
				Port:     1883,
				ClientID: "forgerunner",
			},
			QoS:         1,
			TopicPrefix: "forgerunner",
			Reconnect: MQTTReconnectConfig{
				InitialDelay: 1,
				MaxDelay:     60,
			},
		},
		API: APIConfig{
			Host: "127.0.0.1",
			Port: 8080,
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
		InfluxDB: InfluxDBConfig{
			Bucket:        "forgerunner",
			BatchSize:     100,
			FlushInterval: 10,
		},
		Logging: LoggingConfig{
			Level:  "info",
			Format: "text",
			Output: "stderr",
		},
		Security: SecurityConfig{
			JWT: JWTConfig{
				AccessTokenTTL: 1440,
			},
		},
	}
}

// applyEnvOverrides applies environment variable overrides to the configuration.
// Environment variables follow the pattern: FORGERUNNER_SECTION_KEY
func applyEnvOverrides(cfg *Config) {
	// Server
	if v := os.Getenv("FORGERUNNER_SERVER_DIR"); v != "" {
		cfg.Server.Dir = v
	}
	if v := os.Getenv("FORGERUNNER_JAVA"); v != "" {
		cfg.Server.Java = v
	}
	if v := os.Getenv("FORGERUNNER_JAR"); v != "" {
		cfg.Server.Jar = v
	}

	// Tunnel
	if v := os.Getenv("FORGERUNNER_TUNNEL_BINARY"); v != "" {
		cfg.Tunnel.Binary = v
	}

	// Store
	if v := os.Getenv("FORGERUNNER_STORE_PATH"); v != "" {
		cfg.Store.Path = v
	}

	// Database
	if v := os.Getenv("FORGERUNNER_DATABASE_PATH"); v != "" {
		cfg.Database.Path = v
	}

	// MQTT
	if v := os.Getenv("FORGERUNNER_MQTT_HOST"); v != "" {
		cfg.MQTT.Broker.Host = v
	}
	if v := os.Getenv("FORGERUNNER_MQTT_USERNAME"); v != "" {
		cfg.MQTT.Auth.Username = v
	}
	if v := os.Getenv("FORGERUNNER_MQTT_PASSWORD"); v != "" {
		cfg.MQTT.Auth.Password = v
	}

	// API
	if v := os.Getenv("FORGERUNNER_API_HOST"); v != "" {
		cfg.API.Host = v
	}
	if v := os.Getenv("FORGERUNNER_API_PORT"); v != "" {
		if port, err := strconv.Atoi(v); err == nil {
			cfg.API.Port = port
		}
	}

	// InfluxDB
	if v := os.Getenv("FORGERUNNER_INFLUXDB_TOKEN"); v != "" {
		cfg.InfluxDB.Token = v
	}

	// Logging
	if v := os.Getenv("FORGERUNNER_LOG_LEVEL"); v != "" {
		cfg.Logging.Level = v
	}

	// Security - JWT secret
	if v := os.Getenv("FORGERUNNER_JWT_SECRET"); v != "" {
		cfg.Security.JWT.Secret = v
	}
}

// Validate checks the configuration for errors and security issues.
func (c *Config) Validate() error {
	var errs []string

	// Server validation
	if c.Server.Dir == "" {
		errs = append(errs, "server.dir is required")
	}
	if c.Server.Jar == "" && c.Server.JarPattern == "" {
		errs = append(errs, "server.jar or server.jar_pattern is required")
	}

	// Tunnel validation
	if c.Tunnel.Binary == "" {
		errs = append(errs, "tunnel.binary is required")
	}

	// Store validation
	if c.Store.Path == "" {
		errs = append(errs, "store.path is required")
	}

	// Session validation
	if c.Session.StopTimeout < 1 {
		errs = append(errs, "session.stop_timeout must be at least 1 second")
	}
	if c.Session.PollInterval < 1 {
		errs = append(errs, "session.poll_interval_ms must be positive")
	}
	if c.Session.ConsoleHistory < 0 {
		errs = append(errs, "session.console_history must not be negative")
	}

	// Marker validation
	for i, m := range c.Markers.Table {
		if m.Substring == "" || m.Event == "" {
			errs = append(errs, fmt.Sprintf("markers.table[%d] needs substring and event", i))
		}
	}

	// Public address validation
	if c.PublicAddress.DefaultPort < 1 || c.PublicAddress.DefaultPort > 65535 {
		errs = append(errs, "public_address.default_port must be between 1 and 65535")
	}

	// Database validation
	if c.Database.Path == "" {
		errs = append(errs, "database.path is required")
	}

	// MQTT validation
	if c.MQTT.QoS < 0 || c.MQTT.QoS > 2 {
		errs = append(errs, "mqtt.qos must be 0, 1, or 2")
	}
	if c.MQTT.Enabled && c.MQTT.TopicPrefix == "" {
		errs = append(errs, "mqtt.topic_prefix is required when mqtt is enabled")
	}

	// API validation
	if c.API.Port < 1 || c.API.Port > 65535 {
		errs = append(errs, "api.port must be between 1 and 65535")
	}

	// The API controls a live server, so it is never exposed without auth.
	const minJWTSecretLength = 32
	if c.API.Enabled {
		if c.Security.JWT.Secret == "" {
			errs = append(errs, "security.jwt.secret is required when api is enabled (set FORGERUNNER_JWT_SECRET environment variable)")
		} else if len(c.Security.JWT.Secret) < minJWTSecretLength {
			errs = append(errs, "security.jwt.secret must be at least 32 characters for adequate security")
		}
	}

	// InfluxDB validation
	if c.InfluxDB.Enabled && (c.InfluxDB.URL == "" || c.InfluxDB.Org == "") {
		errs = append(errs, "influxdb.url and influxdb.org are required when influxdb is enabled")
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

// GetStopTimeout returns the graceful stop ceiling.
func (c *Config) GetStopTimeout() time.Duration {
	return time.Duration(c.Session.StopTimeout) * time.Second
}

// GetPollInterval returns the graceful stop poll step.
func (c *Config) GetPollInterval() time.Duration {
	return time.Duration(c.Session.PollInterval) * time.Millisecond
}

// GetTunnelGracefulTimeout returns how long the tunnel gets after SIGTERM.
func (c *Config) GetTunnelGracefulTimeout() time.Duration {
	return time.Duration(c.Tunnel.GracefulTimeout) * time.Second
}

// GetLookupTimeout returns the public address HTTP timeout.
func (c *Config) GetLookupTimeout() time.Duration {
	return time.Duration(c.PublicAddress.Timeout) * time.Second
}
