// ABOUTME: Configuration loading and parsing for chat-gateway
// ABOUTME: Supports YAML or TOML files with environment variable expansion and duration parsing

package config

import (
	"fmt"
	"os"
	"path/filepath"
	"regexp"
	"strings"
	"time"

	"github.com/BurntSushi/toml"
	"gopkg.in/yaml.v3"
)

// Config represents the complete chat-gateway configuration
type Config struct {
	Server    ServerConfig    `yaml:"server" toml:"server"`
	Tailscale TailscaleConfig `yaml:"tailscale" toml:"tailscale"`
	Database  DatabaseConfig  `yaml:"database" toml:"database"`
	Auth      AuthConfig      `yaml:"auth" toml:"auth"`
	Bridge    BridgeConfig    `yaml:"bridge" toml:"bridge"`
	Gateway   GatewayConfig   `yaml:"gateway" toml:"gateway"`
	Logging   LoggingConfig   `yaml:"logging" toml:"logging"`
}

// ServerConfig holds listener configuration
type ServerConfig struct {
	HTTPAddr string `yaml:"http_addr" toml:"http_addr"`
	// GRPCAddr serves the gRPC health service; empty disables it
	GRPCAddr string `yaml:"grpc_addr" toml:"grpc_addr"`
	WSPath   string `yaml:"ws_path" toml:"ws_path"`
	// PublishToken guards POST /internal/events; empty disables the endpoint
	PublishToken string `yaml:"publish_token" toml:"publish_token"`
}

// TailscaleConfig holds Tailscale tsnet configuration
type TailscaleConfig struct {
	Enabled   bool   `yaml:"enabled" toml:"enabled"`
	Hostname  string `yaml:"hostname" toml:"hostname"`
	AuthKey   string `yaml:"auth_key" toml:"auth_key"`
	StateDir  string `yaml:"state_dir" toml:"state_dir"`
	Ephemeral bool   `yaml:"ephemeral" toml:"ephemeral"`
}

// DatabaseConfig holds database configuration
type DatabaseConfig struct {
	Path string `yaml:"path" toml:"path"`
}

// Auth modes
const (
	AuthModeToken = "token"
	AuthModeJWT   = "jwt"
)

// AuthConfig selects how Identify tokens are verified
type AuthConfig struct {
	Mode      string `yaml:"mode" toml:"mode"`
	JWTSecret string `yaml:"jwt_secret" toml:"jwt_secret"`
}

// Bridge backends
const (
	BackendRedis  = "redis"
	BackendNATS   = "nats"
	BackendMemory = "memory"
)

// BridgeConfig holds fan-out bus configuration
type BridgeConfig struct {
	Backend string `yaml:"backend" toml:"backend"`
	// Deployment keys the shared channel so deployments on one broker stay apart
	Deployment string      `yaml:"deployment" toml:"deployment"`
	Redis      RedisConfig `yaml:"redis" toml:"redis"`
	NATS       NATSConfig  `yaml:"nats" toml:"nats"`
}

type RedisConfig struct {
	Addr     string `yaml:"addr" toml:"addr"`
	Password string `yaml:"password" toml:"password"`
	DB       int    `yaml:"db" toml:"db"`
	PoolSize int    `yaml:"pool_size" toml:"pool_size"`
}

type NATSConfig struct {
	URL  string `yaml:"url" toml:"url"`
	Name string `yaml:"name" toml:"name"`
}

// GatewayConfig holds per-connection tuning
type GatewayConfig struct {
	SendQueueSize  int    `yaml:"send_queue_size" toml:"send_queue_size"`
	MaxMessageSize int64  `yaml:"max_message_size" toml:"max_message_size"`
	RegistryShards int    `yaml:"registry_shards" toml:"registry_shards"`
	NodeID         uint16 `yaml:"node_id" toml:"node_id"`

	HeartbeatInterval time.Duration `yaml:"-" toml:"-"`
	HeartbeatTimeout  time.Duration `yaml:"-" toml:"-"`
	WriteTimeout      time.Duration `yaml:"-" toml:"-"`

	// Raw string values for unmarshaling
	HeartbeatIntervalRaw string `yaml:"heartbeat_interval" toml:"heartbeat_interval"`
	HeartbeatTimeoutRaw  string `yaml:"heartbeat_timeout" toml:"heartbeat_timeout"`
	WriteTimeoutRaw      string `yaml:"write_timeout" toml:"write_timeout"`
}

// LoggingConfig holds logging configuration
type LoggingConfig struct {
	Level  string `yaml:"level" toml:"level"`
	Format string `yaml:"format" toml:"format"`
}

// Load reads a configuration file from the given path and returns a parsed Config.
// Files ending in .toml are decoded as TOML, anything else as YAML.
// Environment variables in the format ${VAR_NAME} are expanded.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading config file: %w", err)
	}

	cfg, err := Parse(data, strings.EqualFold(filepath.Ext(path), ".toml"))
	if err != nil {
		return nil, err
	}
	return cfg, nil
}

// Parse decodes configuration content, applies defaults, and validates it.
func Parse(data []byte, isTOML bool) (*Config, error) {
	expanded := expandEnvVars(string(data))

	var cfg Config
	if isTOML {
		if _, err := toml.Decode(expanded, &cfg); err != nil {
			return nil, fmt.Errorf("parsing config file: %w", err)
		}
	} else if err := yaml.Unmarshal([]byte(expanded), &cfg); err != nil {
		return nil, fmt.Errorf("parsing config file: %w", err)
	}

	if err := parseDurations(&cfg); err != nil {
		return nil, fmt.Errorf("parsing durations: %w", err)
	}

	cfg.ApplyDefaults()

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("validating config: %w", err)
	}
	return &cfg, nil
}

var envVarPattern = regexp.MustCompile(`\$\{([^}]+)\}`)

// expandEnvVars replaces ${VAR_NAME} patterns with the corresponding environment variable values.
// If the environment variable is not set, it is replaced with an empty string.
func expandEnvVars(s string) string {
	return envVarPattern.ReplaceAllStringFunc(s, func(match string) string {
		return os.Getenv(envVarPattern.FindStringSubmatch(match)[1])
	})
}

// ApplyDefaults fills unset fields.
func (c *Config) ApplyDefaults() {
	if c.Server.WSPath == "" {
		c.Server.WSPath = "/ws"
	}
	if c.Auth.Mode == "" {
		c.Auth.Mode = AuthModeToken
	}
	if c.Bridge.Backend == "" {
		c.Bridge.Backend = BackendRedis
	}
	if c.Bridge.Deployment == "" {
		c.Bridge.Deployment = "default"
	}
	if c.Bridge.Redis.Addr == "" {
		c.Bridge.Redis.Addr = "localhost:6379"
	}
	if c.Bridge.Redis.PoolSize == 0 {
		c.Bridge.Redis.PoolSize = 10
	}
	if c.Bridge.NATS.URL == "" {
		c.Bridge.NATS.URL = "nats://localhost:4222"
	}
	if c.Bridge.NATS.Name == "" {
		c.Bridge.NATS.Name = "chat-gateway"
	}
	if c.Gateway.SendQueueSize == 0 {
		c.Gateway.SendQueueSize = 256
	}
	if c.Gateway.MaxMessageSize == 0 {
		c.Gateway.MaxMessageSize = 64 << 10
	}
	if c.Gateway.RegistryShards == 0 {
		c.Gateway.RegistryShards = 32
	}
	if c.Gateway.HeartbeatInterval == 0 {
		c.Gateway.HeartbeatInterval = 30 * time.Second
	}
	if c.Gateway.HeartbeatTimeout == 0 {
		c.Gateway.HeartbeatTimeout = 20 * time.Second
	}
	if c.Gateway.WriteTimeout == 0 {
		c.Gateway.WriteTimeout = 10 * time.Second
	}
	if c.Logging.Level == "" {
		c.Logging.Level = "info"
	}
	if c.Logging.Format == "" {
		c.Logging.Format = "text"
	}
}

// Validate checks that all required configuration fields are present and valid.
// Returns an error describing the first validation failure encountered.
func (c *Config) Validate() error {
	// The HTTP address is required unless Tailscale is enabled
	if !c.Tailscale.Enabled && c.Server.HTTPAddr == "" {
		return fmt.Errorf("server.http_addr is required (or enable tailscale)")
	}
	if c.Tailscale.Enabled && c.Tailscale.Hostname == "" {
		return fmt.Errorf("tailscale.hostname is required when tailscale is enabled")
	}
	if !strings.HasPrefix(c.Server.WSPath, "/") {
		return fmt.Errorf("server.ws_path must start with /, got %q", c.Server.WSPath)
	}

	if c.Database.Path == "" {
		return fmt.Errorf("database.path is required")
	}

	switch c.Auth.Mode {
	case AuthModeToken:
	case AuthModeJWT:
		if c.Auth.JWTSecret == "" {
			return fmt.Errorf("auth.jwt_secret is required when auth.mode is jwt")
		}
	default:
		return fmt.Errorf("auth.mode must be %q or %q, got %q", AuthModeToken, AuthModeJWT, c.Auth.Mode)
	}

	switch c.Bridge.Backend {
	case BackendRedis, BackendNATS, BackendMemory:
	default:
		return fmt.Errorf("bridge.backend must be one of redis, nats, memory, got %q", c.Bridge.Backend)
	}
	if strings.ContainsAny(c.Bridge.Deployment, ". *>:") {
		return fmt.Errorf("bridge.deployment %q must not contain '.', ':', '*', '>' or spaces", c.Bridge.Deployment)
	}

	if c.Gateway.SendQueueSize < 1 {
		return fmt.Errorf("gateway.send_queue_size must be positive")
	}
	if c.Gateway.RegistryShards < 1 {
		return fmt.Errorf("gateway.registry_shards must be positive")
	}
	if c.Gateway.MaxMessageSize < 512 {
		return fmt.Errorf("gateway.max_message_size must be at least 512 bytes")
	}
	if c.Gateway.HeartbeatInterval <= 0 || c.Gateway.HeartbeatTimeout <= 0 || c.Gateway.WriteTimeout <= 0 {
		return fmt.Errorf("gateway durations must be positive")
	}

	switch strings.ToLower(c.Logging.Format) {
	case "text", "json":
	default:
		return fmt.Errorf("logging.format must be text or json, got %q", c.Logging.Format)
	}
	return nil
}

// parseDurations converts the raw duration strings into time.Duration values
func parseDurations(cfg *Config) error {
	fields := []struct {
		name string
		raw  string
		dst  *time.Duration
	}{
		{"heartbeat_interval", cfg.Gateway.HeartbeatIntervalRaw, &cfg.Gateway.HeartbeatInterval},
		{"heartbeat_timeout", cfg.Gateway.HeartbeatTimeoutRaw, &cfg.Gateway.HeartbeatTimeout},
		{"write_timeout", cfg.Gateway.WriteTimeoutRaw, &cfg.Gateway.WriteTimeout},
	}
	for _, f := range fields {
		if f.raw == "" {
			continue
		}
		d, err := time.ParseDuration(f.raw)
		if err != nil {
			return fmt.Errorf("parsing %s %q: %w", f.name, f.raw, err)
		}
		*f.dst = d
	}
	return nil
}

// DefaultPath returns the config file location: CHAT_GATEWAY_CONFIG if set,
// otherwise $XDG_CONFIG_HOME/chat-gateway/gateway.yaml.
func DefaultPath() string {
	if p := os.Getenv("CHAT_GATEWAY_CONFIG"); p != "" {
		return p
	}
	dir := os.Getenv("XDG_CONFIG_HOME")
	if dir == "" {
		home, err := os.UserHomeDir()
		if err != nil {
			return "gateway.yaml"
		}
		dir = filepath.Join(home, ".config")
	}
	return filepath.Join(dir, "chat-gateway", "gateway.yaml")
}
