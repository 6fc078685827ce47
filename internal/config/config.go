// ABOUTME: Configuration loading and parsing for coreassist
// ABOUTME: Supports YAML files with environment variable expansion, duration parsing, and defaults

package config

import (
	"errors"
	"fmt"
	"os"
	"regexp"
	"time"

	"github.com/robfig/cron/v3"
	"gopkg.in/yaml.v3"
)

// Credential store backends.
const (
	BackendMemory = "memory"
	BackendSQLite = "sqlite"
	BackendRedis  = "redis"
)

// Defaults applied by Load when a value is absent.
const (
	DefaultHTTPAddr        = "localhost:8000"
	DefaultCallTimeout     = 30 * time.Second
	DefaultTokenTTL        = 24 * time.Hour
	DefaultSessionTTL      = 24 * time.Hour
	DefaultSweepSchedule   = "@every 10m"
	DefaultDedupeTTL       = 5 * time.Minute
	DefaultDedupeMaxSize   = 10000
	DefaultMetricsPath     = "/metrics"
	DefaultMCPPath         = "/mcp"
	DefaultRedisKeyPrefix  = "coreassist:"
	minJWTSecretLength     = 32
	defaultLogLevel        = "info"
	defaultLogFormat       = "text"
	defaultCredentialStore = BackendMemory
)

// ErrSharedSecretRequired is returned when auth.shared_secret is empty.
var ErrSharedSecretRequired = errors.New("auth.shared_secret is required")

// Config represents the complete coreassist configuration
type Config struct {
	Server       ServerConfig      `yaml:"server"`
	Connectors   ConnectorsConfig  `yaml:"connectors"`
	Dispatch     DispatchConfig    `yaml:"dispatch"`
	Auth         AuthConfig        `yaml:"auth"`
	Credentials  CredentialsConfig `yaml:"credentials"`
	Database     DatabaseConfig    `yaml:"database"`
	Redis        RedisConfig       `yaml:"redis"`
	Dedupe       DedupeConfig      `yaml:"dedupe"`
	Logging      LoggingConfig     `yaml:"logging"`
	Metrics      MetricsConfig     `yaml:"metrics"`
	MCP          MCPConfig         `yaml:"mcp"`
	DevEndpoints bool              `yaml:"dev_endpoints"`
}

// ServerConfig holds server address configuration. GRPCAddr is optional and
// enables the gRPC health service.
type ServerConfig struct {
	HTTPAddr string `yaml:"http_addr"`
	GRPCAddr string `yaml:"grpc_addr"`
}

// ConnectorsConfig controls where connector manifests come from.
type ConnectorsConfig struct {
	// Dir is an on-disk manifest directory. Empty uses the built-in manifests.
	Dir string `yaml:"dir"`
	// Disabled names connectors that are never loaded.
	Disabled []string `yaml:"disabled"`
}

// DispatchConfig holds tool call settings
type DispatchConfig struct {
	CallTimeout    time.Duration `yaml:"-"`
	CallTimeoutRaw string        `yaml:"call_timeout"`
}

// AuthConfig holds authentication configuration
type AuthConfig struct {
	// SharedSecret is sent by trusted backends in the X-Auth header.
	SharedSecret string `yaml:"shared_secret"`
	// JWTSecret enables user bearer tokens when set.
	JWTSecret string `yaml:"jwt_secret"`

	TokenTTL    time.Duration `yaml:"-"`
	TokenTTLRaw string        `yaml:"token_ttl"`
}

// CredentialsConfig selects where users, sessions, and connector credentials live.
type CredentialsConfig struct {
	Backend       string        `yaml:"backend"`
	SessionTTL    time.Duration `yaml:"-"`
	SessionTTLRaw string        `yaml:"session_ttl"`
	// SweepSchedule is a cron spec for expired session cleanup.
	SweepSchedule string `yaml:"sweep_schedule"`
}

// DatabaseConfig holds database configuration
type DatabaseConfig struct {
	Path string `yaml:"path"`
}

// RedisConfig holds Redis connection settings for the redis credential backend.
type RedisConfig struct {
	Addr      string `yaml:"addr"`
	Password  string `yaml:"password"`
	DB        int    `yaml:"db"`
	KeyPrefix string `yaml:"key_prefix"`
}

// DedupeConfig controls request ID replay protection.
type DedupeConfig struct {
	Enabled    bool          `yaml:"enabled"`
	TTL        time.Duration `yaml:"-"`
	TTLRaw     string        `yaml:"ttl"`
	MaxEntries int           `yaml:"max_entries"`
}

// LoggingConfig holds logging configuration
type LoggingConfig struct {
	Level  string `yaml:"level"`
	Format string `yaml:"format"`
}

// MetricsConfig holds metrics endpoint configuration
type MetricsConfig struct {
	Enabled bool   `yaml:"enabled"`
	Path    string `yaml:"path"`
}

// MCPConfig holds MCP bridge configuration
type MCPConfig struct {
	Enabled bool   `yaml:"enabled"`
	Path    string `yaml:"path"`
}

// Load reads a configuration file from the given path and returns a parsed Config.
// Environment variables in the format ${VAR_NAME} are expanded.
// Duration strings are parsed into time.Duration values.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading config file: %w", err)
	}
	return Parse(data)
}

// Parse builds a Config from YAML content.
func Parse(data []byte) (*Config, error) {
	// Expand environment variables in the raw YAML content
	expandedData := expandEnvVars(string(data))

	var cfg Config
	if err := yaml.Unmarshal([]byte(expandedData), &cfg); err != nil {
		return nil, fmt.Errorf("parsing config file: %w", err)
	}

	if err := parseDurations(&cfg); err != nil {
		return nil, fmt.Errorf("parsing durations: %w", err)
	}

	cfg.applyDefaults()

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
		varName := envVarPattern.FindStringSubmatch(match)[1]
		return os.Getenv(varName)
	})
}

func (c *Config) applyDefaults() {
	if c.Server.HTTPAddr == "" {
		c.Server.HTTPAddr = DefaultHTTPAddr
	}
	if c.Dispatch.CallTimeout == 0 {
		c.Dispatch.CallTimeout = DefaultCallTimeout
	}
	if c.Auth.TokenTTL == 0 {
		c.Auth.TokenTTL = DefaultTokenTTL
	}
	if c.Credentials.Backend == "" {
		c.Credentials.Backend = defaultCredentialStore
	}
	if c.Credentials.SessionTTL == 0 {
		c.Credentials.SessionTTL = DefaultSessionTTL
	}
	if c.Credentials.SweepSchedule == "" {
		c.Credentials.SweepSchedule = DefaultSweepSchedule
	}
	if c.Redis.KeyPrefix == "" {
		c.Redis.KeyPrefix = DefaultRedisKeyPrefix
	}
	if c.Dedupe.TTL == 0 {
		c.Dedupe.TTL = DefaultDedupeTTL
	}
	if c.Dedupe.MaxEntries == 0 {
		c.Dedupe.MaxEntries = DefaultDedupeMaxSize
	}
	if c.Logging.Level == "" {
		c.Logging.Level = defaultLogLevel
	}
	if c.Logging.Format == "" {
		c.Logging.Format = defaultLogFormat
	}
	if c.Metrics.Path == "" {
		c.Metrics.Path = DefaultMetricsPath
	}
	if c.MCP.Path == "" {
		c.MCP.Path = DefaultMCPPath
	}
}

// Validate checks that all required configuration fields are present and valid.
// Returns an error describing the first validation failure encountered.
func (c *Config) Validate() error {
	if c.Auth.SharedSecret == "" {
		return ErrSharedSecretRequired
	}
	if c.Auth.JWTSecret != "" && len(c.Auth.JWTSecret) < minJWTSecretLength {
		return fmt.Errorf("auth.jwt_secret must be at least %d bytes", minJWTSecretLength)
	}

	if c.Server.HTTPAddr == "" {
		return fmt.Errorf("server.http_addr is required")
	}

	switch c.Credentials.Backend {
	case BackendMemory:
	case BackendSQLite:
		if c.Database.Path == "" {
			return fmt.Errorf("database.path is required for the sqlite credential backend")
		}
	case BackendRedis:
		if c.Redis.Addr == "" {
			return fmt.Errorf("redis.addr is required for the redis credential backend")
		}
	default:
		return fmt.Errorf("credentials.backend %q must be one of memory, sqlite, redis", c.Credentials.Backend)
	}
	if _, err := cron.ParseStandard(c.Credentials.SweepSchedule); err != nil {
		return fmt.Errorf("credentials.sweep_schedule %q: %w", c.Credentials.SweepSchedule, err)
	}

	if c.Dedupe.MaxEntries < 0 {
		return fmt.Errorf("dedupe.max_entries must not be negative")
	}

	switch c.Logging.Level {
	case "debug", "info", "warn", "error":
	default:
		return fmt.Errorf("logging.level %q must be one of debug, info, warn, error", c.Logging.Level)
	}
	switch c.Logging.Format {
	case "text", "json":
	default:
		return fmt.Errorf("logging.format %q must be text or json", c.Logging.Format)
	}

	return nil
}

// BearerTokensEnabled reports whether user JWTs are accepted.
func (c *Config) BearerTokensEnabled() bool {
	return c.Auth.JWTSecret != ""
}

// parseDurations converts the raw duration strings into time.Duration values
func parseDurations(cfg *Config) error {
	fields := []struct {
		name string
		raw  string
		dst  *time.Duration
	}{
		{"dispatch.call_timeout", cfg.Dispatch.CallTimeoutRaw, &cfg.Dispatch.CallTimeout},
		{"auth.token_ttl", cfg.Auth.TokenTTLRaw, &cfg.Auth.TokenTTL},
		{"credentials.session_ttl", cfg.Credentials.SessionTTLRaw, &cfg.Credentials.SessionTTL},
		{"dedupe.ttl", cfg.Dedupe.TTLRaw, &cfg.Dedupe.TTL},
	}

	for _, f := range fields {
		if f.raw == "" {
			continue
		}
		d, err := time.ParseDuration(f.raw)
		if err != nil {
			return fmt.Errorf("parsing %s %q: %w", f.name, f.raw, err)
		}
		if d <= 0 {
			return fmt.Errorf("parsing %s %q: must be positive", f.name, f.raw)
		}
		*f.dst = d
	}
	return nil
}
