// Package config handles room server configuration loading and validation.
package config

import (
	"crypto/rand"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"os"
	"time"

	"github.com/caarlos0/env/v11"
)

// knownWeakSecrets is a blocklist of secrets that must never be used.
var knownWeakSecrets = map[string]bool{
	"changeme": true,
	"secret":   true,
}

// GenerateRandomSecret returns a random 64-character hex string suitable for
// use as a JWT secret.
func GenerateRandomSecret() (string, error) {
	b := make([]byte, 32)
	if _, err := rand.Read(b); err != nil {
		return "", fmt.Errorf("generate secret: %w", err)
	}
	return hex.EncodeToString(b), nil
}

// Config is the top-level server configuration.
type Config struct {
	Server    ServerConfig    `json:"server" envPrefix:"HUDDLE_SERVER_"`
	Auth      AuthConfig      `json:"auth" envPrefix:"HUDDLE_AUTH_"`
	Storage   StorageConfig   `json:"storage" envPrefix:"HUDDLE_STORAGE_"`
	Agent     AgentConfig     `json:"agent" envPrefix:"HUDDLE_AGENT_"`
	RateLimit RateLimitConfig `json:"rate_limit,omitempty" envPrefix:"HUDDLE_RATE_LIMIT_"`
	LogLevel  string          `json:"log_level" env:"HUDDLE_LOG_LEVEL"`   // debug, info, warn, error
	LogFormat string          `json:"log_format" env:"HUDDLE_LOG_FORMAT"` // json (default) or text
}

// ServerConfig defines the listener settings.
type ServerConfig struct {
	Addr            string   `json:"addr" env:"ADDR"`                                                   // e.g. ":5000"
	AllowedOrigins  []string `json:"allowed_origins,omitempty" env:"ALLOWED_ORIGINS" envSeparator:","` // WebSocket/CORS origins; default ["*"]
	MaxMessageBytes int64    `json:"max_message_bytes,omitempty" env:"MAX_MESSAGE_BYTES"`              // default 64KB
	MaxBodyBytes    int64    `json:"max_body_bytes,omitempty" env:"MAX_BODY_BYTES"`                    // default 1MB
}

// AuthConfig defines token settings.
type AuthConfig struct {
	JWTSecret string   `json:"jwt_secret" env:"JWT_SECRET"`
	JWTExpiry Duration `json:"jwt_expiry,omitempty" env:"JWT_EXPIRY"`
}

// StorageConfig defines database settings.
type StorageConfig struct {
	Driver string `json:"driver" env:"DRIVER"` // "sqlite" (default) or "postgres"
	DSN    string `json:"dsn" env:"DSN"`       // e.g. "huddle.db" or ":memory:"
}

// AgentConfig defines the built-in room agent.
type AgentConfig struct {
	Name       string   `json:"name,omitempty" env:"NAME"`
	ThinkDelay Duration `json:"think_delay,omitempty" env:"THINK_DELAY"` // pause between status updates
}

// RateLimitConfig limits unauthenticated REST calls per client IP.
type RateLimitConfig struct {
	RequestsPerSecond float64 `json:"requests_per_second,omitempty" env:"REQUESTS_PER_SECOND"` // default 5
	Burst             int     `json:"burst,omitempty" env:"BURST"`                             // default 10
}

// Duration is a JSON-friendly time.Duration.
type Duration struct {
	time.Duration
}

func (d *Duration) UnmarshalJSON(b []byte) error {
	var v any
	if err := json.Unmarshal(b, &v); err != nil {
		return err
	}
	switch val := v.(type) {
	case string:
		dur, err := time.ParseDuration(val)
		if err != nil {
			return err
		}
		d.Duration = dur
	case float64:
		d.Duration = time.Duration(val) * time.Second
	default:
		return fmt.Errorf("invalid duration: %v", v)
	}
	return nil
}

func (d Duration) MarshalJSON() ([]byte, error) {
	return json.Marshal(d.String())
}

// UnmarshalText lets environment variables carry durations.
func (d *Duration) UnmarshalText(b []byte) error {
	dur, err := time.ParseDuration(string(b))
	if err != nil {
		return err
	}
	d.Duration = dur
	return nil
}

// Load reads an optional config file, applies environment overrides, then
// validates. An empty path skips the file.
func Load(path string) (*Config, error) {
	var cfg Config

	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("read config: %w", err)
		}
		if err := json.Unmarshal(data, &cfg); err != nil {
			return nil, fmt.Errorf("parse config: %w", err)
		}
	}

	if err := env.Parse(&cfg); err != nil {
		return nil, fmt.Errorf("parse env: %w", err)
	}

	if err := cfg.validate(); err != nil {
		return nil, fmt.Errorf("validate config: %w", err)
	}

	cfg.applyDefaults()
	return &cfg, nil
}

func (c *Config) validate() error {
	if c.Auth.JWTSecret == "" {
		return fmt.Errorf("auth.jwt_secret is required")
	}
	if len(c.Auth.JWTSecret) < 32 {
		return fmt.Errorf("auth.jwt_secret must be at least 32 characters")
	}
	if knownWeakSecrets[c.Auth.JWTSecret] {
		return fmt.Errorf("auth.jwt_secret is a well-known weak secret, generate a new one")
	}
	switch c.Storage.Driver {
	case "", "sqlite", "postgres":
	default:
		return fmt.Errorf("storage.driver must be sqlite or postgres, got %q", c.Storage.Driver)
	}
	if c.Storage.Driver == "postgres" && c.Storage.DSN == "" {
		return fmt.Errorf("storage.dsn is required for postgres")
	}
	if c.Server.MaxMessageBytes < 0 {
		return fmt.Errorf("server.max_message_bytes must not be negative")
	}
	return nil
}

func (c *Config) applyDefaults() {
	if c.Server.Addr == "" {
		c.Server.Addr = ":5000"
	}
	if len(c.Server.AllowedOrigins) == 0 {
		c.Server.AllowedOrigins = []string{"*"}
	}
	if c.Server.MaxMessageBytes == 0 {
		c.Server.MaxMessageBytes = 64 * 1024
	}
	if c.Server.MaxBodyBytes == 0 {
		c.Server.MaxBodyBytes = 1024 * 1024
	}
	if c.RateLimit.RequestsPerSecond == 0 {
		c.RateLimit.RequestsPerSecond = 5
	}
	if c.RateLimit.Burst == 0 {
		c.RateLimit.Burst = 10
	}
	if c.Auth.JWTExpiry.Duration == 0 {
		c.Auth.JWTExpiry.Duration = 24 * time.Hour
	}
	if c.Storage.Driver == "" {
		c.Storage.Driver = "sqlite"
	}
	if c.Storage.DSN == "" {
		c.Storage.DSN = "huddle.db"
	}
	if c.Agent.Name == "" {
		c.Agent.Name = "Agent"
	}
	if c.Agent.ThinkDelay.Duration == 0 {
		c.Agent.ThinkDelay.Duration = 500 * time.Millisecond
	}
	if c.LogLevel == "" {
		c.LogLevel = "info"
	}
	if c.LogFormat == "" {
		c.LogFormat = "json"
	}
}
