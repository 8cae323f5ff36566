// Package config handles client configuration loading and validation.
package config

import (
	"encoding/json"
	"fmt"
	"net/url"
	"os"
	"strings"
	"time"

	"github.com/caarlos0/env/v11"
)

// DefaultAPIURL is the local development collaborator address.
const DefaultAPIURL = "http://localhost:5000"

// Config is the top-level client configuration.
type Config struct {
	APIURL     string           `json:"api_url" env:"HUDDLE_API_URL"`
	Identity   IdentityConfig   `json:"identity" envPrefix:"HUDDLE_IDENTITY_"`
	Connection ConnectionConfig `json:"connection" envPrefix:"HUDDLE_"`
	Agent      AgentConfig      `json:"agent" envPrefix:"HUDDLE_AGENT_"`
	LogLevel   string           `json:"log_level" env:"HUDDLE_LOG_LEVEL"`
	LogFile    string           `json:"log_file,omitempty" env:"HUDDLE_LOG_FILE"` // TUI mode writes logs here
}

// IdentityConfig is the identity resolved by the external login flow.
type IdentityConfig struct {
	Provider string `json:"provider" env:"PROVIDER"`
	Subject  string `json:"subject" env:"SUBJECT"`
	Email    string `json:"email" env:"EMAIL"`
	Name     string `json:"name" env:"NAME"`
}

// ConnectionConfig tunes the connect/reconnect state machine.
type ConnectionConfig struct {
	ConnectTimeout    Duration `json:"connect_timeout,omitempty" env:"CONNECT_TIMEOUT"`
	ReconnectInterval Duration `json:"reconnect_interval,omitempty" env:"RECONNECT_INTERVAL"`
	MaxReconnectDelay Duration `json:"max_reconnect_delay,omitempty" env:"MAX_RECONNECT_DELAY"`
	TLSSkipVerify     bool     `json:"tls_skip_verify,omitempty" env:"TLS_SKIP_VERIFY"` // dev only
}

// AgentConfig controls how agent status is presented.
type AgentConfig struct {
	FailureTimeout Duration `json:"failure_timeout,omitempty" env:"FAILURE_TIMEOUT"`
}

// Duration is a JSON-friendly time.Duration (accepts strings like "30s", "5m").
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

	cfg.applyDefaults()

	if err := cfg.validate(); err != nil {
		return nil, fmt.Errorf("validate config: %w", err)
	}
	return &cfg, nil
}

func (c *Config) validate() error {
	u, err := url.Parse(c.APIURL)
	if err != nil {
		return fmt.Errorf("api_url: %w", err)
	}
	if u.Scheme != "http" && u.Scheme != "https" {
		return fmt.Errorf("api_url must be http or https, got %q", c.APIURL)
	}
	if u.Host == "" {
		return fmt.Errorf("api_url has no host")
	}
	if c.Connection.MaxReconnectDelay.Duration < c.Connection.ReconnectInterval.Duration {
		return fmt.Errorf("connection.max_reconnect_delay must be >= reconnect_interval")
	}
	switch c.LogLevel {
	case "debug", "info", "warn", "error":
	default:
		return fmt.Errorf("log_level must be debug, info, warn, or error")
	}
	return nil
}

func (c *Config) applyDefaults() {
	if c.APIURL == "" {
		c.APIURL = DefaultAPIURL
	}
	c.APIURL = strings.TrimRight(c.APIURL, "/")
	if c.Connection.ConnectTimeout.Duration == 0 {
		c.Connection.ConnectTimeout.Duration = 20 * time.Second
	}
	if c.Connection.ReconnectInterval.Duration == 0 {
		c.Connection.ReconnectInterval.Duration = 1 * time.Second
	}
	if c.Connection.MaxReconnectDelay.Duration == 0 {
		c.Connection.MaxReconnectDelay.Duration = 5 * time.Second
	}
	if c.Agent.FailureTimeout.Duration == 0 {
		c.Agent.FailureTimeout.Duration = 3 * time.Second
	}
	if c.LogLevel == "" {
		c.LogLevel = "info"
	}
}

// WebSocketURL derives the real-time endpoint from the API base URL.
func (c *Config) WebSocketURL() string {
	u, err := url.Parse(c.APIURL)
	if err != nil {
		return ""
	}
	if u.Scheme == "https" {
		u.Scheme = "wss"
	} else {
		u.Scheme = "ws"
	}
	u.Path = strings.TrimRight(u.Path, "/") + "/ws"
	return u.String()
}
