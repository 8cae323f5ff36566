package config

import (
	"encoding/json"
	"os"
	"path/filepath"
	"testing"
	"time"
)

func TestDuration_UnmarshalJSON_String(t *testing.T) {
	var d Duration
	if err := json.Unmarshal([]byte(`"1500ms"`), &d); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if d.Duration != 1500*time.Millisecond {
		t.Errorf("expected 1.5s, got %v", d.Duration)
	}
}

func TestDuration_UnmarshalJSON_Number(t *testing.T) {
	var d Duration
	if err := json.Unmarshal([]byte(`3`), &d); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if d.Duration != 3*time.Second {
		t.Errorf("expected 3s, got %v", d.Duration)
	}
}

func TestDuration_UnmarshalJSON_InvalidType(t *testing.T) {
	var d Duration
	if err := json.Unmarshal([]byte(`true`), &d); err == nil {
		t.Fatal("expected error for boolean duration")
	}
}

func TestDuration_UnmarshalText(t *testing.T) {
	var d Duration
	if err := d.UnmarshalText([]byte("250ms")); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if d.Duration != 250*time.Millisecond {
		t.Errorf("expected 250ms, got %v", d.Duration)
	}
}

func TestLoad_NoFileAppliesDefaults(t *testing.T) {
	cfg, err := Load("")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if cfg.APIURL != DefaultAPIURL {
		t.Errorf("expected default api url, got %s", cfg.APIURL)
	}
	if cfg.Connection.ConnectTimeout.Duration != 20*time.Second {
		t.Errorf("expected 20s connect timeout, got %v", cfg.Connection.ConnectTimeout.Duration)
	}
	if cfg.Connection.ReconnectInterval.Duration != time.Second {
		t.Errorf("expected 1s reconnect interval, got %v", cfg.Connection.ReconnectInterval.Duration)
	}
	if cfg.Connection.MaxReconnectDelay.Duration != 5*time.Second {
		t.Errorf("expected 5s max reconnect delay, got %v", cfg.Connection.MaxReconnectDelay.Duration)
	}
	if cfg.Agent.FailureTimeout.Duration != 3*time.Second {
		t.Errorf("expected 3s agent failure timeout, got %v", cfg.Agent.FailureTimeout.Duration)
	}
	if cfg.LogLevel != "info" {
		t.Errorf("expected log level info, got %s", cfg.LogLevel)
	}
}

func TestLoad_File(t *testing.T) {
	path := filepath.Join(t.TempDir(), "huddle.json")
	data := `{
		"api_url": "https://chat.example.com/",
		"identity": {"provider": "google", "subject": "u1", "email": "u1@example.com", "name": "User One"},
		"connection": {"reconnect_interval": "500ms", "max_reconnect_delay": "2s"},
		"log_level": "debug"
	}`
	if err := os.WriteFile(path, []byte(data), 0o600); err != nil {
		t.Fatal(err)
	}

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if cfg.APIURL != "https://chat.example.com" {
		t.Errorf("expected trailing slash trimmed, got %s", cfg.APIURL)
	}
	if cfg.Identity.Subject != "u1" {
		t.Errorf("expected subject u1, got %s", cfg.Identity.Subject)
	}
	if cfg.Connection.ReconnectInterval.Duration != 500*time.Millisecond {
		t.Errorf("expected 500ms, got %v", cfg.Connection.ReconnectInterval.Duration)
	}
	if got := cfg.WebSocketURL(); got != "wss://chat.example.com/ws" {
		t.Errorf("expected wss url, got %s", got)
	}
}

func TestLoad_EnvOverride(t *testing.T) {
	t.Setenv("HUDDLE_API_URL", "http://10.0.0.5:5000")
	t.Setenv("HUDDLE_IDENTITY_SUBJECT", "env-user")
	t.Setenv("HUDDLE_RECONNECT_INTERVAL", "2s")

	cfg, err := Load("")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if cfg.APIURL != "http://10.0.0.5:5000" {
		t.Errorf("expected env api url, got %s", cfg.APIURL)
	}
	if cfg.Identity.Subject != "env-user" {
		t.Errorf("expected env subject, got %s", cfg.Identity.Subject)
	}
	if cfg.Connection.ReconnectInterval.Duration != 2*time.Second {
		t.Errorf("expected 2s, got %v", cfg.Connection.ReconnectInterval.Duration)
	}
	if got := cfg.WebSocketURL(); got != "ws://10.0.0.5:5000/ws" {
		t.Errorf("expected ws url, got %s", got)
	}
}

func TestLoad_InvalidScheme(t *testing.T) {
	t.Setenv("HUDDLE_API_URL", "ftp://example.com")
	if _, err := Load(""); err == nil {
		t.Fatal("expected error for ftp scheme")
	}
}

func TestLoad_BackoffBounds(t *testing.T) {
	t.Setenv("HUDDLE_RECONNECT_INTERVAL", "10s")
	t.Setenv("HUDDLE_MAX_RECONNECT_DELAY", "1s")
	if _, err := Load(""); err == nil {
		t.Fatal("expected error when max delay is below the initial interval")
	}
}

func TestLoad_MissingFile(t *testing.T) {
	if _, err := Load(filepath.Join(t.TempDir(), "nope.json")); err == nil {
		t.Fatal("expected error for missing file")
	}
}
