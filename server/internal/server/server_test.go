package server

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net"
	"net/http"
	"path/filepath"
	"testing"
	"time"

	"github.com/huddle-chat/huddle/server/internal/config"
)

func testConfig(t *testing.T) *config.Config {
	t.Helper()
	return &config.Config{
		Server: config.ServerConfig{
			Addr:            "127.0.0.1:0",
			AllowedOrigins:  []string{"http://localhost:3000"},
			MaxMessageBytes: 64 * 1024,
			MaxBodyBytes:    1024 * 1024,
		},
		Auth: config.AuthConfig{
			JWTSecret: "test-secret-at-least-32-chars-long",
			JWTExpiry: config.Duration{Duration: time.Hour},
		},
		Storage: config.StorageConfig{
			Driver: "sqlite",
			DSN:    filepath.Join(t.TempDir(), "server.db"),
		},
		RateLimit: config.RateLimitConfig{RequestsPerSecond: 10, Burst: 10},
	}
}

func TestNew_InvalidStorage(t *testing.T) {
	cfg := testConfig(t)
	cfg.Storage.Driver = "mongo"
	if _, err := New(cfg, slog.Default()); err == nil {
		t.Fatal("expected error for unsupported storage driver")
	}
}

func TestServe_HealthAndShutdown(t *testing.T) {
	srv, err := New(testConfig(t), slog.Default())
	if err != nil {
		t.Fatal(err)
	}

	ln, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatal(err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- srv.Serve(ctx, ln) }()

	resp, err := http.Get("http://" + ln.Addr().String() + "/healthz")
	if err != nil {
		cancel()
		t.Fatalf("healthz: %v", err)
	}
	var body map[string]any
	_ = json.NewDecoder(resp.Body).Decode(&body)
	resp.Body.Close()
	if resp.StatusCode != http.StatusOK || body["status"] != "ok" {
		t.Errorf("unexpected healthz response: %d %v", resp.StatusCode, body)
	}

	cancel()
	select {
	case err := <-done:
		if !errors.Is(err, context.Canceled) {
			t.Errorf("expected context.Canceled, got %v", err)
		}
	case <-time.After(5 * time.Second):
		t.Fatal("server did not shut down")
	}

	if err := srv.store.Ping(context.Background()); err == nil {
		t.Error("expected store to be closed after shutdown")
	}
}

func TestRun_ListenError(t *testing.T) {
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatal(err)
	}
	defer ln.Close()

	cfg := testConfig(t)
	cfg.Server.Addr = ln.Addr().String()
	srv, err := New(cfg, slog.Default())
	if err != nil {
		t.Fatal(err)
	}
	if err := srv.Run(context.Background()); err == nil {
		t.Fatal("expected listen error on an address in use")
	}
}
