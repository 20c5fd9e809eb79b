package config

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"
)

func writeConfig(t *testing.T, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "polycraft.yaml")
	if err := os.WriteFile(path, []byte(content), 0644); err != nil {
		t.Fatal(err)
	}
	return path
}

func TestDefault(t *testing.T) {
	cfg := Default()
	if cfg.Listen != ":8000" {
		t.Errorf("expected :8000, got %s", cfg.Listen)
	}
	if cfg.Cache.ImageTTL != time.Hour {
		t.Errorf("expected 1h image TTL, got %v", cfg.Cache.ImageTTL)
	}
	if cfg.Cache.TextTTL != 5*time.Minute {
		t.Errorf("expected 5m text TTL, got %v", cfg.Cache.TextTTL)
	}
	if cfg.Cache.AudioFallbackTTL != 5*time.Minute {
		t.Errorf("expected 5m fallback TTL, got %v", cfg.Cache.AudioFallbackTTL)
	}
	if cfg.Cache.Backend != BackendMemory {
		t.Errorf("expected memory backend, got %s", cfg.Cache.Backend)
	}
	if cfg.Batch.Concurrency != 1 {
		t.Errorf("expected sequential batch, got %d", cfg.Batch.Concurrency)
	}
	if cfg.Cache.SingleFlight {
		t.Error("expected single-flight off by default")
	}
	if cfg.Server.TrustProxyHeaders {
		t.Error("expected proxy headers untrusted by default")
	}
	if cfg.RateLimit.Image != 10 || cfg.RateLimit.Text != 30 || cfg.RateLimit.Audio != 20 || cfg.RateLimit.Batch != 5 {
		t.Errorf("unexpected rate limits: %+v", cfg.RateLimit)
	}
	if err := cfg.Validate(); err != nil {
		t.Errorf("defaults should validate: %v", err)
	}
}

func TestLoad(t *testing.T) {
	t.Setenv("TEST_OPENAI_KEY", "sk-test-123")

	path := writeConfig(t, `
listen: ":9090"
server:
  trust_proxy_headers: true
log:
  level: debug
  format: json
providers:
  timeout: 10s
  openai:
    api_key: ${TEST_OPENAI_KEY}
    model: gpt-4o
cache:
  backend: sqlite
  db_path: cache.db
  text_ttl: 1m
  single_flight: true
batch:
  concurrency: 4
audit:
  enabled: true
  include_prompts: true
`)

	cfg, err := Load(path)
	if err != nil {
		t.Fatal(err)
	}

	if cfg.Listen != ":9090" {
		t.Errorf("expected :9090, got %s", cfg.Listen)
	}
	if !cfg.Server.TrustProxyHeaders {
		t.Error("expected trust_proxy_headers from file")
	}
	if cfg.Providers.OpenAI.APIKey != "sk-test-123" {
		t.Errorf("env var not expanded: got %s", cfg.Providers.OpenAI.APIKey)
	}
	if !cfg.Providers.OpenAI.Enabled() {
		t.Error("expected openai enabled")
	}
	if cfg.Providers.Timeout != 10*time.Second {
		t.Errorf("expected 10s timeout, got %v", cfg.Providers.Timeout)
	}
	if cfg.Cache.TextTTL != time.Minute {
		t.Errorf("expected 1m text TTL, got %v", cfg.Cache.TextTTL)
	}
	if cfg.Cache.ImageTTL != time.Hour {
		t.Errorf("expected default image TTL kept, got %v", cfg.Cache.ImageTTL)
	}
	if cfg.Cache.Backend != BackendSQLite {
		t.Errorf("expected sqlite backend, got %s", cfg.Cache.Backend)
	}
	if cfg.Batch.Concurrency != 4 {
		t.Errorf("expected concurrency 4, got %d", cfg.Batch.Concurrency)
	}
	if !cfg.Audit.Enabled || !cfg.Audit.IncludePrompts {
		t.Errorf("expected audit with prompts, got %+v", cfg.Audit)
	}
	if cfg.Audit.DBPath != "polycraft.db" {
		t.Errorf("expected default audit db path, got %s", cfg.Audit.DBPath)
	}
	if cfg.Log.Format != "json" {
		t.Errorf("expected json log format, got %s", cfg.Log.Format)
	}
}

func TestLoadEnvOverrides(t *testing.T) {
	t.Setenv("BACKEND_API_KEY", "secret")
	t.Setenv("POLYCRAFT_LISTEN", ":7000")
	t.Setenv("POLYCRAFT_LOG_LEVEL", "warn")
	t.Setenv("POLYCRAFT_CACHE_BACKEND", "sqlite")

	path := writeConfig(t, `listen: ":9090"`)
	cfg, err := Load(path)
	if err != nil {
		t.Fatal(err)
	}

	if cfg.Listen != ":7000" {
		t.Errorf("expected env to win, got %s", cfg.Listen)
	}
	if cfg.Auth.APIKey != "secret" {
		t.Errorf("expected api key from env, got %q", cfg.Auth.APIKey)
	}
	if cfg.Log.Level != "warn" {
		t.Errorf("expected warn level, got %s", cfg.Log.Level)
	}
	if cfg.Cache.Backend != BackendSQLite {
		t.Errorf("expected sqlite backend, got %s", cfg.Cache.Backend)
	}
}

func TestLoadWithoutFile(t *testing.T) {
	t.Setenv("OPENAI_API_KEY", "sk-env")

	cfg, err := Load("")
	if err != nil {
		t.Fatal(err)
	}
	if cfg.Listen != ":8000" {
		t.Errorf("expected default listen, got %s", cfg.Listen)
	}
	if cfg.Providers.OpenAI.APIKey != "sk-env" {
		t.Errorf("expected openai key from env, got %q", cfg.Providers.OpenAI.APIKey)
	}
}

func TestLoadMissing(t *testing.T) {
	_, err := Load("/nonexistent/polycraft.yaml")
	if err == nil {
		t.Error("expected error for missing file")
	}
}

func TestValidate(t *testing.T) {
	tests := []struct {
		name   string
		mutate func(*Config)
		want   string
	}{
		{"unknown backend", func(c *Config) { c.Cache.Backend = "redis" }, "unknown cache backend"},
		{"negative ttl", func(c *Config) { c.Cache.TextTTL = -time.Second }, "cache.text_ttl"},
		{"negative timeout", func(c *Config) { c.Providers.Timeout = -1 }, "providers.timeout"},
		{"zero concurrency", func(c *Config) { c.Batch.Concurrency = 0 }, "batch.concurrency"},
		{"zero rate", func(c *Config) { c.RateLimit.Audio = 0 }, "rate_limit.audio"},
		{"audit without db", func(c *Config) { c.Audit.Enabled = true; c.Audit.DBPath = "" }, "audit.db_path"},
		{"sqlite without db", func(c *Config) { c.Cache.Backend = BackendSQLite; c.Cache.DBPath = "" }, "cache.db_path"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := Default()
			tt.mutate(cfg)
			err := cfg.Validate()
			if err == nil {
				t.Fatal("expected validation error")
			}
			if !strings.Contains(err.Error(), tt.want) {
				t.Errorf("expected error mentioning %q, got %v", tt.want, err)
			}
		})
	}

	t.Run("disabled rate limit ignores zero rates", func(t *testing.T) {
		cfg := Default()
		cfg.RateLimit.Enabled = false
		cfg.RateLimit.Batch = 0
		if err := cfg.Validate(); err != nil {
			t.Errorf("unexpected error: %v", err)
		}
	})
}

func TestDiscover(t *testing.T) {
	dir := t.TempDir()
	t.Setenv("XDG_CONFIG_HOME", dir)
	t.Setenv("XDG_CONFIG_DIRS", filepath.Join(dir, "none"))

	path, err := Discover()
	if err != nil {
		t.Fatal(err)
	}
	if path != "" {
		t.Errorf("expected no config, got %s", path)
	}

	want := filepath.Join(dir, "polycraft", FileName)
	if err := os.MkdirAll(filepath.Dir(want), 0755); err != nil {
		t.Fatal(err)
	}
	if err := os.WriteFile(want, []byte("listen: \":1\"\n"), 0644); err != nil {
		t.Fatal(err)
	}

	path, err = Discover()
	if err != nil {
		t.Fatal(err)
	}
	if path != want {
		t.Errorf("expected %s, got %s", want, path)
	}
}
