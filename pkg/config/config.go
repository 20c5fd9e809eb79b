package config

import (
	"errors"
	"fmt"
	"os"
	"time"

	"github.com/caarlos0/env/v11"
	gap "github.com/muesli/go-app-paths"
	"gopkg.in/yaml.v3"

	"github.com/pario-ai/polycraft/pkg/logging"
	"github.com/pario-ai/polycraft/pkg/models"
)

// FileName is the config file looked up by Discover.
const FileName = "polycraft.yaml"

// Cache backends.
const (
	BackendMemory = "memory"
	BackendSQLite = "sqlite"
)

// Config holds all Polycraft configuration.
type Config struct {
	Listen    string             `yaml:"listen" env:"POLYCRAFT_LISTEN"`
	Server    ServerConfig       `yaml:"server"`
	Log       logging.Config     `yaml:"log"`
	Auth      AuthConfig         `yaml:"auth"`
	CORS      CORSConfig         `yaml:"cors"`
	Providers ProvidersConfig    `yaml:"providers"`
	Cache     CacheConfig        `yaml:"cache"`
	Audio     AudioConfig        `yaml:"audio"`
	Batch     BatchConfig        `yaml:"batch"`
	RateLimit RateLimitConfig    `yaml:"rate_limit"`
	Audit     models.AuditConfig `yaml:"audit"`
}

// ServerConfig holds HTTP listener settings.
type ServerConfig struct {
	// TrustProxyHeaders takes the client address from X-Forwarded-For,
	// X-Real-IP or True-Client-IP. Enable it only behind a proxy that sets them.
	TrustProxyHeaders bool `yaml:"trust_proxy_headers" env:"POLYCRAFT_TRUST_PROXY_HEADERS"`
}

// AuthConfig gates the generation routes. An empty key disables the check.
type AuthConfig struct {
	APIKey string `yaml:"api_key" env:"BACKEND_API_KEY"`
}

// CORSConfig lists the origins allowed to call the HTTP API.
type CORSConfig struct {
	AllowedOrigins []string `yaml:"allowed_origins"`
}

// ProvidersConfig configures the upstream services.
type ProvidersConfig struct {
	Timeout      time.Duration      `yaml:"timeout"`
	Pollinations PollinationsConfig `yaml:"pollinations"`
	OpenAI       OpenAIConfig       `yaml:"openai"`
}

// PollinationsConfig points at the image and audio endpoints.
type PollinationsConfig struct {
	ImageURL  string `yaml:"image_url"`
	AudioURL  string `yaml:"audio_url"`
	UserAgent string `yaml:"user_agent"`
}

// OpenAIConfig enables live text generation when APIKey is set.
type OpenAIConfig struct {
	APIKey  string `yaml:"api_key" env:"OPENAI_API_KEY"`
	BaseURL string `yaml:"base_url"`
	Model   string `yaml:"model"`
}

// Enabled reports whether a live text provider is configured.
func (c OpenAIConfig) Enabled() bool {
	return c.APIKey != ""
}

// CacheConfig controls result caching.
type CacheConfig struct {
	Backend          string        `yaml:"backend" env:"POLYCRAFT_CACHE_BACKEND"`
	DBPath           string        `yaml:"db_path"`
	ImageTTL         time.Duration `yaml:"image_ttl"`
	TextTTL          time.Duration `yaml:"text_ttl"`
	AudioTTL         time.Duration `yaml:"audio_ttl"`
	AudioFallbackTTL time.Duration `yaml:"audio_fallback_ttl"`
	SingleFlight     bool          `yaml:"single_flight"`
}

// AudioConfig controls the audio fallback.
type AudioConfig struct {
	PlaceholderURL string `yaml:"placeholder_url"`
}

// BatchConfig controls batch fan-out.
type BatchConfig struct {
	Concurrency int `yaml:"concurrency"`
}

// RateLimitConfig holds per-client request limits, in requests per minute.
type RateLimitConfig struct {
	Enabled bool `yaml:"enabled"`
	Image   int  `yaml:"image"`
	Text    int  `yaml:"text"`
	Audio   int  `yaml:"audio"`
	Batch   int  `yaml:"batch"`
}

// Default returns a Config with sensible defaults.
func Default() *Config {
	return &Config{
		Listen: ":8000",
		Log:    logging.Config{Level: "info", Format: logging.FormatText},
		CORS:   CORSConfig{AllowedOrigins: []string{"*"}},
		Providers: ProvidersConfig{
			Timeout: 30 * time.Second,
		},
		Cache: CacheConfig{
			Backend:          BackendMemory,
			DBPath:           "polycraft.db",
			ImageTTL:         time.Hour,
			TextTTL:          5 * time.Minute,
			AudioTTL:         time.Hour,
			AudioFallbackTTL: 5 * time.Minute,
		},
		Audio: AudioConfig{
			PlaceholderURL: "data:audio/mpeg;base64,",
		},
		Batch: BatchConfig{Concurrency: 1},
		RateLimit: RateLimitConfig{
			Enabled: true,
			Image:   10,
			Text:    30,
			Audio:   20,
			Batch:   5,
		},
		Audit: models.AuditConfig{
			DBPath:        "polycraft.db",
			RetentionDays: 30,
			MaxPromptSize: 4096,
		},
	}
}

// Load reads a YAML config file, expands environment variables, then
// applies environment overrides. An empty path yields the defaults with
// overrides applied.
func Load(path string) (*Config, error) {
	cfg := Default()

	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("read config: %w", err)
		}

		expanded := os.ExpandEnv(string(data))
		if err := yaml.Unmarshal([]byte(expanded), cfg); err != nil {
			return nil, fmt.Errorf("parse config: %w", err)
		}
	}

	if err := env.Parse(cfg); err != nil {
		return nil, fmt.Errorf("parse environment: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Discover returns the first polycraft.yaml found in the user config
// directories, or "" when there is none.
func Discover() (string, error) {
	scope := gap.NewScope(gap.User, "polycraft")
	paths, err := scope.LookupConfig(FileName)
	if err != nil {
		return "", fmt.Errorf("lookup config: %w", err)
	}
	if len(paths) == 0 {
		return "", nil
	}
	return paths[0], nil
}

// Validate checks the configuration for values the gateway cannot run with.
func (c *Config) Validate() error {
	var errs []error

	if c.Listen == "" {
		errs = append(errs, errors.New("listen address is empty"))
	}
	switch c.Cache.Backend {
	case BackendMemory:
	case BackendSQLite:
		if c.Cache.DBPath == "" {
			errs = append(errs, errors.New("cache.db_path is required for the sqlite backend"))
		}
	default:
		errs = append(errs, fmt.Errorf("unknown cache backend %q", c.Cache.Backend))
	}

	for name, d := range map[string]time.Duration{
		"cache.image_ttl":          c.Cache.ImageTTL,
		"cache.text_ttl":           c.Cache.TextTTL,
		"cache.audio_ttl":          c.Cache.AudioTTL,
		"cache.audio_fallback_ttl": c.Cache.AudioFallbackTTL,
		"providers.timeout":        c.Providers.Timeout,
	} {
		if d < 0 {
			errs = append(errs, fmt.Errorf("%s must not be negative", name))
		}
	}

	if c.Batch.Concurrency < 1 {
		errs = append(errs, errors.New("batch.concurrency must be at least 1"))
	}

	if c.RateLimit.Enabled {
		for name, n := range map[string]int{
			"rate_limit.image": c.RateLimit.Image,
			"rate_limit.text":  c.RateLimit.Text,
			"rate_limit.audio": c.RateLimit.Audio,
			"rate_limit.batch": c.RateLimit.Batch,
		} {
			if n <= 0 {
				errs = append(errs, fmt.Errorf("%s must be positive", name))
			}
		}
	}

	if c.Audit.Enabled && c.Audit.DBPath == "" {
		errs = append(errs, errors.New("audit.db_path is required when audit is enabled"))
	}

	if err := errors.Join(errs...); err != nil {
		return fmt.Errorf("invalid config: %w", err)
	}
	return nil
}
