package main

import (
	"fmt"
	"io"

	"github.com/charmbracelet/log"

	"github.com/pario-ai/polycraft/pkg/audit"
	"github.com/pario-ai/polycraft/pkg/cache"
	cachesqlite "github.com/pario-ai/polycraft/pkg/cache/sqlite"
	"github.com/pario-ai/polycraft/pkg/config"
	"github.com/pario-ai/polycraft/pkg/gateway"
	"github.com/pario-ai/polycraft/pkg/models"
	"github.com/pario-ai/polycraft/pkg/provider/openai"
	"github.com/pario-ai/polycraft/pkg/provider/pollinations"
	"github.com/pario-ai/polycraft/pkg/synth"
)

// app bundles the components every long-running command needs.
type app struct {
	cfg     *config.Config
	logger  *log.Logger
	gw      *gateway.Gateway
	auditor *audit.Logger
}

func newApp() (*app, error) {
	cfg, err := loadConfig()
	if err != nil {
		return nil, err
	}
	logger, err := newLogger(cfg)
	if err != nil {
		return nil, err
	}

	gw, err := buildGateway(cfg, logger)
	if err != nil {
		return nil, err
	}

	auditor, err := openAuditor(cfg, logger)
	if err != nil {
		_ = gw.Close()
		return nil, err
	}

	return &app{cfg: cfg, logger: logger, gw: gw, auditor: auditor}, nil
}

func (a *app) Close() error {
	if a.auditor != nil {
		_ = a.auditor.Close()
	}
	return a.gw.Close()
}

func openCache(cfg *config.Config, logger *log.Logger) (gateway.Cache, error) {
	switch cfg.Cache.Backend {
	case config.BackendSQLite:
		c, err := cachesqlite.New(cfg.Cache.DBPath, cachesqlite.WithLogger(logger))
		if err != nil {
			return nil, fmt.Errorf("init cache: %w", err)
		}
		return c, nil
	default:
		return cache.New[models.Result](), nil
	}
}

func buildGateway(cfg *config.Config, logger *log.Logger) (*gateway.Gateway, error) {
	c, err := openCache(cfg, logger)
	if err != nil {
		return nil, err
	}

	upstream := pollinations.New(pollinations.Config{
		ImageURL:  cfg.Providers.Pollinations.ImageURL,
		AudioURL:  cfg.Providers.Pollinations.AudioURL,
		UserAgent: cfg.Providers.Pollinations.UserAgent,
		Timeout:   cfg.Providers.Timeout,
	})

	composer, err := synth.New()
	if err != nil {
		_ = closeCache(c)
		return nil, fmt.Errorf("init synthesizer: %w", err)
	}

	p := gateway.Providers{
		Images:   upstream,
		Audio:    upstream,
		Composer: composer,
	}
	if oc := cfg.Providers.OpenAI; oc.Enabled() {
		p.Text = openai.New(openai.Config{
			BaseURL: oc.BaseURL,
			APIKey:  oc.APIKey,
			Model:   oc.Model,
			Timeout: cfg.Providers.Timeout,
		})
		logger.Debug("text provider enabled", "provider", openai.Name)
	}

	return gateway.New(c, p, gateway.Config{
		ImageTTL:         cfg.Cache.ImageTTL,
		TextTTL:          cfg.Cache.TextTTL,
		AudioTTL:         cfg.Cache.AudioTTL,
		AudioFallbackTTL: cfg.Cache.AudioFallbackTTL,
		Timeout:          cfg.Providers.Timeout,
		SingleFlight:     cfg.Cache.SingleFlight,
		BatchConcurrency: cfg.Batch.Concurrency,
		PlaceholderURL:   cfg.Audio.PlaceholderURL,
	}, gateway.WithLogger(logger)), nil
}

func closeCache(c gateway.Cache) error {
	if cl, ok := c.(io.Closer); ok {
		return cl.Close()
	}
	return nil
}

// openAuditor returns nil when auditing is disabled.
func openAuditor(cfg *config.Config, logger *log.Logger) (*audit.Logger, error) {
	if !cfg.Audit.Enabled {
		return nil, nil
	}
	a, err := audit.New(cfg.Audit, audit.WithLogger(logger))
	if err != nil {
		return nil, fmt.Errorf("init audit: %w", err)
	}
	return a, nil
}
