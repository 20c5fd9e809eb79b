// Package gateway implements cache-aside generation for each modality and
// the batch coordinator that dispatches mixed requests to them.
package gateway

import (
	"context"
	"errors"
	"io"
	"slices"
	"time"

	"github.com/charmbracelet/log"
	"golang.org/x/sync/singleflight"

	"github.com/pario-ai/polycraft/pkg/models"
)

// Default cache lifetimes and upstream timeout.
const (
	ImageTTL         = time.Hour
	TextTTL          = 5 * time.Minute
	AudioTTL         = time.Hour
	AudioFallbackTTL = 5 * time.Minute
	DefaultTimeout   = 30 * time.Second
)

// Cache is the result store the adapters read through.
type Cache interface {
	Get(key string) (models.Result, bool)
	Set(key string, r models.Result, ttl time.Duration)
	Delete(key string)
}

// StatsProvider is implemented by caches that report metrics.
type StatsProvider interface {
	Stats() (models.CacheStats, error)
}

// Trace describes how a generation was served.
type Trace struct {
	Key      string
	CacheHit bool
	// Shared is true when the result came from another caller's in-flight fill.
	Shared bool
}

// Option configures an adapter.
type Option func(*settings)

type settings struct {
	now         func() time.Time
	timeout     time.Duration
	ttl         time.Duration
	fallbackTTL time.Duration
	flight      *singleflight.Group
	logger      *log.Logger
	placeholder string
}

// WithClock replaces time.Now for metadata timestamps.
func WithClock(now func() time.Time) Option {
	return func(s *settings) { s.now = now }
}

// WithTimeout bounds each upstream call.
func WithTimeout(d time.Duration) Option {
	return func(s *settings) {
		if d > 0 {
			s.timeout = d
		}
	}
}

// WithTTL sets how long successful results stay cached.
func WithTTL(d time.Duration) Option {
	return func(s *settings) {
		if d > 0 {
			s.ttl = d
		}
	}
}

// WithFallbackTTL sets how long the audio placeholder stays cached.
func WithFallbackTTL(d time.Duration) Option {
	return func(s *settings) {
		if d > 0 {
			s.fallbackTTL = d
		}
	}
}

// WithSingleFlight makes concurrent misses for the same key share one fill.
// Adapters may share a group since keys are namespaced per modality.
func WithSingleFlight(g *singleflight.Group) Option {
	return func(s *settings) { s.flight = g }
}

// WithLogger sets the adapter logger.
func WithLogger(l *log.Logger) Option {
	return func(s *settings) {
		if l != nil {
			s.logger = l
		}
	}
}

// WithPlaceholderURL sets the URL returned by the audio fallback.
func WithPlaceholderURL(u string) Option {
	return func(s *settings) {
		if u != "" {
			s.placeholder = u
		}
	}
}

func newSettings(ttl time.Duration, opts []Option) settings {
	s := settings{
		now:         time.Now,
		timeout:     DefaultTimeout,
		ttl:         ttl,
		fallbackTTL: AudioFallbackTTL,
		logger:      log.Default(),
		placeholder: DefaultPlaceholderURL,
	}
	for _, opt := range opts {
		opt(&s)
	}
	return s
}

// base holds the cache-aside loop shared by the adapters.
type base struct {
	settings
	cache Cache
}

// fillFunc produces a result and the TTL to cache it with.
type fillFunc func(ctx context.Context) (models.Result, time.Duration, error)

// serve returns the cached result for key or runs fill and caches its
// result. Failed fills are never cached. Hits do not refresh the TTL.
func (b *base) serve(ctx context.Context, key string, fill fillFunc) (models.Result, Trace, error) {
	tr := Trace{Key: key}
	if r, ok := b.cache.Get(key); ok {
		tr.CacheHit = true
		b.logger.Debug("cache hit", "key", key)
		return r, tr, nil
	}
	b.logger.Debug("cache miss", "key", key)

	run := func(ctx context.Context) (models.Result, error) {
		r, ttl, err := fill(ctx)
		if err != nil {
			return models.Result{}, err
		}
		b.cache.Set(key, r, ttl)
		return r, nil
	}

	if b.flight == nil {
		r, err := run(ctx)
		return r, tr, err
	}

	// One caller leaving must not fail the others waiting on the same fill.
	detached := context.WithoutCancel(ctx)
	v, err, shared := b.flight.Do(key, func() (any, error) {
		return run(detached)
	})
	tr.Shared = shared
	if err != nil {
		return models.Result{}, tr, err
	}
	return v.(models.Result), tr, nil
}

func (b *base) timestamp() string {
	return b.now().UTC().Format(time.RFC3339)
}

// asUpstream keeps provider errors as they are and wraps anything else.
func asUpstream(provider string, err error) error {
	var ue *models.UpstreamError
	if errors.As(err, &ue) {
		return err
	}
	return &models.UpstreamError{Provider: provider, Message: err.Error(), Err: err}
}

// Providers are the upstream dependencies of a Gateway. Text may be nil,
// in which case text is synthesized from templates.
type Providers struct {
	Images   ImageProvider
	Audio    AudioProvider
	Text     TextProvider
	Composer Composer
}

// Config holds the gateway policy knobs. Zero values select the defaults.
type Config struct {
	ImageTTL         time.Duration
	TextTTL          time.Duration
	AudioTTL         time.Duration
	AudioFallbackTTL time.Duration
	Timeout          time.Duration
	SingleFlight     bool
	BatchConcurrency int
	PlaceholderURL   string
}

// Gateway owns the cache and the adapters built on it.
type Gateway struct {
	Image *ImageAdapter
	Text  *TextAdapter
	Audio *AudioAdapter
	Batch *Coordinator

	cache Cache
}

// New builds the three adapters and the batch coordinator around cache.
// The Gateway takes ownership of cache and releases it on Close.
func New(cache Cache, p Providers, cfg Config, opts ...Option) *Gateway {
	common := append([]Option{WithTimeout(cfg.Timeout)}, opts...)
	if cfg.SingleFlight {
		common = append(common, WithSingleFlight(&singleflight.Group{}))
	}
	s := newSettings(0, common)

	image := NewImageAdapter(cache, p.Images, slices.Concat(common, []Option{WithTTL(cfg.ImageTTL)})...)
	text := NewTextAdapter(cache, p.Composer, p.Text, slices.Concat(common, []Option{WithTTL(cfg.TextTTL)})...)
	audio := NewAudioAdapter(cache, p.Audio, slices.Concat(common, []Option{
		WithTTL(cfg.AudioTTL),
		WithFallbackTTL(cfg.AudioFallbackTTL),
		WithPlaceholderURL(cfg.PlaceholderURL),
	})...)

	return &Gateway{
		Image: image,
		Text:  text,
		Audio: audio,
		Batch: NewCoordinator(image, text, audio,
			WithConcurrency(cfg.BatchConcurrency),
			WithBatchLogger(s.logger),
			WithBatchClock(s.now),
		),
		cache: cache,
	}
}

// CacheStats reports the metrics of the underlying cache, if it keeps any.
func (g *Gateway) CacheStats() (models.CacheStats, error) {
	sp, ok := g.cache.(StatsProvider)
	if !ok {
		return models.CacheStats{}, errors.New("cache does not report stats")
	}
	return sp.Stats()
}

// Close releases the cache.
func (g *Gateway) Close() error {
	if c, ok := g.cache.(io.Closer); ok {
		return c.Close()
	}
	return nil
}
