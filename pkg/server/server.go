// Package server exposes the gateway over HTTP.
package server

import (
	"context"
	"errors"
	"net/http"
	"sync"
	"time"

	"github.com/charmbracelet/log"
	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"

	"github.com/pario-ai/polycraft/pkg/audit"
	"github.com/pario-ai/polycraft/pkg/config"
	"github.com/pario-ai/polycraft/pkg/gateway"
)

// CacheHeader reports whether a single-modality response came from cache.
const CacheHeader = "X-Polycraft-Cache"

const (
	maxBodyBytes    = 1 << 20
	shutdownTimeout = 5 * time.Second
)

// Server is the Polycraft HTTP API.
type Server struct {
	cfg     *config.Config
	gw      *gateway.Gateway
	auditor *audit.Logger
	logger  *log.Logger
	now     func() time.Time
	limits  map[string]*limiter
	router  chi.Router
	pending sync.WaitGroup
}

// Option configures a Server.
type Option func(*Server)

// WithLogger sets the server logger.
func WithLogger(l *log.Logger) Option {
	return func(s *Server) {
		if l != nil {
			s.logger = l
		}
	}
}

// WithClock replaces time.Now for health timestamps and latencies.
func WithClock(now func() time.Time) Option {
	return func(s *Server) { s.now = now }
}

// New creates a Server wired to gw. auditor may be nil.
func New(cfg *config.Config, gw *gateway.Gateway, auditor *audit.Logger, opts ...Option) *Server {
	s := &Server{
		cfg:     cfg,
		gw:      gw,
		auditor: auditor,
		logger:  log.Default(),
		now:     time.Now,
		limits:  make(map[string]*limiter),
	}
	for _, opt := range opts {
		opt(s)
	}

	if cfg.RateLimit.Enabled {
		s.limits[routeImage] = newLimiter(cfg.RateLimit.Image, s.now)
		s.limits[routeText] = newLimiter(cfg.RateLimit.Text, s.now)
		s.limits[routeAudio] = newLimiter(cfg.RateLimit.Audio, s.now)
		s.limits[routeBatch] = newLimiter(cfg.RateLimit.Batch, s.now)
	}

	s.router = s.routes()
	return s
}

const (
	routeImage = "image"
	routeText  = "text"
	routeAudio = "audio"
	routeBatch = "batch"
)

func (s *Server) routes() chi.Router {
	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	if s.cfg.Server.TrustProxyHeaders {
		r.Use(middleware.RealIP)
	}
	r.Use(s.logRequests)
	r.Use(middleware.Recoverer)
	r.Use(s.cors)

	r.Get("/health", s.handleHealth)
	r.Get("/api/health", s.handleHealth)

	r.Group(func(r chi.Router) {
		r.Use(s.requireAPIKey)

		r.With(s.rateLimit(routeImage)).Post("/api/generate/image", s.handleImage)
		r.With(s.rateLimit(routeText)).Post("/api/generate/text", s.handleText)
		r.With(s.rateLimit(routeAudio)).Post("/api/generate/audio", s.handleAudio)
		r.With(s.rateLimit(routeBatch)).Post("/api/batch", s.handleBatch)
		r.Get("/api/cache/stats", s.handleCacheStats)
	})

	r.NotFound(func(w http.ResponseWriter, r *http.Request) {
		writeJSONError(w, http.StatusNotFound, "Not Found")
	})
	r.MethodNotAllowed(func(w http.ResponseWriter, r *http.Request) {
		writeJSONError(w, http.StatusMethodNotAllowed, "Method Not Allowed")
	})
	return r
}

// ServeHTTP implements http.Handler.
func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	s.router.ServeHTTP(w, r)
}

// ListenAndServe starts the server and shuts it down gracefully when ctx
// is cancelled. Pending audit writes are flushed before it returns.
func (s *Server) ListenAndServe(ctx context.Context) error {
	srv := &http.Server{
		Addr:              s.cfg.Listen,
		Handler:           s,
		ReadHeaderTimeout: 10 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		s.logger.Info("polycraft listening", "addr", s.cfg.Listen)
		errCh <- srv.ListenAndServe()
	}()

	select {
	case <-ctx.Done():
		s.logger.Info("shutting down")
		shutCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()
		err := srv.Shutdown(shutCtx)
		s.pending.Wait()
		return err
	case err := <-errCh:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return err
	}
}
