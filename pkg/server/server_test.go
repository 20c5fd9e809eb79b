package server

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/pario-ai/polycraft/pkg/audit"
	"github.com/pario-ai/polycraft/pkg/cache"
	"github.com/pario-ai/polycraft/pkg/config"
	"github.com/pario-ai/polycraft/pkg/gateway"
	"github.com/pario-ai/polycraft/pkg/logging"
	"github.com/pario-ai/polycraft/pkg/models"
	"github.com/pario-ai/polycraft/pkg/synth"
)

type fakeClock struct {
	mu  sync.Mutex
	now time.Time
}

func (f *fakeClock) Now() time.Time {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.now
}

func (f *fakeClock) Advance(d time.Duration) {
	f.mu.Lock()
	f.now = f.now.Add(d)
	f.mu.Unlock()
}

type fakeImages struct {
	calls atomic.Int32
	err   error
}

func (f *fakeImages) GenerateImage(_ context.Context, req models.ImageRequest) (string, error) {
	f.calls.Add(1)
	if f.err != nil {
		return "", f.err
	}
	return "https://img.example/" + req.Prompt, nil
}

type fakeAudio struct {
	err error
}

func (f *fakeAudio) GenerateAudio(_ context.Context, req models.AudioRequest) (string, error) {
	if f.err != nil {
		return "", f.err
	}
	return "https://audio.example/" + req.Prompt, nil
}

type fixture struct {
	srv    *Server
	images *fakeImages
	audio  *fakeAudio
	clock  *fakeClock
}

func setupServer(t *testing.T, mutate func(*config.Config), auditor *audit.Logger) *fixture {
	t.Helper()

	cfg := config.Default()
	if mutate != nil {
		mutate(cfg)
	}

	clock := &fakeClock{now: time.Date(2025, 6, 1, 9, 0, 0, 0, time.UTC)}
	images := &fakeImages{}
	audio := &fakeAudio{}
	composer, err := synth.New()
	require.NoError(t, err)

	quiet := logging.Discard()
	gw := gateway.New(
		cache.New[models.Result](cache.WithClock(clock.Now)),
		gateway.Providers{Images: images, Audio: audio, Composer: composer},
		gateway.Config{BatchConcurrency: cfg.Batch.Concurrency},
		gateway.WithClock(clock.Now), gateway.WithLogger(quiet),
	)
	t.Cleanup(func() { _ = gw.Close() })

	return &fixture{
		srv:    New(cfg, gw, auditor, WithLogger(quiet), WithClock(clock.Now)),
		images: images,
		audio:  audio,
		clock:  clock,
	}
}

func (f *fixture) do(method, path, body string, header map[string]string) *httptest.ResponseRecorder {
	var req *http.Request
	if body == "" {
		req = httptest.NewRequest(method, path, nil)
	} else {
		req = httptest.NewRequest(method, path, strings.NewReader(body))
		req.Header.Set("Content-Type", "application/json")
	}
	for k, v := range header {
		req.Header.Set(k, v)
	}
	w := httptest.NewRecorder()
	f.srv.ServeHTTP(w, req)
	return w
}

func decodeBody[T any](t *testing.T, w *httptest.ResponseRecorder) T {
	t.Helper()
	var v T
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &v), w.Body.String())
	return v
}

func TestHealth(t *testing.T) {
	f := setupServer(t, nil, nil)

	for _, path := range []string{"/health", "/api/health"} {
		t.Run(path, func(t *testing.T) {
			w := f.do(http.MethodGet, path, "", nil)
			require.Equal(t, http.StatusOK, w.Code)

			h := decodeBody[models.Health](t, w)
			assert.Equal(t, "healthy", h.Status)
			assert.True(t, h.Timestamp.Equal(f.clock.Now()))
			assert.Equal(t, "operational", h.Services["image_generation"])
			assert.Equal(t, "template", h.Services["text_generation"])
			assert.Equal(t, "operational", h.Services["audio_generation"])
		})
	}
}

func TestGenerateImage(t *testing.T) {
	f := setupServer(t, nil, nil)
	body := `{"prompt":"lighthouse","width":512,"height":512}`

	w := f.do(http.MethodPost, "/api/generate/image", body, nil)
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())
	assert.Equal(t, "miss", w.Header().Get(CacheHeader))

	res := decodeBody[models.Result](t, w)
	assert.Equal(t, "https://img.example/lighthouse", res.URL)
	assert.Equal(t, "flux", res.Metadata["model"])
	assert.EqualValues(t, 512, res.Metadata["width"])

	w = f.do(http.MethodPost, "/api/generate/image", body, nil)
	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, "hit", w.Header().Get(CacheHeader))
	assert.EqualValues(t, 1, f.images.calls.Load())
}

func TestGenerateValidation(t *testing.T) {
	f := setupServer(t, nil, nil)

	tests := []struct {
		name, path, body, detail string
	}{
		{"empty prompt", "/api/generate/text", `{"prompt":""}`, "prompt: must not be empty"},
		{"long prompt", "/api/generate/text", `{"prompt":"` + strings.Repeat("a", 1001) + `"}`, "prompt: must be at most 1000 characters"},
		{"small width", "/api/generate/image", `{"prompt":"x","width":100}`, "width: must be between 256 and 2048"},
		{"fast speech", "/api/generate/audio", `{"prompt":"x","speed":5}`, "speed: must be between 0.25 and 4.0"},
		{"malformed json", "/api/generate/image", `{"prompt":`, "invalid request body"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			w := f.do(http.MethodPost, tt.path, tt.body, nil)
			assert.Equal(t, http.StatusUnprocessableEntity, w.Code)
			body := decodeBody[map[string]string](t, w)
			assert.Contains(t, body["detail"], tt.detail)
		})
	}
	assert.EqualValues(t, 0, f.images.calls.Load())
}

func TestGenerateUpstreamFailure(t *testing.T) {
	f := setupServer(t, nil, nil)
	f.images.err = &models.UpstreamError{Provider: "pollinations", Status: 502, Message: "bad gateway"}

	w := f.do(http.MethodPost, "/api/generate/image", `{"prompt":"cat"}`, nil)
	assert.Equal(t, http.StatusInternalServerError, w.Code)
	body := decodeBody[map[string]string](t, w)
	assert.Equal(t, "Failed to generate image: pollinations: 502 bad gateway", body["detail"])
}

func TestGenerateText(t *testing.T) {
	f := setupServer(t, nil, nil)

	w := f.do(http.MethodPost, "/api/generate/text", `{"prompt":"Explain gravity"}`, nil)
	require.Equal(t, http.StatusOK, w.Code)
	res := decodeBody[models.Result](t, w)
	assert.Equal(t, models.SourceTemplate, res.Source)
	assert.Contains(t, res.Text, "gravity")
	assert.Equal(t, "explanation", res.Metadata["category"])
}

func TestGenerateAudioFallback(t *testing.T) {
	f := setupServer(t, nil, nil)
	f.audio.err = &models.UpstreamError{Provider: "pollinations", Status: 500, Message: "down"}

	w := f.do(http.MethodPost, "/api/generate/audio", `{"prompt":"hello","voice":"nova"}`, nil)
	require.Equal(t, http.StatusOK, w.Code)
	res := decodeBody[models.Result](t, w)
	assert.Equal(t, gateway.DefaultPlaceholderURL, res.URL)
	assert.Equal(t, gateway.AudioUnavailable, res.Error)
	assert.Equal(t, true, res.Metadata["fallback"])
}

func TestBatch(t *testing.T) {
	f := setupServer(t, nil, nil)

	body := `{"requests":[
		{"type":"image","prompt":"cat"},
		{"type":"bogus","prompt":"x"},
		{"type":"text","prompt":"tell me a story about dragons"}
	]}`
	w := f.do(http.MethodPost, "/api/batch", body, nil)
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())

	res := decodeBody[models.BatchResult](t, w)
	require.Len(t, res.Results, 3)
	assert.Equal(t, 3, res.Processed)
	assert.NotEmpty(t, res.ID)

	assert.Equal(t, models.BatchSuccess, res.Results[0].Status)
	assert.Equal(t, "https://img.example/cat", res.Results[0].Result.URL)
	assert.Equal(t, models.BatchSuccess, res.Results[1].Status)
	assert.Equal(t, models.InvalidRequestType, res.Results[1].Result.Error)
	assert.Equal(t, models.BatchSuccess, res.Results[2].Status)
	assert.Equal(t, "story", res.Results[2].Result.Metadata["category"])
}

func TestBatchRequiresRequests(t *testing.T) {
	f := setupServer(t, nil, nil)
	w := f.do(http.MethodPost, "/api/batch", `{}`, nil)
	assert.Equal(t, http.StatusUnprocessableEntity, w.Code)

	w = f.do(http.MethodPost, "/api/batch", `{"requests":[]}`, nil)
	require.Equal(t, http.StatusOK, w.Code)
	res := decodeBody[models.BatchResult](t, w)
	assert.Empty(t, res.Results)
}

func TestAPIKey(t *testing.T) {
	f := setupServer(t, func(c *config.Config) { c.Auth.APIKey = "secret" }, nil)

	w := f.do(http.MethodPost, "/api/generate/text", `{"prompt":"hi"}`, nil)
	assert.Equal(t, http.StatusUnauthorized, w.Code)
	assert.Equal(t, "Invalid API key", decodeBody[map[string]string](t, w)["detail"])

	w = f.do(http.MethodPost, "/api/generate/text", `{"prompt":"hi"}`, map[string]string{"Authorization": "Bearer wrong"})
	assert.Equal(t, http.StatusUnauthorized, w.Code)

	w = f.do(http.MethodPost, "/api/generate/text", `{"prompt":"hi"}`, map[string]string{"Authorization": "Bearer secret"})
	assert.Equal(t, http.StatusOK, w.Code)

	w = f.do(http.MethodGet, "/health", "", nil)
	assert.Equal(t, http.StatusOK, w.Code)
}

func TestRateLimit(t *testing.T) {
	f := setupServer(t, func(c *config.Config) { c.RateLimit.Image = 2 }, nil)

	for i := 0; i < 2; i++ {
		w := f.do(http.MethodPost, "/api/generate/image", `{"prompt":"cat"}`, nil)
		require.Equal(t, http.StatusOK, w.Code)
	}

	w := f.do(http.MethodPost, "/api/generate/image", `{"prompt":"cat"}`, nil)
	assert.Equal(t, http.StatusTooManyRequests, w.Code)
	assert.Equal(t, "30", w.Header().Get("Retry-After"))

	// Limits are per route.
	w = f.do(http.MethodPost, "/api/generate/text", `{"prompt":"cat"}`, nil)
	assert.Equal(t, http.StatusOK, w.Code)

	f.clock.Advance(31 * time.Second)
	w = f.do(http.MethodPost, "/api/generate/image", `{"prompt":"cat"}`, nil)
	assert.Equal(t, http.StatusOK, w.Code)
}

func TestRateLimitIgnoresForwardedFor(t *testing.T) {
	f := setupServer(t, nil, nil)

	allowed := 0
	for i := 0; i < 25; i++ {
		w := f.do(http.MethodPost, "/api/generate/image", `{"prompt":"cat"}`,
			map[string]string{"X-Forwarded-For": fmt.Sprintf("203.0.113.%d", i)})
		if w.Code == http.StatusOK {
			allowed++
		} else {
			assert.Equal(t, http.StatusTooManyRequests, w.Code)
		}
	}
	assert.Equal(t, 10, allowed)
}

func TestRateLimitTrustedProxyHeaders(t *testing.T) {
	f := setupServer(t, func(c *config.Config) {
		c.Server.TrustProxyHeaders = true
		c.RateLimit.Image = 1
	}, nil)

	for _, ip := range []string{"203.0.113.1", "203.0.113.2"} {
		w := f.do(http.MethodPost, "/api/generate/image", `{"prompt":"cat"}`,
			map[string]string{"X-Forwarded-For": ip})
		assert.Equal(t, http.StatusOK, w.Code, ip)
	}
	w := f.do(http.MethodPost, "/api/generate/image", `{"prompt":"cat"}`,
		map[string]string{"X-Forwarded-For": "203.0.113.1"})
	assert.Equal(t, http.StatusTooManyRequests, w.Code)
}

func TestCacheStats(t *testing.T) {
	f := setupServer(t, nil, nil)
	f.do(http.MethodPost, "/api/generate/image", `{"prompt":"cat"}`, nil)
	f.do(http.MethodPost, "/api/generate/image", `{"prompt":"cat"}`, nil)

	w := f.do(http.MethodGet, "/api/cache/stats", "", nil)
	require.Equal(t, http.StatusOK, w.Code)
	stats := decodeBody[map[string]any](t, w)
	assert.Equal(t, "memory", stats["backend"])
	assert.EqualValues(t, 1, stats["entries"])
	assert.EqualValues(t, 0.5, stats["hit_rate"])
}

func TestCORS(t *testing.T) {
	f := setupServer(t, nil, nil)

	w := f.do(http.MethodOptions, "/api/generate/image", "", map[string]string{
		"Origin":                        "https://app.example",
		"Access-Control-Request-Method": "POST",
	})
	assert.Equal(t, http.StatusNoContent, w.Code)
	assert.Equal(t, "*", w.Header().Get("Access-Control-Allow-Origin"))

	restricted := setupServer(t, func(c *config.Config) {
		c.CORS.AllowedOrigins = []string{"https://app.example"}
	}, nil)
	w = restricted.do(http.MethodGet, "/health", "", map[string]string{"Origin": "https://evil.example"})
	assert.Empty(t, w.Header().Get("Access-Control-Allow-Origin"))
	w = restricted.do(http.MethodGet, "/health", "", map[string]string{"Origin": "https://app.example"})
	assert.Equal(t, "https://app.example", w.Header().Get("Access-Control-Allow-Origin"))
}

func TestNotFound(t *testing.T) {
	f := setupServer(t, nil, nil)
	w := f.do(http.MethodGet, "/nope", "", nil)
	assert.Equal(t, http.StatusNotFound, w.Code)
	assert.Equal(t, "Not Found", decodeBody[map[string]string](t, w)["detail"])
}

func TestAuditRecording(t *testing.T) {
	auditor, err := audit.New(models.AuditConfig{
		Enabled:        true,
		DBPath:         filepath.Join(t.TempDir(), "audit.db"),
		IncludePrompts: true,
	})
	require.NoError(t, err)
	t.Cleanup(func() { _ = auditor.Close() })

	f := setupServer(t, nil, auditor)
	f.do(http.MethodPost, "/api/generate/image", `{"prompt":"cat"}`, map[string]string{"Authorization": "Bearer k"})
	f.do(http.MethodPost, "/api/generate/image", `{"prompt":"cat"}`, nil)
	f.srv.pending.Wait()

	entries, err := auditor.Query(context.Background(), models.AuditQueryOpts{Modality: models.ModalityImage})
	require.NoError(t, err)
	require.Len(t, entries, 2)

	var hits int
	for _, e := range entries {
		assert.Equal(t, "cat", e.Prompt)
		assert.Equal(t, "success", e.Status)
		assert.True(t, strings.HasPrefix(e.Fingerprint, "image:"))
		if e.CacheHit {
			hits++
		}
	}
	assert.Equal(t, 1, hits)
}

func TestListenAndServeShutdown(t *testing.T) {
	f := setupServer(t, func(c *config.Config) { c.Listen = "127.0.0.1:0" }, nil)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- f.srv.ListenAndServe(ctx) }()

	time.Sleep(50 * time.Millisecond)
	cancel()

	select {
	case err := <-done:
		assert.NoError(t, err)
	case <-time.After(6 * time.Second):
		t.Fatal("server did not shut down")
	}
}
