package gateway

import (
	"context"
	"time"

	"github.com/pario-ai/polycraft/pkg/fingerprint"
	"github.com/pario-ai/polycraft/pkg/models"
)

// Audio defaults applied on a cache miss.
const (
	DefaultAudioModel  = "openai-audio"
	DefaultVoice       = "alloy"
	DefaultSpeed       = 1.0
	DefaultAudioFormat = "mp3"

	// MaxSpokenChars caps the text sent upstream for speech.
	MaxSpokenChars = 500

	// DefaultPlaceholderURL is an empty MP3 served when synthesis fails.
	DefaultPlaceholderURL = "data:audio/mpeg;base64,"

	// AudioUnavailable is the note attached to the fallback result.
	AudioUnavailable = "Audio generation temporarily unavailable"
)

// AudioProvider synthesizes speech and returns the URL it can be fetched from.
type AudioProvider interface {
	GenerateAudio(ctx context.Context, req models.AudioRequest) (string, error)
}

// AudioAdapter serves audio requests through the cache. Upstream failures
// do not propagate: a placeholder result is cached for the fallback TTL
// instead.
type AudioAdapter struct {
	base
	provider AudioProvider
}

// NewAudioAdapter creates an AudioAdapter. Results are cached for AudioTTL
// and placeholders for AudioFallbackTTL unless overridden.
func NewAudioAdapter(cache Cache, provider AudioProvider, opts ...Option) *AudioAdapter {
	return &AudioAdapter{
		base:     base{settings: newSettings(AudioTTL, opts), cache: cache},
		provider: provider,
	}
}

// Generate returns the audio result for req.
func (a *AudioAdapter) Generate(ctx context.Context, req models.AudioRequest) (models.Result, error) {
	r, _, err := a.GenerateWithTrace(ctx, req)
	return r, err
}

// GenerateWithTrace is Generate that also reports how the result was served.
// The only error it returns is the caller's own context error.
func (a *AudioAdapter) GenerateWithTrace(ctx context.Context, req models.AudioRequest) (models.Result, Trace, error) {
	key := fingerprint.Key(fingerprint.Audio, req.Params())
	return a.serve(ctx, key, func(ctx context.Context) (models.Result, time.Duration, error) {
		eff := audioDefaults(req)

		callCtx, cancel := context.WithTimeout(ctx, a.timeout)
		defer cancel()

		u, err := a.provider.GenerateAudio(callCtx, eff)
		if err != nil {
			if ctx.Err() != nil {
				return models.Result{}, 0, ctx.Err()
			}
			a.logger.Warn("audio generation failed, serving placeholder", "key", key, "err", err)
			return models.Result{
				URL:   a.placeholder,
				Error: AudioUnavailable,
				Metadata: map[string]any{
					"fallback":  true,
					"voice":     eff.Voice,
					"speed":     eff.Speed,
					"timestamp": a.timestamp(),
				},
			}, a.fallbackTTL, nil
		}

		return models.Result{
			URL: u,
			Metadata: map[string]any{
				"model":           eff.Model,
				"voice":           eff.Voice,
				"speed":           eff.Speed,
				"response_format": eff.ResponseFormat,
				"timestamp":       a.timestamp(),
			},
		}, a.ttl, nil
	})
}

func audioDefaults(req models.AudioRequest) models.AudioRequest {
	if req.Model == "" {
		req.Model = DefaultAudioModel
	}
	if req.Voice == "" {
		req.Voice = DefaultVoice
	}
	if req.Speed == 0 {
		req.Speed = DefaultSpeed
	}
	if req.ResponseFormat == "" {
		req.ResponseFormat = DefaultAudioFormat
	}
	if r := []rune(req.Prompt); len(r) > MaxSpokenChars {
		req.Prompt = string(r[:MaxSpokenChars])
	}
	return req
}
