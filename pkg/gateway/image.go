package gateway

import (
	"context"
	"time"

	"github.com/pario-ai/polycraft/pkg/fingerprint"
	"github.com/pario-ai/polycraft/pkg/models"
)

// Image defaults applied on a cache miss.
const (
	DefaultImageModel = "flux"
	DefaultImageSize  = 1024
)

// ImageProvider renders an image and returns the URL it can be fetched from.
type ImageProvider interface {
	GenerateImage(ctx context.Context, req models.ImageRequest) (string, error)
}

// ImageAdapter serves image requests through the cache.
type ImageAdapter struct {
	base
	provider ImageProvider
}

// NewImageAdapter creates an ImageAdapter. Results are cached for ImageTTL
// unless WithTTL says otherwise.
func NewImageAdapter(cache Cache, provider ImageProvider, opts ...Option) *ImageAdapter {
	return &ImageAdapter{
		base:     base{settings: newSettings(ImageTTL, opts), cache: cache},
		provider: provider,
	}
}

// Generate returns the image result for req.
func (a *ImageAdapter) Generate(ctx context.Context, req models.ImageRequest) (models.Result, error) {
	r, _, err := a.GenerateWithTrace(ctx, req)
	return r, err
}

// GenerateWithTrace is Generate that also reports how the result was served.
func (a *ImageAdapter) GenerateWithTrace(ctx context.Context, req models.ImageRequest) (models.Result, Trace, error) {
	key := fingerprint.Key(fingerprint.Image, req.Params())
	return a.serve(ctx, key, func(ctx context.Context) (models.Result, time.Duration, error) {
		eff := imageDefaults(req)

		callCtx, cancel := context.WithTimeout(ctx, a.timeout)
		defer cancel()

		u, err := a.provider.GenerateImage(callCtx, eff)
		if err != nil {
			a.logger.Warn("image generation failed", "key", key, "err", err)
			return models.Result{}, 0, asUpstream("image", err)
		}

		meta := map[string]any{
			"prompt":    eff.Prompt,
			"model":     eff.Model,
			"width":     eff.Width,
			"height":    eff.Height,
			"nologo":    eff.NoLogo,
			"private":   eff.Private,
			"timestamp": a.timestamp(),
		}
		if eff.Seed != nil {
			meta["seed"] = *eff.Seed
		}
		return models.Result{URL: u, Metadata: meta}, a.ttl, nil
	})
}

func imageDefaults(req models.ImageRequest) models.ImageRequest {
	if req.Model == "" {
		req.Model = DefaultImageModel
	}
	if req.Width == 0 {
		req.Width = DefaultImageSize
	}
	if req.Height == 0 {
		req.Height = DefaultImageSize
	}
	return req
}
