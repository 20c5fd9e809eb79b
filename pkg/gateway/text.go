package gateway

import (
	"context"
	"errors"
	"strings"
	"time"

	"github.com/pario-ai/polycraft/pkg/fingerprint"
	"github.com/pario-ai/polycraft/pkg/models"
	"github.com/pario-ai/polycraft/pkg/synth"
)

// TemplateModel is the model name reported for synthesized text.
const TemplateModel = "template"

var errNoComposer = errors.New("no composer configured")

// TextProvider completes a prompt with a live model.
type TextProvider interface {
	Complete(ctx context.Context, prompt, model string) (string, error)
}

// Composer synthesizes text locally.
type Composer interface {
	Compose(prompt string) (synth.Composition, error)
}

// TextAdapter serves text requests through the cache. With a provider it
// calls the live model; without one it composes from templates.
type TextAdapter struct {
	base
	provider TextProvider
	composer Composer
}

// NewTextAdapter creates a TextAdapter. provider may be nil. Results are
// cached for TextTTL unless WithTTL says otherwise.
func NewTextAdapter(cache Cache, composer Composer, provider TextProvider, opts ...Option) *TextAdapter {
	return &TextAdapter{
		base:     base{settings: newSettings(TextTTL, opts), cache: cache},
		provider: provider,
		composer: composer,
	}
}

// Mode reports "provider" when a live model is configured, else "template".
func (a *TextAdapter) Mode() string {
	if a.provider != nil {
		return string(models.SourceProvider)
	}
	return string(models.SourceTemplate)
}

// Generate returns the text result for req.
func (a *TextAdapter) Generate(ctx context.Context, req models.TextRequest) (models.Result, error) {
	r, _, err := a.GenerateWithTrace(ctx, req)
	return r, err
}

// GenerateWithTrace is Generate that also reports how the result was served.
func (a *TextAdapter) GenerateWithTrace(ctx context.Context, req models.TextRequest) (models.Result, Trace, error) {
	key := fingerprint.Key(fingerprint.Text, req.Params())
	return a.serve(ctx, key, func(ctx context.Context) (models.Result, time.Duration, error) {
		if a.provider != nil {
			return a.complete(ctx, key, req)
		}
		return a.synthesize(key, req), a.ttl, nil
	})
}

func (a *TextAdapter) complete(ctx context.Context, key string, req models.TextRequest) (models.Result, time.Duration, error) {
	callCtx, cancel := context.WithTimeout(ctx, a.timeout)
	defer cancel()

	text, err := a.provider.Complete(callCtx, req.Prompt, req.Model)
	if err != nil {
		a.logger.Warn("text generation failed", "key", key, "err", err)
		return models.Result{}, 0, asUpstream("text", err)
	}

	meta := textMetadata(text, a.timestamp())
	if req.Model != "" {
		meta["model"] = req.Model
	}
	return models.Result{Text: text, Source: models.SourceProvider, Metadata: meta}, a.ttl, nil
}

// synthesize never fails: composition errors degrade to the fixed fallback
// sentence, which is cached like any other result.
func (a *TextAdapter) synthesize(key string, req models.TextRequest) models.Result {
	model := req.Model
	if model == "" {
		model = TemplateModel
	}

	var (
		c   synth.Composition
		err error
	)
	if a.composer == nil {
		err = &models.InternalError{Op: "compose text", Err: errNoComposer}
	} else {
		c, err = a.composer.Compose(req.Prompt)
	}
	if err != nil {
		a.logger.Warn("text synthesis failed, using fallback", "key", key, "err", err)
		topic := synth.Topic(req.Prompt)
		text := synth.Fallback(topic)
		meta := textMetadata(text, a.timestamp())
		meta["model"] = model
		meta["category"] = string(synth.Classify(req.Prompt))
		meta["topic"] = topic
		return models.Result{Text: text, Source: models.SourceFallback, Metadata: meta}
	}

	meta := textMetadata(c.Text, a.timestamp())
	meta["model"] = model
	meta["category"] = string(c.Category)
	meta["topic"] = c.Topic
	return models.Result{Text: c.Text, Source: models.SourceTemplate, Metadata: meta}
}

func textMetadata(text, ts string) map[string]any {
	return map[string]any{
		"timestamp":       ts,
		"word_count":      len(strings.Fields(text)),
		"character_count": len([]rune(text)),
	}
}
