package gateway

import (
	"context"
	"fmt"
	"time"

	"github.com/charmbracelet/log"
	"github.com/google/uuid"
	"golang.org/x/sync/errgroup"

	"github.com/pario-ai/polycraft/pkg/models"
)

// ImageGenerator produces image results.
type ImageGenerator interface {
	Generate(ctx context.Context, req models.ImageRequest) (models.Result, error)
}

// TextGenerator produces text results.
type TextGenerator interface {
	Generate(ctx context.Context, req models.TextRequest) (models.Result, error)
}

// AudioGenerator produces audio results.
type AudioGenerator interface {
	Generate(ctx context.Context, req models.AudioRequest) (models.Result, error)
}

// Coordinator dispatches tagged batch items to the matching generator.
// Every input yields exactly one item at the same index, and a failing
// item never affects the others.
type Coordinator struct {
	image       ImageGenerator
	text        TextGenerator
	audio       AudioGenerator
	concurrency int
	logger      *log.Logger
	now         func() time.Time
}

// BatchOption configures a Coordinator.
type BatchOption func(*Coordinator)

// WithConcurrency processes up to n items at once. n <= 1 processes items
// one after another in input order.
func WithConcurrency(n int) BatchOption {
	return func(c *Coordinator) {
		if n > 1 {
			c.concurrency = n
		}
	}
}

// WithBatchLogger sets the coordinator logger.
func WithBatchLogger(l *log.Logger) BatchOption {
	return func(c *Coordinator) {
		if l != nil {
			c.logger = l
		}
	}
}

// WithBatchClock replaces time.Now for the batch timestamp.
func WithBatchClock(now func() time.Time) BatchOption {
	return func(c *Coordinator) {
		if now != nil {
			c.now = now
		}
	}
}

// NewCoordinator creates a Coordinator that processes sequentially unless
// WithConcurrency says otherwise.
func NewCoordinator(image ImageGenerator, text TextGenerator, audio AudioGenerator, opts ...BatchOption) *Coordinator {
	c := &Coordinator{
		image:       image,
		text:        text,
		audio:       audio,
		concurrency: 1,
		logger:      log.Default(),
		now:         time.Now,
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// Process runs every request and returns the results in input order.
func (c *Coordinator) Process(ctx context.Context, reqs []models.BatchRequest) models.BatchResult {
	id := uuid.NewString()
	results := make([]models.BatchItem, len(reqs))

	if c.concurrency <= 1 {
		for i, req := range reqs {
			results[i] = c.processOne(ctx, id, i, req)
		}
	} else {
		var g errgroup.Group
		g.SetLimit(c.concurrency)
		for i, req := range reqs {
			g.Go(func() error {
				results[i] = c.processOne(ctx, id, i, req)
				return nil
			})
		}
		_ = g.Wait()
	}

	return models.BatchResult{
		ID:        id,
		Results:   results,
		Processed: len(results),
		Timestamp: c.now().UTC(),
	}
}

func (c *Coordinator) processOne(ctx context.Context, batchID string, i int, req models.BatchRequest) (item models.BatchItem) {
	defer func() {
		if r := recover(); r != nil {
			c.logger.Error("batch item panicked", "batch", batchID, "index", i, "panic", r)
			item = models.BatchItem{Status: models.BatchError, Error: fmt.Sprintf("internal error: %v", r)}
		}
	}()

	var (
		res models.Result
		err error
	)
	switch req.Type {
	case models.ModalityImage:
		r := req.Image()
		if err = r.Validate(); err == nil {
			res, err = c.image.Generate(ctx, r)
		}
	case models.ModalityText:
		r := req.Text()
		if err = r.Validate(); err == nil {
			res, err = c.text.Generate(ctx, r)
		}
	case models.ModalityAudio:
		r := req.Audio()
		if err = r.Validate(); err == nil {
			res, err = c.audio.Generate(ctx, r)
		}
	default:
		c.logger.Debug("batch item has invalid type", "batch", batchID, "index", i, "type", req.Type)
		return models.BatchItem{
			Status: models.BatchSuccess,
			Result: &models.Result{Error: models.InvalidRequestType},
		}
	}

	if err != nil {
		c.logger.Warn("batch item failed", "batch", batchID, "index", i, "type", req.Type, "err", err)
		return models.BatchItem{Status: models.BatchError, Error: err.Error()}
	}
	return models.BatchItem{Status: models.BatchSuccess, Result: &res}
}
