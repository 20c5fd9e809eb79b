package gateway

import (
	"context"
	"errors"
	"fmt"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/pario-ai/polycraft/pkg/models"
)

type stubImage struct {
	fn func(models.ImageRequest) (models.Result, error)
}

func (s stubImage) Generate(_ context.Context, req models.ImageRequest) (models.Result, error) {
	return s.fn(req)
}

type stubText struct {
	calls atomic.Int32
	delay func(prompt string) time.Duration
}

func (s *stubText) Generate(_ context.Context, req models.TextRequest) (models.Result, error) {
	s.calls.Add(1)
	if s.delay != nil {
		time.Sleep(s.delay(req.Prompt))
	}
	return models.Result{Text: "text for " + req.Prompt, Source: models.SourceTemplate}, nil
}

type stubAudio struct{}

func (stubAudio) Generate(_ context.Context, req models.AudioRequest) (models.Result, error) {
	return models.Result{URL: "audio:" + req.Prompt}, nil
}

func okImage() stubImage {
	return stubImage{fn: func(req models.ImageRequest) (models.Result, error) {
		return models.Result{URL: "img:" + req.Prompt}, nil
	}}
}

func TestCoordinator(t *testing.T) {
	t.Run("invalid type is an inline success", func(t *testing.T) {
		c := NewCoordinator(okImage(), &stubText{}, stubAudio{}, WithBatchLogger(quiet))

		res := c.Process(context.Background(), []models.BatchRequest{
			{Type: models.ModalityImage, Prompt: "cat"},
			{Type: "bogus", Prompt: "x"},
			{Type: models.ModalityText, Prompt: "hello"},
		})

		require.Len(t, res.Results, 3)
		assert.Equal(t, 3, res.Processed)
		assert.NotEmpty(t, res.ID)

		assert.Equal(t, models.BatchSuccess, res.Results[0].Status)
		assert.Equal(t, "img:cat", res.Results[0].Result.URL)

		assert.Equal(t, models.BatchSuccess, res.Results[1].Status)
		require.NotNil(t, res.Results[1].Result)
		assert.Equal(t, models.InvalidRequestType, res.Results[1].Result.Error)

		assert.Equal(t, models.BatchSuccess, res.Results[2].Status)
		assert.Equal(t, "text for hello", res.Results[2].Result.Text)
	})

	t.Run("missing type is an inline success", func(t *testing.T) {
		c := NewCoordinator(okImage(), &stubText{}, stubAudio{}, WithBatchLogger(quiet))
		res := c.Process(context.Background(), []models.BatchRequest{{Prompt: "x"}})
		require.Len(t, res.Results, 1)
		assert.Equal(t, models.BatchSuccess, res.Results[0].Status)
		assert.Equal(t, models.InvalidRequestType, res.Results[0].Result.Error)
	})

	t.Run("failing item does not stop the batch", func(t *testing.T) {
		failing := stubImage{fn: func(models.ImageRequest) (models.Result, error) {
			return models.Result{}, &models.UpstreamError{Provider: "pollinations", Status: 500, Message: "boom"}
		}}
		text := &stubText{}
		c := NewCoordinator(failing, text, stubAudio{}, WithBatchLogger(quiet))

		res := c.Process(context.Background(), []models.BatchRequest{
			{Type: models.ModalityImage, Prompt: "cat"},
			{Type: models.ModalityText, Prompt: "hello"},
		})

		require.Len(t, res.Results, 2)
		assert.Equal(t, models.BatchError, res.Results[0].Status)
		assert.Equal(t, "pollinations: 500 boom", res.Results[0].Error)
		assert.Nil(t, res.Results[0].Result)

		assert.Equal(t, models.BatchSuccess, res.Results[1].Status)
		assert.Equal(t, "text for hello", res.Results[1].Result.Text)
		assert.EqualValues(t, 1, text.calls.Load())
	})

	t.Run("panic is isolated to its item", func(t *testing.T) {
		panicking := stubImage{fn: func(models.ImageRequest) (models.Result, error) {
			panic("nil map")
		}}
		c := NewCoordinator(panicking, &stubText{}, stubAudio{}, WithBatchLogger(quiet))

		res := c.Process(context.Background(), []models.BatchRequest{
			{Type: models.ModalityImage, Prompt: "cat"},
			{Type: models.ModalityAudio, Prompt: "hi"},
		})
		assert.Equal(t, models.BatchError, res.Results[0].Status)
		assert.Contains(t, res.Results[0].Error, "nil map")
		assert.Equal(t, "audio:hi", res.Results[1].Result.URL)
	})

	t.Run("invalid item becomes an error item", func(t *testing.T) {
		c := NewCoordinator(okImage(), &stubText{}, stubAudio{}, WithBatchLogger(quiet))
		res := c.Process(context.Background(), []models.BatchRequest{
			{Type: models.ModalityImage, Prompt: "cat", Width: 100},
			{Type: models.ModalityText, Prompt: ""},
			{Type: models.ModalityAudio, Prompt: "ok", Speed: 9},
			{Type: models.ModalityAudio, Prompt: "ok"},
		})
		assert.Equal(t, models.BatchError, res.Results[0].Status)
		assert.Contains(t, res.Results[0].Error, "width")
		assert.Equal(t, models.BatchError, res.Results[1].Status)
		assert.Equal(t, models.BatchError, res.Results[2].Status)
		assert.Equal(t, models.BatchSuccess, res.Results[3].Status)
	})

	t.Run("empty batch", func(t *testing.T) {
		c := NewCoordinator(okImage(), &stubText{}, stubAudio{})
		res := c.Process(context.Background(), nil)
		assert.Empty(t, res.Results)
		assert.Equal(t, 0, res.Processed)
	})

	t.Run("concurrent fan-out preserves order", func(t *testing.T) {
		text := &stubText{delay: func(prompt string) time.Duration {
			var n int
			fmt.Sscanf(prompt, "p%d", &n)
			return time.Duration(10-n) * 3 * time.Millisecond
		}}
		c := NewCoordinator(okImage(), text, stubAudio{}, WithConcurrency(4), WithBatchLogger(quiet))

		reqs := make([]models.BatchRequest, 10)
		for i := range reqs {
			reqs[i] = models.BatchRequest{Type: models.ModalityText, Prompt: fmt.Sprintf("p%d", i)}
		}
		res := c.Process(context.Background(), reqs)

		require.Len(t, res.Results, 10)
		for i, item := range res.Results {
			assert.Equal(t, fmt.Sprintf("text for p%d", i), item.Result.Text)
		}
		assert.EqualValues(t, 10, text.calls.Load())
	})

	t.Run("adapter errors do not escape", func(t *testing.T) {
		failing := stubImage{fn: func(models.ImageRequest) (models.Result, error) {
			return models.Result{}, errors.New("plain failure")
		}}
		c := NewCoordinator(failing, &stubText{}, stubAudio{}, WithBatchLogger(quiet))
		res := c.Process(context.Background(), []models.BatchRequest{{Type: models.ModalityImage, Prompt: "a"}})
		assert.Equal(t, "plain failure", res.Results[0].Error)
	})
}
