// Package openai is the live text provider for any OpenAI-compatible chat
// completion endpoint.
package openai

import (
	"context"
	"errors"
	"net/http"
	"strings"
	"time"

	goopenai "github.com/sashabaranov/go-openai"

	"github.com/pario-ai/polycraft/pkg/models"
)

// Name is the provider name reported in errors and metadata.
const Name = "openai"

// Defaults applied by New.
const (
	DefaultModel   = "gpt-4o-mini"
	DefaultTimeout = 30 * time.Second
)

// Config holds the endpoint settings.
type Config struct {
	BaseURL string
	APIKey  string
	Model   string
	Timeout time.Duration
}

// Client completes prompts through the chat completion API.
type Client struct {
	client *goopenai.Client
	model  string
}

// New creates a Client, filling unset fields with the defaults.
func New(cfg Config) *Client {
	if cfg.Model == "" {
		cfg.Model = DefaultModel
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = DefaultTimeout
	}

	clientConfig := goopenai.DefaultConfig(cfg.APIKey)
	if cfg.BaseURL != "" {
		clientConfig.BaseURL = strings.TrimRight(cfg.BaseURL, "/")
	}
	clientConfig.HTTPClient = &http.Client{Timeout: cfg.Timeout}

	return &Client{
		client: goopenai.NewClientWithConfig(clientConfig),
		model:  cfg.Model,
	}
}

// DefaultModel returns the model used when a request names none.
func (c *Client) DefaultModel() string { return c.model }

// Complete sends prompt as a single user message. An empty model selects
// the configured default.
func (c *Client) Complete(ctx context.Context, prompt, model string) (string, error) {
	if model == "" {
		model = c.model
	}

	resp, err := c.client.CreateChatCompletion(ctx, goopenai.ChatCompletionRequest{
		Model: model,
		Messages: []goopenai.ChatCompletionMessage{
			{Role: goopenai.ChatMessageRoleUser, Content: prompt},
		},
	})
	if err != nil {
		return "", upstreamError(err)
	}
	if len(resp.Choices) == 0 {
		return "", &models.UpstreamError{Provider: Name, Status: http.StatusBadGateway, Message: "empty completion"}
	}
	return resp.Choices[0].Message.Content, nil
}

func upstreamError(err error) error {
	var apiErr *goopenai.APIError
	if errors.As(err, &apiErr) {
		return &models.UpstreamError{Provider: Name, Status: apiErr.HTTPStatusCode, Message: apiErr.Message, Err: err}
	}
	var reqErr *goopenai.RequestError
	if errors.As(err, &reqErr) {
		msg := http.StatusText(reqErr.HTTPStatusCode)
		if reqErr.Err != nil {
			msg = reqErr.Err.Error()
		}
		return &models.UpstreamError{Provider: Name, Status: reqErr.HTTPStatusCode, Message: msg, Err: err}
	}
	return &models.UpstreamError{Provider: Name, Message: err.Error(), Err: err}
}
