// Package pollinations calls the Pollinations image and audio endpoints.
package pollinations

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/pario-ai/polycraft/pkg/models"
)

// Provider name reported in errors and metadata.
const Name = "pollinations"

// Default upstream endpoints.
const (
	DefaultImageURL = "https://image.pollinations.ai"
	DefaultAudioURL = "https://text.pollinations.ai"
	DefaultTimeout  = 30 * time.Second
)

// maxErrorBody caps how much of an error response is kept in the message.
const maxErrorBody = 512

// Config holds the upstream endpoints and HTTP settings.
type Config struct {
	ImageURL  string
	AudioURL  string
	Timeout   time.Duration
	UserAgent string
}

// Client performs GET requests against the Pollinations endpoints. The
// generated asset is addressed by the final URL after redirects.
type Client struct {
	imageURL  string
	audioURL  string
	userAgent string
	http      *http.Client
}

// New creates a Client, filling unset fields with the defaults.
func New(cfg Config) *Client {
	if cfg.ImageURL == "" {
		cfg.ImageURL = DefaultImageURL
	}
	if cfg.AudioURL == "" {
		cfg.AudioURL = DefaultAudioURL
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = DefaultTimeout
	}
	return &Client{
		imageURL:  strings.TrimRight(cfg.ImageURL, "/"),
		audioURL:  strings.TrimRight(cfg.AudioURL, "/"),
		userAgent: cfg.UserAgent,
		http:      &http.Client{Timeout: cfg.Timeout},
	}
}

// GenerateImage requests an image for req and returns its URL. The request
// is sent as given; defaults are the caller's concern.
func (c *Client) GenerateImage(ctx context.Context, req models.ImageRequest) (string, error) {
	q := url.Values{}
	q.Set("model", req.Model)
	q.Set("width", strconv.Itoa(req.Width))
	q.Set("height", strconv.Itoa(req.Height))
	if req.Seed != nil {
		q.Set("seed", strconv.Itoa(*req.Seed))
	}
	q.Set("nologo", strconv.FormatBool(req.NoLogo))
	q.Set("private", strconv.FormatBool(req.Private))

	return c.fetch(ctx, c.imageURL+"/prompt/"+url.PathEscape(req.Prompt), q)
}

// GenerateAudio requests speech for req.Prompt and returns its URL.
func (c *Client) GenerateAudio(ctx context.Context, req models.AudioRequest) (string, error) {
	q := url.Values{}
	q.Set("model", req.Model)
	q.Set("voice", req.Voice)
	q.Set("speed", strconv.FormatFloat(req.Speed, 'f', -1, 64))
	q.Set("response_format", req.ResponseFormat)

	return c.fetch(ctx, c.audioURL+"/"+url.PathEscape(req.Prompt), q)
}

// fetch issues the GET and returns the final URL once the upstream answers 2xx.
func (c *Client) fetch(ctx context.Context, endpoint string, q url.Values) (string, error) {
	target := endpoint
	if len(q) > 0 {
		target += "?" + q.Encode()
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, target, nil)
	if err != nil {
		return "", &models.UpstreamError{Provider: Name, Message: "create request", Err: err}
	}
	if c.userAgent != "" {
		req.Header.Set("User-Agent", c.userAgent)
	}

	resp, err := c.http.Do(req)
	if err != nil {
		return "", &models.UpstreamError{Provider: Name, Message: transportMessage(err), Err: err}
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, maxErrorBody))
		msg := strings.TrimSpace(string(body))
		if msg == "" {
			msg = http.StatusText(resp.StatusCode)
		}
		return "", &models.UpstreamError{Provider: Name, Status: resp.StatusCode, Message: msg}
	}

	// The asset itself is not needed; drain so the connection can be reused.
	_, _ = io.Copy(io.Discard, resp.Body)

	return resp.Request.URL.String(), nil
}

func transportMessage(err error) string {
	var ue *url.Error
	if errors.As(err, &ue) {
		if ue.Timeout() {
			return "request timed out"
		}
		return fmt.Sprintf("request failed: %v", ue.Err)
	}
	return err.Error()
}
