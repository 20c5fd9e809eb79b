package models

import "time"

// Source records how a text result was produced.
type Source string

const (
	SourceProvider Source = "provider"
	SourceTemplate Source = "template"
	SourceFallback Source = "fallback"
)

// Result is the normalized output of any generation.
// Image and audio results carry URL; text results carry Text and Source.
// Error is set on degraded results that are still served, such as the
// audio placeholder.
type Result struct {
	URL      string         `json:"url,omitempty"`
	Text     string         `json:"text,omitempty"`
	Source   Source         `json:"source,omitempty"`
	Error    string         `json:"error,omitempty"`
	Metadata map[string]any `json:"metadata,omitempty"`
}

// Health is the body returned by the health endpoints.
type Health struct {
	Status    string            `json:"status"`
	Timestamp time.Time         `json:"timestamp"`
	Services  map[string]string `json:"services"`
}
