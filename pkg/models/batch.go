package models

import "time"

// InvalidRequestType is the inline note returned for batch items whose
// type is missing or unknown.
const InvalidRequestType = "Invalid request type"

// BatchRequest is one tagged item of a batch. Type selects the modality;
// the remaining fields are the union of all request fields.
type BatchRequest struct {
	Type           Modality `json:"type"`
	Prompt         string   `json:"prompt"`
	Model          string   `json:"model,omitempty"`
	Width          int      `json:"width,omitempty"`
	Height         int      `json:"height,omitempty"`
	Seed           *int     `json:"seed,omitempty"`
	NoLogo         bool     `json:"nologo,omitempty"`
	Private        bool     `json:"private,omitempty"`
	Voice          string   `json:"voice,omitempty"`
	Speed          float64  `json:"speed,omitempty"`
	ResponseFormat string   `json:"response_format,omitempty"`
}

// Image returns the item as an ImageRequest.
func (b BatchRequest) Image() ImageRequest {
	return ImageRequest{
		Prompt:  b.Prompt,
		Model:   b.Model,
		Width:   b.Width,
		Height:  b.Height,
		Seed:    b.Seed,
		NoLogo:  b.NoLogo,
		Private: b.Private,
	}
}

// Text returns the item as a TextRequest.
func (b BatchRequest) Text() TextRequest {
	return TextRequest{Prompt: b.Prompt, Model: b.Model}
}

// Audio returns the item as an AudioRequest.
func (b BatchRequest) Audio() AudioRequest {
	return AudioRequest{
		ImageRequest:   b.Image(),
		Voice:          b.Voice,
		Speed:          b.Speed,
		ResponseFormat: b.ResponseFormat,
	}
}

// BatchStatus is the envelope status of one batch item.
type BatchStatus string

const (
	BatchSuccess BatchStatus = "success"
	BatchError   BatchStatus = "error"
)

// BatchItem is the outcome of one batch input, at the same index.
type BatchItem struct {
	Status BatchStatus `json:"status"`
	Result *Result     `json:"result,omitempty"`
	Error  string      `json:"error,omitempty"`
}

// BatchResult holds one item per input, in input order.
type BatchResult struct {
	ID        string      `json:"id"`
	Results   []BatchItem `json:"results"`
	Processed int         `json:"processed"`
	Timestamp time.Time   `json:"timestamp"`
}
