package models

// Modality identifies the kind of content a request generates.
type Modality string

const (
	ModalityImage Modality = "image"
	ModalityText  Modality = "text"
	ModalityAudio Modality = "audio"
)

// Request bounds enforced by Validate.
const (
	MaxPromptLength = 1000
	MinDimension    = 256
	MaxDimension    = 2048
	MinSpeed        = 0.25
	MaxSpeed        = 4.0
)

// ImageRequest asks for a generated image.
// Zero values mean "use the default" and are omitted from the fingerprint.
type ImageRequest struct {
	Prompt  string `json:"prompt"`
	Model   string `json:"model,omitempty"`
	Width   int    `json:"width,omitempty"`
	Height  int    `json:"height,omitempty"`
	Seed    *int   `json:"seed,omitempty"`
	NoLogo  bool   `json:"nologo,omitempty"`
	Private bool   `json:"private,omitempty"`
}

// Params returns the explicit parameter set of the request, prompt included.
func (r ImageRequest) Params() map[string]any {
	p := map[string]any{
		"prompt":  r.Prompt,
		"nologo":  r.NoLogo,
		"private": r.Private,
	}
	if r.Model != "" {
		p["model"] = r.Model
	}
	if r.Width != 0 {
		p["width"] = r.Width
	}
	if r.Height != 0 {
		p["height"] = r.Height
	}
	if r.Seed != nil {
		p["seed"] = *r.Seed
	}
	return p
}

// Validate checks the request against the accepted ranges.
func (r ImageRequest) Validate() error {
	if err := validatePrompt(r.Prompt); err != nil {
		return err
	}
	if err := validateDimension("width", r.Width); err != nil {
		return err
	}
	return validateDimension("height", r.Height)
}

// TextRequest asks for generated text.
type TextRequest struct {
	Prompt string `json:"prompt"`
	Model  string `json:"model,omitempty"`
}

// Params returns the explicit parameter set of the request, prompt included.
func (r TextRequest) Params() map[string]any {
	p := map[string]any{"prompt": r.Prompt}
	if r.Model != "" {
		p["model"] = r.Model
	}
	return p
}

// Validate checks the request against the accepted ranges.
func (r TextRequest) Validate() error {
	return validatePrompt(r.Prompt)
}

// AudioRequest asks for synthesized speech. It carries the image fields
// for wire compatibility; only prompt, model and the voice settings reach
// the upstream.
type AudioRequest struct {
	ImageRequest
	Voice          string  `json:"voice,omitempty"`
	Speed          float64 `json:"speed,omitempty"`
	ResponseFormat string  `json:"response_format,omitempty"`
}

// Params returns the explicit parameter set of the request, prompt included.
func (r AudioRequest) Params() map[string]any {
	p := r.ImageRequest.Params()
	if r.Voice != "" {
		p["voice"] = r.Voice
	}
	if r.Speed != 0 {
		p["speed"] = r.Speed
	}
	if r.ResponseFormat != "" {
		p["response_format"] = r.ResponseFormat
	}
	return p
}

// Validate checks the request against the accepted ranges.
func (r AudioRequest) Validate() error {
	if err := r.ImageRequest.Validate(); err != nil {
		return err
	}
	if r.Speed != 0 && (r.Speed < MinSpeed || r.Speed > MaxSpeed) {
		return &ValidationError{Field: "speed", Message: "must be between 0.25 and 4.0"}
	}
	return nil
}

func validatePrompt(prompt string) error {
	n := len([]rune(prompt))
	if n < 1 {
		return &ValidationError{Field: "prompt", Message: "must not be empty"}
	}
	if n > MaxPromptLength {
		return &ValidationError{Field: "prompt", Message: "must be at most 1000 characters"}
	}
	return nil
}

func validateDimension(field string, v int) error {
	if v != 0 && (v < MinDimension || v > MaxDimension) {
		return &ValidationError{Field: field, Message: "must be between 256 and 2048"}
	}
	return nil
}
