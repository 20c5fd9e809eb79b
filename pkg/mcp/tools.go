package mcp

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/pario-ai/polycraft/pkg/gateway"
	"github.com/pario-ai/polycraft/pkg/models"
)

// auditClient identifies MCP callers in the generation log.
const auditClient = "mcp"

// toolHandler is a function that handles a tool call.
type toolHandler func(ctx context.Context, s *Server, args json.RawMessage) ToolCallResult

// toolHandlers maps tool names to their handlers.
var toolHandlers = map[string]toolHandler{
	"polycraft_generate_image": handleGenerateImage,
	"polycraft_generate_text":  handleGenerateText,
	"polycraft_generate_audio": handleGenerateAudio,
	"polycraft_batch":          handleBatch,
	"polycraft_cache_stats":    handleCacheStats,
	"polycraft_audit_search":   handleAuditSearch,
}

func stringProp(desc string) map[string]any {
	return map[string]any{"type": "string", "description": desc}
}

var (
	promptProp = map[string]any{
		"type":        "string",
		"description": "What to generate (1-1000 characters)",
		"minLength":   1,
		"maxLength":   models.MaxPromptLength,
	}
	dimensionProp = map[string]any{
		"type":    "integer",
		"minimum": models.MinDimension,
		"maximum": models.MaxDimension,
	}
	imageProps = map[string]any{
		"prompt":  promptProp,
		"model":   stringProp("Image model (optional, defaults to flux)"),
		"width":   dimensionProp,
		"height":  dimensionProp,
		"seed":    map[string]any{"type": "integer", "description": "Fixed seed for reproducible output (optional)"},
		"nologo":  map[string]any{"type": "boolean"},
		"private": map[string]any{"type": "boolean"},
	}
)

// allTools is the list of tool definitions exposed via tools/list.
var allTools = []ToolDefinition{
	{
		Name:        "polycraft_generate_image",
		Description: "Generate an image from a prompt and return its URL. Identical requests return the cached URL.",
		InputSchema: map[string]any{
			"type":       "object",
			"required":   []string{"prompt"},
			"properties": imageProps,
		},
		Annotations: &ToolAnnotations{OpenWorldHint: true},
	},
	{
		Name:        "polycraft_generate_text",
		Description: "Generate text for a prompt. Falls back to a built-in template when no text provider is configured.",
		InputSchema: map[string]any{
			"type":     "object",
			"required": []string{"prompt"},
			"properties": map[string]any{
				"prompt": promptProp,
				"model":  stringProp("Text model (optional)"),
			},
		},
		Annotations: &ToolAnnotations{OpenWorldHint: true},
	},
	{
		Name:        "polycraft_generate_audio",
		Description: "Synthesize speech for a prompt and return its URL. Returns a placeholder URL when the upstream is unavailable.",
		InputSchema: map[string]any{
			"type":     "object",
			"required": []string{"prompt"},
			"properties": map[string]any{
				"prompt": promptProp,
				"model":  stringProp("Speech model (optional, defaults to openai-audio)"),
				"voice":  stringProp("Voice name (optional, defaults to alloy)"),
				"speed": map[string]any{
					"type":    "number",
					"minimum": models.MinSpeed,
					"maximum": models.MaxSpeed,
				},
				"response_format": stringProp("Audio format (optional, defaults to mp3)"),
			},
		},
		Annotations: &ToolAnnotations{OpenWorldHint: true},
	},
	{
		Name:        "polycraft_batch",
		Description: "Run several generation requests in one call. Each item needs a type of image, text or audio.",
		InputSchema: map[string]any{
			"type":     "object",
			"required": []string{"requests"},
			"properties": map[string]any{
				"requests": map[string]any{
					"type": "array",
					"items": map[string]any{
						"type":     "object",
						"required": []string{"type", "prompt"},
						"properties": map[string]any{
							"type":   map[string]any{"type": "string", "enum": []string{"image", "text", "audio"}},
							"prompt": promptProp,
							"model":  stringProp("Model (optional)"),
							"width":  dimensionProp,
							"height": dimensionProp,
							"voice":  stringProp("Voice for audio items (optional)"),
						},
					},
				},
			},
		},
		Annotations: &ToolAnnotations{OpenWorldHint: true},
	},
	{
		Name:        "polycraft_cache_stats",
		Description: "Show generation cache statistics (backend, entries, hits, misses, hit rate).",
		InputSchema: map[string]any{
			"type":       "object",
			"properties": map[string]any{},
		},
		Annotations: &ToolAnnotations{ReadOnlyHint: true},
	},
	{
		Name:        "polycraft_audit_search",
		Description: "Search the generation log with optional filters.",
		InputSchema: map[string]any{
			"type": "object",
			"properties": map[string]any{
				"modality":   map[string]any{"type": "string", "enum": []string{"image", "text", "audio"}},
				"status":     map[string]any{"type": "string", "enum": []string{"success", "error"}},
				"since":      stringProp("Start date in YYYY-MM-DD format (optional)"),
				"request_id": stringProp("Exact request ID (optional)"),
			},
		},
		Annotations: &ToolAnnotations{ReadOnlyHint: true},
	},
}

func textResult(text string) ToolCallResult {
	return ToolCallResult{
		Content: []ContentBlock{{Type: "text", Text: text}},
	}
}

func errorResult(text string) ToolCallResult {
	return ToolCallResult{
		Content: []ContentBlock{{Type: "text", Text: text}},
		IsError: true,
	}
}

type validator interface {
	Validate() error
}

// generate decodes args into R, validates them and runs gen. Every
// attempted generation is recorded in the audit log.
func generate[R validator](
	ctx context.Context, s *Server, rawArgs json.RawMessage, modality models.Modality,
	gen func(context.Context, R) (models.Result, gateway.Trace, error),
	describe func(R) (prompt, model string),
) ToolCallResult {
	var req R
	if len(rawArgs) > 0 {
		if err := json.Unmarshal(rawArgs, &req); err != nil {
			return errorResult("Invalid arguments: " + err.Error())
		}
	}
	if err := req.Validate(); err != nil {
		return errorResult("Invalid arguments: " + err.Error())
	}

	start := s.now()
	res, tr, err := gen(ctx, req)
	prompt, model := describe(req)
	s.record(ctx, modality, prompt, model, tr, res, err, start)
	if err != nil {
		return errorResult(fmt.Sprintf("Failed to generate %s: %s", modality, err))
	}
	return textResult(formatResult(modality, res, tr.CacheHit))
}

func handleGenerateImage(ctx context.Context, s *Server, rawArgs json.RawMessage) ToolCallResult {
	return generate(ctx, s, rawArgs, models.ModalityImage, s.gw.Image.GenerateWithTrace,
		func(req models.ImageRequest) (string, string) { return req.Prompt, req.Model })
}

func handleGenerateText(ctx context.Context, s *Server, rawArgs json.RawMessage) ToolCallResult {
	return generate(ctx, s, rawArgs, models.ModalityText, s.gw.Text.GenerateWithTrace,
		func(req models.TextRequest) (string, string) { return req.Prompt, req.Model })
}

func handleGenerateAudio(ctx context.Context, s *Server, rawArgs json.RawMessage) ToolCallResult {
	return generate(ctx, s, rawArgs, models.ModalityAudio, s.gw.Audio.GenerateWithTrace,
		func(req models.AudioRequest) (string, string) { return req.Prompt, req.Model })
}

type batchArgs struct {
	Requests []models.BatchRequest `json:"requests"`
}

func handleBatch(ctx context.Context, s *Server, rawArgs json.RawMessage) ToolCallResult {
	var args batchArgs
	if len(rawArgs) > 0 {
		if err := json.Unmarshal(rawArgs, &args); err != nil {
			return errorResult("Invalid arguments: " + err.Error())
		}
	}
	if args.Requests == nil {
		return errorResult("requests is required")
	}
	res := s.gw.Batch.Process(ctx, args.Requests)
	return textResult(formatBatch(res))
}

func handleCacheStats(_ context.Context, s *Server, _ json.RawMessage) ToolCallResult {
	stats, err := s.gw.CacheStats()
	if err != nil {
		return errorResult("Error fetching cache stats: " + err.Error())
	}
	return textResult(formatCacheStats(stats))
}

type auditSearchArgs struct {
	Modality  string `json:"modality"`
	Status    string `json:"status"`
	Since     string `json:"since"`
	RequestID string `json:"request_id"`
}

func handleAuditSearch(ctx context.Context, s *Server, rawArgs json.RawMessage) ToolCallResult {
	if s.auditor == nil {
		return textResult("Audit logging is not configured.")
	}
	var args auditSearchArgs
	if len(rawArgs) > 0 {
		_ = json.Unmarshal(rawArgs, &args)
	}

	opts := models.AuditQueryOpts{
		Modality:  models.Modality(args.Modality),
		Status:    args.Status,
		RequestID: args.RequestID,
		Limit:     50,
	}
	if args.Since != "" {
		t, err := time.Parse("2006-01-02", args.Since)
		if err != nil {
			return errorResult("Invalid since date (use YYYY-MM-DD): " + err.Error())
		}
		opts.Since = t
	}

	entries, err := s.auditor.Query(ctx, opts)
	if err != nil {
		return errorResult("Error searching audit log: " + err.Error())
	}
	return textResult(formatAuditEntries(entries, s.now()))
}

// record writes an audit entry synchronously; stdio requests are served
// one at a time.
func (s *Server) record(ctx context.Context, modality models.Modality, prompt, model string, tr gateway.Trace, res models.Result, genErr error, start time.Time) {
	if s.auditor == nil {
		return
	}
	entry := models.AuditEntry{
		RequestID:   uuid.NewString(),
		Modality:    modality,
		Fingerprint: tr.Key,
		Model:       model,
		Source:      res.Source,
		Prompt:      prompt,
		Client:      auditClient,
		CacheHit:    tr.CacheHit,
		Status:      string(models.BatchSuccess),
		Error:       res.Error,
		LatencyMs:   s.now().Sub(start).Milliseconds(),
		CreatedAt:   s.now().UTC(),
	}
	if genErr != nil {
		entry.Status = string(models.BatchError)
		entry.Error = genErr.Error()
	}
	if err := s.auditor.Log(context.WithoutCancel(ctx), entry); err != nil {
		s.logger.Error("audit log failed", "request_id", entry.RequestID, "err", err)
	}
}
