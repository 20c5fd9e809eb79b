package server

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5/middleware"
	"github.com/google/uuid"

	"github.com/pario-ai/polycraft/pkg/audit"
	"github.com/pario-ai/polycraft/pkg/gateway"
	"github.com/pario-ai/polycraft/pkg/models"
)

type validator interface {
	Validate() error
}

// serveGeneration decodes and validates a request, runs gen and writes the
// result. describe extracts the audited prompt and model.
func serveGeneration[R validator](
	s *Server, w http.ResponseWriter, r *http.Request, modality models.Modality,
	gen func(context.Context, R) (models.Result, gateway.Trace, error),
	describe func(R) (prompt, model string),
) {
	var req R
	if err := decodeJSON(w, r, &req); err != nil {
		writeJSONError(w, http.StatusUnprocessableEntity, err.Error())
		return
	}
	if err := req.Validate(); err != nil {
		writeJSONError(w, http.StatusUnprocessableEntity, err.Error())
		return
	}

	start := s.now()
	res, tr, err := gen(r.Context(), req)
	prompt, model := describe(req)
	s.record(r, modality, prompt, model, tr, res, err, start)

	if err != nil {
		s.logger.Error("generation failed", "modality", modality, "key", tr.Key, "err", err)
		writeJSONError(w, http.StatusInternalServerError, fmt.Sprintf("Failed to generate %s: %s", modality, err))
		return
	}

	cache := "miss"
	if tr.CacheHit {
		cache = "hit"
	}
	w.Header().Set(CacheHeader, cache)
	writeJSON(w, http.StatusOK, res)
}

func (s *Server) handleImage(w http.ResponseWriter, r *http.Request) {
	serveGeneration(s, w, r, models.ModalityImage, s.gw.Image.GenerateWithTrace,
		func(req models.ImageRequest) (string, string) { return req.Prompt, req.Model })
}

func (s *Server) handleText(w http.ResponseWriter, r *http.Request) {
	serveGeneration(s, w, r, models.ModalityText, s.gw.Text.GenerateWithTrace,
		func(req models.TextRequest) (string, string) { return req.Prompt, req.Model })
}

func (s *Server) handleAudio(w http.ResponseWriter, r *http.Request) {
	serveGeneration(s, w, r, models.ModalityAudio, s.gw.Audio.GenerateWithTrace,
		func(req models.AudioRequest) (string, string) { return req.Prompt, req.Model })
}

type batchBody struct {
	Requests []models.BatchRequest `json:"requests"`
}

func (s *Server) handleBatch(w http.ResponseWriter, r *http.Request) {
	var body batchBody
	if err := decodeJSON(w, r, &body); err != nil {
		writeJSONError(w, http.StatusUnprocessableEntity, err.Error())
		return
	}
	if body.Requests == nil {
		writeJSONError(w, http.StatusUnprocessableEntity, "requests: field required")
		return
	}

	// The batch runs to completion even if the client goes away.
	res := s.gw.Batch.Process(context.WithoutCancel(r.Context()), body.Requests)
	s.logger.Debug("batch processed", "id", res.ID, "items", res.Processed)
	writeJSON(w, http.StatusOK, res)
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	text := "operational"
	if s.gw.Text.Mode() == string(models.SourceTemplate) {
		text = string(models.SourceTemplate)
	}
	writeJSON(w, http.StatusOK, models.Health{
		Status:    "healthy",
		Timestamp: s.now().UTC(),
		Services: map[string]string{
			"image_generation": "operational",
			"text_generation":  text,
			"audio_generation": "operational",
		},
	})
}

func (s *Server) handleCacheStats(w http.ResponseWriter, r *http.Request) {
	stats, err := s.gw.CacheStats()
	if err != nil {
		writeJSONError(w, http.StatusInternalServerError, err.Error())
		return
	}
	writeJSON(w, http.StatusOK, struct {
		models.CacheStats
		HitRate float64 `json:"hit_rate"`
	}{stats, stats.HitRate()})
}

// record writes an audit entry in the background. Nothing is recorded
// when auditing is off.
func (s *Server) record(r *http.Request, modality models.Modality, prompt, model string, tr gateway.Trace, res models.Result, genErr error, start time.Time) {
	if s.auditor == nil {
		return
	}

	reqID := middleware.GetReqID(r.Context())
	if reqID == "" {
		reqID = uuid.NewString()
	} else {
		// chi request ids are only unique per process.
		reqID = reqID + "-" + uuid.NewString()[:8]
	}

	client := audit.ClientID(bearerToken(r))
	if client == "" {
		client = clientIP(r)
	}

	entry := models.AuditEntry{
		RequestID:   reqID,
		Modality:    modality,
		Fingerprint: tr.Key,
		Model:       model,
		Source:      res.Source,
		Prompt:      prompt,
		Client:      client,
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

	s.pending.Add(1)
	go func() {
		defer s.pending.Done()
		if err := s.auditor.Log(context.Background(), entry); err != nil {
			s.logger.Error("audit log failed", "request_id", entry.RequestID, "err", err)
		}
	}()
}

func decodeJSON(w http.ResponseWriter, r *http.Request, v any) error {
	dec := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxBodyBytes))
	if err := dec.Decode(v); err != nil {
		var maxErr *http.MaxBytesError
		if errors.As(err, &maxErr) {
			return fmt.Errorf("request body exceeds %d bytes", maxErr.Limit)
		}
		return fmt.Errorf("invalid request body: %w", err)
	}
	return nil
}

func writeJSON(w http.ResponseWriter, code int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	_ = json.NewEncoder(w).Encode(v)
}

func writeJSONError(w http.ResponseWriter, code int, detail string) {
	writeJSON(w, code, map[string]string{"detail": detail})
}
