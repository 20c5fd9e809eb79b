package main

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/spf13/cobra"

	"github.com/pario-ai/polycraft/pkg/gateway"
	"github.com/pario-ai/polycraft/pkg/models"
)

// auditClient identifies CLI callers in the generation log.
const auditClient = "cli"

func newGenerateCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "generate",
		Short: "Generate a single image, text or audio result",
	}
	cmd.AddCommand(
		newGenerateImageCmd(),
		newGenerateTextCmd(),
		newGenerateAudioCmd(),
	)
	return cmd
}

type imageFlags struct {
	model   string
	width   int
	height  int
	seed    int
	nologo  bool
	private bool
}

func (f *imageFlags) register(cmd *cobra.Command) {
	cmd.Flags().StringVar(&f.model, "model", "", "model name")
	cmd.Flags().IntVar(&f.width, "width", 0, "width in pixels (256-2048)")
	cmd.Flags().IntVar(&f.height, "height", 0, "height in pixels (256-2048)")
	cmd.Flags().IntVar(&f.seed, "seed", 0, "fixed seed for reproducible output")
	cmd.Flags().BoolVar(&f.nologo, "nologo", false, "ask the upstream to omit its logo")
	cmd.Flags().BoolVar(&f.private, "private", false, "keep the result out of public feeds")
}

func (f *imageFlags) request(cmd *cobra.Command, prompt string) models.ImageRequest {
	req := models.ImageRequest{
		Prompt:  prompt,
		Model:   f.model,
		Width:   f.width,
		Height:  f.height,
		NoLogo:  f.nologo,
		Private: f.private,
	}
	if cmd.Flags().Changed("seed") {
		seed := f.seed
		req.Seed = &seed
	}
	return req
}

func newGenerateImageCmd() *cobra.Command {
	var flags imageFlags
	cmd := &cobra.Command{
		Use:   "image <prompt>",
		Short: "Generate an image and print its URL",
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			req := flags.request(cmd, strings.Join(args, " "))
			return runGeneration(cmd.Context(), cmd.OutOrStdout(), models.ModalityImage, req,
				func(a *app) func(context.Context, models.ImageRequest) (models.Result, gateway.Trace, error) {
					return a.gw.Image.GenerateWithTrace
				},
				req.Prompt, req.Model)
		},
	}
	flags.register(cmd)
	return cmd
}

func newGenerateTextCmd() *cobra.Command {
	var model string
	cmd := &cobra.Command{
		Use:   "text <prompt>",
		Short: "Generate text",
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			req := models.TextRequest{Prompt: strings.Join(args, " "), Model: model}
			return runGeneration(cmd.Context(), cmd.OutOrStdout(), models.ModalityText, req,
				func(a *app) func(context.Context, models.TextRequest) (models.Result, gateway.Trace, error) {
					return a.gw.Text.GenerateWithTrace
				},
				req.Prompt, req.Model)
		},
	}
	cmd.Flags().StringVar(&model, "model", "", "model name")
	return cmd
}

func newGenerateAudioCmd() *cobra.Command {
	var (
		flags  imageFlags
		voice  string
		speed  float64
		format string
	)
	cmd := &cobra.Command{
		Use:   "audio <prompt>",
		Short: "Synthesize speech and print its URL",
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			req := models.AudioRequest{
				ImageRequest:   flags.request(cmd, strings.Join(args, " ")),
				Voice:          voice,
				Speed:          speed,
				ResponseFormat: format,
			}
			return runGeneration(cmd.Context(), cmd.OutOrStdout(), models.ModalityAudio, req,
				func(a *app) func(context.Context, models.AudioRequest) (models.Result, gateway.Trace, error) {
					return a.gw.Audio.GenerateWithTrace
				},
				req.Prompt, req.Model)
		},
	}
	flags.register(cmd)
	cmd.Flags().StringVar(&voice, "voice", "", "voice name")
	cmd.Flags().Float64Var(&speed, "speed", 0, "speaking rate (0.25-4.0)")
	cmd.Flags().StringVar(&format, "format", "", "audio format")
	return cmd
}

type validator interface {
	Validate() error
}

// runGeneration validates req, runs it through the gateway and prints the
// result as JSON.
func runGeneration[R validator](
	ctx context.Context, w io.Writer, modality models.Modality, req R,
	pick func(*app) func(context.Context, R) (models.Result, gateway.Trace, error),
	prompt, model string,
) error {
	if err := req.Validate(); err != nil {
		return err
	}

	a, err := newApp()
	if err != nil {
		return err
	}
	defer func() { _ = a.Close() }()

	start := time.Now()
	res, tr, genErr := pick(a)(ctx, req)
	a.record(ctx, modality, prompt, model, tr, res, genErr, start)
	if genErr != nil {
		return fmt.Errorf("failed to generate %s: %w", modality, genErr)
	}

	a.logger.Debug("generated", "modality", modality, "key", tr.Key, "cache_hit", tr.CacheHit)
	return writeJSON(w, res)
}

func (a *app) record(ctx context.Context, modality models.Modality, prompt, model string, tr gateway.Trace, res models.Result, genErr error, start time.Time) {
	if a.auditor == nil {
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
		LatencyMs:   time.Since(start).Milliseconds(),
		CreatedAt:   time.Now().UTC(),
	}
	if genErr != nil {
		entry.Status = string(models.BatchError)
		entry.Error = genErr.Error()
	}
	if err := a.auditor.Log(context.WithoutCancel(ctx), entry); err != nil {
		a.logger.Error("audit log failed", "request_id", entry.RequestID, "err", err)
	}
}

func writeJSON(w io.Writer, v any) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}
