package main

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"

	"github.com/spf13/cobra"

	"github.com/pario-ai/polycraft/pkg/models"
)

func newBatchCmd() *cobra.Command {
	var file string

	cmd := &cobra.Command{
		Use:   "batch",
		Short: "Run a batch of generation requests from a JSON file",
		Long: "Reads either a JSON array of requests or an object with a \"requests\" array.\n" +
			"Each request needs a type of image, text or audio. Use -f - to read stdin.",
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			var (
				data []byte
				err  error
			)
			if file == "-" {
				data, err = io.ReadAll(cmd.InOrStdin())
			} else {
				data, err = os.ReadFile(file)
			}
			if err != nil {
				return fmt.Errorf("read batch: %w", err)
			}

			reqs, err := parseBatch(data)
			if err != nil {
				return err
			}

			a, err := newApp()
			if err != nil {
				return err
			}
			defer func() { _ = a.Close() }()

			res := a.gw.Batch.Process(cmd.Context(), reqs)
			return writeJSON(cmd.OutOrStdout(), res)
		},
	}

	cmd.Flags().StringVarP(&file, "file", "f", "", "batch file (- for stdin)")
	_ = cmd.MarkFlagRequired("file")
	return cmd
}

func parseBatch(data []byte) ([]models.BatchRequest, error) {
	data = bytes.TrimSpace(data)
	if len(data) == 0 {
		return nil, errors.New("batch is empty")
	}

	var reqs []models.BatchRequest
	if data[0] == '[' {
		if err := json.Unmarshal(data, &reqs); err != nil {
			return nil, fmt.Errorf("parse batch: %w", err)
		}
	} else {
		var body struct {
			Requests []models.BatchRequest `json:"requests"`
		}
		if err := json.Unmarshal(data, &body); err != nil {
			return nil, fmt.Errorf("parse batch: %w", err)
		}
		if body.Requests == nil {
			return nil, errors.New("parse batch: requests field required")
		}
		reqs = body.Requests
	}
	return reqs, nil
}
