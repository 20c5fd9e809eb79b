package main

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/dustin/go-humanize"
	"github.com/spf13/cobra"

	"github.com/pario-ai/polycraft/pkg/audit"
	"github.com/pario-ai/polycraft/pkg/models"
)

func newAuditCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "audit",
		Short: "Query and manage the generation log",
	}

	cmd.AddCommand(
		newAuditSearchCmd(),
		newAuditShowCmd(),
		newAuditStatsCmd(),
		newAuditCleanupCmd(),
	)
	return cmd
}

func newAuditSearchCmd() *cobra.Command {
	var (
		modality string
		status   string
		since    string
		hits     bool
		misses   bool
		limit    int
	)

	cmd := &cobra.Command{
		Use:   "search",
		Short: "Search generation log entries",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			if hits && misses {
				return errors.New("--hits and --misses are mutually exclusive")
			}

			l, cleanup, err := openAuditLogger()
			if err != nil {
				return err
			}
			defer cleanup()

			opts := models.AuditQueryOpts{
				Modality: models.Modality(modality),
				Status:   status,
				Limit:    limit,
			}
			if since != "" {
				t, err := time.Parse("2006-01-02", since)
				if err != nil {
					return fmt.Errorf("invalid --since date (use YYYY-MM-DD): %w", err)
				}
				opts.Since = t
			}
			if hits || misses {
				opts.CacheHit = &hits
			}

			entries, err := l.Query(context.Background(), opts)
			if err != nil {
				return err
			}
			fmt.Fprint(cmd.OutOrStdout(), formatAuditEntries(entries, time.Now()))
			return nil
		},
	}

	cmd.Flags().StringVar(&modality, "modality", "", "filter by modality (image, text, audio)")
	cmd.Flags().StringVar(&status, "status", "", "filter by status (success, error)")
	cmd.Flags().StringVar(&since, "since", "", "start date (YYYY-MM-DD)")
	cmd.Flags().BoolVar(&hits, "hits", false, "only cache hits")
	cmd.Flags().BoolVar(&misses, "misses", false, "only cache misses")
	cmd.Flags().IntVar(&limit, "limit", 50, "max entries to return")

	return cmd
}

func newAuditShowCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "show <request-id>",
		Short: "Show a single generation log entry",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			l, cleanup, err := openAuditLogger()
			if err != nil {
				return err
			}
			defer cleanup()

			entries, err := l.Query(context.Background(), models.AuditQueryOpts{
				RequestID: args[0],
				Limit:     1,
			})
			if err != nil {
				return err
			}
			out := cmd.OutOrStdout()
			if len(entries) == 0 {
				fmt.Fprintln(out, "No entry found for that request ID.")
				return nil
			}

			e := entries[0]
			fmt.Fprintf(out, "Request ID:    %s\n", e.RequestID)
			fmt.Fprintf(out, "Modality:      %s\n", e.Modality)
			fmt.Fprintf(out, "Fingerprint:   %s\n", e.Fingerprint)
			fmt.Fprintf(out, "Model:         %s\n", e.Model)
			if e.Source != "" {
				fmt.Fprintf(out, "Source:        %s\n", e.Source)
			}
			fmt.Fprintf(out, "Client:        %s\n", e.Client)
			fmt.Fprintf(out, "Cache hit:     %t\n", e.CacheHit)
			fmt.Fprintf(out, "Status:        %s\n", e.Status)
			fmt.Fprintf(out, "Latency:       %dms\n", e.LatencyMs)
			fmt.Fprintf(out, "Time:          %s (%s)\n", e.CreatedAt.Format(time.RFC3339), humanize.Time(e.CreatedAt))
			if e.Error != "" {
				fmt.Fprintf(out, "Error:         %s\n", e.Error)
			}
			if e.Prompt != "" {
				fmt.Fprintf(out, "\n--- Prompt ---\n%s\n", e.Prompt)
			}
			return nil
		},
	}
}

func newAuditStatsCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "stats",
		Short: "Show generation counts by modality and day",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			l, cleanup, err := openAuditLogger()
			if err != nil {
				return err
			}
			defer cleanup()

			stats, err := l.Stats(context.Background())
			if err != nil {
				return err
			}
			fmt.Fprint(cmd.OutOrStdout(), formatAuditStats(stats))
			return nil
		},
	}
}

func newAuditCleanupCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "cleanup",
		Short: "Delete entries older than the retention period",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			l, cleanup, err := openAuditLogger()
			if err != nil {
				return err
			}
			defer cleanup()

			deleted, err := l.Cleanup(context.Background())
			if err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "Deleted %s audit entries.\n", humanize.Comma(deleted))
			return nil
		},
	}
}

// openAuditLogger opens the generation log for reading even when the
// serving config has auditing turned off.
func openAuditLogger() (*audit.Logger, func(), error) {
	cfg, err := loadConfig()
	if err != nil {
		return nil, nil, err
	}

	l, err := audit.New(cfg.Audit)
	if err != nil {
		return nil, nil, fmt.Errorf("open audit db: %w", err)
	}
	return l, func() { _ = l.Close() }, nil
}

func formatAuditEntries(entries []models.AuditEntry, now time.Time) string {
	if len(entries) == 0 {
		return "No audit entries found.\n"
	}
	var b strings.Builder
	fmt.Fprintf(&b, "%-45s %-8s %-7s %-5s %8s %-16s\n",
		"REQUEST ID", "MODALITY", "STATUS", "CACHE", "LATENCY", "WHEN")
	b.WriteString(strings.Repeat("-", 95) + "\n")
	for _, e := range entries {
		cache := "miss"
		if e.CacheHit {
			cache = "hit"
		}
		fmt.Fprintf(&b, "%-45s %-8s %-7s %-5s %6dms %-16s\n",
			e.RequestID, e.Modality, e.Status, cache, e.LatencyMs,
			humanize.RelTime(e.CreatedAt, now, "ago", "from now"))
	}
	return b.String()
}

func formatAuditStats(stats []models.AuditStat) string {
	if len(stats) == 0 {
		return "No audit stats found.\n"
	}
	var b strings.Builder
	fmt.Fprintf(&b, "%-10s %-12s %8s %8s %8s\n", "MODALITY", "DAY", "COUNT", "HITS", "ERRORS")
	b.WriteString(strings.Repeat("-", 50) + "\n")
	for _, s := range stats {
		fmt.Fprintf(&b, "%-10s %-12s %8d %8d %8d\n", s.Modality, s.Day, s.Count, s.CacheHits, s.Errors)
	}
	return b.String()
}
