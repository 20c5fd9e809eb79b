package mcp

import (
	"fmt"
	"strings"
	"time"

	"github.com/dustin/go-humanize"

	"github.com/pario-ai/polycraft/pkg/models"
)

// formatResult formats a single generation result as text.
func formatResult(modality models.Modality, res models.Result, cacheHit bool) string {
	var b strings.Builder
	cache := "miss"
	if cacheHit {
		cache = "hit"
	}
	fmt.Fprintf(&b, "Generated %s (cache %s)\n", modality, cache)
	if res.URL != "" {
		fmt.Fprintf(&b, "  URL:    %s\n", res.URL)
	}
	if res.Source != "" {
		fmt.Fprintf(&b, "  Source: %s\n", res.Source)
	}
	if res.Error != "" {
		fmt.Fprintf(&b, "  Note:   %s\n", res.Error)
	}
	if res.Text != "" {
		b.WriteString("\n" + res.Text + "\n")
	}
	return b.String()
}

// formatBatch formats a batch result as a text table.
func formatBatch(res models.BatchResult) string {
	var b strings.Builder
	fmt.Fprintf(&b, "Batch %s: %d processed\n\n", res.ID, res.Processed)
	fmt.Fprintf(&b, "%4s  %-8s %s\n", "#", "Status", "Output")
	b.WriteString(strings.Repeat("-", 70) + "\n")
	for i, item := range res.Results {
		fmt.Fprintf(&b, "%4d  %-8s %s\n", i, item.Status, batchOutput(item))
	}
	return b.String()
}

func batchOutput(item models.BatchItem) string {
	switch {
	case item.Status == models.BatchError:
		return item.Error
	case item.Result == nil:
		return ""
	case item.Result.Error != "" && item.Result.URL == "":
		return item.Result.Error
	case item.Result.URL != "":
		return item.Result.URL
	default:
		return shorten(item.Result.Text, 60)
	}
}

// formatCacheStats formats cache stats as text.
func formatCacheStats(stats models.CacheStats) string {
	return fmt.Sprintf("Cache Statistics\n"+
		"  Backend:  %s\n"+
		"  Entries:  %s\n"+
		"  Hits:     %s\n"+
		"  Misses:   %s\n"+
		"  Hit Rate: %.1f%%\n",
		stats.Backend,
		humanize.Comma(stats.Entries),
		humanize.Comma(stats.Hits),
		humanize.Comma(stats.Misses),
		stats.HitRate()*100)
}

// formatAuditEntries formats audit entries as a text table.
func formatAuditEntries(entries []models.AuditEntry, now time.Time) string {
	if len(entries) == 0 {
		return "No audit entries found."
	}
	var b strings.Builder
	fmt.Fprintf(&b, "%-16s %-8s %-8s %-5s %8s  %s\n",
		"When", "Modality", "Status", "Cache", "Latency", "Prompt")
	b.WriteString(strings.Repeat("-", 90) + "\n")
	for _, e := range entries {
		cache := "miss"
		if e.CacheHit {
			cache = "hit"
		}
		detail := shorten(e.Prompt, 40)
		if e.Error != "" {
			detail = shorten(e.Error, 40)
		}
		fmt.Fprintf(&b, "%-16s %-8s %-8s %-5s %6dms  %s\n",
			humanize.RelTime(e.CreatedAt, now, "ago", "from now"),
			e.Modality, e.Status, cache, e.LatencyMs, detail)
	}
	return b.String()
}

func shorten(s string, n int) string {
	s = strings.Join(strings.Fields(s), " ")
	r := []rune(s)
	if len(r) <= n {
		return s
	}
	return string(r[:n-3]) + "..."
}
