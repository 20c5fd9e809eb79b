package main

import (
	"errors"
	"fmt"

	"github.com/dustin/go-humanize"
	"github.com/spf13/cobra"

	cachesqlite "github.com/pario-ai/polycraft/pkg/cache/sqlite"
	"github.com/pario-ai/polycraft/pkg/config"
)

func newCacheCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "cache",
		Short: "Inspect and manage the persistent result cache",
	}

	statsCmd := &cobra.Command{
		Use:   "stats",
		Short: "Show cache statistics",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			c, err := openSQLiteCache()
			if err != nil {
				return err
			}
			defer func() { _ = c.Close() }()

			stats, err := c.Stats()
			if err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "Backend:  %s\nEntries:  %s\nHits:     %s\nMisses:   %s\nHit rate: %.1f%%\n",
				stats.Backend,
				humanize.Comma(stats.Entries),
				humanize.Comma(stats.Hits),
				humanize.Comma(stats.Misses),
				stats.HitRate()*100)
			return nil
		},
	}

	var expiredOnly bool
	clearCmd := &cobra.Command{
		Use:   "clear",
		Short: "Clear cache entries",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			c, err := openSQLiteCache()
			if err != nil {
				return err
			}
			defer func() { _ = c.Close() }()

			n, err := c.Clear(expiredOnly)
			if err != nil {
				return err
			}
			what := "cache entries"
			if expiredOnly {
				what = "expired cache entries"
			}
			fmt.Fprintf(cmd.OutOrStdout(), "Cleared %s %s.\n", humanize.Comma(n), what)
			return nil
		},
	}
	clearCmd.Flags().BoolVar(&expiredOnly, "expired", false, "only clear expired entries")

	cmd.AddCommand(statsCmd, clearCmd)
	return cmd
}

// openSQLiteCache opens the persistent cache. The memory backend lives
// inside the serving process and cannot be inspected from here.
func openSQLiteCache() (*cachesqlite.Cache, error) {
	cfg, err := loadConfig()
	if err != nil {
		return nil, err
	}
	if cfg.Cache.Backend != config.BackendSQLite {
		return nil, errors.New("cache backend is memory; set cache.backend: sqlite to manage it from the CLI")
	}
	return cachesqlite.New(cfg.Cache.DBPath)
}
