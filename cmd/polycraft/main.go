package main

import (
	"fmt"
	"os"

	"github.com/charmbracelet/log"
	"github.com/spf13/cobra"

	"github.com/pario-ai/polycraft/pkg/config"
	"github.com/pario-ai/polycraft/pkg/logging"
)

var version = "dev"

var configPath string

var rootCmd = &cobra.Command{
	Use:           "polycraft",
	Short:         "Polycraft: cached multi-modal generation gateway",
	Version:       version,
	SilenceUsage:  true,
	SilenceErrors: true,
}

func init() {
	rootCmd.PersistentFlags().StringVarP(&configPath, "config", "c", "",
		"path to config file (default: polycraft.yaml in the user config dir)")

	rootCmd.AddCommand(
		newServeCmd(),
		newGenerateCmd(),
		newBatchCmd(),
		newMCPCmd(),
		newCacheCmd(),
		newAuditCmd(),
		manCmd,
	)
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

// loadConfig reads the config named by --config, falling back to one found
// in the user config directories and then to the defaults.
func loadConfig() (*config.Config, error) {
	path := configPath
	if path == "" {
		found, err := config.Discover()
		if err != nil {
			return nil, err
		}
		path = found
	}
	cfg, err := config.Load(path)
	if err != nil {
		return nil, fmt.Errorf("load config: %w", err)
	}
	return cfg, nil
}

// newLogger writes to stderr so stdout stays free for command output and
// the MCP protocol.
func newLogger(cfg *config.Config) (*log.Logger, error) {
	logger, err := logging.New(cfg.Log, os.Stderr)
	if err != nil {
		return nil, fmt.Errorf("init logger: %w", err)
	}
	return logger, nil
}
