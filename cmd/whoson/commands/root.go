package commands

import (
	"context"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/whoson/whoson/pkg/config"
)

var (
	// Global flags
	configPath string
	verbose    bool
)

// Execute runs the root command
func Execute(ctx context.Context, version, commit, buildDate string) error {
	rootCmd := newRootCommand(version, commit, buildDate)
	return rootCmd.ExecuteContext(ctx)
}

func newRootCommand(version, commit, buildDate string) *cobra.Command {
	rootCmd := &cobra.Command{
		Use:   "whoson",
		Short: "WhosOn - Minecraft server tracking for Discord",
		Long: `WhosOn mirrors live Minecraft server status onto Discord channels.

Each tracked server gets a voice channel whose name shows its live player
count and a read-only text channel carrying a detailed status report, both
refreshed on a fixed cycle. Java and Bedrock servers are supported, with
automatic protocol detection.`,
		Version: fmt.Sprintf("%s (commit: %s, built: %s)", version, commit, buildDate),
	}

	rootCmd.PersistentFlags().StringVarP(&configPath, "config", "c", "", "config file path")
	rootCmd.PersistentFlags().BoolVarP(&verbose, "verbose", "v", false, "enable verbose output")

	rootCmd.AddCommand(newServeCommand())
	rootCmd.AddCommand(newMigrateCommand())
	rootCmd.AddCommand(newStatsCommand())

	return rootCmd
}

// loadConfig applies the global flags on top of the configuration file.
func loadConfig() (*config.Config, error) {
	cfg, err := config.Load(configPath)
	if err != nil {
		return nil, err
	}
	if verbose {
		cfg.Logging.Level = "debug"
	}
	return cfg, nil
}
