package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"chatsync/pkg/config"
	"chatsync/pkg/logger"
)

var (
	version = "dev"
	commit  = "unknown"
)

var rootCmd = &cobra.Command{
	Use:   "chatsync",
	Short: "Real-time chat synchronization engine and reference relay",
	Long: `chatsync keeps a two-party conversation in sync over a reconnecting
websocket: optimistic sends, receipts, typing, presence and recall.

"chatsync relay" runs the in-memory reference server, "chatsync connect"
runs a client session with a local inspect API.`,
	Version:       fmt.Sprintf("%s (commit: %s)", version, commit),
	SilenceUsage:  true,
	SilenceErrors: true,
}

func init() {
	rootCmd.CompletionOptions.DisableDefaultCmd = true
	rootCmd.PersistentFlags().StringP("config", "c", "", "YAML config file (overrides CHATSYNC_CONFIG)")
	rootCmd.PersistentFlags().BoolP("verbose", "v", false, "enable debug logging")

	rootCmd.AddCommand(versionCmd)
}

// loadConfig applies the global flags and loads the configuration.
func loadConfig(cmd *cobra.Command) (*config.Config, error) {
	if path, _ := cmd.Flags().GetString("config"); path != "" {
		os.Setenv("CHATSYNC_CONFIG", path)
	}
	cfg, err := config.Load()
	if err != nil {
		return nil, fmt.Errorf("failed to load configuration: %w", err)
	}
	if verbose, _ := cmd.Flags().GetBool("verbose"); verbose {
		cfg.LogLevel = "debug"
	}
	logger.Init(cfg.LogLevel, cfg.Environment)
	return cfg, nil
}

var versionCmd = &cobra.Command{
	Use:   "version",
	Short: "Print the version",
	Run: func(cmd *cobra.Command, args []string) {
		fmt.Fprintln(cmd.OutOrStdout(), rootCmd.Version)
	},
}
