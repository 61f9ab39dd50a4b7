package main

import (
	"fmt"
	"log/slog"
	"os"

	"github.com/spf13/cobra"

	"github.com/fentz26/fetchpool/internal/config"
	"github.com/fentz26/fetchpool/internal/logging"
)

var rootCmd = &cobra.Command{
	Use:   "fetchpool",
	Short: "fetchpool - prioritized resumable downloads",
	Long: `fetchpool runs downloads through a fixed pool of agents. Waiting downloads
are started by priority, interrupted downloads resume from their partial file.`,
	SilenceUsage: true,
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		return loadConfig(cmd)
	},
	// No RunE - defaults to showing help when no subcommand is provided
}

var (
	apiAddr    string
	configPath string
	logLevel   string

	cfg    config.Config
	logger *slog.Logger
)

func init() {
	rootCmd.PersistentFlags().StringVar(&apiAddr, "api", "http://127.0.0.1:7467", "API server address")
	rootCmd.PersistentFlags().StringVar(&configPath, "config", "", "Path to a YAML or TOML config file")
	rootCmd.PersistentFlags().StringVar(&logLevel, "log-level", "", "Log level (debug, info, warn, error)")

	// Add subcommands
	rootCmd.AddCommand(getCmd)
	rootCmd.AddCommand(daemonCmd)
	rootCmd.AddCommand(addCmd, listCmd, rmCmd, pauseCmd, resumeCmd, historyCmd)
	rootCmd.AddCommand(watchCmd)
}

// loadConfig layers defaults, the config file, the environment and flags.
func loadConfig(cmd *cobra.Command) error {
	var err error
	cfg = config.Default()
	if configPath != "" {
		if cfg, err = config.LoadFromFile(configPath); err != nil {
			return err
		}
	}
	if err := cfg.LoadFromEnv(); err != nil {
		return err
	}
	if cmd.Flags().Changed("log-level") {
		cfg.LogLevel = logLevel
	}
	if err := cfg.Validate(); err != nil {
		return err
	}

	logger, err = logging.Setup(cfg.LogLevel, os.Stderr)
	return err
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}
