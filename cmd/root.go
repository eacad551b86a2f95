// Package cmd defines the parley command-line interface.
package cmd

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/calico0/parley/internal/config"
	"github.com/calico0/parley/internal/log"
)

var rootCmd = &cobra.Command{
	Use:   "parley",
	Short: "Pirate-speak translation service",
	Long: `Parley translates messages into pirate speak with a Gemini-backed
persona, streaming the translation as it is generated. Run "parley serve"
to start the HTTP service or "parley translate" for a one-shot translation.`,
	SilenceUsage:  true,
	SilenceErrors: true,
}

// Execute runs the root command.
func Execute() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, "Error:", err)
		os.Exit(1)
	}
}

// loadConfig loads configuration and builds the process logger from it.
func loadConfig() (*config.Config, log.Logger, error) {
	cfg, err := config.Load()
	if err != nil {
		return nil, nil, fmt.Errorf("loading configuration: %w", err)
	}
	level, err := cfg.SlogLevel()
	if err != nil {
		return nil, nil, err
	}
	logger := log.New(log.Config{Level: level, JSON: cfg.LogJSON})
	return cfg, logger, nil
}
