package cmd

import (
	"fmt"

	"github.com/spf13/cobra"

	"leadflow/config"
	"leadflow/pkg/logger"
)

var rootCmd = &cobra.Command{
	Use:          "leadflow",
	Short:        "Multi-tenant WhatsApp assistant: webhook intake, sessions, LLM replies, tickets and lead analysis",
	SilenceUsage: true,
	RunE:         runServe,
}

func Execute() error {
	return rootCmd.Execute()
}

func init() {
	rootCmd.AddCommand(serveCmd)
	rootCmd.AddCommand(migrateCmd)
	rootCmd.AddCommand(reapCmd)
	rootCmd.AddCommand(rollupCmd)
	rootCmd.AddCommand(cleanupCmd)
}

// loadConfig reads the environment and initializes the global logger.
func loadConfig(validate bool) (*config.Config, error) {
	cfg, err := config.LoadConfig()
	if err != nil {
		return nil, fmt.Errorf("config: %w", err)
	}
	logger.InitLogger(cfg.LogLevel, cfg.LogFormat)
	if validate {
		if err := cfg.Validate(); err != nil {
			return nil, fmt.Errorf("config: %w", err)
		}
	}
	return cfg, nil
}
