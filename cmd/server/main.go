// Package main is the NeuroScan portal server. Without a subcommand it serves
// the HTTP API.
package main

import (
	"fmt"
	"os"

	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"

	"github.com/neuroscan-portal/internal/config"
	"github.com/neuroscan-portal/internal/logging"
)

var (
	configFile string
	liteMode   bool
	dataDir    string
)

var rootCmd = &cobra.Command{
	Use:           "neuroscan",
	Short:         "NeuroScan diagnostic portal",
	Long:          `Serves the NeuroScan portal API: scan upload and classification, review, and role-scoped result views.`,
	SilenceUsage:  true,
	SilenceErrors: true,
	RunE:          runServe,
}

func init() {
	rootCmd.PersistentFlags().StringVarP(&configFile, "config", "c", "", "config file (default: ./config.yaml, ./config/config.yaml, /etc/neuroscan/config.yaml)")
	rootCmd.PersistentFlags().BoolVar(&liteMode, "lite", false, "standalone mode: SQLite store and in-memory sessions")
	rootCmd.PersistentFlags().StringVar(&dataDir, "data-dir", "", "lite mode data directory (default: $NEUROSCAN_DATA_DIR or ~/.neuroscan)")

	rootCmd.AddCommand(serveCmd)
	rootCmd.AddCommand(migrateCmd)
	rootCmd.AddCommand(doctorCmd)
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, "Error:", err)
		os.Exit(1)
	}
}

// loadConfig reads and validates configuration and builds the logger
func loadConfig() (*config.Manager, *logrus.Logger, error) {
	var (
		configManager *config.Manager
		err           error
	)
	if liteMode {
		configManager, err = config.NewLiteManager(configFile, dataDir)
	} else {
		configManager, err = config.NewManager(configFile)
	}
	if err != nil {
		return nil, nil, err
	}
	if err := configManager.Validate(); err != nil {
		return nil, nil, fmt.Errorf("configuration validation failed: %w", err)
	}

	logger, err := logging.New(configManager.GetConfig().Logging)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to create logger: %w", err)
	}
	return configManager, logger, nil
}
