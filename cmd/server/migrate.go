package main

import (
	"context"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/neuroscan-portal/internal/database"
)

var migrateCmd = &cobra.Command{
	Use:   "migrate [up|down|version]",
	Short: "Manage the PostgreSQL schema",
	Args:  cobra.ExactArgs(1),
	ValidArgs: []string{
		"up", "down", "version",
	},
	RunE: runMigrate,
}

func runMigrate(cmd *cobra.Command, args []string) error {
	configManager, logger, err := loadConfig()
	if err != nil {
		return err
	}

	runner, err := database.NewMigrationRunner(configManager.GetDatabaseURL(), logger)
	if err != nil {
		return err
	}
	defer runner.Close()

	ctx := context.Background()
	switch args[0] {
	case "up":
		return runner.Up(ctx)
	case "down":
		return runner.Down(ctx)
	case "version":
		version, dirty, err := runner.Version()
		if err != nil {
			return err
		}
		fmt.Fprintf(cmd.OutOrStdout(), "version %d (dirty: %t)\n", version, dirty)
		return nil
	default:
		return fmt.Errorf("unknown migrate action %q (want up, down or version)", args[0])
	}
}
