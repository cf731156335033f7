package main

import (
	"context"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/timewave-computer/almanac-sub002/pkg/config"
	"github.com/timewave-computer/almanac-sub002/pkg/warmstore"
)

var migrateCmd = &cobra.Command{
	Use:   "migrate",
	Short: "Manage warm store schema migrations",
	RunE:  runMigrate,
}

func init() {
	migrateCmd.Flags().Bool("run", false, "apply all pending migrations")
	migrateCmd.Flags().Bool("list", false, "list discovered migrations and their applied state")
	migrateCmd.Flags().String("rollback", "", "un-mark the given migration version as applied")
	migrateCmd.Flags().String("config", "almanac.toml", "path to the TOML configuration file")
}

func runMigrate(cmd *cobra.Command, args []string) error {
	run, _ := cmd.Flags().GetBool("run")
	list, _ := cmd.Flags().GetBool("list")
	rollback, _ := cmd.Flags().GetString("rollback")
	configPath, _ := cmd.Flags().GetString("config")

	if !run && !list && rollback == "" {
		return fmt.Errorf("one of --run, --list, or --rollback <id> is required")
	}

	cfg, err := config.Load(configPath)
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}

	warm, err := warmstore.NewClient(cfg.Storage.DatabaseURL)
	if err != nil {
		return fmt.Errorf("connect warm store: %w", err)
	}
	defer warm.Close()

	ctx := context.Background()

	if list {
		migrations, err := warm.ListMigrations(ctx)
		if err != nil {
			return fmt.Errorf("list migrations: %w", err)
		}
		for _, m := range migrations {
			state := "pending"
			if m.Applied {
				state = "applied"
			}
			fmt.Printf("%-30s %s\n", m.Version, state)
		}
	}

	if rollback != "" {
		if err := warm.Rollback(ctx, rollback); err != nil {
			return fmt.Errorf("rollback: %w", err)
		}
		fmt.Printf("rolled back %s\n", rollback)
	}

	if run {
		if err := warm.MigrateUp(ctx); err != nil {
			return fmt.Errorf("migrate up: %w", err)
		}
		fmt.Println("migrations applied")
	}

	return nil
}
