package cmd

import (
	"context"
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"github.com/tudorilade/events-scheduler/internal/config"
	"github.com/tudorilade/events-scheduler/internal/storage/postgres"
)

var (
	migrationsPath string
	migrateDownN   int
	skipRiver      bool
)

var migrateCmd = &cobra.Command{
	Use:   "migrate",
	Short: "Run database migrations",
	Long: `Apply pending schema migrations, then the River job queue schema.

Examples:
  # Apply all pending migrations
  server migrate

  # Roll back the last migration
  server migrate --down 1`,
	RunE: runMigrate,
}

func init() {
	migrateCmd.Flags().StringVar(&migrationsPath, "path", postgres.DefaultMigrationsPath, "migrations directory")
	migrateCmd.Flags().IntVar(&migrateDownN, "down", 0, "roll back this many migrations instead of migrating up")
	migrateCmd.Flags().BoolVar(&skipRiver, "skip-river", false, "skip the River job queue schema migration")
}

func runMigrate(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig()
	if err != nil {
		return fmt.Errorf("config error: %w", err)
	}
	logger := config.NewLogger(cfg.Logging)

	if migrateDownN > 0 {
		if err := postgres.MigrateDown(cfg.Database.URL, migrationsPath, migrateDownN); err != nil {
			return fmt.Errorf("migrate down: %w", err)
		}
		logger.Info().Int("steps", migrateDownN).Msg("rolled back migrations")
		return nil
	}

	if err := postgres.MigrateUp(cfg.Database.URL, migrationsPath); err != nil {
		return fmt.Errorf("migrate up: %w", err)
	}
	logger.Info().Msg("schema migrations applied")

	if skipRiver {
		return nil
	}

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()
	pool, err := postgres.NewPool(ctx, cfg.Database)
	if err != nil {
		return fmt.Errorf("database connection failed: %w", err)
	}
	defer pool.Close()

	if err := postgres.MigrateRiver(ctx, pool); err != nil {
		return fmt.Errorf("river migration: %w", err)
	}
	logger.Info().Msg("river schema applied")
	return nil
}
