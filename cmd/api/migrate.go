package main

import (
	"github.com/samber/oops"
	"github.com/spf13/cobra"

	"github.com/yourusername/codedeck-auth/internal/account/postgres"
	"github.com/yourusername/codedeck-auth/internal/config"
)

// NewMigrateCmd は migrate サブコマンドを作成します。
func NewMigrateCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "migrate",
		Short: "Run database migrations",
		Long:  `Run all pending database migrations against DATABASE_URL.`,
		Args:  cobra.NoArgs,
		RunE:  runMigrate,
	}
}

func runMigrate(cmd *cobra.Command, _ []string) error {
	cfg, err := config.Load()
	if err != nil {
		return oops.Code("CONFIG_INVALID").Wrap(err)
	}
	if cfg.DatabaseURL == "" {
		return oops.Code("CONFIG_INVALID").Errorf("DATABASE_URL is required")
	}

	ctx := cmd.Context()

	cmd.Println("Connecting to database...")
	pool, err := postgres.OpenPool(ctx, cfg.DatabaseURL)
	if err != nil {
		return oops.Code("DB_CONNECT_FAILED").With("operation", "connect to database").Wrap(err)
	}
	defer pool.Close()

	cmd.Println("Running migrations...")
	if err := postgres.MigratePool(ctx, pool); err != nil {
		return oops.Code("MIGRATION_FAILED").With("operation", "run migrations").Wrap(err)
	}

	cmd.Println("Migrations completed successfully")
	return nil
}
