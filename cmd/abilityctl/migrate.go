package main

import (
	"os"

	"github.com/samber/oops"
	"github.com/spf13/cobra"

	"github.com/udisondev/abilitycore/internal/config"
	"github.com/udisondev/abilitycore/internal/db"
)

const defaultConfigPath = "config/abilityserver.yaml"

// NewMigrateCmd creates the migrate subcommand.
func NewMigrateCmd() *cobra.Command {
	var configPath string

	cmd := &cobra.Command{
		Use:   "migrate",
		Short: "Run database migrations",
		Long: `Run all pending snapshot schema migrations against the PostgreSQL
database named in the server config. ABILITYCORE_CONFIG overrides --config.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			if p := os.Getenv("ABILITYCORE_CONFIG"); p != "" {
				configPath = p
			}
			return runMigrate(cmd, configPath)
		},
	}

	cmd.Flags().StringVar(&configPath, "config", defaultConfigPath, "server config file path")

	return cmd
}

func runMigrate(cmd *cobra.Command, configPath string) error {
	cfg, err := config.LoadServer(configPath)
	if err != nil {
		return oops.Code("CONFIG_INVALID").With("path", configPath).Wrap(err)
	}

	cmd.Println("Running migrations...")
	if err := db.RunMigrations(cmd.Context(), cfg.Database.DSN()); err != nil {
		return oops.Code("MIGRATION_FAILED").With("operation", "run migrations").Wrap(err)
	}

	cmd.Println("Migrations completed successfully")
	return nil
}
