package main

import (
	"fmt"
	"log/slog"

	"github.com/samber/oops"
	"github.com/spf13/cobra"

	"github.com/udisondev/abilitycore/internal/data"
)

// Global flags available to all subcommands.
var logLevel string

// NewRootCmd creates the root command for the abilityctl CLI.
func NewRootCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "abilityctl",
		Short: "Inspect and exercise ability catalogs",
		Long: `abilityctl validates ability catalogs, runs single-actor simulations
against them and manages the snapshot database.`,
		SilenceUsage: true,
		PersistentPreRunE: func(cmd *cobra.Command, _ []string) error {
			var level slog.Level
			if err := level.UnmarshalText([]byte(logLevel)); err != nil {
				return oops.Code("CONFIG_INVALID").With("log_level", logLevel).Wrap(err)
			}
			slog.SetDefault(slog.New(slog.NewTextHandler(cmd.ErrOrStderr(), &slog.HandlerOptions{Level: level})))
			return nil
		},
	}

	cmd.PersistentFlags().StringVar(&logLevel, "log-level", "warn", "log level (debug, info, warn, error)")

	cmd.AddCommand(NewValidateCmd())
	cmd.AddCommand(NewSimulateCmd())
	cmd.AddCommand(NewMigrateCmd())

	return cmd
}

// NewValidateCmd creates the validate subcommand.
func NewValidateCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "validate <catalog.yaml>",
		Short: "Parse and validate a catalog",
		Long: `Parses a catalog file and checks every definition and cross reference.
Reports all problems found, not only the first one.`,
		Args: cobra.ExactArgs(1),
		RunE: runValidate,
	}
}

func runValidate(cmd *cobra.Command, args []string) error {
	catalog, err := loadCatalog(args[0])
	if err != nil {
		return err
	}
	w := cmd.OutOrStdout()
	fmt.Fprintf(w, "%s: ok\n", args[0])
	fmt.Fprintf(w, "  attribute sets: %d\n", len(catalog.Classes()))
	fmt.Fprintf(w, "  effects:        %d\n", len(catalog.Effects()))
	fmt.Fprintf(w, "  abilities:      %d\n", len(catalog.Abilities()))
	fmt.Fprintf(w, "  actors:         %d\n", len(catalog.Actors()))
	return nil
}

func loadCatalog(path string) (*data.Catalog, error) {
	catalog, err := data.Load(path)
	if err != nil {
		return nil, oops.Code("CATALOG_INVALID").With("path", path).Wrap(err)
	}
	return catalog, nil
}
