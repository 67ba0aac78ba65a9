package main

import (
	"context"
	"fmt"

	"github.com/spf13/cobra"

	corecmd "github.com/m3rciful/fleetbot/core/cmd"
	coredatabase "github.com/m3rciful/fleetbot/core/database"
	"github.com/m3rciful/fleetbot/core/logger"
	"github.com/m3rciful/fleetbot/internal/config"
	"github.com/m3rciful/fleetbot/migrations"
)

func migrateCmd(configPath *string) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "migrate",
		Short: "Manage the database schema",
		Long: `Apply or roll back the embedded schema migrations.

Examples:
  fleetbot migrate up        # apply pending migrations
  fleetbot migrate down      # roll back the last migration
  fleetbot migrate version   # print the applied version`,
	}

	run := func(fn func(ctx context.Context, m *coredatabase.Migrator) error) func(*cobra.Command, []string) error {
		return func(cmd *cobra.Command, args []string) error {
			cfg, err := config.Load(resolveConfig(*configPath))
			if err != nil {
				return err
			}
			if err := logger.InitLogger(cfg.CoreConfig()); err != nil {
				return err
			}
			defer func() { _ = logger.Shutdown() }()

			ctx, cancel := corecmd.SignalContext(cmd.Context())
			defer cancel()
			return fn(ctx, coredatabase.NewMigrator(cfg.Database, migrations.FS, "."))
		}
	}

	cmd.AddCommand(&cobra.Command{
		Use:   "up",
		Short: "Apply pending migrations",
		Args:  cobra.NoArgs,
		RunE: run(func(ctx context.Context, m *coredatabase.Migrator) error {
			return m.Run(ctx, coredatabase.Up)
		}),
	})
	cmd.AddCommand(&cobra.Command{
		Use:   "down",
		Short: "Roll back the last migration",
		Args:  cobra.NoArgs,
		RunE: run(func(ctx context.Context, m *coredatabase.Migrator) error {
			return m.Run(ctx, coredatabase.Down)
		}),
	})
	cmd.AddCommand(&cobra.Command{
		Use:   "version",
		Short: "Print the applied schema version",
		Args:  cobra.NoArgs,
		RunE: run(func(ctx context.Context, m *coredatabase.Migrator) error {
			v, dirty, err := m.Version(ctx)
			if err != nil {
				return err
			}
			fmt.Printf("version %d", v)
			if dirty {
				fmt.Print(" (dirty)")
			}
			fmt.Println()
			return nil
		}),
	})
	return cmd
}
