package main

import (
	"errors"
	"fmt"
	"strconv"

	"github.com/golang-migrate/migrate/v4"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/asakaida/stepscope/internal/infrastructure/database"
)

func migrateCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "migrate",
		Short: "Manage the run database schema",
		Long: `Manage the PostgreSQL schema used to persist extraction runs.
Migrations are embedded in the binary and applied with golang-migrate.`,
	}

	cmd.AddCommand(
		&cobra.Command{
			Use:   "up",
			Short: "Apply all pending migrations",
			Args:  cobra.NoArgs,
			RunE: withMigrate(func(m *migrate.Migrate, args []string) error {
				err := m.Up()
				if errors.Is(err, migrate.ErrNoChange) {
					logger.Info("no migrations to apply")
					return nil
				}
				if err != nil {
					return fmt.Errorf("migration up failed: %w", err)
				}
				logger.Info("migration up completed")
				return nil
			}),
		},
		&cobra.Command{
			Use:   "down [steps]",
			Short: "Rollback migrations (default: 1)",
			Args:  cobra.MaximumNArgs(1),
			RunE: withMigrate(func(m *migrate.Migrate, args []string) error {
				steps := 1
				if len(args) > 0 {
					n, err := strconv.Atoi(args[0])
					if err != nil || n < 1 {
						return fmt.Errorf("invalid steps %q", args[0])
					}
					steps = n
				}
				err := m.Steps(-steps)
				if errors.Is(err, migrate.ErrNoChange) {
					logger.Info("no migrations to rollback")
					return nil
				}
				if err != nil {
					return fmt.Errorf("migration down failed: %w", err)
				}
				logger.Info("migration down completed", zap.Int("steps", steps))
				return nil
			}),
		},
		&cobra.Command{
			Use:   "goto <version>",
			Short: "Migrate to a specific version",
			Args:  cobra.ExactArgs(1),
			RunE: withMigrate(func(m *migrate.Migrate, args []string) error {
				version, err := strconv.ParseUint(args[0], 10, 64)
				if err != nil {
					return fmt.Errorf("invalid version %q", args[0])
				}
				err = m.Migrate(uint(version))
				if errors.Is(err, migrate.ErrNoChange) {
					logger.Info("already at version", zap.Uint64("version", version))
					return nil
				}
				if err != nil {
					return fmt.Errorf("migration goto failed: %w", err)
				}
				logger.Info("migration goto completed", zap.Uint64("version", version))
				return nil
			}),
		},
		&cobra.Command{
			Use:   "version",
			Short: "Show current migration version",
			Args:  cobra.NoArgs,
			RunE: withMigrate(func(m *migrate.Migrate, args []string) error {
				version, dirty, err := m.Version()
				if errors.Is(err, migrate.ErrNilVersion) {
					fmt.Println("Current version: no migrations applied yet")
					return nil
				}
				if err != nil {
					return fmt.Errorf("failed to get version: %w", err)
				}
				if dirty {
					fmt.Printf("Current version: %d (dirty - migration may have failed)\n", version)
				} else {
					fmt.Printf("Current version: %d\n", version)
				}
				return nil
			}),
		},
		&cobra.Command{
			Use:   "force <version>",
			Short: "Force set migration version (use with caution)",
			Args:  cobra.ExactArgs(1),
			RunE: withMigrate(func(m *migrate.Migrate, args []string) error {
				version, err := strconv.Atoi(args[0])
				if err != nil {
					return fmt.Errorf("invalid version %q", args[0])
				}
				if err := m.Force(version); err != nil {
					return fmt.Errorf("migration force failed: %w", err)
				}
				logger.Info("migration forced", zap.Int("version", version))
				return nil
			}),
		},
	)
	return cmd
}

// withMigrate connects to the database regardless of DB_ENABLED and hands
// a migrate instance over the embedded migrations to fn
func withMigrate(fn func(*migrate.Migrate, []string) error) func(*cobra.Command, []string) error {
	return func(cmd *cobra.Command, args []string) error {
		if cfg.Database.Password == "" {
			return fmt.Errorf("DB_PASSWORD is required for migrations")
		}
		pg, err := database.NewPostgres(&cfg.Database)
		if err != nil {
			return fmt.Errorf("failed to connect to database: %w", err)
		}
		defer pg.Close()

		logger.Info("connected to database",
			zap.String("user", cfg.Database.User),
			zap.String("host", cfg.Database.Host),
			zap.Int("port", cfg.Database.Port),
			zap.String("database", cfg.Database.Database),
		)

		m, err := pg.NewMigrate()
		if err != nil {
			return fmt.Errorf("failed to create migrate instance: %w", err)
		}
		defer m.Close()

		return fn(m, args)
	}
}
