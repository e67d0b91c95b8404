package cli

import (
	"context"
	"database/sql"
	"errors"

	"github.com/rs/zerolog"
	"github.com/spf13/cobra"
	"github.com/uptrace/bun"
	"github.com/uptrace/bun/dialect/pgdialect"
	"github.com/uptrace/bun/driver/pgdriver"
	"github.com/uptrace/bun/migrate"

	"quiz-proctor/internal/config"
	pgmigrations "quiz-proctor/internal/infra/postgres/migrations"
	"quiz-proctor/internal/logger"
)

var errNoPostgres = errors.New("postgres url not configured")

// NewMigrateCmd applies, rolls back or lists database migrations.
func NewMigrateCmd(configPath *string) *cobra.Command {
	var rollback, status bool
	cmd := &cobra.Command{
		Use:   "migrate",
		Short: "Run database migrations",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := config.Load(*configPath)
			if err != nil {
				return err
			}
			log := logger.Setup(cfg.Log.Level, cfg.Log.Format)
			ctx := cmd.Context()
			switch {
			case status:
				return withMigrator(ctx, cfg, func(m *migrate.Migrator) error { return printStatus(ctx, m, log) })
			case rollback:
				return withMigrator(ctx, cfg, func(m *migrate.Migrator) error { return rollbackLast(ctx, m, log) })
			default:
				return runMigrationsWithConfig(ctx, cfg, log)
			}
		},
	}
	cmd.Flags().BoolVar(&rollback, "rollback", false, "roll back the last migration group")
	cmd.Flags().BoolVar(&status, "status", false, "list applied and pending migrations")
	return cmd
}

func withMigrator(ctx context.Context, cfg config.Config, fn func(*migrate.Migrator) error) error {
	if cfg.Postgres.URL == "" {
		return errNoPostgres
	}
	db := bun.NewDB(sql.OpenDB(pgdriver.NewConnector(pgdriver.WithDSN(cfg.Postgres.URL))), pgdialect.New())
	defer db.Close()

	migrator := migrate.NewMigrator(db, pgmigrations.Migrations)
	if err := migrator.Init(ctx); err != nil {
		return err
	}
	return fn(migrator)
}

// runMigrationsWithConfig is also used by start so a fresh database is usable right away.
func runMigrationsWithConfig(ctx context.Context, cfg config.Config, log zerolog.Logger) error {
	return withMigrator(ctx, cfg, func(m *migrate.Migrator) error {
		group, err := m.Migrate(ctx)
		if err != nil {
			return err
		}
		if group.IsZero() {
			log.Info().Msg("database schema up to date")
			return nil
		}
		log.Info().Str("group", group.String()).Msg("migrations applied")
		return nil
	})
}

func rollbackLast(ctx context.Context, m *migrate.Migrator, log zerolog.Logger) error {
	group, err := m.Rollback(ctx)
	if err != nil {
		return err
	}
	if group.IsZero() {
		log.Info().Msg("nothing to roll back")
		return nil
	}
	log.Info().Str("group", group.String()).Msg("rolled back")
	return nil
}

func printStatus(ctx context.Context, m *migrate.Migrator, log zerolog.Logger) error {
	ms, err := m.MigrationsWithStatus(ctx)
	if err != nil {
		return err
	}
	for _, mig := range ms {
		log.Info().Str("migration", mig.Name).Bool("applied", mig.IsApplied()).Msg("migration")
	}
	return nil
}
