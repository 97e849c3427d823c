package repository

import (
	"context"
	"database/sql"
	"embed"
	"fmt"

	_ "github.com/jackc/pgx/v5/stdlib"
	"github.com/pressly/goose/v3"
	"go.uber.org/zap"
)

//go:embed migrations/*.sql
var embedMigrations embed.FS

// gooseLogger routes goose output through zap.
type gooseLogger struct {
	*zap.SugaredLogger
}

func (l gooseLogger) Printf(format string, v ...any) {
	l.Infof(format, v...)
}

func openMigrationDB(dsn string, logger *zap.Logger) (*sql.DB, error) {
	goose.SetLogger(gooseLogger{logger.Sugar()})
	goose.SetBaseFS(embedMigrations)
	if err := goose.SetDialect("postgres"); err != nil {
		return nil, fmt.Errorf("failed to set goose dialect: %w", err)
	}

	db, err := sql.Open("pgx", dsn)
	if err != nil {
		return nil, fmt.Errorf("failed to open migration connection: %w", err)
	}
	return db, nil
}

// MigrateUp applies all pending migrations.
func MigrateUp(ctx context.Context, dsn string, logger *zap.Logger) error {
	db, err := openMigrationDB(dsn, logger)
	if err != nil {
		return err
	}
	defer db.Close()

	logger.Info("Running database migrations")
	if err := goose.UpContext(ctx, db, "migrations"); err != nil {
		return fmt.Errorf("failed to run migrations: %w", err)
	}
	logger.Info("Database migrations completed")
	return nil
}

// MigrateDown rolls back the most recent migration.
func MigrateDown(ctx context.Context, dsn string, logger *zap.Logger) error {
	db, err := openMigrationDB(dsn, logger)
	if err != nil {
		return err
	}
	defer db.Close()

	if err := goose.DownContext(ctx, db, "migrations"); err != nil {
		return fmt.Errorf("failed to roll back migration: %w", err)
	}
	return nil
}
