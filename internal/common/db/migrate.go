package db

import (
	"context"
	"database/sql"
	"fmt"
	"io/fs"

	pgx "github.com/jackc/pgx/v4"
	"github.com/jackc/pgx/v4/stdlib"
	"github.com/pressly/goose/v3"

	"github.com/AlibekovAA/class-schedule/internal/common/logger"
)

var gooseUpContext = goose.UpContext

// Migrate applies every pending migration found at the root of fsys.
func Migrate(ctx context.Context, log *logger.Logger, databaseURL string, fsys fs.FS) error {
	connCfg, err := pgx.ParseConfig(databaseURL)
	if err != nil {
		return fmt.Errorf("failed to parse database url: %w", err)
	}

	sqlDB := stdlib.OpenDB(*connCfg)
	defer sqlDB.Close()

	return migrateDB(ctx, log, sqlDB, fsys)
}

func migrateDB(ctx context.Context, log *logger.Logger, sqlDB *sql.DB, fsys fs.FS) error {
	goose.SetBaseFS(fsys)
	defer goose.SetBaseFS(nil)

	if err := goose.SetDialect("postgres"); err != nil {
		return fmt.Errorf("failed to set goose dialect: %w", err)
	}

	if err := gooseUpContext(ctx, sqlDB, "."); err != nil {
		return fmt.Errorf("failed to apply migrations: %w", err)
	}

	log.Info("database migrations applied")
	return nil
}
