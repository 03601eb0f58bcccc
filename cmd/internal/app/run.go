package app

import (
	"context"
	"errors"
	"fmt"

	"github.com/sullivanpt/in-true-life-1/cmd/internal/migrations"
)

// Run is the serve entrypoint used by cmd/itl. It returns an error instead
// of calling os.Exit so defers run.
func Run(ctx context.Context) error {
	cfg, err := LoadConfig(ctx)
	if err != nil {
		return err
	}
	log := NewLogger(cfg)

	if err := ValidateSecurityConfig(cfg); err != nil {
		return err
	}

	a, err := New(ctx, cfg, log)
	if err != nil {
		return err
	}
	return a.Run(ctx)
}

// Migrate applies the embedded migrations to ITL_DATABASE_URL and exits.
func Migrate(ctx context.Context) error {
	cfg, err := LoadConfig(ctx)
	if err != nil {
		return err
	}
	if cfg.DatabaseURL == "" {
		return errors.New("migrate: ITL_DATABASE_URL is required")
	}
	log := NewLogger(cfg)

	pool, err := NewDBPool(ctx, cfg)
	if err != nil {
		return fmt.Errorf("db: %w", err)
	}
	defer pool.Close()

	if err := migrations.Up(ctx, pool, cfg.DBSchema); err != nil {
		return err
	}
	names, err := migrations.Names()
	if err != nil {
		return err
	}
	log.Info("db.migrated", "schema", cfg.DBSchema, "migrations", len(names))
	return nil
}
