package pg

import (
	"context"

	_ "github.com/lib/pq"
	"github.com/nimasrn/crm-inbox/pkg/logger"
	"github.com/pkg/errors"
	"github.com/pressly/goose/v3"
)

// Migrate applies every pending goose migration found in dir.
func Migrate(cfg Config, dir string) error {
	return RunMigration(context.Background(), cfg, dir, "up")
}

// RunMigration runs a goose command (up, down, redo, status, version, ...)
// against the postgres database described by cfg.
func RunMigration(ctx context.Context, cfg Config, dir, command string, args ...string) error {
	if err := goose.SetDialect("postgres"); err != nil {
		return err
	}

	db, err := newSqlConnection(cfg)
	if err != nil {
		return err
	}
	defer db.Close()

	if err = goose.RunContext(ctx, command, db, dir, args...); err != nil {
		return errors.Wrapf(err, "goose %s", command)
	}
	version, err := goose.GetDBVersionContext(ctx, db)
	if err == nil {
		logger.Info("migrations done", "command", command, "version", version, "dir", dir)
	}
	return nil
}
