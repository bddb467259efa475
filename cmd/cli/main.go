package main

import (
	"context"
	"os"
	"strings"

	"github.com/nimasrn/crm-inbox/internal/config"
	"github.com/nimasrn/crm-inbox/internal/repository"
	"github.com/nimasrn/crm-inbox/pkg/logger"
	"github.com/nimasrn/crm-inbox/pkg/pg"
	"github.com/pkg/errors"
)

// usage: cli [up|down|redo|status|version] --env=.env --dir=./migrations
func main() {
	err := config.Load(getEnvPath())
	if err != nil {
		logger.Error("failed to load config", "error", err)
	}
	cfg := config.Get()
	command := getCommand()

	if strings.EqualFold(cfg.DBDriver, "sqlite") {
		// the sqlite mode has no goose history, the schema comes from the entities
		db, err := pg.CreateSQLite(cfg.SQLitePath, cfg.AppDebug)
		if err != nil {
			logger.Fatal(errors.Wrap(err, "migration: failed to open sqlite"), "path", cfg.SQLitePath)
		}
		if err := repository.AutoMigrate(db); err != nil {
			logger.Fatal(errors.Wrap(err, "migration: auto migrate failed"))
		}
		logger.Info("sqlite schema is up to date", "path", cfg.SQLitePath)
		return
	}

	err = pg.RunMigration(context.Background(), cfg.PostgresWrite(), getMigrationPath(), command)
	if err != nil {
		logger.Fatal(err, "command", command)
	}
}

func getCommand() string {
	for _, v := range os.Args[1:] {
		if !strings.HasPrefix(v, "--") {
			return v
		}
	}
	return "up"
}

func getEnvPath() string {
	if v, ok := flagValue("--env="); ok {
		if _, err := os.Stat(v); err != nil {
			logger.Error("failed to open the passed env file", "path", v, "error", err)
			return ""
		}
		return v
	}
	if _, err := os.Stat(".env"); err != nil {
		return ""
	}
	return ".env"
}

func getMigrationPath() string {
	dir := "./migrations"
	if v, ok := flagValue("--dir="); ok {
		dir = v
	}
	if _, err := os.Stat(dir); err != nil {
		logger.Error("migration directory is not readable", "dir", dir, "error", err)
	}
	return dir
}

func flagValue(prefix string) (string, bool) {
	for _, v := range os.Args[1:] {
		if strings.HasPrefix(v, prefix) {
			return strings.TrimPrefix(v, prefix), true
		}
	}
	return "", false
}
