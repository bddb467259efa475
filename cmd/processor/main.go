package main

import (
	"context"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/nimasrn/crm-inbox/internal/config"
	"github.com/nimasrn/crm-inbox/internal/deadletter"
	"github.com/nimasrn/crm-inbox/internal/repository"
	"github.com/nimasrn/crm-inbox/pkg/logger"
	"github.com/nimasrn/crm-inbox/pkg/pg"
	"github.com/nimasrn/crm-inbox/pkg/prom"
	"github.com/nimasrn/crm-inbox/pkg/redis"
)

var (
	version = "dev"
	commit  = "none"
	date    = "unknown"
)

// processor moves dead letters parked in redis or on disk back into the
// reviewable table. Run it with --once from cron or let it loop.
func main() {
	defer logger.Sync()

	err := config.Load(argContainsEnvPath())
	if err != nil {
		logger.Error("failed to load config", "error", err)
		return
	}
	cfg := config.Get()
	if cfg.AppDebug {
		_ = logger.SetLevel("debug")
	}
	logger.Info("starting dead letter recovery", "version", version, "commit", commit, "date", date)

	var db *pg.DB
	if strings.EqualFold(cfg.DBDriver, "sqlite") {
		gdb, err := pg.CreateSQLite(cfg.SQLitePath, cfg.AppDebug)
		if err != nil {
			logger.Error("failed opening sqlite", "error", err)
			return
		}
		db = pg.NewDB(gdb, gdb)
	} else {
		db, err = pg.CreateReadWrite(cfg.PostgresRead(), cfg.PostgresWrite(), cfg.AppDebug)
		if err != nil {
			logger.Error("failed connecting to pg", "error", err)
			return
		}
	}

	var redisAdap redis.RedisAdapter
	if cfg.RedisAddr != "" {
		redisAdap, err = redis.NewRedisAdapter("default", cfg.RedisUniversalKeyPrefix, &redis.Options{
			Addrs:      []string{cfg.RedisAddr},
			ClientName: cfg.AppName + "-processor",
			DB:         cfg.RedisDatabase,
			Username:   cfg.RedisUsername,
			Password:   cfg.RedisPassword,
		})
		if err != nil {
			logger.Error("failed connecting to redis", "error", err)
			return
		}
	}

	var recoverer *deadletter.Recoverer
	if redisAdap != nil {
		recoverer = deadletter.NewRecoverer(repository.NewDeadLetterRepository(db), redisAdap, deadletter.DefaultRedisKey, cfg.DeadLetterFile)
	} else {
		recoverer = deadletter.NewRecoverer(repository.NewDeadLetterRepository(db), nil, "", cfg.DeadLetterFile)
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	if hasFlag("--once") {
		if _, err := recoverer.Run(ctx); err != nil {
			logger.Error("dead letter recovery failed", "error", err)
			os.Exit(1)
		}
		return
	}

	var hostname string
	hostname, err = os.Hostname()
	if err != nil {
		hostname = "unknown"
	}
	err = prom.Create(hostname, cfg.AppEnv, cfg.PromNamespace)
	if err != nil {
		logger.Error("failed to create prometheus metrics", "error", err)
		return
	}

	go func() {
		prom.ListenAndServer(":9100", "/metrics")
	}()

	c := make(chan os.Signal, 1)
	signal.Notify(c, os.Interrupt, syscall.SIGTERM)

	ticker := time.NewTicker(cfg.DeadLetterRecoveryInterval)
	defer ticker.Stop()

	for {
		if _, err := recoverer.Run(ctx); err != nil {
			logger.Warn("dead letter recovery incomplete, retrying next tick", "error", err)
		}
		select {
		case <-ticker.C:
		case <-c:
			logger.Info("shutting down dead letter recovery")
			return
		}
	}
}

func hasFlag(name string) bool {
	for _, v := range os.Args[1:] {
		if v == name {
			return true
		}
	}
	return false
}

func argContainsEnvPath() string {
	for _, v := range os.Args {
		if strings.Contains(v, "--env=") {
			s := strings.Split(v, "=")
			if _, err := os.Open(s[1]); err != nil {
				logger.Error("failed to open the passed env file, got error" + err.Error())
				return ""
			}
			return s[1]
		}
	}
	return ""
}
