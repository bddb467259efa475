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
	"github.com/nimasrn/crm-inbox/internal/fanout"
	gateway "github.com/nimasrn/crm-inbox/internal/gateways"
	"github.com/nimasrn/crm-inbox/internal/handlers"
	"github.com/nimasrn/crm-inbox/internal/normalizer"
	"github.com/nimasrn/crm-inbox/internal/processor"
	"github.com/nimasrn/crm-inbox/internal/repository"
	"github.com/nimasrn/crm-inbox/internal/services"
	xhttp "github.com/nimasrn/crm-inbox/pkg/http"
	"github.com/nimasrn/crm-inbox/pkg/logger"
	"github.com/nimasrn/crm-inbox/pkg/pg"
	"github.com/nimasrn/crm-inbox/pkg/prom"
	"github.com/nimasrn/crm-inbox/pkg/redis"
)

const streamPath = "/api/v1/inbox/stream"

var (
	version = "dev"
	commit  = "none"
	date    = "unknown"
)

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
	logger.Info("starting crm inbox", "version", version, "commit", commit, "date", date, "env", cfg.AppEnv)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	db, err := openDatabase(cfg)
	if err != nil {
		logger.Error("failed connecting to database", "driver", cfg.DBDriver, "error", err)
		return
	}

	// redis is optional: without it storage dedup is the only duplicate check
	// and events stay on this replica
	var redisAdap redis.RedisAdapter
	if cfg.RedisAddr != "" {
		redisAdap, err = redis.NewRedisAdapter("default", cfg.RedisUniversalKeyPrefix, &redis.Options{
			Addrs:      []string{cfg.RedisAddr},
			ClientName: cfg.AppName,
			DB:         cfg.RedisDatabase,
			Username:   cfg.RedisUsername,
			Password:   cfg.RedisPassword,
		})
		if err != nil {
			logger.Error("failed connecting to redis", "error", err)
			return
		}
	} else {
		logger.Warn("REDIS_ADDR is empty, running without delivery locks and cross-replica fanout")
	}

	var hostname string
	hostname, err = os.Hostname()
	if err != nil {
		hostname = "unknown"
	}
	if err = prom.Create(hostname, cfg.AppEnv, cfg.PromNamespace); err != nil {
		logger.Error("failed to create prometheus metrics", "error", err)
		return
	}
	go func() {
		prom.ListenAndServer(cfg.AppDebugMetricsAddr, cfg.AppDebugMetricsURI)
	}()

	// repositories
	threadRepo := repository.NewThreadRepository(db)
	messageRepo := repository.NewMessageRepository(db)
	deadLetterRepo := repository.NewDeadLetterRepository(db)
	historyRepo := repository.NewPipelineHistoryRepository(db)
	rawRepo := repository.NewRawPayloadRepository(db)
	controlRepo := repository.NewWebhookControlRepository(db)

	// dead letters: database, then redis list, then a local file
	sinks := []deadletter.Sink{deadletter.NewRepositorySink(deadLetterRepo)}
	if redisAdap != nil {
		sinks = append(sinks, deadletter.NewRedisSink(redisAdap, deadletter.DefaultRedisKey))
	}
	sinks = append(sinks, deadletter.NewFileSink(cfg.DeadLetterFile))
	deadLetters := deadletter.NewChain(sinks...)

	// fanout
	hub := fanout.NewHub(0)
	var publishers []fanout.Publisher
	if redisAdap != nil && cfg.FanoutRedisEnabled {
		// every replica, this one included, receives through the relay
		publishers = append(publishers, fanout.NewRedisPublisher(redisAdap))
		go func() {
			if err := fanout.RelayToHub(ctx, redisAdap, hub); err != nil && ctx.Err() == nil {
				logger.Error("fanout relay stopped", "error", err)
			}
		}()
	} else {
		publishers = append(publishers, hub)
	}
	var amqpPub *fanout.AMQPPublisher
	if cfg.AmqpUrl != "" {
		amqpPub = fanout.NewAMQPPublisher(cfg.AmqpUrl, cfg.AmqpExchange)
		publishers = append(publishers, amqpPub)
	}
	notifier := fanout.New(publishers...)

	provider, err := gateway.NewClient(&gateway.Config{
		BaseURL:   cfg.EvolutionApiUrl,
		APIKey:    cfg.EvolutionApiKey,
		Instance:  cfg.EvolutionInstance,
		Timeout:   cfg.EvolutionTimeout,
		SendDelay: time.Duration(cfg.EvolutionSendDelayMs) * time.Millisecond,
		MediaHost: cfg.MediaHost,
		UserAgent: cfg.MediaUserAgent,
	})
	if err != nil {
		logger.Error("failed to create provider client", "error", err)
		return
	}

	// services
	control := services.NewControlService(controlRepo, cfg.WebhookControlName, cfg.WebhookControlTTL)

	enrichment := processor.NewEnrichmentProcessor(threadRepo, historyRepo, db, control, notifier,
		cfg.PipelineDefaultName, cfg.PipelineDefaultStage)
	worker := processor.NewProcessorService(enrichment, deadLetters)
	worker.Start()

	var guard services.DeliveryGuard
	if redisAdap != nil {
		idempotencyConfig := processor.DefaultIdempotencyConfig()
		idempotencyConfig.LockTTL = cfg.DeliveryLockTTL
		guard = processor.NewIdempotencyService(redisAdap, idempotencyConfig)
	}

	ingestion := services.NewIngestionService(normalizer.New(cfg.MediaHost), db, threadRepo, messageRepo, rawRepo,
		guard, worker, deadLetters)
	auth := services.NewWebhookAuthenticator(cfg.IPAllowlist(), cfg.WebhookToken, cfg.WebhookSignatureSecret)
	inbox := services.NewInboxService(threadRepo, messageRepo, db, provider, notifier, cfg.DefaultPhoneRegion)
	media := services.NewMediaService(messageRepo, provider)
	deadLetterService := services.NewDeadLetterService(deadLetterRepo)

	var redisPing services.Pinger
	if redisAdap != nil {
		redisPing = redisAdap
	}
	health := services.NewHealthService(worker, 2*time.Second).
		Register("database", db).
		Register("redis", redisPing)

	// transport
	s := xhttp.NewServer(xhttp.DefaultServerOption)
	s.Use(xhttp.RecoverMiddleware)
	s.Use(xhttp.RequestIDMiddleware)
	s.Use(xhttp.RequestLoggerMiddleware)
	// event streams are long lived and must reach the client unbuffered
	s.Use(xhttp.Except(xhttp.CompressMiddleware(6), streamPath))
	s.Use(xhttp.Except(xhttp.TimeoutMiddleware(cfg.HttpRequestTimeout), streamPath))

	g := s.Router.Group("/api/v1")
	handlers.RegisterWebhookRoutes(g, handlers.NewWebhookHandler(ingestion, control, auth))
	handlers.RegisterInboxRoutes(g, handlers.NewInboxHandler(inbox))
	handlers.RegisterStreamRoutes(g, handlers.NewStreamHandler(hub, handlers.DefaultHeartbeat))
	handlers.RegisterDeadLetterRoutes(g, handlers.NewDeadLetterHandler(deadLetterService))
	handlers.RegisterMediaRoutes(g, handlers.NewMediaHandler(media))
	handlers.RegisterHealthRoutes(g, handlers.NewHealthHandler(health))

	c := make(chan os.Signal, 1)
	signal.Notify(c, os.Interrupt, syscall.SIGTERM)

	go func() {
		var err = s.ListenAndServe(cfg.HttpListenAddr)
		if err != nil {
			logger.Error("error in running http-server", "error", err)
		}
	}()

	<-c
	logger.Info("shutting down")
	s.Shutdown()
	// drain after the listener is closed so nothing is enqueued behind Stop
	worker.Stop()
	cancel()
	if amqpPub != nil {
		_ = amqpPub.Close()
	}
}

func openDatabase(cfg *config.Config) (*pg.DB, error) {
	if strings.EqualFold(cfg.DBDriver, "sqlite") {
		gdb, err := pg.CreateSQLite(cfg.SQLitePath, cfg.AppDebug)
		if err != nil {
			return nil, err
		}
		// one writer at a time keeps sqlite from reporting busy
		if sqlDB, err := gdb.DB(); err == nil {
			sqlDB.SetMaxOpenConns(1)
		}
		if err := repository.AutoMigrate(gdb); err != nil {
			return nil, err
		}
		return pg.NewDB(gdb, gdb), nil
	}

	return pg.CreateReadWrite(cfg.PostgresRead(), cfg.PostgresWrite(), cfg.AppDebug)
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
