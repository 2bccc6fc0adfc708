package main

import (
	"context"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/debridrelay/debridrelay/internal/bot"
	"github.com/debridrelay/debridrelay/internal/cache"
	"github.com/debridrelay/debridrelay/internal/config"
	"github.com/debridrelay/debridrelay/internal/debrid"
	"github.com/debridrelay/debridrelay/internal/feed"
	"github.com/debridrelay/debridrelay/internal/health"
	"github.com/debridrelay/debridrelay/internal/history"
	"github.com/debridrelay/debridrelay/internal/lifecycle"
	"github.com/debridrelay/debridrelay/internal/logger"
	"github.com/debridrelay/debridrelay/internal/metrics"
	"github.com/debridrelay/debridrelay/internal/notify"
	"github.com/debridrelay/debridrelay/internal/objectstore"
	"github.com/debridrelay/debridrelay/internal/pipeline"
	"github.com/debridrelay/debridrelay/internal/relay"
	"github.com/debridrelay/debridrelay/internal/server"
	"github.com/debridrelay/debridrelay/internal/telegram"
	"github.com/debridrelay/debridrelay/internal/watcher"
)

var version = "dev"

func main() {
	cfg := config.Load()

	logger.SetDefault(logger.New(&logger.Config{
		Output: os.Stdout,
		Level:  logger.ParseLevel(cfg.LogLevel),
	}))
	log := logger.Default().WithComponent("main")

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := cfg.Validate(); err != nil {
		log.Error(ctx, "invalid configuration", err)
		os.Exit(1)
	}

	var checks []health.Check

	// Redis backs the task queue, the watcher state, the event fan-out and
	// the response cache. Without it everything stays in memory.
	var redisClient *redis.Client
	if cfg.RedisAddr != "" {
		client, err := cache.Connect(ctx, cfg.RedisAddr)
		if err != nil {
			log.Error(ctx, "failed to connect to redis", err)
			os.Exit(1)
		}
		defer client.Close()
		redisClient = client
		checks = append(checks, health.Check{
			Name:  "redis",
			Probe: func(ctx context.Context) error { return client.Ping(ctx).Err() },
		})
	}

	var repo *history.Repository
	if cfg.DatabaseURL != "" {
		db, err := history.Open(cfg.DatabaseURL)
		if err != nil {
			log.Error(ctx, "failed to connect to database", err)
			os.Exit(1)
		}
		if err := db.Migrate(ctx); err != nil {
			log.Error(ctx, "failed to run migrations", err)
			os.Exit(1)
		}
		repo = history.NewRepository(db)
		defer repo.Close()
		checks = append(checks, health.Check{Name: "database", Probe: repo.Ping, Optional: true})
	}

	var relayOpts []relay.Option
	if repo != nil {
		relayOpts = append(relayOpts, relay.WithHistory(repo))
	}
	if cfg.MinioEndpoint != "" {
		store, err := objectstore.New(&objectstore.Config{
			Endpoint:  cfg.MinioEndpoint,
			AccessKey: cfg.MinioAccessKey,
			SecretKey: cfg.MinioSecretKey,
			Bucket:    cfg.MinioBucket,
			UseSSL:    cfg.MinioUseSSL,
		})
		if err != nil {
			log.Error(ctx, "failed to create object store client", err)
			os.Exit(1)
		}
		if err := store.EnsureBucket(ctx); err != nil {
			log.Error(ctx, "failed to prepare overflow bucket", err, map[string]interface{}{"bucket": store.Bucket()})
			os.Exit(1)
		}
		relayOpts = append(relayOpts, relay.WithOverflow(&relay.StoreUploader{Store: store, Expiry: cfg.MinioPresignExpiry}))
		checks = append(checks, health.Check{Name: "objectstore", Probe: store.Ping, Optional: true})
	}

	debridClient := debrid.NewClient(cfg.DebridBaseURL, cfg.DebridToken)
	tg := telegram.NewClient(cfg.TelegramBaseURL, cfg.BotToken)
	tokens := feed.NewTokens(cfg.JWTSecret, cfg.FeedTokenTTL)
	hub := feed.NewHub()
	go hub.Run(ctx)

	notifier := notify.New(tg)
	if redisClient != nil {
		notifier.AddPublisher(feed.NewRedisPublisher(redisClient))
		go func() {
			if err := feed.Subscribe(ctx, redisClient, hub); err != nil {
				log.Error(ctx, "event subscription stopped", err)
			}
		}()
	} else {
		notifier.AddPublisher(hub)
	}

	controller := lifecycle.NewController(debridClient, lifecycle.Config{
		Policy: lifecycle.Policy{
			NotifyInterval:       cfg.NotifyInterval,
			MaxTransientFailures: cfg.MaxTransientFailures,
			Timeout:              cfg.JobTimeout,
		},
		PollInterval: cfg.PollInterval,
	})

	orchestrator := relay.New(debridClient,
		&relay.ChatUploader{Sender: tg, ChatID: cfg.ChatID, ChunkSize: cfg.UploadChunkSize},
		relay.Config{
			ChatID:           cfg.ChatID,
			ReportInterval:   cfg.RelayReportInterval,
			Timeout:          cfg.RelayTimeout,
			IdleTimeout:      cfg.ReadIdleTimeout,
			MaxUploadBytes:   cfg.MaxUploadBytes,
			DeleteAfterRelay: cfg.DeleteAfterRelay,
		},
		relayOpts...,
	)

	var queue pipeline.Queue = pipeline.NewMemoryQueue(0)
	store := watcher.Store(watcher.NewMemoryStore())
	if redisClient != nil {
		queue = pipeline.NewRedisQueue(redisClient)
		store = watcher.NewRedisStore(redisClient)
	}

	runner := pipeline.NewRunner(controller, orchestrator, notifier, nil)
	pool := pipeline.NewWorkerPool(queue, runner.Run, &pipeline.WorkerPoolConfig{
		WorkerCount: cfg.WorkerCount,
		TaskTimeout: cfg.JobTimeout + cfg.RelayTimeout,
	})
	pool.Start(ctx)

	w := watcher.New(debridClient, notifier, store, runner.InFlight(), watcher.Config{
		ChatID:   cfg.ChatID,
		Interval: cfg.WatchInterval,
	})
	go w.Run(ctx)

	var botOpts []bot.Option
	botOpts = append(botOpts, bot.WithFeedTokens(tokens), bot.WithCache(cache.New(redisClient, "relay:cache:")))
	if repo != nil {
		botOpts = append(botOpts, bot.WithHistory(repo))
	}
	b := bot.New(tg, debridClient, pool, bot.Config{ChatID: cfg.ChatID, PageSize: cfg.PageSize}, botOpts...)
	b.Announce(ctx)
	go b.Run(ctx)

	deps := server.Deps{
		Health: health.NewHandler(health.NewChecker(&health.CheckerConfig{
			Checks:  checks,
			Version: version,
		})),
		Metrics: metrics.Default(),
		Feed:    feed.NewHandler(hub, tokens),
		Tokens:  tokens,
	}
	if repo != nil {
		deps.History = repo
	}
	srv := server.New(cfg.ServerAddr, server.NewRouter(deps))

	go func() {
		log.Info(ctx, "server starting", map[string]interface{}{
			"addr":    cfg.ServerAddr,
			"version": version,
			"workers": cfg.WorkerCount,
			"redis":   redisClient != nil,
			"history": repo != nil,
			"minio":   cfg.MinioEndpoint != "",
		})
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Error(ctx, "server failed", err)
			stop()
		}
	}()

	<-ctx.Done()
	log.Info(context.Background(), "shutting down")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		log.Error(shutdownCtx, "http shutdown failed", err)
	}
	if err := pool.Stop(shutdownCtx); err != nil {
		log.Error(shutdownCtx, "worker pool did not stop in time", err)
	}
	log.Info(shutdownCtx, "shutdown complete")
}
