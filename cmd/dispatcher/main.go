package main

import (
	"context"
	"database/sql"
	"fmt"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	_ "github.com/lib/pq"
	"github.com/redis/go-redis/v9"

	"github.com/rockingmanas78/ai-sales-api-poc-sub000/internal/api"
	"github.com/rockingmanas78/ai-sales-api-poc-sub000/internal/config"
	"github.com/rockingmanas78/ai-sales-api-poc-sub000/internal/content"
	"github.com/rockingmanas78/ai-sales-api-poc-sub000/internal/dispatch"
	"github.com/rockingmanas78/ai-sales-api-poc-sub000/internal/pkg/distlock"
	"github.com/rockingmanas78/ai-sales-api-poc-sub000/internal/pkg/idempotency"
	"github.com/rockingmanas78/ai-sales-api-poc-sub000/internal/pkg/logger"
	"github.com/rockingmanas78/ai-sales-api-poc-sub000/internal/repository/postgres"
	"github.com/rockingmanas78/ai-sales-api-poc-sub000/internal/scheduler"
)

const warmupLockKey = "warmup:volume-scheduler"

func main() {
	log.Println("Starting outbound dispatch engine...")

	cfgPath := os.Getenv("CONFIG_PATH")
	if cfgPath == "" {
		cfgPath = "config.yaml"
	}
	cfg, err := config.LoadFromEnv(cfgPath)
	if err != nil {
		log.Fatalf("Failed to load config: %v", err)
	}

	if os.Getenv("LOG_LEVEL") == "debug" {
		logger.SetLevel(logger.DEBUG)
	}
	logger.Info("dispatch engine starting",
		"windows_per_hour", cfg.Dispatch.WindowsPerHour,
		"max_attempts", cfg.Dispatch.MaxAttempts,
		"warmup_reply_domain", cfg.Warmup.ReplyDomain,
	)

	// Database
	db, err := sql.Open("postgres", cfg.Database.URL)
	if err != nil {
		log.Fatalf("Failed to open database: %v", err)
	}
	defer db.Close()

	db.SetMaxOpenConns(cfg.Database.MaxOpenConns)
	db.SetMaxIdleConns(cfg.Database.MaxIdleConns)
	db.SetConnMaxLifetime(5 * time.Minute)
	db.SetConnMaxIdleTime(1 * time.Minute)

	pingCtx, cancelPing := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancelPing()
	if err := db.PingContext(pingCtx); err != nil {
		log.Fatalf("Failed to ping database: %v", err)
	}
	log.Println("Connected to database")

	// Redis is optional: without it the warmup lock falls back to a PG
	// advisory lock and duplicate-event suppression is disabled.
	var redisClient *redis.Client
	var events idempotency.Store = idempotency.Noop{}
	if cfg.Redis.Addr != "" {
		redisClient = redis.NewClient(&redis.Options{
			Addr:     cfg.Redis.Addr,
			Password: cfg.Redis.Password,
			DB:       cfg.Redis.DB,
		})
		if err := redisClient.Ping(context.Background()).Err(); err != nil {
			log.Printf("Redis unreachable (%v), continuing without it", err)
			redisClient = nil
		} else {
			events = idempotency.NewRedisStore(redisClient, "dispatch:event", 24*time.Hour)
			log.Println("Connected to redis")
		}
	}

	// Transport
	transport, err := dispatch.NewSESTransport(context.Background(), cfg.SES.AccessKey, cfg.SES.SecretKey, cfg.SES.Region)
	if err != nil {
		log.Fatalf("Failed to initialize SES transport: %v", err)
	}
	executor := dispatch.NewExecutor(transport, cfg.SES.ConfigSet, cfg.SES.Timeout())

	// Repositories
	jobRepo := postgres.NewJobRepo(db)
	contentRepo := postgres.NewContentRepo(db)
	warmupRepo := postgres.NewWarmupRepo(db)
	directory := postgres.NewDirectoryRepo(db)

	resolver := content.NewResolver(contentRepo, contentRepo, content.NewTemplateService())

	// Schedulers
	campaign := scheduler.NewCampaignScheduler(jobRepo, resolver, executor, directory, events,
		scheduler.WithWindowsPerHour(cfg.Dispatch.WindowsPerHour),
		scheduler.WithMaxAttempts(cfg.Dispatch.MaxAttempts),
		scheduler.WithMaxJobsPerTick(cfg.Dispatch.MaxJobsPerTick),
		scheduler.WithSendConcurrency(cfg.Dispatch.SendConcurrency),
		scheduler.WithTickInterval(cfg.Dispatch.TickInterval()),
	)

	warmupLock := distlock.New(redisClient, db, warmupLockKey, cfg.Warmup.LockTTL())
	warmup := scheduler.NewWarmupScheduler(warmupRepo, directory, warmupLock, cfg.Warmup.ReplyDomain, cfg.Warmup.TickInterval())
	warmupSender := scheduler.NewWarmupSender(warmupRepo, executor, cfg.Warmup.SenderMaxPerTick, scheduler.DefaultSenderInterval)

	if err := campaign.Start(); err != nil {
		log.Fatalf("Failed to start campaign scheduler: %v", err)
	}
	if err := warmup.Start(); err != nil {
		log.Fatalf("Failed to start warmup scheduler: %v", err)
	}
	if err := warmupSender.Start(); err != nil {
		log.Fatalf("Failed to start warmup sender: %v", err)
	}

	// Ops endpoint
	ops := api.NewOps(db, map[string]api.StatsSource{
		"campaign":      campaign,
		"warmup":        warmup,
		"warmup_sender": warmupSender,
	}, postgres.NewConversationRepo(db))
	srv := &http.Server{
		Addr:    fmt.Sprintf("%s:%d", cfg.Server.Host, cfg.Server.Port),
		Handler: ops.Router(),
	}
	go func() {
		log.Printf("Ops endpoint listening on %s", srv.Addr)
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatalf("Ops server error: %v", err)
		}
	}()

	// Wait for shutdown signal
	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	sig := <-sigCh
	log.Printf("Received %v, shutting down...", sig)

	shutdownCtx, cancelShutdown := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancelShutdown()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		log.Printf("Ops server shutdown error: %v", err)
	}

	// Stop schedulers last so in-flight sends finish recording.
	warmupSender.Stop()
	warmup.Stop()
	campaign.Stop()

	if redisClient != nil {
		redisClient.Close()
	}
	logger.Info("dispatch engine stopped")
}
