package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"

	"github.com/joho/godotenv"
	"github.com/prometheus/client_golang/prometheus"

	"github.com/keymartlabs/keymart-backend/internal/checkout"
	"github.com/keymartlabs/keymart-backend/internal/orders"
	"github.com/keymartlabs/keymart-backend/internal/payouts"
	"github.com/keymartlabs/keymart-backend/internal/refunds"
	"github.com/keymartlabs/keymart-backend/internal/worker"
	"github.com/keymartlabs/keymart-backend/pkg/config"
	"github.com/keymartlabs/keymart-backend/pkg/db"
	"github.com/keymartlabs/keymart-backend/pkg/logger"
	"github.com/keymartlabs/keymart-backend/pkg/metrics"
	"github.com/keymartlabs/keymart-backend/pkg/migrate"
	"github.com/keymartlabs/keymart-backend/pkg/outbox"
	"github.com/keymartlabs/keymart-backend/pkg/paypal"
	"github.com/keymartlabs/keymart-backend/pkg/redis"
)

const lockKeyFormat = "km:payout-worker:lock:%s"

func main() {
	logg := logger.New(logger.Options{ServiceName: "payout-worker"})

	if err := godotenv.Load(); err != nil {
		logg.Warn(context.Background(), ".env file not found, relying on environment")
	}

	cfg, err := config.Load()
	if err != nil {
		logg.Error(context.Background(), "failed to load config", err)
		os.Exit(1)
	}

	cfg.Service.Kind = "payout-worker"

	logg = logger.New(logger.Options{
		ServiceName: "payout-worker",
		Level:       logger.ParseLevel(cfg.App.LogLevel),
		WarnStack:   cfg.App.LogWarnStack,
	})

	dbClient, err := db.New(context.Background(), cfg.DB, logg)
	if err != nil {
		logg.Error(context.Background(), "failed to bootstrap database", err)
		os.Exit(1)
	}
	defer func() {
		if err := dbClient.Close(); err != nil {
			logg.Error(context.Background(), "error closing database", err)
		}
	}()

	if err := migrate.MaybeRunDev(context.Background(), cfg, logg, dbClient); err != nil {
		logg.Error(context.Background(), "failed to run dev migrations", err)
		os.Exit(1)
	}

	redisClient, err := redis.New(context.Background(), cfg.Redis, logg)
	if err != nil {
		logg.Error(context.Background(), "failed to bootstrap redis", err)
		os.Exit(1)
	}
	defer func() {
		if err := redisClient.Close(); err != nil {
			logg.Error(context.Background(), "error closing redis", err)
		}
	}()

	paypalClient, err := paypal.New(context.Background(), cfg.PayPal, logg)
	if err != nil {
		logg.Error(context.Background(), "failed to bootstrap paypal client", err)
		os.Exit(1)
	}

	gormDB := dbClient.DB()
	outboxRepo := outbox.NewRepository(gormDB)
	outboxSvc := outbox.NewService(outboxRepo, logg)
	payoutsRepo := payouts.NewRepository(gormDB)

	payoutsSvc, err := payouts.NewService(
		payoutsRepo,
		payouts.NewAccountRepository(gormDB),
		dbClient,
		outboxSvc,
		paypalClient,
		orders.NewRepository(gormDB),
		refunds.NewRepository(gormDB),
		logg,
		cfg.Settlement.MaxDisbursementRetries,
	)
	if err != nil {
		logg.Error(context.Background(), "failed to create payouts service", err)
		os.Exit(1)
	}

	releaseJob, err := worker.NewPayoutReleaseJob(worker.PayoutReleaseJobParams{
		Logger:  logg,
		Payouts: payoutsSvc,
	})
	if err != nil {
		logg.Error(context.Background(), "failed to create payout release job", err)
		os.Exit(1)
	}

	sessionJob, err := worker.NewSessionTTLJob(worker.SessionTTLJobParams{
		Logger:   logg,
		Sessions: checkout.NewRepository(gormDB),
	})
	if err != nil {
		logg.Error(context.Background(), "failed to create session ttl job", err)
		os.Exit(1)
	}

	retentionJob, err := worker.NewOutboxRetentionJob(worker.OutboxRetentionJobParams{
		Logger:      logg,
		DB:          dbClient,
		Repository:  outboxRepo,
		MinAttempts: cfg.Outbox.MaxAttempts,
	})
	if err != nil {
		logg.Error(context.Background(), "failed to create outbox retention job", err)
		os.Exit(1)
	}

	metricsCollector := metrics.NewWorkerMetrics(prometheus.DefaultRegisterer)
	lock, err := worker.NewRedisLock(redisClient, lockKey(cfg.App.Env), cfg.Worker.LockTTL)
	if err != nil {
		logg.Error(context.Background(), "failed to create worker lock", err)
		os.Exit(1)
	}

	registry := worker.NewRegistry(releaseJob, sessionJob, retentionJob)
	service, err := worker.NewService(worker.ServiceParams{
		Logger:   logg,
		Registry: registry,
		Lock:     lock,
		Metrics:  metricsCollector,
		Interval: cfg.Worker.Interval,
	})
	if err != nil {
		logg.Error(context.Background(), "failed to create worker service", err)
		os.Exit(1)
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt)
	defer stop()
	ctx = logg.WithFields(ctx, map[string]any{
		"env":         cfg.App.Env,
		"serviceKind": cfg.Service.Kind,
	})
	logg.Info(ctx, "starting payout worker")

	if err := service.Run(ctx); err != nil && !errors.Is(err, context.Canceled) {
		logg.Error(ctx, "payout worker stopped unexpectedly", err)
		os.Exit(1)
	}

	logg.Info(ctx, "payout worker shutting down gracefully")
}

func lockKey(env string) string {
	if env == "" {
		env = "local"
	}
	return fmt.Sprintf(lockKeyFormat, env)
}
