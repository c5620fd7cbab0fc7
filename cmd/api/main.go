package main

import (
	"context"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/joho/godotenv"

	"github.com/keymartlabs/keymart-backend/api/routes"
	checkoutsvc "github.com/keymartlabs/keymart-backend/internal/checkout"
	"github.com/keymartlabs/keymart-backend/internal/inventory"
	"github.com/keymartlabs/keymart-backend/internal/orders"
	"github.com/keymartlabs/keymart-backend/internal/payouts"
	"github.com/keymartlabs/keymart-backend/internal/products"
	"github.com/keymartlabs/keymart-backend/internal/refunds"
	"github.com/keymartlabs/keymart-backend/internal/wallet"
	paypalwebhook "github.com/keymartlabs/keymart-backend/internal/webhooks/paypal"
	"github.com/keymartlabs/keymart-backend/pkg/config"
	"github.com/keymartlabs/keymart-backend/pkg/db"
	"github.com/keymartlabs/keymart-backend/pkg/logger"
	"github.com/keymartlabs/keymart-backend/pkg/migrate"
	"github.com/keymartlabs/keymart-backend/pkg/outbox"
	"github.com/keymartlabs/keymart-backend/pkg/outbox/idempotency"
	"github.com/keymartlabs/keymart-backend/pkg/paypal"
	"github.com/keymartlabs/keymart-backend/pkg/redis"
)

const webhookDedupeTTL = 30 * 24 * time.Hour

func main() {
	logg := logger.New(logger.Options{ServiceName: "api"})

	if err := godotenv.Load(); err != nil {
		logg.Warn(context.Background(), ".env file not found, relying on environment")
	}

	cfg, err := config.Load()
	if err != nil {
		logg.Error(context.Background(), "failed to load config", err)
		os.Exit(1)
	}

	logg = logger.New(logger.Options{
		ServiceName: "api",
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
	outboxSvc := outbox.NewService(outbox.NewRepository(gormDB), logg)
	ordersRepo := orders.NewRepository(gormDB)
	productsRepo := products.NewRepository(gormDB)
	payoutsRepo := payouts.NewRepository(gormDB)
	payoutAccounts := payouts.NewAccountRepository(gormDB)
	refundsRepo := refunds.NewRepository(gormDB)

	ordersSvc, err := orders.NewService(ordersRepo)
	if err != nil {
		logg.Error(context.Background(), "failed to create orders service", err)
		os.Exit(1)
	}

	inventorySvc, err := inventory.NewService(
		inventory.NewRepository(gormDB),
		dbClient,
		outboxSvc,
		logg,
		cfg.Settlement.LowStockThreshold,
	)
	if err != nil {
		logg.Error(context.Background(), "failed to create inventory service", err)
		os.Exit(1)
	}

	walletSvc, err := wallet.NewService(wallet.NewRepository(gormDB), payoutsRepo)
	if err != nil {
		logg.Error(context.Background(), "failed to create wallet service", err)
		os.Exit(1)
	}

	payoutsSvc, err := payouts.NewService(
		payoutsRepo,
		payoutAccounts,
		dbClient,
		outboxSvc,
		paypalClient,
		ordersRepo,
		refundsRepo,
		logg,
		cfg.Settlement.MaxDisbursementRetries,
	)
	if err != nil {
		logg.Error(context.Background(), "failed to create payouts service", err)
		os.Exit(1)
	}

	checkoutService, err := checkoutsvc.NewService(
		checkoutsvc.NewRepository(gormDB),
		ordersRepo,
		ordersSvc,
		productsRepo,
		inventorySvc,
		walletSvc,
		payoutsSvc,
		paypalClient,
		dbClient,
		outboxSvc,
		logg,
		cfg.Settlement,
	)
	if err != nil {
		logg.Error(context.Background(), "failed to create checkout service", err)
		os.Exit(1)
	}

	refundsService, err := refunds.NewService(
		refundsRepo,
		ordersRepo,
		payoutsRepo,
		walletSvc,
		inventorySvc,
		paypalClient,
		dbClient,
		outboxSvc,
		logg,
		cfg.Settlement.RefundWindow(),
	)
	if err != nil {
		logg.Error(context.Background(), "failed to create refunds service", err)
		os.Exit(1)
	}

	webhookGuard, err := idempotency.NewManager(redisClient, webhookDedupeTTL)
	if err != nil {
		logg.Error(context.Background(), "failed to create webhook dedupe guard", err)
		os.Exit(1)
	}

	webhookService, err := paypalwebhook.NewService(paypalwebhook.ServiceParams{
		Orders:            ordersRepo,
		Escrow:            payoutsRepo,
		Wallet:            walletSvc,
		Idempotency:       webhookGuard,
		TransactionRunner: dbClient,
		Outbox:            outboxSvc,
		Logger:            logg,
	})
	if err != nil {
		logg.Error(context.Background(), "failed to create webhook service", err)
		os.Exit(1)
	}

	port := os.Getenv("PORT")
	if port == "" {
		port = cfg.App.Port
	}
	addr := ":" + port
	ctx := logg.WithFields(context.Background(), map[string]any{
		"env":  cfg.App.Env,
		"addr": addr,
	})
	logg.Info(ctx, "starting api server")

	server := &http.Server{
		Addr: addr,
		Handler: routes.NewRouter(
			cfg,
			logg,
			dbClient,
			redisClient,
			checkoutService,
			ordersRepo,
			refundsService,
			paypalClient,
			webhookService,
		),
	}

	shutdown := make(chan os.Signal, 1)
	signal.Notify(shutdown, syscall.SIGINT, syscall.SIGTERM)

	errCh := make(chan error, 1)
	go func() {
		errCh <- server.ListenAndServe()
	}()

	select {
	case err := <-errCh:
		if err != nil && err != http.ErrServerClosed {
			logg.Error(ctx, "api server stopped unexpectedly", err)
			os.Exit(1)
		}
	case sig := <-shutdown:
		logg.Info(logg.WithField(ctx, "signal", sig.String()), "shutting down api server")
		stopCtx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
		defer cancel()
		if err := server.Shutdown(stopCtx); err != nil {
			logg.Error(ctx, "graceful shutdown failed", err)
		}
	}
}
