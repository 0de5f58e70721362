package main

import (
	"context"
	"errors"
	"os"
	"os/signal"
	"syscall"

	"github.com/joho/godotenv"
	"github.com/prometheus/client_golang/prometheus"

	"github.com/angelmondragon/projecthub-backend/internal/cron"
	"github.com/angelmondragon/projecthub-backend/internal/customrequests"
	"github.com/angelmondragon/projecthub-backend/internal/payments"
	"github.com/angelmondragon/projecthub-backend/internal/purchases"
	"github.com/angelmondragon/projecthub-backend/internal/reconciliation"
	"github.com/angelmondragon/projecthub-backend/internal/transactions"
	"github.com/angelmondragon/projecthub-backend/pkg/config"
	"github.com/angelmondragon/projecthub-backend/pkg/db"
	"github.com/angelmondragon/projecthub-backend/pkg/logger"
	"github.com/angelmondragon/projecthub-backend/pkg/metrics"
	"github.com/angelmondragon/projecthub-backend/pkg/migrate"
	"github.com/angelmondragon/projecthub-backend/pkg/outbox"
	"github.com/angelmondragon/projecthub-backend/pkg/redis"
	pkgstripe "github.com/angelmondragon/projecthub-backend/pkg/stripe"
)

const lockName = "cron-worker"

func main() {
	logg := logger.New(logger.Options{ServiceName: "cron-worker"})

	if err := godotenv.Load(); err != nil {
		logg.Warn(context.Background(), ".env file not found, relying on environment")
	}

	cfg, err := config.Load()
	if err != nil {
		logg.Error(context.Background(), "failed to load config", err)
		os.Exit(1)
	}

	cfg.Service.Kind = "cron-worker"

	logg = logger.New(logger.Options{
		ServiceName: "cron-worker",
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

	stripeClient, err := pkgstripe.NewClient(context.Background(), cfg.Stripe, logg)
	if err != nil {
		logg.Error(context.Background(), "failed to bootstrap stripe", err)
		os.Exit(1)
	}
	provider, err := payments.NewStripeProvider(payments.StripeProviderParams{Client: stripeClient})
	if err != nil {
		logg.Error(context.Background(), "failed to create payment provider", err)
		os.Exit(1)
	}

	cronMetrics := metrics.NewCronJobMetrics(prometheus.DefaultRegisterer)
	paymentMetrics := metrics.NewPaymentMetrics(prometheus.DefaultRegisterer)

	outboxRepo := outbox.NewRepository(dbClient.DB())
	outboxService := outbox.NewService(outboxRepo, logg)

	ledger, err := transactions.NewService(transactions.ServiceParams{
		Repo:   transactions.NewRepository(dbClient.DB()),
		Logger: logg,
	})
	if err != nil {
		logg.Error(context.Background(), "failed to create transaction ledger", err)
		os.Exit(1)
	}
	purchaseService, err := purchases.NewService(purchases.ServiceParams{
		DB:               dbClient,
		Repo:             purchases.NewRepository(dbClient.DB()),
		Outbox:           outboxService,
		Logger:           logg,
		DefaultDownloads: cfg.Entitlements.DefaultDownloads,
	})
	if err != nil {
		logg.Error(context.Background(), "failed to create purchase service", err)
		os.Exit(1)
	}
	customRequestService, err := customrequests.NewService(customrequests.ServiceParams{
		Repo:   customrequests.NewRepository(dbClient.DB()),
		Outbox: outboxService,
		Logger: logg,
	})
	if err != nil {
		logg.Error(context.Background(), "failed to create custom request service", err)
		os.Exit(1)
	}
	reconciler, err := reconciliation.NewController(reconciliation.ControllerParams{
		DB:             dbClient,
		Provider:       provider,
		Ledger:         ledger,
		Purchases:      purchaseService,
		CustomRequests: customRequestService,
		Outbox:         outboxService,
		Metrics:        paymentMetrics,
		Logger:         logg,
	})
	if err != nil {
		logg.Error(context.Background(), "failed to create reconciliation controller", err)
		os.Exit(1)
	}

	staleJob, err := cron.NewStalePendingJob(cron.StalePendingJobParams{
		Logger:     logg,
		Ledger:     ledger,
		Reconciler: reconciler,
		StaleAfter: cfg.Reconcile.StaleAfter,
		BatchSize:  cfg.Reconcile.BatchSize,
	})
	if err != nil {
		logg.Error(context.Background(), "failed to create stale pending job", err)
		os.Exit(1)
	}
	retentionJob, err := cron.NewOutboxRetentionJob(cron.OutboxRetentionJobParams{
		Logger:        logg,
		DB:            dbClient,
		Repository:    outboxRepo,
		RetentionDays: cfg.Outbox.RetentionDays,
		MaxAttempts:   cfg.Outbox.MaxAttempts,
	})
	if err != nil {
		logg.Error(context.Background(), "failed to create outbox retention job", err)
		os.Exit(1)
	}

	lock, err := cron.NewRedisLock(redisClient, redisClient.LockKey(lockName), cfg.Cron.LockTTL)
	if err != nil {
		logg.Error(context.Background(), "failed to create cron lock", err)
		os.Exit(1)
	}

	service, err := cron.NewService(cron.ServiceParams{
		Logger:   logg,
		Registry: cron.NewRegistry(staleJob, retentionJob),
		Lock:     lock,
		Metrics:  cronMetrics,
		Interval: cfg.Cron.Interval,
	})
	if err != nil {
		logg.Error(context.Background(), "failed to create cron service", err)
		os.Exit(1)
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()
	ctx = logg.WithFields(ctx, map[string]any{
		"env":         cfg.App.Env,
		"serviceKind": cfg.Service.Kind,
		"interval":    cfg.Cron.Interval.String(),
	})
	logg.Info(ctx, "starting cron worker")

	if err := service.Run(ctx); err != nil && !errors.Is(err, context.Canceled) {
		logg.Error(ctx, "cron worker stopped unexpectedly", err)
		os.Exit(1)
	}

	logg.Info(ctx, "cron worker shutting down gracefully")
}
