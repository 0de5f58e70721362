package main

import (
	"context"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/joho/godotenv"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/angelmondragon/projecthub-backend/api/controllers"
	"github.com/angelmondragon/projecthub-backend/api/routes"
	checkoutsvc "github.com/angelmondragon/projecthub-backend/internal/checkout"
	"github.com/angelmondragon/projecthub-backend/internal/customrequests"
	"github.com/angelmondragon/projecthub-backend/internal/downloads"
	"github.com/angelmondragon/projecthub-backend/internal/payments"
	"github.com/angelmondragon/projecthub-backend/internal/purchases"
	"github.com/angelmondragon/projecthub-backend/internal/reconciliation"
	"github.com/angelmondragon/projecthub-backend/internal/transactions"
	stripewebhook "github.com/angelmondragon/projecthub-backend/internal/webhooks/stripe"
	"github.com/angelmondragon/projecthub-backend/pkg/config"
	"github.com/angelmondragon/projecthub-backend/pkg/db"
	"github.com/angelmondragon/projecthub-backend/pkg/logger"
	"github.com/angelmondragon/projecthub-backend/pkg/metrics"
	"github.com/angelmondragon/projecthub-backend/pkg/migrate"
	"github.com/angelmondragon/projecthub-backend/pkg/outbox"
	"github.com/angelmondragon/projecthub-backend/pkg/redis"
	"github.com/angelmondragon/projecthub-backend/pkg/storage/gcs"
	pkgstripe "github.com/angelmondragon/projecthub-backend/pkg/stripe"
)

const (
	webhookIdempotencyScope = "stripe-webhook"
	shutdownTimeout         = 15 * time.Second
)

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

	gcsClient, err := gcs.NewClient(context.Background(), cfg.GCS, cfg.GCP, logg)
	if err != nil {
		logg.Error(context.Background(), "failed to bootstrap gcs", err)
		os.Exit(1)
	}
	defer func() {
		if err := gcsClient.Close(); err != nil {
			logg.Error(context.Background(), "error closing gcs client", err)
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

	registry := prometheus.NewRegistry()
	registry.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	paymentMetrics := metrics.NewPaymentMetrics(registry)

	outboxService := outbox.NewService(outbox.NewRepository(dbClient.DB()), logg)

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

	checkoutService, err := checkoutsvc.NewService(checkoutsvc.ServiceParams{
		Provider:        provider,
		Ledger:          ledger,
		DefaultCurrency: stripeClient.Currency(),
		Logger:          logg,
	})
	if err != nil {
		logg.Error(context.Background(), "failed to create checkout service", err)
		os.Exit(1)
	}

	downloadService, err := downloads.NewService(downloads.ServiceParams{
		DB:           dbClient,
		Repo:         downloads.NewRepository(dbClient.DB()),
		Purchases:    purchaseService,
		Store:        gcsClient,
		Metrics:      paymentMetrics,
		Logger:       logg,
		BaseURL:      cfg.App.PublicBaseURL,
		TTLHours:     cfg.Entitlements.TokenTTLHours,
		MaxTTLHours:  cfg.Entitlements.MaxTokenTTLHours,
		MaxDownloads: cfg.Entitlements.MaxDownloads,
	})
	if err != nil {
		logg.Error(context.Background(), "failed to create download service", err)
		os.Exit(1)
	}

	webhookGuard, err := stripewebhook.NewIdempotencyGuard(redisClient, cfg.Webhook.IdempotencyTTL, webhookIdempotencyScope)
	if err != nil {
		logg.Error(context.Background(), "failed to create webhook guard", err)
		os.Exit(1)
	}
	webhookService, err := stripewebhook.NewService(stripewebhook.ServiceParams{
		Verifier: provider,
		Handler:  reconciler,
		Guard:    webhookGuard,
		Logger:   logg,
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
		"env":        cfg.App.Env,
		"addr":       addr,
		"stripe_env": stripeClient.Environment(),
	})

	server := &http.Server{
		Addr:              addr,
		ReadHeaderTimeout: 10 * time.Second,
		Handler: routes.NewRouter(routes.Dependencies{
			Config: cfg,
			Logger: logg,
			Readiness: map[string]controllers.Pinger{
				"db":    dbClient,
				"redis": redisClient,
			},
			Idempotency:    redisClient,
			RateLimiter:    redisClient,
			Checkout:       checkoutService,
			Reconciler:     reconciler,
			Ledger:         ledger,
			Purchases:      purchaseService,
			Downloads:      downloadService,
			Webhooks:       webhookService,
			MetricsHandler: promhttp.HandlerFor(registry, promhttp.HandlerOpts{Registry: registry}),
		}),
	}

	sigCtx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	serveErr := make(chan error, 1)
	go func() {
		logg.Info(ctx, "starting api server")
		serveErr <- server.ListenAndServe()
	}()

	select {
	case err := <-serveErr:
		if err != nil && !errors.Is(err, http.ErrServerClosed) {
			logg.Error(ctx, "api server stopped unexpectedly", err)
			os.Exit(1)
		}
	case <-sigCtx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()
		if err := server.Shutdown(shutdownCtx); err != nil {
			logg.Error(ctx, "api server shutdown failed", err)
		}
		logg.Info(ctx, "api server shut down gracefully")
	}
}
