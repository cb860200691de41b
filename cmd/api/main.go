package main

import (
	"context"
	"net/http"
	"os"

	"github.com/joho/godotenv"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"

	"github.com/pagemint/pagemint-backend/api/routes"
	"github.com/pagemint/pagemint-backend/internal/billing"
	"github.com/pagemint/pagemint-backend/internal/credits"
	"github.com/pagemint/pagemint-backend/internal/ledger"
	"github.com/pagemint/pagemint-backend/internal/usage"
	stripewebhook "github.com/pagemint/pagemint-backend/internal/webhooks/stripe"
	"github.com/pagemint/pagemint-backend/pkg/config"
	"github.com/pagemint/pagemint-backend/pkg/db"
	"github.com/pagemint/pagemint-backend/pkg/logger"
	"github.com/pagemint/pagemint-backend/pkg/metrics"
	"github.com/pagemint/pagemint-backend/pkg/migrate"
	"github.com/pagemint/pagemint-backend/pkg/redis"
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

	registry := prometheus.NewRegistry()
	registry.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	creditMetrics := metrics.NewCreditMetrics(registry)

	ledgerRepo := ledger.NewRepository(dbClient.DB())
	usageRepo := usage.NewRepository(dbClient.DB())

	ledgerService, err := ledger.NewService(ledgerRepo, redisClient, cfg.Credits.DisplayBalanceTTL, logg)
	if err != nil {
		logg.Error(context.Background(), "failed to create ledger service", err)
		os.Exit(1)
	}

	creditEngine, err := credits.NewEngine(dbClient, ledgerRepo, usageRepo, ledgerService, creditMetrics, logg)
	if err != nil {
		logg.Error(context.Background(), "failed to create credit engine", err)
		os.Exit(1)
	}

	billingService, err := billing.NewService(billing.ServiceParams{
		Repo: billing.NewRepository(dbClient.DB()),
	})
	if err != nil {
		logg.Error(context.Background(), "failed to create billing service", err)
		os.Exit(1)
	}

	webhookService, err := stripewebhook.NewService(stripewebhook.ServiceParams{
		Billing: billingService,
		Engine:  creditEngine,
		Logger:  logg,
	})
	if err != nil {
		logg.Error(context.Background(), "failed to create stripe webhook service", err)
		os.Exit(1)
	}

	webhookGuard, err := stripewebhook.NewIdempotencyGuard(redisClient, cfg.Credits.WebhookIdempotencyTTL, "stripe-webhook")
	if err != nil {
		logg.Error(context.Background(), "failed to create webhook idempotency guard", err)
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
		Handler: routes.NewRouter(routes.RouterParams{
			Config:        cfg,
			Logger:        logg,
			DB:            dbClient,
			Cache:         redisClient,
			CreditEngine:  creditEngine,
			LedgerService: ledgerService,
			UsageRepo:     usageRepo,
			Billing:       billingService,
			Webhooks:      webhookService,
			WebhookGuard:  webhookGuard,
			Registry:      registry,
		}),
	}

	if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		logg.Error(ctx, "api server stopped unexpectedly", err)
		os.Exit(1)
	}
}
