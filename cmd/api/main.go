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
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"golang.org/x/sync/errgroup"

	"github.com/angelmondragon/pixpay-backend/api/controllers"
	"github.com/angelmondragon/pixpay-backend/api/routes"
	"github.com/angelmondragon/pixpay-backend/internal/fees"
	"github.com/angelmondragon/pixpay-backend/internal/payments"
	"github.com/angelmondragon/pixpay-backend/internal/transactions"
	openpixwebhook "github.com/angelmondragon/pixpay-backend/internal/webhooks/openpix"
	"github.com/angelmondragon/pixpay-backend/pkg/config"
	"github.com/angelmondragon/pixpay-backend/pkg/db"
	"github.com/angelmondragon/pixpay-backend/pkg/logger"
	"github.com/angelmondragon/pixpay-backend/pkg/metrics"
	"github.com/angelmondragon/pixpay-backend/pkg/migrate"
	"github.com/angelmondragon/pixpay-backend/pkg/openpix"
	"github.com/angelmondragon/pixpay-backend/pkg/outbox"
	"github.com/angelmondragon/pixpay-backend/pkg/redis"
)

const shutdownTimeout = 15 * time.Second

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
		ServiceName: cfg.Service.Name,
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

	provider, err := openpix.NewClient(context.Background(), cfg.OpenPix, logg)
	if err != nil {
		logg.Error(context.Background(), "failed to create openpix client", err)
		os.Exit(1)
	}

	sqlDB, err := dbClient.DB().DB()
	if err != nil {
		logg.Error(context.Background(), "failed to extract sql database", err)
		os.Exit(1)
	}
	migrator, err := migrate.New(sqlDB, "")
	if err != nil {
		logg.Error(context.Background(), "failed to create migrator", err)
		os.Exit(1)
	}

	paymentMetrics := metrics.NewPaymentMetrics(prometheus.DefaultRegisterer)
	txRepo := transactions.NewRepository(dbClient.DB())
	outboxService := outbox.NewService(outbox.NewRepository(dbClient.DB()), logg)

	paymentsService, err := payments.NewService(payments.ServiceParams{
		Fees:              fees.NewCalculatorFromConfig(cfg.Fees),
		Provider:          provider,
		Repo:              txRepo,
		TransactionRunner: dbClient,
		Outbox:            outboxService,
		Logger:            logg,
		Metrics:           paymentMetrics,
	})
	if err != nil {
		logg.Error(context.Background(), "failed to create payments service", err)
		os.Exit(1)
	}

	guard, err := openpixwebhook.NewDeliveryGuard(redisClient, "openpix", cfg.Webhooks.DedupeTTL)
	if err != nil {
		logg.Error(context.Background(), "failed to create webhook guard", err)
		os.Exit(1)
	}
	webhookService, err := openpixwebhook.NewService(openpixwebhook.ServiceParams{
		Repo:              txRepo,
		TransactionRunner: dbClient,
		Outbox:            outboxService,
		Logger:            logg,
		Metrics:           paymentMetrics,
		Guard:             guard,
	})
	if err != nil {
		logg.Error(context.Background(), "failed to create openpix webhook service", err)
		os.Exit(1)
	}

	port := os.Getenv("PORT")
	if port == "" {
		port = cfg.App.Port
	}
	addr := ":" + port
	id := os.Getenv("DYNO")
	if id == "" {
		id = "local"
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()
	ctx = logg.WithFields(ctx, map[string]any{
		"env":      cfg.App.Env,
		"addr":     addr,
		"instance": id,
	})
	logg.Info(ctx, "starting api server")

	server := &http.Server{
		Addr:              addr,
		Handler:           routes.NewRouter(cfg, logg, readiness(dbClient, migrator), redisClient, paymentsService, webhookService, promhttp.Handler()),
		ReadHeaderTimeout: 10 * time.Second,
	}

	group, groupCtx := errgroup.WithContext(ctx)
	group.Go(func() error {
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	})
	group.Go(func() error {
		<-groupCtx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()
		return server.Shutdown(shutdownCtx)
	})

	if err := group.Wait(); err != nil {
		logg.Error(ctx, "api server stopped unexpectedly", err)
		os.Exit(1)
	}
	logg.Info(ctx, "api server shut down gracefully")
}

func readiness(dbClient *db.Client, migrator *migrate.Migrator) map[string]controllers.Pinger {
	return map[string]controllers.Pinger{
		"database": dbClient,
		"schema":   migrator,
	}
}
