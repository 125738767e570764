package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/joho/godotenv"
	"github.com/prometheus/client_golang/prometheus"
	"golang.org/x/sync/errgroup"

	"github.com/angelmondragon/pixpay-backend/internal/cron"
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

const serviceKind = "cron-worker"

func main() {
	logg := logger.New(logger.Options{ServiceName: serviceKind})
	if err := godotenv.Load(); err != nil {
		logg.Warn(context.Background(), ".env file not found, relying on environment")
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := run(ctx); err != nil && !errors.Is(err, context.Canceled) {
		logg.Error(ctx, "cron worker stopped unexpectedly", err)
		os.Exit(1)
	}
	logg.Info(ctx, "cron worker shut down gracefully")
}

func run(ctx context.Context) error {
	cfg, err := config.Load()
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}
	cfg.Service.Kind = serviceKind

	logg := logger.New(logger.Options{
		ServiceName: serviceKind,
		Level:       logger.ParseLevel(cfg.App.LogLevel),
		WarnStack:   cfg.App.LogWarnStack,
	})

	dbClient, err := db.New(ctx, cfg.DB, logg)
	if err != nil {
		return fmt.Errorf("bootstrap database: %w", err)
	}
	defer closeWithLog(logg, "database", dbClient.Close)

	if err := migrate.MaybeRunDev(ctx, cfg, logg, dbClient); err != nil {
		return fmt.Errorf("dev migrations: %w", err)
	}

	redisClient, err := redis.New(ctx, cfg.Redis, logg)
	if err != nil {
		return fmt.Errorf("bootstrap redis: %w", err)
	}
	defer closeWithLog(logg, "redis", redisClient.Close)

	provider, err := openpix.NewClient(ctx, cfg.OpenPix, logg)
	if err != nil {
		return fmt.Errorf("create openpix client: %w", err)
	}

	cronMetrics := metrics.NewCronJobMetrics(prometheus.DefaultRegisterer)
	txRepo := transactions.NewRepository(dbClient.DB())
	outboxRepo := outbox.NewRepository(dbClient.DB())

	reconciler, err := openpixwebhook.NewService(openpixwebhook.ServiceParams{
		Repo:              txRepo,
		TransactionRunner: dbClient,
		Outbox:            outbox.NewService(outboxRepo, logg),
		Logger:            logg,
		Metrics:           metrics.NewPaymentMetrics(prometheus.DefaultRegisterer),
	})
	if err != nil {
		return fmt.Errorf("create reconciler: %w", err)
	}

	sweepJob, err := cron.NewPendingChargeSweepJob(cron.PendingChargeSweepJobParams{
		Logger:     logg,
		Repository: txRepo,
		Provider:   provider,
		Reconciler: reconciler,
		Metrics:    cronMetrics,
		PendingAge: cfg.Sweep.PendingAge,
		BatchSize:  cfg.Sweep.BatchSize,
	})
	if err != nil {
		return fmt.Errorf("create pending sweep job: %w", err)
	}
	retentionJob, err := cron.NewOutboxRetentionJob(cron.OutboxRetentionJobParams{
		Logger:      logg,
		DB:          dbClient,
		Repository:  outboxRepo,
		Metrics:     cronMetrics,
		Retention:   cfg.Outbox.RetentionAge,
		MinAttempts: cfg.Outbox.MaxAttempts,
	})
	if err != nil {
		return fmt.Errorf("create outbox retention job: %w", err)
	}

	lock, err := cron.NewRedisLock(redisClient, redisClient.LockKey(serviceKind+":"+envOrLocal(cfg.App.Env)), 2*cfg.Sweep.Interval)
	if err != nil {
		return fmt.Errorf("create cron lock: %w", err)
	}
	service, err := cron.NewService(cron.ServiceParams{
		Logger: logg,
		Registry: cron.NewRegistry(
			cron.Schedule{Job: sweepJob, Every: cfg.Sweep.Interval},
			cron.Schedule{Job: retentionJob, Every: cfg.Outbox.RetentionInterval},
		),
		Lock:    lock,
		Metrics: cronMetrics,
	})
	if err != nil {
		return fmt.Errorf("create cron service: %w", err)
	}

	ctx = logg.WithFields(ctx, map[string]any{
		"env":         cfg.App.Env,
		"serviceKind": serviceKind,
	})
	logg.Info(ctx, "starting cron worker")

	group, groupCtx := errgroup.WithContext(ctx)
	group.Go(func() error { return service.Run(groupCtx) })
	group.Go(func() error { return metrics.Serve(groupCtx, cfg.App.MetricsAddr, prometheus.DefaultGatherer, logg) })
	return group.Wait()
}

func envOrLocal(env string) string {
	if env == "" {
		return "local"
	}
	return env
}

func closeWithLog(logg *logger.Logger, name string, closeFn func() error) {
	if err := closeFn(); err != nil {
		logg.Error(context.Background(), "error closing "+name, err)
	}
}
