package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/coreos/go-systemd/v22/daemon"
	"go.uber.org/multierr"
	"go.uber.org/zap"

	"order-engine/internal/api"
	"order-engine/internal/events"
	applog "order-engine/internal/log"
	"order-engine/internal/monitor"
	"order-engine/internal/order"
	"order-engine/pkg/config"
	"order-engine/pkg/db"
	"order-engine/pkg/dex"
)

var buildVersion = "dev"

func main() {
	configPath := flag.String("config", "", "path to YAML config file")
	flag.Parse()

	if err := run(*configPath); err != nil {
		fmt.Fprintf(os.Stderr, "order-engine: %v\n", err)
		os.Exit(1)
	}
}

func run(configPath string) error {
	cfg, err := config.Load(configPath)
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}

	logger, err := applog.NewLogger(cfg.Logging)
	if err != nil {
		return fmt.Errorf("init logger: %w", err)
	}
	defer func() { _ = logger.Sync() }()

	logger.Info("starting order engine",
		zap.String("version", buildVersion),
		zap.String("environment", cfg.App.Environment),
		zap.String("port", cfg.Server.Port),
		zap.String("db_driver", cfg.Database.Driver),
		zap.String("db_path", cfg.Database.Path))

	database, err := db.Open(cfg.Database.Driver, cfg.Database.Path)
	if err != nil {
		return fmt.Errorf("open database: %w", err)
	}
	defer func() {
		if err := database.Close(); err != nil {
			logger.Error("close database", zap.Error(err))
		}
	}()
	if err := db.ApplyMigrations(database); err != nil {
		return fmt.Errorf("apply migrations: %w", err)
	}

	metrics := monitor.NewMetrics()
	publisher := events.NewPublisher(logger.Named("publisher"), metrics)

	profiles, err := dex.LoadProfiles(cfg.Venues.ProfilesPath)
	if err != nil {
		return err
	}
	providers, err := dex.NewSimProviders(cfg.Venues.Providers, profiles)
	if err != nil {
		return err
	}
	router, err := dex.NewRouter(logger.Named("router"), providers...)
	if err != nil {
		return err
	}

	store := order.NewSQLStore(database)
	executor := order.NewExecutor(store, router, publisher, logger.Named("executor"))
	retryPolicy := order.RetryPolicy{
		MaxRetries: cfg.Execution.MaxRetries,
		BaseDelay:  cfg.Execution.RetryDelay,
	}
	retrier := order.NewRetrier(executor, retryPolicy, logger.Named("retry"), metrics)

	queue := order.NewQueue(metrics)
	limiter := order.NewWindowLimiter(cfg.Queue.RateLimit, cfg.Queue.RateWindow)
	pool := order.NewAsyncExecutor(queue, limiter, retrier, cfg.Queue.Concurrency, logger.Named("pool"), metrics)
	service := order.NewService(store, queue, retryPolicy, logger.Named("intake"))

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	recovered, err := service.Recover(ctx)
	if err != nil {
		return fmt.Errorf("recover orders: %w", err)
	}
	logger.Info("dispatch queue ready",
		zap.Int("concurrency", cfg.Queue.Concurrency),
		zap.Int("rate_limit", cfg.Queue.RateLimit),
		zap.Duration("rate_window", cfg.Queue.RateWindow),
		zap.Int("max_retries", cfg.Execution.MaxRetries),
		zap.Duration("retry_delay", cfg.Execution.RetryDelay),
		zap.Strings("providers", router.Providers()),
		zap.Int("recovered", recovered))

	go func() {
		if err := pool.Run(ctx); err != nil && !errors.Is(err, context.Canceled) {
			logger.Error("dispatcher stopped", zap.Error(err))
		}
	}()
	go func() {
		for result := range pool.Results() {
			if !result.Success {
				logger.Error("order job crashed", zap.String("order_id", result.OrderID), zap.String("error", result.ErrorMsg))
			}
		}
	}()

	server := api.NewServer(service, publisher, metrics, api.SystemMeta{
		Version:     buildVersion,
		Environment: cfg.App.Environment,
		Providers:   router.Providers(),
	}, api.Options{MaxAttempts: retryPolicy.MaxAttempts()}, logger.Named("http"))

	serverErr := make(chan error, 1)
	go func() {
		serverErr <- server.Start(":" + cfg.Server.Port)
	}()

	if ok, err := daemon.SdNotify(false, daemon.SdNotifyReady); err != nil {
		logger.Warn("sd_notify ready failed", zap.Error(err))
	} else if ok {
		logger.Debug("notified systemd")
	}

	select {
	case <-ctx.Done():
		logger.Info("shutting down")
	case err := <-serverErr:
		if err != nil {
			logger.Error("http server failed", zap.Error(err))
		}
	}
	_, _ = daemon.SdNotify(false, daemon.SdNotifyStopping)

	shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.Server.ShutdownTimeout)
	defer cancel()

	var shutdownErr error
	if err := server.Shutdown(shutdownCtx); err != nil {
		logger.Error("http shutdown", zap.Error(err))
		shutdownErr = err
	}
	if err := pool.Close(shutdownCtx); err != nil {
		logger.Error("worker pool did not drain", zap.Error(err), zap.Int("in_flight", queue.InFlight()))
		shutdownErr = multierr.Append(shutdownErr, err)
	}
	logger.Info("shutdown complete", zap.Int("left_pending", queue.Len()))
	return shutdownErr
}
