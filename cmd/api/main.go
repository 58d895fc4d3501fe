package main

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"os/signal"
	"syscall"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/joho/godotenv"
	"github.com/redis/go-redis/v9"

	"github.com/linyora/settlement/internal/config"
	"github.com/linyora/settlement/internal/infra"
	"github.com/linyora/settlement/internal/jobs"
	"github.com/linyora/settlement/internal/logging"
	"github.com/linyora/settlement/internal/metrics"
	"github.com/linyora/settlement/internal/server"
)

func main() {
	// A .env file is optional; the real environment wins over it.
	if err := godotenv.Load(); err != nil && !errors.Is(err, fs.ErrNotExist) {
		fmt.Fprintf(os.Stderr, "load .env: %v\n", err)
		os.Exit(1)
	}

	cfg, err := config.Load()
	if err != nil {
		fmt.Fprintf(os.Stderr, "load config: %v\n", err)
		os.Exit(1)
	}

	logger := logging.Service(logging.New(cfg.LogLevel), cfg.AppName, cfg.AppEnv)

	ctx := context.Background()

	var db *pgxpool.Pool
	if cfg.DatabaseURL != "" {
		if cfg.RunMigrations {
			if err := infra.MigrateSchema(cfg.DatabaseURL, logger); err != nil {
				logger.Error("migrate schema", "error", err)
				os.Exit(1)
			}
		}
		db, err = infra.NewPostgresPool(ctx, cfg.DatabaseURL, cfg.DatabaseConns)
		if err != nil {
			logger.Error("connect postgres", "error", err)
			os.Exit(1)
		}
		defer db.Close()
		if cfg.RunMigrations {
			if err := infra.MigrateRiver(ctx, db, logger); err != nil {
				logger.Error("migrate river", "error", err)
				os.Exit(1)
			}
		}
	}

	var cache *redis.Client
	if cfg.RedisURL != "" {
		cache, err = infra.NewRedisClient(ctx, cfg.RedisURL, cfg.AppName)
		if err != nil {
			logger.Error("connect redis", "error", err)
			os.Exit(1)
		}
		defer func() {
			if err := cache.Close(); err != nil {
				logger.Warn("close redis", "error", err)
			}
		}()
	}

	m := metrics.New()
	srv, err := server.New(cfg, db, cache, m, logger)
	if err != nil {
		logger.Error("build server", "error", err)
		os.Exit(1)
	}

	schedule := jobs.Schedule{Clearance: cfg.ClearanceSchedule, OutboxDrain: cfg.OutboxDrainInterval}
	services := srv.Services()
	var stopJobs func(context.Context) error
	if db != nil {
		riverClient, err := jobs.NewRiverClient(db, services.Clearance, services.Dispatcher, schedule, m, logger)
		if err != nil {
			logger.Error("build job client", "error", err)
			os.Exit(1)
		}
		if err := riverClient.Start(ctx); err != nil {
			logger.Error("start job client", "error", err)
			os.Exit(1)
		}
		stopJobs = riverClient.Stop
	} else {
		scheduler, err := jobs.NewScheduler(services.Clearance, services.Dispatcher, schedule, m, logger)
		if err != nil {
			logger.Error("build scheduler", "error", err)
			os.Exit(1)
		}
		scheduler.Start()
		stopJobs = scheduler.Stop
	}

	srvErrCh := make(chan error, 1)
	go func() {
		srvErrCh <- srv.Listen()
	}()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)

	select {
	case sig := <-sigCh:
		logger.Info("shutdown signal received", "signal", sig.String())
	case err := <-srvErrCh:
		if err != nil {
			logger.Error("server error", "error", err)
			os.Exit(1)
		}
		return
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.ShutdownPeriod)
	defer cancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		logger.Error("shutdown error", "error", err)
	}
	if err := stopJobs(shutdownCtx); err != nil {
		logger.Error("stop background jobs", "error", err)
	}

	logger.Info("server exited cleanly")
}
