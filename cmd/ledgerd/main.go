package main

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/hibiken/asynq"

	"github.com/odyssey-erp/odyssey-ledger/internal/accounting"
	"github.com/odyssey-erp/odyssey-ledger/internal/accounting/cache"
	"github.com/odyssey-erp/odyssey-ledger/internal/accounting/composer"
	"github.com/odyssey-erp/odyssey-ledger/internal/accounting/httpapi"
	"github.com/odyssey-erp/odyssey-ledger/internal/app"
	"github.com/odyssey-erp/odyssey-ledger/internal/observability"
	platformcache "github.com/odyssey-erp/odyssey-ledger/internal/platform/cache"
	"github.com/odyssey-erp/odyssey-ledger/internal/platform/db"
	"github.com/odyssey-erp/odyssey-ledger/jobs"
)

func main() {
	if app.InTestMode() {
		slog.Default().Info("test mode detected, skipping ledger host startup")
		return
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	cfg, err := app.LoadConfig()
	if err != nil {
		slog.Default().Error("load config", slog.Any("error", err))
		os.Exit(1)
	}
	logger := app.NewLogger(cfg)
	slog.SetDefault(logger)

	pool, err := db.New(ctx, cfg.PGDSN, db.PoolOptions{})
	if err != nil {
		logger.Error("connect database", slog.Any("error", err))
		os.Exit(1)
	}
	defer pool.Close()

	if err := accounting.Migrate(ctx, pool); err != nil {
		logger.Error("migrate ledger schema", slog.Any("error", err))
		os.Exit(1)
	}

	metrics := observability.NewMetrics()
	deps := app.LedgerDeps{
		Repo:      accounting.NewRepository(pool),
		Directory: composer.NewPgDirectory(pool),
		Metrics:   metrics.Ledger(),
		Logger:    logger,
	}

	redisClient, err := platformcache.New(ctx, cfg.RedisAddr)
	if err != nil {
		logger.Warn("redis unavailable, balance cache disabled", slog.Any("error", err))
	} else {
		defer func() {
			if err := redisClient.Close(); err != nil {
				logger.Warn("redis close", slog.Any("error", err))
			}
		}()
		balances := cache.NewBalanceCache(redisClient, cfg.Ledger.BalanceCacheTTL)
		deps.Cache = balances
		deps.Notifier = balances
		trackGLVersion(ctx, balances, metrics.Ledger(), logger)
	}

	ledgerSvc, err := app.NewLedger(cfg, deps)
	if err != nil {
		logger.Error("init ledger", slog.Any("error", err))
		os.Exit(1)
	}

	inspector := asynq.NewInspector(asynq.RedisClientOpt{Addr: cfg.RedisAddr})
	defer func() {
		if err := inspector.Close(); err != nil {
			logger.Warn("inspector close", slog.Any("error", err))
		}
	}()

	router := app.NewRouter(app.RouterParams{
		Logger:        logger,
		Config:        cfg,
		LedgerHandler: httpapi.NewHandler(ledgerSvc, logger, httpapi.Options{WriteLimit: cfg.Ledger.WriteRateLimit}),
		JobHandler:    jobs.NewHandler(inspector, logger),
		Metrics:       metrics,
		Database:      pool,
	})

	server := &http.Server{
		Addr:         cfg.AppAddr,
		Handler:      router,
		ReadTimeout:  cfg.AppReadTimeout,
		WriteTimeout: cfg.AppWriteTimeout,
	}

	go func() {
		logger.Info("starting ledger http server", slog.String("addr", cfg.AppAddr))
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Error("http server", slog.Any("error", err))
			stop()
		}
	}()

	<-ctx.Done()
	logger.Info("shutting down")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := server.Shutdown(shutdownCtx); err != nil {
		logger.Error("graceful shutdown", slog.Any("error", err))
	}
}

// trackGLVersion exports the ledger version, including bumps published by the worker.
func trackGLVersion(ctx context.Context, balances *cache.BalanceCache, ledgerMetrics *observability.LedgerMetrics, logger *slog.Logger) {
	if version, err := balances.Version(ctx); err == nil {
		ledgerMetrics.SetGLVersion(version)
	}
	if err := balances.ListenForBumps(ctx, ledgerMetrics.SetGLVersion); err != nil {
		logger.Warn("subscribe ledger bumps", slog.Any("error", err))
	}
}
