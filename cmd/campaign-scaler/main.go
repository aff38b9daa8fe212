package main

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/radiusdt/campaign-scaler/internal/config"
	"github.com/radiusdt/campaign-scaler/internal/database"
	"github.com/radiusdt/campaign-scaler/internal/httpserver"
	"github.com/radiusdt/campaign-scaler/internal/metrics"
	"github.com/radiusdt/campaign-scaler/internal/middleware"
	"github.com/radiusdt/campaign-scaler/internal/platform"
	"github.com/radiusdt/campaign-scaler/internal/scaling"
	"github.com/radiusdt/campaign-scaler/internal/storage"
	"github.com/radiusdt/campaign-scaler/internal/trigger"
	"go.uber.org/zap"
)

func main() {
	// Load configuration
	cfg, err := config.Load()
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to load config: %v\n", err)
		os.Exit(1)
	}

	// Setup logger
	logger, err := middleware.NewLogger(cfg.Log.Level, cfg.Log.Format)
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to create logger: %v\n", err)
		os.Exit(1)
	}
	defer logger.Sync()

	logger.Info("starting campaign scaler",
		zap.String("env", cfg.Server.Env),
		zap.String("addr", cfg.Server.Addr),
		zap.String("timezone", cfg.Cron.Location().String()),
	)

	ctx := context.Background()
	m := metrics.NewMetrics("scaler", nil)
	checks := make(map[string]httpserver.HealthCheck)

	// Record store
	var (
		ruleRepo     storage.RuleRepo
		scheduleRepo storage.ScheduleRepo
		credRepo     storage.CredentialRepo
		recordLogs   storage.LogStore
	)
	db, err := database.NewPostgresDB(ctx, cfg.Database, logger)
	if err != nil {
		if cfg.IsProduction() {
			logger.Fatal("record store unavailable", zap.Error(err))
		}
		logger.Warn("PostgreSQL not available, using in-memory storage", zap.Error(err))
		ruleRepo = storage.NewInMemoryRuleRepo()
		scheduleRepo = storage.NewInMemoryScheduleRepo()
		recordLogs = storage.NewInMemoryLogStore()
	} else {
		defer db.Close()
		if cfg.Database.AutoMigrate {
			if err := storage.ApplySchema(ctx, db.Pool); err != nil {
				logger.Fatal("failed to apply schema", zap.Error(err))
			}
			logger.Info("record store schema applied")
		}
		ruleRepo = storage.NewPostgresRuleRepo(db.Pool)
		scheduleRepo = storage.NewPostgresScheduleRepo(db.Pool)
		credRepo = storage.NewPostgresCredentialRepo(db.Pool)
		recordLogs = storage.NewPostgresExecutionLogRepo(db.Pool)
		checks["record_store"] = db.Health
	}

	// Metrics log store. /rule-logs falls back to the record store when
	// ClickHouse is disabled or unreachable.
	var (
		metricsLogs storage.ExecutionLogWriter
		logReader   storage.ExecutionLogReader = recordLogs
	)
	if cfg.ClickHouse.Enabled {
		ch, err := database.NewClickHouseDB(ctx, cfg.ClickHouse, logger)
		if err != nil {
			logger.Warn("ClickHouse not available, execution logs go to the record store only", zap.Error(err))
		} else {
			defer ch.Close()
			store := storage.NewClickHouseLogStore(ch.Conn, cfg.ClickHouse.Table, cfg.ClickHouse.TTLDays, logger)
			metricsLogs = store
			logReader = store
			checks["metrics_log_store"] = ch.Health
		}
	}

	// Locks
	var locker scaling.Locker = scaling.NewLocalLocker()
	if cfg.Redis.Enabled {
		rdb, err := database.NewRedisDB(ctx, cfg.Redis, logger)
		if err != nil {
			logger.Warn("Redis not available, using in-process locks", zap.Error(err))
		} else {
			defer rdb.Close()
			locker = scaling.NewRedisLocker(rdb.Client, "")
			checks["redis"] = rdb.Health
		}
	}

	// Scaling engine
	client := platform.NewClient(cfg.Platform, logger, m)
	creds := scaling.NewCredentialProvider(cfg.Platform, credRepo)
	executor := scaling.NewExecutor(client, cfg.Engine.MinDailyBudget, scaling.RetryPolicy{
		Attempts: cfg.Engine.RetryAttempts,
		Delay:    cfg.Engine.RetryDelay,
	}, logger, m)

	rules := &scaling.RuleRunner{
		Rules:     scaling.NewRuleResolver(ruleRepo, cfg.Cron.Location(), cfg.Cron.MidnightHour, logger),
		Campaigns: scaling.NewCampaignResolver(client, logger),
		Evaluator: scaling.NewEvaluator(client, cfg.Engine.PurchaseActionType, cfg.Cron.Location()),
		Executor:  executor,
		Logs:      scaling.NewDualLogger(recordLogs, metricsLogs, logger, m),
		Creds:     creds,
		Locker:    locker,
		LockTTL:   cfg.Engine.LockTTL,
		Logger:    logger,
		Metrics:   m,
	}
	schedules := &scaling.ScheduleRunner{
		Repo:     scheduleRepo,
		Platform: client,
		Executor: executor,
		Creds:    creds,
		Locker:   locker,
		ClaimTTL: cfg.Engine.LockTTL,
		Logger:   logger,
		Metrics:  m,
	}

	// Cron triggers
	if cfg.Cron.Enabled {
		scheduler, err := trigger.NewScheduler(cfg.Cron, rules, schedules, logger)
		if err != nil {
			logger.Fatal("failed to create cron triggers", zap.Error(err))
		}
		scheduler.Start()
		defer func() {
			stopCtx, cancel := context.WithTimeout(context.Background(), cfg.Server.ShutdownTimeout)
			defer cancel()
			scheduler.Stop(stopCtx)
		}()
	}

	// Create HTTP server
	handler := httpserver.NewServer(&httpserver.Dependencies{
		Rules:     rules,
		Schedules: schedules,
		Logs:      logReader,
		Checks:    checks,
		Config:    cfg,
		Logger:    logger,
		Metrics:   m,
	})

	srv := &http.Server{
		Addr:        cfg.Server.Addr,
		Handler:     handler,
		ReadTimeout: 15 * time.Second,
		// Manual sweeps run synchronously and can take minutes.
		WriteTimeout: 15 * time.Minute,
		IdleTimeout:  60 * time.Second,
	}

	// Start server in goroutine
	go func() {
		logger.Info("HTTP server listening", zap.String("addr", cfg.Server.Addr))
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Fatal("server failed", zap.Error(err))
		}
	}()

	// Wait for interrupt signal
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	logger.Info("shutting down server...")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.Server.ShutdownTimeout)
	defer cancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		logger.Error("server forced to shutdown", zap.Error(err))
	}

	logger.Info("server stopped")
}
