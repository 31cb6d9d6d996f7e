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

	"github.com/go-chi/chi/v5"
	"github.com/hibiken/asynq"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/redis/go-redis/v9"

	"github.com/pondok-erp/pondok-erp/internal/app"
	"github.com/pondok-erp/pondok-erp/internal/audit"
	jobmetrics "github.com/pondok-erp/pondok-erp/internal/jobs"
	"github.com/pondok-erp/pondok-erp/internal/platform/db"
	"github.com/pondok-erp/pondok-erp/internal/records"
	"github.com/pondok-erp/pondok-erp/internal/schema"
	"github.com/pondok-erp/pondok-erp/internal/session"
	"github.com/pondok-erp/pondok-erp/internal/storage"
	"github.com/pondok-erp/pondok-erp/jobs"
)

func main() {
	if app.InTestMode() {
		slog.Default().Info("test mode detected, skipping worker startup")
		return
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	cfg, err := app.LoadConfig()
	if err != nil {
		slog.Default().Error("load config", slog.Any("error", err))
		os.Exit(1)
	}

	logger := app.NewLogger(cfg).With(slog.String("component", "worker"))

	pool, err := db.New(ctx, cfg.PGDSN, db.Options{MaxConns: cfg.PGMaxConns})
	if err != nil {
		logger.Error("connect database", slog.Any("error", err))
		os.Exit(1)
	}
	defer pool.Close()

	redisClient := redis.NewClient(&redis.Options{Addr: cfg.RedisAddr})
	defer func() {
		if err := redisClient.Close(); err != nil {
			logger.Warn("redis close", slog.Any("error", err))
		}
	}()
	if err := redisClient.Ping(ctx).Err(); err != nil {
		logger.Warn("redis ping", slog.Any("error", err))
	}

	registry, err := schema.LoadRegistry(cfg.RegistryPath)
	if err != nil {
		logger.Error("load registry", slog.Any("error", err))
		os.Exit(1)
	}
	auditStore := audit.NewPGStore(pool)
	provisioner := schema.NewProvisioner(pool, registry, logger, schema.WithSchemaOwners(auditStore))

	var files records.FileDeleter = storage.Noop{}
	if storageCfg := cfg.Storage(); storageCfg.Configured() {
		files = storage.NewClient(storageCfg)
	}

	gateway := records.NewGateway(records.Config{
		Registry:    registry,
		Provisioner: provisioner,
		Store:       records.NewPGStore(pool),
		Audit:       audit.NewRecorder(auditStore, logger),
		Files:       files,
		Hasher:      records.BcryptHasher{},
		Logger:      logger,
	})
	sessions := session.NewManager(gateway, session.NewTokenCache(redisClient, cfg.SessionCacheTTL), logger)

	metrics := jobmetrics.NewMetrics(prometheus.DefaultRegisterer)
	convergeJob := jobs.NewSchemaConvergeJob(registry, provisioner, logger, metrics)
	expireJob := jobs.NewSessionsExpireJob(sessions, cfg.SessionTTL, logger, metrics)

	convergeTask, err := jobs.NewSchemaConvergeTask()
	if err != nil {
		logger.Error("build converge task", slog.Any("error", err))
		os.Exit(1)
	}
	expireTask, err := jobs.NewSessionsExpireTask(0)
	if err != nil {
		logger.Error("build expire task", slog.Any("error", err))
		os.Exit(1)
	}

	worker, err := jobs.NewWorker(jobs.WorkerConfig{
		RedisOpts:   asynq.RedisClientOpt{Addr: cfg.RedisAddr},
		Logger:      logger,
		Concurrency: cfg.WorkerConcurrency,
		Handlers: []jobs.TaskHandler{
			{Type: jobs.TaskSchemaConverge, Handler: convergeJob.Handle},
			{Type: jobs.TaskSessionsExpire, Handler: expireJob.Handle},
		},
		Cron: []jobs.CronRegistration{
			{Spec: "*/30 * * * *", Task: convergeTask, Options: []asynq.Option{asynq.MaxRetry(3)}},
			{Spec: "0 * * * *", Task: expireTask, Options: []asynq.Option{asynq.MaxRetry(3)}},
		},
	})
	if err != nil {
		logger.Error("init worker", slog.Any("error", err))
		os.Exit(1)
	}

	if cfg.WorkerMetricsAddr != "" {
		r := chi.NewRouter()
		r.Method(http.MethodGet, "/metrics", promhttp.Handler())
		metricsServer := &http.Server{Addr: cfg.WorkerMetricsAddr, Handler: r, ReadHeaderTimeout: 5 * time.Second}
		go func() {
			if err := metricsServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
				logger.Warn("worker metrics server", slog.Any("error", err))
			}
		}()
		defer func() {
			shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			defer cancel()
			_ = metricsServer.Shutdown(shutdownCtx)
		}()
	}

	if err := worker.Run(ctx); err != nil && !errors.Is(err, context.Canceled) {
		logger.Error("worker run", slog.Any("error", err))
		os.Exit(1)
	}
}
