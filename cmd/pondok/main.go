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
	"github.com/redis/go-redis/v9"

	"github.com/pondok-erp/pondok-erp/internal/api"
	"github.com/pondok-erp/pondok-erp/internal/app"
	"github.com/pondok-erp/pondok-erp/internal/audit"
	audithttp "github.com/pondok-erp/pondok-erp/internal/audit/http"
	"github.com/pondok-erp/pondok-erp/internal/menu"
	"github.com/pondok-erp/pondok-erp/internal/observability"
	"github.com/pondok-erp/pondok-erp/internal/platform/cache"
	"github.com/pondok-erp/pondok-erp/internal/platform/db"
	"github.com/pondok-erp/pondok-erp/internal/rbac"
	"github.com/pondok-erp/pondok-erp/internal/records"
	"github.com/pondok-erp/pondok-erp/internal/schema"
	"github.com/pondok-erp/pondok-erp/internal/session"
	"github.com/pondok-erp/pondok-erp/internal/storage"
	"github.com/pondok-erp/pondok-erp/jobs"
)

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	cfg, err := app.LoadConfig()
	if err != nil {
		slog.Default().Error("load config", slog.Any("error", err))
		os.Exit(1)
	}

	logger := app.NewLogger(cfg)
	slog.SetDefault(logger)

	pool, err := db.New(ctx, cfg.PGDSN, db.Options{MaxConns: cfg.PGMaxConns})
	if err != nil {
		logger.Error("connect database", slog.Any("error", err))
		os.Exit(1)
	}
	defer pool.Close()

	// Redis hanya dipakai untuk cache sesi dan inspeksi antrian; boleh mati.
	var redisClient *redis.Client
	if client, err := cache.New(ctx, cache.Options{Addr: cfg.RedisAddr}); err != nil {
		logger.Warn("redis unavailable, session cache disabled", slog.Any("error", err))
	} else {
		redisClient = client
		defer func() {
			if err := redisClient.Close(); err != nil {
				logger.Warn("redis close", slog.Any("error", err))
			}
		}()
	}

	registry, err := schema.LoadRegistry(cfg.RegistryPath)
	if err != nil {
		logger.Error("load registry", slog.Any("error", err))
		os.Exit(1)
	}
	auditStore := audit.NewPGStore(pool)
	provisioner := schema.NewProvisioner(pool, registry, logger, schema.WithSchemaOwners(auditStore))

	if !app.InTestMode() {
		if err := auditStore.EnsureSchema(ctx); err != nil {
			logger.Error("ensure audit schema", slog.Any("error", err))
			os.Exit(1)
		}
		if err := provisioner.EnsureAll(ctx); err != nil {
			logger.Warn("provision tables", slog.Any("error", err))
		}
	}
	recorder := audit.NewRecorder(auditStore, logger)

	var files interface {
		records.FileDeleter
		api.Uploads
	} = storage.Noop{}
	if storageCfg := cfg.Storage(); storageCfg.Configured() {
		files = storage.NewClient(storageCfg)
	} else {
		logger.Info("file storage not configured, uploads disabled")
	}

	metrics := observability.NewMetrics()

	gateway := records.NewGateway(records.Config{
		Registry:    registry,
		Provisioner: provisioner,
		Store:       records.NewPGStore(pool),
		Audit:       recorder,
		Files:       files,
		Observer:    metrics,
		Hasher:      records.BcryptHasher{},
		Logger:      logger,
	})

	sessions := session.NewManager(gateway, session.NewTokenCache(redisClient, cfg.SessionCacheTTL), logger)

	tree, err := menu.Load(cfg.MenuPath)
	if err != nil {
		logger.Error("load menu", slog.Any("error", err))
		os.Exit(1)
	}
	resolver := rbac.NewResolver(tree, rbac.WithSuperRole(cfg.SuperRole))

	apiHandler := api.NewHandler(api.Config{
		Logger:      logger,
		Records:     gateway,
		Sessions:    sessions,
		Permissions: resolver,
		Tree:        tree,
		Uploads:     files,
		Audit:       audithttp.NewHandler(logger, audit.NewService(auditStore)),
	})

	var jobsHandler *jobs.Handler
	if redisClient != nil {
		inspector := asynq.NewInspector(asynq.RedisClientOpt{Addr: cfg.RedisAddr})
		defer func() {
			if err := inspector.Close(); err != nil {
				logger.Warn("inspector close", slog.Any("error", err))
			}
		}()
		jobsHandler = jobs.NewHandler(inspector, logger)
	}

	router := app.NewRouter(app.RouterParams{
		Logger:   logger,
		Config:   cfg,
		API:      apiHandler,
		Sessions: sessions,
		Metrics:  metrics,
		Jobs:     jobsHandler,
	})

	server := &http.Server{
		Addr:         cfg.AppAddr,
		Handler:      router,
		ReadTimeout:  cfg.AppReadTimeout,
		WriteTimeout: cfg.AppWriteTimeout,
	}

	go func() {
		logger.Info("http server listening", slog.String("addr", cfg.AppAddr))
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Error("http server", slog.Any("error", err))
			stop()
		}
	}()

	<-ctx.Done()

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := server.Shutdown(shutdownCtx); err != nil {
		logger.Error("graceful shutdown", slog.Any("error", err))
	}
}
