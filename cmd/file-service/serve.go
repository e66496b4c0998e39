package main

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"os/signal"
	"syscall"

	"github.com/jackc/pgx/v5/stdlib"
	"github.com/spf13/cobra"

	"github.com/bigkaa/goartstore/file-service/internal/api/handlers"
	"github.com/bigkaa/goartstore/file-service/internal/api/middleware"
	"github.com/bigkaa/goartstore/file-service/internal/config"
	"github.com/bigkaa/goartstore/file-service/internal/database"
	"github.com/bigkaa/goartstore/file-service/internal/pool"
	"github.com/bigkaa/goartstore/file-service/internal/repository"
	"github.com/bigkaa/goartstore/file-service/internal/server"
	"github.com/bigkaa/goartstore/file-service/internal/service"
	"github.com/bigkaa/goartstore/file-service/internal/validator"
)

func newServeCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Применить миграции и запустить HTTP-сервер",
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, logger, err := loadConfig()
			if err != nil {
				return err
			}
			return runServe(cmd.Context(), cfg, logger)
		},
	}
}

// runServe собирает зависимости и блокируется до завершения сервера.
func runServe(parent context.Context, cfg *config.Config, logger *slog.Logger) error {
	if parent == nil {
		parent = context.Background()
	}
	ctx, stop := signal.NotifyContext(parent, syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	logger.Info("File Service запускается",
		slog.String("version", config.Version),
		slog.Int("port", cfg.Port),
		slog.String("storage_backend", cfg.StorageBackend),
	)

	// 1. Миграции БД
	logger.Info("Применение миграций БД...")
	if err := database.Migrate(cfg, logger); err != nil {
		return fmt.Errorf("ошибка миграций БД: %w", err)
	}

	// 2. PostgreSQL (pgxpool)
	pgPool, err := database.Connect(ctx, cfg, logger)
	if err != nil {
		return fmt.Errorf("ошибка подключения к PostgreSQL: %w", err)
	}
	defer pgPool.Close()

	// 2.1 Адаптер pgxpool → *sql.DB для topologymetrics (connection pool mode)
	pgDB := stdlib.OpenDBFromPool(pgPool)
	defer pgDB.Close()

	// 3. Storage backend
	backend, closeBackend, err := newBackend(ctx, cfg, logger)
	if err != nil {
		return err
	}
	defer closeBackend()

	// 4. Сервисный слой
	repo := repository.NewFileRepository(pgPool, cfg.DBTxRetries)
	bufPool := pool.New(pool.Config{
		MaxWorkers: cfg.PoolMaxWorkers,
		QueueSize:  cfg.PoolQueueSize,
		BufferSize: cfg.PoolBufferSize,
	})
	fileSvc := service.NewFileService(
		repo,
		backend,
		validator.New(cfg.MaxFileSize, cfg.AllowedContentTypes),
		bufPool,
		service.NewCacheService(cfg.CacheSize, cfg.CacheTTL),
		service.Options{
			SniffContent:     cfg.SniffContent,
			VerifyOnDownload: cfg.VerifyOnDownload,
			UploadTimeout:    cfg.UploadTimeout,
		},
		logger,
	)

	// 5. Reclaimer (FS_RECLAIM_INTERVAL > 0)
	if cfg.ReclaimInterval > 0 {
		reclaimer := service.NewReclaimer(repo, backend,
			cfg.ReclaimInterval, cfg.ReclaimRetention, cfg.ReclaimBatchSize, logger)
		reclaimer.Start(ctx)
		defer reclaimer.Stop()
	}

	// 6. topologymetrics — мониторинг PostgreSQL и объектного хранилища
	var deps handlers.DependencyHealth
	dephealthSvc, err := service.NewDephealthService(
		"file-service",
		cfg.DephealthGroup,
		pgDB,
		cfg.DatabaseURL(),
		service.ObjectStoreHealthTarget(cfg.StorageBackend, storeEndpoint(cfg)),
		cfg.DephealthCheckInterval,
		logger,
	)
	if err != nil {
		logger.Warn("topologymetrics недоступен, запуск без мониторинга зависимостей",
			slog.String("error", err.Error()),
		)
	} else if startErr := dephealthSvc.Start(ctx); startErr != nil {
		logger.Warn("Ошибка запуска topologymetrics", slog.String("error", startErr.Error()))
	} else {
		defer dephealthSvc.Stop()
		deps = dephealthSvc
	}

	// 7. Handlers
	healthHandler := handlers.NewHealthHandler(database.NewReadinessChecker(pgPool), deps)
	filesHandler := handlers.NewFilesHandler(fileSvc, cfg.MaxFileSize, logger)
	apiHandler := handlers.NewAPIHandler(filesHandler, healthHandler, logger)

	// 8. Middleware: metrics → logging → rate limit → JWT
	middlewares := []func(http.Handler) http.Handler{
		middleware.MetricsMiddleware(),
		middleware.RequestLogger(logger),
	}
	if cfg.RateLimitRPS > 0 {
		limiter := middleware.NewRateLimiter(cfg.RateLimitRPS, cfg.RateLimitBurst, logger)
		middlewares = append(middlewares, server.JWTAuthWithExclusions(limiter.Middleware(), "/health/", "/metrics"))
		logger.Info("Rate limit включён",
			slog.Float64("rps", cfg.RateLimitRPS),
			slog.Int("burst", cfg.RateLimitBurst),
		)
	}
	if cfg.JWKSURL != "" {
		jwtAuth, err := middleware.NewJWTAuth(middleware.JWTAuthConfig{
			JWKSURL:    cfg.JWKSURL,
			CACertPath: cfg.JWKSCACert,
			JWTLeeway:  cfg.JWTLeeway,
		}, logger)
		if err != nil {
			return fmt.Errorf("ошибка создания JWT middleware: %w", err)
		}
		middlewares = append(middlewares, server.JWTAuthWithExclusions(jwtAuth.Middleware(), "/health/", "/metrics"))
		logger.Info("JWT middleware инициализирован", slog.String("jwks_url", cfg.JWKSURL))
	} else {
		logger.Warn("FS_JWKS_URL не задан, аутентификация отключена")
	}

	// 9. HTTP-сервер (блокирующий вызов с graceful shutdown)
	srv := server.New(cfg, logger, apiHandler, middlewares...)
	if err := srv.Run(ctx); err != nil {
		return fmt.Errorf("сервер завершился с ошибкой: %w", err)
	}

	logger.Info("File Service остановлен")
	return nil
}
