package main

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/bigkaa/goartstore/file-service/internal/config"
	"github.com/bigkaa/goartstore/file-service/internal/storage"
	"github.com/bigkaa/goartstore/file-service/internal/storage/filestore"
	"github.com/bigkaa/goartstore/file-service/internal/storage/gcsstore"
	"github.com/bigkaa/goartstore/file-service/internal/storage/s3store"
)

const storePingTimeout = 5 * time.Second

// newBackend создаёт storage backend по FS_STORAGE_BACKEND.
// Возвращаемая функция освобождает ресурсы клиента.
func newBackend(ctx context.Context, cfg *config.Config, logger *slog.Logger) (storage.Backend, func(), error) {
	switch cfg.StorageBackend {
	case config.BackendS3:
		store, err := s3store.New(ctx, s3store.Config{
			Endpoint:             cfg.S3Endpoint,
			Region:               cfg.S3Region,
			Bucket:               cfg.S3Bucket,
			AccessKey:            cfg.S3AccessKey,
			SecretKey:            cfg.S3SecretKey,
			Prefix:               cfg.S3Prefix,
			UsePathStyle:         cfg.S3ForcePathStyle,
			MaxAttempts:          cfg.S3MaxAttempts,
			PartSize:             cfg.S3PartSize,
			ServerSideEncryption: cfg.S3SSE,
		}, logger)
		if err != nil {
			return nil, nil, fmt.Errorf("S3 backend: %w", err)
		}
		logger.Info("Storage backend: S3",
			slog.String("bucket", cfg.S3Bucket),
			slog.String("endpoint", cfg.S3Endpoint),
		)
		pingStore(ctx, store, logger)
		return store, func() {}, nil

	case config.BackendGCS:
		store, err := gcsstore.New(ctx, gcsstore.Config{
			Bucket:          cfg.GCSBucket,
			Prefix:          cfg.GCSPrefix,
			CredentialsFile: cfg.GCSCredentialsFile,
			Endpoint:        cfg.GCSEndpoint,
		}, logger)
		if err != nil {
			return nil, nil, fmt.Errorf("GCS backend: %w", err)
		}
		logger.Info("Storage backend: GCS", slog.String("bucket", cfg.GCSBucket))
		pingStore(ctx, store, logger)
		return store, func() {
			if err := store.Close(); err != nil {
				logger.Warn("Ошибка закрытия клиента GCS", slog.String("error", err.Error()))
			}
		}, nil

	default:
		store, err := filestore.New(cfg.DataDir)
		if err != nil {
			return nil, nil, fmt.Errorf("локальный backend: %w", err)
		}
		logger.Info("Storage backend: локальный диск", slog.String("data_dir", cfg.DataDir))
		return store, func() {}, nil
	}
}

// pingStore проверяет доступность bucket при старте. Недоступность
// не фатальна: readiness probe покажет состояние зависимости.
func pingStore(ctx context.Context, store interface {
	Ping(ctx context.Context) error
}, logger *slog.Logger) {
	pingCtx, cancel := context.WithTimeout(ctx, storePingTimeout)
	defer cancel()
	if err := store.Ping(pingCtx); err != nil {
		logger.Warn("Объектное хранилище недоступно при старте", slog.String("error", err.Error()))
	}
}

// storeEndpoint — endpoint объектного хранилища для topologymetrics.
func storeEndpoint(cfg *config.Config) string {
	switch cfg.StorageBackend {
	case config.BackendS3:
		return cfg.S3Endpoint
	case config.BackendGCS:
		return cfg.GCSEndpoint
	default:
		return ""
	}
}
