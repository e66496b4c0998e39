package main

import (
	"fmt"
	"log/slog"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/bigkaa/goartstore/file-service/internal/database"
	"github.com/bigkaa/goartstore/file-service/internal/repository"
	"github.com/bigkaa/goartstore/file-service/internal/service"
)

// newReclaimCommand — однократная очистка объектов soft-deleted файлов
// (для запуска из CronJob вместо фонового reclaimer).
func newReclaimCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "reclaim",
		Short: "Удалить объекты файлов, удалённых раньше FS_RECLAIM_RETENTION",
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, logger, err := loadConfig()
			if err != nil {
				return err
			}

			ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
			defer stop()

			pgPool, err := database.Connect(ctx, cfg, logger)
			if err != nil {
				return fmt.Errorf("ошибка подключения к PostgreSQL: %w", err)
			}
			defer pgPool.Close()

			backend, closeBackend, err := newBackend(ctx, cfg, logger)
			if err != nil {
				return err
			}
			defer closeBackend()

			reclaimer := service.NewReclaimer(
				repository.NewFileRepository(pgPool, cfg.DBTxRetries),
				backend,
				cfg.ReclaimInterval,
				cfg.ReclaimRetention,
				cfg.ReclaimBatchSize,
				logger,
			)
			res := reclaimer.RunOnce(ctx)
			if res.Errors > 0 {
				return fmt.Errorf("очистка завершена с ошибками: %d", res.Errors)
			}

			logger.Info("Очистка выполнена", slog.Int("removed", res.Removed))
			return nil
		},
	}
}
