// reclaim.go — фоновая очистка объектов удалённых файлов.
//
// Delete выполняет soft delete: запись переходит в deleted, объект
// в хранилище остаётся. Reclaimer находит записи, удалённые раньше
// retention, удаляет объект из backend-а и отмечает reclaimed_at.
// Сами записи остаются в таблице для аудита.
//
// Запускается как горутина с периодическим тикером (FS_RECLAIM_INTERVAL)
// или однократно командой file-service reclaim.
package service

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"

	"github.com/bigkaa/goartstore/file-service/internal/repository"
	"github.com/bigkaa/goartstore/file-service/internal/storage"
)

// Prometheus метрики reclaimer-а
var (
	reclaimRunsTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "fs_reclaim_runs_total",
		Help: "Общее количество запусков очистки",
	})

	reclaimObjectsTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "fs_reclaim_objects_removed_total",
		Help: "Общее количество объектов, удалённых из хранилища",
	})

	reclaimErrorsTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "fs_reclaim_errors_total",
		Help: "Общее количество ошибок очистки",
	})

	reclaimDurationSeconds = promauto.NewHistogram(prometheus.HistogramOpts{
		Name:    "fs_reclaim_duration_seconds",
		Help:    "Длительность выполнения очистки в секундах",
		Buckets: []float64{0.01, 0.05, 0.1, 0.5, 1, 5, 10, 30, 60},
	})
)

// ReclaimResult — результат одного запуска очистки.
type ReclaimResult struct {
	// Removed — количество очищенных объектов
	Removed int
	// Errors — количество ошибок при обработке записей
	Errors int
	// Duration — длительность выполнения
	Duration time.Duration
}

// Reclaimer — сервис физического удаления объектов soft-deleted файлов.
type Reclaimer struct {
	repo      repository.FileRepository
	backend   storage.Backend
	interval  time.Duration
	retention time.Duration
	batchSize int
	now       func() time.Time
	logger    *slog.Logger

	mu     sync.Mutex // защита от параллельного запуска RunOnce
	cancel context.CancelFunc
	done   chan struct{}
}

// NewReclaimer создаёт reclaimer.
func NewReclaimer(
	repo repository.FileRepository,
	backend storage.Backend,
	interval, retention time.Duration,
	batchSize int,
	logger *slog.Logger,
) *Reclaimer {
	if batchSize <= 0 {
		batchSize = 100
	}
	return &Reclaimer{
		repo:      repo,
		backend:   backend,
		interval:  interval,
		retention: retention,
		batchSize: batchSize,
		now:       func() time.Time { return time.Now().UTC() },
		logger:    logger.With(slog.String("component", "reclaimer")),
	}
}

// Start запускает фоновую горутину с периодическим тикером.
func (r *Reclaimer) Start(ctx context.Context) {
	rctx, cancel := context.WithCancel(ctx)
	r.cancel = cancel
	r.done = make(chan struct{})

	go r.run(rctx)

	r.logger.Info("Reclaimer запущен",
		slog.String("interval", r.interval.String()),
		slog.String("retention", r.retention.String()),
	)
}

// Stop останавливает фоновый процесс и дожидается завершения текущего прохода.
func (r *Reclaimer) Stop() {
	if r.cancel == nil {
		return
	}
	r.cancel()
	<-r.done
	r.logger.Info("Reclaimer остановлен")
}

// run — основной цикл фоновой горутины.
func (r *Reclaimer) run(ctx context.Context) {
	defer close(r.done)

	r.RunOnce(ctx)

	ticker := time.NewTicker(r.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			r.RunOnce(ctx)
		}
	}
}

// RunOnce выполняет один проход очистки: пачками выбирает записи,
// удалённые раньше retention, удаляет объекты и отмечает reclaimed_at.
// Потокобезопасен: использует mutex для защиты от параллельного запуска.
func (r *Reclaimer) RunOnce(ctx context.Context) *ReclaimResult {
	r.mu.Lock()
	defer r.mu.Unlock()

	start := time.Now()
	result := &ReclaimResult{}
	cutoff := r.now().Add(-r.retention)

	r.logger.Debug("Очистка начата", slog.Time("cutoff", cutoff))

	for ctx.Err() == nil {
		batch, err := r.repo.ListReclaimable(ctx, cutoff, r.batchSize)
		if err != nil {
			r.logger.Error("Ошибка выборки удалённых файлов", slog.String("error", err.Error()))
			result.Errors++
			break
		}

		progressed := 0
		for _, rec := range batch {
			if err := r.backend.Remove(ctx, rec.StoragePath); err != nil {
				r.logger.Error("Ошибка удаления объекта",
					slog.String("file_id", rec.ID),
					slog.String("error", err.Error()),
				)
				result.Errors++
				continue
			}
			if err := r.repo.MarkReclaimed(ctx, rec.ID, r.now()); err != nil {
				r.logger.Error("Ошибка отметки очистки",
					slog.String("file_id", rec.ID),
					slog.String("error", err.Error()),
				)
				result.Errors++
				continue
			}
			r.logger.Debug("Объект удалён", slog.String("file_id", rec.ID))
			result.Removed++
			progressed++
		}

		// Неполная пачка или пачка без прогресса — проход завершён
		if len(batch) < r.batchSize || progressed == 0 {
			break
		}
	}

	result.Duration = time.Since(start)

	reclaimRunsTotal.Inc()
	reclaimObjectsTotal.Add(float64(result.Removed))
	reclaimErrorsTotal.Add(float64(result.Errors))
	reclaimDurationSeconds.Observe(result.Duration.Seconds())

	r.logger.Info("Очистка завершена",
		slog.Int("removed", result.Removed),
		slog.Int("errors", result.Errors),
		slog.Duration("duration", result.Duration),
	)

	return result
}
