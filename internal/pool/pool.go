// Пакет pool — Worker Resource Pool: ограниченный набор переиспользуемых
// буферов для потоковой загрузки и скачивания.
//
// Буферы выдаются по одному на запрос. Если свободных нет, Acquire
// блокирует вызывающего (back-pressure) до освобождения буфера или отмены
// контекста. Число ожидающих ограничено QueueSize: сверх него Acquire
// сразу возвращает ErrSaturated.
package pool

import (
	"context"
	"errors"
	"fmt"
	"sync/atomic"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Значения по умолчанию.
const (
	DefaultMaxWorkers = 10
	DefaultQueueSize  = 100
	DefaultBufferSize = 32 * 1024
)

// ErrSaturated — очередь ожидания буферов переполнена.
var ErrSaturated = errors.New("пул буферов исчерпан: очередь ожидания переполнена")

// Prometheus-метрики пула.
var (
	buffersInUse = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "fs_pool_buffers_in_use",
		Help: "Количество выданных буферов пула загрузки.",
	})
	waitersGauge = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "fs_pool_waiters",
		Help: "Количество запросов, ожидающих свободный буфер.",
	})
	rejectedTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "fs_pool_rejected_total",
		Help: "Количество отказов в выдаче буфера из-за переполнения очереди.",
	})
)

// Config — параметры пула.
type Config struct {
	// MaxWorkers — количество буферов (одновременных загрузок)
	MaxWorkers int
	// QueueSize — максимум ожидающих запросов (0 — без ограничения)
	QueueSize int
	// BufferSize — размер одного буфера в байтах
	BufferSize int
}

// BufferPool — ограниченный пул буферов. Безопасен для конкурентного использования.
type BufferPool struct {
	free      chan []byte
	queueSize int64
	waiting   atomic.Int64
	inUse     atomic.Int64
}

// New создаёт пул и заранее выделяет все буферы.
// Нулевые и отрицательные значения MaxWorkers и BufferSize заменяются
// значениями по умолчанию, отрицательный QueueSize — нулём.
func New(cfg Config) *BufferPool {
	if cfg.MaxWorkers <= 0 {
		cfg.MaxWorkers = DefaultMaxWorkers
	}
	if cfg.BufferSize <= 0 {
		cfg.BufferSize = DefaultBufferSize
	}
	if cfg.QueueSize < 0 {
		cfg.QueueSize = 0
	}

	free := make(chan []byte, cfg.MaxWorkers)
	for range cfg.MaxWorkers {
		free <- make([]byte, cfg.BufferSize)
	}

	return &BufferPool{
		free:      free,
		queueSize: int64(cfg.QueueSize),
	}
}

// Buffer — буфер, выданный пулом. Должен быть возвращён через Release.
type Buffer struct {
	pool     *BufferPool
	data     []byte
	released atomic.Bool
}

// Bytes возвращает память буфера. Нельзя использовать после Release.
func (b *Buffer) Bytes() []byte {
	return b.data
}

// Release возвращает буфер в пул. Повторные вызовы игнорируются.
func (b *Buffer) Release() {
	if !b.released.CompareAndSwap(false, true) {
		return
	}
	data := b.data
	b.data = nil
	b.pool.inUse.Add(-1)
	buffersInUse.Dec()
	b.pool.free <- data
}

// Acquire выдаёт свободный буфер, блокируясь при исчерпании пула.
// Возвращает ErrSaturated, если очередь ожидания заполнена,
// или ошибку контекста при отмене.
func (p *BufferPool) Acquire(ctx context.Context) (*Buffer, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	// Быстрый путь — свободный буфер есть
	select {
	case data := <-p.free:
		return p.wrap(data), nil
	default:
	}

	n := p.waiting.Add(1)
	defer func() {
		p.waiting.Add(-1)
		waitersGauge.Dec()
	}()
	waitersGauge.Inc()

	if p.queueSize > 0 && n > p.queueSize {
		rejectedTotal.Inc()
		return nil, ErrSaturated
	}

	select {
	case data := <-p.free:
		return p.wrap(data), nil
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

// Do выдаёт буфер на время выполнения fn и возвращает его при любом
// выходе из fn, включая panic.
func (p *BufferPool) Do(ctx context.Context, fn func(buf []byte) error) error {
	b, err := p.Acquire(ctx)
	if err != nil {
		return fmt.Errorf("получение буфера: %w", err)
	}
	defer b.Release()
	return fn(b.Bytes())
}

// InUse возвращает количество выданных буферов.
func (p *BufferPool) InUse() int {
	return int(p.inUse.Load())
}

// Waiting возвращает количество ожидающих запросов.
func (p *BufferPool) Waiting() int {
	return int(p.waiting.Load())
}

// Capacity возвращает общее количество буферов.
func (p *BufferPool) Capacity() int {
	return cap(p.free)
}

func (p *BufferPool) wrap(data []byte) *Buffer {
	p.inUse.Add(1)
	buffersInUse.Inc()
	return &Buffer{pool: p, data: data}
}
