// cache.go — LRU-кэш метаданных файлов с TTL.
// Обёртка над hashicorp/golang-lru/v2/expirable.
package service

import (
	"sync"
	"time"

	"github.com/hashicorp/golang-lru/v2/expirable"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"

	"github.com/bigkaa/goartstore/file-service/internal/domain/model"
)

// Prometheus-метрики кэша.
var (
	cacheHitsTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "fs_cache_hits_total",
		Help: "Общее количество попаданий в LRU-кэш метаданных.",
	})
	cacheMissesTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "fs_cache_misses_total",
		Help: "Общее количество промахов LRU-кэша метаданных.",
	})
)

// CacheService — LRU-кэш метаданных файлов с автоматическим TTL.
// Хранит копии записей: изменение возвращённой записи не влияет на кэш.
// Nil-значение *CacheService — отключённый кэш.
//
// Каждая инвалидация увеличивает epoch. Запись, прочитанная из БД,
// кладётся через SetIfFresh с epoch, снятым до чтения: если за время
// чтения была инвалидация, запись могла устареть и не кэшируется.
type CacheService struct {
	cache *expirable.LRU[string, *model.FileRecord]

	mu    sync.Mutex
	epoch uint64
}

// NewCacheService создаёт LRU-кэш с указанным максимальным размером и TTL.
// При maxSize <= 0 возвращает nil (кэш отключён).
func NewCacheService(maxSize int, ttl time.Duration) *CacheService {
	if maxSize <= 0 {
		return nil
	}
	return &CacheService{cache: expirable.NewLRU[string, *model.FileRecord](maxSize, nil, ttl)}
}

// Get возвращает копию FileRecord из кэша.
func (c *CacheService) Get(fileID string) (*model.FileRecord, bool) {
	if c == nil {
		return nil, false
	}
	val, ok := c.cache.Get(fileID)
	if ok {
		cacheHitsTotal.Inc()
		return val.Clone(), true
	}
	cacheMissesTotal.Inc()
	return nil, false
}

// Set добавляет или обновляет запись в кэше. Удалённые записи не кэшируются.
func (c *CacheService) Set(fileID string, record *model.FileRecord) {
	if c == nil || record == nil || record.IsDeleted() {
		return
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	c.cache.Add(fileID, record.Clone())
}

// Epoch возвращает текущее поколение инвалидаций.
// Снимается до чтения записи из БД.
func (c *CacheService) Epoch() uint64 {
	if c == nil {
		return 0
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.epoch
}

// SetIfFresh кладёт запись, только если после снятия epoch не было
// ни одной инвалидации. Возвращает true, если запись закэширована.
func (c *CacheService) SetIfFresh(fileID string, record *model.FileRecord, epoch uint64) bool {
	if c == nil || record == nil || record.IsDeleted() {
		return false
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.epoch != epoch {
		return false
	}
	c.cache.Add(fileID, record.Clone())
	return true
}

// Delete удаляет запись из кэша (инвалидация).
func (c *CacheService) Delete(fileID string) {
	if c == nil {
		return
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	c.epoch++
	c.cache.Remove(fileID)
}

// Len — текущее число записей.
func (c *CacheService) Len() int {
	if c == nil {
		return 0
	}
	return c.cache.Len()
}
