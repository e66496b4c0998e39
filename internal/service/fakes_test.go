package service

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"os"
	"sort"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/bigkaa/goartstore/file-service/internal/domain/model"
	"github.com/bigkaa/goartstore/file-service/internal/pool"
	"github.com/bigkaa/goartstore/file-service/internal/repository"
	"github.com/bigkaa/goartstore/file-service/internal/storage"
	"github.com/bigkaa/goartstore/file-service/internal/storage/filestore"
	"github.com/bigkaa/goartstore/file-service/internal/validator"
)

// memRepo — in-memory реализация repository.FileRepository
// с той же семантикой видимости и ошибок, что и PostgreSQL-реализация.
type memRepo struct {
	mu       sync.Mutex
	files    map[string]*model.FileRecord
	gets     atomic.Int64
	touchErr error
	listErr  error
	// getHook вызывается в GetByID после чтения записи, до возврата
	getHook func()
}

var _ repository.FileRepository = (*memRepo)(nil)

func newMemRepo() *memRepo {
	return &memRepo{files: make(map[string]*model.FileRecord)}
}

func (r *memRepo) Create(_ context.Context, f *model.FileRecord) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.files[f.ID]; ok {
		return repository.ErrConflict
	}
	r.files[f.ID] = f.Clone()
	return nil
}

func (r *memRepo) GetByID(_ context.Context, id string) (*model.FileRecord, error) {
	r.gets.Add(1)
	r.mu.Lock()
	f, ok := r.files[id]
	if !ok || f.IsDeleted() {
		r.mu.Unlock()
		return nil, repository.ErrNotFound
	}
	out := f.Clone()
	r.mu.Unlock()

	if r.getHook != nil {
		r.getHook()
	}
	return out, nil
}

func (r *memRepo) Update(_ context.Context, f *model.FileRecord) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	cur, ok := r.files[f.ID]
	if !ok || cur.IsDeleted() {
		return repository.ErrNotFound
	}
	if cur.Checksum != nil && (f.Checksum == nil || *f.Checksum != *cur.Checksum) {
		return repository.ErrChecksumImmutable
	}
	if !model.CanTransition(cur.Status, f.Status) {
		return model.ErrInvalidTransition
	}
	f.UpdatedAt = time.Now().UTC()
	r.files[f.ID] = f.Clone()
	return nil
}

func (r *memRepo) UpdateMetadata(_ context.Context, id string, fileName, contentType *string) (*model.FileRecord, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	f, ok := r.files[id]
	if !ok || f.IsDeleted() {
		return nil, repository.ErrNotFound
	}
	if fileName != nil {
		f.FileName = *fileName
	}
	if contentType != nil {
		f.ContentType = *contentType
	}
	f.UpdatedAt = time.Now().UTC()
	return f.Clone(), nil
}

func (r *memRepo) Delete(_ context.Context, id string, at time.Time) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	f, ok := r.files[id]
	if !ok {
		return repository.ErrNotFound
	}
	if f.IsDeleted() {
		return repository.ErrAlreadyDeleted
	}
	f.Status = model.StatusDeleted
	at = at.UTC()
	f.DeletedAt = &at
	return nil
}

func (r *memRepo) List(_ context.Context, offset, limit int, filters repository.FileFilters) ([]*model.FileRecord, int, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.listErr != nil {
		return nil, 0, r.listErr
	}

	var all []*model.FileRecord
	for _, f := range r.files {
		if f.IsDeleted() {
			continue
		}
		if filters.FileName != nil && f.FileName != *filters.FileName {
			continue
		}
		if filters.ContentType != nil && f.ContentType != *filters.ContentType {
			continue
		}
		if filters.Checksum != nil && f.ChecksumValue() != *filters.Checksum {
			continue
		}
		all = append(all, f.Clone())
	}
	sort.Slice(all, func(i, j int) bool {
		if !all[i].CreatedAt.Equal(all[j].CreatedAt) {
			return all[i].CreatedAt.After(all[j].CreatedAt)
		}
		return all[i].ID > all[j].ID
	})

	total := len(all)
	if offset >= total {
		return nil, total, nil
	}
	end := min(offset+limit, total)
	return all[offset:end], total, nil
}

func (r *memRepo) TouchAccessed(_ context.Context, id string, at time.Time) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.touchErr != nil {
		return r.touchErr
	}
	f, ok := r.files[id]
	if !ok || f.IsDeleted() {
		return repository.ErrNotFound
	}
	at = at.UTC()
	f.LastAccessedAt = &at
	return nil
}

func (r *memRepo) ListReclaimable(_ context.Context, deletedBefore time.Time, limit int) ([]*model.FileRecord, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []*model.FileRecord
	for _, f := range r.files {
		if f.IsDeleted() && f.ReclaimedAt == nil && f.DeletedAt.Before(deletedBefore) {
			out = append(out, f.Clone())
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].DeletedAt.Before(*out[j].DeletedAt) })
	if len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

func (r *memRepo) MarkReclaimed(_ context.Context, id string, at time.Time) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	f, ok := r.files[id]
	if !ok || !f.IsDeleted() || f.ReclaimedAt != nil {
		return repository.ErrNotFound
	}
	at = at.UTC()
	f.ReclaimedAt = &at
	return nil
}

// raw возвращает запись без фильтра видимости.
func (r *memRepo) raw(id string) (*model.FileRecord, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	f, ok := r.files[id]
	if !ok {
		return nil, false
	}
	return f.Clone(), true
}

func (r *memRepo) count() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.files)
}

// spyBackend — обёртка над реальным backend-ом со счётчиками
// и внедрением ошибок.
type spyBackend struct {
	storage.Backend
	puts    atomic.Int64
	removes atomic.Int64
	putErr  error
	// putHook вызывается перед записью
	putHook func()
}

func (b *spyBackend) Put(ctx context.Context, key string, r io.Reader) (int64, error) {
	b.puts.Add(1)
	if b.putHook != nil {
		b.putHook()
	}
	if b.putErr != nil {
		return 0, b.putErr
	}
	return b.Backend.Put(ctx, key, r)
}

func (b *spyBackend) Remove(ctx context.Context, key string) error {
	b.removes.Add(1)
	return b.Backend.Remove(ctx, key)
}

// gateFirst возвращает hook, который задерживает первый вызов
// до закрытия release и сигнализирует о входе через entered.
func gateFirst() (hook func(), entered, release chan struct{}) {
	var calls atomic.Int32
	entered = make(chan struct{})
	release = make(chan struct{})
	hook = func() {
		if calls.Add(1) == 1 {
			close(entered)
			<-release
		}
	}
	return hook, entered, release
}

// testEnv — собранный FileService с зависимостями.
type testEnv struct {
	svc     *FileService
	repo    *memRepo
	store   *filestore.FileStore
	backend *spyBackend
	pool    *pool.BufferPool
	ids     []string
}

type envOption func(*envConfig)

type envConfig struct {
	opts      Options
	poolCfg   pool.Config
	cacheSize int
}

func withOptions(o Options) envOption {
	return func(c *envConfig) { c.opts = o }
}

func withPool(cfg pool.Config) envOption {
	return func(c *envConfig) { c.poolCfg = cfg }
}

func withCache(size int) envOption {
	return func(c *envConfig) { c.cacheSize = size }
}

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: slog.LevelError}))
}

// newTestEnv создаёт FileService поверх filestore в t.TempDir()
// с детерминированными id и часами.
func newTestEnv(t *testing.T, opts ...envOption) *testEnv {
	t.Helper()

	cfg := envConfig{poolCfg: pool.Config{MaxWorkers: 4, QueueSize: 0, BufferSize: 4096}}
	for _, o := range opts {
		o(&cfg)
	}

	store, err := filestore.New(t.TempDir())
	if err != nil {
		t.Fatalf("filestore.New: %v", err)
	}

	env := &testEnv{
		repo:    newMemRepo(),
		store:   store,
		backend: &spyBackend{Backend: store},
		pool:    pool.New(cfg.poolCfg),
	}
	env.svc = NewFileService(
		env.repo,
		env.backend,
		validator.New(validator.DefaultMaxFileSize, validator.DefaultAllowedContentTypes),
		env.pool,
		NewCacheService(cfg.cacheSize, time.Minute),
		cfg.opts,
		testLogger(),
	)

	var (
		mu    sync.Mutex
		clock = time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
		seq   int
	)
	env.svc.now = func() time.Time {
		mu.Lock()
		defer mu.Unlock()
		clock = clock.Add(time.Second)
		return clock
	}
	env.svc.newID = func() string {
		mu.Lock()
		defer mu.Unlock()
		seq++
		id := testUUID(seq)
		env.ids = append(env.ids, id)
		return id
	}
	return env
}

// lastID — id последней созданной записи (в том числе неудачной загрузки).
func (e *testEnv) lastID() string {
	return e.ids[len(e.ids)-1]
}

// testUUID строит детерминированный UUID v4 по номеру.
func testUUID(n int) string {
	const tmpl = "00000000-0000-4000-8000-000000000000"
	digits := []byte(tmpl)
	for i := len(digits) - 1; n > 0 && i >= 0; i-- {
		if digits[i] == '-' {
			continue
		}
		digits[i] = "0123456789abcdef"[n%16]
		n /= 16
	}
	return string(digits)
}

// errorReader отдаёт данные, затем ошибку.
type errorReader struct {
	data []byte
	err  error
}

func (r *errorReader) Read(p []byte) (int, error) {
	if len(r.data) == 0 {
		return 0, r.err
	}
	n := copy(p, r.data)
	r.data = r.data[n:]
	return n, nil
}

var errClientGone = errors.New("клиент отключился")
