// Пакет gcsstore — реализация storage.Backend для Google Cloud Storage.
package gcsstore

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"

	gcs "cloud.google.com/go/storage"
	"google.golang.org/api/googleapi"
	"google.golang.org/api/option"

	"github.com/bigkaa/goartstore/file-service/internal/storage"
)

// Config — параметры подключения к GCS.
type Config struct {
	Bucket string
	Prefix string
	// CredentialsFile — путь к JSON ключу сервисного аккаунта
	// (пусто — Application Default Credentials)
	CredentialsFile string
	// Endpoint — альтернативный endpoint (эмулятор), опционально
	Endpoint string
}

// Store — GCS backend.
type Store struct {
	client *gcs.Client
	bucket *gcs.BucketHandle
	name   string
	prefix string
	logger *slog.Logger
}

var _ storage.Backend = (*Store)(nil)

// New создаёт клиент GCS и backend поверх него.
func New(ctx context.Context, cfg Config, logger *slog.Logger) (*Store, error) {
	if cfg.Bucket == "" {
		return nil, errors.New("не задан bucket GCS")
	}

	var opts []option.ClientOption
	if cfg.CredentialsFile != "" {
		opts = append(opts, option.WithCredentialsFile(cfg.CredentialsFile))
	}
	if cfg.Endpoint != "" {
		opts = append(opts, option.WithEndpoint(cfg.Endpoint), option.WithoutAuthentication())
	}

	client, err := gcs.NewClient(ctx, opts...)
	if err != nil {
		return nil, fmt.Errorf("ошибка создания клиента GCS: %w", err)
	}

	return &Store{
		client: client,
		bucket: client.Bucket(cfg.Bucket),
		name:   cfg.Bucket,
		prefix: cfg.Prefix,
		logger: logger.With(slog.String("component", "gcsstore")),
	}, nil
}

// Name возвращает имя реализации.
func (s *Store) Name() string {
	return "gcs"
}

// NewKey возвращает ключ вида prefix/ab/cd/<id>.
func (s *Store) NewKey(fileID string) string {
	return storage.ShardedKey(s.prefix, fileID)
}

// Put записывает поток в объект. Условие DoesNotExist запрещает
// перезапись существующего объекта. При ошибке запись отменяется
// через контекст, и объект не создаётся.
func (s *Store) Put(ctx context.Context, key string, r io.Reader) (int64, error) {
	wctx, cancel := context.WithCancel(ctx)
	defer cancel()

	w := s.bucket.Object(key).If(gcs.Conditions{DoesNotExist: true}).NewWriter(wctx)
	w.ContentType = "application/octet-stream"

	n, err := io.Copy(w, r)
	if err != nil {
		cancel()
		_ = w.Close()
		return n, fmt.Errorf("ошибка записи в GCS: %w", err)
	}

	if err := w.Close(); err != nil {
		if isPreconditionFailed(err) {
			return n, fmt.Errorf("%w: %s", storage.ErrExists, key)
		}
		return n, fmt.Errorf("ошибка завершения записи в GCS: %w", err)
	}

	s.logger.Debug("Объект загружен в GCS",
		slog.String("key", key),
		slog.Int64("bytes", n),
	)
	return n, nil
}

// Get открывает поток чтения объекта.
func (s *Store) Get(ctx context.Context, key string) (io.ReadCloser, error) {
	rc, err := s.bucket.Object(key).NewReader(ctx)
	if err != nil {
		if errors.Is(err, gcs.ErrObjectNotExist) {
			return nil, fmt.Errorf("%w: %s", storage.ErrNotFound, key)
		}
		return nil, fmt.Errorf("ошибка чтения из GCS: %w", err)
	}
	return rc, nil
}

// Remove удаляет объект. Отсутствие объекта ошибкой не считается.
func (s *Store) Remove(ctx context.Context, key string) error {
	err := s.bucket.Object(key).Delete(ctx)
	if err != nil && !errors.Is(err, gcs.ErrObjectNotExist) {
		return fmt.Errorf("ошибка удаления из GCS: %w", err)
	}
	return nil
}

// Ping проверяет доступность bucket.
func (s *Store) Ping(ctx context.Context) error {
	if _, err := s.bucket.Attrs(ctx); err != nil {
		return fmt.Errorf("bucket %s недоступен: %w", s.name, err)
	}
	return nil
}

// Close закрывает клиент GCS.
func (s *Store) Close() error {
	return s.client.Close()
}

// isPreconditionFailed распознаёт 412 от условия DoesNotExist.
func isPreconditionFailed(err error) bool {
	var gerr *googleapi.Error
	return errors.As(err, &gerr) && gerr.Code == http.StatusPreconditionFailed
}
