// Пакет s3store — реализация storage.Backend для S3-совместимых хранилищ
// (AWS S3, MinIO, Ceph RGW) на aws-sdk-go-v2.
//
// Запись идёт через manager.Uploader: поток режется на части PartSize
// без буферизации всего файла. При ошибке multipart upload отменяется SDK.
package s3store

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/aws/retry"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/credentials"
	"github.com/aws/aws-sdk-go-v2/feature/s3/manager"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/aws/aws-sdk-go-v2/service/s3/types"

	"github.com/bigkaa/goartstore/file-service/internal/storage"
)

// Config — параметры подключения к S3.
type Config struct {
	// Endpoint — URL S3-совместимого хранилища (пусто — AWS по умолчанию)
	Endpoint string
	Region   string
	Bucket   string
	// AccessKey/SecretKey — статические учётные данные
	// (пусто — стандартная цепочка провайдеров AWS)
	AccessKey string
	SecretKey string
	// Prefix — префикс ключей объектов
	Prefix string
	// UsePathStyle — path-style адресация (MinIO)
	UsePathStyle bool
	// MaxAttempts — число попыток запроса стандартного retryer
	MaxAttempts int
	// PartSize — размер части multipart upload (минимум 5 MiB)
	PartSize int64
	// ServerSideEncryption — включить SSE (AES256)
	ServerSideEncryption bool
}

// Store — S3 backend.
type Store struct {
	client   *s3.Client
	uploader *manager.Uploader
	bucket   string
	prefix   string
	sse      bool
	logger   *slog.Logger
}

var _ storage.Backend = (*Store)(nil)

// New создаёт S3 backend из конфигурации.
func New(ctx context.Context, cfg Config, logger *slog.Logger) (*Store, error) {
	if cfg.Bucket == "" {
		return nil, errors.New("не задан bucket S3")
	}

	opts := []func(*awsconfig.LoadOptions) error{
		awsconfig.WithRegion(cfg.Region),
	}
	if cfg.MaxAttempts > 0 {
		opts = append(opts, awsconfig.WithRetryer(func() aws.Retryer {
			return retry.NewStandard(func(o *retry.StandardOptions) {
				o.MaxAttempts = cfg.MaxAttempts
			})
		}))
	}
	if cfg.AccessKey != "" {
		opts = append(opts, awsconfig.WithCredentialsProvider(
			credentials.NewStaticCredentialsProvider(cfg.AccessKey, cfg.SecretKey, ""),
		))
	}

	awsCfg, err := awsconfig.LoadDefaultConfig(ctx, opts...)
	if err != nil {
		return nil, fmt.Errorf("ошибка загрузки конфигурации AWS: %w", err)
	}

	client := s3.NewFromConfig(awsCfg, func(o *s3.Options) {
		if cfg.Endpoint != "" {
			o.BaseEndpoint = aws.String(cfg.Endpoint)
		}
		o.UsePathStyle = cfg.UsePathStyle
	})

	return NewWithClient(client, cfg, logger), nil
}

// NewWithClient создаёт backend с готовым клиентом S3.
func NewWithClient(client *s3.Client, cfg Config, logger *slog.Logger) *Store {
	uploader := manager.NewUploader(client, func(u *manager.Uploader) {
		if cfg.PartSize >= manager.MinUploadPartSize {
			u.PartSize = cfg.PartSize
		}
		// Одна часть в полёте на загрузку.
		u.Concurrency = 1
	})

	return &Store{
		client:   client,
		uploader: uploader,
		bucket:   cfg.Bucket,
		prefix:   cfg.Prefix,
		sse:      cfg.ServerSideEncryption,
		logger:   logger.With(slog.String("component", "s3store")),
	}
}

// Name возвращает имя реализации.
func (s *Store) Name() string {
	return "s3"
}

// NewKey возвращает ключ вида prefix/ab/cd/<id>.
func (s *Store) NewKey(fileID string) string {
	return storage.ShardedKey(s.prefix, fileID)
}

// Put загружает поток в S3. Существующий объект не перезаписывается.
func (s *Store) Put(ctx context.Context, key string, r io.Reader) (int64, error) {
	if _, err := s.client.HeadObject(ctx, &s3.HeadObjectInput{
		Bucket: aws.String(s.bucket),
		Key:    aws.String(key),
	}); err == nil {
		return 0, fmt.Errorf("%w: %s", storage.ErrExists, key)
	} else if !isNotFound(err) {
		return 0, fmt.Errorf("ошибка проверки объекта S3: %w", err)
	}

	body, count := storage.CountingReader(r)
	input := &s3.PutObjectInput{
		Bucket:      aws.String(s.bucket),
		Key:         aws.String(key),
		Body:        body,
		ContentType: aws.String("application/octet-stream"),
	}
	if s.sse {
		input.ServerSideEncryption = types.ServerSideEncryptionAes256
	}

	if _, err := s.uploader.Upload(ctx, input); err != nil {
		return count(), fmt.Errorf("ошибка загрузки в S3: %w", err)
	}

	s.logger.Debug("Объект загружен в S3",
		slog.String("key", key),
		slog.Int64("bytes", count()),
	)
	return count(), nil
}

// Get открывает поток чтения объекта.
func (s *Store) Get(ctx context.Context, key string) (io.ReadCloser, error) {
	out, err := s.client.GetObject(ctx, &s3.GetObjectInput{
		Bucket: aws.String(s.bucket),
		Key:    aws.String(key),
	})
	if err != nil {
		if isNotFound(err) {
			return nil, fmt.Errorf("%w: %s", storage.ErrNotFound, key)
		}
		return nil, fmt.Errorf("ошибка чтения из S3: %w", err)
	}
	return out.Body, nil
}

// Remove удаляет объект. S3 DeleteObject идемпотентен.
func (s *Store) Remove(ctx context.Context, key string) error {
	_, err := s.client.DeleteObject(ctx, &s3.DeleteObjectInput{
		Bucket: aws.String(s.bucket),
		Key:    aws.String(key),
	})
	if err != nil && !isNotFound(err) {
		return fmt.Errorf("ошибка удаления из S3: %w", err)
	}
	return nil
}

// Ping проверяет доступность bucket.
func (s *Store) Ping(ctx context.Context) error {
	if _, err := s.client.HeadBucket(ctx, &s3.HeadBucketInput{Bucket: aws.String(s.bucket)}); err != nil {
		return fmt.Errorf("bucket %s недоступен: %w", s.bucket, err)
	}
	return nil
}

// isNotFound распознаёт отсутствие объекта: NoSuchKey для GetObject,
// NotFound для HeadObject (у HEAD-ответа нет тела с кодом ошибки).
func isNotFound(err error) bool {
	var noSuchKey *types.NoSuchKey
	if errors.As(err, &noSuchKey) {
		return true
	}
	var notFound *types.NotFound
	return errors.As(err, &notFound)
}
