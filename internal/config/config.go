// Пакет config — загрузка и валидация конфигурации File Service
// из переменных окружения.
package config

import (
	"fmt"
	"io"
	"log/slog"
	"net/url"
	"os"
	"strconv"
	"strings"
	"time"

	"gopkg.in/natefinch/lumberjack.v2"

	"github.com/bigkaa/goartstore/file-service/internal/pool"
	"github.com/bigkaa/goartstore/file-service/internal/validator"
)

// Версия приложения, задаётся при сборке через -ldflags.
var Version = "dev"

// Типы storage backend.
const (
	BackendLocal = "local"
	BackendS3    = "s3"
	BackendGCS   = "gcs"
)

// Config содержит все параметры конфигурации File Service.
type Config struct {
	// Порт HTTP-сервера
	Port int

	// Уровень логирования (debug, info, warn, error)
	LogLevel slog.Level
	// Формат логов (json, text)
	LogFormat string
	// Файл логов с ротацией (опционально, дополнительно к stdout)
	LogFile       string
	LogMaxSizeMB  int
	LogMaxBackups int
	LogMaxAgeDays int

	// PostgreSQL
	DBHost     string
	DBPort     int
	DBName     string
	DBUser     string
	DBPassword string
	DBSSLMode  string
	// Максимальное число соединений пула pgx
	DBMaxConns int32
	// Число повторов транзакции при serialization failure
	DBTxRetries int

	// Storage backend: local, s3, gcs
	StorageBackend string
	// Директория данных (local)
	DataDir string

	// S3
	S3Endpoint       string
	S3Region         string
	S3Bucket         string
	S3AccessKey      string
	S3SecretKey      string
	S3Prefix         string
	S3ForcePathStyle bool
	S3MaxAttempts    int
	S3PartSize       int64
	S3SSE            bool

	// GCS
	GCSBucket          string
	GCSPrefix          string
	GCSCredentialsFile string
	GCSEndpoint        string

	// Максимальный размер файла в байтах
	MaxFileSize int64
	// Разрешённые MIME-типы
	AllowedContentTypes []string

	// Worker Resource Pool
	PoolMaxWorkers int
	PoolQueueSize  int
	PoolBufferSize int

	// Проверка содержимого по сигнатуре (mimetype) при загрузке
	SniffContent bool
	// Пересчёт checksum при скачивании
	VerifyOnDownload bool

	// LRU-кэш метаданных (размер 0 — кэш отключён)
	CacheSize int
	CacheTTL  time.Duration

	// Ограничение частоты запросов на клиента (0 — отключено)
	RateLimitRPS   float64
	RateLimitBurst int

	// JWT-аутентификация (пустой JWKSURL — отключена)
	JWKSURL    string
	JWKSCACert string
	JWTLeeway  time.Duration

	// Reclaimer: физическое удаление объектов soft-deleted файлов
	ReclaimInterval  time.Duration
	ReclaimRetention time.Duration
	ReclaimBatchSize int

	// topologymetrics
	DephealthCheckInterval time.Duration
	DephealthGroup         string

	// Таймаут загрузки одного файла
	UploadTimeout time.Duration
	// Таймаут graceful shutdown HTTP-сервера
	ShutdownTimeout time.Duration
	// Таймауты HTTP-сервера. Таймаут чтения тела не задаётся:
	// длительность загрузки ограничивает UploadTimeout.
	HTTPReadHeaderTimeout time.Duration
	HTTPIdleTimeout       time.Duration

	// TLS (опционально)
	TLSCert string
	TLSKey  string
}

// Load загружает конфигурацию из переменных окружения, валидирует
// обязательные поля и возвращает Config или ошибку.
func Load() (*Config, error) {
	cfg := &Config{}
	var err error

	// FS_PORT — порт HTTP-сервера (по умолчанию 8080)
	cfg.Port, err = getEnvInt("FS_PORT", 8080)
	if err != nil {
		return nil, fmt.Errorf("FS_PORT: %w", err)
	}
	if cfg.Port < 1 || cfg.Port > 65535 {
		return nil, fmt.Errorf("FS_PORT: значение %d вне допустимого диапазона 1-65535", cfg.Port)
	}

	// --- Логирование ---

	cfg.LogLevel, err = parseLogLevel(getEnvDefault("FS_LOG_LEVEL", "info"))
	if err != nil {
		return nil, fmt.Errorf("FS_LOG_LEVEL: %w", err)
	}

	cfg.LogFormat = getEnvDefault("FS_LOG_FORMAT", "json")
	if cfg.LogFormat != "json" && cfg.LogFormat != "text" {
		return nil, fmt.Errorf("FS_LOG_FORMAT: недопустимое значение %q, допустимые: json, text", cfg.LogFormat)
	}

	cfg.LogFile = getEnvDefault("FS_LOG_FILE", "")
	if cfg.LogMaxSizeMB, err = getEnvInt("FS_LOG_MAX_SIZE_MB", 100); err != nil {
		return nil, fmt.Errorf("FS_LOG_MAX_SIZE_MB: %w", err)
	}
	if cfg.LogMaxBackups, err = getEnvInt("FS_LOG_MAX_BACKUPS", 5); err != nil {
		return nil, fmt.Errorf("FS_LOG_MAX_BACKUPS: %w", err)
	}
	if cfg.LogMaxAgeDays, err = getEnvInt("FS_LOG_MAX_AGE_DAYS", 30); err != nil {
		return nil, fmt.Errorf("FS_LOG_MAX_AGE_DAYS: %w", err)
	}

	// --- PostgreSQL ---

	if cfg.DBHost, err = getEnvRequired("FS_DB_HOST"); err != nil {
		return nil, err
	}
	if cfg.DBPort, err = getEnvInt("FS_DB_PORT", 5432); err != nil {
		return nil, fmt.Errorf("FS_DB_PORT: %w", err)
	}
	if cfg.DBName, err = getEnvRequired("FS_DB_NAME"); err != nil {
		return nil, err
	}
	if cfg.DBUser, err = getEnvRequired("FS_DB_USER"); err != nil {
		return nil, err
	}
	if cfg.DBPassword, err = getEnvRequired("FS_DB_PASSWORD"); err != nil {
		return nil, err
	}
	cfg.DBSSLMode = getEnvDefault("FS_DB_SSL_MODE", "disable")

	maxConns, err := getEnvInt("FS_DB_MAX_CONNS", 20)
	if err != nil {
		return nil, fmt.Errorf("FS_DB_MAX_CONNS: %w", err)
	}
	if maxConns <= 0 {
		return nil, fmt.Errorf("FS_DB_MAX_CONNS: значение должно быть положительным")
	}
	cfg.DBMaxConns = int32(maxConns)

	if cfg.DBTxRetries, err = getEnvInt("FS_DB_TX_RETRIES", 3); err != nil {
		return nil, fmt.Errorf("FS_DB_TX_RETRIES: %w", err)
	}
	if cfg.DBTxRetries < 0 {
		return nil, fmt.Errorf("FS_DB_TX_RETRIES: значение не может быть отрицательным")
	}

	// --- Storage backend ---

	cfg.StorageBackend = strings.ToLower(getEnvDefault("FS_STORAGE_BACKEND", BackendLocal))
	switch cfg.StorageBackend {
	case BackendLocal:
		if cfg.DataDir, err = getEnvRequired("FS_DATA_DIR"); err != nil {
			return nil, err
		}
	case BackendS3:
		if cfg.S3Bucket, err = getEnvRequired("FS_S3_BUCKET"); err != nil {
			return nil, err
		}
	case BackendGCS:
		if cfg.GCSBucket, err = getEnvRequired("FS_GCS_BUCKET"); err != nil {
			return nil, err
		}
	default:
		return nil, fmt.Errorf("FS_STORAGE_BACKEND: недопустимое значение %q, допустимые: local, s3, gcs", cfg.StorageBackend)
	}

	cfg.S3Endpoint = getEnvDefault("FS_S3_ENDPOINT", "")
	if cfg.S3Endpoint != "" {
		if _, err := url.ParseRequestURI(cfg.S3Endpoint); err != nil {
			return nil, fmt.Errorf("FS_S3_ENDPOINT: некорректный URL %q", cfg.S3Endpoint)
		}
	}
	cfg.S3Region = getEnvDefault("FS_S3_REGION", "us-east-1")
	cfg.S3AccessKey = getEnvDefault("FS_S3_ACCESS_KEY", "")
	cfg.S3SecretKey = getEnvDefault("FS_S3_SECRET_KEY", "")
	if (cfg.S3AccessKey == "") != (cfg.S3SecretKey == "") {
		return nil, fmt.Errorf("FS_S3_ACCESS_KEY и FS_S3_SECRET_KEY задаются только вместе")
	}
	cfg.S3Prefix = getEnvDefault("FS_S3_PREFIX", "files")
	if cfg.S3ForcePathStyle, err = getEnvBool("FS_S3_FORCE_PATH_STYLE", false); err != nil {
		return nil, fmt.Errorf("FS_S3_FORCE_PATH_STYLE: %w", err)
	}
	if cfg.S3MaxAttempts, err = getEnvInt("FS_S3_MAX_ATTEMPTS", 3); err != nil {
		return nil, fmt.Errorf("FS_S3_MAX_ATTEMPTS: %w", err)
	}
	if cfg.S3PartSize, err = getEnvInt64("FS_S3_PART_SIZE", 8<<20); err != nil {
		return nil, fmt.Errorf("FS_S3_PART_SIZE: %w", err)
	}
	if cfg.S3PartSize < 5<<20 {
		return nil, fmt.Errorf("FS_S3_PART_SIZE: минимальный размер части 5 MiB")
	}
	if cfg.S3SSE, err = getEnvBool("FS_S3_SSE", false); err != nil {
		return nil, fmt.Errorf("FS_S3_SSE: %w", err)
	}

	cfg.GCSPrefix = getEnvDefault("FS_GCS_PREFIX", "files")
	cfg.GCSCredentialsFile = getEnvDefault("FS_GCS_CREDENTIALS_FILE", "")
	cfg.GCSEndpoint = getEnvDefault("FS_GCS_ENDPOINT", "")

	// --- Валидация загрузок ---

	if cfg.MaxFileSize, err = getEnvInt64("FS_MAX_FILE_SIZE", validator.DefaultMaxFileSize); err != nil {
		return nil, fmt.Errorf("FS_MAX_FILE_SIZE: %w", err)
	}
	if cfg.MaxFileSize <= 0 {
		return nil, fmt.Errorf("FS_MAX_FILE_SIZE: значение должно быть положительным")
	}
	cfg.AllowedContentTypes = getEnvList("FS_ALLOWED_CONTENT_TYPES", validator.DefaultAllowedContentTypes)

	// --- Worker Resource Pool ---

	if cfg.PoolMaxWorkers, err = getEnvInt("FS_POOL_MAX_WORKERS", pool.DefaultMaxWorkers); err != nil {
		return nil, fmt.Errorf("FS_POOL_MAX_WORKERS: %w", err)
	}
	if cfg.PoolMaxWorkers <= 0 {
		return nil, fmt.Errorf("FS_POOL_MAX_WORKERS: значение должно быть положительным")
	}
	if cfg.PoolQueueSize, err = getEnvInt("FS_POOL_QUEUE_SIZE", pool.DefaultQueueSize); err != nil {
		return nil, fmt.Errorf("FS_POOL_QUEUE_SIZE: %w", err)
	}
	if cfg.PoolQueueSize < 0 {
		return nil, fmt.Errorf("FS_POOL_QUEUE_SIZE: значение не может быть отрицательным")
	}
	if cfg.PoolBufferSize, err = getEnvInt("FS_POOL_BUFFER_SIZE", pool.DefaultBufferSize); err != nil {
		return nil, fmt.Errorf("FS_POOL_BUFFER_SIZE: %w", err)
	}
	if cfg.PoolBufferSize < 512 {
		return nil, fmt.Errorf("FS_POOL_BUFFER_SIZE: минимальный размер буфера 512 байт")
	}

	if cfg.SniffContent, err = getEnvBool("FS_SNIFF_CONTENT", true); err != nil {
		return nil, fmt.Errorf("FS_SNIFF_CONTENT: %w", err)
	}
	if cfg.VerifyOnDownload, err = getEnvBool("FS_VERIFY_ON_DOWNLOAD", false); err != nil {
		return nil, fmt.Errorf("FS_VERIFY_ON_DOWNLOAD: %w", err)
	}

	// --- Кэш ---

	if cfg.CacheSize, err = getEnvInt("FS_CACHE_SIZE", 1000); err != nil {
		return nil, fmt.Errorf("FS_CACHE_SIZE: %w", err)
	}
	if cfg.CacheTTL, err = getEnvDuration("FS_CACHE_TTL", 30*time.Second); err != nil {
		return nil, fmt.Errorf("FS_CACHE_TTL: %w", err)
	}

	// --- Rate limit ---

	if cfg.RateLimitRPS, err = getEnvFloat("FS_RATE_LIMIT_RPS", 0); err != nil {
		return nil, fmt.Errorf("FS_RATE_LIMIT_RPS: %w", err)
	}
	if cfg.RateLimitBurst, err = getEnvInt("FS_RATE_LIMIT_BURST", 20); err != nil {
		return nil, fmt.Errorf("FS_RATE_LIMIT_BURST: %w", err)
	}

	// --- JWT ---

	cfg.JWKSURL = getEnvDefault("FS_JWKS_URL", "")
	cfg.JWKSCACert = getEnvDefault("FS_JWKS_CA_CERT", "")
	if cfg.JWTLeeway, err = getEnvDuration("FS_JWT_LEEWAY", 5*time.Second); err != nil {
		return nil, fmt.Errorf("FS_JWT_LEEWAY: %w", err)
	}

	// --- Reclaimer ---

	if cfg.ReclaimInterval, err = getEnvDuration("FS_RECLAIM_INTERVAL", 0); err != nil {
		return nil, fmt.Errorf("FS_RECLAIM_INTERVAL: %w", err)
	}
	if cfg.ReclaimRetention, err = getEnvDuration("FS_RECLAIM_RETENTION", 30*24*time.Hour); err != nil {
		return nil, fmt.Errorf("FS_RECLAIM_RETENTION: %w", err)
	}
	if cfg.ReclaimBatchSize, err = getEnvInt("FS_RECLAIM_BATCH_SIZE", 100); err != nil {
		return nil, fmt.Errorf("FS_RECLAIM_BATCH_SIZE: %w", err)
	}
	if cfg.ReclaimBatchSize <= 0 {
		return nil, fmt.Errorf("FS_RECLAIM_BATCH_SIZE: значение должно быть положительным")
	}

	// --- topologymetrics ---

	if cfg.DephealthCheckInterval, err = getEnvDuration("FS_DEPHEALTH_CHECK_INTERVAL", 15*time.Second); err != nil {
		return nil, fmt.Errorf("FS_DEPHEALTH_CHECK_INTERVAL: %w", err)
	}
	cfg.DephealthGroup = getEnvDefault("FS_DEPHEALTH_GROUP", "file-service")

	// --- Таймауты и TLS ---

	if cfg.UploadTimeout, err = getEnvDuration("FS_UPLOAD_TIMEOUT", 10*time.Minute); err != nil {
		return nil, fmt.Errorf("FS_UPLOAD_TIMEOUT: %w", err)
	}
	if cfg.ShutdownTimeout, err = getEnvDuration("FS_SHUTDOWN_TIMEOUT", 30*time.Second); err != nil {
		return nil, fmt.Errorf("FS_SHUTDOWN_TIMEOUT: %w", err)
	}

	if cfg.HTTPReadHeaderTimeout, err = getEnvDuration("FS_HTTP_READ_HEADER_TIMEOUT", 10*time.Second); err != nil {
		return nil, fmt.Errorf("FS_HTTP_READ_HEADER_TIMEOUT: %w", err)
	}
	if cfg.HTTPIdleTimeout, err = getEnvDuration("FS_HTTP_IDLE_TIMEOUT", 120*time.Second); err != nil {
		return nil, fmt.Errorf("FS_HTTP_IDLE_TIMEOUT: %w", err)
	}

	cfg.TLSCert = getEnvDefault("FS_TLS_CERT", "")
	cfg.TLSKey = getEnvDefault("FS_TLS_KEY", "")
	if (cfg.TLSCert == "") != (cfg.TLSKey == "") {
		return nil, fmt.Errorf("FS_TLS_CERT и FS_TLS_KEY задаются только вместе")
	}

	return cfg, nil
}

// DatabaseDSN возвращает строку подключения к PostgreSQL для pgx.
func (c *Config) DatabaseDSN() string {
	return fmt.Sprintf("postgres://%s:%s@%s:%d/%s?sslmode=%s",
		url.QueryEscape(c.DBUser), url.QueryEscape(c.DBPassword),
		c.DBHost, c.DBPort, c.DBName, c.DBSSLMode)
}

// DatabaseURL возвращает URL PostgreSQL без пароля (для метрик и логов).
func (c *Config) DatabaseURL() string {
	return fmt.Sprintf("postgres://%s:%d/%s", c.DBHost, c.DBPort, c.DBName)
}

// SetupLogger настраивает глобальный slog-логгер на основе конфигурации.
// При заданном FS_LOG_FILE логи дополнительно пишутся в файл с ротацией.
func SetupLogger(cfg *Config) *slog.Logger {
	opts := &slog.HandlerOptions{
		Level: cfg.LogLevel,
	}

	var out io.Writer = os.Stdout
	if cfg.LogFile != "" {
		out = io.MultiWriter(os.Stdout, &lumberjack.Logger{
			Filename:   cfg.LogFile,
			MaxSize:    cfg.LogMaxSizeMB,
			MaxBackups: cfg.LogMaxBackups,
			MaxAge:     cfg.LogMaxAgeDays,
			Compress:   true,
		})
	}

	var handler slog.Handler
	if cfg.LogFormat == "json" {
		handler = slog.NewJSONHandler(out, opts)
	} else {
		handler = slog.NewTextHandler(out, opts)
	}

	logger := slog.New(handler)
	slog.SetDefault(logger)
	return logger
}

// --- Вспомогательные функции ---

// getEnvRequired возвращает значение переменной окружения или ошибку, если она не задана.
func getEnvRequired(key string) (string, error) {
	val := os.Getenv(key)
	if val == "" {
		return "", fmt.Errorf("%s: обязательная переменная окружения не задана", key)
	}
	return val, nil
}

// getEnvDefault возвращает значение переменной окружения или значение по умолчанию.
func getEnvDefault(key, defaultVal string) string {
	val := os.Getenv(key)
	if val == "" {
		return defaultVal
	}
	return val
}

// getEnvInt возвращает целочисленное значение переменной окружения или значение по умолчанию.
func getEnvInt(key string, defaultVal int) (int, error) {
	val := os.Getenv(key)
	if val == "" {
		return defaultVal, nil
	}
	n, err := strconv.Atoi(val)
	if err != nil {
		return 0, fmt.Errorf("некорректное целое число: %q", val)
	}
	return n, nil
}

// getEnvInt64 возвращает int64 значение переменной окружения или значение по умолчанию.
func getEnvInt64(key string, defaultVal int64) (int64, error) {
	val := os.Getenv(key)
	if val == "" {
		return defaultVal, nil
	}
	n, err := strconv.ParseInt(val, 10, 64)
	if err != nil {
		return 0, fmt.Errorf("некорректное целое число: %q", val)
	}
	return n, nil
}

// getEnvFloat возвращает float64 значение переменной окружения или значение по умолчанию.
func getEnvFloat(key string, defaultVal float64) (float64, error) {
	val := os.Getenv(key)
	if val == "" {
		return defaultVal, nil
	}
	f, err := strconv.ParseFloat(val, 64)
	if err != nil || f < 0 {
		return 0, fmt.Errorf("некорректное неотрицательное число: %q", val)
	}
	return f, nil
}

// getEnvBool возвращает булево значение переменной окружения или значение по умолчанию.
func getEnvBool(key string, defaultVal bool) (bool, error) {
	val := os.Getenv(key)
	if val == "" {
		return defaultVal, nil
	}
	b, err := strconv.ParseBool(val)
	if err != nil {
		return false, fmt.Errorf("некорректное булево значение: %q", val)
	}
	return b, nil
}

// getEnvList возвращает список значений через запятую или значение по умолчанию.
func getEnvList(key string, defaultVal []string) []string {
	val := os.Getenv(key)
	if val == "" {
		return defaultVal
	}
	var result []string
	for _, item := range strings.Split(val, ",") {
		if item = strings.TrimSpace(item); item != "" {
			result = append(result, item)
		}
	}
	if len(result) == 0 {
		return defaultVal
	}
	return result
}

// getEnvDuration возвращает time.Duration из переменной окружения или значение по умолчанию.
func getEnvDuration(key string, defaultVal time.Duration) (time.Duration, error) {
	val := os.Getenv(key)
	if val == "" {
		return defaultVal, nil
	}
	d, err := time.ParseDuration(val)
	if err != nil {
		return 0, fmt.Errorf("некорректная длительность: %q (используйте формат Go: 30s, 1h, 6h)", val)
	}
	if d < 0 {
		return 0, fmt.Errorf("длительность не может быть отрицательной: %q", val)
	}
	return d, nil
}

// parseLogLevel преобразует строку уровня логирования в slog.Level.
func parseLogLevel(level string) (slog.Level, error) {
	switch strings.ToLower(level) {
	case "debug":
		return slog.LevelDebug, nil
	case "info":
		return slog.LevelInfo, nil
	case "warn", "warning":
		return slog.LevelWarn, nil
	case "error":
		return slog.LevelError, nil
	default:
		return slog.LevelInfo, fmt.Errorf("недопустимый уровень %q, допустимые: debug, info, warn, error", level)
	}
}
