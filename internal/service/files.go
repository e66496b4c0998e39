// Пакет service — бизнес-логика File Service.
// files.go — оркестратор загрузки, скачивания, удаления и листинга файлов:
// Validator → Checksum Pipeline → Storage Backend → Metadata Repository.
package service

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"strings"
	"time"

	"github.com/gabriel-vasile/mimetype"
	"github.com/google/uuid"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"golang.org/x/sync/errgroup"

	"github.com/bigkaa/goartstore/file-service/internal/checksum"
	"github.com/bigkaa/goartstore/file-service/internal/domain/model"
	"github.com/bigkaa/goartstore/file-service/internal/pool"
	"github.com/bigkaa/goartstore/file-service/internal/repository"
	"github.com/bigkaa/goartstore/file-service/internal/storage"
	"github.com/bigkaa/goartstore/file-service/internal/validator"
)

// Параметры листинга.
const (
	DefaultListLimit = 50
	MaxListLimit     = 1000
)

const (
	// sniffLen — объём начала потока для определения типа содержимого.
	sniffLen = 3072
	// cleanupTimeout — таймаут удаления частично записанного объекта.
	cleanupTimeout = 30 * time.Second
)

// Prometheus-метрики операций.
var (
	fileOperationsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "fs_file_operations_total",
		Help: "Количество операций с файлами по типу и результату.",
	}, []string{"operation", "result"})

	fileOperationDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "fs_file_operation_duration_seconds",
		Help:    "Длительность операций с файлами в секундах.",
		Buckets: []float64{0.005, 0.01, 0.05, 0.1, 0.5, 1, 5, 10, 30, 60},
	}, []string{"operation"})

	uploadedBytesTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "fs_uploaded_bytes_total",
		Help: "Общее количество байт успешно загруженных файлов.",
	})
)

// errConsumerGone — запись в pipe невозможна: backend завершил чтение.
var errConsumerGone = errors.New("backend прекратил чтение потока")

// Options — переключатели поведения FileService.
type Options struct {
	// SniffContent — сверять сигнатуру содержимого с заявленным MIME-типом
	SniffContent bool
	// VerifyOnDownload — пересчитывать checksum при скачивании
	VerifyOnDownload bool
	// UploadTimeout — предельная длительность одной загрузки (0 — без ограничения)
	UploadTimeout time.Duration
}

// UploadParams — параметры загрузки файла.
type UploadParams struct {
	// FileName — имя файла от клиента
	FileName string
	// ContentType — заявленный MIME-тип
	ContentType string
	// Size — заявленный размер в байтах
	Size int64
	// Reader — поток данных файла
	Reader io.Reader
	// ExpectedChecksum — hex SHA-256 от клиента (опционально)
	ExpectedChecksum string
	// UploadedBy — идентификатор пользователя (sub из JWT)
	UploadedBy string
}

// ListParams — параметры листинга.
type ListParams struct {
	Offset      int
	Limit       int
	FileName    *string
	ContentType *string
	Checksum    *string
}

// ListResult — страница файлов.
type ListResult struct {
	Items  []*model.FileRecord
	Total  int
	Offset int
	Limit  int
}

// UpdateParams — изменяемые поля метаданных. nil — поле не меняется.
type UpdateParams struct {
	FileName    *string
	ContentType *string
}

// FileService — сервис операций с файлами.
type FileService struct {
	repo      repository.FileRepository
	backend   storage.Backend
	validator *validator.Validator
	pool      *pool.BufferPool
	cache     *CacheService
	opts      Options

	now    func() time.Time
	newID  func() string
	logger *slog.Logger
}

// NewFileService создаёт сервис операций с файлами.
// cache может быть nil (кэш отключён).
func NewFileService(
	repo repository.FileRepository,
	backend storage.Backend,
	v *validator.Validator,
	bufPool *pool.BufferPool,
	cache *CacheService,
	opts Options,
	logger *slog.Logger,
) *FileService {
	return &FileService{
		repo:      repo,
		backend:   backend,
		validator: v,
		pool:      bufPool,
		cache:     cache,
		opts:      opts,
		now:       func() time.Time { return time.Now().UTC() },
		newID:     func() string { return uuid.New().String() },
		logger:    logger.With(slog.String("component", "file_service")),
	}
}

// Upload загружает файл в хранилище и сохраняет метаданные.
//
// Поток:
//  1. Валидация имени, типа и размера (без побочных эффектов)
//  2. Запись uploading в памяти, ключ хранения от backend-а
//  3. Буфер из пула
//  4. Producer (чтение клиента → checksum → pipe) и consumer (backend.Put)
//  5. Сверка размера и checksum
//  6. MarkUploaded + repo.Create
//
// При любой ошибке после начала записи объект удаляется, запись в БД не создаётся.
func (s *FileService) Upload(ctx context.Context, p UploadParams) (*model.FileRecord, error) {
	start := time.Now()
	rec, err := s.upload(ctx, p)
	observe("upload", start, err)
	if err == nil {
		uploadedBytesTotal.Add(float64(rec.Size))
	}
	return rec, err
}

func (s *FileService) upload(ctx context.Context, p UploadParams) (*model.FileRecord, error) {
	// 1. Валидация
	if err := s.validator.Validate(p.FileName, p.ContentType, p.Size); err != nil {
		return nil, fromValidation(err)
	}
	contentType, err := validator.NormalizeContentType(p.ContentType)
	if err != nil {
		return nil, fromValidation(err)
	}
	if p.ExpectedChecksum != "" && !checksum.IsValidHex(p.ExpectedChecksum) {
		return nil, invalidInput(CodeInvalidChecksum, "Checksum должен быть hex SHA-256 (64 символа)", nil)
	}
	if p.Reader == nil {
		return nil, invalidInput(validator.CodeEmptyFile, "Отсутствуют данные файла", nil)
	}

	// 2. Запись в памяти
	id := s.newID()
	rec := model.NewFileRecord(id, p.FileName, p.Size, contentType, s.now())
	rec.StoragePath = s.backend.NewKey(id)
	rec.UploadedBy = p.UploadedBy

	if s.opts.UploadTimeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, s.opts.UploadTimeout)
		defer cancel()
	}

	// 3. Буфер из пула, возвращается на любом пути выхода
	buf, err := s.pool.Acquire(ctx)
	if err != nil {
		if errors.Is(err, pool.ErrSaturated) {
			return nil, busy(err)
		}
		return nil, operationFailed("Загрузка отменена", err)
	}
	defer buf.Release()

	// 4. Передача данных
	sum, err := s.transfer(ctx, rec, p, buf.Bytes())
	if err != nil {
		// Занятый ключ принадлежит чужому объекту: удалять нечего
		if !errors.Is(err, storage.ErrExists) {
			s.cleanup(ctx, rec)
		}
		s.logger.Warn("Загрузка прервана",
			slog.String("file_id", id),
			slog.String("error", err.Error()),
		)
		return nil, err
	}

	// 5. Сверка checksum
	if p.ExpectedChecksum != "" && !checksum.Equal(sum, p.ExpectedChecksum) {
		s.cleanup(ctx, rec)
		s.logger.Warn("Checksum не совпадает",
			slog.String("file_id", id),
			slog.String("expected", p.ExpectedChecksum),
			slog.String("actual", sum),
		)
		return nil, checksumMismatch()
	}

	// 6. Фиксация метаданных
	if err := rec.MarkUploaded(sum, s.now()); err != nil {
		s.cleanup(ctx, rec)
		return nil, operationFailed("Ошибка завершения загрузки", err)
	}
	if err := s.repo.Create(ctx, rec); err != nil {
		s.cleanup(ctx, rec)
		s.logger.Error("Ошибка сохранения метаданных",
			slog.String("file_id", id),
			slog.String("error", err.Error()),
		)
		return nil, operationFailed("Ошибка сохранения метаданных файла", err)
	}

	s.cache.Set(id, rec)
	s.logger.Info("Файл загружен",
		slog.String("file_id", id),
		slog.String("file_name", rec.FileName),
		slog.Int64("size", rec.Size),
		slog.String("checksum", sum),
		slog.String("backend", s.backend.Name()),
	)
	return rec, nil
}

// transfer передаёт поток клиента в backend и возвращает checksum.
// Producer и consumer связаны через io.Pipe; ошибка любой стороны
// отменяет другую через контекст errgroup и закрытие pipe.
func (s *FileService) transfer(ctx context.Context, rec *model.FileRecord, p UploadParams, buf []byte) (string, error) {
	g, gctx := errgroup.WithContext(ctx)
	pr, pw := io.Pipe()

	src := checksum.New(io.LimitReader(storage.ContextReader(gctx, p.Reader), p.Size+1))

	var (
		sum     string
		prodErr error
		putErr  error
		written int64
	)

	g.Go(func() error {
		prodErr = s.produce(pw, src, buf, rec.ContentType, p.Size)
		if prodErr == nil {
			sum, prodErr = src.Finalize()
		}
		pw.CloseWithError(prodErr)
		return prodErr
	})

	g.Go(func() error {
		written, putErr = s.backend.Put(gctx, rec.StoragePath, pr)
		if putErr != nil {
			pr.CloseWithError(putErr)
		} else {
			pr.Close()
		}
		return putErr
	})

	_ = g.Wait()

	var svcErr *Error
	switch {
	case prodErr != nil && !errors.Is(prodErr, errConsumerGone):
		if errors.As(prodErr, &svcErr) {
			return "", svcErr
		}
		if ctx.Err() != nil {
			return "", operationFailed("Загрузка отменена", prodErr)
		}
		return "", operationFailed("Ошибка чтения загружаемых данных", prodErr)
	case putErr != nil:
		if ctx.Err() != nil {
			return "", operationFailed("Загрузка отменена", putErr)
		}
		return "", operationFailed("Ошибка записи в хранилище", putErr)
	case prodErr != nil || written != p.Size:
		return "", &Error{
			Kind:    ErrOperationFailed,
			Code:    CodeSizeMismatch,
			Message: fmt.Sprintf("Хранилище приняло %d байт вместо %d", written, p.Size),
			Err:     prodErr,
		}
	}
	return sum, nil
}

// produce копирует поток клиента в pipe через буфер пула.
// Сверяет фактический размер с заявленным и, при включённой проверке,
// сигнатуру содержимого с заявленным MIME-типом.
func (s *FileService) produce(w io.Writer, src *checksum.Pipeline, buf []byte, contentType string, size int64) error {
	if s.opts.SniffContent {
		head := buf[:min(len(buf), sniffLen)]
		n, err := io.ReadFull(src, head)
		if err != nil && !errors.Is(err, io.EOF) && !errors.Is(err, io.ErrUnexpectedEOF) {
			return err
		}
		if detected, ok := contentMatches(head[:n], contentType); !ok {
			return invalidInput(CodeMIMESpoofing,
				fmt.Sprintf("Содержимое файла (%s) не соответствует заявленному типу %s", detected, contentType), nil)
		}
		if n > 0 {
			if _, err := w.Write(head[:n]); err != nil {
				return fmt.Errorf("%w: %v", errConsumerGone, err)
			}
		}
	}

	for {
		n, rerr := src.Read(buf)
		if n > 0 {
			if _, err := w.Write(buf[:n]); err != nil {
				return fmt.Errorf("%w: %v", errConsumerGone, err)
			}
		}
		if errors.Is(rerr, io.EOF) {
			break
		}
		if rerr != nil {
			return rerr
		}
	}

	if got := src.BytesRead(); got != size {
		msg := fmt.Sprintf("Получено %d байт, заявлено %d", got, size)
		if got > size {
			msg = fmt.Sprintf("Получено больше данных, чем заявлено (%d байт)", size)
		}
		return &Error{Kind: ErrOperationFailed, Code: CodeSizeMismatch, Message: msg}
	}
	return nil
}

// contentMatches сверяет определённый по сигнатуре тип с заявленным.
// Совпадением считается нахождение одного типа в цепочке родителей
// другого: text/plain допускает JSON и CSV, application/zip — DOCX,
// application/octet-stream — любой тип.
func contentMatches(head []byte, declared string) (string, bool) {
	detected := mimetype.Detect(head)
	for m := detected; m != nil; m = m.Parent() {
		if m.Is(declared) {
			return detected.String(), true
		}
	}

	known := mimetype.Lookup(declared)
	if known == nil {
		return detected.String(), true
	}
	for m := known; m != nil; m = m.Parent() {
		if m.Is(detected.String()) {
			return detected.String(), true
		}
	}
	return detected.String(), false
}

// cleanup удаляет частично записанный объект. Выполняется и после
// отмены контекста запроса, но с собственным таймаутом.
func (s *FileService) cleanup(ctx context.Context, rec *model.FileRecord) {
	cctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), cleanupTimeout)
	defer cancel()

	if err := s.backend.Remove(cctx, rec.StoragePath); err != nil {
		s.logger.Error("Ошибка удаления частично записанного объекта",
			slog.String("file_id", rec.ID),
			slog.String("error", err.Error()),
		)
	}
}

// Download возвращает метаданные и поток данных файла.
// Поток удерживает буфер пула до Close: вызывающий обязан закрыть поток.
func (s *FileService) Download(ctx context.Context, id string) (*model.FileRecord, io.ReadCloser, error) {
	start := time.Now()
	rec, rc, err := s.download(ctx, id)
	observe("download", start, err)
	return rec, rc, err
}

func (s *FileService) download(ctx context.Context, id string) (*model.FileRecord, io.ReadCloser, error) {
	rec, err := s.lookup(ctx, id)
	if err != nil {
		return nil, nil, err
	}

	buf, err := s.pool.Acquire(ctx)
	if err != nil {
		if errors.Is(err, pool.ErrSaturated) {
			return nil, nil, busy(err)
		}
		return nil, nil, operationFailed("Скачивание отменено", err)
	}

	rc, err := s.backend.Get(ctx, rec.StoragePath)
	if err != nil {
		buf.Release()
		if errors.Is(err, storage.ErrNotFound) {
			s.cache.Delete(id)
			s.logger.Error("Данные файла отсутствуют в хранилище",
				slog.String("file_id", id),
				slog.String("backend", s.backend.Name()),
			)
			return nil, nil, operationFailed("Данные файла недоступны", err)
		}
		s.logger.Error("Ошибка чтения из хранилища",
			slog.String("file_id", id),
			slog.String("error", err.Error()),
		)
		return nil, nil, operationFailed("Ошибка чтения файла из хранилища", err)
	}

	// Время доступа — best-effort, ошибка не прерывает скачивание
	at := s.now()
	if err := s.repo.TouchAccessed(ctx, id, at); err != nil {
		s.logger.Warn("Не удалось обновить время доступа",
			slog.String("file_id", id),
			slog.String("error", err.Error()),
		)
	} else {
		rec.LastAccessedAt = &at
	}

	stream := storage.ContextReadCloser(ctx, rc)
	if s.opts.VerifyOnDownload {
		stream = checksum.NewVerifier(stream, rec.ChecksumValue(), rec.Size)
	}
	return rec, &pooledStream{ReadCloser: stream, buf: buf}, nil
}

// pooledStream — поток скачивания, владеющий буфером пула до Close.
type pooledStream struct {
	io.ReadCloser
	buf *pool.Buffer
}

// WriteTo копирует поток в w через буфер пула. Обёртки скрывают
// ReaderFrom/WriterTo сторон: копирование идёт только через буфер.
func (p *pooledStream) WriteTo(w io.Writer) (int64, error) {
	return io.CopyBuffer(struct{ io.Writer }{w}, struct{ io.Reader }{p.ReadCloser}, p.buf.Bytes())
}

// Close закрывает поток и возвращает буфер в пул. Повторный вызов безопасен.
func (p *pooledStream) Close() error {
	err := p.ReadCloser.Close()
	p.buf.Release()
	return err
}

// Get возвращает метаданные видимого файла.
func (s *FileService) Get(ctx context.Context, id string) (*model.FileRecord, error) {
	start := time.Now()
	rec, err := s.lookup(ctx, id)
	observe("get", start, err)
	return rec, err
}

// lookup — проверка id, кэш, репозиторий.
func (s *FileService) lookup(ctx context.Context, id string) (*model.FileRecord, error) {
	if err := validator.ValidateID(id); err != nil {
		return nil, fromValidation(err)
	}

	if rec, ok := s.cache.Get(id); ok {
		return rec, nil
	}

	// Epoch снимается до чтения: удаление или обновление, завершённое
	// во время чтения, не даст положить устаревшую запись в кэш
	epoch := s.cache.Epoch()
	rec, err := s.repo.GetByID(ctx, id)
	if err != nil {
		if errors.Is(err, repository.ErrNotFound) {
			return nil, notFound(id)
		}
		return nil, operationFailed("Ошибка чтения метаданных файла", err)
	}
	s.cache.SetIfFresh(id, rec, epoch)
	return rec, nil
}

// Delete выполняет soft delete. Повторное удаление — успешный no-op.
// Объект в хранилище остаётся до очистки reclaimer-ом.
func (s *FileService) Delete(ctx context.Context, id string) error {
	start := time.Now()
	err := s.delete(ctx, id)
	observe("delete", start, err)
	return err
}

func (s *FileService) delete(ctx context.Context, id string) error {
	if err := validator.ValidateID(id); err != nil {
		return fromValidation(err)
	}

	err := s.repo.Delete(ctx, id, s.now())
	switch {
	case err == nil:
		s.cache.Delete(id)
		s.logger.Info("Файл удалён", slog.String("file_id", id))
		return nil
	case errors.Is(err, repository.ErrAlreadyDeleted):
		s.cache.Delete(id)
		s.logger.Info("Файл уже удалён", slog.String("file_id", id))
		return nil
	case errors.Is(err, repository.ErrNotFound):
		return notFound(id)
	default:
		s.logger.Error("Ошибка удаления файла",
			slog.String("file_id", id),
			slog.String("error", err.Error()),
		)
		return operationFailed("Ошибка удаления файла", err)
	}
}

// List возвращает страницу видимых файлов.
func (s *FileService) List(ctx context.Context, p ListParams) (*ListResult, error) {
	start := time.Now()
	res, err := s.list(ctx, p)
	observe("list", start, err)
	return res, err
}

func (s *FileService) list(ctx context.Context, p ListParams) (*ListResult, error) {
	if p.Offset < 0 {
		return nil, invalidInput("INVALID_OFFSET", "offset не может быть отрицательным", nil)
	}
	if p.Limit == 0 {
		p.Limit = DefaultListLimit
	}
	if p.Limit < 1 || p.Limit > MaxListLimit {
		return nil, invalidInput("INVALID_LIMIT",
			fmt.Sprintf("limit должен быть в диапазоне 1-%d", MaxListLimit), nil)
	}

	filters := repository.FileFilters{FileName: p.FileName}
	if p.ContentType != nil {
		ct, err := validator.NormalizeContentType(*p.ContentType)
		if err != nil {
			return nil, fromValidation(err)
		}
		filters.ContentType = &ct
	}
	if p.Checksum != nil {
		if !checksum.IsValidHex(*p.Checksum) {
			return nil, invalidInput(CodeInvalidChecksum, "Checksum должен быть hex SHA-256 (64 символа)", nil)
		}
		sum := strings.ToLower(*p.Checksum)
		filters.Checksum = &sum
	}

	items, total, err := s.repo.List(ctx, p.Offset, p.Limit, filters)
	if err != nil {
		s.logger.Error("Ошибка получения списка файлов", slog.String("error", err.Error()))
		return nil, operationFailed("Ошибка получения списка файлов", err)
	}
	if items == nil {
		items = []*model.FileRecord{}
	}

	return &ListResult{Items: items, Total: total, Offset: p.Offset, Limit: p.Limit}, nil
}

// UpdateMetadata изменяет имя и/или MIME-тип файла.
func (s *FileService) UpdateMetadata(ctx context.Context, id string, p UpdateParams) (*model.FileRecord, error) {
	start := time.Now()
	rec, err := s.updateMetadata(ctx, id, p)
	observe("update", start, err)
	return rec, err
}

func (s *FileService) updateMetadata(ctx context.Context, id string, p UpdateParams) (*model.FileRecord, error) {
	if err := validator.ValidateID(id); err != nil {
		return nil, fromValidation(err)
	}
	if p.FileName == nil && p.ContentType == nil {
		return nil, invalidInput(CodeNothingToUpdate, "Не указано ни одного изменяемого поля", nil)
	}

	if p.FileName != nil {
		if err := validator.ValidateFileName(*p.FileName); err != nil {
			return nil, fromValidation(err)
		}
	}
	var contentType *string
	if p.ContentType != nil {
		if err := s.validator.ValidateContentType(*p.ContentType); err != nil {
			return nil, fromValidation(err)
		}
		ct, _ := validator.NormalizeContentType(*p.ContentType)
		contentType = &ct
	}

	// Слияние полей выполняется в БД под блокировкой строки: параллельные
	// обновления разных полей не затирают друг друга
	rec, err := s.repo.UpdateMetadata(ctx, id, p.FileName, contentType)
	if err != nil {
		s.cache.Delete(id)
		if errors.Is(err, repository.ErrNotFound) {
			return nil, notFound(id)
		}
		s.logger.Error("Ошибка обновления метаданных",
			slog.String("file_id", id),
			slog.String("error", err.Error()),
		)
		return nil, operationFailed("Ошибка обновления метаданных файла", err)
	}

	s.cache.Delete(id)
	s.logger.Info("Метаданные файла обновлены",
		slog.String("file_id", id),
		slog.String("file_name", rec.FileName),
		slog.String("content_type", rec.ContentType),
	)
	return rec, nil
}

// fromValidation преобразует *validator.ValidationError в ошибку InvalidInput.
func fromValidation(err error) *Error {
	var ve *validator.ValidationError
	if errors.As(err, &ve) {
		return invalidInput(ve.Code, ve.Message, err)
	}
	return invalidInput("VALIDATION_ERROR", err.Error(), err)
}

// observe обновляет метрики операции.
func observe(op string, start time.Time, err error) {
	fileOperationDuration.WithLabelValues(op).Observe(time.Since(start).Seconds())
	fileOperationsTotal.WithLabelValues(op, resultLabel(err)).Inc()
}

func resultLabel(err error) string {
	switch {
	case err == nil:
		return "success"
	case errors.Is(err, ErrBusy):
		return "busy"
	case errors.Is(err, ErrInvalidInput):
		return "invalid_input"
	case errors.Is(err, ErrNotFound):
		return "not_found"
	default:
		return "failed"
	}
}
