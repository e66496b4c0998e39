// Пакет storage — абстракция хранилища байтовых потоков (Storage Backend).
// File Service зависит только от интерфейса Backend; реализации
// (локальный диск, S3-совместимое хранилище, GCS) взаимозаменяемы.
package storage

import (
	"context"
	"errors"
	"io"
	"path"
)

// Ошибки хранилища.
var (
	// ErrNotFound — объект с указанным ключом отсутствует.
	ErrNotFound = errors.New("объект не найден в хранилище")
	// ErrExists — объект с указанным ключом уже существует.
	ErrExists = errors.New("объект уже существует в хранилище")
)

// Backend — хранилище байтовых потоков.
type Backend interface {
	// NewKey генерирует ключ объекта по идентификатору файла.
	// Ключ не зависит от имени файла и уникален для уникального id.
	NewKey(fileID string) string
	// Put записывает поток под ключом и возвращает точное число записанных байт.
	// При ошибке частично записанный объект не остаётся.
	Put(ctx context.Context, key string, r io.Reader) (int64, error)
	// Get открывает поток чтения объекта. Отсутствующий ключ — ErrNotFound.
	Get(ctx context.Context, key string) (io.ReadCloser, error)
	// Remove удаляет объект. Отсутствие объекта ошибкой не считается.
	Remove(ctx context.Context, key string) error
	// Name — имя реализации для логов и метрик.
	Name() string
}

// ShardedKey строит ключ вида prefix/ab/cd/<id> из первых символов id,
// чтобы не складывать все объекты в один каталог.
func ShardedKey(prefix, fileID string) string {
	if len(fileID) < 4 {
		return path.Join(prefix, fileID)
	}
	return path.Join(prefix, fileID[:2], fileID[2:4], fileID)
}

// ContextReader возвращает reader, прерывающий чтение при отмене ctx.
func ContextReader(ctx context.Context, r io.Reader) io.Reader {
	return &ctxReader{ctx: ctx, r: r}
}

type ctxReader struct {
	ctx context.Context
	r   io.Reader
}

func (c *ctxReader) Read(p []byte) (int, error) {
	if err := c.ctx.Err(); err != nil {
		return 0, err
	}
	return c.r.Read(p)
}

// ContextReadCloser — ContextReader с закрытием исходного потока.
func ContextReadCloser(ctx context.Context, rc io.ReadCloser) io.ReadCloser {
	return &ctxReadCloser{ctxReader: ctxReader{ctx: ctx, r: rc}, c: rc}
}

type ctxReadCloser struct {
	ctxReader
	c io.Closer
}

func (c *ctxReadCloser) Close() error {
	return c.c.Close()
}

// countingReader считает прочитанные байты.
type countingReader struct {
	r io.Reader
	n int64
}

func (c *countingReader) Read(p []byte) (int, error) {
	n, err := c.r.Read(p)
	c.n += int64(n)
	return n, err
}

// CountingReader оборачивает r счётчиком; функция возвращает число
// прочитанных байт. Используется реализациями, чьи SDK не сообщают
// размер записанного объекта.
func CountingReader(r io.Reader) (io.Reader, func() int64) {
	c := &countingReader{r: r}
	return c, func() int64 { return c.n }
}
