// Пакет filestore — реализация storage.Backend на локальном диске.
// Запись: temp файл → streaming-запись → fsync → atomic rename.
// При ошибке или отмене контекста temp файл удаляется.
package filestore

import (
	"context"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"os"
	"path/filepath"

	"github.com/bigkaa/goartstore/file-service/internal/storage"
)

// FileStore — хранение объектов в виде файлов в dataDir.
type FileStore struct {
	// dataDir — корневая директория хранения (FS_DATA_DIR)
	dataDir string
}

var _ storage.Backend = (*FileStore)(nil)

// New создаёт FileStore. Создаёт директорию, если она не существует.
func New(dataDir string) (*FileStore, error) {
	if err := os.MkdirAll(dataDir, 0o750); err != nil {
		return nil, fmt.Errorf("не удалось создать директорию данных %s: %w", dataDir, err)
	}
	return &FileStore{dataDir: dataDir}, nil
}

// Name возвращает имя реализации.
func (s *FileStore) Name() string {
	return "local"
}

// DataDir возвращает путь к директории данных.
func (s *FileStore) DataDir() string {
	return s.dataDir
}

// NewKey возвращает относительный путь вида ab/cd/<id>.
func (s *FileStore) NewKey(fileID string) string {
	return storage.ShardedKey("", fileID)
}

// Put записывает поток в файл под ключом key.
// Существующий объект не перезаписывается (storage.ErrExists).
func (s *FileStore) Put(ctx context.Context, key string, r io.Reader) (int64, error) {
	fullPath, err := s.resolve(key)
	if err != nil {
		return 0, err
	}

	if _, err := os.Stat(fullPath); err == nil {
		return 0, fmt.Errorf("%w: %s", storage.ErrExists, key)
	}

	if err := os.MkdirAll(filepath.Dir(fullPath), 0o750); err != nil {
		return 0, fmt.Errorf("ошибка создания директории: %w", err)
	}

	tmpPath := fullPath + ".tmp"
	f, err := os.OpenFile(tmpPath, os.O_WRONLY|os.O_CREATE|os.O_EXCL, 0o640)
	if err != nil {
		return 0, fmt.Errorf("ошибка создания временного файла: %w", err)
	}

	size, err := io.Copy(f, storage.ContextReader(ctx, r))
	if err != nil {
		f.Close()
		os.Remove(tmpPath)
		return size, fmt.Errorf("ошибка записи данных: %w", err)
	}

	// fsync для гарантии записи на диск
	if err := f.Sync(); err != nil {
		f.Close()
		os.Remove(tmpPath)
		return size, fmt.Errorf("ошибка fsync: %w", err)
	}

	if err := f.Close(); err != nil {
		os.Remove(tmpPath)
		return size, fmt.Errorf("ошибка закрытия файла: %w", err)
	}

	if err := os.Rename(tmpPath, fullPath); err != nil {
		os.Remove(tmpPath)
		return size, fmt.Errorf("ошибка атомарного переименования: %w", err)
	}

	return size, nil
}

// Get открывает файл для чтения. Вызывающий код обязан закрыть ReadCloser.
func (s *FileStore) Get(_ context.Context, key string) (io.ReadCloser, error) {
	fullPath, err := s.resolve(key)
	if err != nil {
		return nil, err
	}

	f, err := os.Open(fullPath)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return nil, fmt.Errorf("%w: %s", storage.ErrNotFound, key)
		}
		return nil, fmt.Errorf("ошибка открытия файла %s: %w", key, err)
	}
	return f, nil
}

// Remove удаляет файл. Возвращает nil, если файл уже не существует.
func (s *FileStore) Remove(_ context.Context, key string) error {
	fullPath, err := s.resolve(key)
	if err != nil {
		return err
	}

	if err := os.Remove(fullPath); err != nil && !errors.Is(err, fs.ErrNotExist) {
		return fmt.Errorf("ошибка удаления файла %s: %w", key, err)
	}
	// Temp файл мог остаться после аварийного завершения процесса
	_ = os.Remove(fullPath + ".tmp")
	return nil
}

// Exists проверяет существование объекта.
func (s *FileStore) Exists(key string) bool {
	fullPath, err := s.resolve(key)
	if err != nil {
		return false
	}
	_, err = os.Stat(fullPath)
	return err == nil
}

// resolve преобразует ключ в абсолютный путь внутри dataDir.
// Ключи, выходящие за пределы dataDir, отклоняются.
func (s *FileStore) resolve(key string) (string, error) {
	if key == "" || !filepath.IsLocal(filepath.FromSlash(key)) {
		return "", fmt.Errorf("недопустимый ключ объекта: %q", key)
	}
	return filepath.Join(s.dataDir, filepath.FromSlash(key)), nil
}
