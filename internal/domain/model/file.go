// Пакет model — доменные модели File Service.
// FileRecord — единственная персистентная сущность: метаданные одного
// загруженного объекта. Жизненный цикл: uploading → uploaded → deleted.
package model

import (
	"errors"
	"fmt"
	"time"
)

// FileStatus — статус файла.
type FileStatus string

const (
	// StatusUploading — загрузка в процессе (только в памяти, вызывающим не виден)
	StatusUploading FileStatus = "uploading"
	// StatusUploaded — файл загружен, checksum вычислен
	StatusUploaded FileStatus = "uploaded"
	// StatusDeleted — soft delete, запись остаётся для аудита
	StatusDeleted FileStatus = "deleted"
)

// Ошибки жизненного цикла записи.
var (
	// ErrInvalidTransition — недопустимый переход статуса.
	ErrInvalidTransition = errors.New("недопустимый переход статуса")
	// ErrChecksumAlreadySet — checksum уже установлен и не может быть изменён.
	ErrChecksumAlreadySet = errors.New("checksum уже установлен")
)

// validTransitions — матрица допустимых переходов.
// Ни один переход не пропускает состояние, deleted — конечный.
var validTransitions = map[FileStatus]map[FileStatus]bool{
	StatusUploading: {StatusUploaded: true},
	StatusUploaded:  {StatusDeleted: true},
	StatusDeleted:   {},
}

// CanTransition проверяет допустимость перехода from → to.
// Переход в тот же статус считается допустимым (no-op).
func CanTransition(from, to FileStatus) bool {
	if from == to {
		return true
	}
	return validTransitions[from][to]
}

// IsValid проверяет, что статус входит в перечень известных.
func (s FileStatus) IsValid() bool {
	_, ok := validTransitions[s]
	return ok
}

// FileRecord — метаданные файла.
type FileRecord struct {
	// ID — UUID v4, назначается при создании, неизменяем
	ID string
	// FileName — имя файла от клиента (прошедшее валидацию).
	// Никогда не используется для построения пути хранения.
	FileName string
	// Size — размер в байтах, равен числу байт, принятых хранилищем
	Size int64
	// ContentType — нормализованный MIME-тип
	ContentType string
	// Status — статус файла
	Status FileStatus
	// StoragePath — ключ объекта в хранилище, генерируется backend-ом по ID.
	// Не возвращается в API.
	StoragePath string
	// Checksum — hex SHA-256, nil до завершения загрузки
	Checksum *string
	// UploadedBy — sub из JWT (пусто, если аутентификация отключена)
	UploadedBy string

	CreatedAt      time.Time
	UpdatedAt      time.Time
	LastAccessedAt *time.Time
	DeletedAt      *time.Time
	ReclaimedAt    *time.Time
}

// NewFileRecord создаёт запись в статусе uploading.
func NewFileRecord(id, fileName string, size int64, contentType string, now time.Time) *FileRecord {
	now = now.UTC()
	return &FileRecord{
		ID:          id,
		FileName:    fileName,
		Size:        size,
		ContentType: contentType,
		Status:      StatusUploading,
		CreatedAt:   now,
		UpdatedAt:   now,
	}
}

// MarkUploaded устанавливает checksum и переводит запись в uploaded.
// Checksum устанавливается ровно один раз, вместе с переходом статуса.
func (f *FileRecord) MarkUploaded(checksum string, now time.Time) error {
	if f.Checksum != nil {
		return ErrChecksumAlreadySet
	}
	if !CanTransition(f.Status, StatusUploaded) || f.Status == StatusUploaded {
		return fmt.Errorf("%w: %s → %s", ErrInvalidTransition, f.Status, StatusUploaded)
	}
	f.Checksum = &checksum
	f.Status = StatusUploaded
	f.UpdatedAt = now.UTC()
	return nil
}

// ChecksumValue возвращает checksum или пустую строку.
func (f *FileRecord) ChecksumValue() string {
	if f.Checksum == nil {
		return ""
	}
	return *f.Checksum
}

// IsDeleted — признак soft delete.
func (f *FileRecord) IsDeleted() bool {
	return f.Status == StatusDeleted
}

// Clone возвращает глубокую копию записи (для кэша).
func (f *FileRecord) Clone() *FileRecord {
	c := *f
	c.Checksum = clonePtr(f.Checksum)
	c.LastAccessedAt = clonePtr(f.LastAccessedAt)
	c.DeletedAt = clonePtr(f.DeletedAt)
	c.ReclaimedAt = clonePtr(f.ReclaimedAt)
	return &c
}

func clonePtr[T any](p *T) *T {
	if p == nil {
		return nil
	}
	v := *p
	return &v
}
