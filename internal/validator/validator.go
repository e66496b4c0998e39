// Пакет validator — проверка входных параметров загрузки: имя файла,
// MIME-тип по allow-list и размер. Чистые функции, без I/O и состояния
// (кроме неизменяемой конфигурации лимитов).
package validator

import (
	"fmt"
	"mime"
	"strings"

	"github.com/google/uuid"
)

// DefaultMaxFileSize — потолок размера файла по умолчанию (50 MiB).
const DefaultMaxFileSize int64 = 50 << 20

// MaxFileNameLength — максимальная длина имени файла в байтах.
const MaxFileNameLength = 255

// Коды ошибок валидации.
const (
	CodeMissingFileName   = "MISSING_FILENAME"
	CodeNameTooLong       = "NAME_TOO_LONG"
	CodeInvalidCharacters = "INVALID_CHARACTERS"
	CodeMissingType       = "MISSING_CONTENT_TYPE"
	CodeInvalidType       = "INVALID_TYPE"
	CodeEmptyFile         = "EMPTY_FILE"
	CodeFileTooLarge      = "FILE_TOO_LARGE"
	CodeInvalidID         = "INVALID_ID"
)

// DefaultAllowedContentTypes — allow-list MIME-типов по умолчанию.
var DefaultAllowedContentTypes = []string{
	"image/jpeg",
	"image/png",
	"image/gif",
	"image/webp",
	"application/pdf",
	"text/plain",
	"text/csv",
	"application/json",
	"application/zip",
	"application/msword",
	"application/vnd.openxmlformats-officedocument.wordprocessingml.document",
	"application/vnd.ms-excel",
	"application/vnd.openxmlformats-officedocument.spreadsheetml.sheet",
}

// ValidationError — ошибка валидации с машиночитаемым кодом.
type ValidationError struct {
	Field   string
	Code    string
	Message string
}

func (e *ValidationError) Error() string {
	return e.Message
}

// Validator — проверка параметров загрузки по заданным лимитам.
// Безопасен для конкурентного использования.
type Validator struct {
	maxSize int64
	allowed map[string]struct{}
}

// New создаёт Validator.
// maxSize <= 0 — используется DefaultMaxFileSize,
// пустой allowed — используется DefaultAllowedContentTypes.
func New(maxSize int64, allowed []string) *Validator {
	if maxSize <= 0 {
		maxSize = DefaultMaxFileSize
	}
	if len(allowed) == 0 {
		allowed = DefaultAllowedContentTypes
	}

	set := make(map[string]struct{}, len(allowed))
	for _, ct := range allowed {
		if norm, err := NormalizeContentType(ct); err == nil {
			set[norm] = struct{}{}
		}
	}
	return &Validator{maxSize: maxSize, allowed: set}
}

// MaxSize возвращает потолок размера файла.
func (v *Validator) MaxSize() int64 {
	return v.maxSize
}

// Validate проверяет имя файла, MIME-тип и заявленный размер.
// Возвращает первую найденную ошибку (*ValidationError) или nil.
func (v *Validator) Validate(fileName, contentType string, size int64) error {
	if err := ValidateFileName(fileName); err != nil {
		return err
	}
	if err := v.ValidateContentType(contentType); err != nil {
		return err
	}
	return v.ValidateSize(size)
}

// ValidateSize проверяет размер: строго положительный и не выше потолка.
func (v *Validator) ValidateSize(size int64) error {
	if size <= 0 {
		return &ValidationError{
			Field:   "size",
			Code:    CodeEmptyFile,
			Message: "размер файла должен быть положительным",
		}
	}
	if size > v.maxSize {
		return &ValidationError{
			Field:   "size",
			Code:    CodeFileTooLarge,
			Message: fmt.Sprintf("размер файла %d превышает максимально допустимый (%d байт)", size, v.maxSize),
		}
	}
	return nil
}

// ValidateContentType проверяет MIME-тип по allow-list.
// Параметры (charset и т.п.) не учитываются.
func (v *Validator) ValidateContentType(contentType string) error {
	if strings.TrimSpace(contentType) == "" {
		return &ValidationError{
			Field:   "contentType",
			Code:    CodeMissingType,
			Message: "MIME-тип обязателен",
		}
	}
	norm, err := NormalizeContentType(contentType)
	if err != nil {
		return &ValidationError{
			Field:   "contentType",
			Code:    CodeInvalidType,
			Message: "некорректный MIME-тип",
		}
	}
	if _, ok := v.allowed[norm]; !ok {
		return &ValidationError{
			Field:   "contentType",
			Code:    CodeInvalidType,
			Message: fmt.Sprintf("MIME-тип %s не разрешён", norm),
		}
	}
	return nil
}

// ValidateFileName проверяет имя файла. Имя отклоняется, если его
// очищенная форма отличается от исходной: имя не «исправляется» молча.
func ValidateFileName(fileName string) error {
	if fileName == "" {
		return &ValidationError{
			Field:   "fileName",
			Code:    CodeMissingFileName,
			Message: "имя файла обязательно",
		}
	}
	if len(fileName) > MaxFileNameLength {
		return &ValidationError{
			Field:   "fileName",
			Code:    CodeNameTooLong,
			Message: fmt.Sprintf("имя файла длиннее %d символов", MaxFileNameLength),
		}
	}
	if SanitizeFileName(fileName) != fileName || strings.Trim(fileName, ".") == "" {
		return &ValidationError{
			Field:   "fileName",
			Code:    CodeInvalidCharacters,
			Message: "имя файла содержит недопустимые символы",
		}
	}
	return nil
}

// ValidateID проверяет, что идентификатор — корректный UUID.
func ValidateID(id string) error {
	if id == "" {
		return &ValidationError{Field: "id", Code: CodeInvalidID, Message: "идентификатор файла обязателен"}
	}
	if _, err := uuid.Parse(id); err != nil {
		return &ValidationError{Field: "id", Code: CodeInvalidID, Message: "некорректный идентификатор файла"}
	}
	return nil
}

// SanitizeFileName оставляет в имени только ASCII буквы, цифры,
// точку и дефис.
func SanitizeFileName(name string) string {
	var b strings.Builder
	b.Grow(len(name))
	for i := 0; i < len(name); i++ {
		c := name[i]
		if (c >= 'a' && c <= 'z') || (c >= 'A' && c <= 'Z') ||
			(c >= '0' && c <= '9') || c == '.' || c == '-' {
			b.WriteByte(c)
		}
	}
	return b.String()
}

// NormalizeContentType приводит MIME-тип к нижнему регистру без параметров.
func NormalizeContentType(contentType string) (string, error) {
	mediaType, _, err := mime.ParseMediaType(contentType)
	if err != nil {
		return "", fmt.Errorf("разбор MIME-типа %q: %w", contentType, err)
	}
	return strings.ToLower(mediaType), nil
}
