// errors.go — ошибки бизнес-логики сервисного слоя.
package service

import (
	"errors"
	"fmt"
)

// Категории ошибок. Вызывающий проверяет категорию через errors.Is.
var (
	// ErrInvalidInput — ошибка вызывающего (валидация, некорректный id).
	ErrInvalidInput = errors.New("некорректные входные данные")
	// ErrNotFound — файл отсутствует или удалён.
	ErrNotFound = errors.New("файл не найден")
	// ErrOperationFailed — сбой хранилища или репозитория, повторяемый.
	ErrOperationFailed = errors.New("операция не выполнена")
	// ErrChecksumMismatch — checksum загруженных данных не совпал с ожидаемым.
	ErrChecksumMismatch = fmt.Errorf("%w: checksum не совпадает", ErrInvalidInput)
	// ErrBusy — пул буферов исчерпан.
	ErrBusy = fmt.Errorf("%w: сервис перегружен", ErrOperationFailed)
)

// Коды ошибок, не покрытые валидатором.
const (
	CodeMIMESpoofing     = "MIME_SPOOFING"
	CodeChecksumMismatch = "CHECKSUM_MISMATCH"
	CodeInvalidChecksum  = "INVALID_CHECKSUM"
	CodeSizeMismatch     = "SIZE_MISMATCH"
	CodeNotFound         = "NOT_FOUND"
	CodeServiceBusy      = "SERVICE_BUSY"
	CodeOperationFailed  = "OPERATION_FAILED"
	CodeNothingToUpdate  = "NOTHING_TO_UPDATE"
)

// Error — ошибка операции File Service.
// Kind — одна из категорий выше, Message — безопасный для клиента текст
// (без путей хранения и текстов ошибок backend-а), Err — причина для логов.
type Error struct {
	Kind    error
	Code    string
	Message string
	Err     error
}

func (e *Error) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s: %s: %v", e.Code, e.Message, e.Err)
	}
	return fmt.Sprintf("%s: %s", e.Code, e.Message)
}

// Unwrap возвращает категорию и причину, чтобы errors.Is работал для обеих.
func (e *Error) Unwrap() []error {
	if e.Err != nil {
		return []error{e.Kind, e.Err}
	}
	return []error{e.Kind}
}

// PublicMessage — текст для ответа клиенту.
func (e *Error) PublicMessage() string {
	return e.Message
}

func invalidInput(code, msg string, cause error) *Error {
	return &Error{Kind: ErrInvalidInput, Code: code, Message: msg, Err: cause}
}

func notFound(id string) *Error {
	return &Error{Kind: ErrNotFound, Code: CodeNotFound, Message: fmt.Sprintf("Файл %s не найден", id)}
}

func operationFailed(msg string, cause error) *Error {
	return &Error{Kind: ErrOperationFailed, Code: CodeOperationFailed, Message: msg, Err: cause}
}

func busy(cause error) *Error {
	return &Error{Kind: ErrBusy, Code: CodeServiceBusy, Message: "Сервис перегружен, повторите позже", Err: cause}
}

func checksumMismatch() *Error {
	return &Error{
		Kind:    ErrChecksumMismatch,
		Code:    CodeChecksumMismatch,
		Message: "Checksum загруженных данных не совпадает с ожидаемым",
	}
}
