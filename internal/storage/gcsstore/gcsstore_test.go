package gcsstore

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"testing"

	"google.golang.org/api/googleapi"
)

// TestNew_RequiresBucket проверяет обязательность bucket.
func TestNew_RequiresBucket(t *testing.T) {
	if _, err := New(context.Background(), Config{}, slog.Default()); err == nil {
		t.Error("ожидалась ошибка при пустом bucket")
	}
}

// TestNewKey проверяет формат ключа (клиент без сетевых обращений).
func TestNewKey(t *testing.T) {
	s, err := New(context.Background(), Config{
		Bucket:   "attachments",
		Prefix:   "files",
		Endpoint: "http://127.0.0.1:4443/storage/v1/",
	}, slog.Default())
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	defer s.Close()

	if got := s.NewKey("6f1c1a9e-3b0e"); got != "files/6f/1c/6f1c1a9e-3b0e" {
		t.Errorf("неожиданный ключ: %s", got)
	}
	if s.Name() != "gcs" {
		t.Errorf("неожиданное имя: %s", s.Name())
	}
}

// TestIsPreconditionFailed проверяет распознавание 412.
func TestIsPreconditionFailed(t *testing.T) {
	err := fmt.Errorf("обёртка: %w", &googleapi.Error{Code: http.StatusPreconditionFailed})
	if !isPreconditionFailed(err) {
		t.Error("412 не распознан")
	}
	if isPreconditionFailed(&googleapi.Error{Code: http.StatusNotFound}) {
		t.Error("404 распознан как 412")
	}
}
