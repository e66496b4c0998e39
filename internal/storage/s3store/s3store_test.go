package s3store

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"os"
	"strings"
	"testing"

	"github.com/bigkaa/goartstore/file-service/internal/storage"
)

// fakeS3 — минимальная имитация S3 API (path-style) для GET/HEAD/DELETE.
func fakeS3(t *testing.T, objects map[string]string) *httptest.Server {
	t.Helper()
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		// Путь: /<bucket>/<key>
		parts := strings.SplitN(strings.TrimPrefix(r.URL.Path, "/"), "/", 2)
		if len(parts) == 1 || parts[1] == "" {
			// HeadBucket
			w.WriteHeader(http.StatusOK)
			return
		}
		key := parts[1]
		body, ok := objects[key]

		switch r.Method {
		case http.MethodHead:
			if !ok {
				w.WriteHeader(http.StatusNotFound)
				return
			}
			w.WriteHeader(http.StatusOK)
		case http.MethodGet:
			if !ok {
				w.Header().Set("Content-Type", "application/xml")
				w.WriteHeader(http.StatusNotFound)
				_, _ = io.WriteString(w, `<?xml version="1.0" encoding="UTF-8"?>`+
					`<Error><Code>NoSuchKey</Code><Message>The specified key does not exist.</Message></Error>`)
				return
			}
			w.Header().Set("Content-Type", "application/octet-stream")
			_, _ = io.WriteString(w, body)
		case http.MethodDelete:
			delete(objects, key)
			w.WriteHeader(http.StatusNoContent)
		default:
			w.WriteHeader(http.StatusMethodNotAllowed)
		}
	}))
	t.Cleanup(srv.Close)
	return srv
}

func newTestStore(t *testing.T, endpoint string) *Store {
	t.Helper()
	t.Setenv("AWS_EC2_METADATA_DISABLED", "true")

	logger := slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: slog.LevelError}))
	s, err := New(context.Background(), Config{
		Endpoint:     endpoint,
		Region:       "us-east-1",
		Bucket:       "attachments",
		AccessKey:    "test",
		SecretKey:    "test",
		Prefix:       "files",
		UsePathStyle: true,
		MaxAttempts:  1,
	}, logger)
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	return s
}

// TestNew_RequiresBucket проверяет обязательность bucket.
func TestNew_RequiresBucket(t *testing.T) {
	if _, err := New(context.Background(), Config{Region: "us-east-1"}, slog.Default()); err == nil {
		t.Error("ожидалась ошибка при пустом bucket")
	}
}

// TestNewKey проверяет формат ключа с префиксом.
func TestNewKey(t *testing.T) {
	s := newTestStore(t, "http://127.0.0.1:1")

	if got := s.NewKey("6f1c1a9e-3b0e"); got != "files/6f/1c/6f1c1a9e-3b0e" {
		t.Errorf("неожиданный ключ: %s", got)
	}
}

// TestGet проверяет чтение существующего и отсутствующего объекта.
func TestGet(t *testing.T) {
	objects := map[string]string{"files/ab/cd/abcd": "hello"}
	s := newTestStore(t, fakeS3(t, objects).URL)
	ctx := context.Background()

	rc, err := s.Get(ctx, "files/ab/cd/abcd")
	if err != nil {
		t.Fatalf("Get: %v", err)
	}
	data, err := io.ReadAll(rc)
	rc.Close()
	if err != nil || string(data) != "hello" {
		t.Errorf("Get: данные %q, ошибка %v", data, err)
	}

	if _, err := s.Get(ctx, "files/no/ne/none"); !errors.Is(err, storage.ErrNotFound) {
		t.Errorf("ожидалась storage.ErrNotFound, получено %v", err)
	}
}

// TestPut_ExistingKey проверяет запрет перезаписи.
func TestPut_ExistingKey(t *testing.T) {
	objects := map[string]string{"files/ab/cd/abcd": "hello"}
	s := newTestStore(t, fakeS3(t, objects).URL)

	_, err := s.Put(context.Background(), "files/ab/cd/abcd", strings.NewReader("x"))
	if !errors.Is(err, storage.ErrExists) {
		t.Errorf("ожидалась storage.ErrExists, получено %v", err)
	}
}

// TestRemoveAndPing проверяет удаление и проверку bucket.
func TestRemoveAndPing(t *testing.T) {
	objects := map[string]string{"files/ab/cd/abcd": "hello"}
	s := newTestStore(t, fakeS3(t, objects).URL)
	ctx := context.Background()

	if err := s.Remove(ctx, "files/ab/cd/abcd"); err != nil {
		t.Fatalf("Remove: %v", err)
	}
	if _, ok := objects["files/ab/cd/abcd"]; ok {
		t.Error("объект не удалён")
	}
	if err := s.Remove(ctx, "files/ab/cd/abcd"); err != nil {
		t.Errorf("повторный Remove: %v", err)
	}
	if err := s.Ping(ctx); err != nil {
		t.Errorf("Ping: %v", err)
	}
}
