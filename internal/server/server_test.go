package server

import (
	"context"
	"encoding/json"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/bigkaa/goartstore/file-service/internal/api/openapi"
	"github.com/bigkaa/goartstore/file-service/internal/config"
)

// recordingHandler — ServerInterface, запоминающий последний вызов.
type recordingHandler struct {
	called string
	fileID openapi.FileId
	params openapi.ListFilesParams
}

func (h *recordingHandler) ok(w http.ResponseWriter, name string) {
	h.called = name
	w.WriteHeader(http.StatusOK)
}

func (h *recordingHandler) ListFiles(w http.ResponseWriter, _ *http.Request, p openapi.ListFilesParams) {
	h.params = p
	h.ok(w, "ListFiles")
}
func (h *recordingHandler) UploadFile(w http.ResponseWriter, _ *http.Request) { h.ok(w, "UploadFile") }
func (h *recordingHandler) GetFileMetadata(w http.ResponseWriter, _ *http.Request, id openapi.FileId) {
	h.fileID = id
	h.ok(w, "GetFileMetadata")
}
func (h *recordingHandler) UpdateFileMetadata(w http.ResponseWriter, _ *http.Request, id openapi.FileId) {
	h.fileID = id
	h.ok(w, "UpdateFileMetadata")
}
func (h *recordingHandler) DeleteFile(w http.ResponseWriter, _ *http.Request, id openapi.FileId) {
	h.fileID = id
	h.ok(w, "DeleteFile")
}
func (h *recordingHandler) DownloadFile(w http.ResponseWriter, _ *http.Request, id openapi.FileId) {
	h.fileID = id
	h.ok(w, "DownloadFile")
}
func (h *recordingHandler) HealthLive(w http.ResponseWriter, _ *http.Request)  { h.ok(w, "HealthLive") }
func (h *recordingHandler) HealthReady(w http.ResponseWriter, _ *http.Request) { h.ok(w, "HealthReady") }
func (h *recordingHandler) GetMetrics(w http.ResponseWriter, _ *http.Request)  { h.ok(w, "GetMetrics") }

func testConfig() *config.Config {
	return &config.Config{
		Port:                  0,
		ShutdownTimeout:       time.Second,
		HTTPReadHeaderTimeout: time.Second,
		HTTPIdleTimeout:       time.Second,
	}
}

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

const testID = "3f8a2b1c-4d5e-4f60-8a7b-9c0d1e2f3a4b"

func TestServer_Routes(t *testing.T) {
	tests := []struct {
		method string
		path   string
		want   string
	}{
		{http.MethodGet, "/api/v1/files", "ListFiles"},
		{http.MethodPost, "/api/v1/files", "UploadFile"},
		{http.MethodGet, "/api/v1/files/" + testID, "GetFileMetadata"},
		{http.MethodPatch, "/api/v1/files/" + testID, "UpdateFileMetadata"},
		{http.MethodDelete, "/api/v1/files/" + testID, "DeleteFile"},
		{http.MethodGet, "/api/v1/files/" + testID + "/download", "DownloadFile"},
		{http.MethodGet, "/health/live", "HealthLive"},
		{http.MethodGet, "/health/ready", "HealthReady"},
		{http.MethodGet, "/metrics", "GetMetrics"},
	}

	for _, tt := range tests {
		t.Run(tt.want, func(t *testing.T) {
			h := &recordingHandler{}
			srv := New(testConfig(), testLogger(), h)

			rec := httptest.NewRecorder()
			srv.Handler().ServeHTTP(rec, httptest.NewRequest(tt.method, tt.path, nil))

			if rec.Code != http.StatusOK {
				t.Fatalf("статус %d, ожидался 200", rec.Code)
			}
			if h.called != tt.want {
				t.Errorf("вызван %q, ожидался %q", h.called, tt.want)
			}
			if h.fileID != (openapi.FileId{}) && h.fileID.String() != testID {
				t.Errorf("file_id = %s", h.fileID)
			}
		})
	}
}

func TestServer_QueryParams(t *testing.T) {
	h := &recordingHandler{}
	srv := New(testConfig(), testLogger(), h)

	rec := httptest.NewRecorder()
	srv.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet,
		"/api/v1/files?offset=10&limit=5&fileName=report&contentType=text%2Fplain", nil))

	if rec.Code != http.StatusOK {
		t.Fatalf("статус %d", rec.Code)
	}
	p := h.params
	if p.Offset == nil || *p.Offset != 10 || p.Limit == nil || *p.Limit != 5 {
		t.Errorf("offset/limit: %+v", p)
	}
	if p.FileName == nil || *p.FileName != "report" || p.ContentType == nil || *p.ContentType != "text/plain" {
		t.Errorf("фильтры: %+v", p)
	}
	if p.Checksum != nil {
		t.Error("checksum не передавался")
	}
}

func TestServer_ParamErrors(t *testing.T) {
	tests := []struct {
		name string
		path string
	}{
		{"некорректный UUID", "/api/v1/files/not-a-uuid"},
		{"некорректный UUID при скачивании", "/api/v1/files/123/download"},
		{"нечисловой limit", "/api/v1/files?limit=abc"},
		{"нечисловой offset", "/api/v1/files?offset=-x"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			h := &recordingHandler{}
			srv := New(testConfig(), testLogger(), h)

			rec := httptest.NewRecorder()
			srv.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, tt.path, nil))

			if rec.Code != http.StatusBadRequest {
				t.Fatalf("статус %d, ожидался 400", rec.Code)
			}
			if h.called != "" {
				t.Errorf("обработчик %s вызван при ошибке параметра", h.called)
			}
			var body struct {
				Error struct {
					Code string `json:"code"`
				} `json:"error"`
			}
			if err := json.NewDecoder(rec.Body).Decode(&body); err != nil {
				t.Fatalf("тело не JSON: %v", err)
			}
			if body.Error.Code != "VALIDATION_ERROR" {
				t.Errorf("code = %s", body.Error.Code)
			}
		})
	}
}

func TestServer_NotFoundAndMethod(t *testing.T) {
	srv := New(testConfig(), testLogger(), &recordingHandler{})

	rec := httptest.NewRecorder()
	srv.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/api/v2/files", nil))
	if rec.Code != http.StatusNotFound {
		t.Errorf("неизвестный маршрут: статус %d", rec.Code)
	}

	rec = httptest.NewRecorder()
	srv.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodPut, "/api/v1/files", nil))
	if rec.Code != http.StatusMethodNotAllowed {
		t.Errorf("неподдерживаемый метод: статус %d", rec.Code)
	}
}

func TestJWTAuthWithExclusions(t *testing.T) {
	deny := func(http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
			w.WriteHeader(http.StatusUnauthorized)
		})
	}
	mw := JWTAuthWithExclusions(deny, "/health/", "/metrics")
	srv := New(testConfig(), testLogger(), &recordingHandler{}, mw)

	tests := []struct {
		path string
		want int
	}{
		{"/health/live", http.StatusOK},
		{"/health/ready", http.StatusOK},
		{"/metrics", http.StatusOK},
		{"/api/v1/files", http.StatusUnauthorized},
	}
	for _, tt := range tests {
		rec := httptest.NewRecorder()
		srv.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, tt.path, nil))
		if rec.Code != tt.want {
			t.Errorf("%s: статус %d, ожидался %d", tt.path, rec.Code, tt.want)
		}
	}
}

func TestServer_RunStopsOnContext(t *testing.T) {
	srv := New(testConfig(), testLogger(), &recordingHandler{})

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- srv.Run(ctx) }()

	cancel()
	select {
	case err := <-done:
		if err != nil {
			t.Fatalf("Run: %v", err)
		}
	case <-time.After(5 * time.Second):
		t.Fatal("Run не завершился после отмены контекста")
	}
}
