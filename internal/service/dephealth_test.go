package service

import (
	"database/sql"
	"slices"
	"testing"
	"time"

	_ "github.com/jackc/pgx/v5/stdlib" // драйвер pgx для database/sql
	"github.com/prometheus/client_golang/prometheus"
)

// TestObjectStoreHealthTarget проверяет выбор health endpoint по типу backend-а.
func TestObjectStoreHealthTarget(t *testing.T) {
	tests := []struct {
		name     string
		backend  string
		endpoint string
		wantNil  bool
		wantPath string
	}{
		{name: "s3 с endpoint", backend: "s3", endpoint: "http://minio:9000", wantPath: "/minio/health/live"},
		{name: "gcs с эмулятором", backend: "gcs", endpoint: "http://fake-gcs:4443", wantPath: "/"},
		{name: "s3 без endpoint", backend: "s3", endpoint: "", wantNil: true},
		{name: "локальный диск", backend: "local", endpoint: "http://ignored", wantNil: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := ObjectStoreHealthTarget(tt.backend, tt.endpoint)
			if tt.wantNil {
				if got != nil {
					t.Errorf("ожидался nil, получено %+v", got)
				}
				return
			}
			if got == nil {
				t.Fatal("ожидалась цель проверки, получен nil")
			}
			if got.URL != tt.endpoint || got.HealthPath != tt.wantPath {
				t.Errorf("получено %+v", got)
			}
		})
	}
}

// TestNewDephealthService проверяет состав отслеживаемых зависимостей.
// Проверки не запускаются, подключение к БД не требуется.
func TestNewDephealthService(t *testing.T) {
	db, err := sql.Open("pgx", "postgres://fs:fs@localhost:5432/fs")
	if err != nil {
		t.Fatalf("sql.Open: %v", err)
	}
	defer db.Close()

	pgURL := "postgres://fs@localhost:5432/fs"

	ds, err := NewDephealthServiceWithRegisterer("file-service", "test", db, pgURL,
		nil, 15*time.Second, testLogger(), prometheus.NewRegistry())
	if err != nil {
		t.Fatalf("NewDephealthService без хранилища: %v", err)
	}
	if deps := ds.Dependencies(); !slices.Equal(deps, []string{"postgresql"}) {
		t.Errorf("зависимости %v", deps)
	}

	store := ObjectStoreHealthTarget("s3", "http://localhost:9000")
	ds, err = NewDephealthServiceWithRegisterer("file-service", "test", db, pgURL,
		store, 15*time.Second, testLogger(), prometheus.NewRegistry())
	if err != nil {
		t.Fatalf("NewDephealthService с хранилищем: %v", err)
	}
	if deps := ds.Dependencies(); !slices.Equal(deps, []string{"postgresql", "object-store"}) {
		t.Errorf("зависимости %v", deps)
	}
}
