package main

import (
	"bytes"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/bigkaa/goartstore/file-service/internal/config"
)

func TestLoadEnvFile(t *testing.T) {
	if err := loadEnvFile(filepath.Join(t.TempDir(), "missing.env")); err != nil {
		t.Errorf("отсутствующий файл: %v", err)
	}
	if err := loadEnvFile(""); err != nil {
		t.Errorf("пустой путь: %v", err)
	}

	path := filepath.Join(t.TempDir(), ".env")
	content := "FS_TEST_FROM_FILE=file\nFS_TEST_PRESET=file\n"
	if err := os.WriteFile(path, []byte(content), 0o600); err != nil {
		t.Fatal(err)
	}
	t.Setenv("FS_TEST_FROM_FILE", "")
	os.Unsetenv("FS_TEST_FROM_FILE")
	t.Setenv("FS_TEST_PRESET", "env")

	if err := loadEnvFile(path); err != nil {
		t.Fatalf("loadEnvFile: %v", err)
	}
	if got := os.Getenv("FS_TEST_FROM_FILE"); got != "file" {
		t.Errorf("FS_TEST_FROM_FILE = %q", got)
	}
	if got := os.Getenv("FS_TEST_PRESET"); got != "env" {
		t.Errorf("переменная окружения перезаписана файлом: %q", got)
	}
}

func TestRootCommand(t *testing.T) {
	cmd := newRootCommand()

	want := map[string]bool{"serve": false, "migrate": false, "reclaim": false, "version": false}
	for _, sub := range cmd.Commands() {
		if _, ok := want[sub.Name()]; ok {
			want[sub.Name()] = true
		}
	}
	for name, found := range want {
		if !found {
			t.Errorf("нет команды %s", name)
		}
	}

	var out bytes.Buffer
	cmd.SetOut(&out)
	cmd.SetArgs([]string{"version", "--env-file", ""})
	if err := cmd.Execute(); err != nil {
		t.Fatalf("version: %v", err)
	}
	if strings.TrimSpace(out.String()) != config.Version {
		t.Errorf("version вывел %q", out.String())
	}
}

func TestStoreEndpoint(t *testing.T) {
	cfg := &config.Config{StorageBackend: config.BackendS3, S3Endpoint: "http://minio:9000", GCSEndpoint: "http://gcs:4443"}
	if got := storeEndpoint(cfg); got != "http://minio:9000" {
		t.Errorf("s3: %q", got)
	}
	cfg.StorageBackend = config.BackendGCS
	if got := storeEndpoint(cfg); got != "http://gcs:4443" {
		t.Errorf("gcs: %q", got)
	}
	cfg.StorageBackend = config.BackendLocal
	if got := storeEndpoint(cfg); got != "" {
		t.Errorf("local: %q", got)
	}
}
