package handlers

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
)

type stubChecker struct {
	status, message string
}

func (c stubChecker) CheckReady() (string, string) { return c.status, c.message }

type stubDeps map[string]bool

func (d stubDeps) Health() map[string]bool { return d }

func TestHealthLive(t *testing.T) {
	h := NewHealthHandler(nil, nil)
	w := httptest.NewRecorder()
	h.HealthLive(w, httptest.NewRequest(http.MethodGet, "/health/live", nil))

	if w.Code != http.StatusOK {
		t.Fatalf("статус %d", w.Code)
	}
	var resp healthLiveResponse
	if err := json.NewDecoder(w.Body).Decode(&resp); err != nil {
		t.Fatalf("ответ не JSON: %v", err)
	}
	if resp.Status != statusOK || resp.Service != "file-service" {
		t.Errorf("ответ: %+v", resp)
	}
}

func TestHealthReady(t *testing.T) {
	tests := []struct {
		name       string
		checker    ReadinessChecker
		deps       DependencyHealth
		wantStatus int
		wantState  string
	}{
		{"всё доступно", stubChecker{status: statusOK}, stubDeps{"object-store": true}, http.StatusOK, statusOK},
		{"без topologymetrics", stubChecker{status: statusOK}, nil, http.StatusOK, statusOK},
		{"БД degraded", stubChecker{status: statusDegraded, message: "медленно"}, nil, http.StatusOK, statusDegraded},
		{"БД недоступна", stubChecker{status: statusFail, message: "нет соединения"}, nil, http.StatusServiceUnavailable, statusFail},
		{"хранилище недоступно", stubChecker{status: statusOK}, stubDeps{"object-store": false}, http.StatusServiceUnavailable, statusFail},
		{"проверка БД не настроена", nil, nil, http.StatusServiceUnavailable, statusFail},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			h := NewHealthHandler(tt.checker, tt.deps)
			w := httptest.NewRecorder()
			h.HealthReady(w, httptest.NewRequest(http.MethodGet, "/health/ready", nil))

			if w.Code != tt.wantStatus {
				t.Errorf("статус %d, ожидался %d", w.Code, tt.wantStatus)
			}
			var resp healthReadyResponse
			if err := json.NewDecoder(w.Body).Decode(&resp); err != nil {
				t.Fatalf("ответ не JSON: %v", err)
			}
			if resp.Status != tt.wantState {
				t.Errorf("status = %s, ожидался %s", resp.Status, tt.wantState)
			}
			if _, ok := resp.Checks["postgresql"]; !ok {
				t.Error("нет проверки postgresql")
			}
		})
	}
}

func TestGetMetrics(t *testing.T) {
	h := NewHealthHandler(nil, nil)
	w := httptest.NewRecorder()
	h.GetMetrics(w, httptest.NewRequest(http.MethodGet, "/metrics", nil))

	if w.Code != http.StatusOK {
		t.Fatalf("статус %d", w.Code)
	}
	if !strings.Contains(w.Body.String(), "go_goroutines") {
		t.Error("в ответе нет стандартных метрик Go")
	}
}

func TestOverallStatus(t *testing.T) {
	tests := []struct {
		in   []string
		want string
	}{
		{nil, statusOK},
		{[]string{statusOK, statusOK}, statusOK},
		{[]string{statusOK, statusDegraded}, statusDegraded},
		{[]string{statusDegraded, statusFail, statusOK}, statusFail},
	}
	for _, tt := range tests {
		if got := overallStatus(tt.in...); got != tt.want {
			t.Errorf("overallStatus(%v) = %s, ожидалось %s", tt.in, got, tt.want)
		}
	}
}
