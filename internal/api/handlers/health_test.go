package handlers

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
)

type stubChecker struct{ status string }

func (s stubChecker) CheckReady() (string, string) { return s.status, "" }

// TestHealthReady проверяет итоговый статус readiness.
func TestHealthReady(t *testing.T) {
	tests := []struct {
		name       string
		storage    ReadinessChecker
		jwks       ReadinessChecker
		wantStatus string
		wantCode   int
	}{
		{"всё доступно", stubChecker{"ok"}, stubChecker{"ok"}, "ok", http.StatusOK},
		{"без аутентификации", stubChecker{"ok"}, nil, "ok", http.StatusOK},
		{"JWKS недоступен", stubChecker{"ok"}, stubChecker{"fail"}, "degraded", http.StatusOK},
		{"хранилище недоступно", stubChecker{"fail"}, stubChecker{"ok"}, "fail", http.StatusServiceUnavailable},
		{"хранилище не инициализировано", nil, nil, "fail", http.StatusServiceUnavailable},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			h := NewHealthHandler(tt.storage, tt.jwks)
			rec := httptest.NewRecorder()
			h.HealthReady(rec, httptest.NewRequest(http.MethodGet, "/health/ready", nil))

			var resp healthReadyResponse
			if err := json.Unmarshal(rec.Body.Bytes(), &resp); err != nil {
				t.Fatal(err)
			}
			if rec.Code != tt.wantCode || resp.Status != tt.wantStatus {
				t.Errorf("статус = %d %s, ожидался %d %s", rec.Code, resp.Status, tt.wantCode, tt.wantStatus)
			}
		})
	}
}

// TestOverallStatus проверяет свёртку статусов зависимостей.
func TestOverallStatus(t *testing.T) {
	if s := overallStatus("ok", "degraded"); s != "degraded" {
		t.Errorf("overallStatus(ok, degraded) = %s", s)
	}
	if s := overallStatus("degraded", "fail"); s != "fail" {
		t.Errorf("overallStatus(degraded, fail) = %s", s)
	}
	if s := overallStatus(); s != "ok" {
		t.Errorf("overallStatus() = %s", s)
	}
}
