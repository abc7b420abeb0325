package service

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"os"
	"strings"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: slog.LevelError}))
}

func TestNewDephealthService_NoDependencies(t *testing.T) {
	_, err := NewDephealthServiceWithRegisterer("tape-catalogue", "catalogue",
		Dependencies{}, time.Second, testLogger(), prometheus.NewRegistry())
	if !errors.Is(err, ErrNoDependencies) {
		t.Fatalf("ожидалась ErrNoDependencies, получено %v", err)
	}
}

func TestDephealthService_JWKS(t *testing.T) {
	tests := []struct {
		name   string
		status int
		want   bool
	}{
		{"JWKS доступен", http.StatusOK, true},
		{"JWKS отвечает 500", http.StatusInternalServerError, false},
	}

	for i, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			mockServer := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				w.WriteHeader(tt.status)
				_, _ = w.Write([]byte(`{"keys":[]}`))
			}))
			defer mockServer.Close()

			ds, err := NewDephealthServiceWithRegisterer(
				"tape-catalogue-"+string(rune('a'+i)),
				"catalogue",
				Dependencies{JWKSURL: mockServer.URL + "/realms/artstore/protocol/openid-connect/certs"},
				time.Second,
				testLogger(),
				prometheus.NewRegistry(),
			)
			if err != nil {
				t.Fatalf("Ошибка создания DephealthService: %v", err)
			}

			ctx, cancel := context.WithCancel(context.Background())
			defer cancel()
			if err := ds.Start(ctx); err != nil {
				t.Fatalf("Ошибка запуска: %v", err)
			}
			defer ds.Stop()

			// Даём время на первую проверку (интервал 1s + запас)
			time.Sleep(3 * time.Second)

			found := false
			for key, val := range ds.Health() {
				if strings.HasPrefix(key, "jwks:") {
					found = true
					if val != tt.want {
						t.Errorf("jwks health = %v для ключа %q, ожидалось %v", val, key, tt.want)
					}
				}
			}
			if !found {
				t.Errorf("Нет записи для jwks в Health(): %v", ds.Health())
			}
		})
	}
}
