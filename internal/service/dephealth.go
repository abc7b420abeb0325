// dephealth.go — интеграция с topologymetrics SDK для мониторинга зависимостей.
//
// Каталог мониторит:
//   - PostgreSQL — SQL checker через существующий pgxpool (connection pool mode, critical);
//     для бэкенда sqlite не добавляется
//   - JWKS endpoint — HTTP checker, только при включённой аутентификации (non-critical:
//     ключи закэшированы, проверка токенов продолжает работать)
//
// Метрики доступны на /metrics вместе с остальными Prometheus-метриками:
//   - app_dependency_health — состояние зависимости (1 = ok, 0 = fail)
//   - app_dependency_latency_seconds — задержка проверки
package service

import (
	"context"
	"database/sql"
	"errors"
	"log/slog"
	"net/url"
	"time"

	"github.com/BigKAA/topologymetrics/sdk-go/dephealth"
	_ "github.com/BigKAA/topologymetrics/sdk-go/dephealth/checks/httpcheck" // регистрация HTTP checker factory
	"github.com/BigKAA/topologymetrics/sdk-go/dephealth/checks/pgcheck"
	"github.com/prometheus/client_golang/prometheus"
)

// ErrNoDependencies — нечего мониторить (sqlite без аутентификации).
var ErrNoDependencies = errors.New("нет зависимостей для мониторинга")

// Dependencies — внешние зависимости каталога.
type Dependencies struct {
	// DB — *sql.DB, полученный из pgxpool через stdlib.OpenDBFromPool(); nil для sqlite
	DB *sql.DB
	// PGConnURL — URL PostgreSQL для лейблов метрик (не для подключения)
	PGConnURL string
	// JWKSURL — пусто, если аутентификация выключена
	JWKSURL string
}

// Empty — ни одной зависимости.
func (d Dependencies) Empty() bool {
	return d.DB == nil && d.JWKSURL == ""
}

// DephealthService — сервис мониторинга зависимостей через topologymetrics.
type DephealthService struct {
	dh     *dephealth.DepHealth
	logger *slog.Logger
}

// NewDephealthService создаёт сервис мониторинга зависимостей.
// Метрики регистрируются в глобальном Prometheus registry.
func NewDephealthService(
	serviceID string,
	group string,
	deps Dependencies,
	checkInterval time.Duration,
	logger *slog.Logger,
) (*DephealthService, error) {
	return newDephealthService(serviceID, group, deps, checkInterval, logger)
}

// NewDephealthServiceWithRegisterer создаёт сервис с указанным Prometheus registerer.
// Используется в тестах для изоляции метрик.
func NewDephealthServiceWithRegisterer(
	serviceID string,
	group string,
	deps Dependencies,
	checkInterval time.Duration,
	logger *slog.Logger,
	registerer prometheus.Registerer,
) (*DephealthService, error) {
	return newDephealthService(serviceID, group, deps, checkInterval, logger, dephealth.WithRegisterer(registerer))
}

func newDephealthService(
	serviceID string,
	group string,
	deps Dependencies,
	checkInterval time.Duration,
	logger *slog.Logger,
	extraOpts ...dephealth.Option,
) (*DephealthService, error) {
	if deps.Empty() {
		return nil, ErrNoDependencies
	}

	opts := make([]dephealth.Option, 0, 3+len(extraOpts))
	opts = append(opts, dephealth.WithLogger(logger))

	if deps.DB != nil {
		opts = append(opts, dephealth.AddDependency("postgresql", dephealth.TypePostgres,
			pgcheck.New(pgcheck.WithDB(deps.DB)),
			dephealth.FromURL(deps.PGConnURL),
			dephealth.CheckInterval(checkInterval),
			dephealth.Critical(true),
		))
	}

	if deps.JWKSURL != "" {
		jwksOpts := []dephealth.DependencyOption{
			dephealth.FromURL(deps.JWKSURL),
			dephealth.CheckInterval(checkInterval),
			dephealth.Critical(false),
		}
		if parsed, err := url.Parse(deps.JWKSURL); err == nil && parsed.Path != "" {
			jwksOpts = append(jwksOpts, dephealth.WithHTTPHealthPath(parsed.Path))
		}
		opts = append(opts, dephealth.HTTP("jwks", jwksOpts...))
	}

	opts = append(opts, extraOpts...)

	dh, err := dephealth.New(serviceID, group, opts...)
	if err != nil {
		return nil, err
	}

	return &DephealthService{
		dh:     dh,
		logger: logger.With(slog.String("component", "dephealth")),
	}, nil
}

// Start запускает периодическую проверку зависимостей.
func (ds *DephealthService) Start(ctx context.Context) error {
	ds.logger.Info("Мониторинг зависимостей запущен")
	return ds.dh.Start(ctx)
}

// Stop останавливает мониторинг зависимостей.
func (ds *DephealthService) Stop() {
	ds.dh.Stop()
	ds.logger.Info("Мониторинг зависимостей остановлен")
}

// Health возвращает текущее состояние зависимостей.
// Ключ — имя зависимости, значение — true если ok.
func (ds *DephealthService) Health() map[string]bool {
	return ds.dh.Health()
}
