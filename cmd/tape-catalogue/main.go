// main.go — точка входа Tape Catalogue.
// Загружает конфигурацию, применяет миграции, открывает хранилище выбранного
// бэкенда, собирает каталог, middleware и HTTP-сервер.
package main

import (
	"context"
	"errors"
	"fmt"
	"log"
	"log/slog"
	"net/http"
	"os"
	"sync"
	"time"

	"github.com/jackc/pgx/v5/stdlib"

	"github.com/bigkaa/goartstore/tape-catalogue/internal/api/handlers"
	"github.com/bigkaa/goartstore/tape-catalogue/internal/api/middleware"
	"github.com/bigkaa/goartstore/tape-catalogue/internal/catalogue"
	"github.com/bigkaa/goartstore/tape-catalogue/internal/config"
	"github.com/bigkaa/goartstore/tape-catalogue/internal/database"
	"github.com/bigkaa/goartstore/tape-catalogue/internal/repository"
	"github.com/bigkaa/goartstore/tape-catalogue/internal/server"
	"github.com/bigkaa/goartstore/tape-catalogue/internal/service"
)

const serviceID = "tape-catalogue"

// backend — открытое хранилище каталога.
type backend struct {
	adapter catalogue.Adapter
	deps    service.Dependencies
	close   func()
}

func main() {
	// 1. Загрузка конфигурации из переменных окружения
	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("Ошибка загрузки конфигурации: %v", err)
	}

	// 2. Настройка логгера
	logger := config.SetupLogger(cfg)
	logger.Info("Tape Catalogue запускается",
		slog.String("version", config.Version),
		slog.Int("port", cfg.Port),
		slog.String("backend", cfg.Backend),
		slog.String("write_strategy", cfg.WriteStrategy),
	)

	if err := run(cfg, logger); err != nil {
		logger.Error("Ошибка сервера", slog.String("error", err.Error()))
		os.Exit(1)
	}
	logger.Info("Tape Catalogue остановлен")
}

func run(cfg *config.Config, logger *slog.Logger) error {
	ctx := context.Background()

	// 3. Миграции и хранилище
	if err := database.Migrate(cfg, logger); err != nil {
		return err
	}
	be, err := openBackend(ctx, cfg, logger)
	if err != nil {
		return err
	}
	defer be.close()

	// 4. Каталог
	var rules *catalogue.MountRuleCache
	if cfg.MountRuleCacheSize > 0 {
		rules = catalogue.NewMountRuleCache(cfg.MountRuleCacheSize, cfg.MountRuleCacheTTL)
	}
	cat := catalogue.New(be.adapter, rules, logger)

	// 5. Аутентификация (опционально)
	var (
		guards      handlers.Guards
		jwksChecker handlers.ReadinessChecker
		middlewares = []func(http.Handler) http.Handler{
			middleware.RequestLogger(logger),
			middleware.MetricsMiddleware(),
		}
	)
	if cfg.AuthEnabled() {
		jwtAuth, err := middleware.NewJWTAuth(cfg.JWTJWKSURL, cfg.JWTIssuer, cfg.AdminGroups,
			cfg.JWKSRefreshInterval, cfg.JWTLeeway, logger)
		if err != nil {
			return fmt.Errorf("инициализация JWT: %w", err)
		}
		middlewares = append(middlewares,
			server.JWTAuthWithExclusions(jwtAuth.Middleware(), "/health/", "/metrics"))
		guards = handlers.Guards{
			Read:  middleware.RequireRead,
			Write: middleware.RequireWrite,
			Admin: middleware.RequireAdmin,
		}
		jwksChecker = middleware.NewJWKSReadinessChecker(cfg.JWTJWKSURL, 3*time.Second)
		logger.Info("JWT аутентификация включена", slog.String("jwks_url", cfg.JWTJWKSURL))
	} else {
		logger.Warn("JWT аутентификация выключена: TC_JWT_JWKS_URL не задан")
	}

	// 6. Мониторинг зависимостей (topologymetrics)
	if cfg.AuthEnabled() {
		be.deps.JWKSURL = cfg.JWTJWKSURL
	}
	dephealthSvc, err := service.NewDephealthService(serviceID, cfg.DephealthGroup, be.deps,
		cfg.DephealthCheckInterval, logger)
	switch {
	case errors.Is(err, service.ErrNoDependencies):
		logger.Info("Мониторинг зависимостей не требуется")
	case err != nil:
		logger.Warn("Не удалось создать сервис мониторинга зависимостей",
			slog.String("error", err.Error()),
		)
	default:
		if err := dephealthSvc.Start(ctx); err != nil {
			logger.Warn("Не удалось запустить мониторинг зависимостей",
				slog.String("error", err.Error()),
			)
		} else {
			defer dephealthSvc.Stop()
		}
	}

	// 7. HTTP-сервер
	health := handlers.NewHealthHandler(database.NewReadinessChecker(cfg.Backend, cat), jwksChecker)
	apiHandler := handlers.NewAPIHandler(cat, health, logger)
	srv := server.New(cfg, logger, apiHandler, guards, middlewares...)

	return srv.Run()
}

// openBackend открывает хранилище выбранного бэкенда.
func openBackend(ctx context.Context, cfg *config.Config, logger *slog.Logger) (*backend, error) {
	switch cfg.Backend {
	case config.BackendSQLite:
		db, err := database.OpenSQLite(ctx, cfg.SQLitePath, logger)
		if err != nil {
			return nil, err
		}
		return &backend{
			adapter: repository.NewSQLiteAdapter(db, &sync.Mutex{}),
			close:   func() { _ = db.Close() },
		}, nil

	default:
		pool, err := database.Connect(ctx, cfg, logger)
		if err != nil {
			return nil, err
		}
		adapter, err := repository.NewAdapter(pool, cfg.WriteStrategy)
		if err != nil {
			pool.Close()
			return nil, err
		}
		// *sql.DB поверх пула для pgcheck (connection pool mode)
		sqlDB := stdlib.OpenDBFromPool(pool)
		return &backend{
			adapter: adapter,
			deps: service.Dependencies{
				DB:        sqlDB,
				PGConnURL: fmt.Sprintf("postgres://%s:%d/%s", cfg.DBHost, cfg.DBPort, cfg.DBName),
			},
			close: func() {
				_ = sqlDB.Close()
				pool.Close()
			},
		}, nil
	}
}
