package database

import (
	"context"
	"log/slog"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/testcontainers/testcontainers-go"
	"github.com/testcontainers/testcontainers-go/modules/postgres"
	"github.com/testcontainers/testcontainers-go/wait"

	"github.com/bigkaa/goartstore/tape-catalogue/internal/config"
)

var catalogueTables = []string{
	"tape",
	"archive_file",
	"tape_file",
	"file_recycle_log",
	"mount_policy",
	"requester_mount_rule",
	"requester_group_mount_rule",
	"requester_activity_mount_rule",
}

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: slog.LevelError}))
}

// setupTestDB запускает PostgreSQL в Docker-контейнере через testcontainers.
func setupTestDB(t *testing.T) *config.Config {
	t.Helper()

	if os.Getenv("TEST_INTEGRATION") == "" {
		t.Skip("Пропуск интеграционного теста: TEST_INTEGRATION не установлена")
	}

	ctx := context.Background()

	container, err := postgres.Run(ctx,
		"docker.io/postgres:17-alpine",
		postgres.WithDatabase("tapecat_test"),
		postgres.WithUsername("tapecat"),
		postgres.WithPassword("test-password"),
		testcontainers.WithWaitStrategy(
			wait.ForLog("database system is ready to accept connections").
				WithOccurrence(2).
				WithStartupTimeout(30*time.Second),
		),
	)
	if err != nil {
		t.Fatalf("Не удалось запустить PostgreSQL контейнер: %v", err)
	}
	t.Cleanup(func() {
		if err := container.Terminate(ctx); err != nil {
			t.Logf("Ошибка остановки контейнера: %v", err)
		}
	})

	host, err := container.Host(ctx)
	if err != nil {
		t.Fatalf("Не удалось получить host контейнера: %v", err)
	}
	port, err := container.MappedPort(ctx, "5432")
	if err != nil {
		t.Fatalf("Не удалось получить port контейнера: %v", err)
	}

	t.Setenv("TC_BACKEND", "postgres")
	t.Setenv("TC_DB_HOST", host)
	t.Setenv("TC_DB_PORT", port.Port())
	t.Setenv("TC_DB_NAME", "tapecat_test")
	t.Setenv("TC_DB_USER", "tapecat")
	t.Setenv("TC_DB_PASSWORD", "test-password")
	t.Setenv("TC_DB_SSL_MODE", "disable")

	cfg, err := config.Load()
	if err != nil {
		t.Fatalf("Ошибка загрузки конфигурации: %v", err)
	}
	return cfg
}

// TestMigrate_Postgres проверяет применение миграций PostgreSQL.
func TestMigrate_Postgres(t *testing.T) {
	cfg := setupTestDB(t)
	logger := testLogger()

	if err := Migrate(cfg, logger); err != nil {
		t.Fatalf("Migrate() вернул ошибку: %v", err)
	}
	// Повторное применение — без ошибки (ErrNoChange)
	if err := Migrate(cfg, logger); err != nil {
		t.Fatalf("Повторный Migrate() вернул ошибку: %v", err)
	}

	ctx := context.Background()
	pool, err := Connect(ctx, cfg, logger)
	if err != nil {
		t.Fatalf("Connect() вернул ошибку: %v", err)
	}
	defer pool.Close()

	for _, table := range catalogueTables {
		var exists bool
		err := pool.QueryRow(ctx,
			`SELECT EXISTS (
				SELECT FROM information_schema.tables
				WHERE table_schema = 'public' AND table_name = $1
			)`, table).Scan(&exists)
		if err != nil {
			t.Fatalf("Ошибка проверки таблицы %s: %v", table, err)
		}
		if !exists {
			t.Errorf("Таблица %s не создана", table)
		}
	}

	// Уникальность (vid, fseq) должна быть отложенной
	var deferrable bool
	err = pool.QueryRow(ctx,
		`SELECT condeferrable FROM pg_constraint WHERE conname = 'tape_file_vid_fseq_key'`,
	).Scan(&deferrable)
	if err != nil {
		t.Fatalf("Ограничение tape_file_vid_fseq_key не найдено: %v", err)
	}
	if !deferrable {
		t.Error("tape_file_vid_fseq_key не DEFERRABLE")
	}

	status, msg := NewReadinessChecker("PostgreSQL", pool).CheckReady()
	if status != "ok" {
		t.Errorf("CheckReady() status = %q, message = %q", status, msg)
	}
}

// TestMigrate_SQLite проверяет миграции и открытие файла SQLite.
func TestMigrate_SQLite(t *testing.T) {
	path := filepath.Join(t.TempDir(), "catalogue.db")
	t.Setenv("TC_BACKEND", "sqlite")
	t.Setenv("TC_SQLITE_PATH", path)

	cfg, err := config.Load()
	if err != nil {
		t.Fatalf("Ошибка загрузки конфигурации: %v", err)
	}
	logger := testLogger()

	if err := Migrate(cfg, logger); err != nil {
		t.Fatalf("Migrate() вернул ошибку: %v", err)
	}
	if err := Migrate(cfg, logger); err != nil {
		t.Fatalf("Повторный Migrate() вернул ошибку: %v", err)
	}

	ctx := context.Background()
	db, err := OpenSQLite(ctx, path, logger)
	if err != nil {
		t.Fatalf("OpenSQLite() вернул ошибку: %v", err)
	}
	defer db.Close()

	for _, table := range catalogueTables {
		var name string
		err := db.QueryRowContext(ctx,
			`SELECT name FROM sqlite_master WHERE type = 'table' AND name = ?`, table,
		).Scan(&name)
		if err != nil {
			t.Errorf("Таблица %s не создана: %v", table, err)
		}
	}
}
