// Пакет config — загрузка и валидация конфигурации Tape Catalogue
// из переменных окружения.
package config

import (
	"fmt"
	"log/slog"
	"os"
	"strconv"
	"strings"
	"time"
)

// Версия приложения, задаётся при сборке через -ldflags.
var Version = "dev"

// Бэкенды хранилища каталога.
const (
	BackendPostgres = "postgres"
	BackendSQLite   = "sqlite"
)

// Config содержит все параметры конфигурации Tape Catalogue.
type Config struct {
	// --- Сервер ---

	// Порт HTTP-сервера
	Port int
	// Уровень логирования (debug, info, warn, error)
	LogLevel slog.Level
	// Формат логов (json, text)
	LogFormat string

	// --- HTTP Server Timeouts ---

	HTTPReadTimeout  time.Duration
	HTTPWriteTimeout time.Duration
	HTTPIdleTimeout  time.Duration

	// --- Хранилище ---

	// Backend — postgres или sqlite
	Backend string
	// WriteStrategy — rowlock или staging (только postgres);
	// для sqlite всегда mutex
	WriteStrategy string

	DBHost     string
	DBPort     int
	DBName     string
	DBUser     string
	DBPassword string
	DBSSLMode  string
	// DBMaxConns — размер пула подключений (0 — по умолчанию pgxpool)
	DBMaxConns int

	// SQLitePath — путь к файлу базы SQLite
	SQLitePath string

	// --- Кэш правил монтирования ---

	MountRuleCacheSize int
	MountRuleCacheTTL  time.Duration

	// --- JWT (проверка включена, если задан JWTJWKSURL) ---

	JWTJWKSURL string
	JWTIssuer  string
	// Допуск расхождения часов при проверке exp/nbf
	JWTLeeway time.Duration
	// Период обновления JWKS
	JWKSRefreshInterval time.Duration
	// Группы, дающие роль catalogue:admin
	AdminGroups []string

	// --- Topologymetrics (dephealth) ---

	DephealthGroup         string
	DephealthCheckInterval time.Duration

	// --- Graceful shutdown ---

	ShutdownTimeout time.Duration
}

// Load загружает конфигурацию из переменных окружения.
// Возвращает ошибку, если обязательные переменные не заданы
// или значения некорректны.
func Load() (*Config, error) {
	cfg := &Config{}
	var err error

	// --- Сервер ---

	// TC_PORT — порт HTTP-сервера (по умолчанию 8040)
	cfg.Port, err = getEnvInt("TC_PORT", 8040)
	if err != nil {
		return nil, fmt.Errorf("TC_PORT: %w", err)
	}
	if cfg.Port < 1 || cfg.Port > 65535 {
		return nil, fmt.Errorf("TC_PORT: порт %d вне диапазона 1-65535", cfg.Port)
	}

	cfg.LogLevel, err = parseLogLevel(getEnvDefault("TC_LOG_LEVEL", "info"))
	if err != nil {
		return nil, fmt.Errorf("TC_LOG_LEVEL: %w", err)
	}

	cfg.LogFormat = getEnvDefault("TC_LOG_FORMAT", "json")
	if cfg.LogFormat != "json" && cfg.LogFormat != "text" {
		return nil, fmt.Errorf("TC_LOG_FORMAT: недопустимый формат %q, допустимые: json, text", cfg.LogFormat)
	}

	// --- HTTP Server Timeouts ---

	cfg.HTTPReadTimeout, err = getEnvDuration("TC_HTTP_READ_TIMEOUT", 30*time.Second)
	if err != nil {
		return nil, fmt.Errorf("TC_HTTP_READ_TIMEOUT: %w", err)
	}
	cfg.HTTPWriteTimeout, err = getEnvDuration("TC_HTTP_WRITE_TIMEOUT", 60*time.Second)
	if err != nil {
		return nil, fmt.Errorf("TC_HTTP_WRITE_TIMEOUT: %w", err)
	}
	cfg.HTTPIdleTimeout, err = getEnvDuration("TC_HTTP_IDLE_TIMEOUT", 120*time.Second)
	if err != nil {
		return nil, fmt.Errorf("TC_HTTP_IDLE_TIMEOUT: %w", err)
	}

	// --- Хранилище ---

	cfg.Backend = strings.ToLower(getEnvDefault("TC_BACKEND", BackendPostgres))
	switch cfg.Backend {
	case BackendPostgres:
		if err := loadPostgres(cfg); err != nil {
			return nil, err
		}
	case BackendSQLite:
		// TC_SQLITE_PATH — файл базы (по умолчанию ./tape-catalogue.db)
		cfg.SQLitePath = getEnvDefault("TC_SQLITE_PATH", "tape-catalogue.db")
		cfg.WriteStrategy = "mutex"
	default:
		return nil, fmt.Errorf("TC_BACKEND: недопустимый бэкенд %q, допустимые: postgres, sqlite", cfg.Backend)
	}

	// --- Кэш правил монтирования ---

	cfg.MountRuleCacheSize, err = getEnvInt("TC_MOUNT_RULE_CACHE_SIZE", 1000)
	if err != nil {
		return nil, fmt.Errorf("TC_MOUNT_RULE_CACHE_SIZE: %w", err)
	}
	if cfg.MountRuleCacheSize < 1 {
		return nil, fmt.Errorf("TC_MOUNT_RULE_CACHE_SIZE: значение должно быть > 0")
	}
	cfg.MountRuleCacheTTL, err = getEnvDuration("TC_MOUNT_RULE_CACHE_TTL", time.Minute)
	if err != nil {
		return nil, fmt.Errorf("TC_MOUNT_RULE_CACHE_TTL: %w", err)
	}

	// --- JWT ---

	cfg.JWTJWKSURL = getEnvDefault("TC_JWT_JWKS_URL", "")
	cfg.JWTIssuer = getEnvDefault("TC_JWT_ISSUER", "")
	cfg.JWTLeeway, err = getEnvDuration("TC_JWT_LEEWAY", 5*time.Second)
	if err != nil {
		return nil, fmt.Errorf("TC_JWT_LEEWAY: %w", err)
	}
	cfg.JWKSRefreshInterval, err = getEnvDuration("TC_JWKS_REFRESH_INTERVAL", 15*time.Minute)
	if err != nil {
		return nil, fmt.Errorf("TC_JWKS_REFRESH_INTERVAL: %w", err)
	}
	cfg.AdminGroups = parseCSV(getEnvDefault("TC_ADMIN_GROUPS", "tape-operators"))

	// --- Topologymetrics ---

	cfg.DephealthGroup = getEnvDefault("TC_DEPHEALTH_GROUP", "tape-catalogue")
	cfg.DephealthCheckInterval, err = getEnvDuration("TC_DEPHEALTH_CHECK_INTERVAL", 15*time.Second)
	if err != nil {
		return nil, fmt.Errorf("TC_DEPHEALTH_CHECK_INTERVAL: %w", err)
	}

	// --- Graceful shutdown ---

	cfg.ShutdownTimeout, err = getEnvDuration("TC_SHUTDOWN_TIMEOUT", 5*time.Second)
	if err != nil {
		return nil, fmt.Errorf("TC_SHUTDOWN_TIMEOUT: %w", err)
	}

	return cfg, nil
}

// loadPostgres читает параметры PostgreSQL.
func loadPostgres(cfg *Config) error {
	var err error

	cfg.WriteStrategy = strings.ToLower(getEnvDefault("TC_WRITE_STRATEGY", "rowlock"))
	if cfg.WriteStrategy != "rowlock" && cfg.WriteStrategy != "staging" {
		return fmt.Errorf("TC_WRITE_STRATEGY: недопустимая стратегия %q, допустимые: rowlock, staging", cfg.WriteStrategy)
	}

	if cfg.DBHost, err = getEnvRequired("TC_DB_HOST"); err != nil {
		return err
	}
	if cfg.DBPort, err = getEnvInt("TC_DB_PORT", 5432); err != nil {
		return fmt.Errorf("TC_DB_PORT: %w", err)
	}
	if cfg.DBName, err = getEnvRequired("TC_DB_NAME"); err != nil {
		return err
	}
	if cfg.DBUser, err = getEnvRequired("TC_DB_USER"); err != nil {
		return err
	}
	if cfg.DBPassword, err = getEnvRequired("TC_DB_PASSWORD"); err != nil {
		return err
	}
	cfg.DBSSLMode = getEnvDefault("TC_DB_SSL_MODE", "disable")
	if cfg.DBMaxConns, err = getEnvInt("TC_DB_MAX_CONNS", 0); err != nil {
		return fmt.Errorf("TC_DB_MAX_CONNS: %w", err)
	}
	if cfg.DBMaxConns < 0 {
		return fmt.Errorf("TC_DB_MAX_CONNS: значение должно быть >= 0")
	}
	return nil
}

// DatabaseDSN возвращает строку подключения к PostgreSQL.
func (c *Config) DatabaseDSN() string {
	dsn := fmt.Sprintf(
		"host=%s port=%d dbname=%s user=%s password=%s sslmode=%s",
		c.DBHost, c.DBPort, c.DBName, c.DBUser, c.DBPassword, c.DBSSLMode,
	)
	if c.DBMaxConns > 0 {
		dsn += fmt.Sprintf(" pool_max_conns=%d", c.DBMaxConns)
	}
	return dsn
}

// MigrationURL возвращает URL базы для golang-migrate.
func (c *Config) MigrationURL() string {
	if c.Backend == BackendSQLite {
		return "sqlite3://" + c.SQLitePath
	}
	return fmt.Sprintf(
		"pgx5://%s:%s@%s:%d/%s?sslmode=%s",
		c.DBUser, c.DBPassword, c.DBHost, c.DBPort, c.DBName, c.DBSSLMode,
	)
}

// AuthEnabled — проверка JWT включена.
func (c *Config) AuthEnabled() bool {
	return c.JWTJWKSURL != ""
}

// SetupLogger настраивает глобальный slog-логгер на основе конфигурации.
func SetupLogger(cfg *Config) *slog.Logger {
	opts := &slog.HandlerOptions{
		Level: cfg.LogLevel,
	}

	var handler slog.Handler
	if cfg.LogFormat == "json" {
		handler = slog.NewJSONHandler(os.Stdout, opts)
	} else {
		handler = slog.NewTextHandler(os.Stdout, opts)
	}

	logger := slog.New(handler)
	slog.SetDefault(logger)
	return logger
}

// --- Вспомогательные функции ---

// getEnvRequired возвращает значение переменной окружения или ошибку, если она не задана.
func getEnvRequired(key string) (string, error) {
	val := os.Getenv(key)
	if val == "" {
		return "", fmt.Errorf("%s: обязательная переменная окружения не задана", key)
	}
	return val, nil
}

// getEnvDefault возвращает значение переменной окружения или значение по умолчанию.
func getEnvDefault(key, defaultVal string) string {
	val := os.Getenv(key)
	if val == "" {
		return defaultVal
	}
	return val
}

// getEnvInt возвращает целочисленное значение переменной окружения или значение по умолчанию.
func getEnvInt(key string, defaultVal int) (int, error) {
	val := os.Getenv(key)
	if val == "" {
		return defaultVal, nil
	}
	n, err := strconv.Atoi(val)
	if err != nil {
		return 0, fmt.Errorf("некорректное целое число: %q", val)
	}
	return n, nil
}

// getEnvDuration возвращает time.Duration из переменной окружения или значение по умолчанию.
func getEnvDuration(key string, defaultVal time.Duration) (time.Duration, error) {
	val := os.Getenv(key)
	if val == "" {
		return defaultVal, nil
	}
	d, err := time.ParseDuration(val)
	if err != nil {
		return 0, fmt.Errorf("некорректная длительность: %q (используйте формат Go: 30s, 1h, 15m)", val)
	}
	return d, nil
}

// parseLogLevel преобразует строку уровня логирования в slog.Level.
func parseLogLevel(level string) (slog.Level, error) {
	switch strings.ToLower(level) {
	case "debug":
		return slog.LevelDebug, nil
	case "info":
		return slog.LevelInfo, nil
	case "warn", "warning":
		return slog.LevelWarn, nil
	case "error":
		return slog.LevelError, nil
	default:
		return slog.LevelInfo, fmt.Errorf("недопустимый уровень %q, допустимые: debug, info, warn, error", level)
	}
}

// parseCSV разбирает строку, разделённую запятыми, на срез строк.
func parseCSV(s string) []string {
	if s == "" {
		return nil
	}
	parts := strings.Split(s, ",")
	result := make([]string, 0, len(parts))
	for _, p := range parts {
		p = strings.TrimSpace(p)
		if p != "" {
			result = append(result, p)
		}
	}
	return result
}
