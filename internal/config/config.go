// Пакет config — загрузка и валидация конфигурации Share Module
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

// Backend-и хранилища метаданных.
const (
	MetadataBackendJSON     = "json"
	MetadataBackendPostgres = "postgres"
)

// Backend-и хранилища содержимого.
const (
	BlobBackendLocal = "local"
	BlobBackendS3    = "s3"
)

// Config содержит все параметры конфигурации Share Module.
type Config struct {
	// --- Сервер ---

	// Порт HTTP-сервера (диапазон 8020-8029)
	Port int
	// Базовый URL для полных ссылок на скачивание
	PublicURL string
	// Уровень логирования (debug, info, warn, error)
	LogLevel slog.Level
	// Формат логов (json, text)
	LogFormat string

	// --- Метаданные ---

	// Backend метаданных: json или postgres
	MetadataBackend string
	// Путь к JSON-документу (backend json)
	MetadataFile string

	// --- PostgreSQL (backend postgres) ---

	DBHost     string
	DBPort     int
	DBName     string
	DBUser     string
	DBPassword string
	DBSSLMode  string
	// Максимум соединений в пуле pgx
	DBMaxConns int

	// --- Содержимое файлов ---

	// Backend содержимого: local или s3
	BlobBackend string
	// Директория загрузок (backend local)
	UploadDir string
	// Директория журнала операций
	WALDir string

	// --- S3 (backend s3) ---

	S3Bucket    string
	S3Region    string
	S3Endpoint  string
	S3Prefix    string
	S3AccessKey string
	S3SecretKey string

	// --- Реестр ---

	// Максимальный размер загружаемого файла в байтах
	MaxFileSize int64
	// Число попыток при коллизии share_link
	LinkRetries int
	// Количество последних загрузок в статистике
	RecentLimit int
	// Размер LRU-кэша снимков статистики
	StatsCacheSize int
	// TTL снимка статистики в кэше
	StatsCacheTTL time.Duration
	// Интервал фоновой сверки метаданных и содержимого
	ReconcileInterval time.Duration

	// --- JWT ---

	// URL JWKS для проверки токенов. Пусто — анонимный режим.
	JWKSURL string
	// Значение роли администратора в claims
	JWTAdminRole string
	// Допуск расхождения часов при проверке exp/nbf
	JWTLeeway time.Duration

	// --- HTTP Server Timeouts ---

	HTTPReadTimeout  time.Duration
	HTTPWriteTimeout time.Duration
	HTTPIdleTimeout  time.Duration

	// --- Realtime ---

	// Интервал ping для WebSocket-подписчиков
	WSPingInterval time.Duration

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

	// SM_PORT — порт HTTP-сервера (по умолчанию 8020)
	cfg.Port, err = getEnvInt("SM_PORT", 8020)
	if err != nil {
		return nil, fmt.Errorf("SM_PORT: %w", err)
	}
	if cfg.Port < 8020 || cfg.Port > 8029 {
		return nil, fmt.Errorf("SM_PORT: значение %d вне допустимого диапазона 8020-8029", cfg.Port)
	}

	// SM_PUBLIC_URL — базовый URL ссылок (по умолчанию http://localhost:{port})
	cfg.PublicURL = strings.TrimRight(
		getEnvDefault("SM_PUBLIC_URL", fmt.Sprintf("http://localhost:%d", cfg.Port)), "/")

	cfg.LogLevel, err = parseLogLevel(getEnvDefault("SM_LOG_LEVEL", "info"))
	if err != nil {
		return nil, fmt.Errorf("SM_LOG_LEVEL: %w", err)
	}

	cfg.LogFormat = getEnvDefault("SM_LOG_FORMAT", "json")
	if cfg.LogFormat != "json" && cfg.LogFormat != "text" {
		return nil, fmt.Errorf("SM_LOG_FORMAT: недопустимое значение %q, допустимые: json, text", cfg.LogFormat)
	}

	// --- Метаданные ---

	cfg.MetadataBackend = getEnvDefault("SM_METADATA_BACKEND", MetadataBackendJSON)
	switch cfg.MetadataBackend {
	case MetadataBackendJSON:
		cfg.MetadataFile = getEnvDefault("SM_METADATA_FILE", "./data/files.json")
	case MetadataBackendPostgres:
		if err := loadDatabase(cfg); err != nil {
			return nil, err
		}
	default:
		return nil, fmt.Errorf("SM_METADATA_BACKEND: недопустимое значение %q, допустимые: json, postgres", cfg.MetadataBackend)
	}

	// --- Содержимое файлов ---

	cfg.BlobBackend = getEnvDefault("SM_BLOB_BACKEND", BlobBackendLocal)
	switch cfg.BlobBackend {
	case BlobBackendLocal:
		cfg.UploadDir = getEnvDefault("SM_UPLOAD_DIR", "./uploads")
	case BlobBackendS3:
		cfg.S3Bucket, err = getEnvRequired("SM_S3_BUCKET")
		if err != nil {
			return nil, err
		}
		cfg.S3Region = getEnvDefault("SM_S3_REGION", "us-east-1")
		cfg.S3Endpoint = getEnvDefault("SM_S3_ENDPOINT", "")
		cfg.S3Prefix = strings.Trim(getEnvDefault("SM_S3_PREFIX", ""), "/")
		// Ключи опциональны: без них используется стандартная цепочка AWS
		cfg.S3AccessKey = getEnvDefault("SM_S3_ACCESS_KEY", "")
		cfg.S3SecretKey = getEnvDefault("SM_S3_SECRET_KEY", "")
	default:
		return nil, fmt.Errorf("SM_BLOB_BACKEND: недопустимое значение %q, допустимые: local, s3", cfg.BlobBackend)
	}

	cfg.WALDir = getEnvDefault("SM_WAL_DIR", "./data/wal")

	// --- Реестр ---

	// SM_MAX_FILE_SIZE — лимит загрузки (по умолчанию 700 MiB)
	cfg.MaxFileSize, err = getEnvInt64("SM_MAX_FILE_SIZE", 700*1024*1024)
	if err != nil {
		return nil, fmt.Errorf("SM_MAX_FILE_SIZE: %w", err)
	}
	if cfg.MaxFileSize <= 0 {
		return nil, fmt.Errorf("SM_MAX_FILE_SIZE: значение должно быть > 0")
	}

	cfg.LinkRetries, err = getEnvInt("SM_LINK_RETRIES", 5)
	if err != nil {
		return nil, fmt.Errorf("SM_LINK_RETRIES: %w", err)
	}
	if cfg.LinkRetries < 1 || cfg.LinkRetries > 100 {
		return nil, fmt.Errorf("SM_LINK_RETRIES: значение %d вне допустимого диапазона 1-100", cfg.LinkRetries)
	}

	cfg.RecentLimit, err = getEnvInt("SM_RECENT_LIMIT", 10)
	if err != nil {
		return nil, fmt.Errorf("SM_RECENT_LIMIT: %w", err)
	}
	if cfg.RecentLimit < 0 {
		return nil, fmt.Errorf("SM_RECENT_LIMIT: значение должно быть >= 0")
	}

	cfg.StatsCacheSize, err = getEnvInt("SM_STATS_CACHE_SIZE", 16)
	if err != nil {
		return nil, fmt.Errorf("SM_STATS_CACHE_SIZE: %w", err)
	}
	if cfg.StatsCacheSize < 1 {
		return nil, fmt.Errorf("SM_STATS_CACHE_SIZE: значение должно быть >= 1")
	}

	cfg.StatsCacheTTL, err = getEnvDuration("SM_STATS_CACHE_TTL", time.Minute)
	if err != nil {
		return nil, fmt.Errorf("SM_STATS_CACHE_TTL: %w", err)
	}

	cfg.ReconcileInterval, err = getEnvDuration("SM_RECONCILE_INTERVAL", 6*time.Hour)
	if err != nil {
		return nil, fmt.Errorf("SM_RECONCILE_INTERVAL: %w", err)
	}

	// --- JWT ---

	cfg.JWKSURL = getEnvDefault("SM_JWKS_URL", "")
	cfg.JWTAdminRole = getEnvDefault("SM_JWT_ADMIN_ROLE", "admin")

	cfg.JWTLeeway, err = getEnvDuration("SM_JWT_LEEWAY", 5*time.Second)
	if err != nil {
		return nil, fmt.Errorf("SM_JWT_LEEWAY: %w", err)
	}

	// --- HTTP Server Timeouts ---

	// Загрузка крупных файлов требует длинных таймаутов чтения и записи
	cfg.HTTPReadTimeout, err = getEnvDuration("SM_HTTP_READ_TIMEOUT", 10*time.Minute)
	if err != nil {
		return nil, fmt.Errorf("SM_HTTP_READ_TIMEOUT: %w", err)
	}

	cfg.HTTPWriteTimeout, err = getEnvDuration("SM_HTTP_WRITE_TIMEOUT", 10*time.Minute)
	if err != nil {
		return nil, fmt.Errorf("SM_HTTP_WRITE_TIMEOUT: %w", err)
	}

	cfg.HTTPIdleTimeout, err = getEnvDuration("SM_HTTP_IDLE_TIMEOUT", 120*time.Second)
	if err != nil {
		return nil, fmt.Errorf("SM_HTTP_IDLE_TIMEOUT: %w", err)
	}

	// --- Realtime ---

	cfg.WSPingInterval, err = getEnvDuration("SM_WS_PING_INTERVAL", 30*time.Second)
	if err != nil {
		return nil, fmt.Errorf("SM_WS_PING_INTERVAL: %w", err)
	}

	// --- Graceful shutdown ---

	cfg.ShutdownTimeout, err = getEnvDuration("SM_SHUTDOWN_TIMEOUT", 10*time.Second)
	if err != nil {
		return nil, fmt.Errorf("SM_SHUTDOWN_TIMEOUT: %w", err)
	}

	return cfg, nil
}

// loadDatabase читает параметры PostgreSQL. Все, кроме порта и sslmode,
// обязательны для backend postgres.
func loadDatabase(cfg *Config) error {
	var err error

	cfg.DBHost, err = getEnvRequired("SM_DB_HOST")
	if err != nil {
		return err
	}

	cfg.DBPort, err = getEnvInt("SM_DB_PORT", 5432)
	if err != nil {
		return fmt.Errorf("SM_DB_PORT: %w", err)
	}

	cfg.DBName, err = getEnvRequired("SM_DB_NAME")
	if err != nil {
		return err
	}

	cfg.DBUser, err = getEnvRequired("SM_DB_USER")
	if err != nil {
		return err
	}

	cfg.DBPassword, err = getEnvRequired("SM_DB_PASSWORD")
	if err != nil {
		return err
	}

	cfg.DBSSLMode = getEnvDefault("SM_DB_SSL_MODE", "disable")

	cfg.DBMaxConns, err = getEnvInt("SM_DB_MAX_CONNS", 10)
	if err != nil {
		return fmt.Errorf("SM_DB_MAX_CONNS: %w", err)
	}
	if cfg.DBMaxConns < 1 {
		return fmt.Errorf("SM_DB_MAX_CONNS: должно быть не меньше 1, получено %d", cfg.DBMaxConns)
	}
	return nil
}

// DatabaseDSN возвращает строку подключения к PostgreSQL для pgxpool.
func (c *Config) DatabaseDSN() string {
	return fmt.Sprintf(
		"host=%s port=%d dbname=%s user=%s password=%s sslmode=%s",
		c.DBHost, c.DBPort, c.DBName, c.DBUser, c.DBPassword, c.DBSSLMode,
	)
}

// AuthEnabled — true, если задан JWKS и запросы несут принципала.
func (c *Config) AuthEnabled() bool {
	return c.JWKSURL != ""
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

func getEnvInt64(key string, defaultVal int64) (int64, error) {
	val := os.Getenv(key)
	if val == "" {
		return defaultVal, nil
	}
	n, err := strconv.ParseInt(val, 10, 64)
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
	if d <= 0 {
		return 0, fmt.Errorf("значение должно быть > 0")
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
