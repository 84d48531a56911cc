// Пакет config — загрузка и валидация конфигурации File Registry
// из переменных окружения и необязательного TOML-файла.
//
// Приоритет источников: переменная окружения → файл FR_CONFIG_FILE →
// значение по умолчанию. Ключи файла — имена переменных без префикса FR_
// в нижнем регистре (FR_DB_HOST → db_host).
package config

import (
	"fmt"
	"log/slog"
	"net/url"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/BurntSushi/toml"
)

// Версия приложения, задаётся при сборке через -ldflags.
var Version = "dev"

const envPrefix = "FR_"

// Поддерживаемые хранилища состояния реестра.
const (
	BackendMemory   = "memory"
	BackendPostgres = "postgres"
)

// Config содержит все параметры конфигурации File Registry.
type Config struct {
	// --- Сервер ---

	// Порт HTTP-сервера
	Port int
	// Уровень логирования (debug, info, warn, error)
	LogLevel slog.Level
	// Формат логов (json, text)
	LogFormat string

	// --- Хранилище ---

	// Хранилище состояния: memory или postgres
	StorageBackend string
	// Директория журнала in-memory хранилища (пусто — без сохранения на диск)
	JournalDir string
	// Число транзакций между свёртками журнала в снимок (0 — не сворачивать)
	JournalCompactEvery int

	// --- PostgreSQL ---

	// Хост PostgreSQL
	DBHost string
	// Порт PostgreSQL
	DBPort int
	// Имя базы данных
	DBName string
	// Имя пользователя PostgreSQL
	DBUser string
	// Пароль пользователя PostgreSQL
	DBPassword string
	// Режим SSL: disable, require, verify-ca, verify-full
	DBSSLMode string

	// --- Идентификация вызывающего ---

	// URL JWKS endpoint (пусто — адрес берётся из заголовка X-Caller-Address)
	JWTJWKSURL string
	// Ожидаемый issuer JWT (пусто — не проверяется)
	JWTIssuer string
	// Claim с адресом вызывающего
	JWTAddressClaim string
	// Допустимое расхождение часов при проверке exp/nbf
	JWTLeeway time.Duration
	// Интервал обновления JWKS
	JWKSRefreshInterval time.Duration
	// Таймаут HTTP-клиента JWKS
	JWKSClientTimeout time.Duration
	// Путь к CA-сертификату для TLS-соединения с JWKS endpoint (опционально)
	CACertPath string

	// --- Кэш проверок ---

	// Максимальное число записей в кэше
	CacheSize int
	// Время жизни записи кэша
	CacheTTL time.Duration

	// --- Ограничение частоты запросов ---

	// Мутаций в минуту на вызывающего (0 — без ограничения)
	RateLimitPerMinute int
	// Допустимый всплеск
	RateLimitBurst int

	// --- Поток событий ---

	// Максимум одновременных подписчиков
	StreamMaxClients int
	// Размер буфера подписчика
	StreamBuffer int
	// Интервал ping websocket
	StreamPingInterval time.Duration

	// --- Topologymetrics ---

	// Группа сервиса в topologymetrics
	DephealthGroup string
	// Интервал проверки зависимостей topologymetrics
	DephealthCheckInterval time.Duration

	// --- Graceful shutdown ---

	// Таймаут graceful shutdown HTTP-сервера
	ShutdownTimeout time.Duration
}

// Load загружает конфигурацию из переменных окружения (и файла
// FR_CONFIG_FILE, если задан), валидирует поля и возвращает Config или ошибку.
func Load() (*Config, error) {
	src, err := newSource(os.Getenv(envPrefix + "CONFIG_FILE"))
	if err != nil {
		return nil, err
	}
	return src.load()
}

func (s *source) load() (*Config, error) {
	cfg := &Config{}
	var err error

	// --- Сервер ---

	// FR_PORT — порт HTTP-сервера (по умолчанию 8020)
	cfg.Port, err = s.getEnvInt("FR_PORT", 8020)
	if err != nil {
		return nil, fmt.Errorf("FR_PORT: %w", err)
	}
	if cfg.Port < 1 || cfg.Port > 65535 {
		return nil, fmt.Errorf("FR_PORT: значение %d вне допустимого диапазона 1-65535", cfg.Port)
	}

	// FR_LOG_LEVEL — уровень логирования (по умолчанию info)
	cfg.LogLevel, err = parseLogLevel(s.getEnvDefault("FR_LOG_LEVEL", "info"))
	if err != nil {
		return nil, fmt.Errorf("FR_LOG_LEVEL: %w", err)
	}

	// FR_LOG_FORMAT — формат логов (по умолчанию json)
	cfg.LogFormat = s.getEnvDefault("FR_LOG_FORMAT", "json")
	if cfg.LogFormat != "json" && cfg.LogFormat != "text" {
		return nil, fmt.Errorf("FR_LOG_FORMAT: недопустимое значение %q, допустимые: json, text", cfg.LogFormat)
	}

	// --- Хранилище ---

	// FR_STORAGE_BACKEND — memory или postgres (по умолчанию memory)
	cfg.StorageBackend = strings.ToLower(s.getEnvDefault("FR_STORAGE_BACKEND", BackendMemory))
	if cfg.StorageBackend != BackendMemory && cfg.StorageBackend != BackendPostgres {
		return nil, fmt.Errorf("FR_STORAGE_BACKEND: недопустимое значение %q, допустимые: memory, postgres", cfg.StorageBackend)
	}

	// FR_JOURNAL_DIR — директория журнала (опционально)
	cfg.JournalDir = s.getEnvDefault("FR_JOURNAL_DIR", "")

	// FR_JOURNAL_COMPACT_EVERY — транзакций между свёртками (по умолчанию 1000)
	cfg.JournalCompactEvery, err = s.getEnvInt("FR_JOURNAL_COMPACT_EVERY", 1000)
	if err != nil {
		return nil, fmt.Errorf("FR_JOURNAL_COMPACT_EVERY: %w", err)
	}
	if cfg.JournalCompactEvery < 0 {
		return nil, fmt.Errorf("FR_JOURNAL_COMPACT_EVERY: значение %d не может быть отрицательным", cfg.JournalCompactEvery)
	}

	// --- PostgreSQL ---

	// FR_DB_PORT — порт PostgreSQL (по умолчанию 5432)
	cfg.DBPort, err = s.getEnvInt("FR_DB_PORT", 5432)
	if err != nil {
		return nil, fmt.Errorf("FR_DB_PORT: %w", err)
	}

	// FR_DB_SSL_MODE — режим SSL (по умолчанию disable)
	cfg.DBSSLMode = s.getEnvDefault("FR_DB_SSL_MODE", "disable")
	validSSLModes := map[string]bool{
		"disable": true, "require": true, "verify-ca": true, "verify-full": true,
	}
	if !validSSLModes[cfg.DBSSLMode] {
		return nil, fmt.Errorf("FR_DB_SSL_MODE: недопустимое значение %q, допустимые: disable, require, verify-ca, verify-full", cfg.DBSSLMode)
	}

	if cfg.StorageBackend == BackendPostgres {
		// FR_DB_HOST, FR_DB_NAME, FR_DB_USER, FR_DB_PASSWORD — обязательны для postgres
		if cfg.DBHost, err = s.getEnvRequired("FR_DB_HOST"); err != nil {
			return nil, err
		}
		if cfg.DBName, err = s.getEnvRequired("FR_DB_NAME"); err != nil {
			return nil, err
		}
		if cfg.DBUser, err = s.getEnvRequired("FR_DB_USER"); err != nil {
			return nil, err
		}
		if cfg.DBPassword, err = s.getEnvRequired("FR_DB_PASSWORD"); err != nil {
			return nil, err
		}
	}

	// --- Идентификация вызывающего ---

	// FR_JWT_JWKS_URL — URL JWKS (опционально)
	cfg.JWTJWKSURL = strings.TrimRight(s.getEnvDefault("FR_JWT_JWKS_URL", ""), "/")
	if cfg.JWTJWKSURL != "" {
		u, err := url.Parse(cfg.JWTJWKSURL)
		if err != nil || (u.Scheme != "http" && u.Scheme != "https") || u.Host == "" {
			return nil, fmt.Errorf("FR_JWT_JWKS_URL: некорректный URL %q", cfg.JWTJWKSURL)
		}
	}

	// FR_JWT_ISSUER — ожидаемый issuer (опционально)
	cfg.JWTIssuer = s.getEnvDefault("FR_JWT_ISSUER", "")

	// FR_JWT_ADDRESS_CLAIM — claim с адресом (по умолчанию wallet_address)
	cfg.JWTAddressClaim = s.getEnvDefault("FR_JWT_ADDRESS_CLAIM", "wallet_address")

	// FR_JWT_LEEWAY — расхождение часов (по умолчанию 5s)
	cfg.JWTLeeway, err = s.getEnvDuration("FR_JWT_LEEWAY", 5*time.Second)
	if err != nil {
		return nil, fmt.Errorf("FR_JWT_LEEWAY: %w", err)
	}

	// FR_JWKS_REFRESH_INTERVAL — интервал обновления JWKS (по умолчанию 15m)
	cfg.JWKSRefreshInterval, err = s.getEnvDuration("FR_JWKS_REFRESH_INTERVAL", 15*time.Minute)
	if err != nil {
		return nil, fmt.Errorf("FR_JWKS_REFRESH_INTERVAL: %w", err)
	}

	// FR_JWKS_CLIENT_TIMEOUT — таймаут клиента JWKS (по умолчанию 10s)
	cfg.JWKSClientTimeout, err = s.getEnvDuration("FR_JWKS_CLIENT_TIMEOUT", 10*time.Second)
	if err != nil {
		return nil, fmt.Errorf("FR_JWKS_CLIENT_TIMEOUT: %w", err)
	}

	// FR_CA_CERT_PATH — путь к CA-сертификату (опционально)
	cfg.CACertPath = s.getEnvDefault("FR_CA_CERT_PATH", "")

	// --- Кэш проверок ---

	// FR_CACHE_SIZE — размер кэша (по умолчанию 10000)
	cfg.CacheSize, err = s.getEnvInt("FR_CACHE_SIZE", 10000)
	if err != nil {
		return nil, fmt.Errorf("FR_CACHE_SIZE: %w", err)
	}
	if cfg.CacheSize < 1 {
		return nil, fmt.Errorf("FR_CACHE_SIZE: значение %d должно быть больше 0", cfg.CacheSize)
	}

	// FR_CACHE_TTL — время жизни записи кэша (по умолчанию 10m)
	cfg.CacheTTL, err = s.getEnvDuration("FR_CACHE_TTL", 10*time.Minute)
	if err != nil {
		return nil, fmt.Errorf("FR_CACHE_TTL: %w", err)
	}

	// --- Ограничение частоты запросов ---

	// FR_RATE_LIMIT_PER_MINUTE — мутаций в минуту (по умолчанию 120)
	cfg.RateLimitPerMinute, err = s.getEnvInt("FR_RATE_LIMIT_PER_MINUTE", 120)
	if err != nil {
		return nil, fmt.Errorf("FR_RATE_LIMIT_PER_MINUTE: %w", err)
	}
	if cfg.RateLimitPerMinute < 0 {
		return nil, fmt.Errorf("FR_RATE_LIMIT_PER_MINUTE: значение %d не может быть отрицательным", cfg.RateLimitPerMinute)
	}

	// FR_RATE_LIMIT_BURST — всплеск (по умолчанию 20)
	cfg.RateLimitBurst, err = s.getEnvInt("FR_RATE_LIMIT_BURST", 20)
	if err != nil {
		return nil, fmt.Errorf("FR_RATE_LIMIT_BURST: %w", err)
	}
	if cfg.RateLimitBurst < 1 {
		return nil, fmt.Errorf("FR_RATE_LIMIT_BURST: значение %d должно быть больше 0", cfg.RateLimitBurst)
	}

	// --- Поток событий ---

	// FR_STREAM_MAX_CLIENTS — максимум подписчиков (по умолчанию 100)
	cfg.StreamMaxClients, err = s.getEnvInt("FR_STREAM_MAX_CLIENTS", 100)
	if err != nil {
		return nil, fmt.Errorf("FR_STREAM_MAX_CLIENTS: %w", err)
	}
	if cfg.StreamMaxClients < 1 {
		return nil, fmt.Errorf("FR_STREAM_MAX_CLIENTS: значение %d должно быть больше 0", cfg.StreamMaxClients)
	}

	// FR_STREAM_BUFFER — буфер подписчика (по умолчанию 256)
	cfg.StreamBuffer, err = s.getEnvInt("FR_STREAM_BUFFER", 256)
	if err != nil {
		return nil, fmt.Errorf("FR_STREAM_BUFFER: %w", err)
	}
	if cfg.StreamBuffer < 1 {
		return nil, fmt.Errorf("FR_STREAM_BUFFER: значение %d должно быть больше 0", cfg.StreamBuffer)
	}

	// FR_STREAM_PING_INTERVAL — интервал ping (по умолчанию 30s)
	cfg.StreamPingInterval, err = s.getEnvDuration("FR_STREAM_PING_INTERVAL", 30*time.Second)
	if err != nil {
		return nil, fmt.Errorf("FR_STREAM_PING_INTERVAL: %w", err)
	}

	// --- Topologymetrics ---

	// FR_DEPHEALTH_GROUP — группа сервиса (по умолчанию file-registry)
	cfg.DephealthGroup = s.getEnvDefault("FR_DEPHEALTH_GROUP", "file-registry")

	// FR_DEPHEALTH_CHECK_INTERVAL — интервал проверки зависимостей (по умолчанию 15s)
	cfg.DephealthCheckInterval, err = s.getEnvDuration("FR_DEPHEALTH_CHECK_INTERVAL", 15*time.Second)
	if err != nil {
		return nil, fmt.Errorf("FR_DEPHEALTH_CHECK_INTERVAL: %w", err)
	}

	// --- Graceful shutdown ---

	// FR_SHUTDOWN_TIMEOUT — таймаут graceful shutdown (по умолчанию 5s)
	cfg.ShutdownTimeout, err = s.getEnvDuration("FR_SHUTDOWN_TIMEOUT", 5*time.Second)
	if err != nil {
		return nil, fmt.Errorf("FR_SHUTDOWN_TIMEOUT: %w", err)
	}

	return cfg, nil
}

// DatabaseDSN возвращает строку подключения к PostgreSQL.
func (c *Config) DatabaseDSN() string {
	return fmt.Sprintf(
		"host=%s port=%d dbname=%s user=%s password=%s sslmode=%s",
		c.DBHost, c.DBPort, c.DBName, c.DBUser, c.DBPassword, c.DBSSLMode,
	)
}

// DatabaseURL возвращает URL подключения к PostgreSQL (postgres://...).
// Используется golang-migrate и topologymetrics.
func (c *Config) DatabaseURL() string {
	u := url.URL{
		Scheme:   "postgres",
		User:     url.UserPassword(c.DBUser, c.DBPassword),
		Host:     fmt.Sprintf("%s:%d", c.DBHost, c.DBPort),
		Path:     "/" + c.DBName,
		RawQuery: "sslmode=" + url.QueryEscape(c.DBSSLMode),
	}
	return u.String()
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

// --- Источник значений ---

// source объединяет переменные окружения и значения из файла.
type source struct {
	file map[string]string
}

// newSource читает TOML-файл path (если задан) в плоский набор ключей.
func newSource(path string) (*source, error) {
	s := &source{file: map[string]string{}}
	if path == "" {
		return s, nil
	}

	var raw map[string]any
	if _, err := toml.DecodeFile(path, &raw); err != nil {
		return nil, fmt.Errorf("FR_CONFIG_FILE: ошибка чтения %s: %w", path, err)
	}
	for k, v := range raw {
		switch val := v.(type) {
		case map[string]any, []map[string]any:
			return nil, fmt.Errorf("FR_CONFIG_FILE: ключ %q: вложенные таблицы не поддерживаются", k)
		case []any:
			parts := make([]string, len(val))
			for i, p := range val {
				parts[i] = fmt.Sprint(p)
			}
			s.file[strings.ToLower(k)] = strings.Join(parts, ",")
		default:
			s.file[strings.ToLower(k)] = fmt.Sprint(val)
		}
	}
	return s, nil
}

// lookup возвращает значение ключа: окружение, затем файл.
func (s *source) lookup(key string) string {
	if val := os.Getenv(key); val != "" {
		return val
	}
	return s.file[strings.ToLower(strings.TrimPrefix(key, envPrefix))]
}

// getEnvRequired возвращает значение ключа или ошибку, если он не задан.
func (s *source) getEnvRequired(key string) (string, error) {
	val := s.lookup(key)
	if val == "" {
		return "", fmt.Errorf("%s: обязательная переменная окружения не задана", key)
	}
	return val, nil
}

// getEnvDefault возвращает значение ключа или значение по умолчанию.
func (s *source) getEnvDefault(key, defaultVal string) string {
	val := s.lookup(key)
	if val == "" {
		return defaultVal
	}
	return val
}

// getEnvInt возвращает целочисленное значение ключа или значение по умолчанию.
func (s *source) getEnvInt(key string, defaultVal int) (int, error) {
	val := s.lookup(key)
	if val == "" {
		return defaultVal, nil
	}
	n, err := strconv.Atoi(val)
	if err != nil {
		return 0, fmt.Errorf("некорректное целое число: %q", val)
	}
	return n, nil
}

// getEnvDuration возвращает time.Duration ключа или значение по умолчанию.
func (s *source) getEnvDuration(key string, defaultVal time.Duration) (time.Duration, error) {
	val := s.lookup(key)
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
