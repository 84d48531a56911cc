// Пакет database — подключение к PostgreSQL через pgxpool,
// применение миграций схемы реестра (golang-migrate) и проверка готовности.
package database

import (
	"context"
	"embed"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/golang-migrate/migrate/v4"
	_ "github.com/golang-migrate/migrate/v4/database/pgx/v5"
	"github.com/golang-migrate/migrate/v4/source/iofs"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/bigkaa/goartstore/file-registry/internal/config"
)

//go:embed migrations/*.sql
var migrationsFS embed.FS

// applicationName — имя подключения в pg_stat_activity.
const applicationName = "file-registry"

// Connect создаёт пул подключений к PostgreSQL и проверяет его ping.
// Транзакции записи реестра сериализуются блокировкой строки
// registry_state, поэтому пул в основном обслуживает чтение.
func Connect(ctx context.Context, cfg *config.Config, logger *slog.Logger) (*pgxpool.Pool, error) {
	poolCfg, err := pgxpool.ParseConfig(cfg.DatabaseDSN())
	if err != nil {
		return nil, fmt.Errorf("ошибка парсинга DSN: %w", err)
	}
	poolCfg.ConnConfig.RuntimeParams["application_name"] = applicationName
	poolCfg.MaxConnIdleTime = 5 * time.Minute
	poolCfg.HealthCheckPeriod = time.Minute

	pool, err := pgxpool.NewWithConfig(ctx, poolCfg)
	if err != nil {
		return nil, fmt.Errorf("ошибка создания пула подключений: %w", err)
	}

	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("ошибка подключения к PostgreSQL: %w", err)
	}

	logger.Info("Подключение к PostgreSQL установлено",
		slog.String("host", cfg.DBHost),
		slog.Int("port", cfg.DBPort),
		slog.String("database", cfg.DBName),
		slog.Int("max_conns", int(poolCfg.MaxConns)),
	)

	return pool, nil
}

// Migrate применяет SQL-миграции из embedded FS к базе данных.
// Использует golang-migrate с драйвером pgx5.
func Migrate(cfg *config.Config, logger *slog.Logger) error {
	// Создаём источник миграций из embedded FS
	source, err := iofs.New(migrationsFS, "migrations")
	if err != nil {
		return fmt.Errorf("ошибка создания источника миграций: %w", err)
	}

	// golang-migrate ожидает схему pgx5:// вместо postgres://
	dbURL := "pgx5" + strings.TrimPrefix(cfg.DatabaseURL(), "postgres")

	m, err := migrate.NewWithSourceInstance("iofs", source, dbURL)
	if err != nil {
		return fmt.Errorf("ошибка инициализации миграций: %w", err)
	}
	defer m.Close()

	// Применяем все миграции
	if err := m.Up(); err != nil && !errors.Is(err, migrate.ErrNoChange) {
		return fmt.Errorf("ошибка применения миграций: %w", err)
	}

	version, dirty, _ := m.Version()
	logger.Info("Миграции применены",
		slog.Uint64("version", uint64(version)),
		slog.Bool("dirty", dirty),
	)

	return nil
}

// ReadinessChecker — проверка готовности хранилища реестра в PostgreSQL.
// Реализует интерфейс handlers.ReadinessChecker.
type ReadinessChecker struct {
	pool *pgxpool.Pool
}

// NewReadinessChecker создаёт проверку готовности PostgreSQL.
func NewReadinessChecker(pool *pgxpool.Pool) *ReadinessChecker {
	return &ReadinessChecker{pool: pool}
}

// CheckReady проверяет подключение и наличие строки состояния реестра.
// Без строки registry_state (миграции не применены) — "degraded".
func (c *ReadinessChecker) CheckReady() (status string, message string) {
	ctx, cancel := context.WithTimeout(context.Background(), 3*time.Second)
	defer cancel()

	if err := c.pool.Ping(ctx); err != nil {
		return "fail", fmt.Sprintf("PostgreSQL недоступен: %v", err)
	}

	var totalFiles, lastSeq int64
	err := c.pool.QueryRow(ctx,
		`SELECT total_files, last_event_seq FROM registry_state WHERE id = 1`,
	).Scan(&totalFiles, &lastSeq)
	if err != nil {
		return "degraded", fmt.Sprintf("состояние реестра не прочитано: %v", err)
	}
	return "ok", fmt.Sprintf("файлов: %d, последнее событие: %d", totalFiles, lastSeq)
}
