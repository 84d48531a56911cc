// dephealth.go — интеграция с topologymetrics SDK для мониторинга зависимостей.
//
// File Registry мониторит до двух зависимостей, в зависимости от конфигурации:
//   - PostgreSQL — SQL checker через существующий pgxpool (connection pool mode, critical),
//     только при FR_STORAGE_BACKEND=postgres
//   - JWKS endpoint — HTTP checker (critical), только при заданном FR_JWT_JWKS_URL
//
// Метрики доступны на /metrics вместе с остальными Prometheus-метриками:
//   - app_dependency_health — состояние зависимости (1 = ok, 0 = fail)
//   - app_dependency_latency_seconds — задержка проверки
//   - app_dependency_status — категория статуса
//   - app_dependency_status_detail — детальный статус
package service

import (
	"context"
	"database/sql"
	"errors"
	"log/slog"
	"net/url"
	"strings"
	"time"

	"github.com/BigKAA/topologymetrics/sdk-go/dephealth"
	_ "github.com/BigKAA/topologymetrics/sdk-go/dephealth/checks/httpcheck" // регистрация HTTP checker factory
	"github.com/BigKAA/topologymetrics/sdk-go/dephealth/checks/pgcheck"
	"github.com/prometheus/client_golang/prometheus"
)

// ErrNoDependencies — нечего мониторить: нет ни PostgreSQL, ни JWKS.
var ErrNoDependencies = errors.New("нет зависимостей для мониторинга")

// DephealthService — сервис мониторинга зависимостей через topologymetrics.
type DephealthService struct {
	dh     *dephealth.DepHealth
	names  []string
	logger *slog.Logger
}

// NewDephealthService создаёт сервис мониторинга зависимостей.
// Метрики регистрируются в глобальном Prometheus registry.
//
// Параметры:
//   - serviceID — имя вершины графа текущего приложения ("file-registry")
//   - group — имя группы в метриках (FR_DEPHEALTH_GROUP)
//   - db — *sql.DB из pgxpool через stdlib.OpenDBFromPool(); nil — PostgreSQL не мониторится
//   - pgConnURL — URL подключения к PostgreSQL (для лейблов, не для подключения)
//   - jwksURL — URL JWKS endpoint; пусто — JWKS не мониторится
//   - checkInterval — интервал проверки зависимостей (FR_DEPHEALTH_CHECK_INTERVAL)
func NewDephealthService(
	serviceID string,
	group string,
	db *sql.DB,
	pgConnURL string,
	jwksURL string,
	checkInterval time.Duration,
	logger *slog.Logger,
) (*DephealthService, error) {
	return newDephealthService(serviceID, group, db, pgConnURL, jwksURL, checkInterval, logger)
}

// NewDephealthServiceWithRegisterer создаёт сервис с указанным Prometheus registerer.
// Используется в тестах для изоляции метрик.
func NewDephealthServiceWithRegisterer(
	serviceID string,
	group string,
	db *sql.DB,
	pgConnURL string,
	jwksURL string,
	checkInterval time.Duration,
	logger *slog.Logger,
	registerer prometheus.Registerer,
) (*DephealthService, error) {
	return newDephealthService(serviceID, group, db, pgConnURL, jwksURL, checkInterval, logger,
		dephealth.WithRegisterer(registerer))
}

// newDephealthService — внутренний конструктор.
func newDephealthService(
	serviceID string,
	group string,
	db *sql.DB,
	pgConnURL string,
	jwksURL string,
	checkInterval time.Duration,
	logger *slog.Logger,
	extraOpts ...dephealth.Option,
) (*DephealthService, error) {
	opts := []dephealth.Option{dephealth.WithLogger(logger)}
	var names []string

	if db != nil {
		opts = append(opts, dephealth.AddDependency("postgresql", dephealth.TypePostgres,
			pgcheck.New(pgcheck.WithDB(db)),
			dephealth.FromURL(pgConnURL),
			dephealth.CheckInterval(checkInterval),
			dephealth.Critical(true),
		))
		names = append(names, "postgresql")
	}

	if jwksURL != "" {
		// Проверяем путь самого JWKS URL: у IdP /health часто закрыт.
		healthPath := "/health"
		jwksDepOpts := []dephealth.DependencyOption{
			dephealth.FromURL(jwksURL),
			dephealth.CheckInterval(checkInterval),
			dephealth.Critical(true),
		}
		if parsed, err := url.Parse(jwksURL); err == nil {
			if parsed.Path != "" {
				healthPath = parsed.Path
			}
			if parsed.Scheme == "https" {
				jwksDepOpts = append(jwksDepOpts, dephealth.WithHTTPTLSSkipVerify(false))
			}
		}
		jwksDepOpts = append(jwksDepOpts, dephealth.WithHTTPHealthPath(healthPath))
		opts = append(opts, dephealth.HTTP("jwks", jwksDepOpts...))
		names = append(names, "jwks")
	}

	if len(names) == 0 {
		return nil, ErrNoDependencies
	}
	opts = append(opts, extraOpts...)

	dh, err := dephealth.New(serviceID, group, opts...)
	if err != nil {
		return nil, err
	}

	return &DephealthService{
		dh:     dh,
		names:  names,
		logger: logger.With(slog.String("component", "dephealth")),
	}, nil
}

// Start запускает периодическую проверку зависимостей.
func (ds *DephealthService) Start(ctx context.Context) error {
	ds.logger.Info("Мониторинг зависимостей запущен",
		slog.String("dependencies", strings.Join(ds.names, ",")),
	)
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
