// Точка входа File Registry — реестр отпечатков файлов.
// Загружает конфигурацию, открывает хранилище состояния (in-memory с
// журналом или PostgreSQL), создаёт ядро реестра, поток событий,
// сервисный слой и API handlers, запускает topologymetrics и
// HTTP-сервер с graceful shutdown.
package main

import (
	"context"
	"database/sql"
	"errors"
	"log/slog"
	"os"

	"github.com/jackc/pgx/v5/stdlib"

	"github.com/bigkaa/goartstore/file-registry/internal/api/handlers"
	"github.com/bigkaa/goartstore/file-registry/internal/api/middleware"
	"github.com/bigkaa/goartstore/file-registry/internal/api/openapi"
	"github.com/bigkaa/goartstore/file-registry/internal/config"
	"github.com/bigkaa/goartstore/file-registry/internal/database"
	"github.com/bigkaa/goartstore/file-registry/internal/events"
	"github.com/bigkaa/goartstore/file-registry/internal/registry"
	"github.com/bigkaa/goartstore/file-registry/internal/repository"
	"github.com/bigkaa/goartstore/file-registry/internal/server"
	"github.com/bigkaa/goartstore/file-registry/internal/service"
	"github.com/bigkaa/goartstore/file-registry/internal/storage/journal"
	"github.com/bigkaa/goartstore/file-registry/internal/storage/memstore"
)

const serviceID = "file-registry"

// storageBackend — открытое хранилище состояния реестра.
type storageBackend struct {
	store   registry.Store
	checker handlers.ReadinessChecker
	// pgDB — адаптер пула для topologymetrics (nil для memory)
	pgDB    *sql.DB
	closeFn func()
}

func main() {
	// 1. Загрузка конфигурации из переменных окружения
	cfg, err := config.Load()
	if err != nil {
		slog.Error("Ошибка загрузки конфигурации", slog.String("error", err.Error()))
		os.Exit(1)
	}

	// 2. Настройка логирования
	logger := config.SetupLogger(cfg)
	logger.Info("File Registry запускается",
		slog.String("version", config.Version),
		slog.Int("port", cfg.Port),
		slog.String("storage", cfg.StorageBackend),
	)

	// 3. Хранилище состояния
	ctx := context.Background()
	backend, err := openStorage(ctx, cfg, logger)
	if err != nil {
		logger.Error("Ошибка открытия хранилища", slog.String("error", err.Error()))
		os.Exit(1)
	}
	defer backend.closeFn()

	// 4. Поток событий и ядро реестра
	hub := events.NewHub(cfg.StreamMaxClients, cfg.StreamBuffer, logger)
	reg := registry.New(backend.store, logger, registry.WithPublisher(hub))

	// 5. Сервисный слой
	cacheSvc := service.NewCacheService(cfg.CacheSize, cfg.CacheTTL)
	registrySvc := service.NewRegistryService(reg, cacheSvc, logger)
	if err := registrySvc.CheckOwnership(ctx); err != nil {
		logger.Error("Ошибка чтения состояния реестра", slog.String("error", err.Error()))
		os.Exit(1)
	}

	// 6. Идентификация вызывающего
	var callerAuth *middleware.CallerAuth
	checkers := []handlers.NamedChecker{{Name: "storage", Checker: backend.checker}}
	if cfg.JWTJWKSURL != "" {
		callerAuth, err = middleware.NewCallerAuth(
			cfg.JWTJWKSURL,
			cfg.CACertPath,
			cfg.JWTIssuer,
			cfg.JWTAddressClaim,
			cfg.JWKSClientTimeout,
			cfg.JWKSRefreshInterval,
			cfg.JWTLeeway,
			logger,
		)
		if err != nil {
			logger.Error("Ошибка инициализации JWT", slog.String("error", err.Error()))
			os.Exit(1)
		}

		jwksChecker, err := middleware.NewJWKSReadinessChecker(cfg.JWTJWKSURL, cfg.CACertPath, cfg.JWKSClientTimeout)
		if err != nil {
			logger.Error("Ошибка создания JWKS readiness checker", slog.String("error", err.Error()))
			os.Exit(1)
		}
		checkers = append(checkers, handlers.NamedChecker{Name: "jwks", Checker: jwksChecker})
	} else {
		callerAuth = middleware.NewHeaderCallerAuth(logger)
		logger.Warn("FR_JWT_JWKS_URL не задан: адрес вызывающего берётся из заголовка " +
			middleware.HeaderCallerAddress + " без проверки подписи")
	}
	logger.Info("Идентификация вызывающего настроена", slog.String("mode", callerAuth.Mode()))

	// 7. Ограничение частоты мутаций
	rateLimiter := middleware.NewRateLimiter(cfg.RateLimitPerMinute, cfg.RateLimitBurst)

	// 8. Валидация запросов по OpenAPI
	doc, err := openapi.Load(ctx)
	if err != nil {
		logger.Error("Ошибка загрузки OpenAPI", slog.String("error", err.Error()))
		os.Exit(1)
	}
	validator, err := openapi.NewValidator(doc, logger)
	if err != nil {
		logger.Error("Ошибка создания OpenAPI валидатора", slog.String("error", err.Error()))
		os.Exit(1)
	}

	// 9. topologymetrics — мониторинг зависимостей (PostgreSQL, JWKS)
	dephealthSvc, err := service.NewDephealthService(
		serviceID,
		cfg.DephealthGroup,
		backend.pgDB,
		cfg.DatabaseURL(),
		cfg.JWTJWKSURL,
		cfg.DephealthCheckInterval,
		logger,
	)
	switch {
	case errors.Is(err, service.ErrNoDependencies):
		dephealthSvc = nil
		logger.Info("topologymetrics не запущен: внешних зависимостей нет")
	case err != nil:
		dephealthSvc = nil
		logger.Warn("topologymetrics недоступен, запуск без мониторинга зависимостей",
			slog.String("error", err.Error()),
		)
	default:
		if startErr := dephealthSvc.Start(ctx); startErr != nil {
			logger.Warn("Ошибка запуска topologymetrics", slog.String("error", startErr.Error()))
			dephealthSvc = nil
		} else {
			logger.Info("topologymetrics запущен",
				slog.String("group", cfg.DephealthGroup),
				slog.String("check_interval", cfg.DephealthCheckInterval.String()),
			)
		}
	}

	// 10. API handlers
	healthHandler := handlers.NewHealthHandler(checkers...)
	apiHandler := handlers.NewAPIHandler(healthHandler, registrySvc, hub, cfg.StreamPingInterval, logger)

	// 11. Создание и запуск HTTP-сервера
	srv := server.New(cfg, logger, apiHandler, server.Options{
		Auth:        callerAuth,
		RateLimiter: rateLimiter,
		Validator:   validator,
		Hub:         hub,
	})
	if err := srv.Run(); err != nil {
		logger.Error("Ошибка сервера", slog.String("error", err.Error()))
		os.Exit(1)
	}

	// 12. Остановка фоновых задач (hub закрывается при shutdown сервера)
	if dephealthSvc != nil {
		dephealthSvc.Stop()
	}

	logger.Info("File Registry остановлен")
}

// openStorage открывает хранилище, выбранное FR_STORAGE_BACKEND.
func openStorage(ctx context.Context, cfg *config.Config, logger *slog.Logger) (*storageBackend, error) {
	if cfg.StorageBackend == config.BackendPostgres {
		// Миграции до подключения пула
		logger.Info("Применение миграций БД...")
		if err := database.Migrate(cfg, logger); err != nil {
			return nil, err
		}

		pool, err := database.Connect(ctx, cfg, logger)
		if err != nil {
			return nil, err
		}

		// Адаптер pgxpool → *sql.DB для topologymetrics (connection pool mode).
		pgDB := stdlib.OpenDBFromPool(pool)
		return &storageBackend{
			store:   repository.NewRegistryStore(pool),
			checker: database.NewReadinessChecker(pool),
			pgDB:    pgDB,
			closeFn: func() {
				_ = pgDB.Close()
				pool.Close()
			},
		}, nil
	}

	if cfg.JournalDir == "" {
		logger.Warn("FR_JOURNAL_DIR не задан: состояние реестра не сохраняется между перезапусками")
		store := memstore.New(logger)
		return &storageBackend{
			store:   store,
			checker: memstore.NewReadinessChecker(store),
			closeFn: func() {},
		}, nil
	}

	j, err := journal.Open(cfg.JournalDir, logger)
	if err != nil {
		return nil, err
	}
	store, err := memstore.Open(j, cfg.JournalCompactEvery, logger)
	if err != nil {
		return nil, err
	}
	return &storageBackend{
		store:   store,
		checker: memstore.NewReadinessChecker(store),
		closeFn: func() {},
	}, nil
}
