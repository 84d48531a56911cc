// Пакет server — HTTP-сервер File Registry с graceful shutdown.
// Без TLS — HTTP внутри кластера, TLS termination на API Gateway.
package server

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/bigkaa/goartstore/file-registry/internal/api/handlers"
	"github.com/bigkaa/goartstore/file-registry/internal/api/middleware"
	"github.com/bigkaa/goartstore/file-registry/internal/api/openapi"
	"github.com/bigkaa/goartstore/file-registry/internal/config"
	"github.com/bigkaa/goartstore/file-registry/internal/events"
)

// Options — зависимости маршрутизатора.
type Options struct {
	// Auth — идентификация вызывающего для мутирующих операций (обязательно).
	Auth *middleware.CallerAuth
	// RateLimiter — лимит мутаций на вызывающего (nil — без лимита).
	RateLimiter *middleware.RateLimiter
	// Validator — проверка запросов по OpenAPI (nil — без проверки).
	Validator *openapi.Validator
	// Hub — поток событий, закрывается при остановке сервера.
	Hub *events.Hub
}

// Server — HTTP-сервер File Registry.
type Server struct {
	httpServer *http.Server
	logger     *slog.Logger
	cfg        *config.Config
}

// NewRouter собирает маршруты API.
// Health и metrics доступны без идентификации: их проверяет Kubernetes напрямую.
func NewRouter(logger *slog.Logger, h *handlers.APIHandler, opts Options) chi.Router {
	router := chi.NewRouter()

	// Глобальные middleware (применяются ко ВСЕМ маршрутам)
	router.Use(middleware.MetricsMiddleware())
	router.Use(middleware.RequestLogger(logger))

	router.Get("/health/live", h.HealthLive)
	router.Get("/health/ready", h.HealthReady)
	router.Get("/metrics", h.GetMetrics)

	router.Route("/api/v1", func(r chi.Router) {
		if opts.Validator != nil {
			r.Use(opts.Validator.Middleware())
		}

		// Чтение: без идентификации.
		r.Get("/status", h.GetStatus)
		r.Get("/version", h.GetVersion)
		r.Get("/total-files", h.GetTotalFiles)
		r.Get("/files/{fingerprint}", h.VerifyFile)
		r.Get("/files/{fingerprint}/exists", h.FileExist)
		r.Get("/users/{address}/files", h.GetUserFiles)
		r.Get("/users/{address}/files/range", h.GetFilesByTimeRange)
		r.Get("/events", h.ListEvents)
		r.Get("/events/stream", h.StreamEvents)
		r.Get("/ownership/history", h.GetOwnershipHistory)
		r.Get("/openapi.yaml", h.GetOpenAPI)

		// Административные операции: только идентификация.
		r.Group(func(r chi.Router) {
			r.Use(opts.Auth.Middleware())
			r.Post("/owner", h.SetOwner)
			r.Post("/pause", h.Pause)
			r.Post("/unpause", h.Unpause)
		})

		// Операции с данными: идентификация и лимит на вызывающего.
		r.Group(func(r chi.Router) {
			r.Use(opts.Auth.Middleware())
			r.Use(opts.RateLimiter.Middleware())
			r.Post("/files", h.UploadFile)
			r.Post("/files/{fingerprint}/verifications", h.LogVerification)
		})
	})

	return router
}

// New создаёт новый HTTP-сервер с настроенными routes и middleware.
func New(cfg *config.Config, logger *slog.Logger, h *handlers.APIHandler, opts Options) *Server {
	srv := &http.Server{
		Addr:         fmt.Sprintf(":%d", cfg.Port),
		Handler:      NewRouter(logger, h, opts),
		ReadTimeout:  30 * time.Second,
		WriteTimeout: 60 * time.Second,
		IdleTimeout:  120 * time.Second,
	}

	// Shutdown не ждёт hijacked websocket-соединения: закрываем
	// подписки, чтобы клиенты получили close-фрейм.
	if opts.Hub != nil {
		srv.RegisterOnShutdown(opts.Hub.Close)
	}

	return &Server{
		httpServer: srv,
		logger:     logger,
		cfg:        cfg,
	}
}

// Run запускает сервер и ожидает сигнала завершения (SIGINT, SIGTERM).
// При получении сигнала выполняется graceful shutdown.
func (s *Server) Run() error {
	// Канал для ошибок сервера
	errCh := make(chan error, 1)

	go func() {
		s.logger.Info("HTTP-сервер запущен",
			slog.String("addr", s.httpServer.Addr),
		)

		err := s.httpServer.ListenAndServe()
		if err != nil && err != http.ErrServerClosed {
			errCh <- err
		}
		close(errCh)
	}()

	// Ожидание сигнала завершения
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)

	select {
	case sig := <-quit:
		s.logger.Info("Получен сигнал завершения", slog.String("signal", sig.String()))
	case err := <-errCh:
		if err != nil {
			return fmt.Errorf("ошибка HTTP-сервера: %w", err)
		}
	}

	// Graceful shutdown
	ctx, cancel := context.WithTimeout(context.Background(), s.cfg.ShutdownTimeout)
	defer cancel()

	s.logger.Info("Выполняется graceful shutdown...")
	if err := s.httpServer.Shutdown(ctx); err != nil {
		return fmt.Errorf("ошибка при graceful shutdown: %w", err)
	}

	s.logger.Info("HTTP-сервер остановлен")
	return nil
}
