// logging.go — журнал HTTP-запросов File Registry через slog.
// Пишет шаблон маршрута вместо сырого пути, отпечаток и адрес
// вызывающего.
package middleware

import (
	"bufio"
	"context"
	"log/slog"
	"net"
	"net/http"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/bigkaa/goartstore/file-registry/internal/domain/model"
)

// responseWriter — обёртка для перехвата статус-кода ответа.
type responseWriter struct {
	http.ResponseWriter
	statusCode int
	written    int64
}

func newResponseWriter(w http.ResponseWriter) *responseWriter {
	return &responseWriter{ResponseWriter: w, statusCode: http.StatusOK}
}

func (rw *responseWriter) WriteHeader(code int) {
	rw.statusCode = code
	rw.ResponseWriter.WriteHeader(code)
}

func (rw *responseWriter) Write(b []byte) (int, error) {
	n, err := rw.ResponseWriter.Write(b)
	rw.written += int64(n)
	return n, err
}

// Unwrap позволяет http.ResponseController получить доступ к оригинальному ResponseWriter.
func (rw *responseWriter) Unwrap() http.ResponseWriter {
	return rw.ResponseWriter
}

// Hijack нужен для upgrade соединения потока событий до websocket.
func (rw *responseWriter) Hijack() (net.Conn, *bufio.ReadWriter, error) {
	return hijack(rw.ResponseWriter, func() { rw.statusCode = http.StatusSwitchingProtocols })
}

// requestInfo — поля журнала, которые заполняются глубже по цепочке
// middleware (адрес вызывающего известен только после аутентификации).
type requestInfo struct {
	caller    model.Address
	hasCaller bool
}

type requestInfoKey struct{}

// noteCaller сохраняет адрес вызывающего для записи в журнал запроса.
func noteCaller(ctx context.Context, caller model.Address) {
	if info, ok := ctx.Value(requestInfoKey{}).(*requestInfo); ok {
		info.caller, info.hasCaller = caller, true
	}
}

// RequestLogger возвращает middleware, логирующий каждый HTTP-запрос:
// метод, шаблон маршрута, отпечаток из пути, адрес вызывающего, статус,
// длительность и размер ответа.
// Уровень: INFO (1xx-3xx), WARN (4xx), ERROR (5xx). Успешные health и
// metrics запросы пишутся на DEBUG.
func RequestLogger(logger *slog.Logger) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			start := time.Now()
			wrapped := newResponseWriter(w)
			info := &requestInfo{}

			next.ServeHTTP(wrapped, r.WithContext(context.WithValue(r.Context(), requestInfoKey{}, info)))

			level := slog.LevelInfo
			switch {
			case wrapped.statusCode >= 500:
				level = slog.LevelError
			case wrapped.statusCode >= 400:
				level = slog.LevelWarn
			case strings.HasPrefix(r.URL.Path, "/health/") || r.URL.Path == "/metrics":
				level = slog.LevelDebug
			}
			if !logger.Enabled(r.Context(), level) {
				return
			}

			attrs := make([]slog.Attr, 0, 9)
			attrs = append(attrs,
				slog.String("method", r.Method),
				slog.String("route", routePattern(r)),
			)
			if fp := chi.URLParam(r, "fingerprint"); fp != "" {
				attrs = append(attrs, slog.String("fingerprint", fp))
			}
			if info.hasCaller {
				attrs = append(attrs, slog.String("caller", info.caller.String()))
			}
			attrs = append(attrs,
				slog.Int("status", wrapped.statusCode),
				slog.Duration("duration", time.Since(start)),
				slog.Int64("bytes", wrapped.written),
				slog.String("remote_addr", r.RemoteAddr),
			)
			logger.LogAttrs(r.Context(), level, "HTTP запрос", attrs...)
		})
	}
}

// routePattern возвращает шаблон маршрута chi; для запросов вне
// маршрутизатора — путь с нормализованными параметрами.
func routePattern(r *http.Request) string {
	if rctx := chi.RouteContext(r.Context()); rctx != nil {
		if pattern := rctx.RoutePattern(); pattern != "" {
			return pattern
		}
	}
	return normalizePath(r.URL.Path)
}
