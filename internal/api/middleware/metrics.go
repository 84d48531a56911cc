// metrics.go — Prometheus HTTP метрики File Registry.
// Регистрирует метрики: fr_http_requests_total, fr_http_request_duration_seconds.
package middleware

import (
	"bufio"
	"errors"
	"net"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// HTTP метрики
var (
	// httpRequestsTotal — общее количество HTTP-запросов.
	httpRequestsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "fr_http_requests_total",
			Help: "Общее количество HTTP-запросов к File Registry",
		},
		[]string{"method", "path", "status"},
	)

	// httpRequestDuration — гистограмма длительности HTTP-запросов.
	httpRequestDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "fr_http_request_duration_seconds",
			Help:    "Длительность HTTP-запросов к File Registry в секундах",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"method", "path"},
	)
)

// MetricsMiddleware возвращает HTTP middleware для сбора Prometheus метрик.
// Записывает количество запросов и длительность для каждого endpoint.
func MetricsMiddleware() func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			start := time.Now()

			// Нормализуем путь для лейблов метрик
			normalizedPath := normalizePath(r.URL.Path)

			wrapped := newMetricsResponseWriter(w)
			next.ServeHTTP(wrapped, r)

			duration := time.Since(start).Seconds()
			status := strconv.Itoa(wrapped.statusCode)

			httpRequestsTotal.WithLabelValues(r.Method, normalizedPath, status).Inc()
			httpRequestDuration.WithLabelValues(r.Method, normalizedPath).Observe(duration)
		})
	}
}

// metricsResponseWriter — обёртка для перехвата статус-кода.
type metricsResponseWriter struct {
	http.ResponseWriter
	statusCode int
}

func newMetricsResponseWriter(w http.ResponseWriter) *metricsResponseWriter {
	return &metricsResponseWriter{ResponseWriter: w, statusCode: http.StatusOK}
}

func (rw *metricsResponseWriter) WriteHeader(code int) {
	rw.statusCode = code
	rw.ResponseWriter.WriteHeader(code)
}

// Unwrap позволяет http.ResponseController получить доступ к оригинальному ResponseWriter.
func (rw *metricsResponseWriter) Unwrap() http.ResponseWriter {
	return rw.ResponseWriter
}

// Hijack нужен для upgrade соединения потока событий до websocket.
func (rw *metricsResponseWriter) Hijack() (net.Conn, *bufio.ReadWriter, error) {
	return hijack(rw.ResponseWriter, func() { rw.statusCode = http.StatusSwitchingProtocols })
}

// hijack передаёт Hijack исходному ResponseWriter.
func hijack(w http.ResponseWriter, onSuccess func()) (net.Conn, *bufio.ReadWriter, error) {
	h, ok := w.(http.Hijacker)
	if !ok {
		return nil, nil, errors.New("ResponseWriter не поддерживает hijack")
	}
	conn, buf, err := h.Hijack()
	if err == nil {
		onSuccess()
	}
	return conn, buf, err
}

// normalizePath заменяет отпечатки и адреса в пути на плейсхолдеры для
// предотвращения взрывного роста кардинальности метрик.
// /api/v1/files/0xabc…/exists → /api/v1/files/{fingerprint}/exists
func normalizePath(path string) string {
	const (
		filesPrefix = "/api/v1/files/"
		usersPrefix = "/api/v1/users/"
	)

	switch {
	case strings.HasPrefix(path, filesPrefix):
		return "/api/v1/files/{fingerprint}" + suffixAfterParam(path[len(filesPrefix):])
	case strings.HasPrefix(path, usersPrefix):
		return "/api/v1/users/{address}" + suffixAfterParam(path[len(usersPrefix):])
	default:
		return path
	}
}

// suffixAfterParam возвращает часть пути после первого сегмента.
func suffixAfterParam(rest string) string {
	if i := strings.IndexByte(rest, '/'); i >= 0 {
		return rest[i:]
	}
	return ""
}
