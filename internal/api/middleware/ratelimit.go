// ratelimit.go — ограничение частоты мутаций на вызывающего.
// Лимитеры хранятся в LRU с TTL: неактивные вызывающие вытесняются.
package middleware

import (
	"net/http"
	"strconv"
	"sync"
	"time"

	"github.com/hashicorp/golang-lru/v2/expirable"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"golang.org/x/time/rate"

	apierrors "github.com/bigkaa/goartstore/file-registry/internal/api/errors"
	"github.com/bigkaa/goartstore/file-registry/internal/domain/model"
)

// rateLimitedTotal — запросы, отклонённые ограничителем частоты.
var rateLimitedTotal = promauto.NewCounter(prometheus.CounterOpts{
	Name: "fr_rate_limited_total",
	Help: "Запросы, отклонённые ограничителем частоты.",
})

// Параметры таблицы лимитеров.
const (
	limiterTableSize = 10000
	limiterTTL       = 10 * time.Minute
)

// RateLimiter — ограничитель частоты запросов на вызывающего (token bucket).
type RateLimiter struct {
	mu       sync.Mutex
	limiters *expirable.LRU[model.Address, *rate.Limiter]
	limit    rate.Limit
	burst    int
}

// NewRateLimiter создаёт ограничитель: perMinute запросов в минуту
// с допустимым всплеском burst. perMinute = 0 — без ограничения (nil).
func NewRateLimiter(perMinute, burst int) *RateLimiter {
	if perMinute <= 0 {
		return nil
	}
	return &RateLimiter{
		limiters: expirable.NewLRU[model.Address, *rate.Limiter](limiterTableSize, nil, limiterTTL),
		limit:    rate.Every(time.Minute / time.Duration(perMinute)),
		burst:    burst,
	}
}

// Allow сообщает, можно ли выполнить запрос вызывающего сейчас.
func (l *RateLimiter) Allow(caller model.Address) bool {
	return l.limiter(caller).Allow()
}

// limiter возвращает лимитер вызывающего, создавая его при первом обращении.
func (l *RateLimiter) limiter(caller model.Address) *rate.Limiter {
	l.mu.Lock()
	defer l.mu.Unlock()

	if lim, ok := l.limiters.Get(caller); ok {
		return lim
	}
	lim := rate.NewLimiter(l.limit, l.burst)
	l.limiters.Add(caller, lim)
	return lim
}

// Middleware возвращает HTTP middleware ограничения частоты.
// Должен использоваться ПОСЛЕ CallerAuth.Middleware(). nil-ограничитель
// пропускает все запросы.
func (l *RateLimiter) Middleware() func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		if l == nil {
			return next
		}
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			caller, ok := CallerFromContext(r.Context())
			if !ok {
				apierrors.Unauthenticated(w, "Вызывающий не идентифицирован")
				return
			}
			if !l.Allow(caller) {
				rateLimitedTotal.Inc()
				retryAfter := int(time.Duration(float64(time.Second) / float64(l.limit)).Seconds())
				if retryAfter < 1 {
					retryAfter = 1
				}
				w.Header().Set("Retry-After", strconv.Itoa(retryAfter))
				apierrors.RateLimited(w, "Превышена частота запросов")
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}
