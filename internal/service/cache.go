// CacheService — LRU-кэш записей файлов с TTL.
// Обёртка над hashicorp/golang-lru/v2/expirable.
package service

import (
	"time"

	"github.com/hashicorp/golang-lru/v2/expirable"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"

	"github.com/bigkaa/goartstore/file-registry/internal/domain/model"
)

// Prometheus-метрики кэша.
var (
	cacheHitsTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "fr_cache_hits_total",
		Help: "Общее количество попаданий в LRU-кэш записей файлов.",
	})
	cacheMissesTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "fr_cache_misses_total",
		Help: "Общее количество промахов LRU-кэша записей файлов.",
	})
)

// CacheService — LRU-кэш записей файлов с автоматическим TTL.
//
// Кэшируются только существующие записи: они неизменяемы и не удаляются,
// поэтому закэшированное значение не устаревает. Отсутствие записи не
// кэшируется, иначе повторная проверка не увидит последующую загрузку.
type CacheService struct {
	cache *expirable.LRU[model.Fingerprint, model.FileRecord]
}

// NewCacheService создаёт LRU-кэш с указанным максимальным размером и TTL.
func NewCacheService(maxSize int, ttl time.Duration) *CacheService {
	cache := expirable.NewLRU[model.Fingerprint, model.FileRecord](maxSize, nil, ttl)
	return &CacheService{cache: cache}
}

// Get возвращает копию записи из кэша.
// Обновляет Prometheus-метрики hit/miss.
func (c *CacheService) Get(f model.Fingerprint) (model.FileRecord, bool) {
	val, ok := c.cache.Get(f)
	if ok {
		cacheHitsTotal.Inc()
		return val.Clone(), true
	}
	cacheMissesTotal.Inc()
	return model.FileRecord{}, false
}

// Set добавляет запись в кэш. Отсутствующие записи игнорируются.
func (c *CacheService) Set(rec model.FileRecord) {
	if !rec.Exists {
		return
	}
	c.cache.Add(rec.Fingerprint, rec.Clone())
}

// Len возвращает текущее количество записей в кэше.
func (c *CacheService) Len() int {
	return c.cache.Len()
}
