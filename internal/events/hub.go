// Пакет events — доставка зафиксированных событий реестра живым подписчикам.
//
// Hub реализует registry.Publisher. Публикация никогда не блокирует
// ядро реестра: у каждого подписчика ограниченный буфер, и подписчик,
// не успевающий его разбирать, отключается. Отключённый подписчик
// переподключается с after=<последний seq> и дочитывает пропущенное
// из журнала.
package events

import (
	"errors"
	"log/slog"
	"sync"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"golang.org/x/sync/semaphore"

	"github.com/bigkaa/goartstore/file-registry/internal/domain/model"
)

// ErrHubFull — достигнут лимит одновременных подписчиков.
var ErrHubFull = errors.New("достигнут лимит подписчиков потока событий")

// ErrHubClosed — hub остановлен.
var ErrHubClosed = errors.New("поток событий остановлен")

// Prometheus-метрики потока событий.
var (
	publishedTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "fr_events_published_total",
		Help: "Опубликованные события реестра по типу.",
	}, []string{"kind"})

	subscribersGauge = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "fr_stream_subscribers",
		Help: "Текущее количество подписчиков потока событий.",
	})

	slowDisconnectsTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "fr_stream_slow_disconnects_total",
		Help: "Подписчики, отключённые из-за переполнения буфера.",
	})
)

// Hub — рассылка событий подписчикам.
type Hub struct {
	mu     sync.Mutex
	subs   map[uint64]*Subscription
	nextID uint64
	closed bool

	buffer int
	sem    *semaphore.Weighted
	logger *slog.Logger
}

// NewHub создаёт hub. maxClients — лимит подписчиков, buffer — размер
// буфера каждого подписчика.
func NewHub(maxClients, buffer int, logger *slog.Logger) *Hub {
	return &Hub{
		subs:   make(map[uint64]*Subscription),
		buffer: buffer,
		sem:    semaphore.NewWeighted(int64(maxClients)),
		logger: logger.With(slog.String("component", "event_hub")),
	}
}

// Subscription — подписка на живые события.
// Канал C закрывается при отключении подписчика (Close, переполнение
// буфера или остановка hub). Dropped сообщает, что отключение вызвано
// переполнением.
type Subscription struct {
	C <-chan model.Event

	id      uint64
	ch      chan model.Event
	hub     *Hub
	once    sync.Once
	dropped bool
}

// Subscribe регистрирует подписчика. Возвращает ErrHubFull при
// достижении лимита и ErrHubClosed после Close.
func (h *Hub) Subscribe() (*Subscription, error) {
	if !h.sem.TryAcquire(1) {
		return nil, ErrHubFull
	}

	h.mu.Lock()
	defer h.mu.Unlock()

	if h.closed {
		h.sem.Release(1)
		return nil, ErrHubClosed
	}

	h.nextID++
	ch := make(chan model.Event, h.buffer)
	sub := &Subscription{C: ch, id: h.nextID, ch: ch, hub: h}
	h.subs[sub.id] = sub
	subscribersGauge.Inc()

	h.logger.Debug("Подписчик подключён", slog.Uint64("subscription_id", sub.id))
	return sub, nil
}

// Publish рассылает событие всем подписчикам без блокировки.
// Подписчик с заполненным буфером отключается.
func (h *Hub) Publish(ev model.Event) {
	publishedTotal.WithLabelValues(string(ev.Kind)).Inc()

	h.mu.Lock()
	defer h.mu.Unlock()

	for id, sub := range h.subs {
		select {
		case sub.ch <- ev:
		default:
			sub.dropped = true
			h.removeLocked(id)
			slowDisconnectsTotal.Inc()
			h.logger.Warn("Подписчик отключён: переполнен буфер",
				slog.Uint64("subscription_id", id),
				slog.Uint64("seq", ev.Seq),
			)
		}
	}
}

// Len возвращает текущее количество подписчиков.
func (h *Hub) Len() int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return len(h.subs)
}

// Close отключает всех подписчиков и запрещает новые подписки.
func (h *Hub) Close() {
	h.mu.Lock()
	defer h.mu.Unlock()

	h.closed = true
	for id := range h.subs {
		h.removeLocked(id)
	}
	h.logger.Info("Поток событий остановлен")
}

// removeLocked удаляет подписчика и закрывает его канал. Вызывается под h.mu.
func (h *Hub) removeLocked(id uint64) {
	sub, ok := h.subs[id]
	if !ok {
		return
	}
	delete(h.subs, id)
	sub.once.Do(func() {
		close(sub.ch)
		h.sem.Release(1)
		subscribersGauge.Dec()
	})
}

// Close отменяет подписку. Повторный вызов безопасен.
func (s *Subscription) Close() {
	s.hub.mu.Lock()
	defer s.hub.mu.Unlock()
	s.hub.removeLocked(s.id)
}

// Dropped сообщает, что подписка закрыта из-за переполнения буфера.
func (s *Subscription) Dropped() bool {
	s.hub.mu.Lock()
	defer s.hub.mu.Unlock()
	return s.dropped
}
