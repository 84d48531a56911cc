// events.go — журнал событий реестра: выборка и websocket-поток.
package handlers

import (
	"errors"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/gorilla/websocket"
	"github.com/oapi-codegen/runtime"

	apierrors "github.com/bigkaa/goartstore/file-registry/internal/api/errors"
	"github.com/bigkaa/goartstore/file-registry/internal/domain/model"
	"github.com/bigkaa/goartstore/file-registry/internal/events"
	"github.com/bigkaa/goartstore/file-registry/internal/service"
)

const (
	// defaultPingInterval — интервал ping, если не задан в конфигурации.
	defaultPingInterval = 30 * time.Second
	// streamWriteWait — таймаут записи одного сообщения в поток.
	streamWriteWait = 10 * time.Second
	// streamReadLimit — максимальный размер входящего сообщения клиента.
	streamReadLimit = 512
)

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 4096,
	CheckOrigin:     func(*http.Request) bool { return true },
}

// ListEvents — GET /api/v1/events.
// Фильтры: kind (через запятую), fingerprint, actor, after, limit.
func (h *APIHandler) ListEvents(w http.ResponseWriter, r *http.Request) {
	var (
		kind, fingerprint, actor *string
		after                    *int64
		limit                    *int
	)
	query := r.URL.Query()
	for _, p := range []struct {
		name string
		dest any
	}{
		{"kind", &kind},
		{"fingerprint", &fingerprint},
		{"actor", &actor},
		{"after", &after},
		{"limit", &limit},
	} {
		if err := runtime.BindQueryParameter("form", true, false, p.name, query, p.dest); err != nil {
			apierrors.ValidationError(w, "Некорректный параметр "+p.name+": "+err.Error())
			return
		}
	}

	q := service.EventsQuery{}
	if kind != nil && *kind != "" {
		q.Kinds = strings.Split(*kind, ",")
	}
	if fingerprint != nil {
		q.Fingerprint = *fingerprint
	}
	if actor != nil {
		q.Actor = *actor
	}
	if after != nil {
		if *after < 0 {
			apierrors.ValidationError(w, "Параметр after не может быть отрицательным")
			return
		}
		q.AfterSeq = uint64(*after)
	}
	if limit != nil {
		q.Limit = *limit
	}

	list, err := h.registry.Events(r.Context(), q)
	if err != nil {
		h.writeServiceError(w, r, err)
		return
	}

	envelopes := make([]model.EventEnvelope, len(list))
	for i, ev := range list {
		envelopes[i] = ev.Envelope()
	}
	writeJSON(w, http.StatusOK, map[string][]model.EventEnvelope{"events": envelopes})
}

// StreamEvents — GET /api/v1/events/stream (websocket).
// С параметром after сначала отправляются события с seq > after,
// затем новые события по мере фиксации. Медленный клиент отключается
// с кодом 1013.
func (h *APIHandler) StreamEvents(w http.ResponseWriter, r *http.Request) {
	var after *int64
	if err := runtime.BindQueryParameter("form", true, false, "after", r.URL.Query(), &after); err != nil {
		apierrors.ValidationError(w, "Некорректный параметр after: "+err.Error())
		return
	}
	if after != nil && *after < 0 {
		apierrors.ValidationError(w, "Параметр after не может быть отрицательным")
		return
	}

	// Подписка до выборки истории: события, зафиксированные между
	// выборкой и подпиской, не теряются, а повторы отсекаются по seq.
	sub, err := h.hub.Subscribe()
	if err != nil {
		if errors.Is(err, events.ErrHubFull) || errors.Is(err, events.ErrHubClosed) {
			apierrors.StreamUnavailable(w, err.Error())
			return
		}
		h.writeServiceError(w, r, err)
		return
	}
	defer sub.Close()

	var backlog []model.Event
	if after != nil {
		backlog, err = h.registry.EventsAfter(r.Context(), uint64(*after))
		if err != nil {
			h.writeServiceError(w, r, err)
			return
		}
	}

	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		// Upgrader уже записал ответ с ошибкой.
		h.logger.Debug("Websocket upgrade не выполнен", slog.String("error", err.Error()))
		return
	}
	defer conn.Close()

	h.logger.Debug("Подписчик потока событий подключён",
		slog.String("remote_addr", r.RemoteAddr),
		slog.Int("backlog", len(backlog)),
	)

	pingInterval := h.pingInterval
	if pingInterval <= 0 {
		pingInterval = defaultPingInterval
	}
	pongWait := pingInterval * 10 / 9

	done := make(chan struct{})
	go readPump(conn, pongWait, done)

	// lastSeq — последний отправленный seq; synced — известна ли точка
	// отсчёта (без after она появляется с первым событием).
	var (
		lastSeq uint64
		synced  bool
	)
	if after != nil {
		lastSeq, synced = uint64(*after), true
	}
	for _, ev := range backlog {
		if err := writeEvent(conn, ev); err != nil {
			return
		}
		lastSeq = ev.Seq
	}

	ticker := time.NewTicker(pingInterval)
	defer ticker.Stop()

	for {
		select {
		case <-done:
			return
		case <-r.Context().Done():
			return
		case ev, ok := <-sub.C:
			if !ok {
				h.closeStream(conn, sub)
				return
			}
			if synced && ev.Seq <= lastSeq {
				continue
			}
			pending := []model.Event{ev}
			if synced && ev.Seq > lastSeq+1 {
				// Пропуск в нумерации: недостающие события дочитываются
				// из журнала.
				pending = h.fillGap(r, lastSeq, ev)
			}
			for _, p := range pending {
				if err := writeEvent(conn, p); err != nil {
					h.logger.Debug("Ошибка записи в поток событий", slog.String("error", err.Error()))
					return
				}
				lastSeq = p.Seq
			}
			synced = true
		case <-ticker.C:
			if err := conn.WriteControl(websocket.PingMessage, nil, time.Now().Add(streamWriteWait)); err != nil {
				return
			}
		}
	}
}

// fillGap возвращает зафиксированные события с seq > lastSeq до ev
// включительно. При ошибке чтения журнала отправляется только ev.
func (h *APIHandler) fillGap(r *http.Request, lastSeq uint64, ev model.Event) []model.Event {
	list, err := h.registry.EventsAfter(r.Context(), lastSeq)
	if err != nil {
		h.logger.Warn("Не удалось дочитать пропущенные события потока",
			slog.Uint64("after", lastSeq),
			slog.Uint64("seq", ev.Seq),
			slog.String("error", err.Error()),
		)
		return []model.Event{ev}
	}
	pending := make([]model.Event, 0, len(list)+1)
	for _, e := range list {
		if e.Seq > ev.Seq {
			break
		}
		pending = append(pending, e)
	}
	if len(pending) == 0 || pending[len(pending)-1].Seq != ev.Seq {
		pending = append(pending, ev)
	}
	return pending
}

// closeStream отправляет close-фрейм после закрытия подписки hub.
func (h *APIHandler) closeStream(conn *websocket.Conn, sub *events.Subscription) {
	code, text := websocket.CloseGoingAway, "сервис останавливается"
	if sub.Dropped() {
		code, text = websocket.CloseTryAgainLater, "клиент не успевает читать поток"
	}
	_ = conn.WriteControl(websocket.CloseMessage,
		websocket.FormatCloseMessage(code, text),
		time.Now().Add(streamWriteWait))
}

// writeEvent отправляет событие в формате EventEnvelope.
func writeEvent(conn *websocket.Conn, ev model.Event) error {
	if err := conn.SetWriteDeadline(time.Now().Add(streamWriteWait)); err != nil {
		return err
	}
	return conn.WriteJSON(ev.Envelope())
}

// readPump читает входящие сообщения клиента (pong и close) и
// закрывает done при разрыве соединения.
func readPump(conn *websocket.Conn, pongWait time.Duration, done chan<- struct{}) {
	defer close(done)
	conn.SetReadLimit(streamReadLimit)
	_ = conn.SetReadDeadline(time.Now().Add(pongWait))
	conn.SetPongHandler(func(string) error {
		return conn.SetReadDeadline(time.Now().Add(pongWait))
	})
	for {
		if _, _, err := conn.ReadMessage(); err != nil {
			return
		}
	}
}
