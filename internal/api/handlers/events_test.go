package handlers

import (
	"context"
	"encoding/json"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/gorilla/websocket"

	"github.com/bigkaa/goartstore/file-registry/internal/domain/model"
	"github.com/bigkaa/goartstore/file-registry/internal/events"
	"github.com/bigkaa/goartstore/file-registry/internal/registry"
	"github.com/bigkaa/goartstore/file-registry/internal/service"
	"github.com/bigkaa/goartstore/file-registry/internal/storage/memstore"
)

func readSeq(t *testing.T, conn *websocket.Conn) uint64 {
	t.Helper()
	_ = conn.SetReadDeadline(time.Now().Add(5 * time.Second))
	_, data, err := conn.ReadMessage()
	if err != nil {
		t.Fatalf("чтение из потока: %v", err)
	}
	var env struct {
		Seq uint64 `json:"seq"`
	}
	if err := json.Unmarshal(data, &env); err != nil {
		t.Fatalf("разбор события: %v", err)
	}
	return env.Seq
}

// TestStreamEvents_OutOfOrderDelivery проверяет, что событие, пришедшее
// в hub раньше предыдущего, не приводит к потере предыдущего: пропуск
// дочитывается из журнала, а запоздавший дубликат отбрасывается.
func TestStreamEvents_OutOfOrderDelivery(t *testing.T) {
	ctx := context.Background()
	hub := events.NewHub(4, 16, testLogger())
	t.Cleanup(hub.Close)

	// Реестр без publisher: порядок доставки в hub задаёт тест.
	reg := registry.New(memstore.New(testLogger()), testLogger())
	svc := service.NewRegistryService(reg, service.NewCacheService(100, time.Minute), testLogger())
	h := NewAPIHandler(NewHealthHandler(), svc, hub, 5*time.Second, testLogger())

	r := chi.NewRouter()
	r.Get("/api/v1/events/stream", h.StreamEvents)
	srv := httptest.NewServer(r)
	defer srv.Close()

	owner, _ := model.ParseAddress(ownerHex)
	alice, _ := model.ParseAddress(aliceHex)
	fp, _ := model.ParseFingerprint(fpHex)

	if err := reg.SetOwner(ctx, owner); err != nil {
		t.Fatalf("SetOwner: %v", err)
	}

	wsURL := "ws" + strings.TrimPrefix(srv.URL, "http") + "/api/v1/events/stream?after=1"
	conn, resp, err := websocket.DefaultDialer.Dial(wsURL, nil)
	if err != nil {
		t.Fatalf("подключение к потоку: %v", err)
	}
	defer conn.Close()
	resp.Body.Close()

	for range 2 {
		if _, err := reg.LogVerification(ctx, alice, fp); err != nil {
			t.Fatalf("LogVerification: %v", err)
		}
	}
	committed, err := reg.Events(ctx, model.EventFilter{AfterSeq: 1})
	if err != nil || len(committed) != 2 {
		t.Fatalf("Events: %+v, %v", committed, err)
	}

	// seq 3 опережает seq 2
	hub.Publish(committed[1])
	hub.Publish(committed[0])

	for _, want := range []uint64{2, 3} {
		if got := readSeq(t, conn); got != want {
			t.Fatalf("получен seq %d, ожидался %d", got, want)
		}
	}

	// Запоздавший seq 2 не повторяется: следующим приходит seq 4.
	if _, err := reg.LogVerification(ctx, alice, fp); err != nil {
		t.Fatalf("LogVerification: %v", err)
	}
	last, _ := reg.Events(ctx, model.EventFilter{AfterSeq: 3})
	if len(last) != 1 {
		t.Fatalf("ожидалось одно событие после seq 3, получено %d", len(last))
	}
	hub.Publish(last[0])

	if got := readSeq(t, conn); got != 4 {
		t.Errorf("получен seq %d, ожидался 4", got)
	}
}
