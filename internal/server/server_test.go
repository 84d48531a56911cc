package server

import (
	"context"
	"encoding/json"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"os"
	"regexp"
	"strings"
	"testing"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/gorilla/websocket"

	"github.com/bigkaa/goartstore/file-registry/internal/api/handlers"
	"github.com/bigkaa/goartstore/file-registry/internal/api/middleware"
	"github.com/bigkaa/goartstore/file-registry/internal/api/openapi"
	"github.com/bigkaa/goartstore/file-registry/internal/domain/model"
	"github.com/bigkaa/goartstore/file-registry/internal/events"
	"github.com/bigkaa/goartstore/file-registry/internal/registry"
	"github.com/bigkaa/goartstore/file-registry/internal/service"
	"github.com/bigkaa/goartstore/file-registry/internal/storage/memstore"
)

const (
	ownerHex = "0x00000000000000000000000000000000000000aa"
	aliceHex = "0x00000000000000000000000000000000000000a1"
	fpHex    = "0x1111111111111111111111111111111111111111111111111111111111111111"
)

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: slog.LevelError}))
}

func newTestValidator(t *testing.T) *openapi.Validator {
	t.Helper()
	doc, err := openapi.Load(context.Background())
	if err != nil {
		t.Fatalf("openapi.Load: %v", err)
	}
	v, err := openapi.NewValidator(doc, testLogger())
	if err != nil {
		t.Fatalf("NewValidator: %v", err)
	}
	return v
}

// newTestRouter собирает полный маршрутизатор поверх in-memory хранилища.
func newTestRouter(t *testing.T, limiter *middleware.RateLimiter, hub *events.Hub) chi.Router {
	t.Helper()
	if hub == nil {
		hub = events.NewHub(4, 16, testLogger())
	}
	t.Cleanup(hub.Close)

	reg := registry.New(memstore.New(testLogger()), testLogger(), registry.WithPublisher(hub))
	svc := service.NewRegistryService(reg, service.NewCacheService(100, time.Minute), testLogger())
	h := handlers.NewAPIHandler(handlers.NewHealthHandler(), svc, hub, 5*time.Second, testLogger())

	return NewRouter(testLogger(), h, Options{
		Auth:        middleware.NewHeaderCallerAuth(testLogger()),
		RateLimiter: limiter,
		Validator:   newTestValidator(t),
		Hub:         hub,
	})
}

func post(t *testing.T, baseURL, path, caller, body string) *http.Response {
	t.Helper()
	req, err := http.NewRequest(http.MethodPost, baseURL+path, strings.NewReader(body))
	if err != nil {
		t.Fatal(err)
	}
	req.Header.Set(middleware.HeaderCallerAddress, caller)
	if body != "" {
		req.Header.Set("Content-Type", "application/json")
	}
	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		t.Fatal(err)
	}
	resp.Body.Close()
	return resp
}

var pathParamRe = regexp.MustCompile(`\{[^}]+\}`)

func TestRoutes_DescribedInOpenAPI(t *testing.T) {
	router := newTestRouter(t, nil, nil)
	validator := newTestValidator(t)

	count := 0
	err := chi.Walk(router, func(method, route string, _ http.Handler, _ ...func(http.Handler) http.Handler) error {
		if !strings.HasPrefix(route, "/api/v1/") {
			return nil
		}
		count++
		path := pathParamRe.ReplaceAllString(route, "x")
		if !validator.HasRoute(method, path) {
			t.Errorf("маршрут %s %s не описан в OpenAPI", method, route)
		}
		return nil
	})
	if err != nil {
		t.Fatalf("chi.Walk: %v", err)
	}
	if count < 16 {
		t.Errorf("зарегистрировано %d маршрутов API, ожидалось не меньше 16", count)
	}
}

func TestRouter_PublicAndProtected(t *testing.T) {
	router := newTestRouter(t, nil, nil)

	tests := []struct {
		name       string
		method     string
		path       string
		caller     string
		wantStatus int
	}{
		{"liveness", http.MethodGet, "/health/live", "", http.StatusOK},
		{"метрики", http.MethodGet, "/metrics", "", http.StatusOK},
		{"версия", http.MethodGet, "/api/v1/version", "", http.StatusOK},
		{"документ", http.MethodGet, "/api/v1/openapi.yaml", "", http.StatusOK},
		{"owner без вызывающего", http.MethodPost, "/api/v1/owner", "", http.StatusUnauthorized},
		{"диапазон без start", http.MethodGet, "/api/v1/users/" + aliceHex + "/files/range?end=1", "", http.StatusBadRequest},
		{"отрицательный after", http.MethodGet, "/api/v1/events?after=-1", "", http.StatusBadRequest},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			req := httptest.NewRequest(tt.method, tt.path, nil)
			if tt.caller != "" {
				req.Header.Set(middleware.HeaderCallerAddress, tt.caller)
			}
			rec := httptest.NewRecorder()
			router.ServeHTTP(rec, req)
			if rec.Code != tt.wantStatus {
				t.Errorf("статус %d, ожидался %d: %s", rec.Code, tt.wantStatus, rec.Body.String())
			}
		})
	}
}

func TestRouter_RateLimit(t *testing.T) {
	srv := httptest.NewServer(newTestRouter(t, middleware.NewRateLimiter(1, 1), nil))
	defer srv.Close()

	if resp := post(t, srv.URL, "/api/v1/owner", ownerHex, ""); resp.StatusCode != http.StatusNoContent {
		t.Fatalf("SetOwner: статус %d", resp.StatusCode)
	}

	if resp := post(t, srv.URL, "/api/v1/files/"+fpHex+"/verifications", aliceHex, ""); resp.StatusCode != http.StatusOK {
		t.Fatalf("первая проверка: статус %d", resp.StatusCode)
	}
	resp := post(t, srv.URL, "/api/v1/files/"+fpHex+"/verifications", aliceHex, "")
	if resp.StatusCode != http.StatusTooManyRequests {
		t.Errorf("вторая проверка: статус %d, ожидался 429", resp.StatusCode)
	}
	if resp.Header.Get("Retry-After") == "" {
		t.Error("отсутствует заголовок Retry-After")
	}

	// Лимит у каждого вызывающего свой.
	if resp := post(t, srv.URL, "/api/v1/files/"+fpHex+"/verifications", ownerHex, ""); resp.StatusCode != http.StatusOK {
		t.Errorf("другой вызывающий: статус %d", resp.StatusCode)
	}
}

func readEnvelope(t *testing.T, conn *websocket.Conn) model.EventEnvelope {
	t.Helper()
	_ = conn.SetReadDeadline(time.Now().Add(5 * time.Second))
	var env struct {
		Seq   uint64          `json:"seq"`
		Event model.EventKind `json:"event"`
	}
	_, data, err := conn.ReadMessage()
	if err != nil {
		t.Fatalf("чтение из потока: %v", err)
	}
	if err := json.Unmarshal(data, &env); err != nil {
		t.Fatalf("разбор события: %v", err)
	}
	return model.EventEnvelope{Seq: env.Seq, Event: env.Event}
}

func TestStreamEvents_BacklogAndLive(t *testing.T) {
	srv := httptest.NewServer(newTestRouter(t, nil, nil))
	defer srv.Close()

	post(t, srv.URL, "/api/v1/owner", ownerHex, "")

	wsURL := "ws" + strings.TrimPrefix(srv.URL, "http") + "/api/v1/events/stream?after=0"
	conn, resp, err := websocket.DefaultDialer.Dial(wsURL, nil)
	if err != nil {
		t.Fatalf("подключение к потоку: %v", err)
	}
	defer conn.Close()
	resp.Body.Close()

	backlog := readEnvelope(t, conn)
	if backlog.Seq != 1 || backlog.Event != model.EventOwnerSet {
		t.Errorf("история: %+v, ожидался OwnerSet seq=1", backlog)
	}

	body := `{"fingerprint":"` + fpHex + `","file_name":"a.txt","file_size":"10"}`
	if r := post(t, srv.URL, "/api/v1/files", aliceHex, body); r.StatusCode != http.StatusCreated {
		t.Fatalf("UploadFile: статус %d", r.StatusCode)
	}

	live := readEnvelope(t, conn)
	if live.Seq != 2 || live.Event != model.EventFileUploaded {
		t.Errorf("новое событие: %+v, ожидался FileUploaded seq=2", live)
	}
}

func TestStreamEvents_HubFull(t *testing.T) {
	hub := events.NewHub(1, 4, testLogger())
	srv := httptest.NewServer(newTestRouter(t, nil, hub))
	defer srv.Close()

	wsURL := "ws" + strings.TrimPrefix(srv.URL, "http") + "/api/v1/events/stream"
	first, resp, err := websocket.DefaultDialer.Dial(wsURL, nil)
	if err != nil {
		t.Fatalf("первый подписчик: %v", err)
	}
	defer first.Close()
	resp.Body.Close()

	_, resp, err = websocket.DefaultDialer.Dial(wsURL, nil)
	if err == nil {
		t.Fatal("второй подписчик должен получить отказ")
	}
	if resp == nil || resp.StatusCode != http.StatusServiceUnavailable {
		t.Errorf("ожидался статус 503, получен %v", resp)
	}
}
