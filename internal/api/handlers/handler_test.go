package handlers

import (
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"math/big"
	"net/http"
	"net/http/httptest"
	"os"
	"strings"
	"testing"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/bigkaa/goartstore/file-registry/internal/api/middleware"
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

// testLogger создаёт логгер для тестов (вывод только ошибок).
func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: slog.LevelError}))
}

// newTestHandler создаёт APIHandler поверх in-memory хранилища.
func newTestHandler(t *testing.T) *APIHandler {
	t.Helper()
	hub := events.NewHub(4, 16, testLogger())
	t.Cleanup(hub.Close)
	reg := registry.New(memstore.New(testLogger()), testLogger(), registry.WithPublisher(hub))
	svc := service.NewRegistryService(reg, service.NewCacheService(100, time.Minute), testLogger())
	return NewAPIHandler(NewHealthHandler(), svc, hub, time.Second, testLogger())
}

// newTestRouter регистрирует обработчики с идентификацией по заголовку.
func newTestRouter(h *APIHandler) http.Handler {
	auth := middleware.NewHeaderCallerAuth(testLogger())
	r := chi.NewRouter()
	r.Get("/api/v1/status", h.GetStatus)
	r.Get("/api/v1/files/{fingerprint}", h.VerifyFile)
	r.Get("/api/v1/files/{fingerprint}/exists", h.FileExist)
	r.Get("/api/v1/users/{address}/files", h.GetUserFiles)
	r.Get("/api/v1/users/{address}/files/range", h.GetFilesByTimeRange)
	r.Get("/api/v1/events", h.ListEvents)
	r.Group(func(r chi.Router) {
		r.Use(auth.Middleware())
		r.Post("/api/v1/owner", h.SetOwner)
		r.Post("/api/v1/pause", h.Pause)
		r.Post("/api/v1/files", h.UploadFile)
		r.Post("/api/v1/files/{fingerprint}/verifications", h.LogVerification)
	})
	return r
}

func do(t *testing.T, router http.Handler, method, path, caller, body string) *httptest.ResponseRecorder {
	t.Helper()
	req := httptest.NewRequest(method, path, strings.NewReader(body))
	if caller != "" {
		req.Header.Set(middleware.HeaderCallerAddress, caller)
	}
	if body != "" {
		req.Header.Set("Content-Type", "application/json")
	}
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)
	return rec
}

func errorCode(t *testing.T, rec *httptest.ResponseRecorder) string {
	t.Helper()
	var resp struct {
		Error struct {
			Code string `json:"code"`
		} `json:"error"`
	}
	if err := json.Unmarshal(rec.Body.Bytes(), &resp); err != nil {
		t.Fatalf("ответ не JSON: %v (%s)", err, rec.Body.String())
	}
	return resp.Error.Code
}

func TestWriteServiceError(t *testing.T) {
	h := &APIHandler{logger: testLogger()}

	tests := []struct {
		name       string
		err        error
		wantStatus int
		wantCode   string
	}{
		{"валидация", fmt.Errorf("%w: адрес", service.ErrValidation), http.StatusBadRequest, "VALIDATION_ERROR"},
		{"отпечаток", registry.ErrInvalidFingerprint, http.StatusBadRequest, "INVALID_FINGERPRINT"},
		{"имя", registry.ErrEmptyName, http.StatusBadRequest, "EMPTY_NAME"},
		{"NUL в имени", registry.ErrInvalidText, http.StatusBadRequest, "VALIDATION_ERROR"},
		{"размер", registry.ErrInvalidSize, http.StatusBadRequest, "INVALID_SIZE"},
		{"дубликат", registry.ErrDuplicateFile, http.StatusConflict, "DUPLICATE_FILE"},
		{"владелец назначен", registry.ErrOwnerAlreadySet, http.StatusConflict, "OWNER_ALREADY_SET"},
		{"пауза", registry.ErrRegistryPaused, http.StatusLocked, "REGISTRY_PAUSED"},
		{"не владелец", registry.ErrUnauthorized, http.StatusForbidden, "UNAUTHORIZED"},
		{"инфраструктура", errors.New("диск недоступен"), http.StatusInternalServerError, "INTERNAL_ERROR"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rec := httptest.NewRecorder()
			req := httptest.NewRequest(http.MethodPost, "/api/v1/files", nil)
			h.writeServiceError(rec, req, tt.err)

			if rec.Code != tt.wantStatus {
				t.Errorf("статус = %d, ожидался %d", rec.Code, tt.wantStatus)
			}
			if code := errorCode(t, rec); code != tt.wantCode {
				t.Errorf("код = %q, ожидался %q", code, tt.wantCode)
			}
		})
	}

	t.Run("внутренняя ошибка не раскрывается", func(t *testing.T) {
		rec := httptest.NewRecorder()
		req := httptest.NewRequest(http.MethodGet, "/", nil)
		h.writeServiceError(rec, req, errors.New("pgx: connection refused"))
		if strings.Contains(rec.Body.String(), "pgx") {
			t.Errorf("тело содержит детали ошибки: %s", rec.Body.String())
		}
	})
}

func TestToFileRecordResponse(t *testing.T) {
	missing := toFileRecordResponse(model.Missing())
	if missing.Exists || missing.FileSize != "0" {
		t.Errorf("пустая запись: %+v", missing)
	}

	size, _ := new(big.Int).SetString("115792089237316195423570985008687907853269984665640564039457584007913129639935", 10)
	resp := toFileRecordResponse(model.FileRecord{FileName: "a", FileSize: size, Exists: true})
	if resp.FileSize != size.String() {
		t.Errorf("FileSize = %s, ожидался %s", resp.FileSize, size)
	}
}

func TestUploadAndVerify(t *testing.T) {
	h := newTestHandler(t)
	router := newTestRouter(h)

	if rec := do(t, router, http.MethodPost, "/api/v1/owner", ownerHex, ""); rec.Code != http.StatusNoContent {
		t.Fatalf("SetOwner: статус %d", rec.Code)
	}

	body := `{"fingerprint":"` + fpHex + `","file_name":"report.pdf","file_size":"1024","content_id":"bafy"}`
	rec := do(t, router, http.MethodPost, "/api/v1/files", aliceHex, body)
	if rec.Code != http.StatusCreated {
		t.Fatalf("UploadFile: статус %d: %s", rec.Code, rec.Body.String())
	}

	var created fileRecordResponse
	if err := json.Unmarshal(rec.Body.Bytes(), &created); err != nil {
		t.Fatal(err)
	}
	if created.Uploader != aliceHex || created.FileSize != "1024" || !created.Exists {
		t.Errorf("неожиданная запись: %+v", created)
	}

	rec = do(t, router, http.MethodPost, "/api/v1/files", aliceHex, body)
	if rec.Code != http.StatusConflict || errorCode(t, rec) != "DUPLICATE_FILE" {
		t.Errorf("повторная загрузка: статус %d: %s", rec.Code, rec.Body.String())
	}

	rec = do(t, router, http.MethodGet, "/api/v1/files/"+fpHex, "", "")
	if rec.Code != http.StatusOK {
		t.Fatalf("VerifyFile: статус %d", rec.Code)
	}
	var got fileRecordResponse
	_ = json.Unmarshal(rec.Body.Bytes(), &got)
	if got.FileName != "report.pdf" || got.ContentID != "bafy" {
		t.Errorf("VerifyFile: %+v", got)
	}

	rec = do(t, router, http.MethodGet, "/api/v1/files/"+fpHex+"/exists", "", "")
	if !strings.Contains(rec.Body.String(), `"exists":true`) {
		t.Errorf("FileExist: %s", rec.Body.String())
	}

	rec = do(t, router, http.MethodGet, "/api/v1/users/"+aliceHex+"/files", "", "")
	if !strings.Contains(rec.Body.String(), fpHex) {
		t.Errorf("GetUserFiles: %s", rec.Body.String())
	}
}

func TestVerifyFile_Unknown(t *testing.T) {
	router := newTestRouter(newTestHandler(t))

	rec := do(t, router, http.MethodGet, "/api/v1/files/"+fpHex, "", "")
	if rec.Code != http.StatusOK {
		t.Fatalf("статус %d, ожидался 200", rec.Code)
	}
	var got fileRecordResponse
	_ = json.Unmarshal(rec.Body.Bytes(), &got)
	if got.Exists || got.FileName != "" {
		t.Errorf("ожидалась пустая запись, получено %+v", got)
	}

	rec = do(t, router, http.MethodGet, "/api/v1/files/zz", "", "")
	if rec.Code != http.StatusBadRequest {
		t.Errorf("некорректный отпечаток: статус %d", rec.Code)
	}
}

func TestUploadFile_Errors(t *testing.T) {
	h := newTestHandler(t)
	router := newTestRouter(h)

	body := `{"fingerprint":"` + fpHex + `","file_name":"a","file_size":"1"}`

	// Без владельца реестр приостановлен.
	rec := do(t, router, http.MethodPost, "/api/v1/files", aliceHex, body)
	if rec.Code != http.StatusLocked {
		t.Errorf("без владельца: статус %d, ожидался 423", rec.Code)
	}

	do(t, router, http.MethodPost, "/api/v1/owner", ownerHex, "")

	tests := []struct {
		name       string
		caller     string
		body       string
		wantStatus int
	}{
		{"без вызывающего", "", body, http.StatusUnauthorized},
		{"некорректный JSON", aliceHex, `{`, http.StatusBadRequest},
		{"пустое имя", aliceHex, `{"fingerprint":"` + fpHex + `","file_name":"","file_size":"1"}`, http.StatusBadRequest},
		{"нулевой размер", aliceHex, `{"fingerprint":"` + fpHex + `","file_name":"a","file_size":"0"}`, http.StatusBadRequest},
		{"нулевой отпечаток", aliceHex, `{"fingerprint":"0x` + strings.Repeat("0", 64) + `","file_name":"a","file_size":"1"}`, http.StatusBadRequest},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rec := do(t, router, http.MethodPost, "/api/v1/files", tt.caller, tt.body)
			if rec.Code != tt.wantStatus {
				t.Errorf("статус %d, ожидался %d: %s", rec.Code, tt.wantStatus, rec.Body.String())
			}
		})
	}

	// Пауза владельцем блокирует загрузку.
	if rec := do(t, router, http.MethodPost, "/api/v1/pause", aliceHex, ""); rec.Code != http.StatusForbidden {
		t.Errorf("pause не владельцем: статус %d", rec.Code)
	}
	do(t, router, http.MethodPost, "/api/v1/pause", ownerHex, "")
	if rec := do(t, router, http.MethodPost, "/api/v1/files", aliceHex, body); rec.Code != http.StatusLocked {
		t.Errorf("на паузе: статус %d, ожидался 423", rec.Code)
	}
}

func TestLogVerificationAndEvents(t *testing.T) {
	h := newTestHandler(t)
	router := newTestRouter(h)

	do(t, router, http.MethodPost, "/api/v1/owner", ownerHex, "")
	rec := do(t, router, http.MethodPost, "/api/v1/files/"+fpHex+"/verifications", aliceHex, "")
	if rec.Code != http.StatusOK {
		t.Fatalf("LogVerification: статус %d", rec.Code)
	}

	rec = do(t, router, http.MethodGet, "/api/v1/events?kind=FileVerified", "", "")
	var resp struct {
		Events []struct {
			Seq   uint64         `json:"seq"`
			Event string         `json:"event"`
			Args  map[string]any `json:"args"`
		} `json:"events"`
	}
	if err := json.Unmarshal(rec.Body.Bytes(), &resp); err != nil {
		t.Fatal(err)
	}
	if len(resp.Events) != 1 {
		t.Fatalf("ожидалось 1 событие, получено %d", len(resp.Events))
	}
	ev := resp.Events[0]
	if ev.Event != "FileVerified" || ev.Args["is_valid"] != false || ev.Args["verifier"] != aliceHex {
		t.Errorf("неожиданное событие: %+v", ev)
	}

	rec = do(t, router, http.MethodGet, "/api/v1/events?kind=Unknown", "", "")
	if rec.Code != http.StatusBadRequest {
		t.Errorf("неизвестный тип: статус %d", rec.Code)
	}
	rec = do(t, router, http.MethodGet, "/api/v1/events?limit=abc", "", "")
	if rec.Code != http.StatusBadRequest {
		t.Errorf("нечисловой limit: статус %d", rec.Code)
	}
}

func TestGetFilesByTimeRange_Params(t *testing.T) {
	router := newTestRouter(newTestHandler(t))

	tests := []struct {
		name       string
		query      string
		wantStatus int
	}{
		{"корректный диапазон", "?start=0&end=100", http.StatusOK},
		{"нет start", "?end=100", http.StatusBadRequest},
		{"нечисловой end", "?start=0&end=x", http.StatusBadRequest},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rec := do(t, router, http.MethodGet, "/api/v1/users/"+aliceHex+"/files/range"+tt.query, "", "")
			if rec.Code != tt.wantStatus {
				t.Errorf("статус %d, ожидался %d", rec.Code, tt.wantStatus)
			}
		})
	}
}

func TestGetStatus(t *testing.T) {
	router := newTestRouter(newTestHandler(t))

	rec := do(t, router, http.MethodGet, "/api/v1/status", "", "")
	var status statusResponse
	if err := json.Unmarshal(rec.Body.Bytes(), &status); err != nil {
		t.Fatal(err)
	}
	if status.State != "unowned" || status.TotalFiles != 0 {
		t.Errorf("начальное состояние: %+v", status)
	}

	do(t, router, http.MethodPost, "/api/v1/owner", ownerHex, "")
	rec = do(t, router, http.MethodGet, "/api/v1/status", "", "")
	_ = json.Unmarshal(rec.Body.Bytes(), &status)
	if status.State != "active" || status.Owner != ownerHex {
		t.Errorf("после SetOwner: %+v", status)
	}
}
