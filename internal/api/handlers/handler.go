// handler.go — основной обработчик API File Registry.
// Объединяет доменные обработчики и делегирует запросы в сервисный слой.
package handlers

import (
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/oapi-codegen/runtime"

	apierrors "github.com/bigkaa/goartstore/file-registry/internal/api/errors"
	"github.com/bigkaa/goartstore/file-registry/internal/api/middleware"
	"github.com/bigkaa/goartstore/file-registry/internal/domain/model"
	"github.com/bigkaa/goartstore/file-registry/internal/events"
	"github.com/bigkaa/goartstore/file-registry/internal/registry"
	"github.com/bigkaa/goartstore/file-registry/internal/service"
)

// APIHandler — основной обработчик API File Registry.
type APIHandler struct {
	health       *HealthHandler
	registry     *service.RegistryService
	hub          *events.Hub
	pingInterval time.Duration
	logger       *slog.Logger
}

// NewAPIHandler создаёт основной обработчик API.
// pingInterval — интервал websocket ping потока событий.
func NewAPIHandler(
	health *HealthHandler,
	registrySvc *service.RegistryService,
	hub *events.Hub,
	pingInterval time.Duration,
	logger *slog.Logger,
) *APIHandler {
	return &APIHandler{
		health:       health,
		registry:     registrySvc,
		hub:          hub,
		pingInterval: pingInterval,
		logger:       logger.With(slog.String("component", "api_handler")),
	}
}

// HealthLive — liveness probe (делегируется в HealthHandler).
func (h *APIHandler) HealthLive(w http.ResponseWriter, r *http.Request) {
	h.health.HealthLive(w, r)
}

// HealthReady — readiness probe (делегируется в HealthHandler).
func (h *APIHandler) HealthReady(w http.ResponseWriter, r *http.Request) {
	h.health.HealthReady(w, r)
}

// GetMetrics — Prometheus метрики (делегируется в HealthHandler).
func (h *APIHandler) GetMetrics(w http.ResponseWriter, r *http.Request) {
	h.health.GetMetrics(w, r)
}

// --- Модели ответов ---

// fileRecordResponse — представление записи файла. Размер передаётся
// десятичной строкой без потери точности.
type fileRecordResponse struct {
	Fingerprint string `json:"fingerprint"`
	FileName    string `json:"file_name"`
	FileSize    string `json:"file_size"`
	ContentID   string `json:"content_id"`
	Uploader    string `json:"uploader"`
	Timestamp   int64  `json:"timestamp"`
	Exists      bool   `json:"exists"`
}

func toFileRecordResponse(rec model.FileRecord) fileRecordResponse {
	size := "0"
	if rec.FileSize != nil {
		size = rec.FileSize.String()
	}
	return fileRecordResponse{
		Fingerprint: rec.Fingerprint.String(),
		FileName:    rec.FileName,
		FileSize:    size,
		ContentID:   rec.ContentID,
		Uploader:    rec.Uploader.String(),
		Timestamp:   rec.Timestamp,
		Exists:      rec.Exists,
	}
}

// fingerprintListResponse — список отпечатков.
type fingerprintListResponse struct {
	Fingerprints []string `json:"fingerprints"`
}

func toFingerprintList(files []model.Fingerprint) fingerprintListResponse {
	resp := fingerprintListResponse{Fingerprints: make([]string, len(files))}
	for i, f := range files {
		resp.Fingerprints[i] = f.String()
	}
	return resp
}

// --- Вспомогательные функции ---

// writeJSON записывает JSON-ответ с указанным статусом.
func writeJSON(w http.ResponseWriter, status int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(data)
}

// callerOrReject извлекает адрес вызывающего; при отсутствии пишет 401.
func callerOrReject(w http.ResponseWriter, r *http.Request) (model.Address, bool) {
	caller, ok := middleware.CallerFromContext(r.Context())
	if !ok {
		apierrors.Unauthenticated(w, "Вызывающий не идентифицирован")
		return model.Address{}, false
	}
	return caller, true
}

// pathParam извлекает обязательный строковый параметр пути.
func pathParam(w http.ResponseWriter, r *http.Request, name string) (string, bool) {
	var value string
	err := runtime.BindStyledParameterWithOptions("simple", name, chi.URLParam(r, name), &value,
		runtime.BindStyledParameterOptions{ParamLocation: runtime.ParamLocationPath, Explode: false, Required: true})
	if err != nil {
		apierrors.ValidationError(w, "Некорректный параметр "+name+": "+err.Error())
		return "", false
	}
	return value, true
}

// writeServiceError транслирует ошибку сервисного слоя в HTTP-ответ.
func (h *APIHandler) writeServiceError(w http.ResponseWriter, r *http.Request, err error) {
	switch {
	case errors.Is(err, service.ErrValidation):
		apierrors.ValidationError(w, err.Error())
	case errors.Is(err, registry.ErrInvalidFingerprint):
		apierrors.WriteError(w, http.StatusBadRequest, apierrors.CodeInvalidFingerprint, err.Error())
	case errors.Is(err, registry.ErrEmptyName):
		apierrors.WriteError(w, http.StatusBadRequest, apierrors.CodeEmptyName, err.Error())
	case errors.Is(err, registry.ErrInvalidText):
		apierrors.ValidationError(w, err.Error())
	case errors.Is(err, registry.ErrInvalidSize):
		apierrors.WriteError(w, http.StatusBadRequest, apierrors.CodeInvalidSize, err.Error())
	case errors.Is(err, registry.ErrDuplicateFile):
		apierrors.Conflict(w, apierrors.CodeDuplicateFile, err.Error())
	case errors.Is(err, registry.ErrOwnerAlreadySet):
		apierrors.Conflict(w, apierrors.CodeOwnerAlreadySet, err.Error())
	case errors.Is(err, registry.ErrRegistryPaused):
		apierrors.RegistryPaused(w, err.Error())
	case errors.Is(err, registry.ErrUnauthorized):
		apierrors.Unauthorized(w, err.Error())
	default:
		h.logger.Error("Ошибка обработки запроса",
			slog.String("method", r.Method),
			slog.String("path", r.URL.Path),
			slog.String("error", err.Error()),
		)
		apierrors.InternalError(w, "Внутренняя ошибка сервера")
	}
}
