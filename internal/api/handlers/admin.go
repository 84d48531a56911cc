// admin.go — административные и информационные endpoints реестра.
package handlers

import (
	"net/http"

	"github.com/bigkaa/goartstore/file-registry/internal/api/openapi"
	"github.com/bigkaa/goartstore/file-registry/internal/domain/ownership"
)

// SetOwner — POST /api/v1/owner.
// Первый вызов назначает вызывающего владельцем.
func (h *APIHandler) SetOwner(w http.ResponseWriter, r *http.Request) {
	caller, ok := callerOrReject(w, r)
	if !ok {
		return
	}
	if err := h.registry.SetOwner(r.Context(), caller); err != nil {
		h.writeServiceError(w, r, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// Pause — POST /api/v1/pause. Только владелец.
func (h *APIHandler) Pause(w http.ResponseWriter, r *http.Request) {
	caller, ok := callerOrReject(w, r)
	if !ok {
		return
	}
	if err := h.registry.Pause(r.Context(), caller); err != nil {
		h.writeServiceError(w, r, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// Unpause — POST /api/v1/unpause. Только владелец.
func (h *APIHandler) Unpause(w http.ResponseWriter, r *http.Request) {
	caller, ok := callerOrReject(w, r)
	if !ok {
		return
	}
	if err := h.registry.Unpause(r.Context(), caller); err != nil {
		h.writeServiceError(w, r, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// statusResponse — сводное состояние реестра.
type statusResponse struct {
	Owner      string          `json:"owner"`
	Paused     bool            `json:"paused"`
	State      ownership.State `json:"state"`
	TotalFiles uint64          `json:"total_files"`
	Version    string          `json:"version"`
}

// GetStatus — GET /api/v1/status.
func (h *APIHandler) GetStatus(w http.ResponseWriter, r *http.Request) {
	status, err := h.registry.Status(r.Context())
	if err != nil {
		h.writeServiceError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, statusResponse{
		Owner:      status.Owner.String(),
		Paused:     status.Paused,
		State:      status.State,
		TotalFiles: status.TotalFiles,
		Version:    status.Version,
	})
}

// GetVersion — GET /api/v1/version.
func (h *APIHandler) GetVersion(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"version": h.registry.GetVersion()})
}

// GetTotalFiles — GET /api/v1/total-files.
func (h *APIHandler) GetTotalFiles(w http.ResponseWriter, r *http.Request) {
	total, err := h.registry.GetTotalFiles(r.Context())
	if err != nil {
		h.writeServiceError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]uint64{"total_files": total})
}

// GetOwnershipHistory — GET /api/v1/ownership/history.
func (h *APIHandler) GetOwnershipHistory(w http.ResponseWriter, r *http.Request) {
	history, err := h.registry.OwnershipHistory(r.Context())
	if err != nil {
		h.writeServiceError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string][]ownership.TransitionRecord{"transitions": history})
}

// GetOpenAPI — GET /api/v1/openapi.yaml.
func (h *APIHandler) GetOpenAPI(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/yaml")
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write(openapi.Document())
}
