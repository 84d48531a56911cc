package handlers

import (
	"net/http"

	"github.com/oapi-codegen/runtime"

	apierrors "github.com/bigkaa/goartstore/file-registry/internal/api/errors"
)

// GetUserFiles — GET /api/v1/users/{address}/files.
// Отпечатки в порядке регистрации.
func (h *APIHandler) GetUserFiles(w http.ResponseWriter, r *http.Request) {
	address, ok := pathParam(w, r, "address")
	if !ok {
		return
	}
	files, err := h.registry.GetUserFiles(r.Context(), address)
	if err != nil {
		h.writeServiceError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, toFingerprintList(files))
}

// GetFilesByTimeRange — GET /api/v1/users/{address}/files/range?start=&end=.
// Границы включительные.
func (h *APIHandler) GetFilesByTimeRange(w http.ResponseWriter, r *http.Request) {
	address, ok := pathParam(w, r, "address")
	if !ok {
		return
	}

	var start, end int64
	query := r.URL.Query()
	if err := runtime.BindQueryParameter("form", true, true, "start", query, &start); err != nil {
		apierrors.ValidationError(w, "Некорректный параметр start: "+err.Error())
		return
	}
	if err := runtime.BindQueryParameter("form", true, true, "end", query, &end); err != nil {
		apierrors.ValidationError(w, "Некорректный параметр end: "+err.Error())
		return
	}

	files, err := h.registry.GetFilesByTimeRange(r.Context(), address, start, end)
	if err != nil {
		h.writeServiceError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, toFingerprintList(files))
}
