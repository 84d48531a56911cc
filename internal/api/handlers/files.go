// files.go — обработчики регистрации и проверки файлов.
package handlers

import (
	"encoding/json"
	"log/slog"
	"net/http"

	apierrors "github.com/bigkaa/goartstore/file-registry/internal/api/errors"
	"github.com/bigkaa/goartstore/file-registry/internal/service"
)

// uploadFileRequest — тело POST /api/v1/files.
type uploadFileRequest struct {
	Fingerprint string `json:"fingerprint"`
	FileName    string `json:"file_name"`
	FileSize    string `json:"file_size"`
	ContentID   string `json:"content_id"`
}

// UploadFile — POST /api/v1/files.
// Регистрирует файл от имени вызывающего.
func (h *APIHandler) UploadFile(w http.ResponseWriter, r *http.Request) {
	caller, ok := callerOrReject(w, r)
	if !ok {
		return
	}

	var req uploadFileRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		apierrors.ValidationError(w, "Некорректный JSON: "+err.Error())
		return
	}

	rec, err := h.registry.UploadFile(r.Context(), caller, service.UploadInput{
		Fingerprint: req.Fingerprint,
		FileName:    req.FileName,
		FileSize:    req.FileSize,
		ContentID:   req.ContentID,
	})
	if err != nil {
		h.writeServiceError(w, r, err)
		return
	}

	h.logger.Debug("Файл зарегистрирован через API",
		slog.String("fingerprint", rec.Fingerprint.String()),
		slog.String("uploader", caller.String()),
	)
	writeJSON(w, http.StatusCreated, toFileRecordResponse(rec))
}

// VerifyFile — GET /api/v1/files/{fingerprint}.
// Для незарегистрированного отпечатка возвращает запись с exists=false.
func (h *APIHandler) VerifyFile(w http.ResponseWriter, r *http.Request) {
	fingerprint, ok := pathParam(w, r, "fingerprint")
	if !ok {
		return
	}
	rec, err := h.registry.VerifyFile(r.Context(), fingerprint)
	if err != nil {
		h.writeServiceError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, toFileRecordResponse(rec))
}

// FileExist — GET /api/v1/files/{fingerprint}/exists.
func (h *APIHandler) FileExist(w http.ResponseWriter, r *http.Request) {
	fingerprint, ok := pathParam(w, r, "fingerprint")
	if !ok {
		return
	}
	exists, err := h.registry.FileExist(r.Context(), fingerprint)
	if err != nil {
		h.writeServiceError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]bool{"exists": exists})
}

// LogVerification — POST /api/v1/files/{fingerprint}/verifications.
// Фиксирует проверку в журнале; результат отражает наличие записи.
func (h *APIHandler) LogVerification(w http.ResponseWriter, r *http.Request) {
	caller, ok := callerOrReject(w, r)
	if !ok {
		return
	}
	fingerprint, ok := pathParam(w, r, "fingerprint")
	if !ok {
		return
	}
	rec, err := h.registry.LogVerification(r.Context(), caller, fingerprint)
	if err != nil {
		h.writeServiceError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, toFileRecordResponse(rec))
}
