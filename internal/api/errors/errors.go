// Пакет errors — конструкторы стандартных ошибок File Registry.
// Единый формат: {"error": {"code": "...", "message": "..."}}.
// Все HTTP-ответы с ошибками должны использовать WriteError.
package errors

import (
	"encoding/json"
	"net/http"
)

// Коды ошибок, определённые в OpenAPI контракте.
const (
	CodeValidationError    = "VALIDATION_ERROR"
	CodeInvalidFingerprint = "INVALID_FINGERPRINT"
	CodeEmptyName          = "EMPTY_NAME"
	CodeInvalidSize        = "INVALID_SIZE"
	CodeDuplicateFile      = "DUPLICATE_FILE"
	CodeOwnerAlreadySet    = "OWNER_ALREADY_SET"
	CodeRegistryPaused     = "REGISTRY_PAUSED"
	CodeUnauthorized       = "UNAUTHORIZED"
	CodeUnauthenticated    = "UNAUTHENTICATED"
	CodeRateLimited        = "RATE_LIMITED"
	CodeStreamUnavailable  = "STREAM_UNAVAILABLE"
	CodeInternalError      = "INTERNAL_ERROR"
)

// errorBody — структура тела ответа ошибки.
type errorBody struct {
	Error errorDetail `json:"error"`
}

// errorDetail — детали ошибки.
type errorDetail struct {
	Code    string `json:"code"`
	Message string `json:"message"`
}

// WriteError записывает ответ ошибки в стандартном формате.
// statusCode — HTTP статус-код, code — машиночитаемый код, message — описание.
func WriteError(w http.ResponseWriter, statusCode int, code, message string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(statusCode)
	_ = json.NewEncoder(w).Encode(errorBody{
		Error: errorDetail{
			Code:    code,
			Message: message,
		},
	})
}

// --- Конструкторы для типичных ошибок ---

// ValidationError — 400 некорректные входные данные.
func ValidationError(w http.ResponseWriter, message string) {
	WriteError(w, http.StatusBadRequest, CodeValidationError, message)
}

// Unauthenticated — 401 вызывающий не идентифицирован.
func Unauthenticated(w http.ResponseWriter, message string) {
	WriteError(w, http.StatusUnauthorized, CodeUnauthenticated, message)
}

// Unauthorized — 403 операция доступна только владельцу.
func Unauthorized(w http.ResponseWriter, message string) {
	WriteError(w, http.StatusForbidden, CodeUnauthorized, message)
}

// Conflict — 409 конфликт состояния реестра.
func Conflict(w http.ResponseWriter, code, message string) {
	WriteError(w, http.StatusConflict, code, message)
}

// RegistryPaused — 423 реестр закрыт для записи.
func RegistryPaused(w http.ResponseWriter, message string) {
	WriteError(w, http.StatusLocked, CodeRegistryPaused, message)
}

// RateLimited — 429 превышена частота запросов.
func RateLimited(w http.ResponseWriter, message string) {
	WriteError(w, http.StatusTooManyRequests, CodeRateLimited, message)
}

// StreamUnavailable — 503 поток событий недоступен (лимит подписчиков).
func StreamUnavailable(w http.ResponseWriter, message string) {
	WriteError(w, http.StatusServiceUnavailable, CodeStreamUnavailable, message)
}

// InternalError — 500 внутренняя ошибка.
func InternalError(w http.ResponseWriter, message string) {
	WriteError(w, http.StatusInternalServerError, CodeInternalError, message)
}
