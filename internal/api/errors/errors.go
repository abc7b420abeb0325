// Пакет errors — ответы с ошибками API каталога.
// Единый формат: {"error": {"code": "...", "message": "..."}}.
// Все HTTP-ответы с ошибками должны использовать WriteError.
package errors

import (
	"encoding/json"
	"errors"
	"net/http"

	"github.com/bigkaa/goartstore/tape-catalogue/internal/catalogue"
)

// Коды ошибок API.
const (
	CodeValidationError    = "VALIDATION_ERROR"
	CodeDataIntegrityError = "DATA_INTEGRITY_ERROR"
	CodeLostConnection     = "LOST_CONNECTION"
	CodeUserError          = "USER_ERROR"
	CodeNotFound           = "NOT_FOUND"
	CodeUnauthorized       = "UNAUTHORIZED"
	CodeForbidden          = "FORBIDDEN"
	CodeConflict           = "CONFLICT"
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

// NotFound — 404 ресурс не найден.
func NotFound(w http.ResponseWriter, message string) {
	WriteError(w, http.StatusNotFound, CodeNotFound, message)
}

// Unauthorized — 401 требуется аутентификация.
func Unauthorized(w http.ResponseWriter, message string) {
	WriteError(w, http.StatusUnauthorized, CodeUnauthorized, message)
}

// Forbidden — 403 недостаточно прав.
func Forbidden(w http.ResponseWriter, message string) {
	WriteError(w, http.StatusForbidden, CodeForbidden, message)
}

// Conflict — 409 конфликт (дублирующийся ресурс).
func Conflict(w http.ResponseWriter, message string) {
	WriteError(w, http.StatusConflict, CodeConflict, message)
}

// InternalError — 500 внутренняя ошибка.
func InternalError(w http.ResponseWriter, message string) {
	WriteError(w, http.StatusInternalServerError, CodeInternalError, message)
}

// Status возвращает HTTP-статус и код для ошибки каталога.
// Порядок проверок важен: FseqMismatchError после конфликта фиксации
// остаётся ошибкой валидации.
func Status(err error) (int, string) {
	switch {
	case errors.Is(err, catalogue.ErrValidation):
		return http.StatusBadRequest, CodeValidationError
	case errors.Is(err, catalogue.ErrDataIntegrity):
		return http.StatusConflict, CodeDataIntegrityError
	case errors.Is(err, catalogue.ErrConnectivity):
		return http.StatusServiceUnavailable, CodeLostConnection
	case errors.Is(err, catalogue.ErrUser):
		return http.StatusUnprocessableEntity, CodeUserError
	case errors.Is(err, catalogue.ErrNotFound):
		return http.StatusNotFound, CodeNotFound
	case errors.Is(err, catalogue.ErrConflict):
		return http.StatusConflict, CodeConflict
	default:
		return http.StatusInternalServerError, CodeInternalError
	}
}

// FromCatalogue записывает ответ для ошибки каталога.
// Текст внутренних ошибок не раскрывается клиенту.
func FromCatalogue(w http.ResponseWriter, err error) {
	status, code := Status(err)
	if status == http.StatusInternalServerError {
		InternalError(w, "Внутренняя ошибка сервера")
		return
	}
	if status == http.StatusServiceUnavailable {
		w.Header().Set("Retry-After", "1")
	}
	WriteError(w, status, code, err.Error())
}
