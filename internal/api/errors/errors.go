// Пакет errors — ответы с ошибками в едином формате.
// Формат: {"error": {"code": "...", "message": "..."}}.
// Все HTTP-ответы с ошибками должны использовать WriteError.
package errors //nolint:revive // конфликт имени со stdlib, импортируется как apierrors

import (
	"encoding/json"
	stderrors "errors"
	"net/http"

	"github.com/bigkaa/goartstore/share-module/internal/service"
)

// Коды ошибок.
const (
	CodeValidationError     = "VALIDATION_ERROR"
	CodeNotFound            = "NOT_FOUND"
	CodeBlobMissing         = "BLOB_MISSING"
	CodeUnauthorized        = "UNAUTHORIZED"
	CodeForbidden           = "FORBIDDEN"
	CodeFileTooLarge        = "FILE_TOO_LARGE"
	CodeReconcileInProgress = "RECONCILE_IN_PROGRESS"
	CodeInternalError       = "INTERNAL_ERROR"
)

// MessageNotFoundOrForbidden — сообщение отказа в удалении. Одинаково
// для чужого и отсутствующего файла.
const MessageNotFoundOrForbidden = "not found or not authorized"

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

// FromService преобразует ошибку сервисного слоя в HTTP-ответ.
// Внутренние подробности (пути, ошибки хранилищ) клиенту не отдаются.
func FromService(w http.ResponseWriter, err error) {
	switch {
	case stderrors.Is(err, service.ErrBlobMissing):
		WriteError(w, http.StatusNotFound, CodeBlobMissing, "Содержимое файла недоступно")
	case stderrors.Is(err, service.ErrNotFound):
		NotFound(w, "Файл не найден")
	case stderrors.Is(err, service.ErrForbidden):
		Forbidden(w, MessageNotFoundOrForbidden)
	case stderrors.Is(err, service.ErrTooLarge):
		FileTooLarge(w, err.Error())
	case stderrors.Is(err, service.ErrValidation):
		ValidationError(w, err.Error())
	default:
		InternalError(w, "Внутренняя ошибка сервера")
	}
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

// FileTooLarge — 413 файл превышает лимит.
func FileTooLarge(w http.ResponseWriter, message string) {
	WriteError(w, http.StatusRequestEntityTooLarge, CodeFileTooLarge, message)
}

// ReconcileInProgress — 409 сверка уже выполняется.
func ReconcileInProgress(w http.ResponseWriter, message string) {
	WriteError(w, http.StatusConflict, CodeReconcileInProgress, message)
}

// InternalError — 500 внутренняя ошибка.
func InternalError(w http.ResponseWriter, message string) {
	WriteError(w, http.StatusInternalServerError, CodeInternalError, message)
}
