// files.go — обработчики операций с файлами: загрузка, список, удаление.
package handlers

import (
	"errors"
	"fmt"
	"log/slog"
	"net/http"

	"github.com/go-chi/chi/v5"

	apierrors "github.com/bigkaa/goartstore/share-module/internal/api/errors"
	"github.com/bigkaa/goartstore/share-module/internal/api/middleware"
	"github.com/bigkaa/goartstore/share-module/internal/service"
)

// multipartMemory — объём multipart-формы в памяти, остальное во временных файлах.
const multipartMemory = 32 << 20

// multipartOverhead — запас на заголовки и поля формы сверх MaxFileSize.
const multipartOverhead = 1 << 20

// FilesHandler — обработчик /api/v1/files.
type FilesHandler struct {
	registry    Registry
	maxFileSize int64
	logger      *slog.Logger
}

// NewFilesHandler создаёт обработчик файлов.
func NewFilesHandler(registry Registry, maxFileSize int64, logger *slog.Logger) *FilesHandler {
	return &FilesHandler{
		registry:    registry,
		maxFileSize: maxFileSize,
		logger:      logger.With(slog.String("component", "files_handler")),
	}
}

// UploadFile обрабатывает POST /api/v1/files.
// Multipart form: file (обязательно), category (опционально).
func (h *FilesHandler) UploadFile(w http.ResponseWriter, r *http.Request) {
	principal := middleware.PrincipalFromContext(r.Context())

	if h.maxFileSize > 0 {
		r.Body = http.MaxBytesReader(w, r.Body, h.maxFileSize+multipartOverhead)
	}

	if err := r.ParseMultipartForm(multipartMemory); err != nil {
		var maxErr *http.MaxBytesError
		if errors.As(err, &maxErr) {
			apierrors.FileTooLarge(w, fmt.Sprintf("Размер запроса превышает %d байт", maxErr.Limit))
			return
		}
		apierrors.ValidationError(w, fmt.Sprintf("Ошибка парсинга multipart: %s", err.Error()))
		return
	}
	defer func() { _ = r.MultipartForm.RemoveAll() }()

	file, header, err := r.FormFile("file")
	if err != nil {
		apierrors.ValidationError(w, "Поле 'file' обязательно")
		return
	}
	defer file.Close()

	result, err := h.registry.AddFile(r.Context(), service.AddFileParams{
		Reader:       file,
		OriginalName: header.Filename,
		MimeType:     header.Header.Get("Content-Type"),
		Size:         header.Size,
		Category:     r.FormValue("category"),
		Uploader:     principal,
	})
	if err != nil {
		apierrors.FromService(w, err)
		return
	}

	writeJSON(w, http.StatusCreated, toFileResponse(result.Record.View(), result.ShareURL))
}

// ListFiles обрабатывает GET /api/v1/files — все файлы, новые первыми.
func (h *FilesHandler) ListFiles(w http.ResponseWriter, r *http.Request) {
	h.list(w, r, "")
}

// ListByCategory обрабатывает GET /api/v1/files/category/{category}.
func (h *FilesHandler) ListByCategory(w http.ResponseWriter, r *http.Request) {
	h.list(w, r, chi.URLParam(r, "category"))
}

func (h *FilesHandler) list(w http.ResponseWriter, r *http.Request, category string) {
	views, err := h.registry.ListFiles(r.Context(), category)
	if err != nil {
		h.logger.Error("Ошибка получения списка файлов", slog.String("error", err.Error()))
		apierrors.FromService(w, err)
		return
	}
	writeJSON(w, http.StatusOK, toFileList(views, h.registry))
}

// DeleteFile обрабатывает DELETE /api/v1/files/{id}.
// Удалять может владелец или администратор.
func (h *FilesHandler) DeleteFile(w http.ResponseWriter, r *http.Request) {
	principal := middleware.PrincipalFromContext(r.Context())

	if err := h.registry.DeleteFile(r.Context(), chi.URLParam(r, "id"), principal); err != nil {
		apierrors.FromService(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}
