// admin.go — административные обработчики: все файлы, сводка,
// удаление файлов учётной записи, сверка хранилищ.
// Доступ проверяет middleware.RequireAdmin.
package handlers

import (
	"log/slog"
	"net/http"

	"github.com/go-chi/chi/v5"

	apierrors "github.com/bigkaa/goartstore/share-module/internal/api/errors"
)

// AdminHandler — обработчик /api/v1/admin.
type AdminHandler struct {
	registry   Registry
	stats      StatsProvider
	reconciler Reconciler
	logger     *slog.Logger
}

// NewAdminHandler создаёт административный обработчик.
func NewAdminHandler(registry Registry, stats StatsProvider, reconciler Reconciler, logger *slog.Logger) *AdminHandler {
	return &AdminHandler{
		registry:   registry,
		stats:      stats,
		reconciler: reconciler,
		logger:     logger.With(slog.String("component", "admin_handler")),
	}
}

// adminStatsResponse — сводка для администратора.
type adminStatsResponse struct {
	TotalFiles     int   `json:"total_files"`
	TotalDownloads int64 `json:"total_downloads"`
}

// principalDeleteItem — результат удаления одного файла.
type principalDeleteItem struct {
	ID           string `json:"id"`
	OriginalName string `json:"original_name"`
	Status       string `json:"status"`
	Error        string `json:"error,omitempty"`
}

// principalDeleteResponse — отчёт об удалении файлов учётной записи.
type principalDeleteResponse struct {
	PrincipalID string                `json:"principal_id"`
	Deleted     int                   `json:"deleted"`
	Failed      int                   `json:"failed"`
	Results     []principalDeleteItem `json:"results"`
}

// ListFiles обрабатывает GET /api/v1/admin/files.
func (h *AdminHandler) ListFiles(w http.ResponseWriter, r *http.Request) {
	views, err := h.registry.ListFiles(r.Context(), "")
	if err != nil {
		apierrors.FromService(w, err)
		return
	}
	writeJSON(w, http.StatusOK, toFileList(views, h.registry))
}

// GetStats обрабатывает GET /api/v1/admin/stats.
func (h *AdminHandler) GetStats(w http.ResponseWriter, r *http.Request) {
	st, err := h.stats.Stats(r.Context())
	if err != nil {
		apierrors.FromService(w, err)
		return
	}
	writeJSON(w, http.StatusOK, adminStatsResponse{
		TotalFiles:     st.TotalFiles,
		TotalDownloads: st.TotalDownloads,
	})
}

// DeletePrincipalFiles обрабатывает DELETE /api/v1/admin/principals/{id}/files.
// Ошибки по отдельным файлам возвращаются в отчёте, статус ответа 200.
func (h *AdminHandler) DeletePrincipalFiles(w http.ResponseWriter, r *http.Request) {
	principalID := chi.URLParam(r, "id")

	results, err := h.registry.DeleteFilesForPrincipal(r.Context(), principalID)
	if err != nil {
		apierrors.FromService(w, err)
		return
	}

	resp := principalDeleteResponse{
		PrincipalID: principalID,
		Results:     make([]principalDeleteItem, 0, len(results)),
	}
	for _, res := range results {
		item := principalDeleteItem{ID: res.ID, OriginalName: res.OriginalName, Status: "deleted"}
		if res.Err != nil {
			item.Status = "failed"
			item.Error = "Ошибка удаления файла"
			resp.Failed++
			h.logger.Warn("Файл учётной записи не удалён",
				slog.String("principal", principalID),
				slog.String("file_id", res.ID),
				slog.String("error", res.Err.Error()),
			)
		} else {
			resp.Deleted++
		}
		resp.Results = append(resp.Results, item)
	}

	writeJSON(w, http.StatusOK, resp)
}

// Reconcile обрабатывает POST /api/v1/admin/reconcile.
func (h *AdminHandler) Reconcile(w http.ResponseWriter, r *http.Request) {
	result, skipped := h.reconciler.RunOnce(r.Context())
	if skipped {
		apierrors.ReconcileInProgress(w, "Сверка уже выполняется")
		return
	}
	if result == nil {
		apierrors.InternalError(w, "Сверка не выполнена: хранилище недоступно")
		return
	}
	writeJSON(w, http.StatusOK, result)
}
