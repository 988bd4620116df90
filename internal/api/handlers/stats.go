// stats.go — обработчик статистики реестра.
package handlers

import (
	"log/slog"
	"net/http"

	apierrors "github.com/bigkaa/goartstore/share-module/internal/api/errors"
)

// StatsHandler — обработчик /api/v1/stats.
type StatsHandler struct {
	stats  StatsProvider
	logger *slog.Logger
}

// NewStatsHandler создаёт обработчик статистики.
func NewStatsHandler(stats StatsProvider, logger *slog.Logger) *StatsHandler {
	return &StatsHandler{
		stats:  stats,
		logger: logger.With(slog.String("component", "stats_handler")),
	}
}

// GetStats обрабатывает GET /api/v1/stats.
func (h *StatsHandler) GetStats(w http.ResponseWriter, r *http.Request) {
	st, err := h.stats.Stats(r.Context())
	if err != nil {
		h.logger.Error("Ошибка расчёта статистики", slog.String("error", err.Error()))
		apierrors.FromService(w, err)
		return
	}
	writeJSON(w, http.StatusOK, st)
}
