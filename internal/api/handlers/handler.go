// Пакет handlers — HTTP-обработчики Share Module.
// handler.go — контракты сервисного слоя и общие вспомогательные функции.
// Обработчики тонкие: разбор запроса, вызов сервиса, сериализация ответа.
package handlers

import (
	"context"
	"encoding/json"
	"net/http"
	"time"

	"github.com/bigkaa/goartstore/share-module/internal/domain/model"
	"github.com/bigkaa/goartstore/share-module/internal/realtime"
	"github.com/bigkaa/goartstore/share-module/internal/service"
)

// Registry — операции реестра файлов, используемые обработчиками.
type Registry interface {
	AddFile(ctx context.Context, params service.AddFileParams) (*service.AddFileResult, error)
	ListFiles(ctx context.Context, category string) ([]model.FileView, error)
	DeleteFile(ctx context.Context, id string, principal model.Principal) error
	OpenDownload(ctx context.Context, shareLink string) (*service.Download, error)
	CountDownload(ctx context.Context, shareLink string) (int64, error)
	GetInfo(ctx context.Context, shareLink string) (*model.FileView, error)
	DeleteFilesForPrincipal(ctx context.Context, principalID string) ([]service.DeleteResult, error)
	ShareURL(shareLink string) string
}

// StatsProvider — источник снимков статистики.
type StatsProvider interface {
	Stats(ctx context.Context) (*service.Stats, error)
}

// Reconciler — сверка содержимого и метаданных по запросу.
type Reconciler interface {
	RunOnce(ctx context.Context) (*service.ReconcileResult, bool)
}

// EventSource — шина realtime-событий.
type EventSource interface {
	Subscribe() *realtime.Subscription
}

// fileResponse — файл в ответах API.
type fileResponse struct {
	ID           string    `json:"id"`
	ShareLink    string    `json:"share_link"`
	ShareURL     string    `json:"share_url"`
	OriginalName string    `json:"original_name"`
	Size         int64     `json:"size"`
	MimeType     string    `json:"mime_type"`
	Category     string    `json:"category"`
	UploaderID   *string   `json:"uploader_id,omitempty"`
	UploaderName string    `json:"uploader_name"`
	CreatedAt    time.Time `json:"created_at"`
	Downloads    int64     `json:"downloads"`
}

// fileListResponse — список файлов.
type fileListResponse struct {
	Files []fileResponse `json:"files"`
	Total int            `json:"total"`
}

func toFileResponse(v model.FileView, shareURL string) fileResponse {
	return fileResponse{
		ID:           v.ID,
		ShareLink:    v.ShareLink,
		ShareURL:     shareURL,
		OriginalName: v.OriginalName,
		Size:         v.Size,
		MimeType:     v.MimeType,
		Category:     v.Category,
		UploaderID:   v.UploaderID,
		UploaderName: v.UploaderName,
		CreatedAt:    v.UploadedAt,
		Downloads:    v.Downloads,
	}
}

func toFileList(views []model.FileView, reg Registry) fileListResponse {
	resp := fileListResponse{Files: make([]fileResponse, 0, len(views)), Total: len(views)}
	for _, v := range views {
		resp.Files = append(resp.Files, toFileResponse(v, reg.ShareURL(v.ShareLink)))
	}
	return resp
}

// writeJSON записывает JSON-ответ с указанным статусом.
func writeJSON(w http.ResponseWriter, statusCode int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(statusCode)
	_ = json.NewEncoder(w).Encode(data)
}
