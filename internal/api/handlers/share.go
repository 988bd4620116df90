// share.go — публичные обработчики по токену ссылки: скачивание и сведения.
// Аутентификация не требуется: владение токеном и есть доступ.
package handlers

import (
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"

	apierrors "github.com/bigkaa/goartstore/share-module/internal/api/errors"
	"github.com/bigkaa/goartstore/share-module/internal/domain/sharelink"
)

// ShareHandler — обработчик /share/{shareLink} и /info/{shareLink}.
type ShareHandler struct {
	registry Registry
	logger   *slog.Logger
}

// NewShareHandler создаёт обработчик публичных ссылок.
func NewShareHandler(registry Registry, logger *slog.Logger) *ShareHandler {
	return &ShareHandler{
		registry: registry,
		logger:   logger.With(slog.String("component", "share_handler")),
	}
}

// infoResponse — сведения о файле без скачивания.
type infoResponse struct {
	OriginalName string    `json:"original_name"`
	Size         int64     `json:"size"`
	MimeType     string    `json:"mime_type"`
	Category     string    `json:"category"`
	CreatedAt    time.Time `json:"created_at"`
	Downloads    int64     `json:"downloads"`
}

// Download обрабатывает GET /share/{shareLink}.
// Поддерживает Range requests и условные запросы, если хранилище отдаёт
// seekable поток. Счётчик скачиваний увеличивается при отправке заголовков
// ответа и только для полной отдачи (200) или первого диапазона (206 с
// началом в 0). 304, 412, 416 и последующие диапазоны не считаются.
func (h *ShareHandler) Download(w http.ResponseWriter, r *http.Request) {
	link := chi.URLParam(r, "shareLink")
	if !sharelink.IsValid(link) {
		apierrors.NotFound(w, "Файл не найден")
		return
	}

	dl, err := h.registry.OpenDownload(r.Context(), link)
	if err != nil {
		apierrors.FromService(w, err)
		return
	}
	defer dl.Body.Close()

	mimeType := dl.MimeType
	if mimeType == "" {
		mimeType = "application/octet-stream"
	}
	w.Header().Set("Content-Type", mimeType)
	w.Header().Set("Content-Disposition", contentDisposition(dl.OriginalName))
	w.Header().Set("X-Content-Type-Options", "nosniff")

	cw := &countingWriter{
		ResponseWriter: w,
		countable:      func(status int) bool { return countsAsDownload(r, status) },
		count: func() error {
			_, err := h.registry.CountDownload(r.Context(), link)
			return err
		},
	}

	if rs, ok := dl.Body.(io.ReadSeeker); ok {
		http.ServeContent(cw, r, dl.OriginalName, dl.ModTime, rs)
		return
	}

	if dl.Size >= 0 {
		w.Header().Set("Content-Length", strconv.FormatInt(dl.Size, 10))
	}
	cw.WriteHeader(http.StatusOK)
	if _, err := io.Copy(cw, dl.Body); err != nil && !errors.Is(err, errDownloadAborted) {
		h.logger.Warn("Отдача файла прервана",
			slog.String("stored_name", dl.StoredName),
			slog.String("error", err.Error()),
		)
	}
}

// countsAsDownload — считается ли ответ со статусом status скачиванием.
func countsAsDownload(r *http.Request, status int) bool {
	if r.Method != http.MethodGet {
		return false
	}
	switch status {
	case http.StatusOK:
		return true
	case http.StatusPartialContent:
		spec, ok := strings.CutPrefix(strings.TrimSpace(r.Header.Get("Range")), "bytes=")
		return ok && strings.HasPrefix(strings.TrimSpace(spec), "0-")
	default:
		return false
	}
}

// errDownloadAborted — тело ответа отброшено: счётчик не удалось увеличить
// и вместо файла клиенту отправлена ошибка.
var errDownloadAborted = errors.New("отдача файла отменена")

// countingWriter увеличивает счётчик скачиваний перед отправкой заголовков
// ответа. Если увеличить не удалось, вместо файла отправляется ошибка,
// тело файла отбрасывается.
type countingWriter struct {
	http.ResponseWriter
	countable   func(status int) bool
	count       func() error
	wroteHeader bool
	aborted     bool
}

func (cw *countingWriter) WriteHeader(status int) {
	if cw.wroteHeader {
		return
	}
	cw.wroteHeader = true

	if cw.countable(status) {
		if err := cw.count(); err != nil {
			cw.aborted = true
			header := cw.Header()
			for _, key := range []string{"Content-Length", "Content-Range", "Content-Disposition",
				"Content-Encoding", "Last-Modified", "Accept-Ranges", "X-Content-Type-Options"} {
				header.Del(key)
			}
			apierrors.FromService(cw.ResponseWriter, err)
			return
		}
	}
	cw.ResponseWriter.WriteHeader(status)
}

func (cw *countingWriter) Write(b []byte) (int, error) {
	if !cw.wroteHeader {
		cw.WriteHeader(http.StatusOK)
	}
	if cw.aborted {
		return 0, errDownloadAborted
	}
	return cw.ResponseWriter.Write(b)
}

// Unwrap — для http.ResponseController.
func (cw *countingWriter) Unwrap() http.ResponseWriter {
	return cw.ResponseWriter
}

// Info обрабатывает GET /info/{shareLink}. Счётчик не меняется.
func (h *ShareHandler) Info(w http.ResponseWriter, r *http.Request) {
	link := chi.URLParam(r, "shareLink")
	if !sharelink.IsValid(link) {
		apierrors.NotFound(w, "Файл не найден")
		return
	}

	view, err := h.registry.GetInfo(r.Context(), link)
	if err != nil {
		apierrors.FromService(w, err)
		return
	}

	writeJSON(w, http.StatusOK, infoResponse{
		OriginalName: view.OriginalName,
		Size:         view.Size,
		MimeType:     view.MimeType,
		Category:     view.Category,
		CreatedAt:    view.UploadedAt,
		Downloads:    view.Downloads,
	})
}

// contentDisposition формирует заголовок attachment с именем файла.
// ASCII-имя идёт в filename="...", не-ASCII дополнительно в filename*
// (RFC 6266), кавычки и управляющие символы вырезаются.
func contentDisposition(name string) string {
	var ascii strings.Builder
	nonASCII := false
	for _, r := range name {
		switch {
		case r == '"' || r == '\\' || r < 0x20 || r == 0x7f:
			ascii.WriteRune('_')
		case r > 0x7e:
			nonASCII = true
			ascii.WriteRune('_')
		default:
			ascii.WriteRune(r)
		}
	}

	header := fmt.Sprintf("attachment; filename=%q", ascii.String())
	if nonASCII {
		header += "; filename*=UTF-8''" + url.PathEscape(name)
	}
	return header
}
