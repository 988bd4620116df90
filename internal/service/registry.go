// Пакет service — бизнес-логика Share Module.
// registry.go — реестр файлов: загрузка, список, удаление, скачивание.
//
// Реестр — единственный, кто меняет оба хранилища (содержимое и метаданные).
// Порядок шагов выбран так, чтобы метаданные никогда не ссылались
// на несуществующее содержимое:
//   - загрузка: WAL pending → содержимое → метаданные → WAL committed
//   - удаление: WAL pending → содержимое → метаданные → WAL committed
//
// Падение процесса между шагами оставляет запись pending, которую
// разбирает Recover при следующем старте.
package service

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"path/filepath"
	"sort"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/dustin/go-humanize"
	"github.com/gabriel-vasile/mimetype"
	"github.com/google/uuid"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"

	"github.com/bigkaa/goartstore/share-module/internal/domain/model"
	"github.com/bigkaa/goartstore/share-module/internal/storage/blob"
	"github.com/bigkaa/goartstore/share-module/internal/storage/metastore"
	"github.com/bigkaa/goartstore/share-module/internal/storage/wal"
)

// Prometheus метрики реестра
var (
	// operationsTotal — количество операций реестра по типу и результату.
	operationsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "sm_operations_total",
		Help: "Общее количество операций реестра файлов",
	}, []string{"operation", "result"})

	// filesTotal — количество живых файлов.
	filesTotal = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "sm_files_total",
		Help: "Количество файлов в реестре",
	})

	// uploadBytesTotal — объём загруженных данных.
	uploadBytesTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "sm_upload_bytes_total",
		Help: "Общий объём загруженных данных в байтах",
	})
)

// Операции реестра (значения метки operation).
const (
	opAdd      = "add"
	opDelete   = "delete"
	opDownload = "download"
)

// sniffLen — сколько первых байт читается для определения MIME-типа.
const sniffLen = 3072

// LinkGenerator — источник токенов публичных ссылок.
type LinkGenerator interface {
	Generate() (string, error)
}

// Publisher — получатель событий реестра (realtime-шина).
type Publisher interface {
	Publish(ev model.Event)
}

// RegistryConfig — параметры реестра.
type RegistryConfig struct {
	// PublicURL — базовый URL для полных ссылок (без завершающего /)
	PublicURL string
	// MaxFileSize — максимальный размер загружаемого файла
	MaxFileSize int64
	// LinkRetries — число попыток при коллизии токена ссылки
	LinkRetries int
}

// AddFileParams — параметры загрузки файла.
type AddFileParams struct {
	// Reader — поток содержимого
	Reader io.Reader
	// OriginalName — имя файла от клиента
	OriginalName string
	// MimeType — тип от клиента; пустой или application/octet-stream
	// определяется по содержимому
	MimeType string
	// Size — заявленный размер; 0, если неизвестен
	Size int64
	// Category — категория; пустая → model.DefaultCategory
	Category string
	// Uploader — кто загружает
	Uploader model.Principal
}

// AddFileResult — результат загрузки.
type AddFileResult struct {
	Record *model.FileRecord
	// ShareURL — полный URL публичной ссылки
	ShareURL string
}

// Download — открытое для отдачи содержимое файла.
// Вызывающий обязан закрыть Body.
type Download struct {
	Body         io.ReadCloser
	Size         int64
	ModTime      time.Time
	StoredName   string
	OriginalName string
	MimeType     string
	Downloads    int64
}

// DeleteResult — результат удаления одного файла в пакетной операции.
type DeleteResult struct {
	ID           string
	OriginalName string
	Err          error
}

// RegistryService — реестр файлов.
type RegistryService struct {
	meta    metastore.Store
	blobs   blob.Store
	journal *wal.WAL
	links   LinkGenerator
	events  Publisher
	cfg     RegistryConfig
	logger  *slog.Logger

	// commitMu упорядочивает фиксацию метаданных и публикацию событий:
	// зрители видят события в порядке фиксации изменений.
	commitMu sync.Mutex
	version  atomic.Uint64

	newID func() string
	now   func() time.Time
}

// NewRegistryService создаёт реестр файлов.
func NewRegistryService(
	meta metastore.Store,
	blobs blob.Store,
	journal *wal.WAL,
	links LinkGenerator,
	events Publisher,
	cfg RegistryConfig,
	logger *slog.Logger,
) *RegistryService {
	if cfg.LinkRetries <= 0 {
		cfg.LinkRetries = 1
	}
	cfg.PublicURL = strings.TrimRight(cfg.PublicURL, "/")
	return &RegistryService{
		meta:    meta,
		blobs:   blobs,
		journal: journal,
		links:   links,
		events:  events,
		cfg:     cfg,
		logger:  logger.With(slog.String("component", "registry")),
		newID:   func() string { return uuid.New().String() },
		now:     func() time.Time { return time.Now().UTC() },
	}
}

// Version возвращает счётчик изменений реестра. Увеличивается
// при каждой загрузке, удалении и скачивании.
func (s *RegistryService) Version() uint64 {
	return s.version.Load()
}

// ShareURL формирует полный URL публичной ссылки.
func (s *RegistryService) ShareURL(shareLink string) string {
	return s.cfg.PublicURL + "/share/" + shareLink
}

// AddFile загружает файл: содержимое, затем метаданные.
//
// Поток:
//  1. Валидация имени и размера
//  2. Определение MIME-типа (если не передан)
//  3. WAL Begin(file_add)
//  4. blob.Save под именем {id}{ext}
//  5. metastore.Put (повтор с новым токеном при ErrConflict)
//  6. WAL Commit, событие added
//
// При ошибке шага 5 содержимое удаляется (компенсация) и WAL откатывается.
func (s *RegistryService) AddFile(ctx context.Context, params AddFileParams) (*AddFileResult, error) {
	result, err := s.addFile(ctx, params)
	if err != nil {
		operationsTotal.WithLabelValues(opAdd, "error").Inc()
		return nil, err
	}
	operationsTotal.WithLabelValues(opAdd, "ok").Inc()
	return result, nil
}

func (s *RegistryService) addFile(ctx context.Context, params AddFileParams) (*AddFileResult, error) {
	originalName := strings.TrimSpace(filepath.Base(strings.ReplaceAll(params.OriginalName, `\`, "/")))
	if originalName == "" || originalName == "." || originalName == "/" {
		return nil, fmt.Errorf("%w: не указано имя файла", ErrValidation)
	}
	if params.Reader == nil {
		return nil, fmt.Errorf("%w: нет содержимого файла", ErrValidation)
	}
	if params.Size < 0 {
		return nil, fmt.Errorf("%w: отрицательный размер", ErrValidation)
	}
	if s.cfg.MaxFileSize > 0 && params.Size > s.cfg.MaxFileSize {
		return nil, fmt.Errorf("%w: %s > %s", ErrTooLarge,
			humanize.IBytes(uint64(params.Size)), humanize.IBytes(uint64(s.cfg.MaxFileSize)))
	}

	category := strings.TrimSpace(params.Category)
	if category == "" {
		category = model.DefaultCategory
	}

	reader := params.Reader
	mimeType := strings.TrimSpace(params.MimeType)
	if mimeType == "" || mimeType == "application/octet-stream" {
		var err error
		mimeType, reader, err = sniffMime(reader)
		if err != nil {
			return nil, fmt.Errorf("%w: чтение содержимого: %w", ErrIO, err)
		}
	}
	if s.cfg.MaxFileSize > 0 {
		// +1 байт, чтобы отличить «ровно лимит» от «больше лимита»
		reader = io.LimitReader(reader, s.cfg.MaxFileSize+1)
	}

	id := s.newID()
	storedName := model.StoredNameFor(id, originalName)

	entry, err := s.journal.Begin(wal.OpFileAdd, wal.Target{FileID: id, StoredName: storedName})
	if err != nil {
		s.logger.Error("Ошибка создания записи журнала", slog.String("error", err.Error()))
		return nil, fmt.Errorf("%w: %w", ErrIO, err)
	}

	saved, err := s.blobs.Save(ctx, storedName, reader)
	if err != nil {
		s.rollbackJournal(entry.TransactionID)
		s.logger.Warn("Ошибка записи содержимого",
			slog.String("file_id", id),
			slog.String("stored_name", storedName),
			slog.String("error", err.Error()),
		)
		return nil, fmt.Errorf("%w: запись содержимого: %w", ErrIO, err)
	}

	// Проверки полноты загрузки после записи: объект удаляется
	if s.cfg.MaxFileSize > 0 && saved.Size > s.cfg.MaxFileSize {
		if cErr := s.compensateAdd(entry.TransactionID, id, storedName); cErr != nil {
			return nil, fmt.Errorf("%w: файл больше лимита; компенсация: %w", ErrIO, cErr)
		}
		return nil, fmt.Errorf("%w: больше %s", ErrTooLarge, humanize.IBytes(uint64(s.cfg.MaxFileSize)))
	}
	if params.Size > 0 && saved.Size != params.Size {
		if cErr := s.compensateAdd(entry.TransactionID, id, storedName); cErr != nil {
			return nil, fmt.Errorf("%w: неполная загрузка; компенсация: %w", ErrIO, cErr)
		}
		return nil, fmt.Errorf("%w: получено %d байт из %d заявленных", ErrValidation, saved.Size, params.Size)
	}

	rec := &model.FileRecord{
		ID:           id,
		OriginalName: originalName,
		StoredName:   storedName,
		Size:         saved.Size,
		MimeType:     mimeType,
		Category:     category,
		UploaderName: params.Uploader.DisplayName(),
		UploadedAt:   s.now(),
	}
	if !params.Uploader.IsAnonymous() {
		uploaderID := params.Uploader.ID
		rec.UploaderID = &uploaderID
	}

	s.commitMu.Lock()
	err = s.putWithFreshLink(ctx, rec)
	if err != nil {
		s.commitMu.Unlock()
		s.logger.Error("Ошибка записи метаданных",
			slog.String("file_id", id),
			slog.String("stored_name", storedName),
			slog.String("error", err.Error()),
		)
		if cErr := s.compensateAdd(entry.TransactionID, id, storedName); cErr != nil {
			return nil, fmt.Errorf("%w: запись метаданных: %w; компенсация: %w", ErrIO, err, cErr)
		}
		return nil, fmt.Errorf("%w: запись метаданных: %w", ErrIO, err)
	}
	s.version.Add(1)
	filesTotal.Inc()
	view := rec.View()
	s.events.Publish(model.Event{Type: model.EventAdded, ID: rec.ID, Record: &view})
	s.commitMu.Unlock()

	if err := s.journal.Commit(entry.TransactionID); err != nil {
		// Метаданные зафиксированы: Recover закроет запись как committed
		s.logger.Warn("Ошибка фиксации записи журнала",
			slog.String("tx_id", entry.TransactionID),
			slog.String("error", err.Error()),
		)
	}

	uploadBytesTotal.Add(float64(rec.Size))
	s.logger.Info("Файл загружен",
		slog.String("file_id", rec.ID),
		slog.String("share_link", rec.ShareLink),
		slog.String("original_name", rec.OriginalName),
		slog.String("size", humanize.IBytes(uint64(rec.Size))),
		slog.String("category", rec.Category),
		slog.String("uploader", rec.UploaderName),
	)

	return &AddFileResult{Record: rec, ShareURL: s.ShareURL(rec.ShareLink)}, nil
}

// putWithFreshLink вставляет запись, генерируя новый токен при коллизии.
// После LinkRetries неудачных попыток возвращает ошибку.
func (s *RegistryService) putWithFreshLink(ctx context.Context, rec *model.FileRecord) error {
	var lastErr error
	for attempt := 1; attempt <= s.cfg.LinkRetries; attempt++ {
		link, err := s.links.Generate()
		if err != nil {
			return fmt.Errorf("генерация ссылки: %w", err)
		}
		rec.ShareLink = link

		err = s.meta.Put(ctx, rec)
		if err == nil {
			return nil
		}
		if !errors.Is(err, metastore.ErrConflict) {
			return err
		}
		lastErr = err
		s.logger.Warn("Коллизия токена ссылки, повтор",
			slog.String("file_id", rec.ID),
			slog.Int("attempt", attempt),
		)
	}
	rec.ShareLink = ""
	return fmt.Errorf("исчерпаны попытки генерации ссылки (%d): %w", s.cfg.LinkRetries, lastErr)
}

// compensateAdd удаляет записанное содержимое после неудачной загрузки.
// Если удалить не удалось, запись журнала остаётся pending —
// Recover повторит удаление при следующем старте.
func (s *RegistryService) compensateAdd(txID, fileID, storedName string) error {
	// Компенсация выполняется даже при отменённом запросе
	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	if err := s.blobs.Delete(ctx, storedName); err != nil && !errors.Is(err, blob.ErrNotFound) {
		s.logger.Error("Не удалось удалить содержимое при компенсации, требуется ручная сверка",
			slog.String("tx_id", txID),
			slog.String("file_id", fileID),
			slog.String("stored_name", storedName),
			slog.String("error", err.Error()),
		)
		return err
	}
	s.rollbackJournal(txID)
	return nil
}

func (s *RegistryService) rollbackJournal(txID string) {
	if err := s.journal.Rollback(txID); err != nil {
		s.logger.Error("Ошибка отката записи журнала",
			slog.String("tx_id", txID),
			slog.String("error", err.Error()),
		)
	}
}

// sniffMime определяет MIME-тип по первым байтам и возвращает
// reader, который отдаёт содержимое целиком, включая прочитанные байты.
func sniffMime(r io.Reader) (string, io.Reader, error) {
	head := make([]byte, sniffLen)
	n, err := io.ReadFull(r, head)
	if err != nil && !errors.Is(err, io.EOF) && !errors.Is(err, io.ErrUnexpectedEOF) {
		return "", nil, err
	}
	head = head[:n]
	return mimetype.Detect(head).String(), io.MultiReader(bytes.NewReader(head), r), nil
}

// ListFiles возвращает файлы (все или одной категории),
// отсортированные по времени загрузки, новые первыми.
func (s *RegistryService) ListFiles(ctx context.Context, category string) ([]model.FileView, error) {
	var (
		records []*model.FileRecord
		err     error
	)
	category = strings.TrimSpace(category)
	if category == "" {
		records, err = s.meta.ListAll(ctx)
	} else {
		records, err = s.meta.ListByCategory(ctx, category)
	}
	if err != nil {
		return nil, fmt.Errorf("%w: чтение списка файлов: %w", ErrIO, err)
	}

	SortNewestFirst(records)

	views := make([]model.FileView, 0, len(records))
	for _, rec := range records {
		views = append(views, rec.View())
	}
	return views, nil
}

// Records возвращает все живые записи (для статистики и сверки).
func (s *RegistryService) Records(ctx context.Context) ([]*model.FileRecord, error) {
	records, err := s.meta.ListAll(ctx)
	if err != nil {
		return nil, fmt.Errorf("%w: чтение списка файлов: %w", ErrIO, err)
	}
	return records, nil
}

// SortNewestFirst сортирует записи по времени загрузки по убыванию.
// При равном времени порядок определяется id.
func SortNewestFirst(records []*model.FileRecord) {
	sort.SliceStable(records, func(i, j int) bool {
		if !records[i].UploadedAt.Equal(records[j].UploadedAt) {
			return records[i].UploadedAt.After(records[j].UploadedAt)
		}
		return records[i].ID < records[j].ID
	})
}

// GetInfo возвращает сведения о файле по токену ссылки
// без увеличения счётчика скачиваний.
func (s *RegistryService) GetInfo(ctx context.Context, shareLink string) (*model.FileView, error) {
	rec, err := s.meta.GetByShareLink(ctx, shareLink)
	if err != nil {
		if errors.Is(err, metastore.ErrNotFound) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("%w: %w", ErrIO, err)
	}
	view := rec.View()
	return &view, nil
}

// DeleteFile удаляет файл по id. Разрешено владельцу и администратору.
// Не-администратору отсутствие файла и чужой файл неразличимы (ErrForbidden).
func (s *RegistryService) DeleteFile(ctx context.Context, id string, principal model.Principal) error {
	rec, err := s.meta.GetByID(ctx, id)
	if err != nil {
		if errors.Is(err, metastore.ErrNotFound) {
			operationsTotal.WithLabelValues(opDelete, "not_found").Inc()
			if principal.IsAdmin {
				return ErrNotFound
			}
			return ErrForbidden
		}
		operationsTotal.WithLabelValues(opDelete, "error").Inc()
		return fmt.Errorf("%w: %w", ErrIO, err)
	}

	if !principal.IsAdmin && !rec.IsOwnedBy(principal.ID) {
		operationsTotal.WithLabelValues(opDelete, "forbidden").Inc()
		s.logger.Warn("Отказ в удалении файла",
			slog.String("file_id", rec.ID),
			slog.String("principal", principal.ID),
		)
		return ErrForbidden
	}

	if err := s.removeRecord(ctx, rec); err != nil {
		operationsTotal.WithLabelValues(opDelete, "error").Inc()
		return err
	}
	operationsTotal.WithLabelValues(opDelete, "ok").Inc()
	s.logger.Info("Файл удалён",
		slog.String("file_id", rec.ID),
		slog.String("original_name", rec.OriginalName),
		slog.String("principal", principal.ID),
		slog.Bool("admin", principal.IsAdmin),
	)
	return nil
}

// DeleteFilesForPrincipal удаляет все файлы указанного загрузившего
// (удаление учётной записи). Проверка владельца не выполняется —
// вызывается только администратором. Каждый файл удаляется независимо,
// ошибки возвращаются по каждому файлу отдельно.
func (s *RegistryService) DeleteFilesForPrincipal(ctx context.Context, principalID string) ([]DeleteResult, error) {
	principalID = strings.TrimSpace(principalID)
	if principalID == "" {
		return nil, fmt.Errorf("%w: не указан principal", ErrValidation)
	}

	records, err := s.meta.ListByUploader(ctx, principalID)
	if err != nil {
		return nil, fmt.Errorf("%w: чтение файлов principal: %w", ErrIO, err)
	}

	results := make([]DeleteResult, 0, len(records))
	failed := 0
	for _, rec := range records {
		err := s.removeRecord(ctx, rec)
		if err != nil {
			failed++
			operationsTotal.WithLabelValues(opDelete, "error").Inc()
		} else {
			operationsTotal.WithLabelValues(opDelete, "ok").Inc()
		}
		results = append(results, DeleteResult{ID: rec.ID, OriginalName: rec.OriginalName, Err: err})
	}

	s.logger.Info("Удалены файлы principal",
		slog.String("principal", principalID),
		slog.Int("total", len(records)),
		slog.Int("failed", failed),
	)
	return results, nil
}

// removeRecord удаляет содержимое, затем метаданные.
// Отсутствующее содержимое считается уже удалённым (логируется).
func (s *RegistryService) removeRecord(ctx context.Context, rec *model.FileRecord) error {
	entry, err := s.journal.Begin(wal.OpFileDelete, wal.Target{
		FileID:     rec.ID,
		StoredName: rec.StoredName,
		ShareLink:  rec.ShareLink,
	})
	if err != nil {
		return fmt.Errorf("%w: %w", ErrIO, err)
	}

	if err := s.blobs.Delete(ctx, rec.StoredName); err != nil {
		if !errors.Is(err, blob.ErrNotFound) {
			s.rollbackJournal(entry.TransactionID)
			return fmt.Errorf("%w: удаление содержимого: %w", ErrIO, err)
		}
		s.logger.Warn("Содержимое файла уже отсутствует, удаляются только метаданные",
			slog.String("file_id", rec.ID),
			slog.String("stored_name", rec.StoredName),
		)
	}

	s.commitMu.Lock()
	err = s.meta.Remove(ctx, rec.ID)
	switch {
	case err == nil:
		s.version.Add(1)
		filesTotal.Dec()
		s.events.Publish(model.Event{Type: model.EventDeleted, ID: rec.ID})
	case errors.Is(err, metastore.ErrNotFound):
		// Параллельное удаление успело раньше: событие уже отправлено
	default:
		s.commitMu.Unlock()
		// Содержимое удалено, метаданные нет: запись журнала остаётся
		// pending, Recover завершит удаление метаданных
		s.logger.Error("Ошибка удаления метаданных после удаления содержимого",
			slog.String("tx_id", entry.TransactionID),
			slog.String("file_id", rec.ID),
			slog.String("stored_name", rec.StoredName),
			slog.String("error", err.Error()),
		)
		return fmt.Errorf("%w: удаление метаданных: %w", ErrIO, err)
	}
	s.commitMu.Unlock()

	if err := s.journal.Commit(entry.TransactionID); err != nil {
		s.logger.Warn("Ошибка фиксации записи журнала",
			slog.String("tx_id", entry.TransactionID),
			slog.String("error", err.Error()),
		)
	}
	return nil
}

// RecordDownload находит файл по токену, открывает содержимое
// и увеличивает счётчик скачиваний ровно на 1.
//
// Ошибки:
//   - ErrNotFound — нет записи
//   - ErrBlobMissing — запись есть, содержимого нет
func (s *RegistryService) RecordDownload(ctx context.Context, shareLink string) (*Download, error) {
	dl, err := s.OpenDownload(ctx, shareLink)
	if err != nil {
		return nil, err
	}

	downloads, err := s.CountDownload(ctx, shareLink)
	if err != nil {
		dl.Body.Close()
		return nil, err
	}
	dl.Downloads = downloads
	return dl, nil
}

// OpenDownload находит файл по токену и открывает содержимое,
// не меняя счётчик. Downloads в результате — значение до скачивания.
// Используется HTTP-слоем: счётчик увеличивается через CountDownload,
// только когда ответ действительно отдаёт файл.
func (s *RegistryService) OpenDownload(ctx context.Context, shareLink string) (*Download, error) {
	dl, err := s.openDownload(ctx, shareLink)
	if err != nil {
		observeDownload(err)
		return nil, err
	}
	return dl, nil
}

// CountDownload увеличивает счётчик скачиваний файла на 1
// и возвращает новое значение.
func (s *RegistryService) CountDownload(ctx context.Context, shareLink string) (int64, error) {
	downloads, err := s.meta.IncrementDownload(ctx, shareLink)
	if err != nil {
		if errors.Is(err, metastore.ErrNotFound) {
			// Файл удалён между открытием и увеличением счётчика
			err = ErrNotFound
		} else {
			err = fmt.Errorf("%w: счётчик скачиваний: %w", ErrIO, err)
		}
		observeDownload(err)
		return 0, err
	}
	s.version.Add(1)
	observeDownload(nil)

	s.logger.Debug("Скачивание файла",
		slog.String("share_link", shareLink),
		slog.Int64("downloads", downloads),
	)
	return downloads, nil
}

func observeDownload(err error) {
	switch {
	case err == nil:
		operationsTotal.WithLabelValues(opDownload, "ok").Inc()
	case errors.Is(err, ErrBlobMissing):
		operationsTotal.WithLabelValues(opDownload, "blob_missing").Inc()
	case errors.Is(err, ErrNotFound):
		operationsTotal.WithLabelValues(opDownload, "not_found").Inc()
	default:
		operationsTotal.WithLabelValues(opDownload, "error").Inc()
	}
}

func (s *RegistryService) openDownload(ctx context.Context, shareLink string) (*Download, error) {
	rec, err := s.meta.GetByShareLink(ctx, shareLink)
	if err != nil {
		if errors.Is(err, metastore.ErrNotFound) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("%w: %w", ErrIO, err)
	}

	obj, err := s.blobs.Open(ctx, rec.StoredName)
	if err != nil {
		if errors.Is(err, blob.ErrNotFound) {
			s.logger.Error("Рассогласование: запись есть, содержимого нет",
				slog.String("file_id", rec.ID),
				slog.String("share_link", rec.ShareLink),
				slog.String("stored_name", rec.StoredName),
			)
			return nil, ErrBlobMissing
		}
		return nil, fmt.Errorf("%w: открытие содержимого: %w", ErrIO, err)
	}

	return &Download{
		Body:         obj.Body,
		Size:         obj.Size,
		ModTime:      obj.ModTime,
		StoredName:   rec.StoredName,
		OriginalName: rec.OriginalName,
		MimeType:     rec.MimeType,
		Downloads:    rec.Downloads,
	}, nil
}

// Recover разбирает незавершённые записи журнала после рестарта
// и инициализирует метрику количества файлов.
//
//   - file_add без метаданных: содержимое удаляется, запись rolled_back
//   - file_add с метаданными: запись committed
//   - file_delete: удаление содержимого и метаданных довершается, committed
//
// Возвращает число разобранных записей.
func (s *RegistryService) Recover(ctx context.Context) (int, error) {
	pending, err := s.journal.Pending()
	if err != nil {
		return 0, fmt.Errorf("чтение журнала: %w", err)
	}

	recovered := 0
	for _, entry := range pending {
		log := s.logger.With(
			slog.String("tx_id", entry.TransactionID),
			slog.String("operation", string(entry.Operation)),
			slog.String("file_id", entry.Target.FileID),
			slog.String("stored_name", entry.Target.StoredName),
		)

		switch entry.Operation {
		case wal.OpFileAdd:
			_, getErr := s.meta.GetByID(ctx, entry.Target.FileID)
			switch {
			case getErr == nil:
				err = s.journal.Commit(entry.TransactionID)
				log.Info("Восстановление: загрузка была зафиксирована")
			case errors.Is(getErr, metastore.ErrNotFound):
				if delErr := s.blobs.Delete(ctx, entry.Target.StoredName); delErr != nil && !errors.Is(delErr, blob.ErrNotFound) {
					log.Error("Восстановление: не удалось удалить осиротевшее содержимое",
						slog.String("error", delErr.Error()))
					continue
				}
				err = s.journal.Rollback(entry.TransactionID)
				log.Info("Восстановление: незавершённая загрузка отменена")
			default:
				log.Error("Восстановление: ошибка чтения метаданных", slog.String("error", getErr.Error()))
				continue
			}

		case wal.OpFileDelete:
			if delErr := s.blobs.Delete(ctx, entry.Target.StoredName); delErr != nil && !errors.Is(delErr, blob.ErrNotFound) {
				log.Error("Восстановление: не удалось удалить содержимое",
					slog.String("error", delErr.Error()))
				continue
			}
			if rmErr := s.meta.Remove(ctx, entry.Target.FileID); rmErr != nil && !errors.Is(rmErr, metastore.ErrNotFound) {
				log.Error("Восстановление: не удалось удалить метаданные",
					slog.String("error", rmErr.Error()))
				continue
			}
			err = s.journal.Commit(entry.TransactionID)
			log.Info("Восстановление: удаление довершено")

		default:
			log.Warn("Восстановление: неизвестная операция журнала")
			continue
		}

		if err != nil {
			log.Error("Восстановление: ошибка завершения записи журнала", slog.String("error", err.Error()))
			continue
		}
		recovered++
	}

	if _, err := s.journal.Prune(); err != nil {
		s.logger.Warn("Ошибка очистки журнала", slog.String("error", err.Error()))
	}

	records, err := s.meta.ListAll(ctx)
	if err != nil {
		return recovered, fmt.Errorf("чтение списка файлов: %w", err)
	}
	filesTotal.Set(float64(len(records)))
	s.version.Add(1)

	if len(pending) > 0 {
		s.logger.Info("Восстановление журнала завершено",
			slog.Int("pending", len(pending)),
			slog.Int("recovered", recovered),
		)
	}
	return recovered, nil
}
