// reconcile.go — сервис фоновой сверки (Reconciliation) содержимого и метаданных.
//
// Reconciliation сравнивает живые записи метаданных со списком объектов
// хранилища содержимого и обнаруживает проблемы:
//   - missing_blob: запись есть, содержимого нет
//   - orphaned_blob: содержимое без записи
//
// Проблемы только логируются и учитываются в метриках, автоматического
// исправления нет. Объекты незавершённых операций журнала (pending)
// не считаются осиротевшими.
//
// Запускается как горутина с периодическим тикером (SM_RECONCILE_INTERVAL)
// и по запросу администратора.
package service

import (
	"context"
	"log/slog"
	"sort"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"

	"github.com/bigkaa/goartstore/share-module/internal/storage/blob"
	"github.com/bigkaa/goartstore/share-module/internal/storage/metastore"
	"github.com/bigkaa/goartstore/share-module/internal/storage/wal"
)

// Prometheus метрики Reconciliation
var (
	// reconcileRunsTotal — количество запусков reconciliation.
	reconcileRunsTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "sm_reconcile_runs_total",
		Help: "Общее количество запусков reconciliation",
	})

	// reconcileIssuesTotal — количество обнаруженных проблем по типу.
	reconcileIssuesTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "sm_reconcile_issues_total",
		Help: "Общее количество проблем, обнаруженных reconciliation",
	}, []string{"type"})

	// reconcileDurationSeconds — длительность выполнения reconciliation.
	reconcileDurationSeconds = promauto.NewHistogram(prometheus.HistogramOpts{
		Name:    "sm_reconcile_duration_seconds",
		Help:    "Длительность выполнения reconciliation в секундах",
		Buckets: []float64{0.1, 0.5, 1, 5, 10, 30, 60, 120, 300},
	})
)

// IssueType — тип обнаруженной проблемы.
type IssueType string

const (
	// IssueMissingBlob — запись без содержимого
	IssueMissingBlob IssueType = "missing_blob"
	// IssueOrphanedBlob — содержимое без записи
	IssueOrphanedBlob IssueType = "orphaned_blob"
)

// ReconcileIssue — одна обнаруженная проблема.
type ReconcileIssue struct {
	Type        IssueType `json:"type"`
	FileID      string    `json:"file_id,omitempty"`
	ShareLink   string    `json:"share_link,omitempty"`
	StoredName  string    `json:"stored_name"`
	Description string    `json:"description"`
}

// ReconcileSummary — сводка по типам проблем.
type ReconcileSummary struct {
	OK            int `json:"ok"`
	MissingBlobs  int `json:"missing_blobs"`
	OrphanedBlobs int `json:"orphaned_blobs"`
}

// ReconcileResult — результат одного прохода сверки.
type ReconcileResult struct {
	StartedAt    time.Time        `json:"started_at"`
	CompletedAt  time.Time        `json:"completed_at"`
	FilesChecked int              `json:"files_checked"`
	Issues       []ReconcileIssue `json:"issues"`
	Summary      ReconcileSummary `json:"summary"`
}

// ReconcileService — сервис фоновой сверки хранилищ.
type ReconcileService struct {
	meta     metastore.Store
	blobs    blob.Store
	journal  *wal.WAL
	interval time.Duration
	logger   *slog.Logger

	mu        sync.Mutex // защита от параллельного запуска
	inProcess bool       // reconciliation в процессе выполнения
	cancel    context.CancelFunc
	done      chan struct{}
}

// NewReconcileService создаёт сервис reconciliation.
func NewReconcileService(
	meta metastore.Store,
	blobs blob.Store,
	journal *wal.WAL,
	interval time.Duration,
	logger *slog.Logger,
) *ReconcileService {
	return &ReconcileService{
		meta:     meta,
		blobs:    blobs,
		journal:  journal,
		interval: interval,
		logger:   logger.With(slog.String("component", "reconcile")),
	}
}

// Start запускает фоновую горутину reconciliation с периодическим тикером.
func (rs *ReconcileService) Start(ctx context.Context) {
	rsCtx, cancel := context.WithCancel(ctx)
	rs.cancel = cancel
	rs.done = make(chan struct{})

	go rs.run(rsCtx)

	rs.logger.Info("Reconciliation запущена",
		slog.String("interval", rs.interval.String()),
	)
}

// Stop останавливает фоновой процесс reconciliation и ждёт его завершения.
func (rs *ReconcileService) Stop() {
	if rs.cancel != nil {
		rs.cancel()
		<-rs.done
	}
	rs.logger.Info("Reconciliation остановлена")
}

// IsInProgress возвращает true, если reconciliation выполняется.
func (rs *ReconcileService) IsInProgress() bool {
	rs.mu.Lock()
	defer rs.mu.Unlock()
	return rs.inProcess
}

// run — основной цикл фоновой горутины.
func (rs *ReconcileService) run(ctx context.Context) {
	defer close(rs.done)

	ticker := time.NewTicker(rs.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			rs.RunOnce(ctx)
		}
	}
}

// RunOnce выполняет один цикл reconciliation.
// Потокобезопасен: если reconciliation уже выполняется, возвращает nil, true.
//
// Возвращает:
//   - *ReconcileResult — результат сверки (nil при ошибке чтения хранилищ)
//   - bool — true если reconciliation уже выполнялась (skipped)
func (rs *ReconcileService) RunOnce(ctx context.Context) (*ReconcileResult, bool) {
	rs.mu.Lock()
	if rs.inProcess {
		rs.mu.Unlock()
		rs.logger.Warn("Reconciliation уже выполняется, пропуск")
		return nil, true
	}
	rs.inProcess = true
	rs.mu.Unlock()

	defer func() {
		rs.mu.Lock()
		rs.inProcess = false
		rs.mu.Unlock()
	}()

	startedAt := time.Now().UTC()
	rs.logger.Info("Reconciliation начата")

	issues, filesChecked, ok := rs.reconcile(ctx)
	if !ok {
		return nil, false
	}

	completedAt := time.Now().UTC()
	duration := completedAt.Sub(startedAt)

	summary := ReconcileSummary{}
	for _, issue := range issues {
		switch issue.Type {
		case IssueMissingBlob:
			summary.MissingBlobs++
		case IssueOrphanedBlob:
			summary.OrphanedBlobs++
		}
	}
	summary.OK = max(filesChecked-summary.MissingBlobs, 0)

	reconcileRunsTotal.Inc()
	reconcileDurationSeconds.Observe(duration.Seconds())
	for _, issue := range issues {
		reconcileIssuesTotal.WithLabelValues(string(issue.Type)).Inc()
		rs.logger.Warn("Reconciliation: обнаружена проблема",
			slog.String("type", string(issue.Type)),
			slog.String("file_id", issue.FileID),
			slog.String("stored_name", issue.StoredName),
		)
	}

	rs.logger.Info("Reconciliation завершена",
		slog.Int("files_checked", filesChecked),
		slog.Int("issues", len(issues)),
		slog.Int("ok", summary.OK),
		slog.Duration("duration", duration),
	)

	return &ReconcileResult{
		StartedAt:    startedAt,
		CompletedAt:  completedAt,
		FilesChecked: filesChecked,
		Issues:       issues,
		Summary:      summary,
	}, false
}

// reconcile сравнивает записи метаданных с объектами хранилища.
func (rs *ReconcileService) reconcile(ctx context.Context) ([]ReconcileIssue, int, bool) {
	issues := []ReconcileIssue{}

	records, err := rs.meta.ListAll(ctx)
	if err != nil {
		rs.logger.Error("Ошибка чтения метаданных", slog.String("error", err.Error()))
		return nil, 0, false
	}

	names, err := rs.blobs.List(ctx)
	if err != nil {
		rs.logger.Error("Ошибка чтения списка объектов", slog.String("error", err.Error()))
		return nil, 0, false
	}

	blobs := make(map[string]bool, len(names))
	for _, name := range names {
		blobs[name] = true
	}

	// Объекты операций в процессе не проверяются в обе стороны
	inFlight := make(map[string]bool)
	if pending, err := rs.journal.Pending(); err == nil {
		for _, entry := range pending {
			inFlight[entry.Target.StoredName] = true
		}
	} else {
		rs.logger.Warn("Ошибка чтения журнала", slog.String("error", err.Error()))
	}

	// 1. Запись без содержимого (missing_blob)
	referenced := make(map[string]bool, len(records))
	for _, rec := range records {
		referenced[rec.StoredName] = true
		if !blobs[rec.StoredName] && !inFlight[rec.StoredName] {
			issues = append(issues, ReconcileIssue{
				Type:        IssueMissingBlob,
				FileID:      rec.ID,
				ShareLink:   rec.ShareLink,
				StoredName:  rec.StoredName,
				Description: "Запись метаданных без содержимого в хранилище",
			})
		}
	}

	// 2. Содержимое без записи (orphaned_blob)
	sort.Strings(names)
	for _, name := range names {
		if referenced[name] || inFlight[name] {
			continue
		}
		issues = append(issues, ReconcileIssue{
			Type:        IssueOrphanedBlob,
			StoredName:  name,
			Description: "Содержимое в хранилище без записи метаданных",
		})
	}

	return issues, len(records), true
}
