package wal

import (
	"encoding/json"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
)

// WAL — файловый журнал операций.
type WAL struct {
	dir    string
	mu     sync.Mutex
	logger *slog.Logger
}

// New создаёт журнал в директории dir. Создаёт директорию,
// если её нет, и проверяет, что она доступна на запись.
func New(dir string, logger *slog.Logger) (*WAL, error) {
	if err := os.MkdirAll(dir, 0o750); err != nil {
		return nil, fmt.Errorf("не удалось создать директорию WAL %s: %w", dir, err)
	}

	testFile := filepath.Join(dir, ".wal_write_test")
	if err := os.WriteFile(testFile, []byte("ok"), 0o640); err != nil {
		return nil, fmt.Errorf("директория WAL %s недоступна для записи: %w", dir, err)
	}
	os.Remove(testFile)

	return &WAL{
		dir:    dir,
		logger: logger.With(slog.String("component", "wal")),
	}, nil
}

// Begin создаёт запись pending для операции op над target.
// Запись сохраняется атомарно: temp файл → fsync → rename.
func (w *WAL) Begin(op OperationType, target Target) (*Entry, error) {
	w.mu.Lock()
	defer w.mu.Unlock()

	entry := &Entry{
		TransactionID: uuid.New().String(),
		Operation:     op,
		Status:        StatusPending,
		Target:        target,
		StartedAt:     time.Now().UTC(),
	}

	if err := w.writeEntry(entry); err != nil {
		return nil, fmt.Errorf("не удалось создать запись журнала: %w", err)
	}

	w.logger.Debug("Операция начата",
		slog.String("tx_id", entry.TransactionID),
		slog.String("operation", string(op)),
		slog.String("file_id", target.FileID),
	)
	return entry, nil
}

// Commit помечает операцию завершённой.
func (w *WAL) Commit(txID string) error {
	return w.finish(txID, StatusCommitted)
}

// Rollback помечает операцию отменённой (выполнена компенсация).
func (w *WAL) Rollback(txID string) error {
	return w.finish(txID, StatusRolledBack)
}

func (w *WAL) finish(txID string, status TransactionStatus) error {
	w.mu.Lock()
	defer w.mu.Unlock()

	entry, err := w.readEntry(txID)
	if err != nil {
		return fmt.Errorf("не удалось прочитать запись журнала %s: %w", txID, err)
	}
	if entry.Status != StatusPending {
		return fmt.Errorf("запись журнала %s имеет статус %s, ожидается %s", txID, entry.Status, StatusPending)
	}

	now := time.Now().UTC()
	entry.Status = status
	entry.CompletedAt = &now

	if err := w.writeEntry(entry); err != nil {
		return fmt.Errorf("не удалось обновить запись журнала %s: %w", txID, err)
	}

	w.logger.Debug("Операция завершена",
		slog.String("tx_id", txID),
		slog.String("status", string(status)),
		slog.Duration("duration", now.Sub(entry.StartedAt)),
	)
	return nil
}

// Pending возвращает незавершённые записи в порядке начала операций.
// Нечитаемые записи пропускаются с предупреждением.
func (w *WAL) Pending() ([]*Entry, error) {
	w.mu.Lock()
	defer w.mu.Unlock()

	all, err := w.scan()
	if err != nil {
		return nil, err
	}

	var pending []*Entry
	for _, entry := range all {
		if entry.Status == StatusPending {
			pending = append(pending, entry)
		}
	}
	sort.Slice(pending, func(i, j int) bool {
		return pending[i].StartedAt.Before(pending[j].StartedAt)
	})
	return pending, nil
}

// Get читает запись журнала по идентификатору.
func (w *WAL) Get(txID string) (*Entry, error) {
	w.mu.Lock()
	defer w.mu.Unlock()

	return w.readEntry(txID)
}

// Prune удаляет завершённые (committed/rolled_back) записи.
func (w *WAL) Prune() (int, error) {
	w.mu.Lock()
	defer w.mu.Unlock()

	all, err := w.scan()
	if err != nil {
		return 0, err
	}

	cleaned := 0
	for _, entry := range all {
		if entry.Status == StatusPending {
			continue
		}
		path := filepath.Join(w.dir, walFileName(entry.TransactionID))
		if err := os.Remove(path); err != nil {
			w.logger.Warn("Не удалось удалить завершённую запись журнала",
				slog.String("path", path),
				slog.String("error", err.Error()),
			)
			continue
		}
		cleaned++
	}

	if cleaned > 0 {
		w.logger.Info("Очистка журнала завершена", slog.Int("cleaned", cleaned))
	}
	return cleaned, nil
}

// scan читает все записи директории. Вызывающий обязан держать w.mu.
func (w *WAL) scan() ([]*Entry, error) {
	paths, err := filepath.Glob(filepath.Join(w.dir, "*"+walSuffix))
	if err != nil {
		return nil, fmt.Errorf("не удалось сканировать директорию WAL: %w", err)
	}

	entries := make([]*Entry, 0, len(paths))
	for _, path := range paths {
		entry, err := w.readEntry(strings.TrimSuffix(filepath.Base(path), walSuffix))
		if err != nil {
			w.logger.Warn("Не удалось прочитать запись журнала",
				slog.String("path", path),
				slog.String("error", err.Error()),
			)
			continue
		}
		entries = append(entries, entry)
	}
	return entries, nil
}

// writeEntry атомарно записывает запись журнала на диск.
func (w *WAL) writeEntry(entry *Entry) error {
	data, err := json.MarshalIndent(entry, "", "  ")
	if err != nil {
		return fmt.Errorf("ошибка сериализации: %w", err)
	}

	targetPath := filepath.Join(w.dir, walFileName(entry.TransactionID))
	tmpPath := targetPath + ".tmp"

	f, err := os.Create(tmpPath)
	if err != nil {
		return fmt.Errorf("ошибка создания временного файла: %w", err)
	}

	if _, err := f.Write(data); err != nil {
		f.Close()
		os.Remove(tmpPath)
		return fmt.Errorf("ошибка записи: %w", err)
	}

	if err := f.Sync(); err != nil {
		f.Close()
		os.Remove(tmpPath)
		return fmt.Errorf("ошибка fsync: %w", err)
	}

	if err := f.Close(); err != nil {
		os.Remove(tmpPath)
		return fmt.Errorf("ошибка закрытия файла: %w", err)
	}

	if err := os.Rename(tmpPath, targetPath); err != nil {
		os.Remove(tmpPath)
		return fmt.Errorf("ошибка атомарного переименования: %w", err)
	}
	return nil
}

func (w *WAL) readEntry(txID string) (*Entry, error) {
	data, err := os.ReadFile(filepath.Join(w.dir, walFileName(txID)))
	if err != nil {
		return nil, fmt.Errorf("ошибка чтения файла: %w", err)
	}

	var entry Entry
	if err := json.Unmarshal(data, &entry); err != nil {
		return nil, fmt.Errorf("ошибка десериализации: %w", err)
	}
	return &entry, nil
}

// Dir возвращает путь к директории журнала.
func (w *WAL) Dir() string {
	return w.dir
}
