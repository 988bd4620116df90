// Пакет jsonstore — файловый backend хранилища метаданных.
//
// Всё отображение share_link → FileRecord хранится в одном JSON-документе.
// Каждая операция читает документ целиком, каждая мутация переписывает его
// целиком. Цикл load → mutate → save выполняется под эксклюзивной
// блокировкой экземпляра, поэтому конкурентные мутации не перетирают
// чужие изменения. Запись документа атомарна: temp → fsync → rename,
// читатели никогда не видят частично записанный файл.
//
// Повреждённый документ (невалидный JSON) трактуется как пустое отображение.
// Исходные байты при этом сохраняются рядом как *.corrupt-{unix}, причина
// пишется в лог с уровнем ERROR. Ошибка чтения файла возвращается вызывающему:
// мутация не переписывает документ, который не удалось прочитать.
package jsonstore

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strconv"
	"sync"
	"time"

	"github.com/bigkaa/goartstore/share-module/internal/domain/model"
	"github.com/bigkaa/goartstore/share-module/internal/storage/metastore"
)

// document — содержимое files.json.
type document map[string]*model.FileRecord

// Store — файловое хранилище метаданных.
type Store struct {
	path   string
	mu     sync.RWMutex
	logger *slog.Logger
}

// Проверка на этапе компиляции
var _ metastore.Store = (*Store)(nil)

// New создаёт хранилище поверх документа path.
// Создаёт родительскую директорию, если её нет. Сам документ появляется
// при первой мутации.
func New(path string, logger *slog.Logger) (*Store, error) {
	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0o750); err != nil {
		return nil, fmt.Errorf("не удалось создать директорию %s: %w", dir, err)
	}

	return &Store{
		path:   path,
		logger: logger.With(slog.String("component", "jsonstore")),
	}, nil
}

// Path возвращает путь к документу.
func (s *Store) Path() string {
	return s.path
}

func (s *Store) Put(_ context.Context, rec *model.FileRecord) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	doc, err := s.load()
	if err != nil {
		return err
	}

	if _, ok := doc[rec.ShareLink]; ok {
		return fmt.Errorf("%w: share_link уже используется", metastore.ErrConflict)
	}
	for _, existing := range doc {
		if existing.ID == rec.ID {
			return fmt.Errorf("%w: файл %s уже зарегистрирован", metastore.ErrConflict, rec.ID)
		}
	}

	copied := *rec
	doc[rec.ShareLink] = &copied

	return s.save(doc)
}

func (s *Store) GetByShareLink(_ context.Context, shareLink string) (*model.FileRecord, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	doc, err := s.load()
	if err != nil {
		return nil, err
	}
	rec, ok := doc[shareLink]
	if !ok {
		return nil, metastore.ErrNotFound
	}
	return rec, nil
}

func (s *Store) GetByID(_ context.Context, id string) (*model.FileRecord, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	doc, err := s.load()
	if err != nil {
		return nil, err
	}
	for _, rec := range doc {
		if rec.ID == id {
			return rec, nil
		}
	}
	return nil, metastore.ErrNotFound
}

func (s *Store) ListAll(_ context.Context) ([]*model.FileRecord, error) {
	return s.filter(func(*model.FileRecord) bool { return true })
}

func (s *Store) ListByCategory(_ context.Context, category string) ([]*model.FileRecord, error) {
	return s.filter(func(r *model.FileRecord) bool { return r.Category == category })
}

func (s *Store) ListByUploader(_ context.Context, uploaderID string) ([]*model.FileRecord, error) {
	return s.filter(func(r *model.FileRecord) bool { return r.IsOwnedBy(uploaderID) })
}

// IncrementDownload выполняет весь цикл чтение → +1 → запись под
// эксклюзивной блокировкой, поэтому параллельные скачивания одной
// ссылки не теряют инкременты.
func (s *Store) IncrementDownload(_ context.Context, shareLink string) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	doc, err := s.load()
	if err != nil {
		return 0, err
	}
	rec, ok := doc[shareLink]
	if !ok {
		return 0, metastore.ErrNotFound
	}

	rec.Downloads++
	if err := s.save(doc); err != nil {
		return 0, err
	}
	return rec.Downloads, nil
}

func (s *Store) Remove(_ context.Context, id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	doc, err := s.load()
	if err != nil {
		return err
	}
	for link, rec := range doc {
		if rec.ID == id {
			delete(doc, link)
			return s.save(doc)
		}
	}
	return metastore.ErrNotFound
}

// Ping проверяет, что директория документа доступна.
func (s *Store) Ping(_ context.Context) error {
	if _, err := os.Stat(filepath.Dir(s.path)); err != nil {
		return fmt.Errorf("директория метаданных недоступна: %w", err)
	}
	return nil
}

func (s *Store) Close() error {
	return nil
}

// filter читает документ под разделяемой блокировкой и отбирает записи.
func (s *Store) filter(keep func(*model.FileRecord) bool) ([]*model.FileRecord, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	doc, err := s.load()
	if err != nil {
		return nil, err
	}
	result := make([]*model.FileRecord, 0, len(doc))
	for _, rec := range doc {
		if keep(rec) {
			result = append(result, rec)
		}
	}
	return result, nil
}

// load читает документ целиком. Отсутствующий или пустой файл — пустое
// отображение. Невалидный JSON — пустое отображение с сохранением копии
// повреждённого документа и записью в лог. Прочие ошибки чтения
// возвращаются как есть.
// Вызывающий обязан держать s.mu.
func (s *Store) load() (document, error) {
	data, err := os.ReadFile(s.path)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return document{}, nil
		}
		s.logger.Error("Ошибка чтения документа метаданных",
			slog.String("path", s.path),
			slog.String("error", err.Error()),
		)
		return nil, fmt.Errorf("ошибка чтения документа метаданных: %w", err)
	}

	if len(bytes.TrimSpace(data)) == 0 {
		return document{}, nil
	}

	doc := document{}
	if err := json.Unmarshal(data, &doc); err != nil {
		backup := s.path + ".corrupt-" + strconv.FormatInt(time.Now().UTC().Unix(), 10)
		if wErr := os.WriteFile(backup, data, 0o640); wErr != nil {
			s.logger.Error("Не удалось сохранить копию повреждённого документа",
				slog.String("path", backup),
				slog.String("error", wErr.Error()),
			)
		}
		s.logger.Error("Документ метаданных повреждён, используется пустое отображение",
			slog.String("path", s.path),
			slog.String("backup", backup),
			slog.String("error", err.Error()),
		)
		return document{}, nil
	}

	for link, rec := range doc {
		if rec == nil {
			delete(doc, link)
			continue
		}
		if rec.Category == "" {
			rec.Category = model.DefaultCategory
		}
	}
	return doc, nil
}

// save атомарно переписывает документ: temp → fsync → rename.
// Вызывающий обязан держать s.mu на запись.
func (s *Store) save(doc document) error {
	data, err := json.MarshalIndent(doc, "", "  ")
	if err != nil {
		return fmt.Errorf("ошибка сериализации метаданных: %w", err)
	}

	tmpPath := s.path + ".tmp"

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

	if err := os.Rename(tmpPath, s.path); err != nil {
		os.Remove(tmpPath)
		return fmt.Errorf("ошибка атомарного переименования: %w", err)
	}

	return nil
}
