// Пакет metastore — контракт хранилища метаданных файлов.
//
// Две взаимозаменяемые реализации выбираются при старте (SM_METADATA_BACKEND):
//   - jsonstore — один JSON-документ на диске, share_link → FileRecord
//   - pgstore — таблица files в PostgreSQL с tombstone-колонкой
//
// Все операции чтения исключают удалённые (tombstone) записи.
package metastore

import (
	"context"
	"errors"

	"github.com/bigkaa/goartstore/share-module/internal/domain/model"
)

// Ошибки слоя хранилища метаданных.
var (
	// ErrNotFound — запись не найдена или удалена.
	ErrNotFound = errors.New("запись не найдена")
	// ErrConflict — share_link или id уже существует.
	ErrConflict = errors.New("конфликт — запись уже существует")
)

// Store — хранилище метаданных файлов.
type Store interface {
	// Put вставляет новую запись. ErrConflict, если share_link уже занят.
	Put(ctx context.Context, rec *model.FileRecord) error
	// GetByShareLink возвращает живую запись по токену ссылки.
	GetByShareLink(ctx context.Context, shareLink string) (*model.FileRecord, error)
	// GetByID возвращает живую запись по внутреннему id.
	GetByID(ctx context.Context, id string) (*model.FileRecord, error)
	// ListAll возвращает все живые записи в порядке хранения.
	ListAll(ctx context.Context) ([]*model.FileRecord, error)
	// ListByCategory возвращает живые записи указанной категории.
	ListByCategory(ctx context.Context, category string) ([]*model.FileRecord, error)
	// ListByUploader возвращает живые записи указанного загрузившего.
	ListByUploader(ctx context.Context, uploaderID string) ([]*model.FileRecord, error)
	// IncrementDownload атомарно увеличивает счётчик скачиваний на 1
	// и возвращает новое значение.
	IncrementDownload(ctx context.Context, shareLink string) (int64, error)
	// Remove удаляет или помечает удалённой запись по id.
	// Повторный вызов возвращает ErrNotFound.
	Remove(ctx context.Context, id string) error
	// Ping проверяет доступность backend (для readiness probe).
	Ping(ctx context.Context) error
	// Close освобождает ресурсы backend.
	Close() error
}
