// Пакет pgstore — реляционный backend хранилища метаданных (PostgreSQL).
// Все запросы — чистый SQL через pgx, без ORM.
//
// Удаление — tombstone (is_deleted = TRUE): запись перестаёт быть видимой
// для всех операций чтения, но её share_link остаётся занятым, поэтому
// токен удалённого файла никогда не достанется новому.
package pgstore

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/bigkaa/goartstore/share-module/internal/domain/model"
	"github.com/bigkaa/goartstore/share-module/internal/storage/metastore"
)

// selectColumns — колонки записи в порядке scanRecord.
const selectColumns = `id::text, share_link, original_name, stored_name, size, mime_type,
	category, uploader_id, uploader_name, created_at, downloads`

// Store — хранилище метаданных в таблице files.
type Store struct {
	pool *pgxpool.Pool
}

// Проверка на этапе компиляции
var _ metastore.Store = (*Store)(nil)

// New создаёт хранилище поверх пула подключений.
// Пул переходит во владение Store и закрывается в Close.
func New(pool *pgxpool.Pool) *Store {
	return &Store{pool: pool}
}

func (s *Store) Put(ctx context.Context, rec *model.FileRecord) error {
	query := `
		INSERT INTO files (id, share_link, original_name, stored_name, size, mime_type,
			category, uploader_id, uploader_name, created_at, downloads)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11)`

	_, err := s.pool.Exec(ctx, query,
		rec.ID, rec.ShareLink, rec.OriginalName, rec.StoredName, rec.Size, rec.MimeType,
		rec.Category, rec.UploaderID, rec.UploaderName, rec.UploadedAt, rec.Downloads,
	)
	if err != nil {
		if isUniqueViolation(err) {
			return fmt.Errorf("%w: share_link или id уже используется", metastore.ErrConflict)
		}
		return fmt.Errorf("ошибка вставки записи: %w", err)
	}
	return nil
}

func (s *Store) GetByShareLink(ctx context.Context, shareLink string) (*model.FileRecord, error) {
	query := `SELECT ` + selectColumns + `
		FROM files
		WHERE share_link = $1 AND NOT is_deleted`

	rec, err := scanRecord(s.pool.QueryRow(ctx, query, shareLink))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, metastore.ErrNotFound
		}
		return nil, fmt.Errorf("ошибка получения записи по ссылке: %w", err)
	}
	return rec, nil
}

func (s *Store) GetByID(ctx context.Context, id string) (*model.FileRecord, error) {
	query := `SELECT ` + selectColumns + `
		FROM files
		WHERE id = $1 AND NOT is_deleted`

	rec, err := scanRecord(s.pool.QueryRow(ctx, query, id))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) || isInvalidText(err) {
			return nil, metastore.ErrNotFound
		}
		return nil, fmt.Errorf("ошибка получения записи: %w", err)
	}
	return rec, nil
}

func (s *Store) ListAll(ctx context.Context) ([]*model.FileRecord, error) {
	return s.list(ctx, `WHERE NOT is_deleted`)
}

func (s *Store) ListByCategory(ctx context.Context, category string) ([]*model.FileRecord, error) {
	return s.list(ctx, `WHERE NOT is_deleted AND category = $1`, category)
}

func (s *Store) ListByUploader(ctx context.Context, uploaderID string) ([]*model.FileRecord, error) {
	return s.list(ctx, `WHERE NOT is_deleted AND uploader_id = $1`, uploaderID)
}

// IncrementDownload выполняет инкремент одним UPDATE: строка блокируется
// на время операции, параллельные скачивания сериализуются СУБД.
func (s *Store) IncrementDownload(ctx context.Context, shareLink string) (int64, error) {
	query := `
		UPDATE files
		SET downloads = downloads + 1
		WHERE share_link = $1 AND NOT is_deleted
		RETURNING downloads`

	var downloads int64
	if err := s.pool.QueryRow(ctx, query, shareLink).Scan(&downloads); err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return 0, metastore.ErrNotFound
		}
		return 0, fmt.Errorf("ошибка увеличения счётчика скачиваний: %w", err)
	}
	return downloads, nil
}

func (s *Store) Remove(ctx context.Context, id string) error {
	query := `
		UPDATE files
		SET is_deleted = TRUE
		WHERE id = $1 AND NOT is_deleted`

	tag, err := s.pool.Exec(ctx, query, id)
	if err != nil {
		if isInvalidText(err) {
			return metastore.ErrNotFound
		}
		return fmt.Errorf("ошибка удаления записи: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return metastore.ErrNotFound
	}
	return nil
}

func (s *Store) Ping(ctx context.Context) error {
	return s.pool.Ping(ctx)
}

func (s *Store) Close() error {
	s.pool.Close()
	return nil
}

// list выполняет SELECT с условием where. Порядок — по времени загрузки.
func (s *Store) list(ctx context.Context, where string, args ...any) ([]*model.FileRecord, error) {
	query := `SELECT ` + selectColumns + ` FROM files ` + where + ` ORDER BY created_at`

	rows, err := s.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("ошибка получения списка записей: %w", err)
	}
	defer rows.Close()

	result := make([]*model.FileRecord, 0)
	for rows.Next() {
		rec, err := scanRecord(rows)
		if err != nil {
			return nil, fmt.Errorf("ошибка сканирования записи: %w", err)
		}
		result = append(result, rec)
	}
	return result, rows.Err()
}

// scanRecord читает строку в порядке selectColumns.
func scanRecord(row pgx.Row) (*model.FileRecord, error) {
	rec := &model.FileRecord{}
	err := row.Scan(
		&rec.ID, &rec.ShareLink, &rec.OriginalName, &rec.StoredName, &rec.Size, &rec.MimeType,
		&rec.Category, &rec.UploaderID, &rec.UploaderName, &rec.UploadedAt, &rec.Downloads,
	)
	if err != nil {
		return nil, err
	}
	rec.UploadedAt = rec.UploadedAt.UTC()
	return rec, nil
}

// isUniqueViolation проверяет, является ли ошибка нарушением уникальности PostgreSQL.
func isUniqueViolation(err error) bool {
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		return pgErr.Code == "23505" // unique_violation
	}
	return false
}

// isInvalidText — id не является UUID (invalid_text_representation).
func isInvalidText(err error) bool {
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		return pgErr.Code == "22P02"
	}
	return false
}
