// Пакет model — доменные модели Share Module.
// FileRecord — единая структура метаданных загруженного файла, используется
// как in-memory представление, как формат записи в files.json
// и как строка таблицы files в PostgreSQL.
package model

import (
	"path/filepath"
	"strings"
	"time"
)

// DefaultCategory — категория файла, если загрузивший её не указал.
const DefaultCategory = "general"

// AnonymousName — имя загрузившего для анонимных загрузок.
const AnonymousName = "anonymous"

// FileRecord — метаданные одного загруженного файла.
// Поле StoredName не входит в API-ответы, но сохраняется в хранилище
// метаданных для привязки записи к физическому blob.
type FileRecord struct {
	// ID — уникальный идентификатор файла (UUID v4), неизменяемый
	ID string `json:"id"`

	// ShareLink — публичный токен для скачивания без аутентификации.
	// Отличается от ID, уникален среди живых записей.
	ShareLink string `json:"share_link"`

	// OriginalName — имя файла от пользователя. Только для отображения
	// и заголовка Content-Disposition, никогда не попадает в путь на диске.
	OriginalName string `json:"original_name"`

	// StoredName — имя blob, выбранное сервером: {id}{ext}
	StoredName string `json:"stored_name"`

	// Size — размер файла в байтах
	Size int64 `json:"size"`

	// MimeType — MIME-тип файла
	MimeType string `json:"mime_type"`

	// Category — произвольная метка (по умолчанию "general")
	Category string `json:"category"`

	// UploaderID — идентификатор загрузившего. nil для анонимных загрузок.
	// Единственное основание для авторизации удаления владельцем.
	UploaderID *string `json:"uploader_id,omitempty"`

	// UploaderName — отображаемое имя загрузившего
	UploaderName string `json:"uploader_name"`

	// UploadedAt — время загрузки (UTC)
	UploadedAt time.Time `json:"uploaded_at"`

	// Downloads — счётчик успешных скачиваний, только растёт
	Downloads int64 `json:"downloads"`

	// Deleted — логическое удаление (tombstone) в реляционном backend
	Deleted bool `json:"deleted,omitempty"`
}

// IsOwnedBy проверяет, что запись принадлежит указанному principal.
// Анонимные записи не принадлежат никому.
func (r *FileRecord) IsOwnedBy(principalID string) bool {
	if r.UploaderID == nil || principalID == "" {
		return false
	}
	return *r.UploaderID == principalID
}

// View возвращает безопасную для отображения проекцию записи.
func (r *FileRecord) View() FileView {
	return FileView{
		ID:           r.ID,
		ShareLink:    r.ShareLink,
		OriginalName: r.OriginalName,
		Size:         r.Size,
		MimeType:     r.MimeType,
		Category:     r.Category,
		UploaderID:   r.UploaderID,
		UploaderName: r.UploaderName,
		UploadedAt:   r.UploadedAt,
		Downloads:    r.Downloads,
	}
}

// FileView — проекция FileRecord для клиентов: без StoredName и tombstone.
type FileView struct {
	ID           string    `json:"id"`
	ShareLink    string    `json:"share_link"`
	OriginalName string    `json:"original_name"`
	Size         int64     `json:"size"`
	MimeType     string    `json:"mime_type"`
	Category     string    `json:"category"`
	UploaderID   *string   `json:"uploader_id,omitempty"`
	UploaderName string    `json:"uploader_name"`
	UploadedAt   time.Time `json:"created_at"`
	Downloads    int64     `json:"downloads"`
}

// StoredNameFor формирует имя blob из идентификатора записи и расширения
// оригинального имени. Расширение очищается от всего, кроме [A-Za-z0-9],
// чтобы пользовательский текст не попадал в путь.
func StoredNameFor(id, originalName string) string {
	ext := filepath.Ext(filepath.Base(originalName))
	if ext == "" {
		return id
	}

	var b strings.Builder
	for _, r := range strings.TrimPrefix(ext, ".") {
		if (r >= 'a' && r <= 'z') || (r >= 'A' && r <= 'Z') || (r >= '0' && r <= '9') {
			b.WriteRune(r)
		}
	}
	if b.Len() == 0 || b.Len() > 16 {
		return id
	}
	return id + "." + b.String()
}
