// Пакет blob — контракт хранилища содержимого файлов.
//
// Содержимое адресуется по stored name (id + расширение). Реализации:
//   - filestore — директория на локальном диске
//   - s3store — бакет S3-совместимого хранилища
//
// Save никогда не оставляет видимым частично записанный объект:
// при ошибке или отмене контекста объект под именем name не появляется.
package blob

import (
	"context"
	"errors"
	"fmt"
	"io"
	"path/filepath"
	"strings"
	"time"
)

// Ошибки слоя содержимого.
var (
	// ErrNotFound — объект отсутствует.
	ErrNotFound = errors.New("объект не найден")
	// ErrInvalidName — имя объекта содержит разделители пути или пустое.
	ErrInvalidName = errors.New("недопустимое имя объекта")
)

// SaveResult — результат сохранения объекта.
type SaveResult struct {
	// Size — размер записанных данных в байтах
	Size int64
	// Checksum — SHA-256 содержимого (hex)
	Checksum string
}

// Object — открытый для чтения объект.
// Если Body реализует io.ReadSeeker, HTTP-слой отдаёт его с поддержкой Range.
type Object struct {
	Body    io.ReadCloser
	Size    int64
	ModTime time.Time
}

// Store — хранилище содержимого файлов.
type Store interface {
	// Save потоково записывает содержимое под именем name.
	Save(ctx context.Context, name string, r io.Reader) (*SaveResult, error)
	// Open открывает объект для чтения. ErrNotFound, если объекта нет.
	// Вызывающий обязан закрыть Object.Body.
	Open(ctx context.Context, name string) (*Object, error)
	// Delete удаляет объект. ErrNotFound, если объекта нет.
	Delete(ctx context.Context, name string) error
	// Exists проверяет наличие объекта.
	Exists(ctx context.Context, name string) (bool, error)
	// List возвращает имена всех объектов (для сверки).
	List(ctx context.Context) ([]string, error)
	// Ping проверяет доступность хранилища (для readiness probe).
	Ping(ctx context.Context) error
}

// ValidateName проверяет, что name — одиночный безопасный компонент пути.
func ValidateName(name string) error {
	if name == "" || name == "." || name == ".." ||
		strings.ContainsAny(name, `/\`) || filepath.Base(name) != name {
		return fmt.Errorf("%w: %q", ErrInvalidName, name)
	}
	return nil
}

// ContextReader прерывает чтение из r после отмены ctx.
// Используется при потоковой записи, чтобы отменённая загрузка
// не дописывалась до конца.
func ContextReader(ctx context.Context, r io.Reader) io.Reader {
	return &ctxReader{ctx: ctx, r: r}
}

type ctxReader struct {
	ctx context.Context
	r   io.Reader
}

func (c *ctxReader) Read(p []byte) (int, error) {
	if err := c.ctx.Err(); err != nil {
		return 0, err
	}
	return c.r.Read(p)
}
