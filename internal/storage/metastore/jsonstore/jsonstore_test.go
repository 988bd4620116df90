package jsonstore

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/bigkaa/goartstore/share-module/internal/domain/model"
	"github.com/bigkaa/goartstore/share-module/internal/storage/metastore"
)

func newTestStore(t *testing.T) *Store {
	t.Helper()
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	s, err := New(filepath.Join(t.TempDir(), "data", "files.json"), logger)
	if err != nil {
		t.Fatalf("New() ошибка: %v", err)
	}
	return s
}

func testRecord(id, link, category string) *model.FileRecord {
	uploader := "alice"
	return &model.FileRecord{
		ID:           id,
		ShareLink:    link,
		OriginalName: id + ".pdf",
		StoredName:   id + ".pdf",
		Size:         1000,
		MimeType:     "application/pdf",
		Category:     category,
		UploaderID:   &uploader,
		UploaderName: "Alice",
		UploadedAt:   time.Now().UTC(),
	}
}

func TestPutAndGet(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	rec := testRecord("id-1", "link-1", "math")
	if err := s.Put(ctx, rec); err != nil {
		t.Fatalf("Put() ошибка: %v", err)
	}

	got, err := s.GetByShareLink(ctx, "link-1")
	if err != nil {
		t.Fatalf("GetByShareLink() ошибка: %v", err)
	}
	if got.ID != "id-1" || got.StoredName != "id-1.pdf" {
		t.Errorf("неожиданная запись: %+v", got)
	}

	got, err = s.GetByID(ctx, "id-1")
	if err != nil {
		t.Fatalf("GetByID() ошибка: %v", err)
	}
	if got.ShareLink != "link-1" {
		t.Errorf("ShareLink = %q, ожидался link-1", got.ShareLink)
	}

	if _, err := s.GetByShareLink(ctx, "missing"); !errors.Is(err, metastore.ErrNotFound) {
		t.Errorf("ожидался ErrNotFound, получено %v", err)
	}
}

func TestPut_Conflict(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	if err := s.Put(ctx, testRecord("id-1", "link-1", "math")); err != nil {
		t.Fatalf("Put() ошибка: %v", err)
	}

	err := s.Put(ctx, testRecord("id-2", "link-1", "math"))
	if !errors.Is(err, metastore.ErrConflict) {
		t.Errorf("дубликат share_link: ожидался ErrConflict, получено %v", err)
	}

	err = s.Put(ctx, testRecord("id-1", "link-2", "math"))
	if !errors.Is(err, metastore.ErrConflict) {
		t.Errorf("дубликат id: ожидался ErrConflict, получено %v", err)
	}
}

// TestDocumentLayout проверяет формат документа: отображение share_link → запись.
func TestDocumentLayout(t *testing.T) {
	s := newTestStore(t)
	if err := s.Put(context.Background(), testRecord("id-1", "link-1", "math")); err != nil {
		t.Fatalf("Put() ошибка: %v", err)
	}

	data, err := os.ReadFile(s.Path())
	if err != nil {
		t.Fatalf("документ не записан: %v", err)
	}

	var raw map[string]map[string]any
	if err := json.Unmarshal(data, &raw); err != nil {
		t.Fatalf("документ не является JSON-объектом: %v", err)
	}
	entry, ok := raw["link-1"]
	if !ok {
		t.Fatalf("ключ link-1 отсутствует: %s", data)
	}
	for _, field := range []string{"id", "share_link", "original_name", "stored_name", "size", "mime_type", "category", "uploader_id", "uploader_name", "uploaded_at", "downloads"} {
		if _, ok := entry[field]; !ok {
			t.Errorf("поле %s отсутствует в документе", field)
		}
	}
}

func TestListByCategoryAndUploader(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	_ = s.Put(ctx, testRecord("id-1", "link-1", "math"))
	_ = s.Put(ctx, testRecord("id-2", "link-2", "math"))
	_ = s.Put(ctx, testRecord("id-3", "link-3", "history"))

	all, _ := s.ListAll(ctx)
	if len(all) != 3 {
		t.Errorf("ListAll: %d, ожидалось 3", len(all))
	}

	math, _ := s.ListByCategory(ctx, "math")
	if len(math) != 2 {
		t.Errorf("ListByCategory(math): %d, ожидалось 2", len(math))
	}

	mine, _ := s.ListByUploader(ctx, "alice")
	if len(mine) != 3 {
		t.Errorf("ListByUploader(alice): %d, ожидалось 3", len(mine))
	}
	other, _ := s.ListByUploader(ctx, "bob")
	if len(other) != 0 {
		t.Errorf("ListByUploader(bob): %d, ожидалось 0", len(other))
	}
}

func TestRemove_Idempotent(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	_ = s.Put(ctx, testRecord("id-1", "link-1", "math"))

	if err := s.Remove(ctx, "id-1"); err != nil {
		t.Fatalf("Remove() ошибка: %v", err)
	}
	if err := s.Remove(ctx, "id-1"); !errors.Is(err, metastore.ErrNotFound) {
		t.Errorf("повторный Remove: ожидался ErrNotFound, получено %v", err)
	}
	if _, err := s.GetByShareLink(ctx, "link-1"); !errors.Is(err, metastore.ErrNotFound) {
		t.Errorf("удалённая запись доступна: %v", err)
	}
}

func TestIncrementDownload_NotFound(t *testing.T) {
	s := newTestStore(t)
	if _, err := s.IncrementDownload(context.Background(), "nope"); !errors.Is(err, metastore.ErrNotFound) {
		t.Errorf("ожидался ErrNotFound, получено %v", err)
	}
}

// TestIncrementDownload_Concurrent — M параллельных инкрементов дают ровно +M.
func TestIncrementDownload_Concurrent(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	_ = s.Put(ctx, testRecord("id-1", "link-1", "math"))

	const m = 50
	var wg sync.WaitGroup
	for range m {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if _, err := s.IncrementDownload(ctx, "link-1"); err != nil {
				t.Errorf("IncrementDownload() ошибка: %v", err)
			}
		}()
	}
	wg.Wait()

	got, _ := s.GetByShareLink(ctx, "link-1")
	if got.Downloads != m {
		t.Errorf("Downloads = %d, ожидалось %d", got.Downloads, m)
	}
}

// TestPut_Concurrent — N параллельных вставок не теряют ни одной записи.
func TestPut_Concurrent(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	const n = 40
	var wg sync.WaitGroup
	for i := range n {
		wg.Add(1)
		go func() {
			defer wg.Done()
			id := fmt.Sprintf("id-%d", i)
			if err := s.Put(ctx, testRecord(id, "link-"+id, "math")); err != nil {
				t.Errorf("Put() ошибка: %v", err)
			}
		}()
	}
	wg.Wait()

	all, _ := s.ListAll(ctx)
	if len(all) != n {
		t.Errorf("записей %d, ожидалось %d", len(all), n)
	}
}

// TestCorruptDocument — невалидный JSON деградирует в пустое отображение,
// исходные байты сохраняются в копию.
func TestCorruptDocument(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	if err := os.WriteFile(s.Path(), []byte("{not json"), 0o640); err != nil {
		t.Fatalf("ошибка записи: %v", err)
	}

	all, err := s.ListAll(ctx)
	if err != nil {
		t.Fatalf("ListAll() ошибка: %v", err)
	}
	if len(all) != 0 {
		t.Errorf("ожидалось пустое отображение, получено %d", len(all))
	}

	matches, _ := filepath.Glob(s.Path() + ".corrupt-*")
	if len(matches) == 0 {
		t.Fatal("копия повреждённого документа не создана")
	}
	data, _ := os.ReadFile(matches[0])
	if !strings.Contains(string(data), "not json") {
		t.Errorf("копия не содержит исходные байты: %q", data)
	}

	// После повреждения хранилище продолжает работать
	if err := s.Put(ctx, testRecord("id-1", "link-1", "math")); err != nil {
		t.Fatalf("Put() после повреждения: %v", err)
	}
}

// TestUnreadableDocument — ошибка чтения документа возвращается всем
// операциям, мутации не переписывают непрочитанный документ.
func TestUnreadableDocument(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	for i := 1; i <= 3; i++ {
		rec := testRecord(fmt.Sprintf("id-%d", i), fmt.Sprintf("link-%d", i), "math")
		if err := s.Put(ctx, rec); err != nil {
			t.Fatalf("Put() ошибка: %v", err)
		}
	}

	// Документ убирается в сторону, на его месте петля симлинков:
	// os.ReadFile возвращает ELOOP даже под root
	backup := s.Path() + ".bak"
	if err := os.Rename(s.Path(), backup); err != nil {
		t.Fatalf("ошибка переименования: %v", err)
	}
	if err := os.Symlink(filepath.Base(s.Path()), s.Path()); err != nil {
		t.Fatalf("ошибка создания симлинка: %v", err)
	}

	if err := s.Put(ctx, testRecord("id-4", "link-4", "math")); err == nil {
		t.Error("Put(): ожидалась ошибка чтения")
	}
	if _, err := s.IncrementDownload(ctx, "link-1"); err == nil || errors.Is(err, metastore.ErrNotFound) {
		t.Errorf("IncrementDownload(): ожидалась ошибка чтения, получено %v", err)
	}
	if err := s.Remove(ctx, "id-1"); err == nil || errors.Is(err, metastore.ErrNotFound) {
		t.Errorf("Remove(): ожидалась ошибка чтения, получено %v", err)
	}
	if _, err := s.GetByShareLink(ctx, "link-1"); err == nil || errors.Is(err, metastore.ErrNotFound) {
		t.Errorf("GetByShareLink(): ожидалась ошибка чтения, получено %v", err)
	}
	if _, err := s.ListAll(ctx); err == nil {
		t.Error("ListAll(): ожидалась ошибка чтения")
	}

	// Петля не заменена сохранённым документом
	info, err := os.Lstat(s.Path())
	if err != nil {
		t.Fatalf("Lstat() ошибка: %v", err)
	}
	if info.Mode()&os.ModeSymlink == 0 {
		t.Fatal("документ был перезаписан после ошибки чтения")
	}

	if err := os.Remove(s.Path()); err != nil {
		t.Fatalf("ошибка удаления симлинка: %v", err)
	}
	if err := os.Rename(backup, s.Path()); err != nil {
		t.Fatalf("ошибка восстановления: %v", err)
	}

	all, err := s.ListAll(ctx)
	if err != nil {
		t.Fatalf("ListAll() ошибка: %v", err)
	}
	if len(all) != 3 {
		t.Errorf("ожидалось 3 записи, получено %d", len(all))
	}
	got, err := s.GetByShareLink(ctx, "link-1")
	if err != nil {
		t.Fatalf("GetByShareLink() ошибка: %v", err)
	}
	if got.Downloads != 0 {
		t.Errorf("Downloads = %d, ожидался 0", got.Downloads)
	}
}

func TestMissingCategoryDefaults(t *testing.T) {
	s := newTestStore(t)
	doc := `{"link-1":{"id":"id-1","share_link":"link-1","original_name":"a.txt","stored_name":"id-1.txt","size":1}}`
	if err := os.WriteFile(s.Path(), []byte(doc), 0o640); err != nil {
		t.Fatalf("ошибка записи: %v", err)
	}

	got, err := s.GetByShareLink(context.Background(), "link-1")
	if err != nil {
		t.Fatalf("GetByShareLink() ошибка: %v", err)
	}
	if got.Category != model.DefaultCategory {
		t.Errorf("Category = %q, ожидалось %q", got.Category, model.DefaultCategory)
	}
}
