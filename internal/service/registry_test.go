package service

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/bigkaa/goartstore/share-module/internal/domain/model"
	"github.com/bigkaa/goartstore/share-module/internal/domain/sharelink"
	"github.com/bigkaa/goartstore/share-module/internal/storage/blob"
	"github.com/bigkaa/goartstore/share-module/internal/storage/filestore"
	"github.com/bigkaa/goartstore/share-module/internal/storage/metastore"
	"github.com/bigkaa/goartstore/share-module/internal/storage/metastore/jsonstore"
	"github.com/bigkaa/goartstore/share-module/internal/storage/wal"
)

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

// recorder — Publisher, запоминающий события.
type recorder struct {
	mu     sync.Mutex
	events []model.Event
}

func (r *recorder) Publish(ev model.Event) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.events = append(r.events, ev)
}

func (r *recorder) snapshot() []model.Event {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]model.Event(nil), r.events...)
}

// fixedLinks — генератор, выдающий токены из списка по кругу.
type fixedLinks struct {
	mu    sync.Mutex
	links []string
	n     int
}

func (f *fixedLinks) Generate() (string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	link := f.links[f.n%len(f.links)]
	f.n++
	return link, nil
}

// failingMeta — metastore.Store, у которого Put/Remove возвращают ошибку.
type failingMeta struct {
	metastore.Store
	putErr    error
	removeErr error
}

func (f *failingMeta) Put(ctx context.Context, rec *model.FileRecord) error {
	if f.putErr != nil {
		return f.putErr
	}
	return f.Store.Put(ctx, rec)
}

func (f *failingMeta) Remove(ctx context.Context, id string) error {
	if f.removeErr != nil {
		return f.removeErr
	}
	return f.Store.Remove(ctx, id)
}

// failingBlobs — blob.Store, у которого Delete возвращает ошибку.
type failingBlobs struct {
	blob.Store
	deleteErr error
}

func (f *failingBlobs) Delete(ctx context.Context, name string) error {
	if f.deleteErr != nil {
		return f.deleteErr
	}
	return f.Store.Delete(ctx, name)
}

type testEnv struct {
	reg     *RegistryService
	meta    metastore.Store
	blobs   *filestore.FileStore
	journal *wal.WAL
	events  *recorder
	dir     string
}

type envOption func(*testEnv, *RegistryConfig)

func newEnv(t *testing.T, opts ...envOption) *testEnv {
	t.Helper()
	dir := t.TempDir()

	meta, err := jsonstore.New(filepath.Join(dir, "files.json"), testLogger())
	if err != nil {
		t.Fatalf("jsonstore.New() ошибка: %v", err)
	}
	blobs, err := filestore.New(filepath.Join(dir, "uploads"))
	if err != nil {
		t.Fatalf("filestore.New() ошибка: %v", err)
	}
	journal, err := wal.New(filepath.Join(dir, "wal"), testLogger())
	if err != nil {
		t.Fatalf("wal.New() ошибка: %v", err)
	}

	env := &testEnv{meta: meta, blobs: blobs, journal: journal, events: &recorder{}, dir: dir}
	cfg := RegistryConfig{PublicURL: "http://share.test/", MaxFileSize: 1 << 20, LinkRetries: 3}
	for _, opt := range opts {
		opt(env, &cfg)
	}

	env.reg = NewRegistryService(env.meta, env.blobs, journal, sharelink.New(), env.events, cfg, testLogger())
	return env
}

var alice = model.Principal{ID: "alice", Name: "Alice"}

func (e *testEnv) upload(t *testing.T, name, category string, content []byte, who model.Principal) *AddFileResult {
	t.Helper()
	res, err := e.reg.AddFile(context.Background(), AddFileParams{
		Reader:       bytes.NewReader(content),
		OriginalName: name,
		MimeType:     "application/pdf",
		Size:         int64(len(content)),
		Category:     category,
		Uploader:     who,
	})
	if err != nil {
		t.Fatalf("AddFile(%s) ошибка: %v", name, err)
	}
	return res
}

func readAll(t *testing.T, dl *Download) []byte {
	t.Helper()
	defer dl.Body.Close()
	data, err := io.ReadAll(dl.Body)
	if err != nil {
		t.Fatalf("ошибка чтения содержимого: %v", err)
	}
	return data
}

func TestAddFile_DownloadRoundTrip(t *testing.T) {
	env := newEnv(t)
	ctx := context.Background()
	content := bytes.Repeat([]byte("x"), 1000)

	res := env.upload(t, "notes.pdf", "math", content, alice)

	if !strings.HasPrefix(res.ShareURL, "http://share.test/share/") {
		t.Errorf("ShareURL = %q", res.ShareURL)
	}
	if !sharelink.IsValid(res.Record.ShareLink) {
		t.Errorf("некорректный токен: %q", res.Record.ShareLink)
	}
	if res.Record.ShareLink == res.Record.ID {
		t.Error("токен ссылки совпадает с id")
	}
	if res.Record.UploaderID == nil || *res.Record.UploaderID != "alice" {
		t.Errorf("UploaderID = %v", res.Record.UploaderID)
	}
	if res.Record.StoredName != res.Record.ID+".pdf" {
		t.Errorf("StoredName = %q", res.Record.StoredName)
	}

	dl, err := env.reg.RecordDownload(ctx, res.Record.ShareLink)
	if err != nil {
		t.Fatalf("RecordDownload() ошибка: %v", err)
	}
	if got := readAll(t, dl); !bytes.Equal(got, content) {
		t.Errorf("получено %d байт, ожидалось %d", len(got), len(content))
	}
	if dl.OriginalName != "notes.pdf" || dl.MimeType != "application/pdf" {
		t.Errorf("заголовки: %q %q", dl.OriginalName, dl.MimeType)
	}
	if dl.Downloads != 1 {
		t.Errorf("Downloads = %d, ожидалось 1", dl.Downloads)
	}

	info, err := env.reg.GetInfo(ctx, res.Record.ShareLink)
	if err != nil {
		t.Fatalf("GetInfo() ошибка: %v", err)
	}
	if info.Downloads != 1 {
		t.Errorf("GetInfo не должен менять счётчик: %d", info.Downloads)
	}

	events := env.events.snapshot()
	if len(events) != 1 || events[0].Type != model.EventAdded || events[0].Record == nil {
		t.Fatalf("события: %+v", events)
	}
	if events[0].Record.ID != res.Record.ID {
		t.Errorf("событие для %s, ожидалось %s", events[0].Record.ID, res.Record.ID)
	}

	pending, _ := env.journal.Pending()
	if len(pending) != 0 {
		t.Errorf("в журнале осталось pending: %d", len(pending))
	}
}

func TestAddFile_AnonymousAndDefaults(t *testing.T) {
	env := newEnv(t)

	res, err := env.reg.AddFile(context.Background(), AddFileParams{
		Reader:       strings.NewReader("%PDF-1.4 hello"),
		OriginalName: `C:\Users\bob\report.pdf`,
		Uploader:     model.Anonymous,
	})
	if err != nil {
		t.Fatalf("AddFile() ошибка: %v", err)
	}
	rec := res.Record
	if rec.OriginalName != "report.pdf" {
		t.Errorf("OriginalName = %q", rec.OriginalName)
	}
	if rec.Category != model.DefaultCategory {
		t.Errorf("Category = %q", rec.Category)
	}
	if rec.UploaderID != nil || rec.UploaderName != model.AnonymousName {
		t.Errorf("анонимная загрузка: %v %q", rec.UploaderID, rec.UploaderName)
	}
	if rec.MimeType != "application/pdf" {
		t.Errorf("MimeType = %q, ожидался определённый по содержимому application/pdf", rec.MimeType)
	}
	if rec.Size != int64(len("%PDF-1.4 hello")) {
		t.Errorf("Size = %d", rec.Size)
	}
}

func TestAddFile_Validation(t *testing.T) {
	env := newEnv(t, func(_ *testEnv, cfg *RegistryConfig) { cfg.MaxFileSize = 10 })
	ctx := context.Background()

	tests := []struct {
		name    string
		params  AddFileParams
		wantErr error
	}{
		{"пустое имя", AddFileParams{Reader: strings.NewReader("a"), OriginalName: "  "}, ErrValidation},
		{"нет содержимого", AddFileParams{OriginalName: "a.txt"}, ErrValidation},
		{"заявлен большой размер", AddFileParams{Reader: strings.NewReader("a"), OriginalName: "a.txt", Size: 11}, ErrTooLarge},
		{"фактически больше лимита", AddFileParams{Reader: strings.NewReader("0123456789abc"), OriginalName: "a.txt", MimeType: "text/plain"}, ErrTooLarge},
		{"обрыв загрузки", AddFileParams{Reader: strings.NewReader("abc"), OriginalName: "a.txt", MimeType: "text/plain", Size: 8}, ErrValidation},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := env.reg.AddFile(ctx, tt.params)
			if !errors.Is(err, tt.wantErr) {
				t.Fatalf("ожидалась %v, получено %v", tt.wantErr, err)
			}
		})
	}

	names, _ := env.blobs.List(ctx)
	if len(names) != 0 {
		t.Errorf("после отказов остались объекты: %v", names)
	}
	all, _ := env.meta.ListAll(ctx)
	if len(all) != 0 {
		t.Errorf("после отказов остались записи: %d", len(all))
	}
	if len(env.events.snapshot()) != 0 {
		t.Error("отказанные загрузки не должны публиковать события")
	}
}

func TestAddFile_CancelledUploadLeavesNothing(t *testing.T) {
	env := newEnv(t)
	ctx, cancel := context.WithCancel(context.Background())

	pr, pw := io.Pipe()
	go func() {
		_, _ = pw.Write([]byte("partial"))
		cancel()
		_, _ = pw.Write([]byte("more"))
		pw.Close()
	}()

	_, err := env.reg.AddFile(ctx, AddFileParams{Reader: pr, OriginalName: "a.txt", MimeType: "text/plain"})
	pr.Close()
	if !errors.Is(err, ErrIO) {
		t.Fatalf("ожидалась ErrIO, получено %v", err)
	}

	names, _ := env.blobs.List(context.Background())
	if len(names) != 0 {
		t.Errorf("частичная загрузка оставила объекты: %v", names)
	}
	all, _ := env.meta.ListAll(context.Background())
	if len(all) != 0 {
		t.Errorf("частичная загрузка создала запись")
	}
}

func TestAddFile_RetriesOnLinkCollision(t *testing.T) {
	links := &fixedLinks{links: []string{"aaa", "aaa", "bbb"}}
	env := newEnv(t)
	env.reg.links = links

	first := env.upload(t, "a.txt", "", []byte("a"), alice)
	if first.Record.ShareLink != "aaa" {
		t.Fatalf("первая ссылка = %q", first.Record.ShareLink)
	}

	second := env.upload(t, "b.txt", "", []byte("b"), alice)
	if second.Record.ShareLink != "bbb" {
		t.Errorf("после коллизии ожидалась ссылка bbb, получена %q", second.Record.ShareLink)
	}
}

func TestAddFile_CollisionRetriesExhausted(t *testing.T) {
	env := newEnv(t, func(_ *testEnv, cfg *RegistryConfig) { cfg.LinkRetries = 2 })
	env.reg.links = &fixedLinks{links: []string{"same"}}
	ctx := context.Background()

	env.upload(t, "a.txt", "", []byte("a"), alice)

	_, err := env.reg.AddFile(ctx, AddFileParams{Reader: strings.NewReader("b"), OriginalName: "b.txt", MimeType: "text/plain"})
	if !errors.Is(err, ErrIO) {
		t.Fatalf("ожидалась ErrIO, получено %v", err)
	}

	names, _ := env.blobs.List(ctx)
	if len(names) != 1 {
		t.Errorf("объектов = %d, ожидался 1 (компенсация)", len(names))
	}
}

func TestAddFile_MetadataFailureCompensates(t *testing.T) {
	env := newEnv(t, func(e *testEnv, _ *RegistryConfig) {
		e.meta = &failingMeta{Store: e.meta, putErr: errors.New("диск переполнен")}
	})
	ctx := context.Background()

	_, err := env.reg.AddFile(ctx, AddFileParams{Reader: strings.NewReader("data"), OriginalName: "a.txt", MimeType: "text/plain"})
	if !errors.Is(err, ErrIO) {
		t.Fatalf("ожидалась ErrIO, получено %v", err)
	}

	names, _ := env.blobs.List(ctx)
	if len(names) != 0 {
		t.Errorf("осиротевшее содержимое: %v", names)
	}
	pending, _ := env.journal.Pending()
	if len(pending) != 0 {
		t.Errorf("после успешной компенсации pending = %d", len(pending))
	}
}

func TestAddFile_CompensationFailureKeepsJournal(t *testing.T) {
	var fb *failingBlobs
	env := newEnv(t, func(e *testEnv, _ *RegistryConfig) {
		e.meta = &failingMeta{Store: e.meta, putErr: errors.New("диск переполнен")}
	})
	fb = &failingBlobs{Store: env.blobs, deleteErr: errors.New("нет доступа")}
	env.reg.blobs = fb
	ctx := context.Background()

	_, err := env.reg.AddFile(ctx, AddFileParams{Reader: strings.NewReader("data"), OriginalName: "a.txt", MimeType: "text/plain"})
	if !errors.Is(err, ErrIO) {
		t.Fatalf("ожидалась ErrIO, получено %v", err)
	}

	pending, _ := env.journal.Pending()
	if len(pending) != 1 || pending[0].Operation != wal.OpFileAdd {
		t.Fatalf("ожидалась одна pending file_add, получено %+v", pending)
	}

	// После восстановления доступа Recover удаляет осиротевшее содержимое
	fb.deleteErr = nil
	env.reg.meta = env.meta.(*failingMeta).Store
	recovered, err := env.reg.Recover(ctx)
	if err != nil {
		t.Fatalf("Recover() ошибка: %v", err)
	}
	if recovered != 1 {
		t.Errorf("recovered = %d, ожидалось 1", recovered)
	}
	names, _ := env.blobs.List(ctx)
	if len(names) != 0 {
		t.Errorf("после Recover остались объекты: %v", names)
	}
}

func TestAddFile_RejectedUploadCompensationFailure(t *testing.T) {
	tests := []struct {
		name    string
		content string
		size    int64
		notWant error
	}{
		{"больше лимита", strings.Repeat("x", 64), 0, ErrTooLarge},
		{"неполная загрузка", "data", 10, ErrValidation},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			env := newEnv(t, func(_ *testEnv, cfg *RegistryConfig) { cfg.MaxFileSize = 32 })
			env.reg.blobs = &failingBlobs{Store: env.blobs, deleteErr: errors.New("нет доступа")}
			ctx := context.Background()

			_, err := env.reg.AddFile(ctx, AddFileParams{
				Reader:       strings.NewReader(tt.content),
				OriginalName: "a.txt",
				MimeType:     "text/plain",
				Size:         tt.size,
			})
			if !errors.Is(err, ErrIO) || errors.Is(err, tt.notWant) {
				t.Fatalf("ожидалась ErrIO, получено %v", err)
			}

			pending, _ := env.journal.Pending()
			if len(pending) != 1 || pending[0].Operation != wal.OpFileAdd {
				t.Errorf("ожидалась одна pending file_add, получено %+v", pending)
			}
		})
	}
}

func TestAddFile_ConcurrentUploads(t *testing.T) {
	env := newEnv(t)
	ctx := context.Background()

	const n = 40
	var wg sync.WaitGroup
	for i := range n {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, err := env.reg.AddFile(ctx, AddFileParams{
				Reader:       strings.NewReader(fmt.Sprintf("file-%d", i)),
				OriginalName: fmt.Sprintf("f%d.txt", i),
				MimeType:     "text/plain",
				Uploader:     alice,
			})
			if err != nil {
				t.Errorf("AddFile() ошибка: %v", err)
			}
		}()
	}
	wg.Wait()

	all, _ := env.meta.ListAll(ctx)
	if len(all) != n {
		t.Fatalf("записей = %d, ожидалось %d", len(all), n)
	}
	links := make(map[string]bool)
	for _, rec := range all {
		links[rec.ShareLink] = true
	}
	if len(links) != n {
		t.Errorf("уникальных ссылок = %d, ожидалось %d", len(links), n)
	}
	if len(env.events.snapshot()) != n {
		t.Errorf("событий = %d, ожидалось %d", len(env.events.snapshot()), n)
	}
}

func TestRecordDownload_ConcurrentIncrements(t *testing.T) {
	env := newEnv(t)
	ctx := context.Background()
	res := env.upload(t, "a.txt", "", []byte("abc"), alice)

	const m = 50
	var wg sync.WaitGroup
	for range m {
		wg.Add(1)
		go func() {
			defer wg.Done()
			dl, err := env.reg.RecordDownload(ctx, res.Record.ShareLink)
			if err != nil {
				t.Errorf("RecordDownload() ошибка: %v", err)
				return
			}
			dl.Body.Close()
		}()
	}
	wg.Wait()

	info, _ := env.reg.GetInfo(ctx, res.Record.ShareLink)
	if info.Downloads != m {
		t.Errorf("Downloads = %d, ожидалось %d", info.Downloads, m)
	}
}

func TestRecordDownload_Errors(t *testing.T) {
	env := newEnv(t)
	ctx := context.Background()

	if _, err := env.reg.RecordDownload(ctx, "nope"); !errors.Is(err, ErrNotFound) || errors.Is(err, ErrBlobMissing) {
		t.Errorf("нет записи: ожидалась ErrNotFound, получено %v", err)
	}

	res := env.upload(t, "a.txt", "", []byte("abc"), alice)
	if err := env.blobs.Delete(ctx, res.Record.StoredName); err != nil {
		t.Fatalf("Delete() ошибка: %v", err)
	}

	_, err := env.reg.RecordDownload(ctx, res.Record.ShareLink)
	if !errors.Is(err, ErrBlobMissing) {
		t.Fatalf("нет содержимого: ожидалась ErrBlobMissing, получено %v", err)
	}
	if !errors.Is(err, ErrNotFound) {
		t.Error("ErrBlobMissing должна оборачивать ErrNotFound")
	}

	info, _ := env.reg.GetInfo(ctx, res.Record.ShareLink)
	if info.Downloads != 0 {
		t.Errorf("счётчик увеличен при отсутствии содержимого: %d", info.Downloads)
	}
}

func TestOpenDownload_DoesNotCount(t *testing.T) {
	env := newEnv(t)
	ctx := context.Background()
	res := env.upload(t, "a.txt", "", []byte("abc"), alice)

	dl, err := env.reg.OpenDownload(ctx, res.Record.ShareLink)
	if err != nil {
		t.Fatalf("OpenDownload() ошибка: %v", err)
	}
	dl.Body.Close()
	if dl.Downloads != 0 {
		t.Errorf("Downloads = %d, ожидался 0", dl.Downloads)
	}

	info, _ := env.reg.GetInfo(ctx, res.Record.ShareLink)
	if info.Downloads != 0 {
		t.Errorf("OpenDownload увеличил счётчик: %d", info.Downloads)
	}

	n, err := env.reg.CountDownload(ctx, res.Record.ShareLink)
	if err != nil {
		t.Fatalf("CountDownload() ошибка: %v", err)
	}
	if n != 1 {
		t.Errorf("CountDownload() = %d, ожидался 1", n)
	}

	if _, err := env.reg.CountDownload(ctx, "nope"); !errors.Is(err, ErrNotFound) {
		t.Errorf("нет записи: ожидалась ErrNotFound, получено %v", err)
	}
}

func TestListFiles_CategoryAndOrder(t *testing.T) {
	env := newEnv(t)
	ctx := context.Background()

	base := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	tick := 0
	env.reg.now = func() time.Time {
		tick++
		return base.Add(time.Duration(tick) * time.Minute)
	}

	env.upload(t, "m1.pdf", "math", []byte("1"), alice)
	env.upload(t, "h1.pdf", "history", []byte("2"), alice)
	env.upload(t, "m2.pdf", "math", []byte("3"), alice)

	math, err := env.reg.ListFiles(ctx, "math")
	if err != nil {
		t.Fatalf("ListFiles() ошибка: %v", err)
	}
	if len(math) != 2 {
		t.Fatalf("math: %d записей, ожидалось 2", len(math))
	}
	if math[0].OriginalName != "m2.pdf" || math[1].OriginalName != "m1.pdf" {
		t.Errorf("порядок: %s, %s", math[0].OriginalName, math[1].OriginalName)
	}

	all, _ := env.reg.ListFiles(ctx, "")
	if len(all) != 3 || all[0].OriginalName != "m2.pdf" || all[2].OriginalName != "m1.pdf" {
		t.Errorf("общий список не отсортирован: %+v", all)
	}
}

func TestDeleteFile_Authorization(t *testing.T) {
	env := newEnv(t)
	ctx := context.Background()
	res := env.upload(t, "a.txt", "", []byte("abc"), alice)
	id := res.Record.ID

	bob := model.Principal{ID: "bob"}
	if err := env.reg.DeleteFile(ctx, id, bob); !errors.Is(err, ErrForbidden) {
		t.Fatalf("чужой файл: ожидалась ErrForbidden, получено %v", err)
	}
	if err := env.reg.DeleteFile(ctx, id, model.Anonymous); !errors.Is(err, ErrForbidden) {
		t.Fatalf("анонимный: ожидалась ErrForbidden, получено %v", err)
	}
	if err := env.reg.DeleteFile(ctx, "missing-id", bob); !errors.Is(err, ErrForbidden) {
		t.Errorf("отсутствующий файл для не-админа: ожидалась ErrForbidden, получено %v", err)
	}

	list, _ := env.reg.ListFiles(ctx, "")
	if len(list) != 1 {
		t.Fatal("запись пропала после отказа")
	}
	if ok, _ := env.blobs.Exists(ctx, res.Record.StoredName); !ok {
		t.Fatal("содержимое пропало после отказа")
	}

	admin := model.Principal{ID: "root", IsAdmin: true}
	if err := env.reg.DeleteFile(ctx, "missing-id", admin); !errors.Is(err, ErrNotFound) {
		t.Errorf("отсутствующий файл для админа: ожидалась ErrNotFound, получено %v", err)
	}
	if err := env.reg.DeleteFile(ctx, id, admin); err != nil {
		t.Fatalf("удаление админом: %v", err)
	}
}

func TestDeleteFile_RemovesEverything(t *testing.T) {
	env := newEnv(t)
	ctx := context.Background()
	res := env.upload(t, "a.txt", "", []byte("abc"), alice)

	if err := env.reg.DeleteFile(ctx, res.Record.ID, alice); err != nil {
		t.Fatalf("DeleteFile() ошибка: %v", err)
	}

	if ok, _ := env.blobs.Exists(ctx, res.Record.StoredName); ok {
		t.Error("содержимое не удалено")
	}
	if _, err := env.reg.RecordDownload(ctx, res.Record.ShareLink); !errors.Is(err, ErrNotFound) {
		t.Errorf("скачивание удалённого: %v", err)
	}
	list, _ := env.reg.ListFiles(ctx, "")
	if len(list) != 0 {
		t.Error("удалённый файл виден в списке")
	}

	events := env.events.snapshot()
	last := events[len(events)-1]
	if last.Type != model.EventDeleted || last.ID != res.Record.ID {
		t.Errorf("последнее событие: %+v", last)
	}

	// Повторное удаление
	if err := env.reg.DeleteFile(ctx, res.Record.ID, alice); !errors.Is(err, ErrForbidden) {
		t.Errorf("повторное удаление: %v", err)
	}
}

func TestDeleteFile_MissingBlobStillRemovesRecord(t *testing.T) {
	env := newEnv(t)
	ctx := context.Background()
	res := env.upload(t, "a.txt", "", []byte("abc"), alice)
	_ = env.blobs.Delete(ctx, res.Record.StoredName)

	if err := env.reg.DeleteFile(ctx, res.Record.ID, alice); err != nil {
		t.Fatalf("DeleteFile() ошибка: %v", err)
	}
	if _, err := env.meta.GetByID(ctx, res.Record.ID); !errors.Is(err, metastore.ErrNotFound) {
		t.Errorf("запись осталась: %v", err)
	}
}

func TestDeleteFile_BlobFailureKeepsRecord(t *testing.T) {
	env := newEnv(t)
	ctx := context.Background()
	res := env.upload(t, "a.txt", "", []byte("abc"), alice)
	env.reg.blobs = &failingBlobs{Store: env.blobs, deleteErr: errors.New("нет доступа")}

	if err := env.reg.DeleteFile(ctx, res.Record.ID, alice); !errors.Is(err, ErrIO) {
		t.Fatalf("ожидалась ErrIO, получено %v", err)
	}
	if _, err := env.meta.GetByID(ctx, res.Record.ID); err != nil {
		t.Errorf("запись удалена несмотря на ошибку содержимого: %v", err)
	}
	pending, _ := env.journal.Pending()
	if len(pending) != 0 {
		t.Errorf("pending = %d, ожидалось 0 (rolled back)", len(pending))
	}
}

func TestDeleteFilesForPrincipal(t *testing.T) {
	env := newEnv(t)
	ctx := context.Background()

	env.upload(t, "a1.txt", "", []byte("1"), alice)
	env.upload(t, "a2.txt", "", []byte("2"), alice)
	bobFile := env.upload(t, "b.txt", "", []byte("3"), model.Principal{ID: "bob"})

	results, err := env.reg.DeleteFilesForPrincipal(ctx, "alice")
	if err != nil {
		t.Fatalf("DeleteFilesForPrincipal() ошибка: %v", err)
	}
	if len(results) != 2 {
		t.Fatalf("результатов = %d, ожидалось 2", len(results))
	}
	for _, r := range results {
		if r.Err != nil {
			t.Errorf("ошибка удаления %s: %v", r.ID, r.Err)
		}
	}

	list, _ := env.reg.ListFiles(ctx, "")
	if len(list) != 1 || list[0].ID != bobFile.Record.ID {
		t.Errorf("остались файлы: %+v", list)
	}

	if _, err := env.reg.DeleteFilesForPrincipal(ctx, " "); !errors.Is(err, ErrValidation) {
		t.Errorf("пустой principal: %v", err)
	}
}

func TestDeleteFilesForPrincipal_PartialFailure(t *testing.T) {
	env := newEnv(t)
	ctx := context.Background()

	ok := env.upload(t, "ok.txt", "", []byte("1"), alice)
	bad := env.upload(t, "bad.txt", "", []byte("2"), alice)
	env.reg.blobs = &selectiveBlobs{Store: env.blobs, failName: bad.Record.StoredName}

	results, err := env.reg.DeleteFilesForPrincipal(ctx, "alice")
	if err != nil {
		t.Fatalf("DeleteFilesForPrincipal() ошибка: %v", err)
	}

	byID := make(map[string]error)
	for _, r := range results {
		byID[r.ID] = r.Err
	}
	if byID[ok.Record.ID] != nil {
		t.Errorf("ok.txt: %v", byID[ok.Record.ID])
	}
	if !errors.Is(byID[bad.Record.ID], ErrIO) {
		t.Errorf("bad.txt: ожидалась ErrIO, получено %v", byID[bad.Record.ID])
	}
	if _, err := env.meta.GetByID(ctx, bad.Record.ID); err != nil {
		t.Errorf("bad.txt должен остаться целиком: %v", err)
	}
}

// selectiveBlobs — Delete падает для одного имени.
type selectiveBlobs struct {
	blob.Store
	failName string
}

func (s *selectiveBlobs) Delete(ctx context.Context, name string) error {
	if name == s.failName {
		return errors.New("нет доступа")
	}
	return s.Store.Delete(ctx, name)
}

func TestRecover_PendingOperations(t *testing.T) {
	env := newEnv(t)
	ctx := context.Background()

	// Загрузка, упавшая после записи содержимого
	_, _ = env.blobs.Save(ctx, "orphan.txt", strings.NewReader("x"))
	_, _ = env.journal.Begin(wal.OpFileAdd, wal.Target{FileID: "orphan", StoredName: "orphan.txt"})

	// Загрузка, упавшая после записи метаданных
	committed := env.upload(t, "done.txt", "", []byte("y"), alice)
	_, _ = env.journal.Begin(wal.OpFileAdd, wal.Target{FileID: committed.Record.ID, StoredName: committed.Record.StoredName})

	// Удаление, упавшее после удаления содержимого
	half := env.upload(t, "half.txt", "", []byte("z"), alice)
	_ = env.blobs.Delete(ctx, half.Record.StoredName)
	_, _ = env.journal.Begin(wal.OpFileDelete, wal.Target{FileID: half.Record.ID, StoredName: half.Record.StoredName})

	recovered, err := env.reg.Recover(ctx)
	if err != nil {
		t.Fatalf("Recover() ошибка: %v", err)
	}
	if recovered != 3 {
		t.Errorf("recovered = %d, ожидалось 3", recovered)
	}

	if ok, _ := env.blobs.Exists(ctx, "orphan.txt"); ok {
		t.Error("осиротевшее содержимое не удалено")
	}
	if _, err := env.meta.GetByID(ctx, committed.Record.ID); err != nil {
		t.Errorf("зафиксированная загрузка потеряна: %v", err)
	}
	if _, err := env.meta.GetByID(ctx, half.Record.ID); !errors.Is(err, metastore.ErrNotFound) {
		t.Errorf("незавершённое удаление не довершено: %v", err)
	}

	pending, _ := env.journal.Pending()
	if len(pending) != 0 {
		t.Errorf("pending после Recover = %d", len(pending))
	}
}

func TestVersion_BumpsOnMutations(t *testing.T) {
	env := newEnv(t)
	ctx := context.Background()

	v0 := env.reg.Version()
	res := env.upload(t, "a.txt", "", []byte("a"), alice)
	v1 := env.reg.Version()
	if v1 <= v0 {
		t.Error("версия не выросла после загрузки")
	}

	dl, _ := env.reg.RecordDownload(ctx, res.Record.ShareLink)
	dl.Body.Close()
	v2 := env.reg.Version()
	if v2 <= v1 {
		t.Error("версия не выросла после скачивания")
	}

	_ = env.reg.DeleteFile(ctx, res.Record.ID, alice)
	if env.reg.Version() <= v2 {
		t.Error("версия не выросла после удаления")
	}
}
