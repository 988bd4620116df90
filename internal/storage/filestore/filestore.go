// Пакет filestore — хранение содержимого файлов на локальном диске.
// Обеспечивает streaming-запись с подсчётом SHA-256 на лету,
// чтение, удаление и перечисление объектов.
package filestore

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"

	"github.com/bigkaa/goartstore/share-module/internal/storage/blob"
)

// tmpSuffix — суффикс незавершённых записей. Такие файлы не видны через List.
const tmpSuffix = ".tmp"

// FileStore — управление физическими файлами в директории загрузок.
type FileStore struct {
	// dataDir — корневая директория хранения файлов (SM_UPLOAD_DIR)
	dataDir string
}

// Проверка на этапе компиляции
var _ blob.Store = (*FileStore)(nil)

// New создаёт новый FileStore. Проверяет и создаёт директорию
// если она не существует.
func New(dataDir string) (*FileStore, error) {
	if err := os.MkdirAll(dataDir, 0o750); err != nil {
		return nil, fmt.Errorf("не удалось создать директорию загрузок %s: %w", dataDir, err)
	}

	return &FileStore{dataDir: dataDir}, nil
}

// Save записывает данные из r на диск с подсчётом SHA-256 на лету.
//
// Паттерн: temp файл → запись + SHA-256 → fsync → atomic rename.
// При ошибке или отмене ctx temp файл удаляется, объект name не появляется.
func (fs *FileStore) Save(ctx context.Context, name string, r io.Reader) (*blob.SaveResult, error) {
	if err := blob.ValidateName(name); err != nil {
		return nil, err
	}

	fullPath := filepath.Join(fs.dataDir, name)
	tmpPath := fullPath + tmpSuffix

	f, err := os.OpenFile(tmpPath, os.O_CREATE|os.O_EXCL|os.O_WRONLY, 0o640)
	if err != nil {
		return nil, fmt.Errorf("ошибка создания временного файла: %w", err)
	}

	hasher := sha256.New()
	tee := io.TeeReader(blob.ContextReader(ctx, r), hasher)

	size, err := io.Copy(f, tee)
	if err != nil {
		f.Close()
		os.Remove(tmpPath)
		return nil, fmt.Errorf("ошибка записи данных: %w", err)
	}

	if err := f.Sync(); err != nil {
		f.Close()
		os.Remove(tmpPath)
		return nil, fmt.Errorf("ошибка fsync: %w", err)
	}

	if err := f.Close(); err != nil {
		os.Remove(tmpPath)
		return nil, fmt.Errorf("ошибка закрытия файла: %w", err)
	}

	if err := os.Rename(tmpPath, fullPath); err != nil {
		os.Remove(tmpPath)
		return nil, fmt.Errorf("ошибка атомарного переименования: %w", err)
	}

	return &blob.SaveResult{
		Size:     size,
		Checksum: hex.EncodeToString(hasher.Sum(nil)),
	}, nil
}

// Open открывает файл для чтения. Body — *os.File, поэтому
// поддерживает Seek для Range-запросов.
func (fs *FileStore) Open(_ context.Context, name string) (*blob.Object, error) {
	if err := blob.ValidateName(name); err != nil {
		return nil, err
	}

	f, err := os.Open(filepath.Join(fs.dataDir, name))
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return nil, fmt.Errorf("%w: %s", blob.ErrNotFound, name)
		}
		return nil, fmt.Errorf("ошибка открытия файла %s: %w", name, err)
	}

	info, err := f.Stat()
	if err != nil {
		f.Close()
		return nil, fmt.Errorf("ошибка получения информации о файле %s: %w", name, err)
	}

	return &blob.Object{Body: f, Size: info.Size(), ModTime: info.ModTime()}, nil
}

// Delete удаляет файл с диска. blob.ErrNotFound, если файла уже нет.
func (fs *FileStore) Delete(_ context.Context, name string) error {
	if err := blob.ValidateName(name); err != nil {
		return err
	}

	err := os.Remove(filepath.Join(fs.dataDir, name))
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return fmt.Errorf("%w: %s", blob.ErrNotFound, name)
		}
		return fmt.Errorf("ошибка удаления файла %s: %w", name, err)
	}
	return nil
}

// Exists проверяет существование файла на диске.
func (fs *FileStore) Exists(_ context.Context, name string) (bool, error) {
	if err := blob.ValidateName(name); err != nil {
		return false, err
	}

	_, err := os.Stat(filepath.Join(fs.dataDir, name))
	if err == nil {
		return true, nil
	}
	if errors.Is(err, os.ErrNotExist) {
		return false, nil
	}
	return false, fmt.Errorf("ошибка проверки файла %s: %w", name, err)
}

// List возвращает имена всех завершённых файлов директории.
func (fs *FileStore) List(_ context.Context) ([]string, error) {
	entries, err := os.ReadDir(fs.dataDir)
	if err != nil {
		return nil, fmt.Errorf("ошибка чтения директории %s: %w", fs.dataDir, err)
	}

	names := make([]string, 0, len(entries))
	for _, e := range entries {
		if e.IsDir() || strings.HasSuffix(e.Name(), tmpSuffix) {
			continue
		}
		names = append(names, e.Name())
	}
	return names, nil
}

// Ping проверяет, что директория загрузок доступна.
func (fs *FileStore) Ping(_ context.Context) error {
	info, err := os.Stat(fs.dataDir)
	if err != nil {
		return fmt.Errorf("директория загрузок недоступна: %w", err)
	}
	if !info.IsDir() {
		return fmt.Errorf("%s не является директорией", fs.dataDir)
	}
	return nil
}

// DataDir возвращает путь к директории загрузок.
func (fs *FileStore) DataDir() string {
	return fs.dataDir
}
