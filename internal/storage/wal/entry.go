// Пакет wal — файловый журнал операций реестра.
//
// addFile и deleteFile затрагивают два хранилища (содержимое и метаданные).
// Перед первым шагом в журнал пишется запись pending, после фиксации
// метаданных — committed (или rolled_back при компенсации). Запись,
// оставшаяся pending после рестарта, означает, что процесс упал между
// шагами; её разбирает восстановление при старте.
// Каждая операция — отдельный файл {tx_id}.wal.json в SM_WAL_DIR.
package wal

import (
	"time"
)

// OperationType — тип операции журнала.
type OperationType string

const (
	// OpFileAdd — загрузка: содержимое записано, метаданные ещё нет
	OpFileAdd OperationType = "file_add"
	// OpFileDelete — удаление: содержимое удаляется, затем метаданные
	OpFileDelete OperationType = "file_delete"
)

// TransactionStatus — статус записи журнала.
type TransactionStatus string

const (
	StatusPending    TransactionStatus = "pending"
	StatusCommitted  TransactionStatus = "committed"
	StatusRolledBack TransactionStatus = "rolled_back"
)

// Target — файл, над которым выполняется операция.
type Target struct {
	FileID     string `json:"file_id"`
	StoredName string `json:"stored_name"`
	ShareLink  string `json:"share_link,omitempty"`
}

// Entry — запись журнала. Хранится как JSON-файл {tx_id}.wal.json.
type Entry struct {
	TransactionID string            `json:"transaction_id"`
	Operation     OperationType     `json:"operation"`
	Status        TransactionStatus `json:"status"`
	Target        Target            `json:"target"`
	StartedAt     time.Time         `json:"started_at"`
	// CompletedAt — nil для pending записей
	CompletedAt *time.Time `json:"completed_at,omitempty"`
}

// walSuffix — расширение файлов журнала.
const walSuffix = ".wal.json"

func walFileName(txID string) string {
	return txID + walSuffix
}
