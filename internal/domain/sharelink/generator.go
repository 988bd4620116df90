// Пакет sharelink — генерация непредсказуемых токенов публичных ссылок.
//
// Токен = hex(SHA-256(random UUID v4 || unix nanos || seq)).
// UUID берётся из crypto/rand, seq — монотонный счётчик процесса,
// поэтому два вызова в одну наносекунду всё равно дают разные входы хэша.
// Генератор не хранит состояние о выданных токенах: уникальность
// среди записей проверяет хранилище метаданных (ErrConflict).
package sharelink

import (
	"crypto/sha256"
	"encoding/binary"
	"encoding/hex"
	"fmt"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
)

// TokenLength — длина токена в символах (hex SHA-256).
const TokenLength = sha256.Size * 2

// Generator — генератор токенов публичных ссылок.
// Безопасен для конкурентного использования.
type Generator struct {
	newID func() (uuid.UUID, error)
	now   func() time.Time
	seq   atomic.Uint64
}

// New создаёт генератор на crypto/rand и системных часах.
func New() *Generator {
	return &Generator{
		newID: uuid.NewRandom,
		now:   time.Now,
	}
}

// NewWithSource создаёт генератор с подставными источниками энтропии
// и времени. Используется в тестах.
func NewWithSource(newID func() (uuid.UUID, error), now func() time.Time) *Generator {
	return &Generator{newID: newID, now: now}
}

// Generate возвращает новый токен ссылки.
func (g *Generator) Generate() (string, error) {
	id, err := g.newID()
	if err != nil {
		return "", fmt.Errorf("ошибка источника энтропии: %w", err)
	}

	var buf [16 + 8 + 8]byte
	copy(buf[:16], id[:])
	binary.BigEndian.PutUint64(buf[16:24], uint64(g.now().UnixNano()))
	binary.BigEndian.PutUint64(buf[24:], g.seq.Add(1))

	sum := sha256.Sum256(buf[:])
	return hex.EncodeToString(sum[:]), nil
}

// IsValid проверяет формат токена: 64 символа [0-9a-f].
// Используется HTTP-слоем, чтобы не ходить в хранилище с мусором.
func IsValid(token string) bool {
	if len(token) != TokenLength {
		return false
	}
	for _, c := range token {
		if !((c >= '0' && c <= '9') || (c >= 'a' && c <= 'f')) {
			return false
		}
	}
	return true
}
