// errors.go — ошибки бизнес-логики сервисного слоя.
package service

import (
	"errors"
	"fmt"
)

var (
	// ErrNotFound — запись не найдена.
	ErrNotFound = errors.New("файл не найден")
	// ErrBlobMissing — запись есть, но содержимое отсутствует.
	// Оборачивает ErrNotFound: для клиента это тоже «не найдено»,
	// но HTTP-слой отдаёт отдельный код для диагностики.
	ErrBlobMissing = fmt.Errorf("%w: содержимое файла отсутствует в хранилище", ErrNotFound)
	// ErrForbidden — нет прав на операцию. Сообщение одинаково для
	// «чужой файл» и «нет такого файла», чтобы не раскрывать владельца.
	ErrForbidden = errors.New("файл не найден или нет прав")
	// ErrIO — сбой записи содержимого или метаданных.
	ErrIO = errors.New("ошибка хранилища")
	// ErrInconsistent — содержимое и метаданные расходятся.
	ErrInconsistent = errors.New("рассогласование содержимого и метаданных")
	// ErrValidation — ошибка валидации входных данных.
	ErrValidation = errors.New("ошибка валидации")
	// ErrTooLarge — файл превышает допустимый размер.
	ErrTooLarge = errors.New("файл превышает допустимый размер")
)
