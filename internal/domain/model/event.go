package model

// EventType — тип realtime-события реестра.
type EventType string

const (
	// EventAdded — файл добавлен
	EventAdded EventType = "added"
	// EventDeleted — файл удалён
	EventDeleted EventType = "deleted"
)

// Event — событие, рассылаемое всем подключённым клиентам после
// фиксации изменения в реестре. Для added заполнен Record,
// для deleted — только ID.
type Event struct {
	Type   EventType `json:"type"`
	ID     string    `json:"id"`
	Record *FileView `json:"record,omitempty"`
}
