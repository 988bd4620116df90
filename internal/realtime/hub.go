// Пакет realtime — рассылка событий реестра подключённым зрителям.
//
// Hub — шина событий с одним логическим издателем (реестр) и N подписчиками
// (WebSocket/SSE-сессии). Доставка best-effort: журнала и повторной
// отправки нет, подключившийся позже не получает прошлые события.
// Publish выполняется под мьютексом, поэтому все подписчики видят события
// в порядке вызовов Publish. Подписчик, не успевающий читать (буфер полон),
// отключается: клиент переподключится и перечитает список файлов.
package realtime

import (
	"log/slog"
	"sync"

	"github.com/google/uuid"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"

	"github.com/bigkaa/goartstore/share-module/internal/domain/model"
)

// DefaultBufferSize — ёмкость очереди одного подписчика.
const DefaultBufferSize = 64

var (
	subscribersGauge = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "sm_realtime_subscribers",
		Help: "Количество подключённых подписчиков realtime-событий.",
	})
	eventsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "sm_realtime_events_total",
		Help: "Количество опубликованных событий (по типу).",
	}, []string{"type"})
	evictedTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "sm_realtime_evicted_total",
		Help: "Количество подписчиков, отключённых из-за переполнения очереди.",
	})
)

// Subscription — подписка одного зрителя.
type Subscription struct {
	id     string
	events chan model.Event
	hub    *Hub
	once   sync.Once
}

// ID возвращает идентификатор подписки.
func (s *Subscription) ID() string {
	return s.id
}

// Events возвращает канал событий. Канал закрывается при Close,
// закрытии Hub или отключении медленного подписчика.
func (s *Subscription) Events() <-chan model.Event {
	return s.events
}

// Close отписывает зрителя. Повторный вызов безопасен.
func (s *Subscription) Close() {
	s.hub.remove(s)
}

// Hub — шина realtime-событий.
type Hub struct {
	mu         sync.Mutex
	subs       map[string]*Subscription
	bufferSize int
	closed     bool
	logger     *slog.Logger
}

// NewHub создаёт шину. bufferSize <= 0 — DefaultBufferSize.
func NewHub(bufferSize int, logger *slog.Logger) *Hub {
	if bufferSize <= 0 {
		bufferSize = DefaultBufferSize
	}
	return &Hub{
		subs:       make(map[string]*Subscription),
		bufferSize: bufferSize,
		logger:     logger.With(slog.String("component", "realtime")),
	}
}

// Subscribe регистрирует нового зрителя. После Close шины
// возвращается подписка с уже закрытым каналом.
func (h *Hub) Subscribe() *Subscription {
	sub := &Subscription{
		id:     uuid.New().String(),
		events: make(chan model.Event, h.bufferSize),
		hub:    h,
	}

	h.mu.Lock()
	defer h.mu.Unlock()

	if h.closed {
		sub.once.Do(func() { close(sub.events) })
		return sub
	}

	h.subs[sub.id] = sub
	subscribersGauge.Inc()
	h.logger.Debug("Подписчик подключён",
		slog.String("subscriber_id", sub.id),
		slog.Int("subscribers", len(h.subs)),
	)
	return sub
}

// Publish рассылает событие всем текущим подписчикам без блокировки.
func (h *Hub) Publish(ev model.Event) {
	h.mu.Lock()
	defer h.mu.Unlock()

	if h.closed {
		return
	}
	eventsTotal.WithLabelValues(string(ev.Type)).Inc()

	for _, sub := range h.subs {
		select {
		case sub.events <- ev:
		default:
			h.logger.Warn("Очередь подписчика переполнена, подписчик отключён",
				slog.String("subscriber_id", sub.id),
				slog.String("event", string(ev.Type)),
			)
			evictedTotal.Inc()
			h.removeLocked(sub)
		}
	}
}

// Count возвращает число подписчиков.
func (h *Hub) Count() int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return len(h.subs)
}

// Close отключает всех подписчиков. Дальнейшие Publish игнорируются.
func (h *Hub) Close() {
	h.mu.Lock()
	defer h.mu.Unlock()

	h.closed = true
	for _, sub := range h.subs {
		h.removeLocked(sub)
	}
}

func (h *Hub) remove(sub *Subscription) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.removeLocked(sub)
}

// removeLocked удаляет подписчика и закрывает его канал.
// Вызывающий обязан держать h.mu.
func (h *Hub) removeLocked(sub *Subscription) {
	if _, ok := h.subs[sub.id]; ok {
		delete(h.subs, sub.id)
		subscribersGauge.Dec()
	}
	sub.once.Do(func() { close(sub.events) })
}
