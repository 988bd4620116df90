// events.go — realtime-подписка зрителей на события реестра.
//
// Два транспорта к одной шине:
//   - GET /api/v1/events — SSE (text/event-stream)
//   - GET /api/v1/events/ws — WebSocket (gorilla/websocket)
//
// Формат события: {"type":"added","id":"...","record":{...}} или
// {"type":"deleted","id":"..."}. Журнала нет: подключившийся позже
// прошлые события не получает. Каждый клиент обслуживается отдельной горутиной.
package handlers

import (
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/gorilla/websocket"
)

// Параметры WebSocket-соединения.
const (
	wsWriteWait      = 10 * time.Second
	wsMaxMessageSize = 512
)

// EventsHandler — обработчик realtime endpoints.
type EventsHandler struct {
	events       EventSource
	pingInterval time.Duration
	upgrader     websocket.Upgrader
	logger       *slog.Logger
}

// NewEventsHandler создаёт обработчик realtime endpoints.
// pingInterval — интервал keepalive для SSE и WebSocket (SM_WS_PING_INTERVAL).
func NewEventsHandler(events EventSource, pingInterval time.Duration, logger *slog.Logger) *EventsHandler {
	return &EventsHandler{
		events:       events,
		pingInterval: pingInterval,
		upgrader: websocket.Upgrader{
			ReadBufferSize:  1024,
			WriteBufferSize: 4096,
			// Лента событий публичная, как и ссылки на скачивание
			CheckOrigin: func(*http.Request) bool { return true },
		},
		logger: logger.With(slog.String("component", "events")),
	}
}

// ServeSSE обрабатывает GET /api/v1/events — SSE endpoint.
// Формат: event: added\ndata: {json}\n\n. Keepalive — комментарий ": ping".
// Graceful disconnect при закрытии клиентом соединения (context cancel)
// или отключении подписки шиной.
func (h *EventsHandler) ServeSSE(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")
	w.Header().Set("X-Accel-Buffering", "no") // Отключаем буферизацию Nginx

	// ResponseController вызывает Unwrap() обёрток middleware
	// и находит оригинальный http.Flusher.
	rc := http.NewResponseController(w)
	if err := rc.Flush(); err != nil {
		http.Error(w, "SSE не поддерживается", http.StatusInternalServerError)
		return
	}
	// Поток живёт дольше SM_HTTP_WRITE_TIMEOUT
	_ = rc.SetWriteDeadline(time.Time{})

	sub := h.events.Subscribe()
	defer sub.Close()

	ctx := r.Context()
	h.logger.Debug("SSE клиент подключён",
		slog.String("subscriber_id", sub.ID()),
		slog.String("remote_addr", r.RemoteAddr),
	)

	ticker := time.NewTicker(h.pingInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			h.logger.Debug("SSE клиент отключён", slog.String("subscriber_id", sub.ID()))
			return

		case ev, ok := <-sub.Events():
			if !ok {
				return
			}
			data, err := json.Marshal(ev)
			if err != nil {
				h.logger.Error("Ошибка сериализации события", slog.String("error", err.Error()))
				continue
			}
			if _, err := fmt.Fprintf(w, "event: %s\ndata: %s\n\n", ev.Type, data); err != nil {
				return
			}
			if err := rc.Flush(); err != nil {
				return
			}

		case <-ticker.C:
			if _, err := fmt.Fprint(w, ": ping\n\n"); err != nil {
				return
			}
			if err := rc.Flush(); err != nil {
				return
			}
		}
	}
}

// ServeWS обрабатывает GET /api/v1/events/ws — WebSocket endpoint.
// Сервер только пишет; входящие сообщения клиента читаются и отбрасываются,
// чтобы обрабатывать pong и закрытие соединения.
func (h *EventsHandler) ServeWS(w http.ResponseWriter, r *http.Request) {
	conn, err := h.upgrader.Upgrade(w, r, nil)
	if err != nil {
		// Upgrader уже записал ответ с ошибкой
		h.logger.Debug("Ошибка WebSocket upgrade", slog.String("error", err.Error()))
		return
	}
	defer conn.Close()

	sub := h.events.Subscribe()
	defer sub.Close()

	h.logger.Debug("WebSocket клиент подключён",
		slog.String("subscriber_id", sub.ID()),
		slog.String("remote_addr", r.RemoteAddr),
	)

	pongWait := h.pingInterval * 2
	conn.SetReadLimit(wsMaxMessageSize)
	_ = conn.SetReadDeadline(time.Now().Add(pongWait))
	conn.SetPongHandler(func(string) error {
		return conn.SetReadDeadline(time.Now().Add(pongWait))
	})

	closed := make(chan struct{})
	go func() {
		defer close(closed)
		for {
			if _, _, err := conn.ReadMessage(); err != nil {
				if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
					h.logger.Debug("WebSocket соединение прервано", slog.String("error", err.Error()))
				}
				return
			}
		}
	}()

	ticker := time.NewTicker(h.pingInterval)
	defer ticker.Stop()

	for {
		select {
		case <-closed:
			h.logger.Debug("WebSocket клиент отключён", slog.String("subscriber_id", sub.ID()))
			return

		case ev, ok := <-sub.Events():
			_ = conn.SetWriteDeadline(time.Now().Add(wsWriteWait))
			if !ok {
				_ = conn.WriteMessage(websocket.CloseMessage,
					websocket.FormatCloseMessage(websocket.CloseGoingAway, "подписка закрыта"))
				return
			}
			if err := conn.WriteJSON(ev); err != nil {
				if !errors.Is(err, websocket.ErrCloseSent) {
					h.logger.Debug("Ошибка отправки события", slog.String("error", err.Error()))
				}
				return
			}

		case <-ticker.C:
			if err := conn.WriteControl(websocket.PingMessage, nil, time.Now().Add(wsWriteWait)); err != nil {
				return
			}
		}
	}
}
