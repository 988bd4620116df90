// logging.go — журнал HTTP-запросов Share Module.
// Токен в /share/{shareLink} и /info/{shareLink} даёт доступ к файлу,
// поэтому в лог пишется шаблон маршрута chi, а не исходный путь.
package middleware

import (
	"bufio"
	"errors"
	"log/slog"
	"net"
	"net/http"
	"time"
)

// responseWriter запоминает статус и число отданных байт.
type responseWriter struct {
	http.ResponseWriter
	statusCode int
	written    int64
}

func newResponseWriter(w http.ResponseWriter) *responseWriter {
	return &responseWriter{ResponseWriter: w, statusCode: http.StatusOK}
}

func (rw *responseWriter) WriteHeader(code int) {
	rw.statusCode = code
	rw.ResponseWriter.WriteHeader(code)
}

func (rw *responseWriter) Write(b []byte) (int, error) {
	n, err := rw.ResponseWriter.Write(b)
	rw.written += int64(n)
	return n, err
}

// Unwrap — для http.ResponseController (Flush в SSE).
func (rw *responseWriter) Unwrap() http.ResponseWriter {
	return rw.ResponseWriter
}

// Hijack — для upgrade до WebSocket в /api/v1/events/ws.
func (rw *responseWriter) Hijack() (net.Conn, *bufio.ReadWriter, error) {
	h, ok := rw.ResponseWriter.(http.Hijacker)
	if !ok {
		return nil, nil, errors.New("ResponseWriter не поддерживает Hijack")
	}
	rw.statusCode = http.StatusSwitchingProtocols
	return h.Hijack()
}

// RequestLogger пишет одну запись на запрос. 5xx — ERROR, 4xx — WARN,
// остальное — INFO. Незарегистрированный путь пишется как есть в path,
// для известных маршрутов вместо него пишется route.
func RequestLogger(logger *slog.Logger) func(http.Handler) http.Handler {
	logger = logger.With(slog.String("component", "http"))

	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			start := time.Now()
			wrapped := newResponseWriter(w)

			next.ServeHTTP(wrapped, r)

			level := slog.LevelInfo
			switch {
			case wrapped.statusCode >= 500:
				level = slog.LevelError
			case wrapped.statusCode >= 400:
				level = slog.LevelWarn
			}

			attrs := []slog.Attr{slog.String("method", r.Method)}
			if route := routePattern(r); route != unmatchedPath {
				attrs = append(attrs, slog.String("route", route))
			} else {
				attrs = append(attrs, slog.String("path", r.URL.Path))
			}
			attrs = append(attrs,
				slog.Int("status", wrapped.statusCode),
				slog.Duration("duration", time.Since(start)),
				slog.Int64("bytes", wrapped.written),
				slog.String("remote_addr", r.RemoteAddr),
			)

			logger.LogAttrs(r.Context(), level, "HTTP запрос", attrs...)
		})
	}
}
