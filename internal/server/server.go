// Пакет server — HTTP-сервер Share Module с graceful shutdown.
// Без TLS — TLS termination на ingress/reverse proxy.
package server

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"

	"github.com/go-chi/chi/v5"

	"github.com/bigkaa/goartstore/share-module/internal/api/handlers"
	"github.com/bigkaa/goartstore/share-module/internal/api/middleware"
	"github.com/bigkaa/goartstore/share-module/internal/config"
)

// Handlers — набор обработчиков, из которых собираются маршруты.
type Handlers struct {
	Files  *handlers.FilesHandler
	Share  *handlers.ShareHandler
	Stats  *handlers.StatsHandler
	Admin  *handlers.AdminHandler
	Events *handlers.EventsHandler
	Health *handlers.HealthHandler
}

// Server — HTTP-сервер Share Module.
type Server struct {
	httpServer *http.Server
	logger     *slog.Logger
	cfg        *config.Config
}

// NewRouter собирает маршруты.
//
// Публичные: /health/*, /metrics, /share/{shareLink}, /info/{shareLink},
// /api/v1/events, /api/v1/events/ws.
// С Principal (auth): /api/v1/files*, /api/v1/stats.
// Только администратор: /api/v1/admin/*.
// middlewares (metrics, logging) применяются ко всем маршрутам в порядке среза.
func NewRouter(h Handlers, auth func(http.Handler) http.Handler, middlewares ...func(http.Handler) http.Handler) chi.Router {
	router := chi.NewRouter()
	for _, mw := range middlewares {
		router.Use(mw)
	}

	router.Get("/health/live", h.Health.HealthLive)
	router.Get("/health/ready", h.Health.HealthReady)
	router.Get("/metrics", h.Health.GetMetrics)

	router.Get("/share/{shareLink}", h.Share.Download)
	router.Get("/info/{shareLink}", h.Share.Info)

	router.Route("/api/v1", func(r chi.Router) {
		r.Get("/events", h.Events.ServeSSE)
		r.Get("/events/ws", h.Events.ServeWS)

		r.Group(func(r chi.Router) {
			r.Use(auth)

			r.Post("/files", h.Files.UploadFile)
			r.Get("/files", h.Files.ListFiles)
			r.Get("/files/category/{category}", h.Files.ListByCategory)
			r.Delete("/files/{id}", h.Files.DeleteFile)
			r.Get("/stats", h.Stats.GetStats)

			r.Route("/admin", func(r chi.Router) {
				r.Use(middleware.RequireAdmin())

				r.Get("/files", h.Admin.ListFiles)
				r.Get("/stats", h.Admin.GetStats)
				r.Delete("/principals/{id}/files", h.Admin.DeletePrincipalFiles)
				r.Post("/reconcile", h.Admin.Reconcile)
			})
		})
	})

	return router
}

// New создаёт HTTP-сервер поверх собранного router.
func New(cfg *config.Config, logger *slog.Logger, router http.Handler) *Server {
	srv := &http.Server{
		Addr:         fmt.Sprintf(":%d", cfg.Port),
		Handler:      router,
		ReadTimeout:  cfg.HTTPReadTimeout,
		WriteTimeout: cfg.HTTPWriteTimeout,
		IdleTimeout:  cfg.HTTPIdleTimeout,
	}

	return &Server{
		httpServer: srv,
		logger:     logger,
		cfg:        cfg,
	}
}

// OnShutdown регистрирует функцию, вызываемую в начале graceful shutdown.
// Используется для закрытия realtime-подписок: иначе SSE-соединения
// держат Shutdown до таймаута.
func (s *Server) OnShutdown(f func()) {
	s.httpServer.RegisterOnShutdown(f)
}

// Run запускает сервер и ожидает сигнала завершения (SIGINT, SIGTERM).
// При получении сигнала выполняется graceful shutdown.
func (s *Server) Run() error {
	errCh := make(chan error, 1)

	go func() {
		s.logger.Info("HTTP-сервер запущен",
			slog.String("addr", s.httpServer.Addr),
		)

		err := s.httpServer.ListenAndServe()
		if err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	defer signal.Stop(quit)

	select {
	case sig := <-quit:
		s.logger.Info("Получен сигнал завершения", slog.String("signal", sig.String()))
	case err := <-errCh:
		if err != nil {
			return fmt.Errorf("ошибка HTTP-сервера: %w", err)
		}
	}

	ctx, cancel := context.WithTimeout(context.Background(), s.cfg.ShutdownTimeout)
	defer cancel()

	s.logger.Info("Выполняется graceful shutdown...")
	if err := s.httpServer.Shutdown(ctx); err != nil {
		return fmt.Errorf("ошибка при graceful shutdown: %w", err)
	}

	s.logger.Info("HTTP-сервер остановлен")
	return nil
}
