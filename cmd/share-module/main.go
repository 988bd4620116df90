// main.go — точка входа Share Module.
// Инициализация: config → logger → хранилища → журнал → реестр →
// восстановление → статистика → сверка → auth → handlers → HTTP-сервер.
package main

import (
	"context"
	"fmt"
	"log"
	"log/slog"
	"time"

	"github.com/bigkaa/goartstore/share-module/internal/api/handlers"
	"github.com/bigkaa/goartstore/share-module/internal/api/middleware"
	"github.com/bigkaa/goartstore/share-module/internal/config"
	"github.com/bigkaa/goartstore/share-module/internal/database"
	"github.com/bigkaa/goartstore/share-module/internal/domain/sharelink"
	"github.com/bigkaa/goartstore/share-module/internal/realtime"
	"github.com/bigkaa/goartstore/share-module/internal/server"
	"github.com/bigkaa/goartstore/share-module/internal/service"
	"github.com/bigkaa/goartstore/share-module/internal/storage/blob"
	"github.com/bigkaa/goartstore/share-module/internal/storage/filestore"
	"github.com/bigkaa/goartstore/share-module/internal/storage/metastore"
	"github.com/bigkaa/goartstore/share-module/internal/storage/metastore/jsonstore"
	"github.com/bigkaa/goartstore/share-module/internal/storage/metastore/pgstore"
	"github.com/bigkaa/goartstore/share-module/internal/storage/s3store"
	"github.com/bigkaa/goartstore/share-module/internal/storage/wal"
)

// pingTimeout — таймаут проверки зависимостей в readiness probe.
const pingTimeout = 3 * time.Second

func main() {
	// 1. Загрузка конфигурации из переменных окружения
	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("Ошибка загрузки конфигурации: %v", err)
	}

	// 2. Настройка логгера
	logger := config.SetupLogger(cfg)
	logger.Info("Share Module запускается",
		slog.String("version", config.Version),
		slog.Int("port", cfg.Port),
		slog.String("metadata_backend", cfg.MetadataBackend),
		slog.String("blob_backend", cfg.BlobBackend),
	)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	// 3. Хранилище метаданных
	meta, metaChecker, err := openMetastore(ctx, cfg, logger)
	if err != nil {
		logger.Error("Ошибка инициализации хранилища метаданных", slog.String("error", err.Error()))
		log.Fatalf("Ошибка инициализации хранилища метаданных: %v", err)
	}
	defer meta.Close()

	// 4. Хранилище содержимого
	blobs, err := openBlobStore(ctx, cfg, logger)
	if err != nil {
		logger.Error("Ошибка инициализации хранилища содержимого", slog.String("error", err.Error()))
		log.Fatalf("Ошибка инициализации хранилища содержимого: %v", err)
	}

	// 5. Журнал операций
	journal, err := wal.New(cfg.WALDir, logger)
	if err != nil {
		logger.Error("Ошибка инициализации WAL", slog.String("error", err.Error()))
		log.Fatalf("Ошибка инициализации WAL: %v", err)
	}

	// 6. Realtime-шина и реестр
	hub := realtime.NewHub(realtime.DefaultBufferSize, logger)
	registry := service.NewRegistryService(meta, blobs, journal, sharelink.New(), hub,
		service.RegistryConfig{
			PublicURL:   cfg.PublicURL,
			MaxFileSize: cfg.MaxFileSize,
			LinkRetries: cfg.LinkRetries,
		}, logger)

	// 7. Восстановление незавершённых операций
	recovered, err := registry.Recover(ctx)
	if err != nil {
		logger.Error("Ошибка восстановления по журналу", slog.String("error", err.Error()))
		log.Fatalf("Ошибка восстановления по журналу: %v", err)
	}
	if recovered > 0 {
		logger.Info("Восстановлены незавершённые операции", slog.Int("count", recovered))
	}

	// 8. Статистика и фоновая сверка
	stats := service.NewStatsService(registry, cfg.RecentLimit, cfg.StatsCacheSize, cfg.StatsCacheTTL)
	reconciler := service.NewReconcileService(meta, blobs, journal, cfg.ReconcileInterval, logger)
	reconciler.Start(ctx)
	defer reconciler.Stop()

	// 9. Аутентификация: JWT при заданном JWKS, иначе анонимный режим
	auth := middleware.Anonymous()
	if cfg.AuthEnabled() {
		jwtAuth, err := middleware.NewJWTAuth(middleware.JWTAuthConfig{
			JWKSURL:         cfg.JWKSURL,
			ClientTimeout:   10 * time.Second,
			RefreshInterval: 15 * time.Minute,
			JWTLeeway:       cfg.JWTLeeway,
			AdminRole:       cfg.JWTAdminRole,
		}, logger)
		if err != nil {
			logger.Error("Ошибка инициализации JWT", slog.String("error", err.Error()))
			log.Fatalf("Ошибка инициализации JWT: %v", err)
		}
		auth = jwtAuth.Middleware()
		logger.Info("JWT-аутентификация включена", slog.String("jwks_url", cfg.JWKSURL))
	} else {
		logger.Warn("SM_JWKS_URL не задан, все запросы выполняются анонимно")
	}

	// 10. Handlers и маршруты
	healthHandler := handlers.NewHealthHandler(map[string]handlers.ReadinessChecker{
		"metadata": metaChecker,
		"blobs":    pingChecker(blobs.Ping),
	})

	router := server.NewRouter(server.Handlers{
		Files:  handlers.NewFilesHandler(registry, cfg.MaxFileSize, logger),
		Share:  handlers.NewShareHandler(registry, logger),
		Stats:  handlers.NewStatsHandler(stats, logger),
		Admin:  handlers.NewAdminHandler(registry, stats, reconciler, logger),
		Events: handlers.NewEventsHandler(hub, cfg.WSPingInterval, logger),
		Health: healthHandler,
	}, auth,
		middleware.MetricsMiddleware(),
		middleware.RequestLogger(logger),
	)

	// 11. HTTP-сервер (блокирующий вызов с graceful shutdown)
	srv := server.New(cfg, logger, router)
	srv.OnShutdown(hub.Close)

	if err := srv.Run(); err != nil {
		logger.Error("Ошибка сервера", slog.String("error", err.Error()))
		log.Fatalf("Сервер завершился с ошибкой: %v", err)
	}

	logger.Info("Share Module остановлен")
}

// openMetastore открывает выбранный backend метаданных и возвращает
// проверку готовности для него.
func openMetastore(ctx context.Context, cfg *config.Config, logger *slog.Logger) (metastore.Store, handlers.ReadinessChecker, error) {
	switch cfg.MetadataBackend {
	case config.MetadataBackendPostgres:
		if err := database.Migrate(cfg, logger); err != nil {
			return nil, nil, err
		}
		pool, err := database.Connect(ctx, cfg, logger)
		if err != nil {
			return nil, nil, err
		}
		return pgstore.New(pool), database.NewReadinessChecker(pool), nil

	case config.MetadataBackendJSON:
		store, err := jsonstore.New(cfg.MetadataFile, logger)
		if err != nil {
			return nil, nil, err
		}
		logger.Info("Метаданные хранятся в JSON-документе", slog.String("path", store.Path()))
		return store, pingChecker(store.Ping), nil

	default:
		return nil, nil, fmt.Errorf("неизвестный backend метаданных: %q", cfg.MetadataBackend)
	}
}

// openBlobStore открывает выбранный backend содержимого.
func openBlobStore(ctx context.Context, cfg *config.Config, logger *slog.Logger) (blob.Store, error) {
	switch cfg.BlobBackend {
	case config.BlobBackendS3:
		client, err := s3store.NewClient(ctx, s3store.Options{
			Bucket:    cfg.S3Bucket,
			Region:    cfg.S3Region,
			Endpoint:  cfg.S3Endpoint,
			Prefix:    cfg.S3Prefix,
			AccessKey: cfg.S3AccessKey,
			SecretKey: cfg.S3SecretKey,
		})
		if err != nil {
			return nil, err
		}
		store, err := s3store.New(ctx, client, cfg.S3Bucket, cfg.S3Prefix, logger)
		if err != nil {
			return nil, err
		}
		logger.Info("Содержимое хранится в S3",
			slog.String("bucket", cfg.S3Bucket),
			slog.String("prefix", cfg.S3Prefix),
		)
		return store, nil

	case config.BlobBackendLocal:
		store, err := filestore.New(cfg.UploadDir)
		if err != nil {
			return nil, err
		}
		logger.Info("Содержимое хранится на диске", slog.String("dir", store.DataDir()))
		return store, nil

	default:
		return nil, fmt.Errorf("неизвестный backend содержимого: %q", cfg.BlobBackend)
	}
}

// pingChecker превращает Ping зависимости в проверку готовности.
func pingChecker(ping func(ctx context.Context) error) handlers.CheckerFunc {
	return func() (string, string) {
		ctx, cancel := context.WithTimeout(context.Background(), pingTimeout)
		defer cancel()
		if err := ping(ctx); err != nil {
			return "fail", err.Error()
		}
		return "ok", "доступно"
	}
}
