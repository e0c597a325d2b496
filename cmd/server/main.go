package main

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"os"
	"time"

	gfshutdown "github.com/gelmium/graceful-shutdown"
	"github.com/hiroki-koketsu/todo-backend/internal/cache"
	"github.com/hiroki-koketsu/todo-backend/internal/config"
	"github.com/hiroki-koketsu/todo-backend/internal/handler"
	"github.com/hiroki-koketsu/todo-backend/internal/repository"
	"github.com/hiroki-koketsu/todo-backend/internal/telemetry"
	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"
	"go.opentelemetry.io/otel"
)

func main() {
	cfg := config.Load()

	// Basic logger for startup (before OTel is initialized)
	startupLogger := slog.New(slog.NewJSONHandler(os.Stdout, nil))
	startupLogger.Info("starting application",
		slog.String("service", cfg.ServiceName),
		slog.String("environment", cfg.Environment),
		slog.String("port", cfg.ServerPort),
		slog.String("storage", cfg.StorageDriver),
	)

	if err := cfg.Validate(); err != nil {
		startupLogger.Error("invalid configuration", slog.Any("error", err))
		os.Exit(1)
	}

	ctx := context.Background()

	providers, logger, err := telemetry.Setup(ctx, telemetry.Settings{
		ServiceName:  cfg.ServiceName,
		OTLPEndpoint: cfg.OTLPEndpoint,
		Environment:  cfg.Environment,
	})
	if err != nil {
		startupLogger.Error("failed to initialize telemetry", slog.Any("error", err))
		os.Exit(1)
	}

	shutdownOps := map[string]gfshutdown.Operation{
		"telemetry": providers.Shutdown,
	}

	// Storage must be reachable and indexed before the listener starts.
	startupCtx, cancel := context.WithTimeout(ctx, cfg.StartupTimeout)
	store, listCache, err := openStore(startupCtx, cfg, logger, shutdownOps)
	cancel()
	if err != nil {
		logger.Error("startup failed", slog.Any("error", err))
		startupLogger.Error("startup failed", slog.Any("error", err))
		_ = providers.Shutdown(ctx)
		os.Exit(1)
	}

	meter := otel.Meter(cfg.ServiceName)
	metrics, err := telemetry.NewMetrics(meter, store.Count)
	if err != nil {
		logger.Error("failed to create metrics", slog.Any("error", err))
		os.Exit(1)
	}
	if listCache != nil {
		err := telemetry.RegisterCacheMetrics(meter, func() telemetry.CacheCounts {
			stats := listCache.Stats()
			return telemetry.CacheCounts{Hits: stats.Hits, Misses: stats.Misses, Errors: stats.Errors}
		})
		if err != nil {
			logger.Error("failed to create cache metrics", slog.Any("error", err))
			os.Exit(1)
		}
	}

	taskHandler := handler.NewTaskHandler(store, logger, metrics)
	router := handler.NewRouter(taskHandler)

	otelHandler := otelhttp.NewHandler(router, "http-server",
		otelhttp.WithFilter(func(r *http.Request) bool {
			return r.URL.Path != "/health"
		}),
	)

	server := &http.Server{
		Addr:         ":" + cfg.ServerPort,
		Handler:      otelHandler,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 15 * time.Second,
		IdleTimeout:  60 * time.Second,
	}
	shutdownOps["http-server"] = server.Shutdown

	go func() {
		logger.Info("server listening", slog.String("addr", server.Addr))
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Error("server error", slog.Any("error", err))
			os.Exit(1)
		}
	}()

	wait := gfshutdown.GracefulShutdown(ctx, cfg.ShutdownTimeout, shutdownOps)
	exitCode := <-wait
	logger.Info("server stopped", slog.Int("exit_code", exitCode))
	os.Exit(exitCode)
}

// openStore connects the configured storage driver, wraps it with the list
// cache when enabled and registers the matching shutdown operations. The
// returned cache is nil when caching is off.
func openStore(ctx context.Context, cfg *config.Config, logger *slog.Logger, ops map[string]gfshutdown.Operation) (repository.TaskStore, *cache.Cache, error) {
	var store repository.TaskStore

	switch cfg.StorageDriver {
	case config.DriverMemory:
		logger.Warn("using in-memory storage; tasks are lost on exit")
		store = repository.NewMemoryStore()
	default:
		client, err := repository.Connect(ctx, cfg.MongoURI)
		if err != nil {
			return nil, nil, err
		}
		ops["mongo"] = client.Disconnect
		logger.Info("mongo connected", slog.String("database", cfg.MongoDatabase))

		mongoStore := repository.NewMongoStore(client.Database(cfg.MongoDatabase))
		if err := mongoStore.EnsureIndexes(ctx); err != nil {
			return nil, nil, errors.Join(err, client.Disconnect(context.Background()))
		}
		logger.Info("indexes created")
		store = mongoStore
	}

	if cfg.RedisAddr == "" {
		return store, nil, nil
	}

	c, err := cache.Dial(ctx, cfg.RedisAddr, cfg.ServiceName+":", cfg.CacheTTL)
	if err != nil {
		return nil, nil, err
	}
	ops["redis"] = func(context.Context) error { return c.Close() }
	logger.Info("task list cache enabled", slog.String("addr", cfg.RedisAddr), slog.Duration("ttl", cfg.CacheTTL))

	return repository.NewCachedStore(store, c, logger), c, nil
}
