// Package bootstrap assembles the backends shared by the server and worker binaries.
package bootstrap

import (
	"context"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/feichai0017/batchsheet-processor/config"
	"github.com/feichai0017/batchsheet-processor/internal/agent"
	"github.com/feichai0017/batchsheet-processor/internal/repository"
	repomemory "github.com/feichai0017/batchsheet-processor/internal/repository/memory"
	"github.com/feichai0017/batchsheet-processor/internal/repository/postgres"
	"github.com/feichai0017/batchsheet-processor/pkg/lock"
	"github.com/feichai0017/batchsheet-processor/pkg/logger"
	"github.com/feichai0017/batchsheet-processor/pkg/queue"
	"github.com/feichai0017/batchsheet-processor/pkg/storage"
)

const inFlightPrefix = "batchsheet:inflight:"

type App struct {
	Store   repository.DocumentStore
	Blobs   storage.Storage
	Factory *agent.ProcessorFactory

	redis    *redis.Client
	notifier queue.Notifier
	logger   logger.Logger
}

// Build opens every backend named by cfg. On error, whatever was opened is closed.
func Build(ctx context.Context, cfg *config.Config, log logger.Logger) (*App, error) {
	app := &App{logger: log}
	if err := app.open(ctx, cfg); err != nil {
		app.Close()
		return nil, err
	}
	return app, nil
}

func (a *App) open(ctx context.Context, cfg *config.Config) error {
	log := a.logger
	var err error

	if a.Store, err = openStore(ctx, cfg.Database, log); err != nil {
		return err
	}
	if a.Blobs, err = storage.NewStorage(ctx, storage.StorageType(cfg.Storage.Backend), log); err != nil {
		return fmt.Errorf("failed to initialize storage: %w", err)
	}
	if a.Factory, err = agent.NewProcessorFactory(ctx, cfg.OCR, log); err != nil {
		return fmt.Errorf("failed to initialize processor factory: %w", err)
	}

	if cfg.Redis.Enabled {
		a.redis = redis.NewClient(&redis.Options{
			Addr:     cfg.Redis.Addr,
			Password: cfg.Redis.Password,
			DB:       cfg.Redis.DB,
		})
		pingCtx, cancel := context.WithTimeout(ctx, 3*time.Second)
		defer cancel()
		if err := a.redis.Ping(pingCtx).Err(); err != nil {
			// polling still works without redis
			log.Warn("Redis unreachable, wake-ups and in-flight guard degraded",
				logger.String("addr", cfg.Redis.Addr),
				logger.Error(err),
			)
		}
		a.notifier = queue.NewAsynqQueue(&queue.QueueConfig{
			RedisAddr:     cfg.Redis.Addr,
			RedisPassword: cfg.Redis.Password,
			RedisDB:       cfg.Redis.DB,
			Retention:     time.Hour,
		})
	}

	log.Info("Backends ready",
		logger.String("database", cfg.Database.Driver),
		logger.String("storage", cfg.Storage.Backend),
		logger.String("ocr", cfg.OCR.Engine),
		logger.Bool("redis", cfg.Redis.Enabled),
	)
	return nil
}

func openStore(ctx context.Context, cfg config.DatabaseConfig, log logger.Logger) (repository.DocumentStore, error) {
	switch cfg.Driver {
	case "memory":
		log.Warn("Using in-memory document store; documents are lost on restart and not shared between processes")
		return repomemory.New(), nil
	case "postgres":
		pool, err := postgres.NewPool(ctx, cfg.URL, cfg.MaxConns)
		if err != nil {
			return nil, fmt.Errorf("failed to connect to database: %w", err)
		}
		if cfg.Migrate {
			if err := postgres.RunMigrations(ctx, pool, log); err != nil {
				pool.Close()
				return nil, err
			}
		}
		return postgres.New(pool, log), nil
	default:
		return nil, fmt.Errorf("unsupported database driver: %s", cfg.Driver)
	}
}

// Notifier announces queued documents over asynq, or does nothing without redis.
func (a *App) Notifier() queue.Notifier {
	if a.notifier == nil {
		return queue.NoopNotifier{}
	}
	return a.notifier
}

// Guard is the redis in-flight guard, or a no-op without redis.
func (a *App) Guard() lock.Guard {
	if a.redis == nil {
		return lock.NoopGuard{}
	}
	return lock.NewRedisGuard(a.redis, inFlightPrefix)
}

func (a *App) Close() {
	if a.notifier != nil {
		if err := a.notifier.Close(); err != nil {
			a.logger.Warn("Failed to close notifier", logger.Error(err))
		}
	}
	if a.redis != nil {
		if err := a.redis.Close(); err != nil {
			a.logger.Warn("Failed to close redis client", logger.Error(err))
		}
	}
	if a.Factory != nil {
		if err := a.Factory.Close(); err != nil {
			a.logger.Warn("Failed to close OCR engine", logger.Error(err))
		}
	}
	if a.Store != nil {
		a.Store.Close()
	}
}
