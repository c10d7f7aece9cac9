package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/feichai0017/batchsheet-processor/config"
	"github.com/feichai0017/batchsheet-processor/internal/bootstrap"
	"github.com/feichai0017/batchsheet-processor/pkg/logger"
	"github.com/feichai0017/batchsheet-processor/pkg/queue"
	"github.com/feichai0017/batchsheet-processor/pkg/worker"
)

func main() {
	configPath := flag.String("config", os.Getenv("CONFIG_FILE"), "path to the YAML config file")
	flag.Parse()

	cfg, err := config.Load(*configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to load config: %v\n", err)
		os.Exit(1)
	}

	// 初始化日志
	log, err := logger.NewLogger(
		logger.WithConfig(cfg.Log),
		logger.WithService("batchsheet-worker"),
	)
	if err != nil {
		panic(err)
	}
	defer log.Sync()

	app, err := bootstrap.Build(context.Background(), cfg, log)
	if err != nil {
		log.Error("Failed to initialize backends", logger.Error(err))
		os.Exit(1)
	}
	defer app.Close()

	// 创建 poller
	poller, err := worker.NewPoller(worker.PollerDeps{
		Store:     app.Store,
		Blobs:     app.Blobs,
		Extractor: app.Factory.Extractor(),
		Metadata:  app.Factory.Metadata(),
		Guard:     app.Guard(),
	}, worker.PollerConfig{
		WorkerID:    cfg.Worker.ID,
		Interval:    cfg.Worker.Interval,
		BatchSize:   cfg.Worker.BatchSize,
		MaxAttempts: cfg.Worker.MaxAttempts,
		LeaseTTL:    cfg.Worker.LeaseTTL,
		TempDir:     cfg.Worker.TempDir,
	}, log)
	if err != nil {
		log.Error("Failed to create poller", logger.Error(err))
		os.Exit(1)
	}
	workers := []worker.Worker{poller}

	if cfg.Redis.Enabled && cfg.Worker.Wake {
		listener, err := worker.NewDocumentWorker(&worker.Config{
			RedisAddr:     cfg.Redis.Addr,
			RedisPassword: cfg.Redis.Password,
			RedisDB:       cfg.Redis.DB,
			Concurrency:   1,
			Queues:        map[string]int{queue.QueueName: 1},
		}, poller, log)
		if err != nil {
			log.Error("Failed to create wake listener", logger.Error(err))
			os.Exit(1)
		}
		workers = append(workers, listener)
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	// 启动 worker
	for _, w := range workers {
		if err := w.Start(ctx); err != nil {
			log.Error("Failed to start worker", logger.Error(err))
			os.Exit(1)
		}
	}

	// 等待中断信号
	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)
	<-sigChan

	// 优雅关闭
	log.Info("Shutting down worker...")
	for i := len(workers) - 1; i >= 0; i-- {
		if err := workers[i].Stop(); err != nil {
			log.Warn("Worker did not stop cleanly", logger.Error(err))
		}
	}
	log.Info("Worker stopped")
}
