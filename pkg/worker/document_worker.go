package worker

import (
	"context"
	"fmt"

	"github.com/hibiken/asynq"

	"github.com/feichai0017/batchsheet-processor/pkg/logger"
	"github.com/feichai0017/batchsheet-processor/pkg/queue"
)

// Waker is told that new documents may be waiting.
type Waker interface {
	Wake()
}

// DocumentWorker consumes document:queued notifications and wakes the poller.
// It never processes documents itself.
type DocumentWorker struct {
	BaseWorker
	waker Waker
}

func NewDocumentWorker(cfg *Config, waker Waker, log logger.Logger) (*DocumentWorker, error) {
	if waker == nil {
		return nil, fmt.Errorf("waker is required")
	}
	concurrency := cfg.Concurrency
	if concurrency <= 0 {
		concurrency = 1
	}
	queues := cfg.Queues
	if len(queues) == 0 {
		queues = map[string]int{queue.QueueName: 1}
	}

	server := asynq.NewServer(
		asynq.RedisClientOpt{Addr: cfg.RedisAddr, Password: cfg.RedisPassword, DB: cfg.RedisDB},
		asynq.Config{
			Concurrency: concurrency,
			Queues:      queues,
		},
	)

	w := &DocumentWorker{
		BaseWorker: BaseWorker{
			server: server,
			mux:    asynq.NewServeMux(),
			logger: log.Named("wake-listener"),
		},
		waker: waker,
	}

	// 注册任务处理器
	w.registerHandlers()
	return w, nil
}

func (w *DocumentWorker) registerHandlers() {
	w.mux.HandleFunc(queue.TaskTypeDocumentQueued, w.handleDocumentQueued)
}

func (w *DocumentWorker) handleDocumentQueued(ctx context.Context, t *asynq.Task) error {
	id, err := queue.DocumentIDFromPayload(t.Payload())
	if err != nil {
		w.logger.Error("Invalid queued notification",
			logger.Error(err),
			logger.String("payload", string(t.Payload())),
		)
		return fmt.Errorf("%w: %v", asynq.SkipRetry, err)
	}

	w.logger.Debug("Received queued notification", logger.DocumentID(id))
	w.waker.Wake()
	return nil
}

func (w *DocumentWorker) Start(ctx context.Context) error {
	if err := w.server.Start(w.mux); err != nil {
		return fmt.Errorf("failed to start wake listener: %w", err)
	}

	go func() {
		<-ctx.Done()
		w.Stop()
	}()

	return nil
}
