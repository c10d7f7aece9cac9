package worker

import (
	"context"
	"encoding/json"
	"errors"
	"testing"
	"time"

	"github.com/hibiken/asynq"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/feichai0017/batchsheet-processor/pkg/logger"
	"github.com/feichai0017/batchsheet-processor/pkg/queue"
)

type countingWaker struct{ n int }

func (w *countingWaker) Wake() { w.n++ }

func TestDocumentWorker_QueuedNotificationWakesPoller(t *testing.T) {
	waker := &countingWaker{}
	w := &DocumentWorker{BaseWorker: BaseWorker{logger: logger.NewNop()}, waker: waker}

	payload, err := json.Marshal(queue.NewQueuedTask("doc-1", time.Now()))
	require.NoError(t, err)

	err = w.handleDocumentQueued(context.Background(), asynq.NewTask(queue.TaskTypeDocumentQueued, payload))
	require.NoError(t, err)
	assert.Equal(t, 1, waker.n)
}

func TestDocumentWorker_BadPayloadIsNotRetried(t *testing.T) {
	waker := &countingWaker{}
	w := &DocumentWorker{BaseWorker: BaseWorker{logger: logger.NewNop()}, waker: waker}

	err := w.handleDocumentQueued(context.Background(), asynq.NewTask(queue.TaskTypeDocumentQueued, []byte("{")))
	require.Error(t, err)
	assert.True(t, errors.Is(err, asynq.SkipRetry))
	assert.Equal(t, 0, waker.n)
}

func TestNewDocumentWorker_RequiresWaker(t *testing.T) {
	_, err := NewDocumentWorker(&Config{RedisAddr: "localhost:6379"}, nil, logger.NewNop())
	assert.Error(t, err)

	w, err := NewDocumentWorker(&Config{RedisAddr: "localhost:6379"}, &countingWaker{}, logger.NewNop())
	require.NoError(t, err)
	assert.NoError(t, w.Stop())
	// second stop is a no-op
	assert.NoError(t, w.Stop())
}
