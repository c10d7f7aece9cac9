package queue

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/hibiken/asynq"
)

const (
	// TaskTypeDocumentQueued announces a PDF waiting for the worker.
	TaskTypeDocumentQueued = "document:queued"

	QueueName = "documents"
)

// Notifier tells workers that new work is pending. Delivery is best-effort;
// the worker's poll remains the source of truth.
type Notifier interface {
	NotifyQueued(ctx context.Context, documentID string) error
	Close() error
}

type Task struct {
	ID        string                 `json:"id"`
	Type      string                 `json:"type"`
	Payload   map[string]interface{} `json:"payload"`
	CreatedAt time.Time              `json:"createdAt"`
}

type QueueConfig struct {
	RedisAddr     string
	RedisPassword string
	RedisDB       int
	// Retention keeps processed notifications visible in the inspector.
	Retention time.Duration
}

func (c *QueueConfig) RedisOpt() asynq.RedisClientOpt {
	return asynq.RedisClientOpt{
		Addr:     c.RedisAddr,
		Password: c.RedisPassword,
		DB:       c.RedisDB,
	}
}

type AsynqQueue struct {
	client *asynq.Client
	config *QueueConfig
}

func NewAsynqQueue(cfg *QueueConfig) *AsynqQueue {
	return &AsynqQueue{
		client: asynq.NewClient(cfg.RedisOpt()),
		config: cfg,
	}
}

// Enqueue serializes task and hands it to asynq.
func (q *AsynqQueue) Enqueue(ctx context.Context, task *Task) error {
	payload, err := json.Marshal(task)
	if err != nil {
		return fmt.Errorf("failed to marshal task: %w", err)
	}

	opts := []asynq.Option{
		asynq.Queue(QueueName),
		asynq.MaxRetry(0),
		asynq.Timeout(time.Minute),
	}
	if task.ID != "" {
		opts = append(opts, asynq.TaskID(task.ID))
	}
	if q.config.Retention > 0 {
		opts = append(opts, asynq.Retention(q.config.Retention))
	}

	info, err := q.client.EnqueueContext(ctx, asynq.NewTask(task.Type, payload, opts...))
	if errors.Is(err, asynq.ErrTaskIDConflict) || errors.Is(err, asynq.ErrDuplicateTask) {
		return nil
	}
	if err != nil {
		return fmt.Errorf("failed to enqueue task: %w", err)
	}
	task.ID = info.ID
	return nil
}

func (q *AsynqQueue) NotifyQueued(ctx context.Context, documentID string) error {
	return q.Enqueue(ctx, NewQueuedTask(documentID, time.Now()))
}

func (q *AsynqQueue) Close() error {
	return q.client.Close()
}

// NewQueuedTask builds the notification for documentID. The task id is derived
// from the document so repeated notifications collapse.
func NewQueuedTask(documentID string, now time.Time) *Task {
	return &Task{
		ID:        "queued:" + documentID,
		Type:      TaskTypeDocumentQueued,
		Payload:   map[string]interface{}{"documentId": documentID},
		CreatedAt: now,
	}
}

// DocumentIDFromPayload extracts the document id of a queued notification.
func DocumentIDFromPayload(data []byte) (string, error) {
	var task Task
	if err := json.Unmarshal(data, &task); err != nil {
		return "", fmt.Errorf("failed to unmarshal task: %w", err)
	}
	id, _ := task.Payload["documentId"].(string)
	if id == "" {
		return "", fmt.Errorf("invalid task data: missing documentId")
	}
	return id, nil
}

// NoopNotifier is used when redis is disabled.
type NoopNotifier struct{}

func (NoopNotifier) NotifyQueued(context.Context, string) error { return nil }
func (NoopNotifier) Close() error                               { return nil }
