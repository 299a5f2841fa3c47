package service

import (
	"encoding/json"
	"fmt"
	"log/slog"
	"time"

	"github.com/hibiken/asynq"

	"CharacterReel-server/logging"
)

const (
	TypeExecuteRun = "run:execute"
)

type RunPayload struct {
	RunID string `json:"run_id"`
}

// Enqueuer is what the HTTP layer needs from the queue.
type Enqueuer interface {
	EnqueueRun(runID string) error
}

type Queue struct {
	client *asynq.Client
	log    *slog.Logger
}

func NewQueue(redis asynq.RedisClientOpt, log *slog.Logger) *Queue {
	return &Queue{
		client: asynq.NewClient(redis),
		log:    logging.WithComponent(logging.OrDefault(log), "queue"),
	}
}

func (q *Queue) Close() error {
	return q.client.Close()
}

// EnqueueRun schedules a persisted run for execution. Runs are never retried
// automatically; a retry is a new run.
func (q *Queue) EnqueueRun(runID string) error {
	task, err := NewRunTask(runID)
	if err != nil {
		return err
	}
	info, err := q.client.Enqueue(task)
	if err != nil {
		return fmt.Errorf("enqueue failed: %w", err)
	}
	q.log.Info("run enqueued", slog.String("run_id", runID), slog.String("task_id", info.ID))
	return nil
}

func NewRunTask(runID string) (*asynq.Task, error) {
	payload, err := json.Marshal(RunPayload{RunID: runID})
	if err != nil {
		return nil, fmt.Errorf("marshal payload failed: %w", err)
	}
	return asynq.NewTask(TypeExecuteRun, payload,
		asynq.MaxRetry(0),
		// 3 scenes at 180 polls of 5s each, plus styling and composing.
		asynq.Timeout(60*time.Minute),
		asynq.Retention(24*time.Hour),
	), nil
}
