package driven

import (
	"context"

	"github.com/custodia-labs/docintel/internal/core/domain"
)

// TaskQueue carries deferred pipeline runs and maintenance jobs to workers.
// The Redis Streams and Postgres backends share this contract with the
// in-memory queue used by single-process deployments.
type TaskQueue interface {
	// Enqueue makes a task visible to workers once its ScheduledFor passes.
	// Higher Priority values are handed out first.
	Enqueue(ctx context.Context, task *domain.Task) error

	// EnqueueBatch is all-or-nothing.
	EnqueueBatch(ctx context.Context, tasks []*domain.Task) error

	// Dequeue claims the next runnable task and marks it processing.
	// It returns nil, nil when nothing is runnable.
	Dequeue(ctx context.Context) (*domain.Task, error)

	// DequeueWithTimeout waits up to timeout seconds for a runnable task.
	DequeueWithTimeout(ctx context.Context, timeout int) (*domain.Task, error)

	// Ack marks a claimed task completed.
	Ack(ctx context.Context, taskID string) error

	// Nack records reason on a claimed task and schedules a retry with
	// backoff, or marks it failed once MaxAttempts is spent.
	Nack(ctx context.Context, taskID string, reason string) error

	GetTask(ctx context.Context, taskID string) (*domain.Task, error)
	ListTasks(ctx context.Context, filter TaskFilter) ([]*domain.Task, error)

	// CancelTask cancels a pending task. Claimed or finished tasks return
	// domain.ErrInvalidStateTransition.
	CancelTask(ctx context.Context, taskID string) error

	// PurgeTasks deletes completed and failed tasks that finished more
	// than olderThan seconds ago and reports how many were removed.
	PurgeTasks(ctx context.Context, olderThan int) (int, error)

	// Stats feeds GET /api/v1/admin/queue.
	Stats(ctx context.Context) (*QueueStats, error)

	Ping(ctx context.Context) error
	Close() error
}

// TaskFilter narrows ListTasks. Zero values match everything.
type TaskFilter struct {
	Status domain.TaskStatus
	Type   domain.TaskType
	Limit  int
	Offset int
}

// QueueStats summarizes queue depth for operators. A growing
// OldestPendingAge (seconds) means workers are not keeping up with uploads.
type QueueStats struct {
	PendingCount     int64 `json:"pending_count"`
	ProcessingCount  int64 `json:"processing_count"`
	CompletedCount   int64 `json:"completed_count"`
	FailedCount      int64 `json:"failed_count"`
	OldestPendingAge int64 `json:"oldest_pending_age"`
}

// SchedulerStore persists the maintenance schedule (signal reaping,
// commitment rescoring). Schedules survive restarts and operator edits
// made through the admin routes.
type SchedulerStore interface {
	// GetScheduledTask returns domain.ErrNotFound for unknown ids.
	GetScheduledTask(ctx context.Context, id string) (*domain.ScheduledTask, error)
	ListScheduledTasks(ctx context.Context) ([]*domain.ScheduledTask, error)

	// SaveScheduledTask upserts by ID.
	SaveScheduledTask(ctx context.Context, task *domain.ScheduledTask) error
	DeleteScheduledTask(ctx context.Context, id string) error

	// GetDueScheduledTasks returns enabled schedules whose NextRun has passed.
	GetDueScheduledTasks(ctx context.Context) ([]*domain.ScheduledTask, error)

	// UpdateLastRun stamps LastRun, advances NextRun by the interval and
	// records lastError (empty on success).
	UpdateLastRun(ctx context.Context, id string, lastError string) error
}
