package memory

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/custodia-labs/docintel/internal/core/domain"
	"github.com/custodia-labs/docintel/internal/core/ports/driven"
)

// Verify interface compliance
var _ driven.TaskQueue = (*TaskQueue)(nil)

// pollInterval bounds how long a blocked Dequeue waits before rechecking
// delayed tasks.
const pollInterval = 100 * time.Millisecond

// TaskQueue is a single-process task queue used when neither Redis nor
// Postgres is configured. Tasks are lost on restart.
type TaskQueue struct {
	mu     sync.Mutex
	tasks  map[string]*domain.Task
	notify chan struct{}
	closed bool
}

// NewTaskQueue creates an empty in-memory queue
func NewTaskQueue() *TaskQueue {
	return &TaskQueue{
		tasks:  make(map[string]*domain.Task),
		notify: make(chan struct{}, 1),
	}
}

func (q *TaskQueue) signal() {
	select {
	case q.notify <- struct{}{}:
	default:
	}
}

func (q *TaskQueue) Enqueue(ctx context.Context, task *domain.Task) error {
	return q.EnqueueBatch(ctx, []*domain.Task{task})
}

func (q *TaskQueue) EnqueueBatch(ctx context.Context, tasks []*domain.Task) error {
	q.mu.Lock()
	defer q.mu.Unlock()
	if q.closed {
		return fmt.Errorf("queue closed")
	}
	for _, t := range tasks {
		c := *t
		if c.Status == "" {
			c.Status = domain.TaskStatusPending
		}
		q.tasks[t.ID] = &c
	}
	q.signal()
	return nil
}

// next claims the highest priority ready task, oldest first.
func (q *TaskQueue) next() *domain.Task {
	q.mu.Lock()
	defer q.mu.Unlock()

	var ready []*domain.Task
	for _, t := range q.tasks {
		if t.IsReady() {
			ready = append(ready, t)
		}
	}
	if len(ready) == 0 {
		return nil
	}
	sort.Slice(ready, func(i, j int) bool {
		if ready[i].Priority != ready[j].Priority {
			return ready[i].Priority > ready[j].Priority
		}
		return ready[i].CreatedAt.Before(ready[j].CreatedAt)
	})
	t := ready[0]
	t.MarkProcessing()
	c := *t
	return &c
}

func (q *TaskQueue) Dequeue(ctx context.Context) (*domain.Task, error) {
	for {
		if t := q.next(); t != nil {
			return t, nil
		}
		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-q.notify:
		case <-time.After(pollInterval):
		}
	}
}

func (q *TaskQueue) DequeueWithTimeout(ctx context.Context, timeout int) (*domain.Task, error) {
	ctx, cancel := context.WithTimeout(ctx, time.Duration(timeout)*time.Second)
	defer cancel()
	t, err := q.Dequeue(ctx)
	if err == context.DeadlineExceeded {
		return nil, nil
	}
	return t, err
}

func (q *TaskQueue) Ack(ctx context.Context, taskID string) error {
	q.mu.Lock()
	defer q.mu.Unlock()
	t, ok := q.tasks[taskID]
	if !ok {
		return domain.ErrNotFound
	}
	t.MarkCompleted()
	return nil
}

// Nack retries the task with backoff or marks it failed once attempts run out.
func (q *TaskQueue) Nack(ctx context.Context, taskID string, reason string) error {
	q.mu.Lock()
	defer q.mu.Unlock()
	t, ok := q.tasks[taskID]
	if !ok {
		return domain.ErrNotFound
	}
	if t.CanRetry() {
		t.Retry(reason)
	} else {
		t.MarkFailed(reason)
	}
	return nil
}

func (q *TaskQueue) GetTask(ctx context.Context, taskID string) (*domain.Task, error) {
	q.mu.Lock()
	defer q.mu.Unlock()
	t, ok := q.tasks[taskID]
	if !ok {
		return nil, domain.ErrNotFound
	}
	c := *t
	return &c, nil
}

func (q *TaskQueue) ListTasks(ctx context.Context, filter driven.TaskFilter) ([]*domain.Task, error) {
	q.mu.Lock()
	var out []*domain.Task
	for _, t := range q.tasks {
		if filter.Status != "" && t.Status != filter.Status {
			continue
		}
		if filter.Type != "" && t.Type != filter.Type {
			continue
		}
		c := *t
		out = append(out, &c)
	}
	q.mu.Unlock()

	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.After(out[j].CreatedAt) })
	return paginate(out, filter.Limit, filter.Offset), nil
}

func (q *TaskQueue) CancelTask(ctx context.Context, taskID string) error {
	q.mu.Lock()
	defer q.mu.Unlock()
	t, ok := q.tasks[taskID]
	if !ok {
		return domain.ErrNotFound
	}
	if t.Status != domain.TaskStatusPending {
		return fmt.Errorf("%w: task %s is %s", domain.ErrInvalidStateTransition, taskID, t.Status)
	}
	t.MarkFailed("cancelled")
	return nil
}

// PurgeTasks removes finished tasks older than olderThan seconds.
func (q *TaskQueue) PurgeTasks(ctx context.Context, olderThan int) (int, error) {
	q.mu.Lock()
	defer q.mu.Unlock()
	cutoff := time.Now().Add(-time.Duration(olderThan) * time.Second)
	n := 0
	for id, t := range q.tasks {
		finished := t.Status == domain.TaskStatusCompleted || t.Status == domain.TaskStatusFailed
		if finished && t.UpdatedAt.Before(cutoff) {
			delete(q.tasks, id)
			n++
		}
	}
	return n, nil
}

func (q *TaskQueue) Stats(ctx context.Context) (*driven.QueueStats, error) {
	q.mu.Lock()
	defer q.mu.Unlock()
	stats := &driven.QueueStats{}
	var oldest time.Time
	for _, t := range q.tasks {
		switch t.Status {
		case domain.TaskStatusPending:
			stats.PendingCount++
			if oldest.IsZero() || t.CreatedAt.Before(oldest) {
				oldest = t.CreatedAt
			}
		case domain.TaskStatusProcessing:
			stats.ProcessingCount++
		case domain.TaskStatusCompleted:
			stats.CompletedCount++
		case domain.TaskStatusFailed:
			stats.FailedCount++
		}
	}
	if !oldest.IsZero() {
		stats.OldestPendingAge = int64(time.Since(oldest).Seconds())
	}
	return stats, nil
}

func (q *TaskQueue) Ping(ctx context.Context) error {
	q.mu.Lock()
	defer q.mu.Unlock()
	if q.closed {
		return fmt.Errorf("queue closed")
	}
	return nil
}

func (q *TaskQueue) Close() error {
	q.mu.Lock()
	defer q.mu.Unlock()
	q.closed = true
	return nil
}
