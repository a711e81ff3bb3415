package postgres

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/lib/pq"

	"github.com/custodia-labs/docintel/internal/core/domain"
	"github.com/custodia-labs/docintel/internal/core/ports/driven"
)

var _ driven.TaskQueue = (*Queue)(nil)

// Queue is the Postgres task queue used when REDIS_URL is unset. It shares
// the tasks table created by the postgres adapter schema. Workers claim
// rows with FOR UPDATE SKIP LOCKED, so any number of them can poll the
// same table.
type Queue struct {
	db           *sql.DB
	pollInterval time.Duration
}

// Option configures a Queue.
type Option func(*Queue)

// WithPollInterval sets how often a waiting Dequeue rechecks the table.
func WithPollInterval(d time.Duration) Option {
	return func(q *Queue) {
		if d > 0 {
			q.pollInterval = d
		}
	}
}

// NewQueue creates a queue over an initialized docintel database.
func NewQueue(db *sql.DB, opts ...Option) *Queue {
	q := &Queue{db: db, pollInterval: time.Second}
	for _, opt := range opts {
		opt(q)
	}
	return q
}

const taskColumns = `id, type, payload, status, priority, attempts, max_attempts,
	error, created_at, updated_at, started_at, completed_at, scheduled_for`

// claimSQL moves the best runnable task to processing in one statement.
// Upload tasks and maintenance tasks share the ordering: priority first,
// then age.
const claimSQL = `
	UPDATE tasks SET
		status = 'processing',
		attempts = attempts + 1,
		started_at = NOW(),
		updated_at = NOW()
	WHERE id = (
		SELECT id FROM tasks
		WHERE status = 'pending' AND scheduled_for <= NOW()
		ORDER BY priority DESC, created_at
		LIMIT 1
		FOR UPDATE SKIP LOCKED
	)
	RETURNING ` + taskColumns

type execer interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
}

type rowScanner interface {
	Scan(dest ...any) error
}

func insertTask(ctx context.Context, db execer, task *domain.Task) error {
	payload, err := json.Marshal(task.Payload)
	if err != nil {
		return fmt.Errorf("marshal payload for task %s: %w", task.ID, err)
	}
	status := task.Status
	if status == "" {
		status = domain.TaskStatusPending
	}
	_, err = db.ExecContext(ctx, `
		INSERT INTO tasks (id, type, payload, status, priority, attempts, max_attempts,
			error, created_at, updated_at, scheduled_for)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11)`,
		task.ID, task.Type, payload, status, task.Priority, task.Attempts, task.MaxAttempts,
		task.Error, task.CreatedAt, task.UpdatedAt, task.ScheduledFor,
	)
	if err != nil {
		return fmt.Errorf("insert %s task %s: %w", task.Type, task.ID, err)
	}
	return nil
}

func scanTask(row rowScanner) (*domain.Task, error) {
	var (
		task                   domain.Task
		payload                []byte
		errText                sql.NullString
		startedAt, completedAt sql.NullTime
	)
	err := row.Scan(&task.ID, &task.Type, &payload, &task.Status, &task.Priority,
		&task.Attempts, &task.MaxAttempts, &errText, &task.CreatedAt, &task.UpdatedAt,
		&startedAt, &completedAt, &task.ScheduledFor)
	if err != nil {
		return nil, err
	}
	if len(payload) > 0 {
		if err := json.Unmarshal(payload, &task.Payload); err != nil {
			return nil, fmt.Errorf("decode payload of task %s: %w", task.ID, err)
		}
	}
	task.Error = errText.String
	if startedAt.Valid {
		task.StartedAt = &startedAt.Time
	}
	if completedAt.Valid {
		task.CompletedAt = &completedAt.Time
	}
	return &task, nil
}

func (q *Queue) Enqueue(ctx context.Context, task *domain.Task) error {
	return insertTask(ctx, q.db, task)
}

func (q *Queue) EnqueueBatch(ctx context.Context, tasks []*domain.Task) error {
	return q.inTx(ctx, func(tx *sql.Tx) error {
		for _, task := range tasks {
			if err := insertTask(ctx, tx, task); err != nil {
				return err
			}
		}
		return nil
	})
}

// Dequeue polls until a task is claimed or ctx ends.
func (q *Queue) Dequeue(ctx context.Context) (*domain.Task, error) {
	ticker := time.NewTicker(q.pollInterval)
	defer ticker.Stop()
	for {
		task, err := q.claim(ctx)
		if err != nil || task != nil {
			return task, err
		}
		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-ticker.C:
		}
	}
}

// DequeueWithTimeout returns nil, nil when timeout seconds pass without work.
func (q *Queue) DequeueWithTimeout(ctx context.Context, timeout int) (*domain.Task, error) {
	waitCtx, cancel := context.WithTimeout(ctx, time.Duration(timeout)*time.Second)
	defer cancel()

	task, err := q.Dequeue(waitCtx)
	if errors.Is(err, context.DeadlineExceeded) && ctx.Err() == nil {
		return nil, nil
	}
	return task, err
}

func (q *Queue) claim(ctx context.Context) (*domain.Task, error) {
	task, err := scanTask(q.db.QueryRowContext(ctx, claimSQL))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("claim task: %w", err)
	}
	return task, nil
}

func (q *Queue) Ack(ctx context.Context, taskID string) error {
	result, err := q.db.ExecContext(ctx, `
		UPDATE tasks SET status = $1, error = '', completed_at = NOW(), updated_at = NOW()
		WHERE id = $2`, domain.TaskStatusCompleted, taskID)
	if err != nil {
		return fmt.Errorf("ack task %s: %w", taskID, err)
	}
	return expectRow(result, taskID)
}

// Nack reschedules the task with backoff or fails it for good. The row
// stays locked between the read and the write so a concurrent Ack or
// Cancel cannot be overwritten.
func (q *Queue) Nack(ctx context.Context, taskID string, reason string) error {
	return q.inTx(ctx, func(tx *sql.Tx) error {
		task, err := lockTask(ctx, tx, taskID)
		if err != nil {
			return err
		}
		if task.CanRetry() {
			task.Retry(reason)
		} else {
			task.MarkFailed(reason)
			now := task.UpdatedAt
			task.CompletedAt = &now
		}
		_, err = tx.ExecContext(ctx, `
			UPDATE tasks SET status = $1, error = $2, scheduled_for = $3, updated_at = $4, completed_at = $5
			WHERE id = $6`,
			task.Status, task.Error, task.ScheduledFor, task.UpdatedAt, nullTime(task.CompletedAt), taskID)
		if err != nil {
			return fmt.Errorf("nack task %s: %w", taskID, err)
		}
		return nil
	})
}

func (q *Queue) GetTask(ctx context.Context, taskID string) (*domain.Task, error) {
	task, err := scanTask(q.db.QueryRowContext(ctx, `SELECT `+taskColumns+` FROM tasks WHERE id = $1`, taskID))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, domain.ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("get task %s: %w", taskID, err)
	}
	return task, nil
}

// ListTasks returns matching tasks newest first.
func (q *Queue) ListTasks(ctx context.Context, filter driven.TaskFilter) ([]*domain.Task, error) {
	var (
		where []string
		args  []any
	)
	arg := func(v any) string {
		args = append(args, v)
		return fmt.Sprintf("$%d", len(args))
	}
	if filter.Status != "" {
		where = append(where, "status = "+arg(filter.Status))
	}
	if filter.Type != "" {
		where = append(where, "type = "+arg(filter.Type))
	}

	query := `SELECT ` + taskColumns + ` FROM tasks`
	if len(where) > 0 {
		query += " WHERE " + strings.Join(where, " AND ")
	}
	query += " ORDER BY created_at DESC"
	if filter.Limit > 0 {
		query += " LIMIT " + arg(filter.Limit)
	}
	if filter.Offset > 0 {
		query += " OFFSET " + arg(filter.Offset)
	}

	rows, err := q.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("list tasks: %w", err)
	}
	defer rows.Close()

	var tasks []*domain.Task
	for rows.Next() {
		task, err := scanTask(rows)
		if err != nil {
			return nil, fmt.Errorf("scan task: %w", err)
		}
		tasks = append(tasks, task)
	}
	return tasks, rows.Err()
}

// CancelTask fails a pending task with the error "cancelled".
func (q *Queue) CancelTask(ctx context.Context, taskID string) error {
	return q.inTx(ctx, func(tx *sql.Tx) error {
		task, err := lockTask(ctx, tx, taskID)
		if err != nil {
			return err
		}
		if task.Status != domain.TaskStatusPending {
			return fmt.Errorf("%w: task %s is %s", domain.ErrInvalidStateTransition, taskID, task.Status)
		}
		_, err = tx.ExecContext(ctx, `
			UPDATE tasks SET status = $1, error = 'cancelled', completed_at = NOW(), updated_at = NOW()
			WHERE id = $2`, domain.TaskStatusFailed, taskID)
		if err != nil {
			return fmt.Errorf("cancel task %s: %w", taskID, err)
		}
		return nil
	})
}

func (q *Queue) PurgeTasks(ctx context.Context, olderThan int) (int, error) {
	cutoff := time.Now().Add(-time.Duration(olderThan) * time.Second)
	finished := []string{string(domain.TaskStatusCompleted), string(domain.TaskStatusFailed)}

	result, err := q.db.ExecContext(ctx,
		`DELETE FROM tasks WHERE status = ANY($1) AND updated_at < $2`, pq.Array(finished), cutoff)
	if err != nil {
		return 0, fmt.Errorf("purge tasks: %w", err)
	}
	n, err := result.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("purge tasks: %w", err)
	}
	return int(n), nil
}

func (q *Queue) Stats(ctx context.Context) (*driven.QueueStats, error) {
	var (
		stats  driven.QueueStats
		oldest sql.NullInt64
	)
	err := q.db.QueryRowContext(ctx, `
		SELECT
			COUNT(*) FILTER (WHERE status = 'pending'),
			COUNT(*) FILTER (WHERE status = 'processing'),
			COUNT(*) FILTER (WHERE status = 'completed'),
			COUNT(*) FILTER (WHERE status = 'failed'),
			EXTRACT(EPOCH FROM NOW() - MIN(created_at) FILTER (WHERE status = 'pending'))::bigint
		FROM tasks`).Scan(
		&stats.PendingCount, &stats.ProcessingCount, &stats.CompletedCount, &stats.FailedCount, &oldest)
	if err != nil {
		return nil, fmt.Errorf("queue stats: %w", err)
	}
	stats.OldestPendingAge = oldest.Int64
	return &stats, nil
}

func (q *Queue) Ping(ctx context.Context) error {
	return q.db.PingContext(ctx)
}

// Close is a no-op; the connection pool belongs to the postgres adapter.
func (q *Queue) Close() error {
	return nil
}

func (q *Queue) inTx(ctx context.Context, fn func(*sql.Tx) error) error {
	tx, err := q.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin transaction: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	if err := fn(tx); err != nil {
		return err
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit transaction: %w", err)
	}
	return nil
}

func lockTask(ctx context.Context, tx *sql.Tx, taskID string) (*domain.Task, error) {
	task, err := scanTask(tx.QueryRowContext(ctx,
		`SELECT `+taskColumns+` FROM tasks WHERE id = $1 FOR UPDATE`, taskID))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, domain.ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("lock task %s: %w", taskID, err)
	}
	return task, nil
}

func expectRow(result sql.Result, taskID string) error {
	n, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("task %s: %w", taskID, err)
	}
	if n == 0 {
		return fmt.Errorf("task %s: %w", taskID, domain.ErrNotFound)
	}
	return nil
}

func nullTime(t *time.Time) sql.NullTime {
	if t == nil {
		return sql.NullTime{}
	}
	return sql.NullTime{Time: *t, Valid: true}
}
