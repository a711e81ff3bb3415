package postgres

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/custodia-labs/docintel/internal/core/domain"
	"github.com/custodia-labs/docintel/internal/core/ports/driven"
)

var _ driven.SchedulerStore = (*SchedulerStore)(nil)

// SchedulerStore keeps the maintenance schedule in scheduled_tasks so
// every worker instance sees the same next_run.
type SchedulerStore struct {
	db *DB
}

func NewSchedulerStore(db *DB) *SchedulerStore {
	return &SchedulerStore{db: db}
}

const scheduledColumns = `id, name, type, interval_ns, enabled, next_run, last_run, last_error`

func scanScheduledTask(row rowScanner) (*domain.ScheduledTask, error) {
	var task domain.ScheduledTask
	var lastRun sql.NullTime
	var intervalNs int64

	err := row.Scan(
		&task.ID,
		&task.Name,
		&task.Type,
		&intervalNs,
		&task.Enabled,
		&task.NextRun,
		&lastRun,
		&task.LastError,
	)
	if err != nil {
		return nil, err
	}

	task.Interval = time.Duration(intervalNs)
	task.LastRun = TimePtr(lastRun)
	return &task, nil
}

func (s *SchedulerStore) GetScheduledTask(ctx context.Context, id string) (*domain.ScheduledTask, error) {
	task, err := scanScheduledTask(s.db.QueryRowContext(ctx,
		`SELECT `+scheduledColumns+` FROM scheduled_tasks WHERE id = $1`, id))
	if err != nil {
		return nil, mapError("get scheduled task", err)
	}
	return task, nil
}

func (s *SchedulerStore) ListScheduledTasks(ctx context.Context) ([]*domain.ScheduledTask, error) {
	return s.query(ctx, `SELECT `+scheduledColumns+` FROM scheduled_tasks ORDER BY next_run, id`)
}

// SaveScheduledTask upserts by id.
func (s *SchedulerStore) SaveScheduledTask(ctx context.Context, task *domain.ScheduledTask) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO scheduled_tasks (`+scheduledColumns+`)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
		ON CONFLICT (id) DO UPDATE SET
			name = EXCLUDED.name,
			type = EXCLUDED.type,
			interval_ns = EXCLUDED.interval_ns,
			enabled = EXCLUDED.enabled,
			next_run = EXCLUDED.next_run,
			last_run = EXCLUDED.last_run,
			last_error = EXCLUDED.last_error
	`,
		task.ID,
		task.Name,
		string(task.Type),
		int64(task.Interval),
		task.Enabled,
		task.NextRun,
		NullTime(task.LastRun),
		task.LastError,
	)
	return mapError("save scheduled task", err)
}

func (s *SchedulerStore) DeleteScheduledTask(ctx context.Context, id string) error {
	result, err := s.db.ExecContext(ctx, `DELETE FROM scheduled_tasks WHERE id = $1`, id)
	if err != nil {
		return mapError("delete scheduled task", err)
	}
	return requireRow(result)
}

// GetDueScheduledTasks compares against the database clock so workers
// with skewed clocks agree on what is due.
func (s *SchedulerStore) GetDueScheduledTasks(ctx context.Context) ([]*domain.ScheduledTask, error) {
	return s.query(ctx, `
		SELECT `+scheduledColumns+`
		FROM scheduled_tasks
		WHERE enabled AND next_run <= NOW()
		ORDER BY next_run`)
}

// UpdateLastRun stamps the run and moves next_run one interval ahead.
func (s *SchedulerStore) UpdateLastRun(ctx context.Context, id string, lastError string) error {
	result, err := s.db.ExecContext(ctx, `
		UPDATE scheduled_tasks SET
			last_run = NOW(),
			next_run = NOW() + make_interval(secs => interval_ns / 1e9),
			last_error = $1
		WHERE id = $2`, lastError, id)
	if err != nil {
		return mapError("update scheduled task", err)
	}
	return requireRow(result)
}

func (s *SchedulerStore) query(ctx context.Context, query string, args ...any) ([]*domain.ScheduledTask, error) {
	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, mapError("query scheduled tasks", err)
	}
	defer rows.Close()

	var tasks []*domain.ScheduledTask
	for rows.Next() {
		task, err := scanScheduledTask(rows)
		if err != nil {
			return nil, fmt.Errorf("scan scheduled task: %w", err)
		}
		tasks = append(tasks, task)
	}
	return tasks, rows.Err()
}
