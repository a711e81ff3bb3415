package driving

import (
	"context"

	"github.com/custodia-labs/docintel/internal/core/domain"
)

// SchedulerService manages recurring maintenance tasks
type SchedulerService interface {
	// ListScheduledTasks returns every registered schedule
	ListScheduledTasks(ctx context.Context) ([]*domain.ScheduledTask, error)

	// GetScheduledTask retrieves a schedule by ID
	GetScheduledTask(ctx context.Context, id string) (*domain.ScheduledTask, error)

	EnableScheduledTask(ctx context.Context, id string) error
	DisableScheduledTask(ctx context.Context, id string) error

	// TriggerNow enqueues the task immediately without moving its next run
	TriggerNow(ctx context.Context, id string) (*domain.Task, error)
}
