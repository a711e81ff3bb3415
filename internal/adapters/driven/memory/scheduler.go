package memory

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/custodia-labs/docintel/internal/core/domain"
	"github.com/custodia-labs/docintel/internal/core/ports/driven"
)

// Verify interface compliance
var _ driven.SchedulerStore = (*SchedulerStore)(nil)

// SchedulerStore keeps scheduled tasks in process memory.
type SchedulerStore struct {
	mu    sync.RWMutex
	tasks map[string]*domain.ScheduledTask
}

// NewSchedulerStore creates an empty SchedulerStore
func NewSchedulerStore() *SchedulerStore {
	return &SchedulerStore{tasks: make(map[string]*domain.ScheduledTask)}
}

func cloneScheduled(t *domain.ScheduledTask) *domain.ScheduledTask {
	c := *t
	if t.LastRun != nil {
		lr := *t.LastRun
		c.LastRun = &lr
	}
	return &c
}

func (s *SchedulerStore) GetScheduledTask(ctx context.Context, id string) (*domain.ScheduledTask, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	t, ok := s.tasks[id]
	if !ok {
		return nil, domain.ErrNotFound
	}
	return cloneScheduled(t), nil
}

func (s *SchedulerStore) ListScheduledTasks(ctx context.Context) ([]*domain.ScheduledTask, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]*domain.ScheduledTask, 0, len(s.tasks))
	for _, t := range s.tasks {
		out = append(out, cloneScheduled(t))
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].NextRun.Equal(out[j].NextRun) {
			return out[i].ID < out[j].ID
		}
		return out[i].NextRun.Before(out[j].NextRun)
	})
	return out, nil
}

func (s *SchedulerStore) SaveScheduledTask(ctx context.Context, task *domain.ScheduledTask) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.tasks[task.ID] = cloneScheduled(task)
	return nil
}

func (s *SchedulerStore) DeleteScheduledTask(ctx context.Context, id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.tasks[id]; !ok {
		return domain.ErrNotFound
	}
	delete(s.tasks, id)
	return nil
}

func (s *SchedulerStore) GetDueScheduledTasks(ctx context.Context) ([]*domain.ScheduledTask, error) {
	all, _ := s.ListScheduledTasks(ctx)
	due := all[:0]
	for _, t := range all {
		if t.IsDue() {
			due = append(due, t)
		}
	}
	return due, nil
}

// UpdateLastRun stamps the run and moves NextRun one interval ahead.
func (s *SchedulerStore) UpdateLastRun(ctx context.Context, id string, lastError string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	t, ok := s.tasks[id]
	if !ok {
		return domain.ErrNotFound
	}
	now := time.Now()
	t.LastRun = &now
	t.NextRun = now.Add(t.Interval)
	t.LastError = lastError
	return nil
}
