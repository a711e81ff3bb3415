package services

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/custodia-labs/docintel/internal/core/domain"
	"github.com/custodia-labs/docintel/internal/core/ports/driven"
	"github.com/custodia-labs/docintel/internal/core/ports/driving"
)

var _ driving.SchedulerService = (*Scheduler)(nil)

// maintenanceLock guards one enqueue cycle across worker instances.
const maintenanceLock = "scheduler"

// Scheduler turns the persisted maintenance schedule into queue tasks:
// reap_signals archives uploads stuck in processing and
// rescore_commitments refreshes time pressure on pending commitments.
//
// Every worker may run a Scheduler. With a DistributedLock configured only
// the instance holding the lock enqueues in a given cycle, and a lock
// backend error skips the cycle rather than risk double enqueueing.
type Scheduler struct {
	store     driven.SchedulerStore
	taskQueue driven.TaskQueue
	lock      driven.DistributedLock
	logger    *slog.Logger

	pollInterval time.Duration
	lockTTL      time.Duration

	mu     sync.Mutex
	cancel context.CancelFunc
	done   chan struct{}
}

// SchedulerConfig holds configuration for the scheduler.
type SchedulerConfig struct {
	Store     driven.SchedulerStore
	TaskQueue driven.TaskQueue
	Lock      driven.DistributedLock // Optional
	Logger    *slog.Logger

	PollInterval time.Duration // default 30s
	LockTTL      time.Duration // default 2x PollInterval
}

// NewScheduler creates a new scheduler.
func NewScheduler(cfg SchedulerConfig) *Scheduler {
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}
	poll := cfg.PollInterval
	if poll <= 0 {
		poll = 30 * time.Second
	}
	ttl := cfg.LockTTL
	if ttl <= 0 {
		ttl = 2 * poll
	}
	return &Scheduler{
		store:        cfg.Store,
		taskQueue:    cfg.TaskQueue,
		lock:         cfg.Lock,
		logger:       logger,
		pollInterval: poll,
		lockTTL:      ttl,
	}
}

// Start runs the poll loop in the background until Stop or ctx ends.
// Starting a running scheduler is a no-op.
func (s *Scheduler) Start(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.cancel != nil {
		return nil
	}

	loopCtx, cancel := context.WithCancel(ctx)
	s.cancel = cancel
	s.done = make(chan struct{})

	s.logger.Info("scheduler starting", "poll_interval", s.pollInterval)
	go s.run(loopCtx, s.done)
	return nil
}

// Stop ends the poll loop and waits for an in-flight cycle.
func (s *Scheduler) Stop() {
	s.mu.Lock()
	cancel, done := s.cancel, s.done
	s.cancel, s.done = nil, nil
	s.mu.Unlock()

	if cancel == nil {
		return
	}
	cancel()
	<-done
	s.logger.Info("scheduler stopped")
}

func (s *Scheduler) run(ctx context.Context, done chan struct{}) {
	defer close(done)

	ticker := time.NewTicker(s.pollInterval)
	defer ticker.Stop()

	// A restarted worker catches up on overdue maintenance right away.
	s.checkAndEnqueue(ctx)
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			s.checkAndEnqueue(ctx)
		}
	}
}

// checkAndEnqueue runs one cycle under the maintenance lock.
func (s *Scheduler) checkAndEnqueue(ctx context.Context) {
	release, ok := s.acquireCycle(ctx)
	if !ok {
		return
	}
	defer release()
	s.enqueueDue(ctx)
}

func (s *Scheduler) acquireCycle(ctx context.Context) (func(), bool) {
	if s.lock == nil {
		return func() {}, true
	}
	acquired, err := s.lock.Acquire(ctx, maintenanceLock, s.lockTTL)
	if err != nil {
		s.logger.Warn("scheduler lock unavailable, skipping cycle", "error", err)
		return nil, false
	}
	if !acquired {
		s.logger.Debug("another instance owns this scheduler cycle")
		return nil, false
	}
	return func() {
		if err := s.lock.Release(ctx, maintenanceLock); err != nil {
			s.logger.Warn("failed to release scheduler lock", "error", err)
		}
	}, true
}

// enqueueDue enqueues every due schedule. A failed enqueue still advances
// NextRun so a broken queue is retried once per interval, and the error is
// kept on the schedule for the admin routes.
func (s *Scheduler) enqueueDue(ctx context.Context) {
	due, err := s.store.GetDueScheduledTasks(ctx)
	if err != nil {
		s.logger.Error("failed to load due schedules", "error", err)
		return
	}

	for _, scheduled := range due {
		if !scheduled.IsDue() {
			continue
		}
		task := maintenanceTask(scheduled)

		lastError := ""
		if err := s.taskQueue.Enqueue(ctx, task); err != nil {
			lastError = err.Error()
			s.logger.Error("failed to enqueue maintenance task",
				"scheduled_id", scheduled.ID,
				"task_type", scheduled.Type,
				"error", err,
			)
		} else {
			s.logger.Info("enqueued maintenance task",
				"scheduled_id", scheduled.ID,
				"task_id", task.ID,
				"task_type", task.Type,
			)
		}

		if err := s.store.UpdateLastRun(ctx, scheduled.ID, lastError); err != nil {
			s.logger.Warn("failed to record schedule run", "scheduled_id", scheduled.ID, "error", err)
		}
	}
}

// maintenanceTask runs once: the next interval is the retry.
func maintenanceTask(scheduled *domain.ScheduledTask) *domain.Task {
	task := domain.NewTask(scheduled.Type, map[string]string{"scheduled_id": scheduled.ID})
	task.MaxAttempts = 1
	return task
}

// EnsureSchedule registers the default schedules that are missing.
// Schedules an operator already changed keep their interval and enabled flag.
func (s *Scheduler) EnsureSchedule(ctx context.Context, defaults []*domain.ScheduledTask) error {
	for _, scheduled := range defaults {
		_, err := s.store.GetScheduledTask(ctx, scheduled.ID)
		if err == nil {
			continue
		}
		if !errors.Is(err, domain.ErrNotFound) {
			return fmt.Errorf("failed to load schedule %s: %w", scheduled.ID, err)
		}
		if err := s.store.SaveScheduledTask(ctx, scheduled); err != nil {
			return fmt.Errorf("failed to save schedule %s: %w", scheduled.ID, err)
		}
		s.logger.Info("registered schedule",
			"scheduled_id", scheduled.ID,
			"task_type", scheduled.Type,
			"interval", scheduled.Interval,
		)
	}
	return nil
}

func (s *Scheduler) GetScheduledTask(ctx context.Context, id string) (*domain.ScheduledTask, error) {
	return s.store.GetScheduledTask(ctx, id)
}

func (s *Scheduler) ListScheduledTasks(ctx context.Context) ([]*domain.ScheduledTask, error) {
	return s.store.ListScheduledTasks(ctx)
}

func (s *Scheduler) EnableScheduledTask(ctx context.Context, id string) error {
	return s.setEnabled(ctx, id, true)
}

func (s *Scheduler) DisableScheduledTask(ctx context.Context, id string) error {
	return s.setEnabled(ctx, id, false)
}

func (s *Scheduler) setEnabled(ctx context.Context, id string, enabled bool) error {
	scheduled, err := s.store.GetScheduledTask(ctx, id)
	if err != nil {
		return err
	}
	if scheduled.Enabled == enabled {
		return nil
	}
	scheduled.Enabled = enabled
	if err := s.store.SaveScheduledTask(ctx, scheduled); err != nil {
		return err
	}
	s.logger.Info("schedule updated", "scheduled_id", id, "enabled", enabled)
	return nil
}

// TriggerNow enqueues a maintenance task immediately. The regular
// NextRun is left alone.
func (s *Scheduler) TriggerNow(ctx context.Context, id string) (*domain.Task, error) {
	scheduled, err := s.store.GetScheduledTask(ctx, id)
	if err != nil {
		return nil, err
	}
	task := maintenanceTask(scheduled)
	if err := s.taskQueue.Enqueue(ctx, task); err != nil {
		return nil, fmt.Errorf("failed to enqueue %s: %w", scheduled.Type, err)
	}
	s.logger.Info("maintenance task triggered", "scheduled_id", id, "task_id", task.ID)
	return task, nil
}
