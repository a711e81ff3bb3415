package worker

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
	"github.com/custodia-labs/docintel/internal/core/services"
)

// errUnknownTaskType is nacked so a newer worker version can pick the task up.
var errUnknownTaskType = errors.New("unknown task type")

// handler runs one task type. A nil error acks the task; any error nacks it.
type handler func(ctx context.Context, task *domain.Task, logger *slog.Logger) error

// Worker drains the task queue: queued uploads run through the pipeline,
// and the maintenance tasks enqueued by the scheduler reap stuck signals
// and rescore pending commitments.
type Worker struct {
	taskQueue   driven.TaskQueue
	pipeline    driving.PipelineService
	intake      *services.SignalIntake
	commitments driving.CommitmentService
	scheduler   *services.Scheduler
	logger      *slog.Logger
	handlers    map[domain.TaskType]handler

	concurrency    int
	dequeueTimeout int // seconds
	staleAfter     time.Duration
	reapBatch      int

	mu     sync.RWMutex
	cancel context.CancelFunc
	done   chan struct{}
}

// WorkerConfig holds configuration for the worker.
type WorkerConfig struct {
	TaskQueue   driven.TaskQueue
	Pipeline    driving.PipelineService
	Intake      *services.SignalIntake
	Commitments driving.CommitmentService
	Scheduler   *services.Scheduler // Optional: started and stopped with the worker
	Logger      *slog.Logger

	Concurrency      int           // default 1
	DequeueTimeout   int           // seconds, default 5
	SignalStaleAfter time.Duration // default 15m
	ReapBatch        int           // default 500
}

// NewWorker creates a new task worker.
func NewWorker(cfg WorkerConfig) *Worker {
	w := &Worker{
		taskQueue:      cfg.TaskQueue,
		pipeline:       cfg.Pipeline,
		intake:         cfg.Intake,
		commitments:    cfg.Commitments,
		scheduler:      cfg.Scheduler,
		logger:         cfg.Logger,
		concurrency:    cfg.Concurrency,
		dequeueTimeout: cfg.DequeueTimeout,
		staleAfter:     cfg.SignalStaleAfter,
		reapBatch:      cfg.ReapBatch,
	}
	if w.logger == nil {
		w.logger = slog.Default()
	}
	if w.concurrency <= 0 {
		w.concurrency = 1
	}
	if w.dequeueTimeout <= 0 {
		w.dequeueTimeout = 5
	}
	if w.staleAfter <= 0 {
		w.staleAfter = 15 * time.Minute
	}
	if w.reapBatch <= 0 {
		w.reapBatch = 500
	}

	w.handlers = map[domain.TaskType]handler{
		domain.TaskTypeProcessUpload:      w.processUpload,
		domain.TaskTypeReapSignals:        w.reapSignals,
		domain.TaskTypeRescoreCommitments: w.rescoreCommitments,
	}
	return w
}

// Start launches the scheduler (if any) and the processing goroutines.
// It returns immediately; calling it on a running worker is a no-op.
func (w *Worker) Start(ctx context.Context) error {
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.cancel != nil {
		return nil
	}

	runCtx, cancel := context.WithCancel(ctx)
	w.cancel = cancel
	w.done = make(chan struct{})

	w.logger.Info("worker starting", "concurrency", w.concurrency, "dequeue_timeout", w.dequeueTimeout)

	if w.scheduler != nil {
		if err := w.scheduler.Start(runCtx); err != nil {
			w.logger.Error("failed to start scheduler", "error", err)
		}
	}

	var wg sync.WaitGroup
	for i := range w.concurrency {
		wg.Add(1)
		go func() {
			defer wg.Done()
			w.processLoop(runCtx, w.logger.With("worker_id", i))
		}()
	}
	go func(done chan struct{}) {
		wg.Wait()
		close(done)
	}(w.done)

	return nil
}

// Stop cancels the processing loops and waits for in-flight tasks.
func (w *Worker) Stop() {
	w.mu.Lock()
	cancel, done := w.cancel, w.done
	w.cancel = nil
	w.mu.Unlock()

	if cancel == nil {
		return
	}
	if w.scheduler != nil {
		w.scheduler.Stop()
	}
	cancel()
	<-done
	w.logger.Info("worker stopped")
}

// Wait blocks until every processing goroutine has exited, either through
// Stop or cancellation of the context given to Start.
func (w *Worker) Wait() {
	w.mu.RLock()
	done := w.done
	w.mu.RUnlock()
	if done != nil {
		<-done
	}
}

func (w *Worker) processLoop(ctx context.Context, logger *slog.Logger) {
	for ctx.Err() == nil {
		task, err := w.taskQueue.DequeueWithTimeout(ctx, w.dequeueTimeout)
		if err != nil {
			if ctx.Err() != nil {
				break
			}
			logger.Error("failed to dequeue task", "error", err)
			select {
			case <-ctx.Done():
			case <-time.After(time.Second):
			}
			continue
		}
		if task != nil {
			w.processTask(ctx, task, logger)
		}
	}
	logger.Debug("worker goroutine exiting")
}

// processTask dispatches one task and acks or nacks it.
func (w *Worker) processTask(ctx context.Context, task *domain.Task, logger *slog.Logger) {
	logger = logger.With("task_id", task.ID, "task_type", task.Type, "attempt", task.Attempts)

	run, ok := w.handlers[task.Type]
	if !ok {
		run = func(context.Context, *domain.Task, *slog.Logger) error {
			return fmt.Errorf("%w: %s", errUnknownTaskType, task.Type)
		}
	}

	start := time.Now()
	err := run(ctx, task, logger)
	duration := time.Since(start)

	if err != nil {
		logger.Error("task failed", "duration", duration, "error", err)
		if nackErr := w.taskQueue.Nack(ctx, task.ID, err.Error()); nackErr != nil {
			logger.Error("failed to nack task", "error", nackErr)
		}
		return
	}

	logger.Info("task completed", "duration", duration)
	if ackErr := w.taskQueue.Ack(ctx, task.ID); ackErr != nil {
		logger.Error("failed to ack task", "error", ackErr)
	}
}

// processUpload runs the pipeline for bytes stored by Enqueue. Failures a
// retry cannot fix (rejected payload, missing vendor) are logged and acked
// so the queue does not spin on them.
func (w *Worker) processUpload(ctx context.Context, task *domain.Task, logger *slog.Logger) error {
	address := task.PayloadValue("address")
	if address == "" {
		logger.Error("dropping upload task without address")
		return nil
	}
	logger = logger.With("address", address)

	result, err := w.pipeline.ProcessStored(ctx, address,
		task.PayloadValue("name"),
		domain.ExtractionKind(task.PayloadValue("kind")),
		task.PayloadValue("actor"),
	)
	var perr *domain.PipelineError
	switch {
	case err == nil:
	case errors.As(err, &perr) && !perr.Retryable():
		logger.Warn("upload failed permanently", "step", perr.Step, "error", perr.Err)
		return nil
	default:
		return err
	}

	logger.Info("upload processed", "signal_id", result.SignalID, "duplicate", result.Duplicate)
	return nil
}

func (w *Worker) reapSignals(ctx context.Context, _ *domain.Task, logger *slog.Logger) error {
	if w.intake == nil {
		return errors.New("signal intake not configured")
	}
	n, err := w.intake.ReapStale(ctx, w.staleAfter, w.reapBatch)
	if err != nil {
		return err
	}
	logger.Info("reaped stale signals", "archived", n, "stale_after", w.staleAfter)
	return nil
}

func (w *Worker) rescoreCommitments(ctx context.Context, _ *domain.Task, logger *slog.Logger) error {
	if w.commitments == nil {
		return errors.New("commitment service not configured")
	}
	n, err := w.commitments.RescorePending(ctx)
	if err != nil {
		return err
	}
	logger.Info("rescored commitments", "changed", n)
	return nil
}

// Health reports whether the worker loop is running and the queue answers.
type Health struct {
	Running     bool   `json:"running"`
	QueueHealth bool   `json:"queue_health"`
	Error       string `json:"error,omitempty"`
}

func (w *Worker) Health(ctx context.Context) Health {
	w.mu.RLock()
	health := Health{Running: w.cancel != nil}
	w.mu.RUnlock()

	if err := w.taskQueue.Ping(ctx); err != nil {
		health.Error = err.Error()
	} else {
		health.QueueHealth = true
	}
	return health
}
