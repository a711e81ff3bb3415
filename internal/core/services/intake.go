package services

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/custodia-labs/docintel/internal/core/domain"
	"github.com/custodia-labs/docintel/internal/core/ports/driven"
)

// SignalIntake registers raw intake events exactly once per dedupe key and
// drives their lifecycle.
type SignalIntake struct {
	signals driven.SignalStore
	logger  *slog.Logger
	now     func() time.Time
}

// SignalIntakeConfig holds dependencies for SignalIntake.
type SignalIntakeConfig struct {
	Signals driven.SignalStore
	Logger  *slog.Logger
	Now     func() time.Time
}

// NewSignalIntake creates a new signal intake.
func NewSignalIntake(cfg SignalIntakeConfig) *SignalIntake {
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}
	now := cfg.Now
	if now == nil {
		now = time.Now
	}
	return &SignalIntake{signals: cfg.Signals, logger: logger, now: now}
}

// WithStore returns an intake bound to a different (transaction-scoped) store.
func (i *SignalIntake) WithStore(signals driven.SignalStore) *SignalIntake {
	cp := *i
	cp.signals = signals
	return &cp
}

// CreateSignal returns the active signal holding dedupeKey, or creates one
// in state processing. created reports whether a new signal was made.
func (i *SignalIntake) CreateSignal(ctx context.Context, source, payloadRef, dedupeKey string) (*domain.Signal, bool, error) {
	switch {
	case source == "":
		return nil, false, domain.MissingField("source")
	case payloadRef == "":
		return nil, false, domain.MissingField("payload_ref")
	case dedupeKey == "":
		return nil, false, domain.MissingField("dedupe_key")
	}

	// Two rounds: the winner of an insert race may be archived before we
	// re-read it, in which case the key is free again.
	for attempt := 0; attempt < 2; attempt++ {
		existing, err := i.signals.GetActiveByDedupeKey(ctx, dedupeKey)
		if err == nil {
			return existing, false, nil
		}
		if !errors.Is(err, domain.ErrNotFound) {
			return nil, false, fmt.Errorf("failed to look up signal %s: %w", dedupeKey, err)
		}

		signal := domain.NewSignal(source, payloadRef, dedupeKey, i.now())
		if err := signal.TransitionTo(domain.SignalStateProcessing, i.now()); err != nil {
			return nil, false, err
		}

		err = i.signals.Create(ctx, signal)
		if err == nil {
			i.logger.Debug("signal created", "signal_id", signal.ID, "dedupe_key", dedupeKey)
			return signal, true, nil
		}
		if !errors.Is(err, domain.ErrConflict) {
			return nil, false, fmt.Errorf("failed to create signal %s: %w", dedupeKey, err)
		}
	}

	existing, err := i.signals.GetActiveByDedupeKey(ctx, dedupeKey)
	if err != nil {
		return nil, false, fmt.Errorf("failed to resolve signal %s: %w", dedupeKey, domain.ErrConflict)
	}
	return existing, false, nil
}

// Attach marks signal as having produced documentID.
func (i *SignalIntake) Attach(ctx context.Context, signal *domain.Signal, documentID string) error {
	if documentID == "" {
		return domain.MissingField("document_id")
	}
	return i.transition(ctx, signal, domain.SignalStateAttached, func(s *domain.Signal) {
		s.DocumentID = documentID
		s.Error = ""
	})
}

// Archive retires signal with a reason, freeing its dedupe key.
func (i *SignalIntake) Archive(ctx context.Context, signal *domain.Signal, reason string) error {
	return i.transition(ctx, signal, domain.SignalStateArchived, func(s *domain.Signal) {
		s.Error = reason
	})
}

func (i *SignalIntake) transition(ctx context.Context, signal *domain.Signal, to domain.SignalState, apply func(*domain.Signal)) error {
	from := signal.State
	next := *signal
	if err := next.TransitionTo(to, i.now()); err != nil {
		return err
	}
	apply(&next)

	if err := i.signals.Transition(ctx, &next, from); err != nil {
		return fmt.Errorf("failed to move signal %s to %s: %w", signal.ID, to, err)
	}
	*signal = next
	return nil
}

// ReapStale archives processing signals not updated within olderThan and
// returns how many were archived. Signals that move concurrently are skipped.
func (i *SignalIntake) ReapStale(ctx context.Context, olderThan time.Duration, limit int) (int, error) {
	cutoff := i.now().Add(-olderThan)
	stale, err := i.signals.ListByState(ctx, domain.SignalStateProcessing, cutoff, limit)
	if err != nil {
		return 0, fmt.Errorf("failed to list stale signals: %w", err)
	}

	reaped := 0
	for _, signal := range stale {
		err := i.Archive(ctx, signal, "processing abandoned after "+olderThan.String())
		if errors.Is(err, domain.ErrConflict) {
			continue
		}
		if err != nil {
			return reaped, err
		}
		reaped++
		i.logger.Warn("archived stale signal",
			"signal_id", signal.ID,
			"dedupe_key", signal.DedupeKey,
			"last_update", signal.UpdatedAt,
		)
	}
	return reaped, nil
}
