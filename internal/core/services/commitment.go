package services

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strconv"
	"time"

	"github.com/custodia-labs/docintel/internal/core/domain"
	"github.com/custodia-labs/docintel/internal/core/ports/driven"
	"github.com/custodia-labs/docintel/internal/core/ports/driving"
)

// Ensure commitmentService implements CommitmentService
var _ driving.CommitmentService = (*commitmentService)(nil)

const (
	rescoreBatchSize       = 200
	rescoreConflictRetries = 3
)

// commitmentService implements the CommitmentService interface
type commitmentService struct {
	backend driven.Backend
	engine  *CommitmentEngine
	logger  *slog.Logger
	now     func() time.Time
}

// CommitmentServiceConfig holds dependencies for the commitment service.
type CommitmentServiceConfig struct {
	Backend driven.Backend
	Engine  *CommitmentEngine
	Logger  *slog.Logger
	Now     func() time.Time
}

// NewCommitmentService creates a new CommitmentService
func NewCommitmentService(cfg CommitmentServiceConfig) driving.CommitmentService {
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}
	now := cfg.Now
	if now == nil {
		now = time.Now
	}
	return &commitmentService{
		backend: cfg.Backend,
		engine:  cfg.Engine,
		logger:  logger,
		now:     now,
	}
}

// Get retrieves a commitment by ID
func (s *commitmentService) Get(ctx context.Context, id string) (*domain.Commitment, error) {
	return s.backend.Commitments().Get(ctx, id)
}

// ListByParty returns a party's commitments
func (s *commitmentService) ListByParty(ctx context.Context, partyID string, limit, offset int) ([]*domain.Commitment, error) {
	if _, err := s.backend.Parties().Get(ctx, partyID); err != nil {
		return nil, err
	}
	return s.backend.Commitments().ListByParty(ctx, partyID, normalizeLimit(limit), offset)
}

// Fulfill marks a pending commitment fulfilled
func (s *commitmentService) Fulfill(ctx context.Context, id, actor string) (*domain.Commitment, error) {
	return s.mutate(ctx, id, actor, domain.InteractionCommitmentFulfilled, func(c *domain.Commitment, meta map[string]string) error {
		return c.Fulfill(s.now())
	})
}

// Cancel marks a pending commitment canceled
func (s *commitmentService) Cancel(ctx context.Context, id, actor, reason string) (*domain.Commitment, error) {
	return s.mutate(ctx, id, actor, domain.InteractionCommitmentCanceled, func(c *domain.Commitment, meta map[string]string) error {
		if reason != "" {
			meta["reason"] = reason
		}
		return c.Cancel(s.now())
	})
}

// UpdateFactors changes priority factors and recomputes the priority
func (s *commitmentService) UpdateFactors(ctx context.Context, id string, factors domain.CommitmentFactors, actor string) (*domain.Commitment, error) {
	if factors.IsEmpty() {
		return nil, fmt.Errorf("%w: no factors to update", domain.ErrInvalidInput)
	}
	return s.mutate(ctx, id, actor, domain.InteractionCommitmentReprioritized, func(c *domain.Commitment, meta map[string]string) error {
		if c.State != domain.CommitmentStatePending {
			return fmt.Errorf("%w: commitment %s is %s", domain.ErrInvalidStateTransition, c.ID, c.State)
		}
		meta["previous_priority"] = strconv.Itoa(c.Priority)
		factors.Apply(c)
		s.engine.Reprioritize(c)
		meta["priority"] = strconv.Itoa(c.Priority)
		return nil
	})
}

// mutate loads, changes and saves a commitment and records the interaction
// in one transaction.
func (s *commitmentService) mutate(
	ctx context.Context,
	id, actor string,
	kind domain.InteractionType,
	change func(c *domain.Commitment, meta map[string]string) error,
) (*domain.Commitment, error) {
	var out *domain.Commitment
	err := s.backend.WithinTx(ctx, func(ctx context.Context, tx driven.Stores) error {
		c, err := tx.Commitments().Get(ctx, id)
		if err != nil {
			return err
		}
		expected := c.State

		interaction := domain.NewInteraction(kind, actor, domain.Ref(domain.EntityKindCommitment, c.ID),
			[]domain.EntityRef{domain.Ref(domain.EntityKindParty, c.PartyID)}, s.now())
		if err := change(c, interaction.Metadata); err != nil {
			return err
		}
		if c.DocumentID != "" {
			interaction.Related = append(interaction.Related, domain.Ref(domain.EntityKindDocument, c.DocumentID))
		}

		if err := tx.Commitments().Update(ctx, c, expected); err != nil {
			return err
		}
		if err := tx.Interactions().Record(ctx, interaction); err != nil {
			return fmt.Errorf("failed to record interaction: %w", err)
		}
		out = c
		return nil
	})
	if err != nil {
		if errors.Is(err, domain.ErrInvalidStateTransition) {
			s.logger.Error("rejected commitment transition", "commitment_id", id, "type", kind, "error", err)
		}
		return nil, err
	}

	s.logger.Info("commitment updated",
		"commitment_id", out.ID,
		"type", kind,
		"state", out.State,
		"priority", out.Priority,
	)
	return out, nil
}

// RescorePending recomputes time pressure for every pending commitment and
// writes back only those whose priority changed.
func (s *commitmentService) RescorePending(ctx context.Context) (int, error) {
	changed := 0
	cursor := ""
	for {
		batch, err := s.backend.Commitments().ListPending(ctx, cursor, rescoreBatchSize)
		if err != nil {
			return changed, fmt.Errorf("failed to list pending commitments: %w", err)
		}
		if len(batch) == 0 {
			break
		}
		for _, c := range batch {
			cursor = c.ID
			ok, err := s.rescore(ctx, c)
			if err != nil {
				return changed, err
			}
			if ok {
				changed++
			}
		}
		if len(batch) < rescoreBatchSize {
			break
		}
	}

	s.logger.Info("rescored pending commitments", "changed", changed)
	return changed, nil
}

// rescore writes a fresh priority for c. A concurrent write wins: c is
// re-read and scored again so factor changes made meanwhile are kept.
func (s *commitmentService) rescore(ctx context.Context, c *domain.Commitment) (bool, error) {
	for attempt := 0; ; attempt++ {
		if c.State != domain.CommitmentStatePending || !s.engine.Reprioritize(c) {
			return false, nil
		}
		err := s.backend.Commitments().Update(ctx, c, domain.CommitmentStatePending)
		if err == nil {
			return true, nil
		}
		if !errors.Is(err, domain.ErrConflict) {
			return false, fmt.Errorf("failed to update commitment %s: %w", c.ID, err)
		}
		if attempt >= rescoreConflictRetries {
			s.logger.Warn("commitment kept changing, rescore skipped", "commitment_id", c.ID)
			return false, nil
		}
		if c, err = s.backend.Commitments().Get(ctx, c.ID); err != nil {
			return false, fmt.Errorf("failed to reload commitment: %w", err)
		}
	}
}

// PreviewPriority scores factors without persisting anything
func (s *commitmentService) PreviewPriority(input domain.PriorityInput) domain.PriorityResult {
	return s.engine.CalculatePriority(input)
}

// normalizeLimit bounds page sizes.
func normalizeLimit(limit int) int {
	if limit <= 0 {
		return 50
	}
	if limit > 500 {
		return 500
	}
	return limit
}
