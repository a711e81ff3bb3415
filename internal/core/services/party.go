package services

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/custodia-labs/docintel/internal/core/domain"
	"github.com/custodia-labs/docintel/internal/core/ports/driven"
	"github.com/custodia-labs/docintel/internal/core/ports/driving"
)

// Ensure partyService implements PartyService
var _ driving.PartyService = (*partyService)(nil)

// partyService implements the PartyService interface
type partyService struct {
	backend  driven.Backend
	resolver *EntityResolver
	logger   *slog.Logger
	now      func() time.Time
}

// NewPartyService creates a new PartyService
func NewPartyService(backend driven.Backend, resolver *EntityResolver, logger *slog.Logger) driving.PartyService {
	if logger == nil {
		logger = slog.Default()
	}
	return &partyService{
		backend:  backend,
		resolver: resolver,
		logger:   logger,
		now:      time.Now,
	}
}

// Resolve runs the cascade and creates the party on a miss. A new party is
// recorded in the interaction log.
func (s *partyService) Resolve(ctx context.Context, q domain.PartyQuery) (*domain.PartyMatch, error) {
	if err := q.Validate(); err != nil {
		return nil, err
	}

	var match *domain.PartyMatch
	var err error
	for attempt := 0; attempt < 2; attempt++ {
		err = s.backend.WithinTx(ctx, func(ctx context.Context, tx driven.Stores) error {
			resolver := s.resolver.WithStore(tx.Parties())
			m, err := resolver.Match(ctx, q)
			if err != nil {
				return err
			}
			if err := resolver.Persist(ctx, q, m); err != nil {
				return err
			}
			if !m.Matched {
				in := domain.NewInteraction(domain.InteractionPartyCreated, domain.ActorSystem,
					domain.Ref(domain.EntityKindParty, m.Party.ID), nil, s.now())
				in.Metadata["name"] = m.Party.Name
				if err := tx.Interactions().Record(ctx, in); err != nil {
					return fmt.Errorf("failed to record interaction: %w", err)
				}
			}
			match = m
			return nil
		})
		if !errors.Is(err, domain.ErrConflict) {
			break
		}
	}
	if err != nil {
		return nil, err
	}
	return match, nil
}

// ResolveVendor resolves a flat vendor description
func (s *partyService) ResolveVendor(ctx context.Context, vendor map[string]any) (*domain.PartyMatch, error) {
	return s.Resolve(ctx, domain.PartyQueryFromVendor(vendor))
}

// Get retrieves a party by ID
func (s *partyService) Get(ctx context.Context, id string) (*domain.Party, error) {
	return s.backend.Parties().Get(ctx, id)
}

// List returns parties with pagination and the total count
func (s *partyService) List(ctx context.Context, limit, offset int) ([]*domain.Party, int, error) {
	parties, err := s.backend.Parties().List(ctx, normalizeLimit(limit), offset)
	if err != nil {
		return nil, 0, err
	}
	total, err := s.backend.Parties().Count(ctx)
	if err != nil {
		return nil, 0, err
	}
	return parties, total, nil
}

// History returns a party with its commitments, documents and interactions
func (s *partyService) History(ctx context.Context, id string) (*domain.PartyHistory, error) {
	party, err := s.backend.Parties().Get(ctx, id)
	if err != nil {
		return nil, err
	}
	commitments, err := s.backend.Commitments().ListByParty(ctx, id, 0, 0)
	if err != nil {
		return nil, fmt.Errorf("failed to list commitments: %w", err)
	}
	ref := domain.Ref(domain.EntityKindParty, id)
	links, err := s.backend.Links().ListByEntity(ctx, ref)
	if err != nil {
		return nil, fmt.Errorf("failed to list links: %w", err)
	}
	interactions, err := s.backend.Interactions().ListByEntity(ctx, ref, 0, 0)
	if err != nil {
		return nil, fmt.Errorf("failed to list interactions: %w", err)
	}
	return &domain.PartyHistory{
		Party:        party,
		Commitments:  commitments,
		Documents:    links,
		Interactions: interactions,
	}, nil
}
