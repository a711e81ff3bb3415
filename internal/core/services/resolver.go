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

// EntityResolver maps extracted counterparty attributes to a single Party
// using an ordered cascade of matchers. The first tier that matches wins.
type EntityResolver struct {
	parties  driven.PartyStore
	matchers []Matcher
	cfg      domain.ResolverConfig
	logger   *slog.Logger
	now      func() time.Time
}

// EntityResolverConfig holds dependencies for EntityResolver.
type EntityResolverConfig struct {
	Parties  driven.PartyStore
	Config   domain.ResolverConfig
	Matchers []Matcher // Optional: defaults to DefaultMatchers(Config)
	Logger   *slog.Logger
	Now      func() time.Time
}

// NewEntityResolver creates a new resolver.
func NewEntityResolver(cfg EntityResolverConfig) *EntityResolver {
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}
	now := cfg.Now
	if now == nil {
		now = time.Now
	}
	rc := cfg.Config
	if rc.DefaultKind == "" {
		rc.DefaultKind = domain.PartyKindOrg
	}
	matchers := cfg.Matchers
	if len(matchers) == 0 {
		matchers = DefaultMatchers(rc)
	}
	return &EntityResolver{
		parties:  cfg.Parties,
		matchers: matchers,
		cfg:      rc,
		logger:   logger,
		now:      now,
	}
}

// WithStore returns a resolver bound to a different (transaction-scoped) store.
func (r *EntityResolver) WithStore(parties driven.PartyStore) *EntityResolver {
	cp := *r
	cp.parties = parties
	return &cp
}

// Match runs the cascade without writing anything. On a miss it returns an
// unsaved party with Matched=false, Confidence=0 and Tier 5.
func (r *EntityResolver) Match(ctx context.Context, q domain.PartyQuery) (*domain.PartyMatch, error) {
	if err := q.Validate(); err != nil {
		return nil, err
	}
	q = q.WithDefaultKind(r.cfg.DefaultKind)
	c := NewCandidate(q)

	for _, m := range r.matchers {
		match, err := m.TryMatch(ctx, r.parties, c)
		if err != nil {
			return nil, fmt.Errorf("tier %s: %w", m.Tier(), err)
		}
		if match != nil {
			r.logger.Debug("party matched",
				"party_id", match.Party.ID,
				"tier", match.Tier.String(),
				"confidence", match.Confidence,
			)
			return match, nil
		}
	}

	return &domain.PartyMatch{
		Matched:    false,
		Party:      domain.NewParty(q, r.now()),
		Confidence: 0,
		Tier:       domain.TierCreated,
	}, nil
}

// Persist creates the party of a miss, or enriches the party of a hit with
// attributes it does not have yet.
func (r *EntityResolver) Persist(ctx context.Context, q domain.PartyQuery, m *domain.PartyMatch) error {
	if !m.Matched {
		if err := r.parties.Create(ctx, m.Party); err != nil {
			return fmt.Errorf("failed to create party %q: %w", m.Party.Name, err)
		}
		r.logger.Info("party created", "party_id", m.Party.ID, "name", m.Party.Name)
		return nil
	}

	// A tax id already owned by another party is not copied over.
	if m.Party.NormalizedTaxID == "" && domain.NormalizeTaxID(q.TaxID) != "" {
		owner, err := r.parties.FindByTaxID(ctx, domain.NormalizeTaxID(q.TaxID))
		switch {
		case err == nil && owner.ID != m.Party.ID:
			q.TaxID = ""
		case err != nil && !errors.Is(err, domain.ErrNotFound):
			return fmt.Errorf("failed to check tax id owner: %w", err)
		}
	}

	if !m.Party.Enrich(q, r.now()) {
		return nil
	}
	if err := r.parties.Enrich(ctx, m.Party); err != nil {
		return fmt.Errorf("failed to enrich party %s: %w", m.Party.ID, err)
	}
	return nil
}

// ResolveParty runs the cascade and persists the outcome. A uniqueness
// conflict on creation means a concurrent writer created the same party;
// the cascade is re-run once to pick it up.
func (r *EntityResolver) ResolveParty(ctx context.Context, q domain.PartyQuery) (*domain.PartyMatch, error) {
	var lastErr error
	for attempt := 0; attempt < 2; attempt++ {
		m, err := r.Match(ctx, q)
		if err != nil {
			return nil, err
		}
		err = r.Persist(ctx, q, m)
		if err == nil {
			return m, nil
		}
		if !errors.Is(err, domain.ErrConflict) {
			return nil, err
		}
		lastErr = err
		r.logger.Debug("party creation raced, re-resolving", "name", q.Name)
	}
	return nil, lastErr
}

// ResolveVendor resolves a flat vendor description.
func (r *EntityResolver) ResolveVendor(ctx context.Context, vendor map[string]any) (*domain.PartyMatch, error) {
	return r.ResolveParty(ctx, domain.PartyQueryFromVendor(vendor))
}
