package services

import (
	"context"
	"errors"
	"math"

	"github.com/custodia-labs/docintel/internal/core/domain"
	"github.com/custodia-labs/docintel/internal/core/ports/driven"
)

// Candidate is a party query with its normalized forms computed once.
type Candidate struct {
	Query             domain.PartyQuery
	Kind              domain.PartyKind
	NormalizedName    string
	NormalizedTaxID   string
	NormalizedAddress string
}

// NewCandidate normalizes q. Kind must already be defaulted.
func NewCandidate(q domain.PartyQuery) Candidate {
	return Candidate{
		Query:             q,
		Kind:              q.Kind,
		NormalizedName:    domain.NormalizeName(q.Name),
		NormalizedTaxID:   domain.NormalizeTaxID(q.TaxID),
		NormalizedAddress: domain.NormalizeAddress(q.Address),
	}
}

// Matcher is one stage of the resolution cascade. TryMatch returns nil
// without error when the stage does not apply or finds nothing.
type Matcher interface {
	Tier() domain.MatchTier
	TryMatch(ctx context.Context, parties driven.PartyStore, c Candidate) (*domain.PartyMatch, error)
}

// DefaultMatchers returns tiers 1-4 in cascade order.
func DefaultMatchers(cfg domain.ResolverConfig) []Matcher {
	return []Matcher{
		TaxIDMatcher{},
		ExactNameMatcher{},
		FuzzyNameMatcher{Threshold: cfg.FuzzyNameThreshold, Limit: cfg.CandidateLimit},
		NameAddressMatcher{
			Threshold:     cfg.NameAddressThreshold,
			NameWeight:    cfg.NameWeight,
			AddressWeight: cfg.AddressWeight,
			Floor:         cfg.CandidateFloor,
			Limit:         cfg.CandidateLimit,
		},
	}
}

func matched(p *domain.Party, confidence float64, tier domain.MatchTier) *domain.PartyMatch {
	return &domain.PartyMatch{
		Matched:    true,
		Party:      p,
		Confidence: math.Round(confidence*10000) / 10000,
		Tier:       tier,
	}
}

// TaxIDMatcher matches on the normalized tax identifier.
type TaxIDMatcher struct{}

func (TaxIDMatcher) Tier() domain.MatchTier { return domain.TierTaxID }

func (m TaxIDMatcher) TryMatch(ctx context.Context, parties driven.PartyStore, c Candidate) (*domain.PartyMatch, error) {
	if c.NormalizedTaxID == "" {
		return nil, nil
	}
	p, err := parties.FindByTaxID(ctx, c.NormalizedTaxID)
	if errors.Is(err, domain.ErrNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return matched(p, 1.0, m.Tier()), nil
}

// ExactNameMatcher matches on kind and normalized name.
type ExactNameMatcher struct{}

func (ExactNameMatcher) Tier() domain.MatchTier { return domain.TierExactName }

func (m ExactNameMatcher) TryMatch(ctx context.Context, parties driven.PartyStore, c Candidate) (*domain.PartyMatch, error) {
	p, err := parties.FindByNormalizedName(ctx, c.Kind, c.NormalizedName)
	if errors.Is(err, domain.ErrNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return matched(p, 1.0, m.Tier()), nil
}

// FuzzyNameMatcher accepts the most similar name at or above Threshold.
type FuzzyNameMatcher struct {
	Threshold float64
	Limit     int
}

func (FuzzyNameMatcher) Tier() domain.MatchTier { return domain.TierFuzzyName }

func (m FuzzyNameMatcher) TryMatch(ctx context.Context, parties driven.PartyStore, c Candidate) (*domain.PartyMatch, error) {
	candidates, err := parties.SimilarByName(ctx, c.Kind, c.NormalizedName, m.Threshold, m.Limit)
	if err != nil {
		return nil, err
	}
	if len(candidates) == 0 || candidates[0].Similarity < m.Threshold {
		return nil, nil
	}
	return matched(candidates[0].Party, candidates[0].Similarity, m.Tier()), nil
}

// NameAddressMatcher combines name and address similarity. It only runs
// when the query carries an address.
type NameAddressMatcher struct {
	Threshold     float64
	NameWeight    float64
	AddressWeight float64
	Floor         float64
	Limit         int
}

func (NameAddressMatcher) Tier() domain.MatchTier { return domain.TierNameAddress }

func (m NameAddressMatcher) TryMatch(ctx context.Context, parties driven.PartyStore, c Candidate) (*domain.PartyMatch, error) {
	if c.NormalizedAddress == "" {
		return nil, nil
	}
	candidates, err := parties.SimilarByName(ctx, c.Kind, c.NormalizedName, m.Floor, m.Limit)
	if err != nil {
		return nil, err
	}

	var best *domain.Party
	bestScore := 0.0
	for _, cand := range candidates {
		if cand.Party.NormalizedAddress == "" {
			continue
		}
		addrSim := domain.TrigramSimilarity(c.NormalizedAddress, cand.Party.NormalizedAddress)
		score := m.NameWeight*cand.Similarity + m.AddressWeight*addrSim
		if score > bestScore {
			best, bestScore = cand.Party, score
		}
	}
	if best == nil || bestScore < m.Threshold {
		return nil, nil
	}
	return matched(best, bestScore, m.Tier()), nil
}
