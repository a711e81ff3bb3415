package driven

import (
	"context"

	"github.com/custodia-labs/docintel/internal/core/domain"
)

// PartyStore handles party persistence and the name similarity index.
type PartyStore interface {
	// Create inserts a party. Returns domain.ErrConflict when (kind,
	// normalized name) or the normalized tax id is already taken.
	Create(ctx context.Context, party *domain.Party) error

	// Get retrieves a party by ID
	Get(ctx context.Context, id string) (*domain.Party, error)

	// FindByTaxID retrieves a party by normalized tax identifier
	FindByTaxID(ctx context.Context, normalizedTaxID string) (*domain.Party, error)

	// FindByNormalizedName retrieves a party by kind and normalized name
	FindByNormalizedName(ctx context.Context, kind domain.PartyKind, normalizedName string) (*domain.Party, error)

	// SimilarByName returns parties of kind whose normalized name has trigram
	// similarity >= minSimilarity to normalizedName, best first, at most limit.
	SimilarByName(ctx context.Context, kind domain.PartyKind, normalizedName string, minSimilarity float64, limit int) ([]domain.PartyCandidate, error)

	// Enrich persists attribute and metadata enrichment of an existing party.
	// Identity (kind, name) is never changed.
	Enrich(ctx context.Context, party *domain.Party) error

	// List returns parties ordered by name with pagination
	List(ctx context.Context, limit, offset int) ([]*domain.Party, error)

	// Count returns the total number of parties
	Count(ctx context.Context) (int, error)
}
