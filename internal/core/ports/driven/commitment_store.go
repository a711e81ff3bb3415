package driven

import (
	"context"

	"github.com/custodia-labs/docintel/internal/core/domain"
)

// CommitmentStore handles commitment persistence.
type CommitmentStore interface {
	// Create inserts a commitment
	Create(ctx context.Context, commitment *domain.Commitment) error

	// Get retrieves a commitment by ID
	Get(ctx context.Context, id string) (*domain.Commitment, error)

	// Update writes state, factors and the denormalized priority together and
	// advances commitment.Version. Returns domain.ErrConflict if the stored
	// state differs from expected or the stored version from commitment.Version.
	Update(ctx context.Context, commitment *domain.Commitment, expected domain.CommitmentState) error

	// ListByParty returns a party's commitments, newest first
	ListByParty(ctx context.Context, partyID string, limit, offset int) ([]*domain.Commitment, error)

	// ListByDocument returns commitments derived from a document
	ListByDocument(ctx context.Context, documentID string) ([]*domain.Commitment, error)

	// ListPending returns pending commitments ordered by ID, after the given
	// cursor ID, at most limit. Used for batch rescoring.
	ListPending(ctx context.Context, afterID string, limit int) ([]*domain.Commitment, error)

	// Count returns the total number of commitments
	Count(ctx context.Context) (int, error)
}
