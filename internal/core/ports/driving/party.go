package driving

import (
	"context"

	"github.com/custodia-labs/docintel/internal/core/domain"
)

// PartyService resolves and reads counterparties
type PartyService interface {
	// Resolve runs the matching cascade and creates the party on a miss
	Resolve(ctx context.Context, q domain.PartyQuery) (*domain.PartyMatch, error)

	// ResolveVendor resolves a flat vendor description
	ResolveVendor(ctx context.Context, vendor map[string]any) (*domain.PartyMatch, error)

	// Get retrieves a party by ID
	Get(ctx context.Context, id string) (*domain.Party, error)

	// List returns parties with pagination and the total count
	List(ctx context.Context, limit, offset int) ([]*domain.Party, int, error)

	// History returns a party with its commitments, documents and interactions
	History(ctx context.Context, id string) (*domain.PartyHistory, error)
}

// CommitmentService manages the commitment lifecycle
type CommitmentService interface {
	// Get retrieves a commitment by ID
	Get(ctx context.Context, id string) (*domain.Commitment, error)

	// ListByParty returns a party's commitments
	ListByParty(ctx context.Context, partyID string, limit, offset int) ([]*domain.Commitment, error)

	// Fulfill marks a pending commitment fulfilled
	Fulfill(ctx context.Context, id, actor string) (*domain.Commitment, error)

	// Cancel marks a pending commitment canceled
	Cancel(ctx context.Context, id, actor, reason string) (*domain.Commitment, error)

	// UpdateFactors changes priority factors and recomputes the priority
	UpdateFactors(ctx context.Context, id string, factors domain.CommitmentFactors, actor string) (*domain.Commitment, error)

	// RescorePending recomputes priorities of pending commitments and
	// returns how many changed
	RescorePending(ctx context.Context) (int, error)

	// PreviewPriority scores factors without persisting anything
	PreviewPriority(input domain.PriorityInput) domain.PriorityResult
}

// AuditService reads the append-only interaction log
type AuditService interface {
	// ListByEntity returns interactions referencing an entity
	ListByEntity(ctx context.Context, ref domain.EntityRef, limit, offset int) ([]*domain.Interaction, error)

	// ListRecent returns the newest interactions
	ListRecent(ctx context.Context, limit, offset int) ([]*domain.Interaction, error)
}
