package driven

import (
	"context"

	"github.com/custodia-labs/docintel/internal/core/domain"
)

// InteractionStore is the append-only audit log. It deliberately has no
// update or delete operation.
type InteractionStore interface {
	// Record appends an interaction
	Record(ctx context.Context, interaction *domain.Interaction) error

	// Get retrieves an interaction by ID
	Get(ctx context.Context, id string) (*domain.Interaction, error)

	// ListByEntity returns interactions whose primary or related entities
	// include ref, newest first
	ListByEntity(ctx context.Context, ref domain.EntityRef, limit, offset int) ([]*domain.Interaction, error)

	// ListRecent returns the newest interactions
	ListRecent(ctx context.Context, limit, offset int) ([]*domain.Interaction, error)
}
