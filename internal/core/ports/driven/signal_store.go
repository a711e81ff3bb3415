package driven

import (
	"context"
	"time"

	"github.com/custodia-labs/docintel/internal/core/domain"
)

// SignalStore handles signal persistence. Signals are never deleted.
type SignalStore interface {
	// Create inserts a signal. Returns domain.ErrConflict if another
	// non-archived signal holds the same dedupe key.
	Create(ctx context.Context, signal *domain.Signal) error

	// Get retrieves a signal by ID
	Get(ctx context.Context, id string) (*domain.Signal, error)

	// GetActiveByDedupeKey returns the non-archived signal holding key
	GetActiveByDedupeKey(ctx context.Context, key string) (*domain.Signal, error)

	// Transition persists signal.State (and DocumentID/Error) only if the
	// stored state still equals from. Returns domain.ErrConflict otherwise.
	Transition(ctx context.Context, signal *domain.Signal, from domain.SignalState) error

	// ListByState returns signals in state last updated before the cutoff
	ListByState(ctx context.Context, state domain.SignalState, updatedBefore time.Time, limit int) ([]*domain.Signal, error)

	// CountByDedupeKey counts all signals (any state) that ever held key
	CountByDedupeKey(ctx context.Context, key string) (int, error)
}
