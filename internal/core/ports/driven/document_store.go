package driven

import (
	"context"

	"github.com/custodia-labs/docintel/internal/core/domain"
)

// FileStore persists StoredFile records (PostgreSQL).
type FileStore interface {
	// Create inserts a stored file. Returns domain.ErrConflict if the
	// content address is already recorded.
	Create(ctx context.Context, file *domain.StoredFile) error

	// Get retrieves a stored file by ID
	Get(ctx context.Context, id string) (*domain.StoredFile, error)

	// GetByAddress retrieves a stored file by content address
	GetByAddress(ctx context.Context, address string) (*domain.StoredFile, error)

	// Delete removes a stored file; its links are cascade-deleted
	Delete(ctx context.Context, id string) error
}

// BlobStorage holds content-addressed payloads, one object per key.
type BlobStorage interface {
	// Put writes data under key unless an object already exists there.
	// Returns created=false when the key was already present; a losing
	// concurrent writer is a no-op, never a corruption.
	Put(ctx context.Context, key string, data []byte) (created bool, err error)

	// Get reads the object at key. Returns domain.ErrNotFound if absent.
	Get(ctx context.Context, key string) ([]byte, error)

	// Exists reports whether key holds an object
	Exists(ctx context.Context, key string) (bool, error)

	// Delete removes the object at key; missing keys are not an error
	Delete(ctx context.Context, key string) error
}

// LinkStore persists immutable document-entity links.
type LinkStore interface {
	// Create inserts a link
	Create(ctx context.Context, link *domain.Link) error

	// ListByDocument returns all links of a document, oldest first
	ListByDocument(ctx context.Context, documentID string) ([]*domain.Link, error)

	// ListByEntity returns all links pointing at an entity, oldest first
	ListByEntity(ctx context.Context, entity domain.EntityRef) ([]*domain.Link, error)
}
