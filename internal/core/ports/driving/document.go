package driving

import (
	"context"

	"github.com/custodia-labs/docintel/internal/core/domain"
)

// PipelineService turns uploaded documents into parties, commitments and
// audit entries.
type PipelineService interface {
	// ProcessUpload runs the full pipeline synchronously. Errors are
	// *domain.PipelineError values unwrapping to a domain sentinel.
	ProcessUpload(ctx context.Context, req domain.UploadRequest) (*domain.ProcessingResult, error)

	// ProcessStored runs the pipeline for bytes already in the content store
	ProcessStored(ctx context.Context, address, declaredName string, kind domain.ExtractionKind, actor string) (*domain.ProcessingResult, error)

	// Enqueue stores the bytes and queues background processing
	Enqueue(ctx context.Context, req domain.UploadRequest) (*domain.EnqueueResult, error)
}

// DocumentService provides access to stored documents
type DocumentService interface {
	// Get retrieves a stored document by ID
	Get(ctx context.Context, id string) (*domain.StoredFile, error)

	// GetByAddress retrieves a stored document by content address
	GetByAddress(ctx context.Context, address string) (*domain.StoredFile, error)

	// Download returns the document record and its bytes
	Download(ctx context.Context, id string) (*domain.StoredFile, []byte, error)

	// Links returns the entities a document is evidence for
	Links(ctx context.Context, id string) ([]*domain.Link, error)

	// Delete removes a document and its links. Interactions are kept.
	Delete(ctx context.Context, id string) error
}
