package driven

import (
	"context"

	"github.com/custodia-labs/docintel/internal/core/domain"
)

// Recognizer is the external recognition collaborator that turns a document
// into structured fields. It is called once per upload, synchronously, and
// never retried by the pipeline.
type Recognizer interface {
	// Recognize extracts facts from a document. The context carries the
	// pipeline's timeout.
	Recognize(ctx context.Context, req domain.RecognitionRequest) (*domain.Extraction, error)

	// Model returns the model identifier in use
	Model() string

	// HealthCheck verifies the collaborator is reachable
	HealthCheck(ctx context.Context) error
}
