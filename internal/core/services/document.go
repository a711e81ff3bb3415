package services

import (
	"context"

	"github.com/custodia-labs/docintel/internal/core/domain"
	"github.com/custodia-labs/docintel/internal/core/ports/driven"
	"github.com/custodia-labs/docintel/internal/core/ports/driving"
)

// Ensure documentService implements DocumentService
var _ driving.DocumentService = (*documentService)(nil)

// documentService implements the DocumentService interface
type documentService struct {
	files   driven.FileStore
	links   driven.LinkStore
	content *ContentStore
}

// NewDocumentService creates a new DocumentService
func NewDocumentService(backend driven.Backend, content *ContentStore) driving.DocumentService {
	return &documentService{
		files:   backend.Files(),
		links:   backend.Links(),
		content: content,
	}
}

// Get retrieves a stored document by ID
func (s *documentService) Get(ctx context.Context, id string) (*domain.StoredFile, error) {
	return s.files.Get(ctx, id)
}

// GetByAddress retrieves a stored document by content address
func (s *documentService) GetByAddress(ctx context.Context, address string) (*domain.StoredFile, error) {
	return s.files.GetByAddress(ctx, address)
}

// Download returns the document record and its bytes
func (s *documentService) Download(ctx context.Context, id string) (*domain.StoredFile, []byte, error) {
	file, err := s.files.Get(ctx, id)
	if err != nil {
		return nil, nil, err
	}
	data, err := s.content.Retrieve(ctx, file.Address)
	if err != nil {
		return nil, nil, err
	}
	return file, data, nil
}

// Links returns the entities a document is evidence for
func (s *documentService) Links(ctx context.Context, id string) ([]*domain.Link, error) {
	if _, err := s.files.Get(ctx, id); err != nil {
		return nil, err
	}
	return s.links.ListByDocument(ctx, id)
}

// Delete removes a document and its links. Interactions are kept.
func (s *documentService) Delete(ctx context.Context, id string) error {
	return s.content.Delete(ctx, id)
}
