package postgres

import (
	"context"
	"fmt"

	"github.com/custodia-labs/docintel/internal/core/domain"
	"github.com/custodia-labs/docintel/internal/core/ports/driven"
)

// Verify interface compliance
var (
	_ driven.FileStore = (*FileStore)(nil)
	_ driven.LinkStore = (*LinkStore)(nil)
)

// FileStore implements driven.FileStore using PostgreSQL
type FileStore struct {
	q querier
}

// NewFileStore creates a new FileStore
func NewFileStore(db *DB) *FileStore {
	return &FileStore{q: db}
}

const fileColumns = `id, address, size, media_type, location, original_name, created_at`

func scanFile(row rowScanner) (*domain.StoredFile, error) {
	var f domain.StoredFile
	err := row.Scan(&f.ID, &f.Address, &f.Size, &f.MediaType, &f.Location, &f.OriginalName, &f.CreatedAt)
	if err != nil {
		return nil, err
	}
	return &f, nil
}

// Create inserts a file record. A second record for the same address fails
// with ErrConflict.
func (s *FileStore) Create(ctx context.Context, file *domain.StoredFile) error {
	_, err := s.q.ExecContext(ctx, `
		INSERT INTO stored_files (`+fileColumns+`)
		VALUES ($1, $2, $3, $4, $5, $6, $7)
	`, file.ID, file.Address, file.Size, file.MediaType, file.Location, file.OriginalName, file.CreatedAt)
	return mapError("insert stored file", err)
}

// Get retrieves a file by ID
func (s *FileStore) Get(ctx context.Context, id string) (*domain.StoredFile, error) {
	f, err := scanFile(s.q.QueryRowContext(ctx, `SELECT `+fileColumns+` FROM stored_files WHERE id = $1`, id))
	if err != nil {
		return nil, mapError("get stored file", err)
	}
	return f, nil
}

// GetByAddress retrieves a file by content address
func (s *FileStore) GetByAddress(ctx context.Context, address string) (*domain.StoredFile, error) {
	f, err := scanFile(s.q.QueryRowContext(ctx, `SELECT `+fileColumns+` FROM stored_files WHERE address = $1`, address))
	if err != nil {
		return nil, mapError("get stored file by address", err)
	}
	return f, nil
}

// Delete removes a file record. Links go with it (ON DELETE CASCADE).
func (s *FileStore) Delete(ctx context.Context, id string) error {
	result, err := s.q.ExecContext(ctx, `DELETE FROM stored_files WHERE id = $1`, id)
	if err != nil {
		return mapError("delete stored file", err)
	}
	return requireRow(result)
}

// LinkStore implements driven.LinkStore using PostgreSQL
type LinkStore struct {
	q querier
}

// NewLinkStore creates a new LinkStore
func NewLinkStore(db *DB) *LinkStore {
	return &LinkStore{q: db}
}

// Create inserts a link. The document must exist.
func (s *LinkStore) Create(ctx context.Context, link *domain.Link) error {
	_, err := s.q.ExecContext(ctx, `
		INSERT INTO document_links (id, document_id, entity_kind, entity_id, created_at)
		VALUES ($1, $2, $3, $4, $5)
	`, link.ID, link.DocumentID, link.EntityKind, link.EntityID, link.CreatedAt)
	return mapError("insert link", err)
}

// ListByDocument returns the links of a document in creation order
func (s *LinkStore) ListByDocument(ctx context.Context, documentID string) ([]*domain.Link, error) {
	return s.list(ctx, `WHERE document_id = $1`, documentID)
}

// ListByEntity returns the documents linked to an entity in creation order
func (s *LinkStore) ListByEntity(ctx context.Context, entity domain.EntityRef) ([]*domain.Link, error) {
	return s.list(ctx, `WHERE entity_kind = $1 AND entity_id = $2`, entity.Kind, entity.ID)
}

func (s *LinkStore) list(ctx context.Context, where string, args ...any) ([]*domain.Link, error) {
	rows, err := s.q.QueryContext(ctx, `
		SELECT id, document_id, entity_kind, entity_id, created_at
		FROM document_links `+where+`
		ORDER BY created_at, id
	`, args...)
	if err != nil {
		return nil, mapError("list links", err)
	}
	defer rows.Close()

	links := make([]*domain.Link, 0)
	for rows.Next() {
		var l domain.Link
		if err := rows.Scan(&l.ID, &l.DocumentID, &l.EntityKind, &l.EntityID, &l.CreatedAt); err != nil {
			return nil, fmt.Errorf("scan link: %w", err)
		}
		links = append(links, &l)
	}
	return links, rows.Err()
}
