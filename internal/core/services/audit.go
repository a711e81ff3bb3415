package services

import (
	"context"
	"fmt"

	"github.com/custodia-labs/docintel/internal/core/domain"
	"github.com/custodia-labs/docintel/internal/core/ports/driven"
	"github.com/custodia-labs/docintel/internal/core/ports/driving"
)

// Ensure auditService implements AuditService
var _ driving.AuditService = (*auditService)(nil)

type auditService struct {
	interactions driven.InteractionStore
}

// NewAuditService creates a new AuditService
func NewAuditService(interactions driven.InteractionStore) driving.AuditService {
	return &auditService{interactions: interactions}
}

func (s *auditService) ListByEntity(ctx context.Context, ref domain.EntityRef, limit, offset int) ([]*domain.Interaction, error) {
	if !ref.Kind.IsValid() {
		return nil, fmt.Errorf("%w: unknown entity kind %q", domain.ErrInvalidInput, ref.Kind)
	}
	if ref.ID == "" {
		return nil, domain.MissingField("entity_id")
	}
	return s.interactions.ListByEntity(ctx, ref, normalizeLimit(limit), offset)
}

func (s *auditService) ListRecent(ctx context.Context, limit, offset int) ([]*domain.Interaction, error) {
	return s.interactions.ListRecent(ctx, normalizeLimit(limit), offset)
}
