package services

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/custodia-labs/docintel/internal/core/domain"
)

func TestAuditService(t *testing.T) {
	ctx := context.Background()
	f := newPipelineFixture(t, clipboardHealthExtraction())
	first, err := f.pipeline.ProcessUpload(ctx, domain.UploadRequest{Data: pdf("one")})
	require.NoError(t, err)
	second, err := f.pipeline.ProcessUpload(ctx, domain.UploadRequest{Data: pdf("two")})
	require.NoError(t, err)

	audit := NewAuditService(f.store.Interactions())

	recent, err := audit.ListRecent(ctx, 0, 0)
	require.NoError(t, err)
	require.Len(t, recent, 2)
	assert.Equal(t, second.InteractionID, recent[0].ID, "newest first")
	assert.Equal(t, first.InteractionID, recent[1].ID)

	byDoc, err := audit.ListByEntity(ctx, domain.Ref(domain.EntityKindDocument, first.Document.ID), 0, 0)
	require.NoError(t, err)
	require.Len(t, byDoc, 1)
	assert.Equal(t, first.InteractionID, byDoc[0].ID)

	byParty, err := audit.ListByEntity(ctx, domain.Ref(domain.EntityKindParty, first.Party.ID), 0, 0)
	require.NoError(t, err)
	assert.Len(t, byParty, 2, "both invoices name the same vendor")

	_, err = audit.ListByEntity(ctx, domain.EntityRef{Kind: "planet", ID: "x"}, 0, 0)
	assert.ErrorIs(t, err, domain.ErrInvalidInput)

	_, err = audit.ListByEntity(ctx, domain.EntityRef{Kind: domain.EntityKindParty}, 0, 0)
	assert.ErrorIs(t, err, domain.ErrMissingRequiredField)
}
