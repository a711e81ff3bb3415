package services

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/custodia-labs/docintel/internal/core/domain"
)

func TestDocumentService(t *testing.T) {
	ctx := context.Background()
	f := newPipelineFixture(t, clipboardHealthExtraction())
	data := pdf("document service")
	result, err := f.pipeline.ProcessUpload(ctx, domain.UploadRequest{Data: data, DeclaredName: "inv.pdf"})
	require.NoError(t, err)

	svc := NewDocumentService(f.store, f.pipeline.Content())

	file, err := svc.Get(ctx, result.Document.ID)
	require.NoError(t, err)
	assert.Equal(t, "inv.pdf", file.OriginalName)

	byAddr, err := svc.GetByAddress(ctx, result.Document.Address)
	require.NoError(t, err)
	assert.Equal(t, file.ID, byAddr.ID)

	_, body, err := svc.Download(ctx, file.ID)
	require.NoError(t, err)
	assert.Equal(t, data, body)

	links, err := svc.Links(ctx, file.ID)
	require.NoError(t, err)
	assert.Len(t, links, 2)

	require.NoError(t, svc.Delete(ctx, file.ID))

	_, err = svc.Get(ctx, file.ID)
	assert.ErrorIs(t, err, domain.ErrNotFound)
	_, err = svc.Links(ctx, file.ID)
	assert.ErrorIs(t, err, domain.ErrNotFound)
	assert.ErrorIs(t, svc.Delete(ctx, file.ID), domain.ErrNotFound)

	// Interactions outlive the document.
	in, err := f.store.Interactions().Get(ctx, result.InteractionID)
	require.NoError(t, err)
	assert.Equal(t, domain.Ref(domain.EntityKindDocument, file.ID), in.Primary)
}
