package services

import (
	"context"
	"errors"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/custodia-labs/docintel/internal/adapters/driven/memory"
	"github.com/custodia-labs/docintel/internal/core/domain"
	"github.com/custodia-labs/docintel/internal/core/ports/driven/mocks"
)

func newTestContentStore(cfg domain.ContentConfig) (*ContentStore, *memory.Store, *mocks.MockBlobStorage) {
	store := memory.NewStore()
	blobs := mocks.NewMockBlobStorage()
	return NewContentStore(ContentStoreConfig{
		Files:   store.Files(),
		Blobs:   blobs,
		Content: cfg,
		Logger:  quietLogger(),
		Now:     fixedClock,
	}), store, blobs
}

func TestContentAddress(t *testing.T) {
	assert.Equal(t, "2cf24dba5fb0a30e26e83b2ac5b9e29e1b161e5c1fa7425e73043362938b9824", ContentAddress([]byte("hello")))
}

func TestBlobLocation(t *testing.T) {
	addr := ContentAddress([]byte("hello"))
	assert.Equal(t, "2c/"+addr+".pdf", BlobLocation(addr, "application/pdf"))
	assert.Equal(t, "2c/"+addr+".jpg", BlobLocation(addr, "image/jpeg"))
	assert.Equal(t, "2c/"+addr+".bin", BlobLocation(addr, "text/plain"))
}

func TestDetectMediaType(t *testing.T) {
	tests := []struct {
		name     string
		data     []byte
		declared string
		want     string
	}{
		{"pdf magic", pdf("x"), "", "application/pdf"},
		{"pdf ignores misleading name", pdf("x"), "photo.png", "application/pdf"},
		{"png magic", []byte("\x89PNG\r\n\x1a\n\x00\x00\x00\rIHDR"), "", "image/png"},
		{"jpeg magic", []byte("\xFF\xD8\xFF\xE0\x00\x10JFIF\x00"), "", "image/jpeg"},
		{"tiff little endian", []byte("II*\x00\x08\x00\x00\x00"), "", "image/tiff"},
		{"tiff big endian", []byte("MM\x00*\x00\x00\x00\x08"), "", "image/tiff"},
		{"heic brand", []byte("\x00\x00\x00\x18ftypheic\x00\x00\x00\x00"), "", "image/heic"},
		{"binary falls back to extension", []byte{0x00, 0x01, 0x02, 0x03}, "scan.TIFF", "image/tiff"},
		{"binary without hint", []byte{0x00, 0x01, 0x02, 0x03}, "", "application/octet-stream"},
		{"text stays text", []byte("hello world"), "invoice.pdf", "text/plain"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, DetectMediaType(tt.data, tt.declared))
		})
	}
}

func TestContentStore_StoreIsIdempotent(t *testing.T) {
	ctx := context.Background()
	cs, _, blobs := newTestContentStore(domain.DefaultContentConfig())
	data := pdf("invoice 1")

	first, err := cs.Store(ctx, data, "uploads/invoice.pdf")
	require.NoError(t, err)
	assert.False(t, first.AlreadyExisted)
	assert.Equal(t, ContentAddress(data), first.Address())
	assert.Equal(t, "application/pdf", first.File.MediaType)
	assert.Equal(t, int64(len(data)), first.File.Size)
	assert.Equal(t, "invoice.pdf", first.File.OriginalName)
	assert.Equal(t, testNow, first.File.CreatedAt)

	second, err := cs.Store(ctx, data, "renamed.pdf")
	require.NoError(t, err)
	assert.True(t, second.AlreadyExisted)
	assert.Equal(t, first.File.ID, second.File.ID)
	assert.Equal(t, first.Location(), second.Location())
	assert.Equal(t, "invoice.pdf", second.File.OriginalName)
	assert.Equal(t, 1, blobs.Writes())
}

func TestContentStore_Rejections(t *testing.T) {
	ctx := context.Background()
	cs, store, blobs := newTestContentStore(domain.ContentConfig{MaxBytes: 64, AllowedMediaTypes: []string{"application/pdf"}})

	_, err := cs.Store(ctx, nil, "empty.pdf")
	assert.ErrorIs(t, err, domain.ErrPayloadEmpty)
	assert.ErrorIs(t, err, domain.ErrPayloadRejected)

	_, err = cs.Store(ctx, pdf(string(make([]byte, 100))), "big.pdf")
	assert.ErrorIs(t, err, domain.ErrPayloadTooLarge)

	_, err = cs.Store(ctx, []byte("\x89PNG\r\n\x1a\n\x00\x00\x00\rIHDR"), "image.png")
	assert.ErrorIs(t, err, domain.ErrMediaTypeForbidden)
	assert.False(t, errors.Is(err, domain.ErrPayloadTooLarge))

	assert.Zero(t, blobs.Len())
	_, err = store.Files().GetByAddress(ctx, ContentAddress([]byte("\x89PNG\r\n\x1a\n\x00\x00\x00\rIHDR")))
	assert.ErrorIs(t, err, domain.ErrNotFound)
}

func TestContentStore_RestoresMissingBlob(t *testing.T) {
	ctx := context.Background()
	cs, _, blobs := newTestContentStore(domain.DefaultContentConfig())
	data := pdf("heal me")

	first, err := cs.Store(ctx, data, "a.pdf")
	require.NoError(t, err)
	require.NoError(t, blobs.Delete(ctx, first.Location()))

	again, err := cs.Store(ctx, data, "a.pdf")
	require.NoError(t, err)
	assert.True(t, again.AlreadyExisted)
	assert.Equal(t, 2, blobs.Writes())

	got, err := cs.Retrieve(ctx, first.Address())
	require.NoError(t, err)
	assert.Equal(t, data, got)
}

func TestContentStore_BlobFailure(t *testing.T) {
	ctx := context.Background()
	cs, store, blobs := newTestContentStore(domain.DefaultContentConfig())
	blobs.PutFn = func(key string, data []byte) (bool, error) {
		return false, errors.New("disk full")
	}

	_, err := cs.Store(ctx, pdf("x"), "x.pdf")
	require.Error(t, err)

	_, err = store.Files().GetByAddress(ctx, ContentAddress(pdf("x")))
	assert.ErrorIs(t, err, domain.ErrNotFound, "no record without a blob")
}

func TestContentStore_ConcurrentIdenticalUploads(t *testing.T) {
	ctx := context.Background()
	cs, _, blobs := newTestContentStore(domain.DefaultContentConfig())
	data := pdf("same bytes")

	const n = 10
	ids := make([]string, n)
	errs := make([]error, n)
	var wg sync.WaitGroup
	for i := 0; i < n; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			res, err := cs.Store(ctx, data, "same.pdf")
			errs[i] = err
			if err == nil {
				ids[i] = res.File.ID
			}
		}(i)
	}
	wg.Wait()

	for i := 0; i < n; i++ {
		require.NoError(t, errs[i])
		assert.Equal(t, ids[0], ids[i])
	}
	assert.Equal(t, 1, blobs.Writes())
	assert.Equal(t, 1, blobs.Len())
}

func TestContentStore_RetrieveAndDelete(t *testing.T) {
	ctx := context.Background()
	cs, store, blobs := newTestContentStore(domain.DefaultContentConfig())
	data := pdf("delete me")

	res, err := cs.Store(ctx, data, "d.pdf")
	require.NoError(t, err)
	require.NoError(t, store.Links().Create(ctx, domain.NewLink(res.File.ID, domain.Ref(domain.EntityKindParty, "p1"), testNow)))

	stat, err := cs.Stat(ctx, res.Address())
	require.NoError(t, err)
	assert.Equal(t, res.File.ID, stat.ID)

	require.NoError(t, cs.Delete(ctx, res.File.ID))

	_, err = cs.Retrieve(ctx, res.Address())
	assert.ErrorIs(t, err, domain.ErrNotFound)
	assert.Zero(t, blobs.Len())

	links, err := store.Links().ListByDocument(ctx, res.File.ID)
	require.NoError(t, err)
	assert.Empty(t, links)

	assert.ErrorIs(t, cs.Delete(ctx, res.File.ID), domain.ErrNotFound)
}
