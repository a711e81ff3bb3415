package services

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/custodia-labs/docintel/internal/adapters/driven/memory"
	"github.com/custodia-labs/docintel/internal/core/domain"
)

func newTestIntake(now func() time.Time) (*SignalIntake, *memory.Store) {
	store := memory.NewStore()
	return NewSignalIntake(SignalIntakeConfig{
		Signals: store.Signals(),
		Logger:  quietLogger(),
		Now:     now,
	}), store
}

func TestSignalIntake_CreateSignalIsIdempotent(t *testing.T) {
	ctx := context.Background()
	intake, store := newTestIntake(fixedClock)
	key := domain.UploadDedupeKey("abc", "doc-1")

	first, created, err := intake.CreateSignal(ctx, domain.SignalSourceUpload, "abc", key)
	require.NoError(t, err)
	assert.True(t, created)
	assert.Equal(t, domain.SignalStateProcessing, first.State)
	assert.Equal(t, testNow, first.CreatedAt)

	second, created, err := intake.CreateSignal(ctx, domain.SignalSourceUpload, "abc", key)
	require.NoError(t, err)
	assert.False(t, created)
	assert.Equal(t, first.ID, second.ID)

	n, err := store.Signals().CountByDedupeKey(ctx, key)
	require.NoError(t, err)
	assert.Equal(t, 1, n)
}

func TestSignalIntake_CreateSignalValidation(t *testing.T) {
	ctx := context.Background()
	intake, _ := newTestIntake(fixedClock)

	for _, args := range [][3]string{
		{"", "abc", "k"},
		{"upload", "", "k"},
		{"upload", "abc", ""},
	} {
		_, _, err := intake.CreateSignal(ctx, args[0], args[1], args[2])
		assert.ErrorIs(t, err, domain.ErrMissingRequiredField, "args %v", args)
	}
}

func TestSignalIntake_AttachThenDuplicate(t *testing.T) {
	ctx := context.Background()
	intake, store := newTestIntake(fixedClock)
	key := domain.UploadDedupeKey("abc", "doc-1")

	sig, _, err := intake.CreateSignal(ctx, domain.SignalSourceUpload, "abc", key)
	require.NoError(t, err)

	assert.ErrorIs(t, intake.Attach(ctx, sig, ""), domain.ErrMissingRequiredField)
	require.NoError(t, intake.Attach(ctx, sig, "doc-1"))
	assert.Equal(t, domain.SignalStateAttached, sig.State)
	assert.Equal(t, "doc-1", sig.DocumentID)

	stored, err := store.Signals().Get(ctx, sig.ID)
	require.NoError(t, err)
	assert.Equal(t, domain.SignalStateAttached, stored.State)

	again, created, err := intake.CreateSignal(ctx, domain.SignalSourceUpload, "abc", key)
	require.NoError(t, err)
	assert.False(t, created)
	assert.Equal(t, sig.ID, again.ID)
	assert.Equal(t, domain.SignalStateAttached, again.State)

	err = intake.Archive(ctx, sig, "too late")
	assert.ErrorIs(t, err, domain.ErrInvalidStateTransition)
	assert.Equal(t, domain.SignalStateAttached, sig.State)
}

func TestSignalIntake_ArchiveFreesDedupeKey(t *testing.T) {
	ctx := context.Background()
	intake, store := newTestIntake(fixedClock)
	key := domain.UploadDedupeKey("abc", "doc-1")

	sig, _, err := intake.CreateSignal(ctx, domain.SignalSourceUpload, "abc", key)
	require.NoError(t, err)
	require.NoError(t, intake.Archive(ctx, sig, "extraction failed"))
	assert.Equal(t, "extraction failed", sig.Error)

	next, created, err := intake.CreateSignal(ctx, domain.SignalSourceUpload, "abc", key)
	require.NoError(t, err)
	assert.True(t, created)
	assert.NotEqual(t, sig.ID, next.ID)

	n, err := store.Signals().CountByDedupeKey(ctx, key)
	require.NoError(t, err)
	assert.Equal(t, 2, n, "archived signals are kept")
}

func TestSignalIntake_StaleCopyConflicts(t *testing.T) {
	ctx := context.Background()
	intake, store := newTestIntake(fixedClock)

	sig, _, err := intake.CreateSignal(ctx, domain.SignalSourceUpload, "abc", "k")
	require.NoError(t, err)
	stale := *sig

	require.NoError(t, intake.Archive(ctx, sig, "reaped"))

	err = intake.Attach(ctx, &stale, "doc-1")
	assert.ErrorIs(t, err, domain.ErrConflict)
	assert.Equal(t, domain.SignalStateProcessing, stale.State, "failed attach leaves the copy untouched")

	stored, err := store.Signals().Get(ctx, sig.ID)
	require.NoError(t, err)
	assert.Equal(t, domain.SignalStateArchived, stored.State)
}

func TestSignalIntake_ConcurrentCreate(t *testing.T) {
	ctx := context.Background()
	intake, store := newTestIntake(fixedClock)
	key := domain.UploadDedupeKey("race", "doc-1")

	const n = 16
	var mu sync.Mutex
	createdCount := 0
	ids := make(map[string]struct{})

	var wg sync.WaitGroup
	for i := 0; i < n; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			sig, created, err := intake.CreateSignal(ctx, domain.SignalSourceUpload, "race", key)
			if !assert.NoError(t, err) {
				return
			}
			mu.Lock()
			defer mu.Unlock()
			if created {
				createdCount++
			}
			ids[sig.ID] = struct{}{}
		}()
	}
	wg.Wait()

	assert.Equal(t, 1, createdCount)
	assert.Len(t, ids, 1)
	count, err := store.Signals().CountByDedupeKey(ctx, key)
	require.NoError(t, err)
	assert.Equal(t, 1, count)
}

func TestSignalIntake_ReapStale(t *testing.T) {
	ctx := context.Background()
	clock := testNow.Add(-time.Hour)
	intake, store := newTestIntake(func() time.Time { return clock })

	old, _, err := intake.CreateSignal(ctx, domain.SignalSourceUpload, "old", "k-old")
	require.NoError(t, err)
	done, _, err := intake.CreateSignal(ctx, domain.SignalSourceUpload, "done", "k-done")
	require.NoError(t, err)
	require.NoError(t, intake.Attach(ctx, done, "doc-1"))

	clock = testNow
	fresh, _, err := intake.CreateSignal(ctx, domain.SignalSourceUpload, "fresh", "k-fresh")
	require.NoError(t, err)

	reaped, err := intake.ReapStale(ctx, 15*time.Minute, 0)
	require.NoError(t, err)
	assert.Equal(t, 1, reaped)

	got, err := store.Signals().Get(ctx, old.ID)
	require.NoError(t, err)
	assert.Equal(t, domain.SignalStateArchived, got.State)
	assert.Contains(t, got.Error, "abandoned")

	got, err = store.Signals().Get(ctx, fresh.ID)
	require.NoError(t, err)
	assert.Equal(t, domain.SignalStateProcessing, got.State)

	got, err = store.Signals().Get(ctx, done.ID)
	require.NoError(t, err)
	assert.Equal(t, domain.SignalStateAttached, got.State)
}
