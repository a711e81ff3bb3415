package services

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/custodia-labs/docintel/internal/adapters/driven/memory"
	"github.com/custodia-labs/docintel/internal/core/domain"
	"github.com/custodia-labs/docintel/internal/core/ports/driven"
	"github.com/custodia-labs/docintel/internal/core/ports/driving"
)

type commitmentFixture struct {
	store   *memory.Store
	engine  *CommitmentEngine
	service driving.CommitmentService
	party   *domain.Party
	clock   *time.Time
}

func newCommitmentFixture(t *testing.T) *commitmentFixture {
	t.Helper()
	clock := testNow
	now := func() time.Time { return clock }
	store := memory.NewStore()
	engine := NewCommitmentEngine(NewPriorityEngine(domain.DefaultPriorityConfig(), now), now)

	party := domain.NewParty(domain.PartyQuery{Name: "Clipboard Health, Inc."}, testNow)
	require.NoError(t, store.Parties().Create(context.Background(), party))

	return &commitmentFixture{
		store:  store,
		engine: engine,
		service: NewCommitmentService(CommitmentServiceConfig{
			Backend: store,
			Engine:  engine,
			Logger:  quietLogger(),
			Now:     now,
		}),
		party: party,
		clock: &clock,
	}
}

func (f *commitmentFixture) seed(t *testing.T) *domain.Commitment {
	t.Helper()
	facts := clipboardHealthExtraction().Facts
	c := f.engine.CreateFromExtractedFacts(&facts, f.party, "")
	require.NoError(t, f.store.Commitments().Create(context.Background(), c))
	return c
}

func (f *commitmentFixture) interactions(t *testing.T, id string) []*domain.Interaction {
	t.Helper()
	out, err := f.store.Interactions().ListByEntity(context.Background(), domain.Ref(domain.EntityKindCommitment, id), 0, 0)
	require.NoError(t, err)
	return out
}

func TestCommitmentService_Fulfill(t *testing.T) {
	ctx := context.Background()
	f := newCommitmentFixture(t)
	c := f.seed(t)

	got, err := f.service.Fulfill(ctx, c.ID, "user-1")
	require.NoError(t, err)
	assert.Equal(t, domain.CommitmentStateFulfilled, got.State)
	require.NotNil(t, got.ResolvedAt)

	stored, err := f.service.Get(ctx, c.ID)
	require.NoError(t, err)
	assert.Equal(t, domain.CommitmentStateFulfilled, stored.State)

	log := f.interactions(t, c.ID)
	require.Len(t, log, 1)
	assert.Equal(t, domain.InteractionCommitmentFulfilled, log[0].Type)
	assert.Equal(t, "user-1", log[0].Actor)
	assert.True(t, log[0].References(domain.Ref(domain.EntityKindParty, f.party.ID)))

	_, err = f.service.Fulfill(ctx, c.ID, "user-1")
	assert.ErrorIs(t, err, domain.ErrInvalidStateTransition)
	assert.Len(t, f.interactions(t, c.ID), 1, "a rejected transition records nothing")
}

func TestCommitmentService_Cancel(t *testing.T) {
	ctx := context.Background()
	f := newCommitmentFixture(t)
	c := f.seed(t)

	got, err := f.service.Cancel(ctx, c.ID, "", "paid by card")
	require.NoError(t, err)
	assert.Equal(t, domain.CommitmentStateCanceled, got.State)

	log := f.interactions(t, c.ID)
	require.Len(t, log, 1)
	assert.Equal(t, domain.ActorSystem, log[0].Actor)
	assert.Equal(t, "paid by card", log[0].Metadata["reason"])

	_, err = f.service.Fulfill(ctx, c.ID, "user-1")
	assert.ErrorIs(t, err, domain.ErrInvalidStateTransition)

	_, err = f.service.Cancel(ctx, "missing", "", "")
	assert.ErrorIs(t, err, domain.ErrNotFound)
}

func TestCommitmentService_UpdateFactors(t *testing.T) {
	ctx := context.Background()
	f := newCommitmentFixture(t)
	c := f.seed(t)

	_, err := f.service.UpdateFactors(ctx, c.ID, domain.CommitmentFactors{}, "user-1")
	assert.ErrorIs(t, err, domain.ErrInvalidInput)

	boost := true
	got, err := f.service.UpdateFactors(ctx, c.ID, domain.CommitmentFactors{UserBoost: &boost, ClearDueAt: true}, "user-1")
	require.NoError(t, err)
	assert.Nil(t, got.DueAt)
	assert.True(t, got.UserBoost)
	assert.Equal(t, 25, got.PriorityFactors[domain.FactorTime])
	assert.Equal(t, 100, got.PriorityFactors[domain.FactorPreference])
	assert.NotEqual(t, c.Priority, got.Priority)

	log := f.interactions(t, c.ID)
	require.Len(t, log, 1)
	assert.Equal(t, domain.InteractionCommitmentReprioritized, log[0].Type)
	assert.Equal(t, "81", log[0].Metadata["previous_priority"])

	_, err = f.service.Fulfill(ctx, c.ID, "user-1")
	require.NoError(t, err)
	_, err = f.service.UpdateFactors(ctx, c.ID, domain.CommitmentFactors{UserBoost: &boost}, "user-1")
	assert.ErrorIs(t, err, domain.ErrInvalidStateTransition)
}

func TestCommitmentService_ListByParty(t *testing.T) {
	ctx := context.Background()
	f := newCommitmentFixture(t)
	first := f.seed(t)
	*f.clock = testNow.Add(time.Minute)
	second := f.seed(t)

	list, err := f.service.ListByParty(ctx, f.party.ID, 0, 0)
	require.NoError(t, err)
	require.Len(t, list, 2)
	assert.Equal(t, second.ID, list[0].ID, "newest first")
	assert.Equal(t, first.ID, list[1].ID)

	_, err = f.service.ListByParty(ctx, "nobody", 0, 0)
	assert.ErrorIs(t, err, domain.ErrNotFound)
}

func TestCommitmentService_RescorePending(t *testing.T) {
	ctx := context.Background()
	f := newCommitmentFixture(t)
	pending := f.seed(t)
	done := f.seed(t)
	_, err := f.service.Fulfill(ctx, done.ID, "")
	require.NoError(t, err)

	changed, err := f.service.RescorePending(ctx)
	require.NoError(t, err)
	assert.Zero(t, changed)

	*f.clock = testNow.Add(24 * time.Hour)
	changed, err = f.service.RescorePending(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, changed)

	got, err := f.service.Get(ctx, pending.ID)
	require.NoError(t, err)
	assert.Equal(t, 82, got.Priority)
	assert.Contains(t, got.PriorityReason, "Due tomorrow")

	resolved, err := f.service.Get(ctx, done.ID)
	require.NoError(t, err)
	assert.Equal(t, 81, resolved.Priority, "resolved commitments are not rescored")
}

func TestCommitmentService_StaleWriteLosesToFactorChange(t *testing.T) {
	ctx := context.Background()
	f := newCommitmentFixture(t)
	c := f.seed(t)

	stale, err := f.store.Commitments().ListPending(ctx, "", 10)
	require.NoError(t, err)
	require.Len(t, stale, 1)

	blocked := true
	updated, err := f.service.UpdateFactors(ctx, c.ID, domain.CommitmentFactors{Blocked: &blocked}, "user-1")
	require.NoError(t, err)
	assert.Equal(t, 86, updated.Priority)

	*f.clock = testNow.Add(24 * time.Hour)
	require.True(t, f.engine.Reprioritize(stale[0]))
	err = f.store.Commitments().Update(ctx, stale[0], domain.CommitmentStatePending)
	assert.ErrorIs(t, err, domain.ErrConflict)

	got, err := f.service.Get(ctx, c.ID)
	require.NoError(t, err)
	assert.True(t, got.Blocked)
	assert.Equal(t, 86, got.Priority)
}

// racingBackend runs before once, just ahead of the first commitment update
// issued outside a transaction.
type racingBackend struct {
	*memory.Store
	before func()
}

func (b *racingBackend) Commitments() driven.CommitmentStore {
	return racingCommitments{CommitmentStore: b.Store.Commitments(), b: b}
}

type racingCommitments struct {
	driven.CommitmentStore
	b *racingBackend
}

func (r racingCommitments) Update(ctx context.Context, c *domain.Commitment, expected domain.CommitmentState) error {
	if before := r.b.before; before != nil {
		r.b.before = nil
		before()
	}
	return r.CommitmentStore.Update(ctx, c, expected)
}

func TestCommitmentService_RescorePendingKeepsConcurrentFactorChange(t *testing.T) {
	ctx := context.Background()
	f := newCommitmentFixture(t)
	c := f.seed(t)

	blocked := true
	backend := &racingBackend{Store: f.store, before: func() {
		_, err := f.service.UpdateFactors(ctx, c.ID, domain.CommitmentFactors{Blocked: &blocked}, "user-1")
		require.NoError(t, err)
	}}
	rescorer := NewCommitmentService(CommitmentServiceConfig{
		Backend: backend,
		Engine:  f.engine,
		Logger:  quietLogger(),
		Now:     func() time.Time { return *f.clock },
	})

	*f.clock = testNow.Add(24 * time.Hour)
	changed, err := rescorer.RescorePending(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, changed)

	got, err := f.service.Get(ctx, c.ID)
	require.NoError(t, err)
	assert.True(t, got.Blocked, "factor change survives the rescore")
	want := f.engine.priority.CalculatePriority(got.PriorityInput())
	assert.Equal(t, want.Score, got.Priority)
	assert.Contains(t, got.PriorityReason, "Due tomorrow")
	assert.Equal(t, 2, got.Version)
}

func TestCommitmentService_PreviewPriority(t *testing.T) {
	f := newCommitmentFixture(t)

	got := f.service.PreviewPriority(domain.PriorityInput{
		DueAt:          ptrTime(testNow.Add(48 * time.Hour)),
		Amount:         ptrMoney(domain.NewMoney(12419.83, "USD")),
		SeverityDomain: "financial",
	})
	assert.Equal(t, 81, got.Score)

	n, err := f.store.Commitments().Count(context.Background())
	require.NoError(t, err)
	assert.Zero(t, n)
}
