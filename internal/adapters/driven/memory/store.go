// Package memory provides an in-memory persistence backend with the same
// uniqueness and transaction semantics as the PostgreSQL backend. It backs
// service tests and runs the service when no DATABASE_URL is configured.
package memory

import (
	"context"
	"sync"

	"github.com/custodia-labs/docintel/internal/core/domain"
	"github.com/custodia-labs/docintel/internal/core/ports/driven"
)

// Verify interface compliance
var _ driven.Backend = (*Store)(nil)

// state holds every table. Values are owned by the state; callers only ever
// see clones.
type state struct {
	files        map[string]*domain.StoredFile
	parties      map[string]*domain.Party
	commitments  map[string]*domain.Commitment
	signals      map[string]*domain.Signal
	links        []*domain.Link
	interactions []*domain.Interaction
}

func newState() *state {
	return &state{
		files:       make(map[string]*domain.StoredFile),
		parties:     make(map[string]*domain.Party),
		commitments: make(map[string]*domain.Commitment),
		signals:     make(map[string]*domain.Signal),
	}
}

func (s *state) clone() *state {
	cp := newState()
	for k, v := range s.files {
		cp.files[k] = cloneFile(v)
	}
	for k, v := range s.parties {
		cp.parties[k] = v.Clone()
	}
	for k, v := range s.commitments {
		cp.commitments[k] = cloneCommitment(v)
	}
	for k, v := range s.signals {
		cp.signals[k] = cloneSignal(v)
	}
	cp.links = make([]*domain.Link, len(s.links))
	for i, l := range s.links {
		cp.links[i] = cloneLink(l)
	}
	cp.interactions = make([]*domain.Interaction, len(s.interactions))
	for i, in := range s.interactions {
		cp.interactions[i] = cloneInteraction(in)
	}
	return cp
}

// Store is the in-memory backend. Transactions are serialized: WithinTx
// holds the write lock, works on a clone of the state and swaps the clone
// in on success.
type Store struct {
	mu    sync.RWMutex
	state *state

	commitHook func() error
}

// NewStore creates an empty store
func NewStore() *Store {
	return &Store{state: newState()}
}

// SetCommitHook installs a function called just before a transaction is
// committed. A non-nil error aborts the commit. Intended for tests.
func (s *Store) SetCommitHook(fn func() error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.commitHook = fn
}

// WithinTx runs fn against a private copy of the state.
func (s *Store) WithinTx(ctx context.Context, fn func(ctx context.Context, tx driven.Stores) error) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if err := ctx.Err(); err != nil {
		return err
	}

	working := s.state.clone()
	if err := fn(ctx, &stores{h: handle{tx: working}}); err != nil {
		return err
	}
	if s.commitHook != nil {
		if err := s.commitHook(); err != nil {
			return err
		}
	}
	s.state = working
	return nil
}

// Ping always succeeds
func (s *Store) Ping(ctx context.Context) error {
	return nil
}

func (s *Store) Files() driven.FileStore               { return fileStore{handle{store: s}} }
func (s *Store) Parties() driven.PartyStore            { return partyStore{handle{store: s}} }
func (s *Store) Commitments() driven.CommitmentStore   { return commitmentStore{handle{store: s}} }
func (s *Store) Signals() driven.SignalStore           { return signalStore{handle{store: s}} }
func (s *Store) Links() driven.LinkStore               { return linkStore{handle{store: s}} }
func (s *Store) Interactions() driven.InteractionStore { return interactionStore{handle{store: s}} }

// stores exposes the transaction-scoped views
type stores struct {
	h handle
}

func (t *stores) Files() driven.FileStore               { return fileStore{t.h} }
func (t *stores) Parties() driven.PartyStore            { return partyStore{t.h} }
func (t *stores) Commitments() driven.CommitmentStore   { return commitmentStore{t.h} }
func (t *stores) Signals() driven.SignalStore           { return signalStore{t.h} }
func (t *stores) Links() driven.LinkStore               { return linkStore{t.h} }
func (t *stores) Interactions() driven.InteractionStore { return interactionStore{t.h} }

// handle resolves which state a store operates on. Inside a transaction
// the working copy is used without locking (WithinTx holds the lock);
// outside, every call locks the shared state.
type handle struct {
	store *Store
	tx    *state
}

func (h handle) read() (*state, func()) {
	if h.tx != nil {
		return h.tx, func() {}
	}
	h.store.mu.RLock()
	return h.store.state, h.store.mu.RUnlock
}

func (h handle) write() (*state, func()) {
	if h.tx != nil {
		return h.tx, func() {}
	}
	h.store.mu.Lock()
	return h.store.state, h.store.mu.Unlock
}

func cloneFile(f *domain.StoredFile) *domain.StoredFile {
	cp := *f
	return &cp
}

func cloneSignal(s *domain.Signal) *domain.Signal {
	cp := *s
	return &cp
}

func cloneLink(l *domain.Link) *domain.Link {
	cp := *l
	return &cp
}

func cloneMoney(m *domain.Money) *domain.Money {
	if m == nil {
		return nil
	}
	cp := *m
	return &cp
}

func cloneCommitment(c *domain.Commitment) *domain.Commitment {
	cp := *c
	if c.DueAt != nil {
		due := *c.DueAt
		cp.DueAt = &due
	}
	if c.EffortHours != nil {
		h := *c.EffortHours
		cp.EffortHours = &h
	}
	if c.ResolvedAt != nil {
		r := *c.ResolvedAt
		cp.ResolvedAt = &r
	}
	cp.Amount = cloneMoney(c.Amount)
	if c.PriorityFactors != nil {
		cp.PriorityFactors = make(map[string]int, len(c.PriorityFactors))
		for k, v := range c.PriorityFactors {
			cp.PriorityFactors[k] = v
		}
	}
	return &cp
}

func cloneInteraction(i *domain.Interaction) *domain.Interaction {
	cp := *i
	cp.Related = append([]domain.EntityRef(nil), i.Related...)
	cp.Cost = cloneMoney(i.Cost)
	if i.Metadata != nil {
		cp.Metadata = make(map[string]string, len(i.Metadata))
		for k, v := range i.Metadata {
			cp.Metadata[k] = v
		}
	}
	return &cp
}

func paginate[T any](items []T, limit, offset int) []T {
	if offset < 0 {
		offset = 0
	}
	if offset >= len(items) {
		return []T{}
	}
	items = items[offset:]
	if limit > 0 && limit < len(items) {
		items = items[:limit]
	}
	return items
}
