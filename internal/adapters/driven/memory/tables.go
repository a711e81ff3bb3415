package memory

import (
	"context"
	"fmt"
	"sort"
	"time"

	"github.com/custodia-labs/docintel/internal/core/domain"
	"github.com/custodia-labs/docintel/internal/core/ports/driven"
)

var (
	_ driven.FileStore        = fileStore{}
	_ driven.PartyStore       = partyStore{}
	_ driven.CommitmentStore  = commitmentStore{}
	_ driven.SignalStore      = signalStore{}
	_ driven.LinkStore        = linkStore{}
	_ driven.InteractionStore = interactionStore{}
)

// Files

type fileStore struct{ h handle }

func (s fileStore) Create(ctx context.Context, file *domain.StoredFile) error {
	st, done := s.h.write()
	defer done()

	for _, f := range st.files {
		if f.Address == file.Address {
			return fmt.Errorf("stored file %s: %w", file.Address, domain.ErrConflict)
		}
	}
	st.files[file.ID] = cloneFile(file)
	return nil
}

func (s fileStore) Get(ctx context.Context, id string) (*domain.StoredFile, error) {
	st, done := s.h.read()
	defer done()

	f, ok := st.files[id]
	if !ok {
		return nil, domain.ErrNotFound
	}
	return cloneFile(f), nil
}

func (s fileStore) GetByAddress(ctx context.Context, address string) (*domain.StoredFile, error) {
	st, done := s.h.read()
	defer done()

	for _, f := range st.files {
		if f.Address == address {
			return cloneFile(f), nil
		}
	}
	return nil, domain.ErrNotFound
}

func (s fileStore) Delete(ctx context.Context, id string) error {
	st, done := s.h.write()
	defer done()

	if _, ok := st.files[id]; !ok {
		return domain.ErrNotFound
	}
	delete(st.files, id)

	kept := st.links[:0]
	for _, l := range st.links {
		if l.DocumentID != id {
			kept = append(kept, l)
		}
	}
	st.links = kept
	return nil
}

// Parties

type partyStore struct{ h handle }

func (s partyStore) Create(ctx context.Context, party *domain.Party) error {
	st, done := s.h.write()
	defer done()

	for _, p := range st.parties {
		if p.Kind == party.Kind && p.NormalizedName == party.NormalizedName {
			return fmt.Errorf("party %q: %w", party.NormalizedName, domain.ErrConflict)
		}
		if party.NormalizedTaxID != "" && p.NormalizedTaxID == party.NormalizedTaxID {
			return fmt.Errorf("party tax id %s: %w", party.NormalizedTaxID, domain.ErrConflict)
		}
	}
	st.parties[party.ID] = party.Clone()
	return nil
}

func (s partyStore) Get(ctx context.Context, id string) (*domain.Party, error) {
	st, done := s.h.read()
	defer done()

	p, ok := st.parties[id]
	if !ok {
		return nil, domain.ErrNotFound
	}
	return p.Clone(), nil
}

func (s partyStore) FindByTaxID(ctx context.Context, normalizedTaxID string) (*domain.Party, error) {
	if normalizedTaxID == "" {
		return nil, domain.ErrNotFound
	}
	st, done := s.h.read()
	defer done()

	for _, p := range st.parties {
		if p.NormalizedTaxID == normalizedTaxID {
			return p.Clone(), nil
		}
	}
	return nil, domain.ErrNotFound
}

func (s partyStore) FindByNormalizedName(ctx context.Context, kind domain.PartyKind, normalizedName string) (*domain.Party, error) {
	st, done := s.h.read()
	defer done()

	for _, p := range st.parties {
		if p.Kind == kind && p.NormalizedName == normalizedName {
			return p.Clone(), nil
		}
	}
	return nil, domain.ErrNotFound
}

// SimilarByName scans every party of the kind. The PostgreSQL backend
// answers the same question from a trigram index.
func (s partyStore) SimilarByName(ctx context.Context, kind domain.PartyKind, normalizedName string, minSimilarity float64, limit int) ([]domain.PartyCandidate, error) {
	st, done := s.h.read()
	defer done()

	var out []domain.PartyCandidate
	for _, p := range st.parties {
		if p.Kind != kind {
			continue
		}
		sim := domain.TrigramSimilarity(normalizedName, p.NormalizedName)
		if sim >= minSimilarity {
			out = append(out, domain.PartyCandidate{Party: p.Clone(), Similarity: sim})
		}
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].Similarity != out[j].Similarity {
			return out[i].Similarity > out[j].Similarity
		}
		return out[i].Party.NormalizedName < out[j].Party.NormalizedName
	})
	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

func (s partyStore) Enrich(ctx context.Context, party *domain.Party) error {
	st, done := s.h.write()
	defer done()

	existing, ok := st.parties[party.ID]
	if !ok {
		return domain.ErrNotFound
	}
	if party.NormalizedTaxID != "" && party.NormalizedTaxID != existing.NormalizedTaxID {
		for id, p := range st.parties {
			if id != party.ID && p.NormalizedTaxID == party.NormalizedTaxID {
				return fmt.Errorf("party tax id %s: %w", party.NormalizedTaxID, domain.ErrConflict)
			}
		}
	}

	updated := party.Clone()
	updated.Kind = existing.Kind
	updated.Name = existing.Name
	updated.NormalizedName = existing.NormalizedName
	updated.CreatedAt = existing.CreatedAt
	st.parties[party.ID] = updated
	return nil
}

func (s partyStore) List(ctx context.Context, limit, offset int) ([]*domain.Party, error) {
	st, done := s.h.read()
	defer done()

	out := make([]*domain.Party, 0, len(st.parties))
	for _, p := range st.parties {
		out = append(out, p.Clone())
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].Name != out[j].Name {
			return out[i].Name < out[j].Name
		}
		return out[i].ID < out[j].ID
	})
	return paginate(out, limit, offset), nil
}

func (s partyStore) Count(ctx context.Context) (int, error) {
	st, done := s.h.read()
	defer done()
	return len(st.parties), nil
}

// Commitments

type commitmentStore struct{ h handle }

func (s commitmentStore) Create(ctx context.Context, c *domain.Commitment) error {
	st, done := s.h.write()
	defer done()

	if _, ok := st.commitments[c.ID]; ok {
		return fmt.Errorf("commitment %s: %w", c.ID, domain.ErrConflict)
	}
	if _, ok := st.parties[c.PartyID]; !ok {
		return fmt.Errorf("commitment party %s: %w", c.PartyID, domain.ErrNotFound)
	}
	st.commitments[c.ID] = cloneCommitment(c)
	return nil
}

func (s commitmentStore) Get(ctx context.Context, id string) (*domain.Commitment, error) {
	st, done := s.h.read()
	defer done()

	c, ok := st.commitments[id]
	if !ok {
		return nil, domain.ErrNotFound
	}
	return cloneCommitment(c), nil
}

func (s commitmentStore) Update(ctx context.Context, c *domain.Commitment, expected domain.CommitmentState) error {
	st, done := s.h.write()
	defer done()

	existing, ok := st.commitments[c.ID]
	if !ok {
		return domain.ErrNotFound
	}
	if existing.State != expected {
		return fmt.Errorf("commitment %s is %s, expected %s: %w", c.ID, existing.State, expected, domain.ErrConflict)
	}
	if existing.Version != c.Version {
		return fmt.Errorf("commitment %s changed since version %d: %w", c.ID, c.Version, domain.ErrConflict)
	}
	stored := cloneCommitment(c)
	stored.Version++
	st.commitments[c.ID] = stored
	c.Version = stored.Version
	return nil
}

func (s commitmentStore) ListByParty(ctx context.Context, partyID string, limit, offset int) ([]*domain.Commitment, error) {
	out := s.filter(func(c *domain.Commitment) bool { return c.PartyID == partyID })
	sortNewestFirst(out)
	return paginate(out, limit, offset), nil
}

func (s commitmentStore) ListByDocument(ctx context.Context, documentID string) ([]*domain.Commitment, error) {
	out := s.filter(func(c *domain.Commitment) bool { return c.DocumentID == documentID })
	sortNewestFirst(out)
	return out, nil
}

func (s commitmentStore) ListPending(ctx context.Context, afterID string, limit int) ([]*domain.Commitment, error) {
	out := s.filter(func(c *domain.Commitment) bool {
		return c.State == domain.CommitmentStatePending && c.ID > afterID
	})
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return paginate(out, limit, 0), nil
}

func (s commitmentStore) Count(ctx context.Context) (int, error) {
	st, done := s.h.read()
	defer done()
	return len(st.commitments), nil
}

func (s commitmentStore) filter(keep func(*domain.Commitment) bool) []*domain.Commitment {
	st, done := s.h.read()
	defer done()

	out := make([]*domain.Commitment, 0)
	for _, c := range st.commitments {
		if keep(c) {
			out = append(out, cloneCommitment(c))
		}
	}
	return out
}

func sortNewestFirst(cs []*domain.Commitment) {
	sort.Slice(cs, func(i, j int) bool {
		if !cs[i].CreatedAt.Equal(cs[j].CreatedAt) {
			return cs[i].CreatedAt.After(cs[j].CreatedAt)
		}
		return cs[i].ID > cs[j].ID
	})
}

// Signals

type signalStore struct{ h handle }

func (s signalStore) Create(ctx context.Context, signal *domain.Signal) error {
	st, done := s.h.write()
	defer done()

	if signal.State != domain.SignalStateArchived {
		for _, existing := range st.signals {
			if existing.DedupeKey == signal.DedupeKey && existing.State != domain.SignalStateArchived {
				return fmt.Errorf("signal dedupe key %s: %w", signal.DedupeKey, domain.ErrConflict)
			}
		}
	}
	st.signals[signal.ID] = cloneSignal(signal)
	return nil
}

func (s signalStore) Get(ctx context.Context, id string) (*domain.Signal, error) {
	st, done := s.h.read()
	defer done()

	sig, ok := st.signals[id]
	if !ok {
		return nil, domain.ErrNotFound
	}
	return cloneSignal(sig), nil
}

func (s signalStore) GetActiveByDedupeKey(ctx context.Context, key string) (*domain.Signal, error) {
	st, done := s.h.read()
	defer done()

	for _, sig := range st.signals {
		if sig.DedupeKey == key && sig.State != domain.SignalStateArchived {
			return cloneSignal(sig), nil
		}
	}
	return nil, domain.ErrNotFound
}

func (s signalStore) Transition(ctx context.Context, signal *domain.Signal, from domain.SignalState) error {
	st, done := s.h.write()
	defer done()

	existing, ok := st.signals[signal.ID]
	if !ok {
		return domain.ErrNotFound
	}
	if existing.State != from {
		return fmt.Errorf("signal %s is %s, expected %s: %w", signal.ID, existing.State, from, domain.ErrConflict)
	}
	st.signals[signal.ID] = cloneSignal(signal)
	return nil
}

func (s signalStore) ListByState(ctx context.Context, state domain.SignalState, updatedBefore time.Time, limit int) ([]*domain.Signal, error) {
	st, done := s.h.read()
	defer done()

	var out []*domain.Signal
	for _, sig := range st.signals {
		if sig.State == state && sig.UpdatedAt.Before(updatedBefore) {
			out = append(out, cloneSignal(sig))
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].UpdatedAt.Before(out[j].UpdatedAt) })
	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

func (s signalStore) CountByDedupeKey(ctx context.Context, key string) (int, error) {
	st, done := s.h.read()
	defer done()

	n := 0
	for _, sig := range st.signals {
		if sig.DedupeKey == key {
			n++
		}
	}
	return n, nil
}

// Links

type linkStore struct{ h handle }

func (s linkStore) Create(ctx context.Context, link *domain.Link) error {
	st, done := s.h.write()
	defer done()

	if _, ok := st.files[link.DocumentID]; !ok {
		return fmt.Errorf("link document %s: %w", link.DocumentID, domain.ErrNotFound)
	}
	st.links = append(st.links, cloneLink(link))
	return nil
}

func (s linkStore) ListByDocument(ctx context.Context, documentID string) ([]*domain.Link, error) {
	return s.filter(func(l *domain.Link) bool { return l.DocumentID == documentID }), nil
}

func (s linkStore) ListByEntity(ctx context.Context, entity domain.EntityRef) ([]*domain.Link, error) {
	return s.filter(func(l *domain.Link) bool { return l.Entity() == entity }), nil
}

func (s linkStore) filter(keep func(*domain.Link) bool) []*domain.Link {
	st, done := s.h.read()
	defer done()

	out := make([]*domain.Link, 0)
	for _, l := range st.links {
		if keep(l) {
			out = append(out, cloneLink(l))
		}
	}
	return out
}

// Interactions

type interactionStore struct{ h handle }

func (s interactionStore) Record(ctx context.Context, interaction *domain.Interaction) error {
	st, done := s.h.write()
	defer done()

	for _, in := range st.interactions {
		if in.ID == interaction.ID {
			return fmt.Errorf("interaction %s: %w", interaction.ID, domain.ErrConflict)
		}
	}
	st.interactions = append(st.interactions, cloneInteraction(interaction))
	return nil
}

func (s interactionStore) Get(ctx context.Context, id string) (*domain.Interaction, error) {
	st, done := s.h.read()
	defer done()

	for _, in := range st.interactions {
		if in.ID == id {
			return cloneInteraction(in), nil
		}
	}
	return nil, domain.ErrNotFound
}

func (s interactionStore) ListByEntity(ctx context.Context, ref domain.EntityRef, limit, offset int) ([]*domain.Interaction, error) {
	return paginate(s.newestFirst(func(in *domain.Interaction) bool { return in.References(ref) }), limit, offset), nil
}

func (s interactionStore) ListRecent(ctx context.Context, limit, offset int) ([]*domain.Interaction, error) {
	return paginate(s.newestFirst(func(*domain.Interaction) bool { return true }), limit, offset), nil
}

// newestFirst walks the append-only log backwards
func (s interactionStore) newestFirst(keep func(*domain.Interaction) bool) []*domain.Interaction {
	st, done := s.h.read()
	defer done()

	out := make([]*domain.Interaction, 0)
	for i := len(st.interactions) - 1; i >= 0; i-- {
		if keep(st.interactions[i]) {
			out = append(out, cloneInteraction(st.interactions[i]))
		}
	}
	return out
}
