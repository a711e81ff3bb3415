package postgres

import (
	"context"
	"encoding/json"
	"fmt"
	"sort"

	"github.com/custodia-labs/docintel/internal/core/domain"
	"github.com/custodia-labs/docintel/internal/core/ports/driven"
)

// Verify interface compliance
var _ driven.PartyStore = (*PartyStore)(nil)

// candidateOverfetch widens the trigram prefilter. The % operator drops
// rows under pg_trgm.similarity_threshold, so more rows are fetched than
// asked for and each is rescored with domain.TrigramSimilarity, which uses
// the same padding as pg_trgm.
const candidateOverfetch = 4

// PartyStore implements driven.PartyStore using PostgreSQL
type PartyStore struct {
	q querier
}

// NewPartyStore creates a new PartyStore
func NewPartyStore(db *DB) *PartyStore {
	return &PartyStore{q: db}
}

const partyColumns = `
	id, kind, name, normalized_name, tax_id, normalized_tax_id,
	address, normalized_address, email, metadata, created_at, updated_at
`

func scanParty(row rowScanner) (*domain.Party, error) {
	var p domain.Party
	var metadata []byte
	err := row.Scan(
		&p.ID, &p.Kind, &p.Name, &p.NormalizedName, &p.TaxID, &p.NormalizedTaxID,
		&p.Address, &p.NormalizedAddress, &p.Email, &metadata, &p.CreatedAt, &p.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}
	p.Metadata = make(map[string]string)
	if len(metadata) > 0 {
		if err := json.Unmarshal(metadata, &p.Metadata); err != nil {
			return nil, fmt.Errorf("unmarshal party metadata: %w", err)
		}
	}
	return &p, nil
}

func (s *PartyStore) queryParties(ctx context.Context, query string, args ...any) ([]*domain.Party, error) {
	rows, err := s.q.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, mapError("query parties", err)
	}
	defer rows.Close()

	parties := make([]*domain.Party, 0)
	for rows.Next() {
		p, err := scanParty(rows)
		if err != nil {
			return nil, fmt.Errorf("scan party: %w", err)
		}
		parties = append(parties, p)
	}
	return parties, rows.Err()
}

// Create inserts a party. A duplicate (kind, normalized name) or tax id
// fails with ErrConflict.
func (s *PartyStore) Create(ctx context.Context, party *domain.Party) error {
	metadata, err := json.Marshal(party.Metadata)
	if err != nil {
		return fmt.Errorf("marshal party metadata: %w", err)
	}
	_, err = s.q.ExecContext(ctx, `
		INSERT INTO parties (`+partyColumns+`)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12)
	`,
		party.ID, party.Kind, party.Name, party.NormalizedName, party.TaxID, party.NormalizedTaxID,
		party.Address, party.NormalizedAddress, party.Email, metadata, party.CreatedAt, party.UpdatedAt,
	)
	return mapError("insert party", err)
}

// Get retrieves a party by ID
func (s *PartyStore) Get(ctx context.Context, id string) (*domain.Party, error) {
	p, err := scanParty(s.q.QueryRowContext(ctx, `SELECT `+partyColumns+` FROM parties WHERE id = $1`, id))
	if err != nil {
		return nil, mapError("get party", err)
	}
	return p, nil
}

// FindByTaxID retrieves the party owning a normalized tax id
func (s *PartyStore) FindByTaxID(ctx context.Context, normalizedTaxID string) (*domain.Party, error) {
	if normalizedTaxID == "" {
		return nil, domain.ErrNotFound
	}
	p, err := scanParty(s.q.QueryRowContext(ctx,
		`SELECT `+partyColumns+` FROM parties WHERE normalized_tax_id = $1`, normalizedTaxID))
	if err != nil {
		return nil, mapError("find party by tax id", err)
	}
	return p, nil
}

// FindByNormalizedName retrieves the party with an exact normalized name
func (s *PartyStore) FindByNormalizedName(ctx context.Context, kind domain.PartyKind, normalizedName string) (*domain.Party, error) {
	p, err := scanParty(s.q.QueryRowContext(ctx,
		`SELECT `+partyColumns+` FROM parties WHERE kind = $1 AND normalized_name = $2`, kind, normalizedName))
	if err != nil {
		return nil, mapError("find party by name", err)
	}
	return p, nil
}

// SimilarByName uses the trigram index to fetch candidates, then scores them
// with domain.TrigramSimilarity so results match the in-memory backend.
func (s *PartyStore) SimilarByName(ctx context.Context, kind domain.PartyKind, normalizedName string, minSimilarity float64, limit int) ([]domain.PartyCandidate, error) {
	fetch, _ := pageArgs(limit*candidateOverfetch, 0)
	parties, err := s.queryParties(ctx, `
		SELECT `+partyColumns+`
		FROM parties
		WHERE kind = $1 AND normalized_name % $2
		ORDER BY similarity(normalized_name, $2) DESC
		LIMIT $3
	`, kind, normalizedName, fetch)
	if err != nil {
		return nil, err
	}

	out := make([]domain.PartyCandidate, 0, len(parties))
	for _, p := range parties {
		sim := domain.TrigramSimilarity(normalizedName, p.NormalizedName)
		if sim >= minSimilarity {
			out = append(out, domain.PartyCandidate{Party: p, Similarity: sim})
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

// Enrich writes the mutable attributes. Identity columns are never updated.
func (s *PartyStore) Enrich(ctx context.Context, party *domain.Party) error {
	metadata, err := json.Marshal(party.Metadata)
	if err != nil {
		return fmt.Errorf("marshal party metadata: %w", err)
	}
	result, err := s.q.ExecContext(ctx, `
		UPDATE parties
		SET tax_id = $2, normalized_tax_id = $3, address = $4, normalized_address = $5,
			email = $6, metadata = $7, updated_at = $8
		WHERE id = $1
	`,
		party.ID, party.TaxID, party.NormalizedTaxID, party.Address, party.NormalizedAddress,
		party.Email, metadata, party.UpdatedAt,
	)
	if err != nil {
		return mapError("enrich party", err)
	}
	return requireRow(result)
}

// List returns parties ordered by name
func (s *PartyStore) List(ctx context.Context, limit, offset int) ([]*domain.Party, error) {
	l, o := pageArgs(limit, offset)
	return s.queryParties(ctx, `
		SELECT `+partyColumns+`
		FROM parties
		ORDER BY name, id
		LIMIT $1 OFFSET $2
	`, l, o)
}

// Count returns the number of parties
func (s *PartyStore) Count(ctx context.Context) (int, error) {
	var n int
	if err := s.q.QueryRowContext(ctx, `SELECT COUNT(*) FROM parties`).Scan(&n); err != nil {
		return 0, mapError("count parties", err)
	}
	return n, nil
}
