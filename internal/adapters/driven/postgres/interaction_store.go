package postgres

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"

	"github.com/custodia-labs/docintel/internal/core/domain"
	"github.com/custodia-labs/docintel/internal/core/ports/driven"
)

// Verify interface compliance
var _ driven.InteractionStore = (*InteractionStore)(nil)

// InteractionStore implements driven.InteractionStore using PostgreSQL.
// A trigger rejects UPDATE and DELETE on the table.
type InteractionStore struct {
	q querier
}

// NewInteractionStore creates a new InteractionStore
func NewInteractionStore(db *DB) *InteractionStore {
	return &InteractionStore{q: db}
}

const interactionColumns = `
	id, type, actor, primary_kind, primary_id, related,
	cost_minor, cost_currency, metadata, occurred_at
`

func scanInteraction(row rowScanner) (*domain.Interaction, error) {
	var in domain.Interaction
	var related, metadata []byte
	var costMinor sql.NullInt64
	var costCurrency sql.NullString

	err := row.Scan(
		&in.ID, &in.Type, &in.Actor, &in.Primary.Kind, &in.Primary.ID, &related,
		&costMinor, &costCurrency, &metadata, &in.OccurredAt,
	)
	if err != nil {
		return nil, err
	}
	if len(related) > 0 {
		if err := json.Unmarshal(related, &in.Related); err != nil {
			return nil, fmt.Errorf("unmarshal related entities: %w", err)
		}
	}
	if len(in.Related) == 0 {
		in.Related = nil
	}
	in.Metadata = make(map[string]string)
	if len(metadata) > 0 {
		if err := json.Unmarshal(metadata, &in.Metadata); err != nil {
			return nil, fmt.Errorf("unmarshal interaction metadata: %w", err)
		}
	}
	if costMinor.Valid {
		in.Cost = &domain.Money{Minor: costMinor.Int64, Currency: costCurrency.String}
	}
	return &in, nil
}

// Record appends an interaction
func (s *InteractionStore) Record(ctx context.Context, in *domain.Interaction) error {
	related := in.Related
	if related == nil {
		related = []domain.EntityRef{}
	}
	relatedJSON, err := json.Marshal(related)
	if err != nil {
		return fmt.Errorf("marshal related entities: %w", err)
	}
	metadataJSON, err := json.Marshal(in.Metadata)
	if err != nil {
		return fmt.Errorf("marshal interaction metadata: %w", err)
	}
	var costMinor sql.NullInt64
	var costCurrency sql.NullString
	if in.Cost != nil {
		costMinor = sql.NullInt64{Int64: in.Cost.Minor, Valid: true}
		costCurrency = sql.NullString{String: in.Cost.Currency, Valid: in.Cost.Currency != ""}
	}

	_, err = s.q.ExecContext(ctx, `
		INSERT INTO interactions (`+interactionColumns+`)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)
	`,
		in.ID, in.Type, in.Actor, in.Primary.Kind, in.Primary.ID, relatedJSON,
		costMinor, costCurrency, metadataJSON, in.OccurredAt,
	)
	return mapError("insert interaction", err)
}

func (s *InteractionStore) Get(ctx context.Context, id string) (*domain.Interaction, error) {
	in, err := scanInteraction(s.q.QueryRowContext(ctx, `SELECT `+interactionColumns+` FROM interactions WHERE id = $1`, id))
	if err != nil {
		return nil, mapError("get interaction", err)
	}
	return in, nil
}

// ListByEntity returns interactions naming ref as primary or related entity, newest first
func (s *InteractionStore) ListByEntity(ctx context.Context, ref domain.EntityRef, limit, offset int) ([]*domain.Interaction, error) {
	contains, err := json.Marshal([]domain.EntityRef{ref})
	if err != nil {
		return nil, fmt.Errorf("marshal entity ref: %w", err)
	}
	l, o := pageArgs(limit, offset)
	return s.list(ctx, `
		SELECT `+interactionColumns+`
		FROM interactions
		WHERE (primary_kind = $1 AND primary_id = $2) OR related @> $3::jsonb
		ORDER BY seq DESC
		LIMIT $4 OFFSET $5
	`, ref.Kind, ref.ID, string(contains), l, o)
}

// ListRecent returns the newest interactions
func (s *InteractionStore) ListRecent(ctx context.Context, limit, offset int) ([]*domain.Interaction, error) {
	l, o := pageArgs(limit, offset)
	return s.list(ctx, `
		SELECT `+interactionColumns+`
		FROM interactions
		ORDER BY seq DESC
		LIMIT $1 OFFSET $2
	`, l, o)
}

func (s *InteractionStore) list(ctx context.Context, query string, args ...any) ([]*domain.Interaction, error) {
	rows, err := s.q.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, mapError("list interactions", err)
	}
	defer rows.Close()

	out := make([]*domain.Interaction, 0)
	for rows.Next() {
		in, err := scanInteraction(rows)
		if err != nil {
			return nil, fmt.Errorf("scan interaction: %w", err)
		}
		out = append(out, in)
	}
	return out, rows.Err()
}
