package postgres

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/custodia-labs/docintel/internal/core/domain"
	"github.com/custodia-labs/docintel/internal/core/ports/driven"
)

// Verify interface compliance
var _ driven.CommitmentStore = (*CommitmentStore)(nil)

// CommitmentStore implements driven.CommitmentStore using PostgreSQL
type CommitmentStore struct {
	q querier
}

// NewCommitmentStore creates a new CommitmentStore
func NewCommitmentStore(db *DB) *CommitmentStore {
	return &CommitmentStore{q: db}
}

const commitmentColumns = `
	id, party_id, document_id, type, title, due_at, amount_minor, amount_currency,
	severity_domain, effort_hours, blocked, user_boost, priority, priority_reason,
	priority_factors, state, created_at, updated_at, resolved_at, version
`

// commitmentArgs returns the column values in commitmentColumns order
func commitmentArgs(c *domain.Commitment) ([]any, error) {
	factors, err := json.Marshal(c.PriorityFactors)
	if err != nil {
		return nil, fmt.Errorf("marshal priority factors: %w", err)
	}
	var minor sql.NullInt64
	var currency sql.NullString
	if c.Amount != nil {
		minor = sql.NullInt64{Int64: c.Amount.Minor, Valid: true}
		currency = sql.NullString{String: c.Amount.Currency, Valid: c.Amount.Currency != ""}
	}
	var effort sql.NullFloat64
	if c.EffortHours != nil {
		effort = sql.NullFloat64{Float64: *c.EffortHours, Valid: true}
	}
	return []any{
		c.ID, c.PartyID, c.DocumentID, c.Type, c.Title, NullTime(c.DueAt), minor, currency,
		c.SeverityDomain, effort, c.Blocked, c.UserBoost, c.Priority, c.PriorityReason,
		factors, c.State, c.CreatedAt, c.UpdatedAt, NullTime(c.ResolvedAt), c.Version,
	}, nil
}

func scanCommitment(row rowScanner) (*domain.Commitment, error) {
	var c domain.Commitment
	var dueAt, resolvedAt sql.NullTime
	var minor sql.NullInt64
	var currency sql.NullString
	var effort sql.NullFloat64
	var factors []byte

	err := row.Scan(
		&c.ID, &c.PartyID, &c.DocumentID, &c.Type, &c.Title, &dueAt, &minor, &currency,
		&c.SeverityDomain, &effort, &c.Blocked, &c.UserBoost, &c.Priority, &c.PriorityReason,
		&factors, &c.State, &c.CreatedAt, &c.UpdatedAt, &resolvedAt, &c.Version,
	)
	if err != nil {
		return nil, err
	}

	c.DueAt = TimePtr(dueAt)
	c.ResolvedAt = TimePtr(resolvedAt)
	if minor.Valid {
		c.Amount = &domain.Money{Minor: minor.Int64, Currency: currency.String}
	}
	if effort.Valid {
		hours := effort.Float64
		c.EffortHours = &hours
	}
	if len(factors) > 0 {
		if err := json.Unmarshal(factors, &c.PriorityFactors); err != nil {
			return nil, fmt.Errorf("unmarshal priority factors: %w", err)
		}
	}
	return &c, nil
}

func (s *CommitmentStore) queryCommitments(ctx context.Context, query string, args ...any) ([]*domain.Commitment, error) {
	rows, err := s.q.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, mapError("query commitments", err)
	}
	defer rows.Close()

	out := make([]*domain.Commitment, 0)
	for rows.Next() {
		c, err := scanCommitment(rows)
		if err != nil {
			return nil, fmt.Errorf("scan commitment: %w", err)
		}
		out = append(out, c)
	}
	return out, rows.Err()
}

// Create inserts a commitment. The party must exist.
func (s *CommitmentStore) Create(ctx context.Context, c *domain.Commitment) error {
	args, err := commitmentArgs(c)
	if err != nil {
		return err
	}
	_, err = s.q.ExecContext(ctx, `
		INSERT INTO commitments (`+commitmentColumns+`)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15, $16, $17, $18, $19, $20)
	`, args...)
	return mapError("insert commitment", err)
}

// Get retrieves a commitment by ID
func (s *CommitmentStore) Get(ctx context.Context, id string) (*domain.Commitment, error) {
	c, err := scanCommitment(s.q.QueryRowContext(ctx, `SELECT `+commitmentColumns+` FROM commitments WHERE id = $1`, id))
	if err != nil {
		return nil, mapError("get commitment", err)
	}
	return c, nil
}

// Update writes c only while the stored state still equals expected and
// the stored version still equals c.Version. On success c.Version advances.
func (s *CommitmentStore) Update(ctx context.Context, c *domain.Commitment, expected domain.CommitmentState) error {
	args, err := commitmentArgs(c)
	if err != nil {
		return err
	}
	// args follow commitmentColumns; only mutable columns are written
	result, err := s.q.ExecContext(ctx, `
		UPDATE commitments
		SET title = $2, due_at = $3, amount_minor = $4, amount_currency = $5,
			severity_domain = $6, effort_hours = $7, blocked = $8, user_boost = $9,
			priority = $10, priority_reason = $11, priority_factors = $12, state = $13,
			updated_at = $14, resolved_at = $15, version = version + 1
		WHERE id = $1 AND state = $16 AND version = $17
	`,
		args[0], args[4], args[5], args[6], args[7],
		args[8], args[9], args[10], args[11],
		args[12], args[13], args[14], args[15],
		args[17], args[18], expected, c.Version,
	)
	if err != nil {
		return mapError("update commitment", err)
	}
	if err := requireRow(result); errors.Is(err, domain.ErrNotFound) {
		existing, getErr := s.Get(ctx, c.ID)
		if getErr != nil {
			return getErr
		}
		if existing.State != expected {
			return fmt.Errorf("commitment %s is %s, expected %s: %w", c.ID, existing.State, expected, domain.ErrConflict)
		}
		return fmt.Errorf("commitment %s changed since version %d: %w", c.ID, c.Version, domain.ErrConflict)
	} else if err != nil {
		return err
	}
	c.Version++
	return nil
}

// ListByParty returns a party's commitments, newest first
func (s *CommitmentStore) ListByParty(ctx context.Context, partyID string, limit, offset int) ([]*domain.Commitment, error) {
	l, o := pageArgs(limit, offset)
	return s.queryCommitments(ctx, `
		SELECT `+commitmentColumns+`
		FROM commitments
		WHERE party_id = $1
		ORDER BY created_at DESC, id DESC
		LIMIT $2 OFFSET $3
	`, partyID, l, o)
}

// ListByDocument returns the commitments created from a document
func (s *CommitmentStore) ListByDocument(ctx context.Context, documentID string) ([]*domain.Commitment, error) {
	return s.queryCommitments(ctx, `
		SELECT `+commitmentColumns+`
		FROM commitments
		WHERE document_id = $1
		ORDER BY created_at DESC, id DESC
	`, documentID)
}

// ListPending pages through pending commitments by ID
func (s *CommitmentStore) ListPending(ctx context.Context, afterID string, limit int) ([]*domain.Commitment, error) {
	l, _ := pageArgs(limit, 0)
	return s.queryCommitments(ctx, `
		SELECT `+commitmentColumns+`
		FROM commitments
		WHERE state = $1 AND id > $2
		ORDER BY id
		LIMIT $3
	`, domain.CommitmentStatePending, afterID, l)
}

// Count returns the number of commitments
func (s *CommitmentStore) Count(ctx context.Context) (int, error) {
	var n int
	if err := s.q.QueryRowContext(ctx, `SELECT COUNT(*) FROM commitments`).Scan(&n); err != nil {
		return 0, mapError("count commitments", err)
	}
	return n, nil
}
