package postgres

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/custodia-labs/docintel/internal/core/domain"
	"github.com/custodia-labs/docintel/internal/core/ports/driven"
)

// Verify interface compliance
var _ driven.SignalStore = (*SignalStore)(nil)

// SignalStore implements driven.SignalStore using PostgreSQL. The partial
// unique index idx_signals_active_dedupe enforces one live signal per key.
type SignalStore struct {
	q querier
}

// NewSignalStore creates a new SignalStore
func NewSignalStore(db *DB) *SignalStore {
	return &SignalStore{q: db}
}

const signalColumns = `id, source, payload_ref, dedupe_key, state, document_id, error, created_at, updated_at`

func scanSignal(row rowScanner) (*domain.Signal, error) {
	var s domain.Signal
	err := row.Scan(&s.ID, &s.Source, &s.PayloadRef, &s.DedupeKey, &s.State, &s.DocumentID, &s.Error, &s.CreatedAt, &s.UpdatedAt)
	if err != nil {
		return nil, err
	}
	return &s, nil
}

func (s *SignalStore) Create(ctx context.Context, signal *domain.Signal) error {
	_, err := s.q.ExecContext(ctx, `
		INSERT INTO signals (`+signalColumns+`)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)
	`,
		signal.ID, signal.Source, signal.PayloadRef, signal.DedupeKey, signal.State,
		signal.DocumentID, signal.Error, signal.CreatedAt, signal.UpdatedAt,
	)
	return mapError("insert signal", err)
}

func (s *SignalStore) Get(ctx context.Context, id string) (*domain.Signal, error) {
	sig, err := scanSignal(s.q.QueryRowContext(ctx, `SELECT `+signalColumns+` FROM signals WHERE id = $1`, id))
	if err != nil {
		return nil, mapError("get signal", err)
	}
	return sig, nil
}

func (s *SignalStore) GetActiveByDedupeKey(ctx context.Context, key string) (*domain.Signal, error) {
	sig, err := scanSignal(s.q.QueryRowContext(ctx, `
		SELECT `+signalColumns+`
		FROM signals
		WHERE dedupe_key = $1 AND state <> $2
	`, key, domain.SignalStateArchived))
	if err != nil {
		return nil, mapError("get signal by dedupe key", err)
	}
	return sig, nil
}

// Transition writes the signal's new state only if the stored state is still from.
func (s *SignalStore) Transition(ctx context.Context, signal *domain.Signal, from domain.SignalState) error {
	result, err := s.q.ExecContext(ctx, `
		UPDATE signals
		SET state = $2, document_id = $3, error = $4, updated_at = $5
		WHERE id = $1 AND state = $6
	`, signal.ID, signal.State, signal.DocumentID, signal.Error, signal.UpdatedAt, from)
	if err != nil {
		return mapError("transition signal", err)
	}
	if err := requireRow(result); errors.Is(err, domain.ErrNotFound) {
		existing, getErr := s.Get(ctx, signal.ID)
		if getErr != nil {
			return getErr
		}
		return fmt.Errorf("signal %s is %s, expected %s: %w", signal.ID, existing.State, from, domain.ErrConflict)
	} else if err != nil {
		return err
	}
	return nil
}

func (s *SignalStore) ListByState(ctx context.Context, state domain.SignalState, updatedBefore time.Time, limit int) ([]*domain.Signal, error) {
	l, _ := pageArgs(limit, 0)
	rows, err := s.q.QueryContext(ctx, `
		SELECT `+signalColumns+`
		FROM signals
		WHERE state = $1 AND updated_at < $2
		ORDER BY updated_at
		LIMIT $3
	`, state, updatedBefore, l)
	if err != nil {
		return nil, mapError("list signals", err)
	}
	defer rows.Close()

	var out []*domain.Signal
	for rows.Next() {
		sig, err := scanSignal(rows)
		if err != nil {
			return nil, fmt.Errorf("scan signal: %w", err)
		}
		out = append(out, sig)
	}
	return out, rows.Err()
}

func (s *SignalStore) CountByDedupeKey(ctx context.Context, key string) (int, error) {
	var n int
	if err := s.q.QueryRowContext(ctx, `SELECT COUNT(*) FROM signals WHERE dedupe_key = $1`, key).Scan(&n); err != nil {
		return 0, mapError("count signals", err)
	}
	return n, nil
}
