package postgres

import (
	"context"
	"database/sql"

	"github.com/custodia-labs/docintel/internal/core/ports/driven"
)

// Verify interface compliance
var _ driven.Backend = (*Backend)(nil)

// stores binds every entity store to one querier (pool or transaction)
type stores struct {
	files        *FileStore
	parties      *PartyStore
	commitments  *CommitmentStore
	signals      *SignalStore
	links        *LinkStore
	interactions *InteractionStore
}

func newStores(q querier) stores {
	return stores{
		files:        &FileStore{q: q},
		parties:      &PartyStore{q: q},
		commitments:  &CommitmentStore{q: q},
		signals:      &SignalStore{q: q},
		links:        &LinkStore{q: q},
		interactions: &InteractionStore{q: q},
	}
}

func (s stores) Files() driven.FileStore               { return s.files }
func (s stores) Parties() driven.PartyStore            { return s.parties }
func (s stores) Commitments() driven.CommitmentStore   { return s.commitments }
func (s stores) Signals() driven.SignalStore           { return s.signals }
func (s stores) Links() driven.LinkStore               { return s.links }
func (s stores) Interactions() driven.InteractionStore { return s.interactions }

// Backend is the PostgreSQL persistence backend
type Backend struct {
	stores
	db *DB
}

// NewBackend creates a Backend over db
func NewBackend(db *DB) *Backend {
	return &Backend{stores: newStores(db), db: db}
}

// WithinTx runs fn in one database transaction. Constraint violations inside
// fn surface as domain.ErrConflict and abort the whole transaction.
func (b *Backend) WithinTx(ctx context.Context, fn func(ctx context.Context, tx driven.Stores) error) error {
	return b.db.Transaction(ctx, func(tx *sql.Tx) error {
		return fn(ctx, newStores(tx))
	})
}

// Ping checks if the database is reachable
func (b *Backend) Ping(ctx context.Context) error {
	return b.db.Ping(ctx)
}
