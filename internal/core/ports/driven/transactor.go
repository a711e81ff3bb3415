package driven

import "context"

// Stores groups every entity store bound to one connection or transaction.
type Stores interface {
	Files() FileStore
	Parties() PartyStore
	Commitments() CommitmentStore
	Signals() SignalStore
	Links() LinkStore
	Interactions() InteractionStore
}

// Transactor runs fn inside a single atomic transaction. Stores handed to
// fn see their own writes; nothing is visible to other readers until fn
// returns nil and the commit succeeds. A non-nil error rolls back everything.
type Transactor interface {
	WithinTx(ctx context.Context, fn func(ctx context.Context, tx Stores) error) error
}

// Backend is a complete persistence backend: non-transactional stores plus
// a transactor over the same data.
type Backend interface {
	Stores
	Transactor
	Ping(ctx context.Context) error
}
