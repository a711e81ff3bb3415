package domain

import "time"

// InteractionType names an audited event
type InteractionType string

const (
	InteractionDocumentProcessed       InteractionType = "document_processed"
	InteractionCommitmentFulfilled     InteractionType = "commitment_fulfilled"
	InteractionCommitmentCanceled      InteractionType = "commitment_canceled"
	InteractionCommitmentReprioritized InteractionType = "commitment_reprioritized"
	InteractionPartyCreated            InteractionType = "party_created"
)

// ActorSystem is the actor recorded for work not attributable to a user.
const ActorSystem = "system"

// Interaction is one append-only audit event. There is no update or delete
// path: stores only expose Record and read operations.
type Interaction struct {
	ID         string            `json:"id"`
	Type       InteractionType   `json:"type"`
	Actor      string            `json:"actor"`
	Primary    EntityRef         `json:"primary"`
	Related    []EntityRef       `json:"related,omitempty"`
	Cost       *Money            `json:"cost,omitempty"`
	Metadata   map[string]string `json:"metadata,omitempty"`
	OccurredAt time.Time         `json:"occurred_at"`
}

// NewInteraction builds an interaction. An empty actor is recorded as ActorSystem.
func NewInteraction(kind InteractionType, actor string, primary EntityRef, related []EntityRef, now time.Time) *Interaction {
	if actor == "" {
		actor = ActorSystem
	}
	return &Interaction{
		ID:         GenerateID(),
		Type:       kind,
		Actor:      actor,
		Primary:    primary,
		Related:    related,
		Metadata:   make(map[string]string),
		OccurredAt: now,
	}
}

// References reports whether the interaction mentions ref as primary or related entity.
func (i *Interaction) References(ref EntityRef) bool {
	if i.Primary == ref {
		return true
	}
	for _, r := range i.Related {
		if r == ref {
			return true
		}
	}
	return false
}
