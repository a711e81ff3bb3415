package services

import (
	"maps"
	"strings"
	"time"

	"github.com/custodia-labs/docintel/internal/core/domain"
)

// titleVerbs picks the action verb of a commitment title per document kind.
var titleVerbs = map[domain.ExtractionKind]string{
	domain.ExtractionKindInvoice:  "Pay",
	domain.ExtractionKindReceipt:  "Reconcile",
	domain.ExtractionKindContract: "Review",
}

// CommitmentEngine derives prioritized commitments from extracted facts.
type CommitmentEngine struct {
	priority *PriorityEngine
	now      func() time.Time
}

// NewCommitmentEngine creates a commitment engine.
func NewCommitmentEngine(priority *PriorityEngine, now func() time.Time) *CommitmentEngine {
	if now == nil {
		now = time.Now
	}
	return &CommitmentEngine{priority: priority, now: now}
}

// CalculatePriority scores a set of factors.
func (e *CommitmentEngine) CalculatePriority(in domain.PriorityInput) domain.PriorityResult {
	return e.priority.CalculatePriority(in)
}

// CreateFromExtractedFacts builds an unsaved pending commitment owed to
// party, with its priority already computed.
func (e *CommitmentEngine) CreateFromExtractedFacts(facts *domain.ExtractedFacts, party *domain.Party, documentID string) *domain.Commitment {
	now := e.now()
	c := &domain.Commitment{
		ID:             domain.GenerateID(),
		PartyID:        party.ID,
		DocumentID:     documentID,
		Type:           domain.CommitmentTypeObligation,
		Title:          commitmentTitle(facts, party),
		SeverityDomain: facts.Severity(),
		State:          domain.CommitmentStatePending,
		CreatedAt:      now,
		UpdatedAt:      now,
	}
	if facts.DueAt != nil {
		due := *facts.DueAt
		c.DueAt = &due
	}
	if facts.Total != nil {
		total := *facts.Total
		c.Amount = &total
	}
	if facts.EffortHours != nil {
		hours := *facts.EffortHours
		c.EffortHours = &hours
	}
	e.Reprioritize(c)
	return c
}

// Reprioritize recomputes score, reason and factors of c together.
// Returns false, leaving c untouched, when nothing changed.
func (e *CommitmentEngine) Reprioritize(c *domain.Commitment) bool {
	result := e.priority.CalculatePriority(c.PriorityInput())
	if result.Score == c.Priority && result.Reason == c.PriorityReason && maps.Equal(result.Factors, c.PriorityFactors) {
		return false
	}
	c.ApplyPriority(result, e.now())
	return true
}

// commitmentTitle renders "Pay invoice #INV-7 - Acme". The number part is
// omitted when the document carries no identifier.
func commitmentTitle(facts *domain.ExtractedFacts, party *domain.Party) string {
	verb, ok := titleVerbs[facts.Kind]
	if !ok {
		verb = "Pay"
	}
	var b strings.Builder
	b.WriteString(verb)
	b.WriteString(" ")
	b.WriteString(facts.DocTypeLabel())
	if n := strings.TrimSpace(facts.DocumentNumber); n != "" {
		b.WriteString(" #")
		b.WriteString(strings.TrimPrefix(n, "#"))
	}
	b.WriteString(" - ")
	b.WriteString(party.Name)
	return b.String()
}
