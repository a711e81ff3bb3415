package domain

import (
	"fmt"
	"time"
)

// CommitmentType classifies an obligation
type CommitmentType string

const (
	CommitmentTypeObligation  CommitmentType = "obligation"
	CommitmentTypeGoal        CommitmentType = "goal"
	CommitmentTypeRoutine     CommitmentType = "routine"
	CommitmentTypeAppointment CommitmentType = "appointment"
)

// CommitmentState is the lifecycle state of a commitment
type CommitmentState string

const (
	CommitmentStatePending   CommitmentState = "pending"
	CommitmentStateFulfilled CommitmentState = "fulfilled"
	CommitmentStateCanceled  CommitmentState = "canceled"
)

// Commitment is an obligation tied to a party. Priority, PriorityReason and
// PriorityFactors are always written together by ApplyPriority.
type Commitment struct {
	ID              string          `json:"id"`
	PartyID         string          `json:"party_id"`
	DocumentID      string          `json:"document_id,omitempty"`
	Type            CommitmentType  `json:"type"`
	Title           string          `json:"title"`
	DueAt           *time.Time      `json:"due_at,omitempty"`
	Amount          *Money          `json:"amount,omitempty"`
	SeverityDomain  string          `json:"severity_domain,omitempty"`
	EffortHours     *float64        `json:"effort_hours,omitempty"`
	Blocked         bool            `json:"blocked"`
	UserBoost       bool            `json:"user_boost"`
	Priority        int             `json:"priority"`
	PriorityReason  string          `json:"priority_reason"`
	PriorityFactors map[string]int  `json:"priority_factors"`
	State           CommitmentState `json:"state"`
	CreatedAt       time.Time       `json:"created_at"`
	UpdatedAt       time.Time       `json:"updated_at"`
	ResolvedAt      *time.Time      `json:"resolved_at,omitempty"`
	// Version counts stored writes. Updates compare it to detect lost writes.
	Version int `json:"version"`
}

// PriorityInput returns the factors that drive this commitment's priority.
func (c *Commitment) PriorityInput() PriorityInput {
	return PriorityInput{
		DueAt:          c.DueAt,
		Amount:         c.Amount,
		SeverityDomain: c.SeverityDomain,
		EffortHours:    c.EffortHours,
		Blocked:        c.Blocked,
		UserBoost:      c.UserBoost,
	}
}

// ApplyPriority stores score, reason and factors together.
func (c *Commitment) ApplyPriority(r PriorityResult, now time.Time) {
	c.Priority = r.Score
	c.PriorityReason = r.Reason
	c.PriorityFactors = r.Factors
	c.UpdatedAt = now
}

// Fulfill moves a pending commitment to fulfilled.
func (c *Commitment) Fulfill(now time.Time) error {
	return c.resolve(CommitmentStateFulfilled, now)
}

// Cancel moves a pending commitment to canceled.
func (c *Commitment) Cancel(now time.Time) error {
	return c.resolve(CommitmentStateCanceled, now)
}

func (c *Commitment) resolve(to CommitmentState, now time.Time) error {
	if c.State != CommitmentStatePending {
		return fmt.Errorf("%w: commitment %s cannot move from %s to %s",
			ErrInvalidStateTransition, c.ID, c.State, to)
	}
	c.State = to
	c.UpdatedAt = now
	c.ResolvedAt = &now
	return nil
}

// CommitmentFactors is a partial update of priority-driving fields.
// Nil fields are left unchanged; ClearDueAt removes the due date.
type CommitmentFactors struct {
	DueAt          *time.Time `json:"due_at,omitempty"`
	ClearDueAt     bool       `json:"clear_due_at,omitempty"`
	Amount         *Money     `json:"amount,omitempty"`
	SeverityDomain *string    `json:"severity_domain,omitempty"`
	EffortHours    *float64   `json:"effort_hours,omitempty"`
	Blocked        *bool      `json:"blocked,omitempty"`
	UserBoost      *bool      `json:"user_boost,omitempty"`
}

// IsEmpty reports whether the update changes nothing.
func (f CommitmentFactors) IsEmpty() bool {
	return f.DueAt == nil && !f.ClearDueAt && f.Amount == nil && f.SeverityDomain == nil &&
		f.EffortHours == nil && f.Blocked == nil && f.UserBoost == nil
}

// Apply copies the set fields onto c. The caller must recompute priority.
func (f CommitmentFactors) Apply(c *Commitment) {
	if f.ClearDueAt {
		c.DueAt = nil
	} else if f.DueAt != nil {
		due := *f.DueAt
		c.DueAt = &due
	}
	if f.Amount != nil {
		amount := *f.Amount
		c.Amount = &amount
	}
	if f.SeverityDomain != nil {
		c.SeverityDomain = *f.SeverityDomain
	}
	if f.EffortHours != nil {
		hours := *f.EffortHours
		c.EffortHours = &hours
	}
	if f.Blocked != nil {
		c.Blocked = *f.Blocked
	}
	if f.UserBoost != nil {
		c.UserBoost = *f.UserBoost
	}
}
