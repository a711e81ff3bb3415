package domain

import (
	"fmt"
	"time"
)

// SignalState is the lifecycle state of an intake signal
type SignalState string

const (
	SignalStateNew        SignalState = "new"
	SignalStateProcessing SignalState = "processing"
	SignalStateAttached   SignalState = "attached"
	SignalStateArchived   SignalState = "archived"
)

// signalTransitions lists the legal moves: new -> processing -> {attached, archived}.
// No other move is legal.
// new -> archived covers intake that is abandoned before processing starts.
var signalTransitions = map[SignalState][]SignalState{
	SignalStateNew:        {SignalStateProcessing},
	SignalStateProcessing: {SignalStateAttached, SignalStateArchived},
}

// CanTransition reports whether from -> to is a legal signal transition.
func CanTransition(from, to SignalState) bool {
	for _, s := range signalTransitions[from] {
		if s == to {
			return true
		}
	}
	return false
}

// IsTerminal reports whether no further transitions are possible.
func (s SignalState) IsTerminal() bool {
	return s == SignalStateAttached || s == SignalStateArchived
}

// SignalSourceUpload marks signals created by document uploads.
const SignalSourceUpload = "upload"

// Signal is one tracked unit of raw intake. Signals are append-only: terminal
// signals are kept forever, and the dedupe key is unique among non-archived ones.
type Signal struct {
	ID         string      `json:"id"`
	Source     string      `json:"source"`
	PayloadRef string      `json:"payload_ref"`
	DedupeKey  string      `json:"dedupe_key"`
	State      SignalState `json:"state"`
	DocumentID string      `json:"document_id,omitempty"`
	Error      string      `json:"error,omitempty"`
	CreatedAt  time.Time   `json:"created_at"`
	UpdatedAt  time.Time   `json:"updated_at"`
}

// NewSignal creates a signal in state new.
func NewSignal(source, payloadRef, dedupeKey string, now time.Time) *Signal {
	return &Signal{
		ID:         GenerateID(),
		Source:     source,
		PayloadRef: payloadRef,
		DedupeKey:  dedupeKey,
		State:      SignalStateNew,
		CreatedAt:  now,
		UpdatedAt:  now,
	}
}

// TransitionTo moves the signal to state to, or fails with
// ErrInvalidStateTransition leaving the signal untouched.
func (s *Signal) TransitionTo(to SignalState, now time.Time) error {
	if !CanTransition(s.State, to) {
		return fmt.Errorf("%w: signal %s cannot move from %s to %s",
			ErrInvalidStateTransition, s.ID, s.State, to)
	}
	s.State = to
	s.UpdatedAt = now
	return nil
}

// UploadDedupeKey derives the intake dedupe key for an upload of the bytes
// at address stored as documentID. A document deleted and uploaded again
// gets a new record ID, so the attached signal of the old record does not
// shadow the new one.
func UploadDedupeKey(address, documentID string) string {
	return SignalSourceUpload + ":" + address + ":" + documentID
}
