package domain

import (
	"errors"
	"fmt"
)

// Domain errors - used across all layers
var (
	// ErrNotFound indicates the requested entity or blob was not found
	ErrNotFound = errors.New("not found")

	// ErrPayloadRejected indicates an upload is oversized, empty or of a disallowed media type
	ErrPayloadRejected = errors.New("payload rejected")

	// ErrMissingRequiredField indicates the caller omitted a mandatory field
	ErrMissingRequiredField = errors.New("missing required field")

	// ErrInvalidStateTransition indicates an illegal lifecycle transition
	ErrInvalidStateTransition = errors.New("invalid state transition")

	// ErrExtractionFailed indicates the recognition collaborator failed or timed out
	ErrExtractionFailed = errors.New("extraction failed")

	// ErrConflict indicates a uniqueness constraint was violated by a concurrent writer
	ErrConflict = errors.New("conflict")

	// ErrUploadInProgress indicates identical content is currently being processed
	ErrUploadInProgress = errors.New("upload already in progress")

	// ErrInvalidInput indicates the input is invalid
	ErrInvalidInput = errors.New("invalid input")

	// ErrUnauthorized indicates authentication failed or missing
	ErrUnauthorized = errors.New("unauthorized")

	// ErrForbidden indicates the caller lacks permission
	ErrForbidden = errors.New("forbidden")

	// ErrTokenExpired indicates the auth token has expired
	ErrTokenExpired = errors.New("token expired")

	// ErrTokenInvalid indicates the auth token is malformed or invalid
	ErrTokenInvalid = errors.New("token invalid")
)

// Payload rejection reasons. Each unwraps to ErrPayloadRejected.
var (
	ErrPayloadEmpty       = fmt.Errorf("%w: empty payload", ErrPayloadRejected)
	ErrPayloadTooLarge    = fmt.Errorf("%w: too large", ErrPayloadRejected)
	ErrMediaTypeForbidden = fmt.Errorf("%w: media type not accepted", ErrPayloadRejected)
)

// MissingField returns ErrMissingRequiredField annotated with the field name.
func MissingField(field string) error {
	return fmt.Errorf("%w: %s", ErrMissingRequiredField, field)
}

// RejectPayload annotates a payload rejection reason with detail.
func RejectPayload(reason error, format string, args ...any) error {
	return fmt.Errorf("%w (%s)", reason, fmt.Sprintf(format, args...))
}

// PipelineStep names one step of upload processing.
type PipelineStep string

const (
	StepStore      PipelineStep = "store"
	StepIntake     PipelineStep = "intake"
	StepExtract    PipelineStep = "extract"
	StepResolve    PipelineStep = "resolve"
	StepCommitment PipelineStep = "commitment"
	StepLink       PipelineStep = "link"
	StepRecord     PipelineStep = "record"
	StepAttach     PipelineStep = "attach"
	StepCommit     PipelineStep = "commit"
)

// PipelineError is the single structured error returned by upload processing.
// It carries enough context (content address, failed step) to retry safely.
type PipelineError struct {
	Step    PipelineStep
	Address string
	Err     error
}

func (e *PipelineError) Error() string {
	if e.Address == "" {
		return fmt.Sprintf("pipeline step %s failed: %v", e.Step, e.Err)
	}
	return fmt.Sprintf("pipeline step %s failed for %s: %v", e.Step, e.Address, e.Err)
}

func (e *PipelineError) Unwrap() error {
	return e.Err
}

// Retryable reports whether resubmitting identical bytes may succeed.
func (e *PipelineError) Retryable() bool {
	return errors.Is(e.Err, ErrExtractionFailed) ||
		errors.Is(e.Err, ErrUploadInProgress) ||
		errors.Is(e.Err, ErrConflict)
}
