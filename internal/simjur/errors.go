package simjur

import (
	"errors"
	"strings"
)

var (
	// ErrNotFound is returned when a proposal, user or document record does not exist.
	ErrNotFound = errors.New("not found")

	// ErrForbidden is returned when the actor's role lacks the capability for an operation.
	ErrForbidden = errors.New("permission denied")

	// ErrStageLocked is returned for LPJ operations while the TOR ladder is not fully approved.
	ErrStageLocked = errors.New("LPJ stage is locked until TOR is fully approved")

	// ErrLadderClosed is returned when a ladder already holds a rejection.
	ErrLadderClosed = errors.New("approval ladder is closed after rejection")

	// ErrSlotLocked is returned when slot 3 is actioned before slots 1 and 2 are approved.
	ErrSlotLocked = errors.New("slot is locked until earlier slots are approved")

	// ErrSlotNotPending is returned when the slot has already been decided.
	ErrSlotNotPending = errors.New("slot is not pending")

	// ErrNotReviewed is returned when an approver acts before downloading the document.
	ErrNotReviewed = errors.New("document must be reviewed before a decision")

	// ErrFileMissing marks a document whose record exists but whose payload is
	// gone from the vault. Callers should ask the submitter to re-upload.
	ErrFileMissing = errors.New("file missing, please re-upload")

	// ErrResubmitDisabled is returned when resubmission is switched off.
	ErrResubmitDisabled = errors.New("resubmission is disabled")

	// ErrNothingToResubmit is returned when a ladder has no Revisi or Rejected slot.
	ErrNothingToResubmit = errors.New("no slot awaits resubmission")
)

// FieldError is a validation failure on one input field.
type FieldError struct {
	Field string `json:"field"`
	Error string `json:"error"`
}

// ValidationError is returned for invalid input. Fields is nil for
// errors that are not tied to a single field.
type ValidationError struct {
	Err    error
	Fields []FieldError
}

// NewValidationError builds a ValidationError from field/message pairs.
func NewValidationError(msg string, pairs ...string) *ValidationError {
	v := &ValidationError{Err: errors.New(msg)}
	for i := 0; i+1 < len(pairs); i += 2 {
		v.Fields = append(v.Fields, FieldError{Field: pairs[i], Error: pairs[i+1]})
	}
	return v
}

func (v *ValidationError) Error() string {
	if len(v.Fields) == 0 {
		return v.Err.Error()
	}
	parts := make([]string, 0, len(v.Fields))
	for _, f := range v.Fields {
		parts = append(parts, f.Field+": "+f.Error)
	}
	return v.Err.Error() + " (" + strings.Join(parts, ", ") + ")"
}

func (v *ValidationError) Unwrap() error { return v.Err }
