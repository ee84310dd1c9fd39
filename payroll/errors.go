/*
errors.go - Centralized error types for the payroll engine

PURPOSE:
  All error types in one place. Computation errors are returned
  synchronously; nothing in the calculator or assembler swallows an error
  and returns a partial result.

ERROR CATEGORIES:
  1. Input errors - rejected before any computation
  2. Lookup errors - unknown region, missing record
  3. Lifecycle errors - actor missing, edit of an immutable record
  4. Concurrency errors - lost finalize race

USAGE:
  if errors.Is(err, payroll.ErrConcurrentFinalization) {
      // re-preview against the winner and finalize again
  }

SEE ALSO:
  - service.go: Lifecycle and concurrency errors
  - api/handlers.go: HTTP status mapping
*/
package payroll

import (
	"errors"
	"fmt"
)

// =============================================================================
// SENTINEL ERRORS - Use with errors.Is()
// =============================================================================

var (
	// ErrInvalidInput is returned for negative or malformed numeric fields.
	ErrInvalidInput = errors.New("invalid input")

	// ErrUnsupportedRegion is returned when no RegionRuleSet exists for a region code.
	ErrUnsupportedRegion = errors.New("unsupported region")

	// ErrInvalidFrequency is returned for a pay frequency other than weekly, biweekly or monthly.
	ErrInvalidFrequency = errors.New("invalid pay frequency")

	// ErrConcurrentFinalization is returned to the loser of a finalize race for
	// the same (employee, region, period) key.
	ErrConcurrentFinalization = errors.New("concurrent finalization conflict")

	// ErrRecordNotFound is returned when a record or audit entry does not exist.
	ErrRecordNotFound = errors.New("record not found")

	// ErrActorRequired is returned when finalizing without an actor identity.
	ErrActorRequired = errors.New("actor required")

	// ErrInvalidState is returned when editing a finalized or superseded
	// record, or finalizing a superseded one.
	ErrInvalidState = errors.New("invalid record state")

	// ErrUnsupportedFormat is returned when no export renderer matches a format.
	ErrUnsupportedFormat = errors.New("unsupported export format")
)

// =============================================================================
// STRUCTURED ERRORS - Carry additional context
// =============================================================================

// InputError names the offending field.
type InputError struct {
	Field  string
	Reason string
}

func (e *InputError) Error() string {
	return fmt.Sprintf("invalid input: %s: %s", e.Field, e.Reason)
}

func (e *InputError) Unwrap() error { return ErrInvalidInput }

// ConflictError describes a lost finalize race. CurrentID is the finalized
// record that won; ExpectedID is what the losing draft was computed against.
type ConflictError struct {
	Key        RecordKey
	CurrentID  RecordID
	ExpectedID RecordID
}

func (e *ConflictError) Error() string {
	expected := string(e.ExpectedID)
	if expected == "" {
		expected = "none"
	}
	return fmt.Sprintf("concurrent finalization conflict on %s: finalized record is %s, draft was based on %s",
		e.Key, e.CurrentID, expected)
}

func (e *ConflictError) Unwrap() error { return ErrConcurrentFinalization }

// StateError reports an operation attempted on a record in the wrong status.
type StateError struct {
	RecordID RecordID
	Status   Status
	Op       string
}

func (e *StateError) Error() string {
	return fmt.Sprintf("cannot %s record %s in status %s", e.Op, e.RecordID, e.Status)
}

func (e *StateError) Unwrap() error { return ErrInvalidState }

// =============================================================================
// ERROR HELPERS
// =============================================================================

// IsRetryable returns true if the error might succeed after the caller
// re-previews and tries again.
func IsRetryable(err error) bool {
	return errors.Is(err, ErrConcurrentFinalization)
}

// IsClientError returns true if the error is due to the caller's request.
func IsClientError(err error) bool {
	return errors.Is(err, ErrInvalidInput) ||
		errors.Is(err, ErrUnsupportedRegion) ||
		errors.Is(err, ErrInvalidFrequency) ||
		errors.Is(err, ErrActorRequired) ||
		errors.Is(err, ErrInvalidState) ||
		errors.Is(err, ErrUnsupportedFormat)
}

// IsNotFound returns true if the error indicates a missing record.
func IsNotFound(err error) bool {
	return errors.Is(err, ErrRecordNotFound)
}
