/*
errors.go - Centralized error kinds for the engine

PURPOSE:
  All error kinds in one place for consistency and discoverability.
  Every error the engine returns is marked with exactly one kind so the
  caller can decide how to surface it without string matching.

ERROR KINDS:
  ErrNotFound            tenancy / obligation / notice absent
  ErrInvalidState        operation not legal in the current state
  ErrValidation          input violates a business bound (rent cap, negative amount)
  ErrConcurrencyConflict another writer changed the tenancy first (retry once)

BUILDING ERRORS:
  Errors are built with github.com/cockroachdb/errors so hints (user-facing)
  and details (machine-readable bounds) travel with the error:

    return generic.NewError("rent increase exceeds cap").
        WithHintf("maximum permissible rent is %s", max).
        WithDetails(map[string]any{"max_rent": max.Value.StringFixed(2)}).
        Mark(generic.ErrValidation)

  Structured errors (TransitionError, RentCapError, DeadlineError) carry the
  numeric context and unwrap to their kind.

SEE ALSO:
  - api/errors.go: Maps kinds to HTTP status codes
  - tenancy/notice.go: Main producer of InvalidState errors
*/
package generic

import (
	"fmt"
	"time"

	"github.com/cockroachdb/errors"
)

// =============================================================================
// SENTINEL ERRORS - Use with errors.Is()
// =============================================================================

var (
	// ErrNotFound is returned when a referenced tenancy, obligation or notice
	// does not exist.
	ErrNotFound = errors.New("not found")

	// ErrInvalidState is returned when an operation is not legal in the
	// current state (escalating before the deadline, double-pending offers).
	ErrInvalidState = errors.New("invalid state")

	// ErrValidation is returned when input breaks a business rule.
	ErrValidation = errors.New("validation failed")

	// ErrConcurrencyConflict is returned when optimistic locking detects that
	// the tenancy changed underneath the operation. The only retryable kind.
	ErrConcurrencyConflict = errors.New("concurrency conflict")
)

// =============================================================================
// ERROR BUILDER
// =============================================================================

// ErrorBuilder is a fluent helper over cockroachdb/errors. It deliberately
// does not implement error: Mark must end the chain.
type ErrorBuilder struct {
	err     error
	details map[string]any
}

func NewError(msg string) *ErrorBuilder {
	return &ErrorBuilder{err: errors.New(msg)}
}

func WithError(err error) *ErrorBuilder {
	return &ErrorBuilder{err: err}
}

func (b *ErrorBuilder) WithMessage(msg string) *ErrorBuilder {
	b.err = errors.WithMessage(b.err, msg)
	return b
}

func (b *ErrorBuilder) WithHint(hint string) *ErrorBuilder {
	b.err = errors.WithHint(b.err, hint)
	return b
}

func (b *ErrorBuilder) WithHintf(format string, args ...any) *ErrorBuilder {
	b.err = errors.WithHintf(b.err, format, args...)
	return b
}

// WithDetails attaches structured context (current state, bounds) that the
// API layer returns verbatim.
func (b *ErrorBuilder) WithDetails(details map[string]any) *ErrorBuilder {
	if b.details == nil {
		b.details = make(map[string]any, len(details))
	}
	for k, v := range details {
		b.details[k] = v
	}
	return b
}

// Mark tags the error with its kind. Must be the last call.
func (b *ErrorBuilder) Mark(kind error) error {
	err := b.err
	if len(b.details) > 0 {
		err = &detailedError{cause: err, details: b.details}
	}
	return errors.Mark(err, kind)
}

type detailedError struct {
	cause   error
	details map[string]any
}

func (e *detailedError) Error() string { return e.cause.Error() }
func (e *detailedError) Unwrap() error { return e.cause }

// =============================================================================
// STRUCTURED ERRORS - Carry additional context
// =============================================================================

// TransitionError reports an illegal state transition.
type TransitionError struct {
	Entity string // "tenancy", "breach_notice", ...
	ID     string
	From   string
	To     string
}

func (e *TransitionError) Error() string {
	return fmt.Sprintf("%s %s cannot move from %q to %q", e.Entity, e.ID, e.From, e.To)
}

func (e *TransitionError) Unwrap() error { return ErrInvalidState }

// RentCapError reports an extension offer above the permitted increase.
type RentCapError struct {
	Current  Money
	Proposed Money
	Max      Money
}

func (e *RentCapError) Error() string {
	return fmt.Sprintf("proposed rent %s exceeds the maximum permissible rent %s (current %s)",
		e.Proposed, e.Max, e.Current)
}

func (e *RentCapError) Unwrap() error { return ErrValidation }

// DeadlineError reports an operation attempted before its deadline.
type DeadlineError struct {
	Operation string
	Deadline  time.Time
	Now       time.Time
}

func (e *DeadlineError) Error() string {
	return fmt.Sprintf("%s not permitted before %s (now %s)",
		e.Operation, e.Deadline.UTC().Format(time.RFC3339), e.Now.UTC().Format(time.RFC3339))
}

func (e *DeadlineError) Unwrap() error { return ErrInvalidState }

// =============================================================================
// ERROR HELPERS
// =============================================================================

func IsNotFound(err error) bool     { return errors.Is(err, ErrNotFound) }
func IsInvalidState(err error) bool { return errors.Is(err, ErrInvalidState) }
func IsValidation(err error) bool   { return errors.Is(err, ErrValidation) }

// IsRetryable returns true if the whole operation may succeed on retry.
func IsRetryable(err error) bool {
	return errors.Is(err, ErrConcurrencyConflict)
}

// Hints returns the user-facing hints attached anywhere in the chain.
func Hints(err error) []string {
	return errors.GetAllHints(err)
}

// Details collects structured context from the chain, including the fields
// of structured errors.
func Details(err error) map[string]any {
	out := map[string]any{}
	var de *detailedError
	if errors.As(err, &de) {
		for k, v := range de.details {
			out[k] = v
		}
	}
	var te *TransitionError
	if errors.As(err, &te) {
		out["entity"] = te.Entity
		out["current_state"] = te.From
		out["attempted_state"] = te.To
	}
	var rc *RentCapError
	if errors.As(err, &rc) {
		out["current_rent"] = rc.Current.Value.StringFixed(2)
		out["proposed_rent"] = rc.Proposed.Value.StringFixed(2)
		out["max_rent"] = rc.Max.Value.StringFixed(2)
	}
	var dl *DeadlineError
	if errors.As(err, &dl) {
		out["deadline"] = dl.Deadline.UTC().Format(time.RFC3339)
	}
	if len(out) == 0 {
		return nil
	}
	return out
}
