// Package errs defines the error taxonomy shared across the data model.
// Callers classify failures with errors.Is against the sentinels below;
// packages wrap them with fmt.Errorf and %w to add context.
package errs

import (
	"errors"
	"fmt"
)

var (
	// ErrNotFound reports that a referenced thread, interaction, payment
	// or contact record is absent. Never retried automatically.
	ErrNotFound = errors.New("not found")

	// ErrConflict reports an optimistic version mismatch. The caller must
	// re-read and retry; the store never merges silently.
	ErrConflict = errors.New("version conflict")

	// ErrStateConflict reports an illegal state-machine transition, such
	// as conflicting terminal payment statuses. Fatal to the operation.
	ErrStateConflict = errors.New("state conflict")

	// ErrValidation reports a structurally malformed inbound payload.
	// The offending event is dropped with a diagnostic and must never
	// corrupt stored state.
	ErrValidation = errors.New("validation failed")
)

// NotFound wraps ErrNotFound with the entity kind and id.
func NotFound(kind, id string) error {
	return fmt.Errorf("%s %s: %w", kind, id, ErrNotFound)
}

// Conflict wraps ErrConflict with the entity id and the revisions seen.
func Conflict(id string, want, got uint64) error {
	return fmt.Errorf("interaction %s: expected rev %d, have %d: %w", id, want, got, ErrConflict)
}

// StateConflict wraps ErrStateConflict with a transition description.
func StateConflict(what, from, to string) error {
	return fmt.Errorf("%s: cannot move %s -> %s: %w", what, from, to, ErrStateConflict)
}

// Validation wraps ErrValidation with a reason.
func Validation(format string, args ...any) error {
	return fmt.Errorf(format+": %w", append(args, ErrValidation)...)
}
