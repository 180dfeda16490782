// Package apperrors holds the failure taxonomy shared by the draft engine,
// the autosave controller and the HTTP layer.
package apperrors

import (
	"errors"
	"fmt"
)

// Kind categorizes a failure by how the caller is expected to recover.
type Kind string

const (
	// KindAnalysis: the photo could not be recognized. Retry with a new photo or caption.
	KindAnalysis Kind = "analysis_failure"

	// KindRecompute: an ingredient mutation failed. The draft stays at its last-good state.
	KindRecompute Kind = "recompute_failure"

	// KindPersist: an autosave failed. Retried on the next dirty cycle or exit attempt.
	KindPersist Kind = "persist_failure"

	// KindConfirm: the final save failed. The user stays on the confirmation step.
	KindConfirm Kind = "confirm_failure"

	// KindStale: the response belongs to a session that is no longer active.
	// Discarded silently, never shown to users.
	KindStale Kind = "stale_response"
)

var (
	ErrNotFound     = errors.New("not found")
	ErrTerminal     = errors.New("draft is no longer editable")
	ErrBusy         = errors.New("another change is still being processed")
	ErrInvalidInput = errors.New("invalid input")
)

// Error is a categorized failure of one operation.
type Error struct {
	Kind Kind
	// Op names the operation that failed, e.g. "edit_ingredient".
	Op string
	// Ref identifies the draft or document involved.
	Ref string
	// Details carries extra fields for API responses (photo_key and the like).
	Details map[string]string
	Err     error
}

func (e *Error) Error() string {
	msg := string(e.Kind)
	if e.Op != "" {
		msg = fmt.Sprintf("%s: %s", e.Op, msg)
	}
	if e.Ref != "" {
		msg = fmt.Sprintf("%s (%s)", msg, e.Ref)
	}
	if e.Err != nil {
		msg = fmt.Sprintf("%s: %v", msg, e.Err)
	}
	return msg
}

func (e *Error) Unwrap() error { return e.Err }

// New wraps err into a categorized failure.
func New(kind Kind, op, ref string, err error) *Error {
	return &Error{Kind: kind, Op: op, Ref: ref, Err: err}
}

// WithDetail returns e with an extra detail attached.
func (e *Error) WithDetail(key, value string) *Error {
	if e.Details == nil {
		e.Details = make(map[string]string)
	}
	e.Details[key] = value
	return e
}

// KindOf reports the kind of a categorized failure anywhere in err's chain.
func KindOf(err error) (Kind, bool) {
	var ae *Error
	if errors.As(err, &ae) {
		return ae.Kind, true
	}
	return "", false
}

// Is reports whether err carries the given kind.
func Is(err error, kind Kind) bool {
	k, ok := KindOf(err)
	return ok && k == kind
}

// Retryable reports whether the caller should offer a retry affordance.
// Stale responses are not retryable: they are dropped without user feedback.
func Retryable(err error) bool {
	if err == nil {
		return false
	}
	if errors.Is(err, ErrBusy) {
		return true
	}
	k, ok := KindOf(err)
	if !ok {
		return false
	}
	return k != KindStale
}
