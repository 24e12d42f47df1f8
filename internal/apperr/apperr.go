// Package apperr carries the error taxonomy shared by the anchoring and
// eligibility services. Every error that reaches the HTTP boundary has a Kind
// the front-end can branch on and a human-readable Reason.
package apperr

import (
	"errors"
	"fmt"
)

type Kind string

const (
	KindInvalidProfile       Kind = "invalid_profile"
	KindTransientLedger      Kind = "transient_ledger"
	KindLedgerRejected       Kind = "ledger_rejected"
	KindStaleWrite           Kind = "stale_write"
	KindRetryBudgetExhausted Kind = "retry_budget_exhausted"
	KindNotFound             Kind = "not_found"
	KindConflict             Kind = "conflict"
	KindInvalidInput         Kind = "invalid_input"
)

type Error struct {
	Kind   Kind
	Reason string
	Err    error
}

func (e *Error) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s: %s: %v", e.Kind, e.Reason, e.Err)
	}
	return fmt.Sprintf("%s: %s", e.Kind, e.Reason)
}

func (e *Error) Unwrap() error {
	return e.Err
}

// Is matches another *Error by kind so callers can test with errors.Is(err, apperr.New(kind, "")).
func (e *Error) Is(target error) bool {
	var t *Error
	if !errors.As(target, &t) {
		return false
	}
	return t.Kind == e.Kind
}

func New(kind Kind, reason string) *Error {
	return &Error{Kind: kind, Reason: reason}
}

func Wrap(kind Kind, reason string, err error) *Error {
	return &Error{Kind: kind, Reason: reason, Err: err}
}

// KindOf returns the kind of the first *Error in the chain, or "" when none.
func KindOf(err error) Kind {
	var e *Error
	if errors.As(err, &e) {
		return e.Kind
	}
	return ""
}

// Retryable reports whether the error class is recovered locally.
func Retryable(err error) bool {
	switch KindOf(err) {
	case KindTransientLedger, KindStaleWrite:
		return true
	default:
		return false
	}
}
