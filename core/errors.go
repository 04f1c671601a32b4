package core

import "errors"

// Sentinel errors shared by the detect, correlate and simulate engines.
// Storage implementations wrap backend failures into these so callers can
// branch with errors.Is without knowing which store served the request.
var (
	// ErrNotFound indicates a referenced entity does not exist.
	ErrNotFound = errors.New("not found")

	// ErrInvalidTransition indicates a state machine violation.
	ErrInvalidTransition = errors.New("invalid state transition")

	// ErrInvalidRule indicates a malformed rule predicate. The failure is
	// isolated to the offending rule and never aborts evaluation of others.
	ErrInvalidRule = errors.New("invalid rule predicate")

	// ErrConflict indicates a lost optimistic-concurrency race. The
	// operation left no partial state; callers should retry.
	ErrConflict = errors.New("concurrent update conflict")

	// ErrTimeout indicates a store did not answer within the caller's
	// deadline. Retryable; no partial mutation occurred.
	ErrTimeout = errors.New("store timeout")
)
