package domain

import "errors"

var (
	ErrNotFound            = errors.New("not found")
	ErrAlreadyExists       = errors.New("already exists")
	ErrRateLimited         = errors.New("rate limited")
	ErrUnauthenticated     = errors.New("unauthenticated")
	ErrForbidden           = errors.New("forbidden")
	ErrValidation          = errors.New("validation failed")
	ErrInsufficientBalance = errors.New("insufficient balance")
	ErrInsufficientShares  = errors.New("insufficient shares")
	ErrInvariantViolation  = errors.New("invariant violation")
	ErrAlreadyResolved     = errors.New("market already resolved")
	ErrStore               = errors.New("store failure")
	ErrConflict            = errors.New("concurrent modification")
	ErrLockHeld            = errors.New("lock already held")
)

// ErrorKind is the client-facing classification of an engine error.
type ErrorKind string

const (
	KindValidation      ErrorKind = "validation"
	KindUnauthenticated ErrorKind = "unauthenticated"
	KindNotFound        ErrorKind = "not_found"
	KindConflict        ErrorKind = "conflict"
	KindInvariant       ErrorKind = "invariant_violation"
	KindStore           ErrorKind = "store"
	KindRateLimited     ErrorKind = "rate_limited"
	KindInternal        ErrorKind = "internal"
)

// KindOf classifies err. Insufficient balance and shares are reported as
// validation failures.
func KindOf(err error) ErrorKind {
	switch {
	case err == nil:
		return ""
	case errors.Is(err, ErrValidation),
		errors.Is(err, ErrInsufficientBalance),
		errors.Is(err, ErrInsufficientShares),
		errors.Is(err, ErrForbidden):
		return KindValidation
	case errors.Is(err, ErrUnauthenticated):
		return KindUnauthenticated
	case errors.Is(err, ErrNotFound):
		return KindNotFound
	case errors.Is(err, ErrAlreadyResolved), errors.Is(err, ErrAlreadyExists):
		return KindConflict
	case errors.Is(err, ErrInvariantViolation):
		return KindInvariant
	case errors.Is(err, ErrStore), errors.Is(err, ErrConflict), errors.Is(err, ErrLockHeld):
		return KindStore
	case errors.Is(err, ErrRateLimited):
		return KindRateLimited
	default:
		return KindInternal
	}
}

// Retryable reports whether the caller may retry the operation unchanged.
func Retryable(err error) bool {
	return KindOf(err) == KindStore
}
