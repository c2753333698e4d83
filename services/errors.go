package services

import (
	"errors"
)

// Error taxonomy surfaced to callers. Anything else is an upstream failure
// and maps to a 500.
var (
	// ErrConflict: the resource is already owned, either a duplicate active
	// session or a terminal transition that raced with another.
	ErrConflict = errors.New("resource already owned")

	// ErrNotFound: unknown session, save or user.
	ErrNotFound = errors.New("not found")

	// ErrUnavailable: no free slot, or the slot lock was won by a concurrent
	// claim. Callers should retry.
	ErrUnavailable = errors.New("no capacity available")
)
