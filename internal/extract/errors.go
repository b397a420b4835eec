package extract

import "errors"

// Sentinel errors shared by Store implementations and their callers.
var (
	// ErrNoWork means no eligible domain item exists for claiming.
	ErrNoWork = errors.New("no eligible domain work")
	// ErrLeaseLost means the caller no longer holds the domain lease.
	ErrLeaseLost = errors.New("domain lease lost")
	// ErrNotFound means the requested entity does not exist.
	ErrNotFound = errors.New("not found")
	// ErrInvalidTransition means the search is not in a state that permits
	// the requested transition.
	ErrInvalidTransition = errors.New("invalid search state transition")
)
