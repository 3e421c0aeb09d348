package service

import "errors"

var (
	// ErrNotFound covers unknown and malformed public tokens alike, and code
	// ids with no matching record. Callers must not be able to tell the two
	// token cases apart.
	ErrNotFound = errors.New("not found")

	// ErrInactive means a dynamic code resolved but is currently disabled.
	ErrInactive = errors.New("code is deactivated")

	// ErrInvalidOperation covers mutation of a non-dynamic code and malformed
	// update input. Always recoverable by fixing the request.
	ErrInvalidOperation = errors.New("invalid operation")
)
