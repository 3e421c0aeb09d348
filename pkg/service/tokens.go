package service

import "github.com/google/uuid"

// IssueToken returns a fresh public token. UUIDv4 carries 122 bits of
// randomness, enough that enumeration of issued tokens is infeasible. The
// token is the QR payload path segment, so it stays URL-safe.
func IssueToken() string {
	return uuid.NewString()
}
