// Package uuidv7 mints time-ordered UUIDs used for lock tokens and record
// versions.
package uuidv7

import "github.com/google/uuid"

// New returns a UUIDv7 value or panics if generation fails.
func New() uuid.UUID {
	return uuid.Must(uuid.NewV7())
}

// NewString returns the string form of a fresh UUIDv7.
func NewString() string {
	return New().String()
}
