// Package uuidv7 generates the identifiers notesd hands out: time-ordered
// UUIDv7 values for notes and random UUIDv4 tokens for MCP sessions.
package uuidv7

import "github.com/google/uuid"

// New returns a UUIDv7 value (time-ordered) or panics if generation fails.
func New() uuid.UUID {
	return uuid.Must(uuid.NewV7())
}

// NewString returns a string representation of a UUIDv7.
func NewString() string {
	return New().String()
}

// NewRandomString returns a random (version 4) UUID string. Session tokens use
// this form so they carry no creation-time information.
func NewRandomString() string {
	return uuid.NewString()
}
