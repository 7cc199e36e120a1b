// Package id generates identifiers for ledger records.
package id

import (
	"github.com/google/uuid"
)

// ID identifies items, movements, documents and audit entries.
type ID = uuid.UUID

// New returns a UUIDv7, so identifiers created later sort later.
func New() ID {
	v, err := uuid.NewV7()
	if err != nil {
		return uuid.New()
	}
	return v
}

// Parse parses the canonical textual form of an ID.
func Parse(s string) (ID, error) {
	return uuid.Parse(s)
}

// Nil returns the zero ID.
func Nil() ID {
	return uuid.Nil
}

// IsNil reports whether v is the zero ID.
func IsNil(v ID) bool {
	return v == uuid.Nil
}
