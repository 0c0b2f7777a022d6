package models

import "errors"

// Errors returned by store adapters. The cart and checkout layers translate them
// into user-facing error kinds.
var (
	ErrNotFound        = errors.New("record not found")
	ErrUniqueViolation = errors.New("unique constraint violated")

	// ErrStateConflict means a compare-and-swap found a different state than expected.
	ErrStateConflict = errors.New("state changed concurrently")
)
