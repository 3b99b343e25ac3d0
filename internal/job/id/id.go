// Package id provides unique identifier generation for jobs.
package id

import (
	"strings"

	"github.com/google/uuid"
)

// Prefix starts every job ID.
const Prefix = "job-"

// Generate creates a new unique job ID from a time-ordered UUIDv7, so IDs
// sort by creation time.
// Example: job-01927b4e-7c3a-7d2e-9f10-4b2d8c6a1e5f
func Generate() string {
	u, err := uuid.NewV7()
	if err != nil {
		// NewV7 only fails when the random source does
		return Prefix + uuid.NewString()
	}
	return Prefix + u.String()
}

// Valid reports whether s looks like an ID produced by Generate.
func Valid(s string) bool {
	rest, ok := strings.CutPrefix(s, Prefix)
	if !ok {
		return false
	}
	_, err := uuid.Parse(rest)
	return err == nil
}
