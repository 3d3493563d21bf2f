package util

import "github.com/google/uuid"

// NewID returns an opaque identifier for documents, results, and turns.
func NewID() string {
	return uuid.NewString()
}
