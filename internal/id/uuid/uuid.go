// Package uuid generates batch and request identifiers.
package uuid

import (
	"fmt"

	"github.com/google/uuid"
)

// Generator creates time-ordered batch IDs and random request IDs.
type Generator struct{}

// New creates a Generator.
func New() Generator {
	return Generator{}
}

// NewBatchID returns a UUIDv7 so batch rows sort by creation time.
func (Generator) NewBatchID() (uuid.UUID, error) {
	id, err := uuid.NewV7()
	if err != nil {
		return uuid.Nil, fmt.Errorf("generate uuid7: %w", err)
	}
	return id, nil
}

// NewRequestID returns a random UUIDv4 string.
func (Generator) NewRequestID() string {
	return uuid.NewString()
}
