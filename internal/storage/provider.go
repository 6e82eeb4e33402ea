// Package storage defines where encoded neuron pages live. Backends persist
// pages under a shared key layout so a batch can move between the local
// filesystem and object stores without renaming anything.
package storage

import (
	"context"

	"github.com/JakeFAU/neuronav/internal/neuron"
)

// Provider persists encoded pages keyed by address.
type Provider interface {
	// Exists reports whether a page is already stored for addr.
	Exists(ctx context.Context, addr neuron.Address) (bool, error)
	// Put encodes and stores page, replacing any previous copy.
	Put(ctx context.Context, addr neuron.Address, page neuron.Page) error
	// Get loads the page for addr. A missing page yields neuron.ErrNotFound.
	Get(ctx context.Context, addr neuron.Address) (neuron.Page, error)
}
