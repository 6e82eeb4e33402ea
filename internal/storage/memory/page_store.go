// Package memory keeps encoded pages in memory for tests and dry runs.
package memory

import (
	"context"
	"sync"

	"github.com/JakeFAU/neuronav/internal/codec"
	"github.com/JakeFAU/neuronav/internal/neuron"
)

// PageStore holds encoded pages keyed by address.
type PageStore struct {
	mu   sync.RWMutex
	data map[neuron.Address][]byte
}

// NewPageStore creates an empty in-memory page store.
func NewPageStore() *PageStore {
	return &PageStore{data: make(map[neuron.Address][]byte)}
}

// Exists reports whether addr has been stored.
func (s *PageStore) Exists(_ context.Context, addr neuron.Address) (bool, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	_, ok := s.data[addr]
	return ok, nil
}

// Put encodes and stores the page.
func (s *PageStore) Put(_ context.Context, addr neuron.Address, page neuron.Page) error {
	data, err := codec.Default.Encode(page)
	if err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.data[addr] = data
	return nil
}

// Get decodes the stored page.
func (s *PageStore) Get(_ context.Context, addr neuron.Address) (neuron.Page, error) {
	s.mu.RLock()
	data, ok := s.data[addr]
	s.mu.RUnlock()
	if !ok {
		return neuron.Page{}, &neuron.PathError{Kind: neuron.ErrNotFound, Path: "memory://" + addr.String()}
	}
	return codec.Decode(data)
}

// Len reports how many pages are stored.
func (s *PageStore) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.data)
}
