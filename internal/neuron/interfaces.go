package neuron

import "context"

// Fetcher retrieves and parses one remote page.
type Fetcher interface {
	Fetch(ctx context.Context, addr Address) (Page, error)
}
