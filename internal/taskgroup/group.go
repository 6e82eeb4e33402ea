// Package taskgroup runs keyed tasks concurrently and hands their outcomes
// back as tagged results, so callers can tell reported failures from crashed
// workers and from work they cancelled themselves.
package taskgroup

import (
	"context"
	"errors"
	"fmt"
	"runtime/debug"
	"sync"

	"golang.org/x/sync/semaphore"

	"github.com/JakeFAU/neuronav/internal/neuron"
)

// Kind tags how a task finished.
type Kind int

// Task outcomes.
const (
	KindOK Kind = iota
	KindReported
	KindFatal
	KindCanceled
)

func (k Kind) String() string {
	switch k {
	case KindOK:
		return "ok"
	case KindReported:
		return "reported"
	case KindFatal:
		return "fatal"
	case KindCanceled:
		return "canceled"
	default:
		return fmt.Sprintf("kind(%d)", int(k))
	}
}

// Result is the outcome of one task.
type Result[K, V any] struct {
	Key   K
	Value V
	Err   error
	Kind  Kind
}

// Options configures a Group.
//   - Limit: maximum tasks in flight; <= 0 means unbounded.
//   - SizeHint: expected task count, used to size the result buffer up to
//     maxResultBuffer.
type Options struct {
	Limit    int
	SizeHint int
}

// maxResultBuffer caps the result channel; the consumer drains it while tasks run.
const maxResultBuffer = 1024

// Group runs tasks and collects their results. Go and Seal are called from
// one spawning goroutine; Next and Wait from one consuming goroutine. The two
// may be different goroutines.
type Group[K, V any] struct {
	ctx     context.Context
	cancel  context.CancelFunc
	permits *semaphore.Weighted
	results chan Result[K, V]
	wg      sync.WaitGroup
	sealed  sync.Once
}

// New returns a Group whose tasks observe a child of ctx.
func New[K, V any](ctx context.Context, opts Options) *Group[K, V] {
	ctx, cancel := context.WithCancel(ctx)
	g := &Group[K, V]{
		ctx:     ctx,
		cancel:  cancel,
		results: make(chan Result[K, V], min(max(opts.SizeHint, 1), maxResultBuffer)),
	}
	if opts.Limit > 0 {
		g.permits = semaphore.NewWeighted(int64(opts.Limit))
	}
	return g
}

// Context returns the context handed to every task.
func (g *Group[K, V]) Context() context.Context {
	return g.ctx
}

// Go starts fn for key. When the group is bounded, Go blocks until a permit
// is free; the permit is released when fn returns, panics included. Go
// returns an error, without starting fn, if the group is cancelled first.
func (g *Group[K, V]) Go(key K, fn func(ctx context.Context) (V, error)) error {
	if g.permits != nil {
		if err := g.permits.Acquire(g.ctx, 1); err != nil {
			return fmt.Errorf("acquire permit: %w", err)
		}
	} else if err := g.ctx.Err(); err != nil {
		return fmt.Errorf("group canceled: %w", err)
	}
	g.wg.Add(1)
	go g.run(key, fn)
	return nil
}

func (g *Group[K, V]) run(key K, fn func(ctx context.Context) (V, error)) {
	defer g.wg.Done()
	res := Result[K, V]{Key: key}
	defer func() {
		g.results <- res
	}()
	if g.permits != nil {
		defer g.permits.Release(1)
	}
	defer func() {
		if rec := recover(); rec != nil {
			res = Result[K, V]{Key: key, Err: &neuron.FatalError{Value: rec, Stack: debug.Stack()}, Kind: KindFatal}
		}
	}()

	value, err := fn(g.ctx)
	res.Value, res.Err, res.Kind = value, err, g.classify(err)
}

func (g *Group[K, V]) classify(err error) Kind {
	switch {
	case err == nil:
		return KindOK
	case errors.Is(err, neuron.ErrFatalInternal):
		return KindFatal
	case g.ctx.Err() != nil && (errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded)):
		return KindCanceled
	default:
		return KindReported
	}
}

// Seal declares that no more tasks will be started. Next reports false once
// the group is sealed and every started task has been received.
func (g *Group[K, V]) Seal() {
	g.sealed.Do(func() {
		go func() {
			g.wg.Wait()
			close(g.results)
		}()
	})
}

// Next blocks for the next finished task.
func (g *Group[K, V]) Next() (Result[K, V], bool) {
	res, ok := <-g.results
	return res, ok
}

// Cancel signals every running task to stop and prevents further starts.
func (g *Group[K, V]) Cancel() {
	g.cancel()
}

// Wait seals the group and discards results until all tasks have exited.
func (g *Group[K, V]) Wait() {
	g.Seal()
	for range g.results {
	}
	g.cancel()
}
