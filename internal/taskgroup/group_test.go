package taskgroup

import (
	"context"
	"errors"
	"strconv"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/JakeFAU/neuronav/internal/neuron"
)

func collect[K, V any](g *Group[K, V]) []Result[K, V] {
	var out []Result[K, V]
	for {
		res, ok := g.Next()
		if !ok {
			return out
		}
		out = append(out, res)
	}
}

func TestGroupCollectsAllResults(t *testing.T) {
	t.Parallel()

	g := New[int, int](context.Background(), Options{SizeHint: 10})
	for i := 0; i < 10; i++ {
		require.NoError(t, g.Go(i, func(context.Context) (int, error) { return i * i, nil }))
	}
	g.Seal()

	results := collect(g)
	require.Len(t, results, 10)
	seen := map[int]bool{}
	for _, res := range results {
		require.Equal(t, KindOK, res.Kind)
		require.Equal(t, res.Key*res.Key, res.Value)
		seen[res.Key] = true
	}
	require.Len(t, seen, 10)
}

func TestGroupBoundsInFlight(t *testing.T) {
	t.Parallel()

	for _, limit := range []int{1, 5, 20} {
		t.Run("limit="+strconv.Itoa(limit), func(t *testing.T) {
			t.Parallel()

			var inFlight, peak atomic.Int64
			g := New[int, struct{}](context.Background(), Options{Limit: limit, SizeHint: 4})
			done := make(chan []Result[int, struct{}])
			go func() { done <- collect(g) }()

			for i := 0; i < 60; i++ {
				require.NoError(t, g.Go(i, func(context.Context) (struct{}, error) {
					cur := inFlight.Add(1)
					for {
						old := peak.Load()
						if cur <= old || peak.CompareAndSwap(old, cur) {
							break
						}
					}
					time.Sleep(time.Millisecond)
					inFlight.Add(-1)
					return struct{}{}, nil
				}))
			}
			g.Seal()

			require.Len(t, <-done, 60)
			require.LessOrEqual(t, peak.Load(), int64(limit))
			require.Positive(t, peak.Load())
		})
	}
}

func TestGroupRecoversPanicsAsFatal(t *testing.T) {
	t.Parallel()

	g := New[string, int](context.Background(), Options{Limit: 1})
	require.NoError(t, g.Go("boom", func(context.Context) (int, error) { panic("worker crashed") }))
	// the permit is released even though the task panicked
	require.NoError(t, g.Go("after", func(context.Context) (int, error) { return 1, nil }))
	g.Seal()

	byKey := map[string]Result[string, int]{}
	for _, res := range collect(g) {
		byKey[res.Key] = res
	}
	require.Equal(t, KindFatal, byKey["boom"].Kind)
	var fatal *neuron.FatalError
	require.ErrorAs(t, byKey["boom"].Err, &fatal)
	require.Equal(t, "worker crashed", fatal.Value)
	require.NotEmpty(t, fatal.Stack)
	require.Equal(t, KindOK, byKey["after"].Kind)
}

func TestGroupReportedErrors(t *testing.T) {
	t.Parallel()

	g := New[int, int](context.Background(), Options{})
	transport := &neuron.TransportError{URL: "u", Err: errors.New("refused")}
	require.NoError(t, g.Go(1, func(context.Context) (int, error) { return 0, transport }))
	require.NoError(t, g.Go(2, func(ctx context.Context) (int, error) {
		// a task's own deadline is a reported failure while the group is live
		tctx, cancel := context.WithTimeout(ctx, time.Millisecond)
		defer cancel()
		<-tctx.Done()
		return 0, tctx.Err()
	}))
	g.Seal()

	for _, res := range collect(g) {
		require.Equal(t, KindReported, res.Kind, "key %d", res.Key)
	}
}

func TestGroupCancelIsNotFatal(t *testing.T) {
	t.Parallel()

	g := New[int, int](context.Background(), Options{})
	started := make(chan struct{}, 3)
	for i := 0; i < 3; i++ {
		require.NoError(t, g.Go(i, func(ctx context.Context) (int, error) {
			started <- struct{}{}
			<-ctx.Done()
			return 0, ctx.Err()
		}))
	}
	for i := 0; i < 3; i++ {
		<-started
	}
	g.Cancel()
	require.Error(t, g.Go(99, func(context.Context) (int, error) { return 0, nil }))
	g.Seal()

	results := collect(g)
	require.Len(t, results, 3)
	for _, res := range results {
		require.Equal(t, KindCanceled, res.Kind)
	}
}

func TestGroupGoBlocksUntilCanceled(t *testing.T) {
	t.Parallel()

	g := New[int, int](context.Background(), Options{Limit: 1, SizeHint: 2})
	release := make(chan struct{})
	require.NoError(t, g.Go(0, func(context.Context) (int, error) {
		<-release
		return 0, nil
	}))

	errCh := make(chan error, 1)
	go func() {
		errCh <- g.Go(1, func(context.Context) (int, error) { return 1, nil })
	}()
	select {
	case err := <-errCh:
		t.Fatalf("Go returned before a permit was free: %v", err)
	case <-time.After(20 * time.Millisecond):
	}

	g.Cancel()
	require.ErrorIs(t, <-errCh, context.Canceled)
	close(release)
	g.Wait()
}

func TestGroupResultBufferIsCapped(t *testing.T) {
	t.Parallel()

	tests := []struct {
		hint, want int
	}{
		{0, 1},
		{10, 10},
		{1 << 32, maxResultBuffer},
	}
	for _, tc := range tests {
		g := New[int, int](context.Background(), Options{SizeHint: tc.hint})
		require.Equal(t, tc.want, cap(g.results), "hint %d", tc.hint)
		g.Wait()
	}
}

func TestGroupMoreTasksThanBuffer(t *testing.T) {
	t.Parallel()

	const n = maxResultBuffer*2 + 7
	g := New[int, int](context.Background(), Options{Limit: 8, SizeHint: n})
	go func() {
		defer g.Seal()
		for i := range n {
			if err := g.Go(i, func(context.Context) (int, error) { return i, nil }); err != nil {
				return
			}
		}
	}()
	require.Len(t, collect(g), n)
}

func TestKindString(t *testing.T) {
	t.Parallel()

	require.Equal(t, "ok", KindOK.String())
	require.Equal(t, "reported", KindReported.String())
	require.Equal(t, "fatal", KindFatal.String())
	require.Equal(t, "canceled", KindCanceled.String())
	require.Equal(t, "kind(9)", Kind(9).String())
}
