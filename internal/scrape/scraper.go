// Package scrape fans neuron fetches out over a layer. ScrapeLayer collects
// every page in memory; ScrapeLayerToStore persists pages under a bounded
// permit pool and skips addresses that are already stored.
package scrape

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/JakeFAU/neuronav/internal/clock/system"
	iduuid "github.com/JakeFAU/neuronav/internal/id/uuid"
	"github.com/JakeFAU/neuronav/internal/metrics"
	"github.com/JakeFAU/neuronav/internal/neuron"
	"github.com/JakeFAU/neuronav/internal/progress"
	"github.com/JakeFAU/neuronav/internal/storage"
	"github.com/JakeFAU/neuronav/internal/taskgroup"
	"github.com/JakeFAU/neuronav/internal/telemetry"
)

// DefaultLimit is the Mode B permit capacity.
const DefaultLimit = 20

// Clock returns the current time.
type Clock interface {
	Now() time.Time
}

// IDGenerator produces batch identifiers.
type IDGenerator interface {
	NewBatchID() (uuid.UUID, error)
}

// Scraper drives Fetcher calls for whole layers. Only Fetcher is required;
// Store is required by ScrapeLayerToStore.
type Scraper struct {
	Fetcher neuron.Fetcher
	Store   storage.Provider
	Emitter progress.Emitter
	Logger  *zap.Logger
	// Limit caps in-flight pages in ScrapeLayerToStore; <= 0 means DefaultLimit.
	Limit int
	Clock Clock
	IDs   IDGenerator
}

// Summary reports a finished ScrapeLayerToStore batch.
type Summary struct {
	BatchID uuid.UUID
	Model   string
	Layer   uint32
	Total   int
	Fetched int
	Skipped int
	Elapsed time.Duration
}

// Completed counts pages that are now present in the store.
func (s Summary) Completed() int {
	return s.Fetched + s.Skipped
}

func (s *Scraper) logger() *zap.Logger {
	if s.Logger == nil {
		return zap.NewNop()
	}
	return s.Logger
}

func (s *Scraper) emitter() progress.Emitter {
	if s.Emitter == nil {
		return progress.Nop{}
	}
	return s.Emitter
}

func (s *Scraper) clock() Clock {
	if s.Clock == nil {
		return system.New()
	}
	return s.Clock
}

func (s *Scraper) ids() IDGenerator {
	if s.IDs == nil {
		return iduuid.New()
	}
	return s.IDs
}

func (s *Scraper) limit() int {
	if s.Limit <= 0 {
		return DefaultLimit
	}
	return s.Limit
}

func wrapItem(model string, layer, n uint32, err error) error {
	return fmt.Errorf("scrape neuron %d in layer %d of model %q: %w", n, layer, model, err)
}

// spawn starts one task per neuron in [0, count) from a separate goroutine
// and seals the group when done or cancelled.
func spawn[V any](g *taskgroup.Group[uint32, V], count int, fn func(ctx context.Context, n uint32) (V, error)) {
	go func() {
		defer g.Seal()
		for i := range count {
			n := uint32(i) //nolint:gosec // count is bounded by validateCount
			if err := g.Go(n, func(ctx context.Context) (V, error) { return fn(ctx, n) }); err != nil {
				return
			}
		}
	}()
}

func validateCount(count int) error {
	if count < 0 {
		return fmt.Errorf("neuron count must be >= 0, got %d", count)
	}
	if uint64(count) > 1<<32 {
		return fmt.Errorf("neuron count %d exceeds the uint32 index range", count)
	}
	return nil
}

func (s *Scraper) fetch(ctx context.Context, addr neuron.Address) (neuron.Page, error) {
	metrics.IncTasksInFlight()
	defer metrics.DecTasksInFlight()
	ctx, span := telemetry.StartSpan(ctx, "scrape.fetch", telemetry.PageAttributes(addr.Model, addr.Layer, addr.Neuron)...)
	page, err := s.Fetcher.Fetch(ctx, addr)
	telemetry.EndSpan(span, err)
	return page, err
}

// ScrapeLayer fetches neurons [0, count) of layer concurrently and returns
// their pages ordered by neuron index. The first reported failure cancels the
// remaining fetches and is returned without any pages. A crashed task
// re-panics with its *neuron.FatalError once the other tasks have stopped.
func (s *Scraper) ScrapeLayer(ctx context.Context, model string, layer uint32, count int) ([]neuron.Page, error) {
	if err := validateCount(count); err != nil {
		return nil, err
	}
	group := taskgroup.New[uint32, neuron.Page](ctx, taskgroup.Options{SizeHint: count})
	spawn(group, count, func(ctx context.Context, n uint32) (neuron.Page, error) {
		return s.fetch(ctx, neuron.Address{Model: model, Layer: layer, Neuron: n})
	})

	pages := make([]neuron.Page, count)
	seen := make([]bool, count)
	var firstErr, fatal error
	for res, ok := group.Next(); ok; res, ok = group.Next() {
		switch res.Kind {
		case taskgroup.KindOK:
			if seen[res.Key] {
				fatal = &neuron.FatalError{Value: fmt.Errorf("neuron %d completed twice", res.Key)}
				group.Cancel()
				continue
			}
			seen[res.Key] = true
			pages[res.Key] = res.Value
		case taskgroup.KindReported:
			if firstErr == nil {
				firstErr = wrapItem(model, layer, res.Key, res.Err)
				group.Cancel()
			}
		case taskgroup.KindFatal:
			if fatal == nil {
				fatal = res.Err
				group.Cancel()
			}
		case taskgroup.KindCanceled:
		}
	}
	group.Cancel()

	if fatal != nil {
		panic(fatal)
	}
	if firstErr != nil {
		return nil, firstErr
	}
	if err := ctx.Err(); err != nil {
		return nil, fmt.Errorf("scrape layer %d of model %q: %w", layer, model, err)
	}
	for i, ok := range seen {
		if !ok {
			panic(&neuron.FatalError{Value: fmt.Errorf("scrape layer %d of model %q: neuron %d missing from results", layer, model, i)})
		}
	}
	return pages, nil
}

type pageOutcome struct {
	skipped bool
	dur     time.Duration
}

func (s *Scraper) persist(ctx context.Context, addr neuron.Address) (pageOutcome, error) {
	exists, err := s.Store.Exists(ctx, addr)
	if err != nil {
		return pageOutcome{}, fmt.Errorf("check stored page: %w", err)
	}
	if exists {
		return pageOutcome{skipped: true}, nil
	}
	start := s.clock().Now()
	page, err := s.fetch(ctx, addr)
	if err != nil {
		return pageOutcome{}, err
	}
	if err := ctx.Err(); err != nil {
		return pageOutcome{}, err
	}
	if err := s.Store.Put(ctx, addr, page); err != nil {
		return pageOutcome{}, fmt.Errorf("store page: %w", err)
	}
	return pageOutcome{dur: s.clock().Now().Sub(start)}, nil
}

// ScrapeLayerToStore fetches neurons [0, count) of layer into the Store with
// at most Limit pages in flight. Stored addresses are skipped without a fetch.
// The first reported failure cancels outstanding work and is returned.
func (s *Scraper) ScrapeLayerToStore(ctx context.Context, model string, layer uint32, count int) (Summary, error) {
	if err := validateCount(count); err != nil {
		return Summary{}, err
	}
	if s.Store == nil {
		return Summary{}, errors.New("scrape to store: no page store configured")
	}
	batchID, err := s.ids().NewBatchID()
	if err != nil {
		return Summary{}, fmt.Errorf("new batch id: %w", err)
	}
	clk := s.clock()
	log := s.logger().With(
		zap.String("batch_id", batchID.String()),
		zap.String("model", model),
		zap.Uint32("layer", layer),
	)
	emit := s.emitter()
	start := clk.Now()
	sum := Summary{BatchID: batchID, Model: model, Layer: layer, Total: count}
	event := func(stage progress.Stage) progress.Event {
		return progress.Event{
			BatchID:   batchID,
			TS:        clk.Now(),
			Stage:     stage,
			Model:     model,
			Layer:     layer,
			Completed: int64(sum.Completed()),
			Total:     int64(count),
		}
	}
	finish := func(cause error) {
		sum.Elapsed = clk.Now().Sub(start)
		evt := event(progress.StageBatchDone)
		evt.Dur = sum.Elapsed
		if cause != nil {
			evt.Stage = progress.StageBatchError
			evt.Note = cause.Error()
		}
		emit.Emit(evt)
	}

	emit.Emit(event(progress.StageBatchStart))
	log.Info("layer scrape started", zap.Int("count", count), zap.Int("limit", s.limit()))

	group := taskgroup.New[uint32, pageOutcome](ctx, taskgroup.Options{Limit: s.limit(), SizeHint: count})
	spawn(group, count, func(ctx context.Context, n uint32) (pageOutcome, error) {
		return s.persist(ctx, neuron.Address{Model: model, Layer: layer, Neuron: n})
	})

	var firstErr, fatal error
	for res, ok := group.Next(); ok; res, ok = group.Next() {
		switch res.Kind {
		case taskgroup.KindOK:
			stage := progress.StagePageDone
			if res.Value.skipped {
				sum.Skipped++
				stage = progress.StagePageSkipped
			} else {
				sum.Fetched++
			}
			evt := event(stage)
			evt.Neuron = res.Key
			evt.Dur = res.Value.dur
			emit.Emit(evt)
			log.Info(fmt.Sprintf("Pages scraped: %d/%d", sum.Completed(), count), zap.Uint32("neuron", res.Key))
		case taskgroup.KindReported:
			evt := event(progress.StagePageError)
			evt.Neuron = res.Key
			evt.Note = res.Err.Error()
			emit.Emit(evt)
			if firstErr == nil {
				firstErr = wrapItem(model, layer, res.Key, res.Err)
				group.Cancel()
			}
		case taskgroup.KindFatal:
			if fatal == nil {
				fatal = res.Err
				group.Cancel()
			}
		case taskgroup.KindCanceled:
		}
	}
	group.Cancel()

	switch {
	case fatal != nil:
		finish(fatal)
		log.Error("layer scrape crashed", zap.Error(fatal))
		panic(fatal)
	case firstErr != nil:
		finish(firstErr)
		log.Warn("layer scrape failed", zap.Error(firstErr), zap.Int("completed", sum.Completed()))
		return sum, firstErr
	case ctx.Err() != nil:
		err := fmt.Errorf("scrape layer %d of model %q: %w", layer, model, ctx.Err())
		finish(err)
		return sum, err
	}

	if err := checkComplete(sum); err != nil {
		finish(err)
		panic(err)
	}
	finish(nil)
	log.Info("layer scrape finished",
		zap.Int("fetched", sum.Fetched),
		zap.Int("skipped", sum.Skipped),
		zap.Duration("elapsed", sum.Elapsed),
	)
	return sum, nil
}

// checkComplete returns a *neuron.FatalError when a successful batch did not
// account for every requested page.
func checkComplete(sum Summary) error {
	if sum.Completed() == sum.Total {
		return nil
	}
	return &neuron.FatalError{Value: fmt.Errorf(
		"batch %s incomplete: %d of %d pages for layer %d of model %q",
		sum.BatchID, sum.Completed(), sum.Total, sum.Layer, sum.Model,
	)}
}
