package sinks

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/JakeFAU/neuronav/internal/progress"
	"github.com/JakeFAU/neuronav/internal/store"
)

// StoreSink persists batch progress through a store.BatchRepository. Page
// events are collapsed into one delta per batch per Consume call.
type StoreSink struct {
	repo   store.BatchRepository
	logger *zap.Logger
}

// NewStoreSink constructs a StoreSink for repo.
func NewStoreSink(repo store.BatchRepository, logger *zap.Logger) *StoreSink {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &StoreSink{repo: repo, logger: logger}
}

type pageDelta struct {
	fetched, skipped, failed int64
	at                       time.Time
}

// Consume implements progress.Sink. Events are applied in order: starts
// before deltas, deltas before completions.
func (s *StoreSink) Consume(ctx context.Context, batch []progress.Event) error {
	if s == nil || s.repo == nil {
		return nil
	}
	deltas := make(map[uuid.UUID]*pageDelta)
	var order []uuid.UUID
	var finished []progress.Event

	for _, evt := range batch {
		switch evt.Stage {
		case progress.StageBatchStart:
			if err := s.repo.StartBatch(ctx, evt.BatchID, evt.Model, evt.Layer, evt.Total, evt.TS); err != nil {
				return fmt.Errorf("start batch: %w", err)
			}
		case progress.StageBatchDone, progress.StageBatchError:
			finished = append(finished, evt)
		case progress.StagePageDone, progress.StagePageSkipped, progress.StagePageError:
			d, ok := deltas[evt.BatchID]
			if !ok {
				d = &pageDelta{}
				deltas[evt.BatchID] = d
				order = append(order, evt.BatchID)
			}
			switch evt.Stage {
			case progress.StagePageDone:
				d.fetched++
			case progress.StagePageSkipped:
				d.skipped++
			default:
				d.failed++
			}
			if evt.TS.After(d.at) {
				d.at = evt.TS
			}
		}
	}

	for _, id := range order {
		d := deltas[id]
		err := s.repo.AddPages(ctx, id, d.fetched, d.skipped, d.failed, d.at)
		if errors.Is(err, store.ErrNotFound) {
			s.logger.Warn("page progress for unknown batch", zap.String("batch_id", id.String()))
			continue
		}
		if err != nil {
			return fmt.Errorf("add batch pages: %w", err)
		}
	}

	for _, evt := range finished {
		status := store.BatchSuccess
		var msg *string
		if evt.Stage == progress.StageBatchError {
			status = store.BatchError
			if evt.Note != "" {
				note := evt.Note
				msg = &note
			}
		}
		if err := s.repo.CompleteBatch(ctx, evt.BatchID, evt.TS, status, msg); err != nil {
			return fmt.Errorf("complete batch: %w", err)
		}
	}
	return nil
}

// Close implements progress.Sink.
func (s *StoreSink) Close(context.Context) error {
	return nil
}
