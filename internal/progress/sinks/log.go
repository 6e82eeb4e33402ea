package sinks

import (
	"context"

	"go.uber.org/zap"

	"github.com/JakeFAU/neuronav/internal/progress"
)

// LogSink writes progress events to a zap logger. Batch milestones log at
// info, page events at debug.
type LogSink struct {
	logger *zap.Logger
}

// NewLogSink wraps logger; nil discards.
func NewLogSink(logger *zap.Logger) *LogSink {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &LogSink{logger: logger}
}

// Consume implements progress.Sink.
func (s *LogSink) Consume(_ context.Context, batch []progress.Event) error {
	for _, evt := range batch {
		fields := []zap.Field{
			zap.String("batch_id", evt.BatchID.String()),
			zap.String("stage", string(evt.Stage)),
			zap.String("model", evt.Model),
			zap.Uint32("layer", evt.Layer),
			zap.Int64("completed", evt.Completed),
			zap.Int64("total", evt.Total),
		}
		if evt.Dur > 0 {
			fields = append(fields, zap.Duration("dur", evt.Dur))
		}
		if evt.Note != "" {
			fields = append(fields, zap.String("note", evt.Note))
		}
		switch {
		case evt.IsPage():
			fields = append(fields, zap.Uint32("neuron", evt.Neuron))
			s.logger.Debug("page progress", fields...)
		case evt.Stage == progress.StageBatchError:
			s.logger.Warn("batch failed", fields...)
		default:
			s.logger.Info("batch progress", fields...)
		}
	}
	return nil
}

// Close implements progress.Sink.
func (s *LogSink) Close(context.Context) error {
	return nil
}
