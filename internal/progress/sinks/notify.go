package sinks

import (
	"context"
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/JakeFAU/neuronav/internal/progress"
)

// Publisher sends a JSON-encodable payload to a topic.
type Publisher interface {
	Publish(ctx context.Context, topic string, payload any) (string, error)
}

// BatchNotification is published once per finished batch.
type BatchNotification struct {
	BatchID    string    `json:"batch_id"`
	Model      string    `json:"model"`
	Layer      uint32    `json:"layer"`
	Total      int64     `json:"total"`
	Completed  int64     `json:"completed"`
	Status     string    `json:"status"`
	Error      string    `json:"error,omitempty"`
	FinishedAt time.Time `json:"finished_at"`
	Seconds    float64   `json:"duration_seconds"`
}

// NotifySink publishes a BatchNotification for every BATCH_DONE and
// BATCH_ERROR event. Page events are ignored.
type NotifySink struct {
	pub    Publisher
	topic  string
	logger *zap.Logger
}

// NewNotifySink publishes to topic through pub.
func NewNotifySink(pub Publisher, topic string, logger *zap.Logger) *NotifySink {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &NotifySink{pub: pub, topic: topic, logger: logger}
}

// Consume implements progress.Sink.
func (s *NotifySink) Consume(ctx context.Context, batch []progress.Event) error {
	for _, evt := range batch {
		var status string
		switch evt.Stage {
		case progress.StageBatchDone:
			status = "success"
		case progress.StageBatchError:
			status = "error"
		default:
			continue
		}
		note := BatchNotification{
			BatchID:    evt.BatchID.String(),
			Model:      evt.Model,
			Layer:      evt.Layer,
			Total:      evt.Total,
			Completed:  evt.Completed,
			Status:     status,
			FinishedAt: evt.TS.UTC(),
			Seconds:    evt.Dur.Seconds(),
		}
		if status == "error" {
			note.Error = evt.Note
		}
		id, err := s.pub.Publish(ctx, s.topic, note)
		if err != nil {
			return fmt.Errorf("publish batch notification: %w", err)
		}
		s.logger.Debug("batch notification published",
			zap.String("batch_id", note.BatchID),
			zap.String("message_id", id),
		)
	}
	return nil
}

// Close implements progress.Sink.
func (s *NotifySink) Close(context.Context) error {
	return nil
}
