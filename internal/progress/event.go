package progress

import (
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
)

// Stage denotes the milestone represented by an Event.
type Stage string

// Supported progress stages.
const (
	StageBatchStart  Stage = "BATCH_START"
	StagePageDone    Stage = "PAGE_DONE"
	StagePageSkipped Stage = "PAGE_SKIPPED"
	StagePageError   Stage = "PAGE_ERROR"
	StageBatchDone   Stage = "BATCH_DONE"
	StageBatchError  Stage = "BATCH_ERROR"
)

// Event captures one step of a layer scrape.
type Event struct {
	// BatchID identifies one ScrapeLayerToStore run.
	BatchID uuid.UUID
	// TS is the UTC timestamp recorded by the emitter.
	TS    time.Time
	Stage Stage
	Model string
	Layer uint32
	// Neuron is set on page events.
	Neuron uint32
	// Completed is the running count of finished pages (fetched or skipped)
	// at the time of the event; Total is the batch size.
	Completed int64
	Total     int64
	// Dur is the page fetch time for page events and the batch wall time for
	// BATCH_DONE and BATCH_ERROR.
	Dur time.Duration
	// Note carries low-volume context such as an error message.
	Note string
}

// Validate performs coarse validation on Event payloads.
func (e Event) Validate() error {
	if e.BatchID == uuid.Nil {
		return errors.New("batch id is required")
	}
	if e.TS.IsZero() {
		return errors.New("timestamp is required")
	}
	if e.Model == "" {
		return errors.New("model is required")
	}
	switch e.Stage {
	case StageBatchStart, StageBatchDone, StageBatchError:
	case StagePageDone, StagePageSkipped, StagePageError:
		if e.Completed > e.Total {
			return fmt.Errorf("completed %d exceeds total %d", e.Completed, e.Total)
		}
	default:
		return fmt.Errorf("unknown stage %q", e.Stage)
	}
	if e.Dur < 0 {
		return errors.New("duration must be >= 0")
	}
	return nil
}

// IsPage reports whether the event describes a single page.
func (e Event) IsPage() bool {
	return e.Stage == StagePageDone || e.Stage == StagePageSkipped || e.Stage == StagePageError
}
