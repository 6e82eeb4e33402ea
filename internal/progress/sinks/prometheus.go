package sinks

import (
	"context"
	"fmt"
	"sync"

	"github.com/google/uuid"
	"github.com/prometheus/client_golang/prometheus"

	"github.com/JakeFAU/neuronav/internal/progress"
)

// PrometheusSink exports batch and page progress collectors.
type PrometheusSink struct {
	batchesStarted  prometheus.Counter
	batchesFinished *prometheus.CounterVec
	batchesRunning  prometheus.Gauge
	batchRuntime    *prometheus.HistogramVec
	pages           *prometheus.CounterVec
	pageDuration    prometheus.Histogram

	mu      sync.Mutex
	running map[uuid.UUID]struct{}
}

// NewPrometheusSink registers its collectors on reg (default registerer when nil).
func NewPrometheusSink(reg prometheus.Registerer) (*PrometheusSink, error) {
	if reg == nil {
		reg = prometheus.DefaultRegisterer
	}
	s := &PrometheusSink{
		batchesStarted: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "neuronav_batches_started_total",
			Help: "Layer scrapes that have started.",
		}),
		batchesFinished: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "neuronav_batches_finished_total",
			Help: "Layer scrapes finished, partitioned by result.",
		}, []string{"result"}),
		batchesRunning: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "neuronav_batches_running",
			Help: "Layer scrapes currently running.",
		}),
		batchRuntime: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "neuronav_batch_runtime_seconds",
			Help:    "Wall time per finished layer scrape.",
			Buckets: []float64{1, 5, 15, 30, 60, 120, 300, 600, 1800},
		}, []string{"result"}),
		pages: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "neuronav_pages_total",
			Help: "Pages handled by layer scrapes, partitioned by model and outcome.",
		}, []string{"model", "outcome"}),
		pageDuration: prometheus.NewHistogram(prometheus.HistogramOpts{
			Name:    "neuronav_page_duration_seconds",
			Help:    "Fetch-and-store time per page.",
			Buckets: []float64{0.05, 0.1, 0.25, 0.5, 1, 2, 5, 10, 30},
		}),
		running: make(map[uuid.UUID]struct{}),
	}
	for _, c := range []prometheus.Collector{
		s.batchesStarted,
		s.batchesFinished,
		s.batchesRunning,
		s.batchRuntime,
		s.pages,
		s.pageDuration,
	} {
		if err := reg.Register(c); err != nil {
			return nil, fmt.Errorf("register progress collector: %w", err)
		}
	}
	return s, nil
}

// Consume implements progress.Sink.
func (s *PrometheusSink) Consume(_ context.Context, batch []progress.Event) error {
	for _, evt := range batch {
		switch evt.Stage {
		case progress.StageBatchStart:
			s.batchesStarted.Inc()
			if s.track(evt.BatchID, true) {
				s.batchesRunning.Inc()
			}
		case progress.StageBatchDone:
			s.finish(evt, "success")
		case progress.StageBatchError:
			s.finish(evt, "error")
		case progress.StagePageDone:
			s.pages.WithLabelValues(evt.Model, "fetched").Inc()
			if evt.Dur > 0 {
				s.pageDuration.Observe(evt.Dur.Seconds())
			}
		case progress.StagePageSkipped:
			s.pages.WithLabelValues(evt.Model, "skipped").Inc()
		case progress.StagePageError:
			s.pages.WithLabelValues(evt.Model, "failed").Inc()
		}
	}
	return nil
}

func (s *PrometheusSink) finish(evt progress.Event, result string) {
	s.batchesFinished.WithLabelValues(result).Inc()
	if evt.Dur > 0 {
		s.batchRuntime.WithLabelValues(result).Observe(evt.Dur.Seconds())
	}
	if s.track(evt.BatchID, false) {
		s.batchesRunning.Dec()
	}
}

// track records start (add=true) or finish of id and reports whether the
// running set changed.
func (s *PrometheusSink) track(id uuid.UUID, add bool) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	_, ok := s.running[id]
	if add {
		if ok {
			return false
		}
		s.running[id] = struct{}{}
		return true
	}
	if !ok {
		return false
	}
	delete(s.running, id)
	return true
}

// Close implements progress.Sink.
func (s *PrometheusSink) Close(context.Context) error {
	return nil
}
