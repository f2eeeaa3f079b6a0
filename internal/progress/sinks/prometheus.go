package sinks

import (
	"context"
	"fmt"
	"sync"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/mirrornet/pagepool/internal/progress"
)

// PrometheusSink exports batch generation metrics. It owns all collectors
// for batches started/completed/running and per-generator page counters.
type PrometheusSink struct {
	batchesStarted   prometheus.Counter
	batchesCompleted prometheus.Counter
	batchesRunning   prometheus.Gauge
	batchRuntime     prometheus.Histogram

	pagesGenerated *prometheus.CounterVec
	pageDuration   *prometheus.HistogramVec
	pageErrors     prometheus.Counter

	tracker *batchTracker
}

// NewPrometheusSink registers the collectors against the provided registry.
func NewPrometheusSink(reg prometheus.Registerer) (*PrometheusSink, error) {
	if reg == nil {
		reg = prometheus.DefaultRegisterer
	}
	s := &PrometheusSink{
		batchesStarted: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "pagepool_batches_started_total",
			Help: "Total batch generation runs started.",
		}),
		batchesCompleted: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "pagepool_batches_completed_total",
			Help: "Total batch generation runs completed.",
		}),
		batchesRunning: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "pagepool_batches_running",
			Help: "Current number of running batch generations.",
		}),
		batchRuntime: prometheus.NewHistogram(prometheus.HistogramOpts{
			Name:    "pagepool_batch_runtime_seconds",
			Help:    "Wall time per completed batch.",
			Buckets: []float64{1, 5, 15, 30, 60, 120, 300, 600},
		}),
		pagesGenerated: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "pagepool_pages_generated_total",
			Help: "Pages generated partitioned by generator.",
		}, []string{"generator"}),
		pageDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "pagepool_page_generation_seconds",
			Help:    "Per-page generation duration partitioned by generator.",
			Buckets: []float64{0.1, 0.5, 1, 2, 5, 10, 30, 60},
		}, []string{"generator"}),
		pageErrors: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "pagepool_page_errors_total",
			Help: "Pages that failed to generate.",
		}),
		tracker: newBatchTracker(),
	}
	for _, collector := range []prometheus.Collector{
		s.batchesStarted,
		s.batchesCompleted,
		s.batchesRunning,
		s.batchRuntime,
		s.pagesGenerated,
		s.pageDuration,
		s.pageErrors,
	} {
		if err := reg.Register(collector); err != nil {
			return nil, fmt.Errorf("register progress collector: %w", err)
		}
	}
	return s, nil
}

// Consume updates the Prometheus collectors using the provided batch. It is
// safe for concurrent use by multiple goroutines.
func (s *PrometheusSink) Consume(_ context.Context, batch []progress.Event) error {
	for _, evt := range batch {
		s.consumeEvent(evt)
	}
	return nil
}

func (s *PrometheusSink) consumeEvent(evt progress.Event) {
	switch evt.Stage {
	case progress.StageBatchStart:
		s.batchesStarted.Inc()
		if s.tracker.start(evt.BatchID) {
			s.batchesRunning.Inc()
		}
	case progress.StageBatchDone:
		s.batchesCompleted.Inc()
		if evt.Dur > 0 {
			s.batchRuntime.Observe(evt.Dur.Seconds())
		}
		if s.tracker.complete(evt.BatchID) {
			s.batchesRunning.Dec()
		}
	case progress.StagePageDone:
		generator := evt.Generator
		if generator == "" {
			generator = "unknown"
		}
		s.pagesGenerated.WithLabelValues(generator).Inc()
		if evt.Dur > 0 {
			s.pageDuration.WithLabelValues(generator).Observe(evt.Dur.Seconds())
		}
	case progress.StagePageError:
		s.pageErrors.Inc()
	}
}

// Close implements the Sink interface; it performs no action.
func (s *PrometheusSink) Close(context.Context) error {
	return nil
}

type batchTracker struct {
	mu      sync.Mutex
	running map[[16]byte]struct{}
}

func newBatchTracker() *batchTracker {
	return &batchTracker{running: make(map[[16]byte]struct{})}
}

func (t *batchTracker) start(id [16]byte) bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	if _, ok := t.running[id]; ok {
		return false
	}
	t.running[id] = struct{}{}
	return true
}

func (t *batchTracker) complete(id [16]byte) bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	if _, ok := t.running[id]; !ok {
		return false
	}
	delete(t.running, id)
	return true
}
