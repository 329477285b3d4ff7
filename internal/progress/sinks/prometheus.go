package sinks

import (
	"context"
	"fmt"
	"sync"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/JakeFAU/thread-archiver/internal/progress"
)

// PrometheusSink exports archive progress as Prometheus metrics: poll cycles
// by result, merged posts, and asset downloads by status class.
type PrometheusSink struct {
	cyclesStarted  prometheus.Counter
	cyclesDone     *prometheus.CounterVec
	cyclesRunning  prometheus.Gauge
	cycleDuration  *prometheus.HistogramVec
	postsMerged    *prometheus.CounterVec
	downloads      *prometheus.CounterVec
	downloadBytes  prometheus.Counter
	downloadTiming *prometheus.HistogramVec

	tracker *cycleTracker
}

// NewPrometheusSink registers the collectors against reg.
func NewPrometheusSink(reg prometheus.Registerer) (*PrometheusSink, error) {
	if reg == nil {
		reg = prometheus.DefaultRegisterer
	}
	s := &PrometheusSink{
		cyclesStarted: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "archiver_cycles_started_total",
			Help: "Poll cycles started.",
		}),
		cyclesDone: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "archiver_cycles_completed_total",
			Help: "Poll cycles completed partitioned by result.",
		}, []string{"result"}),
		cyclesRunning: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "archiver_cycles_running",
			Help: "Poll cycles currently in flight.",
		}),
		cycleDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "archiver_cycle_duration_seconds",
			Help:    "Wall time per completed poll cycle.",
			Buckets: []float64{0.1, 0.5, 1, 2, 5, 10, 30, 60, 120},
		}, []string{"result"}),
		postsMerged: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "archiver_posts_merged_total",
			Help: "Posts appended to saved threads.",
		}, []string{"thread"}),
		downloads: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "archiver_downloads_total",
			Help: "Asset downloads partitioned by status class.",
		}, []string{"status_class"}),
		downloadBytes: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "archiver_download_bytes_total",
			Help: "Bytes written for downloaded assets.",
		}),
		downloadTiming: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "archiver_download_duration_seconds",
			Help:    "Asset download duration partitioned by status class.",
			Buckets: []float64{0.01, 0.05, 0.1, 0.5, 1, 2, 5, 10},
		}, []string{"status_class"}),
		tracker: newCycleTracker(),
	}
	for _, c := range []prometheus.Collector{
		s.cyclesStarted,
		s.cyclesDone,
		s.cyclesRunning,
		s.cycleDuration,
		s.postsMerged,
		s.downloads,
		s.downloadBytes,
		s.downloadTiming,
	} {
		if err := reg.Register(c); err != nil {
			return nil, fmt.Errorf("register progress collector: %w", err)
		}
	}
	return s, nil
}

// Consume updates the collectors from batch.
func (s *PrometheusSink) Consume(_ context.Context, batch []progress.Event) error {
	for _, evt := range batch {
		switch evt.Stage {
		case progress.StageCycleStart:
			s.cyclesStarted.Inc()
			if s.tracker.start(evt.RunID) {
				s.cyclesRunning.Inc()
			}
		case progress.StageCycleDone:
			s.finishCycle(evt, evt.Result)
			if evt.Posts > 0 {
				s.postsMerged.WithLabelValues(evt.Thread).Add(float64(evt.Posts))
			}
		case progress.StageCycleError:
			s.finishCycle(evt, "error")
		case progress.StageDownloadDone:
			s.observeDownload(evt)
		}
	}
	return nil
}

func (s *PrometheusSink) finishCycle(evt progress.Event, result string) {
	s.cyclesDone.WithLabelValues(result).Inc()
	if evt.Dur > 0 {
		s.cycleDuration.WithLabelValues(result).Observe(evt.Dur.Seconds())
	}
	if s.tracker.complete(evt.RunID) {
		s.cyclesRunning.Dec()
	}
}

func (s *PrometheusSink) observeDownload(evt progress.Event) {
	class := string(evt.StatusClass)
	if class == "" {
		class = string(progress.StatusOther)
	}
	s.downloads.WithLabelValues(class).Inc()
	if evt.Bytes > 0 {
		s.downloadBytes.Add(float64(evt.Bytes))
	}
	if evt.Dur > 0 {
		s.downloadTiming.WithLabelValues(class).Observe(evt.Dur.Seconds())
	}
}

// Close implements the Sink interface; it performs no action.
func (s *PrometheusSink) Close(context.Context) error {
	return nil
}

// cycleTracker remembers which runs have a cycle in flight so the running
// gauge never double counts.
type cycleTracker struct {
	mu      sync.Mutex
	running map[[16]byte]struct{}
}

func newCycleTracker() *cycleTracker {
	return &cycleTracker{running: make(map[[16]byte]struct{})}
}

func (t *cycleTracker) start(id [16]byte) bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	if _, ok := t.running[id]; ok {
		return false
	}
	t.running[id] = struct{}{}
	return true
}

func (t *cycleTracker) complete(id [16]byte) bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	if _, ok := t.running[id]; !ok {
		return false
	}
	delete(t.running, id)
	return true
}
