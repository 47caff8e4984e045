package sinks

import (
	"context"
	"fmt"
	"sync"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/kruyneg/information-retrieval/internal/progress"
)

// PrometheusSink turns progress events into run, host and fetch collectors.
type PrometheusSink struct {
	runsStarted   prometheus.Counter
	runsCompleted prometheus.Counter
	runsRunning   prometheus.Gauge
	runRuntime    prometheus.Histogram

	hostsCompleted *prometheus.CounterVec
	shutdowns      *prometheus.CounterVec

	fetchRequests *prometheus.CounterVec
	fetchDuration *prometheus.HistogramVec
	docsStored    *prometheus.CounterVec

	mu      sync.Mutex
	running map[string]struct{}
}

// NewPrometheusSink registers the collectors against reg, or the default
// registerer when reg is nil.
func NewPrometheusSink(reg prometheus.Registerer) (*PrometheusSink, error) {
	if reg == nil {
		reg = prometheus.DefaultRegisterer
	}
	s := &PrometheusSink{
		runsStarted: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "crawler_runs_started_total",
			Help: "Crawl runs that have started.",
		}),
		runsCompleted: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "crawler_runs_completed_total",
			Help: "Crawl runs that have finished.",
		}),
		runsRunning: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "crawler_runs_running",
			Help: "Crawl runs currently in progress.",
		}),
		runRuntime: prometheus.NewHistogram(prometheus.HistogramOpts{
			Name:    "crawler_run_runtime_seconds",
			Help:    "Wall time per completed crawl run.",
			Buckets: []float64{1, 10, 60, 300, 1800, 3600, 4 * 3600, 24 * 3600},
		}),
		hostsCompleted: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "crawler_hosts_completed_total",
			Help: "Host traversals finished, partitioned by result.",
		}, []string{"result"}),
		shutdowns: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "crawler_shutdowns_total",
			Help: "Stop requests observed, partitioned by reason.",
		}, []string{"reason"}),
		fetchRequests: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "crawler_fetch_requests_total",
			Help: "Page fetch completions partitioned by host and status class.",
		}, []string{"host", "status_class"}),
		fetchDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "crawler_fetch_duration_seconds",
			Help:    "Page fetch duration partitioned by host.",
			Buckets: []float64{0.05, 0.1, 0.5, 1, 2, 5, 10, 30},
		}, []string{"host"}),
		docsStored: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "crawler_documents_stored_total",
			Help: "Documents persisted partitioned by host.",
		}, []string{"host"}),
		running: make(map[string]struct{}),
	}
	for _, collector := range []prometheus.Collector{
		s.runsStarted,
		s.runsCompleted,
		s.runsRunning,
		s.runRuntime,
		s.hostsCompleted,
		s.shutdowns,
		s.fetchRequests,
		s.fetchDuration,
		s.docsStored,
	} {
		if err := reg.Register(collector); err != nil {
			return nil, fmt.Errorf("register progress collector: %w", err)
		}
	}
	return s, nil
}

// Consume updates the collectors from batch.
func (s *PrometheusSink) Consume(_ context.Context, batch []progress.Event) error {
	for _, evt := range batch {
		switch evt.Stage {
		case progress.StageRunStart:
			s.runsStarted.Inc()
			if s.track(evt.RunID.String(), true) {
				s.runsRunning.Inc()
			}
		case progress.StageRunDone:
			s.runsCompleted.Inc()
			if evt.Dur > 0 {
				s.runRuntime.Observe(evt.Dur.Seconds())
			}
			if s.track(evt.RunID.String(), false) {
				s.runsRunning.Dec()
			}
		case progress.StageHostDone:
			s.hostsCompleted.WithLabelValues("done").Inc()
		case progress.StageHostError:
			s.hostsCompleted.WithLabelValues("error").Inc()
		case progress.StageShutdown:
			reason := evt.Note
			if reason == "" {
				reason = "unknown"
			}
			s.shutdowns.WithLabelValues(reason).Inc()
		case progress.StageFetchDone:
			s.fetchRequests.WithLabelValues(evt.Host, string(evt.StatusClass)).Inc()
			if evt.Dur > 0 {
				s.fetchDuration.WithLabelValues(evt.Host).Observe(evt.Dur.Seconds())
			}
		case progress.StageDocStored:
			s.docsStored.WithLabelValues(evt.Host).Inc()
		}
	}
	return nil
}

// track records a run as started or finished and reports whether the running
// set changed.
func (s *PrometheusSink) track(id string, start bool) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	_, ok := s.running[id]
	if start {
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
