package metrics

import (
	"net/http"
	"sync/atomic"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Metrics holds all application metrics
type Metrics struct {
	// Producer counters
	FramesRead     atomic.Uint64
	FramesSampled  atomic.Uint64
	SourceErrors   atomic.Uint64
	DetectorErrors atomic.Uint64
	SamplesDropped atomic.Uint64
	SamplesCounted atomic.Uint64

	// Latest values
	RawCount         atomic.Int64
	StableCount      atomic.Int64
	DetectLatencyMs  atomic.Uint64
	LastSampleUnixMs atomic.Int64

	// Trigger counters
	Ticks         atomic.Uint64
	Commits       atomic.Uint64
	Announcements atomic.Uint64
	Silences      atomic.Uint64
	Suppressed    atomic.Uint64
	Replayed      atomic.Uint64

	// Sink errors
	ClipErrors    atomic.Uint64
	JournalErrors atomic.Uint64
	NotifyErrors  atomic.Uint64

	// Ingest clients
	ActiveClients atomic.Uint64
	TotalClients  atomic.Uint64

	// Prometheus collectors
	registry *prometheus.Registry
}

// Snapshot is a point-in-time copy of the counters for status reporting
type Snapshot struct {
	FramesRead      uint64 `json:"frames_read"`
	FramesSampled   uint64 `json:"frames_sampled"`
	SourceErrors    uint64 `json:"source_errors"`
	DetectorErrors  uint64 `json:"detector_errors"`
	SamplesDropped  uint64 `json:"samples_dropped"`
	SamplesCounted  uint64 `json:"samples_counted"`
	RawCount        int64  `json:"raw_count"`
	StableCount     int64  `json:"stable_count"`
	DetectLatencyMs uint64 `json:"detect_latency_ms"`
	Ticks           uint64 `json:"ticks"`
	Commits         uint64 `json:"commits"`
	Announcements   uint64 `json:"announcements"`
	Silences        uint64 `json:"silences"`
	Suppressed      uint64 `json:"suppressed"`
	Replayed        uint64 `json:"replayed"`
	ClipErrors      uint64 `json:"clip_errors"`
	ActiveClients   uint64 `json:"active_clients"`
}

// New creates a new Metrics instance with Prometheus collectors
func New() *Metrics {
	m := &Metrics{
		registry: prometheus.NewRegistry(),
	}

	m.registerPrometheusMetrics()

	return m
}

func (m *Metrics) counter(name, help string, v *atomic.Uint64) {
	m.registry.MustRegister(prometheus.NewCounterFunc(
		prometheus.CounterOpts{Name: name, Help: help},
		func() float64 { return float64(v.Load()) },
	))
}

// registerPrometheusMetrics registers all metrics with Prometheus
func (m *Metrics) registerPrometheusMetrics() {
	// Producer
	m.counter("people_counter_frames_read_total", "Total frames pulled from the frame source", &m.FramesRead)
	m.counter("people_counter_frames_sampled_total", "Total frames handed to the detector", &m.FramesSampled)
	m.counter("people_counter_source_errors_total", "Total frame source read errors", &m.SourceErrors)
	m.counter("people_counter_detector_errors_total", "Total detector failures", &m.DetectorErrors)
	m.counter("people_counter_samples_dropped_total", "Total sampled frames that produced no count", &m.SamplesDropped)
	m.counter("people_counter_samples_total", "Total counts fed into the smoothing filter", &m.SamplesCounted)

	m.registry.MustRegister(prometheus.NewGaugeFunc(
		prometheus.GaugeOpts{
			Name: "people_counter_raw_count",
			Help: "Person count of the latest processed frame",
		},
		func() float64 { return float64(m.RawCount.Load()) },
	))

	m.registry.MustRegister(prometheus.NewGaugeFunc(
		prometheus.GaugeOpts{
			Name: "people_counter_stable_count",
			Help: "Median filtered person count",
		},
		func() float64 { return float64(m.StableCount.Load()) },
	))

	m.registry.MustRegister(prometheus.NewGaugeFunc(
		prometheus.GaugeOpts{
			Name: "people_counter_detect_latency_ms",
			Help: "Latency of the latest detector call in milliseconds",
		},
		func() float64 { return float64(m.DetectLatencyMs.Load()) },
	))

	// Trigger
	m.counter("people_counter_ticks_total", "Total trigger evaluations", &m.Ticks)
	m.counter("people_counter_commits_total", "Total committed count changes", &m.Commits)
	m.counter("people_counter_announcements_total", "Total announce actions", &m.Announcements)
	m.counter("people_counter_silences_total", "Total silence actions", &m.Silences)
	m.counter("people_counter_suppressed_total", "Total commits blocked by the cooldown", &m.Suppressed)
	m.counter("people_counter_replayed_total", "Total actions replayed after the cooldown", &m.Replayed)

	// Sinks
	m.counter("people_counter_clip_errors_total", "Total clips that could not be played", &m.ClipErrors)
	m.counter("people_counter_journal_errors_total", "Total journal write failures", &m.JournalErrors)
	m.counter("people_counter_notify_errors_total", "Total MQTT publish failures", &m.NotifyErrors)

	// Ingest
	m.registry.MustRegister(prometheus.NewGaugeFunc(
		prometheus.GaugeOpts{
			Name: "people_counter_active_clients",
			Help: "Number of connected WebRTC camera clients",
		},
		func() float64 { return float64(m.ActiveClients.Load()) },
	))
	m.counter("people_counter_clients_total", "Total WebRTC camera clients connected", &m.TotalClients)
}

// UpdateDetectLatency records the duration of the latest detector call
func (m *Metrics) UpdateDetectLatency(d time.Duration) {
	m.DetectLatencyMs.Store(uint64(d.Milliseconds()))
}

// RecordSample stores the raw and stable count of a processed frame
func (m *Metrics) RecordSample(raw, stable int, at time.Time) {
	m.SamplesCounted.Add(1)
	m.RawCount.Store(int64(raw))
	m.StableCount.Store(int64(stable))
	m.LastSampleUnixMs.Store(at.UnixMilli())
}

// LastSample returns the time of the latest counted sample, zero if none
func (m *Metrics) LastSample() time.Time {
	ms := m.LastSampleUnixMs.Load()
	if ms == 0 {
		return time.Time{}
	}
	return time.UnixMilli(ms)
}

// Snapshot copies the current counter values
func (m *Metrics) Snapshot() Snapshot {
	return Snapshot{
		FramesRead:      m.FramesRead.Load(),
		FramesSampled:   m.FramesSampled.Load(),
		SourceErrors:    m.SourceErrors.Load(),
		DetectorErrors:  m.DetectorErrors.Load(),
		SamplesDropped:  m.SamplesDropped.Load(),
		SamplesCounted:  m.SamplesCounted.Load(),
		RawCount:        m.RawCount.Load(),
		StableCount:     m.StableCount.Load(),
		DetectLatencyMs: m.DetectLatencyMs.Load(),
		Ticks:           m.Ticks.Load(),
		Commits:         m.Commits.Load(),
		Announcements:   m.Announcements.Load(),
		Silences:        m.Silences.Load(),
		Suppressed:      m.Suppressed.Load(),
		Replayed:        m.Replayed.Load(),
		ClipErrors:      m.ClipErrors.Load(),
		ActiveClients:   m.ActiveClients.Load(),
	}
}

// Handler returns the Prometheus HTTP handler
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}

// Gatherer exposes the private registry
func (m *Metrics) Gatherer() prometheus.Gatherer {
	return m.registry
}
