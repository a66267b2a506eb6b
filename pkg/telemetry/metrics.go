package telemetry

import (
	"sort"
	"sync"
	"sync/atomic"
	"time"

	"github.com/goccy/go-json"
)

const maxLatencySamples = 1000

// Metrics aggregates counters across the runs of one export.
type Metrics struct {
	Documents  atomic.Int64
	Events     atomic.Int64
	BytesRead  atomic.Int64
	RunsClosed atomic.Int64
	RunsFailed atomic.Int64
	Errors     atomic.Int64

	mu        sync.Mutex
	latencies []time.Duration
	started   time.Time
}

// NewMetrics creates a collector; the clock starts now.
func NewMetrics() *Metrics {
	return &Metrics{
		latencies: make([]time.Duration, 0, maxLatencySamples),
		started:   time.Now(),
	}
}

// RecordLatency records the time spent on one input.
func (m *Metrics) RecordLatency(d time.Duration) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if len(m.latencies) >= maxLatencySamples {
		m.latencies = m.latencies[1:]
	}
	m.latencies = append(m.latencies, d)
}

// Percentile returns the p-th percentile of recorded latencies.
func (m *Metrics) Percentile(p float64) time.Duration {
	m.mu.Lock()
	sorted := append([]time.Duration(nil), m.latencies...)
	m.mu.Unlock()

	if len(sorted) == 0 {
		return 0
	}
	sort.Slice(sorted, func(i, j int) bool { return sorted[i] < sorted[j] })
	idx := int(float64(len(sorted)) * p)
	if idx >= len(sorted) {
		idx = len(sorted) - 1
	}
	return sorted[idx]
}

// Summary returns a snapshot of the collected metrics.
func (m *Metrics) Summary() Summary {
	elapsed := time.Since(m.started)
	s := Summary{
		Documents:  m.Documents.Load(),
		Events:     m.Events.Load(),
		BytesRead:  m.BytesRead.Load(),
		RunsClosed: m.RunsClosed.Load(),
		RunsFailed: m.RunsFailed.Load(),
		Errors:     m.Errors.Load(),
		Elapsed:    elapsed,
		P50:        m.Percentile(0.50),
		P95:        m.Percentile(0.95),
	}
	if secs := elapsed.Seconds(); secs > 0 {
		s.DocsPerSecond = float64(s.Documents) / secs
	}
	return s
}

// Summary is a snapshot of Metrics.
type Summary struct {
	Documents     int64         `json:"documents"`
	Events        int64         `json:"events"`
	BytesRead     int64         `json:"bytes_read"`
	RunsClosed    int64         `json:"runs_closed"`
	RunsFailed    int64         `json:"runs_failed"`
	Errors        int64         `json:"errors"`
	Elapsed       time.Duration `json:"elapsed_ns"`
	DocsPerSecond float64       `json:"docs_per_second"`
	P50           time.Duration `json:"p50_input_ns"`
	P95           time.Duration `json:"p95_input_ns"`
}

// ToJSON serializes the summary.
func (s Summary) ToJSON() ([]byte, error) {
	return json.Marshal(s)
}
