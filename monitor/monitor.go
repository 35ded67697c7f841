// Package monitor keeps a bounded history of completed request outcomes and
// computes windowed statistics over it. The history is a fixed-capacity
// ring, the oldest record is evicted first. Alongside the ring, running
// totals of requests and errors are kept per handler and globally, these
// are not bounded by the window.
package monitor

import (
	"sync"
	"time"
)

const DefaultWindowSize = 1000

// Record is one completed request outcome. Read-only after creation.
type Record struct {
	Timestamp  time.Time
	Duration   time.Duration
	StatusCode int
	Handler    string
}

// Stats is the aggregate over the retained records, optionally filtered by
// handler. Durations are reported in seconds.
type Stats struct {
	Handler           string  `json:"handler_id,omitempty"`
	TotalRequests     int     `json:"total_requests"`
	AvgDuration       float64 `json:"avg_duration"`
	MinDuration       float64 `json:"min_duration"`
	MaxDuration       float64 `json:"max_duration"`
	RequestsPerMinute int     `json:"requests_per_minute"`
	ErrorRate         float64 `json:"error_rate"`
}

// Monitor is safe for concurrent use. Its lock is never held across any
// blocking operation.
type Monitor struct {
	mu       sync.Mutex
	window   []Record
	next     int
	filled   bool
	requests map[string]int
	errors   map[string]int
	total    int
	failed   int
}

// New creates a monitor retaining the windowSize most recent records.
// A non-positive windowSize selects the default of 1000.
func New(windowSize int) *Monitor {
	if windowSize <= 0 {
		windowSize = DefaultWindowSize
	}

	return &Monitor{
		window:   make([]Record, windowSize),
		requests: make(map[string]int),
		errors:   make(map[string]int),
	}
}

// Record appends one outcome. Status codes of 400 and above count as
// errors.
func (m *Monitor) Record(handler string, duration time.Duration, statusCode int) {
	m.recordAt(time.Now(), handler, duration, statusCode)
}

func (m *Monitor) recordAt(ts time.Time, handler string, duration time.Duration, statusCode int) {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.window[m.next] = Record{
		Timestamp:  ts,
		Duration:   duration,
		StatusCode: statusCode,
		Handler:    handler,
	}

	m.next++
	if m.next == len(m.window) {
		m.next = 0
		m.filled = true
	}

	m.requests[handler]++
	m.total++

	if statusCode >= 400 {
		m.errors[handler]++
		m.failed++
	}
}

// Stats aggregates the retained records, filtered by handler when handler
// is not empty. The second return value is false when there is no data for
// the requested scope.
func (m *Monitor) Stats(handler string) (Stats, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()

	size := m.next
	if m.filled {
		size = len(m.window)
	}

	var (
		count    int
		errors   int
		recent   int
		sum      time.Duration
		min, max time.Duration
	)

	cutoff := time.Now().Add(-time.Minute)
	for i := range size {
		r := &m.window[i]
		if handler != "" && r.Handler != handler {
			continue
		}

		if count == 0 || r.Duration < min {
			min = r.Duration
		}

		if r.Duration > max {
			max = r.Duration
		}

		count++
		sum += r.Duration

		if r.StatusCode >= 400 {
			errors++
		}

		if r.Timestamp.After(cutoff) {
			recent++
		}
	}

	if count == 0 {
		return Stats{Handler: handler}, false
	}

	return Stats{
		Handler:           handler,
		TotalRequests:     count,
		AvgDuration:       sum.Seconds() / float64(count),
		MinDuration:       min.Seconds(),
		MaxDuration:       max.Seconds(),
		RequestsPerMinute: recent,
		ErrorRate:         float64(errors) / float64(count) * 100,
	}, true
}

// Counts returns the running request and error totals for a handler, or the
// global totals when handler is empty. Unlike Stats, these are not bounded
// by the retention window.
func (m *Monitor) Counts(handler string) (requests, errors int) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if handler == "" {
		return m.total, m.failed
	}

	return m.requests[handler], m.errors[handler]
}
