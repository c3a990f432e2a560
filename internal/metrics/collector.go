package metrics

import (
	"sort"
	"strconv"
	"sync"
	"time"

	"github.com/HdrHistogram/hdrhistogram-go"
)

// Collector records API call attempts in a thread-safe manner. It satisfies
// the httpclient Observer interface.
type Collector struct {
	mu    sync.Mutex
	calls map[string]*callRecorder
	start time.Time
}

type callRecorder struct {
	hist       *hdrhistogram.Histogram
	total      int64
	failures   int64
	minLatency time.Duration
	maxLatency time.Duration
	sumLatency time.Duration
	statuses   map[string]int
	errors     map[string]int64
}

// CallStats aggregates the attempts of one call name.
type CallStats struct {
	Name          string  `json:"name" yaml:"name"`
	Total         int64   `json:"total" yaml:"total"`
	Failures      int64   `json:"failures" yaml:"failures"`
	MinLatencyMs  float64 `json:"min_latency_ms" yaml:"min_latency_ms"`
	MeanLatencyMs float64 `json:"mean_latency_ms" yaml:"mean_latency_ms"`
	P50LatencyMs  float64 `json:"p50_latency_ms" yaml:"p50_latency_ms"`
	P95LatencyMs  float64 `json:"p95_latency_ms" yaml:"p95_latency_ms"`
	P99LatencyMs  float64 `json:"p99_latency_ms" yaml:"p99_latency_ms"`
	MaxLatencyMs  float64 `json:"max_latency_ms" yaml:"max_latency_ms"`
}

// APIStats represents aggregated API call metrics.
type APIStats struct {
	Total          int64          `json:"total" yaml:"total"`
	Failures       int64          `json:"failures" yaml:"failures"`
	RequestsPerSec float64        `json:"requests_per_sec" yaml:"requests_per_sec"`
	Calls          []CallStats    `json:"calls,omitempty" yaml:"calls,omitempty"`
	Statuses       []StatusBucket `json:"statuses,omitempty" yaml:"statuses,omitempty"`
	Errors         map[string]int `json:"errors,omitempty" yaml:"errors,omitempty"`
}

func NewCollector() *Collector {
	return &Collector{
		calls: make(map[string]*callRecorder),
		start: time.Now(),
	}
}

func newCallRecorder() *callRecorder {
	// Track latencies from 1µs up to 5m with 3 significant figures.
	return &callRecorder{
		hist:     hdrhistogram.New(1, 300_000_000, 3),
		statuses: make(map[string]int),
		errors:   make(map[string]int64),
	}
}

// ObserveCall records one attempt. status is 0 when no response arrived.
func (c *Collector) ObserveCall(name string, status int, latency time.Duration, err error) {
	if name == "" {
		name = "request"
	}
	c.mu.Lock()
	defer c.mu.Unlock()

	rec, ok := c.calls[name]
	if !ok {
		rec = newCallRecorder()
		c.calls[name] = rec
	}

	if latency > 0 {
		us := latency.Microseconds()
		if us < rec.hist.LowestTrackableValue() {
			us = rec.hist.LowestTrackableValue()
		}
		if us > rec.hist.HighestTrackableValue() {
			us = rec.hist.HighestTrackableValue()
		}
		_ = rec.hist.RecordValue(us)
	}
	rec.total++
	rec.sumLatency += latency
	if rec.minLatency == 0 || latency < rec.minLatency {
		rec.minLatency = latency
	}
	if latency > rec.maxLatency {
		rec.maxLatency = latency
	}

	code := "transport"
	if status > 0 {
		code = strconv.Itoa(status)
	}
	rec.statuses[code]++

	if err != nil {
		rec.failures++
		rec.errors[ErrorKind(err)]++
	}
}

// Stats computes and returns current aggregated statistics.
func (c *Collector) Stats(elapsed time.Duration) APIStats {
	c.mu.Lock()
	defer c.mu.Unlock()

	var stats APIStats
	buckets := make(map[string]map[string]int, len(c.calls))
	errs := make(map[string]int)

	names := make([]string, 0, len(c.calls))
	for name := range c.calls {
		names = append(names, name)
	}
	sort.Strings(names)

	for _, name := range names {
		rec := c.calls[name]
		call := CallStats{
			Name:         name,
			Total:        rec.total,
			Failures:     rec.failures,
			MinLatencyMs: millis(rec.minLatency),
			MaxLatencyMs: millis(rec.maxLatency),
		}
		if rec.total > 0 {
			call.MeanLatencyMs = millis(time.Duration(int64(rec.sumLatency) / rec.total))
		}
		if rec.hist.TotalCount() > 0 {
			call.P50LatencyMs = millis(time.Duration(rec.hist.ValueAtQuantile(50)) * time.Microsecond)
			call.P95LatencyMs = millis(time.Duration(rec.hist.ValueAtQuantile(95)) * time.Microsecond)
			call.P99LatencyMs = millis(time.Duration(rec.hist.ValueAtQuantile(99)) * time.Microsecond)
		}
		stats.Calls = append(stats.Calls, call)
		stats.Total += rec.total
		stats.Failures += rec.failures

		buckets[name] = make(map[string]int, len(rec.statuses))
		for code, n := range rec.statuses {
			buckets[name][code] = n
		}
		for label, n := range rec.errors {
			errs[label] += int(n)
		}
	}

	stats.Statuses = FlattenStatusBuckets(buckets)
	if len(errs) > 0 {
		stats.Errors = errs
	}
	if elapsed > 0 && stats.Total > 0 {
		stats.RequestsPerSec = float64(stats.Total) / elapsed.Seconds()
	}
	return stats
}

// Elapsed returns the time since the collector was created.
func (c *Collector) Elapsed() time.Duration {
	return time.Since(c.start)
}

func millis(d time.Duration) float64 {
	return float64(d) / float64(time.Millisecond)
}
