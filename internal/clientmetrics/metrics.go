// Package clientmetrics exposes live probe counters in Prometheus format so a
// long load test can be watched from a dashboard while it runs.
package clientmetrics

import (
	"context"
	"errors"
	"net"
	"net/http"
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/torosent/runnerprobe/internal/tracker"
)

const namespace = "runnerprobe"

// Metrics holds the probe's collectors on a private registry.
type Metrics struct {
	registry *prometheus.Registry

	calls       *prometheus.CounterVec
	callLatency *prometheus.HistogramVec
	jobs        *prometheus.GaugeVec
	queueTime   prometheus.Histogram
	execTime    prometheus.Histogram
	quota       prometheus.Gauge
}

// New registers every collector, labelled with the test run id.
func New(runID string) *Metrics {
	constLabels := prometheus.Labels{"run_id": runID}
	m := &Metrics{
		registry: prometheus.NewRegistry(),
		calls: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace:   namespace,
			Name:        "api_calls_total",
			Help:        "API call attempts by call name and response code",
			ConstLabels: constLabels,
		}, []string{"call", "code"}),
		callLatency: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace:   namespace,
			Name:        "api_call_duration_seconds",
			Help:        "Latency of API call attempts",
			ConstLabels: constLabels,
			Buckets:     prometheus.ExponentialBuckets(0.01, 2, 12),
		}, []string{"call"}),
		jobs: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Namespace:   namespace,
			Name:        "jobs",
			Help:        "Tracked jobs by state",
			ConstLabels: constLabels,
		}, []string{"state"}),
		queueTime: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace:   namespace,
			Name:        "queue_time_seconds",
			Help:        "Time from run creation until a runner picked it up",
			ConstLabels: constLabels,
			Buckets:     prometheus.ExponentialBuckets(1, 2, 12),
		}),
		execTime: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace:   namespace,
			Name:        "execution_time_seconds",
			Help:        "Time a run held its runner",
			ConstLabels: constLabels,
			Buckets:     prometheus.ExponentialBuckets(1, 2, 12),
		}),
		quota: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace:   namespace,
			Name:        "rate_limit_remaining",
			Help:        "Remaining API quota reported by the service, -1 when unknown",
			ConstLabels: constLabels,
		}),
	}
	m.quota.Set(-1)
	m.registry.MustRegister(m.calls, m.callLatency, m.jobs, m.queueTime, m.execTime, m.quota)
	return m
}

// ObserveCall records one API attempt. It satisfies the httpclient Observer interface.
func (m *Metrics) ObserveCall(name string, status int, latency time.Duration, _ error) {
	code := "transport"
	if status > 0 {
		code = strconv.Itoa(status)
	}
	m.calls.WithLabelValues(name, code).Inc()
	m.callLatency.WithLabelValues(name).Observe(latency.Seconds())
}

// SetJobCounts publishes the current table tallies.
func (m *Metrics) SetJobCounts(c tracker.Counts) {
	m.jobs.WithLabelValues(string(tracker.StatePending)).Set(float64(c.Pending))
	m.jobs.WithLabelValues(string(tracker.StateQueued)).Set(float64(c.Queued))
	m.jobs.WithLabelValues(string(tracker.StateRunning)).Set(float64(c.Running))
	m.jobs.WithLabelValues(string(tracker.StateCompleted)).Set(float64(c.Completed))
	m.jobs.WithLabelValues(string(tracker.StateFailed)).Set(float64(c.Failed))
	m.jobs.WithLabelValues(string(tracker.StateTimedOut)).Set(float64(c.TimedOut))
}

// ObserveJob records the durations of a finished job, once each.
func (m *Metrics) ObserveJob(job tracker.Job) {
	if job.QueueKnown {
		m.queueTime.Observe(job.QueueDuration.Seconds())
	}
	if job.ExecKnown {
		m.execTime.Observe(job.ExecDuration.Seconds())
	}
}

// SetQuota publishes the remaining API quota.
func (m *Metrics) SetQuota(remaining int) {
	m.quota.Set(float64(remaining))
}

// Registry returns the private registry.
func (m *Metrics) Registry() *prometheus.Registry {
	return m.registry
}

// Handler serves the registry in the Prometheus exposition format.
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}

// Serve exposes /metrics on addr until ctx ends. The returned address is the
// one actually bound, which matters when addr uses port 0.
func (m *Metrics) Serve(ctx context.Context, addr string) (string, <-chan error, error) {
	ln, err := net.Listen("tcp", addr)
	if err != nil {
		return "", nil, err
	}
	mux := http.NewServeMux()
	mux.Handle("/metrics", m.Handler())
	srv := &http.Server{Handler: mux, ReadHeaderTimeout: 5 * time.Second}

	done := make(chan error, 1)
	go func() {
		err := srv.Serve(ln)
		if errors.Is(err, http.ErrServerClosed) {
			err = nil
		}
		done <- err
	}()
	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = srv.Shutdown(shutdownCtx)
	}()
	return ln.Addr().String(), done, nil
}
