package output

import (
	"encoding/json"
	"fmt"
	"io"
	"strings"

	"gopkg.in/yaml.v3"

	"github.com/torosent/runnerprobe/internal/history"
	"github.com/torosent/runnerprobe/internal/metrics"
	"github.com/torosent/runnerprobe/internal/threshold"
)

// PrintReport outputs a human-readable summary report.
func PrintReport(w io.Writer, m *metrics.TestMetrics) {
	fmt.Fprintln(w, "\n--- Load Test Results ---")
	fmt.Fprintf(w, "Run ID:            %s\n", m.RunID)
	fmt.Fprintf(w, "Profile:           %s", m.Profile)
	if m.Pattern != "" {
		fmt.Fprintf(w, " (%s)", m.Pattern)
	}
	fmt.Fprintln(w)
	fmt.Fprintf(w, "Duration:          %.1fs\n", m.DurationSeconds)
	fmt.Fprintf(w, "Runners:           %d\n", m.RunnerCount)
	if m.Strategy != "" {
		fmt.Fprintf(w, "Correlation:       %s\n", m.Strategy)
	}

	c := m.Counts
	fmt.Fprintln(w, "\nJobs:")
	fmt.Fprintf(w, "  Dispatched:      %d\n", c.Dispatched)
	fmt.Fprintf(w, "  Submit failures: %d\n", c.SubmitFailures)
	fmt.Fprintf(w, "  Matched:         %d\n", c.Matched)
	fmt.Fprintf(w, "  Completed:       %d\n", c.Completed)
	fmt.Fprintf(w, "  Failed:          %d\n", c.Failed)
	fmt.Fprintf(w, "  Timed out:       %d\n", c.TimedOut)
	fmt.Fprintf(w, "  Unmatched:       %d\n", c.Unmatched)
	if c.Incomplete > 0 {
		fmt.Fprintf(w, "  Incomplete:      %d\n", c.Incomplete)
	}
	fmt.Fprintf(w, "  Failure rate:    %.1f%%\n", m.FailureRate)

	fmt.Fprintln(w, "\nTimings (seconds):")
	writeSummary(w, "Queue", m.Queue)
	writeSummary(w, "Execution", m.Execution)
	writeSummary(w, "Total", m.Total)
	fmt.Fprintf(w, "  Queue trend:     %s\n", m.QueueTrend)

	maxC, avgC, source := m.Concurrency.Authoritative()
	fmt.Fprintln(w, "\nConcurrency:")
	fmt.Fprintf(w, "  Max:             %d (%s)\n", maxC, source)
	fmt.Fprintf(w, "  Average:         %.2f\n", avgC)
	if snap := m.Concurrency.Snapshot; snap.Samples > 0 {
		fmt.Fprintf(w, "  Snapshots:       %d (runs max %d, runners max %d)\n", snap.Samples, snap.Runs.Max, snap.Runners.Max)
		if len(snap.UniqueRunners) > 0 {
			fmt.Fprintf(w, "  Runners seen:    %s\n", strings.Join(snap.UniqueRunners, ", "))
		}
	}

	if len(m.Runners) > 0 {
		fmt.Fprintln(w, "\nRunner Usage:")
		for _, r := range m.Runners {
			fmt.Fprintf(w, "  - %s: jobs=%d, busy=%.1fs\n", r.Name, r.Jobs, r.BusySeconds)
		}
	}
	if m.Capacity.PerRunnerPerHour > 0 {
		fmt.Fprintln(w, "\nCapacity:")
		fmt.Fprintf(w, "  Per runner/hour: %.1f jobs\n", m.Capacity.PerRunnerPerHour)
		fmt.Fprintf(w, "  Pool/hour:       %.1f jobs\n", m.Capacity.PoolPerHour)
	}

	api := m.API
	fmt.Fprintln(w, "\nAPI Calls:")
	fmt.Fprintf(w, "  Total:           %d\n", api.Total)
	fmt.Fprintf(w, "  Failures:        %d\n", api.Failures)
	fmt.Fprintf(w, "  Calls/sec:       %.2f\n", api.RequestsPerSec)
	for _, call := range api.Calls {
		fmt.Fprintf(w, "  - %s: total=%d, failures=%d, p95=%.1fms\n", call.Name, call.Total, call.Failures, call.P95LatencyMs)
	}
	if len(api.Statuses) > 0 {
		fmt.Fprintln(w, "  Status Buckets:")
		for _, row := range api.Statuses {
			fmt.Fprintf(w, "    %s %s: %d\n", row.Call, row.Code, row.Count)
		}
	}
}

func writeSummary(w io.Writer, label string, s metrics.Summary) {
	if s.Count == 0 {
		fmt.Fprintf(w, "  %-16s n/a\n", label+":")
		return
	}
	fmt.Fprintf(w, "  %-16s n=%d min=%.1f mean=%.1f median=%.1f p95=%.1f max=%.1f stdev=%.1f\n",
		label+":", s.Count, s.Min, s.Mean, s.Median, s.P95, s.Max, s.Stdev)
}

// PrintJSONReport outputs a JSON-formatted report.
func PrintJSONReport(w io.Writer, m *metrics.TestMetrics) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(m)
}

// WriteYAMLReport outputs a YAML-formatted report.
func WriteYAMLReport(w io.Writer, m *metrics.TestMetrics) error {
	enc := yaml.NewEncoder(w)
	enc.SetIndent(2)
	if err := enc.Encode(m); err != nil {
		return err
	}
	return enc.Close()
}

// PrintThresholdResults lists each threshold outcome and a pass/fail line.
func PrintThresholdResults(w io.Writer, results []threshold.Result) {
	if len(results) == 0 {
		return
	}
	fmt.Fprintln(w, "\nThresholds:")
	for _, r := range results {
		fmt.Fprintf(w, "  %s\n", r.Message)
	}
	if failed := threshold.Failures(results); failed > 0 {
		fmt.Fprintf(w, "%d of %d thresholds failed\n", failed, len(results))
		return
	}
	fmt.Fprintf(w, "All %d thresholds passed\n", len(results))
}

// PrintHistory lists stored runs, newest first.
func PrintHistory(w io.Writer, entries []history.Entry) {
	if len(entries) == 0 {
		fmt.Fprintln(w, "No recorded runs")
		return
	}
	fmt.Fprintf(w, "%-40s %-20s %6s %6s %6s %6s %10s %10s %5s\n",
		"RUN ID", "STARTED", "SENT", "DONE", "FAIL", "UNMAT", "QUEUE P95", "EXEC MEAN", "CONC")
	for _, e := range entries {
		fmt.Fprintf(w, "%-40s %-20s %6d %6d %6d %6d %9.1fs %9.1fs %5d\n",
			e.RunID, e.StartedAt.Format("2006-01-02 15:04:05"), e.Dispatched, e.Completed,
			e.Failed, e.Unmatched, e.QueueP95, e.ExecMean, e.MaxConcurrency)
	}
}
