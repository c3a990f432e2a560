package output

import (
	"bytes"
	"encoding/json"
	"strings"
	"testing"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/torosent/runnerprobe/internal/history"
	"github.com/torosent/runnerprobe/internal/metrics"
	"github.com/torosent/runnerprobe/internal/threshold"
)

func sampleResult() *metrics.TestMetrics {
	start := time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC)
	return &metrics.TestMetrics{
		RunID:           "spike_20240501_120000_abcd1234",
		Profile:         "spike",
		Pattern:         "spike",
		StartedAt:       start,
		EndedAt:         start.Add(10 * time.Minute),
		DurationSeconds: 600,
		RunnerCount:     2,
		Strategy:        "tag",
		Counts:          metrics.Counts{Dispatched: 12, SubmitFailures: 1, Matched: 11, Completed: 10, Failed: 1, Unmatched: 1},
		FailureRate:     9.09,
		QueueTimes:      []float64{1, 2, 3},
		Queue:           metrics.Summary{Count: 3, Min: 1, Max: 3, Mean: 2, Median: 2, P95: 3, Stdev: 1},
		QueueTrend:      metrics.TrendLinearGrowth,
		Concurrency: metrics.Concurrency{
			Sweep: metrics.SweepResult{Jobs: 11, Max: 2, Average: 1.5},
		},
		Timeline: []metrics.TimelinePoint{{OffsetSeconds: 0, Active: 1}, {OffsetSeconds: 30, Active: 2}},
		Runners:  []metrics.RunnerUsage{{Name: "runner-a", Jobs: 6, BusySeconds: 180}},
		Capacity: metrics.Capacity{PerRunnerPerHour: 120, PoolPerHour: 240},
		API: metrics.APIStats{
			Total:    40,
			Failures: 2,
			Calls:    []metrics.CallStats{{Name: "dispatch", Total: 13, Failures: 1, P95LatencyMs: 120}},
			Statuses: []metrics.StatusBucket{{Call: "dispatch", Code: "502", Count: 1}},
		},
	}
}

func TestPrintReport(t *testing.T) {
	var buf bytes.Buffer
	PrintReport(&buf, sampleResult())

	output := buf.String()
	for _, want := range []string{
		"spike_20240501_120000_abcd1234",
		"Unmatched:       1",
		"Failure rate:    9.1%",
		"p95=3.0",
		"Execution:       n/a",
		"Max:             2 (sweep)",
		"runner-a: jobs=6",
		"Pool/hour:       240.0",
		"dispatch 502: 1",
	} {
		if !strings.Contains(output, want) {
			t.Errorf("expected %q in output:\n%s", want, output)
		}
	}
}

func TestPrintJSONReport(t *testing.T) {
	var buf bytes.Buffer
	if err := PrintJSONReport(&buf, sampleResult()); err != nil {
		t.Fatalf("PrintJSONReport failed: %v", err)
	}
	var decoded map[string]any
	if err := json.Unmarshal(buf.Bytes(), &decoded); err != nil {
		t.Fatalf("invalid JSON: %v", err)
	}
	if decoded["run_id"] != "spike_20240501_120000_abcd1234" {
		t.Errorf("run_id = %v", decoded["run_id"])
	}
	if _, ok := decoded["queue_trend"]; !ok {
		t.Error("expected queue_trend in JSON output")
	}
}

func TestWriteYAMLReport(t *testing.T) {
	var buf bytes.Buffer
	if err := WriteYAMLReport(&buf, sampleResult()); err != nil {
		t.Fatalf("WriteYAMLReport failed: %v", err)
	}
	var decoded struct {
		RunID  string         `yaml:"run_id"`
		Counts metrics.Counts `yaml:"counts"`
	}
	if err := yaml.Unmarshal(buf.Bytes(), &decoded); err != nil {
		t.Fatalf("invalid YAML: %v", err)
	}
	if decoded.RunID != "spike_20240501_120000_abcd1234" || decoded.Counts.Unmatched != 1 {
		t.Errorf("decoded = %+v", decoded)
	}
}

func TestPrintThresholdResults(t *testing.T) {
	ths, err := threshold.ParseMultiple([]string{"queue_time:p95 < 5", "failure_rate < 5"})
	if err != nil {
		t.Fatal(err)
	}
	results := threshold.NewEvaluator(ths).Evaluate(sampleResult())

	var buf bytes.Buffer
	PrintThresholdResults(&buf, results)
	if !strings.Contains(buf.String(), "1 of 2 thresholds failed") {
		t.Errorf("unexpected output:\n%s", buf.String())
	}

	buf.Reset()
	PrintThresholdResults(&buf, nil)
	if buf.Len() != 0 {
		t.Errorf("expected no output for no thresholds, got %q", buf.String())
	}
}

func TestPrintHistory(t *testing.T) {
	var buf bytes.Buffer
	PrintHistory(&buf, nil)
	if !strings.Contains(buf.String(), "No recorded runs") {
		t.Errorf("unexpected output %q", buf.String())
	}

	buf.Reset()
	PrintHistory(&buf, []history.Entry{history.EntryOf(sampleResult())})
	output := buf.String()
	if !strings.Contains(output, "RUN ID") || !strings.Contains(output, "spike_20240501_120000_abcd1234") {
		t.Errorf("unexpected output:\n%s", output)
	}
	if !strings.Contains(output, "2024-05-01 12:00:00") {
		t.Errorf("expected start time in output:\n%s", output)
	}
}
