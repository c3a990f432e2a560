// Package threshold parses breaking-point assertions such as
// "queue_time:p95 < 300" and checks them against a finished run.
package threshold

import (
	"errors"
	"fmt"
	"math"
	"regexp"
	"slices"
	"strconv"
	"strings"

	"github.com/torosent/runnerprobe/internal/metrics"
)

// Threshold is one parsed assertion. Durations are compared in seconds and
// rates in percent, except api_calls:rate which is calls per second.
type Threshold struct {
	Metric    string
	Aggregate string
	Operator  string
	Value     float64
	Raw       string
}

// Result is the outcome of checking one Threshold.
type Result struct {
	Threshold Threshold
	Actual    float64
	Pass      bool
	Message   string
}

const equalityTolerance = 1e-9

var (
	expression = regexp.MustCompile(`^([a-z_]+)(?::([a-z0-9]+))?\s*([<>=!]+)\s*(\S+)$`)
	operators  = []string{"<", "<=", ">", ">=", "=="}

	summaryAggregates = []string{"p95", "p50", "median", "avg", "mean", "min", "max", "stdev", "count"}

	// aggregates per metric; the first one applies when none is given.
	aggregates = map[string][]string{
		"queue_time":     summaryAggregates,
		"execution_time": summaryAggregates,
		"total_time":     summaryAggregates,
		"failure_rate":   {"rate"},
		"concurrency":    {"max", "avg"},
		"unmatched":      {"count", "rate"},
		"api_calls":      {"count", "failures", "rate"},
	}
)

// Parse reads "metric[:aggregate] operator value".
func Parse(s string) (Threshold, error) {
	raw := strings.TrimSpace(s)
	if raw == "" {
		return Threshold{}, errors.New("empty threshold")
	}
	m := expression.FindStringSubmatch(raw)
	if m == nil {
		return Threshold{}, fmt.Errorf("cannot parse %q: want metric[:aggregate] operator value, e.g. 'queue_time:p95 < 300'", raw)
	}
	th := Threshold{Metric: m[1], Aggregate: m[2], Operator: m[3], Raw: raw}

	allowed, ok := aggregates[th.Metric]
	if !ok {
		return Threshold{}, fmt.Errorf("unknown metric %q (known: %s)", th.Metric, strings.Join(metricNames(), ", "))
	}
	if th.Aggregate == "" {
		th.Aggregate = allowed[0]
	} else if !slices.Contains(allowed, th.Aggregate) {
		return Threshold{}, fmt.Errorf("%s does not support aggregate %q (use %s)", th.Metric, th.Aggregate, strings.Join(allowed, ", "))
	}
	if !slices.Contains(operators, th.Operator) {
		return Threshold{}, fmt.Errorf("unknown operator %q (use %s)", th.Operator, strings.Join(operators, " "))
	}
	v, err := strconv.ParseFloat(m[4], 64)
	if err != nil {
		return Threshold{}, fmt.Errorf("threshold value %q is not a number", m[4])
	}
	th.Value = v
	return th, nil
}

// ParseMultiple parses every entry and reports all failures together.
func ParseMultiple(exprs []string) ([]Threshold, error) {
	if len(exprs) == 0 {
		return nil, nil
	}
	out := make([]Threshold, 0, len(exprs))
	var errs []error
	for i, s := range exprs {
		th, err := Parse(s)
		if err != nil {
			errs = append(errs, fmt.Errorf("threshold[%d]: %w", i, err))
			continue
		}
		out = append(out, th)
	}
	if err := errors.Join(errs...); err != nil {
		return nil, err
	}
	return out, nil
}

func metricNames() []string {
	names := make([]string, 0, len(aggregates))
	for name := range aggregates {
		names = append(names, name)
	}
	slices.Sort(names)
	return names
}

// Evaluator checks a fixed set of thresholds.
type Evaluator struct {
	thresholds []Threshold
}

// NewEvaluator returns an Evaluator for thresholds.
func NewEvaluator(thresholds []Threshold) *Evaluator {
	return &Evaluator{thresholds: thresholds}
}

// Evaluate returns one Result per threshold, in order. A metric without
// samples fails its threshold.
func (e *Evaluator) Evaluate(m *metrics.TestMetrics) []Result {
	if m == nil || len(e.thresholds) == 0 {
		return nil
	}
	results := make([]Result, len(e.thresholds))
	for i, th := range e.thresholds {
		results[i] = check(th, m)
	}
	return results
}

// AllPassed reports whether no result failed.
func AllPassed(results []Result) bool {
	return Failures(results) == 0
}

// Failures counts failed results.
func Failures(results []Result) int {
	n := 0
	for _, r := range results {
		if !r.Pass {
			n++
		}
	}
	return n
}

func check(th Threshold, m *metrics.TestMetrics) Result {
	r := Result{Threshold: th}
	actual, err := measure(m, th)
	if err != nil {
		r.Message = fmt.Sprintf("✗ %s: %v", th.Raw, err)
		return r
	}
	r.Actual = actual
	r.Pass = holds(th.Operator, actual, th.Value)
	mark := "✓"
	if !r.Pass {
		mark = "✗"
	}
	r.Message = fmt.Sprintf("%s %s: %.2f %s %.2f", mark, th.Raw, actual, th.Operator, th.Value)
	return r
}

// measure extracts the value a threshold is compared against.
func measure(m *metrics.TestMetrics, th Threshold) (float64, error) {
	switch th.Metric {
	case "queue_time":
		return fromSummary(m.Queue, th.Aggregate)
	case "execution_time":
		return fromSummary(m.Execution, th.Aggregate)
	case "total_time":
		return fromSummary(m.Total, th.Aggregate)
	case "failure_rate":
		return m.FailureRate, nil
	case "concurrency":
		peak, mean, _ := m.Concurrency.Authoritative()
		if th.Aggregate == "max" {
			return float64(peak), nil
		}
		return mean, nil
	case "unmatched":
		if th.Aggregate == "count" {
			return float64(m.Counts.Unmatched), nil
		}
		return percent(m.Counts.Unmatched, m.Counts.Dispatched), nil
	case "api_calls":
		switch th.Aggregate {
		case "count":
			return float64(m.API.Total), nil
		case "failures":
			return float64(m.API.Failures), nil
		}
		return m.API.RequestsPerSec, nil
	}
	return 0, fmt.Errorf("unknown metric %q", th.Metric)
}

func fromSummary(s metrics.Summary, aggregate string) (float64, error) {
	if aggregate == "count" {
		return float64(s.Count), nil
	}
	if s.Count == 0 {
		return 0, errors.New("no samples")
	}
	switch aggregate {
	case "p95":
		return s.P95, nil
	case "p50", "median":
		return s.Median, nil
	case "avg", "mean":
		return s.Mean, nil
	case "min":
		return s.Min, nil
	case "max":
		return s.Max, nil
	case "stdev":
		return s.Stdev, nil
	}
	return 0, fmt.Errorf("unknown aggregate %q", aggregate)
}

func percent(part, whole int) float64 {
	if whole == 0 {
		return 0
	}
	return float64(part) / float64(whole) * 100
}

// holds applies op with a small tolerance on equality.
func holds(op string, actual, want float64) bool {
	equal := math.Abs(actual-want) < equalityTolerance
	switch op {
	case "<":
		return actual < want && !equal
	case "<=":
		return actual < want || equal
	case ">":
		return actual > want && !equal
	case ">=":
		return actual > want || equal
	case "==":
		return equal
	}
	return false
}
