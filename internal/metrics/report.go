package metrics

import (
	"sort"
	"time"

	"github.com/torosent/runnerprobe/internal/snapshot"
	"github.com/torosent/runnerprobe/internal/tracker"
)

const defaultTimelineStep = 30 * time.Second

// Counts is the end-of-run accounting of every submission.
type Counts struct {
	Dispatched     int `json:"dispatched" yaml:"dispatched"`
	SubmitFailures int `json:"submit_failures" yaml:"submit_failures"`
	Matched        int `json:"matched" yaml:"matched"`
	Completed      int `json:"completed" yaml:"completed"`
	Failed         int `json:"failed" yaml:"failed"`
	TimedOut       int `json:"timed_out" yaml:"timed_out"`
	Unmatched      int `json:"unmatched" yaml:"unmatched"`
	Incomplete     int `json:"incomplete" yaml:"incomplete"`
}

// RunnerUsage is how much work one runner took.
type RunnerUsage struct {
	Name        string  `json:"name" yaml:"name"`
	Jobs        int     `json:"jobs" yaml:"jobs"`
	BusySeconds float64 `json:"busy_seconds" yaml:"busy_seconds"`
}

// Capacity is the throughput the pool could sustain at the observed mean
// execution time.
type Capacity struct {
	PerRunnerPerHour float64 `json:"per_runner_per_hour" yaml:"per_runner_per_hour"`
	PoolPerHour      float64 `json:"pool_per_hour" yaml:"pool_per_hour"`
}

// TestMetrics is the complete result of one load test.
type TestMetrics struct {
	RunID           string    `json:"run_id" yaml:"run_id"`
	Profile         string    `json:"profile" yaml:"profile"`
	Pattern         string    `json:"pattern,omitempty" yaml:"pattern,omitempty"`
	StartedAt       time.Time `json:"started_at" yaml:"started_at"`
	EndedAt         time.Time `json:"ended_at" yaml:"ended_at"`
	DurationSeconds float64   `json:"duration_seconds" yaml:"duration_seconds"`
	RunnerCount     int       `json:"runner_count" yaml:"runner_count"`
	Strategy        string    `json:"correlation,omitempty" yaml:"correlation,omitempty"`

	Counts      Counts  `json:"counts" yaml:"counts"`
	FailureRate float64 `json:"failure_rate" yaml:"failure_rate"`

	QueueTimes []float64 `json:"queue_times" yaml:"queue_times"`
	ExecTimes  []float64 `json:"execution_times" yaml:"execution_times"`
	TotalTimes []float64 `json:"total_times" yaml:"total_times"`
	Queue      Summary   `json:"queue" yaml:"queue"`
	Execution  Summary   `json:"execution" yaml:"execution"`
	Total      Summary   `json:"total" yaml:"total"`
	QueueTrend Trend     `json:"queue_trend" yaml:"queue_trend"`

	Concurrency Concurrency     `json:"concurrency" yaml:"concurrency"`
	Timeline    []TimelinePoint `json:"timeline,omitempty" yaml:"timeline,omitempty"`
	Runners     []RunnerUsage   `json:"runners,omitempty" yaml:"runners,omitempty"`
	Capacity    Capacity        `json:"capacity" yaml:"capacity"`
	API         APIStats        `json:"api" yaml:"api"`
}

// Input is everything Build needs.
type Input struct {
	RunID          string
	Profile        string
	Pattern        string
	Strategy       string
	StartedAt      time.Time
	EndedAt        time.Time
	RunnerCount    int
	Dispatched     int
	SubmitFailures int
	Jobs           []tracker.Job
	Snapshots      []snapshot.Snapshot
	API            APIStats
	TimelineStep   time.Duration
}

// Build derives TestMetrics. Unmatched jobs are counted but contribute to no
// series.
func Build(in Input) *TestMetrics {
	m := &TestMetrics{
		RunID:       in.RunID,
		Profile:     in.Profile,
		Pattern:     in.Pattern,
		Strategy:    in.Strategy,
		StartedAt:   in.StartedAt,
		EndedAt:     in.EndedAt,
		RunnerCount: in.RunnerCount,
		API:         in.API,
		QueueTimes:  []float64{},
		ExecTimes:   []float64{},
		TotalTimes:  []float64{},
	}
	if !in.EndedAt.IsZero() && in.EndedAt.After(in.StartedAt) {
		m.DurationSeconds = in.EndedAt.Sub(in.StartedAt).Seconds()
	}
	m.Counts.Dispatched = in.Dispatched
	m.Counts.SubmitFailures = in.SubmitFailures

	var intervals []Interval
	usage := make(map[string]*RunnerUsage)
	for _, job := range in.Jobs {
		if !job.Matched() {
			m.Counts.Unmatched++
			continue
		}
		m.Counts.Matched++
		switch job.State {
		case tracker.StateCompleted:
			m.Counts.Completed++
		case tracker.StateFailed:
			m.Counts.Failed++
		case tracker.StateTimedOut:
			m.Counts.TimedOut++
		default:
			m.Counts.Incomplete++
		}

		if job.QueueKnown {
			m.QueueTimes = append(m.QueueTimes, job.QueueDuration.Seconds())
		}
		if job.ExecKnown {
			m.ExecTimes = append(m.ExecTimes, job.ExecDuration.Seconds())
			intervals = append(intervals, Interval{Start: job.StartedAt, End: job.CompletedAt})
		}
		if total, ok := job.TotalDuration(); ok {
			m.TotalTimes = append(m.TotalTimes, total.Seconds())
		}
		if job.RunnerName != "" {
			u, ok := usage[job.RunnerName]
			if !ok {
				u = &RunnerUsage{Name: job.RunnerName}
				usage[job.RunnerName] = u
			}
			u.Jobs++
			if job.ExecKnown {
				u.BusySeconds += job.ExecDuration.Seconds()
			}
		}
	}

	finished := m.Counts.Completed + m.Counts.Failed + m.Counts.TimedOut
	if finished > 0 {
		m.FailureRate = float64(m.Counts.Failed+m.Counts.TimedOut) / float64(finished) * 100
	}

	m.Queue = Summarize(m.QueueTimes)
	m.Execution = Summarize(m.ExecTimes)
	m.Total = Summarize(m.TotalTimes)
	m.QueueTrend = ClassifyTrend(m.QueueTimes)

	m.Concurrency = Concurrency{
		Sweep:    SweepConcurrency(intervals),
		Snapshot: SnapshotConcurrency(in.Snapshots, in.RunnerCount),
	}
	step := in.TimelineStep
	if step <= 0 {
		step = defaultTimelineStep
	}
	m.Timeline = Timeline(intervals, step)

	for _, u := range usage {
		m.Runners = append(m.Runners, *u)
	}
	sort.Slice(m.Runners, func(i, j int) bool {
		if m.Runners[i].Jobs == m.Runners[j].Jobs {
			return m.Runners[i].Name < m.Runners[j].Name
		}
		return m.Runners[i].Jobs > m.Runners[j].Jobs
	})

	if m.Execution.Mean > 0 {
		m.Capacity.PerRunnerPerHour = 3600 / m.Execution.Mean
		m.Capacity.PoolPerHour = m.Capacity.PerRunnerPerHour * float64(in.RunnerCount)
	}
	return m
}
