package metrics

import (
	"sort"
	"time"

	"github.com/torosent/runnerprobe/internal/snapshot"
)

// Interval is the span during which one job held a runner.
type Interval struct {
	Start time.Time
	End   time.Time
}

// Event is a change in the number of running jobs.
type Event struct {
	At    time.Time
	Delta int
}

// SweepResult is concurrency reconstructed from job timestamps.
type SweepResult struct {
	Jobs    int     `json:"jobs" yaml:"jobs"`
	Max     int     `json:"max" yaml:"max"`
	Average float64 `json:"average" yaml:"average"`
	// BusySeconds is the total time at least one job was running.
	BusySeconds float64 `json:"busy_seconds" yaml:"busy_seconds"`
}

// events orders ends before starts at equal instants, so back-to-back jobs
// on one runner do not count as overlapping. Empty or inverted intervals are
// skipped.
func events(intervals []Interval) []Event {
	evs := make([]Event, 0, 2*len(intervals))
	for _, iv := range intervals {
		if !iv.End.After(iv.Start) {
			continue
		}
		evs = append(evs, Event{At: iv.Start, Delta: 1}, Event{At: iv.End, Delta: -1})
	}
	sort.Slice(evs, func(i, j int) bool {
		if evs[i].At.Equal(evs[j].At) {
			return evs[i].Delta < evs[j].Delta
		}
		return evs[i].At.Before(evs[j].At)
	})
	return evs
}

// SweepConcurrency returns the peak and the time-weighted average number of
// overlapping intervals. The average is taken over the time the count was
// above zero: sum(count*dt) / sum(dt where count > 0).
func SweepConcurrency(intervals []Interval) SweepResult {
	evs := events(intervals)
	res := SweepResult{Jobs: len(evs) / 2}
	if len(evs) == 0 {
		return res
	}

	var weighted, busy float64
	count := 0
	prev := evs[0].At
	for _, ev := range evs {
		if dt := ev.At.Sub(prev).Seconds(); dt > 0 && count > 0 {
			weighted += float64(count) * dt
			busy += dt
		}
		count += ev.Delta
		if count > res.Max {
			res.Max = count
		}
		prev = ev.At
	}
	res.BusySeconds = busy
	if busy > 0 {
		res.Average = weighted / busy
	}
	return res
}

// SeriesStats is max/mean/min over per-snapshot counts.
type SeriesStats struct {
	Max  int     `json:"max" yaml:"max"`
	Mean float64 `json:"mean" yaml:"mean"`
	Min  int     `json:"min" yaml:"min"`
}

func seriesStats(counts []int) SeriesStats {
	if len(counts) == 0 {
		return SeriesStats{}
	}
	s := SeriesStats{Max: counts[0], Min: counts[0]}
	sum := 0
	for _, c := range counts {
		sum += c
		if c > s.Max {
			s.Max = c
		}
		if c < s.Min {
			s.Min = c
		}
	}
	s.Mean = float64(sum) / float64(len(counts))
	return s
}

// SnapshotResult is concurrency observed directly in polled snapshots.
type SnapshotResult struct {
	Samples       int         `json:"samples" yaml:"samples"`
	Runs          SeriesStats `json:"runs" yaml:"runs"`
	Jobs          SeriesStats `json:"jobs" yaml:"jobs"`
	Runners       SeriesStats `json:"runners" yaml:"runners"`
	UniqueRunners []string    `json:"unique_runners,omitempty" yaml:"unique_runners,omitempty"`
	// Utilization is active runners over the pool size per snapshot, capped at 1.
	Utilization []float64 `json:"utilization,omitempty" yaml:"utilization,omitempty"`
}

// SnapshotConcurrency reduces snapshots to per-series statistics.
// runnerCount sizes the utilization series; zero omits it.
func SnapshotConcurrency(snaps []snapshot.Snapshot, runnerCount int) SnapshotResult {
	res := SnapshotResult{Samples: len(snaps)}
	if len(snaps) == 0 {
		return res
	}
	runs := make([]int, len(snaps))
	jobs := make([]int, len(snaps))
	runners := make([]int, len(snaps))
	seen := make(map[string]struct{})
	for i, snap := range snaps {
		runs[i] = snap.ActiveRuns()
		jobs[i] = snap.ActiveJobs()
		names := snap.ActiveRunners()
		runners[i] = len(names)
		for _, name := range names {
			seen[name] = struct{}{}
		}
		if runnerCount > 0 {
			u := float64(runners[i]) / float64(runnerCount)
			if u > 1 {
				u = 1
			}
			res.Utilization = append(res.Utilization, u)
		}
	}
	res.Runs = seriesStats(runs)
	res.Jobs = seriesStats(jobs)
	res.Runners = seriesStats(runners)
	for name := range seen {
		res.UniqueRunners = append(res.UniqueRunners, name)
	}
	sort.Strings(res.UniqueRunners)
	return res
}

// Concurrency carries both views of how many jobs ran at once.
type Concurrency struct {
	Sweep    SweepResult    `json:"sweep" yaml:"sweep"`
	Snapshot SnapshotResult `json:"snapshot" yaml:"snapshot"`
}

// Authoritative returns the peak and average concurrency from snapshots when
// any were recorded, and from the timestamp sweep otherwise.
func (c Concurrency) Authoritative() (max int, avg float64, source string) {
	if c.Snapshot.Samples > 0 {
		return c.Snapshot.Jobs.Max, c.Snapshot.Jobs.Mean, "snapshot"
	}
	return c.Sweep.Max, c.Sweep.Average, "sweep"
}

// TimelinePoint is the number of running jobs at an offset from the first start.
type TimelinePoint struct {
	OffsetSeconds float64 `json:"offset_seconds" yaml:"offset_seconds"`
	Active        int     `json:"active" yaml:"active"`
}

// Timeline samples the running count every step from the earliest start to
// the latest end. A job counts at t when start <= t < end.
func Timeline(intervals []Interval, step time.Duration) []TimelinePoint {
	evs := events(intervals)
	if len(evs) == 0 || step <= 0 {
		return nil
	}
	first, last := evs[0].At, evs[len(evs)-1].At

	var points []TimelinePoint
	count, idx := 0, 0
	for t := first; !t.After(last); t = t.Add(step) {
		for idx < len(evs) && !evs[idx].At.After(t) {
			count += evs[idx].Delta
			idx++
		}
		points = append(points, TimelinePoint{OffsetSeconds: t.Sub(first).Seconds(), Active: count})
	}
	return points
}
