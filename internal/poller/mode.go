package poller

import (
	"context"
	"sync"
	"time"

	"github.com/torosent/runnerprobe/internal/github"
	"github.com/torosent/runnerprobe/internal/snapshot"
	"github.com/torosent/runnerprobe/internal/tracker"
)

const (
	ModePrecise = "precise"
	ModeBulk    = "bulk"
)

// Source is the slice of the Actions API the poller reads.
type Source interface {
	ListRuns(ctx context.Context, filter github.RunFilter) ([]github.Run, error)
	GetRun(ctx context.Context, id int64) (github.Run, error)
	ListJobs(ctx context.Context, runID int64) ([]github.Job, error)
}

// Update is what a Mode learned about one tracked job.
type Update struct {
	Observation tracker.Observation
	Run         snapshot.RunState
	JobsFetched bool
}

// Mode decides which calls refresh one job. listing holds the runs listed
// this cycle, keyed by id; it is nil when the cycle did not list.
type Mode interface {
	Name() string
	NeedsListing() bool
	Refresh(ctx context.Context, src Source, job tracker.Job, listing map[int64]github.Run, now time.Time) (Update, error)
}

// PreciseMode reads each active run individually every cycle and fetches
// its jobs when the run starts and again when it finishes.
type PreciseMode struct{}

func (PreciseMode) Name() string       { return ModePrecise }
func (PreciseMode) NeedsListing() bool { return false }

func (PreciseMode) Refresh(ctx context.Context, src Source, job tracker.Job, _ map[int64]github.Run, now time.Time) (Update, error) {
	run, err := src.GetRun(ctx, job.RunID)
	if err != nil {
		return Update{}, err
	}
	up := Update{Observation: observe(run)}
	up.Observation.At = now

	state := up.Observation.State
	if state.Terminal() || (state == tracker.StateRunning && job.StartedAt.IsZero()) {
		jobs, err := src.ListJobs(ctx, run.ID)
		if err != nil {
			return Update{}, err
		}
		fold(&up.Observation, run, jobs)
		up.Run = runState(run, jobs)
		up.JobsFetched = true
		return up, nil
	}
	up.Run = runState(run, nil)
	return up, nil
}

// BulkMode reads run status from the per-cycle listing and fetches a run's
// jobs once, at its first terminal observation. Start and completion times
// are therefore both set at that point.
type BulkMode struct {
	mu    sync.Mutex
	cache map[int64][]github.Job
}

func (*BulkMode) Name() string       { return ModeBulk }
func (*BulkMode) NeedsListing() bool { return true }

func (b *BulkMode) Refresh(ctx context.Context, src Source, job tracker.Job, listing map[int64]github.Run, now time.Time) (Update, error) {
	run, ok := listing[job.RunID]
	if !ok {
		// Runs can fall off the listing window; read them directly.
		var err error
		if run, err = src.GetRun(ctx, job.RunID); err != nil {
			return Update{}, err
		}
	}
	up := Update{Observation: observe(run)}
	if !up.Observation.State.Terminal() {
		up.Run = runState(run, nil)
		return up, nil
	}

	jobs, err := b.jobs(ctx, src, run.ID)
	if err != nil {
		return Update{}, err
	}
	up.Observation.At = now
	fold(&up.Observation, run, jobs)
	up.Run = runState(run, jobs)
	up.JobsFetched = true
	return up, nil
}

func (b *BulkMode) jobs(ctx context.Context, src Source, runID int64) ([]github.Job, error) {
	b.mu.Lock()
	cached, ok := b.cache[runID]
	b.mu.Unlock()
	if ok {
		return cached, nil
	}
	jobs, err := src.ListJobs(ctx, runID)
	if err != nil {
		return nil, err
	}
	b.mu.Lock()
	if b.cache == nil {
		b.cache = make(map[int64][]github.Job)
	}
	b.cache[runID] = jobs
	b.mu.Unlock()
	return jobs, nil
}

// NewMode returns the mode registered under name.
func NewMode(name string) (Mode, bool) {
	switch name {
	case "", ModePrecise:
		return PreciseMode{}, true
	case ModeBulk:
		return &BulkMode{}, true
	default:
		return nil, false
	}
}

func stateOf(run github.Run) tracker.State {
	switch run.Status {
	case github.StatusCompleted:
		if run.Conclusion == github.ConclusionSuccess {
			return tracker.StateCompleted
		}
		return tracker.StateFailed
	case github.StatusInProgress:
		return tracker.StateRunning
	default:
		return tracker.StateQueued
	}
}

func observe(run github.Run) tracker.Observation {
	return tracker.Observation{
		State:      stateOf(run),
		Conclusion: run.Conclusion,
	}
}

// fold merges job-level facts into obs. A multi-job run started when its
// first job started and completed when its last job completed; the runner is
// taken from the first job that has one.
func fold(obs *tracker.Observation, run github.Run, jobs []github.Job) {
	var started, completed time.Time
	for _, j := range jobs {
		if obs.RemoteJobID == 0 {
			obs.RemoteJobID = j.ID
		}
		if j.StartedAt != nil && (started.IsZero() || j.StartedAt.Before(started)) {
			started = *j.StartedAt
		}
		if j.CompletedAt != nil && j.CompletedAt.After(completed) {
			completed = *j.CompletedAt
		}
		if obs.RunnerName == "" && j.RunnerName != "" {
			obs.RunnerName = j.RunnerName
			obs.RunnerID = j.RunnerID
		}
	}
	if started.IsZero() && run.RunStartedAt != nil && obs.State != tracker.StateQueued {
		started = *run.RunStartedAt
	}
	obs.StartedAt = started
	if obs.State.Terminal() {
		obs.CompletedAt = completed
	}
}

func runState(run github.Run, jobs []github.Job) snapshot.RunState {
	rs := snapshot.RunState{ID: run.ID, Status: run.Status}
	for _, j := range jobs {
		rs.Jobs = append(rs.Jobs, snapshot.JobState{
			ID:         j.ID,
			Name:       j.Name,
			Status:     j.Status,
			RunnerID:   j.RunnerID,
			RunnerName: j.RunnerName,
		})
	}
	return rs
}
