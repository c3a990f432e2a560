package tracker

import (
	"errors"
	"fmt"
	"sort"
	"sync"
	"time"
)

var (
	ErrDuplicateTag   = errors.New("tag already registered")
	ErrUnknownTag     = errors.New("unknown tag")
	ErrAlreadyMatched = errors.New("job already matched")
	ErrRunClaimed     = errors.New("run already claimed by another job")
	ErrNotMatched     = errors.New("job not matched")
)

// Table is the single owner of tracked jobs. All methods are safe for
// concurrent use and hand out copies.
type Table struct {
	mu      sync.Mutex
	jobs    map[string]*Job
	order   []string
	claimed map[int64]string
	busy    map[string]bool
}

// NewTable returns an empty table.
func NewTable() *Table {
	return &Table{
		jobs:    make(map[string]*Job),
		claimed: make(map[int64]string),
		busy:    make(map[string]bool),
	}
}

// Register records a dispatched intent as pending.
func (t *Table) Register(intent Intent, dispatchedAt time.Time) error {
	return t.add(intent, dispatchedAt, false)
}

// Reserve records an intent as pending before its dispatch call is made, so
// runs created while the call is in flight are attributed in dispatch order.
// The caller settles it with Accept or Drop.
func (t *Table) Reserve(intent Intent, dispatchedAt time.Time) error {
	return t.add(intent, dispatchedAt, true)
}

func (t *Table) add(intent Intent, dispatchedAt time.Time, submitting bool) error {
	if intent.Tag == "" {
		return fmt.Errorf("register: %w", ErrUnknownTag)
	}
	t.mu.Lock()
	defer t.mu.Unlock()
	if _, ok := t.jobs[intent.Tag]; ok {
		return fmt.Errorf("register %s: %w", intent.Tag, ErrDuplicateTag)
	}
	t.jobs[intent.Tag] = &Job{
		Tag:          intent.Tag,
		Workflow:     intent.Workflow,
		State:        StatePending,
		DispatchedAt: dispatchedAt,
		Submitting:   submitting,
	}
	t.order = append(t.order, intent.Tag)
	return nil
}

// Accept marks a reserved job as accepted by the service.
func (t *Table) Accept(tag string) error {
	t.mu.Lock()
	defer t.mu.Unlock()
	job, ok := t.jobs[tag]
	if !ok {
		return fmt.Errorf("accept %s: %w", tag, ErrUnknownTag)
	}
	job.Submitting = false
	return nil
}

// Drop forgets a job whose dispatch failed and releases any run it claimed.
func (t *Table) Drop(tag string) {
	t.mu.Lock()
	defer t.mu.Unlock()
	job, ok := t.jobs[tag]
	if !ok {
		return
	}
	if job.RunID != 0 && t.claimed[job.RunID] == tag {
		delete(t.claimed, job.RunID)
	}
	delete(t.jobs, tag)
	delete(t.busy, tag)
	for i, name := range t.order {
		if name == tag {
			t.order = append(t.order[:i], t.order[i+1:]...)
			break
		}
	}
}

// Match binds a pending job to a run. createdAt is the run's creation time;
// when zero the dispatch time stands in.
func (t *Table) Match(tag string, runID int64, createdAt time.Time) error {
	t.mu.Lock()
	defer t.mu.Unlock()
	job, ok := t.jobs[tag]
	if !ok {
		return fmt.Errorf("match %s: %w", tag, ErrUnknownTag)
	}
	if job.RunID != 0 {
		return fmt.Errorf("match %s: %w", tag, ErrAlreadyMatched)
	}
	if owner, ok := t.claimed[runID]; ok {
		return fmt.Errorf("match %s to run %d (held by %s): %w", tag, runID, owner, ErrRunClaimed)
	}
	t.claimed[runID] = tag
	job.RunID = runID
	job.State = StateMatched
	job.CreatedAt = createdAt
	if job.CreatedAt.IsZero() {
		job.CreatedAt = job.DispatchedAt
	}
	return nil
}

// Claimed reports whether a run is already bound to a job.
func (t *Table) Claimed(runID int64) bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	_, ok := t.claimed[runID]
	return ok
}

// Begin marks a job as being processed. It returns false when another
// worker already holds it; the caller must then skip the job this cycle.
func (t *Table) Begin(tag string) bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	if _, ok := t.jobs[tag]; !ok || t.busy[tag] {
		return false
	}
	t.busy[tag] = true
	return true
}

// End releases a job taken with Begin.
func (t *Table) End(tag string) {
	t.mu.Lock()
	delete(t.busy, tag)
	t.mu.Unlock()
}

// Observe folds a poll result into a matched job and returns the updated copy.
// States never move backwards and timestamps are written at most once.
func (t *Table) Observe(tag string, obs Observation) (Job, error) {
	t.mu.Lock()
	defer t.mu.Unlock()
	job, ok := t.jobs[tag]
	if !ok {
		return Job{}, fmt.Errorf("observe %s: %w", tag, ErrUnknownTag)
	}
	if job.RunID == 0 {
		return Job{}, fmt.Errorf("observe %s: %w", tag, ErrNotMatched)
	}
	if job.State.Terminal() {
		return *job, nil
	}

	if obs.RemoteJobID != 0 && job.RemoteJobID == 0 {
		job.RemoteJobID = obs.RemoteJobID
	}
	if obs.RunnerName != "" && job.RunnerName == "" {
		job.RunnerName = obs.RunnerName
		job.RunnerID = obs.RunnerID
	}
	if obs.Conclusion != "" && job.Conclusion == "" {
		job.Conclusion = obs.Conclusion
	}
	if obs.State.rank() > job.State.rank() {
		job.State = obs.State
	}

	if job.StartedAt.IsZero() {
		switch {
		case !obs.StartedAt.IsZero():
			job.StartedAt = obs.StartedAt
		case job.State == StateRunning && !obs.At.IsZero():
			job.StartedAt = obs.At
		}
	}
	// A finish time without a start would yield a total with no execution
	// span, so it is only recorded once the start is known.
	if job.State.Terminal() && job.CompletedAt.IsZero() && !job.StartedAt.IsZero() {
		switch {
		case !obs.CompletedAt.IsZero():
			job.CompletedAt = obs.CompletedAt
		case !obs.At.IsZero():
			job.CompletedAt = obs.At
		}
	}
	derive(job)
	return *job, nil
}

// Expire marks every matched, unfinished job dispatched more than timeout
// before now as timed out. Jobs held with Begin are left for their worker.
func (t *Table) Expire(now time.Time, timeout time.Duration) []string {
	if timeout <= 0 {
		return nil
	}
	t.mu.Lock()
	defer t.mu.Unlock()
	var expired []string
	for _, tag := range t.order {
		job := t.jobs[tag]
		if job.RunID == 0 || job.State.Terminal() || t.busy[tag] {
			continue
		}
		if now.Sub(job.DispatchedAt) < timeout {
			continue
		}
		job.State = StateTimedOut
		expired = append(expired, tag)
	}
	return expired
}

// derive computes each duration the first time its endpoints are known.
func derive(job *Job) {
	if !job.StartedAt.IsZero() && !job.CompletedAt.IsZero() && job.CompletedAt.Before(job.StartedAt) {
		job.CompletedAt = job.StartedAt
	}
	if !job.QueueKnown && !job.StartedAt.IsZero() && !job.CreatedAt.IsZero() {
		d := job.StartedAt.Sub(job.CreatedAt)
		if d < 0 {
			d = 0
		}
		job.QueueDuration = d
		job.QueueKnown = true
	}
	if !job.ExecKnown && !job.StartedAt.IsZero() && !job.CompletedAt.IsZero() {
		job.ExecDuration = job.CompletedAt.Sub(job.StartedAt)
		job.ExecKnown = true
	}
}

// Get returns a copy of one job.
func (t *Table) Get(tag string) (Job, bool) {
	t.mu.Lock()
	defer t.mu.Unlock()
	job, ok := t.jobs[tag]
	if !ok {
		return Job{}, false
	}
	return *job, true
}

// Jobs returns copies of every job in registration order.
func (t *Table) Jobs() []Job {
	t.mu.Lock()
	defer t.mu.Unlock()
	out := make([]Job, 0, len(t.order))
	for _, tag := range t.order {
		out = append(out, *t.jobs[tag])
	}
	return out
}

// Pending returns unmatched jobs ordered by dispatch time.
func (t *Table) Pending() []Job {
	t.mu.Lock()
	var out []Job
	for _, tag := range t.order {
		if job := t.jobs[tag]; job.RunID == 0 {
			out = append(out, *job)
		}
	}
	t.mu.Unlock()
	sort.SliceStable(out, func(i, j int) bool {
		return out[i].DispatchedAt.Before(out[j].DispatchedAt)
	})
	return out
}

// Active returns matched jobs that are not yet terminal.
func (t *Table) Active() []Job {
	t.mu.Lock()
	defer t.mu.Unlock()
	var out []Job
	for _, tag := range t.order {
		if job := t.jobs[tag]; job.RunID != 0 && !job.State.Terminal() {
			out = append(out, *job)
		}
	}
	return out
}

// Counts tallies jobs by state.
func (t *Table) Counts() Counts {
	t.mu.Lock()
	defer t.mu.Unlock()
	c := Counts{Registered: len(t.order)}
	for _, job := range t.jobs {
		if job.RunID != 0 {
			c.Matched++
		}
		switch job.State {
		case StatePending:
			c.Pending++
		case StateQueued:
			c.Queued++
		case StateRunning:
			c.Running++
		case StateCompleted:
			c.Completed++
		case StateFailed:
			c.Failed++
		case StateTimedOut:
			c.TimedOut++
		}
	}
	return c
}

// Settled reports whether every matched job has reached a terminal state.
func (t *Table) Settled() bool {
	return t.Counts().Active() == 0
}
