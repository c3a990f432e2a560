// Package poller keeps the tracker table in step with the remote service.
//
// Each cycle correlates pending submissions with newly listed runs, then
// refreshes every active job through the configured [Mode], expires jobs that
// exceeded the monitoring timeout and records a snapshot of in-flight runs.
package poller

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/sirupsen/logrus"
	"golang.org/x/sync/errgroup"

	"github.com/torosent/runnerprobe/internal/github"
	"github.com/torosent/runnerprobe/internal/logging"
	"github.com/torosent/runnerprobe/internal/snapshot"
	"github.com/torosent/runnerprobe/internal/tracker"
)

const (
	defaultInterval     = 30 * time.Second
	defaultJobTimeout   = 30 * time.Minute
	defaultMatchTimeout = 10 * time.Minute
	defaultWorkers      = 8
	// listingSkew widens the created filter to absorb clock differences
	// between this host and the service.
	listingSkew = time.Minute
)

// Options configure a Poller.
type Options struct {
	Interval     time.Duration
	JobTimeout   time.Duration // matched jobs unfinished this long after dispatch become timed_out
	MatchTimeout time.Duration // pending jobs older than this no longer hold up a drain
	Workers      int           // concurrent job refreshes per cycle
	Since        time.Time     // lower bound of the created filter
	Snapshots    *snapshot.Store
	Logger       *logrus.Entry
	Now          func() time.Time
}

// CycleResult describes one poll cycle.
type CycleResult struct {
	Listed   int
	Matched  int
	Updated  int
	Skipped  int
	Expired  int
	Snapshot bool
}

// Poller refreshes a tracker table from a Source.
type Poller struct {
	src      Source
	table    *tracker.Table
	strategy tracker.Strategy
	mode     Mode
	opts     Options
	log      *logrus.Entry

	cycleMu sync.Mutex
	cycles  atomic.Int64
}

// New creates a Poller.
func New(src Source, table *tracker.Table, strategy tracker.Strategy, mode Mode, opts Options) *Poller {
	if opts.Interval <= 0 {
		opts.Interval = defaultInterval
	}
	if opts.JobTimeout <= 0 {
		opts.JobTimeout = defaultJobTimeout
	}
	if opts.MatchTimeout <= 0 {
		opts.MatchTimeout = defaultMatchTimeout
	}
	if opts.Workers <= 0 {
		opts.Workers = defaultWorkers
	}
	if opts.Now == nil {
		opts.Now = time.Now
	}
	if mode == nil {
		mode = PreciseMode{}
	}
	return &Poller{
		src:      src,
		table:    table,
		strategy: strategy,
		mode:     mode,
		opts:     opts,
		log:      logging.Or(opts.Logger).WithField("mode", mode.Name()),
	}
}

// Cycles returns the number of completed poll cycles.
func (p *Poller) Cycles() int64 {
	return p.cycles.Load()
}

// Run polls every Interval until ctx ends.
func (p *Poller) Run(ctx context.Context) error {
	ticker := time.NewTicker(p.opts.Interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
			if _, err := p.Poll(ctx); err != nil && ctx.Err() == nil {
				p.log.WithError(err).Warn("poll cycle incomplete")
			}
		}
	}
}

// Drain polls until every matched job is terminal and no recent submission
// is still waiting for a match, or until timeout elapses.
func (p *Poller) Drain(ctx context.Context, timeout time.Duration) error {
	if timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, timeout)
		defer cancel()
	}
	for {
		if _, err := p.Poll(ctx); err != nil && ctx.Err() == nil {
			p.log.WithError(err).Warn("drain cycle incomplete")
		}
		if p.settled() {
			return nil
		}
		timer := time.NewTimer(p.opts.Interval)
		select {
		case <-ctx.Done():
			timer.Stop()
			counts := p.table.Counts()
			return fmt.Errorf("drain stopped with %d active and %d pending jobs: %w", counts.Active(), counts.Pending, ctx.Err())
		case <-timer.C:
		}
	}
}

func (p *Poller) settled() bool {
	if p.table.Counts().Active() > 0 {
		return false
	}
	cutoff := p.opts.Now().Add(-p.opts.MatchTimeout)
	for _, job := range p.table.Pending() {
		if job.DispatchedAt.After(cutoff) {
			return false
		}
	}
	return true
}

// Poll runs one cycle. Cycles never overlap. Errors from individual jobs are
// joined into the returned error; the cycle still completes for the rest.
func (p *Poller) Poll(ctx context.Context) (CycleResult, error) {
	p.cycleMu.Lock()
	defer p.cycleMu.Unlock()
	defer p.cycles.Add(1)

	var res CycleResult
	var errs []error
	now := p.opts.Now()

	var listing map[int64]github.Run
	pending := len(p.table.Pending()) > 0
	if pending || p.mode.NeedsListing() {
		runs, err := p.src.ListRuns(ctx, github.RunFilter{
			CreatedAfter: p.opts.Since.Add(-listingSkew),
			Event:        "workflow_dispatch",
		})
		if err != nil {
			errs = append(errs, fmt.Errorf("list runs: %w", err))
		} else {
			res.Listed = len(runs)
			listing = make(map[int64]github.Run, len(runs))
			for _, r := range runs {
				listing[r.ID] = r
			}
			if pending && p.strategy != nil {
				n, err := p.strategy.Match(ctx, p.table, runs, p.src)
				res.Matched = n
				if err != nil {
					errs = append(errs, fmt.Errorf("match: %w", err))
				}
			}
		}
	}

	var (
		mu   sync.Mutex
		runs []snapshot.RunState
		eg   errgroup.Group
	)
	eg.SetLimit(p.opts.Workers)
	for _, job := range p.table.Active() {
		job := job
		if !p.table.Begin(job.Tag) {
			res.Skipped++
			continue
		}
		eg.Go(func() error {
			defer p.table.End(job.Tag)
			rs, err := p.refresh(ctx, job, listing, now)
			mu.Lock()
			defer mu.Unlock()
			if err != nil {
				errs = append(errs, fmt.Errorf("run %d (%s): %w", job.RunID, job.Tag, err))
				return nil
			}
			res.Updated++
			if rs.ID != 0 && rs.Status != github.StatusCompleted {
				runs = append(runs, rs)
			}
			return nil
		})
	}
	_ = eg.Wait()

	expired := p.table.Expire(now, p.opts.JobTimeout)
	res.Expired = len(expired)
	for _, tag := range expired {
		p.log.WithField("tag", tag).Warn("job exceeded monitoring timeout")
	}

	if p.opts.Snapshots != nil {
		if err := p.opts.Snapshots.Append(snapshot.Snapshot{TakenAt: now, Runs: runs}); err != nil {
			errs = append(errs, fmt.Errorf("snapshot: %w", err))
		}
		res.Snapshot = true
	}

	p.log.WithFields(logrus.Fields{
		"listed":  res.Listed,
		"matched": res.Matched,
		"updated": res.Updated,
		"expired": res.Expired,
	}).Debug("poll cycle finished")
	return res, errors.Join(errs...)
}

func (p *Poller) refresh(ctx context.Context, job tracker.Job, listing map[int64]github.Run, now time.Time) (snapshot.RunState, error) {
	up, err := p.mode.Refresh(ctx, p.src, job, listing, now)
	if err != nil {
		return snapshot.RunState{}, err
	}
	updated, err := p.table.Observe(job.Tag, up.Observation)
	if err != nil {
		return snapshot.RunState{}, err
	}
	if updated.State != job.State {
		p.log.WithFields(logrus.Fields{
			"tag":   job.Tag,
			"run":   job.RunID,
			"from":  job.State,
			"to":    updated.State,
			"queue": updated.QueueDuration,
		}).Debug("job state changed")
	}

	rs := up.Run
	if p.opts.Snapshots != nil && rs.Status == github.StatusInProgress && !up.JobsFetched {
		jobs, err := p.src.ListJobs(ctx, job.RunID)
		if err != nil {
			p.log.WithError(err).WithFields(logrus.Fields{
				"tag": job.Tag,
				"run": job.RunID,
			}).Debug("jobs unavailable for snapshot; recording run without them")
			return rs, nil
		}
		rs = runState(github.Run{ID: rs.ID, Status: rs.Status}, jobs)
	}
	return rs, nil
}
