package tracker

import (
	"context"
	"errors"
	"path"
	"sort"
	"strings"
	"sync"

	"github.com/sirupsen/logrus"

	"github.com/torosent/runnerprobe/internal/github"
	"github.com/torosent/runnerprobe/internal/logging"
)

const (
	StrategyTag     = "tag"
	StrategyOrdinal = "ordinal"

	defaultInspectJobs = 3
)

// JobLister fetches the jobs of a run.
type JobLister interface {
	ListJobs(ctx context.Context, runID int64) ([]github.Job, error)
}

// Strategy binds pending jobs in a table to runs from one listing.
// Implementations must only bind through Table.Match so a run is never
// claimed twice.
type Strategy interface {
	Name() string
	Match(ctx context.Context, table *Table, runs []github.Run, jobs JobLister) (int, error)
}

// TagMatcher finds each job's tag in the run document: first the echoed
// dispatch input, then the display title or name, and finally, for a bounded
// number of runs per cycle, the job and step names.
type TagMatcher struct {
	TagInput    string
	InspectJobs int // listJobs calls allowed per cycle; negative disables the fallback
	Logger      *logrus.Entry

	mu        sync.Mutex
	inspected map[int64]bool
}

// Name implements Strategy.
func (m *TagMatcher) Name() string { return StrategyTag }

// Match implements Strategy.
func (m *TagMatcher) Match(ctx context.Context, table *Table, runs []github.Run, jobs JobLister) (int, error) {
	pending := table.Pending()
	if len(pending) == 0 {
		return 0, nil
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.inspected == nil {
		m.inspected = make(map[int64]bool)
	}
	log := logging.Or(m.Logger)

	waiting := make(map[string]Job, len(pending))
	for _, job := range pending {
		waiting[job.Tag] = job
	}

	matched := 0
	bind := func(tag string, run github.Run, via string) {
		if err := table.Match(tag, run.ID, run.CreatedAt); err != nil {
			log.WithError(err).WithField("tag", tag).Debug("match rejected")
			return
		}
		delete(waiting, tag)
		matched++
		log.WithFields(logrus.Fields{"tag": tag, "run": run.ID, "via": via}).Debug("matched run")
	}

	var unresolved []github.Run
	for _, run := range runs {
		if len(waiting) == 0 {
			break
		}
		if table.Claimed(run.ID) {
			continue
		}
		if echoed := run.Input(m.TagInput); echoed != "" {
			if _, ok := waiting[echoed]; ok {
				bind(echoed, run, "input")
			}
			// A run that echoes some other tag belongs to someone else.
			continue
		}
		if tag := m.titleTag(run, waiting); tag != "" {
			bind(tag, run, "title")
			continue
		}
		unresolved = append(unresolved, run)
	}

	budget := m.InspectJobs
	if budget == 0 {
		budget = defaultInspectJobs
	}
	var errs []error
	for _, run := range unresolved {
		if len(waiting) == 0 || budget <= 0 {
			break
		}
		if m.inspected[run.ID] {
			continue
		}
		budget--
		list, err := jobs.ListJobs(ctx, run.ID)
		if err != nil {
			errs = append(errs, err)
			continue
		}
		m.inspected[run.ID] = true
		if tag := jobTag(list, waiting); tag != "" {
			bind(tag, run, "jobs")
		}
	}
	return matched, errors.Join(errs...)
}

func (m *TagMatcher) titleTag(run github.Run, waiting map[string]Job) string {
	for tag := range waiting {
		if strings.Contains(run.DisplayTitle, tag) || strings.Contains(run.Name, tag) {
			return tag
		}
	}
	return ""
}

func jobTag(list []github.Job, waiting map[string]Job) string {
	for _, job := range list {
		for tag := range waiting {
			if job.Mentions(tag) {
				return tag
			}
		}
	}
	return ""
}

// OrdinalMatcher pairs pending jobs with unclaimed runs newer than Baseline,
// both in ascending order, per workflow. It assumes the service assigns run
// ids in dispatch order; concurrent dispatches from other clients or
// reordering by the service will mispair jobs. A workflow is not paired past
// a job whose dispatch call is still in flight, since that job's run may not
// be listed yet.
type OrdinalMatcher struct {
	Baseline int64
	Logger   *logrus.Entry
}

// Name implements Strategy.
func (m *OrdinalMatcher) Name() string { return StrategyOrdinal }

// Match implements Strategy.
func (m *OrdinalMatcher) Match(_ context.Context, table *Table, runs []github.Run, _ JobLister) (int, error) {
	pending := table.Pending()
	if len(pending) == 0 {
		return 0, nil
	}
	log := logging.Or(m.Logger)

	byWorkflow := make(map[string][]github.Run)
	for _, run := range runs {
		if run.ID <= m.Baseline || table.Claimed(run.ID) {
			continue
		}
		key := path.Base(run.Path)
		byWorkflow[key] = append(byWorkflow[key], run)
	}
	for key := range byWorkflow {
		candidates := byWorkflow[key]
		sort.Slice(candidates, func(i, j int) bool { return candidates[i].ID < candidates[j].ID })
	}

	matched := 0
	held := make(map[string]bool)
	for _, job := range pending {
		key := path.Base(job.Workflow)
		if job.Submitting {
			held[key] = true
		}
		candidates := byWorkflow[key]
		if held[key] || len(candidates) == 0 {
			continue
		}
		run := candidates[0]
		byWorkflow[key] = candidates[1:]
		if err := table.Match(job.Tag, run.ID, run.CreatedAt); err != nil {
			log.WithError(err).WithField("tag", job.Tag).Debug("ordinal match rejected")
			continue
		}
		matched++
		log.WithFields(logrus.Fields{"tag": job.Tag, "run": run.ID}).Debug("matched run by order")
	}
	return matched, nil
}
