package tracker

import (
	"errors"
	"fmt"
	"math/rand"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var t0 = time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC)

func registered(t *testing.T, tags ...string) *Table {
	t.Helper()
	table := NewTable()
	for i, tag := range tags {
		require.NoError(t, table.Register(Intent{Tag: tag, Workflow: "probe.yml"}, t0.Add(time.Duration(i)*time.Second)))
	}
	return table
}

func TestRegisterRejectsDuplicates(t *testing.T) {
	table := registered(t, "a")
	err := table.Register(Intent{Tag: "a"}, t0)
	assert.True(t, errors.Is(err, ErrDuplicateTag))
	assert.Error(t, table.Register(Intent{}, t0))
}

func TestMatchIsExclusive(t *testing.T) {
	table := registered(t, "a", "b")

	require.NoError(t, table.Match("a", 100, t0.Add(2*time.Second)))
	assert.True(t, errors.Is(table.Match("a", 101, t0), ErrAlreadyMatched))
	assert.True(t, errors.Is(table.Match("b", 100, t0), ErrRunClaimed))
	assert.True(t, errors.Is(table.Match("zzz", 102, t0), ErrUnknownTag))

	job, ok := table.Get("a")
	require.True(t, ok)
	assert.Equal(t, StateMatched, job.State)
	assert.Equal(t, t0.Add(2*time.Second), job.CreatedAt)
	assert.True(t, table.Claimed(100))
	assert.False(t, table.Claimed(101))
}

func TestMatchWithoutCreatedAtUsesDispatchTime(t *testing.T) {
	table := registered(t, "a")
	require.NoError(t, table.Match("a", 1, time.Time{}))
	job, _ := table.Get("a")
	assert.Equal(t, t0, job.CreatedAt)
}

func TestObserveLifecycle(t *testing.T) {
	table := registered(t, "a")
	require.NoError(t, table.Match("a", 1, t0))

	job, err := table.Observe("a", Observation{State: StateQueued, At: t0.Add(time.Second)})
	require.NoError(t, err)
	assert.Equal(t, StateQueued, job.State)
	assert.False(t, job.QueueKnown)

	job, err = table.Observe("a", Observation{
		State:      StateRunning,
		At:         t0.Add(20 * time.Second),
		StartedAt:  t0.Add(15 * time.Second),
		RunnerName: "runner-1",
		RunnerID:   7,
	})
	require.NoError(t, err)
	assert.Equal(t, StateRunning, job.State)
	assert.True(t, job.QueueKnown)
	assert.Equal(t, 15*time.Second, job.QueueDuration)
	assert.Equal(t, "runner-1", job.RunnerName)

	// A stale queued reading must not move the job backwards.
	job, err = table.Observe("a", Observation{State: StateQueued, At: t0.Add(25 * time.Second)})
	require.NoError(t, err)
	assert.Equal(t, StateRunning, job.State)

	job, err = table.Observe("a", Observation{
		State:       StateCompleted,
		At:          t0.Add(60 * time.Second),
		StartedAt:   t0.Add(99 * time.Second),
		CompletedAt: t0.Add(55 * time.Second),
		Conclusion:  "success",
	})
	require.NoError(t, err)
	assert.Equal(t, StateCompleted, job.State)
	assert.Equal(t, t0.Add(15*time.Second), job.StartedAt, "started_at is written once")
	assert.Equal(t, 40*time.Second, job.ExecDuration)
	total, ok := job.TotalDuration()
	assert.True(t, ok)
	assert.Equal(t, 55*time.Second, total)

	// Terminal jobs ignore further observations.
	job, err = table.Observe("a", Observation{State: StateFailed, Conclusion: "failure"})
	require.NoError(t, err)
	assert.Equal(t, StateCompleted, job.State)
	assert.Equal(t, "success", job.Conclusion)
}

func TestObserveClampsInvertedTimestamps(t *testing.T) {
	table := registered(t, "a")
	require.NoError(t, table.Match("a", 1, t0.Add(10*time.Second)))

	job, err := table.Observe("a", Observation{
		State:       StateCompleted,
		StartedAt:   t0.Add(5 * time.Second),
		CompletedAt: t0.Add(3 * time.Second),
	})
	require.NoError(t, err)
	assert.Equal(t, time.Duration(0), job.QueueDuration, "negative queue time clamps to zero")
	assert.Equal(t, job.StartedAt, job.CompletedAt)
	assert.Equal(t, time.Duration(0), job.ExecDuration)
}

func TestObserveFallsBackToPollTime(t *testing.T) {
	table := registered(t, "a")
	require.NoError(t, table.Match("a", 1, t0))

	_, err := table.Observe("a", Observation{State: StateRunning, At: t0.Add(30 * time.Second)})
	require.NoError(t, err)
	job, err := table.Observe("a", Observation{State: StateFailed, At: t0.Add(90 * time.Second)})
	require.NoError(t, err)
	assert.Equal(t, 30*time.Second, job.QueueDuration)
	assert.Equal(t, 60*time.Second, job.ExecDuration)
}

func TestObserveTerminalWithoutStartLeavesTimesUnset(t *testing.T) {
	table := registered(t, "a")
	require.NoError(t, table.Match("a", 1, t0))

	job, err := table.Observe("a", Observation{
		State:       StateFailed,
		Conclusion:  "cancelled",
		CompletedAt: t0.Add(40 * time.Second),
		At:          t0.Add(45 * time.Second),
	})
	require.NoError(t, err)
	assert.Equal(t, StateFailed, job.State)
	assert.True(t, job.StartedAt.IsZero())
	assert.True(t, job.CompletedAt.IsZero(), "completion time needs a start time")
	assert.False(t, job.QueueKnown)
	assert.False(t, job.ExecKnown)
}

func TestObserveRequiresMatch(t *testing.T) {
	table := registered(t, "a")
	_, err := table.Observe("a", Observation{State: StateRunning})
	assert.True(t, errors.Is(err, ErrNotMatched))
	_, err = table.Observe("b", Observation{State: StateRunning})
	assert.True(t, errors.Is(err, ErrUnknownTag))
}

func TestReserveAcceptDrop(t *testing.T) {
	table := NewTable()
	require.NoError(t, table.Reserve(Intent{Tag: "a", Workflow: "w.yml"}, t0))
	require.NoError(t, table.Reserve(Intent{Tag: "b", Workflow: "w.yml"}, t0.Add(time.Second)))
	assert.True(t, errors.Is(table.Reserve(Intent{Tag: "a"}, t0), ErrDuplicateTag))

	pending := table.Pending()
	require.Len(t, pending, 2)
	assert.True(t, pending[0].Submitting)

	require.NoError(t, table.Accept("a"))
	job, _ := table.Get("a")
	assert.False(t, job.Submitting)
	assert.True(t, errors.Is(table.Accept("zzz"), ErrUnknownTag))

	require.NoError(t, table.Match("b", 7, t0))
	table.Drop("b")
	_, ok := table.Get("b")
	assert.False(t, ok)
	assert.False(t, table.Claimed(7), "dropped job releases its run")
	assert.Equal(t, 1, table.Counts().Registered)
	table.Drop("b")
}

func TestBeginEnd(t *testing.T) {
	table := registered(t, "a")
	assert.True(t, table.Begin("a"))
	assert.False(t, table.Begin("a"))
	table.End("a")
	assert.True(t, table.Begin("a"))
	assert.False(t, table.Begin("missing"))
}

func TestExpire(t *testing.T) {
	table := registered(t, "a", "b", "c", "d")
	require.NoError(t, table.Match("a", 1, t0))
	require.NoError(t, table.Match("b", 2, t0))
	require.NoError(t, table.Match("d", 4, t0))
	_, err := table.Observe("b", Observation{State: StateCompleted, At: t0.Add(time.Second)})
	require.NoError(t, err)
	require.True(t, table.Begin("d"))

	expired := table.Expire(t0.Add(time.Hour), 30*time.Minute)
	assert.Equal(t, []string{"a"}, expired)

	c := table.Counts()
	assert.Equal(t, 4, c.Registered)
	assert.Equal(t, 3, c.Matched)
	assert.Equal(t, 1, c.Pending)
	assert.Equal(t, 1, c.TimedOut)
	assert.Equal(t, 1, c.Completed)
	assert.Equal(t, 1, c.Active())
	assert.False(t, table.Settled())
}

func TestPendingOrderedByDispatch(t *testing.T) {
	table := NewTable()
	require.NoError(t, table.Register(Intent{Tag: "late"}, t0.Add(time.Minute)))
	require.NoError(t, table.Register(Intent{Tag: "early"}, t0))
	require.NoError(t, table.Register(Intent{Tag: "mid"}, t0.Add(time.Second)))
	require.NoError(t, table.Match("mid", 9, t0))

	var tags []string
	for _, job := range table.Pending() {
		tags = append(tags, job.Tag)
	}
	assert.Equal(t, []string{"early", "late"}, tags)
	assert.Len(t, table.Active(), 1)
}

// Concurrent matchers and pollers racing over the same jobs and runs must
// never bind a run to two jobs or a job to two runs.
func TestConcurrentMatchUniqueness(t *testing.T) {
	const jobs = 200
	tags := make([]string, jobs)
	for i := range tags {
		tags[i] = fmt.Sprintf("tag-%03d", i)
	}
	table := registered(t, tags...)

	var wg sync.WaitGroup
	for w := 0; w < 16; w++ {
		wg.Add(1)
		go func(seed int64) {
			defer wg.Done()
			rnd := rand.New(rand.NewSource(seed))
			for i := 0; i < 2000; i++ {
				tag := tags[rnd.Intn(jobs)]
				runID := int64(rnd.Intn(jobs*2) + 1)
				_ = table.Match(tag, runID, t0)
				if table.Begin(tag) {
					_, _ = table.Observe(tag, Observation{State: StateRunning, At: t0.Add(time.Second)})
					table.End(tag)
				}
			}
		}(int64(w))
	}
	wg.Wait()

	seenRuns := make(map[int64]string)
	for _, job := range table.Jobs() {
		if !job.Matched() {
			continue
		}
		if other, dup := seenRuns[job.RunID]; dup {
			t.Fatalf("run %d bound to %s and %s", job.RunID, other, job.Tag)
		}
		seenRuns[job.RunID] = job.Tag
		assert.True(t, table.Claimed(job.RunID))
	}
	assert.Equal(t, len(seenRuns), table.Counts().Matched)
}

func TestNewTagIsUniqueAndPrefixed(t *testing.T) {
	seen := make(map[string]bool)
	for i := 0; i < 1000; i++ {
		tag := NewTag("steady_20240501_120000_abcd1234")
		require.False(t, seen[tag], "duplicate tag %s", tag)
		seen[tag] = true
		assert.Contains(t, tag, "steady_20240501_120000_abcd1234-")
	}
	assert.Len(t, NewTag(""), 26)
}
