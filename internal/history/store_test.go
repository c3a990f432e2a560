package history

import (
	"errors"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/torosent/runnerprobe/internal/metrics"
)

func result(id string, start time.Time) *metrics.TestMetrics {
	return &metrics.TestMetrics{
		RunID:     id,
		Profile:   "steady",
		StartedAt: start,
		EndedAt:   start.Add(5 * time.Minute),
		Counts:    metrics.Counts{Dispatched: 10, Completed: 8, Failed: 1, TimedOut: 1},
		Queue:     metrics.Summary{Count: 10, P95: 42},
		Execution: metrics.Summary{Count: 10, Mean: 30},
		Concurrency: metrics.Concurrency{
			Sweep: metrics.SweepResult{Max: 3, Average: 1.5},
		},
	}
}

func openTemp(t *testing.T) *Store {
	t.Helper()
	s, err := Open(filepath.Join(t.TempDir(), "nested", "history.db"))
	require.NoError(t, err)
	t.Cleanup(func() { _ = s.Close() })
	return s
}

func TestSaveGetList(t *testing.T) {
	s := openTemp(t)
	base := time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC)

	// Ids deliberately sort opposite to start time.
	require.NoError(t, s.Save(result("z_old", base)))
	require.NoError(t, s.Save(result("a_new", base.Add(time.Hour))))
	require.NoError(t, s.Save(result("m_mid", base.Add(30*time.Minute))))

	got, err := s.Get("m_mid")
	require.NoError(t, err)
	assert.Equal(t, "steady", got.Profile)
	assert.Equal(t, 42.0, got.Queue.P95)

	entries, err := s.List(0)
	require.NoError(t, err)
	require.Len(t, entries, 3)
	assert.Equal(t, []string{"a_new", "m_mid", "z_old"}, []string{entries[0].RunID, entries[1].RunID, entries[2].RunID})
	assert.Equal(t, 2, entries[0].Failed)
	assert.Equal(t, 3, entries[0].MaxConcurrency)

	limited, err := s.List(1)
	require.NoError(t, err)
	require.Len(t, limited, 1)
	assert.Equal(t, "a_new", limited[0].RunID)
}

func TestSaveReplacesIndex(t *testing.T) {
	s := openTemp(t)
	base := time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC)
	require.NoError(t, s.Save(result("r1", base)))
	require.NoError(t, s.Save(result("r1", base.Add(time.Minute))))

	entries, err := s.List(0)
	require.NoError(t, err)
	require.Len(t, entries, 1)
	assert.True(t, entries[0].StartedAt.Equal(base.Add(time.Minute)))
}

func TestGetMissing(t *testing.T) {
	s := openTemp(t)
	_, err := s.Get("nope")
	assert.True(t, errors.Is(err, ErrNotFound))
}

func TestSaveRequiresRunID(t *testing.T) {
	s := openTemp(t)
	assert.Error(t, s.Save(&metrics.TestMetrics{}))
	assert.Error(t, s.Save(nil))
}

func TestReopenKeepsData(t *testing.T) {
	path := filepath.Join(t.TempDir(), "h.db")
	s, err := Open(path)
	require.NoError(t, err)
	require.NoError(t, s.Save(result("keep", time.Now())))
	require.NoError(t, s.Close())

	s, err = Open(path)
	require.NoError(t, err)
	defer s.Close()
	entries, err := s.List(0)
	require.NoError(t, err)
	require.Len(t, entries, 1)
	assert.Equal(t, "keep", entries[0].RunID)
}
