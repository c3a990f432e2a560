package snapshot

import (
	"errors"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func sample(at time.Time) Snapshot {
	return Snapshot{
		TakenAt: at,
		Runs: []RunState{
			{ID: 1, Status: "in_progress", Jobs: []JobState{
				{ID: 11, Status: "in_progress", RunnerName: "runner-b"},
				{ID: 12, Status: "in_progress", RunnerName: "runner-a"},
			}},
			{ID: 2, Status: "in_progress", Jobs: []JobState{{ID: 21, Status: "in_progress", RunnerName: "runner-a"}}},
			{ID: 3, Status: "queued", Jobs: []JobState{{ID: 31, Status: "queued"}}},
		},
	}
}

func TestSnapshotCounts(t *testing.T) {
	snap := sample(time.Now())
	assert.Equal(t, 2, snap.ActiveRuns())
	assert.Equal(t, 3, snap.ActiveJobs())
	assert.Equal(t, []string{"runner-a", "runner-b"}, snap.ActiveRunners())
}

type failingSink struct{ err error }

func (f failingSink) Write(Snapshot) error { return f.err }

func TestStoreCopiesOnAppend(t *testing.T) {
	store := NewStore(nil)
	snap := sample(time.Now())
	require.NoError(t, store.Append(snap))

	snap.Runs[0].Jobs[0].Status = "completed"
	got := store.All()
	require.Len(t, got, 1)
	assert.Equal(t, "in_progress", got[0].Runs[0].Jobs[0].Status)

	got[0].Runs[0].Status = "mutated"
	assert.Equal(t, "in_progress", store.All()[0].Runs[0].Status)
}

func TestStoreKeepsSnapshotWhenSinkFails(t *testing.T) {
	boom := errors.New("disk full")
	store := NewStore(failingSink{err: boom})
	err := store.Append(sample(time.Now()))
	assert.True(t, errors.Is(err, boom))
	assert.Equal(t, 1, store.Len())
}

func TestJournalRoundTripAndLock(t *testing.T) {
	path := filepath.Join(t.TempDir(), "snapshots.jsonl")
	j, err := OpenJournal(path)
	require.NoError(t, err)

	_, err = OpenJournal(path)
	require.Error(t, err, "second writer must be refused")

	base := time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC)
	store := NewStore(j)
	require.NoError(t, store.Append(sample(base)))
	require.NoError(t, store.Append(sample(base.Add(30*time.Second))))
	require.NoError(t, j.Close())
	require.NoError(t, j.Close())
	assert.Error(t, j.Write(sample(base)))

	snaps, err := ReadJournal(path)
	require.NoError(t, err)
	require.Len(t, snaps, 2)
	assert.True(t, snaps[1].TakenAt.Equal(base.Add(30*time.Second)))
	assert.Equal(t, 3, snaps[0].ActiveJobs())

	j2, err := OpenJournal(path)
	require.NoError(t, err, "lock is released on close")
	require.NoError(t, j2.Close())
}
