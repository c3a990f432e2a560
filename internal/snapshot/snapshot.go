// Package snapshot keeps the point-in-time views of in-flight runs that the
// poller records each cycle, and optionally journals them to disk.
package snapshot

import (
	"sort"
	"sync"
	"time"
)

const statusInProgress = "in_progress"

// JobState is one job as seen in a snapshot.
type JobState struct {
	ID         int64  `json:"id"`
	Name       string `json:"name,omitempty"`
	Status     string `json:"status"`
	RunnerID   int64  `json:"runner_id,omitempty"`
	RunnerName string `json:"runner_name,omitempty"`
}

// RunState is one run and its jobs as seen in a snapshot.
type RunState struct {
	ID     int64      `json:"id"`
	Status string     `json:"status"`
	Jobs   []JobState `json:"jobs,omitempty"`
}

// Snapshot is the state of every tracked, unfinished run at one instant.
type Snapshot struct {
	TakenAt time.Time  `json:"taken_at"`
	Runs    []RunState `json:"runs"`
}

// ActiveRuns counts runs in progress.
func (s Snapshot) ActiveRuns() int {
	n := 0
	for _, r := range s.Runs {
		if r.Status == statusInProgress {
			n++
		}
	}
	return n
}

// ActiveJobs counts jobs in progress.
func (s Snapshot) ActiveJobs() int {
	n := 0
	for _, r := range s.Runs {
		for _, j := range r.Jobs {
			if j.Status == statusInProgress {
				n++
			}
		}
	}
	return n
}

// ActiveRunners returns the sorted, distinct runner names of in-progress jobs.
func (s Snapshot) ActiveRunners() []string {
	seen := make(map[string]struct{})
	for _, r := range s.Runs {
		for _, j := range r.Jobs {
			if j.Status == statusInProgress && j.RunnerName != "" {
				seen[j.RunnerName] = struct{}{}
			}
		}
	}
	names := make([]string, 0, len(seen))
	for name := range seen {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

func (s Snapshot) clone() Snapshot {
	out := Snapshot{TakenAt: s.TakenAt, Runs: make([]RunState, len(s.Runs))}
	for i, r := range s.Runs {
		out.Runs[i] = RunState{ID: r.ID, Status: r.Status, Jobs: append([]JobState(nil), r.Jobs...)}
	}
	return out
}

// Sink receives every appended snapshot.
type Sink interface {
	Write(Snapshot) error
}

// Store is an append-only, in-memory list of snapshots.
type Store struct {
	mu    sync.Mutex
	snaps []Snapshot
	sink  Sink
}

// NewStore creates a store; sink may be nil.
func NewStore(sink Sink) *Store {
	return &Store{sink: sink}
}

// Append stores a copy of snap and forwards it to the sink. The snapshot is
// kept even when the sink fails.
func (s *Store) Append(snap Snapshot) error {
	snap = snap.clone()
	s.mu.Lock()
	s.snaps = append(s.snaps, snap)
	sink := s.sink
	s.mu.Unlock()
	if sink != nil {
		return sink.Write(snap)
	}
	return nil
}

// All returns copies of every snapshot in append order.
func (s *Store) All() []Snapshot {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]Snapshot, len(s.snaps))
	for i, snap := range s.snaps {
		out[i] = snap.clone()
	}
	return out
}

// Len returns the number of snapshots.
func (s *Store) Len() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.snaps)
}
