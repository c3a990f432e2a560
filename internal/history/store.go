// Package history keeps the results of past load tests in a local bbolt file
// so runs can be listed and compared after the fact.
package history

import (
	"encoding/binary"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"go.etcd.io/bbolt"

	"github.com/torosent/runnerprobe/internal/metrics"
)

const (
	bucketRuns    = "runs"
	bucketByStart = "by_start"
)

// ErrNotFound is returned by Get for an unknown run id.
var ErrNotFound = errors.New("run not found")

// Entry is the one-line view of a stored run.
type Entry struct {
	RunID          string    `json:"run_id"`
	Profile        string    `json:"profile"`
	StartedAt      time.Time `json:"started_at"`
	EndedAt        time.Time `json:"ended_at"`
	Dispatched     int       `json:"dispatched"`
	Completed      int       `json:"completed"`
	Failed         int       `json:"failed"`
	Unmatched      int       `json:"unmatched"`
	QueueP95       float64   `json:"queue_p95"`
	ExecMean       float64   `json:"exec_mean"`
	MaxConcurrency int       `json:"max_concurrency"`
}

// EntryOf summarizes a full result.
func EntryOf(m *metrics.TestMetrics) Entry {
	maxC, _, _ := m.Concurrency.Authoritative()
	return Entry{
		RunID:          m.RunID,
		Profile:        m.Profile,
		StartedAt:      m.StartedAt,
		EndedAt:        m.EndedAt,
		Dispatched:     m.Counts.Dispatched,
		Completed:      m.Counts.Completed,
		Failed:         m.Counts.Failed + m.Counts.TimedOut,
		Unmatched:      m.Counts.Unmatched,
		QueueP95:       m.Queue.P95,
		ExecMean:       m.Execution.Mean,
		MaxConcurrency: maxC,
	}
}

// Store is a bbolt database of TestMetrics keyed by run id, with a secondary
// index ordered by start time.
type Store struct {
	db *bbolt.DB
}

// Open creates or opens the database at path.
func Open(path string) (*Store, error) {
	if dir := filepath.Dir(path); dir != "" {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return nil, fmt.Errorf("create history dir: %w", err)
		}
	}
	db, err := bbolt.Open(path, 0o600, &bbolt.Options{Timeout: time.Second})
	if err != nil {
		return nil, fmt.Errorf("open history %s: %w", path, err)
	}
	err = db.Update(func(tx *bbolt.Tx) error {
		for _, name := range []string{bucketRuns, bucketByStart} {
			if _, err := tx.CreateBucketIfNotExists([]byte(name)); err != nil {
				return err
			}
		}
		return nil
	})
	if err != nil {
		db.Close()
		return nil, fmt.Errorf("init history buckets: %w", err)
	}
	return &Store{db: db}, nil
}

// Close releases the database file.
func (s *Store) Close() error {
	if s == nil || s.db == nil {
		return nil
	}
	return s.db.Close()
}

// Save stores m, replacing any previous result with the same run id.
func (s *Store) Save(m *metrics.TestMetrics) error {
	if m == nil || m.RunID == "" {
		return errors.New("history: result has no run id")
	}
	data, err := json.Marshal(m)
	if err != nil {
		return fmt.Errorf("encode %s: %w", m.RunID, err)
	}
	return s.db.Update(func(tx *bbolt.Tx) error {
		runs := tx.Bucket([]byte(bucketRuns))
		idx := tx.Bucket([]byte(bucketByStart))
		if prev := runs.Get([]byte(m.RunID)); prev != nil {
			var old metrics.TestMetrics
			if err := json.Unmarshal(prev, &old); err == nil {
				if err := idx.Delete(startKey(old.StartedAt, old.RunID)); err != nil {
					return err
				}
			}
		}
		if err := runs.Put([]byte(m.RunID), data); err != nil {
			return err
		}
		return idx.Put(startKey(m.StartedAt, m.RunID), []byte(m.RunID))
	})
}

// Get loads the full result of one run.
func (s *Store) Get(runID string) (*metrics.TestMetrics, error) {
	var m metrics.TestMetrics
	err := s.db.View(func(tx *bbolt.Tx) error {
		v := tx.Bucket([]byte(bucketRuns)).Get([]byte(runID))
		if v == nil {
			return fmt.Errorf("%w: %s", ErrNotFound, runID)
		}
		return json.Unmarshal(v, &m)
	})
	if err != nil {
		return nil, err
	}
	return &m, nil
}

// List returns up to limit entries, newest first. A limit of zero or less
// returns every run.
func (s *Store) List(limit int) ([]Entry, error) {
	var entries []Entry
	err := s.db.View(func(tx *bbolt.Tx) error {
		runs := tx.Bucket([]byte(bucketRuns))
		c := tx.Bucket([]byte(bucketByStart)).Cursor()
		for k, id := c.Last(); k != nil; k, id = c.Prev() {
			if limit > 0 && len(entries) >= limit {
				break
			}
			v := runs.Get(id)
			if v == nil {
				continue
			}
			var m metrics.TestMetrics
			if err := json.Unmarshal(v, &m); err != nil {
				return fmt.Errorf("decode %s: %w", id, err)
			}
			entries = append(entries, EntryOf(&m))
		}
		return nil
	})
	return entries, err
}

// startKey orders by start time, then run id for equal starts.
func startKey(at time.Time, runID string) []byte {
	key := make([]byte, 8, 8+len(runID))
	binary.BigEndian.PutUint64(key, uint64(at.UnixNano()))
	return append(key, runID...)
}
