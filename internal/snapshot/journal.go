package snapshot

import (
	"bufio"
	"encoding/json"
	"fmt"
	"os"
	"sync"

	"github.com/gofrs/flock"
)

// Journal appends snapshots to a JSON-lines file. An advisory lock on
// <path>.lock keeps two probes from interleaving writes into one journal.
type Journal struct {
	mu   sync.Mutex
	file *os.File
	enc  *json.Encoder
	lock *flock.Flock
}

// OpenJournal opens path for appending, failing fast when another process
// holds the journal.
func OpenJournal(path string) (*Journal, error) {
	lock := flock.New(path + ".lock")
	locked, err := lock.TryLock()
	if err != nil {
		return nil, fmt.Errorf("lock journal %s: %w", path, err)
	}
	if !locked {
		return nil, fmt.Errorf("journal %s is in use by another process", path)
	}
	f, err := os.OpenFile(path, os.O_CREATE|os.O_APPEND|os.O_WRONLY, 0o644)
	if err != nil {
		_ = lock.Unlock()
		return nil, fmt.Errorf("open journal %s: %w", path, err)
	}
	return &Journal{file: f, enc: json.NewEncoder(f), lock: lock}, nil
}

// Write implements Sink.
func (j *Journal) Write(snap Snapshot) error {
	j.mu.Lock()
	defer j.mu.Unlock()
	if j.file == nil {
		return os.ErrClosed
	}
	if err := j.enc.Encode(snap); err != nil {
		return fmt.Errorf("write snapshot: %w", err)
	}
	return nil
}

// Close flushes the file and releases the lock.
func (j *Journal) Close() error {
	j.mu.Lock()
	defer j.mu.Unlock()
	if j.file == nil {
		return nil
	}
	err := j.file.Close()
	j.file = nil
	if uerr := j.lock.Unlock(); err == nil {
		err = uerr
	}
	return err
}

// ReadJournal loads every snapshot from a journal file.
func ReadJournal(path string) ([]Snapshot, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()

	var snaps []Snapshot
	scanner := bufio.NewScanner(f)
	scanner.Buffer(make([]byte, 64*1024), 16<<20)
	line := 0
	for scanner.Scan() {
		line++
		if len(scanner.Bytes()) == 0 {
			continue
		}
		var snap Snapshot
		if err := json.Unmarshal(scanner.Bytes(), &snap); err != nil {
			return nil, fmt.Errorf("%s:%d: %w", path, line, err)
		}
		snaps = append(snaps, snap)
	}
	return snaps, scanner.Err()
}
