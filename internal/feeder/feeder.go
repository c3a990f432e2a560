// Package feeder supplies per-dispatch workflow inputs from a CSV or JSON
// dataset. Records are handed out in file order and the dataset wraps
// around, so a long run reuses rows instead of running dry.
package feeder

import (
	"context"
	"errors"
	"fmt"
	"path/filepath"
	"strings"
	"sync"
)

// Record is one row of the dataset, keyed by column or property name.
type Record map[string]string

// Feeder hands out records. Implementations must be safe for concurrent use.
type Feeder interface {
	Next(ctx context.Context) (Record, error)
	Len() int
}

// ErrEmpty is returned when a dataset holds no records.
var ErrEmpty = errors.New("dataset has no records")

// Open loads a dataset, choosing the parser by file extension.
func Open(path string) (*Cycle, error) {
	var (
		records []Record
		err     error
	)
	switch strings.ToLower(filepath.Ext(path)) {
	case ".csv":
		records, err = readCSV(path)
	case ".json":
		records, err = readJSON(path)
	default:
		return nil, fmt.Errorf("unsupported dataset %s: want .csv or .json", path)
	}
	if err != nil {
		return nil, err
	}
	return NewCycle(records)
}

// Cycle returns records round-robin.
type Cycle struct {
	mu      sync.Mutex
	records []Record
	index   int
}

// NewCycle wraps an in-memory dataset.
func NewCycle(records []Record) (*Cycle, error) {
	if len(records) == 0 {
		return nil, ErrEmpty
	}
	return &Cycle{records: records}, nil
}

// Next returns the next record, starting over after the last one.
func (c *Cycle) Next(ctx context.Context) (Record, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	rec := c.records[c.index]
	c.index = (c.index + 1) % len(c.records)
	return rec, nil
}

// Len returns the number of records in the dataset.
func (c *Cycle) Len() int {
	return len(c.records)
}
