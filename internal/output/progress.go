package output

import (
	"fmt"
	"io"
	"sync/atomic"
	"time"

	"github.com/torosent/runnerprobe/internal/tracker"
)

// CountsSource reports the current job tallies.
type CountsSource interface {
	Counts() tracker.Counts
}

// ProgressReporter displays real-time progress updates.
type ProgressReporter struct {
	source   CountsSource
	ticker   *time.Ticker
	done     chan struct{}
	finished chan struct{}
	writer   io.Writer
	active   int32
	start    time.Time
	onTick   func(tracker.Counts)
}

// NewProgressReporter creates a progress reporter that updates at the given interval.
func NewProgressReporter(source CountsSource, interval time.Duration, writer io.Writer) *ProgressReporter {
	if writer == nil {
		writer = io.Discard
	}
	return &ProgressReporter{
		source:   source,
		ticker:   time.NewTicker(interval),
		done:     make(chan struct{}),
		finished: make(chan struct{}),
		writer:   writer,
		start:    time.Now(),
	}
}

// OnTick registers fn to receive the counts on every update. It must be set
// before Start.
func (p *ProgressReporter) OnTick(fn func(tracker.Counts)) {
	p.onTick = fn
}

// Start begins displaying progress updates in a background goroutine.
func (p *ProgressReporter) Start() {
	if !atomic.CompareAndSwapInt32(&p.active, 0, 1) {
		return // already running
	}
	go p.run()
}

// Stop halts progress updates.
func (p *ProgressReporter) Stop() {
	if atomic.CompareAndSwapInt32(&p.active, 1, 0) {
		close(p.done)
		p.ticker.Stop()
		<-p.finished
		fmt.Fprintln(p.writer)
		return
	}
	p.ticker.Stop()
}

func (p *ProgressReporter) run() {
	defer close(p.finished)
	for {
		select {
		case <-p.ticker.C:
			c := p.source.Counts()
			if p.onTick != nil {
				p.onTick(c)
			}
			fmt.Fprint(p.writer, progressLine(time.Since(p.start), c))
		case <-p.done:
			return
		}
	}
}

func progressLine(elapsed time.Duration, c tracker.Counts) string {
	return fmt.Sprintf("\r[%s] Jobs: %d | Pending: %d | Queued: %d | Running: %d | Completed: %d | Failed: %d | Timed out: %d",
		elapsed.Truncate(time.Second), c.Registered, c.Pending+c.Matched, c.Queued, c.Running, c.Completed, c.Failed, c.TimedOut)
}
