package runner

import (
	"context"
	"fmt"
	"sync/atomic"
	"time"

	"github.com/sirupsen/logrus"
	"golang.org/x/sync/semaphore"

	"github.com/torosent/runnerprobe/internal/httpclient"
	"github.com/torosent/runnerprobe/internal/logging"
	"github.com/torosent/runnerprobe/internal/tracker"
)

// WorkflowDispatcher triggers one workflow run.
type WorkflowDispatcher interface {
	Dispatch(ctx context.Context, workflow, ref string, inputs map[string]string) httpclient.Result
}

// FailureLogger logs failed submissions.
type FailureLogger interface {
	LogFailure(err error)
}

type logrusFailureLogger struct {
	entry *logrus.Entry
}

// NewFailureLogger logs each failure as a warning on entry.
func NewFailureLogger(entry *logrus.Entry) FailureLogger {
	return logrusFailureLogger{entry: logging.Or(entry)}
}

func (l logrusFailureLogger) LogFailure(err error) {
	l.entry.WithError(err).Warn("submission failed")
}

// DispatcherOptions configure a Dispatcher.
type DispatcherOptions struct {
	MaxConcurrent int    // in-flight submission bound, normally the runner pool size
	Ref           string // git ref every dispatch targets
	FailureLogger FailureLogger
	Now           func() time.Time
	// CallTimeout bounds one dispatch call, retries included. Calls are
	// detached from the caller's cancellation once started, so an abort
	// does not discard a request the service may already have accepted.
	CallTimeout time.Duration
}

const defaultCallTimeout = 2 * time.Minute

// DispatchStats counts submissions.
type DispatchStats struct {
	Submitted   int64
	Accepted    int64
	Failed      int64
	MaxInFlight int64
}

// Dispatcher submits intents with bounded concurrency and tracks every
// accepted intent in the table. It never returns an error to its caller;
// failures are counted and reported through the outcome.
type Dispatcher struct {
	client WorkflowDispatcher
	table  *tracker.Table
	sem    *semaphore.Weighted
	opts   DispatcherOptions

	inFlight    atomic.Int64
	maxInFlight atomic.Int64
	submitted   atomic.Int64
	accepted    atomic.Int64
	failed      atomic.Int64
}

// NewDispatcher creates a Dispatcher.
func NewDispatcher(client WorkflowDispatcher, table *tracker.Table, opts DispatcherOptions) *Dispatcher {
	if opts.MaxConcurrent <= 0 {
		opts.MaxConcurrent = 1
	}
	if opts.Ref == "" {
		opts.Ref = "main"
	}
	if opts.FailureLogger == nil {
		opts.FailureLogger = NewFailureLogger(nil)
	}
	if opts.Now == nil {
		opts.Now = time.Now
	}
	if opts.CallTimeout <= 0 {
		opts.CallTimeout = defaultCallTimeout
	}
	return &Dispatcher{
		client: client,
		table:  table,
		sem:    semaphore.NewWeighted(int64(opts.MaxConcurrent)),
		opts:   opts,
	}
}

// Submit dispatches one intent. The intent is reserved as pending with the
// time just before the call and forgotten again if the service rejects it.
// ctx only governs the wait for a free slot.
func (d *Dispatcher) Submit(ctx context.Context, intent tracker.Intent) httpclient.Outcome {
	d.submitted.Add(1)
	if err := d.sem.Acquire(ctx, 1); err != nil {
		d.failed.Add(1)
		d.opts.FailureLogger.LogFailure(fmt.Errorf("dispatch %s (%s): %w", intent.Workflow, intent.Tag, err))
		return httpclient.OutcomeFatal
	}
	defer d.sem.Release(1)

	n := d.inFlight.Add(1)
	defer d.inFlight.Add(-1)
	for {
		peak := d.maxInFlight.Load()
		if n <= peak || d.maxInFlight.CompareAndSwap(peak, n) {
			break
		}
	}

	if err := d.table.Reserve(intent, d.opts.Now()); err != nil {
		d.failed.Add(1)
		d.opts.FailureLogger.LogFailure(err)
		return httpclient.OutcomeFatal
	}
	callCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), d.opts.CallTimeout)
	res := d.client.Dispatch(callCtx, intent.Workflow, d.opts.Ref, intent.Inputs)
	cancel()
	if !res.OK() {
		d.table.Drop(intent.Tag)
		d.failed.Add(1)
		d.opts.FailureLogger.LogFailure(fmt.Errorf("dispatch %s (%s): %w", intent.Workflow, intent.Tag, res.Error()))
		return res.Outcome
	}
	if err := d.table.Accept(intent.Tag); err != nil {
		d.failed.Add(1)
		d.opts.FailureLogger.LogFailure(err)
		return httpclient.OutcomeFatal
	}
	d.accepted.Add(1)
	return httpclient.OutcomeOK
}

// InFlight returns the number of submissions currently holding a slot.
func (d *Dispatcher) InFlight() int64 {
	return d.inFlight.Load()
}

// MaxObservedInFlight returns the highest concurrent submission count seen.
func (d *Dispatcher) MaxObservedInFlight() int64 {
	return d.maxInFlight.Load()
}

// Stats returns the submission counters.
func (d *Dispatcher) Stats() DispatchStats {
	return DispatchStats{
		Submitted:   d.submitted.Load(),
		Accepted:    d.accepted.Load(),
		Failed:      d.failed.Load(),
		MaxInFlight: d.maxInFlight.Load(),
	}
}
