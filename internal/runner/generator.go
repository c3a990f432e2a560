package runner

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/sirupsen/logrus"
	"golang.org/x/sync/errgroup"

	"github.com/torosent/runnerprobe/internal/feeder"
	"github.com/torosent/runnerprobe/internal/httpclient"
	"github.com/torosent/runnerprobe/internal/logging"
	"github.com/torosent/runnerprobe/internal/tracker"
)

// State is the lifecycle position of a Generator.
type State int32

const (
	StateIdle State = iota
	StateRunning
	StateDraining
	StateDone
)

func (s State) String() string {
	switch s {
	case StateIdle:
		return "idle"
	case StateRunning:
		return "running"
	case StateDraining:
		return "draining"
	case StateDone:
		return "done"
	default:
		return fmt.Sprintf("state(%d)", int32(s))
	}
}

// Submitter accepts one intent. *Dispatcher satisfies it.
type Submitter interface {
	Submit(ctx context.Context, intent tracker.Intent) httpclient.Outcome
}

// GeneratorOptions configure a Generator.
type GeneratorOptions struct {
	Profile  Profile
	RunID    string            // prefix of every correlation tag
	TagInput string            // dispatch input that carries the tag
	Inputs   map[string]string // extra inputs sent with every dispatch
	// Feeder, when set, supplies a record per dispatch whose fields fill
	// {{field}} placeholders in Inputs.
	Feeder feeder.Feeder
	// TimeScale multiplies every wait. 1 runs in real time; 0.001 makes a
	// minute of profile time pass in 60ms.
	TimeScale float64
	Seed      int64
	Logger    *logrus.Entry
}

// Cycle is one submission cycle of a run.
type Cycle struct {
	Offset time.Duration // profile time since start, unscaled
	Count  int
}

// GenerateResult summarises a finished run.
type GenerateResult struct {
	Submitted int
	Accepted  int
	Failed    int
	Cycles    []Cycle
	StartedAt time.Time
	EndedAt   time.Time
}

// Generator drives submissions following a profile. It moves from idle to
// running, stops creating work when the profile duration elapses or its
// context ends, then drains in-flight submissions before reporting done.
type Generator struct {
	sub     Submitter
	opts    GeneratorOptions
	plan    *patternPlan
	arrival arrivalModel
	log     *logrus.Entry

	state    atomic.Int32
	next     atomic.Uint64
	wg       sync.WaitGroup
	accepted atomic.Int64
	failed   atomic.Int64
}

// NewGenerator validates the profile and returns an idle Generator.
func NewGenerator(sub Submitter, opts GeneratorOptions) (*Generator, error) {
	if sub == nil {
		return nil, fmt.Errorf("generator requires a submitter")
	}
	if err := opts.Profile.Validate(); err != nil {
		return nil, err
	}
	if opts.TimeScale <= 0 {
		opts.TimeScale = 1
	}
	if opts.TagInput == "" {
		opts.TagInput = "job_name"
	}
	return &Generator{
		sub:     sub,
		opts:    opts,
		plan:    compilePatternPlan(opts.Profile),
		arrival: newArrivalModel(opts.Profile.Arrival, opts.Seed),
		log: logging.Or(opts.Logger).WithFields(logrus.Fields{
			"profile": opts.Profile.Name,
			"pattern": opts.Profile.Pattern,
		}),
	}, nil
}

// State returns the current lifecycle state.
func (g *Generator) State() State {
	return State(g.state.Load())
}

// Run executes the profile. It may be called once.
func (g *Generator) Run(ctx context.Context) GenerateResult {
	if !g.state.CompareAndSwap(int32(StateIdle), int32(StateRunning)) {
		return GenerateResult{}
	}
	res := GenerateResult{StartedAt: time.Now()}
	g.log.WithField("duration", g.opts.Profile.Duration).Info("load generation started")

	// Cycles are scheduled on profile time so slow submissions do not shift
	// later cycles.
	var offset time.Duration
	for offset < g.opts.Profile.Duration {
		if !g.sleepUntil(ctx, res.StartedAt.Add(g.scale(offset))) {
			break
		}
		count, interval := g.cycle(ctx, offset)
		if count > 0 {
			res.Cycles = append(res.Cycles, Cycle{Offset: offset, Count: count})
			res.Submitted += count
		}
		if interval <= 0 {
			interval = time.Nanosecond
		}
		offset += interval
	}

	g.state.Store(int32(StateDraining))
	g.log.WithField("submitted", res.Submitted).Debug("draining in-flight submissions")
	g.wg.Wait()
	g.state.Store(int32(StateDone))

	res.Accepted = int(g.accepted.Load())
	res.Failed = int(g.failed.Load())
	res.EndedAt = time.Now()
	g.log.WithFields(logrus.Fields{
		"submitted": res.Submitted,
		"accepted":  res.Accepted,
		"failed":    res.Failed,
	}).Info("load generation finished")
	return res
}

// idleRecheck is how long a rate-driven cycle waits when the rate is zero.
const idleRecheck = time.Second

// cycle launches this cycle's submissions and returns how many, and the
// profile-time gap until the next cycle.
func (g *Generator) cycle(ctx context.Context, offset time.Duration) (int, time.Duration) {
	p := g.opts.Profile
	if p.Pattern == PatternBurst {
		g.burst(ctx, p.BurstSize)
		return p.BurstSize, p.BurstInterval
	}

	rate, ok := g.plan.rateAt(offset)
	if !ok || rate <= 0 {
		return 0, g.clip(offset, idleRecheck)
	}
	g.launch(ctx, g.intent(ctx))
	return 1, g.clip(offset, g.arrival.gap(rate))
}

// clip shortens gap so the next cycle lands no later than the end of the
// current rate segment, where the rate is re-read.
func (g *Generator) clip(offset, gap time.Duration) time.Duration {
	if boundary := g.plan.nextBoundary(offset); boundary > offset && offset+gap > boundary {
		return boundary - offset
	}
	return gap
}

func (g *Generator) burst(ctx context.Context, n int) {
	intents := make([]tracker.Intent, n)
	for i := range intents {
		intents[i] = g.intent(ctx)
	}
	g.wg.Add(1)
	go func() {
		defer g.wg.Done()
		var eg errgroup.Group
		for _, intent := range intents {
			intent := intent
			eg.Go(func() error {
				g.submit(ctx, intent)
				return nil
			})
		}
		_ = eg.Wait()
	}()
}

func (g *Generator) launch(ctx context.Context, intent tracker.Intent) {
	g.wg.Add(1)
	go func() {
		defer g.wg.Done()
		g.submit(ctx, intent)
	}()
}

func (g *Generator) submit(ctx context.Context, intent tracker.Intent) {
	if g.sub.Submit(ctx, intent) == httpclient.OutcomeOK {
		g.accepted.Add(1)
		return
	}
	g.failed.Add(1)
}

// intent builds the next submission, choosing workflows round-robin.
func (g *Generator) intent(ctx context.Context) tracker.Intent {
	workflows := g.opts.Profile.Workflows
	wf := workflows[int((g.next.Add(1)-1)%uint64(len(workflows)))]
	tag := tracker.NewTag(g.opts.RunID)
	var rec feeder.Record
	if g.opts.Feeder != nil {
		var err error
		if rec, err = g.opts.Feeder.Next(ctx); err != nil && ctx.Err() == nil {
			g.log.WithError(err).Warn("no dataset record; dispatching with static inputs")
		}
	}
	inputs := feeder.Expand(g.opts.Inputs, rec)
	inputs[g.opts.TagInput] = tag
	return tracker.Intent{Tag: tag, Workflow: wf, Inputs: inputs, CreatedAt: time.Now()}
}

// sleepUntil waits for the wall-clock instant at, returning false when ctx
// ends first.
func (g *Generator) sleepUntil(ctx context.Context, at time.Time) bool {
	if ctx.Err() != nil {
		return false
	}
	d := time.Until(at)
	if d <= 0 {
		return true
	}
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return false
	case <-timer.C:
		return true
	}
}

func (g *Generator) scale(d time.Duration) time.Duration {
	return time.Duration(float64(d) * g.opts.TimeScale)
}
