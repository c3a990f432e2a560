// Package harness wires the limiter, API client, correlator, poller and
// load generator into a single load test and turns what they observed into
// TestMetrics.
package harness

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"
	"go.opentelemetry.io/otel/trace"
	"go.opentelemetry.io/otel/trace/noop"
	"golang.org/x/sync/errgroup"

	"github.com/torosent/runnerprobe/internal/clientmetrics"
	"github.com/torosent/runnerprobe/internal/feeder"
	"github.com/torosent/runnerprobe/internal/github"
	"github.com/torosent/runnerprobe/internal/httpclient"
	"github.com/torosent/runnerprobe/internal/logging"
	"github.com/torosent/runnerprobe/internal/metrics"
	"github.com/torosent/runnerprobe/internal/output"
	"github.com/torosent/runnerprobe/internal/poller"
	"github.com/torosent/runnerprobe/internal/runner"
	"github.com/torosent/runnerprobe/internal/snapshot"
	"github.com/torosent/runnerprobe/internal/tracing"
	"github.com/torosent/runnerprobe/internal/tracker"
)

// Environment describes the repository under test and how to reach it.
type Environment struct {
	APIURL            string
	Owner             string
	Repo              string
	Ref               string
	Auth              httpclient.AuthProvider
	RunnerCount       int
	RequestsPerSecond float64
	QuotaFloor        int
	Timeout           time.Duration
	MaxAttempts       int
	MaxWait           time.Duration
	TagInput          string
	Inputs            map[string]string
	InputFeeder       feeder.Feeder // optional per-dispatch records for Inputs placeholders
}

// Options tune one run. Zero values select the defaults.
type Options struct {
	RunID         string // generated from the profile name when empty
	MaxConcurrent int    // in-flight dispatch bound; defaults to RunnerCount

	Strategy    string // tracker.StrategyTag or tracker.StrategyOrdinal
	InspectJobs int

	PollMode     string
	PollInterval time.Duration
	JobTimeout   time.Duration
	MatchTimeout time.Duration
	DrainTimeout time.Duration
	PollWorkers  int
	Snapshots    bool
	SnapshotSink snapshot.Sink

	TimeScale    float64
	Seed         int64
	TimelineStep time.Duration

	Tracer         trace.Tracer
	PropagateTrace bool
	Metrics        *clientmetrics.Metrics

	Progress         io.Writer // live progress line; nil disables it
	ProgressInterval time.Duration

	HTTPClient       *http.Client
	TransportDelay   time.Duration
	ServerErrorDelay time.Duration

	Logger *logrus.Entry
	Now    func() time.Time
}

const (
	defaultPollInterval     = 30 * time.Second
	defaultDrainTimeout     = 45 * time.Minute
	defaultProgressInterval = time.Second
	defaultTimelineStep     = 5 * time.Second
)

func (o *Options) normalize(env Environment) {
	if o.MaxConcurrent <= 0 {
		o.MaxConcurrent = env.RunnerCount
	}
	if o.Strategy == "" {
		o.Strategy = tracker.StrategyTag
	}
	if o.PollInterval <= 0 {
		o.PollInterval = defaultPollInterval
	}
	if o.DrainTimeout <= 0 {
		o.DrainTimeout = defaultDrainTimeout
	}
	if o.TimeScale <= 0 {
		o.TimeScale = 1
	}
	if o.TimelineStep <= 0 {
		o.TimelineStep = defaultTimelineStep
	}
	if o.ProgressInterval <= 0 {
		o.ProgressInterval = defaultProgressInterval
	}
	if o.Tracer == nil {
		o.Tracer = noop.NewTracerProvider().Tracer("runnerprobe")
	}
	o.Logger = logging.Or(o.Logger)
	if o.Now == nil {
		o.Now = time.Now
	}
}

// NewRunID formats <profile>_<YYYYMMDD_HHMMSS>_<8 hex chars>.
func NewRunID(profile string, at time.Time) string {
	suffix := strings.ReplaceAll(uuid.NewString(), "-", "")[:8]
	return fmt.Sprintf("%s_%s_%s", profile, at.Format("20060102_150405"), suffix)
}

// RunLoadTest dispatches the profile's load against env, follows every run
// to a terminal state (or the drain deadline) and returns the resulting
// metrics. When ctx is cancelled the metrics gathered so far are returned
// together with ctx's error.
func RunLoadTest(ctx context.Context, profile runner.Profile, env Environment, opts Options) (*metrics.TestMetrics, error) {
	if err := profile.Validate(); err != nil {
		return nil, err
	}
	if env.RunnerCount <= 0 {
		return nil, errors.New("runner count must be positive")
	}
	opts.normalize(env)
	mode, ok := poller.NewMode(opts.PollMode)
	if !ok {
		return nil, fmt.Errorf("unknown poll mode %q", opts.PollMode)
	}

	startedAt := opts.Now()
	if opts.RunID == "" {
		opts.RunID = NewRunID(profile.Name, startedAt)
	}
	log := opts.Logger.WithFields(logrus.Fields{"run_id": opts.RunID, "profile": profile.Name})

	runCtx, runSpan := tracing.StartPhaseSpan(ctx, opts.Tracer, opts.RunID, "run")

	collector := metrics.NewCollector()
	observers := []httpclient.Observer{collector}
	if opts.Metrics != nil {
		observers = append(observers, opts.Metrics)
	}
	limiter := httpclient.NewLimiter(httpclient.LimiterOptions{
		RequestsPerSecond: env.RequestsPerSecond,
		QuotaFloor:        env.QuotaFloor,
		MaxWait:           env.MaxWait,
	})
	hc := opts.HTTPClient
	if hc == nil {
		hc = httpclient.NewHTTPClient(env.Timeout)
	}
	api := httpclient.New(httpclient.Options{
		HTTPClient:       hc,
		Limiter:          limiter,
		Auth:             env.Auth,
		Tracer:           opts.Tracer,
		PropagateTrace:   opts.PropagateTrace,
		Observers:        observers,
		Logger:           log,
		MaxAttempts:      env.MaxAttempts,
		MaxWait:          env.MaxWait,
		TransportDelay:   opts.TransportDelay,
		ServerErrorDelay: opts.ServerErrorDelay,
	})
	gh, err := github.NewClient(api, github.Options{BaseURL: env.APIURL, Owner: env.Owner, Repo: env.Repo})
	if err != nil {
		tracing.EndSpan(runSpan, err)
		return nil, err
	}

	table := tracker.NewTable()
	strategy, err := newStrategy(runCtx, gh, env, opts, log)
	if err != nil {
		tracing.EndSpan(runSpan, err)
		return nil, err
	}

	var store *snapshot.Store
	if opts.Snapshots {
		store = snapshot.NewStore(opts.SnapshotSink)
	}
	poll := poller.New(gh, table, strategy, mode, poller.Options{
		Interval:     opts.PollInterval,
		JobTimeout:   opts.JobTimeout,
		MatchTimeout: opts.MatchTimeout,
		Workers:      opts.PollWorkers,
		Since:        startedAt,
		Snapshots:    store,
		Logger:       log,
		Now:          opts.Now,
	})
	dispatcher := runner.NewDispatcher(gh, table, runner.DispatcherOptions{
		MaxConcurrent: opts.MaxConcurrent,
		Ref:           env.Ref,
		FailureLogger: runner.NewFailureLogger(log),
		Now:           opts.Now,
	})
	gen, err := runner.NewGenerator(dispatcher, runner.GeneratorOptions{
		Profile:   profile,
		RunID:     opts.RunID,
		TagInput:  env.TagInput,
		Inputs:    env.Inputs,
		Feeder:    env.InputFeeder,
		TimeScale: opts.TimeScale,
		Seed:      opts.Seed,
		Logger:    log,
	})
	if err != nil {
		tracing.EndSpan(runSpan, err)
		return nil, err
	}

	reporter := startReporter(table, limiter, opts)

	log.WithFields(logrus.Fields{
		"pattern":  profile.Pattern,
		"duration": profile.Duration,
		"runners":  env.RunnerCount,
		"strategy": strategy.Name(),
		"mode":     mode.Name(),
	}).Info("load test started")

	genCtx, genSpan := tracing.StartPhaseSpan(runCtx, opts.Tracer, opts.RunID, "generate")
	pollCtx, stopPolling := context.WithCancel(runCtx)
	g, gctx := errgroup.WithContext(pollCtx)
	g.Go(func() error { return poll.Run(gctx) })
	res := gen.Run(genCtx)
	stopPolling()
	_ = g.Wait()
	tracing.EndSpan(genSpan, nil)
	log.WithFields(logrus.Fields{
		"submitted": res.Submitted,
		"accepted":  res.Accepted,
		"failed":    res.Failed,
	}).Info("dispatching finished")

	drainCtx, drainSpan := tracing.StartPhaseSpan(runCtx, opts.Tracer, opts.RunID, "drain")
	drainErr := poll.Drain(drainCtx, opts.DrainTimeout)
	tracing.EndSpan(drainSpan, drainErr)
	if drainErr != nil && ctx.Err() == nil {
		log.WithError(drainErr).Warn("drain deadline reached; unfinished jobs are reported as incomplete")
	}
	if reporter != nil {
		reporter.Stop()
	}

	endedAt := opts.Now()
	jobs := table.Jobs()
	if opts.Metrics != nil {
		opts.Metrics.SetJobCounts(table.Counts())
		for _, job := range jobs {
			opts.Metrics.ObserveJob(job)
		}
	}
	var snaps []snapshot.Snapshot
	if store != nil {
		snaps = store.All()
	}
	result := metrics.Build(metrics.Input{
		RunID:          opts.RunID,
		Profile:        profile.Name,
		Pattern:        string(profile.Pattern),
		Strategy:       strategy.Name(),
		StartedAt:      startedAt,
		EndedAt:        endedAt,
		RunnerCount:    env.RunnerCount,
		Dispatched:     res.Accepted,
		SubmitFailures: res.Failed,
		Jobs:           jobs,
		Snapshots:      snaps,
		API:            collector.Stats(endedAt.Sub(startedAt)),
		TimelineStep:   opts.TimelineStep,
	})
	tracing.EndSpan(runSpan, ctx.Err())

	log.WithFields(logrus.Fields{
		"completed": result.Counts.Completed,
		"failed":    result.Counts.Failed,
		"timed_out": result.Counts.TimedOut,
		"unmatched": result.Counts.Unmatched,
	}).Info("load test finished")
	if err := ctx.Err(); err != nil {
		return result, fmt.Errorf("load test interrupted: %w", err)
	}
	return result, nil
}

func newStrategy(ctx context.Context, gh *github.Client, env Environment, opts Options, log *logrus.Entry) (tracker.Strategy, error) {
	switch opts.Strategy {
	case tracker.StrategyTag:
		return &tracker.TagMatcher{TagInput: env.TagInput, InspectJobs: opts.InspectJobs, Logger: log}, nil
	case tracker.StrategyOrdinal:
		ctx, span := tracing.StartPhaseSpan(ctx, opts.Tracer, opts.RunID, "baseline")
		baseline, err := gh.LatestRunID(ctx, "")
		tracing.EndSpan(span, err)
		if err != nil {
			return nil, fmt.Errorf("read baseline run id: %w", err)
		}
		log.WithField("baseline", baseline).Debug("ordinal baseline recorded")
		return &tracker.OrdinalMatcher{Baseline: baseline, Logger: log}, nil
	default:
		return nil, fmt.Errorf("unknown correlation strategy %q", opts.Strategy)
	}
}

// startReporter drives the progress line and the live gauges from one ticker.
func startReporter(table *tracker.Table, limiter *httpclient.Limiter, opts Options) *output.ProgressReporter {
	if opts.Progress == nil && opts.Metrics == nil {
		return nil
	}
	w := opts.Progress
	if w == nil {
		w = io.Discard
	}
	reporter := output.NewProgressReporter(table, opts.ProgressInterval, w)
	if m := opts.Metrics; m != nil {
		reporter.OnTick(func(c tracker.Counts) {
			m.SetJobCounts(c)
			remaining, _ := limiter.Quota()
			m.SetQuota(remaining)
		})
	}
	reporter.Start()
	return reporter
}
