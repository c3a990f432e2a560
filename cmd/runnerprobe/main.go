package main

import (
	"context"
	"fmt"
	"io"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"

	"github.com/torosent/runnerprobe/internal/auth"
	"github.com/torosent/runnerprobe/internal/clientmetrics"
	"github.com/torosent/runnerprobe/internal/config"
	"github.com/torosent/runnerprobe/internal/feeder"
	"github.com/torosent/runnerprobe/internal/harness"
	"github.com/torosent/runnerprobe/internal/history"
	"github.com/torosent/runnerprobe/internal/logging"
	"github.com/torosent/runnerprobe/internal/metrics"
	"github.com/torosent/runnerprobe/internal/output"
	"github.com/torosent/runnerprobe/internal/snapshot"
	"github.com/torosent/runnerprobe/internal/threshold"
	"github.com/torosent/runnerprobe/internal/tracing"
)

const (
	progressInterval = time.Second
	shutdownTimeout  = 5 * time.Second
)

func main() {
	if err := run(os.Args[1:]); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

func run(args []string) error {
	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer cancel()

	root := newRootCommand(os.Stdout, os.Stderr)
	root.SetArgs(args)
	return root.ExecuteContext(ctx)
}

func newRootCommand(stdout, stderr io.Writer) *cobra.Command {
	root := &cobra.Command{
		Use:           "runnerprobe",
		Short:         "Measure queue and execution times of a self-hosted Actions runner pool under load",
		SilenceErrors: true,
		SilenceUsage:  true,
		Args:          cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			if cmd.Flags().NFlag() == 0 {
				return cmd.Help()
			}
			cfg, err := config.NewLoader().FromFlags(cmd.Flags())
			if err != nil {
				return err
			}
			return probe(cmd.Context(), cfg, stdout, stderr)
		},
	}
	root.SetOut(stdout)
	root.SetErr(stderr)
	config.RegisterFlags(root)
	root.AddCommand(newHistoryCommand(stdout))
	return root
}

// probe runs one load test and reports on it. A failed threshold or an
// interrupted run is returned as an error after the report is written.
func probe(ctx context.Context, cfg *config.Config, stdout, stderr io.Writer) error {
	if err := cfg.Validate(); err != nil {
		return err
	}
	if err := logging.Configure(stderr, cfg.LogLevel, logging.Format(cfg.LogFormat)); err != nil {
		return err
	}
	profile, err := cfg.SelectedProfile()
	if err != nil {
		return err
	}
	thresholds, err := threshold.ParseMultiple(cfg.Thresholds)
	if err != nil {
		return err
	}
	log := logrus.WithField("environment", cfg.Environment.Name)

	tp, err := tracing.Init(ctx, cfg.Tracing)
	if err != nil {
		return err
	}
	defer func() {
		shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()
		if err := tp.Shutdown(shutdownCtx); err != nil {
			log.WithError(err).Warn("tracing shutdown failed")
		}
	}()

	provider := auth.New(cfg.Environment.Token, cfg.Environment.TokenFile)
	defer provider.Close()

	runID := harness.NewRunID(profile.Name, time.Now())
	opts := harness.Options{
		RunID:          runID,
		MaxConcurrent:  cfg.MaxConcurrent,
		Strategy:       string(cfg.Correlation.Strategy),
		InspectJobs:    cfg.Correlation.InspectJobs,
		PollMode:       string(cfg.Polling.Mode),
		PollInterval:   cfg.Polling.Interval,
		JobTimeout:     cfg.Polling.JobTimeout,
		MatchTimeout:   cfg.Polling.MatchTimeout,
		DrainTimeout:   cfg.Polling.DrainTimeout,
		PollWorkers:    cfg.Polling.Workers,
		Snapshots:      cfg.Polling.Snapshots,
		Tracer:         tp.Tracer(),
		PropagateTrace: tp.ShouldPropagate(),
		Logger:         log,
	}
	if !cfg.Output.JSON {
		opts.Progress = stdout
		opts.ProgressInterval = progressInterval
	}

	if cfg.Polling.SnapshotFile != "" {
		journal, err := snapshot.OpenJournal(cfg.Polling.SnapshotFile)
		if err != nil {
			return err
		}
		defer journal.Close()
		opts.SnapshotSink = journal
	}

	if cfg.MetricsAddr != "" {
		opts.Metrics = clientmetrics.New(runID)
		addr, serveErr, err := opts.Metrics.Serve(ctx, cfg.MetricsAddr)
		if err != nil {
			return err
		}
		log.WithField("addr", addr).Info("serving metrics")
		go func() {
			if err := <-serveErr; err != nil {
				log.WithError(err).Warn("metrics server stopped")
			}
		}()
	}

	env := environmentOf(cfg.Environment, provider)
	if cfg.Environment.InputsFile != "" {
		data, err := feeder.Open(cfg.Environment.InputsFile)
		if err != nil {
			return err
		}
		log.WithField("records", data.Len()).Debug("loaded input dataset")
		env.InputFeeder = data
	}

	result, runErr := harness.RunLoadTest(ctx, profile, env, opts)
	if result == nil {
		return runErr
	}

	var results []threshold.Result
	if len(thresholds) > 0 {
		results = threshold.NewEvaluator(thresholds).Evaluate(result)
	}
	if err := writeReports(cfg, result, results, stdout); err != nil {
		return err
	}
	if cfg.HistoryDB != "" {
		if err := record(cfg.HistoryDB, result); err != nil {
			return err
		}
	}

	if runErr != nil {
		return runErr
	}
	if failed := threshold.Failures(results); failed > 0 {
		return fmt.Errorf("%d of %d thresholds failed", failed, len(results))
	}
	return nil
}

func environmentOf(env config.Environment, provider auth.Provider) harness.Environment {
	return harness.Environment{
		APIURL:            env.APIURL,
		Owner:             env.Owner,
		Repo:              env.Repo,
		Ref:               env.Ref,
		Auth:              provider,
		RunnerCount:       env.RunnerCount,
		RequestsPerSecond: env.RequestsPerSecond,
		QuotaFloor:        env.QuotaFloor,
		Timeout:           env.Timeout,
		MaxAttempts:       env.MaxAttempts,
		MaxWait:           env.MaxWait,
		TagInput:          env.TagInput,
		Inputs:            env.Inputs,
	}
}

func writeReports(cfg *config.Config, result *metrics.TestMetrics, results []threshold.Result, stdout io.Writer) error {
	if cfg.Output.JSON {
		if err := output.PrintJSONReport(stdout, result); err != nil {
			return err
		}
	} else {
		output.PrintReport(stdout, result)
		if len(results) > 0 {
			output.PrintThresholdResults(stdout, results)
		}
	}

	if cfg.Output.YAML != "" {
		if err := writeFile(cfg.Output.YAML, func(w io.Writer) error {
			return output.WriteYAMLReport(w, result)
		}); err != nil {
			return fmt.Errorf("write YAML report: %w", err)
		}
	}
	if cfg.Output.HTML != "" {
		if err := writeFile(cfg.Output.HTML, func(w io.Writer) error {
			return output.GenerateHTMLReport(w, result, results)
		}); err != nil {
			return fmt.Errorf("write HTML report: %w", err)
		}
	}
	return nil
}

func writeFile(path string, write func(io.Writer) error) error {
	f, err := os.Create(path)
	if err != nil {
		return err
	}
	if err := write(f); err != nil {
		f.Close()
		return err
	}
	return f.Close()
}

func record(path string, result *metrics.TestMetrics) error {
	store, err := history.Open(path)
	if err != nil {
		return err
	}
	defer store.Close()
	if err := store.Save(result); err != nil {
		return fmt.Errorf("record run %s: %w", result.RunID, err)
	}
	return nil
}
