// Command fakeactions serves the in-memory Actions API so runnerprobe can be
// exercised end to end without a real repository:
//
//	go run ./scripts/fakeactions --addr :8089 --runners 4 --job-duration 30s
//	runnerprobe --api-url http://localhost:8089 --owner acme --repo load --workflow probe.yml ...
package main

import (
	"context"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/sirupsen/logrus"
	"github.com/spf13/pflag"

	"github.com/torosent/runnerprobe/internal/github/githubtest"
	"github.com/torosent/runnerprobe/internal/logging"
)

func main() {
	fs := pflag.NewFlagSet("fakeactions", pflag.ExitOnError)
	addr := fs.String("addr", "127.0.0.1:8089", "Listen address")
	runners := fs.Int("runners", 4, "Size of the simulated runner pool")
	jobDuration := fs.Duration("job-duration", 30*time.Second, "How long each run occupies a runner")
	startDelay := fs.Duration("start-delay", 2*time.Second, "Minimum provisioning time before a run is picked up")
	visibility := fs.Duration("visibility-delay", 0, "Hide new runs from listings for this long")
	hideInputs := fs.Bool("hide-inputs", false, "Do not echo dispatch inputs in run documents")
	titleInput := fs.String("title-input", "", "Carry this dispatch input in the run's display title")
	jobNameInput := fs.String("job-name-input", "", "Carry this dispatch input in the job name")
	failEvery := fs.Int("fail-every", 0, "Conclude every Nth run with failure")
	token := fs.String("token", "", "Require this bearer token")
	rateLimit := fs.Int("rate-limit", 5000, "Reported API quota")
	logLevel := fs.String("log-level", "info", "Log level")
	if err := fs.Parse(os.Args[1:]); err != nil {
		logrus.WithError(err).Fatal("invalid flags")
	}

	if err := logging.Configure(os.Stderr, *logLevel, logging.FormatText); err != nil {
		logrus.Fatal(err)
	}

	srv, err := githubtest.Listen(*addr, githubtest.Options{
		Runners:         *runners,
		JobDuration:     *jobDuration,
		StartDelay:      *startDelay,
		VisibilityDelay: *visibility,
		HideInputs:      *hideInputs,
		TitleInput:      *titleInput,
		JobNameInput:    *jobNameInput,
		FailEvery:       *failEvery,
		Token:           *token,
		RateLimit:       *rateLimit,
	})
	if err != nil {
		logrus.WithError(err).Fatal("listen failed")
	}
	defer srv.Close()
	logrus.WithFields(logrus.Fields{"url": srv.URL(), "runners": *runners, "job_duration": *jobDuration}).Info("fake Actions API listening")

	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer cancel()
	<-ctx.Done()

	calls := srv.Calls()
	logrus.WithFields(logrus.Fields{
		"runs":      len(srv.Runs()),
		"dispatch":  calls["dispatch"],
		"list_runs": calls["list_runs"],
		"get_run":   calls["get_run"],
		"list_jobs": calls["list_jobs"],
	}).Info("shutting down")
}
