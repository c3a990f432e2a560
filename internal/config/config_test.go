package config_test

import (
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/torosent/runnerprobe/internal/config"
	"github.com/torosent/runnerprobe/internal/runner"
)

func noEnv(string) string { return "" }

func TestDefaults(t *testing.T) {
	cfg := config.Default()

	if cfg.Environment.RunnerCount != 4 {
		t.Errorf("RunnerCount = %d, want 4", cfg.Environment.RunnerCount)
	}
	if cfg.Environment.TagInput != "job_name" {
		t.Errorf("TagInput = %q, want job_name", cfg.Environment.TagInput)
	}
	if cfg.Polling.Interval != 30*time.Second || cfg.Polling.Mode != config.PollModePrecise {
		t.Errorf("Polling = %+v", cfg.Polling)
	}
	if cfg.Polling.JobTimeout != 30*time.Minute {
		t.Errorf("JobTimeout = %s, want 30m", cfg.Polling.JobTimeout)
	}
	if cfg.Correlation.Strategy != config.CorrelationTag {
		t.Errorf("Strategy = %q, want tag", cfg.Correlation.Strategy)
	}
	for _, name := range []string{"steady", "burst", "spike", "ramp"} {
		if _, ok := cfg.Profiles[name]; !ok {
			t.Errorf("missing built-in profile %q", name)
		}
	}
	spike := cfg.Profiles["spike"]
	if spike.NormalRate != 0.2 || spike.SpikeRate != 2.0 || spike.SpikeStart != 10*time.Minute || spike.SpikeDuration != 5*time.Minute {
		t.Errorf("spike = %+v", spike)
	}
}

func TestLoadConfigFileJSON(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "config.json")
	if err := os.WriteFile(path, []byte(`{
		"profile": "quick",
		"environment": {
			"owner": "acme",
			"repo": "runners",
			"token": "file-token",
			"runner_count": 2,
			"workflows": ["probe.yml"]
		},
		"profiles": {
			"quick": {"pattern": "steady", "jobs_per_minute": 6, "duration": "2m"}
		},
		"polling": {"interval": "5s", "snapshot_file": "snaps.jsonl"},
		"thresholds": ["queue_time:p95 < 60"]
	}`), 0o600); err != nil {
		t.Fatalf("write config: %v", err)
	}

	loader := config.Loader{Getenv: noEnv}
	cfg, err := loader.Load([]string{"--config", path})
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}
	if err := cfg.Validate(); err != nil {
		t.Fatalf("Validate() error = %v", err)
	}
	if cfg.ConfigFile != path {
		t.Errorf("ConfigFile = %q", cfg.ConfigFile)
	}
	if cfg.Environment.Token != "file-token" {
		t.Errorf("Token = %q", cfg.Environment.Token)
	}
	if cfg.Polling.Interval != 5*time.Second || cfg.Polling.SnapshotFile != "snaps.jsonl" {
		t.Errorf("Polling = %+v", cfg.Polling)
	}

	p, err := cfg.SelectedProfile()
	if err != nil {
		t.Fatalf("SelectedProfile() error = %v", err)
	}
	if p.Name != "quick" || p.Pattern != runner.PatternSteady || p.JobsPerMinute != 6 || p.Duration != 2*time.Minute {
		t.Errorf("profile = %+v", p)
	}
	if len(p.Workflows) != 1 || p.Workflows[0] != "probe.yml" {
		t.Errorf("profile workflows = %v, want environment fallback", p.Workflows)
	}
}

func TestLoadConfigFileYAML(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "config.yaml")
	if err := os.WriteFile(path, []byte(`
environment:
  owner: acme
  repo: runners
  token_file: /run/secrets/gh
  tag_input: test_run_id
  workflows: [probe.yml]
profiles:
  burst:
    burst_size: 8
    burst_interval: 120
    workflows: [heavy.yml, light.yml]
correlation:
  strategy: ordinal
output:
  json: true
  yaml: out/report.yaml
`), 0o600); err != nil {
		t.Fatalf("write config: %v", err)
	}

	loader := config.Loader{Getenv: noEnv}
	cfg, err := loader.Load([]string{"--config", path, "--profile", "burst", "--runner-count", "8"})
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}
	if err := cfg.Validate(); err != nil {
		t.Fatalf("Validate() error = %v", err)
	}

	if cfg.Environment.TagInput != "test_run_id" || cfg.Environment.RunnerCount != 8 {
		t.Errorf("Environment = %+v", cfg.Environment)
	}
	if cfg.Correlation.Strategy != config.CorrelationOrdinal {
		t.Errorf("Strategy = %q", cfg.Correlation.Strategy)
	}
	if !cfg.Output.JSON || cfg.Output.YAML != "out/report.yaml" {
		t.Errorf("Output = %+v", cfg.Output)
	}
	p, err := cfg.SelectedProfile()
	if err != nil {
		t.Fatalf("SelectedProfile() error = %v", err)
	}
	if p.BurstSize != 8 || p.BurstInterval != 2*time.Minute || p.Duration != 30*time.Minute {
		t.Errorf("burst = %+v", p)
	}
	if len(p.Workflows) != 2 || p.Workflows[0] != "heavy.yml" {
		t.Errorf("burst workflows = %v", p.Workflows)
	}
}

func TestLoadMissingConfigFile(t *testing.T) {
	loader := config.Loader{Getenv: noEnv}
	if _, err := loader.Load([]string{"--config", filepath.Join(t.TempDir(), "absent.yaml")}); err == nil {
		t.Fatal("expected error for missing config file")
	}
}

func TestSelectedProfileUnknown(t *testing.T) {
	cfg := config.Default()
	cfg.Profile = "nope"
	if _, err := cfg.SelectedProfile(); err == nil || !strings.Contains(err.Error(), "burst, ramp, spike, steady") {
		t.Fatalf("SelectedProfile() error = %v", err)
	}
}

func TestConfigValidationErrors(t *testing.T) {
	cfg := config.Default()
	cfg.Environment.RunnerCount = 0
	cfg.Environment.MaxAttempts = 0
	cfg.MaxConcurrent = 0
	cfg.Correlation.Strategy = "fuzzy"
	cfg.Polling.Mode = "sometimes"
	cfg.Polling.Interval = 0
	cfg.Polling.Snapshots = false
	cfg.Polling.SnapshotFile = "snaps.jsonl"
	cfg.Tracing.SampleRate = 2
	cfg.LogFormat = "xml"

	err := cfg.Validate()
	if err == nil {
		t.Fatal("expected validation error")
	}
	var verr config.ValidationError
	if !errors.As(err, &verr) {
		t.Fatalf("error type = %T, want ValidationError", err)
	}

	want := []string{
		"environment.owner is required",
		"environment.repo is required",
		"a token is required",
		"environment.runner_count must be >= 1",
		"environment.max_attempts must be >= 1",
		"max_concurrent must be >= 1",
		"correlation.strategy must be 'tag' or 'ordinal'",
		"polling.mode must be 'precise' or 'bulk'",
		"polling.interval must be > 0",
		"polling.snapshot_file requires polling.snapshots",
		"at least one workflow is required",
		"tracing.sample_rate must be between 0.0 and 1.0",
		`log_format "xml" is not supported`,
	}
	joined := strings.Join(verr.Issues(), "\n")
	for _, w := range want {
		if !strings.Contains(joined, w) {
			t.Errorf("missing issue %q in:\n%s", w, joined)
		}
	}
}

func TestTracingConfig(t *testing.T) {
	t.Setenv("OTEL_EXPORTER_OTLP_ENDPOINT", "")
	var tc config.TracingConfig
	if tc.Enabled() || tc.ShouldPropagate() {
		t.Error("empty tracing config should be disabled")
	}
	tc.Endpoint = "localhost:4317"
	if !tc.Enabled() || !tc.ShouldPropagate() {
		t.Error("endpoint should enable tracing and propagation")
	}
	off := false
	tc.Propagate = &off
	if tc.ShouldPropagate() {
		t.Error("explicit propagate=false ignored")
	}
}
