package config

import (
	"testing"
	"time"

	"github.com/spf13/pflag"
)

func TestApplyConfigSettings(t *testing.T) {
	cfg := Default()
	settings := map[string]interface{}{
		"profile":        "nightly",
		"max_concurrent": 3,
		"environment": map[string]interface{}{
			"owner":               "acme",
			"repo":                "runners",
			"runner_count":        6,
			"requests_per_second": "0.5",
			"timeout":             "10s",
			"workflows":           []interface{}{"probe.yml", "build.yml"},
			"inputs":              map[string]interface{}{"size": "small"},
		},
		"test_profiles": map[string]interface{}{
			"nightly": map[string]interface{}{
				"dispatch_pattern": "spike",
				"normal_rate":      0.5,
				"spike_rate":       3,
				"spike_start":      600,
				"spike_duration":   "5m",
				"duration_minutes": 20,
			},
			"steady": map[string]interface{}{
				"jobs_per_minute": 4,
			},
		},
		"polling": map[string]interface{}{
			"mode":     "BULK",
			"interval": 15,
		},
		"correlation": map[string]interface{}{"strategy": "ordinal"},
		"tracing":     map[string]interface{}{"endpoint": "localhost:4317", "propagate": false},
	}

	if err := applyConfigSettings(cfg, settings); err != nil {
		t.Fatalf("applyConfigSettings() error = %v", err)
	}

	if cfg.Profile != "nightly" || cfg.MaxConcurrent != 3 {
		t.Errorf("Profile = %q, MaxConcurrent = %d", cfg.Profile, cfg.MaxConcurrent)
	}
	env := cfg.Environment
	if env.Owner != "acme" || env.Repo != "runners" || env.RunnerCount != 6 {
		t.Errorf("Environment = %+v", env)
	}
	if env.RequestsPerSecond != 0.5 || env.Timeout != 10*time.Second {
		t.Errorf("RequestsPerSecond = %v, Timeout = %v", env.RequestsPerSecond, env.Timeout)
	}
	if len(env.Workflows) != 2 || env.Inputs["size"] != "small" {
		t.Errorf("Workflows = %v, Inputs = %v", env.Workflows, env.Inputs)
	}
	if env.Ref != "main" || env.TagInput != "job_name" {
		t.Errorf("defaults lost: Ref = %q, TagInput = %q", env.Ref, env.TagInput)
	}

	nightly := cfg.Profiles["nightly"]
	if nightly.Pattern != "spike" || nightly.SpikeRate != 3 || nightly.SpikeStart != 10*time.Minute ||
		nightly.SpikeDuration != 5*time.Minute || nightly.Duration != 20*time.Minute {
		t.Errorf("nightly = %+v", nightly)
	}
	steady := cfg.Profiles["steady"]
	if steady.JobsPerMinute != 4 || steady.Pattern != "steady" || steady.Duration != 30*time.Minute {
		t.Errorf("steady merge = %+v", steady)
	}
	if cfg.Polling.Mode != PollModeBulk || cfg.Polling.Interval != 15*time.Second {
		t.Errorf("Polling = %+v", cfg.Polling)
	}
	if cfg.Correlation.Strategy != CorrelationOrdinal || cfg.Correlation.InspectJobs != 3 {
		t.Errorf("Correlation = %+v", cfg.Correlation)
	}
	if cfg.Tracing.Endpoint != "localhost:4317" || cfg.Tracing.ShouldPropagate() {
		t.Errorf("Tracing = %+v", cfg.Tracing)
	}
}

func TestApplyConfigSettingsRejectsBadTypes(t *testing.T) {
	cfg := Default()
	err := applyConfigSettings(cfg, map[string]interface{}{
		"environment": map[string]interface{}{"runner_count": []interface{}{1}},
	})
	if err == nil {
		t.Fatal("expected error for list runner_count")
	}

	err = applyConfigSettings(cfg, map[string]interface{}{"profiles": "steady"})
	if err == nil {
		t.Fatal("expected error for non-map profiles")
	}
}

func TestApplyFlagOverrides(t *testing.T) {
	cfg := Default()

	fs := pflag.NewFlagSet("test", pflag.ContinueOnError)
	configureFlags(fs)

	args := []string{
		"--profile=burst",
		"--duration=2m",
		"--owner=acme",
		"--rps=2.5",
		"--workflow=a.yml",
		"--workflow=b.yml",
		"--input=size=large",
		"--poll-mode=Bulk",
		"--snapshots=false",
		"--threshold=queue_time:p95 < 300",
		"--threshold=failure_rate < 5",
	}
	if err := fs.Parse(args); err != nil {
		t.Fatalf("Parse() error = %v", err)
	}

	if err := applyFlagOverrides(cfg, fs); err != nil {
		t.Fatalf("applyFlagOverrides() error = %v", err)
	}

	if cfg.Profile != "burst" || cfg.Profiles["burst"].Duration != 2*time.Minute {
		t.Errorf("Profile = %q, duration = %v", cfg.Profile, cfg.Profiles["burst"].Duration)
	}
	if cfg.Profiles["steady"].Duration != 30*time.Minute {
		t.Errorf("duration override leaked into steady: %v", cfg.Profiles["steady"].Duration)
	}
	if cfg.Environment.Owner != "acme" || cfg.Environment.RequestsPerSecond != 2.5 {
		t.Errorf("Environment = %+v", cfg.Environment)
	}
	if len(cfg.Environment.Workflows) != 2 || cfg.Environment.Inputs["size"] != "large" {
		t.Errorf("Workflows = %v, Inputs = %v", cfg.Environment.Workflows, cfg.Environment.Inputs)
	}
	if cfg.Polling.Mode != PollModeBulk || cfg.Polling.Snapshots {
		t.Errorf("Polling = %+v", cfg.Polling)
	}
	if len(cfg.Thresholds) != 2 {
		t.Errorf("Thresholds = %v", cfg.Thresholds)
	}
	// Unchanged flags keep the defaults.
	if cfg.Environment.Ref != "main" || cfg.MaxConcurrent != 10 {
		t.Errorf("defaults changed: Ref = %q, MaxConcurrent = %d", cfg.Environment.Ref, cfg.MaxConcurrent)
	}
}

func TestLoader_Load(t *testing.T) {
	loader := Loader{Getenv: func(key string) string {
		if key == TokenEnvVar {
			return "env-token"
		}
		return ""
	}}
	cfg, err := loader.Load([]string{"--owner=acme", "--repo=runners", "--workflow=probe.yml"})
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}

	if cfg.Environment.Owner != "acme" || cfg.Environment.Token != "env-token" {
		t.Errorf("Environment = %+v", cfg.Environment)
	}
	if err := cfg.Validate(); err != nil {
		t.Errorf("Validate() error = %v", err)
	}
}

func TestLoader_TokenFileSkipsEnv(t *testing.T) {
	loader := Loader{Getenv: func(string) string { return "env-token" }}
	cfg, err := loader.Load([]string{"--token-file=/run/secrets/token"})
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}
	if cfg.Environment.Token != "" {
		t.Errorf("Token = %q, want empty when a token file is set", cfg.Environment.Token)
	}
}

func TestLoader_Help(t *testing.T) {
	if _, err := NewLoader().Load(nil); err != ErrHelpRequested {
		t.Fatalf("Load(nil) error = %v, want ErrHelpRequested", err)
	}
	if _, err := NewLoader().Load([]string{"--help"}); err != ErrHelpRequested {
		t.Fatalf("Load(--help) error = %v, want ErrHelpRequested", err)
	}
}
