package config

import (
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/torosent/runnerprobe/internal/runner"
	"github.com/torosent/runnerprobe/internal/tracing"
)

// Config is everything one probe run needs.
type Config struct {
	Profile       string             `mapstructure:"profile"`
	Environment   Environment        `mapstructure:"environment"`
	Profiles      map[string]Profile `mapstructure:"profiles"`
	Polling       PollingConfig      `mapstructure:"polling"`
	Correlation   CorrelationConfig  `mapstructure:"correlation"`
	Output        OutputConfig       `mapstructure:"output"`
	MaxConcurrent int                `mapstructure:"max_concurrent"`
	HistoryDB     string             `mapstructure:"history_db"`
	MetricsAddr   string             `mapstructure:"metrics_addr"`
	LogLevel      string             `mapstructure:"log_level"`
	LogFormat     string             `mapstructure:"log_format"`
	Tracing       TracingConfig      `mapstructure:"tracing"`
	Thresholds    []string           `mapstructure:"thresholds"`
	ConfigFile    string             `mapstructure:"-"`
}

// Environment identifies the repository and runner pool under test.
type Environment struct {
	Name              string            `mapstructure:"name"`
	APIURL            string            `mapstructure:"api_url"`
	Owner             string            `mapstructure:"owner"`
	Repo              string            `mapstructure:"repo"`
	Ref               string            `mapstructure:"ref"`
	Token             string            `mapstructure:"token"`
	TokenFile         string            `mapstructure:"token_file"`
	RunnerCount       int               `mapstructure:"runner_count"`
	RequestsPerSecond float64           `mapstructure:"requests_per_second"`
	QuotaFloor        int               `mapstructure:"quota_floor"`
	Timeout           time.Duration     `mapstructure:"timeout"`
	MaxAttempts       int               `mapstructure:"max_attempts"`
	MaxWait           time.Duration     `mapstructure:"max_wait"`
	TagInput          string            `mapstructure:"tag_input"`
	Workflows         []string          `mapstructure:"workflows"`
	Inputs            map[string]string `mapstructure:"inputs"`
	InputsFile        string            `mapstructure:"inputs_file"`
}

// Profile is a load profile as written in the config file.
type Profile struct {
	Pattern       string        `mapstructure:"pattern"`
	Arrival       string        `mapstructure:"arrival"`
	JobsPerMinute float64       `mapstructure:"jobs_per_minute"`
	RampTo        float64       `mapstructure:"ramp_to"`
	BurstSize     int           `mapstructure:"burst_size"`
	BurstInterval time.Duration `mapstructure:"burst_interval"`
	NormalRate    float64       `mapstructure:"normal_rate"`
	SpikeRate     float64       `mapstructure:"spike_rate"`
	SpikeStart    time.Duration `mapstructure:"spike_start"`
	SpikeDuration time.Duration `mapstructure:"spike_duration"`
	Duration      time.Duration `mapstructure:"duration"`
	Workflows     []string      `mapstructure:"workflows"`
}

type PollMode string

const (
	PollModePrecise PollMode = "precise"
	PollModeBulk    PollMode = "bulk"
)

type PollingConfig struct {
	Interval     time.Duration `mapstructure:"interval"`
	Mode         PollMode      `mapstructure:"mode"`
	JobTimeout   time.Duration `mapstructure:"job_timeout"`
	MatchTimeout time.Duration `mapstructure:"match_timeout"`
	DrainTimeout time.Duration `mapstructure:"drain_timeout"`
	Workers      int           `mapstructure:"workers"`
	Snapshots    bool          `mapstructure:"snapshots"`
	SnapshotFile string        `mapstructure:"snapshot_file"`
}

type CorrelationStrategy string

const (
	CorrelationTag     CorrelationStrategy = "tag"
	CorrelationOrdinal CorrelationStrategy = "ordinal"
)

type CorrelationConfig struct {
	Strategy    CorrelationStrategy `mapstructure:"strategy"`
	InspectJobs int                 `mapstructure:"inspect_jobs"`
}

type OutputConfig struct {
	JSON bool   `mapstructure:"json"`
	YAML string `mapstructure:"yaml"`
	HTML string `mapstructure:"html"`
}

// TracingConfig controls OTLP span export.
type TracingConfig = tracing.Config

// Default returns a Config with every default filled in and the built-in profiles.
func Default() *Config {
	return &Config{
		Profile: "steady",
		Environment: Environment{
			Name:              "default",
			Ref:               "main",
			RunnerCount:       4,
			RequestsPerSecond: 1,
			QuotaFloor:        50,
			Timeout:           30 * time.Second,
			MaxAttempts:       5,
			MaxWait:           120 * time.Second,
			TagInput:          "job_name",
			Inputs:            map[string]string{},
		},
		Profiles: DefaultProfiles(),
		Polling: PollingConfig{
			Interval:     30 * time.Second,
			Mode:         PollModePrecise,
			JobTimeout:   30 * time.Minute,
			MatchTimeout: 10 * time.Minute,
			DrainTimeout: 45 * time.Minute,
			Workers:      8,
			Snapshots:    true,
		},
		Correlation: CorrelationConfig{
			Strategy:    CorrelationTag,
			InspectJobs: 3,
		},
		Tracing:       TracingConfig{SampleRate: 1},
		MaxConcurrent: 10,
		LogLevel:      "info",
		LogFormat:     "text",
	}
}

// SelectedProfile resolves the active profile to a runner profile. Profile
// workflows fall back to the environment workflows.
func (c Config) SelectedProfile() (runner.Profile, error) {
	p, ok := c.Profiles[c.Profile]
	if !ok {
		return runner.Profile{}, fmt.Errorf("unknown profile %q (available: %s)", c.Profile, strings.Join(c.ProfileNames(), ", "))
	}
	return p.RunnerProfile(c.Profile, c.Environment.Workflows), nil
}

// ProfileNames lists the configured profiles in sorted order.
func (c Config) ProfileNames() []string {
	names := make([]string, 0, len(c.Profiles))
	for name := range c.Profiles {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// RunnerProfile converts p for the generator.
func (p Profile) RunnerProfile(name string, fallbackWorkflows []string) runner.Profile {
	workflows := p.Workflows
	if len(workflows) == 0 {
		workflows = fallbackWorkflows
	}
	return runner.Profile{
		Name:          name,
		Pattern:       runner.Pattern(strings.ToLower(p.Pattern)),
		Arrival:       runner.ArrivalModel(strings.ToLower(p.Arrival)),
		JobsPerMinute: p.JobsPerMinute,
		RampTo:        p.RampTo,
		BurstSize:     p.BurstSize,
		BurstInterval: p.BurstInterval,
		NormalRate:    p.NormalRate,
		SpikeRate:     p.SpikeRate,
		SpikeStart:    p.SpikeStart,
		SpikeDuration: p.SpikeDuration,
		Duration:      p.Duration,
		Workflows:     append([]string(nil), workflows...),
	}
}

type ValidationError struct {
	issues []string
}

func (e ValidationError) Error() string {
	if len(e.issues) == 0 {
		return "validation failed"
	}
	return fmt.Sprintf("validation failed: %s", strings.Join(e.issues, "; "))
}

func (e ValidationError) Issues() []string {
	return append([]string(nil), e.issues...)
}

// Validate checks the config without touching the network.
func (c Config) Validate() error {
	var issues []string

	env := c.Environment
	if strings.TrimSpace(env.Owner) == "" {
		issues = append(issues, "environment.owner is required")
	}
	if strings.TrimSpace(env.Repo) == "" {
		issues = append(issues, "environment.repo is required")
	}
	if strings.TrimSpace(env.Ref) == "" {
		issues = append(issues, "environment.ref is required")
	}
	if strings.TrimSpace(env.Token) == "" && strings.TrimSpace(env.TokenFile) == "" {
		issues = append(issues, "a token is required (environment.token, environment.token_file or GITHUB_TOKEN)")
	}
	if env.RunnerCount < 1 {
		issues = append(issues, "environment.runner_count must be >= 1")
	}
	if env.RequestsPerSecond < 0 {
		issues = append(issues, "environment.requests_per_second must be >= 0")
	}
	if env.QuotaFloor < 0 {
		issues = append(issues, "environment.quota_floor must be >= 0")
	}
	if env.Timeout < 0 {
		issues = append(issues, "environment.timeout must be >= 0")
	}
	if env.MaxAttempts < 1 {
		issues = append(issues, "environment.max_attempts must be >= 1")
	}
	if env.MaxWait < 0 {
		issues = append(issues, "environment.max_wait must be >= 0")
	}
	if c.MaxConcurrent < 1 {
		issues = append(issues, "max_concurrent must be >= 1")
	}

	if c.Correlation.Strategy == CorrelationTag && strings.TrimSpace(env.TagInput) == "" {
		issues = append(issues, "environment.tag_input is required for tag correlation")
	}
	issues = append(issues, validateCorrelation(c.Correlation)...)
	issues = append(issues, validatePolling(c.Polling)...)

	if p, ok := c.Profiles[c.Profile]; !ok {
		issues = append(issues, fmt.Sprintf("profile %q is not defined", c.Profile))
	} else if err := p.RunnerProfile(c.Profile, env.Workflows).Validate(); err != nil {
		issues = append(issues, fmt.Sprintf("profiles.%s: %v", c.Profile, err))
	}

	if c.Tracing.SampleRate < 0 || c.Tracing.SampleRate > 1 {
		issues = append(issues, "tracing.sample_rate must be between 0.0 and 1.0")
	}
	switch strings.ToLower(c.LogFormat) {
	case "", "text", "json", "console":
	default:
		issues = append(issues, fmt.Sprintf("log_format %q is not supported", c.LogFormat))
	}

	if len(issues) > 0 {
		return ValidationError{issues: issues}
	}
	return nil
}

func validateCorrelation(c CorrelationConfig) []string {
	var issues []string
	switch c.Strategy {
	case CorrelationTag, CorrelationOrdinal:
	default:
		issues = append(issues, fmt.Sprintf("correlation.strategy must be 'tag' or 'ordinal', got %q", c.Strategy))
	}
	if c.InspectJobs < 0 {
		issues = append(issues, "correlation.inspect_jobs must be >= 0")
	}
	return issues
}

func validatePolling(p PollingConfig) []string {
	var issues []string
	switch p.Mode {
	case PollModePrecise, PollModeBulk:
	default:
		issues = append(issues, fmt.Sprintf("polling.mode must be 'precise' or 'bulk', got %q", p.Mode))
	}
	if p.Interval <= 0 {
		issues = append(issues, "polling.interval must be > 0")
	}
	if p.JobTimeout <= 0 {
		issues = append(issues, "polling.job_timeout must be > 0")
	}
	if p.MatchTimeout < 0 {
		issues = append(issues, "polling.match_timeout must be >= 0")
	}
	if p.DrainTimeout < 0 {
		issues = append(issues, "polling.drain_timeout must be >= 0")
	}
	if p.Workers < 1 {
		issues = append(issues, "polling.workers must be >= 1")
	}
	if p.SnapshotFile != "" && !p.Snapshots {
		issues = append(issues, "polling.snapshot_file requires polling.snapshots")
	}
	return issues
}
