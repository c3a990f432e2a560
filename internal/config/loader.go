package config

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/spf13/pflag"
	"github.com/spf13/viper"
)

// TokenEnvVar is consulted when neither a token nor a token file is configured.
const TokenEnvVar = "GITHUB_TOKEN"

// Loader handles loading configuration from files and command-line arguments.
type Loader struct {
	// Getenv defaults to os.Getenv.
	Getenv func(string) string
}

// ErrHelpRequested is returned when the user requests help via --help flag.
var ErrHelpRequested = errors.New("help requested")

// NewLoader creates a new configuration Loader.
func NewLoader() *Loader {
	return &Loader{Getenv: os.Getenv}
}

// Load parses command-line arguments and configuration files to produce a Config.
func (l Loader) Load(args []string) (*Config, error) {
	cmd := newFlagCommand()
	if err := cmd.Flags().Parse(args); err != nil {
		if errors.Is(err, pflag.ErrHelp) {
			displayHelp(cmd)
			return nil, ErrHelpRequested
		}
		return nil, err
	}

	flagSet := cmd.Flags()
	if helpFlag := flagSet.Lookup("help"); helpFlag != nil {
		if wantsHelp, err := strconv.ParseBool(helpFlag.Value.String()); err == nil && wantsHelp {
			displayHelp(cmd)
			return nil, ErrHelpRequested
		}
	}

	// If no arguments provided and no config file, show help/usage
	if len(args) == 0 {
		displayHelp(cmd)
		return nil, ErrHelpRequested
	}
	return l.FromFlags(flagSet)
}

// FromFlags builds a Config from an already parsed flag set: defaults, then
// the config file named by --config, then explicitly set flags.
func (l Loader) FromFlags(flagSet *pflag.FlagSet) (*Config, error) {
	configPath := ""
	if f := flagSet.Lookup("config"); f != nil {
		configPath = strings.TrimSpace(f.Value.String())
	}

	cfgViper := viper.New()
	if configPath != "" {
		cfgViper.SetConfigFile(configPath)
		if err := cfgViper.ReadInConfig(); err != nil {
			return nil, err
		}
	}

	cfg := Default()
	cfg.ConfigFile = configPath

	if err := applyConfigSettings(cfg, cfgViper.AllSettings()); err != nil {
		return nil, err
	}
	if err := applyFlagOverrides(cfg, flagSet); err != nil {
		return nil, err
	}

	getenv := l.Getenv
	if getenv == nil {
		getenv = os.Getenv
	}
	if cfg.Environment.Token == "" && cfg.Environment.TokenFile == "" {
		cfg.Environment.Token = strings.TrimSpace(getenv(TokenEnvVar))
	}
	if cfg.Environment.Inputs == nil {
		cfg.Environment.Inputs = map[string]string{}
	}
	return cfg, nil
}

// applyConfigSettings applies settings from a config file to the Config struct.
func applyConfigSettings(cfg *Config, settings map[string]interface{}) error {
	if len(settings) == 0 {
		return nil
	}

	if err := setString(settings, &cfg.Profile, "profile"); err != nil {
		return err
	}
	if err := setInt(settings, &cfg.MaxConcurrent, "max_concurrent", "maxconcurrent"); err != nil {
		return err
	}
	if err := setString(settings, &cfg.HistoryDB, "history_db", "historydb"); err != nil {
		return err
	}
	if err := setString(settings, &cfg.MetricsAddr, "metrics_addr", "metricsaddr"); err != nil {
		return err
	}
	if err := setString(settings, &cfg.LogLevel, "log_level", "loglevel"); err != nil {
		return err
	}
	if err := setString(settings, &cfg.LogFormat, "log_format", "logformat"); err != nil {
		return err
	}
	if raw, ok := lookupSetting(settings, "thresholds"); ok {
		val, err := asStringSlice(raw)
		if err != nil {
			return fmt.Errorf("thresholds: %w", err)
		}
		cfg.Thresholds = val
	}

	if raw, ok := lookupSetting(settings, "environment"); ok {
		if err := applyEnvironment(&cfg.Environment, raw); err != nil {
			return fmt.Errorf("environment: %w", err)
		}
	}
	if raw, ok := lookupSetting(settings, "profiles", "test_profiles"); ok {
		if err := applyProfiles(cfg.Profiles, raw); err != nil {
			return fmt.Errorf("profiles: %w", err)
		}
	}
	if raw, ok := lookupSetting(settings, "polling"); ok {
		if err := applyPolling(&cfg.Polling, raw); err != nil {
			return fmt.Errorf("polling: %w", err)
		}
	}
	if raw, ok := lookupSetting(settings, "correlation"); ok {
		if err := applyCorrelation(&cfg.Correlation, raw); err != nil {
			return fmt.Errorf("correlation: %w", err)
		}
	}
	if raw, ok := lookupSetting(settings, "output"); ok {
		if err := applyOutput(&cfg.Output, raw); err != nil {
			return fmt.Errorf("output: %w", err)
		}
	}
	if raw, ok := lookupSetting(settings, "tracing"); ok {
		if err := applyTracing(&cfg.Tracing, raw); err != nil {
			return fmt.Errorf("tracing: %w", err)
		}
	}
	return nil
}

func applyEnvironment(env *Environment, value interface{}) error {
	settings, err := toStringKeyMap(value)
	if err != nil {
		return err
	}
	for _, s := range []struct {
		dst  *string
		keys []string
	}{
		{&env.Name, []string{"name"}},
		{&env.APIURL, []string{"api_url", "apiurl"}},
		{&env.Owner, []string{"owner"}},
		{&env.Repo, []string{"repo"}},
		{&env.Ref, []string{"ref"}},
		{&env.Token, []string{"token"}},
		{&env.TokenFile, []string{"token_file", "tokenfile"}},
		{&env.TagInput, []string{"tag_input", "taginput"}},
		{&env.InputsFile, []string{"inputs_file", "inputsfile"}},
	} {
		if err := setString(settings, s.dst, s.keys...); err != nil {
			return err
		}
	}
	if err := setInt(settings, &env.RunnerCount, "runner_count", "runnercount"); err != nil {
		return err
	}
	if err := setInt(settings, &env.QuotaFloor, "quota_floor", "quotafloor"); err != nil {
		return err
	}
	if err := setInt(settings, &env.MaxAttempts, "max_attempts", "maxattempts"); err != nil {
		return err
	}
	if err := setFloat(settings, &env.RequestsPerSecond, "requests_per_second", "rate_limit"); err != nil {
		return err
	}
	if err := setDuration(settings, &env.Timeout, "timeout"); err != nil {
		return err
	}
	if err := setDuration(settings, &env.MaxWait, "max_wait", "maxwait"); err != nil {
		return err
	}
	if raw, ok := lookupSetting(settings, "workflows"); ok {
		val, err := asStringSlice(raw)
		if err != nil {
			return fmt.Errorf("workflows: %w", err)
		}
		env.Workflows = val
	}
	if raw, ok := lookupSetting(settings, "inputs"); ok {
		val, err := asStringMap(raw)
		if err != nil {
			return fmt.Errorf("inputs: %w", err)
		}
		env.Inputs = val
	}
	return nil
}

// applyProfiles merges each named profile onto the built-in one of the same
// name, if any.
func applyProfiles(profiles map[string]Profile, value interface{}) error {
	entries, err := toStringKeyMap(value)
	if err != nil {
		return err
	}
	for name, raw := range entries {
		p, err := buildProfile(profiles[name], raw)
		if err != nil {
			return fmt.Errorf("%s: %w", name, err)
		}
		profiles[name] = p
	}
	return nil
}

func buildProfile(p Profile, value interface{}) (Profile, error) {
	settings, err := toStringKeyMap(value)
	if err != nil {
		return p, err
	}
	if err := setString(settings, &p.Pattern, "pattern", "dispatch_pattern"); err != nil {
		return p, err
	}
	if err := setString(settings, &p.Arrival, "arrival", "arrival_model"); err != nil {
		return p, err
	}
	for _, f := range []struct {
		dst *float64
		key string
	}{
		{&p.JobsPerMinute, "jobs_per_minute"},
		{&p.RampTo, "ramp_to"},
		{&p.NormalRate, "normal_rate"},
		{&p.SpikeRate, "spike_rate"},
	} {
		if err := setFloat(settings, f.dst, f.key); err != nil {
			return p, err
		}
	}
	if err := setInt(settings, &p.BurstSize, "burst_size"); err != nil {
		return p, err
	}
	for _, d := range []struct {
		dst *time.Duration
		key string
	}{
		{&p.BurstInterval, "burst_interval"},
		{&p.SpikeStart, "spike_start"},
		{&p.SpikeDuration, "spike_duration"},
		{&p.Duration, "duration"},
	} {
		if err := setDuration(settings, d.dst, d.key); err != nil {
			return p, err
		}
	}
	if raw, ok := lookupSetting(settings, "duration_minutes"); ok {
		minutes, err := asFloat64(raw)
		if err != nil {
			return p, fmt.Errorf("duration_minutes: %w", err)
		}
		p.Duration = time.Duration(minutes * float64(time.Minute))
	}
	if raw, ok := lookupSetting(settings, "workflows"); ok {
		val, err := asStringSlice(raw)
		if err != nil {
			return p, fmt.Errorf("workflows: %w", err)
		}
		p.Workflows = val
	}
	return p, nil
}

func applyPolling(p *PollingConfig, value interface{}) error {
	settings, err := toStringKeyMap(value)
	if err != nil {
		return err
	}
	var mode string
	if err := setString(settings, &mode, "mode"); err != nil {
		return err
	}
	if mode != "" {
		p.Mode = PollMode(strings.ToLower(mode))
	}
	for _, d := range []struct {
		dst *time.Duration
		key string
	}{
		{&p.Interval, "interval"},
		{&p.JobTimeout, "job_timeout"},
		{&p.MatchTimeout, "match_timeout"},
		{&p.DrainTimeout, "drain_timeout"},
	} {
		if err := setDuration(settings, d.dst, d.key); err != nil {
			return err
		}
	}
	if err := setInt(settings, &p.Workers, "workers"); err != nil {
		return err
	}
	if err := setBool(settings, &p.Snapshots, "snapshots"); err != nil {
		return err
	}
	return setString(settings, &p.SnapshotFile, "snapshot_file")
}

func applyCorrelation(c *CorrelationConfig, value interface{}) error {
	settings, err := toStringKeyMap(value)
	if err != nil {
		return err
	}
	var strategy string
	if err := setString(settings, &strategy, "strategy"); err != nil {
		return err
	}
	if strategy != "" {
		c.Strategy = CorrelationStrategy(strings.ToLower(strategy))
	}
	return setInt(settings, &c.InspectJobs, "inspect_jobs")
}

func applyOutput(o *OutputConfig, value interface{}) error {
	settings, err := toStringKeyMap(value)
	if err != nil {
		return err
	}
	if err := setBool(settings, &o.JSON, "json"); err != nil {
		return err
	}
	if err := setString(settings, &o.YAML, "yaml"); err != nil {
		return err
	}
	return setString(settings, &o.HTML, "html")
}

func applyTracing(t *TracingConfig, value interface{}) error {
	settings, err := toStringKeyMap(value)
	if err != nil {
		return err
	}
	if err := setString(settings, &t.Endpoint, "endpoint"); err != nil {
		return err
	}
	if err := setString(settings, &t.Protocol, "protocol"); err != nil {
		return err
	}
	if err := setString(settings, &t.ServiceName, "service_name"); err != nil {
		return err
	}
	if err := setFloat(settings, &t.SampleRate, "sample_rate"); err != nil {
		return err
	}
	if err := setBool(settings, &t.Insecure, "insecure"); err != nil {
		return err
	}
	if raw, ok := lookupSetting(settings, "propagate"); ok {
		val, err := asBool(raw)
		if err != nil {
			return fmt.Errorf("propagate: %w", err)
		}
		t.Propagate = &val
	}
	return nil
}
