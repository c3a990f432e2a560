package config

import (
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/spf13/cobra"
	"github.com/spf13/pflag"
)

// RegisterFlags registers all CLI flags to a cobra command.
func RegisterFlags(cmd *cobra.Command) {
	configureFlags(cmd.Flags())
}

// newFlagCommand creates a cobra command with all flags configured.
func newFlagCommand() *cobra.Command {
	cmd := &cobra.Command{
		Use:           "runnerprobe",
		SilenceErrors: true,
		SilenceUsage:  true,
	}
	cmd.SetOut(os.Stdout)
	configureFlags(cmd.Flags())
	return cmd
}

// configureFlags sets up all CLI flags on the provided flag set.
func configureFlags(flags *pflag.FlagSet) {
	flags.String("config", "", "Path to configuration file (JSON or YAML)")
	flags.StringP("profile", "p", "steady", "Load profile to run (steady, burst, spike, ramp or one from the config file)")
	flags.Duration("duration", 0, "Override the profile duration (e.g. 10m)")

	// Environment flags
	flags.String("api-url", "", "Actions API base URL (default https://api.github.com)")
	flags.String("owner", "", "Repository owner")
	flags.String("repo", "", "Repository name")
	flags.String("ref", "main", "Git ref workflows are dispatched on")
	flags.String("token-file", "", "Path to a file holding the API token (re-read on change)")
	flags.Int("runner-count", 4, "Number of runners in the pool under test")
	flags.StringSlice("workflow", nil, "Workflow file to dispatch (repeatable, round-robin)")
	flags.StringToString("input", nil, "Extra workflow input in key=value form")
	flags.String("tag-input", "job_name", "Workflow input that carries the correlation tag")
	flags.String("inputs-file", "", "CSV or JSON dataset whose rows fill {{field}} placeholders in workflow inputs")
	flags.Float64("rps", 1, "Maximum API calls per second across the whole run")
	flags.Int("max-concurrent", 10, "Maximum in-flight submissions")

	// Polling and correlation flags
	flags.String("correlation", string(CorrelationTag), "Run correlation strategy: 'tag' or 'ordinal'")
	flags.String("poll-mode", string(PollModePrecise), "Status polling mode: 'precise' or 'bulk'")
	flags.Duration("poll-interval", 0, "Interval between status polls (default 30s)")
	flags.Duration("job-timeout", 0, "Mark a job timed out this long after dispatch (default 30m)")
	flags.Duration("drain-timeout", 0, "Maximum wait for outstanding jobs after dispatching ends (default 45m)")
	flags.Bool("snapshots", true, "Record concurrency snapshots every poll cycle")
	flags.String("snapshot-file", "", "Append snapshots as JSON lines to this file")

	// Output flags
	flags.Bool("json-output", false, "Emit JSON formatted output")
	flags.String("yaml-output", "", "Write the YAML report to the specified file path")
	flags.String("html-output", "", "Generate HTML report to the specified file path")
	flags.String("history-db", "", "Record the run in this history database")
	flags.String("metrics-addr", "", "Serve Prometheus metrics on this address while running (e.g. :9090)")
	flags.String("log-level", "info", "Log level (debug, info, warn, error)")
	flags.String("log-format", "text", "Log format (text, json, console)")

	// Threshold flags
	flags.StringSlice("threshold", nil, "Breaking-point thresholds (repeatable, e.g., 'queue_time:p95 < 300')")
}

// displayHelp prints the help message for a command.
func displayHelp(cmd *cobra.Command) {
	out := cmd.OutOrStdout()
	fmt.Fprintf(out, "Usage: %s\n\nFlags:\n", cmd.UseLine())
	fs := cmd.Flags()
	fs.SetOutput(out)
	fs.PrintDefaults()
}

// applyFlagOverrides applies command-line flag values to the config, overriding
// values from the config file.
func applyFlagOverrides(cfg *Config, fs *pflag.FlagSet) error {
	var err error
	str := func(name string, dst *string) {
		if err == nil && fs.Changed(name) {
			var v string
			if v, err = fs.GetString(name); err == nil {
				*dst = strings.TrimSpace(v)
			}
		}
	}
	integer := func(name string, dst *int) {
		if err == nil && fs.Changed(name) {
			*dst, err = fs.GetInt(name)
		}
	}
	dur := func(name string, dst *time.Duration) {
		if err == nil && fs.Changed(name) {
			*dst, err = fs.GetDuration(name)
		}
	}
	boolean := func(name string, dst *bool) {
		if err == nil && fs.Changed(name) {
			*dst, err = fs.GetBool(name)
		}
	}

	str("profile", &cfg.Profile)
	str("api-url", &cfg.Environment.APIURL)
	str("owner", &cfg.Environment.Owner)
	str("repo", &cfg.Environment.Repo)
	str("ref", &cfg.Environment.Ref)
	str("token-file", &cfg.Environment.TokenFile)
	str("tag-input", &cfg.Environment.TagInput)
	str("inputs-file", &cfg.Environment.InputsFile)
	integer("runner-count", &cfg.Environment.RunnerCount)
	integer("max-concurrent", &cfg.MaxConcurrent)
	dur("poll-interval", &cfg.Polling.Interval)
	dur("job-timeout", &cfg.Polling.JobTimeout)
	dur("drain-timeout", &cfg.Polling.DrainTimeout)
	boolean("snapshots", &cfg.Polling.Snapshots)
	str("snapshot-file", &cfg.Polling.SnapshotFile)
	boolean("json-output", &cfg.Output.JSON)
	str("yaml-output", &cfg.Output.YAML)
	str("html-output", &cfg.Output.HTML)
	str("history-db", &cfg.HistoryDB)
	str("metrics-addr", &cfg.MetricsAddr)
	str("log-level", &cfg.LogLevel)
	str("log-format", &cfg.LogFormat)
	if err != nil {
		return err
	}

	if fs.Changed("correlation") {
		val, err := fs.GetString("correlation")
		if err != nil {
			return err
		}
		cfg.Correlation.Strategy = CorrelationStrategy(strings.ToLower(strings.TrimSpace(val)))
	}
	if fs.Changed("poll-mode") {
		val, err := fs.GetString("poll-mode")
		if err != nil {
			return err
		}
		cfg.Polling.Mode = PollMode(strings.ToLower(strings.TrimSpace(val)))
	}
	if fs.Changed("rps") {
		val, err := fs.GetFloat64("rps")
		if err != nil {
			return err
		}
		cfg.Environment.RequestsPerSecond = val
	}
	if fs.Changed("workflow") {
		val, err := fs.GetStringSlice("workflow")
		if err != nil {
			return err
		}
		cfg.Environment.Workflows = val
	}
	if fs.Changed("input") {
		val, err := fs.GetStringToString("input")
		if err != nil {
			return err
		}
		if cfg.Environment.Inputs == nil {
			cfg.Environment.Inputs = map[string]string{}
		}
		for k, v := range val {
			cfg.Environment.Inputs[k] = v
		}
	}
	if fs.Changed("threshold") {
		val, err := fs.GetStringSlice("threshold")
		if err != nil {
			return err
		}
		cfg.Thresholds = append(cfg.Thresholds, val...)
	}
	if fs.Changed("duration") {
		val, err := fs.GetDuration("duration")
		if err != nil {
			return err
		}
		if p, ok := cfg.Profiles[cfg.Profile]; ok {
			p.Duration = val
			cfg.Profiles[cfg.Profile] = p
		}
	}
	return nil
}
