package runner

import (
	"errors"
	"fmt"
	"strings"
	"time"
)

// Pattern selects how submissions are spread over a test.
type Pattern string

const (
	PatternSteady Pattern = "steady"
	PatternBurst  Pattern = "burst"
	PatternSpike  Pattern = "spike"
	PatternRamp   Pattern = "ramp"
)

// ArrivalModel selects the spacing between submissions of rate-driven patterns.
type ArrivalModel string

const (
	ArrivalModelUniform ArrivalModel = "uniform"
	ArrivalModelPoisson ArrivalModel = "poisson"
)

// Profile is a validated load shape. Rates are in jobs per minute.
type Profile struct {
	Name    string
	Pattern Pattern
	Arrival ArrivalModel

	JobsPerMinute float64 // steady rate, or the starting rate of a ramp
	RampTo        float64 // final rate of a ramp

	BurstSize     int
	BurstInterval time.Duration

	NormalRate    float64
	SpikeRate     float64
	SpikeStart    time.Duration
	SpikeDuration time.Duration

	Duration  time.Duration
	Workflows []string
}

// Validate reports every problem with the profile at once.
func (p Profile) Validate() error {
	var issues []string
	if p.Duration <= 0 {
		issues = append(issues, "duration must be greater than 0")
	}
	if len(p.Workflows) == 0 {
		issues = append(issues, "at least one workflow is required")
	}
	for i, wf := range p.Workflows {
		if strings.TrimSpace(wf) == "" {
			issues = append(issues, fmt.Sprintf("workflows[%d] is empty", i))
		}
	}
	switch p.Arrival {
	case "", ArrivalModelUniform, ArrivalModelPoisson:
	default:
		issues = append(issues, fmt.Sprintf("unsupported arrival model %q", p.Arrival))
	}
	switch p.Pattern {
	case PatternSteady:
		if p.JobsPerMinute <= 0 {
			issues = append(issues, "steady: jobs_per_minute must be greater than 0")
		}
	case PatternRamp:
		if p.JobsPerMinute < 0 || p.RampTo < 0 || (p.JobsPerMinute == 0 && p.RampTo == 0) {
			issues = append(issues, "ramp: jobs_per_minute and ramp_to must be non-negative and not both 0")
		}
	case PatternBurst:
		if p.BurstSize <= 0 {
			issues = append(issues, "burst: burst_size must be greater than 0")
		}
		if p.BurstInterval <= 0 {
			issues = append(issues, "burst: burst_interval must be greater than 0")
		}
	case PatternSpike:
		if p.NormalRate <= 0 || p.SpikeRate <= 0 {
			issues = append(issues, "spike: normal_rate and spike_rate must be greater than 0")
		}
		if p.SpikeStart < 0 || p.SpikeDuration <= 0 {
			issues = append(issues, "spike: spike_start must be >= 0 and spike_duration > 0")
		}
	default:
		issues = append(issues, fmt.Sprintf("unsupported pattern %q", p.Pattern))
	}
	if len(issues) == 0 {
		return nil
	}
	return errors.New("profile " + p.Name + ": " + strings.Join(issues, "; "))
}
