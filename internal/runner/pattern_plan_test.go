package runner

import (
	"testing"
	"time"
)

func TestCompilePatternPlanRamp(t *testing.T) {
	plan := compilePatternPlan(Profile{
		Pattern:       PatternRamp,
		JobsPerMinute: 10,
		RampTo:        110,
		Duration:      10 * time.Minute,
	})
	if plan == nil {
		t.Fatalf("expected plan")
	}
	if plan.totalDuration() != 10*time.Minute {
		t.Fatalf("duration = %s", plan.totalDuration())
	}
	rate, ok := plan.rateAt(5 * time.Minute)
	if !ok {
		t.Fatalf("rateAt returned false")
	}
	if rate < 60 || rate > 61 {
		t.Fatalf("unexpected ramp rate: %f", rate)
	}
}

func TestCompilePatternPlanSpike(t *testing.T) {
	plan := compilePatternPlan(Profile{
		Pattern:       PatternSpike,
		NormalRate:    0.2,
		SpikeRate:     2,
		SpikeStart:    10 * time.Minute,
		SpikeDuration: 5 * time.Minute,
		Duration:      30 * time.Minute,
	})
	if plan == nil {
		t.Fatalf("expected plan")
	}
	if plan.maxRate != 2 {
		t.Fatalf("max rate = %v", plan.maxRate)
	}
	tests := []struct {
		at   time.Duration
		want float64
	}{
		{0, 0.2},
		{10*time.Minute - time.Nanosecond, 0.2},
		{10 * time.Minute, 2},
		{15*time.Minute - time.Nanosecond, 2},
		{15 * time.Minute, 0.2},
		{29 * time.Minute, 0.2},
	}
	for _, tt := range tests {
		rate, ok := plan.rateAt(tt.at)
		if !ok || rate != tt.want {
			t.Errorf("rateAt(%s) = %v, %v; want %v", tt.at, rate, ok, tt.want)
		}
	}
}

func TestCompilePatternPlanSpikeAtStartAndClipped(t *testing.T) {
	plan := compilePatternPlan(Profile{
		Pattern:       PatternSpike,
		NormalRate:    1,
		SpikeRate:     5,
		SpikeStart:    0,
		SpikeDuration: time.Hour,
		Duration:      10 * time.Minute,
	})
	if len(plan.segments) != 1 {
		t.Fatalf("expected a single clipped spike segment, got %d", len(plan.segments))
	}
	if rate, _ := plan.rateAt(9 * time.Minute); rate != 5 {
		t.Fatalf("rate = %v", rate)
	}
}

func TestPlanRateAtAfterEnd(t *testing.T) {
	plan := compilePatternPlan(Profile{
		Pattern:       PatternSteady,
		JobsPerMinute: 2,
		Duration:      time.Minute,
	})
	if plan == nil {
		t.Fatalf("plan nil")
	}
	if _, ok := plan.rateAt(2 * time.Minute); ok {
		t.Fatalf("expected no rate after end")
	}
	if compilePatternPlan(Profile{Pattern: PatternBurst}) != nil {
		t.Fatalf("burst profiles have no rate plan")
	}
}

func TestArrivalGaps(t *testing.T) {
	if gap := (uniformArrival{}).gap(2); gap != 30*time.Second {
		t.Fatalf("uniform gap = %s", gap)
	}
	if gap := (uniformArrival{}).gap(0); gap != 0 {
		t.Fatalf("zero rate gap = %s", gap)
	}
	p := &poissonArrival{sample: func() float64 { return 2 }}
	if gap := p.gap(6); gap != 20*time.Second {
		t.Fatalf("poisson gap = %s", gap)
	}
}

func TestProfileValidate(t *testing.T) {
	valid := []Profile{
		{Name: "s", Pattern: PatternSteady, JobsPerMinute: 1, Duration: time.Minute, Workflows: []string{"a.yml"}},
		{Name: "b", Pattern: PatternBurst, BurstSize: 4, BurstInterval: time.Minute, Duration: time.Minute, Workflows: []string{"a.yml"}},
		{Name: "p", Pattern: PatternSpike, NormalRate: 1, SpikeRate: 2, SpikeDuration: time.Minute, Duration: time.Minute, Workflows: []string{"a.yml"}, Arrival: ArrivalModelPoisson},
	}
	for _, p := range valid {
		if err := p.Validate(); err != nil {
			t.Errorf("%s: unexpected error %v", p.Name, err)
		}
	}
	invalid := []Profile{
		{Name: "no-duration", Pattern: PatternSteady, JobsPerMinute: 1, Workflows: []string{"a.yml"}},
		{Name: "no-workflows", Pattern: PatternSteady, JobsPerMinute: 1, Duration: time.Minute},
		{Name: "bad-pattern", Pattern: "wave", Duration: time.Minute, Workflows: []string{"a.yml"}},
		{Name: "bad-burst", Pattern: PatternBurst, Duration: time.Minute, Workflows: []string{"a.yml"}},
		{Name: "bad-arrival", Pattern: PatternSteady, JobsPerMinute: 1, Duration: time.Minute, Workflows: []string{"a.yml"}, Arrival: "gamma"},
	}
	for _, p := range invalid {
		if err := p.Validate(); err == nil {
			t.Errorf("%s: expected error", p.Name)
		}
	}
}

func TestPatternPlanNextBoundary(t *testing.T) {
	plan := compilePatternPlan(Profile{
		Pattern:       PatternSpike,
		NormalRate:    0.2,
		SpikeRate:     2,
		SpikeStart:    time.Minute,
		SpikeDuration: 30 * time.Second,
		Duration:      2 * time.Minute,
	})
	tests := []struct {
		at, want time.Duration
	}{
		{0, time.Minute},
		{59 * time.Second, time.Minute},
		{time.Minute, 90 * time.Second},
		{90 * time.Second, 2 * time.Minute},
		{3 * time.Minute, 2 * time.Minute},
	}
	for _, tt := range tests {
		if got := plan.nextBoundary(tt.at); got != tt.want {
			t.Errorf("nextBoundary(%s) = %s, want %s", tt.at, got, tt.want)
		}
	}
}
