package runner

import (
	"context"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/torosent/runnerprobe/internal/feeder"
	"github.com/torosent/runnerprobe/internal/httpclient"
	"github.com/torosent/runnerprobe/internal/tracker"
)

type recordingSubmitter struct {
	mu      sync.Mutex
	intents []tracker.Intent
	delay   time.Duration
	fail    func(tracker.Intent) bool
}

func (r *recordingSubmitter) Submit(ctx context.Context, intent tracker.Intent) httpclient.Outcome {
	if r.delay > 0 {
		time.Sleep(r.delay)
	}
	r.mu.Lock()
	r.intents = append(r.intents, intent)
	r.mu.Unlock()
	if r.fail != nil && r.fail(intent) {
		return httpclient.OutcomeRetryExhausted
	}
	return httpclient.OutcomeOK
}

func (r *recordingSubmitter) count() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.intents)
}

// Minutes of profile time pass in milliseconds.
const testScale = 0.001

func TestGeneratorSteady(t *testing.T) {
	sub := &recordingSubmitter{}
	g, err := NewGenerator(sub, GeneratorOptions{
		Profile: Profile{
			Name:          "steady",
			Pattern:       PatternSteady,
			JobsPerMinute: 2,
			Duration:      5 * time.Minute,
			Workflows:     []string{"a.yml", "b.yml"},
		},
		RunID:     "steady_20240501_120000_abcd1234",
		TimeScale: testScale,
	})
	if err != nil {
		t.Fatalf("NewGenerator: %v", err)
	}
	if g.State() != StateIdle {
		t.Fatalf("state = %s", g.State())
	}

	res := g.Run(context.Background())
	if res.Submitted < 9 || res.Submitted > 11 {
		t.Fatalf("submitted = %d, want 10±1", res.Submitted)
	}
	if res.Accepted != res.Submitted || sub.count() != res.Submitted {
		t.Fatalf("accepted %d, recorded %d, submitted %d", res.Accepted, sub.count(), res.Submitted)
	}
	if g.State() != StateDone {
		t.Fatalf("state = %s", g.State())
	}

	seen := map[string]bool{}
	for _, intent := range sub.intents {
		if seen[intent.Tag] {
			t.Fatalf("duplicate tag %s", intent.Tag)
		}
		seen[intent.Tag] = true
		if !strings.HasPrefix(intent.Tag, "steady_20240501_120000_abcd1234-") {
			t.Errorf("tag %q lacks run prefix", intent.Tag)
		}
		if intent.Inputs["job_name"] != intent.Tag {
			t.Errorf("tag input = %q", intent.Inputs["job_name"])
		}
	}
	workflows := map[string]int{}
	for _, intent := range sub.intents {
		workflows[intent.Workflow]++
	}
	if diff := workflows["a.yml"] - workflows["b.yml"]; diff < 0 || diff > 1 {
		t.Errorf("workflows not round-robin: %v", workflows)
	}

	// A second Run is a no-op.
	if again := g.Run(context.Background()); again.Submitted != 0 {
		t.Fatalf("second run submitted %d", again.Submitted)
	}
}

func TestGeneratorSpike(t *testing.T) {
	sub := &recordingSubmitter{}
	g, err := NewGenerator(sub, GeneratorOptions{
		Profile: Profile{
			Name:          "spike",
			Pattern:       PatternSpike,
			NormalRate:    1,
			SpikeRate:     10,
			SpikeStart:    2 * time.Minute,
			SpikeDuration: time.Minute,
			Duration:      5 * time.Minute,
			Workflows:     []string{"a.yml"},
		},
		TimeScale: testScale,
	})
	if err != nil {
		t.Fatalf("NewGenerator: %v", err)
	}
	res := g.Run(context.Background())

	inSpike, outside := 0, 0
	for _, c := range res.Cycles {
		if c.Offset >= 2*time.Minute && c.Offset < 3*time.Minute {
			inSpike += c.Count
		} else {
			outside += c.Count
		}
	}
	if inSpike != 10 {
		t.Errorf("spike window submissions = %d, want 10", inSpike)
	}
	if outside != 4 {
		t.Errorf("normal window submissions = %d, want 4", outside)
	}
}

// A normal gap longer than the lead-in must not skip the spike window.
func TestGeneratorSpikeReachedAfterLongNormalGap(t *testing.T) {
	sub := &recordingSubmitter{}
	g, err := NewGenerator(sub, GeneratorOptions{
		Profile: Profile{
			Name:          "spike",
			Pattern:       PatternSpike,
			NormalRate:    0.2,
			SpikeRate:     2,
			SpikeStart:    time.Minute,
			SpikeDuration: 30 * time.Second,
			Duration:      2 * time.Minute,
			Workflows:     []string{"a.yml"},
		},
		TimeScale: testScale,
	})
	if err != nil {
		t.Fatalf("NewGenerator: %v", err)
	}
	res := g.Run(context.Background())

	want := []time.Duration{0, time.Minute, 90 * time.Second}
	if len(res.Cycles) != len(want) {
		t.Fatalf("cycles = %+v, want offsets %v", res.Cycles, want)
	}
	inSpike := 0
	for i, c := range res.Cycles {
		if c.Offset != want[i] || c.Count != 1 {
			t.Errorf("cycle[%d] = %+v, want one submission at %s", i, c, want[i])
		}
		if c.Offset >= time.Minute && c.Offset < 90*time.Second {
			inSpike++
		}
	}
	if inSpike != 1 {
		t.Errorf("spike window submissions = %d, want 1", inSpike)
	}
	if res.Submitted != 3 {
		t.Errorf("submitted = %d, want 3", res.Submitted)
	}
}

func TestGeneratorBurst(t *testing.T) {
	sub := &recordingSubmitter{delay: 2 * time.Millisecond}
	g, err := NewGenerator(sub, GeneratorOptions{
		Profile: Profile{
			Name:          "burst",
			Pattern:       PatternBurst,
			BurstSize:     4,
			BurstInterval: 5 * time.Minute,
			Duration:      12 * time.Minute,
			Workflows:     []string{"a.yml"},
		},
		TimeScale: testScale,
	})
	if err != nil {
		t.Fatalf("NewGenerator: %v", err)
	}
	res := g.Run(context.Background())
	if len(res.Cycles) != 3 || res.Submitted != 12 {
		t.Fatalf("cycles = %d, submitted = %d", len(res.Cycles), res.Submitted)
	}
	if sub.count() != 12 {
		t.Fatalf("drain did not wait for in-flight submissions: %d recorded", sub.count())
	}
}

func TestGeneratorCountsFailures(t *testing.T) {
	n := 0
	var mu sync.Mutex
	sub := &recordingSubmitter{fail: func(tracker.Intent) bool {
		mu.Lock()
		defer mu.Unlock()
		n++
		return n%2 == 0
	}}
	g, err := NewGenerator(sub, GeneratorOptions{
		Profile: Profile{
			Name:          "burst",
			Pattern:       PatternBurst,
			BurstSize:     6,
			BurstInterval: time.Hour,
			Duration:      time.Minute,
			Workflows:     []string{"a.yml"},
		},
		TimeScale: testScale,
	})
	if err != nil {
		t.Fatalf("NewGenerator: %v", err)
	}
	res := g.Run(context.Background())
	if res.Accepted != 3 || res.Failed != 3 {
		t.Fatalf("accepted %d failed %d", res.Accepted, res.Failed)
	}
}

func TestGeneratorFillsInputsFromFeeder(t *testing.T) {
	sub := &recordingSubmitter{}
	data, err := feeder.NewCycle([]feeder.Record{{"label": "gpu"}, {"label": "cpu"}})
	if err != nil {
		t.Fatalf("NewCycle: %v", err)
	}
	g, err := NewGenerator(sub, GeneratorOptions{
		Profile: Profile{
			Name:          "burst",
			Pattern:       PatternBurst,
			BurstSize:     4,
			BurstInterval: time.Hour,
			Duration:      time.Minute,
			Workflows:     []string{"a.yml"},
		},
		RunID:     "burst_20240501_120000_abcd1234",
		Inputs:    map[string]string{"runner_label": "{{label}}", "fixed": "x"},
		Feeder:    data,
		TimeScale: testScale,
	})
	if err != nil {
		t.Fatalf("NewGenerator: %v", err)
	}
	g.Run(context.Background())

	labels := map[string]int{}
	for _, intent := range sub.intents {
		labels[intent.Inputs["runner_label"]]++
		if intent.Inputs["fixed"] != "x" {
			t.Errorf("fixed input = %q", intent.Inputs["fixed"])
		}
		if intent.Inputs["job_name"] != intent.Tag {
			t.Errorf("tag input = %q, want %q", intent.Inputs["job_name"], intent.Tag)
		}
	}
	if labels["gpu"] != 2 || labels["cpu"] != 2 {
		t.Fatalf("labels = %v, want two of each", labels)
	}
}

func TestGeneratorStopsOnCancel(t *testing.T) {
	sub := &recordingSubmitter{}
	g, err := NewGenerator(sub, GeneratorOptions{
		Profile: Profile{
			Name:          "long",
			Pattern:       PatternSteady,
			JobsPerMinute: 1,
			Duration:      time.Hour,
			Workflows:     []string{"a.yml"},
		},
	})
	if err != nil {
		t.Fatalf("NewGenerator: %v", err)
	}
	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()

	start := time.Now()
	res := g.Run(ctx)
	if elapsed := time.Since(start); elapsed > 5*time.Second {
		t.Fatalf("run did not stop promptly: %s", elapsed)
	}
	if res.Submitted != 1 {
		t.Fatalf("submitted = %d, want only the first cycle", res.Submitted)
	}
	if g.State() != StateDone {
		t.Fatalf("state = %s", g.State())
	}
}

func TestNewGeneratorRejectsInvalidProfile(t *testing.T) {
	if _, err := NewGenerator(&recordingSubmitter{}, GeneratorOptions{Profile: Profile{Pattern: PatternSteady}}); err == nil {
		t.Fatalf("expected validation error")
	}
	if _, err := NewGenerator(nil, GeneratorOptions{}); err == nil {
		t.Fatalf("expected error for nil submitter")
	}
}
