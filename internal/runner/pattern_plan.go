package runner

import (
	"math"
	"time"
)

// patternPlan maps elapsed test time to a submission rate in jobs per minute.
type patternPlan struct {
	segments []patternSegment
	duration time.Duration
	maxRate  float64
}

type patternSegment struct {
	start    time.Duration
	duration time.Duration
	fromRate float64
	toRate   float64
}

// compilePatternPlan builds the rate plan of a rate-driven profile. Burst
// profiles have no plan.
func compilePatternPlan(p Profile) *patternPlan {
	plan := &patternPlan{}
	switch p.Pattern {
	case PatternSteady:
		plan.appendSegment(patternSegment{duration: p.Duration, fromRate: p.JobsPerMinute, toRate: p.JobsPerMinute})
	case PatternRamp:
		plan.appendSegment(patternSegment{duration: p.Duration, fromRate: p.JobsPerMinute, toRate: p.RampTo})
	case PatternSpike:
		spikeEnd := p.SpikeStart + p.SpikeDuration
		if spikeEnd > p.Duration {
			spikeEnd = p.Duration
		}
		if p.SpikeStart > 0 {
			plan.appendSegment(patternSegment{duration: minDuration(p.SpikeStart, p.Duration), fromRate: p.NormalRate, toRate: p.NormalRate})
		}
		if spikeEnd > p.SpikeStart {
			plan.appendSegment(patternSegment{start: p.SpikeStart, duration: spikeEnd - p.SpikeStart, fromRate: p.SpikeRate, toRate: p.SpikeRate})
		}
		if p.Duration > spikeEnd {
			plan.appendSegment(patternSegment{start: spikeEnd, duration: p.Duration - spikeEnd, fromRate: p.NormalRate, toRate: p.NormalRate})
		}
	default:
		return nil
	}

	if len(plan.segments) == 0 {
		return nil
	}
	plan.duration = p.Duration
	return plan
}

func (p *patternPlan) appendSegment(seg patternSegment) {
	if seg.duration <= 0 {
		return
	}
	p.segments = append(p.segments, seg)
	p.maxRate = math.Max(p.maxRate, math.Max(seg.fromRate, seg.toRate))
}

func (p *patternPlan) rateAt(elapsed time.Duration) (float64, bool) {
	if p == nil || len(p.segments) == 0 {
		return 0, false
	}
	if elapsed < 0 {
		elapsed = 0
	}
	for _, seg := range p.segments {
		if elapsed < seg.start || elapsed >= seg.start+seg.duration {
			continue
		}
		if seg.fromRate == seg.toRate {
			return seg.fromRate, true
		}
		progress := float64(elapsed-seg.start) / float64(seg.duration)
		if progress < 0 {
			progress = 0
		} else if progress > 1 {
			progress = 1
		}
		return seg.fromRate + (seg.toRate-seg.fromRate)*progress, true
	}
	return 0, false
}

// nextBoundary returns the end of the segment containing elapsed, or the
// plan's end when elapsed falls outside every segment.
func (p *patternPlan) nextBoundary(elapsed time.Duration) time.Duration {
	if p == nil {
		return 0
	}
	for _, seg := range p.segments {
		if elapsed >= seg.start && elapsed < seg.start+seg.duration {
			return seg.start + seg.duration
		}
	}
	return p.duration
}

func (p *patternPlan) totalDuration() time.Duration {
	if p == nil {
		return 0
	}
	return p.duration
}

func minDuration(a, b time.Duration) time.Duration {
	if a < b {
		return a
	}
	return b
}
