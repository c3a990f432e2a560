package metrics

import (
	"math"
	"sort"
)

// Summary describes one series of durations, in seconds.
type Summary struct {
	Count  int     `json:"count" yaml:"count"`
	Min    float64 `json:"min" yaml:"min"`
	Max    float64 `json:"max" yaml:"max"`
	Mean   float64 `json:"mean" yaml:"mean"`
	Median float64 `json:"median" yaml:"median"`
	P95    float64 `json:"p95" yaml:"p95"`
	Stdev  float64 `json:"stdev" yaml:"stdev"`
}

// Summarize reduces series to its summary. An empty series yields the zero Summary.
func Summarize(series []float64) Summary {
	n := len(series)
	if n == 0 {
		return Summary{}
	}
	sorted := append([]float64(nil), series...)
	sort.Float64s(sorted)

	sum := 0.0
	for _, v := range sorted {
		sum += v
	}
	mean := sum / float64(n)

	s := Summary{
		Count:  n,
		Min:    sorted[0],
		Max:    sorted[n-1],
		Mean:   mean,
		Median: median(sorted),
		P95:    Percentile(sorted, 95),
	}
	if n > 1 {
		sq := 0.0
		for _, v := range sorted {
			sq += (v - mean) * (v - mean)
		}
		s.Stdev = math.Sqrt(sq / float64(n-1))
	}
	return s
}

// Percentile returns the nearest-rank percentile of an ascending series.
func Percentile(sorted []float64, p float64) float64 {
	n := len(sorted)
	if n == 0 {
		return 0
	}
	idx := int(math.Ceil(p/100*float64(n))) - 1
	if idx < 0 {
		idx = 0
	}
	if idx >= n {
		idx = n - 1
	}
	return sorted[idx]
}

func median(sorted []float64) float64 {
	n := len(sorted)
	if n%2 == 1 {
		return sorted[n/2]
	}
	return (sorted[n/2-1] + sorted[n/2]) / 2
}

func mean(series []float64) float64 {
	if len(series) == 0 {
		return 0
	}
	sum := 0.0
	for _, v := range series {
		sum += v
	}
	return sum / float64(len(series))
}
