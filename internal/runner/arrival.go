package runner

import (
	"math"
	"math/rand"
	"sync"
	"time"
)

// arrivalModel turns a rate in jobs per minute into the gap before the next submission.
type arrivalModel interface {
	gap(jobsPerMinute float64) time.Duration
}

func newArrivalModel(model ArrivalModel, seed int64) arrivalModel {
	if model == ArrivalModelPoisson {
		return &poissonArrival{sample: rand.New(rand.NewSource(seed)).ExpFloat64}
	}
	return uniformArrival{}
}

// uniformArrival spaces submissions exactly 60/rate seconds apart.
type uniformArrival struct{}

func (uniformArrival) gap(jobsPerMinute float64) time.Duration {
	if jobsPerMinute <= 0 {
		return 0
	}
	return time.Duration(float64(time.Minute) / jobsPerMinute)
}

// poissonArrival samples exponential inter-arrival times to approximate a Poisson process.
type poissonArrival struct {
	mu     sync.Mutex
	sample func() float64
}

func (p *poissonArrival) gap(jobsPerMinute float64) time.Duration {
	if jobsPerMinute <= 0 {
		return 0
	}
	p.mu.Lock()
	value := p.sample()
	p.mu.Unlock()

	delay := float64(time.Minute) * value / jobsPerMinute
	if delay > math.MaxInt64 {
		delay = math.MaxInt64
	}
	return time.Duration(delay)
}
