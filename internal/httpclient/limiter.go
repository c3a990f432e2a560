package httpclient

import (
	"context"
	"net/http"
	"strconv"
	"strings"
	"sync"
	"time"

	"golang.org/x/time/rate"
)

const (
	headerRateLimitRemaining = "X-RateLimit-Remaining"
	headerRateLimitReset     = "X-RateLimit-Reset"
	headerRetryAfter         = "Retry-After"

	defaultQuotaFloor   = 50
	defaultQuotaMinWait = 30 * time.Second
	defaultMaxWait      = 120 * time.Second
)

// LimiterOptions configure a Limiter.
type LimiterOptions struct {
	RequestsPerSecond float64       // minimum spacing is 1/RequestsPerSecond; <= 0 disables spacing
	QuotaFloor        int           // pre-emptive wait when remaining quota drops below this
	QuotaMinWait      time.Duration // lower bound on a pre-emptive quota wait
	MaxWait           time.Duration // upper bound on any single wait
	Now               func() time.Time
	Sleep             func(ctx context.Context, d time.Duration) error
}

func (o *LimiterOptions) normalize() {
	if o.QuotaFloor <= 0 {
		o.QuotaFloor = defaultQuotaFloor
	}
	if o.QuotaMinWait <= 0 {
		o.QuotaMinWait = defaultQuotaMinWait
	}
	if o.MaxWait <= 0 {
		o.MaxWait = defaultMaxWait
	}
	if o.QuotaMinWait > o.MaxWait {
		o.QuotaMinWait = o.MaxWait
	}
	if o.Now == nil {
		o.Now = time.Now
	}
	if o.Sleep == nil {
		o.Sleep = sleepContext
	}
}

// Limiter spaces outbound calls evenly across every caller sharing it and
// pauses all callers when the server reports that the quota is nearly spent.
type Limiter struct {
	opts    LimiterOptions
	spacing *rate.Limiter

	mu        sync.Mutex
	remaining int // -1 while unknown
	reset     time.Time
}

// NewLimiter creates a limiter. A burst of one keeps grants at least 1/rate apart.
func NewLimiter(opts LimiterOptions) *Limiter {
	opts.normalize()
	limit := rate.Inf
	if opts.RequestsPerSecond > 0 {
		limit = rate.Limit(opts.RequestsPerSecond)
	}
	return &Limiter{
		opts:      opts,
		spacing:   rate.NewLimiter(limit, 1),
		remaining: -1,
	}
}

// Acquire blocks until the caller may issue one request.
func (l *Limiter) Acquire(ctx context.Context) error {
	if wait := l.quotaWait(); wait > 0 {
		if err := l.opts.Sleep(ctx, wait); err != nil {
			return err
		}
		l.forgetQuota()
	}
	return l.spacing.Wait(ctx)
}

// Observe records the quota headers of a response.
func (l *Limiter) Observe(h http.Header) {
	if h == nil {
		return
	}
	remaining, okRemaining := parseIntHeader(h, headerRateLimitRemaining)
	reset, okReset := parseIntHeader(h, headerRateLimitReset)
	if !okRemaining && !okReset {
		return
	}
	l.mu.Lock()
	defer l.mu.Unlock()
	if okRemaining {
		l.remaining = remaining
	}
	if okReset {
		l.reset = time.Unix(int64(reset), 0)
	}
}

// Quota reports the last observed remaining quota (-1 when unknown) and reset time.
func (l *Limiter) Quota() (int, time.Time) {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.remaining, l.reset
}

// ResetWait returns how long to wait for the quota window to reset, bounded
// below by floor and above by MaxWait.
func (l *Limiter) ResetWait(floor time.Duration) time.Duration {
	l.mu.Lock()
	reset := l.reset
	l.mu.Unlock()
	return clampWait(reset.Sub(l.opts.Now()), floor, l.opts.MaxWait)
}

func (l *Limiter) quotaWait() time.Duration {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.remaining < 0 || l.remaining >= l.opts.QuotaFloor {
		return 0
	}
	untilReset := l.reset.Sub(l.opts.Now())
	if !l.reset.IsZero() && untilReset <= 0 {
		// The window already rolled over; the reading is stale.
		return 0
	}
	return clampWait(untilReset, l.opts.QuotaMinWait, l.opts.MaxWait)
}

// forgetQuota drops the low reading after a wait so callers do not wait twice
// for the same window; the next response refreshes it.
func (l *Limiter) forgetQuota() {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.remaining = -1
}

func clampWait(d, floor, ceiling time.Duration) time.Duration {
	if d < floor {
		d = floor
	}
	if ceiling > 0 && d > ceiling {
		d = ceiling
	}
	return d
}

func parseIntHeader(h http.Header, key string) (int, bool) {
	raw := strings.TrimSpace(h.Get(key))
	if raw == "" {
		return 0, false
	}
	v, err := strconv.Atoi(raw)
	if err != nil {
		return 0, false
	}
	return v, true
}

func sleepContext(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-timer.C:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}
