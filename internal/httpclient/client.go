package httpclient

import (
	"bytes"
	"context"
	"errors"
	"io"
	"math/rand"
	"net"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/sirupsen/logrus"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
	"go.opentelemetry.io/otel/trace/noop"

	"github.com/torosent/runnerprobe/internal/logging"
	"github.com/torosent/runnerprobe/internal/tracing"
)

const (
	defaultMaxAttempts      = 5
	defaultTransportDelay   = 5 * time.Second
	defaultServerErrorDelay = time.Second
	defaultRateLimitFloor   = 60 * time.Second
	maxResponseBytes        = 10 << 20
	maxErrorSnippet         = 1024
)

// AuthProvider supplies authentication tokens and injects them into HTTP requests.
type AuthProvider interface {
	Token(ctx context.Context) (string, error)
	InjectHeader(ctx context.Context, req *http.Request) error
	Close() error
}

// Observer receives one notification per HTTP attempt.
type Observer interface {
	ObserveCall(name string, status int, latency time.Duration, err error)
}

// Request describes a call that can be replayed on every attempt.
type Request struct {
	Name   string // logical operation name used for spans and metrics
	Method string
	URL    string
	Body   []byte
	Header http.Header
}

// Options configure a Client. Zero values select the defaults.
type Options struct {
	HTTPClient       *http.Client
	Limiter          *Limiter
	Auth             AuthProvider
	Tracer           trace.Tracer
	PropagateTrace   bool // inject W3C trace context into outbound headers
	Observers        []Observer
	Logger           *logrus.Entry
	MaxAttempts      int           // total attempts including the first
	TransportDelay   time.Duration // wait after a transport error, multiplied by the attempt number
	ServerErrorDelay time.Duration // base of the exponential backoff for 5xx responses
	RateLimitFloor   time.Duration // minimum wait after a rate-limit rejection
	MaxWait          time.Duration // ceiling for any single wait
	Sleep            func(ctx context.Context, d time.Duration) error
}

func (o *Options) normalize() {
	if o.HTTPClient == nil {
		o.HTTPClient = NewHTTPClient(30 * time.Second)
	}
	if o.Limiter == nil {
		o.Limiter = NewLimiter(LimiterOptions{MaxWait: o.MaxWait})
	}
	if o.Tracer == nil {
		o.Tracer = noop.NewTracerProvider().Tracer("runnerprobe")
	}
	o.Logger = logging.Or(o.Logger)
	if o.MaxAttempts <= 0 {
		o.MaxAttempts = defaultMaxAttempts
	}
	if o.TransportDelay <= 0 {
		o.TransportDelay = defaultTransportDelay
	}
	if o.ServerErrorDelay <= 0 {
		o.ServerErrorDelay = defaultServerErrorDelay
	}
	if o.RateLimitFloor <= 0 {
		o.RateLimitFloor = defaultRateLimitFloor
	}
	if o.MaxWait <= 0 {
		o.MaxWait = defaultMaxWait
	}
	if o.RateLimitFloor > o.MaxWait {
		o.RateLimitFloor = o.MaxWait
	}
	if o.Sleep == nil {
		o.Sleep = sleepContext
	}
}

// Client executes requests through a shared Limiter and retries them
// according to a fixed state machine:
//
//	2xx                      -> ok
//	transport error          -> retry after TransportDelay*attempt
//	403/429 with rate signal -> retry after the quota reset (>= RateLimitFloor)
//	5xx                      -> retry with exponential backoff and jitter
//	anything else            -> fatal
//
// Every wait is capped at MaxWait. Once MaxAttempts is reached the result is
// OutcomeRetryExhausted.
type Client struct {
	opts   Options
	jitter *jitterSource
}

// New creates a Client.
func New(opts Options) *Client {
	opts.normalize()
	return &Client{
		opts:   opts,
		jitter: &jitterSource{rnd: rand.New(rand.NewSource(time.Now().UnixNano()))},
	}
}

// Limiter returns the limiter shared by every call of this client.
func (c *Client) Limiter() *Limiter {
	return c.opts.Limiter
}

type retryStep struct {
	done  bool
	fatal bool
	quota bool
	wait  time.Duration
}

// Do executes req and never panics; failures are reported through the Result.
func (c *Client) Do(ctx context.Context, req Request) Result {
	var last Result
	for attempt := 1; attempt <= c.opts.MaxAttempts; attempt++ {
		if err := c.opts.Limiter.Acquire(ctx); err != nil {
			last.Outcome = OutcomeFatal
			last.Attempts = attempt - 1
			last.Err = err
			return last
		}

		last = c.send(ctx, req)
		last.Attempts = attempt

		step := c.classify(ctx, last, attempt)
		if step.done {
			last.Outcome = OutcomeOK
			last.Err = nil
			return last
		}
		if step.fatal {
			last.Outcome = OutcomeFatal
			return last
		}
		if attempt == c.opts.MaxAttempts {
			break
		}

		c.opts.Logger.WithFields(logrus.Fields{
			"call":    req.Name,
			"attempt": attempt,
			"status":  last.StatusCode,
			"wait":    step.wait,
		}).WithError(last.Err).Debug("retrying call")

		if err := c.opts.Sleep(ctx, step.wait); err != nil {
			last.Outcome = OutcomeFatal
			last.Err = err
			return last
		}
		if step.quota {
			c.opts.Limiter.forgetQuota()
		}
	}
	last.Outcome = OutcomeRetryExhausted
	return last
}

func (c *Client) send(ctx context.Context, req Request) Result {
	start := time.Now()
	ctx, span := tracing.StartCallSpan(ctx, c.opts.Tracer, req.Name, req.Method, req.URL)

	httpReq, err := c.build(ctx, req)
	if err != nil {
		c.observe(req.Name, 0, time.Since(start), err)
		tracing.EndSpan(span, err)
		return Result{Err: err}
	}

	resp, err := c.opts.HTTPClient.Do(httpReq)
	latency := time.Since(start)
	if err != nil {
		c.observe(req.Name, 0, latency, err)
		tracing.EndSpan(span, err)
		return Result{Err: err}
	}
	defer resp.Body.Close()

	body, readErr := io.ReadAll(io.LimitReader(resp.Body, maxResponseBytes))
	c.opts.Limiter.Observe(resp.Header)

	var callErr error
	switch {
	case readErr != nil:
		callErr = readErr
	case resp.StatusCode >= 300:
		callErr = &StatusError{StatusCode: resp.StatusCode, Body: snippet(body)}
	}
	c.observe(req.Name, resp.StatusCode, latency, callErr)
	tracing.EndSpan(span, callErr, attribute.Int("http.response.status_code", resp.StatusCode))

	res := Result{
		StatusCode: resp.StatusCode,
		Header:     resp.Header,
		Body:       body,
		Err:        callErr,
	}
	if readErr != nil {
		// A truncated body is treated like a transport failure.
		res.StatusCode = 0
	}
	return res
}

func (c *Client) build(ctx context.Context, req Request) (*http.Request, error) {
	method := strings.ToUpper(strings.TrimSpace(req.Method))
	if method == "" {
		method = http.MethodGet
	}
	var body io.Reader
	if req.Body != nil {
		body = bytes.NewReader(req.Body)
	}
	httpReq, err := http.NewRequestWithContext(ctx, method, req.URL, body)
	if err != nil {
		return nil, err
	}
	for key, values := range req.Header {
		for _, v := range values {
			httpReq.Header.Add(key, v)
		}
	}
	if req.Body != nil {
		payload := req.Body
		httpReq.GetBody = func() (io.ReadCloser, error) {
			return io.NopCloser(bytes.NewReader(payload)), nil
		}
	}
	if c.opts.PropagateTrace {
		tracing.InjectHTTPHeaders(ctx, httpReq.Header)
	}
	if c.opts.Auth != nil {
		if err := c.opts.Auth.InjectHeader(ctx, httpReq); err != nil {
			return nil, err
		}
	}
	return httpReq, nil
}

func (c *Client) classify(ctx context.Context, res Result, attempt int) retryStep {
	if res.StatusCode == 0 {
		if ctx.Err() != nil {
			return retryStep{fatal: true}
		}
		if errors.Is(res.Err, context.Canceled) {
			return retryStep{fatal: true}
		}
		return retryStep{wait: clampWait(time.Duration(attempt)*c.opts.TransportDelay, 0, c.opts.MaxWait)}
	}

	switch {
	case res.StatusCode >= 200 && res.StatusCode < 300:
		return retryStep{done: true}
	case isRateLimited(res):
		return retryStep{quota: true, wait: c.rateLimitWait(res)}
	case res.StatusCode >= 500:
		backoff := time.Duration(1<<uint(attempt-1)) * c.opts.ServerErrorDelay
		backoff += c.jitter.jitter(backoff / 2)
		return retryStep{wait: clampWait(backoff, 0, c.opts.MaxWait)}
	default:
		return retryStep{fatal: true}
	}
}

func (c *Client) rateLimitWait(res Result) time.Duration {
	if secs, ok := parseIntHeader(res.Header, headerRetryAfter); ok {
		return clampWait(time.Duration(secs)*time.Second, c.opts.RateLimitFloor, c.opts.MaxWait)
	}
	return clampWait(c.opts.Limiter.ResetWait(c.opts.RateLimitFloor), c.opts.RateLimitFloor, c.opts.MaxWait)
}

func (c *Client) observe(name string, status int, latency time.Duration, err error) {
	for _, o := range c.opts.Observers {
		if o != nil {
			o.ObserveCall(name, status, latency, err)
		}
	}
}

// isRateLimited recognises both primary (quota exhausted) and secondary
// (abuse detection) rate limiting.
func isRateLimited(res Result) bool {
	switch res.StatusCode {
	case http.StatusTooManyRequests:
		return true
	case http.StatusForbidden:
		if res.Header != nil {
			if res.Header.Get(headerRetryAfter) != "" {
				return true
			}
			if remaining, ok := parseIntHeader(res.Header, headerRateLimitRemaining); ok && remaining == 0 {
				return true
			}
		}
		return bytes.Contains(bytes.ToLower(res.Body), []byte("rate limit"))
	default:
		return false
	}
}

func snippet(body []byte) string {
	if len(body) > maxErrorSnippet {
		body = body[:maxErrorSnippet]
	}
	return strings.TrimSpace(string(body))
}

type jitterSource struct {
	mu  sync.Mutex
	rnd *rand.Rand
}

func (j *jitterSource) jitter(max time.Duration) time.Duration {
	if j == nil || max <= 0 {
		return 0
	}
	j.mu.Lock()
	defer j.mu.Unlock()
	return time.Duration(j.rnd.Int63n(int64(max)))
}

// NewHTTPClient creates an HTTP client with connection reuse tuned for a
// single API host.
func NewHTTPClient(timeout time.Duration) *http.Client {
	if timeout < 0 {
		timeout = 0
	}

	dialer := &net.Dialer{
		Timeout:   30 * time.Second,
		KeepAlive: 30 * time.Second,
	}

	transport := &http.Transport{
		Proxy:                 http.ProxyFromEnvironment,
		DialContext:           dialer.DialContext,
		ForceAttemptHTTP2:     true,
		MaxIdleConns:          64,
		MaxIdleConnsPerHost:   32,
		IdleConnTimeout:       90 * time.Second,
		TLSHandshakeTimeout:   10 * time.Second,
		ExpectContinueTimeout: 1 * time.Second,
	}

	return &http.Client{
		Timeout:   timeout,
		Transport: transport,
	}
}
