package httpclient

import (
	"fmt"
	"net/http"
)

// Outcome is the terminal classification of one logical call after retries.
type Outcome int

const (
	// OutcomeOK means the server accepted the call.
	OutcomeOK Outcome = iota
	// OutcomeRetryExhausted means every attempt failed with a retryable condition.
	OutcomeRetryExhausted
	// OutcomeFatal means the call failed with a condition retrying cannot fix,
	// or the caller's context ended.
	OutcomeFatal
)

func (o Outcome) String() string {
	switch o {
	case OutcomeOK:
		return "ok"
	case OutcomeRetryExhausted:
		return "retry_exhausted"
	case OutcomeFatal:
		return "fatal"
	default:
		return fmt.Sprintf("outcome(%d)", int(o))
	}
}

// StatusError represents a response with a non-success status.
type StatusError struct {
	StatusCode int
	Body       string
}

func (e *StatusError) Error() string {
	return fmt.Sprintf("HTTP %d: %s", e.StatusCode, e.Body)
}

// Result carries the final attempt of a call together with its outcome.
type Result struct {
	Outcome    Outcome
	StatusCode int
	Header     http.Header
	Body       []byte
	Attempts   int
	Err        error
}

// OK reports whether the call succeeded.
func (r Result) OK() bool {
	return r.Outcome == OutcomeOK
}

// Error returns the failure cause, or nil for successful calls.
func (r Result) Error() error {
	if r.OK() {
		return nil
	}
	if r.Err != nil {
		return fmt.Errorf("%s after %d attempt(s): %w", r.Outcome, r.Attempts, r.Err)
	}
	return fmt.Errorf("%s after %d attempt(s)", r.Outcome, r.Attempts)
}
