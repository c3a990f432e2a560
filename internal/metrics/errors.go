package metrics

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"

	"github.com/torosent/runnerprobe/internal/httpclient"
)

// Labels used in APIStats.Errors.
const (
	ErrorRateLimited = "rate limited"
	ErrorServer      = "server error"
	ErrorTimeout     = "timeout"
	ErrorCanceled    = "canceled"
	ErrorNetwork     = "network error"
	ErrorOther       = "other"
)

// ErrorKind buckets a failed API call for the report. Other 4xx responses
// keep their status code.
func ErrorKind(err error) string {
	if err == nil {
		return ""
	}
	var statusErr *httpclient.StatusError
	if errors.As(err, &statusErr) {
		switch code := statusErr.StatusCode; {
		case code == http.StatusTooManyRequests:
			return ErrorRateLimited
		case code >= 500:
			return ErrorServer
		default:
			return fmt.Sprintf("HTTP %d", code)
		}
	}

	switch {
	case errors.Is(err, context.Canceled):
		return ErrorCanceled
	case errors.Is(err, context.DeadlineExceeded):
		return ErrorTimeout
	}
	var netErr net.Error
	if errors.As(err, &netErr) {
		if netErr.Timeout() {
			return ErrorTimeout
		}
		return ErrorNetwork
	}
	return ErrorOther
}
