// Package httpclient is the single path by which runnerprobe talks to the
// remote execution service.
//
// A [Limiter] spaces calls so that no two grants are closer than 1/rate
// across every goroutine sharing it, and pre-emptively pauses callers when the
// X-RateLimit-Remaining header drops below a floor. A [Client] wraps the
// limiter with a visible retry loop that ends in one of three outcomes:
//
//	res := client.Do(ctx, httpclient.Request{Name: "dispatch", Method: http.MethodPost, URL: u, Body: b})
//	switch res.Outcome {
//	case httpclient.OutcomeOK:
//	case httpclient.OutcomeRetryExhausted:
//	case httpclient.OutcomeFatal:
//	}
//
// Retried submissions can produce duplicate remote work when the server
// accepted an attempt whose response was lost. That risk is accepted.
package httpclient
