// Package retry implements bounded retries with exponential backoff
// and jitter, gated by status, error-kind, and method whitelists.
package retry

import (
	"bytes"
	"context"
	"io"
	"math"
	"math/rand/v2"
	"net/http"
	"time"

	"github.com/neuragate/gateway/internal/errors"
	"github.com/neuragate/gateway/internal/filter"
)

// DefaultRetryableStatuses are upstream statuses that trigger a retry.
var DefaultRetryableStatuses = []int{502, 503}

// DefaultRetryableMethods are methods permitted to retry.
var DefaultRetryableMethods = []string{"GET", "POST", "PUT", "DELETE"}

// Policy holds one retry filter's tunables.
type Policy struct {
	Retries           int // additional attempts beyond the first
	Base              time.Duration
	Multiplier        float64
	RetryableStatuses map[int]bool
	RetryableMethods  map[string]bool
}

// NewPolicy applies defaults to zero-valued fields.
func NewPolicy(retries int, base time.Duration, multiplier float64, statuses []int, methods []string) *Policy {
	p := &Policy{
		Retries:    retries,
		Base:       base,
		Multiplier: multiplier,
	}
	if p.Base <= 0 {
		p.Base = 500 * time.Millisecond
	}
	if p.Multiplier <= 0 {
		p.Multiplier = 2
	}
	if len(statuses) == 0 {
		statuses = DefaultRetryableStatuses
	}
	p.RetryableStatuses = make(map[int]bool, len(statuses))
	for _, s := range statuses {
		p.RetryableStatuses[s] = true
	}
	if len(methods) == 0 {
		methods = DefaultRetryableMethods
	}
	p.RetryableMethods = make(map[string]bool, len(methods))
	for _, m := range methods {
		p.RetryableMethods[m] = true
	}
	return p
}

// Filter wraps the downstream stage with the retry loop. Each
// re-attempt increments the request-scoped retry count; a deadline
// expiry cancels the in-flight attempt and schedules no further ones.
// Non-retryable failures pass through untouched.
func (p *Policy) Filter() filter.Filter {
	return func(next filter.Handler) filter.Handler {
		return func(ctx context.Context, r *http.Request) (*http.Response, error) {
			if p.Retries <= 0 || !p.RetryableMethods[r.Method] {
				return next(ctx, r)
			}

			// Buffer the body so re-attempts can replay it.
			var bodyBytes []byte
			if r.Body != nil && r.Body != http.NoBody {
				var err error
				bodyBytes, err = io.ReadAll(r.Body)
				r.Body.Close()
				if err != nil {
					return nil, errors.Upstream(errors.KindTransport, err)
				}
				r.Body = io.NopCloser(bytes.NewReader(bodyBytes))
			}

			info := filter.FromContext(ctx)

			var lastResp *http.Response
			var lastErr error

			for attempt := 0; attempt <= p.Retries; attempt++ {
				if attempt > 0 {
					info.RetryCount++

					select {
					case <-ctx.Done():
						if lastResp != nil {
							return lastResp, nil
						}
						return nil, errors.ClassifyTransport(ctx.Err())
					case <-time.After(p.backoff(attempt)):
					}

					if bodyBytes != nil {
						r.Body = io.NopCloser(bytes.NewReader(bodyBytes))
					}
				}

				resp, err := next(ctx, r)
				if err != nil {
					// A non-retryable kind ends the sequence at once. The
					// breaker reports an open circuit this way, so a route
					// that went dark mid-sequence gets no further attempts.
					if ue, ok := errors.AsUpstream(err); !ok || !ue.Retryable() {
						if lastResp != nil {
							lastResp.Body.Close()
						}
						return nil, err
					}
					if lastResp != nil {
						lastResp.Body.Close()
					}
					lastErr = err
					lastResp = nil
					continue
				}

				if !p.RetryableStatuses[resp.StatusCode] {
					return resp, nil
				}

				// Retryable status: drop this response and go around.
				if lastResp != nil {
					lastResp.Body.Close()
				}
				lastResp = resp
				lastErr = nil
			}

			// Budget exhausted: surface the last outcome.
			if lastResp != nil {
				return lastResp, nil
			}
			return nil, lastErr
		}
	}
}

// backoff returns the wait before re-attempt k (1-indexed):
// base * multiplier^(k-1) plus jitter uniform in [0, wait/2].
func (p *Policy) backoff(attempt int) time.Duration {
	wait := float64(p.Base) * math.Pow(p.Multiplier, float64(attempt-1))
	jitter := rand.Float64() * wait / 2
	return time.Duration(wait + jitter)
}
