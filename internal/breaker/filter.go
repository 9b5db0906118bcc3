package breaker

import (
	"context"
	"net/http"

	"github.com/neuragate/gateway/internal/errors"
	"github.com/neuragate/gateway/internal/filter"
)

// Fallback produces the local response served in place of an upstream
// call when the circuit is open (or when a half-open permit is
// unavailable).
type Fallback func(ctx context.Context, r *http.Request) (*http.Response, error)

// Filter wraps the downstream stage with the breaker. Each attempt
// traversing the filter is one recorded outcome: a transport or
// timeout failure and any 5xx response count as failures; 4xx and
// below are successes. Client cancellation settles the permit as a
// success so a storm of aborts cannot open the circuit.
//
// While the circuit is refusing calls the attempt surfaces as a
// breaker-open error rather than a response. That kind is not
// retryable, so a retry stage above stops immediately; FallbackFilter,
// sitting above the retry stage, renders the local response.
func Filter(b *Breaker) filter.Filter {
	return func(next filter.Handler) filter.Handler {
		return func(ctx context.Context, r *http.Request) (*http.Response, error) {
			done, err := b.Allow()
			if err != nil {
				filter.FromContext(ctx).BreakerTriggered = true
				return nil, errors.Upstream(errors.KindBreakerOpen, err)
			}

			resp, err := next(ctx, r)
			if err != nil {
				if ue, ok := errors.AsUpstream(err); ok && ue.Kind == errors.KindCanceled {
					done(true)
				} else {
					done(false)
				}
				return nil, err
			}

			done(resp.StatusCode < 500)
			return resp, nil
		}
	}
}

// FallbackFilter converts a breaker-open error rising from below into
// the fallback response. Keeping it above the retry stage means a
// short-circuited call is answered locally at once, without consuming
// retry budget or re-invoking the fallback.
func FallbackFilter(fb Fallback) filter.Filter {
	return func(next filter.Handler) filter.Handler {
		return func(ctx context.Context, r *http.Request) (*http.Response, error) {
			resp, err := next(ctx, r)
			if err != nil {
				if ue, ok := errors.AsUpstream(err); ok && ue.Kind == errors.KindBreakerOpen {
					return fb(ctx, r)
				}
			}
			return resp, err
		}
	}
}
