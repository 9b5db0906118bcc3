package ratelimit

import (
	"context"
	"net/http"
	"strconv"

	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	"github.com/neuragate/gateway/internal/errors"
	"github.com/neuragate/gateway/internal/filter"
	"github.com/neuragate/gateway/internal/logging"
)

// Presets mirror the stock limiter profiles: replenish/burst pairs
// selectable by name from a route filter's "preset" argument.
var Presets = map[string]Settings{
	"default":  {Replenish: 10, Burst: 20},
	"critical": {Replenish: 5, Burst: 10},
	"public":   {Replenish: 50, Burst: 100},
}

// KeyFunc extracts the bucket key from a request.
type KeyFunc func(*http.Request) string

// BuildKeyFunc returns a key extraction function for a key dimension.
// The user dimension falls back to client IP when the header is absent.
func BuildKeyFunc(dimension string) KeyFunc {
	switch dimension {
	case "user":
		return func(r *http.Request) string {
			if user := r.Header.Get("X-User-Id"); user != "" {
				return "user:" + user
			}
			return "ip:" + filter.ExtractClientIP(r)
		}
	case "path":
		return func(r *http.Request) string {
			return "path:" + r.URL.Path
		}
	case "ip+path":
		return func(r *http.Request) string {
			return "ip:" + filter.ExtractClientIP(r) + ":path:" + r.URL.Path
		}
	default: // ip
		return func(r *http.Request) string {
			return "ip:" + filter.ExtractClientIP(r)
		}
	}
}

// Factory builds rate-limit filters, sharing one Redis client across
// all route limiters. A nil client selects the local bucket.
type Factory struct {
	client *redis.Client
}

// NewFactory creates a limiter factory.
func NewFactory(client *redis.Client) *Factory {
	return &Factory{client: client}
}

// Filter returns the chain filter for one limiter instance. A
// rejection answers 429 locally: it consumes no retry budget, records
// no breaker outcome, and never reaches the proxy.
func (f *Factory) Filter(s Settings) filter.Filter {
	var limiter Limiter
	if f.client != nil {
		limiter = NewRedisLimiter(f.client, s)
	} else {
		limiter = NewLocalLimiter(s)
	}

	keyFn := BuildKeyFunc(s.Key)
	replenishStr := strconv.Itoa(s.Replenish)
	burstStr := strconv.Itoa(s.Burst)

	return func(next filter.Handler) filter.Handler {
		return func(ctx context.Context, r *http.Request) (*http.Response, error) {
			key := keyFn(r)

			decision, err := limiter.Allow(ctx, key)
			if err != nil {
				// Fail open: an unreachable bucket store admits the request.
				logging.Warn("Rate limit store unavailable, failing open",
					zap.String("key", key), zap.Error(err))
				return next(ctx, r)
			}

			if !decision.Allowed {
				filter.FromContext(ctx).RateLimited = true

				header := make(http.Header)
				header.Set("Content-Type", "application/json")
				header.Set("X-RateLimit-Remaining", "0")
				header.Set("X-RateLimit-Replenish-Rate", replenishStr)
				header.Set("X-RateLimit-Burst-Capacity", burstStr)

				body, _ := errors.ErrTooManyRequests.MarshalBody()
				return filter.SynthesizeResponse(http.StatusTooManyRequests, header, body), nil
			}

			resp, err := next(ctx, r)
			if resp != nil {
				resp.Header.Set("X-RateLimit-Remaining", strconv.Itoa(decision.Remaining))
			}
			return resp, err
		}
	}
}
