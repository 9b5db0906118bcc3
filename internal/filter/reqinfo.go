package filter

import (
	"context"
	"net"
	"net/http"
	"strings"
)

// Info is the per-request mutable state shared across the filter
// chain. It is installed once at the top of request handling and read
// by the telemetry capture after the response is written.
type Info struct {
	CorrelationID    string
	RouteID          string
	ClientIP         string
	RateLimited      bool
	BreakerTriggered bool
	RetryCount       int
	// ErrorMessage holds the terminal chain error for a failed request,
	// surfaced on the error topic.
	ErrorMessage string
}

type infoKey struct{}

// NewContext returns a context carrying the request info.
func NewContext(ctx context.Context, info *Info) context.Context {
	return context.WithValue(ctx, infoKey{}, info)
}

// FromContext returns the request info, or an empty throwaway Info if
// none is installed (mutations on the throwaway are not observed).
func FromContext(ctx context.Context) *Info {
	if info, ok := ctx.Value(infoKey{}).(*Info); ok {
		return info
	}
	return &Info{}
}

// FromRequest returns the request info from the request context.
func FromRequest(r *http.Request) *Info {
	return FromContext(r.Context())
}

// ExtractClientIP returns the client address for a request, preferring
// X-Forwarded-For, then X-Real-IP, then the connection remote address.
func ExtractClientIP(r *http.Request) string {
	if xff := r.Header.Get("X-Forwarded-For"); xff != "" {
		if i := strings.IndexByte(xff, ','); i > 0 {
			return strings.TrimSpace(xff[:i])
		}
		return strings.TrimSpace(xff)
	}

	if xri := r.Header.Get("X-Real-IP"); xri != "" {
		return xri
	}

	host, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		return r.RemoteAddr
	}
	return host
}
