// Package fallback serves the local degradation endpoints substituted
// for an upstream call when a circuit is open. Responses are always
// 503, synchronous, and never touch the proxy.
package fallback

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"time"

	"go.uber.org/zap"

	"github.com/neuragate/gateway/internal/filter"
	"github.com/neuragate/gateway/internal/logging"
)

// Local fallback paths.
const (
	PathMessage  = "/fallback/message"
	PathBackend  = "/fallback/backend"
	PathCritical = "/fallback/critical"
)

// body is the JSON payload for a fallback response.
type body struct {
	Status    string `json:"status"`
	Message   string `json:"message"`
	Timestamp string `json:"timestamp"`
	Reason    string `json:"reason,omitempty"`
	Service   string `json:"service,omitempty"`
	Action    string `json:"action,omitempty"`
}

func bodyFor(path string) body {
	switch path {
	case PathBackend:
		return body{
			Status:  "degraded",
			Message: "Backend service is currently experiencing issues. Using cached data or degraded functionality.",
			Service: "backend",
			Action:  "Circuit breaker protection active",
		}
	case PathCritical:
		return body{
			Status:  "critical_degraded",
			Message: "A critical service is temporarily unavailable. Our team has been notified.",
			Service: "critical",
			Action:  "Automatic recovery in progress",
		}
	default:
		return body{
			Status:  "degraded",
			Message: "Service temporarily unavailable. Please try again later.",
			Reason:  "Circuit breaker is open due to high failure rate",
		}
	}
}

// Router serves the fallback surface.
type Router struct{}

// NewRouter creates a fallback router.
func NewRouter() *Router {
	return &Router{}
}

// Known reports whether path is a fallback endpoint.
func (fr *Router) Known(path string) bool {
	switch path {
	case PathMessage, PathBackend, PathCritical:
		return true
	}
	return false
}

// Respond builds the 503 response for a fallback path. Unknown paths
// serve the generic message body.
func (fr *Router) Respond(path string) *http.Response {
	b := bodyFor(path)
	b.Timestamp = time.Now().UTC().Format(time.RFC3339)
	payload, _ := json.Marshal(b)

	header := make(http.Header)
	header.Set("Content-Type", "application/json")
	return filter.SynthesizeResponse(http.StatusServiceUnavailable, header, payload)
}

// Handler returns the in-chain fallback for a path, used by a breaker
// to short-circuit a request locally.
func (fr *Router) Handler(path string) func(ctx context.Context, r *http.Request) (*http.Response, error) {
	return func(ctx context.Context, r *http.Request) (*http.Response, error) {
		info := filter.FromContext(ctx)
		logging.Warn("Serving circuit breaker fallback",
			zap.String("fallback", path),
			zap.String("path", r.URL.Path),
			logging.Correlation(info.CorrelationID),
		)
		return fr.Respond(path), nil
	}
}

// ServeHTTP serves GET requests on the fallback surface directly.
func (fr *Router) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	resp := fr.Respond(r.URL.Path)
	defer resp.Body.Close()

	for k, vv := range resp.Header {
		w.Header()[k] = vv
	}
	w.WriteHeader(resp.StatusCode)
	io.Copy(w, resp.Body)
}
