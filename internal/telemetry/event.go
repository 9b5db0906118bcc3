// Package telemetry captures per-request events and publishes them to
// the message bus. Capture and publish are decoupled by a bounded
// queue so the bus can never slow a response down.
package telemetry

import "encoding/json"

// Bus topics. Partition counts are fixed at creation; keys keep events
// for one route in per-partition order.
const (
	TopicTelemetry = "gateway-telemetry"
	TopicErrors    = "gateway-errors"
	TopicRoutes    = "gateway-routes"

	TelemetryPartitions = 3
	ErrorPartitions     = 2
	RoutePartitions     = 1
)

// Event is the wire schema for one handled request. Consumers ignore
// unknown fields, so additions are forward-compatible.
type Event struct {
	RouteID       string `json:"route-id,omitempty"`
	Path          string `json:"path"`
	Method        string `json:"method"`
	Status        int    `json:"status,omitempty"`
	LatencyMS     int64  `json:"latency-ms"`
	Timestamp     string `json:"timestamp"`
	CorrelationID string `json:"correlation-id"`
	ClientIP      string `json:"client-ip"`
	UserAgent     string `json:"user-agent,omitempty"`
	RateLimited   bool   `json:"rate-limited"`
	BreakerFired  bool   `json:"circuit-breaker-triggered"`
	RetryCount    int    `json:"retry-count"`
	ErrorMessage  string `json:"error-message,omitempty"`
}

// Key returns the partition key: the route id, or "unknown" for
// requests that matched no route.
func (e *Event) Key() string {
	if e.RouteID == "" {
		return "unknown"
	}
	return e.RouteID
}

// Encode serializes the event for the bus.
func (e *Event) Encode() ([]byte, error) {
	return json.Marshal(e)
}

// ErrorEvent is the reduced record mirrored onto the error topic for
// 5xx outcomes.
type ErrorEvent struct {
	RouteID      string `json:"route-id,omitempty"`
	Path         string `json:"path"`
	ErrorMessage string `json:"error-message"`
	Timestamp    string `json:"timestamp"`
}

// RouteChange is the wire schema for a route table mutation on the
// routes topic.
type RouteChange struct {
	RouteID    string          `json:"route-id"`
	Op         string          `json:"op"`
	Timestamp  string          `json:"timestamp"`
	Definition json.RawMessage `json:"definition,omitempty"`
}
