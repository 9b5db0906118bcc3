// Package health serves the liveness surface. The overall status
// follows the route store: a reachable store is UP, an unreachable
// store with a loaded fallback set is DEGRADED, otherwise DOWN. The
// endpoint itself always answers 200; orchestrators read the body.
package health

import (
	"context"
	"encoding/json"
	"net/http"

	"github.com/neuragate/gateway/internal/breaker"
	"github.com/neuragate/gateway/internal/route/compile"
	"github.com/neuragate/gateway/internal/route/store"
	"github.com/neuragate/gateway/internal/telemetry"
)

// Probe aggregates component health into the /actuator/health report.
type Probe struct {
	store    *store.Store
	breakers *breaker.Registry
	resolver *compile.Resolver
	pub      *telemetry.Publisher
}

// NewProbe creates a health probe.
func NewProbe(st *store.Store, breakers *breaker.Registry, resolver *compile.Resolver, pub *telemetry.Publisher) *Probe {
	return &Probe{store: st, breakers: breakers, resolver: resolver, pub: pub}
}

type report struct {
	Status     store.Status         `json:"status"`
	Components map[string]component `json:"components"`
}

type component struct {
	Status  store.Status   `json:"status"`
	Details map[string]any `json:"details,omitempty"`
}

// Report builds the current health report.
func (p *Probe) Report(ctx context.Context) report {
	status := p.store.Health(ctx)

	gateway := component{
		Status: status,
		Details: map[string]any{
			"routeCount":       p.resolver.Snapshot().Len(),
			"fallbackLoaded":   p.store.FallbackLoaded(),
			"telemetryDropped": p.pub.Dropped(),
		},
	}

	snapshots := p.breakers.Snapshots()
	breakerDetails := make(map[string]any, len(snapshots))
	breakerStatus := store.StatusUp
	for name, snap := range snapshots {
		breakerDetails[name] = snap
		if snap.State == "OPEN" {
			breakerStatus = store.StatusDegraded
		}
	}

	return report{
		Status: status,
		Components: map[string]component{
			"gateway":         gateway,
			"circuitBreakers": {Status: breakerStatus, Details: breakerDetails},
		},
	}
}

// ServeHTTP answers GET /actuator/health.
func (p *Probe) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(p.Report(r.Context()))
}
