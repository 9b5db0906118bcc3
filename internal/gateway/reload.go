package gateway

import (
	"context"
	"encoding/json"

	"go.uber.org/zap"

	"github.com/neuragate/gateway/internal/logging"
)

// Rebuild compiles the current definition set and installs it as the
// live snapshot. The store serves its fallback set while unreachable,
// so a rebuild during an outage keeps critical routes alive.
func (g *Gateway) Rebuild(ctx context.Context) error {
	defs, err := g.store.All(ctx)
	if err != nil {
		return err
	}
	g.resolver.Swap(g.compiler.BuildSnapshot(defs))
	return nil
}

// WatchRoutes consumes route-changed events until ctx is canceled.
// Every event forwards to the routes topic and triggers a full
// snapshot rebuild; rebuilding from scratch keeps the loop immune to
// dropped events.
func (g *Gateway) WatchRoutes(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			return
		case ev := <-g.store.Events():
			var raw json.RawMessage
			if ev.Definition != nil {
				raw, _ = ev.Definition.Marshal()
			}
			g.pub.RouteChanged(ev.RouteID, string(ev.Op), raw)

			if err := g.Rebuild(ctx); err != nil {
				logging.Error("Snapshot rebuild failed",
					zap.String("route_id", ev.RouteID), zap.Error(err))
				continue
			}
			logging.Info("Route table reloaded",
				zap.String("route_id", ev.RouteID), zap.String("op", string(ev.Op)))
		}
	}
}
