package compile

import (
	"net/http"
	"sort"
	"sync/atomic"

	"go.uber.org/zap"

	"github.com/neuragate/gateway/internal/logging"
	"github.com/neuragate/gateway/internal/route"
)

// Snapshot is an immutable view of every enabled compiled route,
// sorted by (order, id). Readers hold a snapshot reference for the
// life of a request; replacing the current snapshot never disturbs
// requests resolved against an older one.
type Snapshot struct {
	routes []*CompiledRoute
}

// Routes returns the snapshot's routes in match order.
func (s *Snapshot) Routes() []*CompiledRoute {
	return s.routes
}

// Len returns the number of routes in the snapshot.
func (s *Snapshot) Len() int {
	return len(s.routes)
}

// BuildSnapshot compiles every enabled definition into a snapshot.
// Definitions that fail to compile are skipped and logged; one bad
// route must not take down the rest of the table.
func (c *Compiler) BuildSnapshot(defs []*route.Definition) *Snapshot {
	routes := make([]*CompiledRoute, 0, len(defs))
	for _, def := range defs {
		if !def.Enabled {
			continue
		}
		cr, err := c.Compile(def)
		if err != nil {
			logging.Error("Skipping route that failed to compile",
				zap.String("route_id", def.ID), zap.Error(err))
			continue
		}
		routes = append(routes, cr)
	}

	sort.Slice(routes, func(i, j int) bool {
		if routes[i].Def.Order != routes[j].Def.Order {
			return routes[i].Def.Order < routes[j].Def.Order
		}
		return routes[i].Def.ID < routes[j].Def.ID
	})

	return &Snapshot{routes: routes}
}

// Resolver holds the live snapshot behind an atomic pointer. Swapping
// in a new snapshot is wait-free for concurrent resolvers.
type Resolver struct {
	current atomic.Pointer[Snapshot]
}

// NewResolver creates a resolver holding an empty snapshot.
func NewResolver() *Resolver {
	r := &Resolver{}
	r.current.Store(&Snapshot{})
	return r
}

// Swap installs a new snapshot as the live route table.
func (r *Resolver) Swap(s *Snapshot) {
	r.current.Store(s)
	logging.Info("Route snapshot installed", zap.Int("routes", s.Len()))
}

// Snapshot returns the live snapshot.
func (r *Resolver) Snapshot() *Snapshot {
	return r.current.Load()
}

// Resolve returns the first route whose matcher accepts the request,
// in ascending (order, id), or nil on a miss.
func (r *Resolver) Resolve(req *http.Request) *CompiledRoute {
	for _, cr := range r.current.Load().routes {
		if cr.Matcher(req) {
			return cr
		}
	}
	return nil
}
