// Package gateway wires the data plane together: correlation and
// telemetry wrap a resolver dispatch whose compiled routes run the
// per-route filter chain down to the proxy engine.
package gateway

import (
	"io"
	"net/http"
	"strings"

	"go.uber.org/zap"

	"github.com/neuragate/gateway/internal/admin"
	"github.com/neuragate/gateway/internal/breaker"
	"github.com/neuragate/gateway/internal/config"
	"github.com/neuragate/gateway/internal/correlation"
	"github.com/neuragate/gateway/internal/errors"
	"github.com/neuragate/gateway/internal/fallback"
	"github.com/neuragate/gateway/internal/filter"
	"github.com/neuragate/gateway/internal/health"
	"github.com/neuragate/gateway/internal/logging"
	"github.com/neuragate/gateway/internal/proxy"
	"github.com/neuragate/gateway/internal/ratelimit"
	"github.com/neuragate/gateway/internal/route/compile"
	"github.com/neuragate/gateway/internal/route/store"
	"github.com/neuragate/gateway/internal/telemetry"
)

// reservedPrefixes are never proxied; they belong to the gateway's own
// surfaces.
var reservedPrefixes = []string{"/admin", "/fallback", "/actuator", "/auth", "/dashboard"}

// Gateway owns the data plane components and their shared registries.
type Gateway struct {
	cfg      *config.Config
	store    *store.Store
	compiler *compile.Compiler
	resolver *compile.Resolver
	engine   *proxy.Engine
	breakers *breaker.Registry
	fallback *fallback.Router
	pub      *telemetry.Publisher
	probe    *health.Probe
	admin    *admin.Handler
}

// New wires a gateway from config. The Redis client backing the route
// table is shared with the distributed rate limiter.
func New(cfg *config.Config) (*Gateway, error) {
	st, err := store.New(cfg.Store)
	if err != nil {
		return nil, err
	}

	pub, err := telemetry.NewPublisher(cfg.Telemetry)
	if err != nil {
		st.Close()
		return nil, err
	}

	engine := proxy.NewEngine(proxy.FromConfig(cfg.Proxy))
	breakers := breaker.NewRegistry(cfg.Breaker)
	limiters := ratelimit.NewFactory(st.Client())
	fb := fallback.NewRouter()
	compiler := compile.NewCompiler(engine, limiters, breakers, fb, cfg)
	resolver := compile.NewResolver()

	g := &Gateway{
		cfg:      cfg,
		store:    st,
		compiler: compiler,
		resolver: resolver,
		engine:   engine,
		breakers: breakers,
		fallback: fb,
		pub:      pub,
		admin:    admin.NewHandler(st),
	}
	g.probe = health.NewProbe(st, breakers, resolver, pub)
	return g, nil
}

// Handler returns the root handler: correlation assignment, then
// telemetry capture around the dispatch.
func (g *Gateway) Handler() http.Handler {
	mux := http.NewServeMux()
	mux.Handle("/admin/", g.admin)
	mux.Handle("/fallback/", g.fallback)
	mux.Handle("/actuator/health", g.probe)
	mux.HandleFunc("/", g.dispatch)

	return correlation.Middleware(telemetry.Capture(g.pub, mux))
}

// dispatch resolves the request against the live snapshot and runs the
// matched route's filter chain. Reserved prefixes that reached here
// have no registered handler and are a miss.
func (g *Gateway) dispatch(w http.ResponseWriter, r *http.Request) {
	info := filter.FromRequest(r)

	if reserved(r.URL.Path) {
		errors.ErrNotFound.WithCorrelationID(info.CorrelationID).WriteJSON(w)
		return
	}

	cr := g.resolver.Resolve(r)
	if cr == nil {
		logging.Debug("No route matched",
			zap.String("method", r.Method), zap.String("path", r.URL.Path))
		errors.ErrNotFound.WithCorrelationID(info.CorrelationID).WriteJSON(w)
		return
	}
	info.RouteID = cr.Def.ID

	resp, err := cr.Handler(r.Context(), r)
	if err != nil {
		g.writeError(w, r, err)
		return
	}
	defer resp.Body.Close()

	for k, vv := range resp.Header {
		w.Header()[k] = vv
	}
	w.Header().Set(correlation.Header, info.CorrelationID)
	w.WriteHeader(resp.StatusCode)
	if _, err := io.Copy(w, resp.Body); err != nil {
		logging.Debug("Response body copy interrupted",
			zap.Error(err), logging.Correlation(info.CorrelationID))
	}
}

// writeError maps a chain error onto the client response. Transport
// failures are 502, upstream timeouts 504, anything unclassified 500.
// A canceled request gets no body; the client is gone.
func (g *Gateway) writeError(w http.ResponseWriter, r *http.Request, err error) {
	info := filter.FromRequest(r)
	info.ErrorMessage = err.Error()

	if ue, ok := errors.AsUpstream(err); ok {
		switch ue.Kind {
		case errors.KindCanceled:
			logging.Debug("Request canceled by client",
				zap.String("path", r.URL.Path), logging.Correlation(info.CorrelationID))
			w.WriteHeader(errors.ErrBadGateway.Code)
			return
		case errors.KindTimeout:
			logging.Warn("Upstream timed out",
				zap.String("route_id", info.RouteID), logging.Correlation(info.CorrelationID))
			errors.ErrGatewayTimeout.WithCorrelationID(info.CorrelationID).WriteJSON(w)
			return
		case errors.KindTransport:
			logging.Warn("Upstream unreachable",
				zap.String("route_id", info.RouteID), zap.Error(err),
				logging.Correlation(info.CorrelationID))
			errors.ErrBadGateway.WithCorrelationID(info.CorrelationID).WriteJSON(w)
			return
		}
	}

	logging.Error("Unhandled chain error",
		zap.String("route_id", info.RouteID), zap.Error(err),
		logging.Correlation(info.CorrelationID))
	errors.ErrInternalServer.WithCorrelationID(info.CorrelationID).WriteJSON(w)
}

func reserved(path string) bool {
	for _, p := range reservedPrefixes {
		if strings.HasPrefix(path, p) {
			return true
		}
	}
	return false
}

// Resolver exposes the live route table (tests and the health probe).
func (g *Gateway) Resolver() *compile.Resolver {
	return g.resolver
}

// Store exposes the route store.
func (g *Gateway) Store() *store.Store {
	return g.store
}

// Publisher exposes the telemetry publisher.
func (g *Gateway) Publisher() *telemetry.Publisher {
	return g.pub
}

// Close releases the gateway's long-lived resources.
func (g *Gateway) Close() error {
	g.engine.Pool().CloseIdleConnections()
	return g.store.Close()
}
