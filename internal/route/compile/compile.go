// Package compile turns route definitions into executable routes: a
// request matcher plus the ordered filter chain terminating in the
// proxy sink. Compilation is pure and never touches the network, so a
// snapshot rebuild is safe on every change notification.
package compile

import (
	"context"
	"fmt"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/cespare/xxhash/v2"

	"github.com/neuragate/gateway/internal/breaker"
	"github.com/neuragate/gateway/internal/config"
	"github.com/neuragate/gateway/internal/fallback"
	"github.com/neuragate/gateway/internal/filter"
	"github.com/neuragate/gateway/internal/proxy"
	"github.com/neuragate/gateway/internal/ratelimit"
	"github.com/neuragate/gateway/internal/retry"
	"github.com/neuragate/gateway/internal/route"
)

// Resilience filter names. These occupy fixed chain positions no
// matter where a definition declares them.
const (
	FilterRateLimiter    = "RequestRateLimiter"
	FilterRetry          = "Retry"
	FilterCircuitBreaker = "CircuitBreaker"
)

// Mutation filter names. These run between the breaker and the proxy
// in declaration order.
const (
	FilterStripPrefix       = "StripPrefix"
	FilterPrefixPath        = "PrefixPath"
	FilterAddRequestHeader  = "AddRequestHeader"
	FilterAddResponseHeader = "AddResponseHeader"
)

// DefaultBreakerName backs routes that declare no breaker of their own.
const DefaultBreakerName = "dynamicRoute"

// CompiledRoute is the immutable executable form of a definition.
type CompiledRoute struct {
	Def     *route.Definition
	Matcher Matcher
	Handler filter.Handler
	// Hash fingerprints the definition content; an unchanged hash means
	// recompilation produced an equivalent route.
	Hash uint64
}

// Compiler builds compiled routes against the shared gateway
// infrastructure. It is safe for concurrent use.
type Compiler struct {
	engine   *proxy.Engine
	limiters *ratelimit.Factory
	breakers *breaker.Registry
	fallback *fallback.Router

	retryDefaults config.RetryConfig
	limitDefaults config.RateLimitConfig
}

// NewCompiler creates a compiler.
func NewCompiler(engine *proxy.Engine, limiters *ratelimit.Factory, breakers *breaker.Registry, fb *fallback.Router, cfg *config.Config) *Compiler {
	return &Compiler{
		engine:        engine,
		limiters:      limiters,
		breakers:      breakers,
		fallback:      fb,
		retryDefaults: cfg.Retry,
		limitDefaults: cfg.RateLimit,
	}
}

// Compile turns one definition into a CompiledRoute. A malformed
// definition is a configuration error; the message names the route and
// the offending field.
func (c *Compiler) Compile(def *route.Definition) (*CompiledRoute, error) {
	if err := def.Validate(); err != nil {
		return nil, err
	}

	target, err := url.Parse(def.URI)
	if err != nil {
		return nil, fmt.Errorf("route %q: invalid uri: %w", def.ID, err)
	}

	matcher, err := c.compileMatcher(def)
	if err != nil {
		return nil, err
	}

	chain, err := c.compileChain(def)
	if err != nil {
		return nil, err
	}

	raw, err := def.Marshal()
	if err != nil {
		return nil, fmt.Errorf("route %q: %w", def.ID, err)
	}

	return &CompiledRoute{
		Def:     def,
		Matcher: matcher,
		Handler: chain.Then(c.engine.Sink(target)),
		Hash:    xxhash.Sum64(raw),
	}, nil
}

func (c *Compiler) compileMatcher(def *route.Definition) (Matcher, error) {
	var predicates []predicate
	hasPath := false

	for _, pd := range def.Predicates {
		var (
			p   predicate
			err error
		)
		switch pd.Name {
		case "Path":
			p, err = pathPredicate(pd.Args)
			hasPath = true
		case "Method":
			p, err = methodPredicate(pd.Args)
		case "Header":
			p, err = headerPredicate(pd.Args)
		case "Host":
			p, err = hostPredicate(pd.Args)
		default:
			err = fmt.Errorf("unknown predicate %q", pd.Name)
		}
		if err != nil {
			return nil, fmt.Errorf("route %q: %w", def.ID, err)
		}
		predicates = append(predicates, p)
	}

	if !hasPath {
		return nil, fmt.Errorf("route %q: a Path predicate is required", def.ID)
	}
	return buildMatcher(predicates), nil
}

// compileChain builds the route's filter chain, outermost first:
// rate limiter, breaker fallback, retry, breaker, then the mutation
// filters in declared order. Resilience filters keep those positions
// even when a definition lists them elsewhere, so a rate-limit
// rejection never consumes retry budget and the breaker sees
// per-attempt outcomes. The fallback stage sits above retry so an
// open circuit is answered locally without any re-attempts.
func (c *Compiler) compileChain(def *route.Definition) (*filter.Chain, error) {
	var (
		limiterDef *route.FilterDefinition
		retryDef   *route.FilterDefinition
		breakerDef *route.FilterDefinition
		userDefs   []route.FilterDefinition
	)

	for i := range def.Filters {
		fd := &def.Filters[i]
		switch fd.Name {
		case FilterRateLimiter:
			limiterDef = fd
		case FilterRetry:
			retryDef = fd
		case FilterCircuitBreaker:
			breakerDef = fd
		case FilterStripPrefix, FilterPrefixPath, FilterAddRequestHeader, FilterAddResponseHeader:
			userDefs = append(userDefs, *fd)
		default:
			return nil, fmt.Errorf("route %q: unknown filter %q", def.ID, fd.Name)
		}
	}

	var filters []filter.Filter

	// Rate limiter: declared, or injected when the route opts in.
	if limiterDef != nil {
		f, err := c.limiterFilter(def, limiterDef.Args)
		if err != nil {
			return nil, err
		}
		filters = append(filters, f)
	} else if def.MetaBool(route.MetaRateLimitEnabled) {
		f, err := c.limiterFilter(def, nil)
		if err != nil {
			return nil, err
		}
		filters = append(filters, f)
	}

	// Breaker: declared, or injected as the shared dynamic-route breaker.
	var breakerArgs map[string]string
	if breakerDef != nil {
		breakerArgs = breakerDef.Args
	}
	fbf, guard, err := c.breakerFilters(def, breakerArgs)
	if err != nil {
		return nil, err
	}
	filters = append(filters, fbf)

	// Retry: declared, or injected with defaults.
	var retryArgs map[string]string
	if retryDef != nil {
		retryArgs = retryDef.Args
	}
	rf, err := c.retryFilter(def, retryArgs)
	if err != nil {
		return nil, err
	}
	filters = append(filters, rf)

	filters = append(filters, guard)

	for _, fd := range userDefs {
		f, err := mutationFilter(def, fd)
		if err != nil {
			return nil, err
		}
		filters = append(filters, f)
	}

	return filter.NewChain(filters...), nil
}

func (c *Compiler) limiterFilter(def *route.Definition, args map[string]string) (filter.Filter, error) {
	s := ratelimit.Settings{
		Replenish: c.limitDefaults.Replenish,
		Burst:     c.limitDefaults.Burst,
		Key:       c.limitDefaults.Key,
		BucketTTL: c.limitDefaults.BucketTTL,
	}

	if preset := args["preset"]; preset != "" {
		p, ok := ratelimit.Presets[preset]
		if !ok {
			return nil, fmt.Errorf("route %q: unknown rate limit preset %q", def.ID, preset)
		}
		s.Replenish = p.Replenish
		s.Burst = p.Burst
	}
	var err error
	if s.Replenish, err = argInt(args, "replenish", s.Replenish); err != nil {
		return nil, fmt.Errorf("route %q: %w", def.ID, err)
	}
	if s.Burst, err = argInt(args, "burst", s.Burst); err != nil {
		return nil, fmt.Errorf("route %q: %w", def.ID, err)
	}
	if key := args["key"]; key != "" {
		s.Key = key
	}
	if s.Replenish <= 0 || s.Burst <= 0 {
		return nil, fmt.Errorf("route %q: rate limit replenish and burst must be positive", def.ID)
	}

	return c.limiters.Filter(s), nil
}

func (c *Compiler) retryFilter(def *route.Definition, args map[string]string) (filter.Filter, error) {
	d := c.retryDefaults

	retries, err := argInt(args, "retries", d.Retries)
	if err != nil {
		return nil, fmt.Errorf("route %q: %w", def.ID, err)
	}

	base := d.Base
	if raw := args["base"]; raw != "" {
		base, err = time.ParseDuration(raw)
		if err != nil {
			return nil, fmt.Errorf("route %q: invalid retry base %q: %w", def.ID, raw, err)
		}
	}

	statuses := d.Statuses
	if raw := args["statuses"]; raw != "" {
		statuses = statuses[:0:0]
		for _, s := range strings.Split(raw, ",") {
			code, err := strconv.Atoi(strings.TrimSpace(s))
			if err != nil {
				return nil, fmt.Errorf("route %q: invalid retry status %q", def.ID, s)
			}
			statuses = append(statuses, code)
		}
	}

	methods := d.Methods
	if raw := args["methods"]; raw != "" {
		methods = methods[:0:0]
		for _, m := range strings.Split(raw, ",") {
			methods = append(methods, strings.ToUpper(strings.TrimSpace(m)))
		}
	}

	return retry.NewPolicy(retries, base, d.Multiplier, statuses, methods).Filter(), nil
}

// breakerFilters builds the pair of breaker stages: the fallback
// renderer placed above retry and the guard placed below it.
func (c *Compiler) breakerFilters(def *route.Definition, args map[string]string) (fbf, guard filter.Filter, err error) {
	name := args["name"]
	if name == "" {
		name = DefaultBreakerName
	}

	fallbackPath := fallback.PathMessage
	if raw := args["fallbackUri"]; raw != "" {
		path, ok := strings.CutPrefix(raw, "forward:")
		if !ok {
			return nil, nil, fmt.Errorf("route %q: breaker fallbackUri %q must use the forward: scheme", def.ID, raw)
		}
		if !c.fallback.Known(path) {
			return nil, nil, fmt.Errorf("route %q: unknown fallback path %q", def.ID, path)
		}
		fallbackPath = path
	}

	return breaker.FallbackFilter(c.fallback.Handler(fallbackPath)),
		breaker.Filter(c.breakers.Get(name)), nil
}

// mutationFilter builds one request/response mutation filter.
func mutationFilter(def *route.Definition, fd route.FilterDefinition) (filter.Filter, error) {
	switch fd.Name {
	case FilterStripPrefix:
		parts, err := argInt(fd.Args, "parts", 1)
		if err != nil || parts < 1 {
			return nil, fmt.Errorf("route %q: StripPrefix parts must be a positive integer", def.ID)
		}
		return stripPrefixFilter(parts), nil

	case FilterPrefixPath:
		prefix := fd.Args["prefix"]
		if !strings.HasPrefix(prefix, "/") {
			return nil, fmt.Errorf("route %q: PrefixPath prefix must start with /", def.ID)
		}
		return prefixPathFilter(prefix), nil

	case FilterAddRequestHeader:
		name, value := fd.Args["name"], fd.Args["value"]
		if name == "" {
			return nil, fmt.Errorf("route %q: AddRequestHeader requires a name", def.ID)
		}
		return addRequestHeaderFilter(name, value), nil

	case FilterAddResponseHeader:
		name, value := fd.Args["name"], fd.Args["value"]
		if name == "" {
			return nil, fmt.Errorf("route %q: AddResponseHeader requires a name", def.ID)
		}
		return addResponseHeaderFilter(name, value), nil
	}
	return nil, fmt.Errorf("route %q: unknown filter %q", def.ID, fd.Name)
}

func argInt(args map[string]string, key string, def int) (int, error) {
	raw, ok := args[key]
	if !ok || raw == "" {
		return def, nil
	}
	n, err := strconv.Atoi(strings.TrimSpace(raw))
	if err != nil {
		return 0, fmt.Errorf("argument %s must be an integer, got %q", key, raw)
	}
	return n, nil
}

func stripPrefixFilter(parts int) filter.Filter {
	return func(next filter.Handler) filter.Handler {
		return func(ctx context.Context, r *http.Request) (*http.Response, error) {
			segs := splitPath(r.URL.Path)
			if parts < len(segs) {
				r.URL.Path = "/" + strings.Join(segs[parts:], "/")
			} else {
				r.URL.Path = "/"
			}
			return next(ctx, r)
		}
	}
}

func prefixPathFilter(prefix string) filter.Filter {
	return func(next filter.Handler) filter.Handler {
		return func(ctx context.Context, r *http.Request) (*http.Response, error) {
			r.URL.Path = prefix + r.URL.Path
			return next(ctx, r)
		}
	}
}

func addRequestHeaderFilter(name, value string) filter.Filter {
	return func(next filter.Handler) filter.Handler {
		return func(ctx context.Context, r *http.Request) (*http.Response, error) {
			r.Header.Set(name, value)
			return next(ctx, r)
		}
	}
}

func addResponseHeaderFilter(name, value string) filter.Filter {
	return func(next filter.Handler) filter.Handler {
		return func(ctx context.Context, r *http.Request) (*http.Response, error) {
			resp, err := next(ctx, r)
			if resp != nil {
				resp.Header.Set(name, value)
			}
			return resp, err
		}
	}
}
