package compile

import (
	"fmt"
	"net/http"
	"regexp"
	"strings"
)

// Matcher reports whether a request matches a compiled route.
type Matcher func(r *http.Request) bool

// buildMatcher folds a route's predicates into a single conjunction.
// Every route needs at least a Path predicate; that is enforced by the
// compiler, not here.
func buildMatcher(predicates []predicate) Matcher {
	if len(predicates) == 1 {
		return Matcher(predicates[0])
	}
	return func(r *http.Request) bool {
		for _, p := range predicates {
			if !p(r) {
				return false
			}
		}
		return true
	}
}

type predicate func(r *http.Request) bool

// pathPattern is an anchored glob over path segments. "*" matches
// exactly one segment, "**" matches zero or more.
type pathPattern struct {
	segments []string
}

func parsePathPattern(pattern string) (*pathPattern, error) {
	if !strings.HasPrefix(pattern, "/") {
		return nil, fmt.Errorf("path pattern %q must start with /", pattern)
	}
	return &pathPattern{segments: splitPath(pattern)}, nil
}

func (pp *pathPattern) Match(path string) bool {
	return matchSegments(pp.segments, splitPath(path))
}

func splitPath(p string) []string {
	p = strings.Trim(p, "/")
	if p == "" {
		return nil
	}
	return strings.Split(p, "/")
}

// matchSegments matches pattern segments against path segments. "**"
// branches between consuming zero segments and consuming one.
func matchSegments(pattern, path []string) bool {
	for len(pattern) > 0 {
		seg := pattern[0]
		if seg == "**" {
			if matchSegments(pattern[1:], path) {
				return true
			}
			if len(path) == 0 {
				return false
			}
			path = path[1:]
			continue
		}
		if len(path) == 0 {
			return false
		}
		if seg != "*" && seg != path[0] {
			return false
		}
		pattern = pattern[1:]
		path = path[1:]
	}
	return len(path) == 0
}

func pathPredicate(args map[string]string) (predicate, error) {
	raw, ok := args["pattern"]
	if !ok || raw == "" {
		return nil, fmt.Errorf("path predicate requires a pattern argument")
	}

	patterns := make([]*pathPattern, 0, 1)
	for _, p := range strings.Split(raw, ",") {
		pp, err := parsePathPattern(strings.TrimSpace(p))
		if err != nil {
			return nil, err
		}
		patterns = append(patterns, pp)
	}

	return func(r *http.Request) bool {
		for _, pp := range patterns {
			if pp.Match(r.URL.Path) {
				return true
			}
		}
		return false
	}, nil
}

func methodPredicate(args map[string]string) (predicate, error) {
	raw := args["methods"]
	if raw == "" {
		raw = args["method"]
	}
	if raw == "" {
		return nil, fmt.Errorf("method predicate requires a method argument")
	}

	methods := make(map[string]bool)
	for _, m := range strings.Split(raw, ",") {
		methods[strings.ToUpper(strings.TrimSpace(m))] = true
	}

	return func(r *http.Request) bool {
		return methods[r.Method]
	}, nil
}

func headerPredicate(args map[string]string) (predicate, error) {
	name := args["header"]
	if name == "" {
		return nil, fmt.Errorf("header predicate requires a header argument")
	}
	pattern := args["regexp"]
	if pattern == "" {
		// Presence check only.
		return func(r *http.Request) bool {
			return r.Header.Get(name) != ""
		}, nil
	}
	re, err := regexp.Compile(pattern)
	if err != nil {
		return nil, fmt.Errorf("header predicate: invalid regexp %q: %w", pattern, err)
	}
	return func(r *http.Request) bool {
		v := r.Header.Get(name)
		return v != "" && re.MatchString(v)
	}, nil
}

func hostPredicate(args map[string]string) (predicate, error) {
	raw := args["pattern"]
	if raw == "" {
		return nil, fmt.Errorf("host predicate requires a pattern argument")
	}

	patterns := make([]string, 0, 1)
	for _, p := range strings.Split(raw, ",") {
		patterns = append(patterns, strings.ToLower(strings.TrimSpace(p)))
	}

	return func(r *http.Request) bool {
		host := strings.ToLower(r.Host)
		if i := strings.IndexByte(host, ':'); i > 0 {
			host = host[:i]
		}
		for _, p := range patterns {
			if matchHost(p, host) {
				return true
			}
		}
		return false
	}, nil
}

// matchHost supports a leading "*." wildcard subdomain, otherwise an
// exact match.
func matchHost(pattern, host string) bool {
	if rest, ok := strings.CutPrefix(pattern, "*."); ok {
		return strings.HasSuffix(host, "."+rest) || host == rest
	}
	return pattern == host
}
