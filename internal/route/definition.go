// Package route holds the admin-facing route definition model shared
// by the store, the compiler, and the admin surface.
package route

import (
	"encoding/json"
	"fmt"
	"net/url"
	"strconv"
	"strings"
)

// Metadata keys recognized by the gateway.
const (
	MetaRateLimitEnabled  = "rate-limit-enabled"
	MetaCritical          = "critical"
	MetaExpectedLatencyMS = "expected-latency-ms"
)

// PredicateDefinition names a request predicate with its arguments.
type PredicateDefinition struct {
	Name string            `json:"name"`
	Args map[string]string `json:"args"`
}

// FilterDefinition names a filter with its arguments.
type FilterDefinition struct {
	Name string            `json:"name"`
	Args map[string]string `json:"args"`
}

// Definition is the admin-facing route record. Its JSON form is the
// store wire format; unknown keys are tolerated on decode.
type Definition struct {
	ID         string                `json:"id"`
	URI        string                `json:"uri"`
	Predicates []PredicateDefinition `json:"predicates"`
	Filters    []FilterDefinition    `json:"filters,omitempty"`
	Order      int                   `json:"order"`
	Metadata   map[string]string     `json:"metadata,omitempty"`
	Enabled    bool                  `json:"enabled"`
}

// Validate rejects malformed definitions before they can reach a
// snapshot. The error names the offending field.
func (d *Definition) Validate() error {
	if d.ID == "" {
		return fmt.Errorf("route id must not be empty")
	}
	u, err := url.Parse(d.URI)
	if err != nil {
		return fmt.Errorf("route %q: invalid uri: %w", d.ID, err)
	}
	if u.Scheme != "http" && u.Scheme != "https" {
		return fmt.Errorf("route %q: uri scheme must be http or https, got %q", d.ID, u.Scheme)
	}
	if u.Host == "" {
		return fmt.Errorf("route %q: uri host must not be empty", d.ID)
	}
	if len(d.Predicates) == 0 {
		return fmt.Errorf("route %q: at least one predicate is required", d.ID)
	}
	for i, p := range d.Predicates {
		if p.Name == "" {
			return fmt.Errorf("route %q: predicate %d has no name", d.ID, i)
		}
	}
	for i, f := range d.Filters {
		if f.Name == "" {
			return fmt.Errorf("route %q: filter %d has no name", d.ID, i)
		}
	}
	return nil
}

// MetaBool reads a boolean metadata value; absent or malformed keys
// read as false.
func (d *Definition) MetaBool(key string) bool {
	v, ok := d.Metadata[key]
	if !ok {
		return false
	}
	b, err := strconv.ParseBool(strings.TrimSpace(v))
	return err == nil && b
}

// MetaInt reads an integer metadata value, or def if absent/malformed.
func (d *Definition) MetaInt(key string, def int) int {
	v, ok := d.Metadata[key]
	if !ok {
		return def
	}
	n, err := strconv.Atoi(strings.TrimSpace(v))
	if err != nil {
		return def
	}
	return n
}

// Critical reports whether the route belongs to the fallback set.
func (d *Definition) Critical() bool {
	return d.MetaBool(MetaCritical)
}

// Marshal encodes the definition to its store wire form.
func (d *Definition) Marshal() ([]byte, error) {
	return json.Marshal(d)
}

// Unmarshal decodes a definition from its store wire form.
func Unmarshal(data []byte) (*Definition, error) {
	var d Definition
	if err := json.Unmarshal(data, &d); err != nil {
		return nil, fmt.Errorf("failed to decode route definition: %w", err)
	}
	return &d, nil
}

// Clone returns a deep copy of the definition.
func (d *Definition) Clone() *Definition {
	out := *d
	out.Predicates = make([]PredicateDefinition, len(d.Predicates))
	for i, p := range d.Predicates {
		out.Predicates[i] = PredicateDefinition{Name: p.Name, Args: cloneArgs(p.Args)}
	}
	if d.Filters != nil {
		out.Filters = make([]FilterDefinition, len(d.Filters))
		for i, f := range d.Filters {
			out.Filters[i] = FilterDefinition{Name: f.Name, Args: cloneArgs(f.Args)}
		}
	}
	if d.Metadata != nil {
		out.Metadata = make(map[string]string, len(d.Metadata))
		for k, v := range d.Metadata {
			out.Metadata[k] = v
		}
	}
	return &out
}

func cloneArgs(args map[string]string) map[string]string {
	if args == nil {
		return nil
	}
	out := make(map[string]string, len(args))
	for k, v := range args {
		out[k] = v
	}
	return out
}
