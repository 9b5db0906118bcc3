// Package store implements the durable route table: a Redis hash of
// serialized route definitions plus an in-memory fallback set of
// critical definitions served while Redis is unreachable.
package store

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"sort"
	"sync"
	"time"

	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	"github.com/neuragate/gateway/internal/config"
	"github.com/neuragate/gateway/internal/logging"
	"github.com/neuragate/gateway/internal/route"
)

// Status reports store reachability.
type Status string

const (
	StatusUp       Status = "UP"
	StatusDegraded Status = "DEGRADED"
	StatusDown     Status = "DOWN"
)

// healthTimeout bounds the PING used by Health.
const healthTimeout = 2 * time.Second

// Op is a route lifecycle operation.
type Op string

const (
	OpCreate Op = "CREATE"
	OpUpdate Op = "UPDATE"
	OpDelete Op = "DELETE"
)

// Event is emitted whenever the set of definitions changes.
type Event struct {
	RouteID    string
	Op         Op
	Definition *route.Definition // nil for deletes
}

// Store is the durable route definition repository.
type Store struct {
	client   *redis.Client
	routeKey string

	mu       sync.RWMutex
	fallback map[string]*route.Definition

	events chan Event
}

// New creates a store from config, loading the fallback set from the
// configured local file (absence of the file is not an error).
func New(cfg config.StoreConfig) (*Store, error) {
	client := redis.NewClient(&redis.Options{
		Addr:     cfg.Address,
		Password: cfg.Password,
		DB:       cfg.DB,
	})

	s := &Store{
		client:   client,
		routeKey: cfg.RouteKey,
		fallback: make(map[string]*route.Definition),
		events:   make(chan Event, 128),
	}

	if cfg.FallbackFile != "" {
		if err := s.loadFallbackFile(cfg.FallbackFile); err != nil {
			return nil, err
		}
	}

	return s, nil
}

// NewWithClient creates a store around an existing Redis client.
func NewWithClient(client *redis.Client, routeKey string) *Store {
	return &Store{
		client:   client,
		routeKey: routeKey,
		fallback: make(map[string]*route.Definition),
		events:   make(chan Event, 128),
	}
}

// loadFallbackFile reads a JSON array of route definitions.
func (s *Store) loadFallbackFile(path string) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("failed to read fallback routes: %w", err)
	}

	var defs []*route.Definition
	if err := json.Unmarshal(data, &defs); err != nil {
		return fmt.Errorf("failed to parse fallback routes: %w", err)
	}

	for _, d := range defs {
		if err := d.Validate(); err != nil {
			return fmt.Errorf("invalid fallback route: %w", err)
		}
		s.fallback[d.ID] = d
	}

	logging.Info("Loaded fallback route set", zap.Int("routes", len(defs)))
	return nil
}

// Put upserts a definition by id and emits a route-changed event.
// Critical definitions are mirrored into the fallback set so they
// survive a store outage.
func (s *Store) Put(ctx context.Context, def *route.Definition) error {
	if err := def.Validate(); err != nil {
		return err
	}

	data, err := def.Marshal()
	if err != nil {
		return fmt.Errorf("failed to serialize route %q: %w", def.ID, err)
	}

	// Unknown prior state is reported as a create. The reload path only
	// cares that a change happened; the op on the routes topic may be
	// CREATE for an update performed during a flaky probe.
	existed, err := s.client.HExists(ctx, s.routeKey, def.ID).Result()
	if err != nil {
		logging.Warn("Could not check route existence, assuming create",
			zap.String("route_id", def.ID), zap.Error(err))
		existed = false
	}

	if err := s.client.HSet(ctx, s.routeKey, def.ID, data).Err(); err != nil {
		return fmt.Errorf("store unavailable: %w", err)
	}

	if def.Critical() {
		s.mu.Lock()
		s.fallback[def.ID] = def.Clone()
		s.mu.Unlock()
	}

	op := OpCreate
	if existed {
		op = OpUpdate
	}
	s.emit(Event{RouteID: def.ID, Op: op, Definition: def.Clone()})
	return nil
}

// Delete removes a definition and emits a route-changed event.
func (s *Store) Delete(ctx context.Context, id string) error {
	if err := s.client.HDel(ctx, s.routeKey, id).Err(); err != nil {
		return fmt.Errorf("store unavailable: %w", err)
	}

	s.mu.Lock()
	delete(s.fallback, id)
	s.mu.Unlock()

	s.emit(Event{RouteID: id, Op: OpDelete})
	return nil
}

// All returns the current definitions sorted by id. When the remote
// hash is unreachable the fallback set is returned instead and the
// caller keeps serving critical routes only.
func (s *Store) All(ctx context.Context) ([]*route.Definition, error) {
	fields, err := s.client.HGetAll(ctx, s.routeKey).Result()
	if err != nil {
		logging.Warn("Route store unavailable, serving fallback set", zap.Error(err))
		return s.FallbackSet(), nil
	}

	defs := make([]*route.Definition, 0, len(fields))
	for id, raw := range fields {
		def, derr := route.Unmarshal([]byte(raw))
		if derr != nil {
			logging.Error("Skipping undecodable route definition",
				zap.String("route_id", id), zap.Error(derr))
			continue
		}
		defs = append(defs, def)
	}
	sortByID(defs)
	return defs, nil
}

// Get returns a single definition, or nil if absent.
func (s *Store) Get(ctx context.Context, id string) (*route.Definition, error) {
	raw, err := s.client.HGet(ctx, s.routeKey, id).Result()
	if err == redis.Nil {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("store unavailable: %w", err)
	}
	return route.Unmarshal([]byte(raw))
}

// FallbackSet returns a copy of the in-memory fallback definitions.
func (s *Store) FallbackSet() []*route.Definition {
	s.mu.RLock()
	defer s.mu.RUnlock()

	defs := make([]*route.Definition, 0, len(s.fallback))
	for _, d := range s.fallback {
		defs = append(defs, d.Clone())
	}
	sortByID(defs)
	return defs
}

// FallbackLoaded reports whether any fallback definitions are held.
func (s *Store) FallbackLoaded() bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.fallback) > 0
}

// Health probes the store with a bounded PING. A reachable store is
// Up; an unreachable one is Degraded while the fallback set can still
// serve critical routes, Down otherwise.
func (s *Store) Health(ctx context.Context) Status {
	ctx, cancel := context.WithTimeout(ctx, healthTimeout)
	defer cancel()

	if err := s.client.Ping(ctx).Err(); err != nil {
		if s.FallbackLoaded() {
			return StatusDegraded
		}
		return StatusDown
	}
	return StatusUp
}

// Client exposes the underlying Redis client so other components
// (the distributed rate limiter) can share the connection pool.
func (s *Store) Client() *redis.Client {
	return s.client
}

// Events returns the route-changed stream. The channel is never
// closed; consumers stop by abandoning it.
func (s *Store) Events() <-chan Event {
	return s.events
}

// emit delivers an event without blocking the caller. Overflow is
// dropped; the snapshot rebuild always re-reads the full set, so a
// dropped event delays at most until the next change.
func (s *Store) emit(ev Event) {
	select {
	case s.events <- ev:
	default:
		logging.Warn("Route event queue full, dropping event",
			zap.String("route_id", ev.RouteID), zap.String("op", string(ev.Op)))
	}
}

// Close releases the Redis client.
func (s *Store) Close() error {
	return s.client.Close()
}

func sortByID(defs []*route.Definition) {
	sort.Slice(defs, func(i, j int) bool { return defs[i].ID < defs[j].ID })
}
