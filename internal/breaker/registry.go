package breaker

import (
	"sync"

	"go.uber.org/zap"

	"github.com/neuragate/gateway/internal/config"
	"github.com/neuragate/gateway/internal/logging"
)

// Registry owns the process-wide breakers, keyed by name. Breakers are
// created lazily from the named instance settings, falling back to the
// defaults for unknown names.
type Registry struct {
	defaults  config.BreakerSettings
	instances map[string]config.BreakerSettings

	mu       sync.RWMutex
	breakers map[string]*Breaker
}

// NewRegistry creates a breaker registry from config.
func NewRegistry(cfg config.BreakerConfig) *Registry {
	return &Registry{
		defaults:  cfg.Default,
		instances: cfg.Instances,
		breakers:  make(map[string]*Breaker),
	}
}

// Get returns the breaker for a name, creating it on first use.
func (reg *Registry) Get(name string) *Breaker {
	reg.mu.RLock()
	b, ok := reg.breakers[name]
	reg.mu.RUnlock()
	if ok {
		return b
	}

	reg.mu.Lock()
	defer reg.mu.Unlock()
	if b, ok = reg.breakers[name]; ok {
		return b
	}

	settings, ok := reg.instances[name]
	if !ok {
		settings = reg.defaults
	}
	b = New(name, settings, logTransition)
	reg.breakers[name] = b
	return b
}

// Snapshots returns point-in-time views of all live breakers.
func (reg *Registry) Snapshots() map[string]Snapshot {
	reg.mu.RLock()
	defer reg.mu.RUnlock()

	out := make(map[string]Snapshot, len(reg.breakers))
	for name, b := range reg.breakers {
		out[name] = b.Snapshot()
	}
	return out
}

func logTransition(name string, from, to State) {
	logging.Info("Circuit breaker state transition",
		zap.String("breaker", name),
		zap.String("from", from.String()),
		zap.String("to", to.String()),
	)
}
