package proxy

import (
	"net"
	"net/http"
	"sync"
	"time"

	"github.com/neuragate/gateway/internal/config"
)

// TransportConfig configures the upstream HTTP transport.
type TransportConfig struct {
	// ConnectTimeout bounds dialing; pool exhaustion also manifests as
	// a connect timeout.
	ConnectTimeout time.Duration
	// ReadTimeout bounds the wait for upstream response headers.
	ReadTimeout time.Duration

	MaxIdleConns        int
	MaxIdleConnsPerHost int
	MaxConnsPerHost     int
	IdleConnTimeout     time.Duration
}

// DefaultTransportConfig provides default transport settings.
var DefaultTransportConfig = TransportConfig{
	ConnectTimeout:      2 * time.Second,
	ReadTimeout:         10 * time.Second,
	MaxIdleConns:        100,
	MaxIdleConnsPerHost: 10,
	MaxConnsPerHost:     0, // unlimited
	IdleConnTimeout:     90 * time.Second,
}

// FromConfig overlays non-zero values from the gateway config.
func FromConfig(cfg config.ProxyConfig) TransportConfig {
	tc := DefaultTransportConfig
	if cfg.ConnectTimeout > 0 {
		tc.ConnectTimeout = cfg.ConnectTimeout
	}
	if cfg.ReadTimeout > 0 {
		tc.ReadTimeout = cfg.ReadTimeout
	}
	if cfg.MaxIdleConns > 0 {
		tc.MaxIdleConns = cfg.MaxIdleConns
	}
	if cfg.MaxIdleConnsPerHost > 0 {
		tc.MaxIdleConnsPerHost = cfg.MaxIdleConnsPerHost
	}
	if cfg.IdleConnTimeout > 0 {
		tc.IdleConnTimeout = cfg.IdleConnTimeout
	}
	return tc
}

// NewTransport creates an HTTP transport with the given configuration.
func NewTransport(cfg TransportConfig) *http.Transport {
	dialer := &net.Dialer{
		Timeout:   cfg.ConnectTimeout,
		KeepAlive: 30 * time.Second,
	}

	return &http.Transport{
		Proxy:                 http.ProxyFromEnvironment,
		DialContext:           dialer.DialContext,
		MaxIdleConns:          cfg.MaxIdleConns,
		MaxIdleConnsPerHost:   cfg.MaxIdleConnsPerHost,
		MaxConnsPerHost:       cfg.MaxConnsPerHost,
		IdleConnTimeout:       cfg.IdleConnTimeout,
		TLSHandshakeTimeout:   10 * time.Second,
		ResponseHeaderTimeout: cfg.ReadTimeout,
		ExpectContinueTimeout: 1 * time.Second,
		ForceAttemptHTTP2:     true,
	}
}

// TransportPool hands out one pooled transport per upstream host so
// connection reuse is isolated between upstreams.
type TransportPool struct {
	cfg        TransportConfig
	mu         sync.RWMutex
	transports map[string]*http.Transport
}

// NewTransportPool creates a transport pool with the given base config.
func NewTransportPool(cfg TransportConfig) *TransportPool {
	return &TransportPool{
		cfg:        cfg,
		transports: make(map[string]*http.Transport),
	}
}

// Get returns the transport for an upstream host, creating it lazily.
func (tp *TransportPool) Get(host string) *http.Transport {
	tp.mu.RLock()
	t, ok := tp.transports[host]
	tp.mu.RUnlock()
	if ok {
		return t
	}

	tp.mu.Lock()
	defer tp.mu.Unlock()
	if t, ok = tp.transports[host]; ok {
		return t
	}
	t = NewTransport(tp.cfg)
	tp.transports[host] = t
	return t
}

// Hosts returns the upstream hosts with live transports.
func (tp *TransportPool) Hosts() []string {
	tp.mu.RLock()
	defer tp.mu.RUnlock()
	hosts := make([]string, 0, len(tp.transports))
	for h := range tp.transports {
		hosts = append(hosts, h)
	}
	return hosts
}

// CloseIdleConnections closes idle connections on all transports.
func (tp *TransportPool) CloseIdleConnections() {
	tp.mu.RLock()
	defer tp.mu.RUnlock()
	for _, t := range tp.transports {
		t.CloseIdleConnections()
	}
}
