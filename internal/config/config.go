package config

import (
	"fmt"
	"time"
)

// Config is the root gateway configuration.
type Config struct {
	Server    ServerConfig    `yaml:"server"`
	Logging   LoggingConfig   `yaml:"logging"`
	Store     StoreConfig     `yaml:"store"`
	Telemetry TelemetryConfig `yaml:"telemetry"`
	Proxy     ProxyConfig     `yaml:"proxy"`
	Breaker   BreakerConfig   `yaml:"breaker"`
	Retry     RetryConfig     `yaml:"retry"`
	RateLimit RateLimitConfig `yaml:"rate_limit"`
	Shutdown  ShutdownConfig  `yaml:"shutdown"`
}

// ServerConfig holds the listener settings.
type ServerConfig struct {
	Address      string        `yaml:"address"`
	ReadTimeout  time.Duration `yaml:"read_timeout"`
	WriteTimeout time.Duration `yaml:"write_timeout"`
}

// LoggingConfig holds logger settings.
type LoggingConfig struct {
	Level string `yaml:"level"`
}

// StoreConfig holds route store settings.
type StoreConfig struct {
	// Address is the Redis address backing the route table and the
	// distributed rate-limit buckets.
	Address  string `yaml:"address"`
	Password string `yaml:"password"`
	DB       int    `yaml:"db"`
	// RouteKey is the hash key holding serialized route definitions.
	RouteKey string `yaml:"route_key"`
	// FallbackFile is a local JSON file of critical route definitions
	// loaded at process start and served when the store is down.
	FallbackFile string `yaml:"fallback_file"`
}

// TelemetryConfig holds telemetry publisher settings.
type TelemetryConfig struct {
	// Bootstrap lists the message bus seed brokers.
	Bootstrap []string `yaml:"bootstrap"`
	// QueueCapacity bounds the in-process event queue. Producers never
	// block; overflow is dropped and counted.
	QueueCapacity int `yaml:"queue_capacity"`
	// Disabled turns the publisher into a local drop-only sink.
	Disabled bool `yaml:"disabled"`
}

// ProxyConfig holds upstream HTTP settings.
type ProxyConfig struct {
	ConnectTimeout      time.Duration `yaml:"connect_timeout"`
	ReadTimeout         time.Duration `yaml:"read_timeout"`
	MaxIdleConns        int           `yaml:"max_idle_conns"`
	MaxIdleConnsPerHost int           `yaml:"max_idle_conns_per_host"`
	IdleConnTimeout     time.Duration `yaml:"idle_conn_timeout"`
}

// BreakerSettings holds one circuit breaker's tunables.
type BreakerSettings struct {
	FailureRateThreshold float64       `yaml:"failure_rate_threshold"` // percent, 0-100
	WaitDurationInOpen   time.Duration `yaml:"wait_duration_in_open"`
	SlidingWindowSize    int           `yaml:"sliding_window_size"`
	MinimumCalls         int           `yaml:"minimum_calls"`
	HalfOpenPermits      int           `yaml:"half_open_permits"`
}

// BreakerConfig holds the default breaker settings plus named instances.
type BreakerConfig struct {
	Default   BreakerSettings            `yaml:"default"`
	Instances map[string]BreakerSettings `yaml:"instances"`
}

// RetryConfig holds default retry filter settings.
type RetryConfig struct {
	Retries    int           `yaml:"retries"`
	Base       time.Duration `yaml:"base"`
	Multiplier float64       `yaml:"multiplier"`
	Statuses   []int         `yaml:"statuses"`
	Methods    []string      `yaml:"methods"`
}

// RateLimitConfig holds default rate limiter settings.
type RateLimitConfig struct {
	Replenish int           `yaml:"replenish"` // tokens per second
	Burst     int           `yaml:"burst"`     // bucket capacity
	Key       string        `yaml:"key"`       // ip | user | path | ip+path
	BucketTTL time.Duration `yaml:"bucket_ttl"`
}

// ShutdownConfig holds graceful shutdown settings.
type ShutdownConfig struct {
	DrainTimeout time.Duration `yaml:"drain_timeout"`
}

// DefaultConfig returns a config populated with defaults. YAML loading
// overlays onto this, so absent keys keep their default values.
func DefaultConfig() *Config {
	return &Config{
		Server: ServerConfig{
			Address:      ":8080",
			ReadTimeout:  30 * time.Second,
			WriteTimeout: 60 * time.Second,
		},
		Logging: LoggingConfig{Level: "info"},
		Store: StoreConfig{
			Address:  "localhost:6379",
			RouteKey: "routes.hash",
		},
		Telemetry: TelemetryConfig{
			Bootstrap:     []string{"localhost:9092"},
			QueueCapacity: 8192,
		},
		Proxy: ProxyConfig{
			ConnectTimeout:      2 * time.Second,
			ReadTimeout:         10 * time.Second,
			MaxIdleConns:        100,
			MaxIdleConnsPerHost: 10,
			IdleConnTimeout:     90 * time.Second,
		},
		Breaker: BreakerConfig{
			Default: BreakerSettings{
				FailureRateThreshold: 60,
				WaitDurationInOpen:   15 * time.Second,
				SlidingWindowSize:    15,
				MinimumCalls:         5,
				HalfOpenPermits:      3,
			},
			Instances: map[string]BreakerSettings{
				"backendService": {
					FailureRateThreshold: 50,
					WaitDurationInOpen:   10 * time.Second,
					SlidingWindowSize:    10,
					MinimumCalls:         5,
					HalfOpenPermits:      3,
				},
				"criticalService": {
					FailureRateThreshold: 70,
					WaitDurationInOpen:   30 * time.Second,
					SlidingWindowSize:    20,
					MinimumCalls:         10,
					HalfOpenPermits:      3,
				},
				"dynamicRoute": {
					FailureRateThreshold: 60,
					WaitDurationInOpen:   15 * time.Second,
					SlidingWindowSize:    15,
					MinimumCalls:         5,
					HalfOpenPermits:      3,
				},
			},
		},
		Retry: RetryConfig{
			Retries:    3,
			Base:       500 * time.Millisecond,
			Multiplier: 2,
			Statuses:   []int{502, 503},
			Methods:    []string{"GET", "POST", "PUT", "DELETE"},
		},
		RateLimit: RateLimitConfig{
			Replenish: 10,
			Burst:     20,
			Key:       "ip",
			BucketTTL: 10 * time.Minute,
		},
		Shutdown: ShutdownConfig{
			DrainTimeout: 30 * time.Second,
		},
	}
}

// Validate checks the configuration for inconsistencies.
func (c *Config) Validate() error {
	if c.Server.Address == "" {
		return fmt.Errorf("server.address must not be empty")
	}
	if c.Store.RouteKey == "" {
		return fmt.Errorf("store.route_key must not be empty")
	}
	if c.Telemetry.QueueCapacity <= 0 {
		return fmt.Errorf("telemetry.queue_capacity must be positive")
	}
	if c.RateLimit.Replenish <= 0 || c.RateLimit.Burst <= 0 {
		return fmt.Errorf("rate_limit replenish and burst must be positive")
	}
	if err := validateBreaker("breaker.default", c.Breaker.Default); err != nil {
		return err
	}
	for name, s := range c.Breaker.Instances {
		if err := validateBreaker("breaker.instances."+name, s); err != nil {
			return err
		}
	}
	if c.Retry.Retries < 0 {
		return fmt.Errorf("retry.retries must not be negative")
	}
	if c.Shutdown.DrainTimeout <= 0 {
		return fmt.Errorf("shutdown.drain_timeout must be positive")
	}
	return nil
}

func validateBreaker(path string, s BreakerSettings) error {
	if s.FailureRateThreshold <= 0 || s.FailureRateThreshold > 100 {
		return fmt.Errorf("%s.failure_rate_threshold must be in (0, 100]", path)
	}
	if s.SlidingWindowSize <= 0 {
		return fmt.Errorf("%s.sliding_window_size must be positive", path)
	}
	if s.MinimumCalls <= 0 || s.MinimumCalls > s.SlidingWindowSize {
		return fmt.Errorf("%s.minimum_calls must be in [1, sliding_window_size]", path)
	}
	if s.HalfOpenPermits <= 0 {
		return fmt.Errorf("%s.half_open_permits must be positive", path)
	}
	return nil
}
