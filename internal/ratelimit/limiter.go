// Package ratelimit implements the token-bucket rate limiter: a
// Redis-backed distributed bucket when a shared store is configured,
// and a local sharded bucket otherwise. Both honor the same invariant:
// 0 <= tokens <= capacity after any operation.
package ratelimit

import (
	"context"
	"math"
	"sync"
	"time"
)

// Settings holds one limiter instance's tunables.
type Settings struct {
	Replenish int           // tokens per second, > 0
	Burst     int           // bucket capacity, > 0
	Key       string        // ip | user | path | ip+path
	BucketTTL time.Duration // idle bucket eviction
}

// Decision is the outcome of a bucket consume attempt.
type Decision struct {
	Allowed   bool
	Remaining int
}

// Limiter consumes one token from the bucket for key.
type Limiter interface {
	Allow(ctx context.Context, key string) (Decision, error)
}

const shardCount = 32

// LocalLimiter is an in-process sharded token bucket.
type LocalLimiter struct {
	rate     float64 // tokens per second
	capacity float64
	ttl      time.Duration
	shards   [shardCount]bucketShard
	stop     chan struct{}
	stopOnce sync.Once
}

type bucketShard struct {
	mu      sync.Mutex
	buckets map[string]*bucket
}

type bucket struct {
	tokens   float64
	lastFill time.Time
}

// NewLocalLimiter creates a local limiter and starts its eviction loop.
func NewLocalLimiter(s Settings) *LocalLimiter {
	ttl := s.BucketTTL
	if ttl <= 0 {
		ttl = 10 * time.Minute
	}

	l := &LocalLimiter{
		rate:     float64(s.Replenish),
		capacity: float64(s.Burst),
		ttl:      ttl,
		stop:     make(chan struct{}),
	}
	for i := range l.shards {
		l.shards[i].buckets = make(map[string]*bucket)
	}

	go l.evictLoop()
	return l
}

// Allow refills the key's bucket and attempts to consume one token.
// Buckets are created lazily full.
func (l *LocalLimiter) Allow(_ context.Context, key string) (Decision, error) {
	now := time.Now()
	shard := &l.shards[fnv32(key)%shardCount]

	shard.mu.Lock()
	defer shard.mu.Unlock()

	b, ok := shard.buckets[key]
	if !ok {
		b = &bucket{tokens: l.capacity, lastFill: now}
		shard.buckets[key] = b
	}

	elapsed := now.Sub(b.lastFill).Seconds()
	if elapsed > 0 {
		b.tokens = math.Min(l.capacity, b.tokens+elapsed*l.rate)
		b.lastFill = now
	}

	if b.tokens < 1 {
		return Decision{Allowed: false, Remaining: 0}, nil
	}

	b.tokens--
	return Decision{Allowed: true, Remaining: int(b.tokens)}, nil
}

// evictLoop discards buckets idle beyond the TTL.
func (l *LocalLimiter) evictLoop() {
	ticker := time.NewTicker(l.ttl / 2)
	defer ticker.Stop()

	for {
		select {
		case <-l.stop:
			return
		case <-ticker.C:
			cutoff := time.Now().Add(-l.ttl)
			for i := range l.shards {
				shard := &l.shards[i]
				shard.mu.Lock()
				for key, b := range shard.buckets {
					if b.lastFill.Before(cutoff) {
						delete(shard.buckets, key)
					}
				}
				shard.mu.Unlock()
			}
		}
	}
}

// Close stops the eviction loop.
func (l *LocalLimiter) Close() {
	l.stopOnce.Do(func() { close(l.stop) })
}

// fnv32 hashes a key to a shard.
func fnv32(s string) uint32 {
	const (
		offset32 = 2166136261
		prime32  = 16777619
	)
	h := uint32(offset32)
	for i := 0; i < len(s); i++ {
		h ^= uint32(s[i])
		h *= prime32
	}
	return h
}
