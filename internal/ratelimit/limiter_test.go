package ratelimit

import (
	"context"
	"testing"
	"time"
)

func TestLocalLimiterConsume(t *testing.T) {
	l := NewLocalLimiter(Settings{Replenish: 1, Burst: 3})
	defer l.Close()
	ctx := context.Background()

	for i := 0; i < 3; i++ {
		d, err := l.Allow(ctx, "ip:1.2.3.4")
		if err != nil {
			t.Fatalf("Allow: %v", err)
		}
		if !d.Allowed {
			t.Fatalf("request %d rejected with a full bucket", i)
		}
	}

	d, err := l.Allow(ctx, "ip:1.2.3.4")
	if err != nil {
		t.Fatalf("Allow: %v", err)
	}
	if d.Allowed {
		t.Error("request admitted past burst capacity")
	}
	if d.Remaining != 0 {
		t.Errorf("Remaining = %d, want 0", d.Remaining)
	}
}

func TestLocalLimiterKeysAreIndependent(t *testing.T) {
	l := NewLocalLimiter(Settings{Replenish: 1, Burst: 1})
	defer l.Close()
	ctx := context.Background()

	if d, _ := l.Allow(ctx, "ip:a"); !d.Allowed {
		t.Fatal("first key rejected")
	}
	if d, _ := l.Allow(ctx, "ip:b"); !d.Allowed {
		t.Error("second key rejected; buckets are not independent")
	}
	if d, _ := l.Allow(ctx, "ip:a"); d.Allowed {
		t.Error("drained key admitted")
	}
}

func TestLocalLimiterRefill(t *testing.T) {
	l := NewLocalLimiter(Settings{Replenish: 100, Burst: 1})
	defer l.Close()
	ctx := context.Background()

	if d, _ := l.Allow(ctx, "k"); !d.Allowed {
		t.Fatal("initial request rejected")
	}
	if d, _ := l.Allow(ctx, "k"); d.Allowed {
		t.Fatal("empty bucket admitted")
	}

	// 100 tokens/s refills one token within 10ms.
	time.Sleep(25 * time.Millisecond)
	if d, _ := l.Allow(ctx, "k"); !d.Allowed {
		t.Error("bucket did not refill")
	}
}

func TestLocalLimiterCapacityCap(t *testing.T) {
	l := NewLocalLimiter(Settings{Replenish: 1000, Burst: 2})
	defer l.Close()
	ctx := context.Background()

	time.Sleep(20 * time.Millisecond) // would overfill without the cap

	allowed := 0
	for i := 0; i < 5; i++ {
		if d, _ := l.Allow(ctx, "k"); d.Allowed {
			allowed++
		}
	}
	if allowed > 2 {
		t.Errorf("admitted %d requests, capacity is 2", allowed)
	}
}
