package breaker

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/neuragate/gateway/internal/errors"
	"github.com/neuragate/gateway/internal/filter"
	"github.com/neuragate/gateway/internal/retry"
)

func TestFilterCountsOutcomes(t *testing.T) {
	b, _ := clocked(t, testSettings())

	statuses := []int{200, 404, 500, 502, 503}
	h := Filter(b)(func(ctx context.Context, r *http.Request) (*http.Response, error) {
		status := statuses[0]
		statuses = statuses[1:]
		return filter.SynthesizeResponse(status, nil, nil), nil
	})

	for i := 0; i < 5; i++ {
		resp, err := h(context.Background(), httptest.NewRequest("GET", "/x", nil))
		if err != nil {
			t.Fatalf("call %d: %v", i, err)
		}
		resp.Body.Close()
	}

	// 200 and 404 are successes, the three 5xx are failures: 60% opens.
	if b.State() != StateOpen {
		t.Errorf("state = %v, want OPEN (4xx must not count as failure, 5xx must)", b.State())
	}
}

func TestFilterRefusesWhenOpen(t *testing.T) {
	b, _ := clocked(t, testSettings())
	for i := 0; i < 5; i++ {
		fail(t, b)
	}

	upstreamCalls := 0
	h := Filter(b)(func(ctx context.Context, r *http.Request) (*http.Response, error) {
		upstreamCalls++
		return filter.SynthesizeResponse(200, nil, nil), nil
	})

	info := &filter.Info{}
	_, err := h(filter.NewContext(context.Background(), info), httptest.NewRequest("GET", "/x", nil))
	if err == nil {
		t.Fatal("open breaker admitted a call")
	}
	ue, ok := errors.AsUpstream(err)
	if !ok || ue.Kind != errors.KindBreakerOpen {
		t.Fatalf("error = %v, want breaker-open kind", err)
	}
	if ue.Retryable() {
		t.Error("breaker-open must not be retryable")
	}
	if upstreamCalls != 0 {
		t.Error("open breaker let a call through")
	}
	if !info.BreakerTriggered {
		t.Error("BreakerTriggered not set")
	}
}

func TestFallbackFilterServesFallbackWhenOpen(t *testing.T) {
	b, _ := clocked(t, testSettings())
	for i := 0; i < 5; i++ {
		fail(t, b)
	}

	upstreamCalls := 0
	fb := func(ctx context.Context, r *http.Request) (*http.Response, error) {
		return filter.SynthesizeResponse(503, nil, []byte("fallback")), nil
	}
	chain := filter.NewChain(FallbackFilter(fb), Filter(b))
	h := chain.Then(func(ctx context.Context, r *http.Request) (*http.Response, error) {
		upstreamCalls++
		return filter.SynthesizeResponse(200, nil, nil), nil
	})

	info := &filter.Info{}
	resp, err := h(filter.NewContext(context.Background(), info), httptest.NewRequest("GET", "/x", nil))
	if err != nil {
		t.Fatalf("handler error: %v", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != 503 {
		t.Errorf("status = %d, want 503 from fallback", resp.StatusCode)
	}
	if upstreamCalls != 0 {
		t.Error("open breaker let a call through")
	}
	if !info.BreakerTriggered {
		t.Error("BreakerTriggered not set")
	}
}

func TestOpenCircuitConsumesNoRetryBudget(t *testing.T) {
	b, _ := clocked(t, testSettings())
	for i := 0; i < 5; i++ {
		fail(t, b)
	}

	fallbackCalls := 0
	fb := func(ctx context.Context, r *http.Request) (*http.Response, error) {
		fallbackCalls++
		return filter.SynthesizeResponse(503, nil, []byte("fallback")), nil
	}
	upstreamCalls := 0
	chain := filter.NewChain(
		FallbackFilter(fb),
		retry.NewPolicy(3, time.Millisecond, 2, nil, nil).Filter(),
		Filter(b),
	)
	h := chain.Then(func(ctx context.Context, r *http.Request) (*http.Response, error) {
		upstreamCalls++
		return filter.SynthesizeResponse(200, nil, nil), nil
	})

	info := &filter.Info{}
	resp, err := h(filter.NewContext(context.Background(), info), httptest.NewRequest("GET", "/x", nil))
	if err != nil {
		t.Fatalf("handler error: %v", err)
	}
	defer resp.Body.Close()

	// The fallback 503 must not re-enter the retry loop: one fallback
	// render, zero re-attempts, zero upstream calls.
	if fallbackCalls != 1 {
		t.Errorf("fallback calls = %d, want 1", fallbackCalls)
	}
	if info.RetryCount != 0 {
		t.Errorf("retry count = %d, want 0 for a short-circuited request", info.RetryCount)
	}
	if upstreamCalls != 0 {
		t.Error("open breaker let a call through")
	}
	if resp.StatusCode != 503 {
		t.Errorf("status = %d, want 503", resp.StatusCode)
	}
}

func TestFilterCancelIsNotAFailure(t *testing.T) {
	b, _ := clocked(t, testSettings())

	h := Filter(b)(func(ctx context.Context, r *http.Request) (*http.Response, error) {
		return nil, errors.Upstream(errors.KindCanceled, context.Canceled)
	})

	for i := 0; i < 10; i++ {
		if _, err := h(context.Background(), httptest.NewRequest("GET", "/x", nil)); err == nil {
			t.Fatal("expected the cancellation error to propagate")
		}
	}
	if b.State() != StateClosed {
		t.Errorf("state = %v, want CLOSED (cancellations must not open the circuit)", b.State())
	}
}

func TestFilterTransportErrorIsAFailure(t *testing.T) {
	b, _ := clocked(t, testSettings())

	h := Filter(b)(func(ctx context.Context, r *http.Request) (*http.Response, error) {
		return nil, errors.Upstream(errors.KindTransport, nil)
	})

	for i := 0; i < 5; i++ {
		if _, err := h(context.Background(), httptest.NewRequest("GET", "/x", nil)); err == nil {
			t.Fatal("expected transport error to propagate")
		}
	}
	if b.State() != StateOpen {
		t.Errorf("state = %v, want OPEN after 5 transport failures", b.State())
	}
}

func TestFilterRecoveryCycle(t *testing.T) {
	b, now := clocked(t, testSettings())
	for i := 0; i < 5; i++ {
		fail(t, b)
	}
	*now = now.Add(16 * time.Second)

	h := Filter(b)(func(ctx context.Context, r *http.Request) (*http.Response, error) {
		return filter.SynthesizeResponse(200, nil, nil), nil
	})

	for i := 0; i < 3; i++ {
		resp, err := h(context.Background(), httptest.NewRequest("GET", "/x", nil))
		if err != nil {
			t.Fatalf("trial call %d: %v", i, err)
		}
		resp.Body.Close()
	}

	if b.State() != StateClosed {
		t.Errorf("state = %v, want CLOSED after successful trial calls", b.State())
	}
}
