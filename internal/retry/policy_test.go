package retry

import (
	"context"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/neuragate/gateway/internal/errors"
	"github.com/neuragate/gateway/internal/filter"
)

func fastPolicy(retries int) *Policy {
	return NewPolicy(retries, time.Millisecond, 2, nil, nil)
}

func okResponse() (*http.Response, error) {
	return filter.SynthesizeResponse(200, nil, []byte("ok")), nil
}

func TestRetryOnRetryableStatus(t *testing.T) {
	attempts := 0
	handler := fastPolicy(3).Filter()(func(ctx context.Context, r *http.Request) (*http.Response, error) {
		attempts++
		if attempts < 3 {
			return filter.SynthesizeResponse(503, nil, nil), nil
		}
		return okResponse()
	})

	info := &filter.Info{}
	resp, err := handler(filter.NewContext(context.Background(), info), httptest.NewRequest("GET", "/x", nil))
	if err != nil {
		t.Fatalf("handler error: %v", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != 200 {
		t.Errorf("status = %d, want 200", resp.StatusCode)
	}
	if attempts != 3 {
		t.Errorf("attempts = %d, want 3", attempts)
	}
	if info.RetryCount != 2 {
		t.Errorf("RetryCount = %d, want 2", info.RetryCount)
	}
}

func TestRetryOnTransportError(t *testing.T) {
	attempts := 0
	handler := fastPolicy(2).Filter()(func(ctx context.Context, r *http.Request) (*http.Response, error) {
		attempts++
		if attempts == 1 {
			return nil, errors.Upstream(errors.KindTransport, io.ErrUnexpectedEOF)
		}
		return okResponse()
	})

	resp, err := handler(context.Background(), httptest.NewRequest("GET", "/x", nil))
	if err != nil {
		t.Fatalf("handler error: %v", err)
	}
	defer resp.Body.Close()
	if attempts != 2 {
		t.Errorf("attempts = %d, want 2", attempts)
	}
}

func TestBudgetExhaustedSurfacesLastResponse(t *testing.T) {
	attempts := 0
	handler := fastPolicy(2).Filter()(func(ctx context.Context, r *http.Request) (*http.Response, error) {
		attempts++
		return filter.SynthesizeResponse(503, nil, nil), nil
	})

	resp, err := handler(context.Background(), httptest.NewRequest("GET", "/x", nil))
	if err != nil {
		t.Fatalf("handler error: %v", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != 503 {
		t.Errorf("status = %d, want 503", resp.StatusCode)
	}
	if attempts != 3 {
		t.Errorf("attempts = %d, want 3 (initial + 2 retries)", attempts)
	}
}

func TestNonRetryableErrorPassesThrough(t *testing.T) {
	attempts := 0
	handler := fastPolicy(3).Filter()(func(ctx context.Context, r *http.Request) (*http.Response, error) {
		attempts++
		return nil, errors.Upstream(errors.KindBreakerOpen, nil)
	})

	if _, err := handler(context.Background(), httptest.NewRequest("GET", "/x", nil)); err == nil {
		t.Fatal("expected error")
	}
	if attempts != 1 {
		t.Errorf("attempts = %d, want 1 (no retry on non-retryable kind)", attempts)
	}
}

func TestNonRetryableStatusPassesThrough(t *testing.T) {
	attempts := 0
	handler := fastPolicy(3).Filter()(func(ctx context.Context, r *http.Request) (*http.Response, error) {
		attempts++
		return filter.SynthesizeResponse(500, nil, nil), nil
	})

	resp, _ := handler(context.Background(), httptest.NewRequest("GET", "/x", nil))
	defer resp.Body.Close()
	if attempts != 1 {
		t.Errorf("attempts = %d, want 1 (500 is not in the retryable set)", attempts)
	}
}

func TestMethodNotAllowed(t *testing.T) {
	p := NewPolicy(3, time.Millisecond, 2, nil, []string{"GET"})
	attempts := 0
	handler := p.Filter()(func(ctx context.Context, r *http.Request) (*http.Response, error) {
		attempts++
		return filter.SynthesizeResponse(503, nil, nil), nil
	})

	resp, _ := handler(context.Background(), httptest.NewRequest("PATCH", "/x", nil))
	defer resp.Body.Close()
	if attempts != 1 {
		t.Errorf("attempts = %d, want 1 (PATCH not retryable)", attempts)
	}
}

func TestBodyReplayedOnRetry(t *testing.T) {
	var bodies []string
	handler := fastPolicy(1).Filter()(func(ctx context.Context, r *http.Request) (*http.Response, error) {
		b, _ := io.ReadAll(r.Body)
		bodies = append(bodies, string(b))
		if len(bodies) == 1 {
			return filter.SynthesizeResponse(502, nil, nil), nil
		}
		return okResponse()
	})

	req := httptest.NewRequest("POST", "/x", strings.NewReader("payload"))
	resp, err := handler(context.Background(), req)
	if err != nil {
		t.Fatalf("handler error: %v", err)
	}
	defer resp.Body.Close()

	if len(bodies) != 2 {
		t.Fatalf("attempts = %d, want 2", len(bodies))
	}
	for i, b := range bodies {
		if b != "payload" {
			t.Errorf("attempt %d body = %q, want payload", i, b)
		}
	}
}

func TestDeadlineStopsRetries(t *testing.T) {
	p := NewPolicy(5, 50*time.Millisecond, 2, nil, nil)
	attempts := 0
	handler := p.Filter()(func(ctx context.Context, r *http.Request) (*http.Response, error) {
		attempts++
		return filter.SynthesizeResponse(503, nil, nil), nil
	})

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Millisecond)
	defer cancel()

	resp, err := handler(ctx, httptest.NewRequest("GET", "/x", nil))
	if err != nil {
		t.Fatalf("handler error: %v (a received response should be surfaced)", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != 503 {
		t.Errorf("status = %d, want 503", resp.StatusCode)
	}
	if attempts > 2 {
		t.Errorf("attempts = %d, deadline should have cut the loop short", attempts)
	}
}

func TestBackoffGrows(t *testing.T) {
	p := NewPolicy(3, 100*time.Millisecond, 2, nil, nil)

	for k := 1; k <= 3; k++ {
		wait := p.backoff(k)
		base := time.Duration(float64(100*time.Millisecond) * pow2(k-1))
		if wait < base || wait > base+base/2 {
			t.Errorf("backoff(%d) = %v, want within [%v, %v]", k, wait, base, base+base/2)
		}
	}
}

func pow2(n int) float64 {
	out := 1.0
	for i := 0; i < n; i++ {
		out *= 2
	}
	return out
}
