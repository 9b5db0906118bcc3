package proxy

import (
	"context"
	"net/http"
	"net/http/httptest"
	"net/url"
	"testing"
	"time"

	"github.com/neuragate/gateway/internal/config"
	"github.com/neuragate/gateway/internal/errors"
)

func testEngine() *Engine {
	return NewEngine(FromConfig(config.ProxyConfig{
		ConnectTimeout: 500 * time.Millisecond,
		ReadTimeout:    time.Second,
	}))
}

func TestDoForwardsAndScrubsHeaders(t *testing.T) {
	var seen http.Header
	upstream := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		seen = r.Header.Clone()
		w.Header().Set("Connection", "keep-alive")
		w.Header().Set("X-App", "ok")
	}))
	defer upstream.Close()
	base, _ := url.Parse(upstream.URL)

	req := httptest.NewRequest("GET", "/orders/1", nil)
	req.RemoteAddr = "203.0.113.5:7777"
	req.Host = "gw.example.com"
	req.Header.Set("Connection", "close")
	req.Header.Set("X-Client", "yes")

	resp, err := testEngine().Do(context.Background(), req, base)
	if err != nil {
		t.Fatalf("Do: %v", err)
	}
	defer resp.Body.Close()

	if seen.Get("X-Client") != "yes" {
		t.Error("application header not forwarded")
	}
	if seen.Get("X-Forwarded-For") != "203.0.113.5" {
		t.Errorf("X-Forwarded-For = %q", seen.Get("X-Forwarded-For"))
	}
	if seen.Get("X-Forwarded-Proto") != "http" {
		t.Errorf("X-Forwarded-Proto = %q", seen.Get("X-Forwarded-Proto"))
	}
	if seen.Get("X-Forwarded-Host") != "gw.example.com" {
		t.Errorf("X-Forwarded-Host = %q", seen.Get("X-Forwarded-Host"))
	}
	if resp.Header.Get("X-App") != "ok" {
		t.Error("upstream response header lost")
	}
	if resp.Header.Get("Connection") != "" {
		t.Error("hop-by-hop response header not scrubbed")
	}
}

func TestDoAppendsToForwardedChain(t *testing.T) {
	var seen string
	upstream := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		seen = r.Header.Get("X-Forwarded-For")
	}))
	defer upstream.Close()
	base, _ := url.Parse(upstream.URL)

	req := httptest.NewRequest("GET", "/x", nil)
	req.RemoteAddr = "10.0.0.9:1000"
	req.Header.Set("X-Forwarded-For", "198.51.100.1")

	resp, err := testEngine().Do(context.Background(), req, base)
	if err != nil {
		t.Fatalf("Do: %v", err)
	}
	resp.Body.Close()

	// ExtractClientIP prefers the existing XFF entry; the chain must
	// still carry it.
	if seen != "198.51.100.1" {
		t.Errorf("X-Forwarded-For = %q, want 198.51.100.1", seen)
	}
}

func TestDoJoinsBasePath(t *testing.T) {
	var seenPath string
	upstream := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		seenPath = r.URL.Path
	}))
	defer upstream.Close()
	base, _ := url.Parse(upstream.URL + "/v1/")

	req := httptest.NewRequest("GET", "/orders", nil)
	resp, err := testEngine().Do(context.Background(), req, base)
	if err != nil {
		t.Fatalf("Do: %v", err)
	}
	resp.Body.Close()

	if seenPath != "/v1/orders" {
		t.Errorf("joined path = %q, want /v1/orders", seenPath)
	}
}

func TestDoClassifiesTransportError(t *testing.T) {
	base, _ := url.Parse("http://127.0.0.1:1")

	_, err := testEngine().Do(context.Background(), httptest.NewRequest("GET", "/x", nil), base)
	ue, ok := errors.AsUpstream(err)
	if !ok {
		t.Fatalf("error %v is not an upstream error", err)
	}
	if ue.Kind != errors.KindTransport {
		t.Errorf("kind = %v, want transport", ue.Kind)
	}
	if !ue.Retryable() {
		t.Error("transport failure must be retryable")
	}
}

func TestDoClassifiesCancellation(t *testing.T) {
	upstream := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		<-r.Context().Done()
	}))
	defer upstream.Close()
	base, _ := url.Parse(upstream.URL)

	ctx, cancel := context.WithCancel(context.Background())
	go func() {
		time.Sleep(20 * time.Millisecond)
		cancel()
	}()

	_, err := testEngine().Do(ctx, httptest.NewRequest("GET", "/x", nil), base)
	ue, ok := errors.AsUpstream(err)
	if !ok {
		t.Fatalf("error %v is not an upstream error", err)
	}
	if ue.Kind != errors.KindCanceled {
		t.Errorf("kind = %v, want canceled", ue.Kind)
	}
	if ue.Retryable() {
		t.Error("cancellation must not be retryable")
	}
}

func TestTransportPoolReusePerHost(t *testing.T) {
	pool := NewTransportPool(DefaultTransportConfig)

	a := pool.Get("host-a:80")
	if a != pool.Get("host-a:80") {
		t.Error("same host produced distinct transports")
	}
	if a == pool.Get("host-b:80") {
		t.Error("different hosts share a transport")
	}
	if len(pool.Hosts()) != 2 {
		t.Errorf("Hosts = %v, want 2 entries", pool.Hosts())
	}
}

func TestSingleJoiningSlash(t *testing.T) {
	tests := []struct{ a, b, want string }{
		{"", "/x", "/x"},
		{"/v1", "/x", "/v1/x"},
		{"/v1/", "/x", "/v1/x"},
		{"/v1", "x", "/v1/x"},
	}
	for _, tt := range tests {
		if got := singleJoiningSlash(tt.a, tt.b); got != tt.want {
			t.Errorf("singleJoiningSlash(%q, %q) = %q, want %q", tt.a, tt.b, got, tt.want)
		}
	}
}
