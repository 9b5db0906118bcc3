// Package proxy performs the upstream HTTP call for a compiled route:
// URL join, header hygiene, streamed body, pooled connections.
package proxy

import (
	"context"
	"net/http"
	"net/url"
	"strings"

	"github.com/neuragate/gateway/internal/errors"
	"github.com/neuragate/gateway/internal/filter"
)

// Engine executes upstream requests over a per-host transport pool.
type Engine struct {
	pool *TransportPool
}

// NewEngine creates a proxy engine.
func NewEngine(cfg TransportConfig) *Engine {
	return &Engine{pool: NewTransportPool(cfg)}
}

// Pool exposes the transport pool (for shutdown).
func (e *Engine) Pool() *TransportPool {
	return e.pool
}

// Do sends the request to the upstream base URL, joining the request
// path onto the base path. Transport failures come back as
// discriminated upstream errors; any received response is returned
// verbatim.
func (e *Engine) Do(ctx context.Context, r *http.Request, base *url.URL) (*http.Response, error) {
	target := *base
	target.Path = singleJoiningSlash(base.Path, r.URL.Path)
	target.RawQuery = r.URL.RawQuery

	// Construct the outbound request directly rather than cloning; the
	// inbound body is handed off as a stream.
	proxyReq := (&http.Request{
		Method:        r.Method,
		URL:           &target,
		Proto:         "HTTP/1.1",
		ProtoMajor:    1,
		ProtoMinor:    1,
		Body:          r.Body,
		ContentLength: r.ContentLength,
		Host:          base.Host,
	}).WithContext(ctx)

	proxyReq.Header = make(http.Header, len(r.Header)+3)
	for k, vv := range r.Header {
		proxyReq.Header[k] = vv
	}

	if clientIP := filter.ExtractClientIP(r); clientIP != "" {
		if prior := r.Header.Get("X-Forwarded-For"); prior != "" && prior != clientIP {
			proxyReq.Header.Set("X-Forwarded-For", prior+", "+clientIP)
		} else {
			proxyReq.Header.Set("X-Forwarded-For", clientIP)
		}
	}
	if r.TLS != nil {
		proxyReq.Header.Set("X-Forwarded-Proto", "https")
	} else {
		proxyReq.Header.Set("X-Forwarded-Proto", "http")
	}
	proxyReq.Header.Set("X-Forwarded-Host", r.Host)

	removeHopHeaders(proxyReq.Header)

	resp, err := e.pool.Get(base.Host).RoundTrip(proxyReq)
	if err != nil {
		return nil, errors.ClassifyTransport(err)
	}

	removeHopHeaders(resp.Header)
	return resp, nil
}

// Sink returns the innermost chain handler for an upstream base URL.
func (e *Engine) Sink(base *url.URL) filter.Handler {
	return func(ctx context.Context, r *http.Request) (*http.Response, error) {
		return e.Do(ctx, r, base)
	}
}

// Hop-by-hop headers that must not be forwarded.
var hopHeaders = []string{
	"Connection",
	"Proxy-Connection",
	"Keep-Alive",
	"Proxy-Authenticate",
	"Proxy-Authorization",
	"Te",
	"Trailer",
	"Transfer-Encoding",
	"Upgrade",
}

func removeHopHeaders(header http.Header) {
	for _, h := range hopHeaders {
		header.Del(h)
	}
}

// singleJoiningSlash joins two URL paths with a single slash.
func singleJoiningSlash(a, b string) string {
	aslash := strings.HasSuffix(a, "/")
	bslash := strings.HasPrefix(b, "/")
	switch {
	case aslash && bslash:
		return a + b[1:]
	case !aslash && !bslash:
		return a + "/" + b
	}
	return a + b
}
