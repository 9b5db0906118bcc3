package filter

import (
	"bytes"
	"context"
	"io"
	"net/http"
	"strconv"
)

// Handler produces the upstream response for a request. The proxy
// engine is the innermost Handler (the sink); every filter wraps one.
type Handler func(ctx context.Context, r *http.Request) (*http.Response, error)

// Filter wraps a Handler with around-advice: code before the inner
// call, the inner call itself, and code after it on success or failure.
type Filter func(Handler) Handler

// Chain is an ordered composition of filters. The first filter is the
// outermost; filter order is fixed for the lifetime of the chain.
type Chain struct {
	filters []Filter
}

// NewChain creates a chain from filters in outermost-first order.
func NewChain(filters ...Filter) *Chain {
	return &Chain{filters: filters}
}

// Append returns a new chain with the given filters added innermost.
func (c *Chain) Append(filters ...Filter) *Chain {
	merged := make([]Filter, 0, len(c.filters)+len(filters))
	merged = append(merged, c.filters...)
	merged = append(merged, filters...)
	return &Chain{filters: merged}
}

// Then composes the chain around the sink handler.
func (c *Chain) Then(sink Handler) Handler {
	h := sink
	// Apply in reverse so the first filter is outermost
	for i := len(c.filters) - 1; i >= 0; i-- {
		h = c.filters[i](h)
	}
	return h
}

// Len returns the number of filters in the chain.
func (c *Chain) Len() int {
	return len(c.filters)
}

// SynthesizeResponse builds a local *http.Response, used by filters
// that answer a request without reaching the proxy sink.
func SynthesizeResponse(status int, header http.Header, body []byte) *http.Response {
	if header == nil {
		header = make(http.Header)
	}
	header.Set("Content-Length", strconv.Itoa(len(body)))
	return &http.Response{
		StatusCode:    status,
		Status:        http.StatusText(status),
		Proto:         "HTTP/1.1",
		ProtoMajor:    1,
		ProtoMinor:    1,
		Header:        header,
		Body:          io.NopCloser(bytes.NewReader(body)),
		ContentLength: int64(len(body)),
	}
}
