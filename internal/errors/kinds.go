package errors

import (
	"context"
	"errors"
	"fmt"
	"net"
)

// Kind classifies an upstream failure. Retryability and breaker
// accounting are decided from the kind, never from a concrete type.
type Kind int

const (
	// KindTransport covers connect/reset/IO failures before or during
	// the upstream exchange.
	KindTransport Kind = iota
	// KindTimeout covers deadline expiry on the upstream attempt.
	KindTimeout
	// KindCanceled covers caller-initiated cancellation. Never retried
	// and never counted against the breaker.
	KindCanceled
	// KindBreakerOpen marks a call short-circuited by an open breaker.
	KindBreakerOpen
)

func (k Kind) String() string {
	switch k {
	case KindTransport:
		return "transport"
	case KindTimeout:
		return "timeout"
	case KindCanceled:
		return "canceled"
	case KindBreakerOpen:
		return "breaker_open"
	default:
		return "unknown"
	}
}

// UpstreamError is a discriminated upstream failure.
type UpstreamError struct {
	Kind Kind
	Err  error
}

func (e *UpstreamError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("upstream %s: %v", e.Kind, e.Err)
	}
	return "upstream " + e.Kind.String()
}

func (e *UpstreamError) Unwrap() error { return e.Err }

// Retryable reports whether the failure may be retried.
func (e *UpstreamError) Retryable() bool {
	return e.Kind == KindTransport || e.Kind == KindTimeout
}

// Upstream wraps err with the given kind.
func Upstream(kind Kind, err error) *UpstreamError {
	return &UpstreamError{Kind: kind, Err: err}
}

// ClassifyTransport maps a RoundTrip error to an UpstreamError.
func ClassifyTransport(err error) *UpstreamError {
	switch {
	case errors.Is(err, context.Canceled):
		return Upstream(KindCanceled, err)
	case errors.Is(err, context.DeadlineExceeded):
		return Upstream(KindTimeout, err)
	}
	var nerr net.Error
	if errors.As(err, &nerr) && nerr.Timeout() {
		return Upstream(KindTimeout, err)
	}
	return Upstream(KindTransport, err)
}

// AsUpstream extracts an UpstreamError from err, if any.
func AsUpstream(err error) (*UpstreamError, bool) {
	var ue *UpstreamError
	if errors.As(err, &ue) {
		return ue, true
	}
	return nil, false
}
