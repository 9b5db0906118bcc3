package correlation

import (
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/google/uuid"

	"github.com/neuragate/gateway/internal/filter"
)

func TestMintsWhenAbsent(t *testing.T) {
	var seen *filter.Info
	var inboundHeader string
	h := Middleware(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		seen = filter.FromRequest(r)
		inboundHeader = r.Header.Get(Header)
	}))

	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest("GET", "/x", nil))

	if seen == nil || seen.CorrelationID == "" {
		t.Fatal("no correlation id installed")
	}
	if _, err := uuid.Parse(seen.CorrelationID); err != nil {
		t.Errorf("minted id %q is not a UUID: %v", seen.CorrelationID, err)
	}
	if inboundHeader != seen.CorrelationID {
		t.Error("minted id not propagated on the request header")
	}
	if rec.Header().Get(Header) != seen.CorrelationID {
		t.Error("id not echoed on the response header")
	}
}

func TestReusesInboundID(t *testing.T) {
	var seen string
	h := Middleware(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		seen = filter.FromRequest(r).CorrelationID
	}))

	req := httptest.NewRequest("GET", "/x", nil)
	req.Header.Set(Header, "client-supplied-id")
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)

	if seen != "client-supplied-id" {
		t.Errorf("CorrelationID = %q, want the client-supplied id", seen)
	}
	if rec.Header().Get(Header) != "client-supplied-id" {
		t.Error("client id not echoed on the response")
	}
}

func TestSeedsClientIP(t *testing.T) {
	var seen string
	h := Middleware(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		seen = filter.FromRequest(r).ClientIP
	}))

	req := httptest.NewRequest("GET", "/x", nil)
	req.RemoteAddr = "192.0.2.9:5555"
	h.ServeHTTP(httptest.NewRecorder(), req)

	if seen != "192.0.2.9" {
		t.Errorf("ClientIP = %q, want 192.0.2.9", seen)
	}
}
