package fallback

import (
	"context"
	"encoding/json"
	"net/http/httptest"
	"testing"
)

func decode(t *testing.T, data []byte) map[string]any {
	t.Helper()
	var m map[string]any
	if err := json.Unmarshal(data, &m); err != nil {
		t.Fatalf("decoding fallback body: %v", err)
	}
	return m
}

func TestServeHTTPBodies(t *testing.T) {
	fr := NewRouter()

	tests := []struct {
		path    string
		status  string
		service string
	}{
		{PathMessage, "degraded", ""},
		{PathBackend, "degraded", "backend"},
		{PathCritical, "critical_degraded", "critical"},
	}

	for _, tt := range tests {
		t.Run(tt.path, func(t *testing.T) {
			rec := httptest.NewRecorder()
			fr.ServeHTTP(rec, httptest.NewRequest("GET", tt.path, nil))

			if rec.Code != 503 {
				t.Fatalf("status = %d, want 503", rec.Code)
			}
			if ct := rec.Header().Get("Content-Type"); ct != "application/json" {
				t.Errorf("Content-Type = %q", ct)
			}

			body := decode(t, rec.Body.Bytes())
			if body["status"] != tt.status {
				t.Errorf("status field = %v, want %v", body["status"], tt.status)
			}
			if tt.service != "" && body["service"] != tt.service {
				t.Errorf("service field = %v, want %v", body["service"], tt.service)
			}
			if body["timestamp"] == "" {
				t.Error("timestamp missing")
			}
		})
	}
}

func TestMessageBodyCarriesReason(t *testing.T) {
	rec := httptest.NewRecorder()
	NewRouter().ServeHTTP(rec, httptest.NewRequest("GET", PathMessage, nil))

	body := decode(t, rec.Body.Bytes())
	if body["reason"] == nil || body["reason"] == "" {
		t.Error("generic fallback should explain the degradation reason")
	}
}

func TestKnown(t *testing.T) {
	fr := NewRouter()
	for _, p := range []string{PathMessage, PathBackend, PathCritical} {
		if !fr.Known(p) {
			t.Errorf("Known(%q) = false", p)
		}
	}
	if fr.Known("/fallback/other") {
		t.Error("unknown path reported as known")
	}
}

func TestHandlerReturnsSynchronously(t *testing.T) {
	h := NewRouter().Handler(PathBackend)
	resp, err := h(context.Background(), httptest.NewRequest("GET", "/orders/1", nil))
	if err != nil {
		t.Fatalf("handler error: %v", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != 503 {
		t.Errorf("status = %d, want 503", resp.StatusCode)
	}
}
