package telemetry

import (
	"net/http"
	"time"

	"go.uber.org/zap"

	"github.com/neuragate/gateway/internal/errors"
	"github.com/neuragate/gateway/internal/filter"
	"github.com/neuragate/gateway/internal/logging"
)

// statusRecorder remembers the status written to the client. An
// implicit WriteHeader counts as 200.
type statusRecorder struct {
	http.ResponseWriter
	status int
}

func (sr *statusRecorder) WriteHeader(code int) {
	if sr.status == 0 {
		sr.status = code
	}
	sr.ResponseWriter.WriteHeader(code)
}

func (sr *statusRecorder) Write(b []byte) (int, error) {
	if sr.status == 0 {
		sr.status = http.StatusOK
	}
	return sr.ResponseWriter.Write(b)
}

func (sr *statusRecorder) Flush() {
	if f, ok := sr.ResponseWriter.(http.Flusher); ok {
		f.Flush()
	}
}

// Capture wraps the data plane with event recording. The timestamp is
// wall clock at entry; latency is the monotonic difference at exit. A
// panic downstream synthesizes a 500 and is reported like any other
// internal error. The handoff to the publisher never blocks.
func Capture(pub *Publisher, next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		rec := &statusRecorder{ResponseWriter: w}
		info := filter.FromRequest(r)

		defer func() {
			if rv := recover(); rv != nil {
				logging.Error("Panic while handling request",
					zap.Any("panic", rv),
					zap.String("path", r.URL.Path),
					logging.Correlation(info.CorrelationID),
				)
				if rec.status == 0 {
					errors.ErrInternalServer.WithCorrelationID(info.CorrelationID).WriteJSON(rec)
				}
				rec.status = http.StatusInternalServerError
			}

			status := rec.status
			if status == 0 {
				status = http.StatusInternalServerError
			}

			pub.Submit(Event{
				RouteID:       info.RouteID,
				Path:          r.URL.Path,
				Method:        r.Method,
				Status:        status,
				LatencyMS:     time.Since(start).Milliseconds(),
				Timestamp:     start.UTC().Format(time.RFC3339Nano),
				CorrelationID: info.CorrelationID,
				ClientIP:      info.ClientIP,
				UserAgent:     r.UserAgent(),
				RateLimited:   info.RateLimited,
				BreakerFired:  info.BreakerTriggered,
				RetryCount:    info.RetryCount,
				ErrorMessage:  info.ErrorMessage,
			})

			logging.Info("Request handled",
				zap.String("method", r.Method),
				zap.String("path", r.URL.Path),
				zap.Int("status", status),
				zap.Int64("latency_ms", time.Since(start).Milliseconds()),
				zap.String("route_id", info.RouteID),
				logging.Correlation(info.CorrelationID),
			)
		}()

		next.ServeHTTP(rec, r)
	})
}
