// Package correlation assigns each request its correlation id and
// installs the request-scoped info the filter chain mutates.
package correlation

import (
	"net/http"

	"github.com/google/uuid"

	"github.com/neuragate/gateway/internal/filter"
)

// Header carries the correlation id on requests and responses.
const Header = "X-Correlation-ID"

// Middleware extracts the inbound correlation id, minting one when the
// client sent none, and echoes it on the response. It also seeds the
// per-request info that downstream filters read and mutate.
func Middleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		id := r.Header.Get(Header)
		if id == "" {
			id = uuid.NewString()
			r.Header.Set(Header, id)
		}

		info := &filter.Info{
			CorrelationID: id,
			ClientIP:      filter.ExtractClientIP(r),
		}

		w.Header().Set(Header, id)
		next.ServeHTTP(w, r.WithContext(filter.NewContext(r.Context(), info)))
	})
}
