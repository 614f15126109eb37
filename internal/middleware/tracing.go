package middleware

import (
	"net/http"

	"github.com/openshelf/library-service/internal/logging"
)

// TraceHeader is the request/response header carrying the trace ID.
const TraceHeader = "X-Trace-ID"

// Tracing propagates an incoming trace ID, or generates one, and makes it
// available on the request context and the response.
func Tracing(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		traceID := r.Header.Get(TraceHeader)
		if traceID == "" {
			traceID = logging.NewTraceID()
		}

		ctx := logging.WithTraceID(r.Context(), traceID)
		w.Header().Set(TraceHeader, traceID)

		next.ServeHTTP(w, r.WithContext(ctx))
	})
}
