package middleware

import (
	"net/http"

	"qrlink/pkg/logging"
)

// CorrelationID attaches a correlation ID to every request context so log
// lines from the resolution and ingestion paths can be tied together.
func CorrelationID(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		ctx := logging.WithCorrelationID(r.Context())
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}
