package middleware

import (
	"context"
	"net/http"
	"regexp"

	"github.com/google/uuid"

	"github.com/angelmondragon/pixpay-backend/pkg/logger"
)

const (
	requestIDHeader     = "X-Request-Id"
	correlationIDHeader = "X-Correlation-Id"
)

// inbound ids are only trusted when they are short and log-safe
var requestIDPattern = regexp.MustCompile(`^[A-Za-z0-9._:-]{8,64}$`)

// RequestID adopts the caller's X-Request-Id (or X-Correlation-Id) when it is
// log-safe and mints a uuid otherwise. The id is echoed back, scoped into the
// request logger and forwarded on provider calls.
func RequestID(logg *logger.Logger) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			reqID := inboundRequestID(r.Header)
			w.Header().Set(requestIDHeader, reqID)

			var ctx context.Context
			if logg != nil {
				ctx = logg.WithRequestID(r.Context(), reqID)
			} else {
				ctx = logger.ContextWithRequestID(r.Context(), reqID)
			}
			next.ServeHTTP(w, r.WithContext(ctx))
		})
	}
}

func inboundRequestID(h http.Header) string {
	for _, name := range []string{requestIDHeader, correlationIDHeader} {
		if id := h.Get(name); requestIDPattern.MatchString(id) {
			return id
		}
	}
	return uuid.NewString()
}
