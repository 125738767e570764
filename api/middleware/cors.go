package middleware

import (
	"net/http"
	"strings"

	"github.com/go-chi/cors"

	"github.com/angelmondragon/pixpay-backend/pkg/config"
)

// Headers browsers may send to the payments API. The webhook route is
// server-to-server and never needs a preflight.
var corsAllowedHeaders = []string{
	"Accept",
	"Content-Type",
	IdempotencyKeyHeader,
	userIDHeader,
	requestIDHeader,
	correlationIDHeader,
}

var corsExposedHeaders = []string{
	requestIDHeader,
	ReplayedHeader,
}

// CORS applies cfg's origin policy. A "*" origin turns credentials off since
// browsers refuse that combination.
func CORS(cfg config.CORSConfig) func(http.Handler) http.Handler {
	origins := make([]string, 0, len(cfg.AllowedOrigins))
	wildcard := false
	for _, origin := range cfg.AllowedOrigins {
		origin = strings.TrimRight(strings.TrimSpace(origin), "/")
		if origin == "" {
			continue
		}
		if origin == "*" {
			wildcard = true
		}
		origins = append(origins, origin)
	}

	return cors.Handler(cors.Options{
		AllowedOrigins:   origins,
		AllowedMethods:   []string{http.MethodGet, http.MethodPost, http.MethodDelete},
		AllowedHeaders:   corsAllowedHeaders,
		ExposedHeaders:   corsExposedHeaders,
		AllowCredentials: cfg.AllowCredentials && !wildcard,
		MaxAge:           int(cfg.MaxAge.Seconds()),
	})
}
