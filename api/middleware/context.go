package middleware

import (
	"context"
	"net/http"
	"strings"

	"github.com/google/uuid"

	"github.com/angelmondragon/pixpay-backend/api/responses"
	pkgerrors "github.com/angelmondragon/pixpay-backend/pkg/errors"
	"github.com/angelmondragon/pixpay-backend/pkg/logger"
)

type contextKey string

const (
	ctxUserID contextKey = "user_id"

	userIDHeader = "X-User-Id"
)

func UserIDFromContext(ctx context.Context) string {
	if ctx == nil {
		return ""
	}
	if v, ok := ctx.Value(ctxUserID).(string); ok {
		return v
	}
	return ""
}

// WithUserID injects the user identifier into the context.
func WithUserID(ctx context.Context, userID string) context.Context {
	if ctx == nil {
		ctx = context.Background()
	}
	return context.WithValue(ctx, ctxUserID, userID)
}

// UserContext copies the gateway-asserted X-User-Id header into the request
// context. The header is optional; a present but malformed id is rejected.
func UserContext(logg *logger.Logger) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			raw := strings.TrimSpace(r.Header.Get(userIDHeader))
			if raw == "" {
				next.ServeHTTP(w, r)
				return
			}
			if _, err := uuid.Parse(raw); err != nil {
				responses.WriteError(r.Context(), logg, w, pkgerrors.Wrap(pkgerrors.CodeValidation, err, "invalid X-User-Id header"))
				return
			}
			ctx := WithUserID(r.Context(), raw)
			if logg != nil {
				ctx = logg.WithField(ctx, "user_id", raw)
			}
			next.ServeHTTP(w, r.WithContext(ctx))
		})
	}
}
