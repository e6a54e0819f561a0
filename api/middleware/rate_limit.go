package middleware

import (
	"context"
	"net/http"
	"strconv"
	"time"

	"github.com/flable/flable-backend/api/responses"
	pkgerrors "github.com/flable/flable-backend/pkg/errors"
	"github.com/flable/flable-backend/pkg/logger"
)

// WindowLimiter counts requests in a fixed window.
type WindowLimiter interface {
	FixedWindowAllow(ctx context.Context, scope string, limit int64, window time.Duration) (bool, int64, error)
}

// RateLimit caps requests per account and scope in a fixed Redis window.
// Redis failures let the request through.
func RateLimit(store WindowLimiter, scope string, limit int64, window time.Duration, logg *logger.Logger) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		if store == nil || limit <= 0 || window <= 0 {
			return next
		}
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			ctx := r.Context()
			accountID := AccountIDFromContext(ctx)
			key := scope + ":" + accountID.String()

			allowed, count, err := store.FixedWindowAllow(ctx, key, limit, window)
			if err != nil {
				if logg != nil {
					logg.Error(logg.WithField(ctx, "rate_limit_scope", scope), "rate limit check failed", err)
				}
				next.ServeHTTP(w, r)
				return
			}
			if !allowed {
				w.Header().Set("Retry-After", strconv.Itoa(int(window.Seconds())))
				responses.WriteError(ctx, logg, w, pkgerrors.New(pkgerrors.CodeRateLimit, "too many requests").
					WithDetails(map[string]any{"scope": scope, "count": count, "limit": limit}))
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}
