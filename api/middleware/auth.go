package middleware

import (
	"net/http"
	"strings"

	"github.com/flable/flable-backend/api/responses"
	pkgAuth "github.com/flable/flable-backend/pkg/auth"
	"github.com/flable/flable-backend/pkg/config"
	pkgerrors "github.com/flable/flable-backend/pkg/errors"
	"github.com/flable/flable-backend/pkg/logger"
)

// Auth validates the bearer token and scopes the request to its account.
func Auth(cfg config.JWTConfig, logg *logger.Logger) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			raw := strings.TrimSpace(r.Header.Get("Authorization"))
			if len(raw) < 7 || !strings.EqualFold(raw[:7], "bearer ") {
				responses.WriteError(r.Context(), logg, w, pkgerrors.New(pkgerrors.CodeUnauthorized, "missing credentials"))
				return
			}
			token := strings.TrimSpace(raw[7:])
			if token == "" {
				responses.WriteError(r.Context(), logg, w, pkgerrors.New(pkgerrors.CodeUnauthorized, "missing credentials"))
				return
			}

			claims, err := pkgAuth.ParseAccessToken(cfg, token)
			if err != nil {
				responses.WriteError(r.Context(), logg, w, pkgerrors.Wrap(pkgerrors.CodeUnauthorized, err, "invalid token"))
				return
			}

			ctx := WithAccountID(r.Context(), claims.AccountID)
			if logg != nil {
				ctx = logg.WithAccountID(ctx, claims.AccountID.String())
			}
			next.ServeHTTP(w, r.WithContext(ctx))
		})
	}
}
