package middleware

import (
	"net/http"
	"strings"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"

	"github.com/cmor03/keepsake-sub000/api/responses"
	pkgauth "github.com/cmor03/keepsake-sub000/pkg/auth"
	"github.com/cmor03/keepsake-sub000/pkg/config"
	pkgerrors "github.com/cmor03/keepsake-sub000/pkg/errors"
	"github.com/cmor03/keepsake-sub000/pkg/logger"
)

// OrderAuth validates a bearer order token and seeds the request context with
// its claims. Tokens are scoped to a single order; when the route carries an
// {orderId} param it must match the token or the request is refused.
func OrderAuth(cfg config.OrderTokenConfig, logg *logger.Logger) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			raw := strings.TrimSpace(r.Header.Get("Authorization"))
			if raw == "" {
				responses.WriteError(r.Context(), logg, w, pkgerrors.New(pkgerrors.CodeUnauthorized, "missing credentials"))
				return
			}

			token := raw
			if strings.HasPrefix(strings.ToLower(token), "bearer ") {
				token = strings.TrimSpace(token[7:])
			}
			if token == "" {
				responses.WriteError(r.Context(), logg, w, pkgerrors.New(pkgerrors.CodeUnauthorized, "missing credentials"))
				return
			}

			claims, err := pkgauth.ParseOrderToken(cfg, token)
			if err != nil {
				responses.WriteError(r.Context(), logg, w, pkgerrors.Wrap(pkgerrors.CodeUnauthorized, err, "invalid token"))
				return
			}
			if claims.OrderID == uuid.Nil {
				responses.WriteError(r.Context(), logg, w, pkgerrors.New(pkgerrors.CodeUnauthorized, "token is not order scoped"))
				return
			}

			if param := chi.URLParam(r, "orderId"); param != "" && param != claims.OrderID.String() {
				responses.WriteError(r.Context(), logg, w, pkgerrors.New(pkgerrors.CodeForbidden, "token is scoped to a different order"))
				return
			}

			ctx := WithOrderID(r.Context(), claims.OrderID.String())
			if claims.OrderNumber != "" {
				ctx = WithOrderNumber(ctx, claims.OrderNumber)
			}

			if logg != nil {
				ctx = logg.WithOrderID(ctx, claims.OrderID.String())
			}

			next.ServeHTTP(w, r.WithContext(ctx))
		})
	}
}
