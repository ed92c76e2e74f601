package middleware

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	pkgauth "github.com/cmor03/keepsake-sub000/pkg/auth"
	"github.com/cmor03/keepsake-sub000/pkg/config"
)

var testTokenCfg = config.OrderTokenConfig{
	Secret:     "test-secret",
	Issuer:     "keepsake",
	TTLMinutes: 60,
}

func mintTestToken(t *testing.T, orderID uuid.UUID) string {
	t.Helper()
	token, err := pkgauth.MintOrderToken(testTokenCfg, time.Now(), pkgauth.OrderTokenPayload{
		OrderID:     orderID,
		OrderNumber: "KS-AUTH1",
	})
	require.NoError(t, err)
	return token
}

func authTestHandler(seen *string) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		*seen = OrderIDFromContext(r.Context())
		w.WriteHeader(http.StatusNoContent)
	})
}

func TestOrderAuthSeedsContext(t *testing.T) {
	orderID := uuid.New()
	var seen string

	req := httptest.NewRequest(http.MethodGet, "/api/v1/orders/"+orderID.String(), nil)
	req.Header.Set("Authorization", "Bearer "+mintTestToken(t, orderID))

	resp := httptest.NewRecorder()
	OrderAuth(testTokenCfg, nil)(authTestHandler(&seen)).ServeHTTP(resp, req)

	require.Equal(t, http.StatusNoContent, resp.Code)
	assert.Equal(t, orderID.String(), seen)
}

func TestOrderAuthRejectsMissingToken(t *testing.T) {
	var seen string
	req := httptest.NewRequest(http.MethodGet, "/api/v1/orders/abc", nil)

	resp := httptest.NewRecorder()
	OrderAuth(testTokenCfg, nil)(authTestHandler(&seen)).ServeHTTP(resp, req)

	assert.Equal(t, http.StatusUnauthorized, resp.Code)
	assert.Empty(t, seen)
}

func TestOrderAuthRejectsForgedToken(t *testing.T) {
	orderID := uuid.New()
	forgedCfg := testTokenCfg
	forgedCfg.Secret = "other-secret"
	forged, err := pkgauth.MintOrderToken(forgedCfg, time.Now(), pkgauth.OrderTokenPayload{OrderID: orderID})
	require.NoError(t, err)

	var seen string
	req := httptest.NewRequest(http.MethodGet, "/api/v1/orders/"+orderID.String(), nil)
	req.Header.Set("Authorization", "Bearer "+forged)

	resp := httptest.NewRecorder()
	OrderAuth(testTokenCfg, nil)(authTestHandler(&seen)).ServeHTTP(resp, req)

	assert.Equal(t, http.StatusUnauthorized, resp.Code)
}

func TestOrderAuthEnforcesOrderScope(t *testing.T) {
	tokenOrder := uuid.New()
	otherOrder := uuid.New()

	var seen string
	req := httptest.NewRequest(http.MethodGet, "/api/v1/orders/"+otherOrder.String(), nil)
	req.Header.Set("Authorization", "Bearer "+mintTestToken(t, tokenOrder))

	rctx := chi.NewRouteContext()
	rctx.URLParams.Add("orderId", otherOrder.String())
	req = req.WithContext(context.WithValue(req.Context(), chi.RouteCtxKey, rctx))

	resp := httptest.NewRecorder()
	OrderAuth(testTokenCfg, nil)(authTestHandler(&seen)).ServeHTTP(resp, req)

	assert.Equal(t, http.StatusForbidden, resp.Code)
	assert.Empty(t, seen)
}

func TestOrderAuthAllowsMatchingScope(t *testing.T) {
	orderID := uuid.New()

	var seen string
	req := httptest.NewRequest(http.MethodGet, "/api/v1/orders/"+orderID.String(), nil)
	req.Header.Set("Authorization", "Bearer "+mintTestToken(t, orderID))

	rctx := chi.NewRouteContext()
	rctx.URLParams.Add("orderId", orderID.String())
	req = req.WithContext(context.WithValue(req.Context(), chi.RouteCtxKey, rctx))

	resp := httptest.NewRecorder()
	OrderAuth(testTokenCfg, nil)(authTestHandler(&seen)).ServeHTTP(resp, req)

	assert.Equal(t, http.StatusNoContent, resp.Code)
	assert.Equal(t, orderID.String(), seen)
}
