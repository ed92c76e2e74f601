package admin

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/cmor03/keepsake-sub000/internal/transform"
	"github.com/cmor03/keepsake-sub000/pkg/enums"
	pkgerrors "github.com/cmor03/keepsake-sub000/pkg/errors"
)

type stubRetransformer struct {
	dispatch func(ctx context.Context, orderID uuid.UUID, filter *enums.ImageStatus) (*transform.DispatchSummary, error)
}

func (s *stubRetransformer) DispatchOrder(ctx context.Context, orderID uuid.UUID, filter *enums.ImageStatus) (*transform.DispatchSummary, error) {
	if s.dispatch != nil {
		return s.dispatch(ctx, orderID, filter)
	}
	return nil, nil
}

func retransformRequest(target string, orderID string) *http.Request {
	req := httptest.NewRequest(http.MethodPost, target, nil)
	rctx := chi.NewRouteContext()
	rctx.URLParams.Add("orderId", orderID)
	return req.WithContext(context.WithValue(req.Context(), chi.RouteCtxKey, rctx))
}

func TestRetransformDispatchesWholeOrder(t *testing.T) {
	orderID := uuid.New()
	dispatcher := &stubRetransformer{
		dispatch: func(ctx context.Context, id uuid.UUID, filter *enums.ImageStatus) (*transform.DispatchSummary, error) {
			assert.Equal(t, orderID, id)
			assert.Nil(t, filter)
			return &transform.DispatchSummary{OrderID: id, Dispatched: 4}, nil
		},
	}

	resp := httptest.NewRecorder()
	Retransform(dispatcher, nil).ServeHTTP(resp,
		retransformRequest("/api/admin/v1/orders/"+orderID.String()+"/retransform", orderID.String()))

	require.Equal(t, http.StatusAccepted, resp.Code)

	var envelope struct {
		Data transform.DispatchSummary `json:"data"`
	}
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&envelope))
	assert.Equal(t, 4, envelope.Data.Dispatched)
}

func TestRetransformParsesStatusFilter(t *testing.T) {
	orderID := uuid.New()
	dispatcher := &stubRetransformer{
		dispatch: func(ctx context.Context, id uuid.UUID, filter *enums.ImageStatus) (*transform.DispatchSummary, error) {
			require.NotNil(t, filter)
			assert.Equal(t, enums.ImageStatusFailed, *filter)
			return &transform.DispatchSummary{OrderID: id, Dispatched: 1, Skipped: 3}, nil
		},
	}

	resp := httptest.NewRecorder()
	Retransform(dispatcher, nil).ServeHTTP(resp,
		retransformRequest("/api/admin/v1/orders/"+orderID.String()+"/retransform?status=failed", orderID.String()))

	assert.Equal(t, http.StatusAccepted, resp.Code)
}

func TestRetransformRejectsUnknownStatus(t *testing.T) {
	orderID := uuid.New()
	dispatcher := &stubRetransformer{
		dispatch: func(ctx context.Context, id uuid.UUID, filter *enums.ImageStatus) (*transform.DispatchSummary, error) {
			t.Fatal("dispatcher must not run with an invalid filter")
			return nil, nil
		},
	}

	resp := httptest.NewRecorder()
	Retransform(dispatcher, nil).ServeHTTP(resp,
		retransformRequest("/api/admin/v1/orders/"+orderID.String()+"/retransform?status=bogus", orderID.String()))

	assert.Equal(t, http.StatusBadRequest, resp.Code)
}

func TestRetransformSurfacesConflict(t *testing.T) {
	orderID := uuid.New()
	dispatcher := &stubRetransformer{
		dispatch: func(ctx context.Context, id uuid.UUID, filter *enums.ImageStatus) (*transform.DispatchSummary, error) {
			return nil, pkgerrors.New(pkgerrors.CodeConflict, "order changed while reopening")
		},
	}

	resp := httptest.NewRecorder()
	Retransform(dispatcher, nil).ServeHTTP(resp,
		retransformRequest("/api/admin/v1/orders/"+orderID.String()+"/retransform", orderID.String()))

	assert.Equal(t, http.StatusConflict, resp.Code)
}
