package uploads

import (
	"bytes"
	"context"
	"encoding/json"
	"mime/multipart"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	internaluploads "github.com/cmor03/keepsake-sub000/internal/uploads"
	"github.com/cmor03/keepsake-sub000/pkg/config"
	pkgerrors "github.com/cmor03/keepsake-sub000/pkg/errors"
)

type stubUploadsService struct {
	submit func(ctx context.Context, orderID uuid.UUID, files []internaluploads.File) (*internaluploads.Result, error)
}

func (s *stubUploadsService) SubmitFiles(ctx context.Context, orderID uuid.UUID, files []internaluploads.File) (*internaluploads.Result, error) {
	if s.submit != nil {
		return s.submit(ctx, orderID, files)
	}
	return nil, nil
}

func multipartRequest(t *testing.T, orderID string, names map[string][]byte) *http.Request {
	t.Helper()

	var body bytes.Buffer
	writer := multipart.NewWriter(&body)
	for name, data := range names {
		part, err := writer.CreateFormFile("files", name)
		require.NoError(t, err)
		_, err = part.Write(data)
		require.NoError(t, err)
	}
	require.NoError(t, writer.Close())

	req := httptest.NewRequest(http.MethodPost, "/api/v1/orders/"+orderID+"/images", &body)
	req.Header.Set("Content-Type", writer.FormDataContentType())

	rctx := chi.NewRouteContext()
	rctx.URLParams.Add("orderId", orderID)
	return req.WithContext(context.WithValue(req.Context(), chi.RouteCtxKey, rctx))
}

func TestSubmitForwardsFiles(t *testing.T) {
	orderID := uuid.New()
	svc := &stubUploadsService{
		submit: func(ctx context.Context, id uuid.UUID, files []internaluploads.File) (*internaluploads.Result, error) {
			assert.Equal(t, orderID, id)
			require.Len(t, files, 2)
			got := map[string][]byte{}
			for _, f := range files {
				got[f.Name] = f.Data
			}
			assert.Equal(t, []byte("front"), got["front.jpg"])
			assert.Equal(t, []byte("back"), got["back.jpg"])
			return &internaluploads.Result{OrderID: id, Accepted: []string{"front.jpg", "back.jpg"}, Dispatched: 2}, nil
		},
	}

	resp := httptest.NewRecorder()
	req := multipartRequest(t, orderID.String(), map[string][]byte{
		"front.jpg": []byte("front"),
		"back.jpg":  []byte("back"),
	})
	Submit(svc, config.UploadsConfig{}, nil).ServeHTTP(resp, req)

	require.Equal(t, http.StatusOK, resp.Code)

	var envelope struct {
		Data internaluploads.Result `json:"data"`
	}
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&envelope))
	assert.Equal(t, 2, envelope.Data.Dispatched)
	assert.Len(t, envelope.Data.Accepted, 2)
}

func TestSubmitReportsPartialRejections(t *testing.T) {
	orderID := uuid.New()
	svc := &stubUploadsService{
		submit: func(ctx context.Context, id uuid.UUID, files []internaluploads.File) (*internaluploads.Result, error) {
			return &internaluploads.Result{
				OrderID:    id,
				Accepted:   []string{"front.jpg"},
				Rejected:   []internaluploads.FileError{{Name: "stray.jpg", Reason: "no matching image declared on the order"}},
				Dispatched: 1,
			}, nil
		},
	}

	resp := httptest.NewRecorder()
	req := multipartRequest(t, orderID.String(), map[string][]byte{
		"front.jpg": []byte("front"),
		"stray.jpg": []byte("stray"),
	})
	Submit(svc, config.UploadsConfig{}, nil).ServeHTTP(resp, req)

	require.Equal(t, http.StatusOK, resp.Code)

	var envelope struct {
		Data internaluploads.Result `json:"data"`
	}
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&envelope))
	require.Len(t, envelope.Data.Rejected, 1)
	assert.Equal(t, "stray.jpg", envelope.Data.Rejected[0].Name)
}

func TestSubmitRejectsEmptyForm(t *testing.T) {
	orderID := uuid.New()
	svc := &stubUploadsService{
		submit: func(ctx context.Context, id uuid.UUID, files []internaluploads.File) (*internaluploads.Result, error) {
			t.Fatal("service must not be called without files")
			return nil, nil
		},
	}

	resp := httptest.NewRecorder()
	req := multipartRequest(t, orderID.String(), nil)
	Submit(svc, config.UploadsConfig{}, nil).ServeHTTP(resp, req)

	assert.Equal(t, http.StatusBadRequest, resp.Code)
}

func TestSubmitRejectsInvalidOrderID(t *testing.T) {
	svc := &stubUploadsService{}
	resp := httptest.NewRecorder()
	req := multipartRequest(t, "not-a-uuid", map[string][]byte{"front.jpg": []byte("x")})
	Submit(svc, config.UploadsConfig{}, nil).ServeHTTP(resp, req)

	assert.Equal(t, http.StatusBadRequest, resp.Code)
}

func TestSubmitSurfacesUnpaidOrder(t *testing.T) {
	orderID := uuid.New()
	svc := &stubUploadsService{
		submit: func(ctx context.Context, id uuid.UUID, files []internaluploads.File) (*internaluploads.Result, error) {
			return nil, pkgerrors.New(pkgerrors.CodePaymentRequired, "order is not paid")
		},
	}

	resp := httptest.NewRecorder()
	req := multipartRequest(t, orderID.String(), map[string][]byte{"front.jpg": []byte("x")})
	Submit(svc, config.UploadsConfig{}, nil).ServeHTTP(resp, req)

	assert.Equal(t, http.StatusPaymentRequired, resp.Code)
}
