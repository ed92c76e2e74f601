package webhooks

import (
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	squarewebhook "github.com/cmor03/keepsake-sub000/internal/webhooks/square"
	pkgerrors "github.com/cmor03/keepsake-sub000/pkg/errors"
)

type stubWebhookService struct {
	events []*squarewebhook.Event
	err    error
}

func (s *stubWebhookService) HandleEvent(ctx context.Context, event *squarewebhook.Event) error {
	s.events = append(s.events, event)
	return s.err
}

type stubSquareClient struct {
	secret string
}

func (c *stubSquareClient) SigningSecret() string {
	return c.secret
}

func sign(payload, secret string) string {
	mac := hmac.New(sha256.New, []byte(secret))
	mac.Write([]byte(payload))
	return hex.EncodeToString(mac.Sum(nil))
}

func TestSquareWebhookAcceptsSignedEvent(t *testing.T) {
	svc := &stubWebhookService{}
	client := &stubSquareClient{secret: "whsec_test"}

	payload := `{"event_id":"evt_1","type":"payment.updated","data":{"type":"payment","id":"pay_1","object":{"payment":{"id":"pay_1","status":"COMPLETED","reference_id":"KS-ABC123"}}}}`
	req := httptest.NewRequest(http.MethodPost, "/api/v1/webhooks/square", strings.NewReader(payload))
	req.Header.Set("Square-Signature", sign(payload, client.secret))

	resp := httptest.NewRecorder()
	SquareWebhook(svc, client, nil).ServeHTTP(resp, req)

	require.Equal(t, http.StatusOK, resp.Code)
	require.Len(t, svc.events, 1)
	assert.Equal(t, "evt_1", svc.events[0].EventID)
	require.NotNil(t, svc.events[0].Data.Object.Payment)
	assert.Equal(t, "KS-ABC123", svc.events[0].Data.Object.Payment.ReferenceID)
}

func TestSquareWebhookRejectsMissingSignature(t *testing.T) {
	svc := &stubWebhookService{}
	client := &stubSquareClient{secret: "whsec_test"}

	req := httptest.NewRequest(http.MethodPost, "/api/v1/webhooks/square", strings.NewReader(`{}`))
	resp := httptest.NewRecorder()
	SquareWebhook(svc, client, nil).ServeHTTP(resp, req)

	assert.Equal(t, http.StatusBadRequest, resp.Code)
	assert.Empty(t, svc.events)
}

func TestSquareWebhookRejectsBadSignature(t *testing.T) {
	svc := &stubWebhookService{}
	client := &stubSquareClient{secret: "whsec_test"}

	payload := `{"event_id":"evt_2","type":"payment.updated"}`
	req := httptest.NewRequest(http.MethodPost, "/api/v1/webhooks/square", strings.NewReader(payload))
	req.Header.Set("Square-Signature", sign(payload, "wrong-secret"))

	resp := httptest.NewRecorder()
	SquareWebhook(svc, client, nil).ServeHTTP(resp, req)

	assert.Equal(t, http.StatusServiceUnavailable, resp.Code)
	assert.Empty(t, svc.events)
}

func TestSquareWebhookPropagatesServiceError(t *testing.T) {
	svc := &stubWebhookService{err: pkgerrors.New(pkgerrors.CodeNotFound, "no order matches payment reference")}
	client := &stubSquareClient{secret: "whsec_test"}

	payload := `{"event_id":"evt_3","type":"payment.updated"}`
	req := httptest.NewRequest(http.MethodPost, "/api/v1/webhooks/square", strings.NewReader(payload))
	req.Header.Set("Square-Signature", sign(payload, client.secret))

	resp := httptest.NewRecorder()
	SquareWebhook(svc, client, nil).ServeHTTP(resp, req)

	assert.Equal(t, http.StatusNotFound, resp.Code)
}
