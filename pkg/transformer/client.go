package transformer

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/cmor03/keepsake-sub000/pkg/config"
	pkgerrors "github.com/cmor03/keepsake-sub000/pkg/errors"
)

// Transformer converts one original image into its derived artifact. The
// remote service makes no idempotency promise, so the client performs exactly
// one attempt per call; retries are an explicit dispatcher decision.
type Transformer interface {
	Transform(ctx context.Context, image []byte, contentType string) ([]byte, error)
}

// Client calls the external transformation API over HTTP.
type Client struct {
	baseURL    string
	apiKey     string
	httpClient *http.Client
}

// NewClient builds a transformation client from configuration.
func NewClient(cfg config.TransformerConfig) (*Client, error) {
	base := strings.TrimRight(strings.TrimSpace(cfg.BaseURL), "/")
	if base == "" {
		return nil, fmt.Errorf("transformer base url is required")
	}
	timeout := cfg.CallTimeout
	if timeout <= 0 {
		timeout = 2 * time.Minute
	}
	return &Client{
		baseURL: base,
		apiKey:  cfg.APIKey,
		httpClient: &http.Client{
			Timeout: timeout,
		},
	}, nil
}

// Transform submits the image bytes and returns the transformed artifact.
// A timeout or non-200 response surfaces as a dependency error; the caller
// records the image as failed rather than retrying here.
func (c *Client) Transform(ctx context.Context, image []byte, contentType string) ([]byte, error) {
	if c == nil || c.baseURL == "" {
		return nil, pkgerrors.New(pkgerrors.CodeInternal, "transformer client not configured")
	}
	if len(image) == 0 {
		return nil, pkgerrors.New(pkgerrors.CodeValidation, "image payload is empty")
	}
	if contentType == "" {
		contentType = "application/octet-stream"
	}

	url := c.baseURL + "/v1/transform"
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(image))
	if err != nil {
		return nil, pkgerrors.Wrap(pkgerrors.CodeInternal, err, "create transform request")
	}
	req.Header.Set("Content-Type", contentType)
	if c.apiKey != "" {
		req.Header.Set("Authorization", "Bearer "+c.apiKey)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "call transformation service")
	}
	defer func() { _ = resp.Body.Close() }()

	if resp.StatusCode != http.StatusOK {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 2048))
		return nil, pkgerrors.New(pkgerrors.CodeDependency, fmt.Sprintf("transformation service returned %s", resp.Status)).
			WithDetails(map[string]any{"body": strings.TrimSpace(string(body))})
	}

	result, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "read transform response")
	}
	if len(result) == 0 {
		return nil, pkgerrors.New(pkgerrors.CodeDependency, "transformation service returned empty artifact")
	}
	return result, nil
}
