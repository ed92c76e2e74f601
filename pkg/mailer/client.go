package mailer

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/hashicorp/go-retryablehttp"

	"github.com/cmor03/keepsake-sub000/pkg/config"
	"github.com/cmor03/keepsake-sub000/pkg/logger"
)

const (
	TemplateOrderConfirmation = "order-confirmation"
	TemplateOrderCompleted    = "order-completed"
)

// Sender delivers templated notification emails. Delivery failures are the
// caller's to swallow; they must never roll back an order mutation.
type Sender interface {
	Send(ctx context.Context, template, recipient string, data map[string]any) error
}

// Client posts messages to the email delivery API. Transient 5xx responses
// are retried by retryablehttp before the error is reported.
type Client struct {
	baseURL     string
	apiKey      string
	defaultFrom string
	httpClient  *retryablehttp.Client
	logg        *logger.Logger
}

// NewClient builds the mailer. An empty base URL yields a disabled client
// whose sends log and succeed, which keeps local development email-free.
func NewClient(cfg config.MailerConfig, logg *logger.Logger) *Client {
	rc := retryablehttp.NewClient()
	rc.RetryMax = 3
	rc.RetryWaitMin = 500 * time.Millisecond
	rc.RetryWaitMax = 5 * time.Second
	rc.HTTPClient.Timeout = 15 * time.Second
	rc.Logger = nil

	return &Client{
		baseURL:     strings.TrimRight(strings.TrimSpace(cfg.BaseURL), "/"),
		apiKey:      cfg.APIKey,
		defaultFrom: cfg.DefaultFrom,
		httpClient:  rc,
		logg:        logg,
	}
}

type messagePayload struct {
	From     string         `json:"from"`
	To       string         `json:"to"`
	Template string         `json:"template"`
	Data     map[string]any `json:"data,omitempty"`
}

// Send posts one templated message.
func (c *Client) Send(ctx context.Context, template, recipient string, data map[string]any) error {
	if c == nil {
		return fmt.Errorf("mailer not initialized")
	}
	if strings.TrimSpace(recipient) == "" {
		return fmt.Errorf("recipient is required")
	}
	if strings.TrimSpace(template) == "" {
		return fmt.Errorf("template is required")
	}
	if c.baseURL == "" {
		if c.logg != nil {
			ctx = c.logg.WithFields(ctx, map[string]any{"template": template})
			c.logg.Info(ctx, "mailer disabled, skipping send")
		}
		return nil
	}

	body, err := json.Marshal(messagePayload{
		From:     c.defaultFrom,
		To:       recipient,
		Template: template,
		Data:     data,
	})
	if err != nil {
		return fmt.Errorf("encode message: %w", err)
	}

	req, err := retryablehttp.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/v1/messages", bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("create message request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	if c.apiKey != "" {
		req.Header.Set("Authorization", "Bearer "+c.apiKey)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("send message: %w", err)
	}
	defer func() { _ = resp.Body.Close() }()

	if resp.StatusCode >= 300 {
		return fmt.Errorf("mailer returned %s", resp.Status)
	}
	return nil
}
