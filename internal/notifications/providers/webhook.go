package providers

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"time"

	"github.com/avast/retry-go/v4"
)

const (
	webhookAttempts = 3
	webhookDelay    = 500 * time.Millisecond
)

// WebhookProvider POSTs the alert as JSON. 5xx and transport errors are retried.
type WebhookProvider struct {
	url    string
	client *http.Client
}

// NewWebhookProvider uses client when non-nil and a 10s-timeout client otherwise.
func NewWebhookProvider(target string, client *http.Client) *WebhookProvider {
	if client == nil {
		client = &http.Client{Timeout: 10 * time.Second}
	}
	return &WebhookProvider{url: target, client: client}
}

func (p *WebhookProvider) Name() string    { return "webhook" }
func (p *WebhookProvider) Available() bool { return p.url != "" }

func (p *WebhookProvider) Validate() error {
	u, err := url.Parse(p.url)
	if err != nil {
		return fmt.Errorf("invalid webhook url: %w", err)
	}
	if u.Scheme != "http" && u.Scheme != "https" {
		return fmt.Errorf("webhook url must be http or https")
	}
	return nil
}

func (p *WebhookProvider) Send(ctx context.Context, message Message) error {
	body, err := json.Marshal(message)
	if err != nil {
		return fmt.Errorf("encode alert: %w", err)
	}
	return retry.Do(
		func() error { return p.post(ctx, body) },
		retry.Context(ctx),
		retry.Attempts(webhookAttempts),
		retry.Delay(webhookDelay),
		retry.LastErrorOnly(true),
		retry.RetryIf(func(err error) bool {
			var permanent *permanentError
			return !errors.As(err, &permanent)
		}),
	)
}

// permanentError marks failures that a retry cannot fix.
type permanentError struct{ msg string }

func (e *permanentError) Error() string { return e.msg }

func (p *WebhookProvider) post(ctx context.Context, body []byte) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, p.url, bytes.NewReader(body))
	if err != nil {
		return &permanentError{msg: fmt.Sprintf("build alert request: %v", err)}
	}
	req.Header.Set("Content-Type", "application/json")
	resp, err := p.client.Do(req)
	if err != nil {
		return fmt.Errorf("post alert: %w", err)
	}
	defer func() { _ = resp.Body.Close() }()
	_, _ = io.Copy(io.Discard, resp.Body)

	switch {
	case resp.StatusCode >= 500:
		return fmt.Errorf("webhook returned status %d", resp.StatusCode)
	case resp.StatusCode >= 300:
		return &permanentError{msg: fmt.Sprintf("webhook rejected alert with status %d", resp.StatusCode)}
	}
	return nil
}
