// Package webhook implements an HTTP POST adapter for deployment
// completion events.
//
// Events are posted as JSON. When a secret is configured the body is
// signed with HMAC-SHA256 so receivers can verify its origin. Transient
// failures are retried with exponential backoff.
package webhook

import (
	"bytes"
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/ajolex/surveycto-vc-agent/adapter"
	"github.com/ajolex/surveycto-vc-agent/iox"
)

// DefaultTimeout is the default HTTP request timeout.
const DefaultTimeout = 10 * time.Second

// DefaultRetries is the default number of retry attempts.
const DefaultRetries = 3

// Request headers set on every delivery.
const (
	HeaderEvent      = "X-Formbridge-Event"
	HeaderDeployment = "X-Formbridge-Deployment"
	HeaderSignature  = "X-Formbridge-Signature"
)

// Config configures the webhook adapter.
type Config struct {
	// URL is the HTTP endpoint to POST to (required).
	URL string
	// Headers are custom HTTP headers added to each request.
	Headers map[string]string
	// Secret, when set, enables the sha256= signature header.
	Secret string
	// Timeout is the per-request timeout (default 10s).
	Timeout time.Duration
	// Retries is the number of retry attempts on failure (default 3).
	Retries int
	// Backoff is the first retry delay (default adapter.BaseBackoff).
	Backoff time.Duration
}

// Adapter publishes deployment completion events via HTTP POST.
type Adapter struct {
	config Config
	client *http.Client
}

// New creates a webhook adapter from the given config.
func New(cfg Config) (*Adapter, error) {
	if cfg.URL == "" {
		return nil, errors.New("webhook adapter requires a URL")
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = DefaultTimeout
	}
	if cfg.Retries < 0 {
		return nil, fmt.Errorf("retries must be >= 0, got %d", cfg.Retries)
	}

	return &Adapter{
		config: cfg,
		client: &http.Client{Timeout: cfg.Timeout},
	}, nil
}

// Publish posts the event. 5xx responses and network errors are retried;
// 4xx responses fail immediately.
func (a *Adapter) Publish(ctx context.Context, event *adapter.DeploymentCompletedEvent) error {
	body, err := json.Marshal(event)
	if err != nil {
		return fmt.Errorf("webhook: marshal event: %w", err)
	}

	return adapter.Retry(ctx, "webhook", a.config.Retries, a.config.Backoff,
		func(ctx context.Context) error { return a.doRequest(ctx, event, body) },
		func(err error) bool {
			var statusErr *StatusError
			return errors.As(err, &statusErr) && statusErr.Code >= 400 && statusErr.Code < 500
		},
	)
}

// StatusError is returned for non-2xx HTTP responses.
type StatusError struct {
	Code int
}

func (e *StatusError) Error() string {
	return fmt.Sprintf("unexpected status %d", e.Code)
}

// Sign returns the signature header value for body under secret.
func Sign(secret string, body []byte) string {
	mac := hmac.New(sha256.New, []byte(secret))
	mac.Write(body)
	return "sha256=" + hex.EncodeToString(mac.Sum(nil))
}

func (a *Adapter) doRequest(ctx context.Context, event *adapter.DeploymentCompletedEvent, body []byte) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, a.config.URL, bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("create request: %w", err)
	}

	req.Header.Set("Content-Type", "application/json")
	req.Header.Set(HeaderEvent, event.EventType)
	req.Header.Set(HeaderDeployment, event.DeploymentID)
	if a.config.Secret != "" {
		req.Header.Set(HeaderSignature, Sign(a.config.Secret, body))
	}
	for k, v := range a.config.Headers {
		req.Header.Set(k, v)
	}

	resp, err := a.client.Do(req)
	if err != nil {
		return fmt.Errorf("request failed: %w", err)
	}
	defer iox.DiscardClose(resp.Body)

	// Drain body to allow connection reuse
	_, _ = io.Copy(io.Discard, resp.Body)

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return &StatusError{Code: resp.StatusCode}
	}
	return nil
}

// Close releases adapter resources.
func (a *Adapter) Close() error {
	a.client.CloseIdleConnections()
	return nil
}

var _ adapter.Adapter = (*Adapter)(nil)
