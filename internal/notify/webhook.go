package notify

import (
	"bytes"
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"net/http"
	"time"
)

// webhookPayload is the JSON envelope POSTed to the endpoint. The "text"
// field keeps the body compatible with generic chat-style receivers while
// "payload" carries the structured metadata.
type webhookPayload struct {
	Type      string         `json:"type"`
	Subject   string         `json:"subject"`
	Body      string         `json:"text"`
	Priority  string         `json:"priority,omitempty"`
	Payload   map[string]any `json:"payload,omitempty"`
	Timestamp string         `json:"timestamp"`
}

// WebhookConfig configures the webhook channel.
type WebhookConfig struct {
	URL         string
	Secret      string // optional HMAC-SHA256 signing secret
	MaxAttempts int    // bounded retries on 5xx; 0 means 3
	Timeout     time.Duration
}

// Validate checks the required fields.
func (c WebhookConfig) Validate() error {
	if c.URL == "" {
		return fmt.Errorf("%w: webhook url is required", ErrInvalidConfig)
	}
	return nil
}

// WebhookChannel delivers events via an outbound HTTP POST. A 5xx response
// is retried with exponential backoff up to MaxAttempts; 4xx responses fail
// immediately since retrying a rejected payload cannot succeed.
type WebhookChannel struct {
	cfg    WebhookConfig
	client *http.Client
	sleep  func(time.Duration)
	now    func() time.Time
}

// NewWebhookChannel creates the webhook channel.
func NewWebhookChannel(cfg WebhookConfig) (*WebhookChannel, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	if cfg.MaxAttempts <= 0 {
		cfg.MaxAttempts = 3
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = 10 * time.Second
	}
	return &WebhookChannel{
		cfg:    cfg,
		client: &http.Client{Timeout: cfg.Timeout},
		sleep:  time.Sleep,
		now:    time.Now,
	}, nil
}

func (w *WebhookChannel) Name() string { return "webhook" }

// Send serializes the event and POSTs it, retrying server errors.
func (w *WebhookChannel) Send(ctx context.Context, ev Event) error {
	data, err := json.Marshal(webhookPayload{
		Type:      string(ev.Type),
		Subject:   ev.Subject,
		Body:      ev.Body,
		Priority:  ev.Priority,
		Payload:   ev.Metadata,
		Timestamp: w.now().UTC().Format(time.RFC3339),
	})
	if err != nil {
		return fmt.Errorf("%w: failed to marshal webhook payload: %s", ErrSendFailed, err)
	}

	backoff := time.Second
	var lastErr error
	for attempt := 1; attempt <= w.cfg.MaxAttempts; attempt++ {
		if attempt > 1 {
			select {
			case <-ctx.Done():
				return fmt.Errorf("%w: %s", ErrSendFailed, ctx.Err())
			default:
			}
			w.sleep(backoff)
			backoff *= 2
		}

		retriable, err := w.post(ctx, data)
		if err == nil {
			return nil
		}
		lastErr = err
		if !retriable {
			return err
		}
	}
	return lastErr
}

// post performs one delivery attempt. retriable reports whether the failure
// is worth another attempt.
func (w *WebhookChannel) post(ctx context.Context, data []byte) (retriable bool, err error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, w.cfg.URL, bytes.NewReader(data))
	if err != nil {
		return false, fmt.Errorf("%w: failed to build webhook request: %s", ErrSendFailed, err)
	}

	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("User-Agent", "Vya-Webhook/1.0")

	// Signature in X-Vya-Signature as "sha256=<hex>", the convention used by
	// GitHub and Stripe webhooks.
	if w.cfg.Secret != "" {
		req.Header.Set("X-Vya-Signature", "sha256="+hmacSHA256(data, w.cfg.Secret))
	}

	resp, err := w.client.Do(req)
	if err != nil {
		return true, fmt.Errorf("%w: webhook request failed: %s", ErrSendFailed, err)
	}
	defer resp.Body.Close()

	switch {
	case resp.StatusCode >= 200 && resp.StatusCode < 300:
		return false, nil
	case resp.StatusCode >= 500:
		return true, fmt.Errorf("%w: webhook returned status %d", ErrSendFailed, resp.StatusCode)
	default:
		return false, fmt.Errorf("%w: webhook returned status %d", ErrSendFailed, resp.StatusCode)
	}
}

// hmacSHA256 computes an HMAC-SHA256 signature of data using secret,
// returned as a lowercase hex string.
func hmacSHA256(data []byte, secret string) string {
	mac := hmac.New(sha256.New, []byte(secret))
	mac.Write(data)
	return hex.EncodeToString(mac.Sum(nil))
}
