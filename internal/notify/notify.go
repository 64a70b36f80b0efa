// Package notify delivers failure alerts to an external sink.
package notify

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"time"
)

// Notifier delivers a halt alert. Delivery is best-effort; failures are
// logged, never propagated to the caller.
type Notifier interface {
	Alert(ctx context.Context, reason string, fields map[string]any)
}

// Webhook posts alerts as JSON to a configured URL.
type Webhook struct {
	url    string
	client *http.Client
	logger *slog.Logger
}

// NewWebhook creates a webhook notifier.
func NewWebhook(url string, timeout time.Duration) *Webhook {
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	return &Webhook{
		url:    url,
		client: &http.Client{Timeout: timeout},
		logger: slog.With("component", "notify"),
	}
}

// Alert posts the reason and fields to the webhook.
func (w *Webhook) Alert(ctx context.Context, reason string, fields map[string]any) {
	payload := map[string]any{
		"reason": reason,
		"time":   time.Now().UTC().Format(time.RFC3339),
	}
	for k, v := range fields {
		payload[k] = v
	}

	body, err := json.Marshal(payload)
	if err != nil {
		w.logger.Warn("Failed to marshal alert", "reason", reason, "error", err)
		return
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, w.url, bytes.NewReader(body))
	if err != nil {
		w.logger.Warn("Failed to build alert request", "reason", reason, "error", err)
		return
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := w.client.Do(req)
	if err != nil {
		w.logger.Warn("Failed to deliver alert", "reason", reason, "error", err)
		return
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 300 {
		w.logger.Warn("Alert rejected", "reason", reason,
			"error", fmt.Sprintf("unexpected status %d", resp.StatusCode))
	}
}

// Nop discards all alerts.
type Nop struct{}

// Alert does nothing.
func (Nop) Alert(ctx context.Context, reason string, fields map[string]any) {}

var (
	_ Notifier = (*Webhook)(nil)
	_ Notifier = Nop{}
)
