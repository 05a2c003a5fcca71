package notify

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"github.com/ismaiel54/trading-alert-engine/internal/dispatch"
)

// WebhookChannel POSTs alerts as JSON to a configured endpoint
// (chat integrations, app-notification providers).
type WebhookChannel struct {
	url    string
	client *http.Client
}

// NewWebhookChannel creates a webhook notification channel.
func NewWebhookChannel(url string) *WebhookChannel {
	return &WebhookChannel{
		url: url,
		client: &http.Client{
			Timeout: 5 * time.Second,
		},
	}
}

func (c *WebhookChannel) Name() string { return "webhook" }

// Send posts one alert. Any non-2xx status is a delivery failure.
func (c *WebhookChannel) Send(ctx context.Context, event dispatch.AlertEvent) error {
	body, err := json.Marshal(map[string]any{
		"alert_id":            event.ID,
		"rule_id":             event.RuleID,
		"instrument":          event.Instrument,
		"triggered_value":     event.TriggeredValue,
		"tick_ts_unix_millis": event.TickTsMillis,
	})
	if err != nil {
		return fmt.Errorf("failed to marshal alert: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.url, bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("failed to build webhook request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.client.Do(req)
	if err != nil {
		return fmt.Errorf("webhook request failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return fmt.Errorf("webhook returned status %d", resp.StatusCode)
	}
	return nil
}
