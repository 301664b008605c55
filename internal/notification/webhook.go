package notification

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"altregime/internal/model"
)

// WebhookBackend POSTs alerts as JSON to a generic HTTP endpoint.
type WebhookBackend struct {
	url    string
	client *http.Client
}

// NewWebhookBackend creates a webhook backend targeting url.
func NewWebhookBackend(url string) *WebhookBackend {
	return &WebhookBackend{
		url:    url,
		client: &http.Client{Timeout: sendTimeout},
	}
}

func (w *WebhookBackend) Name() string { return "webhook" }

func (w *WebhookBackend) Send(ctx context.Context, d model.Divergence) error {
	payload := map[string]any{
		"divergence": d,
		"text":       alertText(d),
		"ts":         time.Now().UTC().Format(time.RFC3339Nano),
	}
	body, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("webhook marshal: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, w.url, bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("webhook request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := w.client.Do(req)
	if err != nil {
		return fmt.Errorf("webhook send: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return fmt.Errorf("webhook status %d", resp.StatusCode)
	}
	return nil
}
