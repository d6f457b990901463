// Package notifier delivers alert text to a Slack incoming webhook.
package notifier

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"pricewatch/logger"
)

const sendTimeout = 10 * time.Second

// Slack posts {"text": ...} payloads to an incoming webhook
type Slack struct {
	webhookURL string
	client     *http.Client
}

// NewSlack creates a notifier. An empty webhook URL turns Send into a local log line.
func NewSlack(webhookURL string) *Slack {
	return &Slack{
		webhookURL: webhookURL,
		client:     &http.Client{Timeout: sendTimeout},
	}
}

// Enabled reports whether a webhook is configured
func (s *Slack) Enabled() bool {
	return s.webhookURL != ""
}

// Send delivers one alert
func (s *Slack) Send(ctx context.Context, text string) error {
	if !s.Enabled() {
		logger.Info("no webhook set, alert not delivered", "message", text)
		return nil
	}

	body, err := json.Marshal(map[string]string{"text": text})
	if err != nil {
		return fmt.Errorf("failed to encode slack payload: %w", err)
	}

	ctx, cancel := context.WithTimeout(ctx, sendTimeout)
	defer cancel()

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, s.webhookURL, bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("failed to create slack request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := s.client.Do(req)
	if err != nil {
		return fmt.Errorf("failed to send slack message: %w", err)
	}
	defer resp.Body.Close()
	_, _ = io.Copy(io.Discard, resp.Body)

	if resp.StatusCode >= 300 {
		return fmt.Errorf("slack webhook returned status %d", resp.StatusCode)
	}
	return nil
}
