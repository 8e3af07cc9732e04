package publisher

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/emberwatch/emberwatch/internal/models"
)

// WebhookConfig holds webhook notifier configuration.
type WebhookConfig struct {
	URL string // Incoming webhook URL
	// Name distinguishes multiple webhook sinks on one dispatcher
	// (default: "webhook").
	Name string
}

// Validate validates the webhook configuration.
func (c *WebhookConfig) Validate() error {
	if c.URL == "" {
		return fmt.Errorf("webhook URL is required")
	}
	if !strings.HasPrefix(c.URL, "https://") {
		return fmt.Errorf("webhook URL must use HTTPS")
	}
	return nil
}

// WebhookNotifier posts alerts to a JSON webhook. The payload uses the Slack
// Block Kit shape, which Slack-compatible receivers accept directly.
type WebhookNotifier struct {
	config     WebhookConfig
	httpClient *http.Client
}

// NewWebhookNotifier creates a new webhook notifier.
func NewWebhookNotifier(config WebhookConfig) (*WebhookNotifier, error) {
	if err := config.Validate(); err != nil {
		return nil, fmt.Errorf("invalid webhook config: %w", err)
	}
	if config.Name == "" {
		config.Name = "webhook"
	}

	return &WebhookNotifier{
		config: config,
		httpClient: &http.Client{
			Timeout: 30 * time.Second,
		},
	}, nil
}

// Name returns the configured notifier name.
func (w *WebhookNotifier) Name() string {
	if w.config.Name == "" {
		return "webhook"
	}
	return w.config.Name
}

// Send posts one alert to the webhook.
func (w *WebhookNotifier) Send(ctx context.Context, alert *models.PublishedAlert) error {
	payload := w.buildPayload(alert)

	jsonData, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("failed to marshal payload: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, w.config.URL, bytes.NewReader(jsonData))
	if err != nil {
		return fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := w.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("failed to send request: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 1024))
		return fmt.Errorf("webhook error: status %d, body: %s", resp.StatusCode, string(body))
	}

	return nil
}

// Close is a no-op for the webhook notifier.
func (w *WebhookNotifier) Close() error {
	return nil
}

// webhookMessage represents the webhook payload.
type webhookMessage struct {
	Blocks []webhookBlock `json:"blocks"`
}

// webhookBlock represents one Block Kit block.
type webhookBlock struct {
	Type     string        `json:"type"`
	Text     *webhookText  `json:"text,omitempty"`
	Fields   []webhookText `json:"fields,omitempty"`
	Elements []webhookText `json:"elements,omitempty"`
}

// webhookText represents text in a Block Kit block.
type webhookText struct {
	Type  string `json:"type"`
	Text  string `json:"text"`
	Emoji bool   `json:"emoji,omitempty"`
}

// buildPayload builds the Block Kit message for one alert.
func (w *WebhookNotifier) buildPayload(alert *models.PublishedAlert) webhookMessage {
	emoji := levelEmoji(alert.Signature.Level)
	observed := alert.ObservedAt.Format("2006-01-02 15:04:05 MST")

	blocks := []webhookBlock{
		// Header
		{
			Type: "header",
			Text: &webhookText{
				Type:  "plain_text",
				Text:  fmt.Sprintf("%s Emberwatch: %s", emoji, reasonTitle(alert.Reason)),
				Emoji: true,
			},
		},
		// Level and observation time
		{
			Type: "section",
			Fields: []webhookText{
				{
					Type: "mrkdwn",
					Text: fmt.Sprintf("*Level:*\n%s %s", emoji, alert.Signature.Level),
				},
				{
					Type: "mrkdwn",
					Text: fmt.Sprintf("*Observed:*\n%s", observed),
				},
			},
		},
		// Signature message
		{
			Type: "section",
			Text: &webhookText{
				Type: "mrkdwn",
				Text: fmt.Sprintf("*Signature:*\n```%s```", truncate(alert.Signature.Message, 400)),
			},
		},
		// Occurrence count and decision reason
		{
			Type: "section",
			Fields: []webhookText{
				{
					Type: "mrkdwn",
					Text: fmt.Sprintf("*Occurrences:*\n%d", alert.OccurrenceCount),
				},
				{
					Type: "mrkdwn",
					Text: fmt.Sprintf("*Reason:*\n%s", alert.Reason),
				},
			},
		},
		// Signature key for drill-down
		{
			Type: "context",
			Elements: []webhookText{
				{
					Type: "mrkdwn",
					Text: fmt.Sprintf("signature `%s`", shortKey(alert.SignatureKey)),
				},
			},
		},
	}

	return webhookMessage{Blocks: blocks}
}

// reasonTitle renders a decision reason as a headline.
func reasonTitle(reason models.DecisionReason) string {
	switch reason {
	case models.ReasonNewSignature:
		return "New Signature"
	case models.ReasonRateSpike:
		return "Rate Spike"
	case models.ReasonVolumeThreshold:
		return "Volume Threshold"
	case models.ReasonRecurring:
		return "Recurring Error"
	default:
		return string(reason)
	}
}

// levelEmoji returns an emoji for the severity level.
func levelEmoji(level models.Level) string {
	switch level {
	case models.LevelCritical, models.LevelFatal:
		return "\U0001F534" // red circle
	case models.LevelError:
		return "\U0001F7E0" // orange circle
	case models.LevelWarning:
		return "\U0001F7E1" // yellow circle
	case models.LevelInfo, models.LevelService:
		return "\U0001F7E2" // green circle
	default:
		return "⚪" // white circle
	}
}

// truncate truncates a string to max length with ellipsis.
func truncate(s string, max int) string {
	if len(s) <= max {
		return s
	}
	return s[:max-3] + "..."
}
