package notify

import (
	"fmt"
	"time"

	"github.com/go-resty/resty/v2"
	"go.uber.org/zap"
)

// WebhookConfig configures the webhook channel.
type WebhookConfig struct {
	URL     string            `yaml:"url"`
	Headers map[string]string `yaml:"headers"`
	Timeout time.Duration     `yaml:"timeout"`
}

// webhookPayload is the JSON body posted for each notification.
type webhookPayload struct {
	ID             string `json:"id"`
	RecipientName  string `json:"recipient_name"`
	RecipientEmail string `json:"recipient_email"`
	Subject        string `json:"subject"`
	Body           string `json:"body"`
	IncidentID     int64  `json:"incident_id"`
	PolicyID       int64  `json:"policy_id"`
	StepIndex      int    `json:"step_index"`
}

// WebhookChannel posts notifications as JSON to an external endpoint, e.g. a
// chat bridge or paging gateway.
type WebhookChannel struct {
	client  *resty.Client
	url     string
	headers map[string]string
	log     *zap.SugaredLogger
}

// NewWebhookChannel creates the webhook channel.
func NewWebhookChannel(cfg WebhookConfig, log *zap.SugaredLogger) *WebhookChannel {
	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = 10 * time.Second
	}

	client := resty.New().
		SetTimeout(timeout).
		SetHeader("Content-Type", "application/json")

	return &WebhookChannel{
		client:  client,
		url:     cfg.URL,
		headers: cfg.Headers,
		log:     log.Named("webhook"),
	}
}

// Deliver posts the message to the configured endpoint.
func (c *WebhookChannel) Deliver(msg Message) error {
	payload := webhookPayload{
		ID:             msg.ID,
		RecipientName:  msg.RecipientName,
		RecipientEmail: msg.RecipientEmail,
		Subject:        msg.Subject,
		Body:           msg.Body,
		IncidentID:     msg.IncidentID,
		PolicyID:       msg.PolicyID,
		StepIndex:      msg.StepIndex,
	}

	req := c.client.R().SetBody(payload)
	for k, v := range c.headers {
		req.SetHeader(k, v)
	}

	resp, err := req.Post(c.url)
	if err != nil {
		c.log.Warnw("Webhook request failed",
			"id", msg.ID,
			"url", c.url,
			"error", err)
		return fmt.Errorf("posting notification to %s: %w", c.url, err)
	}
	if resp.IsError() {
		c.log.Warnw("Webhook returned error status",
			"id", msg.ID,
			"url", c.url,
			"status", resp.StatusCode())
		return fmt.Errorf("webhook %s returned status %d", c.url, resp.StatusCode())
	}

	c.log.Debugw("Webhook notification delivered",
		"id", msg.ID,
		"incidentID", msg.IncidentID,
		"status", resp.StatusCode())
	return nil
}

// Name returns the channel identifier.
func (c *WebhookChannel) Name() string { return "webhook" }
