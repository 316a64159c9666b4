// Package notify delivers structured events to the external notification
// gateway. Delivery failures are logged and swallowed by callers; losing a
// notification must never fail a backup or restore.
package notify

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"github.com/rs/zerolog"

	"github.com/preservd-dev/preservd/internal/config"
)

// EventType identifies what happened
type EventType string

const (
	EventRunComplete           EventType = "run-complete"
	EventRestoreComplete       EventType = "restore-complete"
	EventRestoreBootstrapEmpty EventType = "restore-bootstrap-empty"
)

// Event is one notification payload
type Event struct {
	Type     EventType `json:"event"`
	Severity string    `json:"severity"`
	Name     string    `json:"name"`
	Detail   string    `json:"detail"`
	Time     time.Time `json:"time"`
}

// Notifier delivers events to the gateway
type Notifier interface {
	Send(ctx context.Context, event Event) error
}

// New returns a webhook notifier, or a no-op one when no webhook is
// configured.
func New(policy config.NotifyPolicy, logger zerolog.Logger) Notifier {
	if policy.WebhookURL == "" {
		return Noop{}
	}
	return &Webhook{
		url:   policy.WebhookURL,
		token: policy.Token,
		client: &http.Client{
			Timeout: policy.Timeout.Duration,
		},
		logger: logger.With().Str("component", "notify").Logger(),
	}
}

// Noop drops every event
type Noop struct{}

// Send discards the event
func (Noop) Send(ctx context.Context, event Event) error {
	return nil
}

// Webhook posts events as JSON to a configured URL
type Webhook struct {
	url    string
	token  string
	client *http.Client
	logger zerolog.Logger
}

// Send posts one event
func (w *Webhook) Send(ctx context.Context, event Event) error {
	if event.Time.IsZero() {
		event.Time = time.Now().UTC()
	}

	payload, err := json.Marshal(event)
	if err != nil {
		return fmt.Errorf("failed to marshal event: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, w.url, bytes.NewReader(payload))
	if err != nil {
		return fmt.Errorf("failed to build notification request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	if w.token != "" {
		req.Header.Set("Authorization", "Bearer "+w.token)
	}

	resp, err := w.client.Do(req)
	if err != nil {
		return fmt.Errorf("failed to deliver notification: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return fmt.Errorf("notification gateway returned %s", resp.Status)
	}

	w.logger.Debug().
		Str("event", string(event.Type)).
		Str("name", event.Name).
		Msg("Notification delivered")

	return nil
}
