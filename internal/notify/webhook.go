// Package notify delivers fire-and-forget user notifications. Delivery
// failures never roll back payment state.
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

const defaultTimeout = 5 * time.Second

// Webhook posts notification events as JSON to a configured endpoint.
type Webhook struct {
	url    string
	client *http.Client
}

func NewWebhook(url string) *Webhook {
	return &Webhook{
		url:    url,
		client: &http.Client{Timeout: defaultTimeout},
	}
}

type event struct {
	UserID  string         `json:"user_id"`
	Event   string         `json:"event"`
	Payload map[string]any `json:"payload"`
	SentAt  time.Time      `json:"sent_at"`
}

func (w *Webhook) Notify(ctx context.Context, userID, name string, payload map[string]any) error {
	body, err := json.Marshal(event{
		UserID:  userID,
		Event:   name,
		Payload: payload,
		SentAt:  time.Now().UTC(),
	})
	if err != nil {
		return fmt.Errorf("encode notification: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, w.url, bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("build notification request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := w.client.Do(req)
	if err != nil {
		return fmt.Errorf("send notification: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return fmt.Errorf("notification endpoint returned status %d", resp.StatusCode)
	}
	return nil
}

// Notifier is implemented by Webhook and Noop.
type Notifier interface {
	Notify(ctx context.Context, userID, event string, payload map[string]any) error
}

// Async wraps a notifier so delivery happens off the request path;
// failures are logged and dropped.
type Async struct {
	next   Notifier
	logger *slog.Logger
}

func NewAsync(next Notifier, logger *slog.Logger) *Async {
	return &Async{next: next, logger: logger}
}

func (a *Async) Notify(_ context.Context, userID, name string, payload map[string]any) error {
	go func() {
		ctx, cancel := context.WithTimeout(context.Background(), defaultTimeout)
		defer cancel()
		if err := a.next.Notify(ctx, userID, name, payload); err != nil {
			a.logger.Warn("async notification failed", "user_id", userID, "event", name, "error", err)
		}
	}()
	return nil
}

// Noop discards notifications; used in tests and when no endpoint is
// configured.
type Noop struct{}

func (Noop) Notify(context.Context, string, string, map[string]any) error {
	return nil
}
