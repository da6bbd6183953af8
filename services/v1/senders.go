package v1

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log"
	"net/http"
	"time"

	"servicecatalog-cron/models"
)

const pagerDutyEventsURL = "https://events.pagerduty.com/v2/enqueue"

// LogSender writes notifications to the log. It stands in for mail and
// ticket integrations that live outside this service.
type LogSender struct {
	Channel models.Channel
}

func (s LogSender) Send(_ context.Context, n models.Notification) error {
	log.Printf("[NOTIFY] %s -> %s | %s | %s", s.Channel, n.Destination, n.Subject, n.Message)
	return nil
}

// TeamsSender posts a MessageCard to an incoming webhook URL.
type TeamsSender struct {
	Client *http.Client
}

func (s TeamsSender) Send(ctx context.Context, n models.Notification) error {
	payload := map[string]interface{}{
		"@type":    "MessageCard",
		"@context": "https://schema.org/extensions",
		"summary":  n.Subject,
		"title":    n.Subject,
		"text":     n.Message,
	}
	return postJSON(ctx, s.Client, n.Destination, payload)
}

// PagerDutySender triggers and resolves Events API v2 alerts. The
// destination is the integration (routing) key.
type PagerDutySender struct {
	Client *http.Client
	URL    string
}

func (s PagerDutySender) Send(ctx context.Context, n models.Notification) error {
	action := "trigger"
	if n.Resolve {
		action = "resolve"
	}
	payload := map[string]interface{}{
		"routing_key":  n.Destination,
		"event_action": action,
		"dedup_key":    n.DedupKey,
	}
	if !n.Resolve {
		payload["payload"] = map[string]interface{}{
			"summary":   n.Subject,
			"source":    "servicecatalog-cron",
			"severity":  "error",
			"timestamp": time.Now().UTC().Format(time.RFC3339),
			"custom_details": map[string]string{
				"message": n.Message,
			},
		}
	}
	url := s.URL
	if url == "" {
		url = pagerDutyEventsURL
	}
	return postJSON(ctx, s.Client, url, payload)
}

func postJSON(ctx context.Context, client *http.Client, url string, payload interface{}) error {
	body, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("encode payload: %w", err)
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(body))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")

	if client == nil {
		client = http.DefaultClient
	}
	resp, err := client.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	_, _ = io.Copy(io.Discard, resp.Body)

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return fmt.Errorf("unexpected status %d", resp.StatusCode)
	}
	return nil
}

// DefaultSenders wires one sender per supported channel.
func DefaultSenders(timeout time.Duration) map[models.Channel]Sender {
	client := &http.Client{Timeout: timeout}
	return map[models.Channel]Sender{
		models.Email:     LogSender{Channel: models.Email},
		models.Ticket:    LogSender{Channel: models.Ticket},
		models.Teams:     TeamsSender{Client: client},
		models.PagerDuty: PagerDutySender{Client: client},
	}
}
