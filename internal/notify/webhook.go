package notify

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/go-resty/resty/v2"
)

// WebhookSender POSTs each event as JSON to a single URL.
type WebhookSender struct {
	client *resty.Client
	url    string
}

func NewWebhookSender(url string, timeout time.Duration) *WebhookSender {
	if timeout <= 0 {
		timeout = 5 * time.Second
	}
	client := resty.New().
		SetTimeout(timeout).
		SetRetryCount(2).
		SetRetryWaitTime(500*time.Millisecond).
		SetRetryMaxWaitTime(2*time.Second).
		SetHeader("Content-Type", "application/json")
	return &WebhookSender{client: client, url: url}
}

func (s *WebhookSender) Send(ctx context.Context, evt Event) error {
	resp, err := s.client.R().
		SetContext(ctx).
		SetHeader("X-Refurbline-Event", evt.Type).
		SetBody(evt).
		Post(s.url)
	if err != nil {
		return fmt.Errorf("post %s: %w", s.url, err)
	}
	if resp.IsError() {
		return fmt.Errorf("post %s: status %d: %s", s.url, resp.StatusCode(), strings.TrimSpace(resp.String()))
	}
	return nil
}
