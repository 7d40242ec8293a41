package notify

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/codeready-toolchain/tarsy/pkg/capability"
	"github.com/codeready-toolchain/tarsy/pkg/events"
)

// WebhookNotifier POSTs the event as JSON to a fixed URL, retrying
// transient failures (5xx, 429, connection errors) with exponential
// backoff; 4xx is terminal (§4.5).
type WebhookNotifier struct {
	url        string
	httpClient *http.Client
	maxElapsed time.Duration
}

const (
	webhookSettingURL        = "url"
	webhookDefaultTimeout    = 10 * time.Second
	webhookDefaultMaxElapsed = 30 * time.Second
)

// ErrInvalidWebhookScheme is returned at construction when the URL scheme
// is not http or https (§8's boundary behavior: ftp:// must be rejected).
var ErrInvalidWebhookScheme = fmt.Errorf("webhook notifier: url scheme must be http or https")

// WebhookFactory constructs a WebhookNotifier, validating the URL scheme
// eagerly so a bad config fails at boot, not on first event.
func WebhookFactory(settings map[string]interface{}) (interface{}, error) {
	raw, _ := settings[webhookSettingURL].(string)
	if raw == "" {
		return nil, fmt.Errorf("webhook notifier: %q setting is required", webhookSettingURL)
	}
	parsed, err := url.Parse(raw)
	if err != nil {
		return nil, fmt.Errorf("webhook notifier: parse url: %w", err)
	}
	if parsed.Scheme != "http" && parsed.Scheme != "https" {
		return nil, ErrInvalidWebhookScheme
	}

	return capability.Notifier(&WebhookNotifier{
		url:        raw,
		httpClient: &http.Client{Timeout: webhookDefaultTimeout},
		maxElapsed: webhookDefaultMaxElapsed,
	}), nil
}

// Notify implements capability.Notifier.
func (n *WebhookNotifier) Notify(ctx context.Context, e events.Event) error {
	body, err := json.Marshal(e)
	if err != nil {
		return fmt.Errorf("marshal event: %w", err)
	}

	bo := backoff.WithContext(backoff.WithMaxElapsedTime(backoff.NewExponentialBackOff(), n.maxElapsed), ctx)

	return backoff.Retry(func() error {
		req, err := http.NewRequestWithContext(ctx, http.MethodPost, n.url, bytes.NewReader(body))
		if err != nil {
			return backoff.Permanent(fmt.Errorf("create request: %w", err))
		}
		req.Header.Set("Content-Type", "application/json")

		resp, err := n.httpClient.Do(req)
		if err != nil {
			return fmt.Errorf("post to %s: %w", n.url, err) // connection error: retryable
		}
		defer resp.Body.Close()

		switch {
		case resp.StatusCode >= 200 && resp.StatusCode < 300:
			return nil
		case resp.StatusCode == http.StatusTooManyRequests || resp.StatusCode >= 500:
			return fmt.Errorf("webhook returned HTTP %d", resp.StatusCode)
		default:
			return backoff.Permanent(fmt.Errorf("webhook returned HTTP %d", resp.StatusCode))
		}
	}, bo)
}
