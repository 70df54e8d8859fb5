package notify

import (
	"context"

	"github.com/ignite/campaign-engine/internal/pkg/httpretry"
	"github.com/ignite/campaign-engine/internal/pkg/logger"
)

// WebhookDispatcher POSTs events as JSON with retries. An empty URL turns
// it into a logging no-op.
type WebhookDispatcher struct {
	client *httpretry.RetryClient
	url    string
	log    *logger.Logger
}

// NewWebhookDispatcher creates a dispatcher posting to url.
func NewWebhookDispatcher(client *httpretry.RetryClient, url string) *WebhookDispatcher {
	return &WebhookDispatcher{client: client, url: url, log: logger.With("component", "notify.Webhook")}
}

// Dispatch posts e.
func (w *WebhookDispatcher) Dispatch(ctx context.Context, e Event) error {
	if w.url == "" {
		w.log.Debug("no webhook configured, skipping", "event", e.Name)
		return nil
	}
	if err := w.client.PostJSON(ctx, w.url, e); err != nil {
		return err
	}
	w.log.Info("webhook delivered", "event", e.Name)
	return nil
}
