package notifier

import (
	"context"
	"encoding/json"
	"fmt"

	"nukeguard/internal/dispatcher"
)

// Webhook mirrors incidents as plain text to an incoming-webhook URL.
type Webhook struct {
	url  string
	pool *dispatcher.HTTPPool
}

func NewWebhook(url string, pool *dispatcher.HTTPPool) *Webhook {
	if url == "" {
		return nil
	}
	return &Webhook{url: url, pool: pool}
}

type webhookBody struct {
	Content string `json:"content"`
	Text    string `json:"text"`
}

func (w *Webhook) Post(ctx context.Context, text string) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	body, err := json.Marshal(webhookBody{Content: text, Text: text})
	if err != nil {
		return err
	}

	status, err := w.pool.PostJSON(w.url, body)
	if err != nil {
		return err
	}
	if status < 200 || status > 299 {
		return fmt.Errorf("webhook returned status %d", status)
	}
	return nil
}
