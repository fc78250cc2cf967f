package notify

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"
)

const defaultWebhookTimeout = 5 * time.Second

// WebhookNotifier posts each delivery as JSON to a fixed endpoint, letting an
// external bridge fan messages out to the actual chat surface.
type WebhookNotifier struct {
	URL    string
	Secret string
	Client *http.Client
}

type webhookDelivery struct {
	To      Target `json:"to"`
	Message string `json:"message"`
	Links   []Link `json:"links,omitempty"`
}

func (n WebhookNotifier) client() *http.Client {
	if n.Client != nil {
		return n.Client
	}
	return &http.Client{Timeout: defaultWebhookTimeout}
}

func (n WebhookNotifier) Send(ctx context.Context, to Target, message string, links ...Link) error {
	data, err := json.Marshal(webhookDelivery{To: to, Message: message, Links: links})
	if err != nil {
		return err
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, n.URL, bytes.NewReader(data))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")
	if strings.TrimSpace(n.Secret) != "" {
		req.Header.Set("X-Quoteflow-Secret", n.Secret)
	}
	res, err := n.client().Do(req)
	if err != nil {
		return err
	}
	defer res.Body.Close()
	if res.StatusCode < 200 || res.StatusCode >= 300 {
		body, _ := io.ReadAll(io.LimitReader(res.Body, 4096))
		return fmt.Errorf("status %d: %s", res.StatusCode, strings.TrimSpace(string(body)))
	}
	return nil
}
