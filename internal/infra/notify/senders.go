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

	"go.uber.org/zap"

	"github.com/negotiate-network/negotiate/internal/infra/observability"
)

// WebhookSender POSTs each message as JSON to a delivery endpoint (an email
// or SMS relay).
type WebhookSender struct {
	endpoint string
	http     *http.Client
}

// NewWebhookSender creates a sender for endpoint.
func NewWebhookSender(endpoint string, timeout time.Duration) *WebhookSender {
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	return &WebhookSender{endpoint: endpoint, http: &http.Client{Timeout: timeout}}
}

// Send implements Sender.
func (w *WebhookSender) Send(ctx context.Context, msg Message) error {
	body, err := json.Marshal(msg)
	if err != nil {
		return err
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, w.endpoint, bytes.NewReader(body))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")
	resp, err := w.http.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	io.Copy(io.Discard, io.LimitReader(resp.Body, 64<<10))
	if resp.StatusCode >= 300 {
		return fmt.Errorf("webhook %s: status %d", w.endpoint, resp.StatusCode)
	}
	return nil
}

// LogSender writes messages to the log instead of delivering them. It is
// used when no endpoint is configured for a channel.
type LogSender struct {
	log *zap.Logger
}

// NewLogSender creates a LogSender.
func NewLogSender(log *zap.Logger) *LogSender {
	return &LogSender{log: log.Named("notify.log")}
}

// Send implements Sender.
func (l *LogSender) Send(_ context.Context, msg Message) error {
	l.log.Info("notification",
		zap.String("consumer_id", msg.ConsumerID),
		zap.String("event", string(msg.Event)),
		zap.String("channel", string(msg.Channel)),
		zap.String("to", maskAddress(msg.To)))
	return nil
}

// maskAddress keeps an email's domain and a phone number's last four digits.
func maskAddress(to string) string {
	if at := strings.LastIndex(to, "@"); at > 0 {
		return "***" + to[at:]
	}
	return observability.MaskSecret(to)
}
