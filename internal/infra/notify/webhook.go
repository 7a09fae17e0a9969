package notify

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"time"

	"auction_go/internal/domain"
)

// Webhook delivers best-effort acceptance callbacks to resolver-registered
// URLs. Delivery failure never affects order state; the caller just logs it.
type Webhook struct {
	httpClient *http.Client
	logger     *slog.Logger
}

// NewWebhook creates a webhook notifier with a short delivery timeout.
func NewWebhook() *Webhook {
	return &Webhook{
		httpClient: &http.Client{Timeout: 5 * time.Second},
		logger:     slog.Default().With("module", "notify"),
	}
}

// NotifyAccepted POSTs the ORDER_ACCEPTED notice to the callback URL.
func (w *Webhook) NotifyAccepted(ctx context.Context, callbackURL string, notice domain.AcceptedNotice) error {
	payload, err := json.Marshal(notice)
	if err != nil {
		return err
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, callbackURL, bytes.NewBuffer(payload))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := w.httpClient.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	io.Copy(io.Discard, resp.Body)

	if resp.StatusCode >= 300 {
		return fmt.Errorf("callback rejected: status=%d", resp.StatusCode)
	}

	w.logger.Debug("resolver notified",
		slog.String("order_id", notice.OrderID), slog.String("url", callbackURL))
	return nil
}
