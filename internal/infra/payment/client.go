package payment

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"math/big"
	"net/http"
	"net/url"
	"time"

	"auction_go/internal/domain"
)

// Client verifies off-chain payments against the payment gateway. Results are
// only ever cross-checked, never trusted blindly against expected amounts.
type Client struct {
	baseURL    string
	httpClient *http.Client
	logger     *slog.Logger
}

// NewClient creates a payment verification client.
func NewClient(baseURL string, timeout time.Duration) *Client {
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	return &Client{
		baseURL: baseURL,
		httpClient: &http.Client{
			Timeout: timeout,
			Transport: &http.Transport{
				MaxIdleConns:    10,
				IdleConnTimeout: 30 * time.Second,
			},
		},
		logger: slog.Default().With("module", "payment_client"),
	}
}

type paymentResponse struct {
	Amount    string `json:"amount"` // smallest unit of the payout currency
	Status    string `json:"status"`
	CreatedAt int64  `json:"createdAt"` // unix milliseconds
}

// VerifyPayment fetches the gateway's view of a transfer by reference.
func (c *Client) VerifyPayment(ctx context.Context, reference string) (*domain.PaymentInfo, error) {
	reqURL := c.baseURL + "/payments/" + url.PathEscape(reference)
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, reqURL, nil)
	if err != nil {
		return nil, domain.NewFatalUpstreamError("payment.verify", err)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, domain.NewUpstreamError("payment.verify", err)
	}
	defer resp.Body.Close()

	body, _ := io.ReadAll(resp.Body)
	if resp.StatusCode != http.StatusOK {
		return nil, domain.NewUpstreamError("payment.verify",
			fmt.Errorf("payment api error: status=%d body=%s", resp.StatusCode, string(body)))
	}

	var pr paymentResponse
	if err := json.Unmarshal(body, &pr); err != nil {
		return nil, domain.NewFatalUpstreamError("payment.verify", fmt.Errorf("failed to parse payment: %w", err))
	}

	amount, ok := new(big.Int).SetString(pr.Amount, 10)
	if !ok {
		return nil, domain.NewFatalUpstreamError("payment.verify", fmt.Errorf("invalid amount %q", pr.Amount))
	}

	c.logger.Debug("payment verified",
		slog.String("reference", reference), slog.String("status", pr.Status))
	return &domain.PaymentInfo{
		Amount:    amount,
		Status:    pr.Status,
		CreatedAt: time.UnixMilli(pr.CreatedAt),
	}, nil
}
