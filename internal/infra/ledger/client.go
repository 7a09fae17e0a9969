package ledger

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"math/big"
	"net/http"
	"time"

	"auction_go/internal/domain"
)

// Client is the HTTP client behind the narrow ledger read/write interface.
// The ledger node exposes contract state and relays writes; all monetary
// fields travel as smallest-unit integer strings.
type Client struct {
	baseURL    string
	httpClient *http.Client
	logger     *slog.Logger
}

// NewClient creates a ledger client for the given RPC gateway.
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
		logger: slog.Default().With("module", "ledger_client"),
	}
}

type orderResponse struct {
	Maker      string `json:"maker"`
	Token      string `json:"token"`
	Amount     string `json:"amount"`
	StartPrice string `json:"startPrice"`
	EndPrice   string `json:"endPrice"`
	Accepted   bool   `json:"accepted"`
	Fulfilled  bool   `json:"fulfilled"`
	AcceptedAt int64  `json:"acceptedTime"` // unix seconds, 0 if not accepted
}

type receiptResponse struct {
	TxHash      string `json:"txHash"`
	BlockNumber uint64 `json:"blockNumber"`
}

type acceptRequest struct {
	Price    string `json:"price"`
	Resolver string `json:"resolver"`
}

type fulfillRequest struct {
	Proof string `json:"proof"`
}

// GetOrder reads the authoritative on-chain order. Fetched fresh on every
// call; the ledger is the source of truth for price bounds.
func (c *Client) GetOrder(ctx context.Context, orderID string) (*domain.LedgerOrder, error) {
	body, err := c.doRequest(ctx, http.MethodGet, "/orders/"+orderID, nil)
	if err != nil {
		return nil, domain.NewUpstreamError("ledger.get", err)
	}

	var resp orderResponse
	if err := json.Unmarshal(body, &resp); err != nil {
		return nil, domain.NewFatalUpstreamError("ledger.get", fmt.Errorf("failed to parse order: %w", err))
	}

	amount, err := parseBigInt(resp.Amount)
	if err != nil {
		return nil, domain.NewFatalUpstreamError("ledger.get", fmt.Errorf("amount: %w", err))
	}
	startPrice, err := parseBigInt(resp.StartPrice)
	if err != nil {
		return nil, domain.NewFatalUpstreamError("ledger.get", fmt.Errorf("startPrice: %w", err))
	}
	endPrice, err := parseBigInt(resp.EndPrice)
	if err != nil {
		return nil, domain.NewFatalUpstreamError("ledger.get", fmt.Errorf("endPrice: %w", err))
	}

	order := &domain.LedgerOrder{
		Maker:      resp.Maker,
		Token:      resp.Token,
		Amount:     amount,
		StartPrice: startPrice,
		EndPrice:   endPrice,
		Accepted:   resp.Accepted,
		Fulfilled:  resp.Fulfilled,
	}
	if resp.AcceptedAt > 0 {
		order.AcceptedAt = time.Unix(resp.AcceptedAt, 0)
	}
	return order, nil
}

// AcceptOrder submits the acceptance write and waits for confirmation.
func (c *Client) AcceptOrder(ctx context.Context, orderID string, price *big.Int, resolver string) (*domain.TxReceipt, error) {
	req := acceptRequest{Price: price.String(), Resolver: resolver}
	body, err := c.doRequest(ctx, http.MethodPost, "/orders/"+orderID+"/accept", req)
	if err != nil {
		return nil, domain.NewUpstreamError("ledger.accept", err)
	}
	receipt, err := parseReceipt(body)
	if err != nil {
		return nil, domain.NewFatalUpstreamError("ledger.accept", err)
	}
	c.logger.Info("acceptance confirmed",
		slog.String("order_id", orderID), slog.String("tx", receipt.TxHash))
	return receipt, nil
}

// SubmitFulfillment submits the fulfillment proof write.
func (c *Client) SubmitFulfillment(ctx context.Context, orderID string, proof string) (*domain.TxReceipt, error) {
	req := fulfillRequest{Proof: proof}
	body, err := c.doRequest(ctx, http.MethodPost, "/orders/"+orderID+"/fulfill", req)
	if err != nil {
		return nil, domain.NewUpstreamError("ledger.fulfill", err)
	}
	receipt, err := parseReceipt(body)
	if err != nil {
		return nil, domain.NewFatalUpstreamError("ledger.fulfill", err)
	}
	c.logger.Info("fulfillment confirmed",
		slog.String("order_id", orderID), slog.String("tx", receipt.TxHash))
	return receipt, nil
}

// doRequest handles serialization and error mapping.
func (c *Client) doRequest(ctx context.Context, method, path string, body interface{}) ([]byte, error) {
	var bodyReader io.Reader
	if body != nil {
		jsonBytes, err := json.Marshal(body)
		if err != nil {
			return nil, err
		}
		bodyReader = bytes.NewBuffer(jsonBytes)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, bodyReader)
	if err != nil {
		return nil, err
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	respBody, _ := io.ReadAll(resp.Body)
	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("ledger api error: status=%d body=%s", resp.StatusCode, string(respBody))
	}
	return respBody, nil
}

func parseReceipt(body []byte) (*domain.TxReceipt, error) {
	var resp receiptResponse
	if err := json.Unmarshal(body, &resp); err != nil {
		return nil, fmt.Errorf("failed to parse receipt: %w", err)
	}
	if resp.TxHash == "" {
		return nil, fmt.Errorf("receipt has no tx hash")
	}
	return &domain.TxReceipt{TxHash: resp.TxHash, BlockNumber: resp.BlockNumber}, nil
}

func parseBigInt(s string) (*big.Int, error) {
	if s == "" {
		return big.NewInt(0), nil
	}
	v, ok := new(big.Int).SetString(s, 10)
	if !ok {
		return nil, fmt.Errorf("invalid integer %q", s)
	}
	return v, nil
}
