package domain

import (
	"context"
	"math/big"
	"time"
)

// LedgerOrder is the authoritative on-chain view of an order. All monetary
// fields are smallest-unit integers.
type LedgerOrder struct {
	Maker      string
	Token      string
	Amount     *big.Int
	StartPrice *big.Int
	EndPrice   *big.Int
	Accepted   bool
	Fulfilled  bool
	AcceptedAt time.Time
}

// TxReceipt is the confirmation of a ledger write.
type TxReceipt struct {
	TxHash      string
	BlockNumber uint64
}

// Ledger is the narrow read/write interface to the smart-contract ledger.
// It is the source of truth for price bounds and acceptance state.
type Ledger interface {
	GetOrder(ctx context.Context, orderID string) (*LedgerOrder, error)
	AcceptOrder(ctx context.Context, orderID string, price *big.Int, resolver string) (*TxReceipt, error)
	SubmitFulfillment(ctx context.Context, orderID string, proof string) (*TxReceipt, error)
}

// PaymentInfo is the payment gateway's view of a completed transfer.
// Amount is in the smallest unit of the payout currency.
type PaymentInfo struct {
	Amount    *big.Int
	Status    string
	CreatedAt time.Time
}

// PaymentVerifier cross-checks an off-chain payment by its reference.
// Results are never trusted blindly against the expected amount.
type PaymentVerifier interface {
	VerifyPayment(ctx context.Context, reference string) (*PaymentInfo, error)
}

// OrderRepository is the opaque persistence collaborator. No query logic
// lives in the core; not-found lookups return (nil, nil).
type OrderRepository interface {
	Save(order *Order) error
	FindByOrderID(orderID string) (*Order, error)
	FindByTxRef(txRef string) (*Order, error)
	FindByWallet(address string, status OrderStatus, limit, skip int) ([]Order, error)
}

// AcceptedNotice is delivered to the winning resolver's callback endpoint.
type AcceptedNotice struct {
	Type            string `json:"type"` // always "ORDER_ACCEPTED"
	OrderID         string `json:"orderId"`
	ResolverAddress string `json:"resolverAddress"`
	Timestamp       int64  `json:"timestamp"`
	Details         any    `json:"details,omitempty"`
}

// Notifier delivers best-effort callbacks. Failures are logged by the caller
// and never affect order state.
type Notifier interface {
	NotifyAccepted(ctx context.Context, callbackURL string, notice AcceptedNotice) error
}
