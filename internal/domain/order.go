package domain

import (
	"time"

	"github.com/shopspring/decimal"
)

// Order represents a maker order moving through the brokered lifecycle.
// Prices are 18-digit fixed-point decimals; Amount is the token amount kept
// as a decimal to avoid floating-point loss.
type Order struct {
	ID         string
	Maker      string // 20-byte hex address
	Token      string // 20-byte hex address of the resolver-facing token
	Amount     decimal.Decimal
	StartPrice decimal.Decimal
	EndPrice   decimal.Decimal
	Payout     string // off-chain payout destination
	TxRef      string // on-chain transaction reference, unique per order

	Status       OrderStatus
	AuctionStart time.Time
	AuctionEnd   time.Time
	CurrentPrice decimal.Decimal

	AcceptedPrice decimal.Decimal
	AcceptedBy    string
	AcceptedAt    time.Time

	FailReason string

	CallbackURL string // resolver notification endpoint, optional
	CreatedAt   time.Time
}

// OrderStatus is the lifecycle state of an order.
type OrderStatus string

const (
	StatusCreated       OrderStatus = "CREATED"
	StatusAuctionActive OrderStatus = "AUCTION_ACTIVE"
	StatusAccepted      OrderStatus = "ACCEPTED"
	StatusFulfilled     OrderStatus = "FULFILLED"
	StatusFailed        OrderStatus = "FAILED"
)

// IsTerminal reports whether the order can no longer transition.
func (o *Order) IsTerminal() bool {
	return o.Status == StatusFulfilled || o.Status == StatusFailed
}

// IsOpen reports whether the order is still waiting for a resolver.
func (o *Order) IsOpen() bool {
	return o.Status == StatusCreated || o.Status == StatusAuctionActive
}
