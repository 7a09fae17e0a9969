package event

import (
	"time"

	"github.com/shopspring/decimal"
)

// Type discriminates auction lifecycle events.
type Type string

const (
	TypePriceUpdate     Type = "PRICE_UPDATE"
	TypeAuctionAccepted Type = "AUCTION_ACCEPTED"
	TypeAuctionEnded    Type = "AUCTION_ENDED"
)

// End reasons carried by AuctionEndedEvent.
const (
	ReasonTimeout   = "timeout"
	ReasonCancelled = "cancelled"
)

// Event is the common interface of auction engine emissions. Events for a
// given order are emitted in monotonically increasing timestamp order.
type Event interface {
	GetType() Type
	GetOrderID() string
	GetTs() time.Time
}

// BaseEvent carries the fields shared by all auction events.
type BaseEvent struct {
	OrderID string
	Ts      time.Time
}

func (e *BaseEvent) GetOrderID() string { return e.OrderID }
func (e *BaseEvent) GetTs() time.Time   { return e.Ts }

// PriceUpdateEvent is published on every auction tick. This is the hotpath
// event; use the pool to acquire and release instances.
type PriceUpdateEvent struct {
	BaseEvent
	Price   decimal.Decimal
	Elapsed time.Duration
}

func (e *PriceUpdateEvent) GetType() Type { return TypePriceUpdate }

// AuctionAcceptedEvent is published on the single acceptance that stops an
// auction early. Price is the frozen accepted price.
type AuctionAcceptedEvent struct {
	BaseEvent
	Price decimal.Decimal
}

func (e *AuctionAcceptedEvent) GetType() Type { return TypeAuctionAccepted }

// AuctionEndedEvent is published when an auction terminates without
// acceptance. FinalPrice equals the end price on timeout.
type AuctionEndedEvent struct {
	BaseEvent
	Reason     string
	FinalPrice decimal.Decimal
}

func (e *AuctionEndedEvent) GetType() Type { return TypeAuctionEnded }
