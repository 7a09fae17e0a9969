package event

import (
	"sync"
	"time"

	"github.com/shopspring/decimal"
)

// PriceUpdateEvent fires every tick of every active auction, so it is the one
// event worth pooling to reduce GC pressure in the hotpath.
//
// Usage:
//
//	ev := AcquirePriceUpdateEvent()
//	ev.OrderID = "..."
//	// ... publish and consume ...
//	ReleasePriceUpdateEvent(ev) // return to pool after processing
var priceUpdatePool = sync.Pool{
	New: func() interface{} {
		return &PriceUpdateEvent{}
	},
}

// AcquirePriceUpdateEvent gets a PriceUpdateEvent from the pool.
// The returned event has zero values and must be initialized.
func AcquirePriceUpdateEvent() *PriceUpdateEvent {
	return priceUpdatePool.Get().(*PriceUpdateEvent)
}

// ReleasePriceUpdateEvent returns a PriceUpdateEvent to the pool.
// The event is reset to zero values before being pooled.
func ReleasePriceUpdateEvent(ev *PriceUpdateEvent) {
	if ev == nil {
		return
	}
	ev.OrderID = ""
	ev.Ts = time.Time{}
	ev.Price = decimal.Decimal{}
	ev.Elapsed = 0

	priceUpdatePool.Put(ev)
}

// Warmup pre-allocates event objects to reduce GC pressure at startup.
func Warmup() {
	const batchSize = 256

	evs := make([]*PriceUpdateEvent, 0, batchSize)
	for i := 0; i < batchSize; i++ {
		evs = append(evs, AcquirePriceUpdateEvent())
	}
	for _, ev := range evs {
		ReleasePriceUpdateEvent(ev)
	}
}
