package engine

import (
	"log/slog"
	"sync"
	"time"

	"auction_go/internal/domain"
	"auction_go/internal/event"
	"auction_go/internal/infra"

	"github.com/shopspring/decimal"
)

const (
	// DefaultTickInterval is how often an active auction recomputes and
	// publishes its price.
	DefaultTickInterval = 50 * time.Millisecond

	defaultOutboxSize = 1024
)

// auction is the ephemeral per-order state owned exclusively by the Engine
// while active. It is removed on timeout, acceptance, or cancellation and
// never persisted.
type auction struct {
	orderID    string
	startedAt  time.Time
	duration   time.Duration
	startPrice decimal.Decimal
	endPrice   decimal.Decimal
	lastPrice  decimal.Decimal
	stop       chan struct{}
}

// Status is a read-only snapshot of an active auction. Price and Progress are
// computed from elapsed time on demand, not from the last tick, so queries
// between ticks are accurate.
type Status struct {
	OrderID    string
	Price      decimal.Decimal
	Progress   decimal.Decimal
	Remaining  time.Duration
	StartedAt  time.Time
	Duration   time.Duration
	StartPrice decimal.Decimal
	EndPrice   decimal.Decimal
}

// Engine owns one timer lifecycle per active auction and is the single
// authority over the active set: start, accept and timeout for the same order
// id are serialized behind one mutex, so "already removed" races resolve
// deterministically to ErrAuctionNotActive.
type Engine struct {
	mu     sync.Mutex
	active map[string]*auction
	closed bool

	outbox  chan event.Event
	tick    time.Duration
	metrics *infra.Metrics
	logger  *slog.Logger
	wg      sync.WaitGroup
}

// NewEngine creates an auction engine publishing to an internal outbox.
// The consumer must drain Events(); terminal events are never dropped.
func NewEngine(tick time.Duration, metrics *infra.Metrics) *Engine {
	if tick <= 0 {
		tick = DefaultTickInterval
	}
	return &Engine{
		active:  make(map[string]*auction),
		outbox:  make(chan event.Event, defaultOutboxSize),
		tick:    tick,
		metrics: metrics,
		logger:  slog.Default().With("module", "auction_engine"),
	}
}

// Events returns the stream of price updates and terminal auction events.
// Events for a given order are monotonically time-ordered.
func (e *Engine) Events() <-chan event.Event {
	return e.outbox
}

// StartAuction registers a decaying price band for the order and starts its
// tick and deadline timers. Fails with ErrAuctionAlreadyActive if an auction
// for the order already exists.
func (e *Engine) StartAuction(orderID string, startPrice, endPrice decimal.Decimal, duration time.Duration) error {
	if duration <= 0 {
		return domain.Validationf("duration", "must be positive, got %s", duration)
	}
	if startPrice.LessThan(endPrice) {
		return domain.Validationf("startPrice", "must be >= endPrice")
	}

	e.mu.Lock()
	if e.closed {
		e.mu.Unlock()
		return domain.ErrConnectionClosed
	}
	if _, exists := e.active[orderID]; exists {
		e.mu.Unlock()
		return domain.ErrAuctionAlreadyActive
	}

	a := &auction{
		orderID:    orderID,
		startedAt:  time.Now(),
		duration:   duration,
		startPrice: startPrice,
		endPrice:   endPrice,
		lastPrice:  startPrice,
		stop:       make(chan struct{}),
	}
	e.active[orderID] = a
	e.wg.Add(1)
	e.mu.Unlock()

	go e.run(a)

	if e.metrics != nil {
		e.metrics.RecordAuctionStarted()
	}
	e.logger.Info("auction started",
		slog.String("order_id", orderID),
		slog.String("start_price", startPrice.String()),
		slog.String("end_price", endPrice.String()),
		slog.Duration("duration", duration))
	return nil
}

// Accept stops the auction early at the given price. This is the ONLY path
// that preempts a running auction; it is atomic with respect to the timeout
// so a tie resolves to exactly one winner. Fails with ErrAuctionNotActive if
// the auction is gone or never existed.
func (e *Engine) Accept(orderID string, price decimal.Decimal) error {
	e.mu.Lock()
	a, ok := e.active[orderID]
	if !ok {
		e.mu.Unlock()
		return domain.ErrAuctionNotActive
	}
	delete(e.active, orderID)
	close(a.stop)
	e.mu.Unlock()

	e.outbox <- &event.AuctionAcceptedEvent{
		BaseEvent: event.BaseEvent{OrderID: orderID, Ts: time.Now()},
		Price:     price,
	}
	if e.metrics != nil {
		e.metrics.RecordAuctionAccepted()
	}
	return nil
}

// Stop cancels the auction without acceptance, publishing an AuctionEnded
// event with the given reason. Used for maker-initiated cancellation.
func (e *Engine) Stop(orderID, reason string) error {
	e.mu.Lock()
	a, ok := e.active[orderID]
	if !ok {
		e.mu.Unlock()
		return domain.ErrAuctionNotActive
	}
	delete(e.active, orderID)
	close(a.stop)
	lastPrice := a.lastPrice
	e.mu.Unlock()

	e.outbox <- &event.AuctionEndedEvent{
		BaseEvent:  event.BaseEvent{OrderID: orderID, Ts: time.Now()},
		Reason:     reason,
		FinalPrice: lastPrice,
	}
	return nil
}

// GetActiveAuction returns a snapshot of the auction, or (nil, false) when no
// auction is active for the order. The zero result is a normal outcome, not
// an error.
func (e *Engine) GetActiveAuction(orderID string) (*Status, bool) {
	e.mu.Lock()
	a, ok := e.active[orderID]
	if !ok {
		e.mu.Unlock()
		return nil, false
	}
	startedAt := a.startedAt
	duration := a.duration
	startPrice := a.startPrice
	endPrice := a.endPrice
	e.mu.Unlock()

	elapsed := time.Since(startedAt)
	remaining := duration - elapsed
	if remaining < 0 {
		remaining = 0
	}
	progress := decimal.NewFromInt(int64(elapsed)).
		DivRound(decimal.NewFromInt(int64(duration)), curvePrecision)
	if progress.GreaterThan(decimal.NewFromInt(1)) {
		progress = decimal.NewFromInt(1)
	}

	return &Status{
		OrderID:    orderID,
		Price:      Price(elapsed, duration, startPrice, endPrice),
		Progress:   progress,
		Remaining:  remaining,
		StartedAt:  startedAt,
		Duration:   duration,
		StartPrice: startPrice,
		EndPrice:   endPrice,
	}, true
}

// ActiveCount returns the number of currently running auctions.
func (e *Engine) ActiveCount() int {
	e.mu.Lock()
	defer e.mu.Unlock()
	return len(e.active)
}

// Close stops all auctions and waits for their timers to exit. No events are
// published for auctions torn down this way.
func (e *Engine) Close() {
	e.mu.Lock()
	e.closed = true
	for id, a := range e.active {
		close(a.stop)
		delete(e.active, id)
	}
	e.mu.Unlock()
	e.wg.Wait()
}

// run is the per-auction timer loop: one tick source and one exact deadline.
func (e *Engine) run(a *auction) {
	defer e.wg.Done()

	ticker := time.NewTicker(e.tick)
	defer ticker.Stop()
	deadline := time.NewTimer(a.duration)
	defer deadline.Stop()

	for {
		select {
		case <-a.stop:
			return
		case <-deadline.C:
			e.expire(a)
			return
		case now := <-ticker.C:
			e.publishTick(a, now)
		}
	}
}

// publishTick recomputes the price and publishes it. Price updates may be
// dropped under backpressure; the snapshot path stays accurate regardless.
func (e *Engine) publishTick(a *auction, now time.Time) {
	elapsed := now.Sub(a.startedAt)
	price := Price(elapsed, a.duration, a.startPrice, a.endPrice)

	e.mu.Lock()
	if _, ok := e.active[a.orderID]; !ok {
		e.mu.Unlock()
		return
	}
	a.lastPrice = price
	e.mu.Unlock()

	ev := event.AcquirePriceUpdateEvent()
	ev.OrderID = a.orderID
	ev.Ts = now
	ev.Price = price
	ev.Elapsed = elapsed

	select {
	case e.outbox <- ev:
	default: // DROP
		event.ReleasePriceUpdateEvent(ev)
	}
}

// expire handles the deadline firing. If acceptance already removed the
// auction the expiry loses the tie and nothing is published.
func (e *Engine) expire(a *auction) {
	e.mu.Lock()
	if _, ok := e.active[a.orderID]; !ok {
		e.mu.Unlock()
		return
	}
	delete(e.active, a.orderID)
	a.lastPrice = a.endPrice
	e.mu.Unlock()

	e.outbox <- &event.AuctionEndedEvent{
		BaseEvent:  event.BaseEvent{OrderID: a.orderID, Ts: time.Now()},
		Reason:     event.ReasonTimeout,
		FinalPrice: a.endPrice,
	}
	if e.metrics != nil {
		e.metrics.RecordAuctionExpired()
	}
	e.logger.Info("auction timed out",
		slog.String("order_id", a.orderID),
		slog.String("final_price", a.endPrice.String()))
}
