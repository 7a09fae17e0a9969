package service

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"auction_go/internal/domain"
	"auction_go/internal/engine"
	"auction_go/internal/event"
	"auction_go/internal/infra"

	"github.com/ethereum/go-ethereum/common"
	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

const (
	// PayoutDecimals is the smallest-unit scale of the off-chain payout
	// currency used when cross-checking payments.
	PayoutDecimals = 2

	notifyTimeout = 5 * time.Second
)

// acceptedPaymentStatuses is the set of gateway statuses that count as a
// completed payment.
var acceptedPaymentStatuses = map[string]bool{
	"SUCCESS":   true,
	"COMPLETED": true,
}

// CreateParams is the maker-facing intake for a new order.
type CreateParams struct {
	ID          string // optional; generated when empty
	Maker       string
	Token       string
	Amount      string
	StartPrice  string
	EndPrice    string
	Payout      string
	TxRef       string
	CallbackURL string
}

// OrderService is the order state machine. It owns the in-memory order set,
// serializes accept/fulfill per order id, and enforces the at-most-one-
// acceptance invariant together with the auction engine.
type OrderService struct {
	engine   *engine.Engine
	ledger   domain.Ledger
	payments domain.PaymentVerifier
	repo     domain.OrderRepository
	notifier domain.Notifier
	metrics  *infra.Metrics
	logger   *slog.Logger

	keys *keyedMutex

	mu     sync.RWMutex
	orders map[string]*domain.Order

	maxDuration time.Duration
}

// NewOrderService wires the state machine to its collaborators.
func NewOrderService(
	eng *engine.Engine,
	ledger domain.Ledger,
	payments domain.PaymentVerifier,
	repo domain.OrderRepository,
	notifier domain.Notifier,
	metrics *infra.Metrics,
	maxDuration time.Duration,
) *OrderService {
	if maxDuration <= 0 {
		maxDuration = 10 * time.Minute
	}
	return &OrderService{
		engine:      eng,
		ledger:      ledger,
		payments:    payments,
		repo:        repo,
		notifier:    notifier,
		metrics:     metrics,
		logger:      slog.Default().With("module", "order_service"),
		keys:        newKeyedMutex(),
		orders:      make(map[string]*domain.Order),
		maxDuration: maxDuration,
	}
}

// Run consumes auction engine events until the context ends. It MUST run so
// terminal auction events (timeouts) reach the order lifecycle.
func (s *OrderService) Run(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			return
		case ev := <-s.engine.Events():
			s.handleEvent(ev)
		}
	}
}

func (s *OrderService) handleEvent(ev event.Event) {
	switch e := ev.(type) {
	case *event.PriceUpdateEvent:
		s.mu.Lock()
		if order, ok := s.orders[e.OrderID]; ok && order.Status == domain.StatusAuctionActive {
			order.CurrentPrice = e.Price
		}
		s.mu.Unlock()
		event.ReleasePriceUpdateEvent(e)
	case *event.AuctionEndedEvent:
		if e.Reason == event.ReasonTimeout {
			s.expireOrder(e.OrderID, e.FinalPrice)
		}
	case *event.AuctionAcceptedEvent:
		// The acceptance path already transitioned the order.
		s.logger.Debug("auction accepted",
			slog.String("order_id", e.OrderID), slog.String("price", e.Price.String()))
	}
}

// CreateOrder validates the intake and registers a new order in state CREATED.
func (s *OrderService) CreateOrder(params CreateParams) (*domain.Order, error) {
	if !common.IsHexAddress(params.Maker) {
		return nil, domain.Validationf("maker", "not a 20-byte hex address: %q", params.Maker)
	}
	if !common.IsHexAddress(params.Token) {
		return nil, domain.Validationf("token", "not a 20-byte hex address: %q", params.Token)
	}
	if params.Payout == "" {
		return nil, domain.Validationf("payout", "required")
	}
	if params.TxRef == "" {
		return nil, domain.Validationf("txRef", "required")
	}

	amount, err := decimal.NewFromString(params.Amount)
	if err != nil || amount.Sign() <= 0 {
		return nil, domain.Validationf("amount", "must be a positive decimal, got %q", params.Amount)
	}
	startPrice, err := decimal.NewFromString(params.StartPrice)
	if err != nil || startPrice.Sign() <= 0 {
		return nil, domain.Validationf("startPrice", "must be a positive decimal, got %q", params.StartPrice)
	}
	endPrice, err := decimal.NewFromString(params.EndPrice)
	if err != nil || endPrice.Sign() <= 0 {
		return nil, domain.Validationf("endPrice", "must be a positive decimal, got %q", params.EndPrice)
	}
	if startPrice.LessThan(endPrice) {
		return nil, domain.Validationf("startPrice", "must be >= endPrice")
	}

	orderID := params.ID
	if orderID == "" {
		orderID = uuid.NewString()
	}

	// Serialize the uniqueness check and the insert per order id so two
	// concurrent creates with the same id cannot both pass the check.
	unlock := s.keys.Lock(orderID)
	defer unlock()

	if existing, err := s.getOrder(orderID); err == nil && existing != nil {
		return nil, domain.ErrDuplicateOrder
	}
	if byRef, err := s.repo.FindByTxRef(params.TxRef); err != nil {
		return nil, domain.NewUpstreamError("repo.findByTxRef", err)
	} else if byRef != nil {
		return nil, domain.ErrDuplicateOrder
	}

	order := &domain.Order{
		ID:           orderID,
		Maker:        params.Maker,
		Token:        params.Token,
		Amount:       amount,
		StartPrice:   startPrice,
		EndPrice:     endPrice,
		Payout:       params.Payout,
		TxRef:        params.TxRef,
		Status:       domain.StatusCreated,
		CurrentPrice: startPrice,
		CallbackURL:  params.CallbackURL,
		CreatedAt:    time.Now(),
	}

	s.mu.Lock()
	s.orders[orderID] = order
	s.mu.Unlock()
	s.persist(order)

	s.logger.Info("order created",
		slog.String("order_id", orderID), slog.String("maker", params.Maker))
	return s.snapshot(orderID)
}

// StartAuction begins the decaying price band. Legal only from CREATED.
func (s *OrderService) StartAuction(orderID string, duration time.Duration) (*domain.Order, error) {
	unlock := s.keys.Lock(orderID)
	defer unlock()

	order, err := s.getOrder(orderID)
	if err != nil {
		return nil, err
	}
	if order.Status != domain.StatusCreated {
		if order.Status == domain.StatusAuctionActive {
			return nil, domain.ErrAuctionAlreadyActive
		}
		return nil, domain.NewStateConflict("startAuction", order.Status)
	}
	if duration <= 0 || duration > s.maxDuration {
		return nil, domain.Validationf("duration", "must be in (0, %s], got %s", s.maxDuration, duration)
	}

	if err := s.engine.StartAuction(orderID, order.StartPrice, order.EndPrice, duration); err != nil {
		return nil, err
	}

	now := time.Now()
	s.mu.Lock()
	order.Status = domain.StatusAuctionActive
	order.AuctionStart = now
	order.AuctionEnd = now.Add(duration)
	order.CurrentPrice = order.StartPrice
	s.mu.Unlock()
	s.persist(order)

	return s.snapshot(orderID)
}

// AcceptOrder is the critical at-most-once acceptance path. The auction
// engine resolves the race first; the ledger bound is then re-validated
// fresh, the acceptance is written on-chain, and only after confirmation is
// the order transitioned. A ledger failure after the auction stopped leaves
// the order in AUCTION_ACTIVE with the failure surfaced, reconcilable by
// re-reading ledger state.
func (s *OrderService) AcceptOrder(ctx context.Context, orderID, resolver string, price decimal.Decimal) (*domain.Order, error) {
	if !common.IsHexAddress(resolver) {
		return nil, domain.Validationf("resolver", "not a 20-byte hex address: %q", resolver)
	}
	if price.Sign() <= 0 {
		return nil, domain.Validationf("price", "must be positive, got %s", price)
	}

	unlock := s.keys.Lock(orderID)
	defer unlock()

	order, err := s.getOrder(orderID)
	if err != nil {
		return nil, err
	}
	switch order.Status {
	case domain.StatusAuctionActive:
	case domain.StatusAccepted, domain.StatusFulfilled:
		return nil, domain.ErrAlreadyAccepted
	default:
		return nil, domain.NewStateConflict("accept", order.Status)
	}

	// (a) stop the auction; losing here means another acceptance won.
	if err := s.engine.Accept(orderID, price); err != nil {
		return nil, domain.ErrAlreadyAccepted
	}

	// (b) re-validate against the authoritative bound, fetched fresh.
	ledgerOrder, err := s.ledger.GetOrder(ctx, orderID)
	if err != nil {
		return nil, err
	}
	if ledgerOrder.Accepted {
		return nil, domain.ErrAlreadyAccepted
	}
	priceUnits := domain.ToSmallestUnit(price, domain.TokenDecimals)
	if priceUnits.Cmp(ledgerOrder.EndPrice) < 0 || priceUnits.Cmp(ledgerOrder.StartPrice) > 0 {
		return nil, &domain.StateConflictError{
			Op:   fmt.Sprintf("accept at %s: outside ledger bounds [%s, %s]", price, ledgerOrder.EndPrice, ledgerOrder.StartPrice),
			From: order.Status,
		}
	}

	// (c) submit the acceptance write and await confirmation.
	receipt, err := s.ledger.AcceptOrder(ctx, orderID, priceUnits, resolver)
	if err != nil {
		return nil, err
	}

	// (d) transition only after ledger confirmation.
	now := time.Now()
	s.mu.Lock()
	order.Status = domain.StatusAccepted
	order.AcceptedPrice = price
	order.AcceptedBy = resolver
	order.AcceptedAt = now
	order.CurrentPrice = price
	callbackURL := order.CallbackURL
	s.mu.Unlock()
	s.persist(order)

	s.logger.Info("order accepted",
		slog.String("order_id", orderID),
		slog.String("resolver", resolver),
		slog.String("price", price.String()),
		slog.String("tx", receipt.TxHash))

	// (e) best-effort notification; failure never rolls back acceptance.
	if callbackURL != "" && s.notifier != nil {
		go s.notifyAccepted(callbackURL, orderID, resolver, now)
	}

	return s.snapshot(orderID)
}

func (s *OrderService) notifyAccepted(callbackURL, orderID, resolver string, at time.Time) {
	ctx, cancel := context.WithTimeout(context.Background(), notifyTimeout)
	defer cancel()

	notice := domain.AcceptedNotice{
		Type:            "ORDER_ACCEPTED",
		OrderID:         orderID,
		ResolverAddress: resolver,
		Timestamp:       at.UnixMilli(),
	}
	if err := s.notifier.NotifyAccepted(ctx, callbackURL, notice); err != nil {
		s.logger.Warn("resolver notification failed",
			slog.String("order_id", orderID), slog.Any("error", err))
	}
}

// FulfillOrder verifies the off-chain payment and records fulfillment.
// Legal only from ACCEPTED; every failed check is a typed error that leaves
// the order in ACCEPTED (retryable).
func (s *OrderService) FulfillOrder(ctx context.Context, orderID, paymentRef string) (*domain.Order, error) {
	if paymentRef == "" {
		return nil, domain.Validationf("paymentRef", "required")
	}

	unlock := s.keys.Lock(orderID)
	defer unlock()

	order, err := s.getOrder(orderID)
	if err != nil {
		return nil, err
	}
	if order.Status != domain.StatusAccepted {
		return nil, domain.NewStateConflict("fulfill", order.Status)
	}

	// (a) confirm acceptance against the ledger, not local state alone.
	ledgerOrder, err := s.ledger.GetOrder(ctx, orderID)
	if err != nil {
		return nil, err
	}
	if !ledgerOrder.Accepted {
		return nil, domain.Validationf("ledger", "order %s not accepted on ledger", orderID)
	}

	// (b) verify the payment with the gateway.
	payment, err := s.payments.VerifyPayment(ctx, paymentRef)
	if err != nil {
		return nil, err
	}

	// (c) cross-check amount (exact), status, and timing.
	expected := domain.ExpectedPayment(order.AcceptedPrice, order.Amount, PayoutDecimals)
	if payment.Amount.Cmp(expected) != 0 {
		return nil, domain.Validationf("amount", "paid %s, expected %s", payment.Amount, expected)
	}
	if !acceptedPaymentStatuses[payment.Status] {
		return nil, domain.Validationf("status", "payment status %q not accepted", payment.Status)
	}
	if !payment.CreatedAt.After(order.AcceptedAt) {
		return nil, domain.Validationf("timestamp", "payment at %s not after acceptance at %s",
			payment.CreatedAt.Format(time.RFC3339), order.AcceptedAt.Format(time.RFC3339))
	}

	// (d) submit the fulfillment proof.
	receipt, err := s.ledger.SubmitFulfillment(ctx, orderID, paymentRef)
	if err != nil {
		return nil, err
	}

	// (e) transition on confirmation.
	s.mu.Lock()
	order.Status = domain.StatusFulfilled
	s.mu.Unlock()
	s.persist(order)

	if s.metrics != nil {
		s.metrics.RecordOrderFulfilled()
	}
	s.logger.Info("order fulfilled",
		slog.String("order_id", orderID), slog.String("tx", receipt.TxHash))
	return s.snapshot(orderID)
}

// CancelOrder fails an order on maker request. Legal from CREATED and
// AUCTION_ACTIVE.
func (s *OrderService) CancelOrder(orderID string) (*domain.Order, error) {
	unlock := s.keys.Lock(orderID)
	defer unlock()

	order, err := s.getOrder(orderID)
	if err != nil {
		return nil, err
	}
	switch order.Status {
	case domain.StatusCreated:
	case domain.StatusAuctionActive:
		// The auction may have just expired on its own; either way the
		// engine no longer runs it.
		if err := s.engine.Stop(orderID, event.ReasonCancelled); err != nil && err != domain.ErrAuctionNotActive {
			return nil, err
		}
	default:
		return nil, domain.NewStateConflict("cancel", order.Status)
	}

	s.mu.Lock()
	order.Status = domain.StatusFailed
	order.FailReason = "cancelled by maker"
	s.mu.Unlock()
	s.persist(order)

	s.logger.Info("order cancelled", slog.String("order_id", orderID))
	return s.snapshot(orderID)
}

// GetOrder returns an order snapshot. For active auctions the current price
// is computed from elapsed time, not from the last tick.
func (s *OrderService) GetOrder(orderID string) (*domain.Order, error) {
	snap, err := s.snapshot(orderID)
	if err != nil {
		return nil, err
	}
	if snap.Status == domain.StatusAuctionActive {
		if status, ok := s.engine.GetActiveAuction(orderID); ok {
			snap.CurrentPrice = status.Price
		}
	}
	return snap, nil
}

// ListByWallet queries the persistence collaborator for orders touching the
// given address.
func (s *OrderService) ListByWallet(address string, status domain.OrderStatus, limit, skip int) ([]domain.Order, error) {
	if !common.IsHexAddress(address) {
		return nil, domain.Validationf("address", "not a 20-byte hex address: %q", address)
	}
	orders, err := s.repo.FindByWallet(address, status, limit, skip)
	if err != nil {
		return nil, domain.NewUpstreamError("repo.findByWallet", err)
	}
	return orders, nil
}

// expireOrder handles the auction timeout path: no acceptance arrived, the
// order fails terminally with the end price as its last quote.
func (s *OrderService) expireOrder(orderID string, finalPrice decimal.Decimal) {
	unlock := s.keys.Lock(orderID)
	defer unlock()

	order, err := s.getOrder(orderID)
	if err != nil || order.Status != domain.StatusAuctionActive {
		return
	}

	s.mu.Lock()
	order.Status = domain.StatusFailed
	order.FailReason = "auction expired"
	order.CurrentPrice = finalPrice
	s.mu.Unlock()
	s.persist(order)

	s.logger.Info("order expired", slog.String("order_id", orderID))
}

// getOrder resolves an order from memory, falling back to the repository.
// Must be called with the order's key lock held for mutating flows.
func (s *OrderService) getOrder(orderID string) (*domain.Order, error) {
	s.mu.RLock()
	order, ok := s.orders[orderID]
	s.mu.RUnlock()
	if ok {
		return order, nil
	}

	stored, err := s.repo.FindByOrderID(orderID)
	if err != nil {
		return nil, domain.NewUpstreamError("repo.findByOrderId", err)
	}
	if stored == nil {
		return nil, domain.ErrOrderNotFound
	}

	s.mu.Lock()
	if cached, ok := s.orders[orderID]; ok {
		stored = cached
	} else {
		s.orders[orderID] = stored
	}
	s.mu.Unlock()
	return stored, nil
}

// snapshot returns a copy safe to hand to callers.
func (s *OrderService) snapshot(orderID string) (*domain.Order, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	order, ok := s.orders[orderID]
	if !ok {
		return nil, domain.ErrOrderNotFound
	}
	cp := *order
	return &cp, nil
}

// persist mirrors the order to the repository. Persistence is a collaborator
// mirror, not the authority; failures are logged and surfaced via metrics.
func (s *OrderService) persist(order *domain.Order) {
	s.mu.RLock()
	cp := *order
	s.mu.RUnlock()
	if err := s.repo.Save(&cp); err != nil {
		if s.metrics != nil {
			s.metrics.RecordError()
		}
		s.logger.Error("failed to persist order",
			slog.String("order_id", cp.ID), slog.Any("error", err))
	}
}
