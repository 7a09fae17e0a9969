package storage

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"auction_go/internal/domain"

	"github.com/glebarez/sqlite"
	"github.com/shopspring/decimal"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"
)

// OrderRecord is the persisted shape of an order. Decimal fields are stored
// as strings so no precision is lost through the database round trip.
type OrderRecord struct {
	ID         string `gorm:"primaryKey"`
	Maker      string `gorm:"index"`
	Token      string
	Amount     string
	StartPrice string
	EndPrice   string
	Payout     string
	TxRef      string `gorm:"uniqueIndex"`

	Status       string `gorm:"index"`
	AuctionStart time.Time
	AuctionEnd   time.Time
	CurrentPrice string

	AcceptedPrice string
	AcceptedBy    string `gorm:"index"`
	AcceptedAt    time.Time

	FailReason  string
	CallbackURL string
	CreatedAt   time.Time
	UpdatedAt   time.Time
}

// Storage persists orders through SQLite (pure Go driver).
type Storage struct {
	db *gorm.DB
}

// NewStorage opens (and migrates) the database at the given path.
func NewStorage(dbPath string) (*Storage, error) {
	dbDir := filepath.Dir(dbPath)
	if err := os.MkdirAll(dbDir, 0755); err != nil {
		return nil, fmt.Errorf("failed to create DB directory: %w", err)
	}

	db, err := gorm.Open(sqlite.Open(dbPath), &gorm.Config{
		Logger: logger.Default.LogMode(logger.Warn),
	})
	if err != nil {
		return nil, fmt.Errorf("failed to connect to database: %w", err)
	}

	if err := db.AutoMigrate(&OrderRecord{}); err != nil {
		return nil, fmt.Errorf("failed to migrate database: %w", err)
	}

	return &Storage{db: db}, nil
}

// Save creates or updates the order record.
func (s *Storage) Save(order *domain.Order) error {
	return s.db.Save(toRecord(order)).Error
}

// FindByOrderID retrieves an order by id. Not found is not an error.
func (s *Storage) FindByOrderID(orderID string) (*domain.Order, error) {
	var rec OrderRecord
	err := s.db.First(&rec, "id = ?", orderID).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return fromRecord(&rec)
}

// FindByTxRef retrieves an order by its on-chain transaction reference.
// Not found is not an error.
func (s *Storage) FindByTxRef(txRef string) (*domain.Order, error) {
	var rec OrderRecord
	err := s.db.First(&rec, "tx_ref = ?", txRef).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return fromRecord(&rec)
}

// FindByWallet lists orders where the address appears as maker or accepting
// resolver, newest first, optionally filtered by status.
func (s *Storage) FindByWallet(address string, status domain.OrderStatus, limit, skip int) ([]domain.Order, error) {
	if limit <= 0 {
		limit = 50
	}

	q := s.db.Where("maker = ? OR accepted_by = ?", address, address)
	if status != "" {
		q = q.Where("status = ?", string(status))
	}

	var recs []OrderRecord
	if err := q.Order("created_at DESC").Limit(limit).Offset(skip).Find(&recs).Error; err != nil {
		return nil, err
	}

	orders := make([]domain.Order, 0, len(recs))
	for i := range recs {
		o, err := fromRecord(&recs[i])
		if err != nil {
			return nil, err
		}
		orders = append(orders, *o)
	}
	return orders, nil
}

func toRecord(o *domain.Order) *OrderRecord {
	return &OrderRecord{
		ID:            o.ID,
		Maker:         o.Maker,
		Token:         o.Token,
		Amount:        o.Amount.String(),
		StartPrice:    o.StartPrice.String(),
		EndPrice:      o.EndPrice.String(),
		Payout:        o.Payout,
		TxRef:         o.TxRef,
		Status:        string(o.Status),
		AuctionStart:  o.AuctionStart,
		AuctionEnd:    o.AuctionEnd,
		CurrentPrice:  o.CurrentPrice.String(),
		AcceptedPrice: o.AcceptedPrice.String(),
		AcceptedBy:    o.AcceptedBy,
		AcceptedAt:    o.AcceptedAt,
		FailReason:    o.FailReason,
		CallbackURL:   o.CallbackURL,
		CreatedAt:     o.CreatedAt,
	}
}

func fromRecord(r *OrderRecord) (*domain.Order, error) {
	amount, err := decimal.NewFromString(r.Amount)
	if err != nil {
		return nil, fmt.Errorf("record %s: amount: %w", r.ID, err)
	}
	startPrice, err := decimal.NewFromString(r.StartPrice)
	if err != nil {
		return nil, fmt.Errorf("record %s: start price: %w", r.ID, err)
	}
	endPrice, err := decimal.NewFromString(r.EndPrice)
	if err != nil {
		return nil, fmt.Errorf("record %s: end price: %w", r.ID, err)
	}
	currentPrice, err := decimal.NewFromString(r.CurrentPrice)
	if err != nil {
		return nil, fmt.Errorf("record %s: current price: %w", r.ID, err)
	}
	acceptedPrice, err := decimal.NewFromString(r.AcceptedPrice)
	if err != nil {
		return nil, fmt.Errorf("record %s: accepted price: %w", r.ID, err)
	}

	return &domain.Order{
		ID:            r.ID,
		Maker:         r.Maker,
		Token:         r.Token,
		Amount:        amount,
		StartPrice:    startPrice,
		EndPrice:      endPrice,
		Payout:        r.Payout,
		TxRef:         r.TxRef,
		Status:        domain.OrderStatus(r.Status),
		AuctionStart:  r.AuctionStart,
		AuctionEnd:    r.AuctionEnd,
		CurrentPrice:  currentPrice,
		AcceptedPrice: acceptedPrice,
		AcceptedBy:    r.AcceptedBy,
		AcceptedAt:    r.AcceptedAt,
		FailReason:    r.FailReason,
		CallbackURL:   r.CallbackURL,
		CreatedAt:     r.CreatedAt,
	}, nil
}
