package storage

import (
	"path/filepath"
	"testing"
	"time"

	"auction_go/internal/domain"

	"github.com/shopspring/decimal"
)

func newTestStorage(t *testing.T) *Storage {
	t.Helper()
	s, err := NewStorage(filepath.Join(t.TempDir(), "broker.db"))
	if err != nil {
		t.Fatalf("Failed to open storage: %v", err)
	}
	return s
}

func testOrder(id, txRef string) *domain.Order {
	return &domain.Order{
		ID:            id,
		Maker:         "0x1111111111111111111111111111111111111111",
		Token:         "0x2222222222222222222222222222222222222222",
		Amount:        decimal.RequireFromString("2.5"),
		StartPrice:    decimal.RequireFromString("100.123456789012345678"),
		EndPrice:      decimal.NewFromInt(95),
		Payout:        "acct:payee-1",
		TxRef:         txRef,
		Status:        domain.StatusCreated,
		CurrentPrice:  decimal.RequireFromString("100.123456789012345678"),
		AcceptedPrice: decimal.Zero,
		CreatedAt:     time.Now().Truncate(time.Millisecond),
	}
}

func TestStorage_SaveAndFind(t *testing.T) {
	s := newTestStorage(t)
	order := testOrder("ord-1", "0xtx-1")

	if err := s.Save(order); err != nil {
		t.Fatalf("Save failed: %v", err)
	}

	got, err := s.FindByOrderID("ord-1")
	if err != nil {
		t.Fatalf("FindByOrderID failed: %v", err)
	}
	if got == nil {
		t.Fatal("Expected a stored order")
	}
	// 18-digit prices must survive the round trip exactly.
	if !got.StartPrice.Equal(order.StartPrice) {
		t.Errorf("Start price lost precision: %s vs %s", got.StartPrice, order.StartPrice)
	}
	if !got.Amount.Equal(order.Amount) || got.TxRef != order.TxRef {
		t.Errorf("Round trip mismatch: %+v", got)
	}
}

func TestStorage_NotFoundIsNil(t *testing.T) {
	s := newTestStorage(t)

	got, err := s.FindByOrderID("missing")
	if err != nil {
		t.Fatalf("Unexpected error: %v", err)
	}
	if got != nil {
		t.Error("Expected nil for unknown order")
	}

	got, err = s.FindByTxRef("0xmissing")
	if err != nil {
		t.Fatalf("Unexpected error: %v", err)
	}
	if got != nil {
		t.Error("Expected nil for unknown tx ref")
	}
}

func TestStorage_SaveIsUpsert(t *testing.T) {
	s := newTestStorage(t)
	order := testOrder("ord-2", "0xtx-2")
	if err := s.Save(order); err != nil {
		t.Fatalf("Save failed: %v", err)
	}

	order.Status = domain.StatusAccepted
	order.AcceptedBy = "0x3333333333333333333333333333333333333333"
	order.AcceptedPrice = decimal.RequireFromString("97.5")
	if err := s.Save(order); err != nil {
		t.Fatalf("Second save failed: %v", err)
	}

	got, err := s.FindByOrderID("ord-2")
	if err != nil {
		t.Fatalf("FindByOrderID failed: %v", err)
	}
	if got.Status != domain.StatusAccepted || !got.AcceptedPrice.Equal(order.AcceptedPrice) {
		t.Errorf("Update lost: %+v", got)
	}
}

func TestStorage_FindByTxRef(t *testing.T) {
	s := newTestStorage(t)
	if err := s.Save(testOrder("ord-3", "0xtx-3")); err != nil {
		t.Fatalf("Save failed: %v", err)
	}

	got, err := s.FindByTxRef("0xtx-3")
	if err != nil {
		t.Fatalf("FindByTxRef failed: %v", err)
	}
	if got == nil || got.ID != "ord-3" {
		t.Errorf("Expected ord-3, got %+v", got)
	}
}

func TestStorage_FindByWallet(t *testing.T) {
	s := newTestStorage(t)
	maker := "0x1111111111111111111111111111111111111111"
	resolver := "0x4444444444444444444444444444444444444444"

	a := testOrder("ord-a", "0xtx-a")
	a.CreatedAt = time.Now().Add(-2 * time.Hour)

	b := testOrder("ord-b", "0xtx-b")
	b.Status = domain.StatusAccepted
	b.AcceptedBy = resolver
	b.CreatedAt = time.Now().Add(-1 * time.Hour)

	other := testOrder("ord-c", "0xtx-c")
	other.Maker = "0x9999999999999999999999999999999999999999"

	for _, o := range []*domain.Order{a, b, other} {
		if err := s.Save(o); err != nil {
			t.Fatalf("Save failed: %v", err)
		}
	}

	t.Run("By Maker", func(t *testing.T) {
		got, err := s.FindByWallet(maker, "", 10, 0)
		if err != nil {
			t.Fatalf("FindByWallet failed: %v", err)
		}
		if len(got) != 2 {
			t.Fatalf("Expected 2 orders, got %d", len(got))
		}
		// Newest first.
		if got[0].ID != "ord-b" || got[1].ID != "ord-a" {
			t.Errorf("Wrong order: %s, %s", got[0].ID, got[1].ID)
		}
	})

	t.Run("By Resolver", func(t *testing.T) {
		got, err := s.FindByWallet(resolver, "", 10, 0)
		if err != nil {
			t.Fatalf("FindByWallet failed: %v", err)
		}
		if len(got) != 1 || got[0].ID != "ord-b" {
			t.Errorf("Expected ord-b only, got %+v", got)
		}
	})

	t.Run("Status Filter", func(t *testing.T) {
		got, err := s.FindByWallet(maker, domain.StatusAccepted, 10, 0)
		if err != nil {
			t.Fatalf("FindByWallet failed: %v", err)
		}
		if len(got) != 1 || got[0].ID != "ord-b" {
			t.Errorf("Expected ord-b only, got %+v", got)
		}
	})

	t.Run("Pagination", func(t *testing.T) {
		got, err := s.FindByWallet(maker, "", 1, 1)
		if err != nil {
			t.Fatalf("FindByWallet failed: %v", err)
		}
		if len(got) != 1 || got[0].ID != "ord-a" {
			t.Errorf("Expected second page with ord-a, got %+v", got)
		}
	})
}
