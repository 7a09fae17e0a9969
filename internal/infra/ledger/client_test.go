package ledger

import (
	"context"
	"encoding/json"
	"math/big"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"auction_go/internal/domain"
)

func TestClient_GetOrder(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/orders/ord-1" || r.Method != http.MethodGet {
			t.Errorf("Unexpected request: %s %s", r.Method, r.URL.Path)
		}
		json.NewEncoder(w).Encode(map[string]interface{}{
			"maker":        "0x1111111111111111111111111111111111111111",
			"token":        "0x2222222222222222222222222222222222222222",
			"amount":       "2000000000000000000",
			"startPrice":   "100000000000000000000",
			"endPrice":     "95000000000000000000",
			"accepted":     true,
			"acceptedTime": 1700000000,
		})
	}))
	defer srv.Close()

	c := NewClient(srv.URL, time.Second)
	order, err := c.GetOrder(context.Background(), "ord-1")
	if err != nil {
		t.Fatalf("GetOrder failed: %v", err)
	}

	expected, _ := new(big.Int).SetString("100000000000000000000", 10)
	if order.StartPrice.Cmp(expected) != 0 {
		t.Errorf("Start price mismatch: %s", order.StartPrice)
	}
	if !order.Accepted {
		t.Error("Accepted flag lost")
	}
	if order.AcceptedAt.Unix() != 1700000000 {
		t.Errorf("AcceptedAt mismatch: %s", order.AcceptedAt)
	}
}

func TestClient_GetOrder_Errors(t *testing.T) {
	t.Run("HTTP Error Is Retriable", func(t *testing.T) {
		srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			http.Error(w, "node syncing", http.StatusServiceUnavailable)
		}))
		defer srv.Close()

		c := NewClient(srv.URL, time.Second)
		_, err := c.GetOrder(context.Background(), "ord-1")
		if !domain.IsRetriable(err) {
			t.Errorf("Expected retriable error, got %v", err)
		}
	})

	t.Run("Malformed Amount Is Fatal", func(t *testing.T) {
		srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			json.NewEncoder(w).Encode(map[string]string{"amount": "not-a-number"})
		}))
		defer srv.Close()

		c := NewClient(srv.URL, time.Second)
		_, err := c.GetOrder(context.Background(), "ord-1")
		if err == nil || domain.IsRetriable(err) {
			t.Errorf("Expected fatal parse error, got %v", err)
		}
	})
}

func TestClient_AcceptOrder(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/orders/ord-1/accept" || r.Method != http.MethodPost {
			t.Errorf("Unexpected request: %s %s", r.Method, r.URL.Path)
		}
		var req struct {
			Price    string `json:"price"`
			Resolver string `json:"resolver"`
		}
		json.NewDecoder(r.Body).Decode(&req)
		if req.Price != "97000000000000000000" {
			t.Errorf("Price not forwarded: %s", req.Price)
		}
		if req.Resolver != "0x3333333333333333333333333333333333333333" {
			t.Errorf("Resolver not forwarded: %s", req.Resolver)
		}
		json.NewEncoder(w).Encode(map[string]interface{}{"txHash": "0xabc", "blockNumber": 42})
	}))
	defer srv.Close()

	c := NewClient(srv.URL, time.Second)
	price, _ := new(big.Int).SetString("97000000000000000000", 10)
	receipt, err := c.AcceptOrder(context.Background(), "ord-1", price, "0x3333333333333333333333333333333333333333")
	if err != nil {
		t.Fatalf("AcceptOrder failed: %v", err)
	}
	if receipt.TxHash != "0xabc" || receipt.BlockNumber != 42 {
		t.Errorf("Receipt mismatch: %+v", receipt)
	}
}

func TestClient_SubmitFulfillment(t *testing.T) {
	t.Run("Confirmed", func(t *testing.T) {
		srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if r.URL.Path != "/orders/ord-1/fulfill" {
				t.Errorf("Unexpected path: %s", r.URL.Path)
			}
			json.NewEncoder(w).Encode(map[string]interface{}{"txHash": "0xdef", "blockNumber": 43})
		}))
		defer srv.Close()

		c := NewClient(srv.URL, time.Second)
		receipt, err := c.SubmitFulfillment(context.Background(), "ord-1", "pay-ref-1")
		if err != nil {
			t.Fatalf("SubmitFulfillment failed: %v", err)
		}
		if receipt.TxHash != "0xdef" {
			t.Errorf("Receipt mismatch: %+v", receipt)
		}
	})

	t.Run("Empty Receipt Is Fatal", func(t *testing.T) {
		srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			w.Write([]byte(`{}`))
		}))
		defer srv.Close()

		c := NewClient(srv.URL, time.Second)
		_, err := c.SubmitFulfillment(context.Background(), "ord-1", "pay-ref-1")
		if err == nil || domain.IsRetriable(err) {
			t.Errorf("Expected fatal error for missing tx hash, got %v", err)
		}
	})
}
