package payment

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

func TestClient_VerifyPayment(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/payments/pay-1" {
			t.Errorf("Unexpected path: %s", r.URL.Path)
		}
		json.NewEncoder(w).Encode(map[string]interface{}{
			"amount":    "19700",
			"status":    "SUCCESS",
			"createdAt": 1700000000123,
		})
	}))
	defer srv.Close()

	c := NewClient(srv.URL, time.Second)
	info, err := c.VerifyPayment(context.Background(), "pay-1")
	if err != nil {
		t.Fatalf("VerifyPayment failed: %v", err)
	}
	if info.Amount.Cmp(big.NewInt(19700)) != 0 {
		t.Errorf("Amount mismatch: %s", info.Amount)
	}
	if info.Status != "SUCCESS" {
		t.Errorf("Status mismatch: %s", info.Status)
	}
	if info.CreatedAt.UnixMilli() != 1700000000123 {
		t.Errorf("CreatedAt mismatch: %s", info.CreatedAt)
	}
}

func TestClient_VerifyPayment_Errors(t *testing.T) {
	t.Run("Not Found Is Retriable", func(t *testing.T) {
		srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			http.Error(w, "unknown reference", http.StatusNotFound)
		}))
		defer srv.Close()

		c := NewClient(srv.URL, time.Second)
		_, err := c.VerifyPayment(context.Background(), "pay-x")
		if !domain.IsRetriable(err) {
			t.Errorf("Expected retriable error, got %v", err)
		}
	})

	t.Run("Bad Amount Is Fatal", func(t *testing.T) {
		srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			json.NewEncoder(w).Encode(map[string]string{"amount": "12.5", "status": "SUCCESS"})
		}))
		defer srv.Close()

		c := NewClient(srv.URL, time.Second)
		_, err := c.VerifyPayment(context.Background(), "pay-x")
		if err == nil || domain.IsRetriable(err) {
			t.Errorf("Expected fatal parse error, got %v", err)
		}
	})
}
