package clearing

import (
	"math/big"
	"testing"

	"github.com/ethereum/go-ethereum/common/hexutil"
	"github.com/ethereum/go-ethereum/crypto"
)

// Well-known throwaway key (hardhat account #0); never used outside tests.
const testKeyHex = "ac0974bec39a17e36ba4a6b4d238ff944bacb478cbed5efcae784d7bf4f2ff80"
const testKeyAddr = "0xf39Fd6e51aad88F6F4ce6aB8827279cffFb92266"

func TestSignerFromHex(t *testing.T) {
	t.Run("Without Prefix", func(t *testing.T) {
		s, err := SignerFromHex(testKeyHex)
		if err != nil {
			t.Fatalf("Unexpected error: %v", err)
		}
		if s.Address().Hex() != testKeyAddr {
			t.Errorf("Expected address %s, got %s", testKeyAddr, s.Address().Hex())
		}
	})

	t.Run("With 0x Prefix", func(t *testing.T) {
		s, err := SignerFromHex("0x" + testKeyHex)
		if err != nil {
			t.Fatalf("Unexpected error: %v", err)
		}
		if s.Address().Hex() != testKeyAddr {
			t.Errorf("Expected address %s, got %s", testKeyAddr, s.Address().Hex())
		}
	})

	t.Run("Garbage Rejected", func(t *testing.T) {
		if _, err := SignerFromHex("zzzz"); err == nil {
			t.Error("Expected error for invalid hex key")
		}
	})
}

func TestNewSigner_FreshKeys(t *testing.T) {
	a, err := NewSigner()
	if err != nil {
		t.Fatalf("Unexpected error: %v", err)
	}
	b, err := NewSigner()
	if err != nil {
		t.Fatalf("Unexpected error: %v", err)
	}
	if a.Address() == b.Address() {
		t.Error("Two generated signers share an address")
	}
}

func TestSignPayload_Recoverable(t *testing.T) {
	s, err := SignerFromHex(testKeyHex)
	if err != nil {
		t.Fatalf("Unexpected error: %v", err)
	}

	payload := []byte(`[1,"create_app_session",[{}],1700000000]`)
	sigHex, err := s.SignPayload(payload)
	if err != nil {
		t.Fatalf("SignPayload failed: %v", err)
	}

	sig, err := hexutil.Decode(sigHex)
	if err != nil {
		t.Fatalf("Signature is not valid hex: %v", err)
	}
	if len(sig) != 65 {
		t.Fatalf("Expected 65-byte signature, got %d", len(sig))
	}

	hash := crypto.Keccak256Hash(payload)
	recovered, err := RecoverAddress(hash.Bytes(), sig)
	if err != nil {
		t.Fatalf("RecoverAddress failed: %v", err)
	}
	if recovered != s.Address() {
		t.Errorf("Recovered %s, expected %s", recovered.Hex(), s.Address().Hex())
	}
}

func TestSign_RejectsBadHash(t *testing.T) {
	s, _ := NewSigner()
	if _, err := s.Sign([]byte("short")); err == nil {
		t.Error("Expected error for non-32-byte hash")
	}
}

func TestSignAuthPolicy_Recoverable(t *testing.T) {
	identity, err := SignerFromHex(testKeyHex)
	if err != nil {
		t.Fatalf("Unexpected error: %v", err)
	}
	sessionKey, err := NewSigner()
	if err != nil {
		t.Fatalf("Unexpected error: %v", err)
	}

	policy := &AuthPolicy{
		Challenge:   "nonce-12345",
		Scope:       "console",
		Wallet:      identity.Address(),
		Application: identity.Address().Hex(),
		Participant: sessionKey.Address(),
		Expire:      big.NewInt(1800000000),
		Allowances:  []Allowance{{Asset: "usdc", Amount: "100"}},
	}

	sigHex, err := identity.SignAuthPolicy("auction-broker", policy)
	if err != nil {
		t.Fatalf("SignAuthPolicy failed: %v", err)
	}
	sig, err := hexutil.Decode(sigHex)
	if err != nil {
		t.Fatalf("Signature is not valid hex: %v", err)
	}

	digest, err := HashAuthPolicy("auction-broker", policy)
	if err != nil {
		t.Fatalf("HashAuthPolicy failed: %v", err)
	}
	recovered, err := RecoverAddress(digest, sig)
	if err != nil {
		t.Fatalf("RecoverAddress failed: %v", err)
	}
	if recovered != identity.Address() {
		t.Errorf("Recovered %s, expected identity %s", recovered.Hex(), identity.Address().Hex())
	}
}

func TestHashAuthPolicy_Deterministic(t *testing.T) {
	identity, _ := SignerFromHex(testKeyHex)
	policy := &AuthPolicy{
		Challenge:   "nonce-1",
		Scope:       "console",
		Wallet:      identity.Address(),
		Application: identity.Address().Hex(),
		Participant: identity.Address(),
		Expire:      big.NewInt(1800000000),
	}

	h1, err := HashAuthPolicy("app", policy)
	if err != nil {
		t.Fatalf("HashAuthPolicy failed: %v", err)
	}
	h2, _ := HashAuthPolicy("app", policy)
	if string(h1) != string(h2) {
		t.Error("Same policy hashed to different digests")
	}

	policy.Challenge = "nonce-2"
	h3, _ := HashAuthPolicy("app", policy)
	if string(h1) == string(h3) {
		t.Error("Different challenges hashed to the same digest")
	}
}
