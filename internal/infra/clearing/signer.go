package clearing

import (
	"crypto/ecdsa"
	"fmt"
	"math/big"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/common/hexutil"
	"github.com/ethereum/go-ethereum/common/math"
	"github.com/ethereum/go-ethereum/crypto"
	"github.com/ethereum/go-ethereum/signer/core/apitypes"
)

// Signer wraps a secp256k1 key pair. The long-lived identity key signs the
// structured authentication message; throwaway session keys sign the generic
// correlated requests for one connection only.
type Signer struct {
	privateKey *ecdsa.PrivateKey
	address    common.Address
}

// NewSigner generates a fresh random key pair. Used for per-session keys.
func NewSigner() (*Signer, error) {
	privateKey, err := crypto.GenerateKey()
	if err != nil {
		return nil, fmt.Errorf("failed to generate key: %w", err)
	}
	return &Signer{
		privateKey: privateKey,
		address:    crypto.PubkeyToAddress(privateKey.PublicKey),
	}, nil
}

// SignerFromHex creates a Signer from a hex-encoded private key
// ("0x1234..." or "1234...", 64 hex chars).
func SignerFromHex(hexKey string) (*Signer, error) {
	if len(hexKey) >= 2 && hexKey[0:2] == "0x" {
		hexKey = hexKey[2:]
	}
	privateKey, err := crypto.HexToECDSA(hexKey)
	if err != nil {
		return nil, fmt.Errorf("failed to parse private key: %w", err)
	}
	return &Signer{
		privateKey: privateKey,
		address:    crypto.PubkeyToAddress(privateKey.PublicKey),
	}, nil
}

// Address returns the Ethereum address derived from the public key.
func (s *Signer) Address() common.Address {
	return s.address
}

// Sign signs a 32-byte hash and returns the [R || S || V] signature.
func (s *Signer) Sign(hash []byte) ([]byte, error) {
	if len(hash) != 32 {
		return nil, fmt.Errorf("hash must be 32 bytes, got %d", len(hash))
	}
	signature, err := crypto.Sign(hash, s.privateKey)
	if err != nil {
		return nil, fmt.Errorf("failed to sign: %w", err)
	}
	return signature, nil
}

// SignPayload keccak-hashes an arbitrary payload and signs it, returning a
// 0x-prefixed hex signature. This is the generic request signature applied by
// the session key to the full request tuple.
func (s *Signer) SignPayload(payload []byte) (string, error) {
	hash := crypto.Keccak256Hash(payload)
	sig, err := s.Sign(hash.Bytes())
	if err != nil {
		return "", err
	}
	return hexutil.Encode(sig), nil
}

// RecoverAddress recovers the signer's address from a message hash and
// signature.
func RecoverAddress(hash []byte, signature []byte) (common.Address, error) {
	if len(signature) != 65 {
		return common.Address{}, fmt.Errorf("invalid signature length: %d", len(signature))
	}
	if len(hash) != 32 {
		return common.Address{}, fmt.Errorf("invalid hash length: %d", len(hash))
	}

	publicKeyBytes, err := crypto.Ecrecover(hash, signature)
	if err != nil {
		return common.Address{}, fmt.Errorf("failed to recover public key: %w", err)
	}
	publicKey, err := crypto.UnmarshalPubkey(publicKeyBytes)
	if err != nil {
		return common.Address{}, fmt.Errorf("failed to unmarshal public key: %w", err)
	}
	return crypto.PubkeyToAddress(*publicKey), nil
}

// AuthPolicy is the fixed field set covered by the structured authentication
// signature: the challenged party commits to scope, target application,
// session-key address, expiry and allowances in one domain-separated message.
type AuthPolicy struct {
	Challenge   string
	Scope       string
	Wallet      common.Address
	Application string
	Participant common.Address // session-key address
	Expire      *big.Int       // unix seconds
	Allowances  []Allowance
}

// HashAuthPolicy hashes the policy as EIP-712 typed data under the named
// application domain. Returns the digest to be signed by the identity key.
func HashAuthPolicy(appName string, policy *AuthPolicy) ([]byte, error) {
	allowances := make([]interface{}, 0, len(policy.Allowances))
	for _, a := range policy.Allowances {
		allowances = append(allowances, map[string]interface{}{
			"asset":  a.Asset,
			"amount": a.Amount,
		})
	}

	typedData := apitypes.TypedData{
		Types: apitypes.Types{
			"EIP712Domain": []apitypes.Type{
				{Name: "name", Type: "string"},
			},
			"Policy": []apitypes.Type{
				{Name: "challenge", Type: "string"},
				{Name: "scope", Type: "string"},
				{Name: "wallet", Type: "address"},
				{Name: "application", Type: "string"},
				{Name: "participant", Type: "address"},
				{Name: "expire", Type: "uint256"},
				{Name: "allowances", Type: "Allowance[]"},
			},
			"Allowance": []apitypes.Type{
				{Name: "asset", Type: "string"},
				{Name: "amount", Type: "string"},
			},
		},
		PrimaryType: "Policy",
		Domain: apitypes.TypedDataDomain{
			Name: appName,
		},
		Message: apitypes.TypedDataMessage{
			"challenge":   policy.Challenge,
			"scope":       policy.Scope,
			"wallet":      policy.Wallet.Hex(),
			"application": policy.Application,
			"participant": policy.Participant.Hex(),
			"expire":      (*math.HexOrDecimal256)(policy.Expire),
			"allowances":  allowances,
		},
	}

	domainSeparator, err := typedData.HashStruct("EIP712Domain", typedData.Domain.Map())
	if err != nil {
		return nil, fmt.Errorf("failed to hash domain: %w", err)
	}
	typedDataHash, err := typedData.HashStruct(typedData.PrimaryType, typedData.Message)
	if err != nil {
		return nil, fmt.Errorf("failed to hash message: %w", err)
	}

	// Final digest: keccak256("\x19\x01" || domainSeparator || typedDataHash)
	rawData := []byte(fmt.Sprintf("\x19\x01%s%s", string(domainSeparator), string(typedDataHash)))
	digest := crypto.Keccak256Hash(rawData)

	return digest.Bytes(), nil
}

// SignAuthPolicy signs the policy digest with the long-lived identity key and
// returns the 0x-prefixed hex signature sent back for the challenge.
func (s *Signer) SignAuthPolicy(appName string, policy *AuthPolicy) (string, error) {
	hash, err := HashAuthPolicy(appName, policy)
	if err != nil {
		return "", fmt.Errorf("failed to hash auth policy: %w", err)
	}
	sig, err := s.Sign(hash)
	if err != nil {
		return "", fmt.Errorf("failed to sign auth policy: %w", err)
	}
	return hexutil.Encode(sig), nil
}

// DefaultAuthExpiry returns the expiry timestamp attached to new
// authentication requests.
func DefaultAuthExpiry() *big.Int {
	return big.NewInt(time.Now().Add(time.Hour).Unix())
}
