// Package signing holds the hashing primitives behind voter pseudonyms and the
// stand-ins for wallet signatures and chain receipts.
//
// The pipeline only talks to the Signer interface. MockSigner reproduces the
// shape of a real backend (deterministic identity hash, deterministic intent
// signature, random receipt) so a wallet or chain client can replace it later
// without touching the submission flow.
package signing

import (
	"crypto/rand"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"io"

	"github.com/ethereum/go-ethereum/common/hexutil"

	"civicledger/internal/ledger/models"
)

const (
	// AnonymousIdentity stands in for the address when no wallet is bound.
	AnonymousIdentity = "anonymous"

	// MinTokenBytes is the smallest random token the service will mint.
	MinTokenBytes = 16

	recordIDBytes = 16
	receiptBytes  = 32
	addressBytes  = 20

	recordIDPrefix = "rec_"
	intentSuffix   = ":signed"
)

// Signer is the capability the submission pipeline depends on.
type Signer interface {
	IdentityHash(address string, verified bool) string
	SignIntent(intent models.Intent) (string, error)
	NewRecordID() (string, error)
	NewReceipt() (string, error)
}

// Hash returns the lowercase hex SHA-256 digest of b.
func Hash(b []byte) string {
	sum := sha256.Sum256(b)
	return hex.EncodeToString(sum[:])
}

// IdentityHash derives the pseudonymous voter key from the bound address and
// verification flag. Equal inputs always collide; that collision is the
// duplicate-vote key.
func IdentityHash(address string, verified bool) string {
	if address == "" {
		address = AnonymousIdentity
	}
	flag := "0"
	if verified {
		flag = "1"
	}
	return Hash([]byte(address + ":" + flag))
}

// SignIntent hashes the canonical JSON of intent with a domain-separation
// suffix. Identical intents produce identical signatures.
func SignIntent(intent models.Intent) (string, error) {
	payload, err := json.Marshal(intent)
	if err != nil {
		return "", fmt.Errorf("encode intent: %w", err)
	}
	return "0x" + Hash(append(payload, intentSuffix...)), nil
}

// RandomToken returns n cryptographically random bytes as hex.
func RandomToken(n int) (string, error) {
	return randomToken(rand.Reader, n)
}

func randomToken(r io.Reader, n int) (string, error) {
	b, err := randomBytes(r, n)
	if err != nil {
		return "", err
	}
	return hex.EncodeToString(b), nil
}

func randomBytes(r io.Reader, n int) ([]byte, error) {
	if n < MinTokenBytes {
		return nil, fmt.Errorf("token length %d below minimum %d", n, MinTokenBytes)
	}
	b := make([]byte, n)
	if _, err := io.ReadFull(r, b); err != nil {
		return nil, fmt.Errorf("read random bytes: %w", err)
	}
	return b, nil
}

// MockSigner implements Signer with local hashing and random receipts.
type MockSigner struct {
	random io.Reader
}

// Option configures a MockSigner.
type Option func(*MockSigner)

// WithRandom overrides the entropy source. Tests use it to force failures.
func WithRandom(r io.Reader) Option {
	return func(s *MockSigner) {
		if r != nil {
			s.random = r
		}
	}
}

// NewMockSigner constructs a signer backed by crypto/rand.
func NewMockSigner(opts ...Option) *MockSigner {
	s := &MockSigner{random: rand.Reader}
	for _, opt := range opts {
		if opt != nil {
			opt(s)
		}
	}
	return s
}

func (s *MockSigner) IdentityHash(address string, verified bool) string {
	return IdentityHash(address, verified)
}

func (s *MockSigner) SignIntent(intent models.Intent) (string, error) {
	return SignIntent(intent)
}

// NewRecordID mints an opaque record identifier.
func (s *MockSigner) NewRecordID() (string, error) {
	tok, err := randomToken(s.random, recordIDBytes)
	if err != nil {
		return "", fmt.Errorf("record id: %w", err)
	}
	return recordIDPrefix + tok, nil
}

// NewReceipt mints a simulated transaction hash.
func (s *MockSigner) NewReceipt() (string, error) {
	b, err := randomBytes(s.random, receiptBytes)
	if err != nil {
		return "", fmt.Errorf("receipt: %w", err)
	}
	return hexutil.Encode(b), nil
}

// NewAddress mints a wallet-shaped address for the connect stub.
func (s *MockSigner) NewAddress() (string, error) {
	b, err := randomBytes(s.random, addressBytes)
	if err != nil {
		return "", fmt.Errorf("address: %w", err)
	}
	return hexutil.Encode(b), nil
}
