package wallet

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/yolodolo42/solsign/internal/solana"
	"github.com/yolodolo42/solsign/internal/transport"
)

// Signer is the interface for signing transactions and messages.
type Signer interface {
	// PublicKey returns the account key the signer signs with
	PublicKey() (solana.PublicKey, error)

	// SignTransaction signs tx and attaches the signature to it
	SignTransaction(ctx context.Context, tx Transaction) (Transaction, error)

	// SignMessage signs arbitrary bytes
	SignMessage(ctx context.Context, message []byte) ([]byte, error)
}

var _ Signer = (*Session)(nil)

// SignerType names a signer implementation.
type SignerType string

const (
	SignerTypeLedger SignerType = "ledger"
	SignerTypeSecux  SignerType = "secux"
	SignerTypeLocal  SignerType = "local"
)

// ErrUnsupportedSigner is returned for signer types this build cannot
// create.
var ErrUnsupportedSigner = errors.New("unsupported signer type")

// ParseSignerType maps a config value to a SignerType.
func ParseSignerType(s string) (SignerType, error) {
	switch t := SignerType(strings.ToLower(strings.TrimSpace(s))); t {
	case SignerTypeLedger, SignerTypeSecux, SignerTypeLocal:
		return t, nil
	default:
		return "", fmt.Errorf("%w: %q", ErrUnsupportedSigner, s)
	}
}

// NewSigner creates a hardware-backed signer of the given type. Both
// hardware types speak the same APDU set and differ only in the generation
// carried by cfg. Local key storage is not available.
func NewSigner(kind SignerType, shared *transport.Shared, cfg SessionConfig) (Signer, error) {
	switch kind {
	case SignerTypeLedger, SignerTypeSecux:
		return NewSession(shared, cfg)
	default:
		return nil, fmt.Errorf("%w: %q", ErrUnsupportedSigner, kind)
	}
}
