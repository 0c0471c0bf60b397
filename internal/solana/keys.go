// Package solana holds the Solana-side types the signer works with: base58
// public keys and signatures, the transaction wire format and the network
// registry.
package solana

import (
	"bytes"
	"errors"
	"fmt"

	"github.com/btcsuite/btcutil/base58"
	solanago "github.com/gagliardetto/solana-go"
)

// PublicKeyLength is the size of an ed25519 account key.
const PublicKeyLength = 32

// SignatureLength is the size of an ed25519 signature.
const SignatureLength = 64

var (
	ErrInvalidBase58    = errors.New("invalid base58 string")
	ErrInvalidPublicKey = errors.New("invalid public key length")
)

// PublicKey is a key as returned by the device. Account addresses are 32
// bytes, secp256k1 device keys are 33.
type PublicKey []byte

// PublicKeyFromBase58 decodes a base58 account address.
func PublicKeyFromBase58(s string) (PublicKey, error) {
	b := base58.Decode(s)
	if len(b) == 0 {
		return nil, fmt.Errorf("%w: %q", ErrInvalidBase58, s)
	}
	if len(b) != PublicKeyLength {
		return nil, fmt.Errorf("%w: %d bytes, want %d", ErrInvalidPublicKey, len(b), PublicKeyLength)
	}
	return PublicKey(b), nil
}

// String returns the base58 address.
func (pk PublicKey) String() string {
	return base58.Encode(pk)
}

// Equal compares two keys byte for byte.
func (pk PublicKey) Equal(other PublicKey) bool {
	return bytes.Equal(pk, other)
}

// IsZero reports whether the key is empty.
func (pk PublicKey) IsZero() bool {
	return len(pk) == 0
}

// EncodeSignature renders a signature the way explorers and RPC nodes expect.
func EncodeSignature(sig []byte) string {
	return base58.Encode(sig)
}

// DecodeSignature parses a base58 ed25519 signature.
func DecodeSignature(s string) ([]byte, error) {
	sig, err := solanago.SignatureFromBase58(s)
	if err != nil {
		return nil, fmt.Errorf("%w: %q: %v", ErrInvalidBase58, s, err)
	}
	return sig[:], nil
}
