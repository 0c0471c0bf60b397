package emulator

import (
	"crypto/ed25519"
	"crypto/hmac"
	"crypto/sha512"
	"encoding/binary"
	"errors"

	"github.com/yolodolo42/solsign/internal/derivation"
)

const (
	// SeedMinSize is the minimum SLIP-0010 seed size in bytes.
	SeedMinSize = 16

	// SeedMaxSize is the maximum SLIP-0010 seed size in bytes.
	SeedMaxSize = 64

	chainCodeSize = 32
)

var (
	errInvalidSeed = errors.New("slip10: seed must be 16 to 64 bytes")
	errNonHardened = errors.New("slip10: ed25519 derivation requires hardened segments")
)

var curveConstant = []byte("ed25519 seed")

type chainCode [chainCodeSize]byte

// newMasterKey computes I = HMAC-SHA512("ed25519 seed", S).
func newMasterKey(seed []byte) (ed25519.PrivateKey, chainCode, error) {
	if n := len(seed); n < SeedMinSize || n > SeedMaxSize {
		return nil, chainCode{}, errInvalidSeed
	}
	mac := hmac.New(sha512.New, curveConstant)
	_, _ = mac.Write(seed)
	key, cc := splitDigest(mac.Sum(nil))
	return key, cc, nil
}

// newChildKey computes I = HMAC-SHA512(c, 0x00 || k || ser32(i)). ed25519
// has no normal children.
func newChildKey(parent ed25519.PrivateKey, c chainCode, index uint32) (ed25519.PrivateKey, chainCode, error) {
	if index&derivation.HardenedBit == 0 {
		return nil, chainCode{}, errNonHardened
	}
	var b [4]byte
	mac := hmac.New(sha512.New, c[:])
	_, _ = mac.Write(b[:1])
	_, _ = mac.Write(parent.Seed())
	binary.BigEndian.PutUint32(b[:], index)
	_, _ = mac.Write(b[:])
	key, cc := splitDigest(mac.Sum(nil))
	return key, cc, nil
}

func splitDigest(digest []byte) (ed25519.PrivateKey, chainCode) {
	var cc chainCode
	copy(cc[:], digest[32:])
	return ed25519.NewKeyFromSeed(digest[:32]), cc
}

// deriveEd25519 walks path from the master key of seed.
func deriveEd25519(seed []byte, path []uint32) (ed25519.PrivateKey, error) {
	key, cc, err := newMasterKey(seed)
	if err != nil {
		return nil, err
	}
	for _, index := range path {
		if key, cc, err = newChildKey(key, cc, index); err != nil {
			return nil, err
		}
	}
	return key, nil
}
