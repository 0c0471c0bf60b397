package apdu

import (
	"fmt"
	"strings"
)

// Curve is the key curve a device signs with.
type Curve int

const (
	CurveEd25519 Curve = iota + 1
	CurveSecp256k1
)

func (c Curve) String() string {
	switch c {
	case CurveEd25519:
		return "ed25519"
	case CurveSecp256k1:
		return "secp256k1"
	default:
		return fmt.Sprintf("Curve(%d)", int(c))
	}
}

// ParseCurve maps a config value to a Curve.
func ParseCurve(s string) (Curve, error) {
	switch strings.ToLower(s) {
	case "ed25519":
		return CurveEd25519, nil
	case "secp256k1":
		return CurveSecp256k1, nil
	default:
		return 0, fmt.Errorf("unknown curve %q", s)
	}
}

// PublicKeyLength is the size of a public key reply.
func (c Curve) PublicKeyLength() int {
	if c == CurveSecp256k1 {
		return 33
	}
	return 32
}

// SignatureLength is the size of a signature reply. secp256k1 signatures
// carry a trailing recovery byte, ed25519 ones do not.
func (c Curve) SignatureLength() int {
	if c == CurveSecp256k1 {
		return 65
	}
	return 64
}
