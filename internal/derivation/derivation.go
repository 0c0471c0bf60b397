// Package derivation encodes Solana BIP-44 derivation paths in the two
// representations hardware signing devices accept: a packed binary buffer and
// a textual path string.
package derivation

import (
	"encoding/binary"
	"errors"
	"fmt"
	"strings"

	"github.com/ethereum/go-ethereum/accounts"
)

const (
	// HardenedBit marks a BIP-32 index as hardened.
	HardenedBit uint32 = 0x80000000

	// Purpose is the BIP-44 purpose segment.
	Purpose uint32 = 44
	// CoinType is Solana's registered SLIP-44 coin type.
	CoinType uint32 = 501
)

var (
	ErrInvalidDerivationMode = errors.New("invalid derivation mode")
	ErrInvalidFormat         = errors.New("invalid path format")
	ErrFormatMismatch        = errors.New("path format mismatch")
	ErrForeignPath           = errors.New("derivation path is not a Solana BIP-44 path")
)

// Mode selects which of Spec.Account and Spec.Change are encoded.
type Mode int

const (
	ModeRoot Mode = iota + 1
	ModeAccount
	ModeAccountChange
)

func (m Mode) String() string {
	switch m {
	case ModeRoot:
		return "root"
	case ModeAccount:
		return "account"
	case ModeAccountChange:
		return "account-change"
	default:
		return fmt.Sprintf("Mode(%d)", int(m))
	}
}

// ParseMode accepts the CLI names as well as the bip44Root/bip44/bip44Change
// aliases used by older wallet configurations.
func ParseMode(s string) (Mode, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "root", "bip44root":
		return ModeRoot, nil
	case "account", "bip44":
		return ModeAccount, nil
	case "account-change", "accountchange", "bip44change":
		return ModeAccountChange, nil
	default:
		return 0, fmt.Errorf("%w: %q", ErrInvalidDerivationMode, s)
	}
}

// Format is the on-wire representation of a path. A device generation
// accepts exactly one of them.
type Format int

const (
	FormatBinary Format = iota + 1
	FormatString
)

func (f Format) String() string {
	switch f {
	case FormatBinary:
		return "binary"
	case FormatString:
		return "string"
	default:
		return fmt.Sprintf("Format(%d)", int(f))
	}
}

// Spec is a logical account/change pair. Unset fields are zero; an explicit
// change of 0 and an unset change encode identically.
type Spec struct {
	Account uint32 `mapstructure:"account" yaml:"account"`
	Change  uint32 `mapstructure:"change" yaml:"change"`
	Mode    Mode   `mapstructure:"-" yaml:"-"`
}

// Path is an encoded derivation path. It only answers in the format it was
// built for, so binary and string representations never mix.
type Path struct {
	format   Format
	segments []uint32
}

// Harden sets the hardened bit on a derivation index.
func Harden(n uint32) uint32 {
	return n | HardenedBit
}

// Encode converts spec into a Path in the requested format.
func Encode(spec Spec, format Format) (Path, error) {
	if format != FormatBinary && format != FormatString {
		return Path{}, fmt.Errorf("%w: %d", ErrInvalidFormat, int(format))
	}

	segments := []uint32{Harden(Purpose), Harden(CoinType)}
	switch spec.Mode {
	case ModeRoot:
	case ModeAccount:
		segments = append(segments, Harden(spec.Account))
	case ModeAccountChange:
		segments = append(segments, Harden(spec.Account), Harden(spec.Change))
	default:
		return Path{}, fmt.Errorf("%w: %d", ErrInvalidDerivationMode, int(spec.Mode))
	}

	return Path{format: format, segments: segments}, nil
}

// Parse reads a textual path such as m/44'/501'/0'/0'. Paths outside the
// 44'/501' hierarchy are rejected. Unhardened trailing segments are kept as
// given.
func Parse(s string, format Format) (Path, error) {
	if format != FormatBinary && format != FormatString {
		return Path{}, fmt.Errorf("%w: %d", ErrInvalidFormat, int(format))
	}
	// go-ethereum prefixes relative paths with its own root, so require m/.
	s = strings.TrimSpace(s)
	if !strings.HasPrefix(s, "m/") {
		return Path{}, fmt.Errorf("%w: %q must start with m/", ErrForeignPath, s)
	}

	dp, err := accounts.ParseDerivationPath(s)
	if err != nil {
		return Path{}, fmt.Errorf("parse derivation path: %w", err)
	}
	if len(dp) < 2 || dp[0] != Harden(Purpose) || dp[1] != Harden(CoinType) {
		return Path{}, fmt.Errorf("%w: %s", ErrForeignPath, s)
	}
	if len(dp) > 255 {
		return Path{}, fmt.Errorf("parse derivation path: %d segments", len(dp))
	}

	return Path{format: format, segments: []uint32(dp)}, nil
}

// Format reports the representation the path was encoded for.
func (p Path) Format() Format {
	return p.format
}

// IsZero reports whether p was never encoded.
func (p Path) IsZero() bool {
	return p.format == 0
}

// Depth is the number of segments.
func (p Path) Depth() int {
	return len(p.segments)
}

// Segments returns a copy of the segments, hardened bits included.
func (p Path) Segments() []uint32 {
	out := make([]uint32, len(p.segments))
	copy(out, p.segments)
	return out
}

// Bytes returns the binary buffer: a segment count byte followed by each
// segment as a big-endian uint32.
func (p Path) Bytes() ([]byte, error) {
	if p.format != FormatBinary {
		return nil, fmt.Errorf("%w: %s path has no binary form", ErrFormatMismatch, p.format)
	}
	buf := make([]byte, 1+4*len(p.segments))
	buf[0] = byte(len(p.segments))
	putSegments(buf[1:], p.segments)
	return buf, nil
}

// SegmentBytes returns the big-endian segments without the count prefix. It
// is valid for either format, since multi-path sign requests embed raw
// segments regardless of how the device takes paths for key queries.
func (p Path) SegmentBytes() []byte {
	buf := make([]byte, 4*len(p.segments))
	putSegments(buf, p.segments)
	return buf
}

// Text returns the textual form of a string-format path.
func (p Path) Text() (string, error) {
	if p.format != FormatString {
		return "", fmt.Errorf("%w: %s path has no string form", ErrFormatMismatch, p.format)
	}
	return accounts.DerivationPath(p.segments).String(), nil
}

// String renders the path for humans regardless of format.
func (p Path) String() string {
	if p.IsZero() {
		return "<unset>"
	}
	return accounts.DerivationPath(p.segments).String()
}

func putSegments(dst []byte, segments []uint32) {
	for i, s := range segments {
		binary.BigEndian.PutUint32(dst[4*i:], s)
	}
}
