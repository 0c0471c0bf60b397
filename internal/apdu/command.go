// Package apdu builds the command payloads a Solana-capable signing device
// expects and validates its replies.
package apdu

import (
	"encoding/binary"
	"errors"
	"fmt"
	"math"

	"github.com/yolodolo42/solsign/internal/derivation"
)

// Class bytes. Key queries and signing live under different classes.
const (
	CLAKey  byte = 0x80
	CLASign byte = 0x70
)

// Instructions
const (
	InsGetPubKey   byte = 0xc1
	InsGetXPubKey  byte = 0xc0
	InsSignMessage byte = 0xa3
)

// Parameter bytes. The same values are reused between instructions.
const (
	P1NonConfirm byte = 0x00
	P1Confirm    byte = 0x01
	P1LegacySign byte = 0x01

	P2None   byte = 0x00
	P2Extend byte = 0x01
	P2More   byte = 0x02
)

// Transaction types carried in multi-path sign headers.
const (
	TxTypeNormal  uint16 = 0
	TxTypeMessage uint16 = 1
)

// MaxShortPayload is the largest payload a short APDU can carry. Longer
// payloads go out as several chunks, see Command.Chunks.
const MaxShortPayload = 255

var (
	ErrLengthMismatch       = errors.New("paths and messages length mismatch")
	ErrTooManyEntries       = errors.New("too many sign request entries")
	ErrUnsupportedPathDepth = errors.New("unsupported derivation path depth")
	ErrNoEntries            = errors.New("sign request has no entries")
	ErrMessageTooLong       = errors.New("message too long")
	ErrPayloadTooLarge      = errors.New("payload too large for a short APDU")
)

// Generation is the device firmware generation. It decides both the path
// format and the sign framing; callers must not mix them.
type Generation int

const (
	GenerationLegacy Generation = iota + 1
	GenerationExtended
)

func (g Generation) String() string {
	switch g {
	case GenerationLegacy:
		return "legacy"
	case GenerationExtended:
		return "extended"
	default:
		return fmt.Sprintf("Generation(%d)", int(g))
	}
}

// PathFormat is the derivation path representation the generation accepts.
func (g Generation) PathFormat() derivation.Format {
	if g == GenerationExtended {
		return derivation.FormatString
	}
	return derivation.FormatBinary
}

// ParseGeneration maps a config value to a Generation.
func ParseGeneration(s string) (Generation, error) {
	switch s {
	case "legacy", "v1":
		return GenerationLegacy, nil
	case "extended", "multipath", "v2":
		return GenerationExtended, nil
	default:
		return 0, fmt.Errorf("unknown device generation %q", s)
	}
}

// Command is a single instruction for the device.
type Command struct {
	CLA     byte
	INS     byte
	P1      byte
	P2      byte
	Payload []byte
}

// MarshalBinary encodes the command as a short APDU: CLA INS P1 P2 Lc data.
func (c Command) MarshalBinary() ([]byte, error) {
	if len(c.Payload) > MaxShortPayload {
		return nil, fmt.Errorf("%w: %d bytes", ErrPayloadTooLarge, len(c.Payload))
	}
	out := make([]byte, 5, 5+len(c.Payload))
	out[0] = c.CLA
	out[1] = c.INS
	out[2] = c.P1
	out[3] = c.P2
	out[4] = byte(len(c.Payload))
	return append(out, c.Payload...), nil
}

// Chunks splits the command into short APDUs of at most MaxShortPayload
// bytes. Every chunk but the last has P2More set on top of P2; the device
// buffers those and acts once the last chunk arrives. A command that fits
// is returned as is.
func (c Command) Chunks() []Command {
	if len(c.Payload) <= MaxShortPayload {
		return []Command{c}
	}
	out := make([]Command, 0, (len(c.Payload)+MaxShortPayload-1)/MaxShortPayload)
	for rest := c.Payload; len(rest) > 0; {
		n := min(len(rest), MaxShortPayload)
		chunk := c
		chunk.Payload = rest[:n]
		rest = rest[n:]
		if len(rest) > 0 {
			chunk.P2 |= P2More
		}
		out = append(out, chunk)
	}
	return out
}

// BuildGetPublicKey wraps a binary path in a get-public-key instruction.
// On-device confirmation is only requested when confirm is set.
func BuildGetPublicKey(path derivation.Path, confirm bool) (Command, error) {
	buf, err := path.Bytes()
	if err != nil {
		return Command{}, err
	}
	p1 := P1NonConfirm
	if confirm {
		p1 = P1Confirm
	}
	return Command{CLA: CLAKey, INS: InsGetPubKey, P1: p1, P2: P2None, Payload: buf}, nil
}

// BuildSignRequest frames one or more (path, message) pairs for the
// multi-path sign instruction.
//
// Layout:
//
//	entry count                        | 1 byte
//	per entry: header length (n*4+4)   | 1 byte
//	           tx type (LE)            | 2 bytes
//	           chain id (LE)           | 2 bytes
//	           path segments (BE)      | n*4 bytes
//	per entry: message length (BE)     | 2 bytes
//	           message                 | arbitrary
//
// All headers come first, then all data blocks.
func BuildSignRequest(paths []derivation.Path, messages [][]byte, txType, chainID uint16) (Command, error) {
	if len(paths) != len(messages) {
		return Command{}, fmt.Errorf("%w: %d paths, %d messages", ErrLengthMismatch, len(paths), len(messages))
	}
	if len(paths) == 0 {
		return Command{}, ErrNoEntries
	}
	if len(paths) > math.MaxUint8 {
		return Command{}, fmt.Errorf("%w: %d, at most %d", ErrTooManyEntries, len(paths), math.MaxUint8)
	}

	// Validate everything before emitting a single byte.
	headerLen, dataLen := 0, 0
	for i, p := range paths {
		if d := p.Depth(); d != 3 && d != 5 {
			return Command{}, fmt.Errorf("%w: entry %d has %d segments, want 3 or 5", ErrUnsupportedPathDepth, i, d)
		}
		if len(messages[i]) > math.MaxUint16 {
			return Command{}, fmt.Errorf("%w: entry %d is %d bytes", ErrMessageTooLong, i, len(messages[i]))
		}
		headerLen += 1 + 4 + 4*p.Depth()
		dataLen += 2 + len(messages[i])
	}

	payload := make([]byte, 0, 1+headerLen+dataLen)
	payload = append(payload, byte(len(paths)))
	for _, p := range paths {
		payload = append(payload, byte(p.Depth()*4+4))
		payload = binary.LittleEndian.AppendUint16(payload, txType)
		payload = binary.LittleEndian.AppendUint16(payload, chainID)
		payload = append(payload, p.SegmentBytes()...)
	}
	for _, m := range messages {
		payload = binary.BigEndian.AppendUint16(payload, uint16(len(m)))
		payload = append(payload, m...)
	}

	return Command{CLA: CLASign, INS: InsSignMessage, P1: P1NonConfirm, P2: P2Extend, Payload: payload}, nil
}

// BuildLegacySignRequest frames a single binary path and message for devices
// that predate the multi-path format: 0x01, the binary path, the message.
func BuildLegacySignRequest(path derivation.Path, message []byte) (Command, error) {
	buf, err := path.Bytes()
	if err != nil {
		return Command{}, err
	}
	payload := make([]byte, 0, 1+len(buf)+len(message))
	payload = append(payload, 1)
	payload = append(payload, buf...)
	payload = append(payload, message...)
	return Command{CLA: CLASign, INS: InsSignMessage, P1: P1LegacySign, P2: P2None, Payload: payload}, nil
}
