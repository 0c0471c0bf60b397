// Package emulator implements a software signing device that answers the
// same APDUs as the hardware: public key queries over binary and textual
// paths, legacy single-path signing and multi-path signing. Keys are derived
// from a BIP-39 mnemonic with SLIP-0010 ed25519 derivation.
package emulator

import (
	"context"
	"crypto/ed25519"
	"encoding/binary"
	"errors"
	"fmt"
	"sync"

	"github.com/sirupsen/logrus"
	"github.com/tyler-smith/go-bip39"
	"github.com/yolodolo42/solsign/internal/apdu"
	"github.com/yolodolo42/solsign/internal/derivation"
	"github.com/yolodolo42/solsign/internal/transport"
)

var log = logrus.WithField("prefix", "emulator")

var ErrInvalidMnemonic = errors.New("invalid mnemonic")

// RequestKind names what the device is asked to approve.
type RequestKind string

const (
	KindShowPublicKey RequestKind = "show-public-key"
	KindSign          RequestKind = "sign"
)

// Request is shown to the Approver before the device acts on it.
type Request struct {
	Kind    RequestKind
	Path    []uint32
	Message []byte
	TxType  uint16
	ChainID uint16
}

// Approver stands in for the user pressing the device buttons.
type Approver func(Request) bool

// ApproveAll accepts every request.
func ApproveAll(Request) bool { return true }

// Device is an in-memory signing device.
type Device struct {
	seed    []byte
	approve Approver

	mu         sync.Mutex
	connected  bool
	listeners  []func()
	connectErr error
	exchanges  int

	// Sign payload collected from P2More chunks.
	pending   []byte
	chunking  bool
	chunkP1   byte
	chunkBase byte
}

// maxPending bounds the reassembled sign payload.
const maxPending = 1 << 17

var (
	_ transport.Transport    = (*Device)(nil)
	_ transport.KeyTransport = (*Device)(nil)
)

// Option configures a Device.
type Option func(*Device)

// WithApprover sets the function deciding user confirmations.
func WithApprover(a Approver) Option {
	return func(d *Device) { d.approve = a }
}

// WithConnectError makes Connect fail with err.
func WithConnectError(err error) Option {
	return func(d *Device) { d.connectErr = err }
}

// New derives the device seed from a BIP-39 mnemonic and passphrase.
func New(mnemonic, passphrase string, opts ...Option) (*Device, error) {
	seed, err := bip39.NewSeedWithErrorChecking(mnemonic, passphrase)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidMnemonic, err)
	}
	return NewFromSeed(seed, opts...), nil
}

// NewFromSeed builds a device from a raw seed.
func NewFromSeed(seed []byte, opts ...Option) *Device {
	d := &Device{
		seed:    append([]byte(nil), seed...),
		approve: ApproveAll,
	}
	for _, opt := range opts {
		opt(d)
	}
	return d
}

// Connect marks the device as plugged in.
func (d *Device) Connect(ctx context.Context) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.connectErr != nil {
		return d.connectErr
	}
	d.connected = true
	log.Debug("Emulated device connected")
	return nil
}

// OnDisconnect registers fn to run on Unplug.
func (d *Device) OnDisconnect(fn func()) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.listeners = append(d.listeners, fn)
}

// Close disconnects without notifying listeners.
func (d *Device) Close() error {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.connected = false
	d.resetChunks()
	return nil
}

// Unplug simulates physical removal of the device.
func (d *Device) Unplug() {
	d.mu.Lock()
	d.connected = false
	d.resetChunks()
	listeners := d.listeners
	d.listeners = nil
	d.mu.Unlock()

	log.Debug("Emulated device unplugged")
	for _, fn := range listeners {
		fn()
	}
}

// Exchanges counts the APDUs and key queries served.
func (d *Device) Exchanges() int {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.exchanges
}

func (d *Device) begin(ctx context.Context) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	d.mu.Lock()
	defer d.mu.Unlock()
	if !d.connected {
		return transport.ErrNotConnected
	}
	d.exchanges++
	return nil
}

// PublicKey derives the public key for a path without a device exchange.
func (d *Device) PublicKey(path []uint32) (ed25519.PublicKey, error) {
	key, err := deriveEd25519(d.seed, path)
	if err != nil {
		return nil, err
	}
	return key.Public().(ed25519.PublicKey), nil
}

// GetPublicKey answers the high-level key query of extended-generation
// transports.
func (d *Device) GetPublicKey(ctx context.Context, path string, curve apdu.Curve, confirm bool) ([]byte, error) {
	if err := d.begin(ctx); err != nil {
		return nil, err
	}
	if curve != apdu.CurveEd25519 {
		return nil, &apdu.DeviceStatusError{Code: apdu.StatusInvalidData}
	}
	p, err := derivation.Parse(path, derivation.FormatString)
	if err != nil {
		return nil, &apdu.DeviceStatusError{Code: apdu.StatusInvalidData}
	}
	rsp := d.publicKey(p.Segments(), confirm)
	if rsp.Status != apdu.StatusOK {
		return nil, &apdu.DeviceStatusError{Code: rsp.Status}
	}
	return rsp.Data, nil
}

// Send answers one APDU. Protocol errors come back as status words, never
// as Go errors.
func (d *Device) Send(ctx context.Context, cmd apdu.Command) (apdu.Response, error) {
	if err := d.begin(ctx); err != nil {
		return apdu.Response{}, err
	}
	if len(cmd.Payload) > apdu.MaxShortPayload {
		return status(apdu.StatusWrongLength), nil
	}

	switch cmd.CLA {
	case apdu.CLAKey:
		if cmd.INS != apdu.InsGetPubKey {
			return status(apdu.StatusINSNotSupported), nil
		}
		segments, rest, ok := readBinaryPath(cmd.Payload)
		if !ok || len(rest) != 0 {
			return status(apdu.StatusWrongLength), nil
		}
		switch cmd.P1 {
		case apdu.P1NonConfirm:
			return d.publicKey(segments, false), nil
		case apdu.P1Confirm:
			return d.publicKey(segments, true), nil
		}
		return status(apdu.StatusIncorrectP1P2), nil

	case apdu.CLASign:
		if cmd.INS != apdu.InsSignMessage {
			return status(apdu.StatusINSNotSupported), nil
		}
		payload, complete, code := d.collect(cmd)
		if code != apdu.StatusOK || !complete {
			return status(code), nil
		}
		p2 := cmd.P2 &^ apdu.P2More
		switch {
		case cmd.P1 == apdu.P1LegacySign && p2 == apdu.P2None:
			return d.signLegacy(payload), nil
		case cmd.P1 == apdu.P1NonConfirm && p2 == apdu.P2Extend:
			return d.signMulti(payload), nil
		}
		return status(apdu.StatusIncorrectP1P2), nil
	}
	return status(apdu.StatusCLANotSupported), nil
}

// collect buffers sign chunks flagged with P2More and hands back the whole
// payload with the last chunk. Chunks of one payload must agree on P1 and
// the P2 bits other than P2More.
func (d *Device) collect(cmd apdu.Command) ([]byte, bool, uint16) {
	d.mu.Lock()
	defer d.mu.Unlock()

	more := cmd.P2&apdu.P2More != 0
	base := cmd.P2 &^ apdu.P2More
	if !d.chunking {
		if !more {
			return cmd.Payload, true, apdu.StatusOK
		}
		d.chunking, d.chunkP1, d.chunkBase = true, cmd.P1, base
	} else if cmd.P1 != d.chunkP1 || base != d.chunkBase {
		d.resetChunks()
		return nil, false, apdu.StatusConditionsNotMet
	}

	if len(d.pending)+len(cmd.Payload) > maxPending {
		d.resetChunks()
		return nil, false, apdu.StatusWrongLength
	}
	d.pending = append(d.pending, cmd.Payload...)
	if more {
		return nil, false, apdu.StatusOK
	}
	payload := d.pending
	d.resetChunks()
	return payload, true, apdu.StatusOK
}

// resetChunks drops a partial payload. d.mu must be held.
func (d *Device) resetChunks() {
	d.pending, d.chunking = nil, false
}

func (d *Device) publicKey(segments []uint32, confirm bool) apdu.Response {
	pub, err := d.PublicKey(segments)
	if err != nil {
		return status(apdu.StatusInvalidData)
	}
	if confirm && !d.approve(Request{Kind: KindShowPublicKey, Path: segments}) {
		return status(apdu.StatusRejectedByUser)
	}
	return apdu.Response{Status: apdu.StatusOK, Data: pub}
}

// signLegacy handles 0x01 || count || segments || message.
func (d *Device) signLegacy(payload []byte) apdu.Response {
	if len(payload) < 1 || payload[0] != 1 {
		return status(apdu.StatusInvalidData)
	}
	segments, msg, ok := readBinaryPath(payload[1:])
	if !ok {
		return status(apdu.StatusWrongLength)
	}
	sig, code := d.sign(Request{Kind: KindSign, Path: segments, Message: msg})
	if code != apdu.StatusOK {
		return status(code)
	}
	return apdu.Response{Status: apdu.StatusOK, Data: sig}
}

type entry struct {
	txType, chainID uint16
	segments        []uint32
	message         []byte
}

// signMulti handles the multi-path layout: count, all headers, all data
// blocks. Signatures come back concatenated in entry order.
func (d *Device) signMulti(payload []byte) apdu.Response {
	if len(payload) < 1 || payload[0] == 0 {
		return status(apdu.StatusInvalidData)
	}
	n := int(payload[0])
	rest := payload[1:]

	entries := make([]entry, n)
	for i := range entries {
		if len(rest) < 1 {
			return status(apdu.StatusWrongLength)
		}
		hlen := int(rest[0])
		if hlen < 4 || (hlen-4)%4 != 0 || len(rest) < 1+hlen {
			return status(apdu.StatusWrongLength)
		}
		hdr := rest[1 : 1+hlen]
		entries[i].txType = binary.LittleEndian.Uint16(hdr[0:])
		entries[i].chainID = binary.LittleEndian.Uint16(hdr[2:])
		depth := (hlen - 4) / 4
		if depth != 3 && depth != 5 {
			return status(apdu.StatusInvalidData)
		}
		entries[i].segments = make([]uint32, depth)
		for j := range entries[i].segments {
			entries[i].segments[j] = binary.BigEndian.Uint32(hdr[4+4*j:])
		}
		rest = rest[1+hlen:]
	}
	for i := range entries {
		if len(rest) < 2 {
			return status(apdu.StatusWrongLength)
		}
		mlen := int(binary.BigEndian.Uint16(rest))
		if len(rest) < 2+mlen {
			return status(apdu.StatusWrongLength)
		}
		entries[i].message = rest[2 : 2+mlen]
		rest = rest[2+mlen:]
	}
	if len(rest) != 0 {
		return status(apdu.StatusWrongLength)
	}

	out := make([]byte, 0, n*ed25519.SignatureSize)
	for _, e := range entries {
		sig, code := d.sign(Request{Kind: KindSign, Path: e.segments, Message: e.message, TxType: e.txType, ChainID: e.chainID})
		if code != apdu.StatusOK {
			return status(code)
		}
		out = append(out, sig...)
	}
	return apdu.Response{Status: apdu.StatusOK, Data: out}
}

func (d *Device) sign(req Request) ([]byte, uint16) {
	key, err := deriveEd25519(d.seed, req.Path)
	if err != nil {
		return nil, apdu.StatusInvalidData
	}
	if !d.approve(req) {
		return nil, apdu.StatusRejectedByUser
	}
	return ed25519.Sign(key, req.Message), apdu.StatusOK
}

// readBinaryPath reads a count-prefixed big-endian path and returns the
// bytes after it.
func readBinaryPath(b []byte) ([]uint32, []byte, bool) {
	if len(b) < 1 {
		return nil, nil, false
	}
	n := int(b[0])
	if len(b) < 1+4*n {
		return nil, nil, false
	}
	segments := make([]uint32, n)
	for i := range segments {
		segments[i] = binary.BigEndian.Uint32(b[1+4*i:])
	}
	return segments, b[1+4*n:], true
}

func status(code uint16) apdu.Response {
	return apdu.Response{Status: code}
}
