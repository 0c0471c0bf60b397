package wallet

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/sirupsen/logrus"
	"github.com/yolodolo42/solsign/internal/apdu"
	"github.com/yolodolo42/solsign/internal/derivation"
	"github.com/yolodolo42/solsign/internal/solana"
	"github.com/yolodolo42/solsign/internal/transport"
)

var log = logrus.WithField("prefix", "wallet")

var (
	// ErrNotInitialized is returned when the public key is read before Init.
	ErrNotInitialized = errors.New("wallet session not initialized")
	// ErrDisconnected is returned by every operation once the device is gone.
	ErrDisconnected = errors.New("wallet session disconnected")
	// ErrUnsupportedTransport is returned when an extended-generation session
	// runs over a transport without the public key query.
	ErrUnsupportedTransport = errors.New("transport cannot query public keys")
)

// State is the session lifecycle stage.
type State int

const (
	StateUninitialized State = iota
	StateConnecting
	StateReady
	StateDisconnected
)

func (s State) String() string {
	switch s {
	case StateUninitialized:
		return "uninitialized"
	case StateConnecting:
		return "connecting"
	case StateReady:
		return "ready"
	case StateDisconnected:
		return "disconnected"
	default:
		return fmt.Sprintf("State(%d)", int(s))
	}
}

// Transaction is what SignTransaction needs from a chain transaction.
type Transaction interface {
	SerializeSignableMessage() ([]byte, error)
	AttachSignature(pubkey solana.PublicKey, sig []byte) error
}

// SessionConfig selects the device generation, the account and the
// signing parameters of a Session.
type SessionConfig struct {
	Generation apdu.Generation
	Spec       derivation.Spec
	Curve      apdu.Curve

	// ChainID and TxType fill the multi-path sign header.
	ChainID uint16
	TxType  uint16

	// Timeout bounds every device call. Zero waits indefinitely.
	Timeout time.Duration

	// OnDisconnect runs once when the device is removed.
	OnDisconnect func()
}

// Session signs with one account on a shared device connection.
type Session struct {
	shared *transport.Shared
	cfg    SessionConfig
	path   derivation.Path

	// initMu serializes Init so concurrent callers acquire one handle.
	initMu sync.Mutex

	// mu guards the fields below. It is never held across device I/O, since
	// the disconnect listener takes it.
	mu     sync.Mutex
	state  State
	handle *transport.Handle
	pubkey solana.PublicKey
}

// NewSession derives the session path in the format cfg.Generation expects.
func NewSession(shared *transport.Shared, cfg SessionConfig) (*Session, error) {
	if shared == nil {
		return nil, errors.New("wallet session needs a transport")
	}
	if cfg.Generation == 0 {
		cfg.Generation = apdu.GenerationLegacy
	}
	if cfg.Curve == 0 {
		cfg.Curve = apdu.CurveEd25519
	}
	if cfg.OnDisconnect == nil {
		cfg.OnDisconnect = func() {}
	}

	path, err := derivation.Encode(cfg.Spec, cfg.Generation.PathFormat())
	if err != nil {
		return nil, err
	}
	return &Session{shared: shared, cfg: cfg, path: path}, nil
}

// Path returns the encoded derivation path.
func (s *Session) Path() derivation.Path {
	return s.path
}

// State returns the current lifecycle stage.
func (s *Session) State() State {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state
}

// Init connects (reusing the shared connection when one exists) and caches
// the public key. Calling it again while ready only re-fetches the key.
func (s *Session) Init(ctx context.Context) (*Session, error) {
	s.initMu.Lock()
	defer s.initMu.Unlock()

	s.mu.Lock()
	if s.state == StateDisconnected {
		s.mu.Unlock()
		return nil, ErrDisconnected
	}
	h := s.handle
	if h == nil {
		s.state = StateConnecting
	}
	s.mu.Unlock()

	if h == nil {
		var err error
		h, err = s.shared.Acquire(ctx)
		if err != nil {
			s.setState(StateUninitialized)
			return nil, err
		}
		h.OnDisconnect(s.disconnected)

		s.mu.Lock()
		s.handle = h
		s.mu.Unlock()
	}

	pk, err := s.fetchPublicKey(ctx, h, false)
	if err != nil {
		s.mu.Lock()
		if s.state == StateConnecting {
			s.state = StateUninitialized
		}
		s.mu.Unlock()
		return nil, err
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if s.state == StateDisconnected {
		return nil, ErrDisconnected
	}
	s.pubkey = pk
	s.state = StateReady
	log.WithFields(logrus.Fields{
		"path":      s.path.String(),
		"publicKey": pk.String(),
	}).Debug("Session ready")
	return s, nil
}

// PublicKey returns the key cached by Init.
func (s *Session) PublicKey() (solana.PublicKey, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	switch s.state {
	case StateReady:
		return s.pubkey, nil
	case StateDisconnected:
		return nil, ErrDisconnected
	default:
		return nil, ErrNotInitialized
	}
}

// ConfirmPublicKey asks the device to display and confirm the key. The
// cached key is left alone.
func (s *Session) ConfirmPublicKey(ctx context.Context) (solana.PublicKey, error) {
	h, _, err := s.ready()
	if err != nil {
		return nil, err
	}
	return s.fetchPublicKey(ctx, h, true)
}

// SignBytes returns the raw device signature over message.
func (s *Session) SignBytes(ctx context.Context, message []byte) ([]byte, error) {
	return s.sign(ctx, message, s.cfg.TxType)
}

// CreateSignature signs an arbitrary message and returns the base-58
// signature.
func (s *Session) CreateSignature(ctx context.Context, message []byte) (string, error) {
	sig, err := s.sign(ctx, message, apdu.TxTypeMessage)
	if err != nil {
		return "", err
	}
	return solana.EncodeSignature(sig), nil
}

// SignTransaction signs the transaction's message and attaches the
// signature. On error tx is left untouched.
func (s *Session) SignTransaction(ctx context.Context, tx Transaction) (Transaction, error) {
	_, pk, err := s.ready()
	if err != nil {
		return nil, err
	}
	msg, err := tx.SerializeSignableMessage()
	if err != nil {
		return nil, fmt.Errorf("serialize transaction: %w", err)
	}
	sig, err := s.sign(ctx, msg, s.cfg.TxType)
	if err != nil {
		return nil, err
	}
	if err := tx.AttachSignature(pk, sig); err != nil {
		return nil, fmt.Errorf("attach signature: %w", err)
	}
	return tx, nil
}

// SignMessage implements Signer.
func (s *Session) SignMessage(ctx context.Context, message []byte) ([]byte, error) {
	return s.sign(ctx, message, apdu.TxTypeMessage)
}

// Close releases the session's hold on the shared connection.
func (s *Session) Close() error {
	s.mu.Lock()
	h := s.handle
	s.handle = nil
	if s.state != StateDisconnected {
		s.state = StateUninitialized
	}
	s.pubkey = nil
	s.mu.Unlock()

	if h == nil {
		return nil
	}
	return h.Release()
}

func (s *Session) sign(ctx context.Context, message []byte, txType uint16) ([]byte, error) {
	h, _, err := s.ready()
	if err != nil {
		return nil, err
	}

	var cmd apdu.Command
	switch s.cfg.Generation {
	case apdu.GenerationExtended:
		cmd, err = apdu.BuildSignRequest([]derivation.Path{s.path}, [][]byte{message}, txType, s.cfg.ChainID)
	default:
		cmd, err = apdu.BuildLegacySignRequest(s.path, message)
	}
	if err != nil {
		return nil, err
	}

	ctx, cancel := s.withTimeout(ctx)
	defer cancel()
	rsp, err := h.Send(ctx, cmd)
	if err != nil {
		return nil, s.transportError(err)
	}
	sigs, err := apdu.SplitSignatures(rsp, 1, s.cfg.Curve.SignatureLength())
	if err != nil {
		return nil, err
	}
	log.WithField("bytes", len(message)).Debug("Message signed")
	return sigs[0], nil
}

func (s *Session) fetchPublicKey(ctx context.Context, h *transport.Handle, confirm bool) (solana.PublicKey, error) {
	ctx, cancel := s.withTimeout(ctx)
	defer cancel()

	want := s.cfg.Curve.PublicKeyLength()
	if s.cfg.Generation == apdu.GenerationExtended {
		if !h.SupportsKeyQuery() {
			return nil, ErrUnsupportedTransport
		}
		text, err := s.path.Text()
		if err != nil {
			return nil, err
		}
		data, err := h.GetPublicKey(ctx, text, s.cfg.Curve, confirm)
		if err != nil {
			return nil, s.transportError(err)
		}
		data, err = apdu.ValidateLength(data, want)
		if err != nil {
			return nil, err
		}
		return solana.PublicKey(data), nil
	}

	cmd, err := apdu.BuildGetPublicKey(s.path, confirm)
	if err != nil {
		return nil, err
	}
	rsp, err := h.Send(ctx, cmd)
	if err != nil {
		return nil, s.transportError(err)
	}
	data, err := apdu.Validate(rsp, want)
	if err != nil {
		return nil, err
	}
	return solana.PublicKey(data), nil
}

func (s *Session) ready() (*transport.Handle, solana.PublicKey, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	switch s.state {
	case StateReady:
		return s.handle, s.pubkey, nil
	case StateDisconnected:
		return nil, nil, ErrDisconnected
	default:
		return nil, nil, ErrNotInitialized
	}
}

func (s *Session) withTimeout(ctx context.Context) (context.Context, context.CancelFunc) {
	if s.cfg.Timeout <= 0 {
		return context.WithCancel(ctx)
	}
	return context.WithTimeout(ctx, s.cfg.Timeout)
}

// transportError maps a lost connection onto ErrDisconnected.
func (s *Session) transportError(err error) error {
	if errors.Is(err, transport.ErrDisconnected) {
		s.disconnected()
		return fmt.Errorf("%w: %v", ErrDisconnected, err)
	}
	return err
}

func (s *Session) disconnected() {
	s.mu.Lock()
	if s.state == StateDisconnected {
		s.mu.Unlock()
		return
	}
	s.state = StateDisconnected
	s.pubkey = nil
	s.mu.Unlock()

	log.WithField("path", s.path.String()).Warn("Device disconnected")
	s.cfg.OnDisconnect()
}

func (s *Session) setState(st State) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.state = st
}
