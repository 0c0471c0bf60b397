package transport

import (
	"context"
	"fmt"
	"sync"

	"github.com/ethereum/go-ethereum/common/hexutil"
	"github.com/sirupsen/logrus"
	"github.com/yolodolo42/solsign/internal/apdu"
)

// Shared owns the single physical connection to a device and hands out
// reference-counted handles to it. The first Acquire creates and connects
// the transport; later ones reuse it. Exchanges from all handles are
// serialized, since device firmware cannot process concurrent APDUs.
type Shared struct {
	factory Factory

	// mu protects the fields below. It is held while connecting so two
	// sessions racing on the first Acquire never open two connections.
	mu        sync.Mutex
	tr        Transport
	epoch     uint64 // bumped on every successful connect
	refs      int
	listeners map[*Handle]func()

	// commsLock (buf=1) gives exclusive device access without blocking state
	// readers, and lets waiters give up when their context ends.
	commsLock chan struct{}
}

// NewShared returns an unconnected shared transport built by factory.
func NewShared(factory Factory) *Shared {
	s := &Shared{
		factory:   factory,
		listeners: make(map[*Handle]func()),
		commsLock: make(chan struct{}, 1),
	}
	s.commsLock <- struct{}{}
	return s
}

// Acquire returns a handle on the shared transport, connecting it if no
// live connection exists. On failure the shared transport stays unset so a
// later call can retry.
func (s *Shared) Acquire(ctx context.Context) (*Handle, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.tr == nil {
		tr, err := s.factory()
		if err != nil {
			return nil, fmt.Errorf("%w: %v", ErrConnectFailure, err)
		}
		if err := tr.Connect(ctx); err != nil {
			_ = tr.Close() // Best-effort cleanup of the half-open transport
			return nil, fmt.Errorf("%w: %v", ErrConnectFailure, err)
		}

		s.epoch++
		epoch := s.epoch
		tr.OnDisconnect(func() { s.disconnected(epoch) })
		s.tr = tr
		log.WithField("epoch", epoch).Info("Device connected")
	}

	s.refs++
	return &Handle{shared: s, epoch: s.epoch}, nil
}

// Connected reports whether a live transport exists.
func (s *Shared) Connected() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.tr != nil
}

// Refs is the number of unreleased handles on the live transport.
func (s *Shared) Refs() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.refs
}

// disconnected drops the transport of the given epoch and notifies every
// handle listener. Reconnection is left to the next Acquire.
func (s *Shared) disconnected(epoch uint64) {
	s.mu.Lock()
	if s.tr == nil || epoch != s.epoch {
		s.mu.Unlock()
		return
	}
	tr := s.tr
	s.tr = nil
	s.refs = 0
	notify := make([]func(), 0, len(s.listeners))
	for h, fn := range s.listeners {
		if h.epoch == epoch {
			notify = append(notify, fn)
			delete(s.listeners, h)
		}
	}
	s.mu.Unlock()

	log.WithField("epoch", epoch).Warn("Device disconnected")
	_ = tr.Close()
	for _, fn := range notify {
		fn()
	}
}

// live returns the transport if h still belongs to the current connection.
func (s *Shared) live(h *Handle) (Transport, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if h.released {
		return nil, ErrReleased
	}
	if s.tr == nil || h.epoch != s.epoch {
		return nil, ErrDisconnected
	}
	return s.tr, nil
}

func (s *Shared) lockComms(ctx context.Context) error {
	select {
	case <-s.commsLock:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (s *Shared) unlockComms() {
	s.commsLock <- struct{}{}
}

// Handle is one holder's reference to a Shared transport.
type Handle struct {
	shared   *Shared
	epoch    uint64
	released bool // guarded by shared.mu
}

// Send performs one exchange, waiting for any exchange in flight on another
// handle to finish first. Commands longer than a short APDU go out as
// chunks without releasing the device in between; a chunk the device
// refuses ends the exchange with that response.
func (h *Handle) Send(ctx context.Context, cmd apdu.Command) (apdu.Response, error) {
	tr, err := h.shared.live(h)
	if err != nil {
		return apdu.Response{}, err
	}
	if err := h.shared.lockComms(ctx); err != nil {
		return apdu.Response{}, err
	}
	defer h.shared.unlockComms()

	chunks := cmd.Chunks()
	var rsp apdu.Response
	for i, chunk := range chunks {
		logger := log.WithFields(logrus.Fields{
			"cla":   fmt.Sprintf("0x%02x", chunk.CLA),
			"ins":   fmt.Sprintf("0x%02x", chunk.INS),
			"p1":    chunk.P1,
			"p2":    chunk.P2,
			"chunk": fmt.Sprintf("%d/%d", i+1, len(chunks)),
		})
		logger.WithField("payload", hexutil.Encode(chunk.Payload)).Trace("APDU sent")

		if rsp, err = tr.Send(ctx, chunk); err != nil {
			return apdu.Response{}, err
		}
		logger.WithFields(logrus.Fields{
			"status": fmt.Sprintf("0x%04x", rsp.Status),
			"data":   hexutil.Encode(rsp.Data),
		}).Trace("APDU received")

		if rsp.Status != apdu.StatusOK {
			break
		}
	}
	return rsp, nil
}

// SupportsKeyQuery reports whether the transport implements KeyTransport.
func (h *Handle) SupportsKeyQuery() bool {
	tr, err := h.shared.live(h)
	if err != nil {
		return false
	}
	_, ok := tr.(KeyTransport)
	return ok
}

// GetPublicKey forwards to the transport's KeyTransport capability.
func (h *Handle) GetPublicKey(ctx context.Context, path string, curve apdu.Curve, confirm bool) ([]byte, error) {
	tr, err := h.shared.live(h)
	if err != nil {
		return nil, err
	}
	kt, ok := tr.(KeyTransport)
	if !ok {
		return nil, ErrKeyQueryUnsupported
	}
	if err := h.shared.lockComms(ctx); err != nil {
		return nil, err
	}
	defer h.shared.unlockComms()

	log.WithFields(logrus.Fields{"path": path, "curve": curve, "confirm": confirm}).Trace("Public key query")
	return kt.GetPublicKey(ctx, path, curve, confirm)
}

// OnDisconnect registers fn to run once if the device behind this handle
// goes away. A later call replaces the earlier callback.
func (h *Handle) OnDisconnect(fn func()) {
	h.shared.mu.Lock()
	defer h.shared.mu.Unlock()
	if h.released || h.epoch != h.shared.epoch || h.shared.tr == nil {
		return
	}
	h.shared.listeners[h] = fn
}

// Release drops the reference. The last release on a live connection closes
// the device. Releasing twice is a no-op.
func (h *Handle) Release() error {
	s := h.shared
	s.mu.Lock()
	if h.released {
		s.mu.Unlock()
		return nil
	}
	h.released = true
	delete(s.listeners, h)

	var closing Transport
	if s.tr != nil && h.epoch == s.epoch {
		s.refs--
		if s.refs == 0 {
			closing = s.tr
			s.tr = nil
		}
	}
	s.mu.Unlock()

	if closing == nil {
		return nil
	}
	log.Debug("Last handle released, closing device")
	if err := closing.Close(); err != nil {
		return fmt.Errorf("close transport: %w", err)
	}
	return nil
}
