package transport

import (
	"context"
	"encoding/binary"
	"errors"
	"fmt"
	"io"
	"net"
	"sync"
	"time"

	"github.com/yolodolo42/solsign/internal/apdu"
)

// maxReplyLength bounds the length prefix of a reply so a confused peer
// cannot make us allocate arbitrarily.
const maxReplyLength = 64 * 1024

var errReplyTooLarge = errors.New("reply length exceeds limit")

// TCP speaks APDUs over a stream socket, the protocol device simulators
// expose. Requests are a 4-byte big-endian length followed by the short
// APDU; replies are a 4-byte big-endian data length, the data, then the
// two status bytes.
type TCP struct {
	addr        string
	dialTimeout time.Duration

	mu        sync.Mutex
	conn      net.Conn
	listeners []func()
}

var _ Transport = (*TCP)(nil)

// NewTCP returns an unconnected transport for addr (host:port).
func NewTCP(addr string, dialTimeout time.Duration) *TCP {
	return &TCP{addr: addr, dialTimeout: dialTimeout}
}

// Connect dials the device endpoint.
func (t *TCP) Connect(ctx context.Context) error {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.conn != nil {
		return nil
	}

	d := net.Dialer{Timeout: t.dialTimeout}
	conn, err := d.DialContext(ctx, "tcp", t.addr)
	if err != nil {
		return fmt.Errorf("dial %s: %w", t.addr, err)
	}
	t.conn = conn
	return nil
}

// Send writes one APDU and reads the reply. A broken connection is reported
// to OnDisconnect listeners.
func (t *TCP) Send(ctx context.Context, cmd apdu.Command) (apdu.Response, error) {
	t.mu.Lock()
	conn := t.conn
	t.mu.Unlock()
	if conn == nil {
		return apdu.Response{}, ErrNotConnected
	}

	raw, err := cmd.MarshalBinary()
	if err != nil {
		return apdu.Response{}, err
	}

	// Unblock reads and writes once the caller gives up, so the error is
	// always reported as the context's.
	_ = conn.SetDeadline(time.Time{})
	stop := context.AfterFunc(ctx, func() {
		_ = conn.SetDeadline(time.Unix(1, 0))
	})
	defer stop()

	rsp, err := exchange(conn, raw)
	if err != nil {
		if ctxErr := ctx.Err(); ctxErr != nil {
			return apdu.Response{}, ctxErr
		}
		var nerr net.Error
		if errors.Is(err, io.EOF) || errors.Is(err, io.ErrUnexpectedEOF) || errors.Is(err, net.ErrClosed) || (errors.As(err, &nerr) && !nerr.Timeout()) {
			t.dropped()
			return apdu.Response{}, fmt.Errorf("%w: %v", ErrDisconnected, err)
		}
		return apdu.Response{}, err
	}
	return rsp, nil
}

func exchange(rw io.ReadWriter, raw []byte) (apdu.Response, error) {
	frame := make([]byte, 4, 4+len(raw))
	binary.BigEndian.PutUint32(frame, uint32(len(raw)))
	frame = append(frame, raw...)
	if _, err := rw.Write(frame); err != nil {
		return apdu.Response{}, err
	}

	var hdr [4]byte
	if _, err := io.ReadFull(rw, hdr[:]); err != nil {
		return apdu.Response{}, err
	}
	n := binary.BigEndian.Uint32(hdr[:])
	if n > maxReplyLength {
		return apdu.Response{}, fmt.Errorf("%w: %d bytes", errReplyTooLarge, n)
	}
	reply := make([]byte, int(n)+2)
	if _, err := io.ReadFull(rw, reply); err != nil {
		return apdu.Response{}, err
	}
	return apdu.ParseResponse(reply)
}

// OnDisconnect registers fn to run when the connection breaks.
func (t *TCP) OnDisconnect(fn func()) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.listeners = append(t.listeners, fn)
}

// dropped closes the connection and notifies listeners outside the lock, as
// listeners may call back into Close.
func (t *TCP) dropped() {
	t.mu.Lock()
	if t.conn == nil {
		t.mu.Unlock()
		return
	}
	_ = t.conn.Close()
	t.conn = nil
	listeners := t.listeners
	t.listeners = nil
	t.mu.Unlock()

	for _, fn := range listeners {
		fn()
	}
}

// Close closes the connection without notifying listeners.
func (t *TCP) Close() error {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.conn == nil {
		return nil
	}
	err := t.conn.Close()
	t.conn = nil
	t.listeners = nil
	return err
}
