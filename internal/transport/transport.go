// Package transport defines the capability contract of a signing device
// channel and the shared, reference-counted handle sessions use to reach it.
package transport

import (
	"context"
	"errors"

	"github.com/sirupsen/logrus"
	"github.com/yolodolo42/solsign/internal/apdu"
)

var log = logrus.WithField("prefix", "transport")

var (
	ErrConnectFailure      = errors.New("transport connect failure")
	ErrDisconnected        = errors.New("device disconnected")
	ErrNotConnected        = errors.New("transport not connected")
	ErrReleased            = errors.New("transport handle released")
	ErrKeyQueryUnsupported = errors.New("transport does not support public key queries")
)

// Transport carries APDU exchanges to a device. Implementations are not
// required to be safe for concurrent use; Shared serializes access.
type Transport interface {
	// Connect opens the channel. It is called once per transport.
	Connect(ctx context.Context) error
	// Send performs one request/response exchange.
	Send(ctx context.Context, cmd apdu.Command) (apdu.Response, error)
	// OnDisconnect registers fn to run when the device goes away.
	OnDisconnect(fn func())
	Close() error
}

// KeyTransport is implemented by device families whose transport exposes a
// high-level public key query taking a textual derivation path.
type KeyTransport interface {
	GetPublicKey(ctx context.Context, path string, curve apdu.Curve, confirm bool) ([]byte, error)
}

// Factory creates an unconnected transport.
type Factory func() (Transport, error)
