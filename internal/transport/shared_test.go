package transport

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/yolodolo42/solsign/internal/apdu"
)

type fakeTransport struct {
	mu         sync.Mutex
	connectErr error
	connected  bool
	closed     int
	sent       []apdu.Command
	inFlight   int
	maxFlight  int
	delay      time.Duration
	listeners  []func()
}

func (f *fakeTransport) Connect(ctx context.Context) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.connectErr != nil {
		return f.connectErr
	}
	f.connected = true
	return nil
}

func (f *fakeTransport) Send(ctx context.Context, cmd apdu.Command) (apdu.Response, error) {
	f.mu.Lock()
	f.inFlight++
	if f.inFlight > f.maxFlight {
		f.maxFlight = f.inFlight
	}
	f.sent = append(f.sent, cmd)
	f.mu.Unlock()

	time.Sleep(f.delay)

	f.mu.Lock()
	f.inFlight--
	f.mu.Unlock()
	return apdu.Response{Status: apdu.StatusOK, Data: []byte{cmd.INS}}, nil
}

func (f *fakeTransport) OnDisconnect(fn func()) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.listeners = append(f.listeners, fn)
}

func (f *fakeTransport) Close() error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.closed++
	return nil
}

func (f *fakeTransport) unplug() {
	f.mu.Lock()
	listeners := f.listeners
	f.mu.Unlock()
	for _, fn := range listeners {
		fn()
	}
}

type keyFake struct {
	fakeTransport
}

func (k *keyFake) GetPublicKey(ctx context.Context, path string, curve apdu.Curve, confirm bool) ([]byte, error) {
	return []byte(path), nil
}

type countingFactory struct {
	calls  int
	errs   []error
	builds []*fakeTransport
}

func (c *countingFactory) factory() (Transport, error) {
	c.calls++
	f := &fakeTransport{}
	if len(c.errs) > 0 {
		f.connectErr = c.errs[0]
		c.errs = c.errs[1:]
	}
	c.builds = append(c.builds, f)
	return f, nil
}

func TestShared_Acquire(t *testing.T) {
	t.Run("connects once and reuses", func(t *testing.T) {
		cf := &countingFactory{}
		s := NewShared(cf.factory)
		assert.False(t, s.Connected())

		h1, err := s.Acquire(context.Background())
		require.NoError(t, err)
		h2, err := s.Acquire(context.Background())
		require.NoError(t, err)

		assert.Equal(t, 1, cf.calls)
		assert.True(t, cf.builds[0].connected)
		assert.True(t, s.Connected())
		assert.Equal(t, 2, s.Refs())

		_, err = h1.Send(context.Background(), apdu.Command{INS: 1})
		require.NoError(t, err)
		_, err = h2.Send(context.Background(), apdu.Command{INS: 2})
		require.NoError(t, err)
		assert.Len(t, cf.builds[0].sent, 2)
	})

	t.Run("connect failure leaves transport unset for retry", func(t *testing.T) {
		cf := &countingFactory{errs: []error{errors.New("no device")}}
		s := NewShared(cf.factory)

		_, err := s.Acquire(context.Background())
		assert.ErrorIs(t, err, ErrConnectFailure)
		assert.Contains(t, err.Error(), "no device")
		assert.False(t, s.Connected())
		assert.Equal(t, 1, cf.builds[0].closed)

		h, err := s.Acquire(context.Background())
		require.NoError(t, err)
		require.NotNil(t, h)
		assert.Equal(t, 2, cf.calls)
		assert.True(t, s.Connected())
	})

	t.Run("factory failure", func(t *testing.T) {
		s := NewShared(func() (Transport, error) { return nil, errors.New("boom") })
		_, err := s.Acquire(context.Background())
		assert.ErrorIs(t, err, ErrConnectFailure)
	})
}

func TestHandle_Release(t *testing.T) {
	cf := &countingFactory{}
	s := NewShared(cf.factory)

	h1, err := s.Acquire(context.Background())
	require.NoError(t, err)
	h2, err := s.Acquire(context.Background())
	require.NoError(t, err)

	require.NoError(t, h1.Release())
	require.NoError(t, h1.Release())
	assert.Equal(t, 1, s.Refs())
	assert.Equal(t, 0, cf.builds[0].closed)

	_, err = h1.Send(context.Background(), apdu.Command{})
	assert.ErrorIs(t, err, ErrReleased)

	require.NoError(t, h2.Release())
	assert.Equal(t, 1, cf.builds[0].closed)
	assert.False(t, s.Connected())

	// A fresh acquire opens a new connection.
	_, err = s.Acquire(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 2, cf.calls)
}

func TestShared_Disconnect(t *testing.T) {
	cf := &countingFactory{}
	s := NewShared(cf.factory)

	h1, err := s.Acquire(context.Background())
	require.NoError(t, err)
	h2, err := s.Acquire(context.Background())
	require.NoError(t, err)

	var fired1, fired2 int
	h1.OnDisconnect(func() { fired1++ })
	h2.OnDisconnect(func() { fired2++ })

	cf.builds[0].unplug()

	assert.Equal(t, 1, fired1)
	assert.Equal(t, 1, fired2)
	assert.False(t, s.Connected())
	assert.Equal(t, 1, cf.builds[0].closed)

	_, err = h1.Send(context.Background(), apdu.Command{})
	assert.ErrorIs(t, err, ErrDisconnected)

	// Stale handles do not disturb the next connection.
	h3, err := s.Acquire(context.Background())
	require.NoError(t, err)
	require.NoError(t, h1.Release())
	assert.Equal(t, 1, s.Refs())
	_, err = h3.Send(context.Background(), apdu.Command{})
	assert.NoError(t, err)

	// A second unplug of the dead transport is ignored.
	cf.builds[0].unplug()
	assert.Equal(t, 1, fired1)
	assert.True(t, s.Connected())
}

func TestHandle_SerializesExchanges(t *testing.T) {
	cf := &countingFactory{}
	s := NewShared(func() (Transport, error) {
		tr, err := cf.factory()
		tr.(*fakeTransport).delay = 5 * time.Millisecond
		return tr, err
	})

	var wg sync.WaitGroup
	for i := 0; i < 4; i++ {
		h, err := s.Acquire(context.Background())
		require.NoError(t, err)
		wg.Add(1)
		go func(h *Handle) {
			defer wg.Done()
			for j := 0; j < 3; j++ {
				_, err := h.Send(context.Background(), apdu.Command{})
				assert.NoError(t, err)
			}
		}(h)
	}
	wg.Wait()

	assert.Equal(t, 1, cf.calls)
	assert.Len(t, cf.builds[0].sent, 12)
	assert.Equal(t, 1, cf.builds[0].maxFlight)
}

func TestHandle_WaitHonoursContext(t *testing.T) {
	s := NewShared(func() (Transport, error) { return &fakeTransport{delay: 200 * time.Millisecond}, nil })
	h, err := s.Acquire(context.Background())
	require.NoError(t, err)

	go func() { _, _ = h.Send(context.Background(), apdu.Command{}) }()
	time.Sleep(20 * time.Millisecond)

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Millisecond)
	defer cancel()
	_, err = h.Send(ctx, apdu.Command{})
	assert.ErrorIs(t, err, context.DeadlineExceeded)
}

func TestHandle_GetPublicKey(t *testing.T) {
	t.Run("raw-only transport", func(t *testing.T) {
		s := NewShared(func() (Transport, error) { return &fakeTransport{}, nil })
		h, err := s.Acquire(context.Background())
		require.NoError(t, err)

		assert.False(t, h.SupportsKeyQuery())
		_, err = h.GetPublicKey(context.Background(), "m/44'/501'", apdu.CurveEd25519, false)
		assert.ErrorIs(t, err, ErrKeyQueryUnsupported)
	})

	t.Run("key transport", func(t *testing.T) {
		s := NewShared(func() (Transport, error) { return &keyFake{}, nil })
		h, err := s.Acquire(context.Background())
		require.NoError(t, err)

		assert.True(t, h.SupportsKeyQuery())
		got, err := h.GetPublicKey(context.Background(), "m/44'/501'", apdu.CurveEd25519, false)
		require.NoError(t, err)
		assert.Equal(t, []byte("m/44'/501'"), got)
	})
}
