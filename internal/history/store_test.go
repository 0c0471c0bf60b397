package history

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/yolodolo42/solsign/internal/testutil"
)

func memStore(t *testing.T) *Store {
	t.Helper()
	s, err := OpenDSN(":memory:")
	require.NoError(t, err)
	t.Cleanup(func() { _ = s.Close() })
	return s
}

func TestOpen(t *testing.T) {
	dir := testutil.TempDir(t)
	s, err := Open(dir)
	require.NoError(t, err)
	require.NoError(t, s.Close())

	_, err = os.Stat(filepath.Join(dir, "history.db"))
	assert.NoError(t, err)
}

func TestStore_RecordAndGet(t *testing.T) {
	s := memStore(t)
	at := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)

	e := Entry{
		Network:   "devnet",
		Signature: "sig1",
		PublicKey: "pk",
		Path:      "m/44'/501'/0'/0'",
		Kind:      KindTransaction,
		Size:      101,
		CreatedAt: at,
	}
	require.NoError(t, s.Record(e))

	got, err := s.Get("devnet", "sig1")
	require.NoError(t, err)
	assert.Equal(t, e.Path, got.Path)
	assert.Equal(t, KindTransaction, got.Kind)
	assert.Equal(t, 101, got.Size)
	assert.True(t, at.Equal(got.CreatedAt))

	t.Run("upsert keeps one row", func(t *testing.T) {
		e.Kind = KindMessage
		require.NoError(t, s.Record(e))
		all, err := s.List(0)
		require.NoError(t, err)
		require.Len(t, all, 1)
		assert.Equal(t, KindMessage, all[0].Kind)
	})

	t.Run("network scoped", func(t *testing.T) {
		_, err := s.Get("mainnet-beta", "sig1")
		assert.ErrorIs(t, err, ErrNotFound)
	})

	t.Run("required fields", func(t *testing.T) {
		assert.Error(t, s.Record(Entry{Network: "devnet"}))
	})
}

func TestStore_List(t *testing.T) {
	s := memStore(t)
	base := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	clock := base
	s.now = func() time.Time {
		clock = clock.Add(time.Minute)
		return clock
	}

	for _, sig := range []string{"a", "b", "c"} {
		require.NoError(t, s.Record(Entry{Network: "testnet", Signature: sig, Kind: KindMessage}))
	}

	got, err := s.List(2)
	require.NoError(t, err)
	require.Len(t, got, 2)
	assert.Equal(t, "c", got[0].Signature)
	assert.Equal(t, "b", got[1].Signature)
	assert.True(t, base.Add(3*time.Minute).Equal(got[0].CreatedAt))

	all, err := s.List(-1)
	require.NoError(t, err)
	assert.Len(t, all, 3)
}

func TestStore_Nil(t *testing.T) {
	var s *Store
	assert.ErrorIs(t, s.Record(Entry{}), ErrNotInitialized)
	_, err := s.List(1)
	assert.ErrorIs(t, err, ErrNotInitialized)
	assert.NoError(t, s.Close())
}
