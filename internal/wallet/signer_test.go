package wallet

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseSignerType(t *testing.T) {
	for in, want := range map[string]SignerType{
		"ledger":  SignerTypeLedger,
		"SecuX":   SignerTypeSecux,
		" local ": SignerTypeLocal,
	} {
		got, err := ParseSignerType(in)
		require.NoError(t, err, in)
		assert.Equal(t, want, got)
	}

	_, err := ParseSignerType("trezor")
	assert.ErrorIs(t, err, ErrUnsupportedSigner)
}

func TestNewSigner(t *testing.T) {
	t.Run("hardware kinds build sessions", func(t *testing.T) {
		shared, calls := deviceShared(newDevice(t))
		for _, kind := range []SignerType{SignerTypeLedger, SignerTypeSecux} {
			signer, err := NewSigner(kind, shared, legacyConfig())
			require.NoError(t, err)
			_, ok := signer.(*Session)
			assert.True(t, ok)
		}
		assert.Equal(t, int32(0), calls.Load())
	})

	t.Run("local is unsupported", func(t *testing.T) {
		shared, _ := deviceShared(newDevice(t))
		_, err := NewSigner(SignerTypeLocal, shared, legacyConfig())
		assert.ErrorIs(t, err, ErrUnsupportedSigner)
	})
}
