package derivation

import (
	"encoding/binary"
	"encoding/hex"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestEncode_Binary(t *testing.T) {
	t.Run("account-change zero matches device layout", func(t *testing.T) {
		p, err := Encode(Spec{Mode: ModeAccountChange}, FormatBinary)
		require.NoError(t, err)

		b, err := p.Bytes()
		require.NoError(t, err)
		assert.Equal(t, "04"+"8000002c"+"800001f5"+"80000000"+"80000000", hex.EncodeToString(b))
	})

	t.Run("account-change is always 17 bytes with hardened segments", func(t *testing.T) {
		pairs := [][2]uint32{{0, 0}, {1, 0}, {0, 1}, {7, 42}, {0x7fffffff, 0x7fffffff}, {0xffffffff, 3}}
		for _, pair := range pairs {
			p, err := Encode(Spec{Account: pair[0], Change: pair[1], Mode: ModeAccountChange}, FormatBinary)
			require.NoError(t, err)

			b, err := p.Bytes()
			require.NoError(t, err)
			require.Len(t, b, 17)
			assert.Equal(t, byte(4), b[0])
			for i := 0; i < 4; i++ {
				seg := binary.BigEndian.Uint32(b[1+4*i:])
				assert.NotZero(t, seg&HardenedBit, "segment %d of %v not hardened", i, pair)
			}
			assert.Equal(t, Harden(pair[0]), binary.BigEndian.Uint32(b[9:]))
			assert.Equal(t, Harden(pair[1]), binary.BigEndian.Uint32(b[13:]))
		}
	})

	t.Run("root ignores account and change", func(t *testing.T) {
		want, err := Encode(Spec{Mode: ModeRoot}, FormatBinary)
		require.NoError(t, err)
		wantBytes, err := want.Bytes()
		require.NoError(t, err)
		require.Len(t, wantBytes, 9)

		got, err := Encode(Spec{Account: 12, Change: 99, Mode: ModeRoot}, FormatBinary)
		require.NoError(t, err)
		gotBytes, err := got.Bytes()
		require.NoError(t, err)
		assert.Equal(t, wantBytes, gotBytes)
	})

	t.Run("account appends one hardened segment", func(t *testing.T) {
		p, err := Encode(Spec{Account: 3, Change: 5, Mode: ModeAccount}, FormatBinary)
		require.NoError(t, err)

		b, err := p.Bytes()
		require.NoError(t, err)
		assert.Equal(t, "03"+"8000002c"+"800001f5"+"80000003", hex.EncodeToString(b))
	})
}

func TestEncode_String(t *testing.T) {
	cases := []struct {
		spec Spec
		want string
	}{
		{Spec{Mode: ModeRoot, Account: 4}, "m/44'/501'"},
		{Spec{Mode: ModeAccount, Account: 4}, "m/44'/501'/4'"},
		{Spec{Mode: ModeAccountChange, Account: 4, Change: 1}, "m/44'/501'/4'/1'"},
		{Spec{Mode: ModeAccountChange}, "m/44'/501'/0'/0'"},
	}
	for _, tc := range cases {
		t.Run(tc.want, func(t *testing.T) {
			p, err := Encode(tc.spec, FormatString)
			require.NoError(t, err)

			s, err := p.Text()
			require.NoError(t, err)
			assert.Equal(t, tc.want, s)
		})
	}
}

func TestEncode_Errors(t *testing.T) {
	t.Run("unknown mode", func(t *testing.T) {
		_, err := Encode(Spec{Mode: Mode(9)}, FormatBinary)
		assert.ErrorIs(t, err, ErrInvalidDerivationMode)
	})

	t.Run("zero mode", func(t *testing.T) {
		_, err := Encode(Spec{}, FormatString)
		assert.ErrorIs(t, err, ErrInvalidDerivationMode)
	})

	t.Run("unknown format", func(t *testing.T) {
		_, err := Encode(Spec{Mode: ModeRoot}, Format(0))
		assert.ErrorIs(t, err, ErrInvalidFormat)
	})
}

func TestPath_FormatsDoNotMix(t *testing.T) {
	bin, err := Encode(Spec{Mode: ModeAccount}, FormatBinary)
	require.NoError(t, err)
	_, err = bin.Text()
	assert.ErrorIs(t, err, ErrFormatMismatch)

	str, err := Encode(Spec{Mode: ModeAccount}, FormatString)
	require.NoError(t, err)
	_, err = str.Bytes()
	assert.ErrorIs(t, err, ErrFormatMismatch)

	assert.Equal(t, bin.SegmentBytes(), str.SegmentBytes())
	assert.Equal(t, "m/44'/501'/0'", bin.String())
}

func TestParse(t *testing.T) {
	t.Run("five segment path", func(t *testing.T) {
		p, err := Parse("m/44'/501'/0'/0'/7", FormatBinary)
		require.NoError(t, err)
		assert.Equal(t, 5, p.Depth())
		assert.Equal(t, uint32(7), p.Segments()[4])
	})

	t.Run("round trips encoded string", func(t *testing.T) {
		enc, err := Encode(Spec{Account: 2, Change: 1, Mode: ModeAccountChange}, FormatString)
		require.NoError(t, err)
		s, err := enc.Text()
		require.NoError(t, err)

		p, err := Parse(s, FormatString)
		require.NoError(t, err)
		assert.Equal(t, enc.Segments(), p.Segments())
	})

	t.Run("rejects other coin types", func(t *testing.T) {
		_, err := Parse("m/44'/60'/0'/0/0", FormatBinary)
		assert.ErrorIs(t, err, ErrForeignPath)
	})

	t.Run("rejects relative paths", func(t *testing.T) {
		_, err := Parse("44'/501'/0'", FormatBinary)
		assert.ErrorIs(t, err, ErrForeignPath)
	})

	t.Run("rejects garbage", func(t *testing.T) {
		_, err := Parse("m/44'/501'/x", FormatBinary)
		assert.Error(t, err)
	})
}

func TestParseMode(t *testing.T) {
	for in, want := range map[string]Mode{
		"root":           ModeRoot,
		"bip44Root":      ModeRoot,
		"account":        ModeAccount,
		"bip44":          ModeAccount,
		"account-change": ModeAccountChange,
		"bip44Change":    ModeAccountChange,
	} {
		got, err := ParseMode(in)
		require.NoError(t, err, in)
		assert.Equal(t, want, got, in)
	}

	_, err := ParseMode("bip32")
	assert.ErrorIs(t, err, ErrInvalidDerivationMode)
}
