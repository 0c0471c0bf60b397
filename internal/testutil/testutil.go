// Package testutil holds helpers shared by package tests.
package testutil

import (
	"bytes"
	"os"
	"testing"
)

// TempDir returns a fresh directory removed when the test ends.
func TempDir(t *testing.T) string {
	t.Helper()
	return t.TempDir()
}

// SetEnv sets key for the duration of the test.
func SetEnv(t *testing.T, key, value string) {
	t.Helper()
	t.Setenv(key, value)
}

// UnsetEnv removes key for the duration of the test. The previous value
// comes back on cleanup.
func UnsetEnv(t *testing.T, key string) {
	t.Helper()
	t.Setenv(key, "")
	if err := os.Unsetenv(key); err != nil {
		t.Fatalf("unset %s: %v", key, err)
	}
}

// SolanaMessage builds a minimal legacy Solana message requiring signatures
// from signers, followed by one read-only program account and no
// instructions. Keys must be 32 bytes.
func SolanaMessage(t *testing.T, signers ...[]byte) []byte {
	t.Helper()
	var b bytes.Buffer
	b.Write([]byte{byte(len(signers)), 0, 1})
	b.WriteByte(byte(len(signers) + 1))
	for _, s := range signers {
		if len(s) != 32 {
			t.Fatalf("signer key must be 32 bytes, got %d", len(s))
		}
		b.Write(s)
	}
	b.Write(bytes.Repeat([]byte{0x11}, 32)) // program id
	b.Write(bytes.Repeat([]byte{0x22}, 32)) // recent blockhash
	b.WriteByte(0)                          // instructions
	return b.Bytes()
}
