package crypto

import (
	"bytes"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/shardvault/shardvault/pkg/errdefs"
)

func testEngine(t *testing.T) *Engine {
	t.Helper()
	e, err := NewEngineFromPassphrase("test-passphrase")
	require.NoError(t, err)
	return e
}

func TestNewEngine(t *testing.T) {
	t.Run("rejects short key", func(t *testing.T) {
		_, err := NewEngine(make([]byte, 16))
		assert.Error(t, err)
	})

	t.Run("accepts 32-byte key", func(t *testing.T) {
		e, err := NewEngine(make([]byte, 32))
		require.NoError(t, err)
		assert.Equal(t, CipherTagAES256GCM, e.Tag())
	})

	t.Run("rejects empty passphrase", func(t *testing.T) {
		_, err := NewEngineFromPassphrase("")
		assert.Error(t, err)
	})

	t.Run("passphrase derivation is deterministic", func(t *testing.T) {
		first := testEngine(t)
		second := testEngine(t)

		ct, err := first.Encrypt([]byte("restart survivor"))
		require.NoError(t, err)
		pt, err := second.Decrypt(ct)
		require.NoError(t, err)
		assert.Equal(t, []byte("restart survivor"), pt)
	})
}

func TestRoundTrip(t *testing.T) {
	e := testEngine(t)

	payloads := [][]byte{
		[]byte("hello"),
		{},
		bytes.Repeat([]byte{0x41}, 1<<20),
	}

	for _, p := range payloads {
		ct, err := e.Encrypt(p)
		require.NoError(t, err)
		assert.NotEqual(t, p, ct)

		pt, err := e.Decrypt(ct)
		require.NoError(t, err)
		assert.Equal(t, p, pt)
	}
}

func TestNoncesDiffer(t *testing.T) {
	e := testEngine(t)

	a, err := e.Encrypt([]byte("same plaintext"))
	require.NoError(t, err)
	b, err := e.Encrypt([]byte("same plaintext"))
	require.NoError(t, err)

	assert.NotEqual(t, a, b)
}

func TestDecryptFailures(t *testing.T) {
	e := testEngine(t)

	t.Run("truncated ciphertext", func(t *testing.T) {
		_, err := e.Decrypt([]byte{0x01, 0x02})
		assert.True(t, errors.Is(err, errdefs.ErrCrypto))
	})

	t.Run("tampered ciphertext", func(t *testing.T) {
		ct, err := e.Encrypt([]byte("payload"))
		require.NoError(t, err)

		ct[len(ct)-1] ^= 0xff
		_, err = e.Decrypt(ct)
		assert.True(t, errors.Is(err, errdefs.ErrCrypto))
	})

	t.Run("wrong key", func(t *testing.T) {
		other, err := NewEngineFromPassphrase("different")
		require.NoError(t, err)

		ct, err := e.Encrypt([]byte("payload"))
		require.NoError(t, err)

		_, err = other.Decrypt(ct)
		assert.True(t, errors.Is(err, errdefs.ErrCrypto))
	})
}

func TestKnownCipherTag(t *testing.T) {
	assert.True(t, KnownCipherTag(CipherTagAES256GCM))
	assert.False(t, KnownCipherTag("DES"))
	assert.False(t, KnownCipherTag(""))
}
