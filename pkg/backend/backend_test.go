package backend

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/shardvault/shardvault/pkg/errdefs"
)

func TestChunkPath(t *testing.T) {
	assert.Equal(t, "/srv/chunks/f7c3/chunk_0.enc", ChunkPath("/srv/chunks", "f7c3", 0))
	assert.Equal(t, "/srv/chunks/f7c3/chunk_12.enc", ChunkPath("/srv/chunks", "f7c3", 12))
	assert.Equal(t, "/srv/chunks/f7c3", FileDir("/srv/chunks", "f7c3"))
}

func TestEndpointDefaults(t *testing.T) {
	e := Endpoint{Name: "b1", Host: "10.0.0.1"}
	e.ApplyDefaults()

	assert.Equal(t, DefaultPort, e.Port)
	assert.Equal(t, DefaultMaxConcurrent, e.MaxConcurrent)
	assert.Equal(t, DefaultDialTimeout, e.DialTimeout)
	assert.Equal(t, "10.0.0.1:22", e.Addr())
}

func TestNewSFTPClientRequiresCredentials(t *testing.T) {
	_, err := NewSFTPClient(Endpoint{Name: "b1", Host: "10.0.0.1", User: "vault"})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "neither password nor private key")
}

func TestMemoryClient(t *testing.T) {
	ctx := context.Background()
	client := NewMemoryClient("mem-1")
	path := ChunkPath("/srv/chunks", "abc", 0)

	t.Run("put then get", func(t *testing.T) {
		require.NoError(t, client.Put(ctx, path, []byte("ciphertext")))
		data, err := client.Get(ctx, path)
		require.NoError(t, err)
		assert.Equal(t, []byte("ciphertext"), data)
	})

	t.Run("get returns a copy", func(t *testing.T) {
		data, err := client.Get(ctx, path)
		require.NoError(t, err)
		data[0] = 'X'

		again, err := client.Get(ctx, path)
		require.NoError(t, err)
		assert.Equal(t, []byte("ciphertext"), again)
	})

	t.Run("missing path is not found", func(t *testing.T) {
		_, err := client.Get(ctx, "/srv/chunks/missing/chunk_0.enc")
		assert.True(t, errors.Is(err, errdefs.ErrNotFound))
	})

	t.Run("delete is idempotent", func(t *testing.T) {
		require.NoError(t, client.Delete(ctx, path))
		require.NoError(t, client.Delete(ctx, path))
		assert.Equal(t, 0, client.Len())
	})

	t.Run("fault injection", func(t *testing.T) {
		boom := errors.New("boom")
		client.PutErr = boom
		assert.ErrorIs(t, client.Put(ctx, path, []byte("x")), boom)
		client.PutErr = nil
	})

	t.Run("cancelled context", func(t *testing.T) {
		cancelled, cancel := context.WithCancel(ctx)
		cancel()
		assert.Error(t, client.Put(cancelled, path, []byte("x")))
	})
}
