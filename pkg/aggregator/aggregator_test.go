package aggregator

import (
	"bytes"
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/shardvault/shardvault/internal/bytesize"
	"github.com/shardvault/shardvault/pkg/backend"
	"github.com/shardvault/shardvault/pkg/backend/pool"
	"github.com/shardvault/shardvault/pkg/crypto"
	"github.com/shardvault/shardvault/pkg/errdefs"
	"github.com/shardvault/shardvault/pkg/metadata/models"
	"github.com/shardvault/shardvault/pkg/metadata/store"
)

func newTestService(t *testing.T, backends int) (*Service, []*backend.MemoryClient) {
	t.Helper()

	metaStore, err := store.New(&store.Config{
		Type:   store.DatabaseTypeSQLite,
		SQLite: store.SQLiteConfig{Path: ":memory:"},
	})
	require.NoError(t, err)
	t.Cleanup(func() { metaStore.Close() })

	clients := make([]*backend.MemoryClient, backends)
	poolClients := make([]backend.Client, backends)
	names := []string{"b1", "b2", "b3", "b4"}
	for i := 0; i < backends; i++ {
		clients[i] = backend.NewMemoryClient(names[i])
		poolClients[i] = clients[i]
	}
	backendPool, err := pool.New(poolClients, 2, time.Second)
	require.NoError(t, err)

	engine, err := crypto.NewEngineFromPassphrase("test-passphrase")
	require.NoError(t, err)

	svc, err := New(metaStore, backendPool, engine, Config{
		ChunkSize: bytesize.KiB,
	})
	require.NoError(t, err)
	return svc, clients
}

func payload(n int) []byte {
	data := make([]byte, n)
	for i := range data {
		data[i] = byte(i % 251)
	}
	return data
}

func TestUploadDownloadRoundTrip(t *testing.T) {
	svc, clients := newTestService(t, 3)
	ctx := context.Background()

	data := payload(3*1024 + 100) // 4 chunks at 1KiB
	result, err := svc.Upload(ctx, UploadRequest{
		Name:  "report.pdf",
		Owner: "alice",
		Size:  int64(len(data)),
		Body:  bytes.NewReader(data),
	})
	require.NoError(t, err)
	assert.Equal(t, 4, result.Chunks)
	assert.Equal(t, "AES256GCM", result.CipherTag)

	t.Run("chunks spread round robin", func(t *testing.T) {
		// 4 chunks over 3 backends: first backend gets two.
		assert.Equal(t, 2, clients[0].Len())
		assert.Equal(t, 1, clients[1].Len())
		assert.Equal(t, 1, clients[2].Len())
	})

	t.Run("download restores the plaintext", func(t *testing.T) {
		var out bytes.Buffer
		require.NoError(t, svc.Download(ctx, result.FileID, &out))
		assert.Equal(t, data, out.Bytes())
	})

	t.Run("stored chunks are not plaintext", func(t *testing.T) {
		for _, path := range clients[0].Paths() {
			stored, err := clients[0].Get(ctx, path)
			require.NoError(t, err)
			assert.NotContains(t, string(data), string(stored))
		}
	})

	t.Run("stat and list", func(t *testing.T) {
		record, err := svc.Stat(ctx, result.FileID)
		require.NoError(t, err)
		assert.Equal(t, "report.pdf", record.Name)

		files, err := svc.List(ctx, "alice")
		require.NoError(t, err)
		assert.Len(t, files, 1)
	})
}

func TestUploadValidation(t *testing.T) {
	svc, _ := newTestService(t, 1)
	ctx := context.Background()

	cases := []struct {
		name string
		req  UploadRequest
	}{
		{"empty name", UploadRequest{Name: "", Size: 10}},
		{"path separator", UploadRequest{Name: "a/b.txt", Size: 10}},
		{"traversal", UploadRequest{Name: "..secret", Size: 10}},
		{"empty body", UploadRequest{Name: "a.txt", Size: 0}},
		{"oversize", UploadRequest{Name: "a.txt", Size: DefaultMaxFileSize.Int64() + 1}},
		{"unknown cipher tag", UploadRequest{Name: "a.txt", Size: 10, CipherTag: "DES"}},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			_, err := svc.Upload(ctx, tc.req)
			assert.True(t, errdefs.IsValidation(err), "expected validation error, got %v", err)
		})
	}
}

func TestUploadRollback(t *testing.T) {
	svc, clients := newTestService(t, 2)
	ctx := context.Background()

	t.Run("backend failure rolls back chunks and metadata", func(t *testing.T) {
		clients[1].PutErr = errors.New("connection refused")

		data := payload(4 * 1024)
		_, err := svc.Upload(ctx, UploadRequest{
			Name: "doomed.bin", Owner: "alice",
			Size: int64(len(data)), Body: bytes.NewReader(data),
		})
		require.Error(t, err)

		var opErr *errdefs.StorageOpError
		require.True(t, errors.As(err, &opErr))
		assert.Equal(t, "upload", opErr.Op)
		assert.Equal(t, "b2", opErr.Backend)

		assert.Equal(t, 0, clients[0].Len(), "rollback must remove placed chunks")
		files, err := svc.List(ctx, "")
		require.NoError(t, err)
		assert.Empty(t, files, "rollback must remove the file record")
		clients[1].PutErr = nil
	})

	t.Run("short stream rolls back", func(t *testing.T) {
		data := payload(512)
		_, err := svc.Upload(ctx, UploadRequest{
			Name: "short.bin", Owner: "alice",
			Size: 2048, Body: bytes.NewReader(data),
		})
		assert.True(t, errdefs.IsValidation(err))
		assert.Equal(t, 0, clients[0].Len()+clients[1].Len())
	})

	t.Run("rollback is audited", func(t *testing.T) {
		require.NoError(t, svc.Store().FlushAudit(ctx))
		entries, err := svc.Store().ListAuditEntries(ctx, 100)
		require.NoError(t, err)

		var kinds []string
		for _, e := range entries {
			kinds = append(kinds, e.EventKind)
		}
		assert.Contains(t, kinds, models.EventRollback)
		assert.Contains(t, kinds, models.EventUploadFail)
	})
}

func TestDownloadIntegrity(t *testing.T) {
	svc, clients := newTestService(t, 1)
	ctx := context.Background()

	data := payload(2048)
	result, err := svc.Upload(ctx, UploadRequest{
		Name: "a.bin", Owner: "alice",
		Size: int64(len(data)), Body: bytes.NewReader(data),
	})
	require.NoError(t, err)

	t.Run("tampered chunk fails with integrity error", func(t *testing.T) {
		path := clients[0].Path(result.FileID, 1)
		stored, err := clients[0].Get(ctx, path)
		require.NoError(t, err)
		stored[10] ^= 0xFF
		require.NoError(t, clients[0].Put(ctx, path, stored))

		var out bytes.Buffer
		err = svc.Download(ctx, result.FileID, &out)
		assert.ErrorIs(t, err, errdefs.ErrIntegrity)
		assert.Zero(t, out.Len(), "corruption in a later chunk must not leak earlier plaintext")

		require.NoError(t, svc.Store().FlushAudit(ctx))
		entries, err := svc.Store().ListAuditEntries(ctx, 10)
		require.NoError(t, err)
		assert.Equal(t, models.EventCRCMismatch, entries[1].EventKind)
	})

	t.Run("missing remote chunk fails with not found", func(t *testing.T) {
		require.NoError(t, clients[0].Delete(ctx, clients[0].Path(result.FileID, 0)))
		var out bytes.Buffer
		err := svc.Download(ctx, result.FileID, &out)
		assert.ErrorIs(t, err, errdefs.ErrNotFound)
	})

	t.Run("unknown file fails with not found", func(t *testing.T) {
		var out bytes.Buffer
		err := svc.Download(ctx, "00000000-0000-0000-0000-000000000000", &out)
		assert.ErrorIs(t, err, errdefs.ErrNotFound)
	})
}

func TestDelete(t *testing.T) {
	svc, clients := newTestService(t, 2)
	ctx := context.Background()

	upload := func(t *testing.T, name string) string {
		t.Helper()
		data := payload(2048)
		result, err := svc.Upload(ctx, UploadRequest{
			Name: name, Owner: "alice",
			Size: int64(len(data)), Body: bytes.NewReader(data),
		})
		require.NoError(t, err)
		return result.FileID
	}

	t.Run("delete removes chunks and metadata", func(t *testing.T) {
		fileID := upload(t, "a.bin")
		require.NoError(t, svc.Delete(ctx, fileID))

		assert.Equal(t, 0, clients[0].Len()+clients[1].Len())
		_, err := svc.Stat(ctx, fileID)
		assert.ErrorIs(t, err, errdefs.ErrNotFound)
	})

	t.Run("backend failure keeps metadata for retry", func(t *testing.T) {
		fileID := upload(t, "b.bin")
		clients[0].DeleteErr = errors.New("connection refused")

		err := svc.Delete(ctx, fileID)
		assert.ErrorIs(t, err, errdefs.ErrTransport)

		_, statErr := svc.Stat(ctx, fileID)
		assert.NoError(t, statErr, "metadata must survive a partial delete")

		clients[0].DeleteErr = nil
		require.NoError(t, svc.Delete(ctx, fileID))
	})

	t.Run("deleting unknown file fails with not found", func(t *testing.T) {
		err := svc.Delete(ctx, "00000000-0000-0000-0000-000000000000")
		assert.ErrorIs(t, err, errdefs.ErrNotFound)
	})
}
