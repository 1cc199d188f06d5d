package backend

import (
	"context"
	"fmt"
	"sync"

	"github.com/shardvault/shardvault/pkg/errdefs"
)

// MemoryClient is an in-process Client used in tests and local runs with
// no real backends. It stores chunk payloads in a map keyed by remote
// path and supports fault injection per operation.
type MemoryClient struct {
	name string
	root string

	mu    sync.RWMutex
	files map[string][]byte

	// Fault injection. When set, the matching operation fails with the
	// given error instead of touching the map.
	PutErr    error
	GetErr    error
	DeleteErr error
}

// NewMemoryClient creates an empty in-memory backend.
func NewMemoryClient(name string) *MemoryClient {
	return &MemoryClient{
		name:  name,
		root:  "/mem",
		files: make(map[string][]byte),
	}
}

// Name returns the endpoint identifier.
func (c *MemoryClient) Name() string {
	return c.name
}

// Path returns the chunk path under the in-memory root.
func (c *MemoryClient) Path(fileID string, index int) string {
	return ChunkPath(c.root, fileID, index)
}

// Put stores a copy of data at remotePath.
func (c *MemoryClient) Put(ctx context.Context, remotePath string, data []byte) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if c.PutErr != nil {
		return c.PutErr
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	c.files[remotePath] = append([]byte(nil), data...)
	return nil
}

// Get returns a copy of the payload at remotePath.
func (c *MemoryClient) Get(ctx context.Context, remotePath string) ([]byte, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if c.GetErr != nil {
		return nil, c.GetErr
	}
	c.mu.RLock()
	defer c.mu.RUnlock()
	data, ok := c.files[remotePath]
	if !ok {
		return nil, fmt.Errorf("backend %s: %s: %w", c.name, remotePath, errdefs.ErrNotFound)
	}
	return append([]byte(nil), data...), nil
}

// Delete removes remotePath; missing paths are ignored.
func (c *MemoryClient) Delete(ctx context.Context, remotePath string) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if c.DeleteErr != nil {
		return c.DeleteErr
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	delete(c.files, remotePath)
	return nil
}

// Close is a no-op.
func (c *MemoryClient) Close() error {
	return nil
}

// Len returns the number of stored payloads.
func (c *MemoryClient) Len() int {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return len(c.files)
}

// Paths returns every stored remote path, in no particular order.
func (c *MemoryClient) Paths() []string {
	c.mu.RLock()
	defer c.mu.RUnlock()
	paths := make([]string, 0, len(c.files))
	for p := range c.files {
		paths = append(paths, p)
	}
	return paths
}
