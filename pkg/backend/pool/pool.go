// Package pool manages the aggregator's set of chunk backends: a
// round-robin cursor for even chunk distribution and per-backend permits
// bounding concurrent operations against each endpoint.
package pool

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"golang.org/x/sync/semaphore"

	"github.com/shardvault/shardvault/pkg/backend"
	"github.com/shardvault/shardvault/pkg/errdefs"
)

// Pool holds the configured backends. The round-robin cursor advances on
// every Next call, so consecutive chunks of one upload land on
// consecutive backends.
type Pool struct {
	mu      sync.Mutex
	clients []backend.Client
	byName  map[string]backend.Client
	permits map[string]*semaphore.Weighted
	cursor  int

	acquireTimeout time.Duration
}

// New builds a pool over the given clients. maxPerBackend bounds
// in-flight operations per endpoint; acquireTimeout bounds how long a
// caller waits for a permit before failing with ErrResource.
func New(clients []backend.Client, maxPerBackend int64, acquireTimeout time.Duration) (*Pool, error) {
	if len(clients) == 0 {
		return nil, fmt.Errorf("at least one backend is required")
	}
	if maxPerBackend <= 0 {
		maxPerBackend = int64(backend.DefaultMaxConcurrent)
	}

	p := &Pool{
		clients:        clients,
		byName:         make(map[string]backend.Client, len(clients)),
		permits:        make(map[string]*semaphore.Weighted, len(clients)),
		acquireTimeout: acquireTimeout,
	}
	for _, c := range clients {
		if _, exists := p.byName[c.Name()]; exists {
			return nil, fmt.Errorf("duplicate backend name: %s", c.Name())
		}
		p.byName[c.Name()] = c
		p.permits[c.Name()] = semaphore.NewWeighted(maxPerBackend)
	}
	return p, nil
}

// Len returns the number of configured backends.
func (p *Pool) Len() int {
	return len(p.clients)
}

// Names returns the backend names in configuration order.
func (p *Pool) Names() []string {
	names := make([]string, len(p.clients))
	for i, c := range p.clients {
		names[i] = c.Name()
	}
	return names
}

// Next returns the next backend in round-robin order.
func (p *Pool) Next() backend.Client {
	p.mu.Lock()
	defer p.mu.Unlock()
	c := p.clients[p.cursor]
	p.cursor = (p.cursor + 1) % len(p.clients)
	return c
}

// Get returns the backend with the given name. Chunks recorded against a
// backend that is no longer configured fail with ErrNotFound.
func (p *Pool) Get(name string) (backend.Client, error) {
	c, ok := p.byName[name]
	if !ok {
		return nil, fmt.Errorf("backend %s is not configured: %w", name, errdefs.ErrNotFound)
	}
	return c, nil
}

// WithPermit runs fn while holding one permit for the named backend.
// Waiting is bounded by the pool's acquire timeout; a timeout fails with
// ErrResource and caller cancellation fails with ErrCancelled. fn runs
// with the caller's context, not the acquisition context.
func (p *Pool) WithPermit(ctx context.Context, name string, fn func(ctx context.Context) error) error {
	sem, ok := p.permits[name]
	if !ok {
		return fmt.Errorf("backend %s is not configured: %w", name, errdefs.ErrNotFound)
	}

	acquireCtx := ctx
	if p.acquireTimeout > 0 {
		var cancel context.CancelFunc
		acquireCtx, cancel = context.WithTimeout(ctx, p.acquireTimeout)
		defer cancel()
	}

	if err := sem.Acquire(acquireCtx, 1); err != nil {
		if ctx.Err() != nil {
			return fmt.Errorf("waiting for backend %s permit: %w", name, errdefs.ErrCancelled)
		}
		if errors.Is(err, context.DeadlineExceeded) {
			return fmt.Errorf("backend %s permit timeout: %w", name, errdefs.ErrResource)
		}
		return err
	}
	defer sem.Release(1)

	return fn(ctx)
}

// Close closes every backend client, returning the first error.
func (p *Pool) Close() error {
	var firstErr error
	for _, c := range p.clients {
		if err := c.Close(); err != nil && firstErr == nil {
			firstErr = err
		}
	}
	return firstErr
}
