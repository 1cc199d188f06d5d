package hostctl

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// fakeExecutor tracks started and stopped containers in memory.
type fakeExecutor struct {
	mu       sync.Mutex
	next     int
	running  map[Handle]ContainerSpec
	dead     map[Handle]bool
	startErr error
	started  []string
	stopped  []Handle
}

func newFakeExecutor() *fakeExecutor {
	return &fakeExecutor{
		running: make(map[Handle]ContainerSpec),
		dead:    make(map[Handle]bool),
	}
}

func (f *fakeExecutor) Start(ctx context.Context, spec ContainerSpec) (Handle, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.startErr != nil {
		return "", f.startErr
	}
	f.next++
	handle := Handle(fmt.Sprintf("c%d", f.next))
	f.running[handle] = spec
	f.started = append(f.started, spec.Name)
	return handle, nil
}

func (f *fakeExecutor) Stop(ctx context.Context, handle Handle) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	delete(f.running, handle)
	f.stopped = append(f.stopped, handle)
	return nil
}

func (f *fakeExecutor) Inspect(ctx context.Context, handle Handle) (State, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.dead[handle] {
		return State{Running: false, Status: "exited"}, nil
	}
	if _, ok := f.running[handle]; !ok {
		return State{}, errors.New("no such container")
	}
	return State{Running: true, Status: "running"}, nil
}

func newTestController(t *testing.T, exec Executor) *Controller {
	t.Helper()
	c, err := New(exec, Config{
		Image:      "shardvault/backend:latest",
		Network:    "shardvault-net",
		VolumeRoot: "/srv/backends",
	})
	require.NoError(t, err)
	return c
}

func event(action string, count int) []byte {
	return []byte(fmt.Sprintf(`{"action":%q,"count":%d,"queueSize":42}`, action, count))
}

func TestNewRequiresImage(t *testing.T) {
	_, err := New(newFakeExecutor(), Config{})
	assert.Error(t, err)
}

func TestScaleUpIsIdempotent(t *testing.T) {
	exec := newFakeExecutor()
	c := newTestController(t, exec)
	ctx := context.Background()

	c.HandleEvent(ctx, event("up", 3))
	require.Equal(t, 3, c.Count())
	assert.Equal(t, []string{
		"shardvault-backend-0",
		"shardvault-backend-1",
		"shardvault-backend-2",
	}, exec.started)

	// Redelivered event: counts already match, nothing starts.
	c.HandleEvent(ctx, event("up", 3))
	assert.Equal(t, 3, c.Count())
	assert.Len(t, exec.started, 3)
}

func TestScaleDownStopsMostRecentFirst(t *testing.T) {
	exec := newFakeExecutor()
	c := newTestController(t, exec)
	ctx := context.Background()

	c.HandleEvent(ctx, event("up", 3))
	c.HandleEvent(ctx, event("down", 1))

	assert.Equal(t, 1, c.Count())
	assert.Equal(t, []Handle{"c3", "c2"}, exec.stopped)

	// Redelivered down below current count stops nothing further.
	c.HandleEvent(ctx, event("down", 1))
	assert.Len(t, exec.stopped, 2)
}

func TestStableAndMalformedEventsAreIgnored(t *testing.T) {
	exec := newFakeExecutor()
	c := newTestController(t, exec)
	ctx := context.Background()

	c.HandleEvent(ctx, event("stable", 0))
	c.HandleEvent(ctx, []byte("{not json"))
	c.HandleEvent(ctx, event("sideways", 9))

	assert.Equal(t, 0, c.Count())
}

func TestHealthScanReplacesDeadInstances(t *testing.T) {
	exec := newFakeExecutor()
	c := newTestController(t, exec)
	ctx := context.Background()

	c.HandleEvent(ctx, event("up", 2))
	exec.mu.Lock()
	exec.dead["c1"] = true
	exec.mu.Unlock()

	c.HealthScan(ctx)

	assert.Equal(t, 2, c.Count())
	assert.Contains(t, exec.stopped, Handle("c1"))
	// Replacement gets a fresh index, not a recycled name.
	assert.Equal(t, "shardvault-backend-2", exec.started[len(exec.started)-1])
}

func TestHealthScanLeavesHealthyAlone(t *testing.T) {
	exec := newFakeExecutor()
	c := newTestController(t, exec)
	ctx := context.Background()

	c.HandleEvent(ctx, event("up", 2))
	c.HealthScan(ctx)

	assert.Equal(t, 2, c.Count())
	assert.Empty(t, exec.stopped)
}

func TestShutdownStopsEverything(t *testing.T) {
	exec := newFakeExecutor()
	c := newTestController(t, exec)
	ctx := context.Background()

	c.HandleEvent(ctx, event("up", 3))
	c.Shutdown(ctx)

	assert.Equal(t, 0, c.Count())
	assert.Len(t, exec.stopped, 3)
}

func TestVolumePathIsPerInstance(t *testing.T) {
	exec := newFakeExecutor()
	c := newTestController(t, exec)

	c.HandleEvent(context.Background(), event("up", 1))

	exec.mu.Lock()
	defer exec.mu.Unlock()
	for _, spec := range exec.running {
		assert.Equal(t, "/srv/backends/shardvault-backend-0", spec.VolumePath)
	}
}
