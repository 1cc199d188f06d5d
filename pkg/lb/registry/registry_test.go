package registry

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRegisterAndLookup(t *testing.T) {
	r := New()
	r.Register("b1", "10.0.0.1:8080")
	r.Register("b2", "10.0.0.2:8080")

	node, ok := r.Get("b1")
	require.True(t, ok)
	assert.Equal(t, StateUnknown, node.State)
	assert.Equal(t, "10.0.0.1:8080", node.Address)
	assert.Equal(t, 2, r.Len())

	_, ok = r.Get("gone")
	assert.False(t, ok)
}

func TestReRegisterResetsState(t *testing.T) {
	r := New()
	r.Register("b1", "10.0.0.1:8080")
	r.ReportFailure("b1", 1)

	node, _ := r.Get("b1")
	require.Equal(t, StateUnhealthy, node.State)

	r.Register("b1", "10.0.0.9:8080")
	node, _ = r.Get("b1")
	assert.Equal(t, StateUnknown, node.State)
	assert.Equal(t, "10.0.0.9:8080", node.Address)
}

func TestUnregister(t *testing.T) {
	r := New()
	r.Register("b1", "a:1")
	r.Register("b2", "a:2")
	r.Unregister("b1")
	r.Unregister("missing")

	assert.Equal(t, 1, r.Len())
	names := make([]string, 0)
	for _, n := range r.Snapshot() {
		names = append(names, n.Name)
	}
	assert.Equal(t, []string{"b2"}, names)
}

func TestHealthTransitions(t *testing.T) {
	r := New()
	r.Register("b1", "a:1")

	t.Run("below threshold stays in rotation", func(t *testing.T) {
		r.ReportFailure("b1", 3)
		r.ReportFailure("b1", 3)
		assert.Len(t, r.Healthy(), 1)
	})

	t.Run("threshold reached goes unhealthy", func(t *testing.T) {
		r.ReportFailure("b1", 3)
		node, _ := r.Get("b1")
		assert.Equal(t, StateUnhealthy, node.State)
		assert.Empty(t, r.Healthy())
	})

	t.Run("one success restores", func(t *testing.T) {
		r.ReportSuccess("b1")
		node, _ := r.Get("b1")
		assert.Equal(t, StateHealthy, node.State)
		assert.Len(t, r.Healthy(), 1)
	})

	t.Run("failure counter resets on success", func(t *testing.T) {
		r.ReportFailure("b1", 2)
		r.ReportSuccess("b1")
		r.ReportFailure("b1", 2)
		node, _ := r.Get("b1")
		assert.Equal(t, StateHealthy, node.State)
	})
}

func TestHealthyIncludesUnknown(t *testing.T) {
	r := New()
	r.Register("b1", "a:1")
	assert.Len(t, r.Healthy(), 1, "unprobed nodes serve until proven unhealthy")
}
