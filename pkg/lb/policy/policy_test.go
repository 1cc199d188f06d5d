package policy

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/shardvault/shardvault/pkg/errdefs"
	"github.com/shardvault/shardvault/pkg/lb/queue"
	"github.com/shardvault/shardvault/pkg/lb/registry"
)

func TestParse(t *testing.T) {
	cases := map[string]Policy{
		"fcfs":        FCFS,
		"SJN":         SJN,
		"roundrobin":  RoundRobin,
		"round-robin": RoundRobin,
		"rr":          RoundRobin,
		"":            SJN,
	}
	for input, want := range cases {
		got, err := Parse(input)
		require.NoError(t, err, input)
		assert.Equal(t, want, got)
	}

	_, err := Parse("lifo")
	assert.Error(t, err)
}

func TestQueueMode(t *testing.T) {
	assert.Equal(t, queue.ModeSJN, SJN.QueueMode())
	assert.Equal(t, queue.ModeFCFS, FCFS.QueueMode())
	assert.Equal(t, queue.ModeFCFS, RoundRobin.QueueMode())
}

func nodes(names ...string) []registry.Node {
	out := make([]registry.Node, len(names))
	for i, n := range names {
		out[i] = registry.Node{Name: n}
	}
	return out
}

func TestSelectorCycles(t *testing.T) {
	s := NewSelector()
	healthy := nodes("b1", "b2", "b3")

	counts := map[string]int{}
	for i := 0; i < 9; i++ {
		node, err := s.Pick(healthy)
		require.NoError(t, err)
		counts[node.Name]++
	}
	assert.Equal(t, map[string]int{"b1": 3, "b2": 3, "b3": 3}, counts)
}

func TestSelectorSurvivesChurn(t *testing.T) {
	s := NewSelector()

	node, err := s.Pick(nodes("b1", "b2", "b3"))
	require.NoError(t, err)
	assert.Equal(t, "b1", node.Name)

	// b2 left; the cursor wraps over the shrunken list without skipping.
	node, err = s.Pick(nodes("b1", "b3"))
	require.NoError(t, err)
	assert.Equal(t, "b3", node.Name)

	node, err = s.Pick(nodes("b1", "b3"))
	require.NoError(t, err)
	assert.Equal(t, "b1", node.Name)
}

func TestSelectorNoHealthyNodes(t *testing.T) {
	s := NewSelector()
	_, err := s.Pick(nil)
	assert.ErrorIs(t, err, errdefs.ErrNoHealthyNodes)
}
