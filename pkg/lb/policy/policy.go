// Package policy implements the scheduler's node-selection strategies.
// Job ordering (FCFS vs shortest-job-next) lives in the request queue;
// node selection is cyclic over the healthy snapshot under every policy.
package policy

import (
	"fmt"
	"strings"
	"sync"

	"github.com/shardvault/shardvault/pkg/errdefs"
	"github.com/shardvault/shardvault/pkg/lb/queue"
	"github.com/shardvault/shardvault/pkg/lb/registry"
)

// Policy names a scheduling discipline.
type Policy string

const (
	// FCFS serves requests in arrival order.
	FCFS Policy = "FCFS"

	// SJN serves smaller requests first, with aging.
	SJN Policy = "SJN"

	// RoundRobin is FCFS ordering under its classic name; selection is
	// cyclic either way.
	RoundRobin Policy = "ROUNDROBIN"
)

// Parse resolves a policy name case-insensitively.
func Parse(name string) (Policy, error) {
	switch Policy(strings.ToUpper(strings.TrimSpace(name))) {
	case FCFS:
		return FCFS, nil
	case SJN:
		return SJN, nil
	case RoundRobin, "ROUND-ROBIN", "RR":
		return RoundRobin, nil
	case "":
		return SJN, nil
	default:
		return "", fmt.Errorf("unknown scheduler policy %q (want FCFS, SJN, or ROUNDROBIN)", name)
	}
}

// QueueMode returns the queue ordering this policy requires.
func (p Policy) QueueMode() queue.Mode {
	if p == SJN {
		return queue.ModeSJN
	}
	return queue.ModeFCFS
}

// Selector picks nodes cyclically from healthy snapshots. The cursor
// wraps over the current snapshot length, so it stays stable when nodes
// join or leave between picks.
type Selector struct {
	mu     sync.Mutex
	cursor int
}

// NewSelector creates a selector with the cursor at zero.
func NewSelector() *Selector {
	return &Selector{}
}

// Pick returns one node from the snapshot, or ErrNoHealthyNodes when it
// is empty.
func (s *Selector) Pick(healthy []registry.Node) (registry.Node, error) {
	if len(healthy) == 0 {
		return registry.Node{}, errdefs.ErrNoHealthyNodes
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	node := healthy[s.cursor%len(healthy)]
	s.cursor = (s.cursor + 1) % len(healthy)
	return node, nil
}
