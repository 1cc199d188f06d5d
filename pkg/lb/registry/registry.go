// Package registry tracks the aggregator nodes the load balancer can
// forward to, with health state driven by the prober.
package registry

import (
	"sync"
	"time"

	"github.com/shardvault/shardvault/internal/logger"
)

// State is the health state of a node.
type State string

const (
	// StateUnknown is the initial state before the first probe.
	StateUnknown State = "UNKNOWN"

	// StateHealthy means the last probe succeeded.
	StateHealthy State = "HEALTHY"

	// StateUnhealthy means the failure threshold was reached.
	StateUnhealthy State = "UNHEALTHY"
)

// Node is a registered aggregator endpoint.
type Node struct {
	// Name is the stable node identifier.
	Name string

	// Address is the host:port of the node's API server.
	Address string

	State        State
	LastProbed   time.Time
	RegisteredAt time.Time

	consecutiveFailures int
}

// Registry is the thread-safe node set. Reads vastly outnumber writes,
// so it uses a readers-writer lock.
type Registry struct {
	mu    sync.RWMutex
	nodes map[string]*Node
	order []string
}

// New creates an empty registry.
func New() *Registry {
	return &Registry{nodes: make(map[string]*Node)}
}

// Register adds a node in the UNKNOWN state. Re-registering an existing
// name updates the address and resets the health state, so a replaced
// backend starts fresh.
func (r *Registry) Register(name, address string) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if _, exists := r.nodes[name]; !exists {
		r.order = append(r.order, name)
	}
	r.nodes[name] = &Node{
		Name:         name,
		Address:      address,
		State:        StateUnknown,
		RegisteredAt: time.Now(),
	}
	logger.Info("node registered", logger.Backend(name), logger.Endpoint(address))
}

// Unregister removes a node. Removal is terminal for that registration.
func (r *Registry) Unregister(name string) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if _, exists := r.nodes[name]; !exists {
		return
	}
	delete(r.nodes, name)
	for i, n := range r.order {
		if n == name {
			r.order = append(r.order[:i], r.order[i+1:]...)
			break
		}
	}
	logger.Info("node unregistered", logger.Backend(name))
}

// Get returns a copy of the named node.
func (r *Registry) Get(name string) (Node, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	node, ok := r.nodes[name]
	if !ok {
		return Node{}, false
	}
	return *node, true
}

// Snapshot returns copies of all nodes in registration order.
func (r *Registry) Snapshot() []Node {
	r.mu.RLock()
	defer r.mu.RUnlock()
	all := make([]Node, 0, len(r.order))
	for _, name := range r.order {
		all = append(all, *r.nodes[name])
	}
	return all
}

// Healthy returns copies of the nodes currently usable for forwarding,
// in registration order. UNKNOWN nodes are included so a fresh registry
// can serve before the first probe cycle completes.
func (r *Registry) Healthy() []Node {
	r.mu.RLock()
	defer r.mu.RUnlock()
	healthy := make([]Node, 0, len(r.order))
	for _, name := range r.order {
		if node := r.nodes[name]; node.State != StateUnhealthy {
			healthy = append(healthy, *node)
		}
	}
	return healthy
}

// Len returns the number of registered nodes.
func (r *Registry) Len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.nodes)
}

// ReportSuccess marks a probe success. A single success restores an
// unhealthy node to rotation.
func (r *Registry) ReportSuccess(name string) {
	r.mu.Lock()
	defer r.mu.Unlock()

	node, ok := r.nodes[name]
	if !ok {
		return
	}
	node.consecutiveFailures = 0
	node.LastProbed = time.Now()
	if node.State != StateHealthy {
		logger.Info("node became healthy", logger.Backend(name), logger.Health(string(StateHealthy)))
		node.State = StateHealthy
	}
}

// ReportFailure marks a probe failure. The node turns UNHEALTHY once
// threshold consecutive failures accumulate.
func (r *Registry) ReportFailure(name string, threshold int) {
	r.mu.Lock()
	defer r.mu.Unlock()

	node, ok := r.nodes[name]
	if !ok {
		return
	}
	node.consecutiveFailures++
	node.LastProbed = time.Now()
	if node.State != StateUnhealthy && node.consecutiveFailures >= threshold {
		logger.Warn("node became unhealthy",
			logger.Backend(name), logger.Health(string(StateUnhealthy)),
			logger.Attempt(node.consecutiveFailures))
		node.State = StateUnhealthy
	}
}
