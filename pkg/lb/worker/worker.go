// Package worker runs the load balancer's dispatch loop: dequeue a
// request, pick a healthy node, and forward it under the node's permit.
package worker

import (
	"context"
	"fmt"
	"math/rand"
	"net/http"
	"os"
	"sync"
	"time"

	"golang.org/x/sync/semaphore"

	"github.com/shardvault/shardvault/internal/logger"
	"github.com/shardvault/shardvault/pkg/lb/forward"
	"github.com/shardvault/shardvault/pkg/lb/policy"
	"github.com/shardvault/shardvault/pkg/lb/queue"
	"github.com/shardvault/shardvault/pkg/lb/registry"
	"github.com/shardvault/shardvault/pkg/metrics"
)

// Default worker settings.
const (
	DefaultLatencyMin     = 1 * time.Second
	DefaultLatencyMax     = 5 * time.Second
	DefaultPermitsPerNode = 1

	// noNodesBackoff spaces retries while the registry has no healthy
	// nodes, so the loop does not spin.
	noNodesBackoff = 1 * time.Second
)

// Config controls the dispatch loop.
type Config struct {
	// LatencyMin and LatencyMax bound the simulated scheduling latency
	// applied before each dispatch.
	LatencyMin time.Duration `mapstructure:"latency_min" yaml:"latency_min"`
	LatencyMax time.Duration `mapstructure:"latency_max" yaml:"latency_max"`

	// PermitsPerNode bounds concurrent forwards to one node.
	PermitsPerNode int64 `mapstructure:"permits_per_node" yaml:"permits_per_node"`
}

// ApplyDefaults fills in missing configuration with default values.
func (c *Config) ApplyDefaults() {
	if c.LatencyMin == 0 {
		c.LatencyMin = DefaultLatencyMin
	}
	if c.LatencyMax == 0 {
		c.LatencyMax = DefaultLatencyMax
	}
	if c.LatencyMax < c.LatencyMin {
		c.LatencyMax = c.LatencyMin
	}
	if c.PermitsPerNode == 0 {
		c.PermitsPerNode = DefaultPermitsPerNode
	}
}

// Forwarder delivers requests and audit entries to a node.
// *forward.Client satisfies it.
type Forwarder interface {
	Upload(ctx context.Context, nodeAddr string, r *queue.Request) error
	Download(ctx context.Context, nodeAddr, fileID string) (*http.Response, error)
	SendAudit(ctx context.Context, nodeAddr string, entry forward.AuditEntry) error
}

// Worker is the single dedicated dispatch loop.
type Worker struct {
	queue     *queue.Queue
	registry  *registry.Registry
	selector  *policy.Selector
	forwarder Forwarder
	config    Config

	mu      sync.Mutex
	permits map[string]*semaphore.Weighted
	metrics *metrics.SchedulerMetrics
}

// SetMetrics attaches dispatch instrumentation. A nil value (metrics
// disabled) is fine.
func (w *Worker) SetMetrics(m *metrics.SchedulerMetrics) {
	w.metrics = m
}

// New creates the worker. Call Run on a dedicated goroutine.
func New(q *queue.Queue, reg *registry.Registry, sel *policy.Selector, fwd Forwarder, config Config) *Worker {
	config.ApplyDefaults()
	return &Worker{
		queue:     q,
		registry:  reg,
		selector:  sel,
		forwarder: fwd,
		config:    config,
		permits:   make(map[string]*semaphore.Weighted),
	}
}

// Run dispatches until the context is cancelled.
func (w *Worker) Run(ctx context.Context) {
	logger.Info("dispatch worker started",
		"latency_min", w.config.LatencyMin.String(),
		"latency_max", w.config.LatencyMax.String(),
		"permits_per_node", w.config.PermitsPerNode)

	for {
		request, err := w.queue.Dequeue(ctx)
		if err != nil {
			logger.Info("dispatch worker stopped")
			return
		}
		w.Dispatch(ctx, request)
	}
}

// Dispatch forwards one request: pick a node, wait the simulated
// latency, then upload under the node's permit. A request that finds no
// healthy node goes back into the queue with its original enqueue time,
// so its aged priority survives.
func (w *Worker) Dispatch(ctx context.Context, request *queue.Request) {
	node, err := w.selector.Pick(w.registry.Healthy())
	if err != nil {
		logger.Warn("no healthy nodes, requeueing",
			logger.FileID(request.FileID), logger.QueueSize(w.queue.Size()))
		select {
		case <-ctx.Done():
			return
		case <-time.After(noNodesBackoff):
		}
		w.queue.Enqueue(request)
		return
	}

	if !w.simulateLatency(ctx) {
		w.queue.Enqueue(request)
		return
	}

	sem := w.nodePermit(node.Name)
	if err := sem.Acquire(ctx, 1); err != nil {
		w.queue.Enqueue(request)
		return
	}
	start := time.Now()
	if request.Kind == queue.KindDownload {
		err = w.forwardDownload(ctx, node, request)
	} else {
		err = w.forwarder.Upload(ctx, node.Address, request)
	}
	sem.Release(1)
	w.metrics.ObserveDispatch(node.Name, err, time.Since(start))

	if request.Kind != queue.KindDownload {
		w.removeSpool(request)
	}

	if err != nil {
		logger.Error("dispatch failed",
			logger.FileID(request.FileID), logger.Backend(node.Name),
			logger.DurationMs(forwardDuration(start)), logger.Err(err))
		if request.Kind != queue.KindDownload {
			// The aggregator audits downloads on its own side.
			w.audit(node.Address, forward.AuditEntry{
				EventKind:   "UPLOAD_FAIL",
				Owner:       request.Owner,
				Description: fmt.Sprintf("dispatch of file %s to %s failed: %v", request.FileID, node.Name, err),
				Severity:    "ERROR",
			})
		}
		return
	}

	logger.Info("dispatch complete",
		logger.FileID(request.FileID), logger.FileName(request.FileName),
		logger.Backend(node.Name), logger.DurationMs(forwardDuration(start)))
	if request.Kind != queue.KindDownload {
		w.audit(node.Address, forward.AuditEntry{
			EventKind:   "UPLOAD_COMPLETE",
			Owner:       request.Owner,
			Description: fmt.Sprintf("file %s dispatched to %s", request.FileID, node.Name),
		})
	}
}

// forwardDownload fetches from the node and hands the response to the
// waiting handler. An abandoned waiter gets its response closed here so
// the connection is not leaked.
func (w *Worker) forwardDownload(ctx context.Context, node registry.Node, request *queue.Request) error {
	resp, err := w.forwarder.Download(ctx, node.Address, request.FileID)
	if request.Reply == nil {
		if resp != nil {
			resp.Body.Close()
		}
		return err
	}
	select {
	case request.Reply <- queue.Result{Resp: resp, Err: err}:
	default:
		if resp != nil {
			resp.Body.Close()
		}
	}
	return err
}

// removeSpool deletes an upload's spooled body after its dispatch has
// settled. Requeue paths keep the file.
func (w *Worker) removeSpool(request *queue.Request) {
	if request.BodyPath == "" {
		return
	}
	if err := os.Remove(request.BodyPath); err != nil && !os.IsNotExist(err) {
		logger.Warn("could not remove spooled body",
			logger.FileID(request.FileID), logger.Err(err))
	}
}

// simulateLatency sleeps a uniformly random interval, honoring
// cancellation. Returns false when interrupted.
func (w *Worker) simulateLatency(ctx context.Context) bool {
	latency := w.config.LatencyMin
	if spread := w.config.LatencyMax - w.config.LatencyMin; spread > 0 {
		latency += time.Duration(rand.Int63n(int64(spread)))
	}
	select {
	case <-ctx.Done():
		return false
	case <-time.After(latency):
		return true
	}
}

// nodePermit returns the node's semaphore, creating it on first use so
// dynamically registered nodes get permits too.
func (w *Worker) nodePermit(name string) *semaphore.Weighted {
	w.mu.Lock()
	defer w.mu.Unlock()
	sem, ok := w.permits[name]
	if !ok {
		sem = semaphore.NewWeighted(w.config.PermitsPerNode)
		w.permits[name] = sem
	}
	return sem
}

// audit delivers an entry best effort on a short budget.
func (w *Worker) audit(nodeAddr string, entry forward.AuditEntry) {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := w.forwarder.SendAudit(ctx, nodeAddr, entry); err != nil {
		logger.Debug("audit delivery failed", logger.Err(err))
	}
}

func forwardDuration(start time.Time) float64 {
	return float64(time.Since(start).Microseconds()) / 1000
}
