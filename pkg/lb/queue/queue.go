// Package queue implements the load balancer's request queue: a
// monitor-protected priority heap with aging, so small requests go
// first but old ones cannot starve.
package queue

import (
	"container/heap"
	"context"
	"net/http"
	"sync"
	"time"

	"github.com/shardvault/shardvault/pkg/errdefs"
)

// DefaultAging is the aging coefficient applied to a request's wait
// time, in priority points per millisecond.
const DefaultAging = 0.01

// Kind is the request's operation.
type Kind string

const (
	KindUpload   Kind = "UPLOAD"
	KindDownload Kind = "DOWNLOAD"
)

// Result is the dispatch outcome delivered to a request's Reply channel.
// On success the receiver owns the response body.
type Result struct {
	Resp *http.Response
	Err  error
}

// Request is one queued client operation. Upload bodies are spooled to
// local disk so the handler's buffer can be released at admission time;
// the worker removes the spool file once the dispatch settles.
type Request struct {
	Kind       Kind
	FileID     string
	FileName   string
	Owner      string
	Size       int64
	BodyPath   string
	EnqueuedAt time.Time

	// Reply receives a download's outcome. It must be buffered; the
	// worker never blocks on an abandoned waiter.
	Reply chan Result

	// seq breaks priority ties by arrival order.
	seq uint64
}

// sizeMB returns the request size in binary megabytes.
func (r *Request) sizeMB() float64 {
	return float64(r.Size) / (1024 * 1024)
}

// Mode selects the queue's ordering discipline.
type Mode int

const (
	// ModeSJN orders by size with aging: score = size_mb - age_ms*alpha.
	// Lower scores dequeue first.
	ModeSJN Mode = iota

	// ModeFCFS orders purely by arrival.
	ModeFCFS
)

// Queue is a thread-safe priority queue. Enqueue never blocks; Dequeue
// blocks until a request is available or the context is cancelled.
//
// The SJN score size_mb - age_ms*alpha shifts identically for every
// queued request as time passes, so the ordering is equivalent to the
// static key size_mb + enqueue_ms*alpha. That keeps the heap invariant
// time-independent while preserving the aging guarantee: a request
// enqueued early enough outranks any newer one regardless of size.
type Queue struct {
	mu      sync.Mutex
	cond    *sync.Cond
	items   requestHeap
	mode    Mode
	alpha   float64
	nextSeq uint64
	closed  bool
}

// New creates an empty queue with the given ordering mode. alpha <= 0
// selects the default aging coefficient; it is ignored under FCFS.
func New(mode Mode, alpha float64) *Queue {
	if alpha <= 0 {
		alpha = DefaultAging
	}
	q := &Queue{mode: mode, alpha: alpha}
	q.cond = sync.NewCond(&q.mu)
	return q
}

// key computes the static heap key for a request.
func (q *Queue) key(r *Request) float64 {
	ms := float64(r.EnqueuedAt.UnixMilli())
	if q.mode == ModeFCFS {
		return ms
	}
	// size_mb - (now-enqueue)*alpha ranks the same as size_mb +
	// enqueue_ms*alpha, since the -now*alpha term is common to all.
	return r.sizeMB() + ms*q.alpha
}

// Enqueue adds a request and wakes one blocked Dequeue. It never blocks.
func (q *Queue) Enqueue(r *Request) {
	if r.EnqueuedAt.IsZero() {
		r.EnqueuedAt = time.Now()
	}

	q.mu.Lock()
	defer q.mu.Unlock()
	if q.closed {
		return
	}
	r.seq = q.nextSeq
	q.nextSeq++
	heap.Push(&q.items, &item{request: r, key: q.key(r)})
	q.cond.Signal()
}

// Dequeue removes the highest-priority request, blocking until one is
// available. Cancellation fails with ErrCancelled; a closed queue drains
// its remaining requests first.
func (q *Queue) Dequeue(ctx context.Context) (*Request, error) {
	// The condition variable cannot observe ctx directly; a watcher
	// broadcasts when the context ends.
	stop := context.AfterFunc(ctx, func() {
		q.mu.Lock()
		q.cond.Broadcast()
		q.mu.Unlock()
	})
	defer stop()

	q.mu.Lock()
	defer q.mu.Unlock()
	for len(q.items) == 0 {
		if q.closed {
			return nil, errdefs.ErrCancelled
		}
		if ctx.Err() != nil {
			return nil, errdefs.ErrCancelled
		}
		q.cond.Wait()
	}
	it := heap.Pop(&q.items).(*item)
	return it.request, nil
}

// Size returns a snapshot of the queue depth.
func (q *Queue) Size() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return len(q.items)
}

// Close wakes all blocked consumers. Queued requests can still be
// drained; new requests are dropped.
func (q *Queue) Close() {
	q.mu.Lock()
	defer q.mu.Unlock()
	q.closed = true
	q.cond.Broadcast()
}

// item pairs a request with its static priority key.
type item struct {
	request *Request
	key     float64
}

type requestHeap []*item

func (h requestHeap) Len() int { return len(h) }

func (h requestHeap) Less(i, j int) bool {
	if h[i].key != h[j].key {
		return h[i].key < h[j].key
	}
	return h[i].request.seq < h[j].request.seq
}

func (h requestHeap) Swap(i, j int) { h[i], h[j] = h[j], h[i] }

func (h *requestHeap) Push(x any) {
	*h = append(*h, x.(*item))
}

func (h *requestHeap) Pop() any {
	old := *h
	n := len(old)
	it := old[n-1]
	old[n-1] = nil
	*h = old[:n-1]
	return it
}
