package store

import (
	"context"
	"sync"
	"time"

	"github.com/shardvault/shardvault/internal/logger"
	"github.com/shardvault/shardvault/pkg/metadata/models"
)

// auditQueueDepth bounds the in-memory audit queue. When the queue is
// full the oldest pending entry is dropped so logging can never block
// the primary path.
const auditQueueDepth = 1024

// auditSink writes audit entries asynchronously. Log never blocks and
// never returns an error; write failures are reported through the
// process logger only, to avoid recursing into the audit path.
type auditSink struct {
	store *GORMStore

	mu      sync.Mutex
	queue   chan *models.AuditEntry
	closed  bool
	done    chan struct{}
	dropped uint64
}

func newAuditSink(store *GORMStore) *auditSink {
	s := &auditSink{
		store: store,
		queue: make(chan *models.AuditEntry, auditQueueDepth),
		done:  make(chan struct{}),
	}
	go s.run()
	return s
}

func (s *auditSink) run() {
	defer close(s.done)
	for entry := range s.queue {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		err := s.store.db.WithContext(ctx).Create(entry).Error
		cancel()
		if err != nil {
			logger.Warn("audit entry write failed",
				"event", entry.EventKind, "error", err)
		}
	}
}

// enqueue adds an entry, dropping the oldest pending one when full.
func (s *auditSink) enqueue(entry *models.AuditEntry) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return
	}
	for {
		select {
		case s.queue <- entry:
			return
		default:
		}
		select {
		case <-s.queue:
			s.dropped++
		default:
		}
	}
}

func (s *auditSink) close() {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return
	}
	s.closed = true
	close(s.queue)
	s.mu.Unlock()
	<-s.done
}

// Log appends an audit entry asynchronously. It never blocks the caller
// and never returns an error.
func (s *GORMStore) Log(entry *models.AuditEntry) {
	if entry == nil {
		return
	}
	if entry.Severity == "" {
		entry.Severity = models.SeverityInfo
	}
	s.audit.enqueue(entry)
}

// FlushAudit blocks until every entry enqueued so far has been written
// or the context expires. Intended for tests and shutdown.
func (s *GORMStore) FlushAudit(ctx context.Context) error {
	ticker := time.NewTicker(10 * time.Millisecond)
	defer ticker.Stop()
	for {
		s.audit.mu.Lock()
		pending := len(s.audit.queue)
		closed := s.audit.closed
		s.audit.mu.Unlock()
		if pending == 0 || closed {
			// One extra tick so the in-flight entry lands.
			time.Sleep(20 * time.Millisecond)
			return nil
		}
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
		}
	}
}

// ListAuditEntries returns audit entries newest first, bounded by limit.
func (s *GORMStore) ListAuditEntries(ctx context.Context, limit int) ([]*models.AuditEntry, error) {
	opCtx, cancel, done := s.opContext(ctx, "list_audit")
	defer cancel()
	defer done()

	if limit <= 0 {
		limit = 100
	}
	var entries []*models.AuditEntry
	err := s.db.WithContext(opCtx).
		Order("id DESC").
		Limit(limit).
		Find(&entries).Error
	if err != nil {
		return nil, err
	}
	return entries, nil
}
