package worker

import (
	"context"
	"io"
	"net/http"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/shardvault/shardvault/pkg/lb/forward"
	"github.com/shardvault/shardvault/pkg/lb/policy"
	"github.com/shardvault/shardvault/pkg/lb/queue"
	"github.com/shardvault/shardvault/pkg/lb/registry"
)

// fakeForwarder records uploads and tracks concurrent calls per node.
type fakeForwarder struct {
	mu          sync.Mutex
	uploads     []string
	downloads   []string
	audits      []forward.AuditEntry
	delay       time.Duration
	inFlight    int32
	maxInFlight int32
	uploadErr   error
}

func (f *fakeForwarder) Upload(ctx context.Context, nodeAddr string, r *queue.Request) error {
	current := atomic.AddInt32(&f.inFlight, 1)
	defer atomic.AddInt32(&f.inFlight, -1)
	for {
		max := atomic.LoadInt32(&f.maxInFlight)
		if current <= max || atomic.CompareAndSwapInt32(&f.maxInFlight, max, current) {
			break
		}
	}
	if f.delay > 0 {
		time.Sleep(f.delay)
	}
	if f.uploadErr != nil {
		return f.uploadErr
	}
	f.mu.Lock()
	f.uploads = append(f.uploads, nodeAddr+"/"+r.FileID)
	f.mu.Unlock()
	return nil
}

func (f *fakeForwarder) Download(ctx context.Context, nodeAddr, fileID string) (*http.Response, error) {
	f.mu.Lock()
	f.downloads = append(f.downloads, nodeAddr+"/"+fileID)
	f.mu.Unlock()
	return &http.Response{
		StatusCode: http.StatusOK,
		Body:       io.NopCloser(strings.NewReader("ciphertext")),
	}, nil
}

func (f *fakeForwarder) SendAudit(ctx context.Context, nodeAddr string, entry forward.AuditEntry) error {
	f.mu.Lock()
	f.audits = append(f.audits, entry)
	f.mu.Unlock()
	return nil
}

func newTestWorker(fwd *fakeForwarder, nodes ...string) (*Worker, *queue.Queue, *registry.Registry) {
	q := queue.New(queue.ModeSJN, 0)
	reg := registry.New()
	for _, n := range nodes {
		reg.Register(n, n+":8080")
	}
	w := New(q, reg, policy.NewSelector(), fwd, Config{
		LatencyMin: time.Millisecond,
		LatencyMax: 2 * time.Millisecond,
	})
	return w, q, reg
}

func request(id string) *queue.Request {
	return &queue.Request{Kind: queue.KindUpload, FileID: id, FileName: id + ".bin", Size: 1024}
}

func TestDispatchForwardsAndAudits(t *testing.T) {
	fwd := &fakeForwarder{}
	w, _, _ := newTestWorker(fwd, "b1")

	w.Dispatch(context.Background(), request("f1"))

	require.Equal(t, []string{"b1:8080/f1"}, fwd.uploads)
	require.Len(t, fwd.audits, 1)
	assert.Equal(t, "UPLOAD_COMPLETE", fwd.audits[0].EventKind)
}

func TestDispatchDownloadDeliversReply(t *testing.T) {
	fwd := &fakeForwarder{}
	w, _, _ := newTestWorker(fwd, "b1")

	reply := make(chan queue.Result, 1)
	w.Dispatch(context.Background(), &queue.Request{
		Kind:   queue.KindDownload,
		FileID: "f9",
		Reply:  reply,
	})

	result := <-reply
	require.NoError(t, result.Err)
	require.NotNil(t, result.Resp)
	defer result.Resp.Body.Close()
	assert.Equal(t, http.StatusOK, result.Resp.StatusCode)
	assert.Equal(t, []string{"b1:8080/f9"}, fwd.downloads)
	assert.Empty(t, fwd.audits, "the node audits its own downloads")
}

func TestDispatchRemovesSpooledBody(t *testing.T) {
	fwd := &fakeForwarder{}
	w, _, _ := newTestWorker(fwd, "b1")

	spool := filepath.Join(t.TempDir(), "body")
	require.NoError(t, os.WriteFile(spool, []byte("x"), 0o600))

	req := request("f1")
	req.BodyPath = spool
	w.Dispatch(context.Background(), req)

	_, err := os.Stat(spool)
	assert.True(t, os.IsNotExist(err), "spooled body must be removed after dispatch")
}

func TestDispatchCyclesNodes(t *testing.T) {
	fwd := &fakeForwarder{}
	w, _, _ := newTestWorker(fwd, "b1", "b2")

	ctx := context.Background()
	w.Dispatch(ctx, request("f1"))
	w.Dispatch(ctx, request("f2"))
	w.Dispatch(ctx, request("f3"))

	assert.Equal(t, []string{"b1:8080/f1", "b2:8080/f2", "b1:8080/f3"}, fwd.uploads)
}

func TestDispatchSkipsUnhealthyNodes(t *testing.T) {
	fwd := &fakeForwarder{}
	w, _, reg := newTestWorker(fwd, "b1", "b2", "b3")
	reg.ReportFailure("b2", 1)

	ctx := context.Background()
	for i := 0; i < 4; i++ {
		w.Dispatch(ctx, request("f"))
	}
	for _, u := range fwd.uploads {
		assert.NotContains(t, u, "b2")
	}
}

func TestDispatchRequeuesWithoutNodes(t *testing.T) {
	fwd := &fakeForwarder{}
	w, q, _ := newTestWorker(fwd)

	done := make(chan struct{})
	go func() {
		w.Dispatch(context.Background(), request("f1"))
		close(done)
	}()

	select {
	case <-done:
	case <-time.After(3 * time.Second):
		t.Fatal("dispatch did not return")
	}
	assert.Equal(t, 1, q.Size(), "request must be requeued")
	assert.Empty(t, fwd.uploads)
}

func TestFailedDispatchIsAudited(t *testing.T) {
	fwd := &fakeForwarder{uploadErr: assert.AnError}
	w, _, _ := newTestWorker(fwd, "b1")

	w.Dispatch(context.Background(), request("f1"))

	require.Len(t, fwd.audits, 1)
	assert.Equal(t, "UPLOAD_FAIL", fwd.audits[0].EventKind)
	assert.Equal(t, "ERROR", fwd.audits[0].Severity)
}

func TestPerNodePermitSerializesTransfers(t *testing.T) {
	fwd := &fakeForwarder{delay: 30 * time.Millisecond}
	w, _, _ := newTestWorker(fwd, "b1")

	var wg sync.WaitGroup
	for i := 0; i < 4; i++ {
		wg.Add(1)
		go func(n int) {
			defer wg.Done()
			w.Dispatch(context.Background(), request("f"))
		}(i)
	}
	wg.Wait()

	assert.LessOrEqual(t, fwd.maxInFlight, int32(1),
		"one permit per node must serialize transfers")
	assert.Len(t, fwd.uploads, 4)
}

func TestRunStopsOnCancel(t *testing.T) {
	fwd := &fakeForwarder{}
	w, q, _ := newTestWorker(fwd, "b1")

	ctx, cancel := context.WithCancel(context.Background())
	stopped := make(chan struct{})
	go func() {
		w.Run(ctx)
		close(stopped)
	}()

	q.Enqueue(request("f1"))
	require.Eventually(t, func() bool {
		fwd.mu.Lock()
		defer fwd.mu.Unlock()
		return len(fwd.uploads) == 1
	}, 2*time.Second, 5*time.Millisecond)

	cancel()
	select {
	case <-stopped:
	case <-time.After(2 * time.Second):
		t.Fatal("worker did not stop")
	}
}
