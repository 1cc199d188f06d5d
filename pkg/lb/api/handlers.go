package api

import (
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/google/uuid"

	"github.com/shardvault/shardvault/internal/logger"
	"github.com/shardvault/shardvault/pkg/lb/forward"
	"github.com/shardvault/shardvault/pkg/lb/policy"
	"github.com/shardvault/shardvault/pkg/lb/queue"
	"github.com/shardvault/shardvault/pkg/lb/registry"
)

// Deps are the scheduler components the front serves.
type Deps struct {
	Queue    *queue.Queue
	Registry *registry.Registry
	Selector *policy.Selector
	Client   *forward.Client
}

// NewRouter creates and configures the chi router.
//
// Routes:
//   - POST   /api/files/upload            - Queue an upload
//   - GET    /api/files/{fileID}/download - Queue a download
//   - DELETE /api/files/{fileID}          - Proxy a delete
//   - GET    /api/health                  - Scheduler health
//   - GET    /api/nodes                   - List registered nodes
//   - POST   /api/nodes                   - Register a node
//   - DELETE /api/nodes/{name}            - Unregister a node
func NewRouter(config Config, deps Deps) http.Handler {
	config.ApplyDefaults()

	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(requestLogger)
	r.Use(middleware.Recoverer)

	h := &handler{config: config, deps: deps}
	r.Route("/api", func(r chi.Router) {
		r.Get("/health", h.Health)
		r.Post("/files/upload", h.Upload)
		r.Get("/files/{fileID}/download", h.Download)
		r.Delete("/files/{fileID}", h.Delete)
		r.Get("/nodes", h.ListNodes)
		r.Post("/nodes", h.RegisterNode)
		r.Delete("/nodes/{name}", h.UnregisterNode)
	})
	return r
}

func requestLogger(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
		next.ServeHTTP(ww, r)
		logger.Info("front request completed",
			"request_id", middleware.GetReqID(r.Context()),
			"method", r.Method,
			"path", r.URL.Path,
			"status", ww.Status(),
			"duration", time.Since(start).String(),
		)
	})
}

type handler struct {
	config Config
	deps   Deps
}

func writeJSON(w http.ResponseWriter, status int, body any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(body)
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, map[string]string{"error": msg})
}

// Upload validates the forwarding headers, spools the body to disk, and
// queues the request. Admission is refused outright when no node could
// serve it, so clients fail fast instead of queueing into a dead
// cluster.
func (h *handler) Upload(w http.ResponseWriter, r *http.Request) {
	fileName := strings.TrimSpace(r.Header.Get(forward.HeaderFileName))
	if fileName == "" {
		writeError(w, http.StatusBadRequest, "X-File-Name header is required")
		return
	}
	sizeRaw := r.Header.Get(forward.HeaderFileSize)
	if sizeRaw == "" {
		writeError(w, http.StatusBadRequest, "X-File-Size header is required")
		return
	}
	size, err := strconv.ParseInt(sizeRaw, 10, 64)
	if err != nil || size <= 0 {
		writeError(w, http.StatusBadRequest, "X-File-Size must be a positive decimal byte count")
		return
	}
	if size > h.config.MaxRequestSize.Int64() {
		writeError(w, http.StatusBadRequest,
			fmt.Sprintf("file exceeds the maximum size of %s", h.config.MaxRequestSize))
		return
	}

	fileID := r.Header.Get(forward.HeaderFileID)
	if fileID == "" {
		fileID = uuid.NewString()
	} else if _, err := uuid.Parse(fileID); err != nil {
		writeError(w, http.StatusBadRequest, "X-File-ID must be a UUID")
		return
	}

	if len(h.deps.Registry.Healthy()) == 0 {
		writeError(w, http.StatusServiceUnavailable, "No healthy nodes available")
		return
	}

	spoolPath, err := h.spoolBody(r.Body, size)
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	h.deps.Queue.Enqueue(&queue.Request{
		Kind:     queue.KindUpload,
		FileID:   fileID,
		FileName: fileName,
		Owner:    r.Header.Get(forward.HeaderOwner),
		Size:     size,
		BodyPath: spoolPath,
	})

	writeJSON(w, http.StatusOK, map[string]any{
		"fileId":   fileID,
		"status":   "queued",
		"fileName": fileName,
		"size":     size,
	})
}

// spoolBody streams the upload body to a temp file so queued requests
// hold disk, not memory. The worker removes the file after dispatch.
func (h *handler) spoolBody(body io.Reader, size int64) (string, error) {
	spool, err := os.CreateTemp(h.config.SpoolDir, "shardvault-upload-*")
	if err != nil {
		return "", fmt.Errorf("failed to spool request body")
	}
	written, err := io.Copy(spool, io.LimitReader(body, size+1))
	if closeErr := spool.Close(); err == nil {
		err = closeErr
	}
	if err != nil {
		os.Remove(spool.Name())
		return "", fmt.Errorf("failed to read request body")
	}
	if written != size {
		os.Remove(spool.Name())
		return "", fmt.Errorf("body length does not match X-File-Size")
	}
	return spool.Name(), nil
}

// Download rides through the queue like any other request and waits for
// the dispatch worker to hand back the node's response.
func (h *handler) Download(w http.ResponseWriter, r *http.Request) {
	if len(h.deps.Registry.Healthy()) == 0 {
		writeError(w, http.StatusServiceUnavailable, "No healthy nodes available")
		return
	}

	reply := make(chan queue.Result, 1)
	h.deps.Queue.Enqueue(&queue.Request{
		Kind:   queue.KindDownload,
		FileID: chi.URLParam(r, "fileID"),
		Reply:  reply,
	})

	select {
	case <-r.Context().Done():
		// Client gone; drain the eventual result so its body is closed.
		go func() {
			if result := <-reply; result.Resp != nil {
				result.Resp.Body.Close()
			}
		}()
		return
	case result := <-reply:
		if result.Err != nil {
			writeError(w, http.StatusBadGateway, "node unreachable")
			return
		}
		defer result.Resp.Body.Close()
		proxyResponse(w, result.Resp)
	}
}

// Delete proxies to one healthy node.
func (h *handler) Delete(w http.ResponseWriter, r *http.Request) {
	node, err := h.deps.Selector.Pick(h.deps.Registry.Healthy())
	if err != nil {
		writeError(w, http.StatusServiceUnavailable, "No healthy nodes available")
		return
	}

	resp, err := h.deps.Client.Delete(r.Context(), node.Address, chi.URLParam(r, "fileID"))
	if err != nil {
		writeError(w, http.StatusBadGateway, "node unreachable")
		return
	}
	defer resp.Body.Close()
	proxyResponse(w, resp)
}

// ListNodes reports every registered node and its health state.
func (h *handler) ListNodes(w http.ResponseWriter, r *http.Request) {
	nodes := h.deps.Registry.Snapshot()
	out := make([]map[string]any, 0, len(nodes))
	for _, node := range nodes {
		out = append(out, map[string]any{
			"name":    node.Name,
			"address": node.Address,
			"state":   string(node.State),
		})
	}
	writeJSON(w, http.StatusOK, map[string]any{"nodes": out})
}

// RegisterNode adds a node to the registry. Backends started by the
// host controller announce themselves here; the prober takes it from
// there.
func (h *handler) RegisterNode(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Name    string `json:"name"`
		Address string `json:"address"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid JSON body")
		return
	}
	if req.Address == "" {
		writeError(w, http.StatusBadRequest, "address is required")
		return
	}
	if req.Name == "" {
		req.Name = req.Address
	}

	h.deps.Registry.Register(req.Name, req.Address)
	writeJSON(w, http.StatusCreated, map[string]string{
		"name":    req.Name,
		"address": req.Address,
	})
}

// UnregisterNode removes a node from the registry.
func (h *handler) UnregisterNode(w http.ResponseWriter, r *http.Request) {
	name := chi.URLParam(r, "name")
	if _, ok := h.deps.Registry.Get(name); !ok {
		writeError(w, http.StatusNotFound, "node not registered")
		return
	}
	h.deps.Registry.Unregister(name)
	w.WriteHeader(http.StatusNoContent)
}

// Health reports scheduler state and queue depth.
func (h *handler) Health(w http.ResponseWriter, r *http.Request) {
	status := "HEALTHY"
	if len(h.deps.Registry.Healthy()) == 0 {
		status = "DEGRADED"
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"status":     status,
		"queue_size": h.deps.Queue.Size(),
	})
}

func proxyResponse(w http.ResponseWriter, resp *http.Response) {
	for key, values := range resp.Header {
		for _, v := range values {
			w.Header().Add(key, v)
		}
	}
	w.WriteHeader(resp.StatusCode)
	io.Copy(w, resp.Body)
}
