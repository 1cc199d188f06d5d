package api

import (
	"fmt"
	"mime"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"

	"github.com/shardvault/shardvault/internal/logger"
	"github.com/shardvault/shardvault/pkg/aggregator"
	"github.com/shardvault/shardvault/pkg/errdefs"
	"github.com/shardvault/shardvault/pkg/metadata/models"
)

// Forwarding headers used by the load balancer and raw-body clients.
const (
	HeaderFileName  = "X-File-Name"
	HeaderFileSize  = "X-File-Size"
	HeaderFileID    = "X-File-ID"
	HeaderOwner     = "X-Owner"
	HeaderCipherTag = "X-Cipher-Tag"
)

// maxMultipartMemory bounds how much of a multipart upload is buffered
// in memory before spilling to disk.
const maxMultipartMemory = 32 << 20

type handler struct {
	service *aggregator.Service
}

func newHandler(service *aggregator.Service) *handler {
	return &handler{service: service}
}

// Upload accepts either a multipart form with a "file" part or a raw
// body described by the forwarding headers. The load balancer always
// uses the raw form.
func (h *handler) Upload(w http.ResponseWriter, r *http.Request) {
	req, cleanup, err := h.uploadRequest(r)
	if err != nil {
		WriteError(w, err)
		return
	}
	defer cleanup()

	result, err := h.service.Upload(r.Context(), *req)
	if err != nil {
		WriteError(w, err)
		return
	}
	JSON(w, http.StatusCreated, OKResponse(result))
}

// uploadRequest extracts the upload parameters from either request form.
func (h *handler) uploadRequest(r *http.Request) (*aggregator.UploadRequest, func(), error) {
	noop := func() {}

	mediaType, _, _ := mime.ParseMediaType(r.Header.Get("Content-Type"))
	if mediaType == "multipart/form-data" {
		if err := r.ParseMultipartForm(maxMultipartMemory); err != nil {
			return nil, noop, errdefs.NewValidation("body", "malformed multipart form")
		}
		file, header, err := r.FormFile("file")
		if err != nil {
			return nil, noop, errdefs.NewValidation("file", "multipart form must carry a file part")
		}
		owner := r.FormValue("owner")
		if owner == "" {
			owner = r.Header.Get(HeaderOwner)
		}
		return &aggregator.UploadRequest{
			FileID:    r.Header.Get(HeaderFileID),
			Name:      header.Filename,
			Owner:     owner,
			Size:      header.Size,
			CipherTag: r.Header.Get(HeaderCipherTag),
			Body:      file,
		}, func() { file.Close() }, nil
	}

	size := int64(-1)
	if raw := r.Header.Get(HeaderFileSize); raw != "" {
		parsed, err := strconv.ParseInt(raw, 10, 64)
		if err != nil {
			return nil, noop, errdefs.NewValidation("size", "file size header must be a decimal byte count")
		}
		size = parsed
	} else if r.ContentLength > 0 {
		size = r.ContentLength
	}

	return &aggregator.UploadRequest{
		FileID:    r.Header.Get(HeaderFileID),
		Name:      r.Header.Get(HeaderFileName),
		Owner:     r.Header.Get(HeaderOwner),
		Size:      size,
		CipherTag: r.Header.Get(HeaderCipherTag),
		Body:      r.Body,
	}, noop, nil
}

// Download streams the decrypted file. Headers are committed before the
// stream starts; a mid-stream failure truncates the body and is logged.
func (h *handler) Download(w http.ResponseWriter, r *http.Request) {
	fileID := chi.URLParam(r, "fileID")

	record, err := h.service.Stat(r.Context(), fileID)
	if err != nil {
		WriteError(w, err)
		return
	}

	w.Header().Set("Content-Type", "application/octet-stream")
	w.Header().Set("Content-Length", strconv.FormatInt(record.Length, 10))
	w.Header().Set("Content-Disposition", fmt.Sprintf("attachment; filename=%q", record.Name))
	w.Header().Set(HeaderFileName, record.Name)

	if err := h.service.Download(r.Context(), fileID, w); err != nil {
		logger.ErrorCtx(r.Context(), "download stream aborted",
			logger.FileID(fileID), logger.Err(err))
	}
}

// Delete removes a file and its chunks.
func (h *handler) Delete(w http.ResponseWriter, r *http.Request) {
	fileID := chi.URLParam(r, "fileID")

	if err := h.service.Delete(r.Context(), fileID); err != nil {
		WriteError(w, err)
		return
	}
	JSON(w, http.StatusOK, OKResponse(map[string]string{"file_id": fileID}))
}

// List returns stored file records, optionally filtered by owner.
func (h *handler) List(w http.ResponseWriter, r *http.Request) {
	files, err := h.service.List(r.Context(), r.URL.Query().Get("owner"))
	if err != nil {
		WriteError(w, err)
		return
	}
	JSON(w, http.StatusOK, OKResponse(files))
}

// IngestAudit records an audit entry produced by another service. The
// entry arrives as form or query fields: event_type and description are
// required, severity defaults to INFO and service_name to
// "load-balancer", user_id is optional. Repeated deliveries simply
// append, so the endpoint is idempotent.
func (h *handler) IngestAudit(w http.ResponseWriter, r *http.Request) {
	if err := r.ParseForm(); err != nil {
		WriteError(w, errdefs.NewValidation("body", "malformed form body"))
		return
	}
	eventType := r.Form.Get("event_type")
	if eventType == "" {
		WriteError(w, errdefs.NewValidation("event_type", "event type is required"))
		return
	}
	description := r.Form.Get("description")
	if description == "" {
		WriteError(w, errdefs.NewValidation("description", "description is required"))
		return
	}
	severity := r.Form.Get("severity")
	if severity == "" {
		severity = models.SeverityInfo
	}
	service := r.Form.Get("service_name")
	if service == "" {
		service = "load-balancer"
	}

	h.service.RecordAudit(&models.AuditEntry{
		EventKind:   eventType,
		Owner:       r.Form.Get("user_id"),
		Description: description,
		Severity:    severity,
		Component:   service,
	})
	JSON(w, http.StatusOK, map[string]string{"status": "OK"})
}

// Health reports process liveness and metadata store health.
func (h *handler) Health(w http.ResponseWriter, r *http.Request) {
	if err := h.service.Healthcheck(r.Context()); err != nil {
		JSON(w, http.StatusServiceUnavailable, UnhealthyResponse(err.Error()))
		return
	}
	JSON(w, http.StatusOK, HealthyResponse(map[string]string{"metadata": "up"}))
}
