// Package forward is the load balancer's HTTP client for the aggregator
// API: upload dispatch, download/delete proxying, and audit delivery.
package forward

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/shardvault/shardvault/pkg/errdefs"
	"github.com/shardvault/shardvault/pkg/lb/queue"
)

// Forwarding headers shared with the aggregator API.
const (
	HeaderFileName = "X-File-Name"
	HeaderFileSize = "X-File-Size"
	HeaderFileID   = "X-File-ID"
	HeaderOwner    = "X-Owner"
)

// Client talks to aggregator nodes. It is safe for concurrent use.
type Client struct {
	http *http.Client
}

// New creates a forwarding client. Transfers stream large bodies, so the
// client timeout only applies through NewWithTimeout; the default client
// relies on context cancellation.
func New() *Client {
	return &Client{http: &http.Client{}}
}

// NewWithTimeout creates a forwarding client with a hard per-request
// timeout, for the short-lived audit and delete calls.
func NewWithTimeout(timeout time.Duration) *Client {
	return &Client{http: &http.Client{Timeout: timeout}}
}

// Upload forwards a queued request to the node as a raw-body upload,
// streaming the spooled body from disk.
func (c *Client) Upload(ctx context.Context, nodeAddr string, r *queue.Request) error {
	body, err := os.Open(r.BodyPath)
	if err != nil {
		return fmt.Errorf("opening spooled body of %s: %v: %w", r.FileID, err, errdefs.ErrStorage)
	}
	defer body.Close()

	endpoint := fmt.Sprintf("http://%s/api/files/upload", nodeAddr)
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint, body)
	if err != nil {
		return err
	}
	req.ContentLength = r.Size
	req.Header.Set("Content-Type", "application/octet-stream")
	req.Header.Set(HeaderFileName, r.FileName)
	req.Header.Set(HeaderFileSize, strconv.FormatInt(r.Size, 10))
	req.Header.Set(HeaderFileID, r.FileID)
	if r.Owner != "" {
		req.Header.Set(HeaderOwner, r.Owner)
	}

	resp, err := c.http.Do(req)
	if err != nil {
		return fmt.Errorf("forwarding to %s: %v: %w", nodeAddr, err, errdefs.ErrTransport)
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 300 {
		return fmt.Errorf("node %s rejected upload: %s", nodeAddr, responseError(resp))
	}
	return nil
}

// Download proxies a download from the node. The caller owns the
// response body on success.
func (c *Client) Download(ctx context.Context, nodeAddr, fileID string) (*http.Response, error) {
	endpoint := fmt.Sprintf("http://%s/api/files/%s/download", nodeAddr, fileID)
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, endpoint, nil)
	if err != nil {
		return nil, err
	}
	resp, err := c.http.Do(req)
	if err != nil {
		return nil, fmt.Errorf("downloading from %s: %v: %w", nodeAddr, err, errdefs.ErrTransport)
	}
	return resp, nil
}

// Delete forwards a delete to the node.
func (c *Client) Delete(ctx context.Context, nodeAddr, fileID string) (*http.Response, error) {
	endpoint := fmt.Sprintf("http://%s/api/files/%s", nodeAddr, fileID)
	req, err := http.NewRequestWithContext(ctx, http.MethodDelete, endpoint, nil)
	if err != nil {
		return nil, err
	}
	resp, err := c.http.Do(req)
	if err != nil {
		return nil, fmt.Errorf("deleting on %s: %v: %w", nodeAddr, err, errdefs.ErrTransport)
	}
	return resp, nil
}

// AuditEntry is one record delivered to the aggregator's ingestion
// endpoint. EventKind and Description are required by the endpoint;
// Severity defaults to INFO and Component to "load-balancer" there.
type AuditEntry struct {
	EventKind   string
	Owner       string
	Description string
	Severity    string
	Component   string
}

// form encodes the entry as the ingestion endpoint's form fields.
func (e AuditEntry) form() url.Values {
	values := url.Values{}
	values.Set("event_type", e.EventKind)
	values.Set("description", e.Description)
	if e.Severity != "" {
		values.Set("severity", e.Severity)
	}
	if e.Component != "" {
		values.Set("service_name", e.Component)
	}
	if e.Owner != "" {
		values.Set("user_id", e.Owner)
	}
	return values
}

// SendAudit delivers an audit entry to the node. Failures are returned
// for logging but must never fail the request that produced the entry.
func (c *Client) SendAudit(ctx context.Context, nodeAddr string, entry AuditEntry) error {
	endpoint := fmt.Sprintf("http://%s/api/system-logs", nodeAddr)
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint,
		strings.NewReader(entry.form().Encode()))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")

	resp, err := c.http.Do(req)
	if err != nil {
		return fmt.Errorf("delivering audit to %s: %v: %w", nodeAddr, err, errdefs.ErrTransport)
	}
	defer resp.Body.Close()
	if resp.StatusCode >= 300 {
		return fmt.Errorf("node %s rejected audit entry: %s", nodeAddr, responseError(resp))
	}
	return nil
}

// responseError extracts the error message from an API response body.
func responseError(resp *http.Response) string {
	var envelope struct {
		Error string `json:"error"`
	}
	data, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
	if json.Unmarshal(data, &envelope) == nil && envelope.Error != "" {
		return fmt.Sprintf("%s (%d)", envelope.Error, resp.StatusCode)
	}
	return resp.Status
}
