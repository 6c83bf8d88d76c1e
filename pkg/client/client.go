// Package client provides an HTTP client for the treefs API with retry and
// online tracking.
package client

import (
	"bytes"
	"compress/gzip"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/cworks/treefs-sub001/internal/logging"
	"github.com/cworks/treefs-sub001/internal/retry"
	"github.com/cworks/treefs-sub001/pkg/models"
	"github.com/cworks/treefs-sub001/pkg/paths"
	"github.com/cworks/treefs-sub001/pkg/protocol"
	"github.com/cworks/treefs-sub001/pkg/storage"
)

// Client talks to a treefs server.
type Client struct {
	baseURL     string
	httpClient  *http.Client
	retryConfig retry.Config
	actor       string

	mu       sync.RWMutex
	online   bool
	lastPing time.Time
}

// Config holds client configuration.
type Config struct {
	BaseURL     string
	Timeout     time.Duration
	RetryConfig retry.Config
	// Actor is sent with every mutation and recorded in side-records.
	Actor string
}

// New creates a new client.
func New(cfg Config) *Client {
	if cfg.Timeout == 0 {
		cfg.Timeout = 30 * time.Second
	}
	if cfg.RetryConfig.MaxAttempts == 0 {
		cfg.RetryConfig = retry.DefaultConfig()
	}

	return &Client{
		baseURL: strings.TrimRight(cfg.BaseURL, "/"),
		httpClient: &http.Client{
			Timeout: cfg.Timeout,
			Transport: &http.Transport{
				DialContext: (&net.Dialer{
					Timeout:   10 * time.Second,
					KeepAlive: 30 * time.Second,
				}).DialContext,
				MaxIdleConns:        100,
				IdleConnTimeout:     90 * time.Second,
				TLSHandshakeTimeout: 10 * time.Second,
			},
		},
		retryConfig: cfg.RetryConfig,
		actor:       cfg.Actor,
		online:      true,
	}
}

// IsOnline returns true if the server answered the last request.
func (c *Client) IsOnline() bool {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.online
}

func (c *Client) setOnline(online bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.online != online {
		if online {
			logging.Info("server is back online", zap.String("url", c.baseURL))
		} else {
			logging.Error("server is offline", zap.String("url", c.baseURL))
		}
	}
	c.online = online
	c.lastPing = time.Now()
}

// Ping checks if the server is reachable.
func (c *Client) Ping(ctx context.Context) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+protocol.HealthPath, nil)
	if err != nil {
		return err
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		c.setOnline(false)
		return err
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		c.setOnline(false)
		return fmt.Errorf("server returned %d", resp.StatusCode)
	}

	c.setOnline(true)
	return nil
}

// GetNode returns the node at path; folders come with depth levels of
// children.
func (c *Client) GetNode(ctx context.Context, path string, depth int) (*models.Node, error) {
	q := url.Values{protocol.ParamDepth: {strconv.Itoa(depth)}}
	var n models.Node
	if err := c.call(ctx, request{method: http.MethodGet, route: protocol.NodesPrefix, path: path, query: q}, &n); err != nil {
		return nil, err
	}
	return &n, nil
}

// List returns the direct children of the folder at path that pass f.
func (c *Client) List(ctx context.Context, path string, f storage.Filter) ([]*models.Node, error) {
	q := url.Values{}
	if f.FilesOnly {
		q.Set(protocol.ParamFilesOnly, "true")
	}
	if f.FoldersOnly {
		q.Set(protocol.ParamFoldersOnly, "true")
	}
	if len(f.Patterns) > 0 {
		q.Set(protocol.ParamFilter, strings.Join(f.Patterns, "|"))
	}
	var resp protocol.ListResponse
	if err := c.call(ctx, request{method: http.MethodGet, route: protocol.ChildrenPrefix, path: path, query: q}, &resp); err != nil {
		return nil, err
	}
	return resp.Children, nil
}

// Read opens the content of the file at path. The caller closes it.
func (c *Client) Read(ctx context.Context, path string) (io.ReadCloser, error) {
	resp, err := c.send(ctx, request{method: http.MethodGet, route: protocol.ContentPrefix, path: path})
	if err != nil {
		return nil, err
	}
	return body(resp)
}

// FolderOptions tunes CreateFolder.
type FolderOptions struct {
	Description string
	Metadata    models.Metadata
	Overwrite   bool
	ForceDelete bool
}

// CreateFolder creates a folder at path.
func (c *Client) CreateFolder(ctx context.Context, path string, opts FolderOptions) (*models.Node, error) {
	q := url.Values{}
	if opts.Overwrite {
		q.Set(protocol.ParamOverwrite, "true")
	}
	if opts.ForceDelete {
		q.Set(protocol.ParamForceDelete, "true")
	}
	req := request{
		method: http.MethodPost,
		route:  protocol.FoldersPrefix,
		path:   path,
		query:  q,
		json:   protocol.FolderRequest{Description: opts.Description, Metadata: opts.Metadata},
	}
	var n models.Node
	if err := c.call(ctx, req, &n); err != nil {
		return nil, err
	}
	return &n, nil
}

// UploadOptions tunes Upload.
type UploadOptions struct {
	Description string
	Metadata    models.Metadata
	ContentType string
	Checksum    string
	Overwrite   bool
}

// Upload streams r into a new file at path.
func (c *Client) Upload(ctx context.Context, path string, r io.Reader, opts UploadOptions) (*models.Node, error) {
	h := http.Header{}
	if opts.Description != "" {
		h.Set(protocol.HeaderDescription, opts.Description)
	}
	if opts.Checksum != "" {
		h.Set(protocol.HeaderChecksum, opts.Checksum)
	}
	if len(opts.Metadata) > 0 {
		raw, err := json.Marshal(opts.Metadata)
		if err != nil {
			return nil, fmt.Errorf("encode metadata: %w", err)
		}
		h.Set(protocol.HeaderMetadata, string(raw))
	}
	ct := opts.ContentType
	if ct == "" {
		ct = "application/octet-stream"
	}
	h.Set("Content-Type", ct)

	q := url.Values{}
	if opts.Overwrite {
		q.Set(protocol.ParamOverwrite, "true")
	}

	var n models.Node
	req := request{method: http.MethodPost, route: protocol.FilesPrefix, path: path, query: q, header: h, body: r}
	if err := c.call(ctx, req, &n); err != nil {
		return nil, err
	}
	return &n, nil
}

// Metadata returns the metadata map of the node at path.
func (c *Client) Metadata(ctx context.Context, path string) (models.Metadata, error) {
	var resp protocol.MetadataResponse
	if err := c.call(ctx, request{method: http.MethodGet, route: protocol.MetadataPrefix, path: path}, &resp); err != nil {
		return nil, err
	}
	return resp.Metadata, nil
}

// UpdateMetadata patches the side-record of the node at path. Keys mapped
// to nil are removed.
func (c *Client) UpdateMetadata(ctx context.Context, path, description string, md models.Metadata) (*models.Node, error) {
	req := request{
		method: http.MethodPatch,
		route:  protocol.MetadataPrefix,
		path:   path,
		json:   protocol.MetadataPatchRequest{Description: description, Metadata: md},
	}
	var n models.Node
	if err := c.call(ctx, req, &n); err != nil {
		return nil, err
	}
	return &n, nil
}

// Copy duplicates source at target.
func (c *Client) Copy(ctx context.Context, source, target string, opts ...storage.CopyOption) (*models.Node, error) {
	return c.transfer(ctx, protocol.CopyPath, source, target, opts)
}

// Move relocates source to target.
func (c *Client) Move(ctx context.Context, source, target string, opts ...storage.CopyOption) (*models.Node, error) {
	return c.transfer(ctx, protocol.MovePath, source, target, opts)
}

func (c *Client) transfer(ctx context.Context, route, source, target string, opts []storage.CopyOption) (*models.Node, error) {
	co := storage.ResolveCopyOptions(opts...)
	req := request{
		method: http.MethodPost,
		route:  route,
		json: protocol.CopyRequest{
			Source:          source,
			Target:          target,
			Recursive:       co.Recursive,
			Into:            co.Into,
			ReplaceExisting: co.ReplaceExisting,
		},
	}
	var n models.Node
	if err := c.call(ctx, req, &n); err != nil {
		return nil, err
	}
	return &n, nil
}

// Trash removes the node at path. A populated folder requires force.
func (c *Client) Trash(ctx context.Context, path string, force bool) error {
	q := url.Values{}
	if force {
		q.Set(protocol.ParamForceDelete, "true")
	}
	resp, err := c.send(ctx, request{method: http.MethodDelete, route: protocol.NodesPrefix, path: path, query: q})
	if err != nil {
		return err
	}
	resp.Body.Close()
	return nil
}

type request struct {
	method string
	route  string
	path   string
	query  url.Values
	header http.Header
	body   io.Reader
	json   any
}

func (r request) url(base string) string {
	u := base + r.route
	if r.path != "" {
		segs := paths.Split(r.path)
		for i, s := range segs {
			segs[i] = url.PathEscape(s)
		}
		u += strings.Join(segs, "/")
	}
	if len(r.query) > 0 {
		u += "?" + r.query.Encode()
	}
	return u
}

// call sends req and decodes a JSON response into v.
func (c *Client) call(ctx context.Context, req request, v any) error {
	resp, err := c.send(ctx, req)
	if err != nil {
		return err
	}
	rc, err := body(resp)
	if err != nil {
		return err
	}
	defer rc.Close()
	if err := json.NewDecoder(rc).Decode(v); err != nil {
		return fmt.Errorf("decode %s response: %w", req.route, err)
	}
	return nil
}

// send performs req. Reads and deletes are retried on network errors and
// 5xx answers; other methods are sent once.
func (c *Client) send(ctx context.Context, req request) (*http.Response, error) {
	var payload []byte
	if req.json != nil {
		raw, err := json.Marshal(req.json)
		if err != nil {
			return nil, fmt.Errorf("encode request: %w", err)
		}
		payload = raw
	}

	cfg := c.retryConfig
	if req.method != http.MethodGet && req.method != http.MethodDelete {
		cfg = retry.NoRetry()
	}

	resp, err := retry.DoWithResult(ctx, cfg, func() (*http.Response, error) {
		body := req.body
		if payload != nil {
			body = bytes.NewReader(payload)
		}

		httpReq, err := http.NewRequestWithContext(ctx, req.method, req.url(c.baseURL), body)
		if err != nil {
			return nil, err
		}
		for k, vs := range req.header {
			httpReq.Header[k] = vs
		}
		if payload != nil {
			httpReq.Header.Set("Content-Type", "application/json")
		}
		if c.actor != "" {
			httpReq.Header.Set(protocol.HeaderActor, c.actor)
		}
		httpReq.Header.Set("Accept-Encoding", "gzip")

		resp, err := c.httpClient.Do(httpReq)
		if err != nil {
			c.setOnline(false)
			return nil, retry.Retryable(err)
		}
		c.setOnline(true)

		if resp.StatusCode < 400 {
			return resp, nil
		}
		defer resp.Body.Close()
		apiErr := decodeError(resp)
		if resp.StatusCode >= 500 {
			return nil, retry.Retryable(apiErr)
		}
		return nil, apiErr
	})
	return resp, retry.Unwrap(err)
}

// decodeError turns an error response into a *storage.Error. Bodies that
// are not an ErrorResponse become backend errors.
func decodeError(resp *http.Response) error {
	rc, err := body(resp)
	if err == nil {
		defer rc.Close()
		data, readErr := io.ReadAll(io.LimitReader(rc, 1<<20))
		if readErr == nil {
			if env, err := protocol.Decode(data); err == nil && env.Error != nil {
				return env.Error.Err()
			}
		}
	}
	return storage.NewError(storage.ErrStorageBackend, "", "",
		fmt.Sprintf("server returned %d", resp.StatusCode), nil)
}

// body returns the response body, transparently un-gzipped.
func body(resp *http.Response) (io.ReadCloser, error) {
	if resp.Header.Get("Content-Encoding") != "gzip" {
		return resp.Body, nil
	}
	gr, err := gzip.NewReader(resp.Body)
	if err != nil {
		resp.Body.Close()
		return nil, err
	}
	return &gzipReadCloser{gr: gr, body: resp.Body}, nil
}

type gzipReadCloser struct {
	gr   *gzip.Reader
	body io.ReadCloser
}

func (g *gzipReadCloser) Read(p []byte) (int, error) {
	return g.gr.Read(p)
}

func (g *gzipReadCloser) Close() error {
	g.gr.Close()
	return g.body.Close()
}

// IsNotFound reports whether err means the path does not exist.
func IsNotFound(err error) bool {
	return errors.Is(err, storage.ErrNoSuchPath)
}
