// Package api provides the HTTP server and handlers.
package api

import (
	"compress/gzip"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"strings"
	"sync"

	"go.uber.org/zap"

	"github.com/cworks/treefs-sub001/internal/logging"
	"github.com/cworks/treefs-sub001/internal/metrics"
	"github.com/cworks/treefs-sub001/pkg/models"
	"github.com/cworks/treefs-sub001/pkg/protocol"
	"github.com/cworks/treefs-sub001/pkg/storage"
)

// DefaultDepth is used by GET /api/v1/nodes when no depth is given.
const DefaultDepth = 1

// Pool gzip writers to reduce allocations on tree and listing endpoints.
var gzipPool = sync.Pool{
	New: func() any { return gzip.NewWriter(nil) },
}

// Server is the HTTP server.
type Server struct {
	provider      storage.Provider
	version       string
	maxUploadSize int64
}

// Option configures a Server.
type Option func(*Server)

// WithVersion sets the version reported by /health.
func WithVersion(v string) Option {
	return func(s *Server) { s.version = v }
}

// WithMaxUploadSize caps file upload bodies; zero means unlimited.
func WithMaxUploadSize(n int64) Option {
	return func(s *Server) { s.maxUploadSize = n }
}

// NewServer creates a server in front of provider.
func NewServer(provider storage.Provider, opts ...Option) *Server {
	s := &Server{provider: provider, version: "dev"}
	for _, fn := range opts {
		fn(s)
	}
	return s
}

// Handler returns the HTTP handler with logging and metrics middleware.
func (s *Server) Handler() http.Handler {
	mux := http.NewServeMux()

	mux.HandleFunc("GET "+protocol.HealthPath, s.handleHealth)

	mux.HandleFunc("GET "+protocol.NodesPrefix+"{path...}", s.handleGetNode)
	mux.HandleFunc("DELETE "+protocol.NodesPrefix+"{path...}", s.handleTrash)
	mux.HandleFunc("GET "+protocol.ChildrenPrefix+"{path...}", s.handleList)
	mux.HandleFunc("GET "+protocol.ContentPrefix+"{path...}", s.handleContent)
	mux.HandleFunc("GET "+protocol.MetadataPrefix+"{path...}", s.handleGetMetadata)
	mux.HandleFunc("PATCH "+protocol.MetadataPrefix+"{path...}", s.handlePatchMetadata)
	mux.HandleFunc("POST "+protocol.FoldersPrefix+"{path...}", s.handleCreateFolder)
	mux.HandleFunc("POST "+protocol.FilesPrefix+"{path...}", s.handleCreateFile)
	mux.HandleFunc("POST "+protocol.CopyPath, s.handleCopy)
	mux.HandleFunc("POST "+protocol.MovePath, s.handleMove)

	// Metrics must see the mux's matched pattern, so it wraps the mux
	// directly and logging wraps both.
	return logging.Middleware(metrics.Middleware(mux), s.logFields)
}

// logFields tags request logs with the acting user and the serving backend.
func (s *Server) logFields(r *http.Request) []zap.Field {
	fields := []zap.Field{zap.String("backend", s.provider.Type())}
	if a := actor(r); a != "" {
		fields = append(fields, zap.String("actor", a))
	}
	return fields
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	sendJSON(w, http.StatusOK, map[string]string{
		"status":  "ok",
		"version": s.version,
		"backend": s.provider.Type(),
	})
}

func (s *Server) handleGetNode(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	path := r.PathValue("path")

	depth := DefaultDepth
	if v := r.URL.Query().Get(protocol.ParamDepth); v != "" {
		d, err := strconv.Atoi(v)
		if err != nil {
			s.sendError(w, http.StatusBadRequest, protocol.CodeValidation, "invalid depth: "+v)
			return
		}
		depth = d
	}

	var (
		node *models.Node
		err  error
	)
	if s.provider.IsFile(ctx, path) {
		node, err = s.provider.Stat(ctx, path)
	} else {
		node, err = s.provider.OpenFolder(ctx, path, depth)
	}
	if err != nil {
		s.sendStorageError(w, r, err)
		return
	}
	sendTree(w, r, http.StatusOK, node)
}

func (s *Server) handleList(w http.ResponseWriter, r *http.Request) {
	path := r.PathValue("path")
	q := r.URL.Query()

	var f storage.Filter
	var err error
	if f.FilesOnly, err = boolParam(q.Get(protocol.ParamFilesOnly)); err != nil {
		s.sendError(w, http.StatusBadRequest, protocol.CodeValidation, err.Error())
		return
	}
	if f.FoldersOnly, err = boolParam(q.Get(protocol.ParamFoldersOnly)); err != nil {
		s.sendError(w, http.StatusBadRequest, protocol.CodeValidation, err.Error())
		return
	}
	f.Patterns = storage.ParsePatterns(q.Get(protocol.ParamFilter))

	children, err := s.provider.List(r.Context(), path, f)
	if err != nil {
		s.sendStorageError(w, r, err)
		return
	}
	if children == nil {
		children = []*models.Node{}
	}
	sendTree(w, r, http.StatusOK, protocol.ListResponse{Path: path, Children: children})
}

func (s *Server) handleContent(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	path := r.PathValue("path")

	node, err := s.provider.Stat(ctx, path)
	if err != nil {
		s.sendStorageError(w, r, err)
		return
	}
	if !node.IsFile() {
		s.sendStorageError(w, r, storage.NewError(storage.ErrNotAFile, "read", node.Path, "", nil))
		return
	}

	rc, err := s.provider.Read(ctx, path)
	if err != nil {
		s.sendStorageError(w, r, err)
		return
	}
	defer rc.Close()

	contentType := node.ContentType
	if contentType == "" {
		contentType = "application/octet-stream"
	}
	w.Header().Set("Content-Type", contentType)
	w.Header().Set("Content-Length", strconv.FormatInt(node.Size, 10))
	if node.Checksum != "" {
		w.Header().Set("ETag", `"`+node.Checksum+`"`)
		w.Header().Set(protocol.HeaderChecksum, node.Checksum)
	}
	w.WriteHeader(http.StatusOK)

	if _, err := io.Copy(w, rc); err != nil {
		logging.WithContext(ctx).Warn("content stream interrupted",
			zap.String("path", path),
			zap.Error(err),
		)
	}
}

func (s *Server) handleGetMetadata(w http.ResponseWriter, r *http.Request) {
	path := r.PathValue("path")
	md, err := s.provider.ReadMetadata(r.Context(), path)
	if err != nil {
		s.sendStorageError(w, r, err)
		return
	}
	if md == nil {
		md = models.Metadata{}
	}
	sendJSON(w, http.StatusOK, protocol.MetadataResponse{Path: path, Metadata: md})
}

func (s *Server) handlePatchMetadata(w http.ResponseWriter, r *http.Request) {
	var req protocol.MetadataPatchRequest
	if err := decodeBody(r, &req); err != nil {
		s.sendError(w, http.StatusBadRequest, protocol.CodeValidation, err.Error())
		return
	}

	node, err := s.provider.UpdateMetadata(r.Context(), r.PathValue("path"), storage.MetadataPatch{
		Description: req.Description,
		Metadata:    req.Metadata,
		Actor:       actor(r),
	})
	if err != nil {
		s.sendStorageError(w, r, err)
		return
	}
	sendJSON(w, http.StatusOK, node)
}

func (s *Server) handleCreateFolder(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	overwrite, err := boolParam(q.Get(protocol.ParamOverwrite))
	if err != nil {
		s.sendError(w, http.StatusBadRequest, protocol.CodeValidation, err.Error())
		return
	}
	force, err := boolParam(q.Get(protocol.ParamForceDelete))
	if err != nil {
		s.sendError(w, http.StatusBadRequest, protocol.CodeValidation, err.Error())
		return
	}

	var req protocol.FolderRequest
	if err := decodeBody(r, &req); err != nil {
		s.sendError(w, http.StatusBadRequest, protocol.CodeValidation, err.Error())
		return
	}

	node, err := s.provider.CreateFolder(r.Context(), r.PathValue("path"), storage.CreateFolderOptions{
		Description: req.Description,
		Metadata:    req.Metadata,
		Actor:       actor(r),
		Overwrite:   overwrite,
		Force:       force,
	})
	if err != nil {
		s.sendStorageError(w, r, err)
		return
	}
	sendJSON(w, http.StatusCreated, node)
}

func (s *Server) handleCreateFile(w http.ResponseWriter, r *http.Request) {
	overwrite, err := boolParam(r.URL.Query().Get(protocol.ParamOverwrite))
	if err != nil {
		s.sendError(w, http.StatusBadRequest, protocol.CodeValidation, err.Error())
		return
	}

	var md models.Metadata
	if raw := r.Header.Get(protocol.HeaderMetadata); raw != "" {
		if err := json.Unmarshal([]byte(raw), &md); err != nil {
			s.sendError(w, http.StatusBadRequest, protocol.CodeValidation, "invalid "+protocol.HeaderMetadata+" header")
			return
		}
	}

	body := io.Reader(r.Body)
	if s.maxUploadSize > 0 {
		body = http.MaxBytesReader(w, r.Body, s.maxUploadSize)
	}

	node, err := s.provider.CreateFile(r.Context(), r.PathValue("path"), body, storage.CreateFileOptions{
		Description:      r.Header.Get(protocol.HeaderDescription),
		Metadata:         md,
		Actor:            actor(r),
		ContentType:      uploadContentType(r),
		ExpectedChecksum: r.Header.Get(protocol.HeaderChecksum),
		Overwrite:        overwrite,
	})
	if err != nil {
		var tooLarge *http.MaxBytesError
		if errors.As(err, &tooLarge) {
			s.sendError(w, http.StatusRequestEntityTooLarge, protocol.CodeValidation,
				fmt.Sprintf("upload exceeds %d bytes", tooLarge.Limit))
			return
		}
		s.sendStorageError(w, r, err)
		return
	}
	sendJSON(w, http.StatusCreated, node)
}

func (s *Server) handleTrash(w http.ResponseWriter, r *http.Request) {
	force, err := boolParam(r.URL.Query().Get(protocol.ParamForceDelete))
	if err != nil {
		s.sendError(w, http.StatusBadRequest, protocol.CodeValidation, err.Error())
		return
	}
	if err := s.provider.Trash(r.Context(), r.PathValue("path"), force); err != nil {
		s.sendStorageError(w, r, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) handleCopy(w http.ResponseWriter, r *http.Request) {
	s.transfer(w, r, s.provider.Copy, http.StatusCreated)
}

func (s *Server) handleMove(w http.ResponseWriter, r *http.Request) {
	s.transfer(w, r, s.provider.Move, http.StatusOK)
}

type transferFunc func(ctx context.Context, source, target string, opts ...storage.CopyOption) (*models.Node, error)

func (s *Server) transfer(w http.ResponseWriter, r *http.Request, fn transferFunc, status int) {
	var req protocol.CopyRequest
	if err := decodeBody(r, &req); err != nil {
		s.sendError(w, http.StatusBadRequest, protocol.CodeValidation, err.Error())
		return
	}
	recursive, err := boolParam(r.URL.Query().Get(protocol.ParamRecursive))
	if err != nil {
		s.sendError(w, http.StatusBadRequest, protocol.CodeValidation, err.Error())
		return
	}
	req.Recursive = req.Recursive || recursive
	node, err := fn(r.Context(), req.Source, req.Target, req.Options()...)
	if err != nil {
		s.sendStorageError(w, r, err)
		return
	}
	sendJSON(w, status, node)
}

// StatusFor maps an error kind to its HTTP status.
func StatusFor(err error) int {
	switch {
	case errors.Is(err, storage.ErrNoSuchPath):
		return http.StatusNotFound
	case errors.Is(err, storage.ErrNotAFile),
		errors.Is(err, storage.ErrNotAFolder),
		errors.Is(err, storage.ErrFileAlreadyExists),
		errors.Is(err, storage.ErrPathAlreadyExists),
		errors.Is(err, storage.ErrFolderNotEmpty):
		return http.StatusConflict
	case errors.Is(err, storage.ErrContentIntegrity):
		return http.StatusUnprocessableEntity
	case errors.Is(err, storage.ErrValidation):
		return http.StatusBadRequest
	default:
		return http.StatusInternalServerError
	}
}

func (s *Server) sendStorageError(w http.ResponseWriter, r *http.Request, err error) {
	status := StatusFor(err)
	resp := protocol.ErrorResponse{
		Type:   protocol.TypeError,
		Error:  err.Error(),
		Code:   protocol.CodeForKind(err),
		Status: status,
	}
	var se *storage.Error
	if errors.As(err, &se) {
		resp.Op = se.Op
		resp.Path = se.Path
		resp.Details = se.Msg
		if se.Cause != nil {
			if resp.Details != "" {
				resp.Details += ": "
			}
			resp.Details += se.Cause.Error()
		}
	}

	log := logging.WithContext(r.Context())
	if status >= http.StatusInternalServerError {
		log.Error("request failed", zap.String("path", r.URL.Path), zap.Error(err))
	} else {
		log.Debug("request rejected", zap.String("path", r.URL.Path), zap.Int("status", status), zap.Error(err))
	}
	sendJSON(w, status, resp)
}

func (s *Server) sendError(w http.ResponseWriter, status int, code, message string) {
	sendJSON(w, status, protocol.ErrorResponse{
		Type:    protocol.TypeError,
		Error:   message,
		Code:    code,
		Status:  status,
		Details: message,
	})
}

func sendJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}

// sendTree is sendJSON with gzip for clients that accept it.
func sendTree(w http.ResponseWriter, r *http.Request, status int, v any) {
	if !acceptsGzip(r) {
		sendJSON(w, status, v)
		return
	}
	w.Header().Set("Content-Type", "application/json")
	w.Header().Set("Content-Encoding", "gzip")
	w.Header().Add("Vary", "Accept-Encoding")
	w.WriteHeader(status)
	gw := gzipPool.Get().(*gzip.Writer)
	gw.Reset(w)
	json.NewEncoder(gw).Encode(v)
	gw.Close()
	gzipPool.Put(gw)
}

func acceptsGzip(r *http.Request) bool {
	for _, enc := range strings.Split(r.Header.Get("Accept-Encoding"), ",") {
		if strings.TrimSpace(strings.SplitN(enc, ";", 2)[0]) == "gzip" {
			return true
		}
	}
	return false
}

// decodeBody decodes an optional JSON body; an empty body leaves v untouched.
func decodeBody(r *http.Request, v any) error {
	if r.Body == nil {
		return nil
	}
	err := json.NewDecoder(r.Body).Decode(v)
	if errors.Is(err, io.EOF) {
		return nil
	}
	if err != nil {
		return fmt.Errorf("invalid request body: %w", err)
	}
	return nil
}

func boolParam(v string) (bool, error) {
	if v == "" {
		return false, nil
	}
	b, err := strconv.ParseBool(v)
	if err != nil {
		return false, fmt.Errorf("invalid boolean %q", v)
	}
	return b, nil
}

func actor(r *http.Request) string {
	return r.Header.Get(protocol.HeaderActor)
}

// uploadContentType drops the generic types clients send by default so the
// provider sniffs the content instead.
func uploadContentType(r *http.Request) string {
	ct := r.Header.Get("Content-Type")
	switch strings.TrimSpace(strings.SplitN(ct, ";", 2)[0]) {
	case "", "application/octet-stream":
		return ""
	}
	return ct
}
