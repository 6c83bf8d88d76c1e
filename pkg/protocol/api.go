// Package protocol defines the REST request/response types.
package protocol

import (
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	"github.com/cworks/treefs-sub001/pkg/models"
	"github.com/cworks/treefs-sub001/pkg/storage"
)

// API routes. Node paths follow the prefix; the root is the bare prefix.
const (
	NodesPrefix    = "/api/v1/nodes/"
	ChildrenPrefix = "/api/v1/children/"
	ContentPrefix  = "/api/v1/content/"
	MetadataPrefix = "/api/v1/metadata/"
	FoldersPrefix  = "/api/v1/folders/"
	FilesPrefix    = "/api/v1/files/"
	CopyPath       = "/api/v1/copy"
	MovePath       = "/api/v1/move"
	HealthPath     = "/health"
)

// Query parameters, mapped 1:1 onto provider arguments.
const (
	ParamDepth       = "depth"
	ParamRecursive   = "recursive"
	ParamForceDelete = "forceDelete"
	ParamOverwrite   = "overwrite"
	ParamFilesOnly   = "filesOnly"
	ParamFoldersOnly = "foldersOnly"
	ParamFilter      = "filter"
)

// Headers used by file uploads and downloads.
const (
	HeaderActor       = "X-Actor"
	HeaderChecksum    = "X-Checksum"
	HeaderDescription = "X-Description"
	HeaderMetadata    = "X-Metadata"
)

// TypeError tags an ErrorResponse inside an Envelope.
const TypeError = "error"

// ErrorResponse is returned on API errors.
type ErrorResponse struct {
	Type    string `json:"type"`
	Error   string `json:"error"`
	Code    string `json:"code"`
	Status  int    `json:"status"`
	Op      string `json:"op,omitempty"`
	Path    string `json:"path,omitempty"`
	Details string `json:"details,omitempty"`
}

// Err rebuilds a storage error from the response so that callers can match
// kinds with errors.Is.
func (e *ErrorResponse) Err() error {
	kind := KindForCode(e.Code)
	if kind == nil {
		kind = storage.ErrStorageBackend
	}
	return storage.NewError(kind, e.Op, e.Path, e.Details, nil)
}

// ListResponse is returned by GET /api/v1/children/{path}.
type ListResponse struct {
	Path     string         `json:"path"`
	Children []*models.Node `json:"children"`
}

// MetadataResponse is returned by GET /api/v1/metadata/{path}.
type MetadataResponse struct {
	Path     string          `json:"path"`
	Metadata models.Metadata `json:"metadata"`
}

// FolderRequest is the optional body of POST /api/v1/folders/{path}.
type FolderRequest struct {
	Description string          `json:"description,omitempty"`
	Metadata    models.Metadata `json:"metadata,omitempty"`
}

// MetadataPatchRequest is the body of PATCH /api/v1/metadata/{path}. A key
// mapped to null is removed.
type MetadataPatchRequest struct {
	Description string          `json:"description,omitempty"`
	Metadata    models.Metadata `json:"metadata,omitempty"`
}

// CopyRequest is the body of POST /api/v1/copy and POST /api/v1/move.
type CopyRequest struct {
	Source          string `json:"source"`
	Target          string `json:"target"`
	Recursive       bool   `json:"recursive,omitempty"`
	Into            bool   `json:"into,omitempty"`
	ReplaceExisting bool   `json:"replaceExisting,omitempty"`
}

// Options returns the copy flags set in r.
func (r CopyRequest) Options() []storage.CopyOption {
	var opts []storage.CopyOption
	if r.Recursive {
		opts = append(opts, storage.Recursive)
	}
	if r.Into {
		opts = append(opts, storage.Into)
	}
	if r.ReplaceExisting {
		opts = append(opts, storage.ReplaceExisting)
	}
	return opts
}

// Envelope is a decoded response body: exactly one of Node and Error is set.
type Envelope struct {
	Node  *models.Node
	Error *ErrorResponse
}

// Decode reads the "type" discriminator and decodes the matching variant:
// folder, file and path become a Node, error becomes an ErrorResponse.
func Decode(data []byte) (Envelope, error) {
	var probe struct {
		Type string `json:"type"`
	}
	if err := json.Unmarshal(data, &probe); err != nil {
		return Envelope{}, fmt.Errorf("decode envelope: %w", err)
	}
	if probe.Type == TypeError {
		var e ErrorResponse
		if err := json.Unmarshal(data, &e); err != nil {
			return Envelope{}, fmt.Errorf("decode error response: %w", err)
		}
		return Envelope{Error: &e}, nil
	}
	var n models.Node
	if err := json.Unmarshal(data, &n); err != nil {
		return Envelope{}, fmt.Errorf("decode node: %w", err)
	}
	return Envelope{Node: &n}, nil
}

// Error codes carried in ErrorResponse.Code.
const (
	CodeNoSuchPath        = "NoSuchPath"
	CodeNotAFile          = "NotAFile"
	CodeNotAFolder        = "NotAFolder"
	CodeFileAlreadyExists = "FileAlreadyExists"
	CodePathAlreadyExists = "PathAlreadyExists"
	CodeFolderNotEmpty    = "FolderNotEmpty"
	CodeContentIntegrity  = "ContentIntegrityError"
	CodeValidation        = "ValidationError"
	CodeStorageBackend    = "StorageBackendError"
)

var codes = []struct {
	kind error
	code string
}{
	{storage.ErrNoSuchPath, CodeNoSuchPath},
	{storage.ErrNotAFile, CodeNotAFile},
	{storage.ErrNotAFolder, CodeNotAFolder},
	{storage.ErrFileAlreadyExists, CodeFileAlreadyExists},
	{storage.ErrPathAlreadyExists, CodePathAlreadyExists},
	{storage.ErrFolderNotEmpty, CodeFolderNotEmpty},
	{storage.ErrContentIntegrity, CodeContentIntegrity},
	{storage.ErrValidation, CodeValidation},
	{storage.ErrStorageBackend, CodeStorageBackend},
}

// CodeForKind returns the wire code of an error kind, StorageBackendError
// for anything unknown.
func CodeForKind(kind error) string {
	for _, c := range codes {
		if errors.Is(kind, c.kind) {
			return c.code
		}
	}
	return CodeStorageBackend
}

// KindForCode maps a wire code back to its error kind, or nil.
func KindForCode(code string) error {
	for _, c := range codes {
		if strings.EqualFold(code, c.code) {
			return c.kind
		}
	}
	return nil
}
