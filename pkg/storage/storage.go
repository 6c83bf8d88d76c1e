// Package storage defines the Provider contract shared by the local-disk and
// object-store backends.
//
// A Provider is bound to one client scope (a mount directory or a bucket
// prefix) and addresses nodes by client paths as understood by package
// paths. Every operation is synchronous. Single-node mutations either apply
// fully or fail before touching the backend; multi-node operations (recursive
// copy, forced trash, move on object stores) stop at the first failure and do
// not roll back what already succeeded.
package storage

import (
	"context"
	"io"
	"time"

	"github.com/cworks/treefs-sub001/pkg/models"
)

// Provider is the interface for hierarchical storage backends.
type Provider interface {
	// CreateFolder creates a folder at path. It fails with ErrPathAlreadyExists
	// when a node already occupies path unless opts.Overwrite is set.
	CreateFolder(ctx context.Context, path string, opts CreateFolderOptions) (*models.Node, error)

	// CreateFile streams r into a new file at path, computing its checksum.
	// A checksum mismatch against opts.ExpectedChecksum persists nothing.
	CreateFile(ctx context.Context, path string, r io.Reader, opts CreateFileOptions) (*models.Node, error)

	// Read opens the content of the file at path.
	Read(ctx context.Context, path string) (io.ReadCloser, error)

	// Exists, IsFolder and IsFile never fail: a missing or illegal path
	// answers false. A trailing separator is tolerated.
	Exists(ctx context.Context, path string) bool
	IsFolder(ctx context.Context, path string) bool
	IsFile(ctx context.Context, path string) bool

	// IsEmpty reports whether the folder at path has no children.
	IsEmpty(ctx context.Context, path string) (bool, error)

	// Stat returns the node at path without listing children.
	Stat(ctx context.Context, path string) (*models.Node, error)

	// OpenFolder returns the folder at path with up to depth levels of
	// children populated. depth <= 0 performs no listing.
	OpenFolder(ctx context.Context, path string, depth int) (*models.Node, error)

	// List returns the direct children of the folder at path that pass f.
	List(ctx context.Context, path string, f Filter) ([]*models.Node, error)

	// HasMetadata reports whether a side-record exists for path.
	HasMetadata(ctx context.Context, path string) bool

	// ReadMetadata returns the metadata map of the node at path; a node
	// without a side-record yields an empty map.
	ReadMetadata(ctx context.Context, path string) (models.Metadata, error)

	// UpdateMetadata applies patch to the side-record of the node at path,
	// creating the record if needed, and returns the updated node.
	UpdateMetadata(ctx context.Context, path string, patch MetadataPatch) (*models.Node, error)

	// Copy duplicates source at target according to opts.
	Copy(ctx context.Context, source, target string, opts ...CopyOption) (*models.Node, error)

	// Move relocates source to target; target resolution follows Copy.
	Move(ctx context.Context, source, target string, opts ...CopyOption) (*models.Node, error)

	// Trash removes the node at path. A populated folder requires force.
	Trash(ctx context.Context, path string, force bool) error

	// Type returns the backend type identifier ("local", "objectstore").
	Type() string

	// Close releases any resources held by the provider.
	Close() error
}

// CreateFolderOptions tunes CreateFolder.
type CreateFolderOptions struct {
	Description string
	Metadata    models.Metadata
	Actor       string

	// Overwrite replaces an existing node at path. For an existing folder
	// only its own record is replaced unless Force is also set, in which case
	// its descendants are removed too.
	Overwrite bool
	Force     bool
}

// CreateFileOptions tunes CreateFile.
type CreateFileOptions struct {
	Description string
	Metadata    models.Metadata
	Actor       string
	ContentType string

	// ExpectedChecksum, when set, must equal the computed checksum.
	ExpectedChecksum string

	// Overwrite replaces an existing file at path.
	Overwrite bool
}

// MetadataPatch describes an in-place metadata update. Keys mapped to nil
// are removed; empty descriptive fields are left untouched.
type MetadataPatch struct {
	Description string
	Metadata    models.Metadata
	Actor       string
}

// CopyOption is a non-exclusive copy/move flag.
type CopyOption int

const (
	// Recursive copies the full subtree, pre-order.
	Recursive CopyOption = iota + 1
	// ReplaceExisting replaces an existing target instead of failing.
	ReplaceExisting
	// Into treats target as the containing folder and keeps source's name.
	Into
)

func (o CopyOption) String() string {
	switch o {
	case Recursive:
		return "RECURSIVE"
	case ReplaceExisting:
		return "REPLACE_EXISTING"
	case Into:
		return "INTO"
	default:
		return "UNKNOWN"
	}
}

// CopyOptions is the resolved set of copy flags.
type CopyOptions struct {
	Recursive       bool
	ReplaceExisting bool
	Into            bool
}

// ResolveCopyOptions folds a list of flags into a CopyOptions value.
func ResolveCopyOptions(opts ...CopyOption) CopyOptions {
	var co CopyOptions
	for _, o := range opts {
		switch o {
		case Recursive:
			co.Recursive = true
		case ReplaceExisting:
			co.ReplaceExisting = true
		case Into:
			co.Into = true
		}
	}
	return co
}

// Clock returns the current time; providers accept one so tests can pin
// timestamps.
type Clock func() time.Time
