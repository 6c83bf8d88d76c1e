package client

import (
	"context"
	"io"

	"github.com/cworks/treefs-sub001/pkg/models"
	"github.com/cworks/treefs-sub001/pkg/storage"
)

// FolderRef accumulates options for one folder operation:
//
//	node, err := c.Folder("reports").Depth(2).Get(ctx)
//	node, err := c.Folder("reports/2024").Description("yearly").Create(ctx)
type FolderRef struct {
	c      *Client
	path   string
	depth  int
	opts   FolderOptions
	filter storage.Filter
	force  bool
}

// Folder starts an operation on the folder at path.
func (c *Client) Folder(path string) *FolderRef {
	return &FolderRef{c: c, path: path, depth: 1}
}

// Depth sets how many levels Get populates.
func (f *FolderRef) Depth(n int) *FolderRef { f.depth = n; return f }

// Description sets the description used by Create.
func (f *FolderRef) Description(d string) *FolderRef { f.opts.Description = d; return f }

// Metadata sets the metadata used by Create.
func (f *FolderRef) Metadata(md models.Metadata) *FolderRef { f.opts.Metadata = md; return f }

// Overwrite lets Create replace an existing node.
func (f *FolderRef) Overwrite() *FolderRef { f.opts.Overwrite = true; return f }

// ForceDelete removes contents too: on Create with Overwrite, and on Trash.
func (f *FolderRef) ForceDelete() *FolderRef {
	f.opts.ForceDelete = true
	f.force = true
	return f
}

// FilesOnly restricts List to files.
func (f *FolderRef) FilesOnly() *FolderRef { f.filter.FilesOnly = true; return f }

// FoldersOnly restricts List to folders.
func (f *FolderRef) FoldersOnly() *FolderRef { f.filter.FoldersOnly = true; return f }

// Filter restricts List to children whose name matches any pattern.
func (f *FolderRef) Filter(patterns ...string) *FolderRef {
	f.filter.Patterns = append(f.filter.Patterns, patterns...)
	return f
}

// Get returns the folder with Depth levels of children.
func (f *FolderRef) Get(ctx context.Context) (*models.Node, error) {
	return f.c.GetNode(ctx, f.path, f.depth)
}

// Create creates the folder.
func (f *FolderRef) Create(ctx context.Context) (*models.Node, error) {
	return f.c.CreateFolder(ctx, f.path, f.opts)
}

// List returns the folder's direct children that pass the filter.
func (f *FolderRef) List(ctx context.Context) ([]*models.Node, error) {
	return f.c.List(ctx, f.path, f.filter)
}

// Trash removes the folder; a populated one needs ForceDelete.
func (f *FolderRef) Trash(ctx context.Context) error {
	return f.c.Trash(ctx, f.path, f.force)
}

// FileRef accumulates options for one file operation:
//
//	node, err := c.File("reports/sum.csv").Checksum(sum).Upload(ctx, r)
type FileRef struct {
	c    *Client
	path string
	opts UploadOptions
}

// File starts an operation on the file at path.
func (c *Client) File(path string) *FileRef {
	return &FileRef{c: c, path: path}
}

// Description sets the description used by Upload.
func (f *FileRef) Description(d string) *FileRef { f.opts.Description = d; return f }

// Metadata sets the metadata used by Upload.
func (f *FileRef) Metadata(md models.Metadata) *FileRef { f.opts.Metadata = md; return f }

// ContentType overrides content sniffing.
func (f *FileRef) ContentType(ct string) *FileRef { f.opts.ContentType = ct; return f }

// Checksum makes Upload fail unless the content hashes to sum.
func (f *FileRef) Checksum(sum string) *FileRef { f.opts.Checksum = sum; return f }

// Overwrite lets Upload replace an existing file.
func (f *FileRef) Overwrite() *FileRef { f.opts.Overwrite = true; return f }

// Upload streams r into the file.
func (f *FileRef) Upload(ctx context.Context, r io.Reader) (*models.Node, error) {
	return f.c.Upload(ctx, f.path, r, f.opts)
}

// Read opens the file content.
func (f *FileRef) Read(ctx context.Context) (io.ReadCloser, error) {
	return f.c.Read(ctx, f.path)
}

// Get returns the file node.
func (f *FileRef) Get(ctx context.Context) (*models.Node, error) {
	return f.c.GetNode(ctx, f.path, 0)
}

// Trash removes the file.
func (f *FileRef) Trash(ctx context.Context) error {
	return f.c.Trash(ctx, f.path, false)
}

// MetaRef accumulates a metadata patch:
//
//	node, err := c.Meta("a.txt").Set("owner", "ops").Unset("draft").Apply(ctx)
type MetaRef struct {
	c           *Client
	path        string
	description string
	patch       models.Metadata
}

// Meta starts a metadata operation on the node at path.
func (c *Client) Meta(path string) *MetaRef {
	return &MetaRef{c: c, path: path}
}

// Get returns the current metadata map.
func (m *MetaRef) Get(ctx context.Context) (models.Metadata, error) {
	return m.c.Metadata(ctx, m.path)
}

// Set adds or replaces key.
func (m *MetaRef) Set(key string, value any) *MetaRef {
	if m.patch == nil {
		m.patch = models.Metadata{}
	}
	m.patch[key] = value
	return m
}

// Unset removes key.
func (m *MetaRef) Unset(key string) *MetaRef { return m.Set(key, nil) }

// Describe replaces the description.
func (m *MetaRef) Describe(d string) *MetaRef { m.description = d; return m }

// Apply sends the patch and returns the updated node.
func (m *MetaRef) Apply(ctx context.Context) (*models.Node, error) {
	return m.c.UpdateMetadata(ctx, m.path, m.description, m.patch)
}

// Source is the first step of a copy or move; it only offers the verbs,
// so a transfer cannot run before its target is known.
type Source struct {
	c    *Client
	path string
}

// From starts a copy or move of the node at path.
func (c *Client) From(path string) Source {
	return Source{c: c, path: path}
}

// CopyTo targets a copy.
func (s Source) CopyTo(target string) *Transfer {
	return &Transfer{c: s.c, source: s.path, target: target}
}

// MoveTo targets a move.
func (s Source) MoveTo(target string) *Transfer {
	return &Transfer{c: s.c, source: s.path, target: target, move: true}
}

// Transfer is a copy or move with its target set:
//
//	node, err := c.From("docs").CopyTo("backup").Recursive().Do(ctx)
type Transfer struct {
	c      *Client
	source string
	target string
	move   bool
	opts   []storage.CopyOption
}

// Recursive copies a folder's whole subtree. Moves are always recursive.
func (t *Transfer) Recursive() *Transfer { return t.with(storage.Recursive) }

// Into treats the target as the destination folder.
func (t *Transfer) Into() *Transfer { return t.with(storage.Into) }

// ReplaceExisting replaces a node already at the destination.
func (t *Transfer) ReplaceExisting() *Transfer { return t.with(storage.ReplaceExisting) }

func (t *Transfer) with(o storage.CopyOption) *Transfer {
	t.opts = append(t.opts, o)
	return t
}

// Do runs the transfer.
func (t *Transfer) Do(ctx context.Context) (*models.Node, error) {
	if t.move {
		return t.c.Move(ctx, t.source, t.target, t.opts...)
	}
	return t.c.Copy(ctx, t.source, t.target, t.opts...)
}
