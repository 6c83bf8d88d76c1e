package local

import (
	"context"
	"errors"
	"io"
	"os"
	"time"

	"go.uber.org/zap"

	"github.com/cworks/treefs-sub001/internal/metrics"
	"github.com/cworks/treefs-sub001/pkg/models"
	"github.com/cworks/treefs-sub001/pkg/paths"
	"github.com/cworks/treefs-sub001/pkg/storage"
)

// CreateFolder creates the folder at path and writes its record.
func (b *Provider) CreateFolder(ctx context.Context, path string, opts storage.CreateFolderOptions) (_ *models.Node, err error) {
	const op = "createFolder"
	defer func(start time.Time) { b.observe(op, path, start, err) }(time.Now())

	p, err := storage.CheckNodePath(op, path)
	if err != nil {
		return nil, err
	}
	if err := b.checkParent(op, p); err != nil {
		return nil, err
	}

	existing, err := b.lookup(op, p)
	switch {
	case err == nil:
		if !opts.Overwrite {
			return nil, storage.NewError(storage.ErrPathAlreadyExists, op, p, "", nil)
		}
		if existing.IsFile() {
			err = b.removeFile(p)
		} else if opts.Force {
			err = b.emptyDir(ctx, b.full(p))
		}
		if err != nil {
			return nil, storage.BackendError(op, p, err)
		}
	case !errors.Is(err, storage.ErrNoSuchPath):
		return nil, err
	}

	full := b.full(p)
	created := false
	if err := os.Mkdir(full, b.opts.DirMode); err == nil {
		created = true
	} else if !errors.Is(err, os.ErrExist) {
		return nil, storage.BackendError(op, p, err)
	}

	rec := storage.NewFolderRecord(paths.Base(p), opts, b.now())
	if err := b.writeRecord(p, true, rec); err != nil {
		if created {
			os.Remove(full)
		}
		return nil, storage.BackendError(op, p, err)
	}

	b.log.Changed("folder created", p, zap.Bool("overwrite", existing != nil))
	return b.lookup(op, p)
}

// CreateFile streams r into a staging file beside path, verifies its
// checksum and then renames it into place.
func (b *Provider) CreateFile(ctx context.Context, path string, r io.Reader, opts storage.CreateFileOptions) (_ *models.Node, err error) {
	const op = "createFile"
	defer func(start time.Time) { b.observe(op, path, start, err) }(time.Now())

	p, err := storage.CheckNodePath(op, path)
	if err != nil {
		return nil, err
	}
	if err := b.checkParent(op, p); err != nil {
		return nil, err
	}

	existing, err := b.lookup(op, p)
	switch {
	case err == nil:
		if existing.IsFolder() {
			return nil, storage.NewError(storage.ErrPathAlreadyExists, op, p, "a folder occupies the path", nil)
		}
		if !opts.Overwrite {
			return nil, storage.NewError(storage.ErrFileAlreadyExists, op, p, "", nil)
		}
	case !errors.Is(err, storage.ErrNoSuchPath):
		return nil, err
	}

	st, err := storage.Stage(r, b.full(paths.Parent(p)), opts.ContentType)
	if err != nil {
		return nil, storage.BackendError(op, p, err)
	}
	defer st.Discard()

	if err := st.Verify(opts.ExpectedChecksum); err != nil {
		metrics.RecordChecksumMismatch(BackendType)
		return nil, storage.NewError(storage.ErrContentIntegrity, op, p, "", err)
	}

	full := b.full(p)
	if err := st.CommitTo(full); err != nil {
		return nil, storage.BackendError(op, p, err)
	}
	if err := os.Chmod(full, b.opts.FileMode); err != nil {
		return nil, storage.BackendError(op, p, err)
	}

	rec := storage.NewFileRecord(paths.Base(p), opts, st, b.now())
	if err := b.writeRecord(p, false, rec); err != nil {
		if existing == nil {
			os.Remove(full)
		} else {
			// Drop the stale record rather than describe the new content with it.
			os.Remove(b.full(storage.RecordPath(p, false)))
		}
		return nil, storage.BackendError(op, p, err)
	}

	metrics.RecordContentWrite(BackendType, st.Size())
	b.log.Changed("file created", p,
		zap.Int64("size", st.Size()),
		zap.String("checksum", st.Checksum()),
	)
	return b.lookup(op, p)
}

// Read opens the content of the file at path.
func (b *Provider) Read(ctx context.Context, path string) (_ io.ReadCloser, err error) {
	const op = "read"
	defer func(start time.Time) { b.observe(op, path, start, err) }(time.Now())

	p, err := storage.CheckPath(op, path)
	if err != nil {
		return nil, err
	}
	info, err := b.stat(op, p)
	if err != nil {
		return nil, err
	}
	if info.IsDir() {
		return nil, storage.NewError(storage.ErrNotAFile, op, p, "", nil)
	}
	f, err := os.Open(b.full(p))
	if err != nil {
		if notExist(err) {
			return nil, storage.NewError(storage.ErrNoSuchPath, op, p, "", nil)
		}
		return nil, storage.BackendError(op, p, err)
	}
	return f, nil
}

// Exists reports whether a node exists at path.
func (b *Provider) Exists(ctx context.Context, path string) bool {
	p, err := storage.CheckPath("exists", path)
	if err != nil {
		return false
	}
	_, err = b.stat("exists", p)
	return err == nil
}

// IsFolder reports whether path names a folder.
func (b *Provider) IsFolder(ctx context.Context, path string) bool {
	p, err := storage.CheckPath("isFolder", path)
	if err != nil {
		return false
	}
	info, err := b.stat("isFolder", p)
	return err == nil && info.IsDir()
}

// IsFile reports whether path names a file.
func (b *Provider) IsFile(ctx context.Context, path string) bool {
	p, err := storage.CheckPath("isFile", path)
	if err != nil {
		return false
	}
	info, err := b.stat("isFile", p)
	return err == nil && !info.IsDir()
}

// IsEmpty reports whether the folder at path has no children.
func (b *Provider) IsEmpty(ctx context.Context, path string) (_ bool, err error) {
	const op = "isEmpty"
	defer func(start time.Time) { b.observe(op, path, start, err) }(time.Now())

	p, err := storage.CheckPath(op, path)
	if err != nil {
		return false, err
	}
	if _, err := b.folder(op, p); err != nil {
		return false, err
	}
	ents, err := b.entries(op, p)
	if err != nil {
		return false, err
	}
	return len(ents) == 0, nil
}

// Stat returns the node at path without its children.
func (b *Provider) Stat(ctx context.Context, path string) (_ *models.Node, err error) {
	const op = "stat"
	defer func(start time.Time) { b.observe(op, path, start, err) }(time.Now())

	p, err := storage.CheckPath(op, path)
	if err != nil {
		return nil, err
	}
	return b.lookup(op, p)
}

// OpenFolder returns the folder at path with depth levels of children.
func (b *Provider) OpenFolder(ctx context.Context, path string, depth int) (_ *models.Node, err error) {
	const op = "openFolder"
	defer func(start time.Time) { b.observe(op, path, start, err) }(time.Now())

	p, err := storage.CheckPath(op, path)
	if err != nil {
		return nil, err
	}
	n, err := b.folder(op, p)
	if err != nil {
		return nil, err
	}
	if err := b.populate(ctx, op, n, depth); err != nil {
		return nil, err
	}
	return n, nil
}

// List returns the children of the folder at path that pass f.
func (b *Provider) List(ctx context.Context, path string, f storage.Filter) (_ []*models.Node, err error) {
	const op = "list"
	defer func(start time.Time) { b.observe(op, path, start, err) }(time.Now())

	if err := f.Validate(); err != nil {
		return nil, err
	}
	p, err := storage.CheckPath(op, path)
	if err != nil {
		return nil, err
	}
	if _, err := b.folder(op, p); err != nil {
		return nil, err
	}
	children, err := b.listChildren(op, p)
	if err != nil {
		return nil, err
	}
	return f.Apply(children), nil
}

// HasMetadata reports whether the node at path has a side-record.
func (b *Provider) HasMetadata(ctx context.Context, path string) bool {
	p, err := storage.CheckPath("hasMetadata", path)
	if err != nil || p == "" {
		return false
	}
	info, err := b.stat("hasMetadata", p)
	if err != nil {
		return false
	}
	_, err = os.Lstat(b.full(storage.RecordPath(p, info.IsDir())))
	return err == nil
}

// ReadMetadata returns the metadata map of the node at path.
func (b *Provider) ReadMetadata(ctx context.Context, path string) (_ models.Metadata, err error) {
	const op = "readMetadata"
	defer func(start time.Time) { b.observe(op, path, start, err) }(time.Now())

	p, err := storage.CheckPath(op, path)
	if err != nil {
		return nil, err
	}
	n, err := b.lookup(op, p)
	if err != nil {
		return nil, err
	}
	if n.Metadata == nil {
		return models.Metadata{}, nil
	}
	return n.Metadata, nil
}

// UpdateMetadata merges patch into the record of the node at path.
func (b *Provider) UpdateMetadata(ctx context.Context, path string, patch storage.MetadataPatch) (_ *models.Node, err error) {
	const op = "updateMetadata"
	defer func(start time.Time) { b.observe(op, path, start, err) }(time.Now())

	p, err := storage.CheckNodePath(op, path)
	if err != nil {
		return nil, err
	}
	info, err := b.stat(op, p)
	if err != nil {
		return nil, err
	}
	folder := info.IsDir()

	rec, err := b.readRecord(p, folder)
	if err != nil {
		return nil, storage.BackendError(op, p, err)
	}
	if rec == nil {
		rec, err = b.bareRecord(p, folder, info.Size())
		if err != nil {
			return nil, storage.BackendError(op, p, err)
		}
	}
	rec.Name = paths.Base(p)
	rec.Patch(patch, b.now())

	if err := b.writeRecord(p, folder, rec); err != nil {
		return nil, storage.BackendError(op, p, err)
	}
	b.log.Changed("metadata updated", p, zap.Int("keys", len(patch.Metadata)))
	return b.lookup(op, p)
}

// bareRecord describes a node that was created without a record.
func (b *Provider) bareRecord(p string, folder bool, size int64) (*storage.Record, error) {
	if folder {
		return &storage.Record{Type: models.TypeFolder}, nil
	}
	f, err := os.Open(b.full(p))
	if err != nil {
		return nil, err
	}
	defer f.Close()
	sum, err := storage.Checksum(f)
	if err != nil {
		return nil, err
	}
	return &storage.Record{Type: models.TypeFile, Size: size, Checksum: sum}, nil
}

// Copy duplicates source at target.
func (b *Provider) Copy(ctx context.Context, source, target string, opts ...storage.CopyOption) (_ *models.Node, err error) {
	const op = "copy"
	defer func(start time.Time) { b.observe(op, source, start, err) }(time.Now())

	t, err := storage.ResolveTarget(op, source, target, opts...)
	if err != nil {
		return nil, err
	}
	src, err := b.lookup(op, t.Source)
	if err != nil {
		return nil, err
	}
	if src.IsFolder() {
		children, err := b.listChildren(op, t.Source)
		if err != nil {
			return nil, err
		}
		if len(children) > 0 && !t.Recursive {
			return nil, storage.NewError(storage.ErrFolderNotEmpty, op, t.Source, "copying a populated folder needs the recursive option", nil)
		}
		if err := storage.CheckChildNames(op, t, children); err != nil {
			return nil, err
		}
	}
	if err := b.prepareDestination(ctx, op, t); err != nil {
		return nil, err
	}

	if err := b.copyNode(ctx, op, src, t.Dest, t.Recursive); err != nil {
		b.log.Warn("copy stopped part way",
			zap.String("source", t.Source),
			zap.String("target", t.Dest),
			zap.Error(err),
		)
		return nil, err
	}

	b.log.Changed("node copied", t.Dest, zap.String("source", t.Source), zap.Bool("recursive", t.Recursive))
	return b.lookup(op, t.Dest)
}

// Move renames source to target in one filesystem call.
func (b *Provider) Move(ctx context.Context, source, target string, opts ...storage.CopyOption) (_ *models.Node, err error) {
	const op = "move"
	defer func(start time.Time) { b.observe(op, source, start, err) }(time.Now())

	t, err := storage.ResolveTarget(op, source, target, opts...)
	if err != nil {
		return nil, err
	}
	src, err := b.lookup(op, t.Source)
	if err != nil {
		return nil, err
	}
	if src.IsFolder() {
		children, err := b.listChildren(op, t.Source)
		if err != nil {
			return nil, err
		}
		if err := storage.CheckChildNames(op, t, children); err != nil {
			return nil, err
		}
	}
	if err := b.prepareDestination(ctx, op, t); err != nil {
		return nil, err
	}

	if err := os.Rename(b.full(t.Source), b.full(t.Dest)); err != nil {
		return nil, storage.BackendError(op, t.Source, err)
	}
	if err := b.renameRecord(t.Source, t.Dest, src.IsFolder()); err != nil {
		return nil, storage.BackendError(op, t.Dest, err)
	}

	b.log.Changed("node moved", t.Dest, zap.String("source", t.Source))
	return b.lookup(op, t.Dest)
}

// prepareDestination checks the parent of t.Dest and clears an existing
// node there when replacing is allowed.
func (b *Provider) prepareDestination(ctx context.Context, op string, t storage.Target) error {
	if t.Into {
		if _, err := b.folder(op, t.Parent); err != nil {
			return err
		}
	} else if err := b.checkParent(op, t.Dest); err != nil {
		return err
	}

	existing, err := b.lookup(op, t.Dest)
	if err != nil {
		if errors.Is(err, storage.ErrNoSuchPath) {
			return nil
		}
		return err
	}
	if !t.ReplaceExisting {
		return storage.NewError(storage.ErrPathAlreadyExists, op, t.Dest, "", nil)
	}
	if err := b.removeNode(ctx, existing); err != nil {
		return storage.BackendError(op, t.Dest, err)
	}
	return nil
}

// Trash removes the node at path. Folders with children need force and are
// then removed post-order.
func (b *Provider) Trash(ctx context.Context, path string, force bool) (err error) {
	const op = "trash"
	defer func(start time.Time) { b.observe(op, path, start, err) }(time.Now())

	p, err := storage.CheckNodePath(op, path)
	if err != nil {
		return err
	}
	info, err := b.stat(op, p)
	if err != nil {
		return err
	}

	if !info.IsDir() {
		if err := b.removeFile(p); err != nil {
			return storage.BackendError(op, p, err)
		}
		b.log.Changed("file trashed", p)
		return nil
	}

	ents, err := b.entries(op, p)
	if err != nil {
		return err
	}
	if len(ents) > 0 && !force {
		return storage.NewError(storage.ErrFolderNotEmpty, op, p, "", nil)
	}
	if err := b.removeTree(ctx, b.full(p)); err != nil {
		b.log.Warn("trash stopped part way",
			zap.String("path", p),
			zap.Error(err),
		)
		return storage.BackendError(op, p, err)
	}
	b.log.Changed("folder trashed", p, zap.Bool("force", force), zap.Int("children", len(ents)))
	return nil
}
