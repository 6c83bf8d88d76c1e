package objectstore

import (
	"context"
	"errors"
	"io"
	"slices"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/cworks/treefs-sub001/internal/metrics"
	"github.com/cworks/treefs-sub001/pkg/models"
	"github.com/cworks/treefs-sub001/pkg/paths"
	"github.com/cworks/treefs-sub001/pkg/storage"
)

// CreateFolder writes the folder marker and record for path.
func (s *Provider) CreateFolder(ctx context.Context, path string, opts storage.CreateFolderOptions) (_ *models.Node, err error) {
	const op = "createFolder"
	defer func(start time.Time) { s.observe(op, path, start, err) }(time.Now())

	p, err := storage.CheckNodePath(op, path)
	if err != nil {
		return nil, err
	}
	if err := s.checkParent(ctx, op, p); err != nil {
		return nil, err
	}

	k, _, err := s.kindOf(ctx, op, p)
	if err != nil {
		return nil, err
	}
	if k != kindNone {
		if !opts.Overwrite {
			return nil, storage.NewError(storage.ErrPathAlreadyExists, op, p, "", nil)
		}
		switch {
		case k == kindFile:
			if err := s.removeFile(ctx, p); err != nil {
				return nil, storage.BackendError(op, p, err)
			}
		case opts.Force:
			if err := s.removeTree(ctx, op, p); err != nil {
				return nil, err
			}
		}
	}

	if err := s.putMarker(ctx, p); err != nil {
		return nil, storage.BackendError(op, p, err)
	}
	rec := storage.NewFolderRecord(paths.Base(p), opts, s.now())
	if err := s.putRecord(ctx, p, true, rec); err != nil {
		if k == kindNone {
			_ = s.bucket.DeleteObject(ctx, s.dirPrefix(p))
		}
		return nil, storage.BackendError(op, p, err)
	}

	s.log.Changed("folder created", p, zap.Bool("overwrite", k != kindNone))
	return s.lookup(ctx, op, p)
}

// CreateFile spools r locally to compute its checksum, then uploads the
// content and its record.
func (s *Provider) CreateFile(ctx context.Context, path string, r io.Reader, opts storage.CreateFileOptions) (_ *models.Node, err error) {
	const op = "createFile"
	defer func(start time.Time) { s.observe(op, path, start, err) }(time.Now())

	p, err := storage.CheckNodePath(op, path)
	if err != nil {
		return nil, err
	}
	if err := s.checkParent(ctx, op, p); err != nil {
		return nil, err
	}

	k, _, err := s.kindOf(ctx, op, p)
	if err != nil {
		return nil, err
	}
	switch k {
	case kindFolder:
		return nil, storage.NewError(storage.ErrPathAlreadyExists, op, p, "a folder occupies the path", nil)
	case kindFile:
		if !opts.Overwrite {
			return nil, storage.NewError(storage.ErrFileAlreadyExists, op, p, "", nil)
		}
	}

	st, err := s.stage(r, opts.ContentType)
	if err != nil {
		return nil, storage.BackendError(op, p, err)
	}
	defer st.Discard()

	if err := st.Verify(opts.ExpectedChecksum); err != nil {
		metrics.RecordChecksumMismatch(BackendType)
		return nil, storage.NewError(storage.ErrContentIntegrity, op, p, "", err)
	}

	body, err := st.Reader()
	if err != nil {
		return nil, storage.BackendError(op, p, err)
	}
	if err := s.bucket.PutObject(ctx, s.key(p), body, st.Size(), st.ContentType()); err != nil {
		return nil, storage.BackendError(op, p, err)
	}

	rec := storage.NewFileRecord(paths.Base(p), opts, st, s.now())
	if err := s.putRecord(ctx, p, false, rec); err != nil {
		if k == kindNone {
			_ = s.bucket.DeleteObject(ctx, s.key(p))
		} else {
			_ = s.bucket.DeleteObject(ctx, s.recordKey(p, false))
		}
		return nil, storage.BackendError(op, p, err)
	}

	metrics.RecordContentWrite(BackendType, st.Size())
	s.log.Changed("file created", p,
		zap.Int64("size", st.Size()),
		zap.String("checksum", st.Checksum()),
	)
	return s.lookup(ctx, op, p)
}

// Read opens the content of the file at path.
func (s *Provider) Read(ctx context.Context, path string) (_ io.ReadCloser, err error) {
	const op = "read"
	defer func(start time.Time) { s.observe(op, path, start, err) }(time.Now())

	p, err := storage.CheckPath(op, path)
	if err != nil {
		return nil, err
	}
	k, _, err := s.kindOf(ctx, op, p)
	if err != nil {
		return nil, err
	}
	switch k {
	case kindNone:
		return nil, storage.NewError(storage.ErrNoSuchPath, op, p, "", nil)
	case kindFolder:
		return nil, storage.NewError(storage.ErrNotAFile, op, p, "", nil)
	}
	rc, _, err := s.bucket.GetObject(ctx, s.key(p))
	if err != nil {
		if errors.Is(err, ErrObjectNotFound) {
			return nil, storage.NewError(storage.ErrNoSuchPath, op, p, "", nil)
		}
		return nil, storage.BackendError(op, p, err)
	}
	return rc, nil
}

func (s *Provider) probe(ctx context.Context, op, path string) kind {
	p, err := storage.CheckPath(op, path)
	if err != nil {
		return kindNone
	}
	k, _, err := s.kindOf(ctx, op, p)
	if err != nil {
		return kindNone
	}
	return k
}

// Exists reports whether a node exists at path.
func (s *Provider) Exists(ctx context.Context, path string) bool {
	return s.probe(ctx, "exists", path) != kindNone
}

// IsFolder reports whether path names a folder.
func (s *Provider) IsFolder(ctx context.Context, path string) bool {
	return s.probe(ctx, "isFolder", path) == kindFolder
}

// IsFile reports whether path names a file.
func (s *Provider) IsFile(ctx context.Context, path string) bool {
	return s.probe(ctx, "isFile", path) == kindFile
}

// IsEmpty reports whether the folder at path has no children.
func (s *Provider) IsEmpty(ctx context.Context, path string) (_ bool, err error) {
	const op = "isEmpty"
	defer func(start time.Time) { s.observe(op, path, start, err) }(time.Now())

	p, err := storage.CheckPath(op, path)
	if err != nil {
		return false, err
	}
	if err := s.expectFolder(ctx, op, p); err != nil {
		return false, err
	}
	children, err := s.listChildren(ctx, op, p)
	if err != nil {
		return false, err
	}
	return len(children) == 0, nil
}

func (s *Provider) expectFolder(ctx context.Context, op, p string) error {
	k, _, err := s.kindOf(ctx, op, p)
	if err != nil {
		return err
	}
	switch k {
	case kindNone:
		return storage.NewError(storage.ErrNoSuchPath, op, p, "", nil)
	case kindFile:
		return storage.NewError(storage.ErrNotAFolder, op, p, "", nil)
	}
	return nil
}

// Stat returns the node at path without its children.
func (s *Provider) Stat(ctx context.Context, path string) (_ *models.Node, err error) {
	const op = "stat"
	defer func(start time.Time) { s.observe(op, path, start, err) }(time.Now())

	p, err := storage.CheckPath(op, path)
	if err != nil {
		return nil, err
	}
	return s.lookup(ctx, op, p)
}

// OpenFolder returns the folder at path with depth levels of children. A
// depth of one costs a single delimited listing; deeper requests cost a
// single recursive listing whatever the depth.
func (s *Provider) OpenFolder(ctx context.Context, path string, depth int) (_ *models.Node, err error) {
	const op = "openFolder"
	defer func(start time.Time) { s.observe(op, path, start, err) }(time.Now())

	p, err := storage.CheckPath(op, path)
	if err != nil {
		return nil, err
	}
	n, err := s.folder(ctx, op, p)
	if err != nil {
		return nil, err
	}

	switch {
	case depth <= 0:
	case depth == 1:
		children, err := s.listChildren(ctx, op, p)
		if err != nil {
			return nil, err
		}
		n.Children = children
	default:
		if err := s.buildTree(ctx, op, n, depth); err != nil {
			return nil, err
		}
	}
	return n, nil
}

// List returns the children of the folder at path that pass f.
func (s *Provider) List(ctx context.Context, path string, f storage.Filter) (_ []*models.Node, err error) {
	const op = "list"
	defer func(start time.Time) { s.observe(op, path, start, err) }(time.Now())

	if err := f.Validate(); err != nil {
		return nil, err
	}
	p, err := storage.CheckPath(op, path)
	if err != nil {
		return nil, err
	}
	if err := s.expectFolder(ctx, op, p); err != nil {
		return nil, err
	}
	children, err := s.listChildren(ctx, op, p)
	if err != nil {
		return nil, err
	}
	return f.Apply(children), nil
}

// HasMetadata reports whether the node at path has a side-record.
func (s *Provider) HasMetadata(ctx context.Context, path string) bool {
	const op = "hasMetadata"
	p, err := storage.CheckPath(op, path)
	if err != nil || p == "" {
		return false
	}
	k, _, err := s.kindOf(ctx, op, p)
	if err != nil || k == kindNone {
		return false
	}
	_, err = s.bucket.StatObject(ctx, s.recordKey(p, k == kindFolder))
	return err == nil
}

// ReadMetadata returns the metadata map of the node at path.
func (s *Provider) ReadMetadata(ctx context.Context, path string) (_ models.Metadata, err error) {
	const op = "readMetadata"
	defer func(start time.Time) { s.observe(op, path, start, err) }(time.Now())

	p, err := storage.CheckPath(op, path)
	if err != nil {
		return nil, err
	}
	n, err := s.lookup(ctx, op, p)
	if err != nil {
		return nil, err
	}
	if n.Metadata == nil {
		return models.Metadata{}, nil
	}
	return n.Metadata, nil
}

// UpdateMetadata merges patch into the record of the node at path.
func (s *Provider) UpdateMetadata(ctx context.Context, path string, patch storage.MetadataPatch) (_ *models.Node, err error) {
	const op = "updateMetadata"
	defer func(start time.Time) { s.observe(op, path, start, err) }(time.Now())

	p, err := storage.CheckNodePath(op, path)
	if err != nil {
		return nil, err
	}
	k, info, err := s.kindOf(ctx, op, p)
	if err != nil {
		return nil, err
	}
	if k == kindNone {
		return nil, storage.NewError(storage.ErrNoSuchPath, op, p, "", nil)
	}
	folder := k == kindFolder

	rec, err := s.readRecord(ctx, p, folder)
	if err != nil {
		return nil, storage.BackendError(op, p, err)
	}
	if rec == nil {
		rec, err = s.bareRecord(ctx, p, folder, info)
		if err != nil {
			return nil, storage.BackendError(op, p, err)
		}
	}
	rec.Name = paths.Base(p)
	rec.Patch(patch, s.now())

	if err := s.putRecord(ctx, p, folder, rec); err != nil {
		return nil, storage.BackendError(op, p, err)
	}
	s.log.Changed("metadata updated", p, zap.Int("keys", len(patch.Metadata)))
	return s.lookup(ctx, op, p)
}

// bareRecord describes a node that was created without a record.
func (s *Provider) bareRecord(ctx context.Context, p string, folder bool, info ObjectInfo) (*storage.Record, error) {
	if folder {
		return &storage.Record{Type: models.TypeFolder}, nil
	}
	rc, _, err := s.bucket.GetObject(ctx, s.key(p))
	if err != nil {
		return nil, err
	}
	defer rc.Close()
	sum, err := storage.Checksum(rc)
	if err != nil {
		return nil, err
	}
	return &storage.Record{
		Type:        models.TypeFile,
		Size:        info.Size,
		Checksum:    sum,
		ContentType: info.ContentType,
	}, nil
}

// Copy duplicates source at target. A recursive folder copy lists the
// source keys once and copies them in key order, so every folder marker is
// written before anything below it.
func (s *Provider) Copy(ctx context.Context, source, target string, opts ...storage.CopyOption) (_ *models.Node, err error) {
	const op = "copy"
	defer func(start time.Time) { s.observe(op, source, start, err) }(time.Now())

	t, src, err := s.resolve(ctx, op, source, target, opts...)
	if err != nil {
		return nil, err
	}
	if err := s.copyNode(ctx, op, src, t.Dest, t.Recursive, true); err != nil {
		s.log.Warn("copy stopped part way",
			zap.String("source", t.Source),
			zap.String("target", t.Dest),
			zap.Error(err),
		)
		return nil, err
	}

	s.log.Changed("node copied", t.Dest, zap.String("source", t.Source), zap.Bool("recursive", t.Recursive))
	return s.lookup(ctx, op, t.Dest)
}

// Move copies every key of source to target and then deletes the source
// keys. It is not atomic.
func (s *Provider) Move(ctx context.Context, source, target string, opts ...storage.CopyOption) (_ *models.Node, err error) {
	const op = "move"
	defer func(start time.Time) { s.observe(op, source, start, err) }(time.Now())

	opts = append(slices.Clip(opts), storage.Recursive)
	t, src, err := s.resolve(ctx, op, source, target, opts...)
	if err != nil {
		return nil, err
	}
	if err := s.copyNode(ctx, op, src, t.Dest, true, false); err != nil {
		return nil, err
	}
	if err := s.removeNode(ctx, op, src); err != nil {
		s.log.Warn("move left the source behind",
			zap.String("source", t.Source),
			zap.String("target", t.Dest),
			zap.Error(err),
		)
		return nil, err
	}

	s.log.Changed("node moved", t.Dest, zap.String("source", t.Source))
	return s.lookup(ctx, op, t.Dest)
}

// resolve validates a copy or move and clears the destination when
// replacing is allowed.
func (s *Provider) resolve(ctx context.Context, op, source, target string, opts ...storage.CopyOption) (storage.Target, *models.Node, error) {
	t, err := storage.ResolveTarget(op, source, target, opts...)
	if err != nil {
		return t, nil, err
	}
	src, err := s.lookup(ctx, op, t.Source)
	if err != nil {
		return t, nil, err
	}

	if src.IsFolder() {
		children, err := s.listChildren(ctx, op, t.Source)
		if err != nil {
			return t, nil, err
		}
		if len(children) > 0 && !t.Recursive {
			return t, nil, storage.NewError(storage.ErrFolderNotEmpty, op, t.Source, "copying a populated folder needs the recursive option", nil)
		}
		if err := storage.CheckChildNames(op, t, children); err != nil {
			return t, nil, err
		}
	}

	if t.Into {
		if err := s.expectFolder(ctx, op, t.Parent); err != nil {
			return t, nil, err
		}
	} else if err := s.checkParent(ctx, op, t.Dest); err != nil {
		return t, nil, err
	}

	existing, err := s.lookup(ctx, op, t.Dest)
	switch {
	case err == nil:
		if !t.ReplaceExisting {
			return t, nil, storage.NewError(storage.ErrPathAlreadyExists, op, t.Dest, "", nil)
		}
		if err := s.removeNode(ctx, op, existing); err != nil {
			return t, nil, err
		}
	case !errors.Is(err, storage.ErrNoSuchPath):
		return t, nil, err
	}
	return t, src, nil
}

// copyNode duplicates src at dst. Records of copies get fresh timestamps;
// moved records keep theirs.
func (s *Provider) copyNode(ctx context.Context, op string, src *models.Node, dst string, recursive, fresh bool) error {
	now := s.now()
	carry := func(rec *storage.Record, name string) *storage.Record {
		if fresh {
			return rec.Copied(name, now)
		}
		return rec.Renamed(name)
	}

	if src.IsFile() {
		if err := s.bucket.CopyObject(ctx, s.key(src.Path), s.key(dst)); err != nil {
			return storage.BackendError(op, dst, err)
		}
		return s.copyRecord(ctx, op, src.Path, dst, false, carry)
	}

	if err := s.putMarker(ctx, dst); err != nil {
		return storage.BackendError(op, dst, err)
	}
	if err := s.copyRecord(ctx, op, src.Path, dst, true, carry); err != nil {
		return err
	}
	if !recursive {
		return nil
	}

	objects, err := s.scan(ctx, op, src.Path)
	if err != nil {
		return err
	}
	srcPrefix, dstPrefix := s.dirPrefix(src.Path), s.dirPrefix(dst)
	own := paths.Base(src.Path)
	for _, obj := range objects {
		if err := ctx.Err(); err != nil {
			return storage.BackendError(op, dst, err)
		}
		rel := strings.TrimPrefix(obj.Key, srcPrefix)
		if rel == "" || rel == own {
			continue
		}
		to := dstPrefix + rel
		if hidden(own, rel) {
			if err := s.copyRecordKey(ctx, obj.Key, to, carry); err != nil {
				return storage.BackendError(op, s.relPath(to), err)
			}
			continue
		}
		if err := s.bucket.CopyObject(ctx, obj.Key, to); err != nil {
			return storage.BackendError(op, s.relPath(to), err)
		}
	}
	return nil
}

func (s *Provider) copyRecord(ctx context.Context, op, src, dst string, folder bool, carry func(*storage.Record, string) *storage.Record) error {
	rec, err := s.readRecord(ctx, src, folder)
	if err != nil {
		return storage.BackendError(op, src, err)
	}
	if rec == nil {
		return nil
	}
	if err := s.putRecord(ctx, dst, folder, carry(rec, paths.Base(dst))); err != nil {
		return storage.BackendError(op, dst, err)
	}
	return nil
}

// copyRecordKey carries a descendant's record over; its name is unchanged.
func (s *Provider) copyRecordKey(ctx context.Context, from, to string, carry func(*storage.Record, string) *storage.Record) error {
	rc, _, err := s.bucket.GetObject(ctx, from)
	if err != nil {
		if errors.Is(err, ErrObjectNotFound) {
			return nil
		}
		return err
	}
	data, err := io.ReadAll(rc)
	rc.Close()
	if err != nil {
		return err
	}
	rec, err := storage.DecodeRecord(data)
	if err != nil {
		// Not a record we wrote; copy it verbatim.
		return s.bucket.CopyObject(ctx, from, to)
	}
	out, err := storage.EncodeRecord(carry(rec, rec.Name))
	if err != nil {
		return err
	}
	return s.bucket.PutObject(ctx, to, strings.NewReader(string(out)), int64(len(out)), recordContentType)
}

// Trash removes the node at path. Folders with children need force and are
// then removed key by key, deepest first.
func (s *Provider) Trash(ctx context.Context, path string, force bool) (err error) {
	const op = "trash"
	defer func(start time.Time) { s.observe(op, path, start, err) }(time.Now())

	p, err := storage.CheckNodePath(op, path)
	if err != nil {
		return err
	}
	k, _, err := s.kindOf(ctx, op, p)
	if err != nil {
		return err
	}
	switch k {
	case kindNone:
		return storage.NewError(storage.ErrNoSuchPath, op, p, "", nil)
	case kindFile:
		if err := s.removeFile(ctx, p); err != nil {
			return storage.BackendError(op, p, err)
		}
		s.log.Changed("file trashed", p)
		return nil
	}

	children, err := s.listChildren(ctx, op, p)
	if err != nil {
		return err
	}
	if len(children) > 0 && !force {
		return storage.NewError(storage.ErrFolderNotEmpty, op, p, "", nil)
	}
	if err := s.removeTree(ctx, op, p); err != nil {
		s.log.Warn("trash stopped part way",
			zap.String("path", p),
			zap.Error(err),
		)
		return err
	}
	s.log.Changed("folder trashed", p, zap.Bool("force", force), zap.Int("children", len(children)))
	return nil
}
