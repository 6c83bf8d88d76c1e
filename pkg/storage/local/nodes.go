package local

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"syscall"
	"time"

	"github.com/cworks/treefs-sub001/pkg/models"
	"github.com/cworks/treefs-sub001/pkg/paths"
	"github.com/cworks/treefs-sub001/pkg/storage"
)

// stat returns the file info behind the normalized path p. The root maps to
// the mount directory.
func (b *Provider) stat(op, p string) (fs.FileInfo, error) {
	info, err := os.Lstat(b.full(p))
	if err != nil {
		if notExist(err) || errors.Is(err, syscall.ENOTDIR) {
			return nil, storage.NewError(storage.ErrNoSuchPath, op, p, "", nil)
		}
		return nil, storage.BackendError(op, p, err)
	}
	if !info.IsDir() && !info.Mode().IsRegular() {
		return nil, storage.NewError(storage.ErrNoSuchPath, op, p, "unsupported file type "+info.Mode().Type().String(), nil)
	}
	return info, nil
}

// lookup returns the node at p with its record applied and no children.
func (b *Provider) lookup(op, p string) (*models.Node, error) {
	info, err := b.stat(op, p)
	if err != nil {
		return nil, err
	}
	return b.describe(op, p, info)
}

func (b *Provider) describe(op, p string, info fs.FileInfo) (*models.Node, error) {
	var n *models.Node
	if info.IsDir() {
		n = models.NewFolder(paths.Base(p), p)
	} else {
		n = models.NewFile(paths.Base(p), p)
		n.Size = info.Size()
	}

	rec, err := b.readRecord(p, n.IsFolder())
	if err != nil {
		return nil, storage.BackendError(op, p, err)
	}
	rec.Apply(n)
	if n.UpdatedAt.IsZero() && p != "" {
		n.UpdatedAt = info.ModTime().UTC()
	}
	return n, nil
}

// readRecord returns the side-record of p, or nil when it has none.
func (b *Provider) readRecord(p string, folder bool) (*storage.Record, error) {
	if p == "" {
		return nil, nil
	}
	data, err := os.ReadFile(b.full(storage.RecordPath(p, folder)))
	if err != nil {
		if notExist(err) {
			return nil, nil
		}
		return nil, err
	}
	return storage.DecodeRecord(data)
}

// writeRecord atomically replaces the side-record of p.
func (b *Provider) writeRecord(p string, folder bool, rec *storage.Record) error {
	data, err := storage.EncodeRecord(rec)
	if err != nil {
		return err
	}
	dst := b.full(storage.RecordPath(p, folder))

	tmp, err := os.CreateTemp(filepath.Dir(dst), storage.StagePrefix+"*.tmp")
	if err != nil {
		return fmt.Errorf("create temp record: %w", err)
	}
	tmpName := tmp.Name()
	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		os.Remove(tmpName)
		return fmt.Errorf("write record: %w", err)
	}
	if err := tmp.Close(); err != nil {
		os.Remove(tmpName)
		return fmt.Errorf("close record: %w", err)
	}
	if err := os.Chmod(tmpName, b.opts.FileMode); err != nil {
		os.Remove(tmpName)
		return fmt.Errorf("chmod record: %w", err)
	}
	if err := os.Rename(tmpName, dst); err != nil {
		os.Remove(tmpName)
		return fmt.Errorf("rename record: %w", err)
	}
	return nil
}

// hidden reports whether a directory entry of the folder called own is
// bookkeeping rather than a child node.
func hidden(own, name string) bool {
	return storage.IsStagingName(name) || storage.IsReservedName(own, name)
}

// entries returns the directory entries of folder p that are child nodes,
// in filesystem listing order.
func (b *Provider) entries(op, p string) ([]fs.DirEntry, error) {
	all, err := os.ReadDir(b.full(p))
	if err != nil {
		if notExist(err) {
			return nil, storage.NewError(storage.ErrNoSuchPath, op, p, "", nil)
		}
		return nil, storage.BackendError(op, p, err)
	}
	own := paths.Base(p)
	out := all[:0]
	for _, e := range all {
		if hidden(own, e.Name()) {
			continue
		}
		if t := e.Type(); !t.IsDir() && !t.IsRegular() {
			continue
		}
		out = append(out, e)
	}
	return out, nil
}

// listChildren returns the child nodes of folder p, unpopulated.
func (b *Provider) listChildren(op, p string) ([]*models.Node, error) {
	ents, err := b.entries(op, p)
	if err != nil {
		return nil, err
	}
	children := make([]*models.Node, 0, len(ents))
	for _, e := range ents {
		cp := paths.Join(p, e.Name())
		info, err := e.Info()
		if err != nil {
			if notExist(err) {
				continue
			}
			return nil, storage.BackendError(op, cp, err)
		}
		child, err := b.describe(op, cp, info)
		if err != nil {
			return nil, err
		}
		children = append(children, child)
	}
	return children, nil
}

// populate lists up to depth levels below folder n.
func (b *Provider) populate(ctx context.Context, op string, n *models.Node, depth int) error {
	if depth <= 0 || !n.IsFolder() {
		return nil
	}
	if err := live(ctx); err != nil {
		return storage.BackendError(op, n.Path, err)
	}
	children, err := b.listChildren(op, n.Path)
	if err != nil {
		return err
	}
	n.Children = children
	for _, c := range children {
		if err := b.populate(ctx, op, c, depth-1); err != nil {
			return err
		}
	}
	return nil
}

// folder returns the folder at p, failing when p is missing or a file.
func (b *Provider) folder(op, p string) (*models.Node, error) {
	n, err := b.lookup(op, p)
	if err != nil {
		return nil, err
	}
	if !n.IsFolder() {
		return nil, storage.NewError(storage.ErrNotAFolder, op, p, "", nil)
	}
	return n, nil
}

// checkParent requires the folder that will contain p to exist.
func (b *Provider) checkParent(op, p string) error {
	parent := paths.Parent(p)
	info, err := b.stat(op, parent)
	if err != nil {
		if errors.Is(err, storage.ErrNoSuchPath) {
			return storage.NewError(storage.ErrNoSuchPath, op, p, "parent folder does not exist", nil)
		}
		return err
	}
	if !info.IsDir() {
		return storage.NewError(storage.ErrNotAFolder, op, parent, "parent is a file", nil)
	}
	return nil
}

// removeFile deletes the content of file p and its record together: the
// record is parked under a hidden name first and restored if the content
// cannot be removed.
func (b *Provider) removeFile(p string) error {
	content := b.full(p)
	record := b.full(storage.RecordPath(p, false))

	parked := ""
	if _, err := os.Lstat(record); err == nil {
		parked = parkName(filepath.Dir(record))
		if err := os.Rename(record, parked); err != nil {
			return fmt.Errorf("park record: %w", err)
		}
	}
	if err := os.Remove(content); err != nil && !notExist(err) {
		if parked != "" {
			_ = os.Rename(parked, record)
		}
		return err
	}
	if parked != "" {
		_ = os.Remove(parked)
	}
	return nil
}

// removeTree deletes dir post-order: everything below a directory goes
// before the directory itself. Entries that are already gone are skipped.
func (b *Provider) removeTree(ctx context.Context, dir string) error {
	if err := b.emptyDir(ctx, dir); err != nil {
		return err
	}
	if err := os.Remove(dir); err != nil && !notExist(err) {
		return err
	}
	return nil
}

// emptyDir removes every entry of dir, records included, keeping dir.
func (b *Provider) emptyDir(ctx context.Context, dir string) error {
	ents, err := os.ReadDir(dir)
	if err != nil {
		if notExist(err) {
			return nil
		}
		return err
	}
	for _, e := range ents {
		if err := live(ctx); err != nil {
			return err
		}
		full := filepath.Join(dir, e.Name())
		if e.IsDir() {
			if err := b.removeTree(ctx, full); err != nil {
				return err
			}
			continue
		}
		if err := os.Remove(full); err != nil && !notExist(err) {
			return fmt.Errorf("remove %s: %w", full, err)
		}
	}
	return nil
}

// removeNode deletes whatever node occupies p.
func (b *Provider) removeNode(ctx context.Context, n *models.Node) error {
	if n.IsFile() {
		return b.removeFile(n.Path)
	}
	return b.removeTree(ctx, b.full(n.Path))
}

// copyNode duplicates n at dst, pre-order: a folder is created before any
// of its children.
func (b *Provider) copyNode(ctx context.Context, op string, n *models.Node, dst string, recursive bool) error {
	if err := live(ctx); err != nil {
		return storage.BackendError(op, dst, err)
	}
	now := b.now()

	if n.IsFile() {
		if err := b.copyFile(n.Path, dst, now); err != nil {
			return storage.BackendError(op, dst, err)
		}
		return nil
	}

	if err := os.Mkdir(b.full(dst), b.opts.DirMode); err != nil {
		return storage.BackendError(op, dst, err)
	}
	rec, err := b.readRecord(n.Path, true)
	if err != nil {
		return storage.BackendError(op, n.Path, err)
	}
	if rec != nil {
		if err := b.writeRecord(dst, true, rec.Copied(paths.Base(dst), now)); err != nil {
			return storage.BackendError(op, dst, err)
		}
	}
	if !recursive {
		return nil
	}

	children, err := b.listChildren(op, n.Path)
	if err != nil {
		return err
	}
	for _, c := range children {
		if err := b.copyNode(ctx, op, c, paths.Join(dst, c.Name), true); err != nil {
			return err
		}
	}
	return nil
}

func (b *Provider) copyFile(src, dst string, now time.Time) error {
	rec, err := b.readRecord(src, false)
	if err != nil {
		return err
	}
	contentType := ""
	if rec != nil {
		contentType = rec.ContentType
	}

	f, err := os.Open(b.full(src))
	if err != nil {
		return err
	}
	defer f.Close()

	st, err := storage.Stage(f, filepath.Dir(b.full(dst)), contentType)
	if err != nil {
		return err
	}
	defer st.Discard()
	if err := st.CommitTo(b.full(dst)); err != nil {
		return err
	}
	if err := os.Chmod(b.full(dst), b.opts.FileMode); err != nil {
		return err
	}

	if rec == nil {
		return nil
	}
	c := rec.Copied(paths.Base(dst), now)
	c.Size, c.Checksum = st.Size(), st.Checksum()
	return b.writeRecord(dst, false, c)
}

// renameRecord moves the record of a node that was renamed from src to dst
// and rewrites the name it carries.
func (b *Provider) renameRecord(src, dst string, folder bool) error {
	var from string
	if folder {
		// The directory already moved; its record still carries the old name.
		from = b.full(paths.Join(dst, paths.Base(src)))
	} else {
		from = b.full(storage.RecordPath(src, false))
	}

	data, err := os.ReadFile(from)
	if err != nil {
		if notExist(err) {
			return nil
		}
		return err
	}
	rec, err := storage.DecodeRecord(data)
	if err != nil {
		return err
	}
	if err := b.writeRecord(dst, folder, rec.Renamed(paths.Base(dst))); err != nil {
		return err
	}
	if from == b.full(storage.RecordPath(dst, folder)) {
		return nil
	}
	return os.Remove(from)
}
