// Package objectstore provides a storage.Provider over a flat key space.
//
// Files are stored at <prefix>/<client>/<path>; folders are zero-byte marker
// objects at <prefix>/<client>/<path>/ and also exist implicitly while any
// key lives beneath them. Side-records follow the same naming as on local
// disk. Multi-level reads list the flat keys once and rebuild the hierarchy
// with tree.Builder.
package objectstore

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"slices"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/cworks/treefs-sub001/internal/logging"
	"github.com/cworks/treefs-sub001/internal/metrics"
	"github.com/cworks/treefs-sub001/pkg/models"
	"github.com/cworks/treefs-sub001/pkg/paths"
	"github.com/cworks/treefs-sub001/pkg/storage"
	"github.com/cworks/treefs-sub001/pkg/tree"
)

// BackendType is returned by Provider.Type.
const BackendType = "objectstore"

const (
	delimiter         = "/"
	recordContentType = "application/json"
)

// Config scopes a provider inside its bucket.
type Config struct {
	// Prefix is prepended to every key, e.g. a tenant or environment.
	Prefix string `json:"prefix"`
	Client string `json:"client"`
}

// Options tune a Provider beyond its Config.
type Options struct {
	Clock    storage.Clock
	StageDir string // where uploads are spooled; os.TempDir when empty
}

// OptionFunc is a functional option for New.
type OptionFunc func(opts *Options)

// WithClock replaces time.Now for record timestamps.
func WithClock(c storage.Clock) OptionFunc {
	return func(opts *Options) {
		if c != nil {
			opts.Clock = c
		}
	}
}

// WithStageDir sets the directory uploads are spooled to before the
// checksum is known.
func WithStageDir(dir string) OptionFunc {
	return func(opts *Options) {
		opts.StageDir = dir
	}
}

// Provider implements storage.Provider on a Bucket.
type Provider struct {
	bucket Bucket
	root   string // key of the client root, without trailing delimiter
	opts   Options
	log    logging.Scope
}

var _ storage.Provider = (*Provider)(nil)

// New binds a provider to one client scope of bucket.
func New(bucket Bucket, cfg Config, opts ...OptionFunc) (*Provider, error) {
	if bucket == nil {
		return nil, errors.New("bucket is required")
	}
	if cfg.Client != "" {
		if err := paths.CheckName(cfg.Client); err != nil {
			return nil, fmt.Errorf("client %q: %w", cfg.Client, err)
		}
		if storage.IsDotSegment(cfg.Client) {
			return nil, fmt.Errorf("client %q: not a name", cfg.Client)
		}
	}
	prefix := paths.Normalize(cfg.Prefix)
	if prefix != "" {
		if err := paths.CheckPath(prefix); err != nil {
			return nil, fmt.Errorf("prefix %q: %w", cfg.Prefix, err)
		}
		if slices.ContainsFunc(paths.Split(prefix), storage.IsDotSegment) {
			return nil, fmt.Errorf("prefix %q: dot segments are not names", cfg.Prefix)
		}
	}

	o := Options{Clock: time.Now}
	for _, fn := range opts {
		fn(&o)
	}

	p := &Provider{
		bucket: bucket,
		root:   paths.Join(prefix, cfg.Client),
		opts:   o,
		log:    logging.ForProvider(BackendType, cfg.Client, zap.String("bucket", bucket.Name())),
	}
	logging.Debug("object store provider ready",
		zap.String("bucket", bucket.Name()),
		zap.String("root", p.root),
	)
	return p, nil
}

// Type returns "objectstore".
func (s *Provider) Type() string { return BackendType }

// Close closes the bucket.
func (s *Provider) Close() error { return s.bucket.Close() }

// Bucket returns the underlying flat key space.
func (s *Provider) Bucket() Bucket { return s.bucket }

// key maps a client path to its object key.
func (s *Provider) key(p string) string {
	if p == "" {
		return s.root
	}
	return paths.Join(s.root, p)
}

// dirPrefix is the listing prefix of the folder at p, which is also the
// key of its marker object.
func (s *Provider) dirPrefix(p string) string {
	k := s.key(p)
	if k == "" {
		return ""
	}
	return k + delimiter
}

func (s *Provider) recordKey(p string, folder bool) string {
	return s.key(storage.RecordPath(p, folder))
}

func (s *Provider) now() time.Time {
	return s.opts.Clock().UTC()
}

func (s *Provider) observe(op, p string, start time.Time, err error) {
	metrics.RecordStorageOperation(BackendType, op, time.Since(start), err)
	if err != nil {
		s.log.Failed(op, p, err)
	}
}

type kind int

const (
	kindNone kind = iota
	kindFile
	kindFolder
)

// kindOf answers what occupies p with at most one stat and one single-key
// listing. The root is always a folder.
func (s *Provider) kindOf(ctx context.Context, op, p string) (kind, ObjectInfo, error) {
	if p == "" {
		return kindFolder, ObjectInfo{}, nil
	}
	info, err := s.bucket.StatObject(ctx, s.key(p))
	if err == nil {
		return kindFile, info, nil
	}
	if !errors.Is(err, ErrObjectNotFound) {
		return kindNone, ObjectInfo{}, storage.BackendError(op, p, err)
	}
	l, err := s.bucket.ListObjects(ctx, s.dirPrefix(p), delimiter, 1)
	if err != nil {
		return kindNone, ObjectInfo{}, storage.BackendError(op, p, err)
	}
	if l.Len() > 0 {
		return kindFolder, ObjectInfo{}, nil
	}
	return kindNone, ObjectInfo{}, nil
}

// lookup returns the node at p with its record applied and no children.
func (s *Provider) lookup(ctx context.Context, op, p string) (*models.Node, error) {
	k, info, err := s.kindOf(ctx, op, p)
	if err != nil {
		return nil, err
	}
	if k == kindNone {
		return nil, storage.NewError(storage.ErrNoSuchPath, op, p, "", nil)
	}
	return s.describe(ctx, op, p, k == kindFolder, info)
}

func (s *Provider) describe(ctx context.Context, op, p string, folder bool, info ObjectInfo) (*models.Node, error) {
	var n *models.Node
	if folder {
		n = models.NewFolder(paths.Base(p), p)
	} else {
		n = models.NewFile(paths.Base(p), p)
		n.Size = info.Size
		n.ContentType = info.ContentType
		n.UpdatedAt = info.LastModified
	}
	rec, err := s.readRecord(ctx, p, folder)
	if err != nil {
		return nil, storage.BackendError(op, p, err)
	}
	rec.Apply(n)
	return n, nil
}

func (s *Provider) folder(ctx context.Context, op, p string) (*models.Node, error) {
	n, err := s.lookup(ctx, op, p)
	if err != nil {
		return nil, err
	}
	if !n.IsFolder() {
		return nil, storage.NewError(storage.ErrNotAFolder, op, p, "", nil)
	}
	return n, nil
}

// checkParent requires the folder that will contain p to exist.
func (s *Provider) checkParent(ctx context.Context, op, p string) error {
	parent := paths.Parent(p)
	k, _, err := s.kindOf(ctx, op, parent)
	if err != nil {
		return err
	}
	switch k {
	case kindNone:
		return storage.NewError(storage.ErrNoSuchPath, op, p, "parent folder does not exist", nil)
	case kindFile:
		return storage.NewError(storage.ErrNotAFolder, op, parent, "parent is a file", nil)
	}
	return nil
}

// readRecord returns the side-record of p, or nil when it has none.
func (s *Provider) readRecord(ctx context.Context, p string, folder bool) (*storage.Record, error) {
	if p == "" {
		return nil, nil
	}
	data, err := s.readRecordBytes(ctx, p, folder)
	if err != nil || data == nil {
		return nil, err
	}
	return storage.DecodeRecord(data)
}

func (s *Provider) readRecordBytes(ctx context.Context, p string, folder bool) ([]byte, error) {
	rc, _, err := s.bucket.GetObject(ctx, s.recordKey(p, folder))
	if err != nil {
		if errors.Is(err, ErrObjectNotFound) {
			return nil, nil
		}
		return nil, err
	}
	defer rc.Close()
	return io.ReadAll(rc)
}

func (s *Provider) putRecord(ctx context.Context, p string, folder bool, rec *storage.Record) error {
	data, err := storage.EncodeRecord(rec)
	if err != nil {
		return err
	}
	return s.bucket.PutObject(ctx, s.recordKey(p, folder), bytes.NewReader(data), int64(len(data)), recordContentType)
}

func (s *Provider) putMarker(ctx context.Context, p string) error {
	return s.bucket.PutObject(ctx, s.dirPrefix(p), bytes.NewReader(nil), 0, "")
}

// hidden reports whether rel, a key relative to the folder called own, is
// bookkeeping: the folder's marker, a side-record, a staging leftover, or
// anything below one of those.
func hidden(own, rel string) bool {
	if strings.Trim(rel, delimiter) == "" {
		return true
	}
	parent := own
	for _, seg := range strings.Split(strings.TrimSuffix(rel, delimiter), delimiter) {
		if seg == "" || storage.IsStagingName(seg) || storage.IsReservedName(parent, seg) {
			return true
		}
		parent = seg
	}
	return false
}

// listChildren returns the children of folder p from one delimited listing,
// folders and files merged in key order.
func (s *Provider) listChildren(ctx context.Context, op, p string) ([]*models.Node, error) {
	prefix := s.dirPrefix(p)
	l, err := s.bucket.ListObjects(ctx, prefix, delimiter, 0)
	if err != nil {
		return nil, storage.BackendError(op, p, err)
	}

	type entry struct {
		key    string
		name   string
		folder bool
		info   ObjectInfo
	}
	own := paths.Base(p)
	entries := make([]entry, 0, l.Len())
	for _, pre := range l.Prefixes {
		rel := strings.TrimPrefix(pre, prefix)
		if hidden(own, rel) {
			continue
		}
		entries = append(entries, entry{key: pre, name: strings.TrimSuffix(rel, delimiter), folder: true})
	}
	folders := make(map[string]bool, len(entries))
	for _, e := range entries {
		folders[e.name] = true
	}
	for _, obj := range l.Objects {
		rel := strings.TrimPrefix(obj.Key, prefix)
		if hidden(own, rel) || folders[rel] {
			continue
		}
		entries = append(entries, entry{key: obj.Key, name: rel, info: obj})
	}
	slices.SortFunc(entries, func(a, b entry) int { return strings.Compare(a.key, b.key) })

	children := make([]*models.Node, 0, len(entries))
	for _, e := range entries {
		child, err := s.describe(ctx, op, paths.Join(p, e.name), e.folder, e.info)
		if err != nil {
			return nil, err
		}
		children = append(children, child)
	}
	return children, nil
}

// scan lists every key below folder p in one recursive listing.
func (s *Provider) scan(ctx context.Context, op, p string) ([]ObjectInfo, error) {
	l, err := s.bucket.ListObjects(ctx, s.dirPrefix(p), "", 0)
	if err != nil {
		return nil, storage.BackendError(op, p, err)
	}
	return l.Objects, nil
}

// buildTree rebuilds the subtree of folder n from one recursive listing,
// truncated at depth, and applies the side-records found in it.
func (s *Provider) buildTree(ctx context.Context, op string, n *models.Node, depth int) error {
	objects, err := s.scan(ctx, op, n.Path)
	if err != nil {
		return err
	}
	prefix := s.dirPrefix(n.Path)
	own := paths.Base(n.Path)

	b := tree.NewBuilder(n.Path)
	infos := make(map[string]ObjectInfo, len(objects))
	keys := make(map[string]bool, len(objects))
	for _, obj := range objects {
		keys[obj.Key] = true
		rel := strings.TrimPrefix(obj.Key, prefix)
		if hidden(own, rel) {
			continue
		}
		b.Insert(rel)
		infos[paths.Normalize(rel)] = obj
	}
	metrics.RecordTreeBuild(b.Len())

	built := b.Root()
	tree.Truncate(built, depth)
	n.Children = built.Children

	for _, c := range n.Children {
		err := tree.Walk(c, func(node *models.Node) error {
			rel := strings.TrimPrefix(strings.TrimPrefix(node.Path, n.Path), delimiter)
			if node.IsFile() {
				info := infos[rel]
				node.Size = info.Size
				node.ContentType = info.ContentType
				node.UpdatedAt = info.LastModified
			}
			if !keys[s.recordKey(node.Path, node.IsFolder())] {
				return nil
			}
			rec, err := s.readRecord(ctx, node.Path, node.IsFolder())
			if err != nil {
				return storage.BackendError(op, node.Path, err)
			}
			rec.Apply(node)
			return nil
		})
		if err != nil {
			return err
		}
	}
	return nil
}

// stage spools r to a temporary file so the checksum is known before any
// object is written.
func (s *Provider) stage(r io.Reader, contentType string) (*storage.Staged, error) {
	dir := s.opts.StageDir
	if dir == "" {
		dir = os.TempDir()
	}
	return storage.Stage(r, dir, contentType)
}

// removeFile deletes the content of file p and its record. The record is
// restored if the content cannot be deleted.
func (s *Provider) removeFile(ctx context.Context, p string) error {
	data, err := s.readRecordBytes(ctx, p, false)
	if err != nil {
		return err
	}
	recKey := s.recordKey(p, false)
	if data != nil {
		if err := s.bucket.DeleteObject(ctx, recKey); err != nil {
			return err
		}
	}
	if err := s.bucket.DeleteObject(ctx, s.key(p)); err != nil {
		if data != nil {
			_ = s.bucket.PutObject(ctx, recKey, bytes.NewReader(data), int64(len(data)), recordContentType)
		}
		return err
	}
	return nil
}

// removeTree deletes every key below folder p post-order: deeper keys
// first, and a folder's marker only after everything under it.
func (s *Provider) removeTree(ctx context.Context, op, p string) error {
	objects, err := s.scan(ctx, op, p)
	if err != nil {
		return err
	}
	keys := make([]string, 0, len(objects))
	for _, obj := range objects {
		keys = append(keys, obj.Key)
	}
	slices.SortFunc(keys, func(a, b string) int {
		da, db := depthOf(a), depthOf(b)
		if da != db {
			return db - da
		}
		return strings.Compare(b, a)
	})
	for _, k := range keys {
		if err := ctx.Err(); err != nil {
			return storage.BackendError(op, p, err)
		}
		if err := s.bucket.DeleteObject(ctx, k); err != nil && !errors.Is(err, ErrObjectNotFound) {
			return storage.BackendError(op, s.relPath(k), err)
		}
	}
	return nil
}

func (s *Provider) removeNode(ctx context.Context, op string, n *models.Node) error {
	if n.IsFile() {
		if err := s.removeFile(ctx, n.Path); err != nil {
			return storage.BackendError(op, n.Path, err)
		}
		return nil
	}
	return s.removeTree(ctx, op, n.Path)
}

// relPath maps an object key back to a client path.
func (s *Provider) relPath(key string) string {
	if s.root == "" {
		return paths.Normalize(key)
	}
	return paths.Normalize(strings.TrimPrefix(key, s.root+delimiter))
}

func depthOf(key string) int {
	return strings.Count(strings.TrimSuffix(key, delimiter), delimiter)
}
