package objectstore

import (
	"context"
	"errors"
	"io"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/cworks/treefs-sub001/pkg/storage"
	"github.com/cworks/treefs-sub001/pkg/storage/storagetest"
	"github.com/cworks/treefs-sub001/pkg/tree"
)

var fixedNow = time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC)

// countingBucket tallies listing calls: delimited listings and recursive
// scans separately.
type countingBucket struct {
	*MemoryBucket
	lists int
	scans int
}

func (c *countingBucket) ListObjects(ctx context.Context, prefix, delim string, maxKeys int) (Listing, error) {
	if delim == "" {
		c.scans++
	} else {
		c.lists++
	}
	return c.MemoryBucket.ListObjects(ctx, prefix, delim, maxKeys)
}

func (c *countingBucket) reset() { c.lists, c.scans = 0, 0 }

func newTestProvider(t *testing.T, bucket Bucket) *Provider {
	t.Helper()
	p, err := New(bucket, Config{Prefix: "tenant", Client: "acme"},
		WithClock(func() time.Time { return fixedNow }),
		WithStageDir(t.TempDir()),
	)
	require.NoError(t, err)
	return p
}

func seedSmall(t *testing.T, p *Provider) {
	t.Helper()
	ctx := context.Background()
	_, err := p.CreateFolder(ctx, "a", storage.CreateFolderOptions{})
	require.NoError(t, err)
	_, err = p.CreateFolder(ctx, "a/b", storage.CreateFolderOptions{})
	require.NoError(t, err)
	_, err = p.CreateFile(ctx, "a/b/x.txt", strings.NewReader("xx"), storage.CreateFileOptions{})
	require.NoError(t, err)
}

func TestConformance(t *testing.T) {
	storagetest.Run(t, func(t *testing.T) storage.Provider {
		return newTestProvider(t, NewMemoryBucket())
	})
}

func TestNew(t *testing.T) {
	_, err := New(nil, Config{})
	assert.Error(t, err)

	_, err = New(NewMemoryBucket(), Config{Client: "a/b"})
	assert.Error(t, err)

	_, err = New(NewMemoryBucket(), Config{Prefix: "x//y"})
	assert.Error(t, err)
	_, err = New(NewMemoryBucket(), Config{Client: "."})
	assert.Error(t, err)
	_, err = New(NewMemoryBucket(), Config{Prefix: "env/.."})
	assert.Error(t, err)

	p, err := New(NewMemoryBucket(), Config{Prefix: "/env/"})
	require.NoError(t, err)
	assert.Equal(t, "env/k", p.key("k"))
	assert.Equal(t, BackendType, p.Type())
}

func TestKeyLayout(t *testing.T) {
	bucket := NewMemoryBucket()
	p := newTestProvider(t, bucket)
	seedSmall(t, p)

	assert.Equal(t, []string{
		"tenant/acme/a/",
		"tenant/acme/a/a",
		"tenant/acme/a/b/",
		"tenant/acme/a/b/b",
		"tenant/acme/a/b/x.txt",
		"tenant/acme/a/b/x.txt.f",
	}, bucket.Keys())
}

func TestDotSegmentsWriteNoKeys(t *testing.T) {
	ctx := context.Background()
	bucket := NewMemoryBucket()
	p := newTestProvider(t, bucket)

	_, err := p.CreateFolder(ctx, "..", storage.CreateFolderOptions{})
	assert.ErrorIs(t, err, storage.ErrValidation)
	_, err = p.CreateFolder(ctx, "../..", storage.CreateFolderOptions{})
	assert.ErrorIs(t, err, storage.ErrValidation)
	_, err = p.CreateFile(ctx, "./x.txt", strings.NewReader("x"), storage.CreateFileOptions{})
	assert.ErrorIs(t, err, storage.ErrValidation)
	assert.Empty(t, bucket.Keys())
}

func TestImplicitFolders(t *testing.T) {
	ctx := context.Background()
	bucket := NewMemoryBucket()
	p := newTestProvider(t, bucket)

	require.NoError(t, bucket.PutObject(ctx, "tenant/acme/imp/deep/x.txt", strings.NewReader("abc"), 3, "text/plain"))

	assert.True(t, p.IsFolder(ctx, "imp"))
	assert.True(t, p.IsFolder(ctx, "imp/deep"))
	assert.True(t, p.IsFile(ctx, "imp/deep/x.txt"))
	assert.False(t, p.HasMetadata(ctx, "imp"))

	root, err := p.OpenFolder(ctx, "", 5)
	require.NoError(t, err)
	x := tree.FindByPath(root, "imp/deep/x.txt")
	require.NotNil(t, x)
	assert.True(t, x.IsFile())
	assert.EqualValues(t, 3, x.Size)
	assert.Equal(t, "text/plain", x.ContentType)

	children, err := p.List(ctx, "imp", storage.Filter{})
	require.NoError(t, err)
	require.Len(t, children, 1)
	assert.True(t, children[0].IsFolder())
	assert.Equal(t, "imp/deep", children[0].Path)
}

func TestOpenFolderListingCalls(t *testing.T) {
	ctx := context.Background()
	bucket := &countingBucket{MemoryBucket: NewMemoryBucket()}
	p := newTestProvider(t, bucket)
	seedSmall(t, p)

	tests := []struct {
		depth int
		lists int
		scans int
	}{
		{depth: 0, lists: 1, scans: 0},
		{depth: 1, lists: 2, scans: 0},
		{depth: 2, lists: 1, scans: 1},
		{depth: 10, lists: 1, scans: 1},
	}
	for _, tt := range tests {
		bucket.reset()
		n, err := p.OpenFolder(ctx, "a", tt.depth)
		require.NoError(t, err)
		assert.Equal(t, tt.lists, bucket.lists, "delimited listings at depth %d", tt.depth)
		assert.Equal(t, tt.scans, bucket.scans, "recursive scans at depth %d", tt.depth)
		if tt.depth <= 0 {
			assert.Nil(t, n.Children)
		} else {
			assert.NotNil(t, n.Children)
		}
	}
}

func TestRecordsSurviveTreeRebuild(t *testing.T) {
	ctx := context.Background()
	p := newTestProvider(t, NewMemoryBucket())
	seedSmall(t, p)

	_, err := p.UpdateMetadata(ctx, "a/b/x.txt", storage.MetadataPatch{Description: "leaf", Actor: "ann"})
	require.NoError(t, err)

	n, err := p.OpenFolder(ctx, "", 3)
	require.NoError(t, err)
	x := tree.FindByPath(n, "a/b/x.txt")
	require.NotNil(t, x)
	assert.Equal(t, "leaf", x.Description)
	assert.Equal(t, "ann", x.UpdatedBy)
	assert.Len(t, x.Checksum, 40)

	// Depth 2 from the root stops at a/b with its children unlisted.
	n, err = p.OpenFolder(ctx, "", 2)
	require.NoError(t, err)
	b := tree.FindByPath(n, "a/b")
	require.NotNil(t, b)
	assert.Nil(t, b.Children)
}

func TestCopyStopsAtFirstFailure(t *testing.T) {
	ctx := context.Background()
	bucket := NewMemoryBucket()
	p := newTestProvider(t, bucket)
	seedSmall(t, p)

	boom := errors.New("boom")
	bucket.FailOn = func(op, key string) error {
		if op == "copy" && strings.HasSuffix(key, "z/b/x.txt") {
			return boom
		}
		return nil
	}

	_, err := p.Copy(ctx, "a", "z", storage.Recursive)
	require.ErrorIs(t, err, storage.ErrStorageBackend)
	require.ErrorIs(t, err, boom)

	// What was copied before the failure stays.
	assert.True(t, p.IsFolder(ctx, "z"))
	assert.True(t, p.IsFolder(ctx, "z/b"))
	assert.False(t, p.Exists(ctx, "z/b/x.txt"))
	assert.True(t, p.IsFile(ctx, "a/b/x.txt"))
}

func TestForcedTrashResumes(t *testing.T) {
	ctx := context.Background()
	bucket := NewMemoryBucket()
	p := newTestProvider(t, bucket)
	seedSmall(t, p)

	bucket.FailOn = func(op, key string) error {
		if op == "delete" && key == "tenant/acme/a/b/" {
			return errors.New("unavailable")
		}
		return nil
	}
	err := p.Trash(ctx, "a", true)
	require.ErrorIs(t, err, storage.ErrStorageBackend)

	// Descendants went first; the folders are still there.
	assert.False(t, p.Exists(ctx, "a/b/x.txt"))
	assert.True(t, p.IsFolder(ctx, "a/b"))

	bucket.FailOn = nil
	require.NoError(t, p.Trash(ctx, "a", true))
	assert.False(t, p.Exists(ctx, "a"))
	assert.Empty(t, bucket.Keys())
}

func TestTrashFileRestoresRecord(t *testing.T) {
	ctx := context.Background()
	bucket := NewMemoryBucket()
	p := newTestProvider(t, bucket)
	seedSmall(t, p)

	bucket.FailOn = func(op, key string) error {
		if op == "delete" && key == "tenant/acme/a/b/x.txt" {
			return errors.New("unavailable")
		}
		return nil
	}
	require.ErrorIs(t, p.Trash(ctx, "a/b/x.txt", false), storage.ErrStorageBackend)
	assert.True(t, p.IsFile(ctx, "a/b/x.txt"))
	assert.True(t, p.HasMetadata(ctx, "a/b/x.txt"))
}

func TestMoveKeepsRecordTimes(t *testing.T) {
	ctx := context.Background()
	now := fixedNow
	p, err := New(NewMemoryBucket(), Config{}, WithClock(func() time.Time { return now }))
	require.NoError(t, err)

	_, err = p.CreateFolder(ctx, "src", storage.CreateFolderOptions{Description: "d"})
	require.NoError(t, err)
	_, err = p.CreateFile(ctx, "src/f.txt", strings.NewReader("f"), storage.CreateFileOptions{})
	require.NoError(t, err)

	now = fixedNow.Add(time.Hour)
	n, err := p.Move(ctx, "src", "dst")
	require.NoError(t, err)
	assert.Equal(t, "dst", n.Name)
	assert.Equal(t, "d", n.Description)
	assert.True(t, fixedNow.Equal(n.CreatedAt))
	assert.False(t, p.Exists(ctx, "src"))

	f, err := p.Stat(ctx, "dst/f.txt")
	require.NoError(t, err)
	assert.True(t, fixedNow.Equal(f.CreatedAt))
}

func TestHidden(t *testing.T) {
	tests := []struct {
		own  string
		rel  string
		want bool
	}{
		{"a", "", true},
		{"a", "/", true},
		{"a", "a", true},
		{"a", "x.f", true},
		{"a", "b/b", true},
		{"a", storage.StagePrefix + "1.tmp", true},
		{"a", "b//c", true},
		{"a", "b/", false},
		{"a", "b/c.txt", false},
		{"", "a", false},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, hidden(tt.own, tt.rel), "hidden(%q, %q)", tt.own, tt.rel)
	}
}

func TestMemoryBucketListing(t *testing.T) {
	ctx := context.Background()
	m := NewMemoryBucket()
	for _, k := range []string{"x/1", "x/y/2", "x/y/3", "x/z/", "w"} {
		require.NoError(t, m.PutObject(ctx, k, strings.NewReader(""), 0, ""))
	}

	l, err := m.ListObjects(ctx, "x/", "/", 0)
	require.NoError(t, err)
	require.Len(t, l.Objects, 1)
	assert.Equal(t, "x/1", l.Objects[0].Key)
	assert.Equal(t, []string{"x/y/", "x/z/"}, l.Prefixes)

	l, err = m.ListObjects(ctx, "x/", "/", 2)
	require.NoError(t, err)
	assert.Equal(t, 2, l.Len())
	assert.Equal(t, []string{"x/y/"}, l.Prefixes)

	l, err = m.ListObjects(ctx, "x/", "", 0)
	require.NoError(t, err)
	assert.Len(t, l.Objects, 4)
	assert.Empty(t, l.Prefixes)
}

func TestMemoryBucketObjects(t *testing.T) {
	ctx := context.Background()
	m := NewMemoryBucket()

	_, _, err := m.GetObject(ctx, "missing")
	assert.ErrorIs(t, err, ErrObjectNotFound)
	_, err = m.StatObject(ctx, "missing")
	assert.ErrorIs(t, err, ErrObjectNotFound)
	assert.ErrorIs(t, m.CopyObject(ctx, "missing", "b"), ErrObjectNotFound)
	assert.NoError(t, m.DeleteObject(ctx, "missing"))

	assert.Error(t, m.PutObject(ctx, "k", strings.NewReader("abc"), 5, ""))
	require.NoError(t, m.PutObject(ctx, "k", strings.NewReader("abc"), -1, "text/plain"))
	require.NoError(t, m.CopyObject(ctx, "k", "k2"))

	rc, info, err := m.GetObject(ctx, "k2")
	require.NoError(t, err)
	defer rc.Close()
	data, err := io.ReadAll(rc)
	require.NoError(t, err)
	assert.Equal(t, "abc", string(data))
	assert.EqualValues(t, 3, info.Size)
	assert.Equal(t, "text/plain", info.ContentType)
}
