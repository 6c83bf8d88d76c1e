// Package storagetest runs the same behavioural checks against any
// storage.Provider.
package storagetest

import (
	"context"
	"io"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/cworks/treefs-sub001/pkg/models"
	"github.com/cworks/treefs-sub001/pkg/paths"
	"github.com/cworks/treefs-sub001/pkg/storage"
	"github.com/cworks/treefs-sub001/pkg/tree"
)

// Factory returns a fresh, empty provider for one test.
type Factory func(t *testing.T) storage.Provider

// Run executes every check as a subtest, each against its own provider.
func Run(t *testing.T, newProvider Factory) {
	tests := []struct {
		name string
		fn   func(t *testing.T, p storage.Provider)
	}{
		{"CreateFolder", testCreateFolder},
		{"CreateFolderOverwrite", testCreateFolderOverwrite},
		{"CreateNeedsParent", testCreateNeedsParent},
		{"Validation", testValidation},
		{"CreateFileAndRead", testCreateFileAndRead},
		{"CreateFileOverwrite", testCreateFileOverwrite},
		{"ChecksumMismatchPersistsNothing", testChecksumMismatch},
		{"ReadErrors", testReadErrors},
		{"ExistenceProbes", testExistenceProbes},
		{"IsEmpty", testIsEmpty},
		{"OpenFolderDepth", testOpenFolderDepth},
		{"Root", testRoot},
		{"Metadata", testMetadata},
		{"UpdateMetadata", testUpdateMetadata},
		{"List", testList},
		{"Trash", testTrash},
		{"TrashFolder", testTrashFolder},
		{"CopyFile", testCopyFile},
		{"CopyFolder", testCopyFolder},
		{"CopyIntoRecursive", testCopyIntoRecursive},
		{"CopyRejects", testCopyRejects},
		{"Move", testMove},
		{"ReplaceAncestorRejected", testReplaceAncestorRejected},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			p := newProvider(t)
			t.Cleanup(func() { p.Close() })
			tt.fn(t, p)
		})
	}
}

func mkdir(t *testing.T, p storage.Provider, path string) *models.Node {
	t.Helper()
	n, err := p.CreateFolder(context.Background(), path, storage.CreateFolderOptions{})
	require.NoError(t, err, "create folder %s", path)
	return n
}

func put(t *testing.T, p storage.Provider, path, content string) *models.Node {
	t.Helper()
	n, err := p.CreateFile(context.Background(), path, strings.NewReader(content), storage.CreateFileOptions{})
	require.NoError(t, err, "create file %s", path)
	return n
}

func read(t *testing.T, p storage.Provider, path string) string {
	t.Helper()
	rc, err := p.Read(context.Background(), path)
	require.NoError(t, err, "read %s", path)
	defer rc.Close()
	data, err := io.ReadAll(rc)
	require.NoError(t, err)
	return string(data)
}

// seed builds:
//
//	a/
//	  b/
//	    c/
//	      d.txt
//	    note.md
//	  e.txt
func seed(t *testing.T, p storage.Provider) {
	t.Helper()
	mkdir(t, p, "a")
	mkdir(t, p, "a/b")
	mkdir(t, p, "a/b/c")
	put(t, p, "a/b/c/d.txt", "deep")
	put(t, p, "a/b/note.md", "# note")
	put(t, p, "a/e.txt", "top")
}

var seeded = []string{"a", "a/b", "a/b/c", "a/b/c/d.txt", "a/b/note.md", "a/e.txt"}

func requireKind(t *testing.T, err, kind error) {
	t.Helper()
	require.Error(t, err)
	require.ErrorIs(t, err, kind, "got %v", err)
}

// requireConsistentPaths checks that every returned node's path is its
// parent's path joined with its own name.
func requireConsistentPaths(t *testing.T, root *models.Node) {
	t.Helper()
	err := tree.Walk(root, func(n *models.Node) error {
		for _, c := range n.Children {
			assert.Equal(t, paths.Join(n.Path, c.Name), c.Path)
			if n.Path != "" {
				assert.Equal(t, n.Path+"/"+c.Name, c.Path)
			}
		}
		return nil
	})
	require.NoError(t, err)
}

func names(nodes []*models.Node) []string {
	out := make([]string, 0, len(nodes))
	for _, n := range nodes {
		out = append(out, n.Name)
	}
	return out
}

func testCreateFolder(t *testing.T, p storage.Provider) {
	ctx := context.Background()
	n, err := p.CreateFolder(ctx, "docs", storage.CreateFolderOptions{Description: "documents", Actor: "ann"})
	require.NoError(t, err)
	assert.Equal(t, models.TypeFolder, n.Type)
	assert.Equal(t, "docs", n.Name)
	assert.Equal(t, "docs", n.Path)
	assert.Equal(t, "documents", n.Description)
	assert.Equal(t, "ann", n.CreatedBy)
	assert.Nil(t, n.Children)
	assert.True(t, p.Exists(ctx, "docs"))

	_, err = p.CreateFolder(ctx, "docs", storage.CreateFolderOptions{})
	requireKind(t, err, storage.ErrPathAlreadyExists)

	put(t, p, "docs/f.txt", "x")
	_, err = p.CreateFolder(ctx, "docs/f.txt", storage.CreateFolderOptions{})
	requireKind(t, err, storage.ErrPathAlreadyExists)
}

func testCreateFolderOverwrite(t *testing.T, p storage.Provider) {
	ctx := context.Background()
	seed(t, p)

	n, err := p.CreateFolder(ctx, "a", storage.CreateFolderOptions{Overwrite: true, Description: "again"})
	require.NoError(t, err)
	assert.Equal(t, "again", n.Description)
	assert.True(t, p.Exists(ctx, "a/b/c/d.txt"), "overwrite without force keeps descendants")

	_, err = p.CreateFolder(ctx, "a", storage.CreateFolderOptions{Overwrite: true, Force: true})
	require.NoError(t, err)
	assert.True(t, p.IsFolder(ctx, "a"))
	for _, gone := range seeded[1:] {
		assert.False(t, p.Exists(ctx, gone), gone)
	}
	empty, err := p.IsEmpty(ctx, "a")
	require.NoError(t, err)
	assert.True(t, empty)

	put(t, p, "file", "x")
	_, err = p.CreateFolder(ctx, "file", storage.CreateFolderOptions{Overwrite: true})
	require.NoError(t, err)
	assert.True(t, p.IsFolder(ctx, "file"))
}

func testCreateNeedsParent(t *testing.T, p storage.Provider) {
	ctx := context.Background()
	_, err := p.CreateFolder(ctx, "missing/child", storage.CreateFolderOptions{})
	requireKind(t, err, storage.ErrNoSuchPath)

	put(t, p, "plain.txt", "x")
	_, err = p.CreateFile(ctx, "plain.txt/child", strings.NewReader("y"), storage.CreateFileOptions{})
	requireKind(t, err, storage.ErrNotAFolder)
}

func testValidation(t *testing.T, p storage.Provider) {
	ctx := context.Background()
	mkdir(t, p, "v")
	bad := []string{
		"",
		"/",
		"v/" + strings.Repeat("n", paths.MaxNameLength+1),
		"v//x",
		"v/x.f",
		"v/v",
		"..",
		"../escape",
		"v/../w",
		"v/./x",
	}
	for _, path := range bad {
		_, err := p.CreateFolder(ctx, path, storage.CreateFolderOptions{})
		requireKind(t, err, storage.ErrValidation)
		_, err = p.CreateFile(ctx, path, strings.NewReader("x"), storage.CreateFileOptions{})
		requireKind(t, err, storage.ErrValidation)
	}

	// The longest legal name is fine.
	mkdir(t, p, "v/"+strings.Repeat("n", paths.MaxNameLength))

	// Probes answer false instead of failing.
	assert.False(t, p.Exists(ctx, "v//x"))
	assert.False(t, p.Exists(ctx, "v/v"), "a folder's record is not a node")
	assert.False(t, p.HasMetadata(ctx, "v/v"))
	assert.False(t, p.Exists(ctx, "v/.."))
	assert.False(t, p.IsFolder(ctx, "../v"))
	_, err := p.Read(ctx, "../v")
	requireKind(t, err, storage.ErrValidation)
	_, err = p.OpenFolder(ctx, "..", 1)
	requireKind(t, err, storage.ErrValidation)
	_, err = p.Copy(ctx, "v", "../v2", storage.Recursive)
	requireKind(t, err, storage.ErrValidation)

	requireKind(t, p.Trash(ctx, "", true), storage.ErrValidation)
}

func testCreateFileAndRead(t *testing.T, p storage.Provider) {
	ctx := context.Background()
	mkdir(t, p, "files")

	content := "hello world"
	sum, err := storage.Checksum(strings.NewReader(content))
	require.NoError(t, err)

	n, err := p.CreateFile(ctx, "files/hello.txt", strings.NewReader(content), storage.CreateFileOptions{
		ExpectedChecksum: strings.ToUpper(sum),
		Metadata:         models.Metadata{"lang": "en"},
		Actor:            "bob",
	})
	require.NoError(t, err)
	assert.Equal(t, models.TypeFile, n.Type)
	assert.Equal(t, "files/hello.txt", n.Path)
	assert.EqualValues(t, len(content), n.Size)
	assert.Equal(t, sum, n.Checksum)
	assert.Equal(t, "text/plain; charset=utf-8", n.ContentType)
	assert.Equal(t, "bob", n.CreatedBy)
	assert.Nil(t, n.Children)

	assert.Equal(t, content, read(t, p, "files/hello.txt"))

	st, err := p.Stat(ctx, "files/hello.txt")
	require.NoError(t, err)
	assert.Equal(t, sum, st.Checksum)
	assert.Equal(t, models.Metadata{"lang": "en"}, st.Metadata)

	typed, err := p.CreateFile(ctx, "files/data.bin", strings.NewReader("{}"), storage.CreateFileOptions{ContentType: "application/json"})
	require.NoError(t, err)
	assert.Equal(t, "application/json", typed.ContentType)
}

func testCreateFileOverwrite(t *testing.T, p storage.Provider) {
	ctx := context.Background()
	put(t, p, "f.txt", "one")

	_, err := p.CreateFile(ctx, "f.txt", strings.NewReader("two"), storage.CreateFileOptions{})
	requireKind(t, err, storage.ErrFileAlreadyExists)
	assert.Equal(t, "one", read(t, p, "f.txt"))

	_, err = p.CreateFile(ctx, "f.txt", strings.NewReader("two"), storage.CreateFileOptions{Overwrite: true})
	require.NoError(t, err)
	assert.Equal(t, "two", read(t, p, "f.txt"))

	mkdir(t, p, "dir")
	_, err = p.CreateFile(ctx, "dir", strings.NewReader("x"), storage.CreateFileOptions{Overwrite: true})
	requireKind(t, err, storage.ErrPathAlreadyExists)
}

func testChecksumMismatch(t *testing.T, p storage.Provider) {
	ctx := context.Background()
	mkdir(t, p, "up")
	_, err := p.CreateFile(ctx, "up/x.bin", strings.NewReader("payload"), storage.CreateFileOptions{
		ExpectedChecksum: "0000000000000000000000000000000000000000",
	})
	requireKind(t, err, storage.ErrContentIntegrity)
	assert.False(t, p.Exists(ctx, "up/x.bin"))
	assert.False(t, p.HasMetadata(ctx, "up/x.bin"))

	empty, err := p.IsEmpty(ctx, "up")
	require.NoError(t, err)
	assert.True(t, empty, "no staging leftovers may show up as children")

	put(t, p, "keep.txt", "original")
	_, err = p.CreateFile(ctx, "keep.txt", strings.NewReader("replacement"), storage.CreateFileOptions{
		Overwrite:        true,
		ExpectedChecksum: "ffff",
	})
	requireKind(t, err, storage.ErrContentIntegrity)
	assert.Equal(t, "original", read(t, p, "keep.txt"))
}

func testReadErrors(t *testing.T, p storage.Provider) {
	ctx := context.Background()
	mkdir(t, p, "r")

	_, err := p.Read(ctx, "r")
	requireKind(t, err, storage.ErrNotAFile)
	_, err = p.Read(ctx, "r/none")
	requireKind(t, err, storage.ErrNoSuchPath)
	_, err = p.Read(ctx, "")
	requireKind(t, err, storage.ErrNotAFile)
}

func testExistenceProbes(t *testing.T, p storage.Provider) {
	ctx := context.Background()
	seed(t, p)

	for _, path := range []string{"a", "a/", "/a/b/", `a\b`, "a/e.txt"} {
		assert.True(t, p.Exists(ctx, path), path)
	}
	assert.True(t, p.IsFolder(ctx, "a/b/"))
	assert.False(t, p.IsFile(ctx, "a/b"))
	assert.True(t, p.IsFile(ctx, "a/e.txt"))
	assert.False(t, p.IsFolder(ctx, "a/e.txt"))

	for _, path := range []string{"nope", "a/nope", "a/e.txt/deeper", "a/e.txt.f"} {
		assert.False(t, p.Exists(ctx, path), path)
		assert.False(t, p.IsFolder(ctx, path), path)
		assert.False(t, p.IsFile(ctx, path), path)
	}
}

func testIsEmpty(t *testing.T, p storage.Provider) {
	ctx := context.Background()
	mkdir(t, p, "box")

	empty, err := p.IsEmpty(ctx, "box")
	require.NoError(t, err)
	assert.True(t, empty, "a folder's own record is not a child")

	put(t, p, "box/item", "x")
	empty, err = p.IsEmpty(ctx, "box")
	require.NoError(t, err)
	assert.False(t, empty)

	_, err = p.IsEmpty(ctx, "box/item")
	requireKind(t, err, storage.ErrNotAFolder)
	_, err = p.IsEmpty(ctx, "nothing")
	requireKind(t, err, storage.ErrNoSuchPath)
}

func testOpenFolderDepth(t *testing.T, p storage.Provider) {
	ctx := context.Background()
	seed(t, p)

	n, err := p.OpenFolder(ctx, "a", 0)
	require.NoError(t, err)
	assert.Equal(t, "a", n.Path)
	assert.Nil(t, n.Children, "depth 0 does not list")

	one, err := p.OpenFolder(ctx, "a", 1)
	require.NoError(t, err)
	require.Equal(t, []string{"b", "e.txt"}, names(one.Children))
	b := one.Child("b")
	assert.True(t, b.IsFolder())
	assert.Nil(t, b.Children, "folders below the requested depth stay unpopulated")
	e := one.Child("e.txt")
	assert.True(t, e.IsFile())
	assert.EqualValues(t, 3, e.Size)

	two, err := p.OpenFolder(ctx, "a", 2)
	require.NoError(t, err)
	assert.Equal(t, names(one.Children), names(two.Children))
	b = two.Child("b")
	require.NotNil(t, b.Children)
	assert.Equal(t, []string{"c", "note.md"}, names(b.Children))
	assert.Nil(t, b.Child("c").Children)

	full, err := p.OpenFolder(ctx, "a", 10)
	require.NoError(t, err)
	requireConsistentPaths(t, full)
	c := tree.FindByPath(full, "a/b/c")
	require.NotNil(t, c)
	require.NotNil(t, c.Children)
	assert.Equal(t, []string{"d.txt"}, names(c.Children))
	d := c.Child("d.txt")
	assert.Equal(t, "a/b/c/d.txt", d.Path)
	assert.EqualValues(t, 4, d.Size)
	assert.Equal(t, 5, tree.CountNodes(full)-1)

	// Opening again yields the same structure.
	again, err := p.OpenFolder(ctx, "a", 10)
	require.NoError(t, err)
	assert.Equal(t, tree.Flatten(full), tree.Flatten(again))

	_, err = p.OpenFolder(ctx, "a/e.txt", 1)
	requireKind(t, err, storage.ErrNotAFolder)
	_, err = p.OpenFolder(ctx, "zzz", 1)
	requireKind(t, err, storage.ErrNoSuchPath)
}

func testRoot(t *testing.T, p storage.Provider) {
	ctx := context.Background()
	assert.True(t, p.Exists(ctx, ""))
	assert.True(t, p.IsFolder(ctx, "/"))

	empty, err := p.IsEmpty(ctx, "")
	require.NoError(t, err)
	assert.True(t, empty)

	seed(t, p)
	put(t, p, "top.txt", "x")
	root, err := p.OpenFolder(ctx, "", 2)
	require.NoError(t, err)
	assert.Equal(t, "", root.Path)
	assert.Equal(t, []string{"a", "top.txt"}, names(root.Children))
	assert.Equal(t, "a", root.Child("a").Path)
	requireConsistentPaths(t, root)

	md, err := p.ReadMetadata(ctx, "")
	require.NoError(t, err)
	assert.Empty(t, md)
	assert.False(t, p.HasMetadata(ctx, ""))
}

func testMetadata(t *testing.T, p storage.Provider) {
	ctx := context.Background()
	_, err := p.CreateFolder(ctx, "m", storage.CreateFolderOptions{
		Metadata: models.Metadata{"owner": "ann", "level": 3},
	})
	require.NoError(t, err)
	assert.True(t, p.HasMetadata(ctx, "m"))

	md, err := p.ReadMetadata(ctx, "m")
	require.NoError(t, err)
	assert.Equal(t, models.Metadata{"owner": "ann", "level": float64(3)}, md)

	put(t, p, "m/plain", "x")
	assert.True(t, p.HasMetadata(ctx, "m/plain"))
	md, err = p.ReadMetadata(ctx, "m/plain")
	require.NoError(t, err)
	assert.NotNil(t, md)
	assert.Empty(t, md)

	_, err = p.ReadMetadata(ctx, "m/none")
	requireKind(t, err, storage.ErrNoSuchPath)
	assert.False(t, p.HasMetadata(ctx, "m/none"))
}

func testUpdateMetadata(t *testing.T, p storage.Provider) {
	ctx := context.Background()
	_, err := p.CreateFolder(ctx, "u", storage.CreateFolderOptions{
		Metadata: models.Metadata{"keep": "yes", "drop": "soon"},
		Actor:    "ann",
	})
	require.NoError(t, err)

	n, err := p.UpdateMetadata(ctx, "u", storage.MetadataPatch{
		Description: "updated",
		Metadata:    models.Metadata{"drop": nil, "new": "value"},
		Actor:       "bob",
	})
	require.NoError(t, err)
	assert.Equal(t, "updated", n.Description)
	assert.Equal(t, models.Metadata{"keep": "yes", "new": "value"}, n.Metadata)
	assert.Equal(t, "ann", n.CreatedBy)
	assert.Equal(t, "bob", n.UpdatedBy)

	put(t, p, "u/f.txt", "content")
	f, err := p.UpdateMetadata(ctx, "u/f.txt", storage.MetadataPatch{Metadata: models.Metadata{"tag": "x"}})
	require.NoError(t, err)
	assert.Equal(t, models.Metadata{"tag": "x"}, f.Metadata)
	assert.EqualValues(t, 7, f.Size)
	assert.NotEmpty(t, f.Checksum)
	assert.Equal(t, "content", read(t, p, "u/f.txt"))

	_, err = p.UpdateMetadata(ctx, "u/none", storage.MetadataPatch{})
	requireKind(t, err, storage.ErrNoSuchPath)
	_, err = p.UpdateMetadata(ctx, "", storage.MetadataPatch{})
	requireKind(t, err, storage.ErrValidation)
}

func testList(t *testing.T, p storage.Provider) {
	ctx := context.Background()
	seed(t, p)
	put(t, p, "a/readme.md", "r")

	all, err := p.List(ctx, "a", storage.Filter{})
	require.NoError(t, err)
	assert.Equal(t, []string{"b", "e.txt", "readme.md"}, names(all))
	for _, n := range all {
		assert.Nil(t, n.Children)
	}

	files, err := p.List(ctx, "a", storage.Filter{FilesOnly: true})
	require.NoError(t, err)
	assert.Equal(t, []string{"e.txt", "readme.md"}, names(files))

	folders, err := p.List(ctx, "a", storage.Filter{FoldersOnly: true})
	require.NoError(t, err)
	assert.Equal(t, []string{"b"}, names(folders))

	globbed, err := p.List(ctx, "a", storage.Filter{Patterns: storage.ParsePatterns("*.md|b")})
	require.NoError(t, err)
	assert.Equal(t, []string{"b", "readme.md"}, names(globbed))

	_, err = p.List(ctx, "a", storage.Filter{FilesOnly: true, FoldersOnly: true})
	requireKind(t, err, storage.ErrValidation)
	_, err = p.List(ctx, "a/e.txt", storage.Filter{})
	requireKind(t, err, storage.ErrNotAFolder)
}

func testTrash(t *testing.T, p storage.Provider) {
	ctx := context.Background()
	mkdir(t, p, "t")
	put(t, p, "t/f.txt", "x")
	require.True(t, p.HasMetadata(ctx, "t/f.txt"))

	require.NoError(t, p.Trash(ctx, "t/f.txt", false))
	assert.False(t, p.Exists(ctx, "t/f.txt"))
	assert.False(t, p.HasMetadata(ctx, "t/f.txt"))

	requireKind(t, p.Trash(ctx, "t/f.txt", false), storage.ErrNoSuchPath)
	requireKind(t, p.Trash(ctx, "t/f.txt", true), storage.ErrNoSuchPath)

	// An empty folder goes without force.
	require.NoError(t, p.Trash(ctx, "t", false))
	assert.False(t, p.Exists(ctx, "t"))

	// The name is free again.
	mkdir(t, p, "t")
	assert.False(t, p.Exists(ctx, "t/f.txt"))
}

func testTrashFolder(t *testing.T, p storage.Provider) {
	ctx := context.Background()
	seed(t, p)

	requireKind(t, p.Trash(ctx, "a", false), storage.ErrFolderNotEmpty)
	for _, path := range seeded {
		assert.True(t, p.Exists(ctx, path), "non-forced trash must leave %s intact", path)
	}

	require.NoError(t, p.Trash(ctx, "a", true))
	for _, path := range seeded {
		assert.False(t, p.Exists(ctx, path), path)
	}
	root, err := p.OpenFolder(ctx, "", 1)
	require.NoError(t, err)
	assert.Empty(t, root.Children)
}

func testCopyFile(t *testing.T, p storage.Provider) {
	ctx := context.Background()
	mkdir(t, p, "src")
	mkdir(t, p, "dst")
	_, err := p.CreateFile(ctx, "src/f.txt", strings.NewReader("copy me"), storage.CreateFileOptions{
		Metadata: models.Metadata{"k": "v"},
	})
	require.NoError(t, err)

	n, err := p.Copy(ctx, "src/f.txt", "dst/g.txt")
	require.NoError(t, err)
	assert.Equal(t, "dst/g.txt", n.Path)
	assert.Equal(t, "g.txt", n.Name)
	assert.Equal(t, models.Metadata{"k": "v"}, n.Metadata)
	assert.Equal(t, "copy me", read(t, p, "dst/g.txt"))
	assert.True(t, p.Exists(ctx, "src/f.txt"))

	n, err = p.Copy(ctx, "src/f.txt", "dst", storage.Into)
	require.NoError(t, err)
	assert.Equal(t, "dst/f.txt", n.Path)

	_, err = p.Copy(ctx, "src/f.txt", "dst/g.txt")
	requireKind(t, err, storage.ErrPathAlreadyExists)

	put(t, p, "src/other.txt", "replacement")
	_, err = p.Copy(ctx, "src/other.txt", "dst/g.txt", storage.ReplaceExisting)
	require.NoError(t, err)
	assert.Equal(t, "replacement", read(t, p, "dst/g.txt"))
}

func testCopyFolder(t *testing.T, p storage.Provider) {
	ctx := context.Background()
	seed(t, p)
	_, err := p.UpdateMetadata(ctx, "a", storage.MetadataPatch{Metadata: models.Metadata{"color": "red"}})
	require.NoError(t, err)

	_, err = p.Copy(ctx, "a", "z")
	requireKind(t, err, storage.ErrFolderNotEmpty)
	assert.False(t, p.Exists(ctx, "z"))

	n, err := p.Copy(ctx, "a", "z", storage.Recursive)
	require.NoError(t, err)
	assert.Equal(t, "z", n.Path)
	assert.Equal(t, models.Metadata{"color": "red"}, n.Metadata, "the record follows the new folder name")
	assert.True(t, p.HasMetadata(ctx, "z"))

	copied, err := p.OpenFolder(ctx, "z", 10)
	require.NoError(t, err)
	requireConsistentPaths(t, copied)
	for _, path := range seeded[1:] {
		dst := paths.Rebase(path, "a", "z")
		assert.True(t, p.Exists(ctx, dst), dst)
		assert.True(t, p.Exists(ctx, path), "source %s survives a copy", path)
	}
	assert.Equal(t, "deep", read(t, p, "z/b/c/d.txt"))
	assert.Nil(t, copied.Child("a"), "the source record must not surface as a child")

	mkdir(t, p, "hollow")
	_, err = p.Copy(ctx, "hollow", "hollow2")
	require.NoError(t, err)
	assert.True(t, p.IsFolder(ctx, "hollow2"))
}

func testCopyIntoRecursive(t *testing.T, p storage.Provider) {
	ctx := context.Background()
	mkdir(t, p, "x")
	mkdir(t, p, "x/sub")
	put(t, p, "x/sub/leaf.txt", "leaf")
	put(t, p, "x/top.txt", "top")
	mkdir(t, p, "y")

	n, err := p.Copy(ctx, "x", "y", storage.Into, storage.Recursive)
	require.NoError(t, err)
	assert.Equal(t, "y/x", n.Path)

	got, err := p.OpenFolder(ctx, "y/x", 5)
	require.NoError(t, err)
	requireConsistentPaths(t, got)
	flat := tree.Flatten(got)
	for _, path := range []string{"y/x", "y/x/sub", "y/x/sub/leaf.txt", "y/x/top.txt"} {
		assert.Contains(t, flat, path)
	}
	assert.Len(t, flat, 4)
	assert.True(t, p.Exists(ctx, "x/sub/leaf.txt"))
	assert.Equal(t, "leaf", read(t, p, "y/x/sub/leaf.txt"))

	// Into the root.
	_, err = p.Copy(ctx, "y/x/top.txt", "", storage.Into)
	require.NoError(t, err)
	assert.True(t, p.IsFile(ctx, "top.txt"))
}

func testCopyRejects(t *testing.T, p storage.Provider) {
	ctx := context.Background()
	seed(t, p)

	_, err := p.Copy(ctx, "a", "a/b/inside", storage.Recursive)
	requireKind(t, err, storage.ErrValidation)
	_, err = p.Copy(ctx, "a", "a", storage.Recursive)
	requireKind(t, err, storage.ErrValidation)
	_, err = p.Copy(ctx, "missing", "elsewhere")
	requireKind(t, err, storage.ErrNoSuchPath)
	_, err = p.Copy(ctx, "a/e.txt", "nowhere", storage.Into)
	requireKind(t, err, storage.ErrNoSuchPath)
	_, err = p.Copy(ctx, "a/e.txt", "a/b/note.md/x")
	requireKind(t, err, storage.ErrNotAFolder)
	_, err = p.Copy(ctx, "", "x", storage.Recursive)
	requireKind(t, err, storage.ErrValidation)

	// "a" has a child "b": naming the copy "b" would clash with the record slot.
	_, err = p.Copy(ctx, "a", "b", storage.Recursive)
	requireKind(t, err, storage.ErrValidation)
	assert.False(t, p.Exists(ctx, "b"))
}

func testMove(t *testing.T, p storage.Provider) {
	ctx := context.Background()
	seed(t, p)
	_, err := p.UpdateMetadata(ctx, "a/b", storage.MetadataPatch{Metadata: models.Metadata{"k": "v"}})
	require.NoError(t, err)

	n, err := p.Move(ctx, "a/b", "moved")
	require.NoError(t, err)
	assert.Equal(t, "moved", n.Path)
	assert.Equal(t, models.Metadata{"k": "v"}, n.Metadata)
	assert.False(t, p.Exists(ctx, "a/b"))
	assert.False(t, p.Exists(ctx, "a/b/c/d.txt"))
	assert.Equal(t, "deep", read(t, p, "moved/c/d.txt"))

	got, err := p.OpenFolder(ctx, "moved", 5)
	require.NoError(t, err)
	requireConsistentPaths(t, got)
	assert.Equal(t, []string{"c", "note.md"}, names(got.Children))

	n, err = p.Move(ctx, "a/e.txt", "moved/c", storage.Into)
	require.NoError(t, err)
	assert.Equal(t, "moved/c/e.txt", n.Path)
	assert.False(t, p.Exists(ctx, "a/e.txt"))
	assert.False(t, p.HasMetadata(ctx, "a/e.txt"))
	assert.True(t, p.HasMetadata(ctx, "moved/c/e.txt"))

	put(t, p, "a/clash", "old")
	put(t, p, "incoming", "new")
	_, err = p.Move(ctx, "incoming", "a/clash")
	requireKind(t, err, storage.ErrPathAlreadyExists)
	_, err = p.Move(ctx, "incoming", "a/clash", storage.ReplaceExisting)
	require.NoError(t, err)
	assert.Equal(t, "new", read(t, p, "a/clash"))
	assert.False(t, p.Exists(ctx, "incoming"))
}

func testReplaceAncestorRejected(t *testing.T, p storage.Provider) {
	ctx := context.Background()
	seed(t, p)

	_, err := p.Copy(ctx, "a/b", "a", storage.Recursive, storage.ReplaceExisting)
	requireKind(t, err, storage.ErrValidation)
	_, err = p.Copy(ctx, "a/b/c/d.txt", "a/b", storage.ReplaceExisting)
	requireKind(t, err, storage.ErrValidation)
	_, err = p.Move(ctx, "a/b", "a", storage.ReplaceExisting)
	requireKind(t, err, storage.ErrValidation)
	_, err = p.Move(ctx, "a/b/c", "", storage.Into, storage.ReplaceExisting)
	require.NoError(t, err, "the root is never replaced")

	for _, path := range []string{"a", "a/b", "a/b/note.md", "a/e.txt"} {
		assert.True(t, p.Exists(ctx, path), path)
	}
	assert.Equal(t, "deep", read(t, p, "c/d.txt"))
}
