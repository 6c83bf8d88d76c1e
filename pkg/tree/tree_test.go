package tree

import (
	"errors"
	"math/rand/v2"
	"slices"
	"testing"

	"github.com/cworks/treefs-sub001/pkg/models"
)

func sample() *models.Node {
	return &models.Node{
		Type: models.TypeFolder,
		Children: []*models.Node{
			{Type: models.TypeFile, Path: "a.txt", Name: "a.txt"},
			{Type: models.TypeFolder, Path: "dir", Name: "dir", Children: []*models.Node{
				{Type: models.TypeFile, Path: "dir/b.txt", Name: "b.txt"},
			}},
		},
	}
}

func TestFindByPath(t *testing.T) {
	root := sample()

	tests := []struct {
		path  string
		found bool
	}{
		{"", true},
		{"/", true},
		{"a.txt", true},
		{"dir", true},
		{"dir/b.txt", true},
		{"/dir/b.txt/", true},
		{"nonexistent", false},
		{"a.txt/x", false},
	}

	for _, tt := range tests {
		node := FindByPath(root, tt.path)
		if (node != nil) != tt.found {
			t.Errorf("FindByPath(%q) found=%v, want %v", tt.path, node != nil, tt.found)
		}
	}

	if FindByPath(nil, "") != nil {
		t.Error("FindByPath(nil, \"\") should return nil")
	}
}

func TestCountNodes(t *testing.T) {
	if got := CountNodes(sample()); got != 4 {
		t.Errorf("CountNodes = %d, want 4", got)
	}
	if got := CountNodes(nil); got != 0 {
		t.Errorf("CountNodes(nil) = %d, want 0", got)
	}
}

func TestRemoveChild(t *testing.T) {
	parent := &models.Node{
		Type: models.TypeFolder,
		Children: []*models.Node{
			{Name: "a", Path: "a"},
			{Name: "b", Path: "b"},
			{Name: "c", Path: "c"},
		},
	}

	RemoveChild(parent, "b")
	if len(parent.Children) != 2 {
		t.Errorf("got %d children, want 2", len(parent.Children))
	}
	if parent.Children[0].Name != "a" || parent.Children[1].Name != "c" {
		t.Error("unexpected children after remove")
	}

	// Remove nonexistent: no-op
	RemoveChild(parent, "z")
	if len(parent.Children) != 2 {
		t.Errorf("remove nonexistent changed count: %d", len(parent.Children))
	}
}

func TestBuildChildPath(t *testing.T) {
	tests := []struct {
		parent, name, want string
	}{
		{"", "file.txt", "file.txt"},
		{"/", "file.txt", "file.txt"},
		{"dir", "file.txt", "dir/file.txt"},
		{"a/b", "c", "a/b/c"},
	}
	for _, tt := range tests {
		got := BuildChildPath(tt.parent, tt.name)
		if got != tt.want {
			t.Errorf("BuildChildPath(%q, %q) = %q, want %q", tt.parent, tt.name, got, tt.want)
		}
	}
}

func TestFlatten(t *testing.T) {
	flat := Flatten(sample())
	if len(flat) != 4 {
		t.Errorf("Flatten returned %d nodes, want 4", len(flat))
	}
	for _, path := range []string{"", "a.txt", "dir", "dir/b.txt"} {
		if _, ok := flat[path]; !ok {
			t.Errorf("Flatten missing path %q", path)
		}
	}

	// Nil tree
	if len(Flatten(nil)) != 0 {
		t.Error("Flatten(nil) should return empty map")
	}
}

func TestWalkOrder(t *testing.T) {
	var pre, post []string
	root := sample()
	_ = Walk(root, func(n *models.Node) error {
		pre = append(pre, n.Path)
		return nil
	})
	_ = WalkPostOrder(root, func(n *models.Node) error {
		post = append(post, n.Path)
		return nil
	})

	if want := []string{"", "a.txt", "dir", "dir/b.txt"}; !slices.Equal(pre, want) {
		t.Errorf("Walk order = %v, want %v", pre, want)
	}
	if want := []string{"a.txt", "dir/b.txt", "dir", ""}; !slices.Equal(post, want) {
		t.Errorf("WalkPostOrder order = %v, want %v", post, want)
	}

	stop := errors.New("stop")
	visited := 0
	err := Walk(root, func(n *models.Node) error {
		visited++
		if n.Path == "a.txt" {
			return stop
		}
		return nil
	})
	if !errors.Is(err, stop) || visited != 2 {
		t.Errorf("Walk did not stop early: err=%v visited=%d", err, visited)
	}
}

func TestTruncate(t *testing.T) {
	root := FromKeys([]string{"a/b/c/d.txt", "a/e.txt"})

	Truncate(root, 2)
	a := FindByPath(root, "a")
	b := FindByPath(root, "a/b")
	if a == nil || b == nil {
		t.Fatal("truncate dropped populated levels")
	}
	if a.Children == nil {
		t.Error("a should stay populated at depth 2")
	}
	if b.Children != nil {
		t.Errorf("a/b should be unpopulated, has %d children", len(b.Children))
	}
	if e := FindByPath(root, "a/e.txt"); e == nil || !e.IsFile() {
		t.Error("a/e.txt should survive truncation")
	}

	Truncate(root, 0)
	if root.Children != nil {
		t.Error("depth 0 should leave the root unpopulated")
	}
}

func TestBuilderImplicitFolders(t *testing.T) {
	root := FromKeys([]string{"a", "a/b", "a/b/c.txt"})

	a := FindByPath(root, "a")
	b := FindByPath(root, "a/b")
	c := FindByPath(root, "a/b/c.txt")
	switch {
	case a == nil || !a.IsFolder():
		t.Fatalf("a should be a folder, got %+v", a)
	case b == nil || !b.IsFolder():
		t.Fatalf("a/b should be a folder, got %+v", b)
	case c == nil || !c.IsFile():
		t.Fatalf("a/b/c.txt should be a file, got %+v", c)
	}
	if len(a.Children) != 1 || len(b.Children) != 1 {
		t.Errorf("duplicate children: a=%d b=%d", len(a.Children), len(b.Children))
	}
	if c.Path != "a/b/c.txt" || c.Name != "c.txt" {
		t.Errorf("c.txt path=%q name=%q", c.Path, c.Name)
	}
}

func TestBuilderTrailingSeparator(t *testing.T) {
	b := NewBuilder("base")
	n := b.Insert("empty/")
	if !n.IsFolder() || n.Children == nil || len(n.Children) != 0 {
		t.Errorf("empty/ should be a populated empty folder, got %+v", n)
	}
	if n.Path != "base/empty" {
		t.Errorf("path = %q, want base/empty", n.Path)
	}
	if b.Len() != 1 {
		t.Errorf("Len = %d, want 1", b.Len())
	}
	if b.Insert("") != b.Root() {
		t.Error("inserting the empty key should return the root")
	}
}

func TestBuilderOrderIndependent(t *testing.T) {
	keys := []string{"x/1.txt", "x/y/2.txt", "x/y/", "z.txt", "x/y/z/3.txt", "x/1.txt"}
	want := shape(FromKeys(keys))

	for i := range 20 {
		shuffled := slices.Clone(keys)
		rand.Shuffle(len(shuffled), func(a, b int) { shuffled[a], shuffled[b] = shuffled[b], shuffled[a] })
		if got := shape(FromKeys(shuffled)); !slices.Equal(got, want) {
			t.Fatalf("run %d: order %v built %v, want %v", i, shuffled, got, want)
		}
	}
}

// shape lists every node as path:type, sorted, ignoring child order.
func shape(root *models.Node) []string {
	var out []string
	for p, n := range Flatten(root) {
		out = append(out, p+":"+string(n.Type))
	}
	slices.Sort(out)
	return out
}
