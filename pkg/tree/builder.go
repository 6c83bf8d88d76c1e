package tree

import (
	"strings"

	"github.com/cworks/treefs-sub001/pkg/models"
	"github.com/cworks/treefs-sub001/pkg/paths"
)

// Builder reconstructs a hierarchy from flat '/'-joined keys. Every proper
// prefix of a key is an implicit folder. Inserting the same key twice, or
// keys in any order, yields the same node set.
type Builder struct {
	root  *models.Node
	index map[string]*models.Node
}

// NewBuilder returns a builder whose tree hangs below a folder at rootPath.
// Keys are interpreted relative to that folder.
func NewBuilder(rootPath string) *Builder {
	rootPath = paths.Normalize(rootPath)
	root := models.NewFolder(paths.Base(rootPath), rootPath)
	root.Children = []*models.Node{}
	return &Builder{
		root:  root,
		index: map[string]*models.Node{"": root},
	}
}

// Insert adds key to the tree. A trailing '/' marks the key itself as a
// folder; otherwise the leaf is a file until something is inserted beneath
// it. It returns the node for key.
func (b *Builder) Insert(key string) *models.Node {
	folder := strings.HasSuffix(key, "/")
	segs := paths.Split(key)
	if len(segs) == 0 {
		return b.root
	}

	parent := b.root
	rel := ""
	for i, seg := range segs {
		rel = paths.Join(rel, seg)
		last := i == len(segs)-1

		node, ok := b.index[rel]
		if !ok {
			node = models.NewFile(seg, paths.Join(b.root.Path, rel))
			parent.Children = append(parent.Children, node)
			b.index[rel] = node
		}
		if !last || folder {
			promote(node)
		}
		parent = node
	}
	return parent
}

// Root returns the reconstructed tree.
func (b *Builder) Root() *models.Node {
	return b.root
}

// Lookup returns the node for a key relative to the builder root.
func (b *Builder) Lookup(key string) *models.Node {
	return b.index[paths.Normalize(key)]
}

// Len is the number of nodes below the root.
func (b *Builder) Len() int {
	return len(b.index) - 1
}

// FromKeys reconstructs a tree rooted at the client root from keys.
func FromKeys(keys []string) *models.Node {
	b := NewBuilder("")
	for _, k := range keys {
		b.Insert(k)
	}
	return b.Root()
}

func promote(n *models.Node) {
	if n.Type == models.TypeFolder {
		return
	}
	n.Type = models.TypeFolder
	n.Size, n.Checksum, n.ContentType = 0, "", ""
	if n.Children == nil {
		n.Children = []*models.Node{}
	}
}
