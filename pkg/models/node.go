// Package models contains the tree node types shared by every storage backend.
package models

import (
	"encoding/json"
	"errors"
	"fmt"
	"maps"
	"time"
)

// NodeType discriminates the node variants on the wire and in memory.
type NodeType string

const (
	TypePath   NodeType = "path"
	TypeFolder NodeType = "folder"
	TypeFile   NodeType = "file"
)

var (
	ErrMissingType = errors.New("node type missing")
	ErrUnknownType = errors.New("unknown node type")
)

// Metadata is the free-form key/value map carried by a node.
type Metadata map[string]any

// Clone returns a shallow copy of m. A nil map clones to nil.
func (m Metadata) Clone() Metadata {
	if m == nil {
		return nil
	}
	return maps.Clone(m)
}

// Node represents a folder, a file, or a bare path in the namespace.
//
// Path is always relative to the client root and slash separated; the root
// itself has an empty path and name.
type Node struct {
	Type        NodeType  `json:"type"`
	Name        string    `json:"name"`
	Path        string    `json:"path"`
	Description string    `json:"description,omitempty"`
	CreatedAt   time.Time `json:"createdAt,omitzero"`
	CreatedBy   string    `json:"createdBy,omitempty"`
	UpdatedAt   time.Time `json:"updatedAt,omitzero"`
	UpdatedBy   string    `json:"updatedBy,omitempty"`
	Metadata    Metadata  `json:"metadata,omitempty"`

	// File only.
	Size        int64  `json:"size,omitempty"`
	Checksum    string `json:"checksum,omitempty"`
	ContentType string `json:"contentType,omitempty"`

	// Folder only. A nil slice means the children were not listed; an empty
	// slice means the folder has none.
	Children []*Node `json:"children"`
}

// NewFolder returns a folder node with unpopulated children.
func NewFolder(name, path string) *Node {
	return &Node{Type: TypeFolder, Name: name, Path: path}
}

// NewFile returns a file node.
func NewFile(name, path string) *Node {
	return &Node{Type: TypeFile, Name: name, Path: path}
}

// IsFolder reports whether n is a folder.
func (n *Node) IsFolder() bool { return n != nil && n.Type == TypeFolder }

// IsFile reports whether n is a file.
func (n *Node) IsFile() bool { return n != nil && n.Type == TypeFile }

// Populated reports whether the folder's children were listed.
func (n *Node) Populated() bool { return n != nil && n.Children != nil }

// Child returns the direct child called name, or nil.
func (n *Node) Child(name string) *Node {
	if n == nil {
		return nil
	}
	for _, c := range n.Children {
		if c.Name == name {
			return c
		}
	}
	return nil
}

// Clone returns a deep copy of the node and its populated subtree.
func (n *Node) Clone() *Node {
	if n == nil {
		return nil
	}
	c := *n
	c.Metadata = n.Metadata.Clone()
	if n.Children != nil {
		c.Children = make([]*Node, 0, len(n.Children))
		for _, child := range n.Children {
			c.Children = append(c.Children, child.Clone())
		}
	}
	return &c
}

// MarshalJSON drops the children field for anything that is not a folder so
// that files never advertise an unpopulated listing.
func (n *Node) MarshalJSON() ([]byte, error) {
	type alias Node
	if n.Type == TypeFolder {
		return json.Marshal((*alias)(n))
	}
	return json.Marshal(struct {
		*alias
		Children []*Node `json:"children,omitempty"`
	}{alias: (*alias)(n)})
}

// UnmarshalJSON reads the type discriminator first and then decodes the
// matching variant.
func (n *Node) UnmarshalJSON(data []byte) error {
	var probe struct {
		Type NodeType `json:"type"`
	}
	if err := json.Unmarshal(data, &probe); err != nil {
		return err
	}
	switch probe.Type {
	case TypeFolder, TypeFile, TypePath:
	case "":
		return ErrMissingType
	default:
		return fmt.Errorf("%w: %q", ErrUnknownType, probe.Type)
	}

	type alias Node
	var a alias
	if err := json.Unmarshal(data, &a); err != nil {
		return err
	}
	if probe.Type != TypeFolder {
		a.Children = nil
	}
	*n = Node(a)
	return nil
}
