// Package tree provides utilities for working with in-memory node trees.
package tree

import (
	"github.com/cworks/treefs-sub001/pkg/models"
	"github.com/cworks/treefs-sub001/pkg/paths"
)

// FindByPath resolves a path in the tree (recursive).
func FindByPath(root *models.Node, path string) *models.Node {
	return find(root, paths.Normalize(path))
}

func find(root *models.Node, path string) *models.Node {
	if root == nil {
		return nil
	}
	if root.Path == path {
		return root
	}
	for _, child := range root.Children {
		if !paths.IsWithin(path, child.Path) {
			continue
		}
		if found := find(child, path); found != nil {
			return found
		}
	}
	return nil
}

// CountNodes counts all nodes in a tree.
func CountNodes(root *models.Node) int {
	if root == nil {
		return 0
	}
	count := 1
	for _, child := range root.Children {
		count += CountNodes(child)
	}
	return count
}

// RemoveChild removes a child by name from a parent node.
func RemoveChild(parent *models.Node, name string) {
	for i, child := range parent.Children {
		if child.Name == name {
			parent.Children = append(parent.Children[:i], parent.Children[i+1:]...)
			return
		}
	}
}

// BuildChildPath constructs a child path from parent + name.
func BuildChildPath(parentPath, name string) string {
	return paths.Join(parentPath, name)
}

// Flatten returns all nodes in a flat map keyed by path.
func Flatten(root *models.Node) map[string]*models.Node {
	result := make(map[string]*models.Node)
	if root == nil {
		return result
	}
	_ = Walk(root, func(n *models.Node) error {
		result[n.Path] = n
		return nil
	})
	return result
}

// Walk visits root and then every populated descendant, parents before
// children. It stops at the first error fn returns.
func Walk(root *models.Node, fn func(*models.Node) error) error {
	if root == nil {
		return nil
	}
	if err := fn(root); err != nil {
		return err
	}
	for _, child := range root.Children {
		if err := Walk(child, fn); err != nil {
			return err
		}
	}
	return nil
}

// WalkPostOrder visits every populated descendant before its parent.
func WalkPostOrder(root *models.Node, fn func(*models.Node) error) error {
	if root == nil {
		return nil
	}
	for _, child := range root.Children {
		if err := WalkPostOrder(child, fn); err != nil {
			return err
		}
	}
	return fn(root)
}

// Truncate cuts the tree below depth levels: folders at exactly depth levels
// under root keep their identity but lose their listing (Children == nil).
// A depth of zero or less unpopulates root itself.
func Truncate(root *models.Node, depth int) {
	if root == nil || !root.IsFolder() {
		return
	}
	if depth <= 0 {
		root.Children = nil
		return
	}
	for _, child := range root.Children {
		Truncate(child, depth-1)
	}
}
