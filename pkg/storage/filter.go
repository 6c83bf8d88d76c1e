package storage

import (
	"path"
	"strings"

	"github.com/cworks/treefs-sub001/pkg/models"
)

// Filter selects children during List.
type Filter struct {
	FilesOnly   bool
	FoldersOnly bool

	// Patterns are glob patterns matched against the child name; a child
	// passes when any pattern matches. No patterns accept every name.
	Patterns []string
}

// ParsePatterns splits a pipe-separated pattern list, dropping blanks.
func ParsePatterns(s string) []string {
	var out []string
	for _, p := range strings.Split(s, "|") {
		if p = strings.TrimSpace(p); p != "" {
			out = append(out, p)
		}
	}
	return out
}

// Validate rejects contradictory or malformed filters.
func (f Filter) Validate() error {
	if f.FilesOnly && f.FoldersOnly {
		return NewError(ErrValidation, "list", "", "filesOnly and foldersOnly are exclusive", nil)
	}
	for _, p := range f.Patterns {
		if _, err := path.Match(p, ""); err != nil {
			return NewError(ErrValidation, "list", "", "bad pattern "+quote(p), err)
		}
	}
	return nil
}

// Match reports whether n passes the filter.
func (f Filter) Match(n *models.Node) bool {
	if f.FilesOnly && !n.IsFile() {
		return false
	}
	if f.FoldersOnly && !n.IsFolder() {
		return false
	}
	if len(f.Patterns) == 0 {
		return true
	}
	for _, p := range f.Patterns {
		if ok, _ := path.Match(p, n.Name); ok {
			return true
		}
	}
	return false
}

// Apply returns the nodes that pass the filter, preserving order.
func (f Filter) Apply(nodes []*models.Node) []*models.Node {
	out := make([]*models.Node, 0, len(nodes))
	for _, n := range nodes {
		if f.Match(n) {
			out = append(out, n)
		}
	}
	return out
}
