// Package paths holds the name and path legality rules shared by every
// storage provider, plus helpers to normalize and split client paths.
//
// A client path is relative to the client root, uses forward slashes, and
// never starts or ends with a separator. The empty string is the root.
package paths

import (
	"errors"
	"fmt"
	"strings"
	"unicode/utf8"
)

// MaxNameLength is the longest accepted folder or file name, in characters.
const MaxNameLength = 64

// Separators accepted on input. Output paths only ever use '/'.
const Separators = `/\`

var (
	ErrEmptyName    = errors.New("name is empty")
	ErrNameTooLong  = errors.New("name is too long")
	ErrNameHasSlash = errors.New("name contains a separator")
	ErrEmptyPath    = errors.New("path is empty")
)

// IsAcceptableFolderName reports whether name may be used for a folder.
func IsAcceptableFolderName(name string) bool {
	return CheckName(name) == nil
}

// IsAcceptableFileName reports whether name may be used for a file.
func IsAcceptableFileName(name string) bool {
	return CheckName(name) == nil
}

// CheckName returns why name is unacceptable, or nil.
func CheckName(name string) error {
	if name == "" {
		return ErrEmptyName
	}
	if utf8.RuneCountInString(name) > MaxNameLength {
		return fmt.Errorf("%w: %d > %d", ErrNameTooLong, utf8.RuneCountInString(name), MaxNameLength)
	}
	if strings.ContainsAny(name, Separators) {
		return ErrNameHasSlash
	}
	return nil
}

// IsAcceptablePath reports whether every segment of path, split on '/' or
// '\', is an acceptable name. Empty segments are segments too, so "", "a//b"
// and "/a" are all rejected; callers normalize first.
func IsAcceptablePath(path string) bool {
	return CheckPath(path) == nil
}

// CheckPath returns the first segment problem in path, or nil.
func CheckPath(path string) error {
	if path == "" {
		return ErrEmptyPath
	}
	for _, seg := range strings.FieldsFunc(path, isSeparator) {
		if err := CheckName(seg); err != nil {
			return fmt.Errorf("segment %q: %w", seg, err)
		}
	}
	if hasEmptySegment(path) {
		return fmt.Errorf("path %q: %w", path, ErrEmptyName)
	}
	return nil
}

// Normalize converts backslashes to slashes and trims leading and trailing
// separators. It does not validate segments. "/", "." and "" all normalize
// to the root.
func Normalize(path string) string {
	p := strings.ReplaceAll(path, `\`, "/")
	p = strings.Trim(p, "/")
	if p == "." {
		return ""
	}
	return p
}

// IsRoot reports whether path denotes the client root.
func IsRoot(path string) bool {
	return Normalize(path) == ""
}

// Split returns the segments of a normalized path. The root has none.
func Split(path string) []string {
	p := Normalize(path)
	if p == "" {
		return nil
	}
	return strings.Split(p, "/")
}

// Join builds a child path. Joining onto the root yields the bare name.
func Join(parent, name string) string {
	parent = Normalize(parent)
	if parent == "" {
		return name
	}
	return parent + "/" + name
}

// Parent returns the path of the containing folder; the root's parent is
// the root.
func Parent(path string) string {
	p := Normalize(path)
	if i := strings.LastIndexByte(p, '/'); i >= 0 {
		return p[:i]
	}
	return ""
}

// Base returns the last segment of path; the root's base is "".
func Base(path string) string {
	p := Normalize(path)
	if i := strings.LastIndexByte(p, '/'); i >= 0 {
		return p[i+1:]
	}
	return p
}

// IsWithin reports whether path equals ancestor or lies beneath it.
func IsWithin(path, ancestor string) bool {
	path, ancestor = Normalize(path), Normalize(ancestor)
	if ancestor == "" || path == ancestor {
		return true
	}
	return strings.HasPrefix(path, ancestor+"/")
}

// Rebase moves path from under oldPrefix to under newPrefix. path must lie
// within oldPrefix.
func Rebase(path, oldPrefix, newPrefix string) string {
	path, oldPrefix = Normalize(path), Normalize(oldPrefix)
	rel := strings.TrimPrefix(strings.TrimPrefix(path, oldPrefix), "/")
	if rel == "" {
		return Normalize(newPrefix)
	}
	return Join(newPrefix, rel)
}

func isSeparator(r rune) bool {
	return r == '/' || r == '\\'
}

func hasEmptySegment(p string) bool {
	if isSeparator(rune(p[0])) || isSeparator(rune(p[len(p)-1])) {
		return true
	}
	for i := 1; i < len(p); i++ {
		if isSeparator(rune(p[i])) && isSeparator(rune(p[i-1])) {
			return true
		}
	}
	return false
}
