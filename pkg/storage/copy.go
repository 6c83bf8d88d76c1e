package storage

import (
	"github.com/cworks/treefs-sub001/pkg/models"
	"github.com/cworks/treefs-sub001/pkg/paths"
)

// Target is a resolved copy or move request.
type Target struct {
	Source string
	// Parent is the folder that will contain Dest. With Into it is the
	// caller's target; otherwise the parent of the caller's target.
	Parent string
	Dest   string
	CopyOptions
}

// ResolveTarget validates source and target and works out the destination
// path. With Into the source keeps its name below target, which may then be
// the root. A destination inside the source is rejected, and so is one that
// contains the source: replacing it would delete the source first.
func ResolveTarget(op, source, target string, opts ...CopyOption) (Target, error) {
	co := ResolveCopyOptions(opts...)
	src, err := CheckNodePath(op, source)
	if err != nil {
		return Target{}, err
	}

	t := Target{Source: src, CopyOptions: co}
	if co.Into {
		parent, err := CheckPath(op, target)
		if err != nil {
			return Target{}, err
		}
		t.Parent = parent
		t.Dest = paths.Join(parent, paths.Base(src))
	} else {
		dst, err := CheckNodePath(op, target)
		if err != nil {
			return Target{}, err
		}
		t.Parent = paths.Parent(dst)
		t.Dest = dst
	}

	// The source name may be reserved under its new parent.
	if _, err := CheckPath(op, t.Dest); err != nil {
		return Target{}, err
	}
	if paths.IsWithin(t.Dest, src) {
		return Target{}, NewError(ErrValidation, op, t.Dest, "target lies within source "+quote(src), nil)
	}
	if paths.IsWithin(src, t.Dest) {
		return Target{}, NewError(ErrValidation, op, t.Dest, "target contains source "+quote(src), nil)
	}
	return t, nil
}

// CheckChildNames rejects giving a folder the name of one of its own
// children: that child would occupy the folder's side-record slot.
func CheckChildNames(op string, t Target, children []*models.Node) error {
	name := paths.Base(t.Dest)
	if name == paths.Base(t.Source) {
		return nil
	}
	for _, c := range children {
		if c.Name == name {
			return NewError(ErrValidation, op, t.Dest, "source has a child named "+quote(name), nil)
		}
	}
	return nil
}
