package storage

import (
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/cworks/treefs-sub001/pkg/models"
	"github.com/cworks/treefs-sub001/pkg/paths"
)

// FileRecordSuffix is appended to a file name to name its side-record.
const FileRecordSuffix = ".f"

// Record is the side-record persisted next to a node. It is stored
// separately from content so that metadata can be read and replaced without
// touching the node itself.
type Record struct {
	Type        models.NodeType `json:"type"`
	Name        string          `json:"name"`
	Description string          `json:"description,omitempty"`
	CreatedAt   time.Time       `json:"createdAt,omitzero"`
	CreatedBy   string          `json:"createdBy,omitempty"`
	UpdatedAt   time.Time       `json:"updatedAt,omitzero"`
	UpdatedBy   string          `json:"updatedBy,omitempty"`
	Metadata    models.Metadata `json:"metadata,omitempty"`

	Size        int64  `json:"size,omitempty"`
	Checksum    string `json:"checksum,omitempty"`
	ContentType string `json:"contentType,omitempty"`
}

// EncodeRecord serializes rec.
func EncodeRecord(rec *Record) ([]byte, error) {
	return json.MarshalIndent(rec, "", "  ")
}

// DecodeRecord parses a side-record.
func DecodeRecord(data []byte) (*Record, error) {
	var rec Record
	if err := json.Unmarshal(data, &rec); err != nil {
		return nil, fmt.Errorf("decoding side-record: %w", err)
	}
	return &rec, nil
}

// NewFolderRecord returns the record written when a folder is created.
func NewFolderRecord(name string, opts CreateFolderOptions, now time.Time) *Record {
	return &Record{
		Type:        models.TypeFolder,
		Name:        name,
		Description: opts.Description,
		CreatedAt:   now,
		CreatedBy:   opts.Actor,
		UpdatedAt:   now,
		UpdatedBy:   opts.Actor,
		Metadata:    opts.Metadata.Clone(),
	}
}

// NewFileRecord returns the record written when a file is created.
func NewFileRecord(name string, opts CreateFileOptions, st *Staged, now time.Time) *Record {
	return &Record{
		Type:        models.TypeFile,
		Name:        name,
		Description: opts.Description,
		CreatedAt:   now,
		CreatedBy:   opts.Actor,
		UpdatedAt:   now,
		UpdatedBy:   opts.Actor,
		Metadata:    opts.Metadata.Clone(),
		Size:        st.Size(),
		Checksum:    st.Checksum(),
		ContentType: st.ContentType(),
	}
}

// Apply copies the descriptive fields of rec onto n. Structural fields
// (type, name, path, size of a folder) are left alone.
func (rec *Record) Apply(n *models.Node) {
	if rec == nil {
		return
	}
	n.Description = rec.Description
	n.CreatedAt = rec.CreatedAt
	n.CreatedBy = rec.CreatedBy
	n.UpdatedAt = rec.UpdatedAt
	n.UpdatedBy = rec.UpdatedBy
	n.Metadata = rec.Metadata.Clone()
	if n.IsFile() {
		if rec.Checksum != "" {
			n.Checksum = rec.Checksum
		}
		if rec.ContentType != "" {
			n.ContentType = rec.ContentType
		}
	}
}

// Patch merges p into rec and stamps the update.
func (rec *Record) Patch(p MetadataPatch, now time.Time) {
	if p.Description != "" {
		rec.Description = p.Description
	}
	if len(p.Metadata) > 0 && rec.Metadata == nil {
		rec.Metadata = models.Metadata{}
	}
	for k, v := range p.Metadata {
		if v == nil {
			delete(rec.Metadata, k)
			continue
		}
		rec.Metadata[k] = v
	}
	if len(rec.Metadata) == 0 {
		rec.Metadata = nil
	}
	rec.UpdatedAt = now
	rec.UpdatedBy = p.Actor
	if rec.CreatedAt.IsZero() {
		rec.CreatedAt = now
		rec.CreatedBy = p.Actor
	}
}

// Renamed returns a copy of rec describing a node now called name.
func (rec *Record) Renamed(name string) *Record {
	c := *rec
	c.Name = name
	c.Metadata = rec.Metadata.Clone()
	return &c
}

// Copied returns the record for a copy of the node called name, created at
// now. Descriptive fields and metadata carry over.
func (rec *Record) Copied(name string, now time.Time) *Record {
	c := rec.Renamed(name)
	c.CreatedAt, c.UpdatedAt = now, now
	return c
}

// RecordPath returns the client path of the side-record describing the node
// at nodePath: a folder's record is named after the folder and lives inside
// it, a file's record sits beside it with FileRecordSuffix appended.
func RecordPath(nodePath string, folder bool) string {
	nodePath = paths.Normalize(nodePath)
	if folder {
		return paths.Join(nodePath, paths.Base(nodePath))
	}
	return nodePath + FileRecordSuffix
}

// IsReservedName reports whether a child called name in a folder called
// parentName would collide with a side-record slot.
func IsReservedName(parentName, name string) bool {
	if parentName != "" && name == parentName {
		return true
	}
	return strings.HasSuffix(name, FileRecordSuffix)
}

// IsDotSegment reports whether name is "." or "..". Such segments would
// resolve outside the client scope on disk and in key space.
func IsDotSegment(name string) bool {
	return name == "." || name == ".."
}

// CheckNodePath normalizes path and validates it as the path of a node that
// can be created or removed. The root is rejected.
func CheckNodePath(op, path string) (string, error) {
	p, err := CheckPath(op, path)
	if err != nil {
		return "", err
	}
	if p == "" {
		return "", NewError(ErrValidation, op, p, "the root cannot be targeted", nil)
	}
	return p, nil
}

// CheckPath normalizes path and validates every segment; the root passes.
func CheckPath(op, path string) (string, error) {
	p := paths.Normalize(path)
	if p == "" {
		return "", nil
	}
	if err := paths.CheckPath(p); err != nil {
		return "", NewError(ErrValidation, op, p, "", err)
	}
	parent := ""
	for _, seg := range paths.Split(p) {
		if IsDotSegment(seg) {
			return "", NewError(ErrValidation, op, p, "segment "+quote(seg)+" is not a name", nil)
		}
		if IsReservedName(parent, seg) {
			return "", NewError(ErrValidation, op, p, "name "+quote(seg)+" is reserved for side-records", nil)
		}
		parent = seg
	}
	return p, nil
}
