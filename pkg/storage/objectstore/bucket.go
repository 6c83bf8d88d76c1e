package objectstore

import (
	"context"
	"errors"
	"io"
	"time"
)

// ErrObjectNotFound is returned by a Bucket when a key does not exist.
var ErrObjectNotFound = errors.New("object not found")

// ObjectInfo describes one stored object.
type ObjectInfo struct {
	Key          string
	Size         int64
	ContentType  string
	LastModified time.Time
}

// Listing is the result of Bucket.ListObjects. Objects and Prefixes are each
// sorted by key.
type Listing struct {
	Objects []ObjectInfo
	// Prefixes holds the common prefixes rolled up at the delimiter, each
	// ending with the delimiter.
	Prefixes []string
}

// Len is the number of entries in the listing.
func (l Listing) Len() int {
	return len(l.Objects) + len(l.Prefixes)
}

// Bucket is the flat key space the object-store provider runs on.
// Implementations handle raw object I/O only; hierarchy, records and
// validation live in the provider.
type Bucket interface {
	// GetObject opens the object at key.
	GetObject(ctx context.Context, key string) (io.ReadCloser, ObjectInfo, error)

	// PutObject stores size bytes from body at key, replacing any object.
	PutObject(ctx context.Context, key string, body io.Reader, size int64, contentType string) error

	// DeleteObject removes the object at key. Deleting a missing key succeeds.
	DeleteObject(ctx context.Context, key string) error

	// CopyObject copies the object at srcKey to dstKey.
	CopyObject(ctx context.Context, srcKey, dstKey string) error

	// StatObject returns the object's info or ErrObjectNotFound.
	StatObject(ctx context.Context, key string) (ObjectInfo, error)

	// ListObjects lists keys starting with prefix. With a delimiter, keys
	// containing it after the prefix are rolled up into Prefixes. maxKeys
	// bounds the number of entries returned; 0 lists everything.
	ListObjects(ctx context.Context, prefix, delimiter string, maxKeys int) (Listing, error)

	// Name identifies the bucket in logs and metrics.
	Name() string

	// Close releases any resources held by the bucket.
	Close() error
}
