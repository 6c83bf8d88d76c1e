package objectstore

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"slices"
	"strings"
	"sync"
	"time"
)

type memObject struct {
	data        []byte
	contentType string
	modified    time.Time
}

// MemoryBucket is an in-process Bucket. It backs the "memory" storage
// backend and the tests.
type MemoryBucket struct {
	mu      sync.RWMutex
	objects map[string]memObject

	// FailOn, when set, is consulted before every mutating call; a non-nil
	// result is returned instead of performing it.
	FailOn func(op, key string) error
}

var _ Bucket = (*MemoryBucket)(nil)

// NewMemoryBucket returns an empty bucket.
func NewMemoryBucket() *MemoryBucket {
	return &MemoryBucket{objects: make(map[string]memObject)}
}

func (m *MemoryBucket) fail(op, key string) error {
	if m.FailOn == nil {
		return nil
	}
	return m.FailOn(op, key)
}

// GetObject returns a reader over a copy of the object.
func (m *MemoryBucket) GetObject(_ context.Context, key string) (io.ReadCloser, ObjectInfo, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	obj, ok := m.objects[key]
	if !ok {
		return nil, ObjectInfo{}, fmt.Errorf("get %s: %w", key, ErrObjectNotFound)
	}
	return io.NopCloser(bytes.NewReader(bytes.Clone(obj.data))), obj.info(key), nil
}

// PutObject stores body at key.
func (m *MemoryBucket) PutObject(_ context.Context, key string, body io.Reader, size int64, contentType string) error {
	if err := m.fail("put", key); err != nil {
		return err
	}
	data, err := io.ReadAll(body)
	if err != nil {
		return fmt.Errorf("put %s: %w", key, err)
	}
	if size >= 0 && int64(len(data)) != size {
		return fmt.Errorf("put %s: read %d bytes, expected %d", key, len(data), size)
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	m.objects[key] = memObject{data: data, contentType: contentType, modified: time.Now().UTC()}
	return nil
}

// DeleteObject removes key.
func (m *MemoryBucket) DeleteObject(_ context.Context, key string) error {
	if err := m.fail("delete", key); err != nil {
		return err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.objects, key)
	return nil
}

// CopyObject duplicates srcKey at dstKey.
func (m *MemoryBucket) CopyObject(_ context.Context, srcKey, dstKey string) error {
	if err := m.fail("copy", dstKey); err != nil {
		return err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	obj, ok := m.objects[srcKey]
	if !ok {
		return fmt.Errorf("copy %s: %w", srcKey, ErrObjectNotFound)
	}
	obj.data = bytes.Clone(obj.data)
	obj.modified = time.Now().UTC()
	m.objects[dstKey] = obj
	return nil
}

// StatObject returns the info of key.
func (m *MemoryBucket) StatObject(_ context.Context, key string) (ObjectInfo, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	obj, ok := m.objects[key]
	if !ok {
		return ObjectInfo{}, fmt.Errorf("stat %s: %w", key, ErrObjectNotFound)
	}
	return obj.info(key), nil
}

// ListObjects lists keys in lexicographic order, the way S3 does.
func (m *MemoryBucket) ListObjects(_ context.Context, prefix, delimiter string, maxKeys int) (Listing, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	keys := make([]string, 0, len(m.objects))
	for k := range m.objects {
		if strings.HasPrefix(k, prefix) {
			keys = append(keys, k)
		}
	}
	slices.Sort(keys)

	var l Listing
	seen := make(map[string]bool)
	for _, k := range keys {
		if maxKeys > 0 && l.Len() >= maxKeys {
			break
		}
		rest := k[len(prefix):]
		if delimiter != "" {
			if i := strings.Index(rest, delimiter); i >= 0 {
				cp := prefix + rest[:i+len(delimiter)]
				if !seen[cp] {
					seen[cp] = true
					l.Prefixes = append(l.Prefixes, cp)
				}
				continue
			}
		}
		l.Objects = append(l.Objects, m.objects[k].info(k))
	}
	return l, nil
}

// Keys returns every stored key, sorted.
func (m *MemoryBucket) Keys() []string {
	m.mu.RLock()
	defer m.mu.RUnlock()
	keys := make([]string, 0, len(m.objects))
	for k := range m.objects {
		keys = append(keys, k)
	}
	slices.Sort(keys)
	return keys
}

// Name returns "memory".
func (m *MemoryBucket) Name() string { return "memory" }

// Close is a no-op.
func (m *MemoryBucket) Close() error { return nil }

func (o memObject) info(key string) ObjectInfo {
	return ObjectInfo{
		Key:          key,
		Size:         int64(len(o.data)),
		ContentType:  o.contentType,
		LastModified: o.modified,
	}
}
