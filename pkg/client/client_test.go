package client

import (
	"context"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/cworks/treefs-sub001/internal/api"
	"github.com/cworks/treefs-sub001/internal/retry"
	"github.com/cworks/treefs-sub001/pkg/models"
	"github.com/cworks/treefs-sub001/pkg/storage"
	"github.com/cworks/treefs-sub001/pkg/storage/objectstore"
)

var fastRetry = retry.Config{MaxAttempts: 3, InitialWait: time.Millisecond, MaxWait: time.Millisecond}

// testClient wires a client to a handler served by httptest.
func testClient(t *testing.T, handler http.Handler) *Client {
	t.Helper()
	srv := httptest.NewServer(handler)
	t.Cleanup(srv.Close)
	return New(Config{BaseURL: srv.URL + "/", RetryConfig: fastRetry, Actor: "cli"})
}

func apiClient(t *testing.T) *Client {
	t.Helper()
	p, err := objectstore.New(objectstore.NewMemoryBucket(), objectstore.Config{Client: "acme"},
		objectstore.WithStageDir(t.TempDir()))
	require.NoError(t, err)
	return testClient(t, api.NewServer(p).Handler())
}

func TestRoundTrip(t *testing.T) {
	ctx := context.Background()
	c := apiClient(t)

	require.NoError(t, c.Ping(ctx))
	assert.True(t, c.IsOnline())

	folder, err := c.CreateFolder(ctx, "my docs", FolderOptions{Description: "spaces in names"})
	require.NoError(t, err)
	assert.Equal(t, "cli", folder.CreatedBy)

	file, err := c.Upload(ctx, "my docs/a b.txt", strings.NewReader("hello"), UploadOptions{
		Checksum: "aaf4c61ddcc5e8a2dabede0f3b482cd9aea9434d",
		Metadata: models.Metadata{"lang": "en"},
	})
	require.NoError(t, err)
	assert.Equal(t, "my docs/a b.txt", file.Path)

	rc, err := c.Read(ctx, "my docs/a b.txt")
	require.NoError(t, err)
	data, err := io.ReadAll(rc)
	require.NoError(t, err)
	require.NoError(t, rc.Close())
	assert.Equal(t, "hello", string(data))

	root, err := c.GetNode(ctx, "", 2)
	require.NoError(t, err)
	require.Len(t, root.Children, 1)
	require.Len(t, root.Children[0].Children, 1)

	children, err := c.List(ctx, "my docs", storage.Filter{FilesOnly: true, Patterns: []string{"*.txt"}})
	require.NoError(t, err)
	require.Len(t, children, 1)

	_, err = c.UpdateMetadata(ctx, "my docs/a b.txt", "", models.Metadata{"lang": nil, "k": "v"})
	require.NoError(t, err)
	md, err := c.Metadata(ctx, "my docs/a b.txt")
	require.NoError(t, err)
	assert.Equal(t, models.Metadata{"k": "v"}, md)

	copied, err := c.Copy(ctx, "my docs", "archive", storage.Recursive)
	require.NoError(t, err)
	assert.Equal(t, "archive", copied.Path)

	moved, err := c.Move(ctx, "archive/a b.txt", "", storage.Into)
	require.NoError(t, err)
	assert.Equal(t, "a b.txt", moved.Path)

	err = c.Trash(ctx, "my docs", false)
	assert.ErrorIs(t, err, storage.ErrFolderNotEmpty)
	require.NoError(t, c.Trash(ctx, "my docs", true))

	_, err = c.GetNode(ctx, "my docs", 0)
	assert.True(t, IsNotFound(err))

	_, err = c.Upload(ctx, "b.txt", strings.NewReader("x"), UploadOptions{Checksum: "deadbeef"})
	assert.ErrorIs(t, err, storage.ErrContentIntegrity)
}

func TestRetriesReadsOnServerError(t *testing.T) {
	var calls atomic.Int32
	c := testClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if calls.Add(1) < 3 {
			w.WriteHeader(http.StatusBadGateway)
			return
		}
		w.Header().Set("Content-Type", "application/json")
		io.WriteString(w, `{"type":"folder","name":"","path":"","children":[]}`)
	}))

	n, err := c.GetNode(context.Background(), "", 1)
	require.NoError(t, err)
	assert.True(t, n.IsFolder())
	assert.EqualValues(t, 3, calls.Load())
}

func TestDoesNotRetryMutations(t *testing.T) {
	var calls atomic.Int32
	c := testClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusInternalServerError)
		io.WriteString(w, `{"type":"error","error":"boom","code":"StorageBackendError","status":500,"op":"copy","details":"disk full"}`)
	}))

	_, err := c.Copy(context.Background(), "a", "b")
	require.Error(t, err)
	assert.ErrorIs(t, err, storage.ErrStorageBackend)
	assert.Contains(t, err.Error(), "disk full")
	assert.EqualValues(t, 1, calls.Load())
}

func TestDoesNotRetryClientErrors(t *testing.T) {
	var calls atomic.Int32
	c := testClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)
		w.WriteHeader(http.StatusNotFound)
		io.WriteString(w, "not json")
	}))

	err := c.Trash(context.Background(), "x", false)
	assert.ErrorIs(t, err, storage.ErrStorageBackend)
	assert.Contains(t, err.Error(), "server returned 404")
	assert.EqualValues(t, 1, calls.Load())
}

func TestOfflineTracking(t *testing.T) {
	srv := httptest.NewServer(http.NotFoundHandler())
	url := srv.URL
	srv.Close()

	c := New(Config{BaseURL: url, RetryConfig: retry.NoRetry(), Timeout: time.Second})
	assert.Error(t, c.Ping(context.Background()))
	assert.False(t, c.IsOnline())
}

func TestRequestURLEscapesSegments(t *testing.T) {
	r := request{route: "/api/v1/nodes/", path: "/a b/c#d/"}
	assert.Equal(t, "http://h/api/v1/nodes/a%20b/c%23d", r.url("http://h"))

	r = request{route: "/api/v1/nodes/", query: map[string][]string{"depth": {"2"}}}
	assert.Equal(t, "http://h/api/v1/nodes/?depth=2", r.url("http://h"))
}
