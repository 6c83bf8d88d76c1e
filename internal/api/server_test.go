package api

import (
	"compress/gzip"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/cworks/treefs-sub001/internal/logging"
	"github.com/cworks/treefs-sub001/pkg/models"
	"github.com/cworks/treefs-sub001/pkg/protocol"
	"github.com/cworks/treefs-sub001/pkg/storage"
	"github.com/cworks/treefs-sub001/pkg/storage/local"
	"github.com/cworks/treefs-sub001/pkg/storage/objectstore"
)

const helloSum = "aaf4c61ddcc5e8a2dabede0f3b482cd9aea9434d"

func fixedNow() time.Time { return time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC) }

func newObjectStoreServer(t *testing.T) http.Handler {
	t.Helper()
	p, err := objectstore.New(objectstore.NewMemoryBucket(), objectstore.Config{Client: "acme"},
		objectstore.WithClock(fixedNow),
		objectstore.WithStageDir(t.TempDir()),
	)
	require.NoError(t, err)
	return NewServer(p, WithVersion("test")).Handler()
}

func newLocalServer(t *testing.T) http.Handler {
	t.Helper()
	p, err := local.New(local.Config{Root: t.TempDir(), Client: "acme", CreateDirs: true}, local.WithClock(fixedNow))
	require.NoError(t, err)
	return NewServer(p).Handler()
}

func do(t *testing.T, h http.Handler, method, target string, body io.Reader, headers ...string) *httptest.ResponseRecorder {
	t.Helper()
	req := httptest.NewRequest(method, target, body)
	for i := 0; i+1 < len(headers); i += 2 {
		req.Header.Set(headers[i], headers[i+1])
	}
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	return rec
}

func decodeNode(t *testing.T, rec *httptest.ResponseRecorder) *models.Node {
	t.Helper()
	var n models.Node
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &n), rec.Body.String())
	return &n
}

func decodeError(t *testing.T, rec *httptest.ResponseRecorder) protocol.ErrorResponse {
	t.Helper()
	env, err := protocol.Decode(rec.Body.Bytes())
	require.NoError(t, err, rec.Body.String())
	require.NotNil(t, env.Error, rec.Body.String())
	return *env.Error
}

func TestMain(m *testing.M) {
	logging.InitDefault()
	m.Run()
}

func TestHealth(t *testing.T) {
	h := newObjectStoreServer(t)
	rec := do(t, h, http.MethodGet, "/health", nil, logging.RequestIDHeader, "req-1")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "req-1", rec.Header().Get(logging.RequestIDHeader))

	var body map[string]string
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	assert.Equal(t, "ok", body["status"])
	assert.Equal(t, "test", body["version"])
	assert.Equal(t, objectstore.BackendType, body["backend"])
}

func TestNodeLifecycle(t *testing.T) {
	backends := map[string]func(*testing.T) http.Handler{
		"objectstore": newObjectStoreServer,
		"local":       newLocalServer,
	}
	for name, newServer := range backends {
		t.Run(name, func(t *testing.T) {
			h := newServer(t)

			rec := do(t, h, http.MethodPost, "/api/v1/folders/docs",
				strings.NewReader(`{"description":"team docs","metadata":{"owner":"ops"}}`),
				protocol.HeaderActor, "ann")
			require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())
			folder := decodeNode(t, rec)
			assert.True(t, folder.IsFolder())
			assert.Equal(t, "team docs", folder.Description)
			assert.Equal(t, "ann", folder.CreatedBy)

			rec = do(t, h, http.MethodPost, "/api/v1/files/docs/a.txt", strings.NewReader("hello"),
				protocol.HeaderChecksum, helloSum,
				protocol.HeaderDescription, "greeting",
				protocol.HeaderMetadata, `{"lang":"en"}`,
				"Content-Type", "application/octet-stream")
			require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())
			file := decodeNode(t, rec)
			assert.Equal(t, helloSum, file.Checksum)
			assert.Equal(t, "greeting", file.Description)
			assert.EqualValues(t, 5, file.Size)

			rec = do(t, h, http.MethodGet, "/api/v1/content/docs/a.txt", nil)
			require.Equal(t, http.StatusOK, rec.Code)
			assert.Equal(t, "hello", rec.Body.String())
			assert.Equal(t, `"`+helloSum+`"`, rec.Header().Get("ETag"))
			assert.Equal(t, "text/plain; charset=utf-8", rec.Header().Get("Content-Type"))

			rec = do(t, h, http.MethodGet, "/api/v1/nodes/?depth=2", nil)
			require.Equal(t, http.StatusOK, rec.Code)
			root := decodeNode(t, rec)
			require.Len(t, root.Children, 1)
			require.Len(t, root.Children[0].Children, 1)
			assert.Equal(t, "docs/a.txt", root.Children[0].Children[0].Path)

			rec = do(t, h, http.MethodGet, "/api/v1/nodes/docs/a.txt", nil)
			require.Equal(t, http.StatusOK, rec.Code)
			assert.True(t, decodeNode(t, rec).IsFile())

			rec = do(t, h, http.MethodPatch, "/api/v1/metadata/docs/a.txt",
				strings.NewReader(`{"metadata":{"lang":null,"reviewed":true}}`), protocol.HeaderActor, "bob")
			require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
			assert.Equal(t, "bob", decodeNode(t, rec).UpdatedBy)

			rec = do(t, h, http.MethodGet, "/api/v1/metadata/docs/a.txt", nil)
			require.Equal(t, http.StatusOK, rec.Code)
			var md protocol.MetadataResponse
			require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &md))
			assert.Equal(t, models.Metadata{"reviewed": true}, md.Metadata)

			rec = do(t, h, http.MethodPost, "/api/v1/copy",
				strings.NewReader(`{"source":"docs","target":"backup","recursive":true}`))
			require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())

			rec = do(t, h, http.MethodPost, "/api/v1/move",
				strings.NewReader(`{"source":"backup/a.txt","target":"docs","into":true,"replaceExisting":true}`))
			require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
			assert.Equal(t, "docs/a.txt", decodeNode(t, rec).Path)

			rec = do(t, h, http.MethodDelete, "/api/v1/nodes/docs", nil)
			require.Equal(t, http.StatusConflict, rec.Code)
			assert.Equal(t, protocol.CodeFolderNotEmpty, decodeError(t, rec).Code)

			rec = do(t, h, http.MethodDelete, "/api/v1/nodes/docs?forceDelete=true", nil)
			require.Equal(t, http.StatusNoContent, rec.Code)

			rec = do(t, h, http.MethodGet, "/api/v1/children/?foldersOnly=true", nil)
			require.Equal(t, http.StatusOK, rec.Code)
			var list protocol.ListResponse
			require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &list))
			require.Len(t, list.Children, 1)
			assert.Equal(t, "backup", list.Children[0].Name)
		})
	}
}

func TestListFilters(t *testing.T) {
	h := newObjectStoreServer(t)
	for _, p := range []string{"a.txt", "b.md", "c.txt"} {
		rec := do(t, h, http.MethodPost, "/api/v1/files/"+p, strings.NewReader(p))
		require.Equal(t, http.StatusCreated, rec.Code)
	}
	require.Equal(t, http.StatusCreated, do(t, h, http.MethodPost, "/api/v1/folders/sub", nil).Code)

	tests := []struct {
		query string
		want  []string
	}{
		{"", []string{"a.txt", "b.md", "c.txt", "sub"}},
		{"?filesOnly=true", []string{"a.txt", "b.md", "c.txt"}},
		{"?filter=*.md|s*", []string{"b.md", "sub"}},
	}
	for _, tt := range tests {
		rec := do(t, h, http.MethodGet, "/api/v1/children/"+tt.query, nil)
		require.Equal(t, http.StatusOK, rec.Code, tt.query)
		var list protocol.ListResponse
		require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &list))
		var got []string
		for _, n := range list.Children {
			got = append(got, n.Name)
		}
		assert.ElementsMatch(t, tt.want, got, tt.query)
	}

	rec := do(t, h, http.MethodGet, "/api/v1/children/?filesOnly=true&foldersOnly=true", nil)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
	rec = do(t, h, http.MethodGet, "/api/v1/children/?filesOnly=maybe", nil)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestErrorMapping(t *testing.T) {
	h := newObjectStoreServer(t)
	require.Equal(t, http.StatusCreated, do(t, h, http.MethodPost, "/api/v1/files/f.txt", strings.NewReader("x")).Code)

	tests := []struct {
		name   string
		method string
		target string
		body   string
		header []string
		status int
		code   string
	}{
		{"missing", http.MethodGet, "/api/v1/nodes/nope", "", nil, http.StatusNotFound, protocol.CodeNoSuchPath},
		{"list a file", http.MethodGet, "/api/v1/children/f.txt", "", nil, http.StatusConflict, protocol.CodeNotAFolder},
		{"read a folder", http.MethodGet, "/api/v1/content/", "", nil, http.StatusConflict, protocol.CodeNotAFile},
		{"existing file", http.MethodPost, "/api/v1/files/f.txt", "y", nil, http.StatusConflict, protocol.CodeFileAlreadyExists},
		{"bad checksum", http.MethodPost, "/api/v1/files/g.txt", "y", []string{protocol.HeaderChecksum, "deadbeef"}, http.StatusUnprocessableEntity, protocol.CodeContentIntegrity},
		{"bad name", http.MethodPost, "/api/v1/folders/" + strings.Repeat("x", 65), "", nil, http.StatusBadRequest, protocol.CodeValidation},
		{"bad depth", http.MethodGet, "/api/v1/nodes/?depth=deep", "", nil, http.StatusBadRequest, protocol.CodeValidation},
		{"bad body", http.MethodPost, "/api/v1/copy", "{", nil, http.StatusBadRequest, protocol.CodeValidation},
		{"bad metadata header", http.MethodPost, "/api/v1/files/h.txt", "y", []string{protocol.HeaderMetadata, "[1]"}, http.StatusBadRequest, protocol.CodeValidation},
		{"copy into itself", http.MethodPost, "/api/v1/copy", `{"source":"f.txt","target":"f.txt"}`, nil, http.StatusBadRequest, protocol.CodeValidation},
		{"copy out of scope", http.MethodPost, "/api/v1/copy", `{"source":"f.txt","target":"../other/f.txt"}`, nil, http.StatusBadRequest, protocol.CodeValidation},
		{"bad recursive", http.MethodPost, "/api/v1/copy?recursive=often", `{"source":"f.txt","target":"g.txt"}`, nil, http.StatusBadRequest, protocol.CodeValidation},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			var body io.Reader
			if tt.body != "" {
				body = strings.NewReader(tt.body)
			}
			rec := do(t, h, tt.method, tt.target, body, tt.header...)
			require.Equal(t, tt.status, rec.Code, rec.Body.String())
			resp := decodeError(t, rec)
			assert.Equal(t, tt.code, resp.Code)
			assert.Equal(t, tt.status, resp.Status)
		})
	}

	rec := do(t, h, http.MethodGet, "/api/v1/content/nope", nil)
	resp := decodeError(t, rec)
	assert.ErrorIs(t, resp.Err(), storage.ErrNoSuchPath)
	assert.Equal(t, "nope", resp.Path)
}

func TestCopyRecursiveParam(t *testing.T) {
	h := newObjectStoreServer(t)
	require.Equal(t, http.StatusCreated, do(t, h, http.MethodPost, "/api/v1/folders/d", nil).Code)
	require.Equal(t, http.StatusCreated, do(t, h, http.MethodPost, "/api/v1/files/d/x.txt", strings.NewReader("x")).Code)

	body := `{"source":"d","target":"e"}`
	rec := do(t, h, http.MethodPost, "/api/v1/copy", strings.NewReader(body))
	require.Equal(t, http.StatusConflict, rec.Code)
	assert.Equal(t, protocol.CodeFolderNotEmpty, decodeError(t, rec).Code)

	rec = do(t, h, http.MethodPost, "/api/v1/copy?recursive=true", strings.NewReader(body))
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())
	rec = do(t, h, http.MethodGet, "/api/v1/content/e/x.txt", nil)
	assert.Equal(t, "x", rec.Body.String())

	rec = do(t, h, http.MethodPost, "/api/v1/move?recursive=1", strings.NewReader(`{"source":"e","target":"f"}`))
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
}

func TestUploadLimit(t *testing.T) {
	p, err := objectstore.New(objectstore.NewMemoryBucket(), objectstore.Config{Client: "acme"},
		objectstore.WithStageDir(t.TempDir()))
	require.NoError(t, err)
	h := NewServer(p, WithMaxUploadSize(4)).Handler()

	rec := do(t, h, http.MethodPost, "/api/v1/files/big.bin", strings.NewReader("0123456789"))
	assert.Equal(t, http.StatusRequestEntityTooLarge, rec.Code)
	rec = do(t, h, http.MethodPost, "/api/v1/files/small.bin", strings.NewReader("0123"))
	assert.Equal(t, http.StatusCreated, rec.Code)
}

func TestGzipTree(t *testing.T) {
	h := newObjectStoreServer(t)
	require.Equal(t, http.StatusCreated, do(t, h, http.MethodPost, "/api/v1/folders/a", nil).Code)

	rec := do(t, h, http.MethodGet, "/api/v1/nodes/", nil, "Accept-Encoding", "br, gzip;q=0.9")
	require.Equal(t, http.StatusOK, rec.Code)
	require.Equal(t, "gzip", rec.Header().Get("Content-Encoding"))

	gr, err := gzip.NewReader(rec.Body)
	require.NoError(t, err)
	defer gr.Close()
	var root models.Node
	require.NoError(t, json.NewDecoder(gr).Decode(&root))
	require.Len(t, root.Children, 1)
	assert.Equal(t, "a", root.Children[0].Name)

	rec = do(t, h, http.MethodGet, "/api/v1/metadata/a", nil, "Accept-Encoding", "gzip")
	assert.Empty(t, rec.Header().Get("Content-Encoding"))
}

func TestStatusFor(t *testing.T) {
	assert.Equal(t, http.StatusNotFound, StatusFor(storage.NewError(storage.ErrNoSuchPath, "op", "p", "", nil)))
	assert.Equal(t, http.StatusInternalServerError, StatusFor(storage.BackendError("op", "p", io.ErrUnexpectedEOF)))
	assert.Equal(t, http.StatusInternalServerError, StatusFor(io.EOF))
}
