package protocol

import (
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/cworks/treefs-sub001/pkg/models"
	"github.com/cworks/treefs-sub001/pkg/storage"
)

func TestCodesCoverEveryKind(t *testing.T) {
	kinds := []error{
		storage.ErrNoSuchPath,
		storage.ErrNotAFile,
		storage.ErrNotAFolder,
		storage.ErrFileAlreadyExists,
		storage.ErrPathAlreadyExists,
		storage.ErrFolderNotEmpty,
		storage.ErrContentIntegrity,
		storage.ErrValidation,
		storage.ErrStorageBackend,
	}
	seen := map[string]bool{}
	for _, k := range kinds {
		code := CodeForKind(k)
		assert.False(t, seen[code], "duplicate code %s", code)
		seen[code] = true
		assert.Equal(t, k, KindForCode(code))
	}

	wrapped := storage.NewError(storage.ErrFolderNotEmpty, "trash", "a", "", nil)
	assert.Equal(t, CodeFolderNotEmpty, CodeForKind(wrapped))
	assert.Equal(t, CodeStorageBackend, CodeForKind(assert.AnError))
	assert.Nil(t, KindForCode("Nope"))
	assert.Equal(t, storage.ErrNoSuchPath, KindForCode("nosuchpath"))
}

func TestErrorResponseErr(t *testing.T) {
	resp := &ErrorResponse{Type: TypeError, Code: CodeNotAFolder, Op: "list", Path: "a.txt"}
	err := resp.Err()
	assert.ErrorIs(t, err, storage.ErrNotAFolder)
	assert.Equal(t, `list: not a folder "a.txt"`, err.Error())

	unknown := (&ErrorResponse{Code: "Teapot", Details: "short and stout"}).Err()
	assert.ErrorIs(t, unknown, storage.ErrStorageBackend)
	assert.Contains(t, unknown.Error(), "short and stout")
}

func TestDecodeEnvelope(t *testing.T) {
	folder := models.NewFolder("docs", "docs")
	folder.Children = []*models.Node{models.NewFile("a.txt", "docs/a.txt")}
	data, err := json.Marshal(folder)
	require.NoError(t, err)

	env, err := Decode(data)
	require.NoError(t, err)
	require.NotNil(t, env.Node)
	assert.Nil(t, env.Error)
	assert.True(t, env.Node.IsFolder())
	require.Len(t, env.Node.Children, 1)

	data, err = json.Marshal(ErrorResponse{Type: TypeError, Error: "boom", Code: CodeValidation, Status: 400})
	require.NoError(t, err)
	env, err = Decode(data)
	require.NoError(t, err)
	require.NotNil(t, env.Error)
	assert.Nil(t, env.Node)
	assert.Equal(t, 400, env.Error.Status)

	_, err = Decode([]byte(`{"name":"x"}`))
	assert.ErrorIs(t, err, models.ErrMissingType)
	_, err = Decode([]byte(`[`))
	assert.Error(t, err)
}

func TestCopyRequestOptions(t *testing.T) {
	assert.Empty(t, CopyRequest{Source: "a", Target: "b"}.Options())

	co := storage.ResolveCopyOptions(CopyRequest{Recursive: true, Into: true}.Options()...)
	assert.Equal(t, storage.CopyOptions{Recursive: true, Into: true}, co)

	var req CopyRequest
	require.NoError(t, json.Unmarshal([]byte(`{"source":"a","target":"b","replaceExisting":true}`), &req))
	assert.Equal(t, []storage.CopyOption{storage.ReplaceExisting}, req.Options())
}
