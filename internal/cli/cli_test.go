package cli

import (
	"bytes"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/cworks/treefs-sub001/internal/api"
	"github.com/cworks/treefs-sub001/pkg/models"
	"github.com/cworks/treefs-sub001/pkg/storage/objectstore"
)

func testServer(t *testing.T) string {
	t.Helper()
	p, err := objectstore.New(objectstore.NewMemoryBucket(), objectstore.Config{Client: "cli"},
		objectstore.WithStageDir(t.TempDir()))
	require.NoError(t, err)
	srv := httptest.NewServer(api.NewServer(p).Handler())
	t.Cleanup(srv.Close)
	return srv.URL
}

// run executes one command line against server and returns its stdout.
func run(t *testing.T, server, stdin string, args ...string) (string, error) {
	t.Helper()
	root := NewRootCommand()
	var out bytes.Buffer
	root.SetOut(&out)
	root.SetErr(&bytes.Buffer{})
	root.SetIn(strings.NewReader(stdin))
	root.SetArgs(append([]string{"--server", server, "--actor", "tester", "--log-level", "error"}, args...))
	err := root.Execute()
	return out.String(), err
}

func mustRun(t *testing.T, server, stdin string, args ...string) string {
	t.Helper()
	out, err := run(t, server, stdin, args...)
	require.NoError(t, err, strings.Join(args, " "))
	return out
}

func TestCommands(t *testing.T) {
	server := testServer(t)

	out := mustRun(t, server, "", "mkdir", "docs", "--description", "team docs", "-m", "tier=1", "-m", "owner=ops")
	assert.Contains(t, out, "docs/")

	local := filepath.Join(t.TempDir(), "a.txt")
	require.NoError(t, os.WriteFile(local, []byte("hello"), 0o644))
	out = mustRun(t, server, "", "put", local, "docs/a.txt", "--checksum", "aaf4c61ddcc5e8a2dabede0f3b482cd9aea9434d")
	assert.Contains(t, out, "docs/a.txt")
	mustRun(t, server, "from stdin", "put", "-", "docs/b.md")

	out = mustRun(t, server, "", "ls", "docs", "--filter", "*.txt")
	assert.Equal(t, "f          5  docs/a.txt\n", out)

	out = mustRun(t, server, "", "ls", "--depth", "3")
	assert.Equal(t, "d          -  /\n  docs/\n    a.txt\n    b.md\n", out)

	out = mustRun(t, server, "", "get", "docs/b.md")
	assert.Equal(t, "from stdin", out)

	dst := filepath.Join(t.TempDir(), "copy.txt")
	mustRun(t, server, "", "get", "docs/a.txt", dst)
	data, err := os.ReadFile(dst)
	require.NoError(t, err)
	assert.Equal(t, "hello", string(data))

	out = mustRun(t, server, "", "meta", "docs")
	assert.Contains(t, out, `"tier": 1`)
	assert.Contains(t, out, `"owner": "ops"`)

	out = mustRun(t, server, "", "meta", "docs", "--set", "reviewed=true", "--unset", "owner")
	assert.Contains(t, out, `"reviewed": true`)
	assert.NotContains(t, out, "owner")

	mustRun(t, server, "", "cp", "-r", "docs", "backup")
	mustRun(t, server, "", "mv", "backup/a.txt", "", "--into")
	out = mustRun(t, server, "", "ls", "--files")
	assert.Equal(t, "f          5  a.txt\n", out)

	_, err = run(t, server, "", "rm", "docs")
	assert.ErrorContains(t, err, "folder not empty")
	mustRun(t, server, "", "rm", "-f", "docs")

	_, err = run(t, server, "", "get", "docs/a.txt")
	assert.ErrorContains(t, err, "no such path")
}

func TestUsageErrors(t *testing.T) {
	server := testServer(t)

	_, err := run(t, server, "", "ls", "--files", "--folders")
	assert.Error(t, err)
	_, err = run(t, server, "", "mkdir")
	assert.Error(t, err)
	_, err = run(t, server, "", "mkdir", "x", "-m", "novalue")
	assert.ErrorContains(t, err, "want key=value")
}

func TestParseMetadata(t *testing.T) {
	md, err := parseMetadata([]string{"n=3", "s=text", `j={"a":[1]}`, "e="})
	require.NoError(t, err)
	assert.Equal(t, models.Metadata{
		"n": float64(3),
		"s": "text",
		"j": map[string]any{"a": []any{float64(1)}},
		"e": "",
	}, md)

	md, err = parseMetadata(nil)
	require.NoError(t, err)
	assert.Nil(t, md)

	_, err = parseMetadata([]string{"=v"})
	assert.Error(t, err)
}

func TestVersion(t *testing.T) {
	out := mustRun(t, "http://unused", "", "version")
	assert.True(t, strings.HasPrefix(out, "treefs dev"))
}
