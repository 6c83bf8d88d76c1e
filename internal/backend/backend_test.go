package backend

import (
	"context"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/cworks/treefs-sub001/internal/config"
	"github.com/cworks/treefs-sub001/pkg/storage"
	"github.com/cworks/treefs-sub001/pkg/storage/local"
	"github.com/cworks/treefs-sub001/pkg/storage/objectstore"
)

func TestNewLocal(t *testing.T) {
	cfg := config.Default().Storage
	cfg.Local.Root = t.TempDir()
	cfg.Client = "acme"

	p, err := New(context.Background(), cfg)
	require.NoError(t, err)
	defer p.Close()

	assert.Equal(t, local.BackendType, p.Type())
	assert.DirExists(t, filepath.Join(cfg.Local.Root, "acme"))
}

func TestNewMemory(t *testing.T) {
	ctx := context.Background()
	cfg := config.Default().Storage
	cfg.Backend = config.BackendMemory

	p, err := New(ctx, cfg)
	require.NoError(t, err)
	assert.Equal(t, objectstore.BackendType, p.Type())

	_, err = p.CreateFolder(ctx, "a", storage.CreateFolderOptions{})
	require.NoError(t, err)
	assert.True(t, p.IsFolder(ctx, "a"))
}

func TestNewRejectsBadConfig(t *testing.T) {
	tests := []struct {
		name string
		edit func(*config.StorageConfig)
	}{
		{"unknown backend", func(c *config.StorageConfig) { c.Backend = "tape" }},
		{"nested client", func(c *config.StorageConfig) { c.Client = "a/b" }},
		{"local without root", func(c *config.StorageConfig) { c.Local.Root = "" }},
		{"s3 without bucket", func(c *config.StorageConfig) {
			c.Backend = config.BackendS3
			c.S3.Bucket = ""
		}},
		{"local root is missing", func(c *config.StorageConfig) {
			c.Local.Root = filepath.Join(t.TempDir(), "missing")
			c.Local.CreateDirs = false
		}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := config.Default().Storage
			tt.edit(&cfg)
			_, err := New(context.Background(), cfg)
			assert.Error(t, err)
		})
	}
}
