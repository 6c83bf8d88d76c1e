package config

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writeFile(t *testing.T, name, content string) string {
	t.Helper()
	p := filepath.Join(t.TempDir(), name)
	require.NoError(t, os.WriteFile(p, []byte(content), 0o644))
	return p
}

func TestDefaultIsValid(t *testing.T) {
	require.NoError(t, Default().Validate())
}

func TestLoadYAMLOverride(t *testing.T) {
	t.Chdir(t.TempDir())
	p := writeFile(t, "treefs.yaml", `
listen_addr: ":7000"
storage:
  backend: s3
  client: acme
  s3:
    bucket: nodes
    use_ssl: true
`)
	cfg, err := Load(p)
	require.NoError(t, err)
	assert.Equal(t, ":7000", cfg.ListenAddr)
	assert.Equal(t, BackendS3, cfg.Storage.Backend)
	assert.Equal(t, "acme", cfg.Storage.Client)
	assert.Equal(t, "nodes", cfg.Storage.S3.Bucket)
	assert.True(t, cfg.Storage.S3.UseSSL)
	// Untouched fields keep their defaults.
	assert.Equal(t, DefaultS3Region, cfg.Storage.S3.Region)
	assert.Equal(t, DefaultMetricsAddr, cfg.MetricsAddr)
}

func TestLoadJSONOverride(t *testing.T) {
	t.Chdir(t.TempDir())
	p := writeFile(t, "treefs.json", `{"log_format":"console","storage":{"local":{"root":"/srv/t","create_dirs":false}}}`)
	cfg, err := Load(p)
	require.NoError(t, err)
	assert.Equal(t, "console", cfg.LogFormat)
	assert.Equal(t, "/srv/t", cfg.Storage.Local.Root)
	assert.False(t, cfg.Storage.Local.CreateDirs)
}

func TestEnvWinsOverFile(t *testing.T) {
	t.Chdir(t.TempDir())
	p := writeFile(t, "treefs.yml", "storage:\n  client: fromfile\n")
	t.Setenv("TREEFS_CONFIG", p)
	t.Setenv("TREEFS_CLIENT", "fromenv")
	t.Setenv("TREEFS_S3_USE_SSL", "not-a-bool")

	cfg, err := Load("")
	require.NoError(t, err)
	assert.Equal(t, "fromenv", cfg.Storage.Client)
	assert.False(t, cfg.Storage.S3.UseSSL)
}

func TestDotEnvIsRead(t *testing.T) {
	dir := t.TempDir()
	t.Chdir(dir)
	require.NoError(t, os.WriteFile(filepath.Join(dir, ".env"), []byte("TREEFS_LISTEN_ADDR=:6000\n"), 0o644))
	t.Cleanup(func() { os.Unsetenv("TREEFS_LISTEN_ADDR") })

	cfg, err := Load("")
	require.NoError(t, err)
	assert.Equal(t, ":6000", cfg.ListenAddr)
}

func TestLoadRejectsUnknownExtension(t *testing.T) {
	p := writeFile(t, "treefs.toml", "x = 1")
	_, err := Load(p)
	assert.ErrorContains(t, err, "unknown config file extension")
}

func TestValidate(t *testing.T) {
	tests := []struct {
		name   string
		mutate func(*Config)
		errMsg string
	}{
		{"unknown backend", func(c *Config) { c.Storage.Backend = "ftp" }, "unknown storage backend"},
		{"client with slash", func(c *Config) { c.Storage.Client = "a/b" }, "single name"},
		{"local without root", func(c *Config) { c.Storage.Local.Root = "" }, "local.root"},
		{"s3 without bucket", func(c *Config) {
			c.Storage.Backend = BackendS3
			c.Storage.S3.Bucket = ""
		}, "s3.bucket"},
		{"bad log format", func(c *Config) { c.LogFormat = "xml" }, "log format"},
		{"memory needs nothing", func(c *Config) {
			c.Storage.Backend = BackendMemory
			c.Storage.Local.Root = ""
		}, ""},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := Default()
			tt.mutate(cfg)
			err := cfg.Validate()
			if tt.errMsg == "" {
				assert.NoError(t, err)
				return
			}
			assert.ErrorContains(t, err, tt.errMsg)
		})
	}
}
