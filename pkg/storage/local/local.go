// Package local provides a storage.Provider backed by a directory tree on the
// local filesystem.
//
// Every folder is a real directory and every file a regular file below
// <Root>/<Client>. Descriptive metadata lives in side-records: a folder's
// record is a file named after the folder inside its own directory, a file's
// record sits beside it as <file>.f.
package local

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/cworks/treefs-sub001/internal/logging"
	"github.com/cworks/treefs-sub001/internal/metrics"
	"github.com/cworks/treefs-sub001/pkg/paths"
	"github.com/cworks/treefs-sub001/pkg/storage"
)

// BackendType is returned by Provider.Type.
const BackendType = "local"

// Config holds local filesystem provider settings.
type Config struct {
	Root       string `json:"root_path"`
	Client     string `json:"client"`
	CreateDirs bool   `json:"create_dirs"`
}

// Options tune a Provider beyond its Config.
type Options struct {
	FileMode os.FileMode   // Permission bits for content and record files
	DirMode  os.FileMode   // Permission bits for folders
	Clock    storage.Clock // Source of createdAt/updatedAt
}

// OptionFunc is a functional option for New.
type OptionFunc func(opts *Options)

// WithFileMode sets the permission mode of files. Default is 0644.
func WithFileMode(mode os.FileMode) OptionFunc {
	return func(opts *Options) {
		opts.FileMode = mode
	}
}

// WithDirMode sets the permission mode of folders. Default is 0755.
func WithDirMode(mode os.FileMode) OptionFunc {
	return func(opts *Options) {
		opts.DirMode = mode
	}
}

// WithClock replaces time.Now for record timestamps.
func WithClock(c storage.Clock) OptionFunc {
	return func(opts *Options) {
		if c != nil {
			opts.Clock = c
		}
	}
}

func defaultOptions() Options {
	return Options{
		FileMode: 0o644,
		DirMode:  0o755,
		Clock:    time.Now,
	}
}

// Provider implements storage.Provider on the local filesystem.
type Provider struct {
	mount string
	opts  Options
	log   logging.Scope
}

var _ storage.Provider = (*Provider)(nil)

// New creates a provider rooted at <cfg.Root>/<cfg.Client>.
func New(cfg Config, opts ...OptionFunc) (*Provider, error) {
	if cfg.Root == "" {
		return nil, fmt.Errorf("root_path is required")
	}
	if cfg.Client != "" {
		if err := paths.CheckName(cfg.Client); err != nil {
			return nil, fmt.Errorf("client %q: %w", cfg.Client, err)
		}
		if storage.IsDotSegment(cfg.Client) {
			return nil, fmt.Errorf("client %q: not a name", cfg.Client)
		}
	}

	o := defaultOptions()
	for _, fn := range opts {
		fn(&o)
	}

	mount := filepath.Join(cfg.Root, cfg.Client)
	info, err := os.Stat(mount)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) && cfg.CreateDirs {
			if mkErr := os.MkdirAll(mount, o.DirMode); mkErr != nil {
				return nil, fmt.Errorf("create mount %s: %w", mount, mkErr)
			}
		} else {
			return nil, fmt.Errorf("stat mount %s: %w", mount, err)
		}
	} else if !info.IsDir() {
		return nil, fmt.Errorf("mount %s is not a directory", mount)
	}

	logging.Debug("local provider ready",
		zap.String("mount", mount),
		zap.String("client", cfg.Client),
	)
	return &Provider{
		mount: mount,
		opts:  o,
		log:   logging.ForProvider(BackendType, cfg.Client),
	}, nil
}

// NewFromJSON creates a Provider from raw JSON config.
func NewFromJSON(raw json.RawMessage, opts ...OptionFunc) (*Provider, error) {
	var cfg Config
	if err := json.Unmarshal(raw, &cfg); err != nil {
		return nil, fmt.Errorf("parse local config: %w", err)
	}
	return New(cfg, opts...)
}

// Type returns "local".
func (b *Provider) Type() string { return BackendType }

// Close is a no-op.
func (b *Provider) Close() error { return nil }

// Mount returns the directory holding the client's tree.
func (b *Provider) Mount() string { return b.mount }

func (b *Provider) full(p string) string {
	return filepath.Join(b.mount, filepath.FromSlash(p))
}

func (b *Provider) now() time.Time {
	return b.opts.Clock().UTC()
}

func (b *Provider) observe(op, p string, start time.Time, err error) {
	metrics.RecordStorageOperation(BackendType, op, time.Since(start), err)
	if err != nil {
		b.log.Failed(op, p, err)
	}
}

// parkName returns a hidden, unique name in dir for a file that is about to
// be removed or replaced.
func parkName(dir string) string {
	return filepath.Join(dir, storage.StagePrefix+uuid.NewString()+".park")
}

func notExist(err error) bool {
	return errors.Is(err, fs.ErrNotExist)
}

// live is checked between the steps of a multi-node operation.
func live(ctx context.Context) error {
	if ctx == nil {
		return nil
	}
	return ctx.Err()
}
