// Package backend builds the configured storage provider.
package backend

import (
	"context"
	"fmt"

	"go.uber.org/zap"

	"github.com/cworks/treefs-sub001/internal/config"
	"github.com/cworks/treefs-sub001/internal/logging"
	"github.com/cworks/treefs-sub001/pkg/storage"
	"github.com/cworks/treefs-sub001/pkg/storage/local"
	"github.com/cworks/treefs-sub001/pkg/storage/objectstore"
	"github.com/cworks/treefs-sub001/pkg/storage/s3"
)

// New returns the provider selected by cfg.Backend, bound to cfg.Client.
func New(ctx context.Context, cfg config.StorageConfig) (storage.Provider, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	var (
		p   storage.Provider
		err error
	)
	switch cfg.Backend {
	case config.BackendLocal:
		p, err = local.New(local.Config{
			Root:       cfg.Local.Root,
			Client:     cfg.Client,
			CreateDirs: cfg.Local.CreateDirs,
		})

	case config.BackendS3:
		var bucket *s3.Bucket
		bucket, err = s3.New(ctx, s3.Config{
			Endpoint:     cfg.S3.Endpoint,
			Bucket:       cfg.S3.Bucket,
			AccessKey:    cfg.S3.AccessKey,
			SecretKey:    cfg.S3.SecretKey,
			Region:       cfg.S3.Region,
			UseSSL:       cfg.S3.UseSSL,
			CreateBucket: true,
		})
		if err != nil {
			return nil, fmt.Errorf("s3 bucket: %w", err)
		}
		p, err = objectstore.New(bucket, objectstore.Config{Prefix: cfg.S3.Prefix, Client: cfg.Client})

	case config.BackendMemory:
		p, err = objectstore.New(objectstore.NewMemoryBucket(), objectstore.Config{Client: cfg.Client})

	default:
		return nil, fmt.Errorf("unknown storage backend %q", cfg.Backend)
	}
	if err != nil {
		return nil, fmt.Errorf("%s backend: %w", cfg.Backend, err)
	}

	logging.Info("storage backend initialized",
		zap.String("backend", cfg.Backend),
		zap.String("type", p.Type()),
		zap.String("client", cfg.Client),
	)
	return p, nil
}
