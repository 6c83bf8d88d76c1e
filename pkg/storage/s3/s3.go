// Package s3 implements objectstore.Bucket on S3 or any S3-compatible
// service such as MinIO.
package s3

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/credentials"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/aws/aws-sdk-go-v2/service/s3/types"
	"github.com/aws/smithy-go"
	"go.uber.org/zap"

	"github.com/cworks/treefs-sub001/internal/logging"
	"github.com/cworks/treefs-sub001/internal/metrics"
	"github.com/cworks/treefs-sub001/internal/retry"
	"github.com/cworks/treefs-sub001/pkg/storage/objectstore"
)

// Config holds S3 connection settings.
type Config struct {
	Endpoint  string `json:"endpoint"`
	Bucket    string `json:"bucket"`
	AccessKey string `json:"access_key"`
	SecretKey string `json:"secret_key"`
	Region    string `json:"region"`
	UseSSL    bool   `json:"use_ssl"`

	// CreateBucket creates the bucket on startup when it is missing.
	CreateBucket bool `json:"create_bucket"`
}

// Bucket implements objectstore.Bucket using the AWS SDK.
type Bucket struct {
	client *s3.Client
	bucket string
	retry  retry.Config
}

var _ objectstore.Bucket = (*Bucket)(nil)

// New connects to the bucket described by cfg.
func New(ctx context.Context, cfg Config) (*Bucket, error) {
	if cfg.Bucket == "" {
		return nil, errors.New("bucket is required")
	}

	opts := []func(*config.LoadOptions) error{
		// Retries are driven by package retry so that they are counted and
		// logged with the rest of the bucket operations.
		config.WithRetryMaxAttempts(1),
	}
	if cfg.Region != "" {
		opts = append(opts, config.WithRegion(cfg.Region))
	}
	if cfg.AccessKey != "" {
		opts = append(opts, config.WithCredentialsProvider(
			credentials.NewStaticCredentialsProvider(cfg.AccessKey, cfg.SecretKey, ""),
		))
	}
	awsCfg, err := config.LoadDefaultConfig(ctx, opts...)
	if err != nil {
		return nil, fmt.Errorf("load aws config: %w", err)
	}

	endpoint := EndpointURL(cfg.Endpoint, cfg.UseSSL)
	client := s3.NewFromConfig(awsCfg, func(o *s3.Options) {
		if endpoint != "" {
			o.BaseEndpoint = aws.String(endpoint)
			o.UsePathStyle = true
		}
	})

	b := &Bucket{
		client: client,
		bucket: cfg.Bucket,
		retry:  retry.DefaultConfig(),
	}
	if cfg.CreateBucket {
		if err := b.ensureBucket(ctx); err != nil {
			logging.Error("bucket check failed", zap.String("bucket", cfg.Bucket), zap.Error(err))
		}
	}

	logging.Debug("s3 bucket ready",
		zap.String("bucket", cfg.Bucket),
		zap.String("endpoint", endpoint),
		zap.String("region", cfg.Region),
	)
	return b, nil
}

// NewFromJSON creates a Bucket from raw JSON config.
func NewFromJSON(ctx context.Context, raw json.RawMessage) (*Bucket, error) {
	var cfg Config
	if err := json.Unmarshal(raw, &cfg); err != nil {
		return nil, fmt.Errorf("parse s3 config: %w", err)
	}
	return New(ctx, cfg)
}

// EndpointURL returns endpoint with a scheme. A bare host gets https when
// useSSL is set and http otherwise; an empty endpoint means AWS itself.
func EndpointURL(endpoint string, useSSL bool) string {
	endpoint = strings.TrimRight(strings.TrimSpace(endpoint), "/")
	if endpoint == "" || strings.Contains(endpoint, "://") {
		return endpoint
	}
	if useSSL {
		return "https://" + endpoint
	}
	return "http://" + endpoint
}

func (b *Bucket) ensureBucket(ctx context.Context) error {
	start := time.Now()
	_, err := b.client.HeadBucket(ctx, &s3.HeadBucketInput{
		Bucket: aws.String(b.bucket),
	})
	if err == nil {
		return nil
	}
	_, createErr := b.client.CreateBucket(ctx, &s3.CreateBucketInput{
		Bucket: aws.String(b.bucket),
	})
	metrics.RecordBucketOperation(b.bucket, "create_bucket", time.Since(start), createErr == nil)
	if createErr != nil {
		return fmt.Errorf("bucket %s does not exist and cannot create: %w", b.bucket, createErr)
	}
	logging.Info("created S3 bucket", zap.String("bucket", b.bucket))
	return nil
}

// do runs one bucket operation with retries and records it.
func (b *Bucket) do(ctx context.Context, op, key string, fn func() error) error {
	return b.doWith(ctx, b.retry, op, key, fn)
}

func (b *Bucket) doWith(ctx context.Context, cfg retry.Config, op, key string, fn func() error) error {
	start := time.Now()
	attempts := 0
	err := retry.Do(ctx, cfg, func() error {
		attempts++
		return classify(fn())
	})
	err = retry.Unwrap(err)
	metrics.RecordBucketOperation(b.bucket, op, time.Since(start), err == nil || errors.Is(err, objectstore.ErrObjectNotFound))
	if attempts > 1 {
		logging.Warn("s3 operation retried",
			zap.String("bucket", b.bucket),
			zap.String("op", op),
			zap.String("key", key),
			zap.Int("attempts", attempts),
			zap.Error(err),
		)
	}
	if err != nil {
		return fmt.Errorf("%s %s: %w", op, key, err)
	}
	return nil
}

// GetObject opens the object at key.
func (b *Bucket) GetObject(ctx context.Context, key string) (io.ReadCloser, objectstore.ObjectInfo, error) {
	var out *s3.GetObjectOutput
	err := b.do(ctx, "get_object", key, func() error {
		var err error
		out, err = b.client.GetObject(ctx, &s3.GetObjectInput{
			Bucket: aws.String(b.bucket),
			Key:    aws.String(key),
		})
		return err
	})
	if err != nil {
		return nil, objectstore.ObjectInfo{}, err
	}
	info := objectstore.ObjectInfo{
		Key:          key,
		Size:         aws.ToInt64(out.ContentLength),
		ContentType:  aws.ToString(out.ContentType),
		LastModified: aws.ToTime(out.LastModified),
	}
	return out.Body, info, nil
}

// PutObject uploads size bytes from body. The upload is retried only when
// body can be rewound.
func (b *Bucket) PutObject(ctx context.Context, key string, body io.Reader, size int64, contentType string) error {
	cfg := b.retry
	seeker, rewindable := body.(io.Seeker)
	if !rewindable {
		cfg = retry.NoRetry()
	}
	err := b.doWith(ctx, cfg, "put_object", key, func() error {
		if rewindable {
			if _, err := seeker.Seek(0, io.SeekStart); err != nil {
				return err
			}
		}
		in := &s3.PutObjectInput{
			Bucket:        aws.String(b.bucket),
			Key:           aws.String(key),
			Body:          body,
			ContentLength: aws.Int64(size),
		}
		if contentType != "" {
			in.ContentType = aws.String(contentType)
		}
		_, err := b.client.PutObject(ctx, in)
		return err
	})
	if err != nil {
		return err
	}
	metrics.RecordContentWrite("s3", size)
	logging.Debug("s3 put object", zap.String("key", key), zap.Int64("size", size))
	return nil
}

// DeleteObject removes the object at key; a missing key is not an error.
func (b *Bucket) DeleteObject(ctx context.Context, key string) error {
	err := b.do(ctx, "delete_object", key, func() error {
		_, err := b.client.DeleteObject(ctx, &s3.DeleteObjectInput{
			Bucket: aws.String(b.bucket),
			Key:    aws.String(key),
		})
		return err
	})
	if errors.Is(err, objectstore.ErrObjectNotFound) {
		return nil
	}
	return err
}

// CopyObject copies srcKey to dstKey inside the bucket.
func (b *Bucket) CopyObject(ctx context.Context, srcKey, dstKey string) error {
	return b.do(ctx, "copy_object", dstKey, func() error {
		_, err := b.client.CopyObject(ctx, &s3.CopyObjectInput{
			Bucket:     aws.String(b.bucket),
			Key:        aws.String(dstKey),
			CopySource: aws.String(CopySource(b.bucket, srcKey)),
		})
		return err
	})
}

// StatObject returns the info of key.
func (b *Bucket) StatObject(ctx context.Context, key string) (objectstore.ObjectInfo, error) {
	var out *s3.HeadObjectOutput
	err := b.do(ctx, "head_object", key, func() error {
		var err error
		out, err = b.client.HeadObject(ctx, &s3.HeadObjectInput{
			Bucket: aws.String(b.bucket),
			Key:    aws.String(key),
		})
		return err
	})
	if err != nil {
		return objectstore.ObjectInfo{}, err
	}
	return objectstore.ObjectInfo{
		Key:          key,
		Size:         aws.ToInt64(out.ContentLength),
		ContentType:  aws.ToString(out.ContentType),
		LastModified: aws.ToTime(out.LastModified),
	}, nil
}

// ListObjects pages through ListObjectsV2 until maxKeys entries are
// collected or the listing ends.
func (b *Bucket) ListObjects(ctx context.Context, prefix, delimiter string, maxKeys int) (objectstore.Listing, error) {
	in := &s3.ListObjectsV2Input{
		Bucket: aws.String(b.bucket),
		Prefix: aws.String(prefix),
	}
	if delimiter != "" {
		in.Delimiter = aws.String(delimiter)
	}

	var l objectstore.Listing
	pager := s3.NewListObjectsV2Paginator(b.client, in, func(o *s3.ListObjectsV2PaginatorOptions) {
		if maxKeys > 0 {
			o.Limit = int32(min(maxKeys, 1000))
		}
	})
	for pager.HasMorePages() {
		if maxKeys > 0 && l.Len() >= maxKeys {
			break
		}
		var page *s3.ListObjectsV2Output
		err := b.do(ctx, "list_objects", prefix, func() error {
			var err error
			page, err = pager.NextPage(ctx)
			return err
		})
		if err != nil {
			return objectstore.Listing{}, err
		}
		appendPage(&l, page)
	}
	if maxKeys > 0 {
		l = Truncate(l, maxKeys)
	}
	return l, nil
}

func appendPage(l *objectstore.Listing, page *s3.ListObjectsV2Output) {
	for _, p := range page.CommonPrefixes {
		l.Prefixes = append(l.Prefixes, aws.ToString(p.Prefix))
	}
	for _, obj := range page.Contents {
		l.Objects = append(l.Objects, objectInfo(obj))
	}
}

// Truncate keeps the first n entries of l in merged key order.
func Truncate(l objectstore.Listing, n int) objectstore.Listing {
	if l.Len() <= n {
		return l
	}
	var i, j int
	for i+j < n {
		switch {
		case i == len(l.Objects):
			j++
		case j == len(l.Prefixes):
			i++
		case l.Objects[i].Key < l.Prefixes[j]:
			i++
		default:
			j++
		}
	}
	return objectstore.Listing{Objects: l.Objects[:i], Prefixes: l.Prefixes[:j]}
}

func objectInfo(obj types.Object) objectstore.ObjectInfo {
	return objectstore.ObjectInfo{
		Key:          aws.ToString(obj.Key),
		Size:         aws.ToInt64(obj.Size),
		LastModified: aws.ToTime(obj.LastModified),
	}
}

// Name returns the bucket name.
func (b *Bucket) Name() string { return b.bucket }

// Close is a no-op for S3 buckets.
func (b *Bucket) Close() error { return nil }

// CopySource builds the x-amz-copy-source value for key in bucket.
func CopySource(bucket, key string) string {
	return bucket + "/" + key
}

// classify maps SDK errors onto objectstore.ErrObjectNotFound and marks
// transient failures as retryable.
func classify(err error) error {
	if err == nil {
		return nil
	}
	if isNotFound(err) {
		return fmt.Errorf("%w: %w", objectstore.ErrObjectNotFound, err)
	}
	if isTransient(err) {
		return retry.Retryable(err)
	}
	return err
}

func isNotFound(err error) bool {
	var nsk *types.NoSuchKey
	var nf *types.NotFound
	if errors.As(err, &nsk) || errors.As(err, &nf) {
		return true
	}
	var apiErr smithy.APIError
	if errors.As(err, &apiErr) {
		switch apiErr.ErrorCode() {
		case "NoSuchKey", "NotFound":
			return true
		}
	}
	return false
}

func isTransient(err error) bool {
	var apiErr smithy.APIError
	if errors.As(err, &apiErr) {
		switch apiErr.ErrorCode() {
		case "SlowDown", "Throttling", "ThrottlingException", "RequestTimeout",
			"RequestTimeTooSkewed", "InternalError", "ServiceUnavailable":
			return true
		}
	}
	var status interface{ HTTPStatusCode() int }
	if errors.As(err, &status) {
		code := status.HTTPStatusCode()
		return code == http.StatusTooManyRequests || code >= http.StatusInternalServerError
	}
	return false
}
