// Package objectstore is the upload/exists/presign client the pipeline
// uses to publish derivatives, archives, and the gallery document to an
// S3-compatible bucket.
package objectstore

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"strings"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/feature/s3/manager"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	s3types "github.com/aws/aws-sdk-go-v2/service/s3/types"
	awsconfig "github.com/scttfrdmn/cargoship/pkg/aws/config"
	cargoships3 "github.com/scttfrdmn/cargoship/pkg/aws/s3"

	"github.com/samjhill/ghostroll/internal/circuit"
	"github.com/samjhill/ghostroll/pkg/ghosterr"
)

// Client uploads files to, checks for, and presigns URLs against an
// S3-compatible bucket.
type Client struct {
	bucket      string
	pool        *ConnectionPool
	presign     *s3.PresignClient
	uploader    *manager.Uploader
	transporter *cargoships3.Transporter
	breaker     *circuit.CircuitBreaker
	config      *Config
	logger      *slog.Logger
}

// NewClient builds a Client against cfg.Bucket using the default AWS
// credential chain, with a connection pool of up to cfg.PoolSize
// clients that are created on demand.
func NewClient(ctx context.Context, cfg *Config, logger *slog.Logger) (*Client, error) {
	if cfg == nil || cfg.Bucket == "" {
		return nil, ghosterr.New(ghosterr.CodeInvalidConfig, "object store bucket must be set").WithComponent("objectstore")
	}
	if logger == nil {
		logger = slog.Default()
	}

	awsCfg, err := config.LoadDefaultConfig(ctx,
		config.WithRegion(cfg.Region),
		config.WithRetryMaxAttempts(cfg.MaxRetries),
	)
	if err != nil {
		return nil, ghosterr.Wrap(ghosterr.CodeInternal, err, "loading AWS config").WithComponent("objectstore")
	}

	optFns := func(o *s3.Options) {
		if cfg.Endpoint != "" {
			o.BaseEndpoint = aws.String(cfg.Endpoint)
		}
		if cfg.ForcePathStyle {
			o.UsePathStyle = true
		}
	}
	client := s3.NewFromConfig(awsCfg, optFns)

	pool, err := NewConnectionPool(cfg.PoolSize, func() (*s3.Client, error) {
		return s3.NewFromConfig(awsCfg, optFns), nil
	})
	if err != nil {
		return nil, ghosterr.Wrap(ghosterr.CodeInternal, err, "creating connection pool").WithComponent("objectstore")
	}

	uploader := manager.NewUploader(client, func(u *manager.Uploader) {
		if cfg.MultipartChunkSize > 0 {
			u.PartSize = cfg.MultipartChunkSize
		}
		if cfg.MultipartConcurrency > 0 {
			u.Concurrency = cfg.MultipartConcurrency
		}
	})

	var transporter *cargoships3.Transporter
	if cfg.EnableCargoShipOptimization {
		transporter = cargoships3.NewTransporter(client, awsconfig.S3Config{
			Bucket:             cfg.Bucket,
			StorageClass:       awsconfig.StorageClassStandard,
			MultipartThreshold: cfg.MultipartThreshold,
			MultipartChunkSize: cfg.MultipartChunkSize,
			Concurrency:        cfg.MultipartConcurrency,
		})
	}

	breaker := circuit.NewCircuitBreaker("objectstore-"+cfg.Bucket, circuit.Config{
		MaxRequests: 1,
		Interval:    60 * time.Second,
		Timeout:     30 * time.Second,
	})

	return &Client{
		bucket:      cfg.Bucket,
		pool:        pool,
		presign:     s3.NewPresignClient(client),
		uploader:    uploader,
		transporter: transporter,
		breaker:     breaker,
		config:      cfg,
		logger:      logger,
	}, nil
}

// Close releases pooled connections.
func (c *Client) Close() error {
	return c.pool.Close()
}

// Upload puts the file at localPath to key, using the high-throughput
// transfer path above the configured multipart threshold when
// CargoShip optimization is enabled, falling back to the plain
// multipart uploader on failure or when it is not.
func (c *Client) Upload(ctx context.Context, localPath, key string) error {
	info, err := os.Stat(localPath)
	if err != nil {
		return ghosterr.Wrap(ghosterr.CodeUploadFailed, err, "stat local file").WithComponent("objectstore").WithDetail("key", key)
	}

	return c.breaker.ExecuteWithContext(ctx, func(ctx context.Context) error {
		if c.transporter != nil && info.Size() >= c.config.MultipartThreshold {
			if err := c.uploadViaTransporter(ctx, localPath, key, info.Size()); err == nil {
				return nil
			}
			c.logger.Warn("cargoship upload failed, falling back to standard multipart", "key", key)
		}
		return c.uploadViaManager(ctx, localPath, key)
	})
}

func (c *Client) uploadViaTransporter(ctx context.Context, localPath, key string, size int64) error {
	f, err := os.Open(localPath)
	if err != nil {
		return err
	}
	defer f.Close()

	archive := cargoships3.Archive{
		Key:          key,
		Reader:       f,
		Size:         size,
		StorageClass: awsconfig.StorageClassStandard,
		Metadata: map[string]string{
			"content-type": detectContentType(key),
		},
	}
	result, err := c.transporter.Upload(ctx, archive)
	if err != nil {
		return err
	}
	c.logger.Debug("cargoship upload completed", "key", key, "throughput", result.Throughput, "duration", result.Duration)
	return nil
}

func (c *Client) uploadViaManager(ctx context.Context, localPath, key string) error {
	f, err := os.Open(localPath)
	if err != nil {
		return translateError(err, "Upload", key, c.bucket)
	}
	defer f.Close()

	_, err = c.uploader.Upload(ctx, &s3.PutObjectInput{
		Bucket:      aws.String(c.bucket),
		Key:         aws.String(key),
		Body:        f,
		ContentType: aws.String(detectContentType(key)),
	})
	if err != nil {
		return translateError(err, "Upload", key, c.bucket)
	}
	return nil
}

// Exists reports whether key is present in the bucket. A "not found"
// response is a value, not an error.
func (c *Client) Exists(ctx context.Context, key string) (bool, error) {
	client := c.pool.Get()
	if client == nil {
		var err error
		if client, err = c.pool.factory(); err != nil {
			return false, translateError(err, "Exists", key, c.bucket)
		}
	}
	defer c.pool.Put(client)

	_, err := client.HeadObject(ctx, &s3.HeadObjectInput{
		Bucket: aws.String(c.bucket),
		Key:    aws.String(key),
	})
	if err == nil {
		return true, nil
	}
	var nf *s3types.NotFound
	if errors.As(err, &nf) {
		return false, nil
	}
	var nsk *s3types.NoSuchKey
	if errors.As(err, &nsk) {
		return false, nil
	}
	return false, translateError(err, "Exists", key, c.bucket)
}

// Presign returns a temporary GET URL for key valid for ttl.
func (c *Client) Presign(ctx context.Context, key string, ttl time.Duration) (string, error) {
	req, err := c.presign.PresignGetObject(ctx, &s3.GetObjectInput{
		Bucket: aws.String(c.bucket),
		Key:    aws.String(key),
	}, s3.WithPresignExpires(ttl))
	if err != nil {
		return "", ghosterr.Wrap(ghosterr.CodePresignFailed, err, "presigning object").WithComponent("objectstore").WithDetail("key", key)
	}
	return req.URL, nil
}

// translateError normalizes an AWS SDK error into a ghosterr category
// (auth, permission, not-found, bucket-missing, network, other).
func translateError(err error, operation, key, bucket string) error {
	var nsk *s3types.NoSuchKey
	if errors.As(err, &nsk) {
		return ghosterr.Wrap(ghosterr.CodeNotFound, err, fmt.Sprintf("%s: object not found", operation)).
			WithComponent("objectstore").WithDetail("key", key)
	}
	var nsb *s3types.NoSuchBucket
	if errors.As(err, &nsb) {
		return ghosterr.Wrap(ghosterr.CodeBucketMissing, err, fmt.Sprintf("%s: bucket not found", operation)).
			WithComponent("objectstore").WithDetail("bucket", bucket)
	}

	msg := err.Error()
	switch {
	case strings.Contains(msg, "AccessDenied"):
		return ghosterr.Wrap(ghosterr.CodePermissionDenied, err, operation+" denied").WithComponent("objectstore").AsRetryable(false)
	case strings.Contains(msg, "InvalidAccessKeyId"), strings.Contains(msg, "SignatureDoesNotMatch"):
		return ghosterr.Wrap(ghosterr.CodeAuthFailed, err, operation+" authentication failed").WithComponent("objectstore").AsRetryable(false)
	case strings.Contains(msg, "connection"), strings.Contains(msg, "timeout"), strings.Contains(msg, "no such host"):
		return ghosterr.Wrap(ghosterr.CodeNetworkError, err, operation+" network error").WithComponent("objectstore").AsRetryable(true)
	default:
		return ghosterr.Wrap(ghosterr.CodeUploadFailed, err, operation+" failed").WithComponent("objectstore").WithDetail("key", key)
	}
}

func detectContentType(key string) string {
	switch {
	case strings.HasSuffix(key, ".json"):
		return "application/json"
	case strings.HasSuffix(key, ".html"):
		return "text/html"
	case strings.HasSuffix(key, ".txt"):
		return "text/plain"
	case strings.HasSuffix(key, ".jpg"), strings.HasSuffix(key, ".jpeg"):
		return "image/jpeg"
	case strings.HasSuffix(key, ".png"):
		return "image/png"
	case strings.HasSuffix(key, ".zip"):
		return "application/zip"
	default:
		return "application/octet-stream"
	}
}
