// Package objectstore is the S3-compatible overflow destination for files
// too large for a chat upload.
package objectstore

import (
	"context"
	"fmt"
	"io"
	"net/url"
	"strings"
	"time"

	"github.com/minio/minio-go/v7"
	miniocreds "github.com/minio/minio-go/v7/pkg/credentials"

	apperrors "github.com/debridrelay/debridrelay/internal/errors"
)

// partSize bounds the memory minio buffers per multipart part when the
// source is a plain stream.
const partSize = 16 << 20

// Config holds the connection settings.
type Config struct {
	Endpoint  string
	AccessKey string
	SecretKey string
	Bucket    string
	UseSSL    bool
}

// Client provides access to one bucket.
type Client struct {
	client *minio.Client
	bucket string
	retry  *apperrors.RetryConfig
}

// New creates a client. It does not contact the server.
func New(cfg *Config) (*Client, error) {
	// minio-go expects host:port
	endpoint := strings.TrimPrefix(cfg.Endpoint, "http://")
	endpoint = strings.TrimPrefix(endpoint, "https://")

	client, err := minio.New(endpoint, &minio.Options{
		Creds:  miniocreds.NewStaticV4(cfg.AccessKey, cfg.SecretKey, ""),
		Secure: cfg.UseSSL,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to create minio client: %w", err)
	}

	return &Client{client: client, bucket: cfg.Bucket, retry: apperrors.StorageRetryConfig()}, nil
}

// Bucket returns the configured bucket name.
func (c *Client) Bucket() string { return c.bucket }

// EnsureBucket creates the bucket if it does not exist. Connection
// failures are retried since it runs while the server may still be starting.
func (c *Client) EnsureBucket(ctx context.Context) error {
	exists, err := apperrors.RetryWithResult(ctx, c.retry, func(ctx context.Context) (bool, error) {
		return c.client.BucketExists(ctx, c.bucket)
	})
	if err != nil {
		return apperrors.StorageError("failed to check bucket").WithCause(err)
	}
	if exists {
		return nil
	}
	if err := c.client.MakeBucket(ctx, c.bucket, minio.MakeBucketOptions{}); err != nil {
		return apperrors.StorageError(fmt.Sprintf("failed to create bucket %s", c.bucket)).WithCause(err)
	}
	return nil
}

// PutObject streams exactly size bytes from reader into key.
func (c *Client) PutObject(ctx context.Context, key string, reader io.Reader, size int64, contentType string) error {
	if contentType == "" {
		contentType = "application/octet-stream"
	}
	opts := minio.PutObjectOptions{
		ContentType: contentType,
		PartSize:    partSize,
	}

	if _, err := c.client.PutObject(ctx, c.bucket, key, reader, size, opts); err != nil {
		return apperrors.StorageError(fmt.Sprintf("failed to put object %s", key)).WithCause(err)
	}
	return nil
}

// PresignedGetURL returns a time-limited download link for key.
func (c *Client) PresignedGetURL(ctx context.Context, key string, expiry time.Duration) (string, error) {
	u, err := c.client.PresignedGetObject(ctx, c.bucket, key, expiry, url.Values{})
	if err != nil {
		return "", apperrors.StorageError(fmt.Sprintf("failed to presign %s", key)).WithCause(err)
	}
	return u.String(), nil
}

// DeleteObject removes key.
func (c *Client) DeleteObject(ctx context.Context, key string) error {
	err := apperrors.Retry(ctx, c.retry, func(ctx context.Context) error {
		return c.client.RemoveObject(ctx, c.bucket, key, minio.RemoveObjectOptions{})
	})
	if err != nil {
		return apperrors.StorageError(fmt.Sprintf("failed to delete object %s", key)).WithCause(err)
	}
	return nil
}

// Ping checks that the bucket is reachable.
func (c *Client) Ping(ctx context.Context) error {
	_, err := c.client.BucketExists(ctx, c.bucket)
	return err
}

// ObjectKey builds the key a relayed file is stored under.
func ObjectKey(remoteID, filename string) string {
	if remoteID == "" {
		remoteID = "unknown"
	}
	return remoteID + "/" + filename
}
