// Package minioutil stores kvstore backups in S3-compatible object storage.
package minioutil

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"

	"github.com/kjk/kvs/atomicfile"
	"github.com/kjk/kvs/u"
	"github.com/minio/minio-go/v7"
	"github.com/minio/minio-go/v7/pkg/credentials"
)

// URLScheme is the prefix of backup locations in object storage
const URLScheme = "s3://"

type Config struct {
	Access   string
	Secret   string
	Bucket   string
	Endpoint string
	Region   string
	// if true, use http instead of https (e.g. local minio server)
	Insecure     bool
	RequestTrace io.Writer
}

// ConfigFromEnv returns Config with credentials from KVS_S3_ENDPOINT,
// KVS_S3_ACCESS, KVS_S3_SECRET, KVS_S3_REGION and KVS_S3_INSECURE
func ConfigFromEnv(bucket string) *Config {
	insecure := os.Getenv("KVS_S3_INSECURE")
	return &Config{
		Access:   os.Getenv("KVS_S3_ACCESS"),
		Secret:   os.Getenv("KVS_S3_SECRET"),
		Bucket:   bucket,
		Endpoint: os.Getenv("KVS_S3_ENDPOINT"),
		Region:   os.Getenv("KVS_S3_REGION"),
		Insecure: insecure == "1" || insecure == "true",
	}
}

// IsRemoteURL returns true for s3://bucket/path locations
func IsRemoteURL(s string) bool {
	return strings.HasPrefix(s, URLScheme)
}

// ParseBucketURL splits s3://bucket[/prefix] into bucket and an optional prefix
func ParseBucketURL(s string) (bucket string, prefix string, err error) {
	if !IsRemoteURL(s) {
		return "", "", fmt.Errorf("'%s' doesn't start with %s", s, URLScheme)
	}
	rest := strings.TrimPrefix(s, URLScheme)
	bucket, prefix, _ = strings.Cut(rest, "/")
	if bucket == "" {
		return "", "", fmt.Errorf("'%s' must be in %sbucket/path format", s, URLScheme)
	}
	return bucket, strings.TrimPrefix(prefix, "/"), nil
}

// ParseURL splits s3://bucket/path/to/backup.zst into bucket and object path
func ParseURL(s string) (bucket string, remotePath string, err error) {
	bucket, remotePath, err = ParseBucketURL(s)
	if err != nil {
		return "", "", err
	}
	if remotePath == "" {
		return "", "", fmt.Errorf("'%s' must be in %sbucket/path format", s, URLScheme)
	}
	return bucket, remotePath, nil
}

type Client struct {
	Client *minio.Client
	config *Config
	Bucket string
}

func validateConfig(c *Config) error {
	if c == nil {
		return errors.New("must provide config")
	}
	var missing []string
	if c.Access == "" {
		missing = append(missing, "Access")
	}
	if c.Secret == "" {
		missing = append(missing, "Secret")
	}
	if c.Bucket == "" {
		missing = append(missing, "Bucket")
	}
	if c.Endpoint == "" {
		missing = append(missing, "Endpoint")
	}
	if len(missing) > 0 {
		return fmt.Errorf("missing config fields: %s", strings.Join(missing, ", "))
	}
	return nil
}

// New connects to the storage and checks the bucket exists
func New(ctx context.Context, config *Config) (*Client, error) {
	if err := validateConfig(config); err != nil {
		return nil, err
	}
	c := config
	mc, err := minio.New(c.Endpoint, &minio.Options{
		Creds:  credentials.NewStaticV4(c.Access, c.Secret, ""),
		Region: c.Region,
		Secure: !c.Insecure,
	})
	if err != nil {
		return nil, err
	}
	if c.RequestTrace != nil {
		mc.TraceOn(c.RequestTrace)
	}
	found, err := mc.BucketExists(ctx, c.Bucket)
	if err != nil {
		return nil, err
	}
	if !found {
		return nil, fmt.Errorf("bucket '%s' doesn't exist", c.Bucket)
	}
	return &Client{
		Client: mc,
		config: config,
		Bucket: c.Bucket,
	}, nil
}

func contentTypeForBackup(remotePath string) string {
	switch u.CompressionFromPath(remotePath) {
	case u.CompressionGzip:
		return "application/gzip"
	case u.CompressionZstd:
		return "application/zstd"
	case u.CompressionBrotli:
		return "application/x-brotli"
	}
	return "application/octet-stream"
}

// UploadBackup uploads a local backup file
func (c *Client) UploadBackup(ctx context.Context, remotePath string, path string) (minio.UploadInfo, error) {
	opts := minio.PutObjectOptions{
		ContentType: contentTypeForBackup(remotePath),
	}
	return c.Client.FPutObject(ctx, c.Bucket, remotePath, path, opts)
}

// DownloadBackup downloads remotePath to dstPath. dstPath is only
// replaced once the whole object has been downloaded.
func (c *Client) DownloadBackup(ctx context.Context, dstPath string, remotePath string) error {
	obj, err := c.Client.GetObject(ctx, c.Bucket, remotePath, minio.GetObjectOptions{})
	if err != nil {
		return err
	}
	defer obj.Close()

	// ensure there's a dir for destination file
	if err = os.MkdirAll(filepath.Dir(dstPath), 0755); err != nil {
		return err
	}
	f, err := atomicfile.New(dstPath)
	if err != nil {
		return err
	}
	defer f.Abort()
	if _, err = io.Copy(f, obj); err != nil {
		return err
	}
	return f.Close()
}

// ListBackups returns objects whose path starts with prefix
func (c *Client) ListBackups(ctx context.Context, prefix string) ([]minio.ObjectInfo, error) {
	opts := minio.ListObjectsOptions{
		Prefix:    prefix,
		Recursive: true,
	}
	var res []minio.ObjectInfo
	for oi := range c.Client.ListObjects(ctx, c.Bucket, opts) {
		if oi.Err != nil {
			return nil, oi.Err
		}
		res = append(res, oi)
	}
	return res, nil
}

func (c *Client) Remove(ctx context.Context, remotePath string) error {
	return c.Client.RemoveObject(ctx, c.Bucket, remotePath, minio.RemoveObjectOptions{})
}
