package storage

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"

	"github.com/minio/minio-go/v7"
	"github.com/minio/minio-go/v7/pkg/credentials"
	"github.com/rs/zerolog"
)

type Config struct {
	Endpoint string
	Access   string
	Secret   string
	Bucket   string
	Region   string
	UseSSL   bool
}

// Client reads model artifacts from an S3-compatible registry bucket.
type Client struct {
	minio  *minio.Client
	bucket string
	logger zerolog.Logger
}

func NewClient(cfg Config, logger zerolog.Logger) (*Client, error) {
	if strings.TrimSpace(cfg.Endpoint) == "" {
		return nil, errors.New("storage endpoint is required")
	}
	if strings.TrimSpace(cfg.Bucket) == "" {
		return nil, errors.New("bucket is required")
	}

	mc, err := minio.New(cfg.Endpoint, &minio.Options{
		Creds:  credentials.NewStaticV4(cfg.Access, cfg.Secret, ""),
		Secure: cfg.UseSSL,
		Region: cfg.Region,
	})
	if err != nil {
		return nil, fmt.Errorf("create minio client: %w", err)
	}

	return &Client{
		minio:  mc,
		bucket: cfg.Bucket,
		logger: logger.With().Str("component", "model-registry").Str("bucket", cfg.Bucket).Logger(),
	}, nil
}

// ErrModelNotFound reports that the registry bucket has no object under
// the configured key.
var ErrModelNotFound = errors.New("model object not found")

func (c *Client) statModel(ctx context.Context, objectKey string) (minio.ObjectInfo, error) {
	info, err := c.minio.StatObject(ctx, c.bucket, objectKey, minio.StatObjectOptions{})
	if err == nil {
		return info, nil
	}
	if isMissingObject(err) {
		return minio.ObjectInfo{}, fmt.Errorf("%w: %s/%s", ErrModelNotFound, c.bucket, objectKey)
	}
	return minio.ObjectInfo{}, fmt.Errorf("stat model %s: %w", objectKey, err)
}

func isMissingObject(err error) bool {
	switch minio.ToErrorResponse(err).Code {
	case "NoSuchKey", "NoSuchObject", "NoSuchBucket":
		return true
	}
	return false
}

// FetchModel downloads objectKey to destPath unless a file of the same size
// is already there. The download lands in a temp file first so a partial
// model is never left at destPath.
func (c *Client) FetchModel(ctx context.Context, objectKey, destPath string) error {
	info, err := c.statModel(ctx, objectKey)
	if err != nil {
		return err
	}

	if local, err := os.Stat(destPath); err == nil && local.Size() == info.Size {
		c.logger.Info().Str("object", objectKey).Str("path", destPath).Msg("model already cached")
		return nil
	}

	obj, err := c.minio.GetObject(ctx, c.bucket, objectKey, minio.GetObjectOptions{})
	if err != nil {
		return fmt.Errorf("get model %s: %w", objectKey, err)
	}
	defer obj.Close()

	if err := writeAtomically(destPath, obj, info.Size); err != nil {
		return fmt.Errorf("store model %s: %w", objectKey, err)
	}

	c.logger.Info().
		Str("object", objectKey).
		Str("path", destPath).
		Int64("bytes", info.Size).
		Str("etag", info.ETag).
		Msg("model downloaded")
	return nil
}

func writeAtomically(destPath string, src io.Reader, wantSize int64) error {
	dir := filepath.Dir(destPath)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return fmt.Errorf("create model dir: %w", err)
	}

	tmp, err := os.CreateTemp(dir, filepath.Base(destPath)+".*.part")
	if err != nil {
		return fmt.Errorf("create temp file: %w", err)
	}
	defer os.Remove(tmp.Name())

	written, err := io.Copy(tmp, src)
	if closeErr := tmp.Close(); err == nil {
		err = closeErr
	}
	if err != nil {
		return fmt.Errorf("write temp file: %w", err)
	}
	if wantSize >= 0 && written != wantSize {
		return fmt.Errorf("short download: got %d of %d bytes", written, wantSize)
	}

	if err := os.Rename(tmp.Name(), destPath); err != nil {
		return fmt.Errorf("move model into place: %w", err)
	}
	return nil
}
