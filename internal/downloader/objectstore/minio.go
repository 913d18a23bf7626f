package objectstore

import (
	"context"
	"fmt"
	"io"

	"github.com/minio/minio-go/v7"
	miniocreds "github.com/minio/minio-go/v7/pkg/credentials"
)

// MinIOConfig configures an endpoint-override object store, the
// on-prem/self-hosted deployment shape spec.md §4.2 calls out
// alongside the managed S3/GCS backends. Grounded directly on the
// teacher's storage.Config (internal/app/storage/service.go).
type MinIOConfig struct {
	Endpoint        string
	AccessKeyID     string
	SecretAccessKey string
	UseSSL          bool
}

// minioAPIClient adapts *minio.Client to the bucketClient seam.
type minioAPIClient struct {
	client *minio.Client
}

var _ bucketClient = (*minioAPIClient)(nil)

// NewMinIOClient mirrors the teacher's storage.NewService exactly,
// generalized only in that it returns the bucketClient seam rather
// than a bespoke Service type.
func NewMinIOClient(cfg MinIOConfig) (*minioAPIClient, error) {
	client, err := minio.New(cfg.Endpoint, &minio.Options{
		Creds:  miniocreds.NewStaticV4(cfg.AccessKeyID, cfg.SecretAccessKey, ""),
		Secure: cfg.UseSSL,
	})
	if err != nil {
		return nil, fmt.Errorf("objectstore: new minio client: %w", err)
	}
	return &minioAPIClient{client: client}, nil
}

func (c *minioAPIClient) Stat(ctx context.Context, bucket, key string) (int64, error) {
	info, err := c.client.StatObject(ctx, bucket, key, minio.StatObjectOptions{})
	if err != nil {
		return 0, err
	}
	return info.Size, nil
}

func (c *minioAPIClient) Get(ctx context.Context, bucket, key string) (io.ReadCloser, error) {
	return c.client.GetObject(ctx, bucket, key, minio.GetObjectOptions{})
}

// NewMinIOVariant wraps a MinIO client as a downloader.Variant.
func NewMinIOVariant(client *minioAPIClient) *Variant {
	return &Variant{client: client}
}

// NewMinIOVariantFromConfig is the common-case convenience constructor.
func NewMinIOVariantFromConfig(cfg MinIOConfig) (*Variant, error) {
	client, err := NewMinIOClient(cfg)
	if err != nil {
		return nil, err
	}
	return NewMinIOVariant(client), nil
}
