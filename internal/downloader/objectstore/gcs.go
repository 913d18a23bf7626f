package objectstore

import (
	"context"
	"fmt"
	"io"

	"cloud.google.com/go/storage"
)

// gcsAPIClient adapts *storage.Client to the bucketClient seam for
// gs:// artifact URIs.
type gcsAPIClient struct {
	client *storage.Client
}

var _ bucketClient = (*gcsAPIClient)(nil)

// NewGCSClient builds a gs:// backend using Application Default
// Credentials, the same "ambient credential chain, no explicit key
// material" posture the teacher takes for S3 and Azure.
func NewGCSClient(ctx context.Context) (*gcsAPIClient, error) {
	client, err := storage.NewClient(ctx)
	if err != nil {
		return nil, fmt.Errorf("objectstore: new gcs client: %w", err)
	}
	return &gcsAPIClient{client: client}, nil
}

func (c *gcsAPIClient) Stat(ctx context.Context, bucket, key string) (int64, error) {
	attrs, err := c.client.Bucket(bucket).Object(key).Attrs(ctx)
	if err != nil {
		return 0, err
	}
	return attrs.Size, nil
}

func (c *gcsAPIClient) Get(ctx context.Context, bucket, key string) (io.ReadCloser, error) {
	return c.client.Bucket(bucket).Object(key).NewReader(ctx)
}

// NewGCSVariant wraps a GCS client as a downloader.Variant.
func NewGCSVariant(client *gcsAPIClient) *Variant {
	return &Variant{client: client}
}

// NewGCSVariantFromContext is the ADC convenience constructor.
func NewGCSVariantFromContext(ctx context.Context) (*Variant, error) {
	client, err := NewGCSClient(ctx)
	if err != nil {
		return nil, err
	}
	return NewGCSVariant(client), nil
}
