package objectstore

import (
	"context"
	"fmt"
	"io"

	"github.com/aws/aws-sdk-go-v2/aws"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/service/s3"
)

// s3APIClient adapts *s3.Client to the bucketClient seam.
type s3APIClient struct {
	client *s3.Client
}

var _ bucketClient = (*s3APIClient)(nil)

// NewS3Client loads the default AWS config and returns an s3://
// backend, grounded on the teacher's storage.Service
// (internal/app/storage/service.go), generalized from a MinIO client
// to the AWS S3 SDK.
func NewS3Client(ctx context.Context) (*s3APIClient, error) {
	cfg, err := awsconfig.LoadDefaultConfig(ctx)
	if err != nil {
		return nil, fmt.Errorf("objectstore: load aws config: %w", err)
	}
	return &s3APIClient{client: s3.NewFromConfig(cfg)}, nil
}

func (c *s3APIClient) Stat(ctx context.Context, bucket, key string) (int64, error) {
	out, err := c.client.HeadObject(ctx, &s3.HeadObjectInput{
		Bucket: aws.String(bucket),
		Key:    aws.String(key),
	})
	if err != nil {
		return 0, err
	}
	if out.ContentLength == nil {
		return 0, fmt.Errorf("objectstore: s3 head of %s/%s missing content length", bucket, key)
	}
	return *out.ContentLength, nil
}

func (c *s3APIClient) Get(ctx context.Context, bucket, key string) (io.ReadCloser, error) {
	out, err := c.client.GetObject(ctx, &s3.GetObjectInput{
		Bucket: aws.String(bucket),
		Key:    aws.String(key),
	})
	if err != nil {
		return nil, err
	}
	return out.Body, nil
}

// NewS3VariantFromContext is a convenience constructor combining
// client construction and Variant wrapping for the common case of
// default-credential-chain S3 access.
func NewS3VariantFromContext(ctx context.Context) (*Variant, error) {
	client, err := NewS3Client(ctx)
	if err != nil {
		return nil, err
	}
	return NewS3Variant(client), nil
}
